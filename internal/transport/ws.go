package transport

import (
	"bytes"
	"context"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"toolstream/internal/logging"
	"toolstream/internal/protocol"
	"toolstream/internal/toolcall"
	"toolstream/internal/toolerr"
)

// wsStream writes envelopes to one socket. Acks from the read loop and
// results from the dispatcher share writeMu.
type wsStream struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	sessionID string

	done chan struct{}
	once sync.Once
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn, done: make(chan struct{})}
}

func (s *wsStream) send(ctx context.Context, env protocol.Envelope) error {
	data, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return toolerr.New(toolerr.KindSessionClosed, "stream closed")
	default:
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsStream) bind(ctx context.Context, sessionID, endpoint string) error {
	s.writeMu.Lock()
	s.sessionID = sessionID
	s.writeMu.Unlock()
	env, err := protocol.NewEnvelope(protocol.TypeSession, sessionID, "", protocol.SessionPayload{
		SessionID: sessionID,
		Endpoint:  endpoint,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, env)
}

func (s *wsStream) id() string {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.sessionID
}

func (s *wsStream) WriteResult(ctx context.Context, res toolcall.Result) error {
	env, err := protocol.NewEnvelope(protocol.TypeResult, s.id(), res.RequestID, protocol.ResultFrom(res))
	if err != nil {
		return err
	}
	return s.send(ctx, env)
}

// detach stops further writes without touching the socket.
func (s *wsStream) detach() bool {
	first := false
	s.once.Do(func() {
		close(s.done)
		first = true
	})
	return first
}

func (s *wsStream) Close() error {
	if s.detach() {
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.opts.MaxBodyBytes)

	ctx := r.Context()
	stream := newWSStream(conn)
	sess := s.opts.Sessions.Open(stream)
	sessionID := sess.ID()
	logger := s.opts.Logger.With("session_id", sessionID, "transport", "ws")

	if err := stream.bind(ctx, sessionID, s.endpoint(sessionID)); err != nil {
		logger.Warn("write session envelope failed", "err", err.Error())
		stream.detach()
		_ = s.opts.Sessions.Drain(sessionID)
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		s.handleFrame(ctx, stream, sessionID, data, logger)
	}

	if stream.detach() {
		logger.Info("client disconnected")
	}
	_ = s.opts.Sessions.Drain(sessionID)
}

func (s *Server) handleFrame(ctx context.Context, stream *wsStream, sessionID string, data []byte, logger logging.Logger) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		s.sendAck(ctx, stream, sessionID, "", toolerr.Wrap(toolerr.KindProtocolError, err, "invalid envelope"), logger)
		return
	}

	switch env.Type {
	case protocol.TypePing:
		pong, err := protocol.NewEnvelope(protocol.TypePing, sessionID, env.RequestID, nil)
		if err == nil {
			_ = stream.send(ctx, pong)
		}
	case protocol.TypeSubmit:
		subs, err := protocol.DecodeSubmissions(bytes.NewReader(env.Payload))
		if err != nil {
			s.sendAck(ctx, stream, sessionID, env.RequestID, err, logger)
			return
		}
		for _, sub := range subs {
			if sub.RequestID == "" && len(subs) == 1 {
				sub.RequestID = env.RequestID
			}
			requestID, err := s.submit(ctx, sessionID, sub)
			s.sendAck(ctx, stream, sessionID, requestID, err, logger)
		}
	default:
		s.sendAck(ctx, stream, sessionID, env.RequestID,
			toolerr.New(toolerr.KindProtocolError, "unsupported envelope type %q", env.Type), logger)
	}
}

func (s *Server) sendAck(ctx context.Context, stream *wsStream, sessionID, requestID string, err error, logger logging.Logger) {
	env, encErr := protocol.NewEnvelope(protocol.TypeAck, sessionID, requestID, ack(requestID, err))
	if encErr != nil {
		return
	}
	if werr := stream.send(ctx, env); werr != nil {
		logger.Debug("write ack failed", "request_id", requestID, "err", werr.Error())
	}
}
