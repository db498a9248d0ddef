package transport

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"toolstream/internal/protocol"
	"toolstream/internal/toolcall"
	"toolstream/internal/toolerr"
)

// sseStream hands results to the handler goroutine that owns the response.
// done closes when the session closes or the client goes away; afterwards
// writes fail instead of blocking.
type sseStream struct {
	results chan toolcall.Result
	done    chan struct{}
	once    sync.Once
}

func newSSEStream(buffer int) *sseStream {
	return &sseStream{
		results: make(chan toolcall.Result, buffer),
		done:    make(chan struct{}),
	}
}

func (s *sseStream) WriteResult(ctx context.Context, res toolcall.Result) error {
	select {
	case <-s.done:
		return toolerr.New(toolerr.KindSessionClosed, "stream closed")
	default:
	}
	select {
	case s.results <- res:
		return nil
	case <-s.done:
		return toolerr.New(toolerr.KindSessionClosed, "stream closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sseStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := newSSEStream(s.opts.Buffer)
	sess := s.opts.Sessions.Open(stream)
	sessionID := sess.ID()
	logger := s.opts.Logger.With("session_id", sessionID, "transport", "sse")

	hello, err := protocol.NewEnvelope(protocol.TypeSession, sessionID, "", protocol.SessionPayload{
		SessionID: sessionID,
		Endpoint:  s.endpoint(sessionID),
	})
	if err == nil {
		err = writeEvent(w, protocol.TypeSession, hello)
	}
	if err != nil {
		logger.Warn("write session event failed", "err", err.Error())
		_ = stream.Close()
		_ = s.opts.Sessions.Drain(sessionID)
		return
	}
	flusher.Flush()

	var ping <-chan time.Time
	if s.opts.KeepAlive > 0 {
		ticker := time.NewTicker(s.opts.KeepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info("client disconnected")
			_ = stream.Close()
			_ = s.opts.Sessions.Drain(sessionID)
			return
		case <-stream.done:
			// results queued before the close are still owed to the client
			for {
				select {
				case res := <-stream.results:
					if err := s.writeResult(w, sessionID, res); err != nil {
						logger.Warn("write result failed", "request_id", res.RequestID, "err", err.Error())
						return
					}
				default:
					flusher.Flush()
					return
				}
			}
		case res := <-stream.results:
			if err := s.writeResult(w, sessionID, res); err != nil {
				logger.Warn("write result failed", "request_id", res.RequestID, "err", err.Error())
				_ = stream.Close()
				_ = s.opts.Sessions.Drain(sessionID)
				return
			}
			flusher.Flush()
		case <-ping:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				_ = stream.Close()
				_ = s.opts.Sessions.Drain(sessionID)
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeResult(w io.Writer, sessionID string, res toolcall.Result) error {
	env, err := protocol.NewEnvelope(protocol.TypeResult, sessionID, res.RequestID, protocol.ResultFrom(res))
	if err != nil {
		return err
	}
	return writeEvent(w, protocol.TypeResult, env)
}

func writeEvent(w io.Writer, event string, env protocol.Envelope) error {
	data, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "event: "+event+"\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n\n")
	return err
}
