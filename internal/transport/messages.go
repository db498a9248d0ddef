package transport

import (
	"context"
	"errors"
	"net/http"

	"toolstream/internal/protocol"
	"toolstream/internal/session"
	"toolstream/internal/toolerr"
)

type messagesResponse struct {
	SessionID string                 `json:"sessionId,omitempty"`
	Acks      []protocol.AckPayload  `json:"acks,omitempty"`
	State     string                 `json:"state,omitempty"`
	Error     *protocol.ErrorPayload `json:"error,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodDelete:
		s.handleDrain(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSubmit accepts one submission or a batch. Session faults answer for
// the whole request; per-submission faults are reported in the acks.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID != "" {
		if err := checkSessionID(sessionID); err != nil {
			writeError(w, err)
			return
		}
		if err := s.checkSession(sessionID); err != nil {
			writeError(w, err)
			return
		}
	}

	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	subs, err := protocol.DecodeSubmissions(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: protocol.ErrorFrom(
				toolerr.New(toolerr.KindProtocolError, "body exceeds %d bytes", tooLarge.Limit))})
			return
		}
		writeError(w, err)
		return
	}

	resp := messagesResponse{SessionID: sessionID, Acks: make([]protocol.AckPayload, 0, len(subs))}
	var firstErr error
	accepted := 0
	for _, sub := range subs {
		requestID, err := s.submit(r.Context(), sessionID, sub)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err == nil {
			accepted++
		}
		resp.Acks = append(resp.Acks, ack(requestID, err))
	}
	if accepted == 0 {
		resp.Error = protocol.ErrorFrom(firstErr)
		writeJSON(w, statusFor(firstErr), resp)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, toolerr.New(toolerr.KindProtocolError, "sessionId is required"))
		return
	}
	if err := checkSessionID(sessionID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Sessions.Drain(sessionID); err != nil {
		writeError(w, err)
		return
	}
	state := ""
	if sess, err := s.opts.Sessions.Get(sessionID); err == nil {
		state = sess.State().String()
	}
	writeJSON(w, http.StatusAccepted, messagesResponse{SessionID: sessionID, State: state})
}

// checkSessionID rejects identifiers this server could never have issued.
func checkSessionID(sessionID string) error {
	if !session.ValidID(sessionID) {
		return toolerr.New(toolerr.KindProtocolError, "malformed sessionId %q", sessionID)
	}
	return nil
}

func (s *Server) checkSession(sessionID string) error {
	sess, err := s.opts.Sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if st := sess.State(); st != session.StateOpen {
		return toolerr.New(toolerr.KindSessionClosed, "session %q is %s", sessionID, st)
	}
	return nil
}

// submit hands one decoded submission to the dispatcher.
func (s *Server) submit(ctx context.Context, sessionID string, sub protocol.Submission) (string, error) {
	if sub.SessionID != "" {
		if err := checkSessionID(sub.SessionID); err != nil {
			return sub.RequestID, err
		}
	}
	req, err := sub.Request(sessionID)
	if err != nil {
		return sub.RequestID, err
	}
	requestID, err := s.opts.Dispatcher.Submit(ctx, req)
	if err != nil {
		s.opts.Logger.Debug("submission rejected", "session_id", req.SessionID, "request_id", sub.RequestID, "err", err.Error())
		return sub.RequestID, err
	}
	return requestID, nil
}

func ack(requestID string, err error) protocol.AckPayload {
	if err != nil {
		return protocol.AckPayload{RequestID: requestID, Status: protocol.AckRejected, Error: protocol.ErrorFrom(err)}
	}
	return protocol.AckPayload{RequestID: requestID, Status: protocol.AckAccepted}
}
