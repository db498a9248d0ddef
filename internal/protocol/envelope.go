package protocol

import (
	"errors"
	"strings"
	"time"

	"toolstream/internal/json"
)

// Envelope frames every message pushed on a stream (SSE data line or
// WebSocket text frame) and every submission read from a WebSocket.
type Envelope struct {
	V         int             `json:"v"`
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Ts        int64           `json:"ts,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (e Envelope) ValidateBasic() error {
	if e.V <= 0 {
		return errors.New("invalid envelope: v must be > 0")
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("invalid envelope: type is required")
	}
	return nil
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	if !json.Valid(data) {
		return nil, errors.New("invalid envelope: malformed JSON")
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if err := env.ValidateBasic(); err != nil {
		return nil, err
	}
	return &env, nil
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	if err := env.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// NewEnvelope stamps version and time onto a typed payload.
func NewEnvelope(typ, sessionID, requestID string, payload any) (Envelope, error) {
	env := Envelope{
		V:         Version,
		Type:      typ,
		SessionID: sessionID,
		RequestID: requestID,
		Ts:        time.Now().Unix(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}
