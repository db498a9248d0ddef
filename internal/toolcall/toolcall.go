// Package toolcall holds the dispatcher's internal request and result model,
// independent of any wire encoding.
package toolcall

import (
	"time"

	"toolstream/internal/toolerr"
)

// Request is a tool invocation bound to a session.
type Request struct {
	SessionID  string
	RequestID  string
	ToolName   string
	Arguments  map[string]any
	ReceivedAt time.Time
}

// Result is the single outcome of a Request. Exactly one of Payload or Err is meaningful.
type Result struct {
	RequestID string
	Payload   any
	Err       *toolerr.Error
}

func Success(requestID string, payload any) Result {
	return Result{RequestID: requestID, Payload: payload}
}

func Failure(requestID string, err error) Result {
	return Result{RequestID: requestID, Err: toolerr.As(err)}
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Err == nil }
