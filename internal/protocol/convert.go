package protocol

import (
	"strings"
	"time"

	"toolstream/internal/registry"
	"toolstream/internal/toolcall"
	"toolstream/internal/toolerr"
)

// Request converts a submission into a dispatch request. sessionID is used
// when the submission does not name its own session.
func (s Submission) Request(sessionID string) (toolcall.Request, error) {
	if s.SessionID != "" {
		if sessionID != "" && s.SessionID != sessionID {
			return toolcall.Request{}, toolerr.New(toolerr.KindProtocolError, "sessionId in body does not match the addressed session")
		}
		sessionID = s.SessionID
	}
	if strings.TrimSpace(sessionID) == "" {
		return toolcall.Request{}, toolerr.New(toolerr.KindProtocolError, "sessionId is required")
	}
	if strings.TrimSpace(s.ToolName) == "" {
		return toolcall.Request{}, toolerr.New(toolerr.KindProtocolError, "toolName is required")
	}
	args := s.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return toolcall.Request{
		SessionID:  sessionID,
		RequestID:  s.RequestID,
		ToolName:   s.ToolName,
		Arguments:  args,
		ReceivedAt: time.Now(),
	}, nil
}

// ResultFrom encodes a dispatch result for the stream.
func ResultFrom(res toolcall.Result) ResultPayload {
	if res.Err != nil {
		return ResultPayload{RequestID: res.RequestID, Outcome: OutcomeError, Error: ErrorFrom(res.Err)}
	}
	return ResultPayload{RequestID: res.RequestID, Outcome: OutcomeSuccess, Payload: res.Payload}
}

func ErrorFrom(err error) *ErrorPayload {
	te := toolerr.As(err)
	if te == nil {
		return nil
	}
	msg := te.Message
	if te.Err != nil {
		msg += ": " + te.Err.Error()
	}
	return &ErrorPayload{Kind: string(te.Kind), Message: msg, Field: te.Field, Code: te.Code}
}

// Catalog encodes registry descriptors for a catalog query.
func Catalog(descs []registry.Descriptor) CatalogPayload {
	out := CatalogPayload{Tools: make([]ToolDescriptor, 0, len(descs))}
	for _, d := range descs {
		td := ToolDescriptor{Name: d.Name, Description: d.Description, ParameterSchema: make([]Parameter, 0, len(d.Params))}
		for _, p := range d.Params {
			td.ParameterSchema = append(td.ParameterSchema, Parameter{
				Name:        p.Name,
				Type:        string(p.Type),
				Required:    p.Required,
				Description: p.Description,
				Default:     p.Default,
			})
		}
		out.Tools = append(out.Tools, td)
	}
	return out
}
