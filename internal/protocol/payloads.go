package protocol

// SessionPayload is the first event on every stream.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
	Endpoint  string `json:"endpoint"`
}

// Submission is a tool call as sent by a client.
type Submission struct {
	SessionID string         `json:"sessionId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ResultPayload struct {
	RequestID string        `json:"requestId"`
	Outcome   string        `json:"outcome"`
	Payload   any           `json:"payload,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
}

type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// AckPayload answers a submission on the submission channel.
type AckPayload struct {
	RequestID string        `json:"requestId,omitempty"`
	Status    string        `json:"status"`
	Error     *ErrorPayload `json:"error,omitempty"`
}

const (
	AckAccepted = "accepted"
	AckRejected = "rejected"
)

type CatalogPayload struct {
	Tools []ToolDescriptor `json:"tools" yaml:"tools"`
}

type ToolDescriptor struct {
	Name            string      `json:"name" yaml:"name"`
	Description     string      `json:"description,omitempty" yaml:"description,omitempty"`
	ParameterSchema []Parameter `json:"parameterSchema" yaml:"parameterSchema"`
}

type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}
