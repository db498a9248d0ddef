package protocol

// Envelope types.
const (
	TypeSession = "session"
	TypeResult  = "result"
	TypeCatalog = "catalog"
	TypeSubmit  = "submit"
	TypeAck     = "ack"
	TypePing    = "ping"
)

// Result outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Version is the envelope version written by this server.
const Version = 1
