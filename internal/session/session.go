// Package session owns client sessions: the binding between one result stream
// and the requests submitted against it.
//
// A session moves Open -> Draining -> Closed. Draining stops new requests but
// keeps delivering results for requests already accepted; the session closes
// as soon as the last of them is released.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"toolstream/internal/toolcall"
)

// State is a session lifecycle state.
type State int32

const (
	StateOpen State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Stream is the push channel a session writes results to. The session that
// owns it is its only writer; Close is called exactly once by the manager.
type Stream interface {
	WriteResult(ctx context.Context, res toolcall.Result) error
	Close() error
}

// Session is one client's logical connection.
type Session struct {
	id        string
	createdAt time.Time
	stream    Stream

	// writeMu serializes stream writes and the final stream close.
	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	lastActive time.Time
	closedAt   time.Time
	inflight   map[string]struct{}
	// used holds every request id accepted over the session's lifetime.
	used map[string]struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of accepted requests without a released result.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidID reports whether id is shaped like an identifier issued by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}
