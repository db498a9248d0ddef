package transport

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolstream/internal/logging"
	"toolstream/internal/session"
	"toolstream/internal/toolcall"
)

type capturingSessions struct {
	*session.Manager
	streams chan session.Stream
}

func (c capturingSessions) Open(stream session.Stream) *session.Session {
	c.streams <- stream
	return c.Manager.Open(stream)
}

// brokenWriter holds the first write until gate closes and fails every write
// after the session event.
type brokenWriter struct {
	header http.Header
	gate   chan struct{}

	mu     sync.Mutex
	writes int
}

func (w *brokenWriter) Header() http.Header { return w.header }
func (w *brokenWriter) WriteHeader(int)     {}
func (w *brokenWriter) Flush()              {}

func (w *brokenWriter) Write(p []byte) (int, error) {
	<-w.gate
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.writes > 3 {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func TestSSE_LogsResultLostAfterClose(t *testing.T) {
	var logs bytes.Buffer
	logger, err := logging.NewLogger(logging.Options{Format: "json", Output: &logs})
	require.NoError(t, err)

	sessions := capturingSessions{Manager: session.NewManager(session.Options{}), streams: make(chan session.Stream, 1)}
	defer sessions.CloseAll()
	srv := NewServer(Options{Sessions: sessions, Logger: logger, KeepAlive: -1})

	w := &brokenWriter{header: http.Header{}, gate: make(chan struct{})}
	done := make(chan struct{})
	go func() {
		srv.handleSSE(w, httptest.NewRequest(http.MethodGet, "/sse", nil))
		close(done)
	}()

	stream := (<-sessions.streams).(*sseStream)
	stream.results <- toolcall.Result{RequestID: "r1"}
	require.NoError(t, stream.Close())
	close(w.gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}
	assert.Contains(t, logs.String(), `"msg":"write result failed"`)
	assert.Contains(t, logs.String(), `"request_id":"r1"`)
}
