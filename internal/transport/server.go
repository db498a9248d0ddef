// Package transport is the HTTP face of toolstream: result streams over SSE
// and WebSocket, the submission endpoint, the catalog and the MCP mount.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"toolstream/internal/json"
	"toolstream/internal/logging"
	"toolstream/internal/protocol"
	"toolstream/internal/registry"
	"toolstream/internal/session"
	"toolstream/internal/toolcall"
	"toolstream/internal/toolerr"
)

const (
	DefaultListen       = ":8090"
	DefaultStreamPath   = "/sse"
	DefaultWSPath       = "/ws"
	DefaultMessagesPath = "/messages"
	DefaultToolsPath    = "/tools"
	DefaultKeepAlive    = 15 * time.Second
	DefaultMaxBodyBytes = 1 << 20
	DefaultBuffer       = 64

	shutdownTimeout = 10 * time.Second
)

// Submitter accepts requests for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, req toolcall.Request) (string, error)
}

type Sessions interface {
	Open(stream session.Stream) *session.Session
	Get(id string) (*session.Session, error)
	Drain(id string) error
	Count() int
}

type Catalog interface {
	List() []registry.Descriptor
}

type Options struct {
	Listen       string
	StreamPath   string
	WSPath       string
	MessagesPath string
	ToolsPath    string
	MCPPath      string
	// KeepAlive is the SSE ping interval; negative disables pings.
	KeepAlive    time.Duration
	MaxBodyBytes int64
	// Buffer is the number of results queued per SSE stream before senders block.
	Buffer int

	Catalog    Catalog
	Dispatcher Submitter
	Sessions   Sessions
	// MCP is mounted at MCPPath when both are set.
	MCP    http.Handler
	Logger logging.Logger
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	if opts.Listen == "" {
		opts.Listen = DefaultListen
	}
	if opts.StreamPath == "" {
		opts.StreamPath = DefaultStreamPath
	}
	if opts.WSPath == "" {
		opts.WSPath = DefaultWSPath
	}
	if opts.MessagesPath == "" {
		opts.MessagesPath = DefaultMessagesPath
	}
	if opts.ToolsPath == "" {
		opts.ToolsPath = DefaultToolsPath
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Server{opts: opts}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.StreamPath, s.handleSSE)
	mux.HandleFunc(s.opts.WSPath, s.handleWS)
	mux.HandleFunc(s.opts.MessagesPath, s.handleMessages)
	mux.HandleFunc(s.opts.ToolsPath, s.handleTools)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.opts.MCP != nil && s.opts.MCPPath != "" {
		mux.Handle(s.opts.MCPPath, s.opts.MCP)
	}
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logger := s.opts.Logger
	httpServer := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("toolstream listening", "addr", s.opts.Listen, "stream_path", s.opts.StreamPath, "ws_path", s.opts.WSPath)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) endpoint(sessionID string) string {
	return s.opts.MessagesPath + "?sessionId=" + sessionID
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, protocol.Catalog(s.opts.Catalog.List()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.opts.Sessions.Count()})
}

// statusFor maps a synchronous rejection to its HTTP status. Tool and
// argument faults never reach here; they arrive as results on the stream.
func statusFor(err error) int {
	switch toolerr.KindOf(err) {
	case toolerr.KindProtocolError:
		return http.StatusBadRequest
	case toolerr.KindSessionNotFound:
		return http.StatusNotFound
	case toolerr.KindSessionClosed:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: protocol.ErrorFrom(err)})
}

type errorResponse struct {
	Error *protocol.ErrorPayload `json:"error"`
}
