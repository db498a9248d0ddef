// Package dispatch validates tool calls, runs them locally or through the
// backend gateway, and hands each result to the session that asked for it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"toolstream/internal/logging"
	"toolstream/internal/registry"
	"toolstream/internal/toolcall"
	"toolstream/internal/toolerr"
)

const deliverTimeout = 10 * time.Second

// Invoker performs a backend call for a remote tool.
type Invoker interface {
	Invoke(ctx context.Context, route string, args map[string]any) (any, error)
}

// Sessions is the slice of the session manager the dispatcher depends on.
type Sessions interface {
	Acquire(id, requestID string) error
	Release(id, requestID string)
	Send(ctx context.Context, id string, res toolcall.Result) error
}

type Options struct {
	Registry *registry.Registry
	Gateway  Invoker
	Sessions Sessions
	Logger   logging.Logger
	// Retries is the number of extra attempts for Unreachable backend calls.
	Retries      int
	RetryBackoff time.Duration
}

type Dispatcher struct {
	registry *registry.Registry
	gateway  Invoker
	sessions Sessions
	logger   logging.Logger

	retries      int
	retryBackoff time.Duration

	// mu orders wg.Add in Submit before the wg.Wait in Shutdown.
	mu      sync.RWMutex
	closing bool
	wg      sync.WaitGroup
}

func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Dispatcher{
		registry:     opts.Registry,
		gateway:      opts.Gateway,
		sessions:     opts.Sessions,
		logger:       opts.Logger,
		retries:      opts.Retries,
		retryBackoff: opts.RetryBackoff,
	}
}

// Submit accepts req for asynchronous execution and returns its request id.
// Session errors are returned here and nothing is scheduled; everything after
// acceptance, including unknown tools and bad arguments, is reported as an
// Error result on the session's stream.
func (d *Dispatcher) Submit(ctx context.Context, req toolcall.Request) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.Must(uuid.NewV7()).String()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closing {
		return "", toolerr.New(toolerr.KindSessionClosed, "server is shutting down")
	}
	if err := d.sessions.Acquire(req.SessionID, req.RequestID); err != nil {
		return "", err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(context.WithoutCancel(ctx), req)
	}()
	return req.RequestID, nil
}

func (d *Dispatcher) run(ctx context.Context, req toolcall.Request) {
	logger := d.logger.With("session_id", req.SessionID, "request_id", req.RequestID, "tool", req.ToolName)
	defer d.sessions.Release(req.SessionID, req.RequestID)

	started := time.Now()
	payload, err := d.Invoke(ctx, req.ToolName, req.Arguments)
	res := toolcall.Success(req.RequestID, payload)
	if err != nil {
		res = toolcall.Failure(req.RequestID, err)
		logger.Info("tool call failed", "kind", string(res.Err.Kind), "err", res.Err.Error(), "elapsed_ms", time.Since(started).Milliseconds())
	} else {
		logger.Debug("tool call finished", "elapsed_ms", time.Since(started).Milliseconds())
	}

	sendCtx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()
	if err := d.sessions.Send(sendCtx, req.SessionID, res); err != nil {
		// the consumer is gone; the result is not re-queued
		logger.Warn("result lost", "err", err.Error())
	}
}

// Invoke resolves, validates and executes a tool synchronously.
func (d *Dispatcher) Invoke(ctx context.Context, toolName string, args map[string]any) (any, error) {
	tool, err := d.registry.Lookup(toolName)
	if err != nil {
		return nil, err
	}
	args = registry.ApplyDefaults(tool.Descriptor, args)
	if err := registry.Validate(tool.Descriptor, args); err != nil {
		return nil, err
	}
	if tool.Local() {
		return d.runLocal(ctx, tool, args)
	}
	return d.runRemote(ctx, tool, args)
}

func (d *Dispatcher) runLocal(ctx context.Context, tool registry.Tool, args map[string]any) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", tool.Name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			payload, err = nil, toolerr.New(toolerr.KindToolError, "tool %q panicked: %v", tool.Name, r)
		}
	}()
	payload, err = tool.Handler(ctx, args)
	if err != nil {
		var te *toolerr.Error
		if errors.As(err, &te) {
			return nil, te
		}
		return nil, toolerr.Wrap(toolerr.KindToolError, err, "tool %q failed", tool.Name)
	}
	return payload, nil
}

func (d *Dispatcher) runRemote(ctx context.Context, tool registry.Tool, args map[string]any) (any, error) {
	if d.gateway == nil {
		return nil, toolerr.New(toolerr.KindUnreachable, "no backend gateway configured for %q", tool.Name)
	}
	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			d.logger.Debug("retrying backend call", "tool", tool.Name, "attempt", attempt)
			select {
			case <-time.After(d.retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, toolerr.Wrap(toolerr.KindUnreachable, ctx.Err(), "retry of %q abandoned", tool.Name)
			}
		}
		payload, err := d.gateway.Invoke(ctx, tool.BackendRoute(), args)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !errors.Is(err, toolerr.ErrUnreachable) {
			break
		}
	}
	return nil, toolerr.As(lastErr)
}

// Shutdown stops accepting submissions and waits for accepted ones.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
	return d.Wait(ctx)
}

// Wait blocks until every accepted request has been delivered or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
