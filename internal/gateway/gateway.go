// Package gateway calls the backend service on behalf of remote tools.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"toolstream/internal/json"
	"toolstream/internal/logging"
	"toolstream/internal/toolerr"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultPathPrefix = "/api/tools"

	maxErrorBody = 4 << 10
)

type Options struct {
	BaseURL    string
	PathPrefix string
	Timeout    time.Duration
	Client     *http.Client
	Logger     logging.Logger
}

// Gateway issues one bounded POST per call. It never retries.
type Gateway struct {
	baseURL    string
	pathPrefix string
	timeout    time.Duration
	client     *http.Client
	logger     logging.Logger
}

func New(opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = DefaultPathPrefix
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Gateway{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		pathPrefix: "/" + strings.Trim(opts.PathPrefix, "/"),
		timeout:    opts.Timeout,
		client:     opts.Client,
		logger:     opts.Logger,
	}
}

// Timeout returns the per-call deadline.
func (g *Gateway) Timeout() time.Duration { return g.timeout }

// URL returns the backend endpoint for a route.
func (g *Gateway) URL(route string) string {
	return g.baseURL + g.pathPrefix + "/" + strings.TrimLeft(route, "/")
}

// Invoke posts args to the route and decodes the response. Failures are
// *toolerr.Error of kind Unreachable, Timeout or BackendError.
func (g *Gateway) Invoke(ctx context.Context, route string, args map[string]any) (any, error) {
	if g.baseURL == "" {
		return nil, toolerr.New(toolerr.KindUnreachable, "backend url is not configured")
	}
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, toolerr.InvalidArgument("arguments", "encode: %v", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url := g.URL(route)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUnreachable, err, "build request for %s", url)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		if isTimeout(callCtx, err) {
			return nil, toolerr.Wrap(toolerr.KindTimeout, err, "%s did not respond within %s", route, g.timeout)
		}
		return nil, toolerr.Wrap(toolerr.KindUnreachable, err, "call %s", url)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(callCtx, err) {
			return nil, toolerr.Wrap(toolerr.KindTimeout, err, "%s response not read within %s", route, g.timeout)
		}
		return nil, toolerr.Wrap(toolerr.KindUnreachable, err, "read response from %s", url)
	}
	g.logger.Debug("backend call finished", "route", route, "status", resp.StatusCode, "elapsed_ms", time.Since(started).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, toolerr.Backend(resp.StatusCode, errorMessage(resp.Status, raw))
	}
	return decodeBody(raw), nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if !json.Valid(trimmed) {
		return string(raw)
	}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(raw)
	}
	return v
}

// errorMessage prefers a structured message from the backend body.
func errorMessage(status string, raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			switch v := body[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case nil:
			default:
				return fmt.Sprint(v)
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	if text == "" {
		return status
	}
	return text
}
