// Package mcpserver exposes the tool registry over the Model Context Protocol
// streamable HTTP transport. Calls are executed synchronously through the
// dispatcher and do not belong to a toolstream session.
package mcpserver

import (
	"context"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"toolstream/internal/json"
	"toolstream/internal/logging"
	"toolstream/internal/registry"
	"toolstream/internal/toolerr"
)

const implementationName = "toolstream"

// Invoker runs a tool to completion.
type Invoker interface {
	Invoke(ctx context.Context, toolName string, args map[string]any) (any, error)
}

type Options struct {
	Version string
	Logger  logging.Logger
}

// NewServer registers every descriptor as an MCP tool backed by inv.
func NewServer(tools []registry.Descriptor, inv Invoker, opts Options) *mcp.Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	server := mcp.NewServer(&mcp.Implementation{Name: implementationName, Version: opts.Version}, nil)
	for _, d := range tools {
		server.AddTool(&mcp.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: InputSchema(d),
		}, handler(d.Name, inv, opts.Logger))
	}
	return server
}

// Handler serves server on the streamable HTTP transport.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

// InputSchema renders a descriptor's parameters as a JSON Schema object.
func InputSchema(d registry.Descriptor) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(d.Params)),
	}
	for _, p := range d.Params {
		prop := &jsonschema.Schema{Type: string(p.Type), Description: p.Description}
		if p.Default != nil {
			if raw, err := json.Marshal(p.Default); err == nil {
				prop.Default = raw
			}
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

func handler(name string, inv Invoker, logger logging.Logger) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult(toolerr.Wrap(toolerr.KindProtocolError, err, "decode arguments")), nil
			}
		}
		out, err := inv.Invoke(ctx, name, args)
		if err != nil {
			logger.Debug("mcp tool call failed", "tool", name, "err", err.Error())
			return errorResult(err), nil
		}
		text, err := render(out)
		if err != nil {
			return errorResult(toolerr.Wrap(toolerr.KindToolError, err, "encode result")), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
	}
}

func render(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: toolerr.As(err).Error()}},
	}
}
