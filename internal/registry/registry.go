// Package registry is the catalog of tools a client may call.
package registry

import (
	"context"
	"slices"
	"strings"
	"sync"

	"toolstream/internal/toolerr"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// Valid reports whether t is a known parameter type.
func (t ParamType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Param describes one entry of a tool's parameter schema.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
	Default     any
}

// Descriptor is the client-visible description of a tool.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
}

// Handler executes a tool in-process.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool pairs a descriptor with how it executes: a local Handler, or, when
// Handler is nil, a backend call to Route (defaults to the tool name).
type Tool struct {
	Descriptor
	Handler Handler
	Route   string
}

// Local reports whether the tool runs in-process.
func (t Tool) Local() bool { return t.Handler != nil }

// BackendRoute returns the backend path segment for a remote tool.
func (t Tool) BackendRoute() string {
	if t.Route != "" {
		return t.Route
	}
	return t.Name
}

// Registry is safe for concurrent use. Listing order is registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. It fails with DuplicateTool when the name is taken.
func (r *Registry) Register(tool Tool) error {
	if strings.TrimSpace(tool.Name) == "" {
		return toolerr.InvalidArgument("name", "tool name is empty")
	}
	seen := make(map[string]struct{}, len(tool.Params))
	for _, p := range tool.Params {
		if p.Name == "" {
			return toolerr.InvalidArgument("params", "tool %q has a parameter without a name", tool.Name)
		}
		if !p.Type.Valid() {
			return toolerr.InvalidArgument(p.Name, "tool %q: unsupported parameter type %q", tool.Name, p.Type)
		}
		if _, dup := seen[p.Name]; dup {
			return toolerr.InvalidArgument(p.Name, "tool %q declares parameter twice", tool.Name)
		}
		seen[p.Name] = struct{}{}
	}
	tool.Params = slices.Clone(tool.Params)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return toolerr.New(toolerr.KindDuplicateTool, "tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Lookup returns the named tool or fails with UnknownTool.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, toolerr.New(toolerr.KindUnknownTool, "tool %q is not registered", name)
	}
	return tool, nil
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.tools[name].Descriptor
		d.Params = slices.Clone(d.Params)
		out = append(out, d)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
