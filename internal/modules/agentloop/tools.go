package agentloop

import (
	"context"
	"fmt"
	"sort"

	"github.com/morezero/plugin-host/pkg/service"
	"github.com/morezero/plugin-host/pkg/value"
)

// Tool is one tool the agent may call.
type Tool struct {
	Name        string
	Description string
	Handler     service.HandlerFunc
}

// ToolInfo is the listing form of a Tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Toolset is an immutable set of tools keyed by name.
type Toolset struct {
	tools map[string]Tool
}

// EmptyToolset returns a toolset with no tools.
func EmptyToolset() *Toolset {
	return &Toolset{tools: map[string]Tool{}}
}

// NewToolset builds a toolset. Names must be unique and non-empty and every
// tool needs a handler.
func NewToolset(tools ...Tool) (*Toolset, error) {
	ts := EmptyToolset()
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("agentloop:tools - tool with empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("agentloop:tools - tool %q has no handler", t.Name)
		}
		if _, dup := ts.tools[t.Name]; dup {
			return nil, fmt.Errorf("agentloop:tools - tool %q declared twice", t.Name)
		}
		ts.tools[t.Name] = t
	}
	return ts, nil
}

// Len returns the number of tools.
func (ts *Toolset) Len() int { return len(ts.tools) }

// List returns the tools sorted by name.
func (ts *Toolset) List() []ToolInfo {
	out := make([]ToolInfo, 0, len(ts.tools))
	for _, t := range ts.tools {
		out = append(out, ToolInfo{Name: t.Name, Description: t.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs a tool by name.
func (ts *Toolset) Call(ctx context.Context, name string, args value.Value) (value.Value, error) {
	t, ok := ts.tools[name]
	if !ok {
		return value.Null(), fmt.Errorf("Unknown tool: %s", name)
	}
	return t.Handler(ctx, args)
}

func newToolsTable(tools *Toolset) *service.Methods {
	return service.NewMethods().
		HandleFunc("list_tools", "List available tools", func(_ context.Context, _ value.Value) (value.Value, error) {
			return value.FromInterface(tools.List())
		}).
		HandleFunc("call_tool", "Call a tool by name", func(ctx context.Context, args value.Value) (value.Value, error) {
			name, _ := args.Get("name")
			if name.Kind() != value.KindString || name.AsString() == "" {
				return value.Null(), fmt.Errorf("Missing tool name. Usage: call_tool {\"name\": <tool>, \"arguments\": {...}}")
			}
			arguments, ok := args.Get("arguments")
			if !ok {
				arguments = value.Object()
			}
			return tools.Call(ctx, name.AsString(), arguments)
		})
}
