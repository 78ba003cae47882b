// Package tools implements the capabilities a worker may invoke on behalf
// of the model: shell execution, file read/write/edit, and glob/grep
// search. Every tool returns a ToolResult and never panics past Execute.
package tools

import (
	"context"
	"fmt"

	"github.com/taskhive/taskhive/internal/llm"
	"github.com/taskhive/taskhive/pkg/models"
)

// Tool is one executable capability with a declared input schema.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input map[string]any) models.ToolResult
}

// Registry maps tool names to implementations. Definition order is stable
// so the schemas sent to the model do not shuffle between calls.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry returns a registry with the standard tool set. workingDir is
// the default directory for shell commands and relative searches.
func NewRegistry(workingDir string) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.Register(&BashTool{WorkingDir: workingDir})
	r.Register(&ReadTool{})
	r.Register(&WriteTool{})
	r.Register(&EditTool{})
	r.Register(&GlobTool{WorkingDir: workingDir})
	r.Register(&GrepTool{WorkingDir: workingDir})
	return r
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool schemas in registration order, shaped for
// the model API.
func (r *Registry) Definitions() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

// Execute runs the named tool. Unknown tools and panics inside a tool both
// surface as failed results; nothing escapes this boundary.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (result models.ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = models.ToolResult{
				Success: false,
				Output:  fmt.Sprintf("Tool execution failed: %v", rec),
				Error:   fmt.Sprintf("panic: %v", rec),
			}
		}
	}()

	t, ok := r.Get(name)
	if !ok {
		return models.ToolResult{
			Success: false,
			Output:  fmt.Sprintf("Unknown tool: %s", name),
			Error:   fmt.Sprintf("tool %q not found", name),
		}
	}
	return t.Execute(ctx, input)
}

// Input accessors: tool inputs arrive as decoded JSON, so numbers are
// float64 and every field needs a type assertion.

func stringInput(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func intInput(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func boolInput(input map[string]any, key string) bool {
	b, _ := input[key].(bool)
	return b
}

func failure(output string, err error) models.ToolResult {
	return models.ToolResult{Success: false, Output: output, Error: err.Error()}
}
