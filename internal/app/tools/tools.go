package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/PabloGalante/insurance-agent/internal/domain"
)

// ToolContext brings metadata of the call to the tool
type ToolContext struct {
	UserID    string
	SessionID string
	RequestID string
	AuthToken string
}

// Tool is one operation an executor can invoke against an external API.
// Input is a flat string map so it can be stored verbatim in a pending action.
type Tool interface {
	Name() string
	// Mutating reports whether the call has an external side effect and
	// therefore needs the user's confirmation first.
	Mutating() bool
	// Validate checks the input locally; it returns *domain.ValidationError.
	Validate(input map[string]string) error
	Call(ctx context.Context, tctx ToolContext, input map[string]string) (domain.ClaimRecord, error)
}

// Registry looks tools up by name.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
