package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/gemx-cli/gemx/internal/llm/gemini"
)

// toolSession is the slice of Session the registry depends on; tests
// substitute fakes.
type toolSession interface {
	Name() string
	State() State
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error)
}

// catalogEntry binds one advertised tool to its owning session.
type catalogEntry struct {
	// info is the tool descriptor as advertised.
	info ToolInfo
	// owner is the session that serves the tool.
	owner toolSession
}

// Registry aggregates tool catalogs from every Ready session into one
// dispatch surface. Tool names must be unique across sessions.
type Registry struct {
	// sessions is the fixed session set, in configuration order.
	sessions []toolSession

	// mu guards the committed catalog.
	mu      sync.RWMutex
	catalog map[string]catalogEntry
	order   []string
}

// NewRegistry builds a registry over the given sessions. The catalog is
// empty until the first successful Refresh.
func NewRegistry(sessions ...*Session) *Registry {
	registry := &Registry{catalog: map[string]catalogEntry{}}
	for _, session := range sessions {
		registry.sessions = append(registry.sessions, session)
	}
	return registry
}

// newRegistryForSessions is the interface-typed constructor used by tests.
func newRegistryForSessions(sessions ...toolSession) *Registry {
	return &Registry{sessions: sessions, catalog: map[string]catalogEntry{}}
}

// Refresh rebuilds the catalog from every Ready session. A duplicate tool
// name across sessions aborts the rebuild with DuplicateToolError, keeping
// the previously committed catalog (possibly empty) intact.
func (r *Registry) Refresh(ctx context.Context) error {
	rebuilt := map[string]catalogEntry{}
	var order []string

	for _, session := range r.sessions {
		if session.State() != StateReady {
			continue
		}
		tools, err := session.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("refresh catalog: %w", err)
		}
		for _, tool := range tools {
			if existing, taken := rebuilt[tool.Name]; taken {
				return &DuplicateToolError{
					Tool:    tool.Name,
					Servers: [2]string{existing.owner.Name(), session.Name()},
				}
			}
			rebuilt[tool.Name] = catalogEntry{info: tool, owner: session}
			order = append(order, tool.Name)
		}
	}

	r.mu.Lock()
	r.catalog = rebuilt
	r.order = order
	r.mu.Unlock()
	return nil
}

// Dispatch routes one tool invocation to the owning session, propagating
// its result or failure transparently. Dispatches to different sessions run
// independently; correlation ids let one session carry several calls in
// flight at once.
func (r *Registry) Dispatch(ctx context.Context, callID string, name string, arguments json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	entry, known := r.catalog[name]
	r.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%w: %s (call %s)", ErrUnknownTool, name, callID)
	}
	return entry.owner.CallTool(ctx, name, arguments)
}

// Tools returns the committed catalog with owning server names, sorted by
// tool name for stable output.
func (r *Registry) Tools() []RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]RegisteredTool, 0, len(r.catalog))
	for name, entry := range r.catalog {
		tools = append(tools, RegisteredTool{Server: entry.owner.Name(), Info: entry.info, Name: name})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// RegisteredTool pairs an advertised tool with its owning server.
type RegisteredTool struct {
	// Name is the tool identifier.
	Name string
	// Server is the owning server id.
	Server string
	// Info is the full advertised descriptor.
	Info ToolInfo
}

// Declarations exports the committed catalog as function declarations for a
// generation request, in first-advertised order.
func (r *Registry) Declarations() []gemini.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil
	}
	declarations := make([]gemini.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		entry := r.catalog[name]
		declarations = append(declarations, gemini.FunctionDeclaration{
			Name:        entry.info.Name,
			Description: entry.info.Description,
			Parameters:  entry.info.InputSchema,
		})
	}
	return []gemini.Tool{{FunctionDeclarations: declarations}}
}

// Close shuts down every session.
func (r *Registry) Close() {
	for _, session := range r.sessions {
		if closer, ok := session.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
}
