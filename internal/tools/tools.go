// Package tools defines the tools available to the assistant, grouped
// by the space domain that may use them.
package tools

import (
	"context"
	"fmt"
	"sort"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Group partitions tools by the domain they serve.
type Group string

const (
	GroupCommon Group = "common"
	GroupDev    Group = "dev"
	GroupOps    Group = "ops"
)

// Registry holds every registered tool and its group membership.
type Registry struct {
	tools  map[string]*Tool
	groups map[Group][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		groups: make(map[Group][]string),
	}
}

// Register adds a tool to a group. Registering the same name twice
// replaces the earlier tool.
func (r *Registry) Register(group Group, t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.groups[group] = append(r.groups[group], t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// ForDomain assembles the immutable tool set for a domain group: the
// group's tools plus the common ones.
func (r *Registry) ForDomain(group Group) *Set {
	names := append([]string{}, r.groups[GroupCommon]...)
	names = append(names, r.groups[group]...)
	sort.Strings(names)

	s := &Set{tools: make(map[string]*Tool, len(names))}
	for _, name := range names {
		t := r.tools[name]
		s.tools[name] = t
		s.ordered = append(s.ordered, t)
	}
	return s
}

// Set is the fixed tool selection one executor works with.
type Set struct {
	tools   map[string]*Tool
	ordered []*Tool
}

// Names returns the tool names in the set, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.ordered))
	for _, t := range s.ordered {
		names = append(names, t.Name)
	}
	return names
}

// Schemas returns the tool definitions in the chat API's function
// schema shape.
func (s *Set) Schemas() []map[string]any {
	result := make([]map[string]any, 0, len(s.ordered))
	for _, t := range s.ordered {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name. Unknown names return
// ErrToolUnavailable; a panicking handler is recovered into an error
// so a bad tool never takes down a turn.
func (s *Set) Execute(ctx context.Context, name string, args map[string]any) (result string, err error) {
	tool := s.tools[name]
	if tool == nil {
		return "", fmt.Errorf("%w: %s", ErrToolUnavailable, name)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, r)
		}
	}()

	return tool.Handler(ctx, args)
}

// --- Argument extraction helpers ---

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
