// Package agents defines the agent execution contract, the immutable agent
// registry, and the four concrete pipeline agents: coordinator, summarizer,
// extractor, and visualizer.
//
// Agents share one interface and are registered once at process start. The
// registry validates the dependency graph; unknown dependencies and cycles
// are construction-time errors, never request-time ones.
package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/doculens/doculens/internal/protocol"
	"github.com/doculens/doculens/pkg/models"
)

// Agent names.
const (
	NameCoordinator = "coordinator"
	NameSummarizer  = "summarizer"
	NameExtractor   = "extractor"
	NameVisualizer  = "visualizer"
)

// ExecInput carries everything an agent may read during one execution.
// Upstream holds the outputs of the agent's declared dependencies only;
// the orchestrator never exposes outputs of agents that have not run.
type ExecInput struct {
	SessionID   string
	Content     string
	ContentType string
	Upstream    map[string]map[string]any

	// Bus is the advisory message channel. May be nil in tests; agents
	// must treat sends as fire-and-forget.
	Bus protocol.Sender

	// Inbox holds advisory messages addressed to this agent by peers
	// that ran earlier. Purely informational.
	Inbox []models.Message
}

// Agent is the uniform unit-of-work contract.
type Agent interface {
	Descriptor() models.AgentDescriptor
	Execute(ctx context.Context, in *ExecInput) (map[string]any, error)
}

// FailureError marks a single agent's execution failure. The orchestrator
// treats any other error from Execute identically.
type FailureError struct {
	Agent  string
	Reason string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("agent %s failed: %s", e.Agent, e.Reason)
}

// CyclicDependencyError reports that the registered descriptors admit no
// valid execution order.
type CyclicDependencyError struct {
	Remaining []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic agent dependencies involving: %v", e.Remaining)
}

// ── Registry ─────────────────────────────────────────────────

// Registry is the immutable set of registered agents plus their
// precomputed topological execution order.
type Registry struct {
	agents map[string]Agent
	order  []string
}

// NewRegistry validates and indexes the given agents. It fails fast on
// duplicate names, unknown dependencies, and dependency cycles.
func NewRegistry(list ...Agent) (*Registry, error) {
	byName := make(map[string]Agent, len(list))
	for _, a := range list {
		d := a.Descriptor()
		if d.Name == "" {
			return nil, fmt.Errorf("agent with empty name")
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name: %s", d.Name)
		}
		byName[d.Name] = a
	}
	for _, a := range byName {
		for _, dep := range a.Descriptor().Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, &protocol.UnknownParticipantError{Name: dep}
			}
		}
	}

	order, err := topoSort(byName)
	if err != nil {
		return nil, err
	}
	return &Registry{agents: byName, order: order}, nil
}

// topoSort runs Kahn's algorithm with name-sorted tie breaking so the order
// is deterministic across runs.
func topoSort(byName map[string]Agent) ([]string, error) {
	indegree := make(map[string]int, len(byName))
	dependents := make(map[string][]string, len(byName))
	for name, a := range byName {
		indegree[name] += 0
		for _, dep := range a.Descriptor().Dependencies {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(byName))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(byName) {
		var remaining []string
		for name := range byName {
			found := false
			for _, n := range order {
				if n == name {
					found = true
					break
				}
			}
			if !found {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &CyclicDependencyError{Remaining: remaining}
	}
	return order, nil
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Order returns the topological execution order.
func (r *Registry) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Names returns all registered agent names (execution order).
func (r *Registry) Names() []string { return r.Order() }

// Dependencies returns the declared dependencies of the named agent.
func (r *Registry) Dependencies(name string) []string {
	a, ok := r.agents[name]
	if !ok {
		return nil
	}
	return a.Descriptor().Dependencies
}

// Descriptors returns every registered descriptor in execution order.
func (r *Registry) Descriptors() []models.AgentDescriptor {
	out := make([]models.AgentDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name].Descriptor())
	}
	return out
}

// DefaultRegistry wires the standard four-agent pipeline. The coordinator's
// classification is advisory: summarizer and extractor declare no dependency
// on it, so independent work is never serialized behind it. The visualizer
// requires both the extractor's entities and the summarizer's text.
func DefaultRegistry(client ReasoningClient) (*Registry, error) {
	return NewRegistry(
		NewCoordinator(client),
		NewSummarizer(client),
		NewExtractor(client),
		NewVisualizer(client),
	)
}
