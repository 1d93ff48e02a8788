// Package reasoning wraps the external AI reasoning service behind a narrow
// client interface. The engine treats the service as a black box that, given
// a system prompt and content, returns free text or structured JSON.
package reasoning

import (
	"context"
	"strings"
)

// Client is the boundary to the reasoning service. Implementations must be
// safe for concurrent use; callers bound each call with a context deadline.
type Client interface {
	// Complete sends a system prompt plus user content and returns the
	// model's text response.
	Complete(ctx context.Context, system, content string) (string, error)

	// Ready reports whether the client is configured and usable. It is a
	// cheap local check, not a network probe.
	Ready() bool
}

// StaticClient returns canned responses keyed on the system prompt. It backs
// local development without an API key and keeps the pipeline exercisable
// end to end.
type StaticClient struct{}

// NewStaticClient creates a canned-response client.
func NewStaticClient() *StaticClient { return &StaticClient{} }

func (c *StaticClient) Ready() bool { return true }

func (c *StaticClient) Complete(_ context.Context, system, content string) (string, error) {
	lower := strings.ToLower(system)
	switch {
	case strings.Contains(lower, "classif"):
		return `{"input_kind": "document", "plan": ["summarizer", "extractor", "visualizer"]}`, nil
	// Checked before the entity case: the graph prompt mentions entities too.
	case strings.Contains(lower, "graph"):
		return `{"nodes": [{"id": "input", "label": "input"}], "edges": []}`, nil
	case strings.Contains(lower, "entit"):
		return `{"entities": [{"name": "input", "kind": "document"}], "relationships": []}`, nil
	default:
		summary := content
		if len(summary) > 120 {
			summary = summary[:120] + "…"
		}
		return "Static summary: " + summary, nil
	}
}
