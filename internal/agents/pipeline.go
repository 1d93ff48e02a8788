package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/doculens/doculens/internal/protocol"
	"github.com/doculens/doculens/internal/reasoning"
	"github.com/doculens/doculens/pkg/models"
	"github.com/rs/zerolog/log"
)

// ReasoningClient is the boundary each pipeline agent calls into.
type ReasoningClient = reasoning.Client

// ── Coordinator ──────────────────────────────────────────────

const coordinatorPrompt = `You are a classification coordinator for a document analysis pipeline.
Classify the submitted input and plan which specialists should handle it.
Respond with JSON only: {"input_kind": "<document|codebase|other>", "plan": ["<agent>", ...]}`

// Coordinator classifies the input kind and plans delegation. Its output is
// informational: downstream agents do not depend on it, so it runs
// concurrently with them.
type Coordinator struct {
	client ReasoningClient
}

func NewCoordinator(client ReasoningClient) *Coordinator {
	return &Coordinator{client: client}
}

func (a *Coordinator) Descriptor() models.AgentDescriptor {
	return models.AgentDescriptor{
		Name:         NameCoordinator,
		Dependencies: []string{},
		Capability:   "classification",
	}
}

func (a *Coordinator) Execute(ctx context.Context, in *ExecInput) (map[string]any, error) {
	raw, err := a.client.Complete(ctx, coordinatorPrompt, "Content type hint: "+in.ContentType+"\n\n"+in.Content)
	if err != nil {
		return nil, err
	}

	classification, err := parseJSONBlock(raw)
	if err != nil {
		// A malformed classification is not worth failing the run over;
		// fall back to the client's declared content type.
		log.Warn().Str("agent", NameCoordinator).Err(err).Msg("Unparseable classification, using declared content type")
		classification = map[string]any{"input_kind": in.ContentType}
	}

	notify(in.Bus, models.Message{
		Sender:    NameCoordinator,
		Recipient: models.Broadcast,
		Type:      "task-delegation",
		Payload:   classification,
	})
	return classification, nil
}

// ── Summarizer ───────────────────────────────────────────────

const summarizerPrompt = `You are a summarization specialist.
Produce a concise summary (3-6 sentences) of the submitted content.
For source code, describe what the code does. Respond with the summary text only.`

// Summarizer produces a natural-language summary of the input.
type Summarizer struct {
	client ReasoningClient
}

func NewSummarizer(client ReasoningClient) *Summarizer {
	return &Summarizer{client: client}
}

func (a *Summarizer) Descriptor() models.AgentDescriptor {
	return models.AgentDescriptor{
		Name:         NameSummarizer,
		Dependencies: []string{},
		Capability:   "summarization",
	}
}

func (a *Summarizer) Execute(ctx context.Context, in *ExecInput) (map[string]any, error) {
	summary, err := a.client.Complete(ctx, summarizerPrompt, in.Content)
	if err != nil {
		return nil, err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, &FailureError{Agent: NameSummarizer, Reason: "empty summary"}
	}

	notify(in.Bus, models.Message{
		Sender:    NameSummarizer,
		Recipient: NameVisualizer,
		Type:      "result-ready",
		Payload:   map[string]any{"length": len(summary)},
	})
	return map[string]any{"summary": summary}, nil
}

// ── Extractor ────────────────────────────────────────────────

const extractorPrompt = `You are an entity and relationship extraction specialist.
Extract the key entities and the relationships between them from the submitted content.
Respond with JSON only:
{"entities": [{"name": "...", "kind": "..."}], "relationships": [{"from": "...", "to": "...", "kind": "..."}]}`

// Extractor pulls entities and relationships out of the input.
type Extractor struct {
	client ReasoningClient
}

func NewExtractor(client ReasoningClient) *Extractor {
	return &Extractor{client: client}
}

func (a *Extractor) Descriptor() models.AgentDescriptor {
	return models.AgentDescriptor{
		Name:         NameExtractor,
		Dependencies: []string{},
		Capability:   "extraction",
	}
}

func (a *Extractor) Execute(ctx context.Context, in *ExecInput) (map[string]any, error) {
	raw, err := a.client.Complete(ctx, extractorPrompt, in.Content)
	if err != nil {
		return nil, err
	}

	out, err := parseJSONBlock(raw)
	if err != nil {
		return nil, &FailureError{Agent: NameExtractor, Reason: "unparseable extraction: " + err.Error()}
	}
	if _, ok := out["entities"]; !ok {
		return nil, &FailureError{Agent: NameExtractor, Reason: "extraction missing entities"}
	}

	count := 0
	if list, ok := out["entities"].([]any); ok {
		count = len(list)
	}
	notify(in.Bus, models.Message{
		Sender:    NameExtractor,
		Recipient: NameVisualizer,
		Type:      "entities-discovered",
		Payload:   map[string]any{"count": count},
	})
	return out, nil
}

// ── Visualizer ───────────────────────────────────────────────

const visualizerPrompt = `You are a graph visualization builder.
Given extracted entities and relationships (and optionally a summary), build a node-edge graph
suitable for rendering. Respond with JSON only:
{"nodes": [{"id": "...", "label": "...", "kind": "..."}], "edges": [{"from": "...", "to": "...", "label": "..."}]}`

// Visualizer turns the extractor's entities (and the summarizer's text)
// into renderable graph data. It is the only agent with hard dependencies.
type Visualizer struct {
	client ReasoningClient
}

func NewVisualizer(client ReasoningClient) *Visualizer {
	return &Visualizer{client: client}
}

func (a *Visualizer) Descriptor() models.AgentDescriptor {
	return models.AgentDescriptor{
		Name:         NameVisualizer,
		Dependencies: []string{NameExtractor, NameSummarizer},
		Capability:   "visualization",
	}
}

func (a *Visualizer) Execute(ctx context.Context, in *ExecInput) (map[string]any, error) {
	extracted, ok := in.Upstream[NameExtractor]
	if !ok {
		return nil, &FailureError{Agent: NameVisualizer, Reason: "extractor output unavailable"}
	}

	var sb strings.Builder
	data, err := json.Marshal(extracted)
	if err != nil {
		return nil, fmt.Errorf("marshal extractor output: %w", err)
	}
	sb.WriteString("Extracted data:\n")
	sb.Write(data)
	if up, ok := in.Upstream[NameSummarizer]; ok {
		if summary, ok := up["summary"].(string); ok {
			sb.WriteString("\n\nSummary:\n")
			sb.WriteString(summary)
		}
	}

	raw, err := a.client.Complete(ctx, visualizerPrompt, sb.String())
	if err != nil {
		return nil, err
	}

	out, err := parseJSONBlock(raw)
	if err != nil {
		return nil, &FailureError{Agent: NameVisualizer, Reason: "unparseable graph: " + err.Error()}
	}
	if _, ok := out["nodes"]; !ok {
		return nil, &FailureError{Agent: NameVisualizer, Reason: "graph missing nodes"}
	}
	return out, nil
}

// ── Helpers ──────────────────────────────────────────────────

// notify sends an advisory message, swallowing errors: the bus is never
// load-bearing for pipeline correctness.
func notify(bus protocol.Sender, msg models.Message) {
	if bus == nil {
		return
	}
	if err := bus.Send(msg); err != nil {
		log.Debug().Str("sender", msg.Sender).Str("type", msg.Type).Err(err).Msg("Advisory send failed")
	}
}

// parseJSONBlock extracts the first JSON object from a model response,
// tolerating markdown code fences and surrounding prose.
func parseJSONBlock(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode JSON block: %w", err)
	}
	return out, nil
}
