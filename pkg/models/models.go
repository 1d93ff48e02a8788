// Package models defines the shared domain types for the DocuLens analysis
// engine: sessions, agent descriptors and execution records, inter-agent
// messages, cache entries, events, and the aggregated workflow result.
//
// These types are the wire shapes for both the HTTP API and the durable
// store, so field tags here are load-bearing.
package models

import (
	"time"
)

// ── Workflow Status ──────────────────────────────────────────

// WorkflowStatus is the lifecycle state of a Session.
type WorkflowStatus string

const (
	WorkflowPending            WorkflowStatus = "pending"
	WorkflowRunning            WorkflowStatus = "running"
	WorkflowCompleted          WorkflowStatus = "completed"
	WorkflowCompletedFromCache WorkflowStatus = "completed_from_cache"
	WorkflowFailed             WorkflowStatus = "failed"
)

// Terminal reports whether the workflow has finished.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowCompletedFromCache, WorkflowFailed:
		return true
	}
	return false
}

// ── Agent Status ─────────────────────────────────────────────

// AgentStatus is the lifecycle state of one agent within one session run.
// Transitions are monotonic: idle → queued → processing → {done | error}.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentQueued     AgentStatus = "queued"
	AgentProcessing AgentStatus = "processing"
	AgentDone       AgentStatus = "done"
	AgentError      AgentStatus = "error"
)

// agentStatusRank orders statuses along the legal transition path.
var agentStatusRank = map[AgentStatus]int{
	AgentIdle:       0,
	AgentQueued:     1,
	AgentProcessing: 2,
	AgentDone:       3,
	AgentError:      3,
}

// Terminal reports whether the agent has finished (done or error).
func (s AgentStatus) Terminal() bool {
	return s == AgentDone || s == AgentError
}

// CanTransition reports whether moving from s to next respects the monotonic
// transition order. An agent never re-enters an earlier state and never
// leaves a terminal state.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	if s.Terminal() {
		return false
	}
	return agentStatusRank[next] > agentStatusRank[s]
}

// ── Agent Descriptor ─────────────────────────────────────────

// AgentDescriptor is the static registration record for one agent type.
// Descriptors are created once at process start and never mutated.
type AgentDescriptor struct {
	// Name uniquely identifies the agent within the registry.
	Name string `json:"name"`

	// Dependencies lists agent names that must reach a terminal state
	// before this agent may start.
	Dependencies []string `json:"dependencies"`

	// Capability describes the kind of work the agent performs,
	// e.g. "classification", "summarization".
	Capability string `json:"capability"`
}

// ── Agent Execution Record ───────────────────────────────────

// FailureReasonUpstream marks an agent that was never executed because one
// of its (transitive) dependencies ended in error.
const FailureReasonUpstream = "upstream_failure"

// AgentExecutionRecord tracks one agent's execution within one session.
// It is mutated only by the orchestrator running that agent and is terminal
// once Status is done or error.
type AgentExecutionRecord struct {
	Status     AgentStatus    `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ── Session ──────────────────────────────────────────────────

// Session is the unit-of-work record for one submitted document.
// It is owned exclusively by the orchestrator for the lifetime of one run
// and persisted so a crashed run remains observable. Sessions are never
// deleted automatically; retention is an external concern.
type Session struct {
	ID               string                           `json:"session_id"`
	CreatedAt        time.Time                        `json:"created_at"`
	UpdatedAt        time.Time                        `json:"updated_at"`
	InputFingerprint string                           `json:"input_fingerprint"`
	ContentType      string                           `json:"content_type"`
	WorkflowStatus   WorkflowStatus                   `json:"workflow_status"`
	AgentStates      map[string]*AgentExecutionRecord `json:"agent_states"`
	Error            string                           `json:"error,omitempty"`
}

// ── Cache Entry ──────────────────────────────────────────────

// CacheEntry is a content-addressed record of a previously computed
// workflow result. Expired entries are treated as a miss, not deleted
// eagerly.
type CacheEntry struct {
	Fingerprint string          `json:"content_fingerprint"`
	Result      *WorkflowResult `json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	HitCount    int64           `json:"hit_count"`
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// ── Message (advisory A2A) ───────────────────────────────────

// Broadcast is the sentinel recipient that addresses every registered agent.
const Broadcast = "*"

// Message is an immutable advisory notification exchanged between agents.
// Messages are write-once and never load-bearing for scheduling correctness;
// the dependency graph is the sole source of truth for execution order.
type Message struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ── Event ────────────────────────────────────────────────────

// EventStatus is the wire status carried on a stream event.
type EventStatus string

const (
	EventQueued     EventStatus = "queued"
	EventProcessing EventStatus = "processing"
	EventComplete   EventStatus = "complete"
	EventError      EventStatus = "error"
)

// EventStatusFor maps an agent status to its wire event status.
func EventStatusFor(s AgentStatus) EventStatus {
	switch s {
	case AgentQueued:
		return EventQueued
	case AgentProcessing:
		return EventProcessing
	case AgentDone:
		return EventComplete
	default:
		return EventError
	}
}

// Event is an immutable, append-only notification of an agent's state
// transition, delivered to live subscribers of a session.
type Event struct {
	ID        string         `json:"id"`
	Agent     string         `json:"agent"`
	Status    EventStatus    `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ── Workflow Result ──────────────────────────────────────────

// AgentOutcome summarizes one agent's terminal state for the result payload.
type AgentOutcome struct {
	Agent      string      `json:"agent"`
	Status     AgentStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
}

// WorkflowResult is the aggregated output of one workflow run. It is what
// the submission endpoint returns and what the knowledge cache stores.
type WorkflowResult struct {
	SessionID      string         `json:"session_id"`
	Status         WorkflowStatus `json:"workflow_status"`
	Fingerprint    string         `json:"content_fingerprint"`
	Classification map[string]any `json:"classification,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Entities       map[string]any `json:"entities,omitempty"`
	Graph          map[string]any `json:"graph,omitempty"`
	Outcomes       []AgentOutcome `json:"agent_outcomes"`
	FromCache      bool           `json:"from_cache"`
	DurationMs     int64          `json:"duration_ms"`
}

// ── Agent Context ────────────────────────────────────────────

// AgentContext accumulates the raw output of every agent that completed in a
// session, for debugging and audit. Updated incrementally as agents finish.
type AgentContext struct {
	SessionID string                    `json:"session_id"`
	Outputs   map[string]map[string]any `json:"outputs"`
	UpdatedAt time.Time                 `json:"updated_at"`
}
