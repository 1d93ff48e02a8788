// Package workflow implements the analysis orchestration engine.
//
// The engine runs a submitted document through the registered agent DAG:
//  1. Open a Session, compute the content fingerprint
//  2. Consult the knowledge cache; a hit short-circuits the whole run
//  3. On a miss, execute agents in dependency order; independent agents
//     run concurrently, bounded by a per-session semaphore
//  4. Publish a lifecycle event after every agent state transition
//  5. Aggregate outputs, apply the result policy, cache and finalize
//
// A single agent's failure never aborts independent branches; agents that
// transitively depend on a failed agent are skipped with an upstream-failure
// error and their Execute is never invoked.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/doculens/doculens/internal/agents"
	"github.com/doculens/doculens/internal/cache"
	"github.com/doculens/doculens/internal/config"
	"github.com/doculens/doculens/internal/events"
	"github.com/doculens/doculens/internal/protocol"
	"github.com/doculens/doculens/internal/sessions"
	"github.com/doculens/doculens/pkg/models"
)

var tracer = otel.Tracer("doculens-engine")

// ErrUnusableResult is returned when the aggregation policy rejects the
// run's combined output (for example, every agent failed).
var ErrUnusableResult = errors.New("workflow produced no usable result")

// Engine orchestrates agent execution for one session at a time per run.
type Engine struct {
	registry *agents.Registry
	sessions *sessions.Service
	cache    *cache.Knowledge
	emitter  *events.Emitter
	cfg      config.WorkflowConfig

	// policy decides whether the aggregate output counts as usable.
	policy *vm.Program
}

// NewEngine creates the orchestrator. The result policy expression is
// compiled here so a bad policy fails at startup, and the registry has
// already rejected cyclic dependency graphs at registration.
func NewEngine(reg *agents.Registry, sess *sessions.Service, know *cache.Knowledge, em *events.Emitter, cfg config.WorkflowConfig) (*Engine, error) {
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = 3
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 90 * time.Second
	}

	program, err := expr.Compile(cfg.ResultPolicy, expr.Env(policyEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile result policy %q: %w", cfg.ResultPolicy, err)
	}

	return &Engine{
		registry: reg,
		sessions: sess,
		cache:    know,
		emitter:  em,
		cfg:      cfg,
		policy:   program,
	}, nil
}

// policyEnv is the identifier set available to result-policy expressions.
// Each field is true when the corresponding agent produced output.
type policyEnv struct {
	Classification bool `expr:"classification"`
	Summary        bool `expr:"summary"`
	Entities       bool `expr:"entities"`
	Graph          bool `expr:"graph"`
}

// Registry exposes the agent registry for the status endpoint.
func (e *Engine) Registry() *agents.Registry { return e.registry }

// Run executes a workflow synchronously and returns the aggregated result.
// The execution context is detached from the caller's: a client disconnect
// lets in-flight agents run to completion so their output is still cached.
func (e *Engine) Run(ctx context.Context, content, contentType string) (*models.WorkflowResult, error) {
	sess := e.openSession(ctx, content, contentType)
	return e.execute(context.WithoutCancel(ctx), sess, content, contentType)
}

// Start launches a workflow in the background and returns its session ID
// immediately. Clients follow progress on the session's event stream.
func (e *Engine) Start(ctx context.Context, content, contentType string) string {
	sess := e.openSession(ctx, content, contentType)
	go func() {
		if _, err := e.execute(context.Background(), sess, content, contentType); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("Background workflow ended without usable result")
		}
	}()
	return sess.ID
}

// openSession creates the session record with every agent idle.
func (e *Engine) openSession(ctx context.Context, content, contentType string) *models.Session {
	states := make(map[string]*models.AgentExecutionRecord, len(e.registry.Order()))
	for _, name := range e.registry.Order() {
		states[name] = &models.AgentExecutionRecord{Status: models.AgentIdle}
	}
	sess := &models.Session{
		ID:               uuid.New().String(),
		InputFingerprint: cache.Fingerprint(content, contentType),
		ContentType:      contentType,
		WorkflowStatus:   models.WorkflowPending,
		AgentStates:      states,
	}
	return e.sessions.Create(ctx, sess)
}

// ── Run Lifecycle ───────────────────────────────────────────

func (e *Engine) execute(ctx context.Context, sess *models.Session, content, contentType string) (*models.WorkflowResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.run")
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("content.type", contentType),
		attribute.String("content.fingerprint", sess.InputFingerprint),
	)
	defer span.End()
	defer e.emitter.Finish(sess.ID)

	start := time.Now()
	e.sessions.UpdateStatus(ctx, sess, models.WorkflowRunning)

	log.Info().
		Str("session_id", sess.ID).
		Str("content_type", contentType).
		Int("agents", len(e.registry.Order())).
		Msg("🔍 Analysis started")

	if entry := e.cache.Lookup(ctx, sess.InputFingerprint); entry != nil {
		return e.completeFromCache(ctx, sess, entry, start), nil
	}

	outputs := e.runDAG(ctx, sess, content, contentType)
	return e.finalize(ctx, sess, outputs, start)
}

// completeFromCache serves a prior result and emits one synthetic COMPLETE
// event per agent, so clients observe a consistent terminal event stream
// regardless of cache hit or miss. No agent ever transitions to processing.
func (e *Engine) completeFromCache(ctx context.Context, sess *models.Session, entry *models.CacheEntry, start time.Time) *models.WorkflowResult {
	e.cache.RecordHit(ctx, sess.InputFingerprint)

	now := time.Now().UTC()
	for _, name := range e.registry.Order() {
		record := sess.AgentStates[name]
		record.Status = models.AgentDone
		record.StartedAt = &now
		record.FinishedAt = &now
		e.sessions.UpdateAgentState(ctx, sess, name, record)
		e.emitter.Publish(sess.ID, models.Event{
			ID:        uuid.New().String(),
			Agent:     name,
			Status:    models.EventComplete,
			Timestamp: now,
			Payload:   map[string]any{"from_cache": true},
		})
	}

	result := *entry.Result
	result.SessionID = sess.ID
	result.Status = models.WorkflowCompletedFromCache
	result.FromCache = true
	result.DurationMs = time.Since(start).Milliseconds()

	e.sessions.UpdateStatus(ctx, sess, models.WorkflowCompletedFromCache)

	log.Info().
		Str("session_id", sess.ID).
		Int64("hits", entry.HitCount+1).
		Msg("⚡ Served from knowledge cache")
	return &result
}

// ── DAG Execution ───────────────────────────────────────────

// runDAG executes the agent graph and returns the collected outputs.
// Ready agents (all dependencies terminal and done) run concurrently within
// a wave, bounded by the session semaphore. Agents with a failed dependency
// are resolved to error without ever executing.
func (e *Engine) runDAG(ctx context.Context, sess *models.Session, content, contentType string) map[string]map[string]any {
	bus := protocol.NewBus(e.registry.Names())
	defer bus.Close()

	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrentAgents))
	outputs := make(map[string]map[string]any)
	var mu sync.Mutex // guards outputs and session agent-state bookkeeping

	for {
		ready, skipped := e.resolveReady(sess)

		// Dependency failures resolve immediately, without execution.
		for _, name := range skipped {
			mu.Lock()
			e.resolveUpstreamFailure(ctx, sess, name)
			mu.Unlock()
		}

		if len(ready) == 0 {
			if e.allTerminal(sess) {
				break
			}
			if len(skipped) == 0 {
				// Unreachable for a registry-validated graph.
				log.Error().Str("session_id", sess.ID).Msg("No runnable agents but run incomplete, aborting")
				break
			}
			continue
		}

		var wg sync.WaitGroup
		for _, name := range ready {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				defer sem.Release(1)
				e.runAgent(ctx, bus, sess, name, content, contentType, outputs, &mu)
			}(name)
		}
		wg.Wait()
	}

	return outputs
}

// resolveReady partitions non-terminal agents into those whose dependencies
// all succeeded (ready to execute) and those with a failed dependency
// (skipped). Agents with pending dependencies stay untouched for a later
// wave.
func (e *Engine) resolveReady(sess *models.Session) (ready, skipped []string) {
	for _, name := range e.registry.Order() {
		record := sess.AgentStates[name]
		if record.Status != models.AgentIdle {
			continue
		}
		depsDone := true
		depsFailed := false
		for _, dep := range e.registry.Dependencies(name) {
			switch sess.AgentStates[dep].Status {
			case models.AgentDone:
			case models.AgentError:
				depsFailed = true
			default:
				depsDone = false
			}
		}
		switch {
		case depsFailed:
			skipped = append(skipped, name)
		case depsDone:
			ready = append(ready, name)
		}
	}
	return ready, skipped
}

func (e *Engine) allTerminal(sess *models.Session) bool {
	for _, name := range e.registry.Order() {
		if !sess.AgentStates[name].Status.Terminal() {
			return false
		}
	}
	return true
}

// resolveUpstreamFailure marks an agent as failed because a dependency
// failed. Its Execute is never invoked.
func (e *Engine) resolveUpstreamFailure(ctx context.Context, sess *models.Session, name string) {
	now := time.Now().UTC()
	record := sess.AgentStates[name]
	record.Status = models.AgentError
	record.Error = models.FailureReasonUpstream
	record.FinishedAt = &now
	e.sessions.UpdateAgentState(ctx, sess, name, record)
	e.emitter.Publish(sess.ID, models.Event{
		ID:        uuid.New().String(),
		Agent:     name,
		Status:    models.EventError,
		Timestamp: now,
		Payload:   map[string]any{"reason": models.FailureReasonUpstream},
	})

	log.Warn().
		Str("session_id", sess.ID).
		Str("agent", name).
		Msg("Agent skipped: upstream dependency failed")
}

// runAgent drives one agent through queued → processing → {done | error},
// emitting an event after each transition and persisting each state.
func (e *Engine) runAgent(ctx context.Context, bus *protocol.Bus, sess *models.Session, name, content, contentType string, outputs map[string]map[string]any, mu *sync.Mutex) {
	agent, ok := e.registry.Get(name)
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "workflow.agent")
	span.SetAttributes(
		attribute.String("agent.name", name),
		attribute.String("session.id", sess.ID),
	)
	defer span.End()

	mu.Lock()
	record := sess.AgentStates[name]
	e.transition(ctx, sess, name, record, models.AgentQueued, nil)

	start := time.Now().UTC()
	record.StartedAt = &start
	e.transition(ctx, sess, name, record, models.AgentProcessing, nil)

	in := &agents.ExecInput{
		SessionID:   sess.ID,
		Content:     content,
		ContentType: contentType,
		Upstream:    upstreamFor(e.registry.Dependencies(name), outputs),
		Bus:         bus,
		Inbox:       bus.Drain(name),
	}
	mu.Unlock()

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.AgentTimeout)
	defer cancel()

	out, err := agent.Execute(execCtx, in)
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && err != nil {
		err = &agents.FailureError{Agent: name, Reason: fmt.Sprintf("timed out after %s", e.cfg.AgentTimeout)}
	}

	now := time.Now().UTC()
	mu.Lock()
	defer mu.Unlock()
	record.FinishedAt = &now

	if err != nil {
		record.Error = err.Error()
		e.transition(ctx, sess, name, record, models.AgentError, map[string]any{"reason": err.Error()})
		log.Error().
			Str("session_id", sess.ID).
			Str("agent", name).
			Err(err).
			Msg("❌ Agent failed")
		return
	}

	record.Output = out
	outputs[name] = out
	e.transition(ctx, sess, name, record, models.AgentDone, out)
	e.sessions.AppendAgentOutput(ctx, sess.ID, name, out)

	log.Info().
		Str("session_id", sess.ID).
		Str("agent", name).
		Int64("duration_ms", now.Sub(start).Milliseconds()).
		Msg("✅ Agent completed")
}

// transition applies a guarded, monotonic status change and publishes the
// matching event. Callers hold the session mutex.
func (e *Engine) transition(ctx context.Context, sess *models.Session, name string, record *models.AgentExecutionRecord, next models.AgentStatus, payload map[string]any) {
	if !record.Status.CanTransition(next) {
		log.Error().
			Str("session_id", sess.ID).
			Str("agent", name).
			Str("from", string(record.Status)).
			Str("to", string(next)).
			Msg("Illegal agent status transition blocked")
		return
	}
	record.Status = next
	e.sessions.UpdateAgentState(ctx, sess, name, record)
	e.emitter.Publish(sess.ID, models.Event{
		ID:        uuid.New().String(),
		Agent:     name,
		Status:    models.EventStatusFor(next),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// upstreamFor copies the outputs of the declared dependencies only; an
// agent never sees outputs of agents outside its dependency set.
func upstreamFor(deps []string, outputs map[string]map[string]any) map[string]map[string]any {
	up := make(map[string]map[string]any, len(deps))
	for _, dep := range deps {
		if out, ok := outputs[dep]; ok {
			up[dep] = out
		}
	}
	return up
}

// ── Aggregation ─────────────────────────────────────────────

// finalize aggregates agent outputs into a WorkflowResult, applies the
// result policy, caches usable results, and settles the session status.
func (e *Engine) finalize(ctx context.Context, sess *models.Session, outputs map[string]map[string]any, start time.Time) (*models.WorkflowResult, error) {
	result := &models.WorkflowResult{
		SessionID:   sess.ID,
		Fingerprint: sess.InputFingerprint,
		DurationMs:  time.Since(start).Milliseconds(),
	}

	if out, ok := outputs[agents.NameCoordinator]; ok {
		result.Classification = out
	}
	if out, ok := outputs[agents.NameSummarizer]; ok {
		if summary, ok := out["summary"].(string); ok {
			result.Summary = summary
		}
	}
	if out, ok := outputs[agents.NameExtractor]; ok {
		result.Entities = out
	}
	if out, ok := outputs[agents.NameVisualizer]; ok {
		result.Graph = out
	}

	anyDone := false
	for _, name := range e.registry.Order() {
		record := sess.AgentStates[name]
		outcome := models.AgentOutcome{
			Agent:  name,
			Status: record.Status,
			Error:  record.Error,
		}
		if record.StartedAt != nil && record.FinishedAt != nil {
			outcome.DurationMs = record.FinishedAt.Sub(*record.StartedAt).Milliseconds()
		}
		result.Outcomes = append(result.Outcomes, outcome)
		if record.Status == models.AgentDone {
			anyDone = true
		}
	}

	usable := anyDone && e.usable(result)
	if !usable {
		result.Status = models.WorkflowFailed
		sess.Error = "aggregate result unusable"
		e.sessions.UpdateStatus(ctx, sess, models.WorkflowFailed)
		e.emitter.Publish(sess.ID, models.Event{
			ID:        uuid.New().String(),
			Agent:     "workflow",
			Status:    models.EventError,
			Timestamp: time.Now().UTC(),
			Payload:   map[string]any{"error": sess.Error},
		})
		log.Error().
			Str("session_id", sess.ID).
			Int64("duration_ms", result.DurationMs).
			Msg("💥 Analysis failed: no usable result")
		return result, ErrUnusableResult
	}

	result.Status = models.WorkflowCompleted
	e.cache.Store(ctx, sess.InputFingerprint, result)
	e.sessions.UpdateStatus(ctx, sess, models.WorkflowCompleted)

	log.Info().
		Str("session_id", sess.ID).
		Int64("duration_ms", result.DurationMs).
		Msg("🎉 Analysis completed")
	return result, nil
}

// usable evaluates the compiled result policy over which outputs are present.
func (e *Engine) usable(result *models.WorkflowResult) bool {
	env := policyEnv{
		Classification: result.Classification != nil,
		Summary:        result.Summary != "",
		Entities:       result.Entities != nil,
		Graph:          result.Graph != nil,
	}
	out, err := expr.Run(e.policy, env)
	if err != nil {
		log.Error().Err(err).Msg("Result policy evaluation failed, treating result as unusable")
		return false
	}
	ok, _ := out.(bool)
	return ok
}
