// Package sessions persists per-request Session metadata and per-agent
// execution state across a workflow's lifetime.
//
// Every operation degrades gracefully: if the durable store is unreachable
// the failure is logged and swallowed, and the workflow continues without
// durability rather than failing the user-visible request.
package sessions

import (
	"context"
	"time"

	"github.com/doculens/doculens/internal/store"
	"github.com/doculens/doculens/pkg/models"
	"github.com/rs/zerolog/log"
)

// Service wraps the sessions collection of the durable store.
type Service struct {
	store store.Store
}

// NewService creates a session service over the given store.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Create persists a new session record. Returns the session regardless of
// whether persistence succeeded.
func (s *Service) Create(ctx context.Context, session *models.Session) *models.Session {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.AgentStates == nil {
		session.AgentStates = make(map[string]*models.AgentExecutionRecord)
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("Session create not persisted, continuing without durability")
	}
	return session
}

// UpdateStatus sets the workflow status. Re-applying the same status is a
// no-op beyond the timestamp bump the store performs.
func (s *Service) UpdateStatus(ctx context.Context, session *models.Session, status models.WorkflowStatus) {
	session.WorkflowStatus = status
	session.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateSession(ctx, session); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Str("status", string(status)).Msg("Session status not persisted")
	}
}

// UpdateAgentState stores one agent's execution record on the session.
func (s *Service) UpdateAgentState(ctx context.Context, session *models.Session, agent string, record *models.AgentExecutionRecord) {
	session.AgentStates[agent] = record
	session.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateSession(ctx, session); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Str("agent", agent).Msg("Agent state not persisted")
	}
}

// AppendAgentOutput records an agent's raw output in the agent_context
// collection for debugging and audit.
func (s *Service) AppendAgentOutput(ctx context.Context, sessionID, agent string, output map[string]any) {
	if err := s.store.AppendAgentOutput(ctx, sessionID, agent, output); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Str("agent", agent).Msg("Agent output not persisted")
	}
}

// Get loads a session from the store. Unlike writes, reads surface their
// error: a caller asking for a session needs to know it is unavailable.
func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.store.GetSession(ctx, id)
}

// List returns recent sessions, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]models.Session, error) {
	return s.store.ListSessions(ctx, limit)
}
