// Package store provides the durable-store boundary for the DocuLens engine.
// Three logical collections back the workflow: sessions, knowledge_cache,
// and agent_context. Two implementations exist: in-memory (tests, local dev)
// and Badger-backed (persistent).
package store

import (
	"context"

	"github.com/doculens/doculens/pkg/models"
)

// Store is the primary storage interface. All service code depends on this
// interface, making it easy to swap between in-memory (tests) and Badger
// (production) implementations.
type Store interface {
	SessionStore
	CacheStore
	AgentContextStore

	// Ping checks whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Sessions collection ──────────────────────────────────────

// SessionStore persists per-run Session records keyed by session ID.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)
}

// ── Knowledge cache collection ───────────────────────────────

// CacheStore persists content-addressed workflow results keyed by fingerprint.
// TTL semantics live one layer up, in the cache package; the store only holds
// and returns entries.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, fingerprint string) (*models.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error
}

// ── Agent context collection ─────────────────────────────────

// AgentContextStore accumulates raw agent outputs per session for
// debugging and audit.
type AgentContextStore interface {
	AppendAgentOutput(ctx context.Context, sessionID, agent string, output map[string]any) error
	GetAgentContext(ctx context.Context, sessionID string) (*models.AgentContext, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
