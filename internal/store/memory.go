// In-memory Store implementation.
// Used in tests and when no data directory is configured.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/doculens/doculens/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session      // key: session ID
	cache    map[string]*models.CacheEntry   // key: content fingerprint
	contexts map[string]*models.AgentContext // key: session ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		cache:    make(map[string]*models.CacheEntry),
		contexts: make(map[string]*models.AgentContext),
	}
}

// ── Sessions ─────────────────────────────────────────────────

func (m *MemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return &ErrNotFound{Entity: "session", Key: session.ID}
	}
	c := cloneSession(session)
	c.UpdatedAt = time.Now().UTC()
	m.sessions[session.ID] = c
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, limit int) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, *cloneSession(s))
	}
	// Newest first
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ── Knowledge cache ──────────────────────────────────────────

func (m *MemoryStore) GetCacheEntry(_ context.Context, fingerprint string) (*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.cache[fingerprint]
	if !ok {
		return nil, &ErrNotFound{Entity: "cache entry", Key: fingerprint}
	}
	clone := *e
	return &clone, nil
}

func (m *MemoryStore) PutCacheEntry(_ context.Context, entry *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *entry
	m.cache[entry.Fingerprint] = &clone
	return nil
}

// ── Agent context ────────────────────────────────────────────

func (m *MemoryStore) AppendAgentOutput(_ context.Context, sessionID, agent string, output map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ac, ok := m.contexts[sessionID]
	if !ok {
		ac = &models.AgentContext{
			SessionID: sessionID,
			Outputs:   make(map[string]map[string]any),
		}
		m.contexts[sessionID] = ac
	}
	ac.Outputs[agent] = output
	ac.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) GetAgentContext(_ context.Context, sessionID string) (*models.AgentContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ac, ok := m.contexts[sessionID]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent context", Key: sessionID}
	}
	clone := *ac
	return &clone, nil
}

// ── Lifecycle ────────────────────────────────────────────────

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// cloneSession deep-copies a session via JSON round-trip so concurrent
// readers never observe orchestrator mutations in flight. Sessions are small,
// so the cost is negligible.
func cloneSession(s *models.Session) *models.Session {
	data, err := json.Marshal(s)
	if err != nil {
		clone := *s
		return &clone
	}
	var out models.Session
	if err := json.Unmarshal(data, &out); err != nil {
		clone := *s
		return &clone
	}
	return &out
}
