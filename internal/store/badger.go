// Badger-backed Store implementation.
// BadgerDB gives low-latency embedded persistence with native key TTL, which
// maps directly onto the knowledge-cache expiry model.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/doculens/doculens/pkg/models"
	"github.com/rs/zerolog/log"
)

// Key prefixes for the three logical collections.
const (
	prefixSession  = "session/"
	prefixCache    = "cache/"
	prefixAgentCtx = "agentctx/"
)

// BadgerStore implements Store on top of an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any)   { log.Error().Msgf(format, args...) }
func (badgerLogger) Warningf(format string, args ...any) { log.Warn().Msgf(format, args...) }
func (badgerLogger) Infof(format string, args ...any)    { log.Debug().Msgf(format, args...) }
func (badgerLogger) Debugf(format string, args ...any)   { log.Debug().Msgf(format, args...) }

// NewBadgerStore opens (or creates) a Badger database in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{}).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// ── Sessions ─────────────────────────────────────────────────

func (b *BadgerStore) CreateSession(_ context.Context, session *models.Session) error {
	return b.setJSON(prefixSession+session.ID, session, 0)
}

func (b *BadgerStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	var s models.Session
	if err := b.getJSON(prefixSession+id, &s); err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, &ErrNotFound{Entity: "session", Key: id}
		}
		return nil, err
	}
	return &s, nil
}

func (b *BadgerStore) UpdateSession(_ context.Context, session *models.Session) error {
	key := prefixSession + session.ID
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == badger.ErrKeyNotFound {
			return &ErrNotFound{Entity: "session", Key: session.ID}
		} else if err != nil {
			return err
		}
		session.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		return txn.Set([]byte(key), data)
	})
}

func (b *BadgerStore) ListSessions(_ context.Context, limit int) ([]models.Session, error) {
	var result []models.Session
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSession)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var s models.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return err
			}
			result = append(result, s)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	})
	return result, err
}

// ── Knowledge cache ──────────────────────────────────────────

func (b *BadgerStore) GetCacheEntry(_ context.Context, fingerprint string) (*models.CacheEntry, error) {
	var e models.CacheEntry
	if err := b.getJSON(prefixCache+fingerprint, &e); err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, &ErrNotFound{Entity: "cache entry", Key: fingerprint}
		}
		return nil, err
	}
	return &e, nil
}

func (b *BadgerStore) PutCacheEntry(_ context.Context, entry *models.CacheEntry) error {
	// Badger's key TTL doubles as a lazy janitor; the cache layer still
	// checks ExpiresAt so a not-yet-collected key behaves as a miss.
	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	return b.setJSON(prefixCache+entry.Fingerprint, entry, ttl)
}

// ── Agent context ────────────────────────────────────────────

func (b *BadgerStore) AppendAgentOutput(_ context.Context, sessionID, agent string, output map[string]any) error {
	key := prefixAgentCtx + sessionID
	return b.db.Update(func(txn *badger.Txn) error {
		ac := models.AgentContext{
			SessionID: sessionID,
			Outputs:   make(map[string]map[string]any),
		}
		item, err := txn.Get([]byte(key))
		switch err {
		case nil:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ac)
			}); err != nil {
				return err
			}
		case badger.ErrKeyNotFound:
			// first agent output for this session
		default:
			return err
		}

		if ac.Outputs == nil {
			ac.Outputs = make(map[string]map[string]any)
		}
		ac.Outputs[agent] = output
		ac.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&ac)
		if err != nil {
			return fmt.Errorf("marshal agent context: %w", err)
		}
		return txn.Set([]byte(key), data)
	})
}

func (b *BadgerStore) GetAgentContext(_ context.Context, sessionID string) (*models.AgentContext, error) {
	var ac models.AgentContext
	if err := b.getJSON(prefixAgentCtx+sessionID, &ac); err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, &ErrNotFound{Entity: "agent context", Key: sessionID}
		}
		return nil, err
	}
	return &ac, nil
}

// ── Lifecycle ────────────────────────────────────────────────

func (b *BadgerStore) Ping(_ context.Context) error {
	if b.db.IsClosed() {
		return fmt.Errorf("badger db is closed")
	}
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// ── JSON helpers ─────────────────────────────────────────────

func (b *BadgerStore) setJSON(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (b *BadgerStore) getJSON(key string, v any) error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}
