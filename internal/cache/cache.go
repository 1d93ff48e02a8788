// Package cache implements the content-addressed knowledge cache: workflow
// results keyed by a deterministic fingerprint of the input, bounded by a
// TTL.
//
// Cache unavailability degrades gracefully: every lookup behaves as a miss
// and every store is a silent no-op, so the pipeline keeps working without
// it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/doculens/doculens/internal/store"
	"github.com/doculens/doculens/pkg/models"
	"github.com/rs/zerolog/log"
)

// Knowledge is the TTL-bounded result cache consulted before running agents.
type Knowledge struct {
	store store.Store
	ttl   time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates a knowledge cache with the given default TTL.
func New(s store.Store, ttl time.Duration) *Knowledge {
	return &Knowledge{store: s, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Fingerprint computes the deterministic cache key: SHA-256 over the
// normalized input bytes concatenated with the content-type tag. Identical
// content under a different declared type yields a different key.
func Fingerprint(content, contentType string) string {
	normalized := normalize(content)
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(contentType))
	return hex.EncodeToString(h.Sum(nil))
}

// normalize canonicalizes line endings and strips outer whitespace so
// trivially re-encoded submissions hash identically.
func normalize(content string) string {
	s := strings.ReplaceAll(content, "\r\n", "\n")
	return strings.TrimSpace(s)
}

// Lookup returns the cached entry for a fingerprint, or nil on a miss.
// Expired entries count as a miss and are left for the store's TTL janitor;
// store errors also count as a miss.
func (k *Knowledge) Lookup(ctx context.Context, fingerprint string) *models.CacheEntry {
	entry, err := k.store.GetCacheEntry(ctx, fingerprint)
	if err != nil {
		if !store.IsNotFound(err) {
			log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Cache lookup failed, treating as miss")
		}
		return nil
	}
	if entry.Expired(k.now()) {
		return nil
	}
	return entry
}

// Store records a workflow result under its fingerprint with the default
// TTL. Concurrent identical runs may both store; last write wins, which is
// acceptable because results for identical input are equivalent.
func (k *Knowledge) Store(ctx context.Context, fingerprint string, result *models.WorkflowResult) {
	now := k.now()
	entry := &models.CacheEntry{
		Fingerprint: fingerprint,
		Result:      result,
		CreatedAt:   now,
		ExpiresAt:   now.Add(k.ttl),
	}
	if err := k.store.PutCacheEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Cache store failed, result not cached")
	}
}

// RecordHit bumps the hit counter for a fingerprint. Best effort.
func (k *Knowledge) RecordHit(ctx context.Context, fingerprint string) {
	entry, err := k.store.GetCacheEntry(ctx, fingerprint)
	if err != nil {
		return
	}
	entry.HitCount++
	if err := k.store.PutCacheEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Cache hit count not recorded")
	}
}
