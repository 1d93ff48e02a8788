package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/doculens/doculens/internal/store"
	"github.com/doculens/doculens/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Sessions ────────────────────────────────────────────────

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.Session{
		ID:               "sess-1",
		CreatedAt:        time.Now().UTC(),
		InputFingerprint: "abc123",
		ContentType:      "document",
		WorkflowStatus:   models.WorkflowPending,
		AgentStates:      map[string]*models.AgentExecutionRecord{},
	}

	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.InputFingerprint != "abc123" {
		t.Errorf("GetSession().InputFingerprint = %q, want %q", got.InputFingerprint, "abc123")
	}
	if got.WorkflowStatus != models.WorkflowPending {
		t.Errorf("GetSession().WorkflowStatus = %q, want %q", got.WorkflowStatus, models.WorkflowPending)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	if err == nil {
		t.Fatal("GetSession() expected error for missing session")
	}
	if !store.IsNotFound(err) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateSession_BumpsTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Add(-time.Hour)
	sess := &models.Session{
		ID:             "sess-2",
		CreatedAt:      created,
		UpdatedAt:      created,
		WorkflowStatus: models.WorkflowRunning,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	sess.WorkflowStatus = models.WorkflowCompleted
	if err := s.UpdateSession(ctx, sess); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	got, _ := s.GetSession(ctx, "sess-2")
	if got.WorkflowStatus != models.WorkflowCompleted {
		t.Errorf("WorkflowStatus = %q, want %q", got.WorkflowStatus, models.WorkflowCompleted)
	}
	if !got.UpdatedAt.After(created) {
		t.Errorf("UpdatedAt = %v, want later than %v", got.UpdatedAt, created)
	}
}

func TestUpdateSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateSession(context.Background(), &models.Session{ID: "ghost"})
	if !store.IsNotFound(err) {
		t.Errorf("UpdateSession() error = %v, want ErrNotFound", err)
	}
}

func TestGetSession_ReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.Session{
		ID: "sess-3",
		AgentStates: map[string]*models.AgentExecutionRecord{
			"summarizer": {Status: models.AgentIdle},
		},
	}
	s.CreateSession(ctx, sess)

	got, _ := s.GetSession(ctx, "sess-3")
	got.AgentStates["summarizer"].Status = models.AgentDone

	again, _ := s.GetSession(ctx, "sess-3")
	if again.AgentStates["summarizer"].Status != models.AgentIdle {
		t.Error("mutating a returned session leaked into the store")
	}
}

func TestListSessions_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		s.CreateSession(ctx, &models.Session{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	got, err := s.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListSessions() returned %d sessions, want 2", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("ListSessions() order = [%s %s], want [c b]", got[0].ID, got[1].ID)
	}
}

// ─── Knowledge cache ─────────────────────────────────────────

func TestCacheEntry_PutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := &models.CacheEntry{
		Fingerprint: "fp-1",
		Result:      &models.WorkflowResult{Summary: "a summary"},
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	if err := s.PutCacheEntry(ctx, entry); err != nil {
		t.Fatalf("PutCacheEntry() error = %v", err)
	}

	got, err := s.GetCacheEntry(ctx, "fp-1")
	if err != nil {
		t.Fatalf("GetCacheEntry() error = %v", err)
	}
	if got.Result.Summary != "a summary" {
		t.Errorf("Result.Summary = %q, want %q", got.Result.Summary, "a summary")
	}
}

func TestCacheEntry_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCacheEntry(context.Background(), "nope")
	if !store.IsNotFound(err) {
		t.Errorf("GetCacheEntry() error = %v, want ErrNotFound", err)
	}
}

func TestCacheEntry_OverwriteLastWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.PutCacheEntry(ctx, &models.CacheEntry{Fingerprint: "fp-2", Result: &models.WorkflowResult{Summary: "first"}})
	s.PutCacheEntry(ctx, &models.CacheEntry{Fingerprint: "fp-2", Result: &models.WorkflowResult{Summary: "second"}})

	got, _ := s.GetCacheEntry(ctx, "fp-2")
	if got.Result.Summary != "second" {
		t.Errorf("Result.Summary = %q, want %q (last write wins)", got.Result.Summary, "second")
	}
}

// ─── Agent context ───────────────────────────────────────────

func TestAppendAgentOutput_Incremental(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendAgentOutput(ctx, "sess-9", "summarizer", map[string]any{"summary": "hi"}); err != nil {
		t.Fatalf("AppendAgentOutput() error = %v", err)
	}
	if err := s.AppendAgentOutput(ctx, "sess-9", "extractor", map[string]any{"entities": []string{"x"}}); err != nil {
		t.Fatalf("AppendAgentOutput() error = %v", err)
	}

	ac, err := s.GetAgentContext(ctx, "sess-9")
	if err != nil {
		t.Fatalf("GetAgentContext() error = %v", err)
	}
	if len(ac.Outputs) != 2 {
		t.Errorf("len(Outputs) = %d, want 2", len(ac.Outputs))
	}
	if ac.Outputs["summarizer"]["summary"] != "hi" {
		t.Errorf("Outputs[summarizer] = %v, want summary=hi", ac.Outputs["summarizer"])
	}
}
