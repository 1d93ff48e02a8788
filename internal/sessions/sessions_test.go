package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/doculens/doculens/internal/store"
	"github.com/doculens/doculens/pkg/models"
)

// brokenStore simulates an unreachable durable store.
type brokenStore struct{}

var errDown = errors.New("store unreachable")

func (brokenStore) CreateSession(context.Context, *models.Session) error { return errDown }
func (brokenStore) GetSession(context.Context, string) (*models.Session, error) {
	return nil, errDown
}
func (brokenStore) UpdateSession(context.Context, *models.Session) error { return errDown }
func (brokenStore) ListSessions(context.Context, int) ([]models.Session, error) {
	return nil, errDown
}
func (brokenStore) GetCacheEntry(context.Context, string) (*models.CacheEntry, error) {
	return nil, errDown
}
func (brokenStore) PutCacheEntry(context.Context, *models.CacheEntry) error { return errDown }
func (brokenStore) AppendAgentOutput(context.Context, string, string, map[string]any) error {
	return errDown
}
func (brokenStore) GetAgentContext(context.Context, string) (*models.AgentContext, error) {
	return nil, errDown
}
func (brokenStore) Ping(context.Context) error { return errDown }
func (brokenStore) Close() error               { return nil }

func TestService_WritesNeverPanicOrThrowWhenStoreDown(t *testing.T) {
	svc := NewService(brokenStore{})
	ctx := context.Background()

	sess := svc.Create(ctx, &models.Session{ID: "s1", WorkflowStatus: models.WorkflowPending})
	if sess == nil {
		t.Fatal("Create() returned nil session on store failure")
	}

	svc.UpdateStatus(ctx, sess, models.WorkflowRunning)
	if sess.WorkflowStatus != models.WorkflowRunning {
		t.Errorf("in-memory status = %q, want running", sess.WorkflowStatus)
	}

	svc.UpdateAgentState(ctx, sess, "summarizer", &models.AgentExecutionRecord{Status: models.AgentDone})
	if sess.AgentStates["summarizer"].Status != models.AgentDone {
		t.Error("in-memory agent state not updated on store failure")
	}

	svc.AppendAgentOutput(ctx, "s1", "summarizer", map[string]any{"summary": "x"})
}

func TestService_RoundTrip(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()

	sess := svc.Create(ctx, &models.Session{ID: "s2", WorkflowStatus: models.WorkflowPending})
	svc.UpdateStatus(ctx, sess, models.WorkflowCompleted)
	svc.UpdateAgentState(ctx, sess, "extractor", &models.AgentExecutionRecord{Status: models.AgentError, Error: "boom"})

	got, err := svc.Get(ctx, "s2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.WorkflowStatus != models.WorkflowCompleted {
		t.Errorf("WorkflowStatus = %q, want completed", got.WorkflowStatus)
	}
	if got.AgentStates["extractor"].Error != "boom" {
		t.Errorf("agent error = %q, want boom", got.AgentStates["extractor"].Error)
	}
}

func TestService_UpdateStatusIdempotent(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()

	sess := svc.Create(ctx, &models.Session{ID: "s3"})
	svc.UpdateStatus(ctx, sess, models.WorkflowRunning)
	svc.UpdateStatus(ctx, sess, models.WorkflowRunning)

	got, _ := svc.Get(ctx, "s3")
	if got.WorkflowStatus != models.WorkflowRunning {
		t.Errorf("WorkflowStatus = %q, want running", got.WorkflowStatus)
	}
}
