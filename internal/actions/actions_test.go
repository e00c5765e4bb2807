package actions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fleetsentry/sentinel/internal/models"
)

type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*models.Action
}

func newFakeStore(a *models.Action) *fakeStore {
	return &fakeStore{rows: map[string]*models.Action{a.ID: a}}
}

func (s *fakeStore) GetAction(ctx context.Context, id string) (*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *fakeStore) UpdateAction(ctx context.Context, id string, expected models.ActionStatus, mutate func(*models.Action)) (*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if row.Status != expected {
		return nil, &ConflictError{ActionID: id, CurrentStatus: row.Status}
	}
	mutate(row)
	cp := *row
	return &cp, nil
}

type fakeExecutor struct {
	err error
}

func (e *fakeExecutor) Execute(ctx context.Context, a *models.Action) error { return e.err }

type fakeAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (f *fakeAudit) Log(ctx context.Context, entry AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	count int
}

func (f *fakeBroadcaster) BroadcastAction(a *models.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

func TestApprove_PendingToApproved(t *testing.T) {
	store := newFakeStore(&models.Action{ID: "a1", Status: models.ActionPending})
	audit := &fakeAudit{}
	bcast := &fakeBroadcaster{}
	svc := NewService(store, &fakeExecutor{}, audit, bcast)

	updated, err := svc.Approve(context.Background(), "a1", ActorContext{Username: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != models.ActionApproved {
		t.Fatalf("expected approved, got %s", updated.Status)
	}
	if updated.ApprovedBy != "alice" {
		t.Fatalf("expected ApprovedBy set, got %q", updated.ApprovedBy)
	}
	if len(audit.entries) != 1 || bcast.count != 1 {
		t.Fatalf("expected one audit entry and one broadcast, got %d/%d", len(audit.entries), bcast.count)
	}
}

func TestApprove_RejectsFromNonPending(t *testing.T) {
	store := newFakeStore(&models.Action{ID: "a1", Status: models.ActionApproved})
	svc := NewService(store, &fakeExecutor{}, &fakeAudit{}, nil)

	_, err := svc.Approve(context.Background(), "a1", ActorContext{})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CurrentStatus != models.ActionApproved {
		t.Fatalf("expected current status approved, got %s", conflict.CurrentStatus)
	}
}

func TestReject_PendingToRejected(t *testing.T) {
	store := newFakeStore(&models.Action{ID: "a1", Status: models.ActionPending})
	svc := NewService(store, &fakeExecutor{}, &fakeAudit{}, nil)

	updated, err := svc.Reject(context.Background(), "a1", ActorContext{Username: "bob"}, "not needed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != models.ActionRejected || updated.RejectionReason != "not needed" {
		t.Fatalf("unexpected result: %+v", updated)
	}
}

func TestExecute_SuccessTransitionsThroughExecutingToCompleted(t *testing.T) {
	store := newFakeStore(&models.Action{ID: "a1", Status: models.ActionApproved, ActionType: models.ActionRestartContainer})
	bcast := &fakeBroadcaster{}
	audit := &fakeAudit{}
	svc := NewService(store, &fakeExecutor{}, audit, bcast)

	updated, err := svc.Execute(context.Background(), "a1", ActorContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != models.ActionCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
	if bcast.count != 2 {
		t.Fatalf("expected two broadcasts (executing, completed), got %d", bcast.count)
	}
	if len(audit.entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(audit.entries))
	}
}

func TestExecute_FailureTransitionsToFailedAndReturnsExecutionError(t *testing.T) {
	store := newFakeStore(&models.Action{ID: "a1", Status: models.ActionApproved, ActionType: models.ActionStopContainer})
	bcast := &fakeBroadcaster{}
	svc := NewService(store, &fakeExecutor{err: errors.New("engine unreachable")}, &fakeAudit{}, bcast)

	updated, err := svc.Execute(context.Background(), "a1", ActorContext{})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if updated.Status != models.ActionFailed {
		t.Fatalf("expected failed, got %s", updated.Status)
	}
	if updated.ExecutionResult != "engine unreachable" {
		t.Fatalf("expected execution result captured, got %q", updated.ExecutionResult)
	}
	if bcast.count != 2 {
		t.Fatalf("expected two broadcasts (executing, failed), got %d", bcast.count)
	}
}

func TestExecute_RejectsFromNonApproved(t *testing.T) {
	store := newFakeStore(&models.Action{ID: "a1", Status: models.ActionPending})
	svc := NewService(store, &fakeExecutor{}, &fakeAudit{}, nil)

	_, err := svc.Execute(context.Background(), "a1", ActorContext{})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestIsValidTransition(t *testing.T) {
	cases := []struct {
		from, to models.ActionStatus
		want     bool
	}{
		{models.ActionPending, models.ActionApproved, true},
		{models.ActionPending, models.ActionRejected, true},
		{models.ActionPending, models.ActionExecuting, false},
		{models.ActionApproved, models.ActionExecuting, true},
		{models.ActionApproved, models.ActionCompleted, false},
		{models.ActionExecuting, models.ActionCompleted, true},
		{models.ActionExecuting, models.ActionFailed, true},
		{models.ActionCompleted, models.ActionApproved, false},
	}
	for _, c := range cases {
		if got := IsValidTransition(c.from, c.to); got != c.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
