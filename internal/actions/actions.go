// Package actions implements the remediation action state machine (§4.7):
// a fixed five-transition lifecycle from an operator-reviewed suggestion
// through execution, with mandatory audit logging and broadcast on every
// transition. Suggestions come from internal/remediation; this package is
// the mutating, DB-backed core the HTTP boundary drives.
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/models"
)

// ErrNotFound is returned when the requested action id does not exist.
var ErrNotFound = fmt.Errorf("action not found")

// ConflictError reports an attempted transition that is not in the table
// below; the HTTP boundary maps this to 409 with {error, actionId,
// currentStatus}.
type ConflictError struct {
	ActionID      string
	CurrentStatus models.ActionStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("action %s: invalid transition from status %s", e.ActionID, e.CurrentStatus)
}

// Store is the persistence boundary actions needs: read-modify-write must
// be atomic per row so external callers never observe an invalid
// transition even if they can observe a transient one (§5).
type Store interface {
	GetAction(ctx context.Context, id string) (*models.Action, error)
	// UpdateAction applies mutate to the current row iff it still matches
	// expectedStatus, returning ErrNotFound or a conflict if it does not.
	UpdateAction(ctx context.Context, id string, expectedStatus models.ActionStatus, mutate func(*models.Action)) (*models.Action, error)
}

// Executor performs the actual inventory operation once an action is
// approved. RESTART_CONTAINER/STOP_CONTAINER/START_CONTAINER map 1:1 to
// inventory client calls; unknown action types fail immediately.
type Executor interface {
	Execute(ctx context.Context, a *models.Action) error
}

// AuditLogger records one row per state change (§4.7). RequestID/IPAddress
// are supplied by the HTTP boundary, not this package.
type AuditLogger interface {
	Log(ctx context.Context, entry AuditEntry) error
}

// AuditEntry mirrors the required audit log record shape.
type AuditEntry struct {
	UserID     string
	Username   string
	Action     string
	TargetType string
	TargetID   string
	RequestID  string
	IPAddress  string
	Details    map[string]interface{}
}

// Broadcaster publishes the updated row on the remediation namespace after
// every transition.
type Broadcaster interface {
	BroadcastAction(a *models.Action)
}

// Service wires a Store, Executor, AuditLogger and Broadcaster into the
// approve/reject/execute operations exposed at the HTTP boundary.
type Service struct {
	store    Store
	executor Executor
	audit    AuditLogger
	bcast    Broadcaster
}

// NewService constructs a Service; bcast may be nil, in which case
// broadcast is a no-op (useful in tests).
func NewService(store Store, executor Executor, audit AuditLogger, bcast Broadcaster) *Service {
	return &Service{store: store, executor: executor, audit: audit, bcast: bcast}
}

// ActorContext carries the identity/request metadata an HTTP handler
// collects before calling into the service.
type ActorContext struct {
	UserID    string
	Username  string
	RequestID string
	IPAddress string
}

func (s *Service) broadcast(a *models.Action) {
	if s.bcast != nil {
		s.bcast.BroadcastAction(a)
	}
}

// Approve transitions pending -> approved.
func (s *Service) Approve(ctx context.Context, id string, actor ActorContext) (*models.Action, error) {
	now := time.Now()
	updated, err := s.store.UpdateAction(ctx, id, models.ActionPending, func(a *models.Action) {
		a.Status = models.ActionApproved
		a.ApprovedBy = actor.Username
		a.ApprovedAt = &now
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor, "remediation.approve", updated, nil)
	s.broadcast(updated)
	return updated, nil
}

// Reject transitions pending -> rejected.
func (s *Service) Reject(ctx context.Context, id string, actor ActorContext, reason string) (*models.Action, error) {
	now := time.Now()
	updated, err := s.store.UpdateAction(ctx, id, models.ActionPending, func(a *models.Action) {
		a.Status = models.ActionRejected
		a.RejectedBy = actor.Username
		a.RejectedAt = &now
		a.RejectionReason = reason
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor, "remediation.reject", updated, map[string]interface{}{"reason": reason})
	s.broadcast(updated)
	return updated, nil
}

// ExecutionError wraps a downstream inventory failure; the HTTP boundary
// maps it to 502, and it is never retried automatically (§4.7, §7).
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }

// Execute transitions approved -> executing, runs the executor, then
// transitions executing -> completed or executing -> failed. Both the
// "executing" and the terminal transition each get their own audit entry
// and broadcast (§8 scenario 4/5: "two broadcasts").
func (s *Service) Execute(ctx context.Context, id string, actor ActorContext) (*models.Action, error) {
	now := time.Now()
	executing, err := s.store.UpdateAction(ctx, id, models.ActionApproved, func(a *models.Action) {
		a.Status = models.ActionExecuting
		a.ExecutedAt = &now
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor, "remediation.execute", executing, nil)
	s.broadcast(executing)

	start := time.Now()
	execErr := s.executor.Execute(ctx, executing)
	duration := time.Since(start).Milliseconds()

	if execErr != nil {
		failed, uerr := s.store.UpdateAction(ctx, id, models.ActionExecuting, func(a *models.Action) {
			a.Status = models.ActionFailed
			a.CompletedAt = timePtr(time.Now())
			a.ExecutionResult = execErr.Error()
			a.ExecutionDurationMs = duration
		})
		if uerr != nil {
			return nil, uerr
		}
		s.logAudit(ctx, actor, "remediation.execute.failed", failed, map[string]interface{}{"error": execErr.Error()})
		s.broadcast(failed)
		return failed, &ExecutionError{Err: execErr}
	}

	completed, uerr := s.store.UpdateAction(ctx, id, models.ActionExecuting, func(a *models.Action) {
		a.Status = models.ActionCompleted
		a.CompletedAt = timePtr(time.Now())
		a.ExecutionResult = fmt.Sprintf("Executed %s successfully", executing.ActionType)
		a.ExecutionDurationMs = duration
	})
	if uerr != nil {
		return nil, uerr
	}
	s.logAudit(ctx, actor, "remediation.execute.completed", completed, nil)
	s.broadcast(completed)
	return completed, nil
}

func (s *Service) logAudit(ctx context.Context, actor ActorContext, action string, a *models.Action, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Log(ctx, AuditEntry{
		UserID:     actor.UserID,
		Username:   actor.Username,
		Action:     action,
		TargetType: "action",
		TargetID:   a.ID,
		RequestID:  actor.RequestID,
		IPAddress:  actor.IPAddress,
		Details:    details,
	})
}

func timePtr(t time.Time) *time.Time { return &t }

// ValidTransitions is the fixed table from §4.7, exposed for handlers/tests
// that need to reason about the machine shape without duplicating it.
var ValidTransitions = map[models.ActionStatus][]models.ActionStatus{
	models.ActionPending:   {models.ActionApproved, models.ActionRejected},
	models.ActionApproved:  {models.ActionExecuting},
	models.ActionExecuting: {models.ActionCompleted, models.ActionFailed},
}

// IsValidTransition reports whether to is reachable from from in one step.
func IsValidTransition(from, to models.ActionStatus) bool {
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
