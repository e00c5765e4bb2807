package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/models"
)

// InsertSnapshot persists a phase-1 fleet-state row.
func (s *Store) InsertSnapshot(ctx context.Context, snap models.MonitoringSnapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitoring_snapshots (containers_running, containers_stopped, containers_unhealthy, endpoints_up, endpoints_down, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ContainersRunning, snap.ContainersStopped, snap.ContainersUnhealthy, snap.EndpointsUp, snap.EndpointsDown, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert monitoring snapshot: %w", err)
	}
	return nil
}

// CycleRecord is the phase-15 finalization row: always written, even when
// the cycle was aborted by a fatal error (§4.3 step 15, §5 cancellation).
//
// CircuitBreakerSkips and PreFilterCircuitSkips are kept separate rather
// than folded into one counter: the former counts per-endpoint fetches
// that failed mid-fan-out because the breaker tripped during the call,
// the latter counts endpoints filtered out before the fan-out even
// started because the breaker was already open. Spec §8 scenario 2
// requires both to be independently observable in the same cycle.
type CycleRecord struct {
	DurationMs             int64
	InsightsCreated        int
	CircuitBreakerSkips    int
	PreFilterCircuitSkips  int
	ContainerFetchFailures int
	Errored                bool
}

// InsertCycle persists one monitoring_cycles row.
func (s *Store) InsertCycle(ctx context.Context, rec CycleRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitoring_cycles (duration_ms, insights_created, circuit_breaker_skips, pre_filter_circuit_skips, container_fetch_failures, errored, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.DurationMs, rec.InsightsCreated, rec.CircuitBreakerSkips, rec.PreFilterCircuitSkips, rec.ContainerFetchFailures, boolToInt(rec.Errored), time.Now())
	if err != nil {
		return fmt.Errorf("insert monitoring cycle: %w", err)
	}
	return nil
}

// LastCycle returns the most recently persisted cycle record, or nil if
// none exists yet. Used by the orchestrator's delta-based logging (§4.3
// step 15: "log at info if any counter changes >10% from previous cycle").
func (s *Store) LastCycle(ctx context.Context) (*CycleRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT duration_ms, insights_created, circuit_breaker_skips, pre_filter_circuit_skips, container_fetch_failures, errored
		FROM monitoring_cycles ORDER BY id DESC LIMIT 1
	`)
	var rec CycleRecord
	var errored int
	if err := row.Scan(&rec.DurationMs, &rec.InsightsCreated, &rec.CircuitBreakerSkips, &rec.PreFilterCircuitSkips, &rec.ContainerFetchFailures, &errored); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	rec.Errored = errored != 0
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
