// Package monitoring implements the periodic reconciliation pipeline:
// fetch fleet state, detect anomalies and security findings, batch
// insights into the store, fan the batch out to the event bus, the
// websocket hub and the notification dispatcher, and pass the committed
// insights to the incident correlator. The lifecycle (ticker, reentrancy guard, next-scheduled-at
// bookkeeping) follows a standard periodic-worker shape; the fifteen
// phases below are this service's own pipeline.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetsentry/sentinel/internal/anomaly"
	"github.com/fleetsentry/sentinel/internal/cache"
	"github.com/fleetsentry/sentinel/internal/config"
	"github.com/fleetsentry/sentinel/internal/eventbus"
	"github.com/fleetsentry/sentinel/internal/forecast"
	"github.com/fleetsentry/sentinel/internal/models"
	"github.com/fleetsentry/sentinel/internal/notify"
	"github.com/fleetsentry/sentinel/internal/obsmetrics"
	"github.com/fleetsentry/sentinel/internal/store"
	"github.com/fleetsentry/sentinel/internal/ws"
)

// maxFanOut bounds the number of concurrent per-endpoint container
// fetches (§4.3 phase 1: "bounded by worker pool if endpoint count is
// large").
const maxFanOut = 64

// asyncGraceTimeout bounds how long Stop waits for phase 11's detached
// infra-analysis goroutines before abandoning them.
const asyncGraceTimeout = 5 * time.Second

// Inventory is the subset of inventory.Client the cycle depends on, kept
// as an interface so tests can substitute a fake fleet without a real
// engine connection.
type Inventory interface {
	GetEndpoints(ctx context.Context) ([]models.Endpoint, error)
	GetContainers(ctx context.Context, endpointID int) ([]models.Container, error)
	IsCircuitOpen(endpointID int) bool
	IsEndpointDegraded(endpointID int) bool
}

// Store is the persistence boundary the cycle needs across every phase.
type Store interface {
	InsertSnapshot(ctx context.Context, snap models.MonitoringSnapshot) error
	InsertInsights(ctx context.Context, insights []models.Insight) (map[string]struct{}, error)
	InsertCycle(ctx context.Context, rec store.CycleRecord) error
	LastCycle(ctx context.Context) (*store.CycleRecord, error)
	GetMovingAverage(ctx context.Context, containerID string, metricType models.MetricType, windowSize int) (models.MovingAverageStats, error)
	GetLatestMetricsBatch(ctx context.Context, containerIDs []string) (map[string]map[models.MetricType]float64, error)
	InsertIncident(ctx context.Context, inc models.Incident) error
}

// ActionCreator persists a remediation action candidate. Satisfied by
// *store.ActionStore.
type ActionCreator interface {
	InsertAction(ctx context.Context, action models.Action) (*models.Action, error)
}

// Suggester proposes a remediation action for an insight, or nil.
// Satisfied by *remediation.Suggester.
type Suggester interface {
	SuggestAction(insight models.Insight) *models.Action
}

// Forecaster supplies a capacity trend projection for phase 7. Satisfied
// by *forecast.Service.
type Forecaster interface {
	Forecast(resourceID, resourceName, metric string, horizon time.Duration, threshold float64) (*forecast.Forecast, error)
}

// Deps bundles every collaborator a Cycle needs. Optional fields (marked
// below) may be left nil to disable the phase they back; required fields
// must be set or NewCycle panics, since a misconfigured cycle silently
// skipping its core phases is worse than failing fast at startup.
type Deps struct {
	Inventory    Inventory
	Store        Store
	Actions      ActionCreator
	Suggester    Suggester
	Cooldown     *anomaly.CooldownGate
	IsolationIF  *anomaly.IsolationForest // optional: nil disables phase 6
	Forecaster   Forecaster               // optional: nil disables phase 7
	Bus          *eventbus.Bus            // optional: nil disables phase 13's event emission
	Hub          *ws.Hub                  // optional: nil disables websocket broadcast
	Notifier     *notify.Dispatcher       // optional: nil disables notification dispatch
	Metrics      *obsmetrics.Metrics      // optional: nil disables prometheus updates
	LM           ExplanationClient        // optional: nil disables phases 8, 9 and 11
	Investigator Investigator             // optional: nil disables phase 13's investigation trigger
}

// Cycle runs the fifteen-phase reconciliation pipeline on a timer. It is
// reentrancy-safe: if a previous run is still executing when the ticker
// fires, the tick is skipped rather than queued (§4.3: "the design uses
// skip-if-running").
type Cycle struct {
	deps Deps
	cfg  *config.Config
	mu   *sync.RWMutex

	endpointCache *cache.Cache[[]models.Endpoint]

	runMu         sync.Mutex
	running       bool
	runInProgress bool
	stopCh        chan struct{}
	wg            sync.WaitGroup

	// asyncWg tracks phase 11's detached infra-analysis goroutines, the
	// only task allowed to outlive phase 15 (§4.3 step 11/§5 ordering
	// guarantees). Stop gives them asyncGraceTimeout to finish before
	// moving on.
	asyncWg sync.WaitGroup

	statusMu        sync.RWMutex
	nextScheduledAt time.Time
	lastCompletedAt time.Time
}

// NewCycle wires a Cycle. cfg/mu follow the same convention as
// config.Watcher: mu guards cfg, and Cycle re-reads the live fields on
// every tick rather than snapshotting them once at construction.
func NewCycle(deps Deps, cfg *config.Config, mu *sync.RWMutex) *Cycle {
	if deps.Inventory == nil || deps.Store == nil {
		panic("monitoring: Inventory and Store are required")
	}
	if deps.Cooldown == nil {
		deps.Cooldown = anomaly.NewCooldownGate()
	}
	return &Cycle{
		deps:          deps,
		cfg:           cfg,
		mu:            mu,
		endpointCache: cache.New[[]models.Endpoint](),
	}
}

func (c *Cycle) interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.CycleInterval <= 0 {
		return 60 * time.Second
	}
	return c.cfg.CycleInterval
}

func (c *Cycle) deadline() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.CycleDeadline <= 0 {
		return 5 * time.Minute
	}
	return c.cfg.CycleDeadline
}

// Start begins the background ticker loop. Calling Start on an
// already-running Cycle is a no-op.
func (c *Cycle) Start(ctx context.Context) {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.runMu.Unlock()

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop signals the loop to exit and waits for any in-flight cycle to
// finish.
func (c *Cycle) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.runMu.Unlock()

	c.wg.Wait()
	c.waitAsyncWithGrace()
}

// waitAsyncWithGrace waits up to asyncGraceTimeout for phase 11's detached
// goroutines, then abandons them; it never blocks Stop indefinitely.
func (c *Cycle) waitAsyncWithGrace() {
	done := make(chan struct{})
	go func() {
		c.asyncWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(asyncGraceTimeout):
		log.Debug().Msg("monitoring: abandoning in-flight async infra analysis after grace period")
	}
}

func (c *Cycle) loop(ctx context.Context) {
	defer c.wg.Done()

	interval := c.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.statusMu.Lock()
	c.nextScheduledAt = time.Now().Add(interval)
	c.statusMu.Unlock()

	for {
		select {
		case <-ticker.C:
			c.statusMu.Lock()
			c.nextScheduledAt = time.Now().Add(interval)
			c.statusMu.Unlock()

			if newInterval := c.interval(); newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
			}

			c.runIfIdle(ctx)

		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runIfIdle implements the skip-if-running reentrancy guard.
func (c *Cycle) runIfIdle(ctx context.Context) {
	c.runMu.Lock()
	if c.runInProgress {
		c.runMu.Unlock()
		log.Debug().Msg("monitoring: previous cycle still running, skipping tick")
		return
	}
	c.runInProgress = true
	c.runMu.Unlock()

	defer func() {
		c.runMu.Lock()
		c.runInProgress = false
		c.runMu.Unlock()
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, c.deadline())
	defer cancel()
	c.Run(cycleCtx)
}

// Status reports the next scheduled tick and the last completed run, for
// a health/readiness endpoint.
type Status struct {
	NextScheduledAt time.Time
	LastCompletedAt time.Time
}

func (c *Cycle) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return Status{NextScheduledAt: c.nextScheduledAt, LastCompletedAt: c.lastCompletedAt}
}

// errgroupGoroutineLimit returns min(maxFanOut, n), the bound phase 1
// applies to its per-endpoint fan-out.
func errgroupGoroutineLimit(n int) int {
	if n <= 0 {
		return 1
	}
	if n > maxFanOut {
		return maxFanOut
	}
	return n
}
