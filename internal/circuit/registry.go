package circuit

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// OpenError is returned by the registry when an endpoint's breaker is open.
// It is distinct from a transient failure: callers must not increment
// their own failure counters on receipt of this error, and a cycle must
// count it as a circuitBreakerSkip rather than a containerFetchFailure.
type OpenError struct {
	EndpointID int
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for endpoint %d", e.EndpointID)
}

// degradedTracker holds a latency EWMA per endpoint. An endpoint is
// "degraded" when its smoothed latency exceeds the configured ceiling,
// a softer signal than the breaker: the cycle skips a degraded endpoint
// but direct calls against it are still allowed through.
type degradedTracker struct {
	mu         sync.Mutex
	ewmaMs     map[int]float64
	alpha      float64
	ceilingMs  float64
	minSamples map[int]int
}

func newDegradedTracker(ceilingMs float64) *degradedTracker {
	return &degradedTracker{
		ewmaMs:     make(map[int]float64),
		alpha:      0.3,
		ceilingMs:  ceilingMs,
		minSamples: make(map[int]int),
	}
}

func (d *degradedTracker) observe(endpointID int, latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ms := float64(latency.Microseconds()) / 1000.0
	cur, ok := d.ewmaMs[endpointID]
	if !ok {
		d.ewmaMs[endpointID] = ms
	} else {
		d.ewmaMs[endpointID] = d.alpha*ms + (1-d.alpha)*cur
	}
	d.minSamples[endpointID]++
}

func (d *degradedTracker) isDegraded(endpointID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.minSamples[endpointID] < 3 {
		return false
	}
	return d.ewmaMs[endpointID] > d.ceilingMs
}

// Registry owns one Breaker per endpoint and the degraded-latency tracker
// that backs the softer skip signal. It is the single object the
// monitoring cycle consults before fan-out (§4.1, §4.3 phase 1).
type Registry struct {
	mu       sync.RWMutex
	breakers map[int]*Breaker
	config   Config
	degraded *degradedTracker
}

// DefaultDegradedLatencyCeilingMs is the smoothed-latency threshold past
// which an endpoint is considered degraded absent any outright failures.
const DefaultDegradedLatencyCeilingMs = 2000.0

// NewRegistry creates an empty per-endpoint breaker registry.
func NewRegistry(config Config) *Registry {
	return &Registry{
		breakers: make(map[int]*Breaker),
		config:   config,
		degraded: newDegradedTracker(DefaultDegradedLatencyCeilingMs),
	}
}

func (r *Registry) breakerFor(endpointID int) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[endpointID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[endpointID]; ok {
		return b
	}
	b = NewBreaker("endpoint-"+strconv.Itoa(endpointID), r.config)
	r.breakers[endpointID] = b
	return b
}

// IsCircuitOpen reports whether calls to this endpoint are currently
// rejected without causing a state transition (safe for read-only checks
// during phase-1 pre-filtering).
func (r *Registry) IsCircuitOpen(endpointID int) bool {
	return r.breakerFor(endpointID).State() == StateOpen && !r.breakerFor(endpointID).CanAllow()
}

// IsEndpointDegraded reports the softer latency-based skip signal.
func (r *Registry) IsEndpointDegraded(endpointID int) bool {
	return r.degraded.isDegraded(endpointID)
}

// Allow gates an actual call, possibly transitioning open->half-open.
// Returns OpenError when the call must not proceed.
func (r *Registry) Allow(endpointID int) error {
	if !r.breakerFor(endpointID).Allow() {
		return &OpenError{EndpointID: endpointID}
	}
	return nil
}

// RecordResult feeds a call outcome back into the breaker. Only successful
// calls feed their latency into the degraded-latency tracker.
func (r *Registry) RecordResult(endpointID int, latency time.Duration, err error) {
	b := r.breakerFor(endpointID)
	if err != nil {
		b.RecordFailureWithCategory(err, CategorizeError(err))
		return
	}
	b.RecordSuccess()
	r.degraded.observe(endpointID, latency)
}

// Status returns the circuit status for every endpoint seen so far.
func (r *Registry) Status() map[int]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]Status, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.GetStatus()
	}
	return out
}

// IsOpenError reports whether err is a circuit-open rejection, analogous
// to IsCircuitOpen but for an error value rather than a live check.
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}
