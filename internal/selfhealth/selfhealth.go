// Package selfhealth implements the GET /health, /health/ready, and
// /health/ready/detail dependency checks: a cheap liveness probe plus a
// stale-while-revalidate readiness snapshot across every external
// dependency, including the host's CPU and memory usage.
package selfhealth

import (
	"context"
	"time"

	"github.com/fleetsentry/sentinel/internal/cache"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Status is one dependency's coarse health band.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DependencyCheck is one entry of a readiness snapshot. URL and Error are
// populated by every Checker but only surfaced to callers of the
// authenticated detail endpoint; the redacted endpoint strips them.
type DependencyCheck struct {
	Name   string
	Status Status
	URL    string
	Error  string
}

// Checker probes a single dependency. Implementations must not block
// longer than the context allows and must never panic on a failed probe;
// a failure is reported as StatusUnhealthy, not an error return.
type Checker interface {
	Name() string
	Check(ctx context.Context) DependencyCheck
}

// Readiness is the aggregated result of every configured Checker.
type Readiness struct {
	Status Status
	Checks map[string]DependencyCheck
}

// Redacted strips URL and Error from every check, for the unauthenticated
// /health/ready endpoint.
func (r Readiness) Redacted() Readiness {
	out := Readiness{Status: r.Status, Checks: make(map[string]DependencyCheck, len(r.Checks))}
	for name, c := range r.Checks {
		out.Checks[name] = DependencyCheck{Name: c.Name, Status: c.Status}
	}
	return out
}

// Registry holds every dependency Checker and caches the aggregate result
// for 30 seconds, so a burst of external probes does not hammer every
// dependency on each request.
type Registry struct {
	checkers []Checker
	cache    *cache.Cache[Readiness]
}

const readinessTTL = 30 * time.Second
const readinessKey = "selfhealth:readiness"

// NewRegistry builds a Registry over checkers, always appending a "self"
// checker for the host's CPU/memory usage.
func NewRegistry(checkers ...Checker) *Registry {
	return &Registry{
		checkers: append(append([]Checker{}, checkers...), selfChecker{}),
		cache:    cache.New[Readiness](),
	}
}

// Live answers the unconditional GET /health probe: the process is
// scheduled and able to respond, nothing more.
func Live() (string, time.Time) {
	return "ok", time.Now()
}

// Ready returns the 30-second SWR-cached readiness snapshot.
func (r *Registry) Ready(ctx context.Context) (Readiness, error) {
	return r.cache.CachedFetchSWR(ctx, readinessKey, readinessTTL, r.probeAll)
}

func (r *Registry) probeAll(ctx context.Context) (Readiness, error) {
	checks := make(map[string]DependencyCheck, len(r.checkers))
	worst := StatusHealthy
	for _, c := range r.checkers {
		result := c.Check(ctx)
		checks[c.Name()] = result
		worst = worstOf(worst, result.Status)
	}
	return Readiness{Status: worst, Checks: checks}, nil
}

func worstOf(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// PingFunc adapts an existing ping-style health check (matching
// cache.Cache.Ping's "ping() returns bool" convention, §4.2) into a
// Checker, for dependencies that expose nothing richer than up/down.
type PingFunc func(ctx context.Context) bool

// pingChecker wraps a PingFunc with a name and an optional URL to surface
// on the authenticated detail endpoint.
type pingChecker struct {
	name string
	url  string
	ping PingFunc
}

// NewPingChecker builds a Checker from a boolean ping function, for
// dependencies (appDb, metricsDb, portainer, ollama, redis) whose only
// signal is reachability.
func NewPingChecker(name, url string, ping PingFunc) Checker {
	return pingChecker{name: name, url: url, ping: ping}
}

func (p pingChecker) Name() string { return p.name }

func (p pingChecker) Check(ctx context.Context) DependencyCheck {
	if p.ping(ctx) {
		return DependencyCheck{Name: p.name, Status: StatusHealthy, URL: p.url}
	}
	return DependencyCheck{Name: p.name, Status: StatusUnhealthy, URL: p.url, Error: "ping failed"}
}

// selfChecker reports host-wide CPU and memory pressure (gopsutil's
// system totals, not this process alone), degrading readiness before the host actually falls over rather than
// only after an external dependency starts timing out.
type selfChecker struct{}

const (
	selfCPUDegradedPercent  = 85.0
	selfCPUUnhealthyPercent = 97.0
	selfMemDegradedPercent  = 85.0
	selfMemUnhealthyPercent = 97.0
)

func (selfChecker) Name() string { return "self" }

func (selfChecker) Check(ctx context.Context) DependencyCheck {
	check := DependencyCheck{Name: "self", Status: StatusHealthy}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return DependencyCheck{Name: "self", Status: StatusDegraded, Error: err.Error()}
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return DependencyCheck{Name: "self", Status: StatusDegraded, Error: err.Error()}
	}

	switch {
	case cpuPercent >= selfCPUUnhealthyPercent || vm.UsedPercent >= selfMemUnhealthyPercent:
		check.Status = StatusUnhealthy
	case cpuPercent >= selfCPUDegradedPercent || vm.UsedPercent >= selfMemDegradedPercent:
		check.Status = StatusDegraded
	}
	return check
}
