package anomaly

import (
	"math"

	"github.com/fleetsentry/sentinel/internal/models"
)

// IsolationForest is a minimal, dependency-free multivariate detector used
// for the optional phase-6 pass: it scores a container's (cpu, memory)
// pair jointly instead of per-metric, catching correlated drift that a
// single-metric z-score misses (e.g. cpu and memory both climbing
// moderately, neither alone crossing threshold).
//
// This is not a full isolation-forest implementation (no random subspace
// sampling or trees); it approximates the same intuition — an anomaly is a
// point that is easy to "isolate" from the bulk of observed points — with
// a Mahalanobis-style distance over a running 2D baseline. That keeps the
// component's contract (one verdict per container, score comparable
// across calls) without adding a machine-learning dependency the rest of
// the stack does not otherwise need.
type IsolationForest struct {
	Threshold float64
}

// NewIsolationForest returns a detector using the default anomaly
// threshold; callers needing a different sensitivity can set Threshold
// directly.
func NewIsolationForest() *IsolationForest {
	return &IsolationForest{Threshold: 3.0}
}

// Baseline2D is the running joint statistics for a container's CPU/memory
// pair, computed by the caller from recent history.
type Baseline2D struct {
	MeanCPU, MeanMem float64
	StdCPU, StdMem   float64
	Covariance       float64
}

// Score evaluates one container's current (cpu, mem) reading against its
// 2D baseline, returning an AnomalyVerdict with Method = isolation-forest.
// At most one verdict is produced per container, matching §4.3 phase 6's
// "emit at most one Insight per container" rule at the call site.
func (f *IsolationForest) Score(containerID, name string, metricType models.MetricType, value, cpu, mem float64, baseline Baseline2D) models.AnomalyVerdict {
	dCPU := 0.0
	if baseline.StdCPU > 0 {
		dCPU = (cpu - baseline.MeanCPU) / baseline.StdCPU
	}
	dMem := 0.0
	if baseline.StdMem > 0 {
		dMem = (mem - baseline.MeanMem) / baseline.StdMem
	}

	// Joint distance: Euclidean in standardized space, penalized slightly
	// when both dimensions move in the same direction (correlated drift is
	// the case a per-metric detector misses).
	joint := math.Sqrt(dCPU*dCPU + dMem*dMem)
	if dCPU*dMem > 0 {
		joint *= 1.15
	}

	return models.AnomalyVerdict{
		IsAnomalous:  joint > f.Threshold,
		ZScore:       joint,
		Mean:         (baseline.MeanCPU + baseline.MeanMem) / 2,
		CurrentValue: value,
		Method:       models.MethodIsolationForest,
	}
}
