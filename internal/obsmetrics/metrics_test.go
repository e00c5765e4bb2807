package obsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_CollectorsRegisterWithoutConflict(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := reg.Register(m.CycleDuration); err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}
	for _, c := range m.Collectors()[1:] {
		if err := reg.Register(c); err != nil {
			t.Fatalf("unexpected registration error: %v", err)
		}
	}
}

func TestBreakerStateValue(t *testing.T) {
	cases := map[string]float64{
		"closed":    0,
		"half-open": 1,
		"open":      2,
		"unknown":   -1,
	}
	for state, want := range cases {
		if got := BreakerStateValue(state); got != want {
			t.Errorf("BreakerStateValue(%q) = %v, want %v", state, got, want)
		}
	}
}
