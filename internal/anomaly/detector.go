// Package anomaly implements the statistical anomaly scoring methods and
// the cooldown gating that suppresses repeated alerts for the same
// (container, metric[, variant]).
package anomaly

import (
	"fmt"
	"math"

	"github.com/fleetsentry/sentinel/internal/models"
)

// Config mirrors the ANOMALY_* configuration options in the external
// interface: these are read from the environment at startup and never
// mutated by the detector itself.
type Config struct {
	ZScoreThreshold float64
	MinSamples      int
	Method          models.DetectionMethod
}

// DefaultConfig matches the defaults a fresh deployment would observe.
func DefaultConfig() Config {
	return Config{
		ZScoreThreshold: 3.0,
		MinSamples:      10,
		Method:          models.MethodZScore,
	}
}

// BatchDetectionItem is one (container, metric) pair to score in a single
// detectAnomaliesBatch call, avoiding N separate round trips to the
// moving-average source.
type BatchDetectionItem struct {
	ContainerID   string
	ContainerName string
	MetricType    models.MetricType
	CurrentValue  float64
	Stats         models.MovingAverageStats
}

// Key returns the "containerId:metricType" composite key used both in the
// batch result map and as the base of a cooldown key.
func (i BatchDetectionItem) Key() string {
	return i.ContainerID + ":" + string(i.MetricType)
}

// CooldownKey bakes the ":"-joined cooldown key format (§3, §9) in one
// place: containerId:metricType, with an optional variant suffix such as
// "threshold" for the hard-threshold pass so it never collides with a
// statistical-method verdict for the same pair.
func CooldownKey(containerID string, metricType models.MetricType, variant string) string {
	if variant == "" {
		return fmt.Sprintf("%s:%s", containerID, metricType)
	}
	return fmt.Sprintf("%s:%s:%s", containerID, metricType, variant)
}

// zeroAnomalyEpsilon is the tolerance below which a current value equal to
// a zero-std-dev mean is not considered anomalous.
const zeroAnomalyEpsilon = 0.001

// Detect scores one (container, metric) pair. It returns nil when there is
// not enough history (sample_count < MinSamples) — "no verdict", not a
// negative verdict.
func Detect(item BatchDetectionItem, cfg Config) *models.AnomalyVerdict {
	if item.Stats.SampleCount < cfg.MinSamples {
		return nil
	}

	method := cfg.Method
	if method == "" {
		method = models.MethodZScore
	}

	switch method {
	case models.MethodBollinger:
		return detectBollinger(item, cfg)
	case models.MethodAdaptive:
		return detectAdaptive(item, cfg)
	default:
		return detectZScore(item, cfg, method)
	}
}

func detectZScore(item BatchDetectionItem, cfg Config, method models.DetectionMethod) *models.AnomalyVerdict {
	mean := item.Stats.Mean
	std := item.Stats.StdDev

	if std == 0 {
		anomalous := math.Abs(item.CurrentValue-mean) > zeroAnomalyEpsilon
		z := 0.0
		if anomalous {
			z = math.Inf(1)
		}
		return &models.AnomalyVerdict{
			IsAnomalous:  anomalous,
			ZScore:       z,
			Mean:         mean,
			CurrentValue: item.CurrentValue,
			Method:       method,
		}
	}

	z := (item.CurrentValue - mean) / std
	return &models.AnomalyVerdict{
		IsAnomalous:  math.Abs(z) > cfg.ZScoreThreshold,
		ZScore:       z,
		Mean:         mean,
		CurrentValue: item.CurrentValue,
		Method:       method,
	}
}

// BollingerBands is the exact shape the round-trip law in §8 checks:
// upper/middle/lower computed from mean, std, and a band multiplier k.
// The lower band is clamped at zero since metric values here are never
// negative.
type BollingerBands struct {
	Upper     float64
	Middle    float64
	Lower     float64
	Bandwidth float64
}

// CalculateBollingerBands computes {upper, middle, lower, bandwidth} from
// mean, std, and k exactly as the round-trip law in §8 requires.
func CalculateBollingerBands(mean, std, k float64) BollingerBands {
	lower := mean - k*std
	if lower < 0 {
		lower = 0
	}
	return BollingerBands{
		Upper:     mean + k*std,
		Middle:    mean,
		Lower:     lower,
		Bandwidth: 2 * k * std,
	}
}

const bollingerK = 2.0

func detectBollinger(item BatchDetectionItem, cfg Config) *models.AnomalyVerdict {
	bands := CalculateBollingerBands(item.Stats.Mean, item.Stats.StdDev, bollingerK)

	anomalous := item.CurrentValue > bands.Upper || item.CurrentValue < bands.Lower
	var z float64
	if item.Stats.StdDev > 0 {
		z = (item.CurrentValue - item.Stats.Mean) / item.Stats.StdDev
	} else if anomalous {
		z = math.Inf(1)
	}

	return &models.AnomalyVerdict{
		IsAnomalous:  anomalous,
		ZScore:       z,
		Mean:         item.Stats.Mean,
		CurrentValue: item.CurrentValue,
		Method:       models.MethodBollinger,
	}
}

// adaptiveCVThreshold is the coefficient-of-variation boundary past which
// the z-score threshold is scaled to tolerate naturally noisy metrics.
const adaptiveCVThreshold = 0.3

func detectAdaptive(item BatchDetectionItem, cfg Config) *models.AnomalyVerdict {
	mean := item.Stats.Mean
	std := item.Stats.StdDev

	if mean == 0 {
		return detectZScore(item, cfg, models.MethodAdaptive)
	}

	cv := std / mean
	if cv <= adaptiveCVThreshold {
		return detectZScore(item, cfg, models.MethodAdaptive)
	}

	scale := cv
	if scale < 1 {
		scale = 1
	}
	scaledCfg := cfg
	scaledCfg.ZScoreThreshold = cfg.ZScoreThreshold * scale
	return detectZScore(item, scaledCfg, models.MethodAdaptive)
}

// DetectBatch evaluates every item and returns only verdicts that could be
// computed (enough samples), keyed by "containerId:metricType" per §4.4.
func DetectBatch(items []BatchDetectionItem, cfg Config) map[string]models.AnomalyVerdict {
	out := make(map[string]models.AnomalyVerdict, len(items))
	for _, item := range items {
		if v := Detect(item, cfg); v != nil {
			out[item.Key()] = *v
		}
	}
	return out
}

// DescribeVerdict renders the deterministic description required by
// phase-4: current value (1 decimal), mean, z-score, method, and
// standard-deviation distance.
func DescribeVerdict(v models.AnomalyVerdict, stdDev float64) string {
	distance := "n/a"
	if stdDev > 0 && !math.IsInf(v.ZScore, 0) {
		distance = fmt.Sprintf("%.1f", math.Abs(v.CurrentValue-v.Mean)/stdDev)
	}
	return fmt.Sprintf(
		"current=%.1f mean=%.1f z_score=%s method=%s std_dev_distance=%s",
		v.CurrentValue, v.Mean, formatZ(v.ZScore), v.Method, distance,
	)
}

func formatZ(z float64) string {
	if math.IsInf(z, 1) {
		return "Infinity"
	}
	if math.IsInf(z, -1) {
		return "-Infinity"
	}
	return fmt.Sprintf("%.2f", z)
}

// SeverityForZScore implements phase-4's rule: critical if |z| > 4, else
// warning.
func SeverityForZScore(z float64) models.Severity {
	if math.Abs(z) > 4 {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}
