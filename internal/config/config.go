// Package config centralizes every environment-variable-driven option
// this process recognizes, loading a `.env` file at startup and watching
// a settings file for the subset of options safe to change without a
// restart.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DetectionMethod mirrors models.DetectionMethod's string values without
// importing internal/models, keeping this package import-light.
type DetectionMethod string

const (
	MethodZScore    DetectionMethod = "zscore"
	MethodBollinger DetectionMethod = "bollinger"
	MethodAdaptive  DetectionMethod = "adaptive"
)

// Config is every recognized option, loaded once at startup and refreshed
// in place by Watcher for the live-reloadable subset (z-score threshold,
// cooldown minutes, hard-threshold enable and percentage, predictive
// alerting enable, and max insights per cycle; see reloadableFields).
type Config struct {
	DataDir    string
	ListenAddr string

	AnomalyZScoreThreshold      float64
	AnomalyMovingAverageWindow  int
	AnomalyMinSamples           int
	AnomalyDetectionMethod      DetectionMethod
	AnomalyCooldownMinutes      int
	AnomalyHardThresholdEnabled bool
	AnomalyThresholdPct         float64
	IsolationForestEnabled      bool

	PredictiveAlertingEnabled     bool
	PredictiveAlertThresholdHours float64

	AIAnalysisEnabled           bool
	AnomalyExplanationEnabled   bool
	AnomalyExplanationMaxPerRun int
	NLPLogAnalysisEnabled       bool
	NLPLogAnalysisMaxPerRun     int
	NLPLogAnalysisTailLines     int

	MaxInsightsPerCycle int

	CycleInterval time.Duration
	CycleDeadline time.Duration
}

// Load reads .env (if present, via godotenv) into the process environment
// without overriding variables already set, then builds a Config from
// os.Getenv, applying the defaults spec.md documents as implicit.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if _, err := os.Stat(envFilePath); err == nil {
			if err := godotenv.Load(envFilePath); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{
		DataDir:    getenvDefault("FLEETSENTRY_DATA_DIR", "/var/lib/fleetsentry"),
		ListenAddr: getenvDefault("FLEETSENTRY_LISTEN_ADDR", ":8420"),

		AnomalyZScoreThreshold:      getenvFloat("ANOMALY_ZSCORE_THRESHOLD", 3.0),
		AnomalyMovingAverageWindow:  getenvInt("ANOMALY_MOVING_AVERAGE_WINDOW", 20),
		AnomalyMinSamples:           getenvInt("ANOMALY_MIN_SAMPLES", 10),
		AnomalyDetectionMethod:      DetectionMethod(getenvDefault("ANOMALY_DETECTION_METHOD", string(MethodZScore))),
		AnomalyCooldownMinutes:      getenvInt("ANOMALY_COOLDOWN_MINUTES", 15),
		AnomalyHardThresholdEnabled: getenvBool("ANOMALY_HARD_THRESHOLD_ENABLED", false),
		AnomalyThresholdPct:         getenvFloat("ANOMALY_THRESHOLD_PCT", 90.0),
		IsolationForestEnabled:      getenvBool("ISOLATION_FOREST_ENABLED", false),

		PredictiveAlertingEnabled:     getenvBool("PREDICTIVE_ALERTING_ENABLED", false),
		PredictiveAlertThresholdHours: getenvFloat("PREDICTIVE_ALERT_THRESHOLD_HOURS", 24.0),

		AIAnalysisEnabled:           getenvBool("AI_ANALYSIS_ENABLED", false),
		AnomalyExplanationEnabled:   getenvBool("ANOMALY_EXPLANATION_ENABLED", false),
		AnomalyExplanationMaxPerRun: getenvInt("ANOMALY_EXPLANATION_MAX_PER_CYCLE", 5),
		NLPLogAnalysisEnabled:       getenvBool("NLP_LOG_ANALYSIS_ENABLED", false),
		NLPLogAnalysisMaxPerRun:     getenvInt("NLP_LOG_ANALYSIS_MAX_PER_CYCLE", 5),
		NLPLogAnalysisTailLines:     getenvInt("NLP_LOG_ANALYSIS_TAIL_LINES", 200),

		MaxInsightsPerCycle: getenvInt("MAX_INSIGHTS_PER_CYCLE", 100),

		CycleInterval: getenvDuration("FLEETSENTRY_CYCLE_INTERVAL", 60*time.Second),
		CycleDeadline: getenvDuration("FLEETSENTRY_CYCLE_DEADLINE", 5*time.Minute),
	}
	return cfg, nil
}

// reloadableFields lists the json-ish key names Watcher is allowed to
// apply from a live settings file; every other option requires a restart.
var reloadableFields = map[string]bool{
	"ANOMALY_ZSCORE_THRESHOLD":       true,
	"ANOMALY_COOLDOWN_MINUTES":       true,
	"ANOMALY_HARD_THRESHOLD_ENABLED": true,
	"ANOMALY_THRESHOLD_PCT":          true,
	"PREDICTIVE_ALERTING_ENABLED":    true,
	"MAX_INSIGHTS_PER_CYCLE":         true,
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
