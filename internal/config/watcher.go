package config

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func parseFloatOK(v string) (float64, error) { return strconv.ParseFloat(strings.TrimSpace(v), 64) }
func parseIntOK(v string) (int, error)       { return strconv.Atoi(strings.TrimSpace(v)) }
func parseBoolOK(v string) (bool, error)     { return strconv.ParseBool(strings.TrimSpace(v)) }

// debounceWrite is the quiet period after a write event before Watcher
// reloads; most editors and config-management tools emit several rapid
// fsync events for a single logical save. Tests override it to 0.
var debounceWrite = 200 * time.Millisecond

// Watcher reloads the live-safe subset of Config fields whenever path
// changes on disk, without requiring a process restart. Fields outside
// reloadableFields are read once at Load and never mutated afterward.
type Watcher struct {
	path    string
	cfg     *Config
	mu      *sync.RWMutex
	watcher *fsnotify.Watcher
	onLoad  func(*Config)

	done chan struct{}
}

// NewWatcher builds a Watcher over path, guarding cfg with mu (the caller's
// existing lock, so readers of cfg never observe a half-applied reload).
func NewWatcher(path string, cfg *Config, mu *sync.RWMutex) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, cfg: cfg, mu: mu, watcher: fw, done: make(chan struct{})}, nil
}

// SetReloadCallback registers a function invoked after every successful
// reload, for callers that need to react to a live option change (e.g.
// re-arming a cooldown window with a new ANOMALY_COOLDOWN_MINUTES).
func (w *Watcher) SetReloadCallback(fn func(*Config)) {
	w.onLoad = fn
}

// Start begins watching w.path in the background. It returns immediately;
// call Stop to release the underlying inotify/kqueue handle.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.path); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop releases the watcher. Safe to call once; a second call is a no-op.
func (w *Watcher) Stop() {
	select {
	case <-w.done:
		return
	default:
		close(w.done)
	}
	w.watcher.Close()
}

func (w *Watcher) loop() {
	var pending *time.Timer
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounceWrite, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	env, err := godotenv.Read(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config watcher: failed to read settings file")
		return
	}

	w.mu.Lock()
	applyReloadable(w.cfg, env)
	w.mu.Unlock()

	log.Info().Str("path", w.path).Msg("config: reloaded live settings")
	if w.onLoad != nil {
		w.onLoad(w.cfg)
	}
}

// applyReloadable mutates only the fields reloadableFields names, so a
// settings file can never smuggle in a change to a field that requires a
// restart (e.g. DataDir, ListenAddr).
func applyReloadable(cfg *Config, env map[string]string) {
	if v, ok := env["ANOMALY_ZSCORE_THRESHOLD"]; ok && reloadableFields["ANOMALY_ZSCORE_THRESHOLD"] {
		if f, err := parseFloatOK(v); err == nil {
			cfg.AnomalyZScoreThreshold = f
		}
	}
	if v, ok := env["ANOMALY_COOLDOWN_MINUTES"]; ok && reloadableFields["ANOMALY_COOLDOWN_MINUTES"] {
		if n, err := parseIntOK(v); err == nil {
			cfg.AnomalyCooldownMinutes = n
		}
	}
	if v, ok := env["ANOMALY_HARD_THRESHOLD_ENABLED"]; ok && reloadableFields["ANOMALY_HARD_THRESHOLD_ENABLED"] {
		if b, err := parseBoolOK(v); err == nil {
			cfg.AnomalyHardThresholdEnabled = b
		}
	}
	if v, ok := env["ANOMALY_THRESHOLD_PCT"]; ok && reloadableFields["ANOMALY_THRESHOLD_PCT"] {
		if f, err := parseFloatOK(v); err == nil {
			cfg.AnomalyThresholdPct = f
		}
	}
	if v, ok := env["PREDICTIVE_ALERTING_ENABLED"]; ok && reloadableFields["PREDICTIVE_ALERTING_ENABLED"] {
		if b, err := parseBoolOK(v); err == nil {
			cfg.PredictiveAlertingEnabled = b
		}
	}
	if v, ok := env["MAX_INSIGHTS_PER_CYCLE"]; ok && reloadableFields["MAX_INSIGHTS_PER_CYCLE"] {
		if n, err := parseIntOK(v); err == nil {
			cfg.MaxInsightsPerCycle = n
		}
	}
}
