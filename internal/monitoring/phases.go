package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fleetsentry/sentinel/internal/anomaly"
	"github.com/fleetsentry/sentinel/internal/cache"
	"github.com/fleetsentry/sentinel/internal/circuit"
	"github.com/fleetsentry/sentinel/internal/correlate"
	"github.com/fleetsentry/sentinel/internal/eventbus"
	"github.com/fleetsentry/sentinel/internal/forecast"
	"github.com/fleetsentry/sentinel/internal/models"
	"github.com/fleetsentry/sentinel/internal/notify"
	"github.com/fleetsentry/sentinel/internal/security"
	"github.com/fleetsentry/sentinel/internal/store"
	"github.com/fleetsentry/sentinel/internal/ws"
)

// ExplanationClient is the language-model boundary phases 8, 9 and 11
// call when configured. Prompt engineering is deliberately out of scope
// for this package: no concrete implementation ships here, and a nil
// Deps.LM simply disables the phases it backs, same as the feature flags
// that gate them.
type ExplanationClient interface {
	ExplainAnomalies(ctx context.Context, insights []models.Insight, max int) (map[string]string, error)
	AnalyzeLogs(ctx context.Context, containers []models.Container, maxPerCycle, tailLines int) ([]models.Insight, error)
	AnalyzeInfra(ctx context.Context, snapshot models.MonitoringSnapshot) (string, error)
}

// Investigator is phase 13's asynchronous investigation trigger, the
// "Investigator" capability named in the cyclic-dependency-breaking
// interface list. Like ExplanationClient, it is LM-backed and its
// prompt engineering is out of scope; a nil Deps.Investigator leaves the
// trigger a logged no-op.
type Investigator interface {
	Trigger(ctx context.Context, insight models.Insight) error
}

// cycleState accumulates phase output and counters across a single Run,
// folding into the finalization row in phase 15 regardless of where the
// cycle stopped.
type cycleState struct {
	snapshot   models.MonitoringSnapshot
	skippedCb  int
	cbSkips    int
	fetchFails int

	flagged map[string]bool // "containerId:metricType" already flagged by an earlier phase

	totalInsights    int
	incidentsCreated int
	aborted          bool
	abortReason      string
}

// cycleCompleteEvent is the websocket/SSE "cycle:complete" payload (§6,
// §7): emitted once per run, including aborted ones, so a client always
// learns a cycle finished even if it produced no insights.
type cycleCompleteEvent struct {
	Type          string  `json:"type"`
	Duration      float64 `json:"duration"`
	Endpoints     int     `json:"endpoints"`
	Containers    int     `json:"containers"`
	TotalInsights int     `json:"totalInsights"`
}

// Run executes the fifteen phases in order over ctx's lifetime, always
// persisting a monitoring_cycle row in phase 15 even if an earlier phase
// aborts the run.
func (c *Cycle) Run(ctx context.Context) {
	start := time.Now()
	state := &cycleState{flagged: make(map[string]bool)}

	defer c.phase15Finalize(ctx, state, start)

	endpoints, running, err := c.phase1Snapshot(ctx, state)
	if err != nil {
		state.aborted = true
		state.abortReason = err.Error()
		return
	}

	metricsByContainer := c.phase2Metrics(ctx, endpoints, running)
	findings := c.phase3SecurityScan(running)

	anomalyInsights := c.phase4Anomalies(ctx, running, metricsByContainer, state)
	thresholdInsights := c.phase5Threshold(ctx, running, metricsByContainer, state)
	ifInsights := c.phase6IsolationForest(ctx, running, metricsByContainer, state)
	predictiveInsights := c.phase7Predictive(running)
	anomalyInsights = c.phase8Explain(ctx, anomalyInsights)
	logInsights := c.phase9LogAnalysis(ctx, running)
	securityInsights := c.phase10SecurityInsights(findings)
	c.phase11AsyncInfraAnalysis(state.snapshot)

	all := concatInsights(anomalyInsights, thresholdInsights, ifInsights, predictiveInsights, logInsights, securityInsights)
	capped := c.phase12Cap(all)

	insertedIDs, err := c.deps.Store.InsertInsights(ctx, capped)
	if err != nil {
		log.Error().Err(err).Msg("monitoring: insert insights batch failed")
		state.aborted = true
		state.abortReason = err.Error()
		return
	}
	state.totalInsights = len(insertedIDs)

	inserted := c.phase13BroadcastAndDispatch(ctx, capped, insertedIDs)
	state.incidentsCreated = c.phase14Correlate(ctx, inserted)
}

// phase1Snapshot fetches the endpoint list through the SWR cache, filters
// out circuit-open/degraded endpoints, fans out a bounded per-endpoint
// container fetch, partitions the outcomes, and persists the snapshot
// row. It returns the full endpoint list (for capability lookups in
// later phases) and the containers observed from endpoints that
// responded.
func (c *Cycle) phase1Snapshot(ctx context.Context, state *cycleState) ([]models.Endpoint, []models.Container, error) {
	endpoints, err := c.endpointCache.CachedFetchSWR(ctx, cache.Key("endpoints"), 30*time.Second, func(ctx context.Context) ([]models.Endpoint, error) {
		return c.deps.Inventory.GetEndpoints(ctx)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch endpoints: %w", err)
	}

	var active []models.Endpoint
	for _, ep := range endpoints {
		if c.deps.Inventory.IsCircuitOpen(ep.ID) || c.deps.Inventory.IsEndpointDegraded(ep.ID) {
			state.skippedCb++
			continue
		}
		active = append(active, ep)
	}

	var (
		mu         = &sync.Mutex{}
		containers []models.Container
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(errgroupGoroutineLimit(len(active)))

	for _, ep := range active {
		ep := ep
		g.Go(func() error {
			got, err := c.deps.Inventory.GetContainers(gctx, ep.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if circuit.IsOpenError(err) {
					state.cbSkips++
				} else {
					state.fetchFails++
				}
				return nil
			}
			containers = append(containers, got...)
			return nil
		})
	}
	_ = g.Wait() // per-endpoint errors are already folded into the counters above

	snap := models.MonitoringSnapshot{CreatedAt: time.Now()}
	for _, ctr := range containers {
		switch ctr.State {
		case models.ContainerRunning:
			snap.ContainersRunning++
			if ctr.HealthStatus != "" && ctr.HealthStatus != "healthy" {
				snap.ContainersUnhealthy++
			}
		default:
			snap.ContainersStopped++
		}
	}
	for _, ep := range endpoints {
		if ep.Status == models.EndpointUp {
			snap.EndpointsUp++
		} else {
			snap.EndpointsDown++
		}
	}
	state.snapshot = snap
	if err := c.deps.Store.InsertSnapshot(ctx, snap); err != nil {
		return nil, nil, fmt.Errorf("insert snapshot: %w", err)
	}

	var running []models.Container
	for _, ctr := range containers {
		if ctr.State == models.ContainerRunning {
			running = append(running, ctr)
		}
	}
	return endpoints, running, nil
}

// phase2Metrics reads the latest metric values for running containers on
// liveStats-capable endpoints, in a single batched call. A batch failure
// degrades to an empty map rather than failing the cycle.
func (c *Cycle) phase2Metrics(ctx context.Context, endpoints []models.Endpoint, running []models.Container) map[string]map[models.MetricType]float64 {
	liveStats := make(map[int]bool, len(endpoints))
	for _, ep := range endpoints {
		liveStats[ep.ID] = ep.Capabilities.LiveStats
	}

	var ids []string
	for _, ctr := range running {
		if liveStats[ctr.EndpointID] {
			ids = append(ids, ctr.ID)
		}
	}
	if len(ids) == 0 {
		return map[string]map[models.MetricType]float64{}
	}

	batch, err := c.deps.Store.GetLatestMetricsBatch(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("monitoring: batched metrics read failed, continuing with no metrics")
		return map[string]map[models.MetricType]float64{}
	}
	return batch
}

// phase3SecurityScan runs the pure security scanner over every running
// container. Only the fields the normalized Container view carries
// (image reference, name) are populated on RawContainer: host-config
// checks (privileged, capabilities, user) need a per-container inspect
// call this cycle does not make, since inspecting every container every
// cycle would multiply the fan-out cost phase 1 already bounds.
func (c *Cycle) phase3SecurityScan(running []models.Container) map[string][]security.Finding {
	out := make(map[string][]security.Finding, len(running))
	for _, ctr := range running {
		raw := security.RawContainer{
			ID:    ctr.ID,
			Name:  ctr.Name,
			Image: ctr.Image,
		}
		if findings := security.ScanContainer(raw); len(findings) > 0 {
			out[ctr.ID] = findings
		}
	}
	return out
}

var anomalyMetricTypes = []models.MetricType{models.MetricCPU, models.MetricMemory}

func (c *Cycle) anomalyConfig() anomaly.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return anomaly.Config{
		ZScoreThreshold: c.cfg.AnomalyZScoreThreshold,
		MinSamples:      c.cfg.AnomalyMinSamples,
		Method:          models.DetectionMethod(c.cfg.AnomalyDetectionMethod),
	}
}

func (c *Cycle) cooldownWindow() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.AnomalyCooldownMinutes <= 0 {
		return 0
	}
	return time.Duration(c.cfg.AnomalyCooldownMinutes) * time.Minute
}

// phase4Anomalies builds one BatchDetectionItem per (running container x
// metric type) with an observed value, scores the batch, and emits an
// Insight per cooldown-gated anomalous verdict.
func (c *Cycle) phase4Anomalies(ctx context.Context, running []models.Container, metrics map[string]map[models.MetricType]float64, state *cycleState) []models.Insight {
	cfg := c.anomalyConfig()
	window := c.cooldownWindow()

	var items []anomaly.BatchDetectionItem
	for _, ctr := range running {
		values, ok := metrics[ctr.ID]
		if !ok {
			continue
		}
		for _, mt := range anomalyMetricTypes {
			value, ok := values[mt]
			if !ok {
				continue
			}
			stats, err := c.deps.Store.GetMovingAverage(ctx, ctr.ID, mt, c.movingAverageWindow())
			if err != nil {
				continue
			}
			items = append(items, anomaly.BatchDetectionItem{
				ContainerID:   ctr.ID,
				ContainerName: ctr.Name,
				MetricType:    mt,
				CurrentValue:  value,
				Stats:         stats,
			})
		}
	}

	verdicts := anomaly.DetectBatch(items, cfg)
	byKey := make(map[string]anomaly.BatchDetectionItem, len(items))
	for _, item := range items {
		byKey[item.Key()] = item
	}

	var out []models.Insight
	now := time.Now()
	for key, verdict := range verdicts {
		if !verdict.IsAnomalous {
			continue
		}
		item := byKey[key]
		cooldownKey := anomaly.CooldownKey(item.ContainerID, item.MetricType, "")
		if !c.deps.Cooldown.Allow(cooldownKey, now, window) {
			continue
		}
		state.flagged[key] = true
		out = append(out, models.Insight{
			ID:            uuid.NewString(),
			ContainerID:   item.ContainerID,
			ContainerName: item.ContainerName,
			Severity:      anomaly.SeverityForZScore(verdict.ZScore),
			Category:      "anomaly",
			Title:         fmt.Sprintf("%s anomaly on %s", item.MetricType, item.ContainerName),
			Description:   anomaly.DescribeVerdict(verdict, item.Stats.StdDev),
			CreatedAt:     now,
		})
	}
	return out
}

func (c *Cycle) movingAverageWindow() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.AnomalyMovingAverageWindow <= 0 {
		return 20
	}
	return c.cfg.AnomalyMovingAverageWindow
}

// phase5Threshold applies a hard percentage ceiling independent of the
// statistical detector, for operators who want a guaranteed floor alert
// regardless of a container's historical baseline.
func (c *Cycle) phase5Threshold(ctx context.Context, running []models.Container, metrics map[string]map[models.MetricType]float64, state *cycleState) []models.Insight {
	c.mu.RLock()
	enabled := c.cfg.AnomalyHardThresholdEnabled
	thresholdPct := c.cfg.AnomalyThresholdPct
	c.mu.RUnlock()
	if !enabled {
		return nil
	}
	window := c.cooldownWindow()

	var out []models.Insight
	now := time.Now()
	for _, ctr := range running {
		values, ok := metrics[ctr.ID]
		if !ok {
			continue
		}
		for _, mt := range anomalyMetricTypes {
			value, ok := values[mt]
			if !ok || value <= thresholdPct {
				continue
			}
			key := anomaly.BatchDetectionItem{ContainerID: ctr.ID, MetricType: mt}.Key()
			if state.flagged[key] {
				continue
			}
			cooldownKey := anomaly.CooldownKey(ctr.ID, mt, "threshold")
			if !c.deps.Cooldown.Allow(cooldownKey, now, window) {
				continue
			}
			state.flagged[key] = true
			severity := models.SeverityWarning
			if value > 95 {
				severity = models.SeverityCritical
			}
			out = append(out, models.Insight{
				ID:            uuid.NewString(),
				ContainerID:   ctr.ID,
				ContainerName: ctr.Name,
				Severity:      severity,
				Category:      "threshold",
				Title:         fmt.Sprintf("%s over threshold on %s", mt, ctr.Name),
				Description:   fmt.Sprintf("current=%.1f threshold=%.1f", value, thresholdPct),
				CreatedAt:     now,
			})
		}
	}
	return out
}

// phase6IsolationForest evaluates the joint cpu/memory baseline for
// containers neither phase 4 nor phase 5 already flagged, emitting at
// most one Insight per container.
func (c *Cycle) phase6IsolationForest(ctx context.Context, running []models.Container, metrics map[string]map[models.MetricType]float64, state *cycleState) []models.Insight {
	c.mu.RLock()
	enabled := c.cfg.IsolationForestEnabled
	c.mu.RUnlock()
	if !enabled || c.deps.IsolationIF == nil {
		return nil
	}

	var out []models.Insight
	now := time.Now()
	for _, ctr := range running {
		values, ok := metrics[ctr.ID]
		if !ok {
			continue
		}
		cpuKey := anomaly.BatchDetectionItem{ContainerID: ctr.ID, MetricType: models.MetricCPU}.Key()
		memKey := anomaly.BatchDetectionItem{ContainerID: ctr.ID, MetricType: models.MetricMemory}.Key()
		if state.flagged[cpuKey] || state.flagged[memKey] {
			continue
		}
		cpu, cpuOK := values[models.MetricCPU]
		mem, memOK := values[models.MetricMemory]
		if !cpuOK || !memOK {
			continue
		}

		cpuStats, err := c.deps.Store.GetMovingAverage(ctx, ctr.ID, models.MetricCPU, c.movingAverageWindow())
		if err != nil {
			continue
		}
		memStats, err := c.deps.Store.GetMovingAverage(ctx, ctr.ID, models.MetricMemory, c.movingAverageWindow())
		if err != nil {
			continue
		}

		baseline := anomaly.Baseline2D{
			MeanCPU: cpuStats.Mean, StdCPU: cpuStats.StdDev,
			MeanMem: memStats.Mean, StdMem: memStats.StdDev,
		}
		verdict := c.deps.IsolationIF.Score(ctr.ID, ctr.Name, models.MetricCPU, cpu, cpu, mem, baseline)
		if !verdict.IsAnomalous {
			continue
		}
		out = append(out, models.Insight{
			ID:            uuid.NewString(),
			ContainerID:   ctr.ID,
			ContainerName: ctr.Name,
			Severity:      anomaly.SeverityForZScore(verdict.ZScore),
			Category:      "anomaly",
			Title:         fmt.Sprintf("correlated cpu/memory drift on %s", ctr.Name),
			Description:   anomaly.DescribeVerdict(verdict, (cpuStats.StdDev+memStats.StdDev)/2),
			CreatedAt:     now,
		})
	}
	return out
}

// phase7Predictive forecasts cpu/memory trends for running containers
// and emits a predictive insight for any forecast trending toward a
// threshold breach within the configured horizon.
func (c *Cycle) phase7Predictive(running []models.Container) []models.Insight {
	c.mu.RLock()
	enabled := c.cfg.PredictiveAlertingEnabled
	thresholdHours := c.cfg.PredictiveAlertThresholdHours
	thresholdPct := c.cfg.AnomalyThresholdPct
	c.mu.RUnlock()
	if !enabled || c.deps.Forecaster == nil {
		return nil
	}

	var out []models.Insight
	now := time.Now()
	for _, ctr := range running {
		for _, metric := range []string{"cpu", "memory"} {
			fc, err := c.deps.Forecaster.Forecast(ctr.ID, ctr.Name, metric, 24*time.Hour, thresholdPct)
			if err != nil || fc == nil {
				continue
			}
			if fc.Trend.Direction != forecast.TrendIncreasing || fc.TimeToThreshold == nil {
				continue
			}
			hours := fc.TimeToThreshold.Hours()
			if hours > thresholdHours || confidenceBand(fc.Confidence) == "low" {
				continue
			}

			severity := models.SeverityInfo
			switch {
			case hours < 4:
				severity = models.SeverityCritical
			case hours < 12:
				severity = models.SeverityWarning
			}

			out = append(out, models.Insight{
				ID:            uuid.NewString(),
				ContainerID:   ctr.ID,
				ContainerName: ctr.Name,
				Severity:      severity,
				Category:      "predictive",
				Title:         fmt.Sprintf("%s projected to exceed threshold on %s", metric, ctr.Name),
				Description:   fc.Description,
				CreatedAt:     now,
			})
		}
	}
	return out
}

func confidenceBand(c float64) string {
	switch {
	case c < 0.4:
		return "low"
	case c < 0.7:
		return "medium"
	default:
		return "high"
	}
}

// phase8Explain appends an "AI Analysis: <text>" suffix to anomaly
// insight descriptions when a language-model client is configured and
// enabled, bounded by ANOMALY_EXPLANATION_MAX_PER_CYCLE.
func (c *Cycle) phase8Explain(ctx context.Context, anomalyInsights []models.Insight) []models.Insight {
	c.mu.RLock()
	enabled := c.cfg.AnomalyExplanationEnabled
	max := c.cfg.AnomalyExplanationMaxPerRun
	c.mu.RUnlock()
	if !enabled || c.deps.LM == nil || len(anomalyInsights) == 0 {
		return anomalyInsights
	}

	bounded := anomalyInsights
	if max > 0 && len(bounded) > max {
		bounded = bounded[:max]
	}
	explanations, err := c.deps.LM.ExplainAnomalies(ctx, bounded, max)
	if err != nil {
		log.Warn().Err(err).Msg("monitoring: anomaly explanation failed")
		return anomalyInsights
	}
	for i := range anomalyInsights {
		if text, ok := explanations[anomalyInsights[i].ID]; ok {
			anomalyInsights[i].Description += "\nAI Analysis: " + text
		}
	}
	return anomalyInsights
}

// phase9LogAnalysis delegates to the language-model client for container
// log analysis, when configured and enabled.
func (c *Cycle) phase9LogAnalysis(ctx context.Context, running []models.Container) []models.Insight {
	c.mu.RLock()
	enabled := c.cfg.NLPLogAnalysisEnabled
	maxPerRun := c.cfg.NLPLogAnalysisMaxPerRun
	tailLines := c.cfg.NLPLogAnalysisTailLines
	c.mu.RUnlock()
	if !enabled || c.deps.LM == nil {
		return nil
	}
	insights, err := c.deps.LM.AnalyzeLogs(ctx, running, maxPerRun, tailLines)
	if err != nil {
		log.Warn().Err(err).Msg("monitoring: log analysis failed")
		return nil
	}
	return insights
}

// phase10SecurityInsights converts each security finding into one
// Insight categorized "security:<finding.category>".
func (c *Cycle) phase10SecurityInsights(findings map[string][]security.Finding) []models.Insight {
	var out []models.Insight
	now := time.Now()
	for containerID, fs := range findings {
		for _, f := range fs {
			out = append(out, models.Insight{
				ID:          uuid.NewString(),
				ContainerID: containerID,
				Severity:    models.Severity(f.Severity),
				Category:    "security:" + f.Category,
				Title:       f.Title,
				Description: f.Description,
				CreatedAt:   now,
			})
		}
	}
	return out
}

// phase11AsyncInfraAnalysis fires the infra-wide language-model summary
// in a detached goroutine: it is allowed to outlive phase 15's
// finalization (§5), so it takes context.Background() rather than the
// cycle's own deadline-bound context.
func (c *Cycle) phase11AsyncInfraAnalysis(snapshot models.MonitoringSnapshot) {
	c.mu.RLock()
	enabled := c.cfg.AIAnalysisEnabled
	c.mu.RUnlock()
	if !enabled || c.deps.LM == nil {
		return
	}

	c.asyncWg.Add(1)
	go func() {
		defer c.asyncWg.Done()
		text, err := c.deps.LM.AnalyzeInfra(context.Background(), snapshot)
		if err != nil {
			log.Warn().Err(err).Msg("monitoring: async infra analysis failed")
			return
		}
		insight := models.Insight{
			ID:          uuid.NewString(),
			Severity:    models.SeverityInfo,
			Category:    "ai-analysis",
			Title:       "infrastructure analysis",
			Description: text,
			CreatedAt:   time.Now(),
		}
		if _, err := c.deps.Store.InsertInsights(context.Background(), []models.Insight{insight}); err != nil {
			log.Warn().Err(err).Msg("monitoring: persist ai-analysis insight failed")
			return
		}
		if c.deps.Hub != nil {
			c.deps.Hub.BroadcastJSON(ws.SeverityRoom(string(insight.Severity)), insight)
		}
	}()
}

// phase12Cap concatenates every phase's insights in a stable,
// deterministic order and truncates at MAX_INSIGHTS_PER_CYCLE.
func (c *Cycle) phase12Cap(all []models.Insight) []models.Insight {
	c.mu.RLock()
	max := c.cfg.MaxInsightsPerCycle
	c.mu.RUnlock()
	if max <= 0 || len(all) <= max {
		return all
	}
	log.Info().Int("total", len(all)).Int("max", max).Msg("monitoring: truncating insight batch")
	return all[:max]
}

func concatInsights(groups ...[]models.Insight) []models.Insight {
	var out []models.Insight
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// phase13BroadcastAndDispatch fans the whole capped batch out to the
// websocket hub and the event bus, dispatches notifications for
// critical/warning insights, and persists any action the remediation
// suggester proposes, whether or not the store inserted the insight. Only
// inserted anomaly and non-info predictive insights trigger an
// investigation. It returns only the insights the store actually committed.
func (c *Cycle) phase13BroadcastAndDispatch(ctx context.Context, capped []models.Insight, insertedIDs map[string]struct{}) []models.Insight {
	if c.deps.Hub != nil && len(capped) > 0 {
		c.deps.Hub.BroadcastJSON(ws.RoomAll, capped)
		for _, ins := range capped {
			c.deps.Hub.BroadcastJSON(ws.SeverityRoom(string(ins.Severity)), ins)
		}
	}

	var inserted []models.Insight
	for _, ins := range capped {
		_, wasInserted := insertedIDs[ins.ID]
		if wasInserted {
			inserted = append(inserted, ins)
		}

		if c.deps.Bus != nil {
			eventType := eventbus.EventInsightCreated
			if ins.Category == "anomaly" {
				eventType = eventbus.EventAnomalyDetected
			}
			c.deps.Bus.Emit(eventType, ins)
		}

		if ins.Severity == models.SeverityCritical || ins.Severity == models.SeverityWarning {
			if c.deps.Notifier != nil {
				go c.deps.Notifier.Dispatch(ctx, notify.Notification{
					EventType:     string(ins.Category),
					Title:         ins.Title,
					Body:          ins.Description,
					Severity:      string(ins.Severity),
					ContainerID:   ins.ContainerID,
					ContainerName: ins.ContainerName,
					EndpointID:    ins.EndpointID,
				})
			}
		}

		if wasInserted && (ins.Category == "anomaly" || (ins.Category == "predictive" && ins.Severity != models.SeverityInfo)) {
			if c.deps.Investigator != nil {
				go func(insight models.Insight) {
					if err := c.deps.Investigator.Trigger(context.Background(), insight); err != nil {
						log.Warn().Err(err).Str("insight_id", insight.ID).Msg("monitoring: investigation trigger failed")
					}
				}(ins)
			} else {
				log.Debug().Str("insight_id", ins.ID).Msg("monitoring: investigation trigger skipped, no investigator configured")
			}
		}

		if c.deps.Suggester != nil && c.deps.Actions != nil {
			if candidate := c.deps.Suggester.SuggestAction(ins); candidate != nil {
				go func(a models.Action) {
					if _, err := c.deps.Actions.InsertAction(context.Background(), a); err != nil {
						log.Warn().Err(err).Msg("monitoring: suggested action insert failed")
					}
				}(*candidate)
			}
		}
	}
	return inserted
}

// phase14Correlate groups only the insights the store committed into
// incidents.
func (c *Cycle) phase14Correlate(ctx context.Context, inserted []models.Insight) int {
	if len(inserted) == 0 {
		return 0
	}
	created, err := correlate.CorrelateInsights(ctx, c.deps.Store, inserted)
	if err != nil {
		log.Warn().Err(err).Msg("monitoring: incident correlation failed")
		return created
	}
	log.Info().Int("incidents_created", created).Msg("monitoring: correlation pass complete")
	return created
}

// phase15Finalize always persists the monitoring_cycle row, even when an
// earlier phase aborted the run, and applies delta-based logging against
// the previous cycle's counters.
func (c *Cycle) phase15Finalize(ctx context.Context, state *cycleState, start time.Time) {
	rec := store.CycleRecord{
		DurationMs:             time.Since(start).Milliseconds(),
		InsightsCreated:        state.totalInsights,
		CircuitBreakerSkips:    state.cbSkips,
		PreFilterCircuitSkips:  state.skippedCb,
		ContainerFetchFailures: state.fetchFails,
		Errored:                state.aborted,
	}

	prev, prevErr := c.deps.Store.LastCycle(ctx)
	if err := c.deps.Store.InsertCycle(ctx, rec); err != nil {
		log.Error().Err(err).Msg("monitoring: failed to persist cycle finalization row")
	}

	if c.deps.Hub != nil {
		c.deps.Hub.BroadcastJSON(ws.RoomAll, cycleCompleteEvent{
			Type:          "cycle:complete",
			Duration:      time.Since(start).Seconds(),
			Endpoints:     state.snapshot.EndpointsUp + state.snapshot.EndpointsDown,
			Containers:    state.snapshot.ContainersRunning + state.snapshot.ContainersStopped + state.snapshot.ContainersUnhealthy,
			TotalInsights: state.totalInsights,
		})
	}

	c.statusMu.Lock()
	c.lastCompletedAt = time.Now()
	c.statusMu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.CycleDuration.Observe(time.Since(start).Seconds())
		outcome := "ok"
		if state.aborted {
			outcome = "aborted"
		}
		c.deps.Metrics.CyclesTotal.WithLabelValues(outcome).Inc()
		c.deps.Metrics.InsightsCreatedTotal.Add(float64(state.totalInsights))
		c.deps.Metrics.CircuitBreakerSkips.Add(float64(rec.CircuitBreakerSkips))
		c.deps.Metrics.PreFilterCircuitSkips.Add(float64(rec.PreFilterCircuitSkips))
		c.deps.Metrics.ContainerFetchFailures.Add(float64(rec.ContainerFetchFailures))
		c.deps.Metrics.ContainersTracked.WithLabelValues("running").Set(float64(state.snapshot.ContainersRunning))
		c.deps.Metrics.ContainersTracked.WithLabelValues("stopped").Set(float64(state.snapshot.ContainersStopped))
		c.deps.Metrics.ContainersTracked.WithLabelValues("unhealthy").Set(float64(state.snapshot.ContainersUnhealthy))
	}

	event := log.Debug()
	if prevErr == nil && deltaExceeds(prev, rec) {
		event = log.Info()
	}
	event.
		Int64("duration_ms", rec.DurationMs).
		Int("insights_created", rec.InsightsCreated).
		Int("circuit_breaker_skips", rec.CircuitBreakerSkips).
		Int("pre_filter_circuit_skips", rec.PreFilterCircuitSkips).
		Int("container_fetch_failures", rec.ContainerFetchFailures).
		Bool("aborted", state.aborted).
		Str("abort_reason", state.abortReason).
		Msg("monitoring: cycle complete")
}

// deltaExceeds reports whether any counter in rec changed by more than
// 10% from prev's same-keyed stat, or moved from zero to a positive
// value.
func deltaExceeds(prev *store.CycleRecord, rec store.CycleRecord) bool {
	if prev == nil {
		return true
	}
	return deltaPct(prev.InsightsCreated, rec.InsightsCreated) ||
		deltaPct(prev.CircuitBreakerSkips, rec.CircuitBreakerSkips) ||
		deltaPct(prev.PreFilterCircuitSkips, rec.PreFilterCircuitSkips) ||
		deltaPct(prev.ContainerFetchFailures, rec.ContainerFetchFailures) ||
		deltaPct64(prev.DurationMs, rec.DurationMs)
}

func deltaPct(prev, cur int) bool {
	if prev == 0 {
		return cur > 0
	}
	change := float64(cur-prev) / float64(prev)
	return change > 0.1 || change < -0.1
}

func deltaPct64(prev, cur int64) bool {
	if prev == 0 {
		return cur > 0
	}
	change := float64(cur-prev) / float64(prev)
	return change > 0.1 || change < -0.1
}
