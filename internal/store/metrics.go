package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fleetsentry/sentinel/internal/models"
)

// RollupTable names the table and column pair a range query should hit.
type RollupTable struct {
	Table        string
	TimestampCol string
	ValueCol     string
}

const (
	rollupRawWindow   = 6 * time.Hour
	rollup5MinWindow  = 7 * 24 * time.Hour
	rollup1HourWindow = 90 * 24 * time.Hour
)

// SelectRollupTable picks the rollup table for a [from, now) range,
// boundaries inclusive on the lower side (§6, §8): exactly 6h still uses
// the raw table, 6h+epsilon crosses into metrics_5min, and so on. Monotone
// in now-from: widening the range never selects a finer-grained table.
func SelectRollupTable(from, now time.Time) RollupTable {
	age := now.Sub(from)
	switch {
	case age <= rollupRawWindow:
		return RollupTable{Table: "metrics", TimestampCol: "timestamp", ValueCol: "value"}
	case age <= rollup5MinWindow:
		return RollupTable{Table: "metrics_5min", TimestampCol: "bucket", ValueCol: "avg_value"}
	case age <= rollup1HourWindow:
		return RollupTable{Table: "metrics_1hour", TimestampCol: "bucket", ValueCol: "avg_value"}
	default:
		return RollupTable{Table: "metrics_1day", TimestampCol: "bucket", ValueCol: "avg_value"}
	}
}

// RangeSample is one point from a rollup range query.
type RangeSample struct {
	Timestamp time.Time
	Value     float64
}

// QueryRange reads (timestamp, value) pairs for containerID/metricType over
// [from, now) from whichever rollup table SelectRollupTable names. The
// table/column names are chosen internally, never from caller input, so
// this is not subject to SQL injection via the selector.
func (s *Store) QueryRange(ctx context.Context, containerID string, metricType models.MetricType, from, now time.Time) ([]RangeSample, error) {
	t := SelectRollupTable(from, now)
	query := fmt.Sprintf(`
		SELECT %s, %s FROM %s
		WHERE container_id = ? AND metric_type = ? AND %s >= ? AND %s < ?
		ORDER BY %s ASC
	`, t.TimestampCol, t.ValueCol, t.Table, t.TimestampCol, t.TimestampCol, t.TimestampCol)

	rows, err := s.db.QueryContext(ctx, query, containerID, string(metricType), from, now)
	if err != nil {
		return nil, fmt.Errorf("query range from %s: %w", t.Table, err)
	}
	defer rows.Close()

	var out []RangeSample
	for rows.Next() {
		var sample RangeSample
		if err := rows.Scan(&sample.Timestamp, &sample.Value); err != nil {
			return nil, fmt.Errorf("scan range sample: %w", err)
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

// GetMovingAverage computes mean/std_dev/sample_count over the most recent
// windowSize raw samples for a container+metric.
func (s *Store) GetMovingAverage(ctx context.Context, containerID string, metricType models.MetricType, windowSize int) (models.MovingAverageStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value FROM (
			SELECT value FROM metrics WHERE container_id = ? AND metric_type = ?
			ORDER BY timestamp DESC LIMIT ?
		)
	`, containerID, string(metricType), windowSize)
	if err != nil {
		return models.MovingAverageStats{}, fmt.Errorf("query moving average samples: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return models.MovingAverageStats{}, fmt.Errorf("scan moving average sample: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return models.MovingAverageStats{}, err
	}

	return computeStats(values), nil
}

func computeStats(values []float64) models.MovingAverageStats {
	n := len(values)
	if n == 0 {
		return models.MovingAverageStats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sqDiffSum float64
	for _, v := range values {
		d := v - mean
		sqDiffSum += d * d
	}
	stdDev := math.Sqrt(sqDiffSum / float64(n))

	return models.MovingAverageStats{Mean: mean, StdDev: stdDev, SampleCount: n}
}

// GetLatestMetricsBatch issues a single query covering every container and
// metric type rather than N per-container queries (§4.3 phase 2: "issue
// one batched metrics read instead of N per-container reads"), returning
// the most recent value per (containerId, metricType).
func (s *Store) GetLatestMetricsBatch(ctx context.Context, containerIDs []string) (map[string]map[models.MetricType]float64, error) {
	out := make(map[string]map[models.MetricType]float64, len(containerIDs))
	if len(containerIDs) == 0 {
		return out, nil
	}

	placeholders := make([]interface{}, len(containerIDs))
	marks := make([]byte, 0, len(containerIDs)*2)
	for i, id := range containerIDs {
		placeholders[i] = id
		if i > 0 {
			marks = append(marks, ',')
		}
		marks = append(marks, '?')
	}

	query := fmt.Sprintf(`
		SELECT m.container_id, m.metric_type, m.value
		FROM metrics m
		JOIN (
			SELECT container_id, metric_type, MAX(timestamp) AS max_ts
			FROM metrics WHERE container_id IN (%s)
			GROUP BY container_id, metric_type
		) latest ON m.container_id = latest.container_id AND m.metric_type = latest.metric_type AND m.timestamp = latest.max_ts
	`, string(marks))

	rows, err := s.db.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("query latest metrics batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var containerID string
		var metricType models.MetricType
		var value float64
		if err := rows.Scan(&containerID, &metricType, &value); err != nil {
			return nil, fmt.Errorf("scan latest metric: %w", err)
		}
		if out[containerID] == nil {
			out[containerID] = make(map[models.MetricType]float64)
		}
		out[containerID][metricType] = value
	}
	return out, rows.Err()
}
