package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/models"
)

// dedupBucketWindow is the bucket width dedupKey truncates CreatedAt to, so
// repeated cycles on a stable fleet collapse onto the same dedup key (§8
// "dedup idempotence").
const dedupBucketWindow = 5 * time.Minute

// dedupKey composes the row-level uniqueness key: category, container,
// a title prefix (first 40 runes, to tolerate minor wording drift across
// cycles), and the time bucket.
func dedupKey(i models.Insight) string {
	prefix := i.Title
	if r := []rune(prefix); len(r) > 40 {
		prefix = string(r[:40])
	}
	bucket := i.CreatedAt.Truncate(dedupBucketWindow).Unix()
	return fmt.Sprintf("%s|%s|%s|%d", i.Category, i.ContainerID, prefix, bucket)
}

// InsertInsight performs a single-row upsert, ignoring the write if the
// dedup key already exists.
func (s *Store) InsertInsight(ctx context.Context, i models.Insight) error {
	_, err := s.insertInsightTx(ctx, s.db, i)
	return err
}

// InsertInsights transactionally batch-inserts insights, returning the set
// of ids that were actually committed. Rows whose dedup key collides with
// an existing row are silently skipped (not an error) and excluded from
// the returned set; any other failure aborts and fails the whole batch
// (§4.5, invariant: "any exception fails the whole batch").
func (s *Store) InsertInsights(ctx context.Context, insights []models.Insight) (map[string]struct{}, error) {
	inserted := make(map[string]struct{}, len(insights))
	if len(insights) == 0 {
		return inserted, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insight batch: %w", err)
	}
	defer tx.Rollback()

	for _, ins := range insights {
		ok, err := s.insertInsightTx(ctx, tx, ins)
		if err != nil {
			return nil, fmt.Errorf("insert insight %s: %w", ins.ID, err)
		}
		if ok {
			inserted[ins.ID] = struct{}{}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insight batch: %w", err)
	}
	return inserted, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// insertInsightTx returns (true, nil) if the row was newly inserted, or
// (false, nil) if it was skipped by the dedup constraint.
func (s *Store) insertInsightTx(ctx context.Context, x execer, i models.Insight) (bool, error) {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	res, err := x.ExecContext(ctx, `
		INSERT INTO insights (id, endpoint_id, endpoint_name, container_id, container_name, severity, category, title, description, suggested_action, dedup_key, is_acknowledged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(dedup_key) DO NOTHING
	`, i.ID, nullableInt(i.EndpointID), nullableString(i.EndpointName), nullableString(i.ContainerID),
		nullableString(i.ContainerName), string(i.Severity), i.Category, i.Title, i.Description,
		nullableString(i.SuggestedAction), dedupKey(i), i.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetRecentInsights returns insights created within the last `minutes`.
func (s *Store) GetRecentInsights(ctx context.Context, minutes int) ([]models.Insight, error) {
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint_id, endpoint_name, container_id, container_name, severity, category, title, description, suggested_action, is_acknowledged, created_at
		FROM insights WHERE created_at >= ? ORDER BY created_at DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recent insights: %w", err)
	}
	defer rows.Close()

	var out []models.Insight
	for rows.Next() {
		var i models.Insight
		var endpointID sql.NullInt64
		var endpointName, containerID, containerName, suggestedAction sql.NullString
		var ack int
		if err := rows.Scan(&i.ID, &endpointID, &endpointName, &containerID, &containerName,
			&i.Severity, &i.Category, &i.Title, &i.Description, &suggestedAction, &ack, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		if endpointID.Valid {
			v := int(endpointID.Int64)
			i.EndpointID = &v
		}
		i.EndpointName = endpointName.String
		i.ContainerID = containerID.String
		i.ContainerName = containerName.String
		i.SuggestedAction = suggestedAction.String
		i.IsAcknowledged = ack != 0
		out = append(out, i)
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
