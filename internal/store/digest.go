package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/models"
	"github.com/fleetsentry/sentinel/internal/report"
)

// ListIncidentsSince returns incidents created at or after since, most
// recent first.
func (s *Store) ListIncidentsSince(ctx context.Context, since time.Time) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, severity, root_cause_insight_id, related_insight_ids, affected_containers, correlation_type, correlation_confidence, insight_count, created_at
		FROM incidents WHERE created_at >= ? ORDER BY created_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list incidents since: %w", err)
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		var inc models.Incident
		var rootCause sql.NullString
		var relatedRaw, affectedRaw string
		if err := rows.Scan(&inc.ID, &inc.Title, &inc.Severity, &rootCause, &relatedRaw, &affectedRaw,
			&inc.CorrelationType, &inc.CorrelationConfidence, &inc.InsightCount, &inc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.RootCauseInsightID = rootCause.String
		if err := json.Unmarshal([]byte(relatedRaw), &inc.RelatedInsightIDs); err != nil {
			return nil, fmt.Errorf("unmarshal related_insight_ids: %w", err)
		}
		if err := json.Unmarshal([]byte(affectedRaw), &inc.AffectedContainers); err != nil {
			return nil, fmt.Errorf("unmarshal affected_containers: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// ListActionsSince returns actions created at or after since, most recent
// first.
func (s *Store) ListActionsSince(ctx context.Context, since time.Time) ([]models.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, insight_id, endpoint_id, container_id, container_name, action_type, rationale, status,
		       approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
		       executed_at, completed_at, execution_result, execution_duration_ms
		FROM actions WHERE created_at >= ? ORDER BY created_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list actions since: %w", err)
	}
	defer rows.Close()

	var out []models.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// RecentDigestData assembles a report.DigestData for the window starting
// at since, implementing api.DigestSource without internal/api needing to
// depend on internal/store's schema directly.
func (s *Store) RecentDigestData(ctx context.Context, since time.Time) (report.DigestData, error) {
	minutes := int(time.Since(since).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	insights, err := s.GetRecentInsights(ctx, minutes)
	if err != nil {
		return report.DigestData{}, fmt.Errorf("recent digest insights: %w", err)
	}
	incidents, err := s.ListIncidentsSince(ctx, since)
	if err != nil {
		return report.DigestData{}, fmt.Errorf("recent digest incidents: %w", err)
	}
	actionsList, err := s.ListActionsSince(ctx, since)
	if err != nil {
		return report.DigestData{}, fmt.Errorf("recent digest actions: %w", err)
	}

	return report.DigestData{
		Insights:  insights,
		Incidents: incidents,
		Actions:   actionsList,
	}, nil
}
