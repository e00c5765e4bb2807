package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/models"
)

// InsertIncident stores an incident, marshaling related_insight_ids and
// affected_containers as JSON arrays. Callers must receive them back as
// native []string, never as a JSON-encoded string (§4.5, §6: "JSONB
// storage... must not double-encode").
func (s *Store) InsertIncident(ctx context.Context, inc models.Incident) error {
	related, err := json.Marshal(stringsOrEmpty(inc.RelatedInsightIDs))
	if err != nil {
		return fmt.Errorf("marshal related_insight_ids: %w", err)
	}
	affected, err := json.Marshal(stringsOrEmpty(inc.AffectedContainers))
	if err != nil {
		return fmt.Errorf("marshal affected_containers: %w", err)
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, title, severity, root_cause_insight_id, related_insight_ids, affected_containers, correlation_type, correlation_confidence, insight_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inc.ID, inc.Title, string(inc.Severity), nullableString(inc.RootCauseInsightID),
		string(related), string(affected), string(inc.CorrelationType), string(inc.CorrelationConfidence),
		inc.InsightCount, inc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// GetIncident reads back an incident, deserializing the JSONB array
// columns into native []string slices preserving insertion order.
func (s *Store) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, severity, root_cause_insight_id, related_insight_ids, affected_containers, correlation_type, correlation_confidence, insight_count, created_at
		FROM incidents WHERE id = ?
	`, id)

	var inc models.Incident
	var rootCause sql.NullString
	var relatedRaw, affectedRaw string
	if err := row.Scan(&inc.ID, &inc.Title, &inc.Severity, &rootCause, &relatedRaw, &affectedRaw,
		&inc.CorrelationType, &inc.CorrelationConfidence, &inc.InsightCount, &inc.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query incident: %w", err)
	}
	inc.RootCauseInsightID = rootCause.String

	if err := json.Unmarshal([]byte(relatedRaw), &inc.RelatedInsightIDs); err != nil {
		return nil, fmt.Errorf("unmarshal related_insight_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(affectedRaw), &inc.AffectedContainers); err != nil {
		return nil, fmt.Errorf("unmarshal affected_containers: %w", err)
	}
	return &inc, nil
}

func stringsOrEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
