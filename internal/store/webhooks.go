package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Webhook is a registered delivery target (§6 persisted state: "webhooks").
type Webhook struct {
	ID         string
	URL        string
	Secret     string
	EventTypes []string
	Enabled    bool
	CreatedAt  time.Time
}

// InsertWebhook registers a new webhook target.
func (s *Store) InsertWebhook(ctx context.Context, w Webhook) (*Webhook, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	eventTypes, err := json.Marshal(stringsOrEmpty(w.EventTypes))
	if err != nil {
		return nil, fmt.Errorf("marshal webhook event types: %w", err)
	}
	w.CreatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, url, secret, event_types, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.ID, w.URL, w.Secret, string(eventTypes), boolToInt(w.Enabled), w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	return &w, nil
}

// ListEnabledWebhooks returns every webhook registration with enabled = 1.
func (s *Store) ListEnabledWebhooks(ctx context.Context) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, secret, event_types, enabled, created_at FROM webhooks WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []Webhook
	for rows.Next() {
		var w Webhook
		var eventTypesRaw string
		var enabled int
		var secret sql.NullString
		if err := rows.Scan(&w.ID, &w.URL, &secret, &eventTypesRaw, &enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		w.Secret = secret.String
		w.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(eventTypesRaw), &w.EventTypes); err != nil {
			return nil, fmt.Errorf("unmarshal webhook event types: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// InsertWebhookDelivery records the outcome of one delivery attempt.
func (s *Store) InsertWebhookDelivery(ctx context.Context, webhookID, eventType string, statusCode int, deliveryErr string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, status_code, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), webhookID, eventType, statusCode, nullableString(deliveryErr), time.Now())
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// EventTypeDescription pairs a recognized event type with a short
// human-readable description (§6: GET /api/webhooks/event-types).
type EventTypeDescription struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// SupportedEventTypes is the fixed catalog of webhook-subscribable event
// types, including the wildcard forms.
var SupportedEventTypes = []EventTypeDescription{
	{Type: "insight.created", Description: "A new insight was created during a monitoring cycle"},
	{Type: "anomaly.detected", Description: "A statistical or multivariate anomaly was flagged"},
	{Type: "container.state_change", Description: "A container transitioned between running/stopped/unhealthy states"},
	{Type: "remediation.requested", Description: "A remediation action was suggested"},
	{Type: "remediation.approved", Description: "An operator approved a remediation action"},
	{Type: "remediation.rejected", Description: "An operator rejected a remediation action"},
	{Type: "remediation.completed", Description: "A remediation action finished executing"},
	{Type: "*", Description: "Every event type"},
	{Type: "<prefix>.*", Description: "Every event type under a given namespace, e.g. remediation.*"},
}
