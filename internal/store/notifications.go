package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationLogEntry mirrors the required notification_log row shape
// (§4.8): one row per delivery attempt regardless of outcome.
type NotificationLogEntry struct {
	Channel       string
	EventType     string
	Title         string
	Body          string
	Severity      string
	ContainerID   string
	ContainerName string
	EndpointID    *int
	Status        string // "sent" | "failed"
	Error         string
}

// InsertNotificationLog records one delivery attempt.
func (s *Store) InsertNotificationLog(ctx context.Context, entry NotificationLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_log (id, channel, event_type, title, body, severity, container_id, container_name, endpoint_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), entry.Channel, entry.EventType, nullableString(entry.Title), nullableString(entry.Body),
		nullableString(entry.Severity), nullableString(entry.ContainerID), nullableString(entry.ContainerName),
		nullableInt(entry.EndpointID), entry.Status, nullableString(entry.Error), time.Now())
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}
