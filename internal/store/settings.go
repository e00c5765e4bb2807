package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/safety"
)

// Setting is one row as it reaches an API response: Value is either the
// real value, nil (no value set), or the fixed redaction marker.
type Setting struct {
	Key   string
	Value *string
}

// PutSetting writes (or overwrites) a setting value. Writers go through
// the DB layer directly — no redaction happens on write, only on read.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// GetSettingRaw returns the unredacted value. Intended only for internal
// callers (e.g. the notification dispatcher resolving its own config),
// never for anything that serializes the result to an HTTP response.
func (s *Store) GetSettingRaw(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value.String, nil
}

// ListSettingsRedacted returns every setting with sensitive values replaced
// by the fixed redaction marker (§3 invariant 4, §8: "r.value ∈ {null,
// REDACTED}"). This is the only settings read path safe to serialize into
// an API response.
func (s *Store) ListSettingsRedacted(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		row := Setting{Key: key}
		if value.Valid {
			redacted := safety.RedactSettingValue(key, value.String)
			row.Value = &redacted
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
