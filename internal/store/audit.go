package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/actions"
	"github.com/fleetsentry/sentinel/internal/audit"
	"github.com/google/uuid"
)

// AuditStore persists audit_log rows and implements actions.AuditLogger.
// When signer is non-nil and has signing enabled, every row is stored with
// an HMAC signature over its fields so tampering with the database file
// directly is detectable.
type AuditStore struct {
	store  *Store
	signer *audit.Signer
}

// NewAuditStore wraps store for use as an actions.AuditLogger. signer may
// be nil, in which case rows are stored unsigned.
func NewAuditStore(store *Store, signer *audit.Signer) *AuditStore {
	return &AuditStore{store: store, signer: signer}
}

var _ actions.AuditLogger = (*AuditStore)(nil)

// Log writes one audit_log row. Details is marshaled as a JSON object;
// a nil map is stored as "{}".
func (a *AuditStore) Log(ctx context.Context, entry actions.AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	id := uuid.NewString()
	createdAt := time.Now()

	var signature string
	if a.signer != nil {
		signature = a.signer.Sign(audit.Event{
			ID:         id,
			Timestamp:  createdAt,
			Action:     entry.Action,
			UserID:     entry.UserID,
			Username:   entry.Username,
			TargetType: entry.TargetType,
			TargetID:   entry.TargetID,
			IPAddress:  entry.IPAddress,
			RequestID:  entry.RequestID,
			Details:    string(raw),
		})
	}

	_, err = a.store.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, username, action, target_type, target_id, request_id, ip_address, details, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, nullableString(entry.UserID), nullableString(entry.Username), entry.Action,
		entry.TargetType, entry.TargetID, nullableString(entry.RequestID), nullableString(entry.IPAddress),
		string(raw), nullableString(signature), createdAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
