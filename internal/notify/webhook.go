package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/fleetsentry/sentinel/internal/store"
	"github.com/google/uuid"
)

const webhookDeliveryTimeout = 10 * time.Second

// WebhookRegistry is the subset of *store.Store a WebhookDispatcher needs.
type WebhookRegistry interface {
	ListEnabledWebhooks(ctx context.Context) ([]store.Webhook, error)
	InsertWebhookDelivery(ctx context.Context, webhookID, eventType string, statusCode int, deliveryErr string) error
}

// WebhookDispatcher delivers HMAC-signed event payloads to every
// registered webhook whose EventTypes match the firing event, per spec.md
// §6's signature header contract.
type WebhookDispatcher struct {
	registry   WebhookRegistry
	httpClient *http.Client
}

func NewWebhookDispatcher(registry WebhookRegistry) *WebhookDispatcher {
	client := &http.Client{
		Timeout: webhookDeliveryTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &WebhookDispatcher{registry: registry, httpClient: client}
}

// Dispatch delivers payload to every enabled webhook subscribed to
// eventType, either by exact match, "*", or a "<prefix>.*" wildcard.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, eventType string, payload interface{}) {
	targets, err := d.registry.ListEnabledWebhooks(ctx)
	if err != nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	for _, target := range targets {
		if !matchesAnyEventType(eventType, target.EventTypes) {
			continue
		}
		d.deliver(ctx, target, eventType, body)
	}
}

func matchesAnyEventType(eventType string, patterns []string) bool {
	for _, p := range patterns {
		if p == eventType || wildcard.Match(p, eventType) {
			return true
		}
	}
	return false
}

func (d *WebhookDispatcher) deliver(ctx context.Context, target store.Webhook, eventType string, body []byte) {
	deliveryID := uuid.NewString()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		_ = d.registry.InsertWebhookDelivery(ctx, target.ID, eventType, 0, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", eventType)
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	if target.Secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+signBody(target.Secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		_ = d.registry.InsertWebhookDelivery(ctx, target.ID, eventType, 0, err.Error())
		return
	}
	defer resp.Body.Close()

	errMsg := ""
	if resp.StatusCode >= 300 {
		errMsg = fmt.Sprintf("webhook endpoint returned status %d", resp.StatusCode)
	}
	_ = d.registry.InsertWebhookDelivery(ctx, target.ID, eventType, resp.StatusCode, errMsg)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
