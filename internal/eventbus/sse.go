package eventbus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookEvent is the DTO a domain event is translated into before it
// reaches an HTTP client over SSE or a webhook delivery (§4.6, §6).
type WebhookEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func toWebhookEvent(ev DomainEvent) WebhookEvent {
	return WebhookEvent{Type: string(ev.Type), Data: ev.Data, Timestamp: ev.Timestamp}
}

// ServeSSE exposes the bus read-only to HTTP clients: every event matching
// pattern is written as a Server-Sent Event, and a heartbeat comment is
// written every 30s so idle proxies don't close the connection.
func (b *Bus) ServeSSE(pattern string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		events := make(chan WebhookEvent, 32)
		unsub := b.On(pattern, func(ev DomainEvent) {
			select {
			case events <- toWebhookEvent(ev):
			default:
			}
		})
		defer unsub()

		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
			case ev := <-events:
				b, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", b)
				flusher.Flush()
			}
		}
	}
}
