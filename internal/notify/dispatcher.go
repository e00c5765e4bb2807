package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/store"
)

// Notification is one event the dispatcher attempts to deliver across
// every enabled channel.
type Notification struct {
	EventType     string
	Title         string
	Body          string
	Severity      string
	ContainerID   string
	ContainerName string
	EndpointID    *int
}

// Channel identifies one of the four supported delivery mechanisms.
type Channel string

const (
	ChannelTeams    Channel = "teams"
	ChannelDiscord  Channel = "discord"
	ChannelTelegram Channel = "telegram"
	ChannelEmail    Channel = "email"
)

// ChannelSender delivers a Notification over one channel.
type ChannelSender interface {
	Send(ctx context.Context, n Notification) error
}

// SettingsStore resolves a per-channel DB override; ErrSettingNotFound (or
// any error) means "fall back to the static config".
type SettingsStore interface {
	GetSettingRaw(ctx context.Context, key string) (string, error)
}

// NotificationLogger persists the outcome of one delivery attempt.
type NotificationLogger interface {
	InsertNotificationLog(ctx context.Context, entry store.NotificationLogEntry) error
}

// Dispatcher fans a Notification out to every enabled channel, applying
// cooldown suppression and writing a notification_log row per attempt.
type Dispatcher struct {
	senders  map[Channel]ChannelSender
	enabled  map[Channel]bool
	settings SettingsStore
	logger   NotificationLogger
	cooldown *cooldownTracker
}

// NewDispatcher builds a Dispatcher. enabled gives the static config
// fallback for each channel present in senders; settings may be nil to
// skip DB-override lookups entirely.
func NewDispatcher(senders map[Channel]ChannelSender, enabled map[Channel]bool, settings SettingsStore, logger NotificationLogger) *Dispatcher {
	return &Dispatcher{
		senders:  senders,
		enabled:  enabled,
		settings: settings,
		logger:   logger,
		cooldown: newCooldownTracker(CooldownWindow),
	}
}

// SetCooldownWindow reconfigures the shared cooldown window, e.g. from
// ANOMALY_COOLDOWN_MINUTES.
func (d *Dispatcher) SetCooldownWindow(windowEnabled bool, minutes int) {
	if !windowEnabled || minutes <= 0 {
		d.cooldown.SetWindow(0)
		return
	}
	d.cooldown.SetWindow(time.Duration(minutes) * time.Minute)
}

// SweepCooldowns drops stale cooldown entries; call on a 15-minute ticker.
func (d *Dispatcher) SweepCooldowns() {
	d.cooldown.Sweep()
}

// settingKey returns the DB override key for a channel's enablement flag,
// e.g. "notify_teams_enabled".
func settingKey(ch Channel) string {
	return fmt.Sprintf("notify_%s_enabled", ch)
}

func (d *Dispatcher) channelEnabled(ctx context.Context, ch Channel) bool {
	if d.settings != nil {
		if raw, err := d.settings.GetSettingRaw(ctx, settingKey(ch)); err == nil {
			return raw == "true" || raw == "1"
		}
	}
	return d.enabled[ch]
}

// Dispatch attempts delivery over every enabled channel. It never returns
// an error: individual channel failures are written to the
// notification_log and otherwise swallowed, per the fire-and-forget
// notification policy.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	if d.cooldown.Active(n.ContainerID, n.EventType) {
		return
	}

	var delivered bool
	for ch, sender := range d.senders {
		if !d.channelEnabled(ctx, ch) {
			continue
		}

		err := sender.Send(ctx, n)
		status := "sent"
		errMsg := ""
		if err != nil {
			status = "failed"
			errMsg = err.Error()
		} else {
			delivered = true
		}

		if d.logger != nil {
			_ = d.logger.InsertNotificationLog(ctx, store.NotificationLogEntry{
				Channel:       string(ch),
				EventType:     n.EventType,
				Title:         n.Title,
				Body:          n.Body,
				Severity:      n.Severity,
				ContainerID:   n.ContainerID,
				ContainerName: n.ContainerName,
				EndpointID:    n.EndpointID,
				Status:        status,
				Error:         errMsg,
			})
		}
	}

	if delivered {
		d.cooldown.Record(n.ContainerID, n.EventType)
	}
}
