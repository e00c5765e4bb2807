// Package notify dispatches operator-facing notifications (teams, email,
// discord, telegram) and signed webhook deliveries, enforcing per-channel
// SSRF protections and a shared cooldown so a noisy container cannot spam
// every configured destination on every cycle.
package notify

import "time"

// ChannelConfig is the static, config-file fallback for one notification
// channel. Settings stored in the database (via SettingsStore) override
// only the per-channel enabled flags; every other field, SMTPHost
// included, comes from this config alone.
type ChannelConfig struct {
	TeamsEnabled    bool
	TeamsWebhookURL string

	DiscordEnabled    bool
	DiscordWebhookURL string

	TelegramEnabled  bool
	TelegramBotToken string
	TelegramChatID   string

	EmailEnabled bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPass     string
	SMTPFrom     string
	SMTPTo       []string
}

// CooldownWindow is the spec-mandated 15-minute suppression window per
// "containerId:eventType" pair.
const CooldownWindow = 15 * time.Minute
