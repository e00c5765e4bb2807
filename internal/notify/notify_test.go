package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetsentry/sentinel/internal/store"
)

type fakeSender struct {
	err   error
	calls int
}

func (f *fakeSender) Send(ctx context.Context, n Notification) error {
	f.calls++
	return f.err
}

type fakeLogger struct {
	entries []store.NotificationLogEntry
}

func (f *fakeLogger) InsertNotificationLog(ctx context.Context, entry store.NotificationLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestDispatch_RecordsCooldownOnlyOnSuccess(t *testing.T) {
	sender := &fakeSender{err: errors.New("boom")}
	logger := &fakeLogger{}
	d := NewDispatcher(
		map[Channel]ChannelSender{ChannelTeams: sender},
		map[Channel]bool{ChannelTeams: true},
		nil, logger,
	)

	n := Notification{EventType: "insight.created", ContainerID: "c1"}
	d.Dispatch(context.Background(), n)
	d.Dispatch(context.Background(), n)

	if sender.calls != 2 {
		t.Fatalf("expected 2 delivery attempts since failures never arm cooldown, got %d", sender.calls)
	}
	if len(logger.entries) != 2 || logger.entries[0].Status != "failed" {
		t.Fatalf("expected 2 failed log entries, got %+v", logger.entries)
	}
}

func TestDispatch_SuccessArmsCooldown(t *testing.T) {
	sender := &fakeSender{}
	logger := &fakeLogger{}
	d := NewDispatcher(
		map[Channel]ChannelSender{ChannelTeams: sender},
		map[Channel]bool{ChannelTeams: true},
		nil, logger,
	)

	n := Notification{EventType: "insight.created", ContainerID: "c1"}
	d.Dispatch(context.Background(), n)
	d.Dispatch(context.Background(), n)

	if sender.calls != 1 {
		t.Fatalf("expected second dispatch to be suppressed by cooldown, got %d calls", sender.calls)
	}
	if len(logger.entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logger.entries))
	}
}

func TestDispatch_DisabledChannelNeverSends(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(
		map[Channel]ChannelSender{ChannelDiscord: sender},
		map[Channel]bool{ChannelDiscord: false},
		nil, nil,
	)
	d.Dispatch(context.Background(), Notification{EventType: "anomaly.detected", ContainerID: "c2"})
	if sender.calls != 0 {
		t.Fatalf("expected disabled channel to never be called, got %d calls", sender.calls)
	}
}

func TestCooldownTracker_ActiveWithinWindow(t *testing.T) {
	tr := newCooldownTracker(CooldownWindow)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.nowFn = func() time.Time { return now }

	tr.Record("c1", "insight.created")
	if !tr.Active("c1", "insight.created") {
		t.Fatal("expected cooldown active immediately after recording")
	}

	tr.nowFn = func() time.Time { return now.Add(CooldownWindow + time.Second) }
	if tr.Active("c1", "insight.created") {
		t.Fatal("expected cooldown to expire after the window elapses")
	}
}

func TestValidateTeamsWebhookURL(t *testing.T) {
	if err := ValidateTeamsWebhookURL("https://contoso.webhook.office.com/xyz"); err != nil {
		t.Fatalf("expected valid teams url, got %v", err)
	}
	if err := ValidateTeamsWebhookURL("http://contoso.webhook.office.com/xyz"); err == nil {
		t.Fatal("expected http scheme to be rejected")
	}
	if err := ValidateTeamsWebhookURL("https://evil.example.com/xyz"); err == nil {
		t.Fatal("expected wrong host to be rejected")
	}
}

func TestValidateDiscordWebhookURL(t *testing.T) {
	if err := ValidateDiscordWebhookURL("https://discord.com/api/webhooks/123/abc"); err != nil {
		t.Fatalf("expected valid discord url, got %v", err)
	}
	if err := ValidateDiscordWebhookURL("https://discord.com/not-webhooks/123"); err == nil {
		t.Fatal("expected wrong path to be rejected")
	}
}

func TestValidateTelegramBotToken(t *testing.T) {
	if err := ValidateTelegramBotToken("123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZ01234"); err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if err := ValidateTelegramBotToken("not-a-token"); err == nil {
		t.Fatal("expected malformed token to be rejected")
	}
}

type fakeResolver struct {
	addrs []string
	err   error
}

func (f *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return f.addrs, f.err
}

func TestValidateSMTPHost_RejectsPrivateRanges(t *testing.T) {
	cases := []string{"10.0.0.5", "172.16.0.1", "192.168.1.1", "127.0.0.1", "169.254.1.1"}
	for _, addr := range cases {
		resolver := &fakeResolver{addrs: []string{addr}}
		if err := ValidateSMTPHost(context.Background(), resolver, "mail.example.com"); err == nil {
			t.Fatalf("expected %s to be rejected", addr)
		}
	}
}

func TestValidateSMTPHost_AllowsPublicAddress(t *testing.T) {
	resolver := &fakeResolver{addrs: []string{"93.184.216.34"}}
	if err := ValidateSMTPHost(context.Background(), resolver, "mail.example.com"); err != nil {
		t.Fatalf("expected public address to be allowed, got %v", err)
	}
}

func TestValidateSMTPHost_RejectsLocalNames(t *testing.T) {
	resolver := &fakeResolver{addrs: []string{"93.184.216.34"}}
	if err := ValidateSMTPHost(context.Background(), resolver, "localhost"); err == nil {
		t.Fatal("expected localhost to be rejected")
	}
	if err := ValidateSMTPHost(context.Background(), resolver, "printer.local"); err == nil {
		t.Fatal("expected .local host to be rejected")
	}
}

func TestMatchesAnyEventType(t *testing.T) {
	if !matchesAnyEventType("remediation.approved", []string{"remediation.*"}) {
		t.Fatal("expected prefix wildcard to match")
	}
	if !matchesAnyEventType("anything.at.all", []string{"*"}) {
		t.Fatal("expected bare wildcard to match everything")
	}
	if matchesAnyEventType("insight.created", []string{"remediation.*"}) {
		t.Fatal("expected non-matching prefix to not match")
	}
}
