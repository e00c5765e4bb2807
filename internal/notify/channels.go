package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

const channelHTTPTimeout = 10 * time.Second

// TeamsSender posts an Adaptive-Card-shaped payload to a validated Teams
// incoming webhook URL.
type TeamsSender struct {
	WebhookURL string
	httpClient *http.Client
}

// NewTeamsSender validates webhookURL up front; a misconfigured URL never
// makes it into the channel map.
func NewTeamsSender(webhookURL string) (*TeamsSender, error) {
	if err := ValidateTeamsWebhookURL(webhookURL); err != nil {
		return nil, err
	}
	return &TeamsSender{WebhookURL: webhookURL, httpClient: &http.Client{Timeout: channelHTTPTimeout}}, nil
}

func (s *TeamsSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(map[string]interface{}{
		"@type":    "MessageCard",
		"@context": "http://schema.org/extensions",
		"summary":  n.Title,
		"title":    n.Title,
		"text":     n.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal teams payload: %w", err)
	}
	return postJSON(ctx, s.httpClient, s.WebhookURL, body)
}

// DiscordSender posts a message to a validated Discord webhook URL.
type DiscordSender struct {
	WebhookURL string
	httpClient *http.Client
}

func NewDiscordSender(webhookURL string) (*DiscordSender, error) {
	if err := ValidateDiscordWebhookURL(webhookURL); err != nil {
		return nil, err
	}
	return &DiscordSender{WebhookURL: webhookURL, httpClient: &http.Client{Timeout: channelHTTPTimeout}}, nil
}

func (s *DiscordSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(map[string]interface{}{
		"content": fmt.Sprintf("**%s**\n%s", n.Title, n.Body),
	})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	return postJSON(ctx, s.httpClient, s.WebhookURL, body)
}

// TelegramSender posts to the Telegram Bot API sendMessage endpoint.
type TelegramSender struct {
	BotToken   string
	ChatID     string
	httpClient *http.Client
}

func NewTelegramSender(botToken, chatID string) (*TelegramSender, error) {
	if err := ValidateTelegramBotToken(botToken); err != nil {
		return nil, err
	}
	return &TelegramSender{BotToken: botToken, ChatID: chatID, httpClient: &http.Client{Timeout: channelHTTPTimeout}}, nil
}

func (s *TelegramSender) Send(ctx context.Context, n Notification) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.BotToken)
	body, err := json.Marshal(map[string]interface{}{
		"chat_id": s.ChatID,
		"text":    fmt.Sprintf("%s\n%s", n.Title, n.Body),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}
	return postJSON(ctx, s.httpClient, endpoint, body)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailSender delivers over SMTP. The host is validated once at
// construction via ValidateSMTPHost and is never re-read from settings, so
// a runtime DB override cannot redirect mail to an internal address.
type EmailSender struct {
	Host string
	Port int
	User string
	Pass string
	From string
	To   []string
}

func NewEmailSender(ctx context.Context, resolver hostResolver, cfg ChannelConfig) (*EmailSender, error) {
	if err := ValidateSMTPHost(ctx, resolver, cfg.SMTPHost); err != nil {
		return nil, err
	}
	return &EmailSender{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
		To:   cfg.SMTPTo,
	}, nil
}

func (s *EmailSender) Send(ctx context.Context, n Notification) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	msg := buildEmailMessage(s.From, s.To, n)

	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Pass, s.Host)
	}

	if s.Port == 465 {
		return sendSMTPOverTLS(addr, s.Host, auth, s.From, s.To, msg)
	}
	return smtp.SendMail(addr, auth, s.From, s.To, msg)
}

func buildEmailMessage(from string, to []string, n Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", n.Severity, n.Title)
	b.WriteString("\r\n")
	b.WriteString(n.Body)
	return []byte(b.String())
}

func sendSMTPOverTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("dial smtp over tls: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	return w.Close()
}
