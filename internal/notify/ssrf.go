package notify

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]{30,50}$`)

// ValidateTeamsWebhookURL requires an HTTPS URL whose host ends in
// ".webhook.office.com".
func ValidateTeamsWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse teams webhook url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("teams webhook url must be https")
	}
	if !strings.HasSuffix(strings.ToLower(u.Hostname()), ".webhook.office.com") {
		return fmt.Errorf("teams webhook url must end in .webhook.office.com")
	}
	return nil
}

// ValidateDiscordWebhookURL requires an HTTPS discord.com or discordapp.com
// webhook URL.
func ValidateDiscordWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse discord webhook url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("discord webhook url must be https")
	}
	host := strings.ToLower(u.Hostname())
	if host != "discord.com" && host != "discordapp.com" {
		return fmt.Errorf("discord webhook url host must be discord.com or discordapp.com")
	}
	if !strings.HasPrefix(u.Path, "/api/webhooks/") {
		return fmt.Errorf("discord webhook url path must start with /api/webhooks/")
	}
	return nil
}

// ValidateTelegramBotToken requires the <numeric-id>:<token> bot-token
// shape, with a token of 30 to 50 letters, digits, '_' or '-'.
func ValidateTelegramBotToken(token string) error {
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("telegram bot token does not match the expected shape")
	}
	return nil
}

// hostResolver is satisfied by *rs/dnscache.Resolver.
type hostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ValidateSMTPHost resolves host and rejects it if any resolved address
// falls in loopback, link-local, or RFC1918 space, or if host is a bare
// "localhost"/".local" name.
func ValidateSMTPHost(ctx context.Context, resolver hostResolver, host string) error {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".local") {
		return fmt.Errorf("smtp host %q is not permitted", host)
	}

	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve smtp host: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("smtp host %q did not resolve to any address", host)
	}
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if isDisallowedIP(ip) {
			return fmt.Errorf("smtp host %q resolves to a disallowed address %s", host, a)
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	return ip.IsPrivate()
}
