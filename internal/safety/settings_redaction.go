package safety

import "strings"

// RedactedValue is substituted for any setting value whose key matches
// IsSensitiveSettingKey.
const RedactedValue = "••••••••"

var sensitiveSettingSuffixes = []string{
	"_password",
	"_secret",
	"_token",
	"_api_key",
	"_webhook_url",
}

// sensitiveSettingAllowList names credential-bearing keys explicitly;
// smtp_pass and smtp_user fall outside the suffix convention, and
// telegram_bot_token is also matched by the "_token" suffix.
var sensitiveSettingAllowList = map[string]bool{
	"smtp_pass":       true,
	"smtp_user":       true,
	"telegram_bot_token": true,
}

// IsSensitiveSettingKey reports whether key must never appear unredacted
// in an API response or log line. Matching is case-insensitive.
func IsSensitiveSettingKey(key string) bool {
	lower := strings.ToLower(key)
	if sensitiveSettingAllowList[lower] {
		return true
	}
	for _, suffix := range sensitiveSettingSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// RedactSettingValue returns RedactedValue if key is sensitive and value is
// non-empty, an empty string unchanged (redacted value must be `null` or
// REDACTED, never a real empty credential), or value itself otherwise.
func RedactSettingValue(key, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveSettingKey(key) {
		return RedactedValue
	}
	return value
}
