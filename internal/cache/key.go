package cache

import "strings"

// Key joins a domain and its arguments into the hierarchical
// "domain:arg1:arg2..." convention used throughout the cache (examples:
// "endpoints", "containers:<id>", "health:portainer",
// "es-logs:<endpointId>:<containerId>").
func Key(domain string, args ...string) string {
	if len(args) == 0 {
		return domain
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, domain)
	parts = append(parts, args...)
	return strings.Join(parts, ":")
}
