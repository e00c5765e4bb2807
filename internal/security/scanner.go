// Package security implements the per-container security scan invoked
// during monitoring cycle phase 3: a pure function over a container's
// runtime descriptor, never touching the network or the daemon itself.
package security

import (
	"strings"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// recognizedManifestMediaTypes are the manifest/index media types a
// pull-through registry may legitimately report. Docker's own
// distribution media types predate the OCI spec and remain in wide use
// alongside it, so both families are accepted.
var recognizedManifestMediaTypes = map[string]bool{
	ocispec.MediaTypeImageManifest:              true,
	ocispec.MediaTypeImageIndex:                 true,
	"application/vnd.docker.distribution.manifest.v2+json":      true,
	"application/vnd.docker.distribution.manifest.list.v2+json": true,
}

// RawContainer is the runtime descriptor ScanContainer inspects: the
// HostConfig-level settings Docker's container inspect API exposes,
// independent of the normalized models.Container view the rest of the
// system works with.
type RawContainer struct {
	ID                string
	Name              string
	Image             string
	ManifestMediaType string // from the registry's manifest response, if known
	Privileged        bool
	User              string
	NetworkMode       string
	PublishAllPorts   bool
	ReadonlyRootfs    bool
	CapAdd            []string
	RestartPolicyName string
}

// Severity mirrors models.Severity's string values without importing the
// models package, keeping this scanner a dependency-free pure function.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Finding is one security observation about a container.
type Finding struct {
	Severity    Severity
	Category    string
	Title       string
	Description string
}

// ScanContainer runs every check against raw and returns the findings in a
// fixed, deterministic order.
func ScanContainer(raw RawContainer) []Finding {
	var findings []Finding

	if f, ok := checkImagePinning(raw); ok {
		findings = append(findings, f)
	}
	if raw.ManifestMediaType != "" && !recognizedManifestMediaTypes[raw.ManifestMediaType] {
		findings = append(findings, Finding{
			Severity:    SeverityInfo,
			Category:    "image",
			Title:       "Container image uses an unrecognized manifest format",
			Description: "Container " + raw.Name + "'s image reports manifest media type " + raw.ManifestMediaType + ", which is neither an OCI nor a Docker distribution manifest.",
		})
	}
	if raw.Privileged {
		findings = append(findings, Finding{
			Severity:    SeverityCritical,
			Category:    "privilege",
			Title:       "Container runs in privileged mode",
			Description: "Container " + raw.Name + " is configured with --privileged, granting it full access to the host's devices and kernel capabilities.",
		})
	}
	if isRunningAsRoot(raw.User) {
		findings = append(findings, Finding{
			Severity:    SeverityWarning,
			Category:    "privilege",
			Title:       "Container runs as root",
			Description: "Container " + raw.Name + " does not set a non-root user, so a process compromise runs with root privileges inside the container.",
		})
	}
	if raw.NetworkMode == "host" {
		findings = append(findings, Finding{
			Severity:    SeverityWarning,
			Category:    "network",
			Title:       "Container uses host network mode",
			Description: "Container " + raw.Name + " shares the host's network namespace, bypassing normal network isolation.",
		})
	}
	if hasDangerousCapability(raw.CapAdd) {
		findings = append(findings, Finding{
			Severity:    SeverityCritical,
			Category:    "capabilities",
			Title:       "Container adds dangerous Linux capabilities",
			Description: "Container " + raw.Name + " requests one or more capabilities (" + strings.Join(raw.CapAdd, ", ") + ") broad enough to escape normal container confinement.",
		})
	}
	if raw.PublishAllPorts {
		findings = append(findings, Finding{
			Severity:    SeverityInfo,
			Category:    "network",
			Title:       "Container publishes all exposed ports",
			Description: "Container " + raw.Name + " publishes every exposed port to the host, widening its network attack surface.",
		})
	}
	if raw.RestartPolicyName == "" {
		findings = append(findings, Finding{
			Severity:    SeverityInfo,
			Category:    "resilience",
			Title:       "Container has no restart policy",
			Description: "Container " + raw.Name + " has no restart policy configured and will not recover automatically from a crash.",
		})
	}

	return findings
}

func checkImagePinning(raw RawContainer) (Finding, bool) {
	if _, err := digest.Parse(imageDigestSuffix(raw.Image)); err == nil {
		return Finding{}, false
	}
	tag := imageTag(raw.Image)
	if tag == "" || tag == "latest" {
		return Finding{
			Severity:    SeverityWarning,
			Category:    "image",
			Title:       "Container image is not pinned",
			Description: "Container " + raw.Name + " uses image " + raw.Image + " without a content digest or a non-latest tag, so its content can change without notice.",
		}, true
	}
	return Finding{}, false
}

// imageDigestSuffix returns the part of ref after an "@", or "" if ref has
// no digest suffix.
func imageDigestSuffix(ref string) string {
	if i := strings.LastIndex(ref, "@"); i != -1 {
		return ref[i+1:]
	}
	return ""
}

// imageTag returns the tag component of ref, or "" if ref has no explicit
// tag (an implicit ":latest").
func imageTag(ref string) string {
	name := ref
	if i := strings.LastIndex(ref, "@"); i != -1 {
		name = ref[:i]
	}
	lastColon := strings.LastIndex(name, ":")
	if lastColon == -1 {
		return ""
	}
	// A colon before the final "/" belongs to a registry port, not a tag.
	if strings.Contains(name[lastColon:], "/") {
		return ""
	}
	return name[lastColon+1:]
}

func isRunningAsRoot(user string) bool {
	u := strings.TrimSpace(user)
	return u == "" || u == "root" || u == "0" || strings.HasPrefix(u, "0:")
}

var dangerousCapabilities = map[string]bool{
	"ALL":        true,
	"SYS_ADMIN":  true,
	"SYS_PTRACE": true,
	"SYS_MODULE": true,
	"NET_ADMIN":  true,
}

func hasDangerousCapability(caps []string) bool {
	for _, c := range caps {
		if dangerousCapabilities[strings.ToUpper(c)] {
			return true
		}
	}
	return false
}
