// Package models defines the core domain entities shared across the
// monitoring cycle, the anomaly detector, the insight/incident pipeline,
// and the remediation action state machine.
package models

import "time"

// EndpointStatus reflects upstream reachability as the inventory client
// sees it: an endpoint whose circuit breaker is open is reported down.
type EndpointStatus string

const (
	EndpointUp   EndpointStatus = "up"
	EndpointDown EndpointStatus = "down"
)

// EndpointCapabilities describes what an endpoint supports. Edge endpoints
// (accessed via a remote agent) may lack real-time log/exec capabilities.
type EndpointCapabilities struct {
	LiveStats    bool `json:"liveStats"`
	RealtimeLogs bool `json:"realtimeLogs"`
	Exec         bool `json:"exec"`
}

// Endpoint is a transient per-cycle projection of upstream inventory state,
// cached with TTL. Its id is stable across cycles.
type Endpoint struct {
	ID                  int                  `json:"id"`
	Name                string               `json:"name"`
	Status              EndpointStatus       `json:"status"`
	Capabilities        EndpointCapabilities `json:"capabilities"`
	ContainersRunning   int                  `json:"containersRunning"`
	ContainersStopped   int                  `json:"containersStopped"`
	ContainersHealthy   int                  `json:"containersHealthy"`
	ContainersUnhealthy int                  `json:"containersUnhealthy"`
	StackCount          int                  `json:"stackCount"`
}

// ContainerState mirrors the upstream engine's lifecycle states.
type ContainerState string

const (
	ContainerRunning ContainerState = "running"
	ContainerStopped ContainerState = "stopped"
	ContainerPaused  ContainerState = "paused"
	ContainerDead    ContainerState = "dead"
	ContainerUnknown ContainerState = "unknown"
)

// PortMapping is one entry of a container's ordered port sequence.
type PortMapping struct {
	PrivatePort int    `json:"privatePort"`
	PublicPort  int    `json:"publicPort,omitempty"`
	Protocol    string `json:"protocol"`
	IP          string `json:"ip,omitempty"`
}

// NetworkAttachment is one entry of a container's ordered network sequence.
type NetworkAttachment struct {
	Name       string `json:"name"`
	IPAddress  string `json:"ipAddress,omitempty"`
	MacAddress string `json:"macAddress,omitempty"`
}

// Container is the normalized, engine-agnostic view of an upstream container.
type Container struct {
	ID           string              `json:"id"`
	EndpointID   int                 `json:"endpointId"`
	EndpointName string              `json:"endpointName"`
	Name         string              `json:"name"`
	Image        string              `json:"image"`
	State        ContainerState      `json:"state"`
	Labels       map[string]string   `json:"labels"`
	Ports        []PortMapping       `json:"ports"`
	Networks     []NetworkAttachment `json:"networks"`
	HealthStatus string              `json:"healthStatus,omitempty"`
}

// MetricType enumerates the metric kinds the anomaly detector consumes.
type MetricType string

const (
	MetricCPU         MetricType = "cpu"
	MetricMemory      MetricType = "memory"
	MetricMemoryBytes MetricType = "memory_bytes"
	MetricNetworkRX   MetricType = "network_rx"
	MetricNetworkTX   MetricType = "network_tx"
)

// MetricSample is a single point read through a MetricsReader; the
// underlying time-series store is external to this module.
type MetricSample struct {
	EndpointID    int
	ContainerID   string
	ContainerName string
	MetricType    MetricType
	Value         float64
	Timestamp     time.Time
}

// MovingAverageStats is the rolling-window baseline an AnomalyVerdict is
// computed against.
type MovingAverageStats struct {
	Mean        float64
	StdDev      float64
	SampleCount int
}

// DetectionMethod selects the anomaly-scoring strategy.
type DetectionMethod string

const (
	MethodZScore          DetectionMethod = "zscore"
	MethodBollinger       DetectionMethod = "bollinger"
	MethodAdaptive        DetectionMethod = "adaptive"
	MethodIsolationForest DetectionMethod = "isolation-forest"
	MethodThreshold       DetectionMethod = "threshold"
)

// AnomalyVerdict is the output of a single (container, metric) evaluation.
type AnomalyVerdict struct {
	IsAnomalous  bool
	ZScore       float64
	Mean         float64
	CurrentValue float64
	Method       DetectionMethod
}

// Severity ranks an Insight's urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Insight is a human-readable finding produced during a monitoring cycle.
// It is immutable after insert; only IsAcknowledged ever flips.
type Insight struct {
	ID              string    `json:"id"`
	EndpointID      *int      `json:"endpointId,omitempty"`
	EndpointName    string    `json:"endpointName,omitempty"`
	ContainerID     string    `json:"containerId,omitempty"`
	ContainerName   string    `json:"containerName,omitempty"`
	Severity        Severity  `json:"severity"`
	Category        string    `json:"category"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	SuggestedAction string    `json:"suggestedAction,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	IsAcknowledged  bool      `json:"isAcknowledged"`
}

// CorrelationType classifies how an Incident's member insights were grouped.
type CorrelationType string

const (
	CorrelationTemporal CorrelationType = "temporal"
	CorrelationCascade  CorrelationType = "cascade"
	CorrelationSemantic CorrelationType = "semantic"
	CorrelationDedup    CorrelationType = "dedup"
)

// CorrelationConfidence is a coarse, human-facing confidence band.
type CorrelationConfidence string

const (
	ConfidenceLow    CorrelationConfidence = "low"
	ConfidenceMedium CorrelationConfidence = "medium"
	ConfidenceHigh   CorrelationConfidence = "high"
)

// Incident groups related insights under a root cause. RelatedInsightIDs
// and AffectedContainers are native ordered string sequences: they must
// round-trip through storage as arrays, never as JSON-encoded strings.
type Incident struct {
	ID                    string                `json:"id"`
	Title                 string                `json:"title"`
	Severity              Severity              `json:"severity"`
	RootCauseInsightID    string                `json:"rootCauseInsightId"`
	RelatedInsightIDs     []string              `json:"relatedInsightIds"`
	AffectedContainers    []string              `json:"affectedContainers"`
	CorrelationType       CorrelationType       `json:"correlationType"`
	CorrelationConfidence CorrelationConfidence `json:"correlationConfidence"`
	InsightCount          int                   `json:"insightCount"`
	CreatedAt             time.Time             `json:"createdAt"`
}

// ActionType is the remediation operation an Action performs against the
// inventory client once approved.
type ActionType string

const (
	ActionRestartContainer ActionType = "RESTART_CONTAINER"
	ActionStopContainer    ActionType = "STOP_CONTAINER"
	ActionStartContainer   ActionType = "START_CONTAINER"
)

// ActionStatus is a node in the fixed remediation state machine (§4.7).
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionApproved  ActionStatus = "approved"
	ActionRejected  ActionStatus = "rejected"
	ActionExecuting ActionStatus = "executing"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// Action is a long-lived row traversing the remediation state machine.
// Every mutating field is nil/zero until the corresponding transition sets
// it; once set, fields are never cleared by a later transition.
type Action struct {
	ID                  string       `json:"id"`
	InsightID           string       `json:"insightId,omitempty"`
	EndpointID          int          `json:"endpointId"`
	ContainerID         string       `json:"containerId"`
	ContainerName       string       `json:"containerName"`
	ActionType          ActionType   `json:"actionType"`
	Rationale           string       `json:"rationale"`
	Status              ActionStatus `json:"status"`
	ApprovedBy          string       `json:"approvedBy,omitempty"`
	ApprovedAt          *time.Time   `json:"approvedAt,omitempty"`
	RejectedBy          string       `json:"rejectedBy,omitempty"`
	RejectedAt          *time.Time   `json:"rejectedAt,omitempty"`
	RejectionReason     string       `json:"rejectionReason,omitempty"`
	ExecutedAt          *time.Time   `json:"executedAt,omitempty"`
	CompletedAt         *time.Time   `json:"completedAt,omitempty"`
	ExecutionResult     string       `json:"executionResult,omitempty"`
	ExecutionDurationMs int64        `json:"executionDurationMs,omitempty"`
}

// SecurityFinding is produced by a pure scan over a container descriptor.
type SecurityFinding struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// MonitoringSnapshot is the per-cycle fleet-state row (phase 1).
type MonitoringSnapshot struct {
	ID                  int64     `json:"id"`
	ContainersRunning   int       `json:"containersRunning"`
	ContainersStopped   int       `json:"containersStopped"`
	ContainersUnhealthy int       `json:"containersUnhealthy"`
	EndpointsUp         int       `json:"endpointsUp"`
	EndpointsDown       int       `json:"endpointsDown"`
	CreatedAt           time.Time `json:"createdAt"`
}

// MonitoringCycle is the finalization-phase (15) row; always persisted,
// even when the cycle aborted at an earlier phase.
type MonitoringCycle struct {
	ID                  int64     `json:"id"`
	StartedAt           time.Time `json:"startedAt"`
	DurationMs          int64     `json:"durationMs"`
	EndpointsUp         int       `json:"endpointsUp"`
	EndpointsDown       int       `json:"endpointsDown"`
	ContainersRunning   int       `json:"containersRunning"`
	TotalInsights       int       `json:"totalInsights"`
	SkippedCb           int       `json:"skippedCb"`
	CircuitBreakerSkips int       `json:"circuitBreakerSkips"`
	ContainerFetchFails int       `json:"containerFetchFailures"`
	Aborted             bool      `json:"aborted"`
	AbortReason         string    `json:"abortReason,omitempty"`
}
