package remediation

import (
	"fmt"
	"strings"

	"github.com/fleetsentry/sentinel/internal/models"
)

// Suggester maps an Insight to a candidate Action for monitoring cycle
// phase 13's per-insight suggestAction hook. A suggestion is either
// "propose restarting this container" or nothing, not a multi-step guided
// plan.
type Suggester struct{}

// NewSuggester returns a Suggester. It carries no state; a value receiver
// would do, but a type keeps the call site symmetric with the rest of the
// cycle's dependencies.
func NewSuggester() *Suggester {
	return &Suggester{}
}

// anomalyRestartCategories are the insight categories phase 4/5/6 produce
// for resource-exhaustion anomalies, the one class of finding a container
// restart plausibly fixes.
var anomalyRestartCategories = map[string]bool{
	"anomaly":    true,
	"threshold":  true,
	"predictive": true,
}

// SuggestAction proposes a pending Action for an insight, or nil when no
// actionable remediation exists for its category. It never touches
// storage: the caller decides whether to persist the suggestion.
func (s *Suggester) SuggestAction(insight models.Insight) *models.Action {
	if insight.ContainerID == "" {
		return nil
	}
	if insight.Severity != models.SeverityCritical && insight.Severity != models.SeverityWarning {
		return nil
	}
	if !anomalyRestartCategories[strings.ToLower(insight.Category)] {
		return nil
	}

	endpointID := 0
	if insight.EndpointID != nil {
		endpointID = *insight.EndpointID
	}

	return &models.Action{
		InsightID:     insight.ID,
		EndpointID:    endpointID,
		ContainerID:   insight.ContainerID,
		ContainerName: insight.ContainerName,
		ActionType:    models.ActionRestartContainer,
		Rationale:     fmt.Sprintf("suggested from insight %q: %s", insight.Title, insight.Description),
		Status:        models.ActionPending,
	}
}
