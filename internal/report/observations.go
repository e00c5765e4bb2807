package report

import (
	"fmt"

	"github.com/fleetsentry/sentinel/internal/models"
)

// generateObservations synthesizes a short, human-readable narrative from
// the raw digest counts, the same way a reader would skim the tables above
// and summarize them in a sentence each.
func generateObservations(data DigestData) []string {
	var obs []string

	counts := severityCounts(data.Insights)
	if len(data.Insights) == 0 && len(data.Incidents) == 0 {
		return []string{"No insights or incidents were recorded in this window; the fleet was quiet."}
	}

	if c := counts[models.SeverityCritical]; c > 0 {
		obs = append(obs, fmt.Sprintf("%d critical insight(s) were raised and warrant immediate review.", c))
	}
	if c := counts[models.SeverityWarning]; c > 0 {
		obs = append(obs, fmt.Sprintf("%d warning-level insight(s) were raised.", c))
	}

	if len(data.Incidents) > 0 {
		cascades := 0
		for _, inc := range data.Incidents {
			if inc.CorrelationType == models.CorrelationCascade {
				cascades++
			}
		}
		if cascades > 0 {
			obs = append(obs, fmt.Sprintf("%d of %d incident(s) were cascades, suggesting a shared root cause rather than independent failures.", cascades, len(data.Incidents)))
		}
	}

	pending, failed := actionOutcomeCounts(data.Actions)
	if pending > 0 {
		obs = append(obs, fmt.Sprintf("%d remediation action(s) are still awaiting approval.", pending))
	}
	if failed > 0 {
		obs = append(obs, fmt.Sprintf("%d remediation action(s) failed to execute and may need manual intervention.", failed))
	}

	if len(obs) == 0 {
		obs = append(obs, "Activity in this window was limited to informational insights; no action is required.")
	}

	return obs
}

func actionOutcomeCounts(acts []models.Action) (pending, failed int) {
	for _, a := range acts {
		switch a.Status {
		case models.ActionPending:
			pending++
		case models.ActionFailed:
			failed++
		}
	}
	return pending, failed
}
