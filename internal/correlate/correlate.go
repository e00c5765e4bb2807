// Package correlate groups the insights a single monitoring cycle
// committed into incidents when more than one of them points at the same
// container. The grouping heuristic is deliberately simple: rather than
// tracking a rolling event history and inferring causal chains across
// cycles, it only needs to relate insights that already share a cycle,
// so grouping by container id is sufficient.
package correlate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsentry/sentinel/internal/models"
)

// Store is the persistence boundary this package needs.
type Store interface {
	InsertIncident(ctx context.Context, inc models.Incident) error
}

var severityRank = map[models.Severity]int{
	models.SeverityCritical: 3,
	models.SeverityWarning:  2,
	models.SeverityInfo:     1,
}

// CorrelateInsights groups insights sharing a container id into incidents,
// skipping containers with fewer than two insights (a single insight has
// no root cause to relate it to). It returns the number of incidents
// created.
func CorrelateInsights(ctx context.Context, store Store, insights []models.Insight) (int, error) {
	groups := groupByContainer(insights)

	created := 0
	for _, containerID := range groups.order {
		group := groups.byContainer[containerID]
		if len(group) < 2 {
			continue
		}
		inc := buildIncident(containerID, group)
		if err := store.InsertIncident(ctx, inc); err != nil {
			return created, fmt.Errorf("insert incident for container %s: %w", containerID, err)
		}
		created++
	}
	return created, nil
}

type containerGroups struct {
	byContainer map[string][]models.Insight
	order       []string
}

func groupByContainer(insights []models.Insight) containerGroups {
	g := containerGroups{byContainer: make(map[string][]models.Insight)}
	for _, ins := range insights {
		if ins.ContainerID == "" {
			continue
		}
		if _, ok := g.byContainer[ins.ContainerID]; !ok {
			g.order = append(g.order, ins.ContainerID)
		}
		g.byContainer[ins.ContainerID] = append(g.byContainer[ins.ContainerID], ins)
	}
	return g
}

func buildIncident(containerID string, group []models.Insight) models.Incident {
	sorted := make([]models.Insight, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := severityRank[sorted[i].Severity], severityRank[sorted[j].Severity]
		if ri != rj {
			return ri > rj
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	rootCause := sorted[0]

	ids := make([]string, 0, len(group))
	categories := make(map[string]bool, len(group))
	for _, ins := range group {
		ids = append(ids, ins.ID)
		categories[ins.Category] = true
	}

	correlationType := models.CorrelationTemporal
	if len(categories) == 1 {
		correlationType = models.CorrelationDedup
	} else if len(categories) > 1 {
		correlationType = models.CorrelationCascade
	}

	confidence := models.ConfidenceMedium
	if len(group) >= 3 {
		confidence = models.ConfidenceHigh
	}

	containerName := rootCause.ContainerName
	if containerName == "" {
		containerName = containerID
	}

	return models.Incident{
		ID:                    uuid.NewString(),
		Title:                 fmt.Sprintf("%d related insights on %s", len(group), containerName),
		Severity:              rootCause.Severity,
		RootCauseInsightID:    rootCause.ID,
		RelatedInsightIDs:     ids,
		AffectedContainers:    []string{containerID},
		CorrelationType:       correlationType,
		CorrelationConfidence: confidence,
		InsightCount:          len(group),
		CreatedAt:             time.Now(),
	}
}
