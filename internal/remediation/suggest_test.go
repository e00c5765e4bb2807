package remediation

import (
	"testing"

	"github.com/fleetsentry/sentinel/internal/models"
)

func TestSuggestAction_NilWithoutContainer(t *testing.T) {
	s := NewSuggester()
	got := s.SuggestAction(models.Insight{ID: "i1", Severity: models.SeverityCritical, Category: "anomaly"})
	if got != nil {
		t.Fatalf("expected nil for an insight with no container, got %+v", got)
	}
}

func TestSuggestAction_NilForInfoSeverity(t *testing.T) {
	s := NewSuggester()
	got := s.SuggestAction(models.Insight{ID: "i1", ContainerID: "c1", Severity: models.SeverityInfo, Category: "anomaly"})
	if got != nil {
		t.Fatalf("expected nil for info severity, got %+v", got)
	}
}

func TestSuggestAction_NilForUnrecognizedCategory(t *testing.T) {
	s := NewSuggester()
	got := s.SuggestAction(models.Insight{ID: "i1", ContainerID: "c1", Severity: models.SeverityCritical, Category: "security:privileged"})
	if got != nil {
		t.Fatalf("expected nil for a category a restart can't fix, got %+v", got)
	}
}

func TestSuggestAction_ProposesRestartForCriticalAnomaly(t *testing.T) {
	s := NewSuggester()
	endpointID := 7
	insight := models.Insight{
		ID:            "i1",
		EndpointID:    &endpointID,
		ContainerID:   "c1",
		ContainerName: "web",
		Severity:      models.SeverityCritical,
		Category:      "anomaly",
		Title:         "cpu anomaly",
		Description:   "z-score 5.2",
	}

	got := s.SuggestAction(insight)
	if got == nil {
		t.Fatal("expected a restart suggestion")
	}
	if got.ActionType != models.ActionRestartContainer {
		t.Fatalf("expected RESTART_CONTAINER, got %s", got.ActionType)
	}
	if got.Status != models.ActionPending {
		t.Fatalf("expected pending status, got %s", got.Status)
	}
	if got.EndpointID != 7 {
		t.Fatalf("expected endpoint id dereferenced from the insight, got %d", got.EndpointID)
	}
	if got.InsightID != "i1" {
		t.Fatalf("expected insight id propagated, got %s", got.InsightID)
	}
}
