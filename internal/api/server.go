// Package api implements the process's HTTP surface: health probes,
// remediation action transitions, the webhook event-type catalog, and the
// on-demand digest export, wired over plain net/http with no router
// framework.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fleetsentry/sentinel/internal/actions"
	"github.com/fleetsentry/sentinel/internal/inventory"
	"github.com/fleetsentry/sentinel/internal/models"
	"github.com/fleetsentry/sentinel/internal/report"
	"github.com/fleetsentry/sentinel/internal/selfhealth"
	"github.com/fleetsentry/sentinel/internal/store"
)

// DigestSource supplies the data a report.DigestData needs for a given
// window; the concrete implementation lives in internal/store, kept
// behind an interface so this package stays storage-agnostic.
type DigestSource interface {
	RecentDigestData(ctx context.Context, since time.Time) (report.DigestData, error)
}

// EdgeJobs is the subset of inventory.Client the edge-job routes need, for
// endpoints that can only be reached by an agent polling for work rather
// than a synchronous call (glossary: "Edge endpoint").
type EdgeJobs interface {
	CreateEdgeJob(endpointID int, command string) inventory.EdgeJob
	GetEdgeJobTasks(jobID string) ([]inventory.EdgeJobTask, error)
	GetEdgeJobTaskLogs(jobID, taskID string) ([]string, error)
}

// Server bundles every dependency the HTTP handlers need. Construct one
// with NewServer and mount it with Handler().
type Server struct {
	actions   *actions.Service
	health    *selfhealth.Registry
	digest    DigestSource
	edgeJobs  EdgeJobs
	reportGen *report.Generator
	authToken string
}

// NewServer wires a Server. authToken gates /health/ready/detail and the
// digest export; an empty authToken disables those routes entirely
// rather than accepting any bearer value. edgeJobs may be nil, in which
// case the edge-job routes respond 503.
func NewServer(actionsSvc *actions.Service, health *selfhealth.Registry, digest DigestSource, edgeJobs EdgeJobs, authToken string) *Server {
	return &Server{
		actions:   actionsSvc,
		health:    health,
		digest:    digest,
		edgeJobs:  edgeJobs,
		reportGen: report.NewGenerator(),
		authToken: authToken,
	}
}

// Handler builds the complete route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.Handle("GET /health/ready/detail", s.requireAuth(http.HandlerFunc(s.handleReadyDetail)))
	mux.HandleFunc("POST /api/remediation/actions/{id}/approve", s.handleTransition(s.actions.Approve, "approve"))
	mux.HandleFunc("POST /api/remediation/actions/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/remediation/actions/{id}/execute", s.handleTransition(s.actions.Execute, "execute"))
	mux.HandleFunc("GET /api/webhooks/event-types", s.handleWebhookEventTypes)
	mux.Handle("GET /api/reports/digest", s.requireAuth(http.HandlerFunc(s.handleDigest)))
	mux.HandleFunc("POST /api/endpoints/{id}/edge-jobs", s.handleCreateEdgeJob)
	mux.HandleFunc("GET /api/edge-jobs/{jobId}/tasks", s.handleListEdgeJobTasks)
	mux.HandleFunc("GET /api/edge-jobs/{jobId}/tasks/{taskId}/logs", s.handleEdgeJobTaskLogs)
	return mux
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			writeJSONError(w, http.StatusServiceUnavailable, "authenticated endpoint is not configured")
			return
		}
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeJSONError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.authToken)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, ts := selfhealth.Live()
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "timestamp": ts})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready, err := s.health.Ready(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to evaluate readiness")
		return
	}
	writeJSON(w, http.StatusOK, readinessPayload(ready.Redacted()))
}

func (s *Server) handleReadyDetail(w http.ResponseWriter, r *http.Request) {
	ready, err := s.health.Ready(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to evaluate readiness")
		return
	}
	writeJSON(w, http.StatusOK, readinessPayload(ready))
}

func readinessPayload(r selfhealth.Readiness) map[string]any {
	checks := make(map[string]any, len(r.Checks))
	for name, c := range r.Checks {
		entry := map[string]any{"status": c.Status}
		if c.URL != "" {
			entry["url"] = c.URL
		}
		if c.Error != "" {
			entry["error"] = c.Error
		}
		checks[name] = entry
	}
	return map[string]any{"status": r.Status, "checks": checks}
}

// transitionFunc matches actions.Service.Approve and .Execute, whose
// signatures are identical; Reject takes an extra reason and gets its
// own handler below.
type transitionFunc func(ctx context.Context, id string, actor actions.ActorContext) (*models.Action, error)

func (s *Server) handleTransition(fn transitionFunc, verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		actor := actorFromRequest(r)
		updated, err := fn(r.Context(), id, actor)
		s.writeTransitionResult(w, id, updated, err, verb)
	}
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	actor := actorFromRequest(r)

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	updated, err := s.actions.Reject(r.Context(), id, actor, body.Reason)
	s.writeTransitionResult(w, id, updated, err, "reject")
}

// writeTransitionResult maps a transition's outcome to status codes:
// 404 unknown id, 409 invalid source state, 200 on success, 502 if
// execution itself failed downstream (the row is still returned in that
// case, just with a non-2xx status).
func (s *Server) writeTransitionResult(w http.ResponseWriter, id string, updated *models.Action, err error, verb string) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "actionId": id, "status": updated.Status})
		return
	}

	var execErr *actions.ExecutionError
	if errors.As(err, &execErr) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "actionId": id, "status": updated.Status, "error": execErr.Error()})
		return
	}

	var conflict *actions.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": conflict.Error(), "actionId": id, "currentStatus": conflict.CurrentStatus})
		return
	}

	if errors.Is(err, actions.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "action not found")
		return
	}

	writeJSONError(w, http.StatusInternalServerError, "failed to "+verb+" action")
}

func actorFromRequest(r *http.Request) actions.ActorContext {
	return actions.ActorContext{
		UserID:    r.Header.Get("X-User-Id"),
		Username:  r.Header.Get("X-User-Name"),
		RequestID: r.Header.Get("X-Request-Id"),
		IPAddress: clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	return r.RemoteAddr
}

func (s *Server) handleWebhookEventTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, store.SupportedEventTypes)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			since = parsed
		}
	}

	data, err := s.digest.RecentDigestData(r.Context(), since)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to gather digest data")
		return
	}
	data.GeneratedAt = time.Now()
	data.WindowStart = since
	data.WindowEnd = data.GeneratedAt

	pdf, err := s.reportGen.Generate(data)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to render digest")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="digest.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (s *Server) handleCreateEdgeJob(w http.ResponseWriter, r *http.Request) {
	if s.edgeJobs == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "edge jobs are not configured")
		return
	}

	var endpointID int
	if _, err := fmt.Sscanf(r.PathValue("id"), "%d", &endpointID); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid endpoint id")
		return
	}

	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Command == "" {
		writeJSONError(w, http.StatusBadRequest, "command is required")
		return
	}

	job := s.edgeJobs.CreateEdgeJob(endpointID, body.Command)
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListEdgeJobTasks(w http.ResponseWriter, r *http.Request) {
	if s.edgeJobs == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "edge jobs are not configured")
		return
	}

	tasks, err := s.edgeJobs.GetEdgeJobTasks(r.PathValue("jobId"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "unknown edge job")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleEdgeJobTaskLogs(w http.ResponseWriter, r *http.Request) {
	if s.edgeJobs == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "edge jobs are not configured")
		return
	}

	logs, err := s.edgeJobs.GetEdgeJobTaskLogs(r.PathValue("jobId"), r.PathValue("taskId"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "unknown edge job task")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"logs": logs})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
