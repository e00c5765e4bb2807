package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fleetsentry/sentinel/internal/actions"
	"github.com/fleetsentry/sentinel/internal/inventory"
	"github.com/fleetsentry/sentinel/internal/models"
	"github.com/fleetsentry/sentinel/internal/report"
	"github.com/fleetsentry/sentinel/internal/selfhealth"
)

type fakeActionStore struct {
	mu   sync.Mutex
	rows map[string]*models.Action
}

func (s *fakeActionStore) GetAction(ctx context.Context, id string) (*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, actions.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *fakeActionStore) UpdateAction(ctx context.Context, id string, expected models.ActionStatus, mutate func(*models.Action)) (*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, actions.ErrNotFound
	}
	if row.Status != expected {
		return nil, &actions.ConflictError{ActionID: id, CurrentStatus: row.Status}
	}
	mutate(row)
	cp := *row
	return &cp, nil
}

type fakeExecutor struct{ err error }

func (e *fakeExecutor) Execute(ctx context.Context, a *models.Action) error { return e.err }

type noopAudit struct{}

func (noopAudit) Log(ctx context.Context, entry actions.AuditEntry) error { return nil }

type fakeDigestSource struct{}

func (fakeDigestSource) RecentDigestData(ctx context.Context, since time.Time) (report.DigestData, error) {
	return report.DigestData{}, nil
}

type fakeEdgeJobs struct {
	job   inventory.EdgeJob
	tasks []inventory.EdgeJobTask
	logs  []string
}

func (f *fakeEdgeJobs) CreateEdgeJob(endpointID int, command string) inventory.EdgeJob {
	f.job.EndpointID = endpointID
	f.job.Command = command
	return f.job
}

func (f *fakeEdgeJobs) GetEdgeJobTasks(jobID string) ([]inventory.EdgeJobTask, error) {
	if jobID != f.job.ID {
		return nil, errors.New("unknown job")
	}
	return f.tasks, nil
}

func (f *fakeEdgeJobs) GetEdgeJobTaskLogs(jobID, taskID string) ([]string, error) {
	if jobID != f.job.ID {
		return nil, errors.New("unknown job")
	}
	for _, task := range f.tasks {
		if task.ID == taskID {
			return f.logs, nil
		}
	}
	return nil, errors.New("unknown task")
}

func newTestServer(action *models.Action, execErr error, authToken string) *Server {
	store := &fakeActionStore{rows: map[string]*models.Action{action.ID: action}}
	svc := actions.NewService(store, &fakeExecutor{err: execErr}, noopAudit{}, nil)
	health := selfhealth.NewRegistry()
	return NewServer(svc, health, fakeDigestSource{}, nil, authToken)
}

func newTestServerWithEdgeJobs(edgeJobs EdgeJobs) *Server {
	action := &models.Action{ID: "a1", Status: models.ActionPending}
	store := &fakeActionStore{rows: map[string]*models.Action{action.ID: action}}
	svc := actions.NewService(store, &fakeExecutor{}, noopAudit{}, nil)
	health := selfhealth.NewRegistry()
	return NewServer(svc, health, fakeDigestSource{}, edgeJobs, "")
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %+v", body)
	}
}

func TestHandleReady_RedactsURLAndError(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "")
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	checks, ok := body["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks map, got %+v", body)
	}
	self, ok := checks["self"].(map[string]any)
	if !ok {
		t.Fatalf("expected self check, got %+v", checks)
	}
	if _, hasURL := self["url"]; hasURL {
		t.Fatal("expected redacted readiness to omit url")
	}
}

func TestHandleReadyDetail_RequiresAuth(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "")
	req := httptest.NewRequest(http.MethodGet, "/health/ready/detail", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no auth token is configured, got %d", rec.Code)
	}
}

func TestHandleReadyDetail_WithValidToken(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "secret-token")
	req := httptest.NewRequest(http.MethodGet, "/health/ready/detail", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleReadyDetail_RejectsWrongToken(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "secret-token")
	req := httptest.NewRequest(http.MethodGet, "/health/ready/detail", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleTransition_ApproveSuccess(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "")
	req := httptest.NewRequest(http.MethodPost, "/api/remediation/actions/a1/approve", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleTransition_NotFound(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "")
	req := httptest.NewRequest(http.MethodPost, "/api/remediation/actions/missing/approve", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleTransition_ConflictOnWrongState(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionApproved}, nil, "")
	req := httptest.NewRequest(http.MethodPost, "/api/remediation/actions/a1/approve", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleTransition_ExecuteUpstreamFailureReturns502(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionApproved}, errUpstream, "")
	req := httptest.NewRequest(http.MethodPost, "/api/remediation/actions/a1/execute", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

var errUpstream = &upstreamError{"inventory unreachable"}

type upstreamError struct{ msg string }

func (e *upstreamError) Error() string { return e.msg }

func TestHandleWebhookEventTypes(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "")
	req := httptest.NewRequest(http.MethodGet, "/api/webhooks/event-types", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var types []map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &types); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(types) == 0 {
		t.Fatal("expected at least one supported event type")
	}
}

func TestHandleDigest_RequiresAuthAndReturnsPDF(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "secret-token")

	unauthorized := httptest.NewRequest(http.MethodGet, "/api/reports/digest", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, unauthorized)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	authorized := httptest.NewRequest(http.MethodGet, "/api/reports/digest", nil)
	authorized.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, authorized)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected application/pdf content type, got %s", rec.Header().Get("Content-Type"))
	}
	if rec.Body.Len() < 4 || string(rec.Body.Bytes()[:4]) != "%PDF" {
		t.Fatal("expected a PDF body")
	}
}

func TestHandleCreateEdgeJob_Success(t *testing.T) {
	edge := &fakeEdgeJobs{job: inventory.EdgeJob{ID: "job-1", Status: inventory.EdgeJobPending}}
	s := newTestServerWithEdgeJobs(edge)

	body := strings.NewReader(`{"command":"restart"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/endpoints/7/edge-jobs", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var job inventory.EdgeJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if job.EndpointID != 7 || job.Command != "restart" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestHandleCreateEdgeJob_RejectsMissingCommand(t *testing.T) {
	s := newTestServerWithEdgeJobs(&fakeEdgeJobs{})

	req := httptest.NewRequest(http.MethodPost, "/api/endpoints/7/edge-jobs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreateEdgeJob_NotConfiguredReturns503(t *testing.T) {
	s := newTestServer(&models.Action{ID: "a1", Status: models.ActionPending}, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/api/endpoints/7/edge-jobs", strings.NewReader(`{"command":"restart"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandleListEdgeJobTasks(t *testing.T) {
	edge := &fakeEdgeJobs{
		job:   inventory.EdgeJob{ID: "job-1"},
		tasks: []inventory.EdgeJobTask{{ID: "task-1", JobID: "job-1", Status: inventory.EdgeJobRunning}},
	}
	s := newTestServerWithEdgeJobs(edge)

	req := httptest.NewRequest(http.MethodGet, "/api/edge-jobs/job-1/tasks", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var tasks []inventory.EdgeJobTask
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "task-1" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestHandleListEdgeJobTasks_UnknownJobReturns404(t *testing.T) {
	s := newTestServerWithEdgeJobs(&fakeEdgeJobs{job: inventory.EdgeJob{ID: "job-1"}})

	req := httptest.NewRequest(http.MethodGet, "/api/edge-jobs/nope/tasks", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleEdgeJobTaskLogs(t *testing.T) {
	edge := &fakeEdgeJobs{
		job:   inventory.EdgeJob{ID: "job-1"},
		tasks: []inventory.EdgeJobTask{{ID: "task-1", JobID: "job-1"}},
		logs:  []string{"starting", "done"},
	}
	s := newTestServerWithEdgeJobs(edge)

	req := httptest.NewRequest(http.MethodGet, "/api/edge-jobs/job-1/tasks/task-1/logs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(out.Logs) != 2 || out.Logs[0] != "starting" {
		t.Fatalf("unexpected logs: %+v", out.Logs)
	}
}

func TestHandleEdgeJobTaskLogs_UnknownTaskReturns404(t *testing.T) {
	edge := &fakeEdgeJobs{
		job:   inventory.EdgeJob{ID: "job-1"},
		tasks: []inventory.EdgeJobTask{{ID: "task-1", JobID: "job-1"}},
	}
	s := newTestServerWithEdgeJobs(edge)

	req := httptest.NewRequest(http.MethodGet, "/api/edge-jobs/job-1/tasks/nope/logs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
