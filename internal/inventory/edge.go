package inventory

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EdgeJobStatus tracks an async job's lifecycle on an edge endpoint — one
// accessed via a remote agent rather than a direct daemon connection, and
// which may lack real-time log/exec capabilities (glossary: "Edge
// endpoint"). Edge job definition: a deferred command the remote agent
// picks up and reports back against, since the agent cannot be reached
// synchronously the way a direct engine connection can.
type EdgeJobStatus string

const (
	EdgeJobPending   EdgeJobStatus = "pending"
	EdgeJobRunning   EdgeJobStatus = "running"
	EdgeJobCompleted EdgeJobStatus = "completed"
	EdgeJobFailed    EdgeJobStatus = "failed"
)

// EdgeJob is a deferred command targeted at an edge endpoint.
type EdgeJob struct {
	ID         string
	EndpointID int
	Command    string
	Status     EdgeJobStatus
	CreatedAt  time.Time
}

// EdgeJobTask is one unit of work dispatched under an EdgeJob (an edge
// agent may fan a single job out across several containers).
type EdgeJobTask struct {
	ID        string
	JobID     string
	Status    EdgeJobStatus
	Logs      []string
}

// EdgeJobQueue holds pending and completed edge jobs in memory. Edge
// operations are async by nature (the remote agent polls for work rather
// than accepting a synchronous call), so this queue is the boundary an
// edge agent's poll loop would read from; no agent-side implementation
// ships with this module (§1 lists agent protocol wiring as an external
// collaborator concern).
type EdgeJobQueue struct {
	mu    sync.Mutex
	jobs  map[string]*EdgeJob
	tasks map[string][]*EdgeJobTask
}

// NewEdgeJobQueue returns an empty queue.
func NewEdgeJobQueue() *EdgeJobQueue {
	return &EdgeJobQueue{
		jobs:  make(map[string]*EdgeJob),
		tasks: make(map[string][]*EdgeJobTask),
	}
}

// CreateEdgeJob enqueues a deferred command for an edge endpoint.
func (q *EdgeJobQueue) CreateEdgeJob(endpointID int, command string) EdgeJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &EdgeJob{
		ID:         ulid.Make().String(),
		EndpointID: endpointID,
		Command:    command,
		Status:     EdgeJobPending,
		CreatedAt:  time.Now(),
	}
	q.jobs[job.ID] = job
	return *job
}

// GetEdgeJobTasks lists the tasks dispatched for a job.
func (q *EdgeJobQueue) GetEdgeJobTasks(jobID string) ([]EdgeJobTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[jobID]; !ok {
		return nil, fmt.Errorf("inventory: unknown edge job %s", jobID)
	}
	tasks := q.tasks[jobID]
	out := make([]EdgeJobTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, *t)
	}
	return out, nil
}

// CollectEdgeJobTaskLogs appends agent-reported log lines to a task,
// called by the agent's poll loop as it streams output back.
func (q *EdgeJobQueue) CollectEdgeJobTaskLogs(jobID, taskID string, lines []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.tasks[jobID]
	for _, t := range tasks {
		if t.ID == taskID {
			t.Logs = append(t.Logs, lines...)
			return nil
		}
	}
	return fmt.Errorf("inventory: unknown edge job task %s/%s", jobID, taskID)
}

// GetEdgeJobTaskLogs returns the logs collected so far for a task.
func (q *EdgeJobQueue) GetEdgeJobTaskLogs(jobID, taskID string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.tasks[jobID] {
		if t.ID == taskID {
			return append([]string(nil), t.Logs...), nil
		}
	}
	return nil, fmt.Errorf("inventory: unknown edge job task %s/%s", jobID, taskID)
}

// DeleteEdgeJob removes a job and its tasks.
func (q *EdgeJobQueue) DeleteEdgeJob(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[jobID]; !ok {
		return fmt.Errorf("inventory: unknown edge job %s", jobID)
	}
	delete(q.jobs, jobID)
	delete(q.tasks, jobID)
	return nil
}
