package task

import (
	"log/slog"
	"sync"
	"time"

	"github.com/user/pageflow/internal/types"
)

// Registry is the shared map of jobs still awaiting completion. The
// orchestrator's pollers and the push channel both settle jobs through it,
// so a completion arriving over either path lands on the same single-shot
// job transition.
type Registry struct {
	mu   sync.Mutex
	jobs map[types.JobID]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[types.JobID]*Job)}
}

// Register adds a job awaiting completion.
func (r *Registry) Register(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

// Get returns the pending job for id, if any.
func (r *Registry) Get(id types.JobID) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Len returns the number of pending jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Complete settles the job as completed. Returns true if this call won the
// terminal transition; a duplicate signal from the losing source is a no-op.
func (r *Registry) Complete(id types.JobID, result types.GenerateResult) bool {
	job, ok := r.take(id)
	if !ok {
		return false
	}
	return job.complete(result)
}

// Fail settles the job as failed. Same idempotency rule as Complete.
func (r *Registry) Fail(id types.JobID, err error) bool {
	job, ok := r.take(id)
	if !ok {
		return false
	}
	return job.fail(err)
}

// take removes and returns the job; removal and settlement are separate
// steps, but settlement itself is the single-shot guard, so a racing caller
// that already took the job simply loses the settle.
func (r *Registry) take(id types.JobID) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	return job, ok
}

// Sweep abandons jobs whose absolute deadline has passed, bounding registry
// growth over a long session. Returns the number of jobs dropped.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []*Job
	for id, job := range r.jobs {
		if now.After(job.Deadline) {
			expired = append(expired, job)
			delete(r.jobs, id)
		}
	}
	r.mu.Unlock()

	for _, job := range expired {
		if job.abandon() {
			slog.Info("abandoned stale job", "job_id", string(job.ID))
		}
	}
	return len(expired)
}

// Clear abandons every pending job; used at session teardown so no poll
// timer outlives the session.
func (r *Registry) Clear() {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for id, job := range r.jobs {
		jobs = append(jobs, job)
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	for _, job := range jobs {
		job.abandon()
	}
}
