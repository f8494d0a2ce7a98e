// Package task orchestrates long-running generation jobs: strategy
// selection, status polling, and the pending registry that bridges poll- and
// push-driven completion of the same job.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/user/pageflow/internal/types"
)

// Strategy selects how the caller waits for an accepted job.
type Strategy string

const (
	// StrategyWait polls the status endpoint until completion or a local
	// timeout, at which point the job degrades to background tracking.
	StrategyWait Strategy = "wait"
	// StrategyAsync returns immediately; completion arrives over push.
	StrategyAsync Strategy = "async"
	// StrategyAuto picks wait or async from the server's completion estimate.
	StrategyAuto Strategy = "auto"
)

// Status is the client-side state of a job.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusPolling   Status = "polling"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// ErrTaskFailed is a server-reported job failure, terminal for that job.
var ErrTaskFailed = errors.New("task failed")

// Job tracks one accepted generation task. A job settles into a terminal
// status exactly once: poller and push event race for the transition, the
// loser's signal is dropped, and any poll timer is cancelled the moment
// either source wins.
type Job struct {
	ID        types.JobID
	Mode      Strategy
	StartedAt time.Time
	// Deadline is the absolute abandonment time after which the registry
	// sweep gives up on the job.
	Deadline time.Time

	waitTimeout time.Duration

	mu         sync.Mutex
	status     Status
	progress   int
	cancelPoll context.CancelFunc
	degraded   bool

	onProgress func(int)
	onComplete func(types.GenerateResult)
	onError    func(error)
	onTimeout  func()
}

// JobOption configures callbacks and per-job overrides.
type JobOption func(*Job)

// WithOnProgress sets the progress callback (0..100).
func WithOnProgress(fn func(int)) JobOption {
	return func(j *Job) { j.onProgress = fn }
}

// WithOnComplete sets the completion callback. It fires at most once per job
// no matter how many sources report completion.
func WithOnComplete(fn func(types.GenerateResult)) JobOption {
	return func(j *Job) { j.onComplete = fn }
}

// WithOnError sets the error callback, fired at most once, only for terminal
// failures. A wait-mode timeout is not a failure and does not fire it.
func WithOnError(fn func(error)) JobOption {
	return func(j *Job) { j.onError = fn }
}

// WithOnTimeout sets the callback fired when a wait-mode job exceeds its
// polling deadline and degrades to background tracking.
func WithOnTimeout(fn func()) JobOption {
	return func(j *Job) { j.onTimeout = fn }
}

// WithWaitTimeout overrides the orchestrator's default polling deadline for
// this job.
func WithWaitTimeout(d time.Duration) JobOption {
	return func(j *Job) { j.waitTimeout = d }
}

// Status returns the job's current state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Progress returns the last reported progress.
func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *Job) setProgress(p int) {
	j.mu.Lock()
	if j.status.Terminal() || p < j.progress {
		j.mu.Unlock()
		return
	}
	j.progress = p
	cb := j.onProgress
	j.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (j *Job) setPolling(cancel context.CancelFunc) {
	j.mu.Lock()
	j.status = StatusPolling
	j.cancelPoll = cancel
	j.mu.Unlock()
}

// settle is the check-and-set at the heart of idempotent completion: the
// first terminal transition wins and cancels any outstanding poll timer.
func (j *Job) settle(status Status) bool {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.status = status
	cancel := j.cancelPoll
	j.cancelPoll = nil
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// complete settles the job as completed and fires the completion callback if
// this caller won the race.
func (j *Job) complete(result types.GenerateResult) bool {
	if !j.settle(StatusCompleted) {
		return false
	}
	if j.onComplete != nil {
		j.onComplete(result)
	}
	return true
}

// fail settles the job as failed and fires the error callback if this caller
// won the race.
func (j *Job) fail(err error) bool {
	if !j.settle(StatusFailed) {
		return false
	}
	if j.onError != nil {
		j.onError(err)
	}
	return true
}

// degrade moves a wait-mode job back to background tracking when its polling
// deadline passes. Not a terminal transition: the job stays registered and a
// push event (or the abandonment sweep) finishes it later.
func (j *Job) degrade() {
	j.mu.Lock()
	if j.status.Terminal() || j.degraded {
		j.mu.Unlock()
		return
	}
	j.status = StatusAccepted
	j.degraded = true
	j.cancelPoll = nil
	cb := j.onTimeout
	j.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// abandon settles the job as timed out with no callbacks; used by the
// registry sweep when the absolute deadline passes.
func (j *Job) abandon() bool {
	return j.settle(StatusTimedOut)
}
