package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/user/pageflow/internal/auth"
	"github.com/user/pageflow/internal/pipeline"
	"github.com/user/pageflow/internal/types"
)

// Options holds orchestrator tuning. Zero values fall back to defaults.
type Options struct {
	PollInterval  time.Duration
	WaitTimeout   time.Duration
	AutoThreshold time.Duration
	AbandonAfter  time.Duration
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 2 * time.Minute
	}
	if o.AutoThreshold <= 0 {
		o.AutoThreshold = time.Minute
	}
	if o.AbandonAfter <= 0 {
		o.AbandonAfter = 30 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	return o
}

// Outcome is the result of starting a generation: exactly one of Result
// (synchronous completion) or Job (asynchronous acceptance) is set.
type Outcome struct {
	Result *types.GenerateResult
	Job    *Job
}

// Orchestrator starts generation requests and drives accepted jobs to
// completion per the caller's strategy.
type Orchestrator struct {
	pipe     *pipeline.Pipeline
	registry *Registry
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Orchestrator sharing the given pending registry with the
// push channel.
func New(pipe *pipeline.Pipeline, registry *Registry, opts Options) *Orchestrator {
	return &Orchestrator{pipe: pipe, registry: registry, opts: opts.withDefaults()}
}

// Start initialises the orchestrator's context and launches the registry
// sweep. Must be called before Generate.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.wg.Add(1)
	go o.sweepLoop()
}

// Stop cancels all polling loops and waits for them to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Generate issues the generation request. A 200 completes synchronously; a
// 202 yields a Job whose lifecycle follows the selected strategy. An
// accepted response without a task id is a terminal local error.
func (o *Orchestrator) Generate(ctx context.Context, req types.GenerateRequest, strategy Strategy, jobOpts ...JobOption) (*Outcome, error) {
	var env types.GenerateEnvelope
	status, err := o.pipe.Do(ctx, http.MethodPost, "/pages/generate", req, &env)
	if err != nil {
		return nil, err
	}

	if status == http.StatusOK {
		result := env.Data.GenerateResult
		return &Outcome{Result: &result}, nil
	}

	// 202: asynchronous acceptance.
	if env.Data.TaskID == "" {
		return nil, errors.New("accepted response missing task id")
	}

	now := time.Now()
	job := &Job{
		ID:          env.Data.TaskID,
		StartedAt:   now,
		Deadline:    now.Add(o.opts.AbandonAfter),
		waitTimeout: o.opts.WaitTimeout,
		status:      StatusAccepted,
	}
	for _, opt := range jobOpts {
		opt(job)
	}

	mode := strategy
	if mode == StrategyAuto {
		estimate := time.Duration(env.Data.EstimatedCompletionTime) * time.Second
		if estimate <= o.opts.AutoThreshold {
			mode = StrategyWait
		} else {
			mode = StrategyAsync
		}
		slog.Debug("auto strategy resolved", "job_id", string(job.ID), "estimate", estimate, "mode", string(mode))
	}
	job.Mode = mode

	o.registry.Register(job)

	if mode == StrategyWait {
		pollCtx, cancel := context.WithCancel(o.ctx)
		job.setPolling(cancel)
		o.wg.Add(1)
		go o.poll(pollCtx, job)
	}
	return &Outcome{Job: job}, nil
}

// poll drives one wait-mode job: fixed-interval status requests until a
// terminal status, the polling deadline, or cancellation. Network failures
// are transient within the loop's own budget; they never fail the job.
func (o *Orchestrator) poll(ctx context.Context, job *Job) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(job.waitTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			// Timeout degrades to async: stop polling, keep the job
			// registered for push-driven completion.
			slog.Info("polling deadline passed, tracking in background", "job_id", string(job.ID))
			job.degrade()
			return
		case <-ticker.C:
			var env types.StatusEnvelope
			_, err := o.pipe.Do(ctx, http.MethodGet, "/pages/generate/status/"+string(job.ID), nil, &env)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				var netErr *pipeline.NetworkError
				if errors.As(err, &netErr) {
					slog.Debug("transient poll failure", "job_id", string(job.ID), "error", err)
					continue
				}
				if errors.Is(err, pipeline.ErrUnauthenticated) || errors.Is(err, auth.ErrRefreshFailed) {
					// Session-level failures end the loop; teardown clears
					// the registry separately.
					slog.Warn("polling stopped by auth failure", "job_id", string(job.ID), "error", err)
					return
				}
				slog.Debug("poll error, will retry", "job_id", string(job.ID), "error", err)
				continue
			}

			switch env.Data.Status {
			case types.TaskCompleted:
				result := types.GenerateResult{
					HTMLList:      env.Data.HTMLList,
					ResultPayload: env.Data.ResultPayload,
				}
				o.registry.Complete(job.ID, result)
				return
			case types.TaskFailed:
				msg := env.Data.Message
				if msg == "" {
					msg = "server reported failure"
				}
				o.registry.Fail(job.ID, fmt.Errorf("%w: %s", ErrTaskFailed, msg))
				return
			default:
				job.setProgress(env.Data.Progress)
			}
		}
	}
}

func (o *Orchestrator) sweepLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if n := o.registry.Sweep(time.Now()); n > 0 {
				slog.Debug("registry sweep", "abandoned", n)
			}
		}
	}
}
