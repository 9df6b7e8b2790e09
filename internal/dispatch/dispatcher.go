// Package dispatch runs single tasks and batches of tasks against a backend,
// one pool worker per attempt, with timeouts and retries.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"golang.org/x/sync/errgroup"

	"github.com/maxkimambo/dagrun/internal/backend"
	engerrors "github.com/maxkimambo/dagrun/internal/errors"
	"github.com/maxkimambo/dagrun/internal/events"
	"github.com/maxkimambo/dagrun/internal/graph"
	"github.com/maxkimambo/dagrun/internal/ledger"
	"github.com/maxkimambo/dagrun/internal/logger"
	"github.com/maxkimambo/dagrun/internal/mutator"
	"github.com/maxkimambo/dagrun/internal/pool"
)

// cancelGrace bounds a Cancel call made after the attempt context is gone
const cancelGrace = 10 * time.Second

// Config holds per-attempt limits
type Config struct {
	// Timeout bounds a single attempt, from Start until the result is fetched
	Timeout time.Duration
	// PollInterval is the wait between backend status checks
	PollInterval time.Duration
	Retry        *RetryPolicy
}

// DefaultConfig returns the stock dispatch limits
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Minute,
		PollInterval: 2 * time.Second,
		Retry:        NewDefaultRetryPolicy(),
	}
}

// Tracker is told when a task is bound to a worker and when it lets go
type Tracker interface {
	MarkRunning(id string) error
	MarkWaiting(id string) error
}

// Dispatcher executes tasks on pool workers
type Dispatcher struct {
	pool    *pool.WorkerPool
	backend backend.Backend
	cfg     Config
	sink    events.Sink
	mutator *mutator.Mutator
	tracker Tracker
	sleep   func(context.Context, time.Duration) error
	clock   func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithSink routes task_dispatched and task_retry events to s
func WithSink(s events.Sink) Option {
	return func(d *Dispatcher) { d.sink = events.OrNop(s) }
}

// WithMutator gives running tasks a discovery scope in their context
func WithMutator(m *mutator.Mutator) Option {
	return func(d *Dispatcher) { d.mutator = m }
}

// WithTracker reports worker binding to t, usually the task graph
func WithTracker(t Tracker) Option {
	return func(d *Dispatcher) { d.tracker = t }
}

// New creates a Dispatcher. Zero fields in cfg take their defaults.
func New(p *pool.WorkerPool, b backend.Backend, cfg Config, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Retry == nil {
		cfg.Retry = def.Retry
	}

	d := &Dispatcher{
		pool:    p,
		backend: b,
		cfg:     cfg,
		sink:    events.Nop,
		sleep:   gax.Sleep,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit runs one task to a terminal result. Failures are reported in the
// result, never returned.
func (d *Dispatcher) Submit(ctx context.Context, spec graph.TaskSpec) ledger.TaskResult {
	res := ledger.TaskResult{
		TaskID:   spec.ID,
		Start:    d.clock(),
		WorkerID: ledger.NoWorker,
	}

	for n := 1; ; n++ {
		a, value, err := d.attempt(ctx, spec, n)
		res.Attempts = append(res.Attempts, a)
		if a.WorkerID != ledger.NoWorker {
			res.WorkerID = a.WorkerID
		}

		if err == nil {
			res.Outcome = ledger.Success
			res.Result = value
			return d.finish(res)
		}

		if ctx.Err() != nil {
			return d.cancelled(res, ctx.Err())
		}

		res.Outcome = a.Outcome
		res.Err = err
		if !IsRetryable(err) {
			res.Permanent = true
			return d.finish(res)
		}
		if !d.cfg.Retry.ShouldRetry(n) {
			return d.finish(res)
		}

		wait := d.cfg.Retry.Backoff(n)
		d.sink.Emit(events.New(events.TaskRetry, spec.ID).
			WithWorker(a.WorkerID).
			WithData("attempt", n+1).
			WithData("backoff", wait.String()).
			WithData("error", err.Error()))
		logger.User.Retryf("%s attempt %d failed, retrying in %s", spec.ID, n, wait)
		logger.Op.WithFields(map[string]interface{}{
			"task_id": spec.ID,
			"attempt": n,
			"backoff": wait.String(),
			"error":   engerrors.DisplayErrorSummary(err),
		}).Warn("Retrying task")

		if err := d.sleep(ctx, wait); err != nil {
			return d.cancelled(res, err)
		}
	}
}

func (d *Dispatcher) cancelled(res ledger.TaskResult, cause error) ledger.TaskResult {
	res.Outcome = ledger.Failure
	res.Err = engerrors.NewCancelledError(res.TaskID, cause)
	res.Permanent = true
	return d.finish(res)
}

func (d *Dispatcher) finish(res ledger.TaskResult) ledger.TaskResult {
	res.End = d.clock()
	logger.Op.WithFields(map[string]interface{}{
		"task_id":  res.TaskID,
		"outcome":  res.Outcome,
		"attempts": len(res.Attempts),
		"duration": res.Duration().String(),
	}).Debug("Task reached terminal outcome")
	return res
}

// attempt makes one try on one worker. The worker is always released.
func (d *Dispatcher) attempt(ctx context.Context, spec graph.TaskSpec, n int) (ledger.Attempt, interface{}, error) {
	a := ledger.Attempt{Number: n, WorkerID: ledger.NoWorker, Start: d.clock()}
	done := func(outcome ledger.Outcome, err error) (ledger.Attempt, interface{}, error) {
		a.End = d.clock()
		a.Outcome = outcome
		if err != nil {
			a.Error = err.Error()
		}
		return a, nil, err
	}

	workerID, err := d.pool.Acquire(ctx, spec.ID)
	if err != nil {
		return done(ledger.Failure, err)
	}
	a.WorkerID = workerID
	d.track(spec.ID, workerID, true)

	release := pool.ReleaseOK
	defer func() {
		d.track(spec.ID, workerID, false)
		if err := d.pool.Release(workerID, release); err != nil {
			logger.Op.WithFields(map[string]interface{}{
				"worker_id": workerID,
				"task_id":   spec.ID,
				"error":     err.Error(),
			}).Error("Failed to release worker")
		}
	}()

	d.sink.Emit(events.New(events.TaskDispatched, spec.ID).WithWorker(workerID).WithData("attempt", n))
	logger.User.Dispatchf("%s → worker %d (attempt %d)", spec.ID, workerID, n)

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	runCtx := attemptCtx
	if d.mutator != nil {
		runCtx = mutator.NewContext(runCtx, d.mutator.Scope(spec.ID))
	}

	h, err := d.backend.Start(runCtx, backend.Request{
		TaskID:   spec.ID,
		Attempt:  n,
		WorkerID: workerID,
		Payload:  spec.Payload,
	})
	if err != nil {
		if errors.Is(err, backend.ErrWorkerFault) {
			release = pool.ReleaseFault
		}
		if attemptCtx.Err() != nil {
			return done(d.expired(ctx, spec.ID, n))
		}
		return done(ledger.Failure, engerrors.NewBackendError(spec.ID, n, err))
	}

	// abandon cancels an attempt whose context ended. If the backend keeps
	// running it, the late result is dropped and the slot is recycled.
	abandon := func() (ledger.Attempt, interface{}, error) {
		if cerr := d.cancel(ctx, spec.ID, workerID, h); cerr != nil {
			release = pool.ReleaseRecycle
		}
		return done(d.expired(ctx, spec.ID, n))
	}

	st, err := d.await(attemptCtx, h)
	if err != nil && attemptCtx.Err() != nil {
		return abandon()
	}
	if err != nil {
		if errors.Is(err, backend.ErrWorkerFault) {
			release = pool.ReleaseFault
		}
		return done(ledger.Failure, engerrors.NewBackendError(spec.ID, n, err))
	}

	value, err := d.backend.FetchResult(attemptCtx, h)
	if err != nil && attemptCtx.Err() != nil {
		return abandon()
	}
	if err == nil && st == backend.StatusFailed {
		err = fmt.Errorf("backend reported %s without detail", st)
	}
	if err != nil {
		if errors.Is(err, backend.ErrWorkerFault) {
			release = pool.ReleaseFault
		}
		return done(ledger.Failure, engerrors.NewBackendError(spec.ID, n, err))
	}

	a.End = d.clock()
	a.Outcome = ledger.Success
	return a, value, nil
}

func (d *Dispatcher) track(taskID string, workerID int, bound bool) {
	if d.tracker == nil {
		return
	}
	mark := d.tracker.MarkWaiting
	if bound {
		mark = d.tracker.MarkRunning
	}
	if err := mark(taskID); err != nil {
		logger.Op.WithFields(map[string]interface{}{
			"task_id":   taskID,
			"worker_id": workerID,
			"bound":     bound,
			"error":     err.Error(),
		}).Debug("Task state not tracked")
	}
}

// expired maps an ended attempt context to TIMEOUT, or to a cancellation
// when the caller's own context ended
func (d *Dispatcher) expired(ctx context.Context, taskID string, n int) (ledger.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Failure, engerrors.NewCancelledError(taskID, err)
	}
	logger.User.Warnf("%s attempt %d timed out after %s", taskID, n, d.cfg.Timeout)
	return ledger.Timeout, engerrors.NewTimeoutError(taskID, n, d.cfg.Timeout)
}

// await polls h until it finishes or ctx ends
func (d *Dispatcher) await(ctx context.Context, h backend.Handle) (backend.Status, error) {
	for {
		st, err := d.backend.Poll(ctx, h)
		if err != nil {
			return st, err
		}
		if st.Done() {
			return st, nil
		}
		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return st, err
		}
	}
}

func (d *Dispatcher) cancel(ctx context.Context, taskID string, workerID int, h backend.Handle) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelGrace)
	defer cancel()

	err := d.backend.Cancel(cctx, h)
	if err != nil {
		logger.Op.WithFields(map[string]interface{}{
			"task_id":   taskID,
			"worker_id": workerID,
			"handle":    string(h),
			"error":     err.Error(),
		}).Warn("Backend could not cancel attempt; discarding its result")
	}
	return err
}

// ExecuteBatch runs every spec concurrently and returns their results in
// input order. One task failing never stops its siblings.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, specs []graph.TaskSpec) []ledger.TaskResult {
	results := make([]ledger.TaskResult, len(specs))

	var g errgroup.Group
	g.SetLimit(d.pool.Capacity())
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			results[i] = d.Submit(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// PoolStats reports the state of the worker pool
func (d *Dispatcher) PoolStats() pool.Stats {
	return d.pool.Stats()
}
