// Package orchestrator drives a task graph to completion: it repeatedly
// takes the ready tasks, dispatches them as a batch, and settles the
// outcomes back into the graph and the ledger.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gax "github.com/googleapis/gax-go/v2"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
	"github.com/maxkimambo/dagrun/internal/events"
	"github.com/maxkimambo/dagrun/internal/graph"
	"github.com/maxkimambo/dagrun/internal/ledger"
	"github.com/maxkimambo/dagrun/internal/logger"
	"github.com/maxkimambo/dagrun/internal/pool"
	"github.com/maxkimambo/dagrun/internal/progress"
)

// State is the lifecycle of a run
type State int32

const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Dispatcher is what the orchestrator needs from the dispatch layer
type Dispatcher interface {
	ExecuteBatch(ctx context.Context, specs []graph.TaskSpec) []ledger.TaskResult
	PoolStats() pool.Stats
}

// Config tunes the run loop
type Config struct {
	// IdleBackoff is the wait after a readiness scan finds nothing
	IdleBackoff time.Duration
	// StallLimit stops the run after this many consecutive scans that find
	// nothing ready. Batches are awaited whole, so an empty scan means the
	// remaining work is held outside this run. Zero disables the check.
	StallLimit int
	// ProgressInterval is the period of progress lines. Zero disables them.
	ProgressInterval time.Duration
	// CriticalTasks end the run early when they fail or are blocked
	CriticalTasks []string
}

// DefaultConfig returns the stock loop settings
func DefaultConfig() Config {
	return Config{
		IdleBackoff:      50 * time.Millisecond,
		StallLimit:       200,
		ProgressInterval: 10 * time.Second,
	}
}

// Report is the outcome of a run
type Report struct {
	RunID      string         `json:"run_id"`
	State      State          `json:"state"`
	Summary    ledger.Summary `json:"summary"`
	Counts     graph.Counts   `json:"counts"`
	Failed     []string       `json:"failed"`
	Blocked    []string       `json:"blocked"`
	Unfinished []string       `json:"unfinished"`
	Iterations int            `json:"iterations"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// Succeeded reports whether every task finished DONE
func (r *Report) Succeeded() bool {
	return len(r.Failed) == 0 && len(r.Blocked) == 0 && len(r.Unfinished) == 0
}

// Orchestrator owns one run over a graph
type Orchestrator struct {
	graph      *graph.TaskGraph
	dispatcher Dispatcher
	ledger     *ledger.Ledger
	cfg        Config
	sink       events.Sink
	critical   map[string]bool
	state      atomic.Int32
	sleep      func(context.Context, time.Duration) error

	mu             sync.Mutex
	criticalFailed string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSink routes task_completed and task_failed events to s
func WithSink(s events.Sink) Option {
	return func(o *Orchestrator) { o.sink = events.OrNop(s) }
}

// New creates an orchestrator. Zero fields in cfg take their defaults,
// except StallLimit and ProgressInterval where zero means off.
func New(g *graph.TaskGraph, d Dispatcher, l *ledger.Ledger, cfg Config, opts ...Option) *Orchestrator {
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = DefaultConfig().IdleBackoff
	}
	o := &Orchestrator{
		graph:      g,
		dispatcher: d,
		ledger:     l,
		cfg:        cfg,
		sink:       events.Nop,
		critical:   make(map[string]bool, len(cfg.CriticalTasks)),
		sleep:      gax.Sleep,
	}
	for _, id := range cfg.CriticalTasks {
		o.critical[id] = true
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns where the run currently is
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	logStateChange(s)
}

// drain moves a running run to DRAINING. No batch is launched afterwards.
func (o *Orchestrator) drain() {
	if o.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		logStateChange(StateDraining)
	}
}

func logStateChange(s State) {
	logger.Op.WithFields(map[string]interface{}{
		"state": s.String(),
	}).Debug("Orchestrator state changed")
}

// Run executes the graph until no task is left to run. It builds the graph
// first if needed. A partial report is returned together with the error when
// the run is cancelled, a critical task fails, or the run stalls.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if !o.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		return nil, engerrors.NewAlreadyStartedError()
	}
	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	defer func() {
		o.setState(StateTerminated)
		o.fillReport(report, start)
	}()

	if !o.graph.Built() {
		if err := o.graph.Build(); err != nil {
			return report, err
		}
	}

	logger.User.Starting("Running " + pluralTasks(o.graph.Len()))
	logger.Op.WithFields(map[string]interface{}{
		"run_id":   report.RunID,
		"tasks":    o.graph.Len(),
		"critical": o.cfg.CriticalTasks,
	}).Info("Run started")

	stopProgress := o.startProgress()
	err := o.loop(ctx, report)
	o.drain()
	stopProgress()
	return report, err
}

func (o *Orchestrator) loop(ctx context.Context, report *Report) error {
	idle := 0
	for o.graph.IsActive() {
		if err := ctx.Err(); err != nil {
			return engerrors.NewRunCancelledError(err)
		}
		if id := o.criticalFailure(); id != "" {
			return engerrors.NewCriticalTaskError(id)
		}

		ids := o.graph.GetReady()
		if len(ids) == 0 {
			idle++
			if o.cfg.StallLimit > 0 && idle >= o.cfg.StallLimit {
				return engerrors.NewStalledError(o.graph.InState(graph.StatePending, graph.StateReady, graph.StateRunning))
			}
			if err := o.sleep(ctx, o.cfg.IdleBackoff); err != nil {
				return engerrors.NewRunCancelledError(err)
			}
			continue
		}
		idle = 0
		report.Iterations++

		specs := make([]graph.TaskSpec, 0, len(ids))
		for _, id := range ids {
			payload, _ := o.graph.Payload(id)
			specs = append(specs, graph.TaskSpec{ID: id, Payload: payload})
		}
		logger.Op.WithFields(map[string]interface{}{
			"iteration": report.Iterations,
			"tasks":     ids,
		}).Debug("Dispatching ready batch")

		for _, res := range o.executeBatch(ctx, specs) {
			o.settle(res)
		}
	}

	if id := o.criticalFailure(); id != "" {
		return engerrors.NewCriticalTaskError(id)
	}
	// The last batch may have been cut short.
	if err := ctx.Err(); err != nil {
		return engerrors.NewRunCancelledError(err)
	}
	return nil
}

// executeBatch waits for the whole batch. If ctx ends meanwhile the run
// starts draining while the in-flight tasks wind down.
func (o *Orchestrator) executeBatch(ctx context.Context, specs []graph.TaskSpec) []ledger.TaskResult {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			o.drain()
		case <-done:
		}
	}()
	return o.dispatcher.ExecuteBatch(ctx, specs)
}

// settle records res and moves its task to DONE or FAILED
func (o *Orchestrator) settle(res ledger.TaskResult) {
	if err := o.ledger.Record(res); err != nil {
		logger.Op.WithFields(map[string]interface{}{
			"task_id": res.TaskID,
			"error":   err.Error(),
		}).Error("Failed to record result")
	}

	if res.Succeeded() {
		if err := o.graph.MarkDone(res.TaskID); err != nil {
			logger.Op.WithFields(map[string]interface{}{
				"task_id": res.TaskID,
				"error":   err.Error(),
			}).Error("Failed to mark task done")
			return
		}
		o.sink.Emit(events.New(events.TaskCompleted, res.TaskID).
			WithWorker(res.WorkerID).
			WithData("duration", res.Duration().String()))
		logger.User.Successf("%s done in %s", res.TaskID, res.Duration().Round(time.Millisecond))
		return
	}

	blocked, err := o.graph.MarkFailed(res.TaskID)
	if err != nil {
		logger.Op.WithFields(map[string]interface{}{
			"task_id": res.TaskID,
			"error":   err.Error(),
		}).Error("Failed to mark task failed")
		return
	}
	o.sink.Emit(events.New(events.TaskFailed, res.TaskID).
		WithWorker(res.WorkerID).
		WithData("outcome", string(res.Outcome)).
		WithData("error", res.ErrorMessage()).
		WithData("blocked", blocked))
	logger.User.Errorf("%s %s: %s", res.TaskID, res.Outcome, engerrors.DisplayErrorSummary(res.Err))
	if len(blocked) > 0 {
		logger.User.Blockedf("%s blocked by %s", joinIDs(blocked), res.TaskID)
	}

	for _, id := range append([]string{res.TaskID}, blocked...) {
		if o.critical[id] {
			o.markCritical(id)
			break
		}
	}
}

func (o *Orchestrator) markCritical(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.criticalFailed == "" {
		o.criticalFailed = id
		logger.User.Errorf("Critical task %s can no longer succeed, stopping", id)
	}
}

func (o *Orchestrator) criticalFailure() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.criticalFailed
}

func (o *Orchestrator) fillReport(r *Report, start time.Time) {
	r.State = o.State()
	r.Summary = o.ledger.Summary()
	r.Counts = o.graph.Counts()
	r.Failed = o.graph.InState(graph.StateFailed)
	r.Blocked = o.graph.InState(graph.StateBlocked)
	r.Unfinished = o.graph.InState(graph.StatePending, graph.StateReady, graph.StateRunning)
	r.Elapsed = time.Since(start)

	logger.Op.WithFields(map[string]interface{}{
		"run_id":     r.RunID,
		"done":       r.Counts.Done,
		"failed":     len(r.Failed),
		"blocked":    len(r.Blocked),
		"unfinished": len(r.Unfinished),
		"iterations": r.Iterations,
		"elapsed":    r.Elapsed.String(),
	}).Info("Run finished")
}

// startProgress logs a progress line every ProgressInterval until stopped
func (o *Orchestrator) startProgress() func() {
	if o.cfg.ProgressInterval <= 0 {
		return func() {}
	}

	reporter := progress.NewReporter()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				logger.User.Progressf("%s", reporter.Report(o.progressInfo()))
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func pluralTasks(n int) string {
	if n == 1 {
		return "1 task"
	}
	return fmt.Sprintf("%d tasks", n)
}

func joinIDs(ids []string) string {
	if len(ids) > 5 {
		return fmt.Sprintf("%s and %d more", strings.Join(ids[:5], ", "), len(ids)-5)
	}
	return strings.Join(ids, ", ")
}

func (o *Orchestrator) progressInfo() progress.Info {
	c := o.graph.Counts()
	return progress.Info{
		Total:        c.Total,
		Done:         c.Done,
		Failed:       c.Failed,
		Blocked:      c.Blocked,
		Running:      c.Running,
		Pending:      c.Pending + c.Ready,
		Utilization:  o.dispatcher.PoolStats().Utilization,
		RunningTasks: o.graph.InState(graph.StateRunning),
	}
}
