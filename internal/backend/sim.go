package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maxkimambo/dagrun/internal/graph"
	"github.com/maxkimambo/dagrun/internal/mutator"
)

// Step scripts one attempt of a simulated task
type Step struct {
	// Duration is how long the attempt runs before finishing
	Duration time.Duration
	// Err fails the attempt with this error once Duration has passed
	Err error
	// Result is returned by FetchResult on success
	Result interface{}
	// Hang keeps the attempt running until it is cancelled
	Hang bool
	// Fault makes Start report a worker fault
	Fault bool
	// Discover is proposed through the caller's discovery scope on Start
	Discover []graph.TaskSpec
}

type simRun struct {
	taskID    string
	step      Step
	started   time.Time
	cancelled bool
}

// Sim is a deterministic in-memory backend. Each task follows its script one
// step per attempt; the last step repeats. Unscripted tasks succeed at once.
type Sim struct {
	mu            sync.Mutex
	scripts       map[string][]Step
	attempts      map[string]int
	runs          map[Handle]*simRun
	active        int
	peak          int
	order         []string
	cancelled     []string
	notCancelable bool
	discoverErrs  []error
	now           func() time.Time
}

// SimOption configures a Sim
type SimOption func(*Sim)

// WithoutCancel makes Cancel fail, as a backend that cannot abort would
func WithoutCancel() SimOption {
	return func(s *Sim) { s.notCancelable = true }
}

// NewSim creates a simulated backend
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		scripts:  make(map[string][]Step),
		attempts: make(map[string]int),
		runs:     make(map[Handle]*simRun),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Script sets the steps for taskID
func (s *Sim) Script(taskID string, steps ...Step) *Sim {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[taskID] = steps
	return s
}

func (s *Sim) Start(ctx context.Context, req Request) (Handle, error) {
	s.mu.Lock()
	n := s.attempts[req.TaskID]
	s.attempts[req.TaskID] = n + 1
	step := Step{}
	if steps := s.scripts[req.TaskID]; len(steps) > 0 {
		if n >= len(steps) {
			n = len(steps) - 1
		}
		step = steps[n]
	}
	s.order = append(s.order, req.TaskID)
	if step.Fault {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: simulated executor crash on %s", ErrWorkerFault, req.TaskID)
	}

	h := Handle(uuid.NewString())
	s.runs[h] = &simRun{taskID: req.TaskID, step: step, started: s.now()}
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	s.mu.Unlock()

	if len(step.Discover) > 0 {
		if scope := mutator.FromContext(ctx); scope != nil {
			if err := scope.DiscoverMany(ctx, step.Discover); err != nil {
				s.mu.Lock()
				s.discoverErrs = append(s.discoverErrs, err)
				s.mu.Unlock()
			}
		}
	}
	return h, nil
}

func (s *Sim) Poll(_ context.Context, h Handle) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[h]
	if !ok {
		return StatusFailed, ErrUnknownHandle
	}
	switch {
	case run.cancelled:
		return StatusFailed, nil
	case run.step.Hang:
		return StatusRunning, nil
	case s.now().Sub(run.started) < run.step.Duration:
		return StatusRunning, nil
	case run.step.Err != nil:
		return StatusFailed, nil
	default:
		return StatusCompleted, nil
	}
}

func (s *Sim) FetchResult(_ context.Context, h Handle) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	delete(s.runs, h)
	s.active--

	if run.cancelled {
		return nil, fmt.Errorf("execution of %s was cancelled", run.taskID)
	}
	if run.step.Err != nil {
		return nil, run.step.Err
	}
	if run.step.Result != nil {
		return run.step.Result, nil
	}
	return fmt.Sprintf("%s ok", run.taskID), nil
}

func (s *Sim) Cancel(_ context.Context, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[h]
	if !ok {
		return ErrUnknownHandle
	}
	if s.notCancelable {
		// The attempt keeps running in the background; only its slot is
		// given up by the caller.
		delete(s.runs, h)
		s.active--
		return ErrNotCancellable
	}
	run.cancelled = true
	delete(s.runs, h)
	s.active--
	s.cancelled = append(s.cancelled, run.taskID)
	return nil
}

// Attempts returns how many times taskID was started
func (s *Sim) Attempts(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[taskID]
}

// StartOrder returns task ids in the order Start was called
func (s *Sim) StartOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Cancelled returns task ids whose attempts were cancelled
func (s *Sim) Cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

// PeakConcurrency is the largest number of simultaneously live executions
func (s *Sim) PeakConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// DiscoveryErrors returns proposals rejected during Start
func (s *Sim) DiscoveryErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.discoverErrs...)
}
