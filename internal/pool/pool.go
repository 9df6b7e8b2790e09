package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
	"github.com/maxkimambo/dagrun/internal/events"
	"github.com/maxkimambo/dagrun/internal/logger"
)

// Status is the lifecycle position of a worker
type Status int

const (
	StatusIdle Status = iota
	StatusBusy
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusBusy:
		return "BUSY"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome tells Release how the last assignment ended
type Outcome int

const (
	// ReleaseOK returns the worker to service
	ReleaseOK Outcome = iota
	// ReleaseFault takes the worker out of service until Recover
	ReleaseFault
	// ReleaseRecycle counts a fault but puts the worker straight back into
	// service, for slots whose last assignment was abandoned
	ReleaseRecycle
)

// DefaultUtilizationWindow is how far back Stats looks when computing utilization
const DefaultUtilizationWindow = time.Minute

// Worker is a point-in-time copy of one execution slot
type Worker struct {
	ID        int       `json:"id"`
	Status    Status    `json:"status"`
	TaskID    string    `json:"task_id,omitempty"`
	BusySince time.Time `json:"busy_since,omitempty"`
	Completed int       `json:"completed"`
	Faults    int       `json:"faults"`
}

// Stats summarises the pool
type Stats struct {
	Capacity    int           `json:"capacity"`
	Idle        int           `json:"idle"`
	Busy        int           `json:"busy"`
	Failed      int           `json:"failed"`
	Waiting     int           `json:"waiting"`
	Utilization float64       `json:"utilization"`
	Window      time.Duration `json:"window"`
}

type grant struct {
	workerID int
	err      error
}

type waiter struct {
	taskID string
	ch     chan grant
}

type interval struct {
	start, end time.Time
}

// WorkerPool owns a fixed set of workers. Callers that find no idle worker
// queue up and are served strictly in arrival order: a released worker is
// handed directly to the longest waiting caller.
type WorkerPool struct {
	mu      sync.Mutex
	workers []*Worker
	idle    []int
	waiters *list.List
	failed  int
	busyLog []interval
	window  time.Duration
	created time.Time
	clock   func() time.Time
	sink    events.Sink
}

// Option configures a WorkerPool
type Option func(*WorkerPool)

// WithClock replaces time.Now, for tests
func WithClock(clock func() time.Time) Option {
	return func(p *WorkerPool) { p.clock = clock }
}

// WithUtilizationWindow sets the sliding window used by Stats
func WithUtilizationWindow(d time.Duration) Option {
	return func(p *WorkerPool) {
		if d > 0 {
			p.window = d
		}
	}
}

// WithSink routes worker_failed and worker_recovered events to s
func WithSink(s events.Sink) Option {
	return func(p *WorkerPool) { p.sink = events.OrNop(s) }
}

// New creates a pool with capacity workers, ids 0 to capacity-1. The
// capacity never changes.
func New(capacity int, opts ...Option) (*WorkerPool, error) {
	if capacity < 1 {
		return nil, engerrors.NewConfigError("pool.capacity", "capacity must be at least 1").
			WithContext("capacity", capacity)
	}

	p := &WorkerPool{
		workers: make([]*Worker, capacity),
		idle:    make([]int, 0, capacity),
		waiters: list.New(),
		window:  DefaultUtilizationWindow,
		clock:   time.Now,
		sink:    events.Nop,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.created = p.clock()

	for i := 0; i < capacity; i++ {
		p.workers[i] = &Worker{ID: i, Status: StatusIdle}
		p.idle = append(p.idle, i)
	}

	logger.Op.WithFields(map[string]interface{}{
		"capacity": capacity,
	}).Debug("Worker pool created")
	return p, nil
}

// Capacity returns the fixed number of workers
func (p *WorkerPool) Capacity() int {
	return len(p.workers)
}

// Acquire blocks until a worker is free, binds it to taskID and returns its
// id. It fails when ctx ends first, or when every worker is FAILED.
func (p *WorkerPool) Acquire(ctx context.Context, taskID string) (int, error) {
	p.mu.Lock()
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return 0, engerrors.NewCancelledError(taskID, err)
	}
	if p.failed == len(p.workers) {
		p.mu.Unlock()
		return 0, engerrors.NewNoHealthyWorkersError(len(p.workers))
	}
	if p.waiters.Len() == 0 && len(p.idle) > 0 {
		id := p.idle[0]
		p.idle = p.idle[1:]
		p.bind(p.workers[id], taskID)
		p.mu.Unlock()
		return id, nil
	}

	w := &waiter{taskID: taskID, ch: make(chan grant, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case g := <-w.ch:
		return g.workerID, g.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case g := <-w.ch:
		// Granted while we were giving up: pass the worker on.
		if g.err == nil {
			p.makeAvailable(p.workers[g.workerID])
		}
	default:
		p.waiters.Remove(elem)
	}
	return 0, engerrors.NewCancelledError(taskID, ctx.Err())
}

// Release ends the current assignment of workerID
func (p *WorkerPool) Release(workerID int, outcome Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, err := p.worker(workerID)
	if err != nil {
		return err
	}
	if w.Status != StatusBusy {
		return engerrors.NewWorkerStateError(workerID, w.Status.String(), "Release")
	}

	now := p.clock()
	p.busyLog = append(p.busyLog, interval{start: w.BusySince, end: now})
	p.trim(now)
	taskID := w.TaskID
	w.TaskID = ""
	w.BusySince = time.Time{}

	if outcome == ReleaseOK {
		w.Completed++
		p.makeAvailable(w)
		return nil
	}

	w.Faults++
	if outcome == ReleaseRecycle {
		p.sink.Emit(events.New(events.WorkerFailed, taskID).WithWorker(workerID))
		p.sink.Emit(events.New(events.WorkerRecovered, taskID).WithWorker(workerID))
		logger.Op.WithFields(map[string]interface{}{
			"worker_id": workerID,
			"task_id":   taskID,
		}).Warn("Worker recycled after abandoned assignment")
		p.makeAvailable(w)
		return nil
	}

	w.Status = StatusFailed
	p.failed++
	p.sink.Emit(events.New(events.WorkerFailed, taskID).WithWorker(workerID))
	logger.Op.WithFields(map[string]interface{}{
		"worker_id": workerID,
		"task_id":   taskID,
		"failed":    p.failed,
	}).Warn("Worker marked failed")

	if p.failed == len(p.workers) {
		for e := p.waiters.Front(); e != nil; e = p.waiters.Front() {
			wt := p.waiters.Remove(e).(*waiter)
			wt.ch <- grant{err: engerrors.NewNoHealthyWorkersError(len(p.workers))}
		}
	}
	return nil
}

// Recover returns a FAILED worker to service
func (p *WorkerPool) Recover(workerID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, err := p.worker(workerID)
	if err != nil {
		return err
	}
	if w.Status != StatusFailed {
		return engerrors.NewWorkerStateError(workerID, w.Status.String(), "Recover")
	}

	p.failed--
	p.sink.Emit(events.New(events.WorkerRecovered, "").WithWorker(workerID))
	logger.Op.WithFields(map[string]interface{}{
		"worker_id": workerID,
	}).Info("Worker recovered")
	p.makeAvailable(w)
	return nil
}

// Workers returns a copy of every worker record
func (p *WorkerPool) Workers() []Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Worker, len(p.workers))
	for i, w := range p.workers {
		out[i] = *w
	}
	return out
}

// Stats reports counts and the busy fraction of slot time over the window
func (p *WorkerPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	p.trim(now)

	s := Stats{
		Capacity: len(p.workers),
		Waiting:  p.waiters.Len(),
		Window:   p.window,
	}
	for _, w := range p.workers {
		switch w.Status {
		case StatusIdle:
			s.Idle++
		case StatusBusy:
			s.Busy++
		case StatusFailed:
			s.Failed++
		}
	}

	span := p.window
	if age := now.Sub(p.created); age < span {
		span = age
	}
	if span <= 0 {
		return s
	}
	from := now.Add(-span)

	var busy time.Duration
	for _, iv := range p.busyLog {
		busy += overlap(iv.start, iv.end, from, now)
	}
	for _, w := range p.workers {
		if w.Status == StatusBusy {
			busy += overlap(w.BusySince, now, from, now)
		}
	}
	s.Utilization = float64(busy) / float64(span*time.Duration(len(p.workers)))
	if s.Utilization > 1 {
		s.Utilization = 1
	}
	return s
}

func (p *WorkerPool) worker(id int) (*Worker, error) {
	if id < 0 || id >= len(p.workers) {
		return nil, engerrors.NewUnknownWorkerError(id)
	}
	return p.workers[id], nil
}

// bind assigns a worker to a task. Caller holds the lock.
func (p *WorkerPool) bind(w *Worker, taskID string) {
	w.Status = StatusBusy
	w.TaskID = taskID
	w.BusySince = p.clock()
}

// makeAvailable hands w to the head waiter, or parks it as idle. Caller holds the lock.
func (p *WorkerPool) makeAvailable(w *Worker) {
	if front := p.waiters.Front(); front != nil {
		wt := p.waiters.Remove(front).(*waiter)
		p.bind(w, wt.taskID)
		wt.ch <- grant{workerID: w.ID}
		return
	}
	w.Status = StatusIdle
	p.idle = append(p.idle, w.ID)
}

// trim drops busy intervals that ended before the window. Caller holds the lock.
func (p *WorkerPool) trim(now time.Time) {
	cutoff := now.Add(-p.window)
	i := 0
	for i < len(p.busyLog) && p.busyLog[i].end.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.busyLog = append(p.busyLog[:0], p.busyLog[i:]...)
	}
}

func overlap(start, end, from, to time.Time) time.Duration {
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
