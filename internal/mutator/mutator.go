package mutator

import (
	"context"
	"sync/atomic"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
	"github.com/maxkimambo/dagrun/internal/events"
	"github.com/maxkimambo/dagrun/internal/graph"
	"github.com/maxkimambo/dagrun/internal/logger"
)

// Mutator applies runtime additions to a live TaskGraph. Proposals are
// serialized: each one is applied to a snapshot first, checked the same way
// Build checks the graph, and committed only if the snapshot stays valid.
// A rejected proposal leaves the live graph exactly as it was.
type Mutator struct {
	graph *graph.TaskGraph
	slot  chan struct{}
	sink  events.Sink

	committed atomic.Int64
	rejected  atomic.Int64
}

// Option configures a Mutator
type Option func(*Mutator)

// WithSink routes cycle_rejected events to s
func WithSink(s events.Sink) Option {
	return func(m *Mutator) { m.sink = events.OrNop(s) }
}

// New creates a Mutator over g
func New(g *graph.TaskGraph, opts ...Option) *Mutator {
	m := &Mutator{
		graph: g,
		slot:  make(chan struct{}, 1),
		sink:  events.Nop,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProposeAddition waits for the mutation slot and applies specs as one
// batch. If ctx ends while waiting, the proposal is dropped with
// ErrConcurrentMutationRejected.
func (m *Mutator) ProposeAddition(ctx context.Context, specs []graph.TaskSpec) error {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		m.rejected.Add(1)
		return engerrors.NewMutationRejectedError(ctx.Err())
	}
	defer func() { <-m.slot }()
	return m.apply(specs)
}

// TryProposeAddition is ProposeAddition without waiting: it fails at once
// when another proposal is in flight.
func (m *Mutator) TryProposeAddition(specs []graph.TaskSpec) error {
	select {
	case m.slot <- struct{}{}:
	default:
		m.rejected.Add(1)
		return engerrors.NewMutationRejectedError(nil)
	}
	defer func() { <-m.slot }()
	return m.apply(specs)
}

func (m *Mutator) apply(specs []graph.TaskSpec) error {
	if len(specs) == 0 {
		return nil
	}

	snap := m.graph.Snapshot()
	err := snap.AddTasks(specs)
	if err == nil {
		err = snap.Verify()
	}
	if err == nil {
		// Only proposals insert while a run is live, and they hold the slot,
		// so the snapshot verdict still holds here.
		err = m.graph.AddTasks(specs)
	}
	if err != nil {
		m.rejected.Add(1)
		m.reject(specs, err)
		return err
	}

	m.committed.Add(1)
	logger.Op.WithFields(map[string]interface{}{
		"tasks": len(specs),
		"first": specs[0].ID,
	}).Info("Graph mutation committed")
	return nil
}

func (m *Mutator) reject(specs []graph.TaskSpec, err error) {
	fields := map[string]interface{}{
		"tasks": len(specs),
		"error": engerrors.DisplayErrorSummary(err),
	}
	if cycle := engerrors.CycleOf(err); cycle != nil {
		fields["cycle"] = cycle
		m.sink.Emit(events.New(events.CycleRejected, specs[0].ID).WithData("cycle", cycle))
	}
	logger.Op.WithFields(fields).Warn("Graph mutation rejected")
}

// Stats returns how many proposals were committed and rejected
func (m *Mutator) Stats() (committed, rejected int64) {
	return m.committed.Load(), m.rejected.Load()
}
