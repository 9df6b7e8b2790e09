package mutator

import (
	"context"

	"github.com/maxkimambo/dagrun/internal/graph"
	"github.com/maxkimambo/dagrun/internal/logger"
)

// Scope lets a running task add the work it discovers
type Scope struct {
	m      *Mutator
	caller string
}

// Scope returns a discovery handle bound to the calling task
func (m *Mutator) Scope(callerID string) *Scope {
	return &Scope{m: m, caller: callerID}
}

// Caller returns the id of the task that owns the scope
func (s *Scope) Caller() string {
	return s.caller
}

// Discover proposes a single task
func (s *Scope) Discover(ctx context.Context, id string, deps []string, payload interface{}) error {
	return s.DiscoverMany(ctx, []graph.TaskSpec{{ID: id, DependsOn: deps, Payload: payload}})
}

// DiscoverMany proposes several tasks as one all-or-nothing batch
func (s *Scope) DiscoverMany(ctx context.Context, specs []graph.TaskSpec) error {
	ids := make([]string, len(specs))
	for i, spec := range specs {
		ids[i] = spec.ID
	}
	logger.Op.WithFields(map[string]interface{}{
		"caller": s.caller,
		"tasks":  ids,
	}).Debug("Task discovered new work")

	if err := s.m.ProposeAddition(ctx, specs); err != nil {
		return err
	}
	logger.User.Discoverf("%s discovered %d new task(s)", s.caller, len(specs))
	return nil
}

type scopeKey struct{}

// NewContext returns a copy of ctx carrying s
func NewContext(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope carried by ctx, or nil
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
