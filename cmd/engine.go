package cmd

import (
	"fmt"

	"github.com/maxkimambo/dagrun/internal/backend"
	"github.com/maxkimambo/dagrun/internal/config"
	"github.com/maxkimambo/dagrun/internal/dispatch"
	"github.com/maxkimambo/dagrun/internal/events"
	"github.com/maxkimambo/dagrun/internal/graph"
	"github.com/maxkimambo/dagrun/internal/ledger"
	"github.com/maxkimambo/dagrun/internal/mutator"
	"github.com/maxkimambo/dagrun/internal/orchestrator"
	"github.com/maxkimambo/dagrun/internal/pool"
)

// engine is one fully wired run
type engine struct {
	graph        *graph.TaskGraph
	ledger       *ledger.Ledger
	mutator      *mutator.Mutator
	orchestrator *orchestrator.Orchestrator
}

func newBackend(cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend.Kind {
	case "shell":
		return backend.NewShell(backend.WithShell(cfg.Backend.Shell), backend.WithEnv(cfg.Backend.Env...)), nil
	case "sim":
		return backend.NewSim(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
	}
}

// newEngine loads specs into a fresh graph and wires every component to it
func newEngine(cfg *config.Config, b backend.Backend, specs []graph.TaskSpec, sink events.Sink) (*engine, error) {
	g := graph.New(graph.WithSink(sink))
	if err := g.AddTasks(specs); err != nil {
		return nil, err
	}

	p, err := pool.New(cfg.Pool.Capacity,
		pool.WithUtilizationWindow(cfg.Pool.UtilizationWindow),
		pool.WithSink(sink))
	if err != nil {
		return nil, err
	}

	m := mutator.New(g, mutator.WithSink(sink))
	d := dispatch.New(p, b, cfg.DispatchConfig(),
		dispatch.WithSink(sink),
		dispatch.WithMutator(m),
		dispatch.WithTracker(g))
	l := ledger.New()

	return &engine{
		graph:        g,
		ledger:       l,
		mutator:      m,
		orchestrator: orchestrator.New(g, d, l, cfg.OrchestratorConfig(), orchestrator.WithSink(sink)),
	}, nil
}
