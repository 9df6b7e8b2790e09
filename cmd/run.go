package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/dagrun/internal/config"
	"github.com/maxkimambo/dagrun/internal/display"
	"github.com/maxkimambo/dagrun/internal/events"
	"github.com/maxkimambo/dagrun/internal/ledger"
	"github.com/maxkimambo/dagrun/internal/logger"
	"github.com/maxkimambo/dagrun/internal/orchestrator"
	"github.com/maxkimambo/dagrun/internal/source"
)

var (
	taskFile    string
	configFile  string
	capacity    int
	taskTimeout time.Duration
	maxRetries  int
	backendKind string
	watchDir    string
	critical    []string
	reportJSON  string
	reportCSV   string
	eventsLog   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a task graph",
	Long: `Execute every task in a task file in dependency order.

A task becomes ready once all of its dependencies are done. Ready tasks are
dispatched in batches to a fixed pool of workers. Failed attempts are retried
with exponential backoff when the error looks transient. A task that fails for
good blocks everything that depends on it, while unrelated branches keep going.

TASK FILE:
  tasks:
    - id: build
      run: make build
    - id: test
      depends_on: [build]
      run: make test
      env:
        GOFLAGS: -count=1

Tasks dropped into the --watch directory as YAML files are added to the graph
while the run is in progress.

EXAMPLES:
# Run with 4 workers and a 5 minute limit per attempt
dagrun run -f pipeline.yaml --capacity 4 --timeout 5m

# Stop everything as soon as the migration fails
dagrun run -f pipeline.yaml --critical migrate

# Dry run: every task succeeds instantly
dagrun run -f pipeline.yaml --backend sim
`,
	PreRunE: validateRunFlags,
	RunE:    runGraph,
}

func init() {
	runCmd.Flags().StringVarP(&taskFile, "file", "f", "", "Task file to execute (required)")
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Engine configuration file (optional)")
	runCmd.Flags().IntVar(&capacity, "capacity", 0, "Number of workers (overrides config)")
	runCmd.Flags().DurationVar(&taskTimeout, "timeout", 0, "Time limit for a single attempt (overrides config)")
	runCmd.Flags().IntVar(&maxRetries, "retries", 0, "Retries after the first attempt (overrides config)")
	runCmd.Flags().StringVar(&backendKind, "backend", "", "Execution backend: shell or sim (overrides config)")
	runCmd.Flags().StringVar(&watchDir, "watch", "", "Directory to watch for additional task files")
	runCmd.Flags().StringSliceVar(&critical, "critical", nil, "Tasks whose failure stops the run")
	runCmd.Flags().StringVar(&reportJSON, "report-json", "", "Write task results as JSON to this file")
	runCmd.Flags().StringVar(&reportCSV, "report-csv", "", "Write task results as CSV to this file")
	runCmd.Flags().StringVar(&eventsLog, "events-log", "", "Append lifecycle events as JSON lines to this file")

	_ = runCmd.MarkFlagRequired("file")
}

func validateRunFlags(cmd *cobra.Command, args []string) error {
	if watchDir != "" {
		info, err := os.Stat(watchDir)
		if err != nil {
			return fmt.Errorf("--watch: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("--watch: %s is not a directory", watchDir)
		}
	}
	return nil
}

// loadRunConfig layers command-line flags over the file and environment
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("capacity") {
		cfg.Pool.Capacity = capacity
	}
	if flags.Changed("timeout") {
		cfg.Dispatch.Timeout = taskTimeout
	}
	if flags.Changed("retries") {
		cfg.Retry.MaxRetries = maxRetries
	}
	if flags.Changed("backend") {
		cfg.Backend.Kind = backendKind
	}
	cfg.Orchestrator.CriticalTasks = append(cfg.Orchestrator.CriticalTasks, critical...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Logging.Verbose || cfg.Logging.JSON || cfg.Logging.Quiet {
		logger.Setup(verbose || debug || cfg.Logging.Verbose, jsonLogs || cfg.Logging.JSON, quiet || cfg.Logging.Quiet)
	}

	specs, err := source.LoadFile(taskFile)
	if err != nil {
		return err
	}
	logger.Op.WithFields(map[string]interface{}{
		"file":     taskFile,
		"tasks":    len(specs),
		"capacity": cfg.Pool.Capacity,
		"backend":  cfg.Backend.Kind,
	}).Debug("Loaded task file")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, closeSink, err := openSink(eventsLog)
	if err != nil {
		return err
	}
	defer closeSink()

	b, err := newBackend(cfg)
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, b, specs, sink)
	if err != nil {
		return err
	}

	if watchDir != "" {
		stopWatch, err := startWatcher(ctx, watchDir, e)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	report, runErr := e.orchestrator.Run(ctx)

	if err := writeReports(e.ledger); err != nil {
		logger.User.Warnf("Could not write report: %v", err)
	}
	if !quiet && report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), display.RunSummary(report, e.ledger.Results()))
	}

	if runErr != nil {
		return runErr
	}
	return failureError(report)
}

func startWatcher(ctx context.Context, dir string, e *engine) (func(), error) {
	w, err := source.NewWatcher(dir, e.mutator)
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(wctx); err != nil {
			logger.Op.Errorf("task file watcher stopped: %v", err)
		}
	}()
	return func() {
		cancel()
		w.Close()
		<-done
	}, nil
}

// openSink returns the lifecycle sink for a run: debug logging, plus a JSON
// lines file when path is set
func openSink(path string) (events.Sink, func(), error) {
	if path == "" {
		return events.LogSink{}, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open events log: %w", err)
	}
	bus := events.NewBus(1024)
	bus.SubscribeAll(events.JSONLines(f))

	return events.Multi(events.LogSink{}, bus), func() {
		bus.Close()
		f.Close()
	}, nil
}

func writeReports(l *ledger.Ledger) error {
	if reportJSON != "" {
		if err := writeFile(reportJSON, l.ExportJSON); err != nil {
			return err
		}
		logger.User.Infof("Results written to %s", reportJSON)
	}
	if reportCSV != "" {
		if err := writeFile(reportCSV, l.ExportCSV); err != nil {
			return err
		}
		logger.User.Infof("Results written to %s", reportCSV)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func failureError(r *orchestrator.Report) error {
	if r.Succeeded() {
		return nil
	}
	return fmt.Errorf("run %s did not complete: %d failed, %d blocked, %d unfinished",
		r.RunID, len(r.Failed), len(r.Blocked), len(r.Unfinished))
}
