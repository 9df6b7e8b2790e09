package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
	"github.com/maxkimambo/dagrun/internal/graph"
	"github.com/maxkimambo/dagrun/internal/logger"
)

// Proposer accepts batches of new tasks
type Proposer interface {
	ProposeAddition(ctx context.Context, specs []graph.TaskSpec) error
}

// Watcher proposes the tasks of every task file created or written in a
// directory. Each file is applied at most once. A file that does not parse
// yet is retried on its next write; one the graph rejects is not retried.
type Watcher struct {
	dir      string
	proposer Proposer
	fsw      *fsnotify.Watcher
	notify   func(path string, err error)

	mu   sync.Mutex
	done map[string]bool
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithNotify calls fn after each attempt to apply a file
func WithNotify(fn func(path string, err error)) WatcherOption {
	return func(w *Watcher) { w.notify = fn }
}

// NewWatcher starts watching dir. Files already present are not applied.
func NewWatcher(dir string, p Proposer, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:      dir,
		proposer: p,
		fsw:      fsw,
		notify:   func(string, error) {},
		done:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run processes file events until ctx ends or the watcher is closed
func (w *Watcher) Run(ctx context.Context) error {
	logger.Op.WithFields(map[string]interface{}{
		"dir": w.dir,
	}).Info("Watching for new task files")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && IsTaskFile(event.Name) {
				logger.Op.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
				w.apply(ctx, event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Op.WithFields(map[string]interface{}{
				"dir":   w.dir,
				"error": err.Error(),
			}).Error("fsnotify error")
		}
	}
}

func (w *Watcher) apply(ctx context.Context, path string) {
	w.mu.Lock()
	if w.done[path] {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	specs, err := LoadFile(path)
	if err != nil {
		// Possibly caught mid-write; the next write event retries.
		logger.Op.WithFields(map[string]interface{}{
			"file":  path,
			"error": err.Error(),
		}).Warn("Skipping unreadable task file")
		w.notify(path, err)
		return
	}
	if len(specs) == 0 {
		// Create fires before the first write lands.
		return
	}

	err = w.proposer.ProposeAddition(ctx, specs)
	if errors.Is(err, engerrors.ErrConcurrentMutationRejected) {
		w.notify(path, err)
		return
	}

	w.mu.Lock()
	w.done[path] = true
	w.mu.Unlock()

	if err != nil {
		logger.User.Warnf("Tasks from %s rejected: %s", path, engerrors.DisplayErrorSummary(err))
	} else {
		logger.User.Discoverf("Added %d task(s) from %s", len(specs), path)
	}
	w.notify(path, err)
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
