package graph

import (
	"sort"
	"strings"
	"sync"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
	"github.com/maxkimambo/dagrun/internal/events"
	"github.com/maxkimambo/dagrun/internal/logger"
)

// TaskGraph tracks tasks, their dependencies and their readiness.
//
// Each task keeps a count of dependencies that are not yet DONE. A task
// becomes READY the moment that count reaches zero, so readiness is never
// recomputed by scanning the whole graph. Every insertion is checked for
// cycles and unknown references before anything is committed.
type TaskGraph struct {
	mu     sync.RWMutex
	nodes  map[string]*node
	ready  map[string]struct{}
	active int
	built  bool
	sink   events.Sink
}

// Option configures a TaskGraph
type Option func(*TaskGraph)

// WithSink routes task_ready and task_blocked events to s
func WithSink(s events.Sink) Option {
	return func(g *TaskGraph) {
		g.sink = events.OrNop(s)
	}
}

// New creates an empty, unbuilt graph
func New(opts ...Option) *TaskGraph {
	g := &TaskGraph{
		nodes: make(map[string]*node),
		ready: make(map[string]struct{}),
		sink:  events.Nop,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddTask inserts a single task. Every dependency must already be tracked.
func (g *TaskGraph) AddTask(id string, deps []string, payload interface{}) error {
	return g.AddTasks([]TaskSpec{{ID: id, DependsOn: deps, Payload: payload}})
}

// AddTasks inserts a batch. Dependencies may point at tracked tasks or at
// other members of the batch. Any failure rejects the whole batch.
func (g *TaskGraph) AddTasks(specs []TaskSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	batch, err := g.validateBatch(specs)
	if err != nil {
		return err
	}
	g.commit(specs, batch)
	return nil
}

// validateBatch checks a batch against the current graph without changing it.
// The returned map holds the normalised dependency list per new id.
func (g *TaskGraph) validateBatch(specs []TaskSpec) (map[string][]string, error) {
	batch := make(map[string][]string, len(specs))
	for _, spec := range specs {
		if strings.TrimSpace(spec.ID) == "" {
			return nil, engerrors.NewInvalidTaskError(spec.ID, "task id must not be empty")
		}
		if _, exists := g.nodes[spec.ID]; exists {
			return nil, engerrors.NewDuplicateTaskError(spec.ID)
		}
		if _, exists := batch[spec.ID]; exists {
			return nil, engerrors.NewDuplicateTaskError(spec.ID)
		}
		batch[spec.ID] = normalize(spec.DependsOn)
	}

	for _, spec := range specs {
		for _, dep := range batch[spec.ID] {
			_, tracked := g.nodes[dep]
			_, inBatch := batch[dep]
			if !tracked && !inBatch {
				return nil, engerrors.NewUnknownDependencyError(spec.ID, dep)
			}
		}
	}

	// Tracked tasks never gain dependencies, so any new cycle lies entirely
	// inside the batch.
	if cycle := findCycle(sortedKeys(batch), func(id string) []string {
		var inBatch []string
		for _, dep := range batch[id] {
			if _, ok := batch[dep]; ok {
				inBatch = append(inBatch, dep)
			}
		}
		return inBatch
	}); cycle != nil {
		return nil, engerrors.NewCycleError(cycle)
	}
	return batch, nil
}

func (g *TaskGraph) commit(specs []TaskSpec, batch map[string][]string) {
	for _, spec := range specs {
		g.nodes[spec.ID] = &node{
			id:      spec.ID,
			deps:    batch[spec.ID],
			state:   StatePending,
			payload: spec.Payload,
		}
		g.active++
	}
	for _, spec := range specs {
		for _, dep := range batch[spec.ID] {
			d := g.nodes[dep]
			d.dependents = insertSorted(d.dependents, spec.ID)
		}
	}

	// Settle in dependency order so blocking propagates through the batch.
	for _, id := range topoOrder(batch) {
		n := g.nodes[id]
		for _, dep := range n.deps {
			d := g.nodes[dep]
			switch d.state {
			case StateDone:
			case StateFailed, StateBlocked:
				if n.state != StateBlocked {
					g.block(n, rootCause(d))
				}
			default:
				n.outstanding++
			}
		}
		if n.state == StatePending && n.outstanding == 0 && g.built {
			g.promote(n)
		}
	}

	logger.Op.WithFields(map[string]interface{}{
		"added": len(specs),
		"total": len(g.nodes),
		"built": g.built,
	}).Debug("Tasks added to graph")
}

// Build verifies the whole relation is acyclic and releases every task whose
// dependencies are already satisfied. Tasks added later become READY on
// insertion when eligible.
func (g *TaskGraph) Build() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := g.sortedIDs()
	if err := g.verify(ids); err != nil {
		return err
	}

	g.built = true
	promoted := 0
	for _, id := range ids {
		n := g.nodes[id]
		if n.state == StatePending && n.outstanding == 0 {
			g.promote(n)
			promoted++
		}
	}

	logger.Op.WithFields(map[string]interface{}{
		"tasks": len(ids),
		"ready": promoted,
	}).Info("Task graph built")
	return nil
}

// Verify runs the full-relation cycle check Build performs, without
// building or changing anything
func (g *TaskGraph) Verify() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.verify(g.sortedIDs())
}

func (g *TaskGraph) verify(ids []string) error {
	if cycle := findCycle(ids, func(id string) []string { return g.nodes[id].deps }); cycle != nil {
		return engerrors.NewCycleError(cycle)
	}
	return nil
}

// Built reports whether Build has succeeded
func (g *TaskGraph) Built() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.built
}

// GetReady hands out every READY task. Ids are in lexical order. Nothing is
// returned before Build.
//
// A handed-out task stays READY but is never offered again. It is RUNNING
// only while MarkRunning binds it to a worker, so the RUNNING count never
// exceeds the number of busy workers.
func (g *TaskGraph) GetReady() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.built || len(g.ready) == 0 {
		return nil
	}

	ids := make([]string, 0, len(g.ready))
	for id := range g.ready {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		g.nodes[id].claimed = true
		delete(g.ready, id)
	}
	return ids
}

// MarkRunning records that a handed-out task is now bound to a worker
func (g *TaskGraph) MarkRunning(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.handedOut(id, "MarkRunning")
	if err != nil {
		return err
	}
	n.state = StateRunning
	return nil
}

// MarkWaiting records that a handed-out task released its worker, between
// retries or before its outcome is settled
func (g *TaskGraph) MarkWaiting(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.handedOut(id, "MarkWaiting")
	if err != nil {
		return err
	}
	n.state = StateReady
	return nil
}

// MarkDone records success and releases dependents whose last outstanding
// dependency this was. They are visible to the next GetReady.
func (g *TaskGraph) MarkDone(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.handedOut(id, "MarkDone")
	if err != nil {
		return err
	}

	n.state = StateDone
	g.active--

	for _, depID := range n.dependents {
		d := g.nodes[depID]
		if d.state != StatePending {
			continue
		}
		d.outstanding--
		if d.outstanding == 0 {
			g.promote(d)
		}
	}
	return nil
}

// MarkFailed records terminal failure and blocks every transitive dependent.
// Unrelated tasks are untouched. The blocked ids are returned in lexical order.
func (g *TaskGraph) MarkFailed(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.handedOut(id, "MarkFailed")
	if err != nil {
		return nil, err
	}

	n.state = StateFailed
	g.active--

	var blocked []string
	queue := append([]string(nil), n.dependents...)
	for len(queue) > 0 {
		cur := g.nodes[queue[0]]
		queue = queue[1:]
		if cur.state.Terminal() {
			continue
		}
		g.block(cur, id)
		blocked = append(blocked, cur.id)
		queue = append(queue, cur.dependents...)
	}
	sort.Strings(blocked)

	if len(blocked) > 0 {
		logger.Op.WithFields(map[string]interface{}{
			"task_id": id,
			"blocked": len(blocked),
		}).Warn("Dependents blocked by failed task")
	}
	return blocked, nil
}

// handedOut resolves id and checks that GetReady handed it out
func (g *TaskGraph) handedOut(id, op string) (*node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, engerrors.NewUnknownTaskError(id, op)
	}
	if n.state.Terminal() {
		return nil, engerrors.NewAlreadyCompletedError(id, n.state.String(), op)
	}
	if !n.claimed {
		return nil, engerrors.NewNotDispatchedError(id, n.state.String(), op)
	}
	return n, nil
}

// promote moves a pending task to READY. Caller holds the write lock.
func (g *TaskGraph) promote(n *node) {
	n.state = StateReady
	g.ready[n.id] = struct{}{}
	g.sink.Emit(events.New(events.TaskReady, n.id))
}

// block moves a non-terminal task to BLOCKED. Caller holds the write lock.
func (g *TaskGraph) block(n *node, cause string) {
	if n.state == StateReady {
		delete(g.ready, n.id)
	}
	n.state = StateBlocked
	n.blockedBy = cause
	g.active--
	g.sink.Emit(events.New(events.TaskBlocked, n.id).WithData("blocked_by", cause))
}

func rootCause(n *node) string {
	if n.state == StateBlocked && n.blockedBy != "" {
		return n.blockedBy
	}
	return n.id
}

// IsActive reports whether any task is not yet DONE, FAILED or BLOCKED
func (g *TaskGraph) IsActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active > 0
}

// Len returns the number of tracked tasks
func (g *TaskGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Has reports whether id is tracked
func (g *TaskGraph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Task returns a read-only view of one task
func (g *TaskGraph) Task(id string) (TaskInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return TaskInfo{}, false
	}
	return n.info(), true
}

// State returns the state of id
func (g *TaskGraph) State(id string) (State, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return 0, false
	}
	return n.state, true
}

// Payload returns the opaque payload attached to id
func (g *TaskGraph) Payload(id string) (interface{}, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.payload, true
}

// Tasks returns every task in lexical id order
func (g *TaskGraph) Tasks() []TaskInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]TaskInfo, 0, len(g.nodes))
	for _, id := range g.sortedIDs() {
		out = append(out, g.nodes[id].info())
	}
	return out
}

// InState returns ids currently in any of the given states, lexically ordered
func (g *TaskGraph) InState(states ...State) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	want := make(map[State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	var ids []string
	for _, id := range g.sortedIDs() {
		if want[g.nodes[id].state] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Counts tallies tasks by state
func (g *TaskGraph) Counts() Counts {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := Counts{Total: len(g.nodes)}
	for _, n := range g.nodes {
		switch n.state {
		case StatePending:
			c.Pending++
		case StateReady:
			c.Ready++
		case StateRunning:
			c.Running++
		case StateDone:
			c.Done++
		case StateFailed:
			c.Failed++
		case StateBlocked:
			c.Blocked++
		}
	}
	return c
}

// Snapshot returns an independent deep copy. Payloads are shared, everything
// else is copied, and the copy emits no events.
func (g *TaskGraph) Snapshot() *TaskGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := &TaskGraph{
		nodes:  make(map[string]*node, len(g.nodes)),
		ready:  make(map[string]struct{}, len(g.ready)),
		active: g.active,
		built:  g.built,
		sink:   events.Nop,
	}
	for id, n := range g.nodes {
		c.nodes[id] = n.clone()
	}
	for id := range g.ready {
		c.ready[id] = struct{}{}
	}
	return c
}

func (g *TaskGraph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// normalize drops duplicate and empty dependency ids and sorts the rest
func normalize(deps []string) []string {
	seen := make(map[string]bool, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
