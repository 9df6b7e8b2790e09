package graph

// State is the lifecycle position of a task in the graph
type State int

const (
	// StatePending indicates the task still has outstanding dependencies
	StatePending State = iota
	// StateReady indicates every dependency is done and the task awaits dispatch
	StateReady
	// StateRunning indicates the task is bound to a worker
	StateRunning
	// StateDone indicates the task completed successfully
	StateDone
	// StateFailed indicates the task terminally failed
	StateFailed
	// StateBlocked indicates an ancestor failed, so the task will never run
	StateBlocked
)

// String returns a string representation of the State
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	case StateBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state can never change again
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateBlocked
}

// MarshalText renders the state by name in JSON and YAML output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskSpec describes a task to insert
type TaskSpec struct {
	ID        string      `yaml:"id" json:"id"`
	DependsOn []string    `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Payload   interface{} `yaml:"payload,omitempty" json:"payload,omitempty"`
}

// TaskInfo is a read-only view of a tracked task
type TaskInfo struct {
	ID          string      `json:"id"`
	DependsOn   []string    `json:"depends_on"`
	Dependents  []string    `json:"dependents"`
	State       State       `json:"state"`
	Outstanding int         `json:"outstanding"`
	BlockedBy   string      `json:"blocked_by,omitempty"`
	Claimed     bool        `json:"claimed,omitempty"`
	Payload     interface{} `json:"-"`
}

// Counts tallies tasks by state
type Counts struct {
	Pending int `json:"pending"`
	Ready   int `json:"ready"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
	Total   int `json:"total"`
}

// Terminal returns how many tasks reached a final state
func (c Counts) Terminal() int {
	return c.Done + c.Failed + c.Blocked
}

type node struct {
	id          string
	deps        []string
	dependents  []string
	outstanding int
	state       State
	claimed     bool
	blockedBy   string
	payload     interface{}
}

func (n *node) info() TaskInfo {
	return TaskInfo{
		ID:          n.id,
		DependsOn:   append([]string{}, n.deps...),
		Dependents:  append([]string{}, n.dependents...),
		State:       n.state,
		Outstanding: n.outstanding,
		BlockedBy:   n.blockedBy,
		Claimed:     n.claimed,
		Payload:     n.payload,
	}
}

func (n *node) clone() *node {
	c := *n
	c.deps = append([]string(nil), n.deps...)
	c.dependents = append([]string(nil), n.dependents...)
	return &c
}
