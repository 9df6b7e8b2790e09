package graph

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationReport lists every structural problem in a set of task specs.
// Unlike AddTasks, which stops at the first problem, it collects them all.
type ValidationReport struct {
	Duplicates  []string            `json:"duplicates,omitempty"`
	MissingRefs map[string][]string `json:"missing_refs,omitempty"`
	Cycles      [][]string          `json:"cycles,omitempty"`
	// Unreachable tasks can never run: they sit on a cycle or depend,
	// directly or not, on a missing task or a cycle.
	Unreachable []string `json:"unreachable,omitempty"`
	Tasks       int      `json:"tasks"`
	Edges       int      `json:"edges"`
}

// Valid reports whether the specs would build cleanly
func (r *ValidationReport) Valid() bool {
	return len(r.Duplicates) == 0 && len(r.MissingRefs) == 0 && len(r.Cycles) == 0
}

// String renders the report for terminals
func (r *ValidationReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tasks: %d, dependencies: %d\n", r.Tasks, r.Edges)
	if r.Valid() {
		sb.WriteString("Graph is valid\n")
		return sb.String()
	}

	for _, id := range r.Duplicates {
		fmt.Fprintf(&sb, "  duplicate task id: %s\n", id)
	}
	ids := make([]string, 0, len(r.MissingRefs))
	for id := range r.MissingRefs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&sb, "  %s depends on missing: %s\n", id, strings.Join(r.MissingRefs[id], ", "))
	}
	for _, c := range r.Cycles {
		fmt.Fprintf(&sb, "  cycle: %s\n", strings.Join(c, " -> "))
	}
	if len(r.Unreachable) > 0 {
		fmt.Fprintf(&sb, "  can never run: %s\n", strings.Join(r.Unreachable, ", "))
	}
	return sb.String()
}

// Validate inspects specs without building a graph
func Validate(specs []TaskSpec) *ValidationReport {
	report := &ValidationReport{MissingRefs: map[string][]string{}}
	deps := make(map[string][]string, len(specs))

	for _, s := range specs {
		if _, dup := deps[s.ID]; dup {
			report.Duplicates = append(report.Duplicates, s.ID)
			deps[s.ID] = normalize(append(deps[s.ID], s.DependsOn...))
			continue
		}
		deps[s.ID] = normalize(s.DependsOn)
	}
	report.Tasks = len(deps)

	for id, ds := range deps {
		report.Edges += len(ds)
		for _, d := range ds {
			if _, ok := deps[d]; !ok {
				report.MissingRefs[id] = append(report.MissingRefs[id], d)
			}
		}
	}

	ids := sortedKeys(deps)
	present := func(id string) []string {
		var out []string
		for _, d := range deps[id] {
			if _, ok := deps[d]; ok {
				out = append(out, d)
			}
		}
		return out
	}
	report.Cycles = findAllCycles(ids, present)

	bad := make(map[string]bool)
	for id := range report.MissingRefs {
		bad[id] = true
	}
	for _, c := range report.Cycles {
		for _, id := range c {
			bad[id] = true
		}
	}

	// Spread along dependent edges until nothing changes.
	dependents := make(map[string][]string)
	for id, ds := range deps {
		for _, d := range ds {
			dependents[d] = append(dependents[d], id)
		}
	}
	queue := make([]string, 0, len(bad))
	for id := range bad {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[id] {
			if !bad[dep] {
				bad[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	for id := range bad {
		if _, ok := deps[id]; ok {
			report.Unreachable = append(report.Unreachable, id)
		}
	}
	sort.Strings(report.Unreachable)
	sort.Strings(report.Duplicates)
	if len(report.MissingRefs) == 0 {
		report.MissingRefs = nil
	}
	return report
}
