package graph

import "sort"

const (
	white = iota // unvisited
	grey         // on the current DFS path
	black        // fully explored
)

// findCycle runs a depth-first search from each id in order, following the
// edges returned by next. It returns the first cycle found as a path whose
// first and last element are equal, or nil when the relation is acyclic.
func findCycle(ids []string, next func(string) []string) []string {
	color := make(map[string]int, len(ids))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		path = append(path, id)

		for _, dep := range next(id) {
			switch color[dep] {
			case grey:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), path[start:]...)
				return append(cycle, dep)
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// findAllCycles reports one cycle per back edge, for diagnostics
func findAllCycles(ids []string, next func(string) []string) [][]string {
	color := make(map[string]int, len(ids))
	var path []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		path = append(path, id)
		for _, dep := range next(id) {
			switch color[dep] {
			case grey:
				for i, p := range path {
					if p == dep {
						cycle := append([]string(nil), path[i:]...)
						cycles = append(cycles, append(cycle, dep))
						break
					}
				}
			case white:
				visit(dep)
			}
		}
		path = path[:len(path)-1]
		color[id] = black
	}

	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// topoOrder sorts an acyclic batch so every id follows its in-batch
// dependencies. Ties break lexically.
func topoOrder(batch map[string][]string) []string {
	indegree := make(map[string]int, len(batch))
	dependents := make(map[string][]string, len(batch))
	for id, deps := range batch {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range deps {
			if _, ok := batch[dep]; !ok {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(batch))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		next := dependents[id]
		sort.Strings(next)
		for _, d := range next {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	return order
}
