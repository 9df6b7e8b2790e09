package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Format selects a rendering for Render
type Format string

const (
	FormatText    Format = "text"
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
	FormatJSON    Format = "json"
)

// EdgeInfo is a dependency edge, pointing from prerequisite to dependent
type EdgeInfo struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphInfo is the full structure of a graph for rendering
type GraphInfo struct {
	Tasks  []TaskInfo `json:"tasks"`
	Edges  []EdgeInfo `json:"edges"`
	Counts Counts     `json:"counts"`
}

// Describe captures the current graph for rendering
func (g *TaskGraph) Describe() GraphInfo {
	tasks := g.Tasks()
	info := GraphInfo{Tasks: tasks, Counts: g.Counts()}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			info.Edges = append(info.Edges, EdgeInfo{From: dep, To: t.ID})
		}
	}
	return info
}

// Render writes the graph in the requested format
func (g *TaskGraph) Render(w io.Writer, format Format) error {
	info := g.Describe()

	switch format {
	case FormatMermaid:
		_, err := io.WriteString(w, info.Mermaid())
		return err
	case FormatDOT:
		_, err := io.WriteString(w, info.DOT())
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case FormatText, "":
		_, err := io.WriteString(w, info.Text())
		return err
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// Mermaid renders a flowchart with one class per state
func (info GraphInfo) Mermaid() string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for _, t := range info.Tasks {
		fmt.Fprintf(&sb, "    %s[\"%s\"]:::%s\n", mermaidID(t.ID), t.ID, strings.ToLower(t.State.String()))
	}
	for _, e := range info.Edges {
		fmt.Fprintf(&sb, "    %s --> %s\n", mermaidID(e.From), mermaidID(e.To))
	}
	sb.WriteString("    classDef pending fill:#eeeeee\n")
	sb.WriteString("    classDef ready fill:#fff3b0\n")
	sb.WriteString("    classDef running fill:#add8e6\n")
	sb.WriteString("    classDef done fill:#90ee90\n")
	sb.WriteString("    classDef failed fill:#fa8072\n")
	sb.WriteString("    classDef blocked fill:#ffa500\n")
	return sb.String()
}

// DOT renders a Graphviz digraph coloured by state
func (info GraphInfo) DOT() string {
	var sb strings.Builder
	sb.WriteString("digraph tasks {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=filled];\n\n")

	for _, t := range info.Tasks {
		fmt.Fprintf(&sb, "  %q [fillcolor=%q];\n", t.ID, dotColor(t.State))
	}
	if len(info.Edges) > 0 {
		sb.WriteString("\n")
	}
	for _, e := range info.Edges {
		fmt.Fprintf(&sb, "  %q -> %q;\n", e.From, e.To)
	}
	sb.WriteString("}\n")
	return sb.String()
}

// Text renders a short human-readable summary
func (info GraphInfo) Text() string {
	var sb strings.Builder
	c := info.Counts
	fmt.Fprintf(&sb, "Tasks: %d (pending %d, ready %d, running %d, done %d, failed %d, blocked %d)\n",
		c.Total, c.Pending, c.Ready, c.Running, c.Done, c.Failed, c.Blocked)
	for _, t := range info.Tasks {
		deps := "-"
		if len(t.DependsOn) > 0 {
			deps = strings.Join(t.DependsOn, ", ")
		}
		fmt.Fprintf(&sb, "  %-24s %-8s after: %s\n", t.ID, t.State, deps)
	}
	return sb.String()
}

func dotColor(s State) string {
	switch s {
	case StateReady:
		return "lightyellow"
	case StateRunning:
		return "lightblue"
	case StateDone:
		return "lightgreen"
	case StateFailed:
		return "salmon"
	case StateBlocked:
		return "orange"
	default:
		return "lightgrey"
	}
}

// mermaidID keeps node ids to the characters Mermaid accepts unquoted
func mermaidID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
