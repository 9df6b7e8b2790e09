package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maxkimambo/dagrun/internal/ledger"
	"github.com/maxkimambo/dagrun/internal/orchestrator"
)

const maxErrorWidth = 60

// RunBanner frames the verdict of a finished run
func RunBanner(r *orchestrator.Report) *Box {
	kind, title := SuccessMessage, "Run completed"
	switch {
	case len(r.Failed) > 0:
		kind, title = ErrorMessage, "Run finished with failures"
	case len(r.Blocked) > 0 || len(r.Unfinished) > 0:
		kind, title = WarningMessage, "Run finished incomplete"
	}

	c := r.Counts
	box := NewBox(kind, title).
		AddLinef("Run ID:   %s", r.RunID).
		AddLinef("Tasks:    %d done, %d failed, %d blocked of %d", c.Done, c.Failed, c.Blocked, c.Total).
		AddLinef("Elapsed:  %s over %d scheduling rounds", formatDuration(r.Elapsed), r.Iterations)

	s := r.Summary
	if s.Total > 0 {
		box.AddLinef("Attempts: %d (%d tasks retried), success rate %.1f%%", s.Attempts, s.Retried, s.SuccessRate()*100)
		box.AddLinef("Duration: mean %s, p50 %s, max %s",
			formatDuration(s.MeanDuration), formatDuration(s.P50Duration), formatDuration(s.MaxDuration))
	}
	for _, id := range r.Failed {
		box.AddBullet("failed: " + id)
	}
	if n := len(r.Blocked); n > 0 {
		box.AddBullet(fmt.Sprintf("blocked: %d task(s) behind failed dependencies", n))
	}
	if n := len(r.Unfinished); n > 0 {
		box.AddBullet(fmt.Sprintf("unfinished: %s", strings.Join(r.Unfinished, ", ")))
	}
	return box
}

// TaskTable lists every recorded result in completion order
func TaskTable(results []ledger.TaskResult) *TableFormatter {
	t := NewTableFormatter("Task", "Outcome", "Attempts", "Worker", "Duration", "Error")
	for _, r := range results {
		t.AddRow(
			r.TaskID,
			string(r.Outcome),
			strconv.Itoa(len(r.Attempts)),
			workerLabel(r.WorkerID),
			formatDuration(r.Duration()),
			truncate(r.ErrorMessage(), maxErrorWidth),
		)
	}
	return t
}

// WorkerTable shows how the work spread over the pool
func WorkerTable(workers []ledger.WorkerSummary) *TableFormatter {
	t := NewTableFormatter("Worker", "Tasks", "Attempts", "Succeeded", "Failed", "Busy")
	for _, w := range workers {
		t.AddRow(
			workerLabel(w.WorkerID),
			strconv.Itoa(w.Tasks),
			strconv.Itoa(w.Attempts),
			strconv.Itoa(w.Succeeded),
			strconv.Itoa(w.Failed),
			formatDuration(w.Busy),
		)
	}
	return t
}

// RunSummary renders the banner followed by the task and worker tables
func RunSummary(r *orchestrator.Report, results []ledger.TaskResult) string {
	var sb strings.Builder
	sb.WriteString(RunBanner(r).Render())
	sb.WriteString("\n")
	if len(results) > 0 {
		sb.WriteString("\n")
		sb.WriteString(TaskTable(results).String())
	}
	if len(r.Summary.Workers) > 0 {
		sb.WriteString("\n")
		sb.WriteString(WorkerTable(r.Summary.Workers).String())
	}
	return sb.String()
}

func workerLabel(id int) string {
	if id == ledger.NoWorker {
		return "-"
	}
	return strconv.Itoa(id)
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
