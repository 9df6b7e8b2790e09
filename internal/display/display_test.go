package display

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/dagrun/internal/graph"
	"github.com/maxkimambo/dagrun/internal/ledger"
	"github.com/maxkimambo/dagrun/internal/orchestrator"
)

func TestTableFormatter(t *testing.T) {
	tbl := NewTableFormatter("Task", "Outcome")
	tbl.AddRow("build", "SUCCESS")
	tbl.AddRow("too", "many", "cells")
	tbl.AddRow("deploy-prod", "FAILURE")

	assert.Equal(t, 2, tbl.Len())

	lines := strings.Split(strings.TrimSuffix(tbl.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "┌─────────────┬─────────┐", lines[0])
	assert.Equal(t, "│ Task        │ Outcome │", lines[1])
	assert.Equal(t, "│ build       │ SUCCESS │", lines[3])
	assert.Equal(t, "│ deploy-prod │ FAILURE │", lines[4])
	assert.Equal(t, "└─────────────┴─────────┘", lines[5])
}

func TestBoxWrapsLongLines(t *testing.T) {
	out := NewBox(InfoMessage, "Title").
		WithWidth(30).
		AddLine("one two three four five six seven eight nine ten").
		Render()

	assert.Contains(t, out, "Title")
	for _, word := range []string{"one", "five", "ten"} {
		assert.Contains(t, out, word)
	}
	assert.GreaterOrEqual(t, strings.Count(out, "\n"), 4, "long line should wrap")
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{"aaa bbb", "ccc"}, wrapText("aaa bbb ccc", 7))
	assert.Equal(t, []string{""}, wrapText("   ", 5))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}

func TestRunSummary(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	results := []ledger.TaskResult{
		{
			TaskID: "build", Outcome: ledger.Success, WorkerID: 0,
			Start: start, End: start.Add(2 * time.Second),
			Attempts: []ledger.Attempt{{Number: 1, Outcome: ledger.Success}},
		},
		{
			TaskID: "deploy", Outcome: ledger.Failure, WorkerID: ledger.NoWorker,
			Start: start, End: start.Add(time.Second),
			Err:      errors.New("connection refused"),
			Attempts: []ledger.Attempt{{Number: 1}, {Number: 2}},
		},
	}
	report := &orchestrator.Report{
		RunID:      "run-1",
		State:      orchestrator.StateTerminated,
		Counts:     graph.Counts{Done: 1, Failed: 1, Blocked: 1, Total: 3},
		Failed:     []string{"deploy"},
		Blocked:    []string{"notify"},
		Iterations: 2,
		Elapsed:    3 * time.Second,
		Summary: ledger.Summary{
			Total: 2, Succeeded: 1, Failed: 1, Attempts: 3, Retried: 1,
			Workers: []ledger.WorkerSummary{{WorkerID: 0, Tasks: 1, Attempts: 3, Succeeded: 1, Busy: 3 * time.Second}},
		},
	}

	out := RunSummary(report, results)
	assert.Contains(t, out, "Run finished with failures")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "failed: deploy")
	assert.Contains(t, out, "blocked: 1 task(s)")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "│ deploy ")
	assert.Contains(t, out, "│ -      │", "a result without a worker shows a dash")
}

func TestRunBannerKinds(t *testing.T) {
	tests := []struct {
		name   string
		report orchestrator.Report
		kind   MessageType
	}{
		{name: "success", report: orchestrator.Report{}, kind: SuccessMessage},
		{name: "failed", report: orchestrator.Report{Failed: []string{"a"}}, kind: ErrorMessage},
		{name: "unfinished", report: orchestrator.Report{Unfinished: []string{"a"}}, kind: WarningMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, RunBanner(&tt.report).messageType)
		})
	}
}
