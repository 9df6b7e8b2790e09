package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
)

const pipeline = `
tasks:
  - id: fetch
    run: echo fetched
  - id: build
    depends_on: [fetch]
    run: echo built
  - id: lint
    depends_on: [fetch]
    run: echo linted
  - id: package
    depends_on: [build, lint]
    run: echo packaged
`

// resetFlags puts every flag back to its default so commands can be
// executed more than once in one process.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			require.NoError(t, sv.Replace(nil))
		} else {
			require.NoError(t, f.Value.Set(f.DefValue))
		}
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	runCmd.Flags().VisitAll(reset)
	validateCmd.Flags().VisitAll(reset)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTaskFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// fastConfig polls the shell backend often so tests finish quickly
func fastConfig(t *testing.T, dir string) string {
	return writeTaskFile(t, dir, "dagrun.yaml", `
dispatch:
  poll_interval: 10ms
retry:
  base_backoff: 1ms
  max_backoff: 5ms
orchestrator:
  idle_backoff: 5ms
`)
}

func TestRun_SimBackend(t *testing.T) {
	dir := t.TempDir()
	tasks := writeTaskFile(t, dir, "pipeline.yaml", pipeline)
	jsonPath := filepath.Join(dir, "results.json")

	out, err := execute(t, "run", "-f", tasks, "--backend", "sim", "--capacity", "2", "--report-json", jsonPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Run completed")
	assert.Contains(t, out, "4 done, 0 failed, 0 blocked of 4")

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 4)
}

func TestRun_ShellBackend(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	dir := t.TempDir()
	tasks := writeTaskFile(t, dir, "pipeline.yaml", pipeline)
	csvPath := filepath.Join(dir, "results.csv")
	eventsPath := filepath.Join(dir, "events.jsonl")

	out, err := execute(t, "run", "-f", tasks, "-c", fastConfig(t, dir),
		"--report-csv", csvPath, "--events-log", eventsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "4 done, 0 failed")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(string(data), "\n"), "header plus one row per task")

	evts, err := os.ReadFile(eventsPath)
	require.NoError(t, err)
	assert.Contains(t, string(evts), `"type":"task_completed"`)
}

func TestRun_FailureBlocksDependents(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	dir := t.TempDir()
	tasks := writeTaskFile(t, dir, "pipeline.yaml", `
tasks:
  - id: compile
    run: exit 127
  - id: ship
    depends_on: [compile]
    run: echo shipped
  - id: docs
    run: echo docs
`)

	out, err := execute(t, "run", "-f", tasks, "-c", fastConfig(t, dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 failed, 1 blocked")
	assert.Contains(t, out, "failed: compile")
	assert.Contains(t, out, "docs")
}

func TestRun_CriticalTaskStopsRun(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	dir := t.TempDir()
	tasks := writeTaskFile(t, dir, "pipeline.yaml", `
tasks:
  - id: migrate
    run: exit 126
  - id: deploy
    depends_on: [migrate]
    run: echo deployed
`)

	_, err := execute(t, "run", "-f", tasks, "-c", fastConfig(t, dir), "--critical", "migrate")
	require.Error(t, err)
	assert.ErrorIs(t, err, engerrors.ErrCriticalTaskFailed)
}

func TestRun_InvalidInput(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
		kind error
	}{
		{
			name: "bad capacity",
			args: []string{"run", "-f", writeTaskFile(t, dir, "ok.yaml", pipeline), "--backend", "sim", "--capacity", "0"},
			kind: engerrors.ErrInvalidConfig,
		},
		{
			name: "cycle",
			args: []string{"run", "-f", writeTaskFile(t, dir, "cycle.yaml", "tasks:\n  - id: a\n    depends_on: [b]\n  - id: b\n    depends_on: [a]\n"), "--backend", "sim"},
			kind: engerrors.ErrCycleDetected,
		},
		{
			name: "watch is not a directory",
			args: []string{"run", "-f", writeTaskFile(t, dir, "ok2.yaml", pipeline), "--watch", filepath.Join(dir, "ok2.yaml")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	valid := writeTaskFile(t, dir, "valid.yaml", pipeline)
	broken := writeTaskFile(t, dir, "broken.yaml", `
tasks:
  - id: a
    depends_on: [c]
  - id: c
    depends_on: [a]
  - id: d
    depends_on: [missing]
`)

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{name: "text", args: []string{"validate", "-f", valid}, want: []string{"Tasks: 4", "package"}},
		{name: "mermaid", args: []string{"validate", "-f", valid, "--format", "mermaid"}, want: []string{"graph TD", "fetch --> build"}},
		{name: "dot", args: []string{"validate", "-f", valid, "--format", "dot"}, want: []string{"digraph tasks", `"build" -> "package"`}},
		{name: "broken", args: []string{"validate", "-f", broken}, want: []string{"cycle:", "d depends on missing: missing"}, wantErr: true},
		{name: "bad format", args: []string{"validate", "-f", valid, "--format", "svg"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}
