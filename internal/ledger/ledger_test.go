package ledger

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func result(id string, outcome Outcome, worker int, d time.Duration, attempts ...Attempt) TaskResult {
	r := TaskResult{
		TaskID:   id,
		Outcome:  outcome,
		Start:    t0,
		End:      t0.Add(d),
		WorkerID: worker,
		Attempts: attempts,
	}
	if len(attempts) == 0 {
		r.Attempts = []Attempt{{Number: 1, Outcome: outcome, WorkerID: worker, Start: t0, End: t0.Add(d)}}
	}
	if outcome != Success {
		r.Err = errors.New(id + " broke")
	} else {
		r.Result = id + " ok"
	}
	return r
}

func TestRecord(t *testing.T) {
	l := New()
	require.NoError(t, l.Record(result("a", Success, 0, time.Second)))
	require.NoError(t, l.Record(result("b", Failure, 1, time.Second)))

	err := l.Record(result("a", Failure, 0, time.Second))
	assert.ErrorIs(t, err, engerrors.ErrDuplicateResult)

	got, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, Success, got.Outcome, "duplicate must not overwrite")
	_, ok = l.Get("missing")
	assert.False(t, ok)

	ids := []string{}
	for _, r := range l.Results() {
		ids = append(ids, r.TaskID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, 2, l.Len())
}

func TestRecord_Concurrent(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Record(result(fmt.Sprintf("task-%02d", i), Success, i%4, time.Millisecond)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name    string
		results []TaskResult
		check   func(t *testing.T, s Summary)
	}{
		{
			name: "empty",
			check: func(t *testing.T, s Summary) {
				assert.Equal(t, 0, s.Total)
				assert.Zero(t, s.SuccessRate())
				assert.Empty(t, s.Workers)
			},
		},
		{
			name: "mixed outcomes",
			results: []TaskResult{
				result("a", Success, 0, 1*time.Second),
				result("b", Success, 1, 3*time.Second),
				result("c", Failure, 0, 2*time.Second),
				result("d", Timeout, 1, 4*time.Second,
					Attempt{Number: 1, Outcome: Timeout, WorkerID: 0, Start: t0, End: t0.Add(time.Second)},
					Attempt{Number: 2, Outcome: Timeout, WorkerID: 1, Start: t0.Add(2 * time.Second), End: t0.Add(4 * time.Second)},
				),
			},
			check: func(t *testing.T, s Summary) {
				assert.Equal(t, 4, s.Total)
				assert.Equal(t, 2, s.Succeeded)
				assert.Equal(t, 1, s.Failed)
				assert.Equal(t, 1, s.TimedOut)
				assert.Equal(t, 5, s.Attempts)
				assert.Equal(t, 1, s.Retried)
				assert.InDelta(t, 0.5, s.SuccessRate(), 1e-9)

				assert.Equal(t, 10*time.Second, s.TotalDuration)
				assert.Equal(t, 2500*time.Millisecond, s.MeanDuration)
				assert.Equal(t, time.Second, s.MinDuration)
				assert.Equal(t, 4*time.Second, s.MaxDuration)
				assert.Equal(t, 2*time.Second, s.P50Duration)

				require.Len(t, s.Workers, 2)
				assert.Equal(t, WorkerSummary{WorkerID: 0, Attempts: 3, Tasks: 2, Succeeded: 1, Failed: 1, Busy: 4 * time.Second}, s.Workers[0])
				assert.Equal(t, WorkerSummary{WorkerID: 1, Attempts: 2, Tasks: 2, Succeeded: 1, Failed: 1, Busy: 5 * time.Second}, s.Workers[1])
			},
		},
		{
			name: "cancelled before acquiring a worker",
			results: []TaskResult{
				result("a", Failure, NoWorker, 0, Attempt{Number: 1, Outcome: Failure, WorkerID: NoWorker, Start: t0, End: t0}),
			},
			check: func(t *testing.T, s Summary) {
				assert.Equal(t, 1, s.Failed)
				assert.Empty(t, s.Workers)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			for _, r := range tt.results {
				require.NoError(t, l.Record(r))
			}
			tt.check(t, l.Summary())
		})
	}
}

func TestExportJSON(t *testing.T) {
	l := New()
	require.NoError(t, l.Record(result("a", Success, 0, 1500*time.Millisecond)))
	require.NoError(t, l.Record(result("b", Failure, 1, time.Second)))

	var buf bytes.Buffer
	require.NoError(t, l.ExportJSON(&buf))

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)

	assert.Equal(t, "a", decoded[0]["task_id"])
	assert.Equal(t, "SUCCESS", decoded[0]["outcome"])
	assert.Equal(t, "a ok", decoded[0]["result"])
	assert.EqualValues(t, 1500, decoded[0]["duration_ms"])
	assert.NotContains(t, decoded[0], "error")

	assert.Equal(t, "FAILURE", decoded[1]["outcome"])
	assert.Equal(t, "b broke", decoded[1]["error"])
	assert.Len(t, decoded[1]["attempts"], 1)
}

func TestExportCSV(t *testing.T) {
	l := New()
	require.NoError(t, l.Record(result("a", Success, 0, time.Second)))
	require.NoError(t, l.Record(result("b", Timeout, 1, 2*time.Second)))

	var buf bytes.Buffer
	require.NoError(t, l.ExportCSV(&buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"a", "SUCCESS", "0", "1"}, rows[1][:4])
	assert.Equal(t, "1000", rows[1][6])
	assert.Equal(t, "a ok", rows[1][7])
	assert.Equal(t, []string{"b", "TIMEOUT", "1", "1"}, rows[2][:4])
	assert.Equal(t, "b broke", rows[2][8])
}
