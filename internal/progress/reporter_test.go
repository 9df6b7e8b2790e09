package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateETA(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		total     int
		elapsed   time.Duration
		expected  time.Duration
	}{
		{name: "nothing finished", completed: 0, total: 10, elapsed: time.Minute, expected: 0},
		{name: "half way", completed: 5, total: 10, elapsed: time.Minute, expected: time.Minute},
		{name: "one of four", completed: 1, total: 4, elapsed: 10 * time.Second, expected: 30 * time.Second},
		{name: "all done", completed: 10, total: 10, elapsed: time.Minute, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateETA(tt.completed, tt.total, tt.elapsed))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "3m 5s", FormatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h 15m", FormatDuration(2*time.Hour+15*time.Minute))
}

func TestReporter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newReporter(func() time.Time { return now })
	now = now.Add(50 * time.Second)

	line := r.Report(Info{
		Total:        10,
		Done:         3,
		Failed:       1,
		Blocked:      1,
		Running:      2,
		Pending:      3,
		Utilization:  0.5,
		RunningTasks: []string{"a", "b", "c", "d", "e", "f", "g"},
	})

	assert.Contains(t, line, "Progress: 5/10 tasks finished (50.0%)")
	assert.Contains(t, line, "done 3, failed 1, blocked 1, running 2, pending 3")
	assert.Contains(t, line, "Elapsed: 50s | ETA: 50s")
	assert.Contains(t, line, "Workers: 50% busy")
	assert.Contains(t, line, "Running: a, b, c, d, e +2 more")
}
