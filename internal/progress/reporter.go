package progress

import (
	"fmt"
	"strings"
	"time"
)

// Info is a point-in-time view of a run
type Info struct {
	Total        int
	Done         int
	Failed       int
	Blocked      int
	Running      int
	Pending      int
	Elapsed      time.Duration
	Utilization  float64
	RunningTasks []string
}

// Finished is the number of tasks in a terminal state
func (i Info) Finished() int {
	return i.Done + i.Failed + i.Blocked
}

// Percent is the share of tasks that are finished
func (i Info) Percent() float64 {
	if i.Total == 0 {
		return 0
	}
	return float64(i.Finished()) / float64(i.Total) * 100
}

// ETA extrapolates the time left from the finishing rate so far
func (i Info) ETA() time.Duration {
	return CalculateETA(i.Finished(), i.Total, i.Elapsed)
}

// maxListed caps the running task names shown on one line
const maxListed = 5

// Reporter formats progress lines for one run
type Reporter struct {
	startTime time.Time
	clock     func() time.Time
}

// NewReporter creates a reporter whose elapsed time starts now
func NewReporter() *Reporter {
	return newReporter(time.Now)
}

func newReporter(clock func() time.Time) *Reporter {
	return &Reporter{startTime: clock(), clock: clock}
}

// Report formats info. A zero Elapsed is measured from the reporter's start.
func (r *Reporter) Report(info Info) string {
	if info.Elapsed == 0 {
		info.Elapsed = r.clock().Sub(r.startTime)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Progress: %d/%d tasks finished (%.1f%%)", info.Finished(), info.Total, info.Percent()))
	sb.WriteString(fmt.Sprintf(" | done %d, failed %d, blocked %d, running %d, pending %d",
		info.Done, info.Failed, info.Blocked, info.Running, info.Pending))
	sb.WriteString(fmt.Sprintf(" | Elapsed: %s", FormatDuration(info.Elapsed)))
	if eta := info.ETA(); eta > 0 {
		sb.WriteString(fmt.Sprintf(" | ETA: %s", FormatDuration(eta)))
	}
	sb.WriteString(fmt.Sprintf(" | Workers: %.0f%% busy", info.Utilization*100))

	if len(info.RunningTasks) > 0 {
		names := info.RunningTasks
		more := ""
		if len(names) > maxListed {
			more = fmt.Sprintf(" +%d more", len(names)-maxListed)
			names = names[:maxListed]
		}
		sb.WriteString(fmt.Sprintf("\n   Running: %s%s", strings.Join(names, ", "), more))
	}
	return sb.String()
}

// CalculateETA estimates time remaining based on current progress
func CalculateETA(completed, total int, elapsed time.Duration) time.Duration {
	if completed <= 0 || total <= 0 || completed >= total {
		return 0
	}

	averageTimePerTask := elapsed / time.Duration(completed)
	remainingTasks := total - completed
	return averageTimePerTask * time.Duration(remainingTasks)
}

// FormatDuration formats a duration in a user-friendly way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
