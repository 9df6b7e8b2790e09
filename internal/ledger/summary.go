package ledger

import (
	"sort"
	"time"
)

// WorkerSummary attributes work to a single worker
type WorkerSummary struct {
	WorkerID  int           `json:"worker_id"`
	Attempts  int           `json:"attempts"`
	Tasks     int           `json:"tasks"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Busy      time.Duration `json:"busy"`
}

// Summary aggregates every recorded result
type Summary struct {
	Total         int             `json:"total"`
	Succeeded     int             `json:"succeeded"`
	Failed        int             `json:"failed"`
	TimedOut      int             `json:"timed_out"`
	Attempts      int             `json:"attempts"`
	Retried       int             `json:"retried"`
	TotalDuration time.Duration   `json:"total_duration"`
	MeanDuration  time.Duration   `json:"mean_duration"`
	MinDuration   time.Duration   `json:"min_duration"`
	MaxDuration   time.Duration   `json:"max_duration"`
	P50Duration   time.Duration   `json:"p50_duration"`
	Workers       []WorkerSummary `json:"workers"`
}

// SuccessRate is the fraction of tasks that succeeded
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}

// Summary computes counts, duration statistics and per-worker attribution.
// Task counts go to the worker of the final attempt; busy time and attempt
// counts go to whichever worker ran each attempt.
func (l *Ledger) Summary() Summary {
	results := l.Results()

	s := Summary{Total: len(results)}
	if len(results) == 0 {
		return s
	}

	durations := make([]time.Duration, 0, len(results))
	workers := make(map[int]*WorkerSummary)
	workerFor := func(id int) *WorkerSummary {
		w, ok := workers[id]
		if !ok {
			w = &WorkerSummary{WorkerID: id}
			workers[id] = w
		}
		return w
	}

	for _, r := range results {
		switch r.Outcome {
		case Success:
			s.Succeeded++
		case Timeout:
			s.TimedOut++
		default:
			s.Failed++
		}
		s.Attempts += len(r.Attempts)
		if len(r.Attempts) > 1 {
			s.Retried++
		}

		d := r.Duration()
		durations = append(durations, d)
		s.TotalDuration += d

		for _, a := range r.Attempts {
			if a.WorkerID == NoWorker {
				continue
			}
			w := workerFor(a.WorkerID)
			w.Attempts++
			w.Busy += a.Duration()
		}
		if r.WorkerID != NoWorker {
			w := workerFor(r.WorkerID)
			w.Tasks++
			if r.Succeeded() {
				w.Succeeded++
			} else {
				w.Failed++
			}
		}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	s.MinDuration = durations[0]
	s.MaxDuration = durations[len(durations)-1]
	s.MeanDuration = s.TotalDuration / time.Duration(len(durations))
	s.P50Duration = durations[(len(durations)-1)/2]

	for _, w := range workers {
		s.Workers = append(s.Workers, *w)
	}
	sort.Slice(s.Workers, func(i, j int) bool { return s.Workers[i].WorkerID < s.Workers[j].WorkerID })
	return s
}
