package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

type exportRecord struct {
	TaskResult
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ExportJSON writes every result, in record order, as an indented JSON array
func (l *Ledger) ExportJSON(w io.Writer) error {
	results := l.Results()
	records := make([]exportRecord, len(results))
	for i, r := range results {
		records[i] = exportRecord{
			TaskResult: r,
			DurationMS: r.Duration().Milliseconds(),
			Error:      r.ErrorMessage(),
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}

var csvHeader = []string{"task_id", "outcome", "worker_id", "attempts", "start", "end", "duration_ms", "result", "error"}

// ExportCSV writes one row per result with a header line
func (l *Ledger) ExportCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, r := range l.Results() {
		result := ""
		if r.Result != nil {
			result = fmt.Sprint(r.Result)
		}
		row := []string{
			r.TaskID,
			string(r.Outcome),
			strconv.Itoa(r.WorkerID),
			strconv.Itoa(len(r.Attempts)),
			r.Start.Format(time.RFC3339Nano),
			r.End.Format(time.RFC3339Nano),
			strconv.FormatInt(r.Duration().Milliseconds(), 10),
			result,
			r.ErrorMessage(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", r.TaskID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
