package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// OutputRouterHook routes log entries to different outputs based on log_type.
// Workers log concurrently, so writes are serialized.
type OutputRouterHook struct {
	UserFormatter logrus.Formatter
	OpFormatter   logrus.Formatter
	UserWriter    io.Writer
	OpWriter      io.Writer

	mu sync.Mutex
}

// NewOutputRouterHook creates a hook writing user logs to stdout and op logs to stderr
func NewOutputRouterHook() *OutputRouterHook {
	return &OutputRouterHook{
		UserFormatter: &CLIFormatter{DisableTimestamp: true, DisableLevel: true},
		OpFormatter:   &CLIFormatter{},
		UserWriter:    os.Stdout,
		OpWriter:      os.Stderr,
	}
}

func (h *OutputRouterHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *OutputRouterHook) Fire(entry *logrus.Entry) error {
	logType, _ := entry.Data["log_type"].(string)

	formatter, writer := h.OpFormatter, h.OpWriter
	if logType == string(UserLog) {
		formatter, writer = h.UserFormatter, h.UserWriter
		if emoji, ok := entry.Data["emoji"].(string); ok && emoji != "" {
			entry.Message = emoji + " " + entry.Message
		}
	}

	b, err := formatter.Format(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = writer.Write(b)
	return err
}
