package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogType separates user-facing lines from operational ones
type LogType string

const (
	UserLog LogType = "user"
	OpLog   LogType = "op"
)

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// UnifiedLogger wraps the single logrus instance shared by User and Op
type UnifiedLogger struct {
	mu     sync.RWMutex
	logger *logrus.Logger
}

var (
	unifiedLog *UnifiedLogger
	once       sync.Once
)

// GetLogger returns the global logger instance, initializing it if necessary
func GetLogger() *UnifiedLogger {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stdout)
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&CLIFormatter{DisableTimestamp: true, DisableLevel: true})
		unifiedLog = &UnifiedLogger{logger: l}
	})
	return unifiedLog
}

// WithLogType creates a field for the log type
func WithLogType(logType LogType) Field {
	return Field{Key: "log_type", Value: string(logType)}
}

// TaskField tags an entry with the task it concerns
func TaskField(id string) Field {
	return Field{Key: "task_id", Value: id}
}

// WorkerField tags an entry with the worker it concerns
func WorkerField(id int) Field {
	return Field{Key: "worker_id", Value: id}
}

func (l *UnifiedLogger) entry(fields ...Field) *logrus.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	logFields := make(logrus.Fields, len(fields))
	for _, field := range fields {
		logFields[field.Key] = field.Value
	}
	return l.logger.WithFields(logFields)
}

func (l *UnifiedLogger) Info(msg string, fields ...Field) {
	l.entry(fields...).Info(msg)
}

func (l *UnifiedLogger) Error(msg string, fields ...Field) {
	l.entry(fields...).Error(msg)
}

func (l *UnifiedLogger) Warn(msg string, fields ...Field) {
	l.entry(fields...).Warn(msg)
}

func (l *UnifiedLogger) Debug(msg string, fields ...Field) {
	l.entry(fields...).Debug(msg)
}

func (l *UnifiedLogger) WithField(key string, value interface{}) *logrus.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger.WithField(key, value)
}

// Configure replaces output, level and formatter. Hooks are left alone.
func (l *UnifiedLogger) Configure(output io.Writer, level logrus.Level, formatter logrus.Formatter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.SetOutput(output)
	l.logger.SetLevel(level)
	l.logger.SetFormatter(formatter)
}

// GetInternalLogger returns the underlying logrus logger (use with caution)
func (l *UnifiedLogger) GetInternalLogger() *logrus.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}
