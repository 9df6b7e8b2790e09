package logger

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	User *UserLogger // Run progress for people watching the terminal (stdout)
	Op   *OpLogger   // Engine internals with structured fields (stderr)

	log *UnifiedLogger
)

// init ensures loggers are never nil
func init() {
	log = GetLogger()
	User = &UserLogger{logger: log.GetInternalLogger()}
	Op = &OpLogger{logger: log.GetInternalLogger()}
}

type UserLogger struct {
	logger *logrus.Logger
}

type OpLogger struct {
	logger *logrus.Logger
}

func (u *UserLogger) entry(emoji string) *logrus.Entry {
	fields := logrus.Fields{"log_type": string(UserLog)}
	if emoji != "" {
		fields["emoji"] = emoji
	}
	return u.logger.WithFields(fields)
}

func (u *UserLogger) Info(msg string) {
	u.entry("").Info(msg)
}

func (u *UserLogger) Infof(format string, args ...interface{}) {
	u.entry("").Infof(format, args...)
}

func (u *UserLogger) Error(msg string) {
	u.entry("❌").Error(msg)
}

func (u *UserLogger) Errorf(format string, args ...interface{}) {
	u.entry("❌").Errorf(format, args...)
}

func (u *UserLogger) Warn(msg string) {
	u.entry("⚠️").Warn(msg)
}

func (u *UserLogger) Warnf(format string, args ...interface{}) {
	u.entry("⚠️").Warnf(format, args...)
}

// Run lifecycle helpers, one emoji per kind of event.

func (u *UserLogger) Starting(msg string) {
	u.entry("🚀").Info(msg)
}

func (u *UserLogger) Success(msg string) {
	u.entry("✅").Info(msg)
}

func (u *UserLogger) Successf(format string, args ...interface{}) {
	u.entry("✅").Infof(format, args...)
}

func (u *UserLogger) Dispatchf(format string, args ...interface{}) {
	u.entry("📤").Infof(format, args...)
}

func (u *UserLogger) Retryf(format string, args ...interface{}) {
	u.entry("🔁").Infof(format, args...)
}

func (u *UserLogger) Blockedf(format string, args ...interface{}) {
	u.entry("⛔").Warnf(format, args...)
}

func (u *UserLogger) Discoverf(format string, args ...interface{}) {
	u.entry("🧭").Infof(format, args...)
}

func (u *UserLogger) Progressf(format string, args ...interface{}) {
	u.entry("📊").Infof(format, args...)
}

// OpLogger methods carry no emoji
func (o *OpLogger) Info(msg string) {
	o.logger.WithField("log_type", string(OpLog)).Info(msg)
}

func (o *OpLogger) Infof(format string, args ...interface{}) {
	o.logger.WithField("log_type", string(OpLog)).Infof(format, args...)
}

func (o *OpLogger) Error(msg string) {
	o.logger.WithField("log_type", string(OpLog)).Error(msg)
}

func (o *OpLogger) Errorf(format string, args ...interface{}) {
	o.logger.WithField("log_type", string(OpLog)).Errorf(format, args...)
}

func (o *OpLogger) Warn(msg string) {
	o.logger.WithField("log_type", string(OpLog)).Warn(msg)
}

func (o *OpLogger) Warnf(format string, args ...interface{}) {
	o.logger.WithField("log_type", string(OpLog)).Warnf(format, args...)
}

func (o *OpLogger) Debug(msg string) {
	o.logger.WithField("log_type", string(OpLog)).Debug(msg)
}

func (o *OpLogger) Debugf(format string, args ...interface{}) {
	o.logger.WithField("log_type", string(OpLog)).Debugf(format, args...)
}

func (o *OpLogger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["log_type"] = string(OpLog)
	return o.logger.WithFields(fields)
}

// Setup configures level, format and routing. LOG_MODE and LOG_FORMAT
// override the flags when set.
func Setup(verbose bool, jsonLogs bool, quiet bool) {
	switch os.Getenv("LOG_MODE") {
	case "quiet":
		quiet, verbose = true, false
	case "verbose", "debug":
		verbose, quiet = true, false
	}

	switch os.Getenv("LOG_FORMAT") {
	case "json":
		jsonLogs = true
	case "text":
		jsonLogs = false
	}

	internalLogger := GetLogger().GetInternalLogger()

	var level logrus.Level
	switch {
	case quiet:
		level = logrus.ErrorLevel
	case verbose:
		level = logrus.DebugLevel
	default:
		level = logrus.InfoLevel
	}

	internalLogger.Hooks = make(logrus.LevelHooks)
	internalLogger.SetOutput(io.Discard) // hooks write
	internalLogger.SetLevel(level)

	hook := NewOutputRouterHook()
	if jsonLogs {
		internalLogger.SetFormatter(&logrus.JSONFormatter{})
		hook.UserFormatter = &logrus.JSONFormatter{}
		hook.OpFormatter = &logrus.JSONFormatter{}
	} else {
		internalLogger.SetFormatter(&logrus.TextFormatter{})
		hook.UserFormatter = &CLIFormatter{
			DisableTimestamp: true,
			DisableLevel:     true,
		}
		if verbose {
			hook.OpFormatter = &logrus.TextFormatter{
				FullTimestamp: true,
				ForceColors:   isatty.IsTerminal(os.Stderr.Fd()),
			}
		} else {
			hook.OpFormatter = &CLIFormatter{
				DisableTimestamp: true,
				DisableColors:    !isatty.IsTerminal(os.Stderr.Fd()),
			}
		}
	}
	internalLogger.AddHook(hook)

	User = &UserLogger{logger: internalLogger}
	Op = &OpLogger{logger: internalLogger}
}

// L returns the unified logger instance
func L() *UnifiedLogger {
	return log
}

// Info logs an info message
func Info(msg string, fields ...Field) {
	log.Info(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...Field) {
	log.Error(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...Field) {
	log.Warn(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...Field) {
	log.Debug(msg, fields...)
}

// WithField creates an entry with a single field
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}
