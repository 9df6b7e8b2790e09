package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggersNeverNil(t *testing.T) {
	assert.NotNil(t, User)
	assert.NotNil(t, Op)
	assert.Same(t, GetLogger(), GetLogger())
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		jsonLogs  bool
		quiet     bool
		wantLevel logrus.Level
	}{
		{"default", false, false, false, logrus.InfoLevel},
		{"verbose", true, false, false, logrus.DebugLevel},
		{"quiet", false, false, true, logrus.ErrorLevel},
		{"json", false, true, false, logrus.InfoLevel},
		{"verbose json", true, true, false, logrus.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_MODE", "")
			t.Setenv("LOG_FORMAT", "")
			Setup(tt.verbose, tt.jsonLogs, tt.quiet)

			require.NotNil(t, User)
			require.NotNil(t, Op)
			assert.Equal(t, tt.wantLevel, GetLogger().GetInternalLogger().GetLevel())
		})
	}
}

func TestSetupEnvOverride(t *testing.T) {
	t.Setenv("LOG_MODE", "quiet")
	Setup(true, false, false)
	assert.Equal(t, logrus.ErrorLevel, GetLogger().GetInternalLogger().GetLevel())

	t.Setenv("LOG_MODE", "debug")
	Setup(false, false, true)
	assert.Equal(t, logrus.DebugLevel, GetLogger().GetInternalLogger().GetLevel())
}

func TestOutputRouterHookRoutesByLogType(t *testing.T) {
	var userBuf, opBuf bytes.Buffer
	hook := NewOutputRouterHook()
	hook.UserWriter = &userBuf
	hook.OpWriter = &opBuf

	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	l.AddHook(hook)

	(&UserLogger{logger: l}).Successf("task %s done", "build")
	(&OpLogger{logger: l}).WithFields(map[string]interface{}{"task_id": "build"}).Info("attempt finished")

	assert.Equal(t, "✅ task build done\n", userBuf.String())
	assert.Contains(t, opBuf.String(), "attempt finished")
	assert.Contains(t, opBuf.String(), "task_id=build")
	assert.NotContains(t, opBuf.String(), "log_type")
}

func TestCLIFormatterSortsFields(t *testing.T) {
	f := &CLIFormatter{DisableTimestamp: true, DisableColors: true}
	entry := logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
		"worker_id": 1,
		"attempt":   2,
		"log_type":  "op",
	})
	entry.Message = "retrying"
	entry.Level = logrus.WarnLevel

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "WARNING: retrying attempt=2 worker_id=1\n", string(out))
}

func TestLogTypeField(t *testing.T) {
	capture := &testHook{}
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	l.AddHook(capture)

	(&UserLogger{logger: l}).Blockedf("task %s blocked", "deploy")
	(&OpLogger{logger: l}).Debug("not captured at info level")
	(&OpLogger{logger: l}).Warn("op message")

	require.Len(t, capture.entries, 2)
	assert.Equal(t, string(UserLog), capture.entries[0].Data["log_type"])
	assert.Equal(t, "⛔", capture.entries[0].Data["emoji"])
	assert.Equal(t, string(OpLog), capture.entries[1].Data["log_type"])
}

type testHook struct {
	entries []*logrus.Entry
}

func (h *testHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *testHook) Fire(entry *logrus.Entry) error {
	h.entries = append(h.entries, entry)
	return nil
}
