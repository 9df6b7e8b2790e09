package logger

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// CLIFormatter provides clean output for terminal use
type CLIFormatter struct {
	DisableTimestamp bool
	DisableLevel     bool
	DisableColors    bool
}

func (f *CLIFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	if f.DisableLevel && f.DisableTimestamp {
		b.WriteString(entry.Message)
		b.WriteByte('\n')
		return b.Bytes(), nil
	}

	if !f.DisableTimestamp {
		b.WriteString(entry.Time.Format("2006-01-02 15:04:05"))
		b.WriteByte(' ')
	}

	if !f.DisableLevel {
		levelColor, resetColor := "", ""
		if !f.DisableColors {
			switch entry.Level {
			case logrus.ErrorLevel:
				levelColor = "\033[31m"
			case logrus.WarnLevel:
				levelColor = "\033[33m"
			case logrus.InfoLevel:
				levelColor = "\033[36m"
			case logrus.DebugLevel:
				levelColor = "\033[37m"
			}
			resetColor = "\033[0m"
		}
		b.WriteString(levelColor)
		b.WriteString(strings.ToUpper(entry.Level.String()))
		b.WriteString(resetColor)
		b.WriteString(": ")
	}

	b.WriteString(entry.Message)

	// Stable field order keeps lines diffable; routing fields are dropped.
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "log_type" || k == "emoji" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}
