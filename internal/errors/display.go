package errors

import (
	"fmt"
	"sort"
	"strings"
)

const summaryLimit = 100

// DisplayErrorSummary provides a brief summary of the error for logs
func DisplayErrorSummary(err error) string {
	if err == nil {
		return "unknown error"
	}
	if ee, ok := AsEngineError(err); ok {
		return fmt.Sprintf("%s-%s: %s", ee.Category, ee.Code, ee.Message)
	}

	runes := []rune(err.Error())
	if len(runes) > summaryLimit {
		return string(runes[:summaryLimit-3]) + "..."
	}
	return string(runes)
}

// FormatForCLI formats an error for command-line display
func FormatForCLI(err error) string {
	ee, ok := AsEngineError(err)
	if !ok {
		return fmt.Sprintf("\nError: %v\n", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "\nError [%s-%s]\n", ee.Category, ee.Code)
	fmt.Fprintf(&sb, "  %s\n", ee.Message)

	if ee.Operation != "" {
		fmt.Fprintf(&sb, "\nFailed Operation: %s\n", ee.Operation)
	}

	if len(ee.Context) > 0 {
		keys := make([]string, 0, len(ee.Context))
		for k := range ee.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %v\n", k, ee.Context[k])
		}
	}

	if len(ee.Hints) > 0 {
		sb.WriteString("\nHow to resolve:\n")
		for i, h := range ee.Hints {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, h)
		}
	}

	if ee.Cause != nil {
		fmt.Fprintf(&sb, "\nTechnical details: %v\n", ee.Cause)
	}
	return sb.String()
}
