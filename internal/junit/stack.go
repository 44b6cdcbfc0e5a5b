package junit

import "strings"

// traceFilters drop frames belonging to the harness rather than the test.
var traceFilters = []string{
	"runtime/debug.Stack",
	"runtime/panic.go",
	"panic({",
	"runtime.gopanic",
	"runtime/debug/stack.go",
	"certbench/internal/runner.",
	"certbench/internal/runner/",
	"testing.tRunner",
	"created by ",
}

// FilterStack removes harness frames from a stack trace. Lines are matched
// individually so it works for any trace with one frame element per line.
func FilterStack(trace string) string {
	if trace == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(trace, "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !filtered(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func filtered(line string) bool {
	for _, f := range traceFilters {
		if strings.Contains(line, f) {
			return true
		}
	}
	return false
}
