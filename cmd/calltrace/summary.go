package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/zoobzio/calltrace"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
	pathColor  = color.New(color.FgCyan)
)

// summary prints one line per finished trace. Safe for concurrent sessions.
type summary struct {
	w  io.Writer
	mu sync.Mutex
}

func newSummary(w io.Writer) *summary {
	return &summary{w: w}
}

// handler returns a trace handler reporting that path was written.
func (s *summary) handler(label, path string) calltrace.TraceHandler {
	return func(trace *calltrace.Trace, stats calltrace.Stats) {
		s.mu.Lock()
		defer s.mu.Unlock()

		fmt.Fprintf(s.w, "%s %s -> %s: %d pairs from %d notifications",
			okColor.Sprint("✓"), label, pathColor.Sprint(path), trace.Pairs(), stats.Notifications)
		if discarded := stats.Leading + stats.Trailing + stats.Orphans + stats.Unclosed; discarded > 0 {
			fmt.Fprint(s.w, warnColor.Sprintf(" (%d leading, %d trailing, %d orphaned, %d unclosed)",
				stats.Leading, stats.Trailing, stats.Orphans, stats.Unclosed))
		}
		fmt.Fprintln(s.w)
	}
}

// failure reports a workload that did not finish cleanly.
func (s *summary) failure(label string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s %s: %v\n", errorColor.Sprint("✗"), label, err)
}
