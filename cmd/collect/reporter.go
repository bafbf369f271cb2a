package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/reconciliation"
)

// consoleReporter prints job progress as plain lines.
type consoleReporter struct {
	mu     sync.Mutex
	w      io.Writer
	dryRun bool
}

func newConsoleReporter(w io.Writer, dryRun bool) *consoleReporter {
	return &consoleReporter{w: w, dryRun: dryRun}
}

func (c *consoleReporter) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *consoleReporter) OnJobStart(spec collector.JobSpec) {
	c.printf("Collecting %s %d %s (dry_run=%v)", spec.League, spec.Season, spec.Team, c.dryRun)
}

func (c *consoleReporter) OnTeamStart(team string, index int, total int) {
	c.printf("[%d/%d] %s", index+1, total, team)
}

func (c *consoleReporter) OnCategoryFetched(p reconciliation.Progress) {
	if p.Failed {
		c.printf("  %s: fetch failed, column left at 0", p.Category)
		return
	}
	if p.Stage == reconciliation.StageFill {
		c.printf("  %s: %d records", p.Category, p.Records)
	}
}

func (c *consoleReporter) OnProgress(message string, current int, total int) {
	c.printf("Progress: %s (%d/%d)", message, current, total)
}

func (c *consoleReporter) OnJobComplete(res *collector.Result) {
	c.printf("Collected %d players", res.Table.Len())
}

func (c *consoleReporter) OnJobError(err error) {
	c.printf("Job error: %v", err)
}
