package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uilive"
	"github.com/gosuri/uitable"
)

// Dashboard renders a Counters snapshot to a terminal in place, refreshing on
// an interval instead of scrolling a new line per update.
type Dashboard struct {
	counters *Counters
	writer   *uilive.Writer
	interval time.Duration
}

// NewDashboard wires a live-updating table to counters. interval of zero
// falls back to a half-second refresh, wget's own progress bar cadence.
func NewDashboard(counters *Counters, interval time.Duration) *Dashboard {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Dashboard{
		counters: counters,
		writer:   uilive.New(),
		interval: interval,
	}
}

// Run blocks, redrawing the dashboard until ctx is cancelled, then renders a
// final frame so the last numbers printed match FinishStatistics.
func (d *Dashboard) Run(ctx context.Context) {
	d.writer.Start()
	defer d.writer.Stop()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.render()
			return
		case <-ticker.C:
			d.render()
		}
	}
}

func (d *Dashboard) render() {
	snap := d.counters.Snapshot()

	table := uitable.New()
	table.MaxColWidth = 40
	table.Wrap = true
	table.AddRow("QUEUED", snap.Queued)
	table.AddRow("DEQUEUED", snap.Dequeued)
	table.AddRow("DONE", snap.Done)
	table.AddRow("ERRORED", snap.Errored)
	table.AddRow("SKIPPED", snap.Skipped)
	table.AddRow("DOWNLOADED", humanize.Bytes(uint64(snap.BytesIn)))
	table.AddRow("UPLOADED", humanize.Bytes(uint64(snap.BytesOut)))
	table.AddRow("RATE", humanize.Bytes(uint64(snap.Bandwidth))+"/s")
	table.AddRow("ELAPSED", snap.Duration.Round(time.Second))

	fmt.Fprintln(d.writer, table)
	d.writer.Flush()
}
