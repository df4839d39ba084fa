package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/apptrack/stats"
)

// Bar tracks a bulk operation over a known number of items.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	title   string
	stage   stats.Stage
	total   int
	done    int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar when logLevel is "info" and there is work to show.
// Only events of stage advance it.
func New(title string, stage stats.Stage, total int, logLevel string) *Bar {
	bar := &Bar{
		title:   title,
		stage:   stage,
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}
	if !bar.enabled {
		return bar
	}

	pb, err := pterm.DefaultProgressbar.WithTotal(total).WithTitle(title).Start()
	if err != nil {
		bar.enabled = false
		return bar
	}
	bar.pb = pb
	return bar
}

// Update advances the bar for every event that finishes one item.
func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if evt.Stage != b.stage || !finishes(evt.Type) {
		return
	}
	b.done++
	if !b.enabled || b.pb == nil {
		return
	}
	b.pb.Increment()
	if evt.EntityID != "" {
		id := evt.EntityID
		if len(id) > 8 {
			id = id[:8]
		}
		b.pb.UpdateTitle(b.title + ": " + id)
	}
	if evt.Type == stats.EventTypeError && evt.Err != nil {
		pterm.Error.Printf("%s: %v\n", evt.EntityID, evt.Err)
	}
}

func finishes(t stats.EventType) bool {
	switch t {
	case stats.EventTypeRenamed, stats.EventTypeAdopted, stats.EventTypeUnchanged,
		stats.EventTypeImported, stats.EventTypeNoDate, stats.EventTypeScanned,
		stats.EventTypeDeleted, stats.EventTypeError:
		return true
	default:
		return false
	}
}

// Done returns how many items have been counted.
func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
}

// Subscriber is a stats subscriber that updates the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter drives a Bar and prints a summary when the run ends.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewReporter subscribes the bar and a summary collector to stream.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	if bar != nil {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
	}
	stream.SubscribeStats("progress-summary", reporter.collect)
	return reporter
}

func (pr *Reporter) Summary() stats.Summary {
	return pr.collector.Snapshot()
}

func (pr *Reporter) collect(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)
	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	if pr.bar == nil || !pr.bar.enabled {
		if pr.logger != nil {
			pr.logger.Info("summary", append(summary.LogAttrs(), "duration", duration)...)
		}
		return nil
	}

	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	if summary.Imported > 0 {
		pterm.Info.Printf("Imported: %d (without date: %d)\n", summary.Imported, summary.NoDate)
	}
	pterm.Info.Printf("Renamed: %d\n", summary.Renamed)
	if summary.Adopted > 0 {
		pterm.Info.Printf("Adopted existing folders: %d\n", summary.Adopted)
	}
	pterm.Info.Printf("Unchanged: %d\n", summary.Unchanged)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
	return nil
}
