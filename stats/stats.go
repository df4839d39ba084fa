package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageImport    Stage = "import"
	StageSync      Stage = "sync"
	StageDelete    Stage = "delete"
	StageRender    Stage = "render"
	StageReconcile Stage = "reconcile"
	StageArchive   Stage = "archive"
)

type EventType string

const (
	EventTypeImported   EventType = "imported"
	EventTypeNoDate     EventType = "no_date"
	EventTypeRenamed    EventType = "renamed"
	EventTypeUnchanged  EventType = "unchanged"
	EventTypeAdopted    EventType = "adopted"
	EventTypeDeleted    EventType = "deleted"
	EventTypeRendered   EventType = "rendered"
	EventTypeStale      EventType = "stale"
	EventTypeReconciled EventType = "reconciled"
	EventTypeScanned    EventType = "scanned"
	EventTypeError      EventType = "error"
)

type Event struct {
	Stage    Stage
	Type     EventType
	EntityID string
	Path     string
	Err      error
	Detail   string
}

type Summary struct {
	Imported   int
	NoDate     int
	Renamed    int
	Unchanged  int
	Adopted    int
	Deleted    int
	Rendered   int
	Stale      int
	Reconciled int
	Scanned    int
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"imported", s.Imported,
		"noDate", s.NoDate,
		"renamed", s.Renamed,
		"unchanged", s.Unchanged,
		"adopted", s.Adopted,
		"deleted", s.Deleted,
		"errors", s.Errors,
	}
	if s.Scanned > 0 {
		attrs = append(attrs, "scanned", s.Scanned)
	}
	if s.Rendered > 0 || s.Stale > 0 {
		attrs = append(attrs, "rendered", s.Rendered, "stale", s.Stale)
	}
	if s.Reconciled > 0 {
		attrs = append(attrs, "reconciled", s.Reconciled)
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeImported:
		c.summary.Imported++
	case EventTypeNoDate:
		c.summary.Imported++
		c.summary.NoDate++
	case EventTypeRenamed:
		c.summary.Renamed++
	case EventTypeUnchanged:
		c.summary.Unchanged++
	case EventTypeAdopted:
		c.summary.Adopted++
	case EventTypeDeleted:
		c.summary.Deleted++
	case EventTypeRendered:
		c.summary.Rendered++
	case EventTypeStale:
		c.summary.Stale++
	case EventTypeReconciled:
		c.summary.Reconciled++
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
// Ties are ordered by key so output is stable.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

type Pair struct {
	Key   string
	Value int
}

// Top returns the limit largest entries of m, largest first.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
