package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/apptrack/config"
	"github.com/dhcgn/apptrack/datescan"
	"github.com/dhcgn/apptrack/document"
	"github.com/dhcgn/apptrack/folder"
	"github.com/dhcgn/apptrack/model"
	"github.com/dhcgn/apptrack/state"
	"github.com/dhcgn/apptrack/stats"
)

var ErrEntityNotFound = errors.New("entity not found")

type StageFunc func(context.Context) error

// Deps overrides the collaborators New would otherwise build from the config.
type Deps struct {
	Store     state.Store
	Extractor folder.TextExtractor
	Journal   *state.Journal
	Now       func() time.Time
}

// Runner is the coordinating context. A single goroutine owns the entity
// list; every read and mutation is sent to it, and it saves after each
// mutation. Folder work happens on the callers' goroutines under a
// per-entity lock.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	ops        chan op
	entities   []model.Entity

	store    state.Store
	journal  *state.Journal
	importer *folder.Importer
	syncer   *folder.Synchronizer
	locks    *folder.Locks
	now      func() time.Time

	subsMu       sync.RWMutex
	subs         []chan stats.Event
	eventsClosed bool

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce       sync.Once
	closeEventsOnce sync.Once
	since           time.Time
}

type op struct {
	fn   func() error
	done chan error
}

// New loads the records, re-derives document paths and starts the coordinator.
func New(cfg config.Config, logger *slog.Logger, deps Deps) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	locale, err := datescan.Lookup(cfg.DateLocale)
	if err != nil {
		return nil, err
	}
	store := deps.Store
	if store == nil {
		fs, err := state.NewFileStore(cfg.RecordsPath)
		if err != nil {
			return nil, fmt.Errorf("record store: %w", err)
		}
		store = fs
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = document.NewRegistry()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	loopCtx, loopCancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
		loopDone:   make(chan struct{}),
		ops:        make(chan op),
		store:      store,
		journal:    deps.Journal,
		importer: folder.NewImporter(folder.ImporterOptions{
			Extractor: extractor,
			Locale:    locale,
			Now:       now,
			Logger:    logger,
		}),
		syncer: folder.NewSynchronizer(logger),
		locks:  folder.NewLocks(),
		now:    now,
	}

	if err := r.load(ctx); err != nil {
		cancel()
		loopCancel()
		return nil, err
	}
	go r.loop()
	return r, nil
}

func (r *Runner) load(ctx context.Context) error {
	entities, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	drift := folder.Drift(entities)
	r.entities = folder.Reconcile(entities)
	if len(drift) == 0 {
		return nil
	}
	for _, change := range drift {
		r.logger.Info("document path re-derived from folder", "entity", change.EntityID, "from", change.From, "to", change.To)
	}
	if err := r.store.Save(ctx, r.entities); err != nil {
		return fmt.Errorf("save reconciled records: %w", err)
	}
	return nil
}

func (r *Runner) loop() {
	defer close(r.loopDone)
	for {
		select {
		case <-r.loopCtx.Done():
			return
		case o := <-r.ops:
			err := o.fn()
			if o.done != nil {
				o.done <- err
			}
		}
	}
}

// do runs fn on the coordinator and waits for it.
func (r *Runner) do(ctx context.Context, fn func() error) error {
	o := op{fn: fn, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.loopCtx.Done():
		return errClosed
	case r.ops <- o:
	}
	select {
	case err := <-o.done:
		return err
	case <-r.loopDone:
		return errClosed
	}
}

var errClosed = errors.New("runner closed")

// mutate hands fn a copy of the list. The copy replaces the owned list only
// after it was saved, so a failed save leaves both memory and file as before.
func (r *Runner) mutate(ctx context.Context, fn func([]model.Entity) ([]model.Entity, error)) error {
	return r.do(ctx, func() error {
		next, err := fn(model.CloneAll(r.entities))
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if err := r.store.Save(context.WithoutCancel(ctx), next); err != nil {
			return fmt.Errorf("save records: %w", err)
		}
		r.entities = next
		return nil
	})
}

// Post runs f on the coordinator without waiting. It is the dispatch
// function for render results.
func (r *Runner) Post(f func()) {
	select {
	case <-r.loopCtx.Done():
	case r.ops <- op{fn: func() error { f(); return nil }}:
	}
}

func (r *Runner) EmitEvent(evt stats.Event) {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	if r.eventsClosed {
		return
	}
	for _, ch := range r.subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats gives fn its own copy of every event emitted from now on.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start waits for all stages, drains the stats subscribers and returns the
// first stage error.
func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("run failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Debug("run completed", "duration", duration)
	return nil
}

// Close stops the coordinator and flushes the journal.
func (r *Runner) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		r.closeEvents()
		r.loopCancel()
		<-r.loopDone
		err = r.journal.Flush()
	})
	return err
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		r.eventsClosed = true
		for _, ch := range r.subs {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}

func (r *Runner) record(entry state.Entry) {
	if err := r.journal.Record(entry); err != nil {
		r.logger.Warn("journal write failed", "op", entry.Op, "entity", entry.EntityID, "err", err)
	}
}

func indexOf(entities []model.Entity, id string) int {
	for i := range entities {
		if entities[i].ID == id {
			return i
		}
	}
	return -1
}
