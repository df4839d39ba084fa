// Package render previews document pages off the caller's goroutine and
// guarantees that only the most recently requested page reaches the surface.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/dhcgn/apptrack/document"
	"github.com/dhcgn/apptrack/stats"
)

// ErrPageOutOfRange is returned for page indices outside [0, count).
var ErrPageOutOfRange = document.ErrPageOutOfRange

// Renderer produces page images. document.Registry satisfies it.
type Renderer interface {
	PageCount(ctx context.Context, path string) (int, error)
	RenderPage(ctx context.Context, path string, page int, dpi float64) (image.Image, error)
}

// Frame is one rendered page ready for display.
type Frame struct {
	Path       string
	Page       int
	PageCount  int
	Image      image.Image
	Generation uint64
}

// Surface is the display that receives frames. Calls are made through the
// scheduler's dispatch function.
type Surface interface {
	Show(Frame)
	Clear()
}

type Options struct {
	DPI float64
	// MaxParallel bounds concurrent renders. Zero means 2.
	MaxParallel int
	// Dispatch runs f on the display's own goroutine. Nil runs f inline.
	Dispatch func(f func())
	OnError  func(path string, page int, err error)
	// Events receives a render stage event for every finished request.
	Events func(stats.Event)
	Logger *slog.Logger
}

// Scheduler renders requested pages in the background. Every request bumps
// a generation counter; a finished render is applied only if no newer
// request or close happened since it was issued.
type Scheduler struct {
	renderer Renderer
	surface  Surface
	opts     Options

	generation atomic.Uint64
	counts     singleflight.Group
	sem        *semaphore.Weighted
	wg         sync.WaitGroup

	mu      sync.Mutex
	path    string
	page    int // shown
	want    int // last requested
	count   int // 0 while unknown
	shown   bool
	stats   Stats
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Stats counts what happened to requests since the scheduler was created.
type Stats struct {
	Requested int
	Applied   int
	Stale     int
	Failed    int
}

func NewScheduler(renderer Renderer, surface Surface, opts Options) *Scheduler {
	if opts.DPI <= 0 {
		opts.DPI = document.DefaultDPI
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 2
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(f func()) { f() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = func(stats.Event) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		renderer: renderer,
		surface:  surface,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxParallel)),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Open makes path the current document and requests its first page.
func (s *Scheduler) Open(path string) {
	s.mu.Lock()
	s.path = path
	s.page = 0
	s.want = 0
	s.count = 0
	s.mu.Unlock()
	_ = s.Request(path, 0)
}

// Request asks for page of path and returns immediately. A page known to be
// out of range is rejected without disturbing an in-flight request.
func (s *Scheduler) Request(path string, page int) error {
	if page < 0 {
		return fmt.Errorf("%w: %d", ErrPageOutOfRange, page)
	}
	s.mu.Lock()
	if s.path == path && s.count > 0 && page >= s.count {
		count := s.count
		s.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, count)
	}
	if s.path != path {
		s.path = path
		s.count = 0
	}
	s.want = page
	s.stats.Requested++
	s.mu.Unlock()

	gen := s.generation.Add(1)
	s.wg.Add(1)
	go s.run(gen, path, page)
	return nil
}

// Next requests the page after the last requested one. It does nothing on
// the last page or while the page count is unknown.
func (s *Scheduler) Next() {
	s.mu.Lock()
	path, page, count := s.path, s.want, s.count
	s.mu.Unlock()
	if path == "" || count == 0 || page+1 >= count {
		return
	}
	_ = s.Request(path, page+1)
}

// Prev requests the page before the last requested one.
func (s *Scheduler) Prev() {
	s.mu.Lock()
	path, page := s.path, s.want
	s.mu.Unlock()
	if path == "" || page == 0 {
		return
	}
	_ = s.Request(path, page-1)
}

// Close invalidates all in-flight renders and clears the surface.
func (s *Scheduler) Close() {
	s.generation.Add(1)
	s.mu.Lock()
	s.path = ""
	s.page = 0
	s.want = 0
	s.count = 0
	s.shown = false
	s.mu.Unlock()
	s.opts.Dispatch(s.surface.Clear)
}

// Shutdown closes the current document, cancels pending renders and waits
// for background work to finish.
func (s *Scheduler) Shutdown() {
	s.Close()
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every render issued so far has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Current returns the displayed document, page and page count.
func (s *Scheduler) Current() (path string, page, count int, shown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.page, s.count, s.shown
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) run(gen uint64, path string, page int) {
	defer s.wg.Done()
	ctx := s.baseCtx

	count, err := s.pageCount(ctx, path)
	if err != nil {
		s.fail(gen, path, page, err)
		return
	}
	if s.stale(gen) {
		s.markStale(gen, path, page)
		return
	}
	s.mu.Lock()
	if s.path == path {
		s.count = count
		if page >= count && s.want == page {
			s.want = s.page
		}
	}
	s.mu.Unlock()
	if page >= count {
		s.fail(gen, path, page, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, count))
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.markStale(gen, path, page)
		return
	}
	if s.stale(gen) {
		s.sem.Release(1)
		s.markStale(gen, path, page)
		return
	}
	img, err := s.renderer.RenderPage(ctx, path, page, s.opts.DPI)
	s.sem.Release(1)
	if err != nil {
		s.fail(gen, path, page, err)
		return
	}

	frame := Frame{Path: path, Page: page, PageCount: count, Image: img, Generation: gen}
	s.opts.Dispatch(func() { s.apply(frame) })
}

// apply runs on the display goroutine.
func (s *Scheduler) apply(frame Frame) {
	s.mu.Lock()
	if s.generation.Load() != frame.Generation || s.path != frame.Path {
		s.stats.Stale++
		s.mu.Unlock()
		s.opts.Logger.Debug("discarding stale page", "path", frame.Path, "page", frame.Page, "generation", frame.Generation)
		s.emit(stats.EventTypeStale, frame.Path, frame.Page, nil)
		return
	}
	s.page = frame.Page
	s.count = frame.PageCount
	s.shown = true
	s.stats.Applied++
	s.mu.Unlock()
	s.surface.Show(frame)
	s.emit(stats.EventTypeRendered, frame.Path, frame.Page, nil)
}

func (s *Scheduler) pageCount(ctx context.Context, path string) (int, error) {
	v, err, _ := s.counts.Do(path, func() (interface{}, error) {
		return s.renderer.PageCount(ctx, path)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *Scheduler) stale(gen uint64) bool {
	return s.generation.Load() != gen
}

func (s *Scheduler) markStale(gen uint64, path string, page int) {
	s.mu.Lock()
	s.stats.Stale++
	s.mu.Unlock()
	s.opts.Logger.Debug("skipping superseded render", "path", path, "page", page, "generation", gen)
	s.emit(stats.EventTypeStale, path, page, nil)
}

// fail keeps the previously displayed page and reports err.
func (s *Scheduler) fail(gen uint64, path string, page int, err error) {
	if errors.Is(err, context.Canceled) || s.stale(gen) {
		s.markStale(gen, path, page)
		return
	}
	s.mu.Lock()
	s.stats.Failed++
	s.mu.Unlock()
	s.emit(stats.EventTypeError, path, page, err)
	s.reportError(path, page, err)
}

func (s *Scheduler) emit(typ stats.EventType, path string, page int, err error) {
	s.opts.Events(stats.Event{
		Stage:  stats.StageRender,
		Type:   typ,
		Path:   path,
		Err:    err,
		Detail: fmt.Sprintf("page %d", page+1),
	})
}

func (s *Scheduler) reportError(path string, page int, err error) {
	s.opts.Logger.Warn("render failed", "path", path, "page", page, "err", err)
	if s.opts.OnError != nil {
		s.opts.Dispatch(func() { s.opts.OnError(path, page, err) })
	}
}
