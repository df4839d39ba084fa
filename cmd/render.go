package cmd

import (
	"bufio"
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/apptrack/document"
	"github.com/dhcgn/apptrack/render"
	"github.com/dhcgn/apptrack/stats"
)

var (
	renderPage int
	renderOut  string
)

var renderCmd = &cobra.Command{
	Use:   "render [application] [document]",
	Short: "Render one page of a document to a PNG file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			path, err := resolveDocumentPath(ctx, a, args[0], args[1])
			if err != nil {
				return err
			}
			out := renderOut
			if out == "" {
				out = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + fmt.Sprintf("_p%d.png", renderPage+1)
			}

			surface := newPNGSurface(ctx, func(render.Frame) string { return out })
			sched := newScheduler(a, surface)
			defer sched.Shutdown()

			sched.Open(path)
			if renderPage > 0 {
				if err := sched.Request(path, renderPage); err != nil {
					return err
				}
			}
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case err := <-surface.errs:
					return err
				case shown := <-surface.shown:
					if shown.Frame.Page != renderPage {
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d -> %s\n", shown.Frame.Page+1, shown.Frame.PageCount, shown.File)
					return nil
				}
			}
		})
	},
}

var viewCmd = &cobra.Command{
	Use:   "view [application] [document]",
	Short: "Page through a document; each page is written to a PNG file",
	Long: "Page through a document. Commands on stdin: n (next), p (previous), " +
		"a page number, q (quit). The current page is written to --out.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			path, err := resolveDocumentPath(ctx, a, args[0], args[1])
			if err != nil {
				return err
			}
			out := renderOut
			if out == "" {
				out = filepath.Join(os.TempDir(), "apptrack-view.png")
			}
			surface := newPNGSurface(ctx, func(render.Frame) string { return out })
			sched := newScheduler(a, surface)
			defer sched.Shutdown()
			reporter := stats.NewReporter(a.runner, a.logger)

			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case shown := <-surface.shown:
						fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d -> %s\n", shown.Frame.Page+1, shown.Frame.PageCount, shown.File)
					case err := <-surface.errs:
						fmt.Fprintf(cmd.ErrOrStderr(), "render failed: %v\n", err)
					}
				}
			}()

			sched.Open(path)
			err = viewLoop(ctx, cmd.InOrStdin(), cmd.ErrOrStderr(), sched, path)
			sched.Wait()
			a.logger.Debug("view finished", reporter.Summary().LogAttrs()...)
			return err
		})
	},
}

func init() {
	renderCmd.Flags().IntVar(&renderPage, "page", 0, "Zero-based page to render")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "Output PNG file")
	viewCmd.Flags().StringVarP(&renderOut, "out", "o", "", "PNG file receiving the current page")

	register(renderCmd)
	register(viewCmd)
}

// pager is the part of the scheduler the view loop drives.
type pager interface {
	Next()
	Prev()
	Request(path string, page int) error
}

func viewLoop(ctx context.Context, in io.Reader, errOut io.Writer, p pager, path string) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		switch line := strings.TrimSpace(scanner.Text()); line {
		case "":
		case "n", "next":
			p.Next()
		case "p", "prev":
			p.Prev()
		case "q", "quit":
			return nil
		default:
			n, err := strconv.Atoi(line)
			if err != nil {
				continue
			}
			if err := p.Request(path, n-1); err != nil {
				fmt.Fprintln(errOut, err)
			}
		}
	}
	return scanner.Err()
}

func resolveDocumentPath(ctx context.Context, a *app, entityRef, docRef string) (string, error) {
	e, err := a.find(ctx, entityRef)
	if err != nil {
		return "", err
	}
	doc, err := findDocument(e, docRef)
	if err != nil {
		return "", err
	}
	return doc.Path, nil
}

func newScheduler(a *app, surface *pngSurface) *render.Scheduler {
	return render.NewScheduler(document.NewRegistry(), surface, render.Options{
		DPI:         a.cfg.RenderDPI,
		MaxParallel: a.cfg.RenderWorkers,
		Dispatch:    a.runner.Post,
		OnError: func(path string, page int, err error) {
			surface.fail(fmt.Errorf("page %d of %s: %w", page+1, filepath.Base(path), err))
		},
		Events: a.runner.EmitEvent,
		Logger: a.logger,
	})
}

type shownFrame struct {
	Frame render.Frame
	File  string
}

// pngSurface writes shown frames to PNG files on its own goroutine. Show is
// called on the coordinator and only hands the frame over; a frame not yet
// written is replaced by a newer one. Outcomes nobody reads are dropped.
type pngSurface struct {
	target  func(render.Frame) string
	pending chan render.Frame
	shown   chan shownFrame
	errs    chan error
}

func newPNGSurface(ctx context.Context, target func(render.Frame) string) *pngSurface {
	s := &pngSurface{
		target:  target,
		pending: make(chan render.Frame, 1),
		shown:   make(chan shownFrame, 8),
		errs:    make(chan error, 8),
	}
	go s.write(ctx)
	return s
}

func (s *pngSurface) Show(frame render.Frame) {
	for {
		select {
		case s.pending <- frame:
			return
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

func (s *pngSurface) write(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.pending:
			file := s.target(frame)
			if err := writePNG(file, frame); err != nil {
				s.fail(err)
				continue
			}
			select {
			case s.shown <- shownFrame{Frame: frame, File: file}:
			default:
			}
		}
	}
}

func (s *pngSurface) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *pngSurface) Clear() {}

func writePNG(path string, frame render.Frame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, frame.Image); err != nil {
		f.Close()
		return fmt.Errorf("encode page %d: %w", frame.Page+1, err)
	}
	return f.Close()
}
