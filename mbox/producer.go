package mbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dhcgn/apptrack/folder"
	"github.com/dhcgn/apptrack/model"
	"github.com/dhcgn/apptrack/runner"
	"github.com/dhcgn/apptrack/stats"
)

// Target is what the producer imports into.
type Target interface {
	Import(ctx context.Context, id, source string) (folder.ImportResult, error)
	SetDocumentTimestamp(ctx context.Context, id, path string, ts time.Time) (model.DocumentRef, error)
	EmitEvent(evt stats.Event)
}

// Producer imports the messages of one archive into one entity.
type Producer struct {
	reader   *Reader
	target   Target
	entityID string
	staging  string
	logger   *slog.Logger

	imported int
	failed   int
}

// NewProducer registers the archive import as a stage of r.
func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	if opts.EntityID == "" {
		return nil, fmt.Errorf("mbox import needs an entity")
	}
	reader, err := NewReader(opts.Path, opts.Filter, logger)
	if err != nil {
		return nil, err
	}
	p := newProducer(reader, opts, r)
	r.AddStage("mbox", p.run)
	return p, nil
}

func newProducer(reader *Reader, opts Options, target Target) *Producer {
	return &Producer{
		reader:   reader,
		target:   target,
		entityID: opts.EntityID,
		staging:  opts.StagingDir,
		logger:   reader.logger,
	}
}

// Imported returns how many messages became documents.
func (p *Producer) Imported() int { return p.imported }

// Failed returns how many messages could not be read or imported.
func (p *Producer) Failed() int { return p.failed }

func (p *Producer) run(ctx context.Context) error {
	staging := p.staging
	if staging == "" {
		dir, err := os.MkdirTemp("", "apptrack-mbox-")
		if err != nil {
			return fmt.Errorf("staging dir: %w", err)
		}
		defer os.RemoveAll(dir)
		staging = dir
	}

	out := make(chan Envelope)
	done := make(chan error, 1)
	go func() {
		done <- p.reader.Stream(ctx, out)
		close(out)
	}()

	for env := range out {
		if env.Err != nil {
			p.failed++
			p.target.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, EntityID: p.entityID, Path: p.reader.path, Err: env.Err})
			continue
		}
		p.importMessage(ctx, staging, env.Message)
	}
	return <-done
}

func (p *Producer) importMessage(ctx context.Context, staging string, msg Message) {
	path, err := Stage(staging, msg)
	if err != nil {
		p.failed++
		p.target.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, EntityID: p.entityID, Err: err})
		return
	}
	p.target.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeScanned, EntityID: p.entityID, Path: path, Detail: msg.Subject})

	res, err := p.target.Import(ctx, p.entityID, path)
	if err != nil {
		p.failed++
		p.logger.Warn("message import failed", "entity", p.entityID, "index", msg.Index, "err", err)
		_ = os.Remove(path)
		return
	}
	p.imported++

	// The Date header is more reliable than a date found in the body text.
	if !msg.Date.IsZero() {
		ts := msg.Date.In(time.Local).Truncate(time.Second)
		if _, err := p.target.SetDocumentTimestamp(ctx, p.entityID, res.Document.Path, ts); err != nil {
			p.logger.Warn("message date not recorded", "entity", p.entityID, "path", res.Document.Path, "err", err)
		}
	}
}
