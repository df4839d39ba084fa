package folder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dhcgn/apptrack/datescan"
	"github.com/dhcgn/apptrack/model"
)

// TextExtractor returns the readable text of a document.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

type ImporterOptions struct {
	Extractor TextExtractor
	Locale    datescan.Locale
	Location  *time.Location
	Now       func() time.Time
	Logger    *slog.Logger
}

// ImportResult describes one imported document.
type ImportResult struct {
	Document  model.DocumentRef
	DateFound bool
	Folder    string
}

// Importer moves external files into entity folders and timestamps them
// from the date found in their text.
type Importer struct {
	extractor TextExtractor
	locale    datescan.Locale
	location  *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

func NewImporter(opts ImporterOptions) *Importer {
	imp := &Importer{
		extractor: opts.Extractor,
		locale:    opts.Locale,
		location:  opts.Location,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if imp.locale.Name == "" {
		imp.locale = datescan.French
	}
	if imp.location == nil {
		imp.location = time.Local
	}
	if imp.now == nil {
		imp.now = time.Now
	}
	if imp.logger == nil {
		imp.logger = slog.Default()
	}
	return imp
}

// Import moves source into e's folder and returns the document reference
// to record. The source no longer exists at its original path on success.
// A name clash inside the folder is resolved by a millisecond suffix;
// existing files are never overwritten.
func (imp *Importer) Import(ctx context.Context, e model.Entity, source string) (ImportResult, error) {
	if !e.HasFolder() {
		return ImportResult{}, ErrNoFolder
	}
	if err := ctx.Err(); err != nil {
		return ImportResult{}, err
	}

	info, err := os.Stat(source)
	if err != nil {
		return ImportResult{}, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return ImportResult{}, fmt.Errorf("import %s: source is a directory", source)
	}
	if err := os.MkdirAll(e.Folder, 0o755); err != nil {
		return ImportResult{}, fmt.Errorf("create folder: %w", err)
	}

	// Scan before moving so an unreadable file never leaves the source location.
	timestamp, found := imp.scan(ctx, source)

	now := imp.now()
	target, err := uniqueTarget(e.Folder, filepath.Base(source), now)
	if err != nil {
		return ImportResult{}, err
	}
	if err := os.Rename(source, target); err != nil {
		return ImportResult{}, fmt.Errorf("move %s: %w", source, err)
	}

	if !found {
		timestamp = now.In(imp.location).Truncate(time.Second)
		imp.logger.Warn("no date found in document, using import time",
			"entity", e.ID, "file", filepath.Base(target))
	}
	doc := model.DocumentRef{
		Path:      target,
		Timestamp: timestamp,
		Name:      filepath.Base(target),
	}
	imp.logger.Debug("imported document", "entity", e.ID, "path", target, "timestamp", timestamp, "date_found", found)
	return ImportResult{Document: doc, DateFound: found, Folder: e.Folder}, nil
}

func (imp *Importer) scan(ctx context.Context, path string) (time.Time, bool) {
	if imp.extractor == nil {
		return time.Time{}, false
	}
	text, err := imp.extractor.ExtractText(ctx, path)
	if err != nil {
		imp.logger.Debug("text extraction failed", "path", path, "err", err)
		return time.Time{}, false
	}
	return imp.locale.Last(text, imp.location)
}

// uniqueTarget picks a path inside dir for name that does not exist yet.
func uniqueTarget(dir, name string, now time.Time) (string, error) {
	target := filepath.Join(dir, name)
	if _, err := os.Lstat(target); errors.Is(err, os.ErrNotExist) {
		return target, nil
	} else if err != nil {
		return "", fmt.Errorf("stat target: %w", err)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	stamp := now.UnixMilli()
	for i := 0; i < 1000; i++ {
		candidate := filepath.Join(dir, base+"_"+strconv.FormatInt(stamp+int64(i), 10)+ext)
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("stat target: %w", err)
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}
