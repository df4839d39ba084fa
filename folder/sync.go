package folder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dhcgn/apptrack/model"
)

var (
	// ErrNoFolder is returned when an entity has no folder assigned.
	ErrNoFolder = errors.New("entity has no folder")
	// ErrFolderExists is returned when the canonical folder is already taken
	// by another directory.
	ErrFolderExists = errors.New("target folder already exists")
)

// SyncResult is the outcome of synchronizing one entity's folder.
type SyncResult struct {
	Folder    string
	Documents []model.DocumentRef
	From      string
	Renamed   bool
	Adopted   bool
}

// Changed reports whether the entity's stored folder or paths must be updated.
func (r SyncResult) Changed() bool {
	return r.Renamed || r.Adopted
}

// Synchronizer renames entity folders to their canonical name.
// It never changes documents' timestamps or the entity's descriptive fields.
type Synchronizer struct {
	logger *slog.Logger
}

func NewSynchronizer(logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{logger: logger}
}

// Synchronize renames e's folder to CanonicalName(e) when they differ and
// returns the new folder with every document path re-derived under it.
// When no document has a timestamp the entity is left unchanged.
func (s *Synchronizer) Synchronize(e model.Entity) (SyncResult, error) {
	unchanged := SyncResult{Folder: e.Folder, Documents: cloneDocs(e.Documents), From: e.Folder}

	name, ok := CanonicalName(e)
	if !ok {
		return unchanged, nil
	}
	if !e.HasFolder() {
		return unchanged, ErrNoFolder
	}

	current := filepath.Clean(e.Folder)
	if filepath.Base(current) == name {
		return unchanged, nil
	}
	target := filepath.Join(filepath.Dir(current), name)

	if targetInfo, err := os.Stat(target); err == nil {
		currentInfo, curErr := os.Stat(current)
		switch {
		case errors.Is(curErr, os.ErrNotExist):
			// A previous run renamed the directory but the records were not saved.
			s.logger.Info("adopting existing canonical folder", "entity", e.ID, "folder", target)
			return SyncResult{Folder: target, Documents: rebase(e.Documents, target), From: current, Adopted: true}, nil
		case curErr == nil && os.SameFile(currentInfo, targetInfo):
			// Case-only rename on a case-insensitive file system.
		default:
			return unchanged, fmt.Errorf("%w: %s", ErrFolderExists, target)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return unchanged, fmt.Errorf("stat target folder: %w", err)
	}

	if err := os.Rename(current, target); err != nil {
		return unchanged, fmt.Errorf("rename folder %s: %w", current, err)
	}
	s.logger.Info("renamed folder", "entity", e.ID, "from", current, "to", target)
	return SyncResult{Folder: target, Documents: rebase(e.Documents, target), From: current, Renamed: true}, nil
}

func rebase(docs []model.DocumentRef, folder string) []model.DocumentRef {
	out := cloneDocs(docs)
	for i := range out {
		if out[i].Path != "" {
			out[i].Path = resolve(folder, out[i].Path)
		}
	}
	return out
}

func cloneDocs(docs []model.DocumentRef) []model.DocumentRef {
	if docs == nil {
		return nil
	}
	out := make([]model.DocumentRef, len(docs))
	copy(out, docs)
	return out
}
