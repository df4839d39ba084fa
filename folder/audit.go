package folder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dhcgn/apptrack/model"
)

type IssueKind string

const (
	IssueMissingFolder IssueKind = "missing_folder"
	IssueMissingFile   IssueKind = "missing_file"
	IssueUntracked     IssueKind = "untracked_file"
	IssueMisplaced     IssueKind = "misplaced_path"
	IssueNotCanonical  IssueKind = "not_canonical"
)

// Issue is one disagreement between the records and the file system.
type Issue struct {
	EntityID string
	Kind     IssueKind
	Path     string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s %s", i.EntityID, i.Kind, i.Path)
}

// Audit compares e with the contents of its folder on disk.
func Audit(e model.Entity) ([]Issue, error) {
	if !e.HasFolder() {
		return nil, nil
	}
	var issues []Issue
	if name, ok := CanonicalName(e); ok && filepath.Base(filepath.Clean(e.Folder)) != name {
		issues = append(issues, Issue{EntityID: e.ID, Kind: IssueNotCanonical, Path: e.Folder})
	}

	entries, err := os.ReadDir(e.Folder)
	if errors.Is(err, os.ErrNotExist) {
		if len(e.Documents) > 0 {
			issues = append(issues, Issue{EntityID: e.ID, Kind: IssueMissingFolder, Path: e.Folder})
		}
		return issues, nil
	}
	if err != nil {
		return issues, fmt.Errorf("read folder %s: %w", e.Folder, err)
	}

	onDisk := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			onDisk[entry.Name()] = true
		}
	}

	tracked := make(map[string]bool, len(e.Documents))
	for _, doc := range e.Documents {
		if doc.Path == "" {
			continue
		}
		if filepath.Dir(doc.Path) != filepath.Clean(e.Folder) {
			issues = append(issues, Issue{EntityID: e.ID, Kind: IssueMisplaced, Path: doc.Path})
		}
		name := filepath.Base(doc.Path)
		tracked[name] = true
		if !onDisk[name] {
			issues = append(issues, Issue{EntityID: e.ID, Kind: IssueMissingFile, Path: doc.Path})
		}
	}

	var untracked []string
	for name := range onDisk {
		if !tracked[name] {
			untracked = append(untracked, name)
		}
	}
	sort.Strings(untracked)
	for _, name := range untracked {
		issues = append(issues, Issue{EntityID: e.ID, Kind: IssueUntracked, Path: filepath.Join(e.Folder, name)})
	}
	return issues, nil
}
