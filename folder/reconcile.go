package folder

import (
	"path/filepath"

	"github.com/dhcgn/apptrack/model"
)

// PathChange records one document path rewritten by reconciliation.
type PathChange struct {
	EntityID string
	From     string
	To       string
}

// Reconcile returns copies of entities in which every document path is
// re-derived from the owning folder. Only the file name of a stored path
// is trusted. Entities without a folder are returned unchanged.
func Reconcile(entities []model.Entity) []model.Entity {
	if entities == nil {
		return nil
	}
	out := make([]model.Entity, len(entities))
	for i, e := range entities {
		out[i] = ReconcileEntity(e)
	}
	return out
}

// ReconcileEntity is Reconcile for a single entity.
func ReconcileEntity(e model.Entity) model.Entity {
	e = e.Clone()
	if !e.HasFolder() {
		return e
	}
	for i, doc := range e.Documents {
		if doc.Path == "" {
			continue
		}
		e.Documents[i].Path = resolve(e.Folder, doc.Path)
	}
	return e
}

// Drift lists the rewrites Reconcile would perform.
func Drift(entities []model.Entity) []PathChange {
	var changes []PathChange
	for _, e := range entities {
		if !e.HasFolder() {
			continue
		}
		for _, doc := range e.Documents {
			if doc.Path == "" {
				continue
			}
			if want := resolve(e.Folder, doc.Path); want != doc.Path {
				changes = append(changes, PathChange{EntityID: e.ID, From: doc.Path, To: want})
			}
		}
	}
	return changes
}

// Consistent reports whether every document of e lives directly in its folder.
func Consistent(e model.Entity) bool {
	if !e.HasFolder() {
		return true
	}
	dir := filepath.Clean(e.Folder)
	for _, doc := range e.Documents {
		if doc.Path != "" && filepath.Dir(doc.Path) != dir {
			return false
		}
	}
	return true
}

func resolve(folder, path string) string {
	return filepath.Join(folder, filepath.Base(path))
}
