package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/apptrack/folder"
	"github.com/dhcgn/apptrack/model"
	"github.com/dhcgn/apptrack/state"
	"github.com/dhcgn/apptrack/stats"
)

// Snapshot returns a copy of every entity, newest application first.
func (r *Runner) Snapshot(ctx context.Context) ([]model.Entity, error) {
	var out []model.Entity
	err := r.do(ctx, func() error {
		out = model.CloneAll(r.entities)
		return nil
	})
	if err != nil {
		return nil, err
	}
	model.SortByAppliedOn(out)
	return out, nil
}

// Entity returns a copy of one entity.
func (r *Runner) Entity(ctx context.Context, id string) (model.Entity, error) {
	var out model.Entity
	err := r.do(ctx, func() error {
		i := indexOf(r.entities, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		out = r.entities[i].Clone()
		return nil
	})
	return out, err
}

// Find resolves an entity by full ID, unique ID prefix or exact
// "Company - Position" label.
func (r *Runner) Find(ctx context.Context, ref string) (model.Entity, error) {
	ref = strings.TrimSpace(ref)
	var out model.Entity
	err := r.do(ctx, func() error {
		var matches []int
		for i, e := range r.entities {
			if e.ID == ref {
				matches = []int{i}
				break
			}
			if (ref != "" && strings.HasPrefix(e.ID, ref)) || strings.EqualFold(e.Label(), ref) {
				matches = append(matches, i)
			}
		}
		switch len(matches) {
		case 0:
			return fmt.Errorf("%w: %s", ErrEntityNotFound, ref)
		case 1:
			out = r.entities[matches[0]].Clone()
			return nil
		default:
			return fmt.Errorf("%q matches %d entities", ref, len(matches))
		}
	})
	return out, err
}

// Add validates e, gives it an ID and an initial folder under the data root
// and stores it. The folder itself is created on first import.
func (r *Runner) Add(ctx context.Context, e model.Entity) (model.Entity, error) {
	e.Company = strings.TrimSpace(e.Company)
	e.Position = strings.TrimSpace(e.Position)
	if e.Status == "" {
		e.Status = model.StatusPending
	}
	if e.AppliedOn.IsZero() {
		y, m, d := r.now().Date()
		e.AppliedOn = time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	}
	if err := e.Validate(); err != nil {
		return model.Entity{}, err
	}
	e.ID = uuid.NewString()
	e.Documents = nil

	err := r.mutate(ctx, func(list []model.Entity) ([]model.Entity, error) {
		e.Folder = filepath.Join(r.cfg.DataDir, r.uniqueFolderName(list, folder.InitialName(e.Company, e.Position)))
		return append(list, e), nil
	})
	if err != nil {
		return model.Entity{}, err
	}
	r.logger.Info("added application", "entity", e.ID, "company", e.Company, "position", e.Position, "folder", e.Folder)
	return e, nil
}

func (r *Runner) uniqueFolderName(list []model.Entity, name string) string {
	taken := make(map[string]bool, len(list))
	for _, e := range list {
		if e.HasFolder() {
			taken[strings.ToLower(filepath.Base(e.Folder))] = true
		}
	}
	free := func(candidate string) bool {
		if taken[strings.ToLower(candidate)] {
			return false
		}
		_, err := os.Stat(filepath.Join(r.cfg.DataDir, candidate))
		return os.IsNotExist(err)
	}
	candidate := name
	for i := 2; !free(candidate); i++ {
		candidate = name + "_" + strconv.Itoa(i)
	}
	return candidate
}

// Update applies edit to a copy of the entity. Identity, folder and
// documents cannot be changed this way; Synchronize renames the folder.
func (r *Runner) Update(ctx context.Context, id string, edit func(*model.Entity) error) (model.Entity, error) {
	var out model.Entity
	err := r.mutate(ctx, func(list []model.Entity) ([]model.Entity, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		before := list[i]
		edited := before.Clone()
		if err := edit(&edited); err != nil {
			return nil, err
		}
		edited.ID, edited.Folder, edited.Documents = before.ID, before.Folder, before.Documents
		edited.Company = strings.TrimSpace(edited.Company)
		edited.Position = strings.TrimSpace(edited.Position)
		if err := edited.Validate(); err != nil {
			return nil, err
		}
		list[i] = edited
		out = edited.Clone()
		return list, nil
	})
	return out, err
}

// Import moves source into the entity's folder and records the document.
func (r *Runner) Import(ctx context.Context, id, source string) (folder.ImportResult, error) {
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return folder.ImportResult{}, err
	}
	defer unlock()

	e, err := r.Entity(ctx, id)
	if err != nil {
		return folder.ImportResult{}, err
	}
	res, err := r.importer.Import(ctx, e, source)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageImport, Type: stats.EventTypeError, EntityID: id, Path: source, Err: err})
		return folder.ImportResult{}, fmt.Errorf("import %s: %w", source, err)
	}

	// The file is in place; recording it must not be abandoned.
	err = r.mutate(context.WithoutCancel(ctx), func(list []model.Entity) ([]model.Entity, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		doc := res.Document
		if list[i].HasFolder() {
			doc.Path = filepath.Join(list[i].Folder, filepath.Base(doc.Path))
		}
		list[i].AddDocument(doc)
		res.Document = doc
		res.Folder = list[i].Folder
		return list, nil
	})
	if err != nil {
		return res, err
	}

	r.record(state.Entry{Op: state.OpImport, EntityID: id, From: source, To: res.Document.Path})
	evt := stats.EventTypeImported
	if !res.DateFound {
		evt = stats.EventTypeNoDate
	}
	r.EmitEvent(stats.Event{Stage: stats.StageImport, Type: evt, EntityID: id, Path: res.Document.Path})
	return res, nil
}

// Synchronize renames the entity's folder to its canonical name.
func (r *Runner) Synchronize(ctx context.Context, id string) (folder.SyncResult, error) {
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return folder.SyncResult{}, err
	}
	defer unlock()

	e, err := r.Entity(ctx, id)
	if err != nil {
		return folder.SyncResult{}, err
	}
	res, err := r.syncer.Synchronize(e)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageSync, Type: stats.EventTypeError, EntityID: id, Path: e.Folder, Err: err})
		return res, fmt.Errorf("synchronize %s: %w", e.Label(), err)
	}
	if !res.Changed() {
		r.EmitEvent(stats.Event{Stage: stats.StageSync, Type: stats.EventTypeUnchanged, EntityID: id, Path: e.Folder})
		return res, nil
	}

	err = r.mutate(context.WithoutCancel(ctx), func(list []model.Entity) ([]model.Entity, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		list[i].Folder = res.Folder
		list[i] = folder.ReconcileEntity(list[i])
		res.Documents = list[i].Clone().Documents
		return list, nil
	})
	if err != nil {
		return res, err
	}

	evt := stats.EventTypeRenamed
	if res.Adopted {
		evt = stats.EventTypeAdopted
	}
	r.record(state.Entry{Op: state.OpRename, EntityID: id, From: res.From, To: res.Folder})
	r.EmitEvent(stats.Event{Stage: stats.StageSync, Type: evt, EntityID: id, Path: res.Folder})
	return res, nil
}

// Delete removes the entity's folder and then its record. If the folder
// cannot be removed the record is kept.
func (r *Runner) Delete(ctx context.Context, id string) error {
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	e, err := r.Entity(ctx, id)
	if err != nil {
		return err
	}
	if e.HasFolder() {
		if err := folder.RemoveFolder(r.cfg.DataDir, e.Folder); err != nil {
			r.EmitEvent(stats.Event{Stage: stats.StageDelete, Type: stats.EventTypeError, EntityID: id, Path: e.Folder, Err: err})
			return fmt.Errorf("delete %s: %w", e.Label(), err)
		}
	}

	err = r.mutate(context.WithoutCancel(ctx), func(list []model.Entity) ([]model.Entity, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		return append(list[:i], list[i+1:]...), nil
	})
	if err != nil {
		return err
	}
	r.record(state.Entry{Op: state.OpDelete, EntityID: id, From: e.Folder})
	r.EmitEvent(stats.Event{Stage: stats.StageDelete, Type: stats.EventTypeDeleted, EntityID: id, Path: e.Folder})
	r.logger.Info("deleted application", "entity", id, "folder", e.Folder)
	return nil
}

// RemoveDocument deletes one document file and its reference.
func (r *Runner) RemoveDocument(ctx context.Context, id, path string) error {
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	e, err := r.Entity(ctx, id)
	if err != nil {
		return err
	}
	doc, ok := e.Document(path)
	if !ok {
		return fmt.Errorf("%w: document %s", ErrEntityNotFound, path)
	}
	if err := folder.RemoveDocument(doc.Path); err != nil {
		return err
	}
	err = r.mutate(context.WithoutCancel(ctx), func(list []model.Entity) ([]model.Entity, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		list[i].RemoveDocument(doc.Path)
		return list, nil
	})
	if err != nil {
		return err
	}
	r.record(state.Entry{Op: state.OpRemove, EntityID: id, From: doc.Path})
	return nil
}

// SetDocumentTimestamp overrides the sent/received moment of a document.
// A zero timestamp clears it. The folder is not renamed; call Synchronize.
func (r *Runner) SetDocumentTimestamp(ctx context.Context, id, path string, ts time.Time) (model.DocumentRef, error) {
	var out model.DocumentRef
	err := r.mutate(ctx, func(list []model.Entity) ([]model.Entity, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		for j := range list[i].Documents {
			if list[i].Documents[j].SameDocument(model.DocumentRef{Path: path}) {
				list[i].Documents[j].Timestamp = ts
				out = list[i].Documents[j]
				return list, nil
			}
		}
		return nil, fmt.Errorf("%w: document %s", ErrEntityNotFound, path)
	})
	return out, err
}

// Reconcile re-derives document paths of the in-memory list and saves if
// anything moved. It returns the rewrites.
func (r *Runner) Reconcile(ctx context.Context) ([]folder.PathChange, error) {
	var drift []folder.PathChange
	err := r.mutate(ctx, func(list []model.Entity) ([]model.Entity, error) {
		drift = folder.Drift(list)
		if len(drift) == 0 {
			return nil, nil
		}
		return folder.Reconcile(list), nil
	})
	if err != nil {
		return nil, err
	}
	for _, change := range drift {
		r.EmitEvent(stats.Event{Stage: stats.StageReconcile, Type: stats.EventTypeReconciled, EntityID: change.EntityID, Path: change.To})
	}
	return drift, nil
}

// Check audits every entity folder against the records.
func (r *Runner) Check(ctx context.Context) ([]folder.Issue, error) {
	entities, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var issues []folder.Issue
	for _, e := range entities {
		found, err := folder.Audit(e)
		if err != nil {
			return issues, err
		}
		issues = append(issues, found...)
	}
	return issues, nil
}
