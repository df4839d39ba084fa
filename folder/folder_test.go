package folder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dhcgn/apptrack/datescan"
	"github.com/dhcgn/apptrack/model"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fileText struct{}

func (fileText) ExtractText(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

func touch(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.Local)
}

func acme(root string) model.Entity {
	folder := filepath.Join(root, "Acme_Engineer")
	return model.Entity{
		ID:       "acme",
		Company:  "Acme",
		Position: "Engineer",
		Status:   model.StatusPending,
		Folder:   folder,
		Documents: []model.DocumentRef{
			{Path: filepath.Join(folder, "a.pdf"), Timestamp: at(2024, 3, 5, 10, 0), Name: "a.pdf"},
			{Path: filepath.Join(folder, "b.eml"), Timestamp: at(2024, 3, 1, 9, 15), Name: "b.eml"},
		},
	}
}

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		name   string
		entity model.Entity
		want   string
		ok     bool
	}{
		{
			name:   "oldest timestamp wins",
			entity: acme("/data"),
			want:   "2024-03-01 Acme Engineer",
			ok:     true,
		},
		{
			name: "invalid characters are stripped",
			entity: model.Entity{
				Company:   ` A/B: "C" `,
				Position:  "Dev|Ops?",
				Documents: []model.DocumentRef{{Path: "x", Timestamp: at(2023, 12, 24, 8, 0)}},
			},
			want: "2023-12-24 AB C DevOps",
			ok:   true,
		},
		{
			name: "empty fields are skipped",
			entity: model.Entity{
				Company:   "Acme",
				Position:  "***",
				Documents: []model.DocumentRef{{Path: "x", Timestamp: at(2024, 1, 2, 0, 0)}},
			},
			want: "2024-01-02 Acme",
			ok:   true,
		},
		{
			name:   "no timestamps",
			entity: model.Entity{Company: "Acme", Documents: []model.DocumentRef{{Path: "x"}}},
			ok:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CanonicalName(tt.entity)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("CanonicalName() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestInitialName(t *testing.T) {
	tests := []struct {
		company, position, want string
	}{
		{"Acme", "Engineer", "Acme_Engineer"},
		{"Société Générale", "Dév / Ops", "Societe_Generale_Dev_Ops"},
		{"  ", "!!", "application"},
		{"A&B", "C++ dev", "A_B_C_dev"},
	}
	for _, tt := range tests {
		if got := InitialName(tt.company, tt.position); got != tt.want {
			t.Errorf("InitialName(%q, %q) = %q, want %q", tt.company, tt.position, got, tt.want)
		}
	}
}

func TestSynchronizeRenamesToCanonicalFolder(t *testing.T) {
	root := t.TempDir()
	e := acme(root)
	for _, doc := range e.Documents {
		touch(t, doc.Path, doc.Name)
	}

	s := NewSynchronizer(quietLogger)
	res, err := s.Synchronize(e)
	if err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}
	want := filepath.Join(root, "2024-03-01 Acme Engineer")
	if !res.Renamed || res.Folder != want {
		t.Fatalf("result = %+v, want rename to %s", res, want)
	}
	if _, err := os.Stat(e.Folder); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("old folder still exists: %v", err)
	}
	for i, doc := range res.Documents {
		if filepath.Dir(doc.Path) != want {
			t.Fatalf("document %d path %s not under %s", i, doc.Path, want)
		}
		if !doc.Timestamp.Equal(e.Documents[i].Timestamp) {
			t.Fatalf("document %d timestamp changed", i)
		}
		if _, err := os.Stat(doc.Path); err != nil {
			t.Fatalf("document %d missing after rename: %v", i, err)
		}
	}

	e.Folder = res.Folder
	e.Documents = res.Documents
	again, err := s.Synchronize(e)
	if err != nil {
		t.Fatalf("second Synchronize() error = %v", err)
	}
	if again.Changed() || again.Folder != want {
		t.Fatalf("second Synchronize() = %+v, want unchanged", again)
	}
}

func TestSynchronizeWithoutTimestampsIsNoop(t *testing.T) {
	root := t.TempDir()
	folder := filepath.Join(root, "Acme_Engineer")
	touch(t, filepath.Join(folder, "a.pdf"), "x")
	e := model.Entity{ID: "x", Company: "Acme", Position: "Engineer", Folder: folder,
		Documents: []model.DocumentRef{{Path: filepath.Join(folder, "a.pdf")}}}

	res, err := NewSynchronizer(quietLogger).Synchronize(e)
	if err != nil || res.Changed() || res.Folder != folder {
		t.Fatalf("Synchronize() = %+v, %v; want unchanged", res, err)
	}
	if _, err := os.Stat(folder); err != nil {
		t.Fatalf("folder disappeared: %v", err)
	}
}

func TestSynchronizeTargetExists(t *testing.T) {
	root := t.TempDir()
	e := acme(root)
	for _, doc := range e.Documents {
		touch(t, doc.Path, doc.Name)
	}
	touch(t, filepath.Join(root, "2024-03-01 Acme Engineer", "other.txt"), "other")

	res, err := NewSynchronizer(quietLogger).Synchronize(e)
	if !errors.Is(err, ErrFolderExists) {
		t.Fatalf("expected ErrFolderExists, got %v", err)
	}
	if res.Folder != e.Folder {
		t.Fatalf("folder changed on failure: %s", res.Folder)
	}
	if _, err := os.Stat(e.Documents[0].Path); err != nil {
		t.Fatalf("source document moved on failure: %v", err)
	}
}

func TestSynchronizeAdoptsExistingTarget(t *testing.T) {
	root := t.TempDir()
	e := acme(root)
	target := filepath.Join(root, "2024-03-01 Acme Engineer")
	touch(t, filepath.Join(target, "a.pdf"), "a")

	res, err := NewSynchronizer(quietLogger).Synchronize(e)
	if err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}
	if !res.Adopted || res.Folder != target {
		t.Fatalf("result = %+v, want adoption of %s", res, target)
	}
}

func TestSynchronizeWithoutFolder(t *testing.T) {
	e := acme("/nowhere")
	e.Folder = ""
	if _, err := NewSynchronizer(quietLogger).Synchronize(e); !errors.Is(err, ErrNoFolder) {
		t.Fatalf("expected ErrNoFolder, got %v", err)
	}
}

func TestImportScansDateAndMoves(t *testing.T) {
	root := t.TempDir()
	folder := filepath.Join(root, "Acme_Engineer")
	source := filepath.Join(t.TempDir(), "reply.txt")
	touch(t, source, "Envoyé le 1 mars 2024 à 09:15\nRelance le 3 mars 2024 à 14:00\n")

	imp := NewImporter(ImporterOptions{Extractor: fileText{}, Locale: datescan.French, Logger: quietLogger})
	res, err := imp.Import(context.Background(), model.Entity{ID: "acme", Folder: folder}, source)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if !res.DateFound || !res.Document.Timestamp.Equal(at(2024, 3, 3, 14, 0)) {
		t.Fatalf("timestamp = %v (found %v), want last date in text", res.Document.Timestamp, res.DateFound)
	}
	if res.Document.Path != filepath.Join(folder, "reply.txt") {
		t.Fatalf("path = %s", res.Document.Path)
	}
	if _, err := os.Stat(source); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source still present: %v", err)
	}
	if _, err := os.Stat(res.Document.Path); err != nil {
		t.Fatalf("imported file missing: %v", err)
	}
}

func TestImportNameCollision(t *testing.T) {
	root := t.TempDir()
	folder := filepath.Join(root, "Acme_Engineer")
	existing := filepath.Join(folder, "cv.pdf")
	touch(t, existing, "original")
	source := filepath.Join(t.TempDir(), "cv.pdf")
	touch(t, source, "new")

	now := time.UnixMilli(1709280000123)
	imp := NewImporter(ImporterOptions{Now: func() time.Time { return now }, Logger: quietLogger})
	res, err := imp.Import(context.Background(), model.Entity{ID: "acme", Folder: folder}, source)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	want := filepath.Join(folder, "cv_1709280000123.pdf")
	if res.Document.Path != want {
		t.Fatalf("path = %s, want %s", res.Document.Path, want)
	}
	data, err := os.ReadFile(existing)
	if err != nil || string(data) != "original" {
		t.Fatalf("existing file clobbered: %q, %v", data, err)
	}
	if res.DateFound || !res.Document.Timestamp.Equal(now.Truncate(time.Second)) {
		t.Fatalf("expected import-time fallback, got %v", res.Document.Timestamp)
	}
}

func TestImportWithoutFolder(t *testing.T) {
	source := filepath.Join(t.TempDir(), "cv.pdf")
	touch(t, source, "x")
	imp := NewImporter(ImporterOptions{Logger: quietLogger})
	if _, err := imp.Import(context.Background(), model.Entity{ID: "x"}, source); !errors.Is(err, ErrNoFolder) {
		t.Fatalf("expected ErrNoFolder, got %v", err)
	}
	if _, err := os.Stat(source); err != nil {
		t.Fatalf("source touched: %v", err)
	}
}

func TestImportThenSynchronize(t *testing.T) {
	root := t.TempDir()
	e := model.Entity{ID: "acme", Company: "Acme", Position: "Engineer", Folder: filepath.Join(root, "Acme_Engineer")}
	imp := NewImporter(ImporterOptions{Extractor: fileText{}, Logger: quietLogger})

	for name, body := range map[string]string{
		"a.txt": "le 5 mars 2024 à 10:00",
		"b.txt": "le 1 mars 2024 à 09:15",
	} {
		source := filepath.Join(t.TempDir(), name)
		touch(t, source, body)
		res, err := imp.Import(context.Background(), e, source)
		if err != nil {
			t.Fatalf("Import(%s) error = %v", name, err)
		}
		e.AddDocument(res.Document)
	}

	res, err := NewSynchronizer(quietLogger).Synchronize(e)
	if err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}
	if filepath.Base(res.Folder) != "2024-03-01 Acme Engineer" {
		t.Fatalf("folder = %s", res.Folder)
	}
	e.Folder, e.Documents = res.Folder, res.Documents
	if !Consistent(e) {
		t.Fatal("documents not under entity folder after sync")
	}
	issues, err := Audit(e)
	if err != nil || len(issues) != 0 {
		t.Fatalf("Audit() = %v, %v; want clean", issues, err)
	}
}

func TestReconcile(t *testing.T) {
	in := []model.Entity{{
		ID:     "a",
		Folder: "/data/2024-03-01 Acme Engineer",
		Documents: []model.DocumentRef{
			{Path: "/data/Acme_Engineer/a.pdf", Timestamp: at(2024, 3, 1, 9, 15)},
			{Path: "/data/2024-03-01 Acme Engineer/b.eml"},
		},
	}, {ID: "b", Documents: []model.DocumentRef{{Path: "/elsewhere/c.pdf"}}}}

	drift := Drift(in)
	if len(drift) != 1 || drift[0].From != "/data/Acme_Engineer/a.pdf" {
		t.Fatalf("Drift() = %+v", drift)
	}

	out := Reconcile(in)
	if out[0].Documents[0].Path != filepath.Join("/data/2024-03-01 Acme Engineer", "a.pdf") {
		t.Fatalf("path = %s", out[0].Documents[0].Path)
	}
	if in[0].Documents[0].Path != "/data/Acme_Engineer/a.pdf" {
		t.Fatal("Reconcile mutated its input")
	}
	if out[1].Documents[0].Path != "/elsewhere/c.pdf" {
		t.Fatal("entity without folder was modified")
	}
}

func TestReconcileProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	build := func(folder, oldDir string, names []string) model.Entity {
		e := model.Entity{ID: "p", Folder: filepath.Join("/data", folder)}
		for i, name := range names {
			e.Documents = append(e.Documents, model.DocumentRef{
				Path:      filepath.Join("/old", oldDir, name),
				Timestamp: time.Unix(int64(i)*3600, 0),
			})
		}
		return e
	}

	properties.Property("paths_live_in_folder", prop.ForAll(
		func(folder, oldDir string, names []string) bool {
			out := ReconcileEntity(build(folder, oldDir, names))
			return Consistent(out) && len(out.Documents) == len(names)
		},
		gen.Identifier(), gen.Identifier(), gen.SliceOf(gen.Identifier()),
	))

	properties.Property("idempotent", prop.ForAll(
		func(folder, oldDir string, names []string) bool {
			once := Reconcile([]model.Entity{build(folder, oldDir, names)})
			return len(Drift(once)) == 0
		},
		gen.Identifier(), gen.Identifier(), gen.SliceOf(gen.Identifier()),
	))

	properties.Property("timestamps_and_names_kept", prop.ForAll(
		func(folder, oldDir string, names []string) bool {
			in := build(folder, oldDir, names)
			out := ReconcileEntity(in)
			for i := range in.Documents {
				if !out.Documents[i].Timestamp.Equal(in.Documents[i].Timestamp) {
					return false
				}
				if filepath.Base(out.Documents[i].Path) != filepath.Base(in.Documents[i].Path) {
					return false
				}
			}
			return true
		},
		gen.Identifier(), gen.Identifier(), gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}

func TestLocksSerializePerEntity(t *testing.T) {
	locks := NewLocks()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), "same")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("peak concurrent holders = %d, want 1", peak)
	}

	unlockA, err := locks.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}
	defer unlockA()
	unlockB, err := locks.Lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked by a: %v", err)
	}
	unlockB()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while held, got %v", err)
	}
}

func TestRemoveFolder(t *testing.T) {
	root := t.TempDir()
	folder := filepath.Join(root, "Acme_Engineer")
	touch(t, filepath.Join(folder, "sub", "a.pdf"), "x")

	if err := RemoveFolder(root, t.TempDir()); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	if err := RemoveFolder(root, root); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("removing the root itself must be refused, got %v", err)
	}
	if err := RemoveFolder(root, folder); err != nil {
		t.Fatalf("RemoveFolder() error = %v", err)
	}
	if _, err := os.Stat(folder); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("folder still exists: %v", err)
	}
	if err := RemoveFolder(root, folder); err != nil {
		t.Fatalf("second RemoveFolder() error = %v", err)
	}
}

func TestAudit(t *testing.T) {
	root := t.TempDir()
	e := acme(root)
	touch(t, e.Documents[0].Path, "a")
	touch(t, filepath.Join(e.Folder, "stray.txt"), "s")

	issues, err := Audit(e)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	kinds := make([]string, len(issues))
	for i, issue := range issues {
		kinds[i] = string(issue.Kind)
	}
	got := strings.Join(kinds, ",")
	want := "not_canonical,missing_file,untracked_file"
	if got != want {
		t.Fatalf("issue kinds = %s, want %s", got, want)
	}
}
