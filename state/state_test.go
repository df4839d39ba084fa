package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/apptrack/model"
)

func sampleEntity() model.Entity {
	return model.Entity{
		ID:        "0b7c6f3e-7d38-4f0e-9a1c-1f4d0c9b2a11",
		Company:   "Acme",
		Position:  "Engineer",
		AppliedOn: time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local),
		Status:    model.StatusInterview,
		Folder:    "/data/2024-03-01 Acme Engineer",
		Documents: []model.DocumentRef{{
			Path:      "/data/2024-03-01 Acme Engineer/cv.pdf",
			Timestamp: time.Date(2024, 3, 1, 9, 15, 0, 0, time.Local),
			Name:      "cv.pdf",
		}},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "candidatures.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil || len(loaded) != 0 {
		t.Fatalf("Load() on missing file = %v, %v", loaded, err)
	}

	want := sampleEntity()
	if err := store.Save(context.Background(), []model.Entity{want}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err = store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d entities", len(loaded))
	}
	got := loaded[0]
	if got.ID != want.ID || got.Status != want.Status || !got.AppliedOn.Equal(want.AppliedOn) {
		t.Fatalf("loaded entity = %+v", got)
	}
	if len(got.Documents) != 1 || !got.Documents[0].Timestamp.Equal(want.Documents[0].Timestamp) {
		t.Fatalf("loaded documents = %+v", got.Documents)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the record file, found %d entries", len(entries))
	}
}

func TestFileStoreRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "object instead of array", body: `{"id":"x"}`},
		{name: "missing company", body: `[{"id":"x","position":"p"}]`},
		{name: "bad date", body: `[{"id":"x","company":"c","position":"p","appliedOn":"01/03/2024"}]`},
		{name: "unknown status", body: `[{"id":"x","company":"c","position":"p","status":"hired"}]`},
		{name: "bad timestamp", body: `[{"id":"x","company":"c","position":"p","documents":[{"path":"a","timestamp":"1 mars 2024"}]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "records.json")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			store, err := NewFileStore(path)
			if err != nil {
				t.Fatalf("NewFileStore() error = %v", err)
			}
			if _, err := store.Load(context.Background()); !errors.Is(err, ErrInvalidRecords) {
				t.Fatalf("expected ErrInvalidRecords, got %v", err)
			}
		})
	}
}

func TestFileStoreIgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	body := `[{"id":"x","company":"c","position":"p","documents":null,"color":"blue"}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].Status != model.StatusPending {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore(sampleEntity())
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	loaded[0].Documents[0].Path = "/elsewhere"

	again, _ := store.Load(context.Background())
	if again[0].Documents[0].Path == "/elsewhere" {
		t.Fatal("Load() returned shared document slice")
	}

	boom := errors.New("disk full")
	store.FailNextSave(boom)
	if err := store.Save(context.Background(), nil); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := store.Save(context.Background(), loaded); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if store.Saves() != 1 {
		t.Fatalf("Saves() = %d, want 1", store.Saves())
	}
}

func TestJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	for i, op := range []Op{OpImport, OpRename, OpDelete} {
		if err := j.Record(Entry{Op: op, EntityID: "acme", To: strings.Repeat("x", i+1)}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := ReadJournal(path, 2)
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Op != OpRename || entries[1].Op != OpDelete {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Time.IsZero() {
		t.Fatal("entry time not set")
	}

	var nilJournal *Journal
	if err := nilJournal.Record(Entry{Op: OpImport}); err != nil {
		t.Fatalf("nil journal Record() error = %v", err)
	}
}
