package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAddDocumentReplacesSamePath(t *testing.T) {
	e := Entity{ID: "e1"}
	first := DocumentRef{Path: "/data/acme/offer.pdf", Name: "offer.pdf"}
	if replaced := e.AddDocument(first); replaced {
		t.Fatal("first add must not report a replacement")
	}

	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.Local)
	second := DocumentRef{Path: "/data/acme/./offer.pdf", Name: "renamed", Timestamp: ts}
	if replaced := e.AddDocument(second); !replaced {
		t.Fatal("expected same path to replace the existing document")
	}
	if len(e.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(e.Documents))
	}
	if e.Documents[0].Name != "renamed" || !e.Documents[0].Timestamp.Equal(ts) {
		t.Fatalf("unexpected document after replace: %+v", e.Documents[0])
	}
}

func TestRemoveDocument(t *testing.T) {
	e := Entity{Documents: []DocumentRef{
		{Path: "/d/a.pdf"},
		{Path: "/d/b.pdf"},
		{Path: "/d/c.pdf"},
	}}
	original := e.Clone()

	doc, ok := e.RemoveDocument("/d/b.pdf")
	if !ok || doc.Path != "/d/b.pdf" {
		t.Fatalf("RemoveDocument() = %+v, %v", doc, ok)
	}
	if len(e.Documents) != 2 || e.Documents[1].Path != "/d/c.pdf" {
		t.Fatalf("unexpected documents: %+v", e.Documents)
	}
	if len(original.Documents) != 3 || original.Documents[1].Path != "/d/b.pdf" {
		t.Fatalf("clone was modified: %+v", original.Documents)
	}
	if _, ok := e.RemoveDocument("/d/missing.pdf"); ok {
		t.Fatal("expected missing document to report false")
	}
}

func TestOldestTimestamp(t *testing.T) {
	early := time.Date(2024, 1, 5, 9, 0, 0, 0, time.Local)
	late := time.Date(2024, 2, 5, 9, 0, 0, 0, time.Local)

	e := Entity{Documents: []DocumentRef{{Path: "a"}, {Path: "b", Timestamp: late}, {Path: "c", Timestamp: early}}}
	got, ok := e.OldestTimestamp()
	if !ok || !got.Equal(early) {
		t.Fatalf("OldestTimestamp() = %v, %v; want %v", got, ok, early)
	}

	if _, ok := (Entity{Documents: []DocumentRef{{Path: "a"}}}).OldestTimestamp(); ok {
		t.Fatal("expected no timestamp when none is set")
	}
}

func TestSortDocumentsNewestFirstUnsetLast(t *testing.T) {
	docs := []DocumentRef{
		{Path: "none"},
		{Path: "old", Timestamp: time.Date(2023, 1, 1, 0, 0, 0, 0, time.Local)},
		{Path: "new", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)},
	}
	SortDocuments(docs)
	got := []string{docs[0].Path, docs[1].Path, docs[2].Path}
	want := []string{"new", "old", "none"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestEntityJSONDateFormats(t *testing.T) {
	e := Entity{
		ID:        "id-1",
		Company:   "Acme",
		Position:  "Engineer",
		AppliedOn: time.Date(2024, 2, 28, 0, 0, 0, 0, time.Local),
		Status:    StatusInterview,
		Folder:    "/data/2024-03-01 Acme Engineer",
		Documents: []DocumentRef{
			{Path: "/data/2024-03-01 Acme Engineer/offer.pdf", Name: "offer.pdf", Timestamp: time.Date(2024, 3, 1, 9, 15, 0, 0, time.Local)},
			{Path: "/data/2024-03-01 Acme Engineer/notes.txt", Name: "notes.txt"},
		},
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	text := string(data)
	for _, want := range []string{`"appliedOn":"2024-02-28"`, `"timestamp":"2024-03-01T09:15:00"`, `"status":"interview"`} {
		if !strings.Contains(text, want) {
			t.Fatalf("encoded entity %s missing %s", text, want)
		}
	}
	if strings.Contains(text, "followUp") {
		t.Fatalf("unset follow-up should be omitted: %s", text)
	}

	var decoded Entity
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !decoded.Documents[0].Timestamp.Equal(e.Documents[0].Timestamp) {
		t.Fatalf("timestamp = %v, want %v", decoded.Documents[0].Timestamp, e.Documents[0].Timestamp)
	}
	if decoded.Documents[1].HasTimestamp() {
		t.Fatal("unset timestamp must stay unset")
	}
}

func TestEntityJSONIgnoresUnknownFields(t *testing.T) {
	raw := `{"id":"x","company":"Acme","position":"Dev","status":"","color":"blue",
		"documents":[{"path":"/d/a.pdf","name":"a.pdf","type":"CV"}]}`
	var e Entity
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if e.Status != StatusPending {
		t.Fatalf("missing status should default to pending, got %q", e.Status)
	}
	if len(e.Documents) != 1 || e.Documents[0].Path != "/d/a.pdf" {
		t.Fatalf("unexpected documents: %+v", e.Documents)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		entity  Entity
		wantErr bool
	}{
		{name: "valid", entity: Entity{Company: "Acme", Position: "Engineer", Status: StatusPending}},
		{name: "blank company", entity: Entity{Company: "  ", Position: "Engineer", Status: StatusPending}, wantErr: true},
		{name: "missing position", entity: Entity{Company: "Acme", Status: StatusPending}, wantErr: true},
		{name: "unknown status", entity: Entity{Company: "Acme", Position: "Engineer", Status: "hired"}, wantErr: true},
		{name: "too long", entity: Entity{Company: strings.Repeat("a", MaxFieldLength+1), Position: "x", Status: StatusPending}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entity.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	for raw, want := range map[string]Status{"pending": StatusPending, "Interview": StatusInterview, " REJECTED ": StatusRejected} {
		got, err := ParseStatus(raw)
		if err != nil || got != want {
			t.Fatalf("ParseStatus(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseStatus("hired"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
