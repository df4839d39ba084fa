package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the stage an application has reached.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRejected  Status = "rejected"
	StatusInterview Status = "interview"
)

// Statuses lists every known status in display order.
var Statuses = []Status{StatusPending, StatusRejected, StatusInterview}

// Label returns the human readable name of the status.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRejected:
		return "Rejected"
	case StatusInterview:
		return "Interview"
	default:
		return string(s)
	}
}

// Responded reports whether the company answered the application.
func (s Status) Responded() bool {
	return s == StatusRejected || s == StatusInterview
}

// ParseStatus accepts a status value or its label, case-insensitively.
func ParseStatus(raw string) (Status, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, s := range Statuses {
		if raw == string(s) || raw == strings.ToLower(s.Label()) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Entity is one tracked job application together with its document folder.
type Entity struct {
	ID        string
	Company   string
	Position  string
	AppliedOn time.Time
	Status    Status
	Folder    string
	Documents []DocumentRef
	Notes     string
	FollowUp  time.Time
}

// Label identifies the entity in logs and listings.
func (e Entity) Label() string {
	return strings.TrimSpace(e.Company) + " - " + strings.TrimSpace(e.Position)
}

func (e Entity) HasFolder() bool {
	return strings.TrimSpace(e.Folder) != ""
}

// Clone returns a copy that shares no document slice with e.
func (e Entity) Clone() Entity {
	if e.Documents != nil {
		docs := make([]DocumentRef, len(e.Documents))
		copy(docs, e.Documents)
		e.Documents = docs
	}
	return e
}

// Document returns the document stored at path.
func (e Entity) Document(path string) (DocumentRef, bool) {
	for _, doc := range e.Documents {
		if samePath(doc.Path, path) {
			return doc, true
		}
	}
	return DocumentRef{}, false
}

// AddDocument appends doc, replacing an existing entry with the same path.
// It reports whether an entry was replaced.
func (e *Entity) AddDocument(doc DocumentRef) bool {
	for i := range e.Documents {
		if e.Documents[i].SameDocument(doc) {
			e.Documents[i] = doc
			return true
		}
	}
	e.Documents = append(e.Documents, doc)
	return false
}

// RemoveDocument drops the document stored at path.
func (e *Entity) RemoveDocument(path string) (DocumentRef, bool) {
	for i, doc := range e.Documents {
		if samePath(doc.Path, path) {
			e.Documents = append(e.Documents[:i:i], e.Documents[i+1:]...)
			return doc, true
		}
	}
	return DocumentRef{}, false
}

// OldestTimestamp returns the earliest document timestamp, if any document has one.
func (e Entity) OldestTimestamp() (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, doc := range e.Documents {
		if !doc.HasTimestamp() {
			continue
		}
		if !found || doc.Timestamp.Before(oldest) {
			oldest = doc.Timestamp
			found = true
		}
	}
	return oldest, found
}

// CloneAll deep-copies a slice of entities.
func CloneAll(entities []Entity) []Entity {
	if entities == nil {
		return nil
	}
	out := make([]Entity, len(entities))
	for i, e := range entities {
		out[i] = e.Clone()
	}
	return out
}

// SortByAppliedOn orders entities newest application first.
func SortByAppliedOn(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].AppliedOn.After(entities[j].AppliedOn)
	})
}
