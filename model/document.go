package model

import (
	"path/filepath"
	"sort"
	"time"
)

// DocumentRef points at one file imported for an entity.
// Two refs are the same document when their paths are equal.
type DocumentRef struct {
	Path      string
	Timestamp time.Time
	Name      string
}

// HasTimestamp reports whether the sent/received moment is known.
func (d DocumentRef) HasTimestamp() bool {
	return !d.Timestamp.IsZero()
}

func (d DocumentRef) SameDocument(other DocumentRef) bool {
	return samePath(d.Path, other.Path)
}

func (d DocumentRef) FileName() string {
	if d.Path == "" {
		return d.Name
	}
	return filepath.Base(d.Path)
}

// SortDocuments orders documents newest first; documents without a timestamp go last.
func SortDocuments(docs []DocumentRef) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.HasTimestamp() != b.HasTimestamp() {
			return a.HasTimestamp()
		}
		return a.Timestamp.After(b.Timestamp)
	})
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
