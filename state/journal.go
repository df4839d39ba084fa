package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Op names a filesystem operation recorded in the journal.
type Op string

const (
	OpImport Op = "import"
	OpRename Op = "rename"
	OpDelete Op = "delete"
	OpRemove Op = "remove_document"
)

// Entry is one journal line.
type Entry struct {
	Time     time.Time `json:"time"`
	Op       Op        `json:"op"`
	EntityID string    `json:"entity_id"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
}

// Journal appends the filesystem operations applied to entity folders so a
// user can trace where a file went after a rename or import.
type Journal struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	writeMu sync.Mutex
	now     func() time.Time
}

func OpenJournal(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal for append: %w", err)
	}
	return &Journal{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 16*1024),
		now:    time.Now,
	}, nil
}

func (j *Journal) Record(entry Entry) error {
	if j == nil {
		return nil
	}
	if entry.Time.IsZero() {
		entry.Time = j.now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Flush writes any buffered entries to the underlying file.
func (j *Journal) Flush() error {
	if j == nil {
		return nil
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	var firstErr error
	if err := j.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync journal: %w", err)
	}
	if err := j.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close journal: %w", err)
	}
	return firstErr
}

// ReadJournal returns the last n entries of the journal at path, or all of
// them when n <= 0. A missing journal is empty.
func ReadJournal(path string, n int) ([]Entry, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(text, &entry); err != nil {
			return nil, fmt.Errorf("parse journal line %d: %w", line, err)
		}
		entries = append(entries, entry)
		if n > 0 && len(entries) > n {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}
