package state

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dhcgn/apptrack/model"
)

// ErrInvalidRecords is returned when the record file does not match the schema.
var ErrInvalidRecords = errors.New("invalid record file")

// Store loads and saves the full list of entities.
type Store interface {
	Load(ctx context.Context) ([]model.Entity, error)
	Save(ctx context.Context, entities []model.Entity) error
}

type MemoryStore struct {
	mu       sync.RWMutex
	entities []model.Entity
	saves    int
	failNext error
}

func NewMemoryStore(entities ...model.Entity) *MemoryStore {
	return &MemoryStore{entities: model.CloneAll(entities)}
}

func (m *MemoryStore) Load(ctx context.Context) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.CloneAll(m.entities), nil
}

func (m *MemoryStore) Save(ctx context.Context, entities []model.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.entities = model.CloneAll(entities)
	m.saves++
	return nil
}

// FailNextSave makes the next Save return err without storing anything.
func (m *MemoryStore) FailNextSave(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Saves returns how many saves succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

//go:embed records.schema.json
var recordsSchema []byte

const schemaURL = "https://apptrack.local/records.schema.json"

// FileStore persists entities as a JSON array. Saves replace the file
// atomically so a crash leaves either the old or the new content.
type FileStore struct {
	path   string
	schema *jsonschema.Schema
	mu     sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("record file path is empty")
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, schema: schema}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(recordsSchema))
	if err != nil {
		return nil, fmt.Errorf("parse record schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add record schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile record schema: %w", err)
	}
	return schema, nil
}

func (f *FileStore) Path() string {
	return f.path
}

// Load returns the stored entities. A missing file is an empty list.
func (f *FileStore) Load(ctx context.Context) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.Entity{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []model.Entity{}, nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecords, err)
	}
	if err := f.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecords, err)
	}

	var entities []model.Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecords, err)
	}
	if entities == nil {
		entities = []model.Entity{}
	}
	return entities, nil
}

func (f *FileStore) Save(ctx context.Context, entities []model.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entities == nil {
		entities = []model.Entity{}
	}
	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}
	if err := writeFileAtomic(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write record file: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
