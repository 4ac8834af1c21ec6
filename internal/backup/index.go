package backup

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

const (
	// indexFileName is the persistent backup index inside the backup
	// directory.
	indexFileName = "backups.json"
	indexVersion  = 1
)

// indexFile is the on-disk format of backups.json.
type indexFile struct {
	Version int      `json:"version"`
	Backups []Record `json:"backups"`
}

// indexStore persists backup records across process restarts so restore and
// rollback always see original paths and checksums.
type indexStore struct {
	mu   sync.Mutex
	path string
}

func newIndexStore(path string) *indexStore {
	return &indexStore{path: path}
}

// load reads the index. A missing file is an empty index. Callers hold mu.
func (s *indexStore) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryState).
			Context("operation", "read-index").
			Context("path", s.path).
			Build()
	}

	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryState).
			Context("operation", "decode-index").
			Context("path", s.path).
			Build()
	}
	return idx.Backups, nil
}

// save writes the index atomically. Callers hold mu.
func (s *indexStore) save(recs []Record) error {
	idx := indexFile{Version: indexVersion, Backups: recs}
	err := atomicWrite(s.path, "index-*.tmp", filePermissions, func(tmp *os.File) error {
		enc := json.NewEncoder(tmp)
		enc.SetIndent("", "  ")
		return enc.Encode(idx)
	})
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryState).
			Context("operation", "write-index").
			Context("path", s.path).
			Build()
	}
	return nil
}

// append adds records to the index.
func (s *indexStore) append(recs ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}
	return s.save(append(existing, recs...))
}

// replace overwrites the whole index.
func (s *indexStore) replace(recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(recs)
}

// remove drops the given record IDs from the index.
func (s *indexStore) remove(ids map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, rec := range existing {
		if !ids[rec.ID] {
			kept = append(kept, rec)
		}
	}
	return s.save(kept)
}

// snapshot returns a copy of the current index.
func (s *indexStore) snapshot() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// List returns every indexed backup, newest first.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recs, err := m.index.snapshot()
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// Get resolves a backup record by its ID.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	recs, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i], nil
		}
	}
	return nil, errors.Newf("backup %s not found", id).
		Component("backup").
		Category(errors.CategoryNotFound).
		Context("id", id).
		Build()
}
