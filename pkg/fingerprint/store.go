// Package fingerprint persists the per-project file→hash→artifact cache
// that lets a project indexer skip unchanged files across restarts.
package fingerprint

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRaw         = []byte("raw")
	bucketDocSymbols  = []byte("document_symbols")
)

type entry struct {
	Hash string
	Data []byte
}

// Store is a persistent file→(hash, artifact) map with two independent
// kinds — "raw" (the shallow parse result) and "document_symbols" (the
// query service's richer per-file artifact). Writes accumulate in an
// in-memory overlay and only reach disk on Save, so callers control
// exactly when a parse batch becomes durable.
type Store struct {
	db *bolt.DB

	mu         sync.Mutex
	rawOverlay map[string]entry
	docOverlay map[string]entry
	rawDeleted map[string]struct{}
	docDeleted map[string]struct{}
	rawDirty   bool
	docDirty   bool
}

// Open creates (if needed) and opens the fingerprint database under
// dir/.devsupervisor/fingerprint.db.
func Open(dir string) (*Store, error) {
	cacheDir := filepath.Join(dir, ".devsupervisor")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(cacheDir, "fingerprint.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRaw, bucketDocSymbols} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:         db,
		rawOverlay: make(map[string]entry),
		docOverlay: make(map[string]entry),
		rawDeleted: make(map[string]struct{}),
		docDeleted: make(map[string]struct{}),
	}, nil
}

// Close flushes any dirty state and closes the underlying database.
func (s *Store) Close() error {
	if err := s.Save(true); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// PutRaw stages the raw shallow-parse artifact for path under hash,
// marking the raw cache dirty. Kept in memory until Save.
func (s *Store) PutRaw(path, hash string, data any) error {
	return s.put(&s.mu, s.rawOverlay, s.rawDeleted, path, hash, data, &s.rawDirty)
}

// PutDocumentSymbols stages the rich per-file symbol artifact for path.
func (s *Store) PutDocumentSymbols(path, hash string, data any) error {
	return s.put(&s.mu, s.docOverlay, s.docDeleted, path, hash, data, &s.docDirty)
}

func (s *Store) put(mu *sync.Mutex, overlay map[string]entry, deleted map[string]struct{}, path, hash string, data any, dirty *bool) error {
	encoded, err := encode(data)
	if err != nil {
		return fmt.Errorf("encode artifact for %s: %w", path, err)
	}
	mu.Lock()
	defer mu.Unlock()
	overlay[path] = entry{Hash: hash, Data: encoded}
	delete(deleted, path)
	*dirty = true
	return nil
}

// GetRaw reports the stored hash for path and decodes its artifact into
// out, reading through the in-memory overlay first. ok is false if no
// record exists (or it has been staged for deletion).
func (s *Store) GetRaw(path string, out any) (hash string, ok bool, err error) {
	return s.get(bucketRaw, s.rawOverlay, s.rawDeleted, path, out)
}

// GetDocumentSymbols is the document_symbols-kind counterpart of GetRaw.
func (s *Store) GetDocumentSymbols(path string, out any) (hash string, ok bool, err error) {
	return s.get(bucketDocSymbols, s.docOverlay, s.docDeleted, path, out)
}

func (s *Store) get(bucket []byte, overlay map[string]entry, deleted map[string]struct{}, path string, out any) (string, bool, error) {
	s.mu.Lock()
	if _, gone := deleted[path]; gone {
		s.mu.Unlock()
		return "", false, nil
	}
	if e, found := overlay[path]; found {
		s.mu.Unlock()
		if err := decode(e.Data, out); err != nil {
			return "", false, err
		}
		return e.Hash, true, nil
	}
	s.mu.Unlock()

	var e entry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get([]byte(path))
		if raw == nil {
			return nil
		}
		found = true
		return decode(raw, &e)
	})
	if err != nil || !found {
		return "", false, err
	}
	if err := decode(e.Data, out); err != nil {
		return "", false, err
	}
	return e.Hash, true, nil
}

// DeleteRaw stages removal of path from the raw cache.
func (s *Store) DeleteRaw(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rawOverlay, path)
	s.rawDeleted[path] = struct{}{}
	s.rawDirty = true
}

// DeleteDocumentSymbols stages removal of path from the document_symbols cache.
func (s *Store) DeleteDocumentSymbols(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docOverlay, path)
	s.docDeleted[path] = struct{}{}
	s.docDirty = true
}

// Dirty reports whether either cache has staged, unsaved changes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawDirty || s.docDirty
}

// Save flushes staged writes and deletions to disk in one transaction.
// With force false, Save is a no-op unless a dirty flag is set.
func (s *Store) Save(force bool) error {
	s.mu.Lock()
	if !force && !s.rawDirty && !s.docDirty {
		s.mu.Unlock()
		return nil
	}
	rawOverlay, docOverlay := s.rawOverlay, s.docOverlay
	rawDeleted, docDeleted := s.rawDeleted, s.docDeleted
	s.rawOverlay = make(map[string]entry)
	s.docOverlay = make(map[string]entry)
	s.rawDeleted = make(map[string]struct{})
	s.docDeleted = make(map[string]struct{})
	s.rawDirty = false
	s.docDirty = false
	s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := flush(tx.Bucket(bucketRaw), rawOverlay, rawDeleted); err != nil {
			return err
		}
		return flush(tx.Bucket(bucketDocSymbols), docOverlay, docDeleted)
	})
}

func flush(b *bolt.Bucket, overlay map[string]entry, deleted map[string]struct{}) error {
	for path := range deleted {
		if err := b.Delete([]byte(path)); err != nil {
			return err
		}
	}
	for path, e := range overlay {
		encoded, err := encode(e)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(path), encoded); err != nil {
			return err
		}
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(out)
}
