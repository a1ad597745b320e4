// Package cachestore implements a content-addressed key/value store
// layered over the filesystem, used both as the run cache and as the
// durable home for incremental-review state, suppression patterns, and
// learning data.
package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrMiss is returned by Get when the key has no stored document. Callers
// that want read-failure-is-a-miss semantics should treat ErrMiss and any
// other error identically and fall back.
var ErrMiss = errors.New("cachestore: miss")

// Store reads and writes JSON documents keyed by an opaque string. Writes
// to the same key are serialized by a per-key read-modify-write lock;
// reads never block on a write in progress and may observe a
// stale-but-consistent snapshot.
type Store struct {
	baseDir string

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex
}

// New creates a Store rooted at baseDir, creating the directory if
// necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		baseDir:  baseDir,
		keyLocks: make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex guarding key, creating it on first use.
func (s *Store) lockFor(key string) *sync.Mutex {
	s.keyLocksMu.Lock()
	defer s.keyLocksMu.Unlock()
	m, ok := s.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.keyLocks[key] = m
	}
	return m
}

// pathFor maps a logical key to a content-addressed filename so that keys
// containing arbitrary characters (repo slugs, PR numbers) are always
// filesystem-safe.
func (s *Store) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.baseDir, hex.EncodeToString(sum[:])+".json")
}

// Get reads the document stored under key into out. It returns ErrMiss
// (never a raw os.ErrNotExist) when there is nothing stored; callers
// tolerate missing fields in out by leaving its zero value and
// substituting defaults.
func (s *Store) Get(key string, out interface{}) error {
	raw, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrMiss
		}
		return err
	}
	if len(raw) == 0 {
		return ErrMiss
	}
	return json.Unmarshal(raw, out)
}

// Set serializes v as JSON and writes it under key, atomically via a
// temp-file-then-rename so a crash mid-write never corrupts the document.
// A write failure is returned to the caller to log; the run continues.
func (s *Store) Set(key string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	dest := s.pathFor(key)
	tmp := filepath.Join(s.baseDir, "."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Delete removes the document stored under key, if any. Missing keys are
// not an error.
func (s *Store) Delete(key string) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
