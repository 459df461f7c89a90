package appstate

import (
	"sync"
	"time"

	"epdash/internal/model"
)

// entry pairs a user's data with its precomputed fingerprint so readers on
// the request path never hash under the lock.
type entry struct {
	data        model.UserAppData
	fingerprint string
}

// Store is the shared per-user data registry. Writers (the refresh
// coordinator) replace entries wholesale; readers (render cache, request
// path) take the shared lock only for the map access, never across I/O.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Replace swaps in a complete new snapshot for the user and returns its
// fingerprint. The single-assignment swap is what makes torn reads
// impossible: a reader observes either the old snapshot or the new one.
func (s *Store) Replace(userID string, data model.UserAppData) string {
	fp := data.Fingerprint()
	s.mu.Lock()
	s.entries[userID] = entry{data: data, fingerprint: fp}
	s.mu.Unlock()
	return fp
}

// Get returns the user's current snapshot and its fingerprint.
func (s *Store) Get(userID string) (model.UserAppData, string, bool) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	return e.data, e.fingerprint, ok
}

// Fingerprint returns just the current fingerprint for the user.
func (s *Store) Fingerprint(userID string) (string, bool) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	return e.fingerprint, ok
}

// FetchedAt reports when the user's snapshot was produced.
func (s *Store) FetchedAt(userID string) (time.Time, bool) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	return e.data.FetchedAt, ok
}
