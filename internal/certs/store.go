package certs

import (
	"crypto/rsa"
	"maps"
	"sync"
	"time"
)

// VerificationKey is an RSA public key taken from a provider certificate.
// Values are never modified after construction and are shared between sets.
type VerificationKey struct {
	KeyID     string
	PublicKey *rsa.PublicKey
	NotAfter  time.Time
}

// Set is a complete certificate set as returned by one fetch.
type Set struct {
	Keys      map[string]*VerificationKey
	ExpiresAt time.Time
}

// Lookup returns the key registered under kid.
func (s Set) Lookup(kid string) (*VerificationKey, bool) {
	key, ok := s.Keys[kid]
	return key, ok
}

// Store holds the current Set. One Store is shared by every call in the
// process. Readers run concurrently; Replace excludes them only for the swap.
type Store struct {
	mu  sync.RWMutex
	set Set
}

// NewStore returns an empty store that is already expired, so the first
// reader triggers a fetch.
func NewStore() *Store {
	return newStoreAt(time.Now())
}

func newStoreAt(now time.Time) *Store {
	return &Store{
		set: Set{
			Keys:      map[string]*VerificationKey{},
			ExpiresAt: now.Add(-time.Second),
		},
	}
}

// Snapshot returns a copy of the current set. The map is copied so callers may
// keep it after a later Replace.
func (s *Store) Snapshot() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Set{
		Keys:      maps.Clone(s.set.Keys),
		ExpiresAt: s.set.ExpiresAt,
	}
}

// IsExpired reports whether now is at or past the set expiry.
func (s *Store) IsExpired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return !now.Before(s.set.ExpiresAt)
}

// ExpiresAt returns the expiry of the current set.
func (s *Store) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.set.ExpiresAt
}

// Replace installs set as the current set.
func (s *Store) Replace(set Set) {
	if set.Keys == nil {
		set.Keys = map[string]*VerificationKey{}
	}

	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
}
