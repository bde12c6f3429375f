package registry

import (
	"math/big"
	"sync"
)

// Store persists the registry state: the ordered member mapping and the owner
// principal record.
type Store interface {
	// Owner returns the recorded owner, or ErrNoOwner.
	Owner() (Address, error)

	// SetOwner records the owner principal.
	SetOwner(owner Address) error

	// Get returns the stored weight for addr and whether it exists.
	Get(addr Address) (*big.Int, bool, error)

	// Upsert applies entries in order. New addresses are appended to the
	// iteration order; existing addresses keep their position.
	Upsert(entries []Member) error

	// Members returns every entry in iteration order.
	Members() ([]Member, error)

	// Len returns the number of entries.
	Len() (int, error)
}

// NonceStore records the highest batch nonce accepted by a host.
type NonceStore interface {
	LastNonce() (uint64, error)

	// UpsertWithNonce applies entries like Upsert and records nonce as the
	// last accepted one. Either both take effect or neither does.
	UpsertWithNonce(entries []Member, nonce uint64) error
}

// MemStore is an in-memory implementation of Store.
type MemStore struct {
	mu       sync.RWMutex
	index    map[Address]int
	entries  []Member
	owner    Address
	hasOwner bool
	nonce    uint64
}

// Compile-time interface checks.
var (
	_ Store      = (*MemStore)(nil)
	_ NonceStore = (*MemStore)(nil)
)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{index: make(map[Address]int)}
}

// Owner returns the recorded owner, or ErrNoOwner.
func (s *MemStore) Owner() (Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasOwner {
		return Address{}, ErrNoOwner
	}
	return s.owner, nil
}

// SetOwner records the owner principal.
func (s *MemStore) SetOwner(owner Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
	s.hasOwner = true
	return nil
}

// Get returns a copy of the stored weight for addr.
func (s *MemStore) Get(addr Address) (*big.Int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[addr]
	if !ok {
		return nil, false, nil
	}
	return copyWeight(s.entries[i].Weight), true, nil
}

// Upsert applies entries in order.
func (s *MemStore) Upsert(entries []Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(entries)
	return nil
}

func (s *MemStore) upsertLocked(entries []Member) {
	for _, e := range entries {
		if i, ok := s.index[e.Address]; ok {
			s.entries[i].Weight = copyWeight(e.Weight)
			continue
		}
		s.entries = append(s.entries, NewMember(e.Address, e.Weight))
		s.index[e.Address] = len(s.entries) - 1
	}
}

// Members returns a copy of every entry in insertion order.
func (s *MemStore) Members() ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMembers(s.entries), nil
}

// Len returns the number of entries.
func (s *MemStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// LastNonce returns the highest accepted batch nonce.
func (s *MemStore) LastNonce() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonce, nil
}

// UpsertWithNonce applies entries and records nonce under one lock.
func (s *MemStore) UpsertWithNonce(entries []Member, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(entries)
	s.nonce = nonce
	return nil
}
