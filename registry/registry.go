package registry

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// Registry is the owner-gated membership registry.
//
// All operations are serialized through the registry mutex, so a batch upsert
// never interleaves with another operation on the same instance.
type Registry struct {
	mu    sync.RWMutex
	store Store
	owner Address
}

// New initializes a registry over store. If the store has no owner recorded,
// deployer becomes the owner; otherwise the persisted owner is kept.
func New(store Store, deployer Address) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store", ErrNilParam)
	}

	owner, err := store.Owner()
	switch {
	case errors.Is(err, ErrNoOwner):
		if err := store.SetOwner(deployer); err != nil {
			return nil, fmt.Errorf("registry: record owner: %w", err)
		}
		owner = deployer
	case err != nil:
		return nil, fmt.Errorf("registry: load owner: %w", err)
	}

	return &Registry{store: store, owner: owner}, nil
}

// Owner returns the owner principal.
func (r *Registry) Owner() Address {
	return r.owner
}

// RegisterMembersSnapshotBatch upserts entries in order. Only the owner may
// call it; any other caller gets ErrUnauthorized and the registry is left
// untouched. A repeated address within entries resolves to its last weight.
func (r *Registry) RegisterMembersSnapshotBatch(caller Address, entries []Member) error {
	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	return r.store.Upsert(entries)
}

// RegisterMembersSnapshotBatchWithNonce is RegisterMembersSnapshotBatch for
// hosts that guard against replay. The caller is checked first, then nonce
// must exceed the last accepted nonce. The entries and the new nonce are
// committed together, so a failed write leaves both unchanged.
func (r *Registry) RegisterMembersSnapshotBatchWithNonce(caller Address, nonce uint64, entries []Member) error {
	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	ns, ok := r.store.(NonceStore)
	if !ok {
		return ErrNoNonceStore
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	last, err := ns.LastNonce()
	if err != nil {
		return fmt.Errorf("registry: load nonce: %w", err)
	}
	if nonce <= last {
		return fmt.Errorf("%w: %d <= %d", ErrStaleNonce, nonce, last)
	}
	return ns.UpsertWithNonce(entries, nonce)
}

// LastNonce returns the last accepted batch nonce.
func (r *Registry) LastNonce() (uint64, error) {
	ns, ok := r.store.(NonceStore)
	if !ok {
		return 0, ErrNoNonceStore
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return ns.LastNonce()
}

// GetDaoVoteWeight returns the weight stored for addr, or zero when addr is
// not a member. The token hint is ignored.
func (r *Registry) GetDaoVoteWeight(addr Address, token *TokenID) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok, err := r.store.Get(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(big.Int), nil
	}
	return w, nil
}

// GetDaoMembers returns every member in registry order. The token hint is
// ignored.
func (r *Registry) GetDaoMembers(token *TokenID) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.store.Members()
}

// Len returns the number of members.
func (r *Registry) Len() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.store.Len()
}
