package registry

import (
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAddr(seed byte) Address {
	var addr Address
	for i := range addr {
		addr[i] = seed
	}
	return addr
}

func member(seed byte, weight int64) Member {
	return Member{Address: makeAddr(seed), Weight: big.NewInt(weight)}
}

var (
	owner    = makeAddr(0xEE)
	stranger = makeAddr(0x99)
)

// storeFactories runs each test against every Store implementation.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"mem": func(t *testing.T) Store { return NewMemStore() },
		"bolt": func(t *testing.T) Store {
			t.Helper()
			s, err := OpenBoltStore(filepath.Join(t.TempDir(), "registry.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, r *Registry)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			r, err := New(factory(t), owner)
			require.NoError(t, err)
			fn(t, r)
		})
	}
}

func weights(members []Member) map[Address]int64 {
	out := make(map[Address]int64, len(members))
	for _, m := range members {
		out[m.Address] = m.Weight.Int64()
	}
	return out
}

func addresses(members []Member) []Address {
	out := make([]Address, len(members))
	for i, m := range members {
		out[i] = m.Address
	}
	return out
}

func TestNew_NilStore(t *testing.T) {
	_, err := New(nil, owner)
	assert.ErrorIs(t, err, ErrNilParam)
}

func TestNew_RecordsDeployerAsOwner(t *testing.T) {
	store := NewMemStore()
	r, err := New(store, owner)
	require.NoError(t, err)
	assert.Equal(t, owner, r.Owner())

	got, err := store.Owner()
	require.NoError(t, err)
	assert.Equal(t, owner, got)
}

func TestNew_KeepsPersistedOwner(t *testing.T) {
	store := NewMemStore()
	_, err := New(store, owner)
	require.NoError(t, err)

	r, err := New(store, stranger)
	require.NoError(t, err)
	assert.Equal(t, owner, r.Owner())
	assert.ErrorIs(t, r.RegisterMembersSnapshotBatch(stranger, []Member{member(1, 1)}), ErrUnauthorized)
}

func TestRegistry_Scenario(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		addr1, addr2 := makeAddr(0x01), makeAddr(0x02)

		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{
			{Address: addr1, Weight: big.NewInt(100)},
			{Address: addr2, Weight: big.NewInt(50)},
		}))

		w, err := r.GetDaoVoteWeight(addr1, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(100), w.Int64())

		members, err := r.GetDaoMembers(nil)
		require.NoError(t, err)
		assert.Equal(t, []Address{addr1, addr2}, addresses(members))
		assert.Equal(t, int64(100), members[0].Weight.Int64())
		assert.Equal(t, int64(50), members[1].Weight.Int64())

		err = r.RegisterMembersSnapshotBatch(stranger, []Member{{Address: addr1, Weight: big.NewInt(999)}})
		assert.ErrorIs(t, err, ErrUnauthorized)

		w, err = r.GetDaoVoteWeight(addr1, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(100), w.Int64())
	})
}

func TestRegistry_UnauthorizedLeavesStateUnchanged(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{member(1, 10), member(2, 20)}))
		before, err := r.GetDaoMembers(nil)
		require.NoError(t, err)

		err = r.RegisterMembersSnapshotBatch(stranger, []Member{member(1, 0), member(3, 30)})
		require.ErrorIs(t, err, ErrUnauthorized)

		after, err := r.GetDaoMembers(nil)
		require.NoError(t, err)
		require.Len(t, after, len(before))
		for i := range before {
			assert.True(t, before[i].Equal(after[i]), "entry %d changed", i)
		}

		w, err := r.GetDaoVoteWeight(makeAddr(3), nil)
		require.NoError(t, err)
		assert.Zero(t, w.Sign())
	})
}

func TestRegistry_LastWriteWinsWithinBatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{member(0xA, 1), member(0xA, 2)}))

		w, err := r.GetDaoVoteWeight(makeAddr(0xA), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), w.Int64())

		members, err := r.GetDaoMembers(nil)
		require.NoError(t, err)
		assert.Len(t, members, 1)
	})
}

func TestRegistry_AbsentIsZeroAndNotMaterialized(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		token := TokenID("ITHEUM-fce905")
		for _, hint := range []*TokenID{nil, &token} {
			w, err := r.GetDaoVoteWeight(makeAddr(0x42), hint)
			require.NoError(t, err)
			assert.Zero(t, w.Sign())
		}

		members, err := r.GetDaoMembers(nil)
		require.NoError(t, err)
		assert.Empty(t, members)

		n, err := r.Len()
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestRegistry_OrderPreservedOnReupsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		a, b, c := makeAddr(0xA), makeAddr(0xB), makeAddr(0xC)
		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{member(0xA, 1)}))
		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{member(0xB, 2), member(0xC, 3)}))
		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{member(0xB, 20)}))

		members, err := r.GetDaoMembers(nil)
		require.NoError(t, err)
		assert.Equal(t, []Address{a, b, c}, addresses(members))
		assert.Equal(t, int64(20), members[1].Weight.Int64())
	})
}

func TestRegistry_Idempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		batch := []Member{member(1, 5), member(2, 6), member(1, 7)}
		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, batch))
		once, err := r.GetDaoMembers(nil)
		require.NoError(t, err)

		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, batch))
		twice, err := r.GetDaoMembers(nil)
		require.NoError(t, err)

		assert.Equal(t, addresses(once), addresses(twice))
		assert.Equal(t, weights(once), weights(twice))
	})
}

func TestRegistry_RoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		batches := [][]Member{
			{member(1, 10), member(2, 20), member(3, 30)},
			{member(2, 21), member(4, 40)},
			{member(1, 11), member(4, 0)},
		}
		latest := map[Address]int64{}
		for _, b := range batches {
			require.NoError(t, r.RegisterMembersSnapshotBatch(owner, b))
			for _, m := range b {
				latest[m.Address] = m.Weight.Int64()
			}
		}

		members, err := r.GetDaoMembers(nil)
		require.NoError(t, err)
		assert.Equal(t, latest, weights(members))
	})
}

func TestRegistry_ExplicitZeroIsMaterialized(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{member(7, 0)}))

		members, err := r.GetDaoMembers(nil)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Zero(t, members[0].Weight.Sign())
	})
}

func TestRegistry_LargeAndNegativeWeights(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		huge, ok := new(big.Int).SetString("123456789012345678901234567890123456789012345678901234567890", 10)
		require.True(t, ok)

		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{
			{Address: makeAddr(1), Weight: huge},
			{Address: makeAddr(2), Weight: big.NewInt(-5)},
			{Address: makeAddr(3), Weight: nil},
		}))

		w, err := r.GetDaoVoteWeight(makeAddr(1), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, huge.Cmp(w))

		w, err = r.GetDaoVoteWeight(makeAddr(2), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(-5), w.Int64())

		w, err = r.GetDaoVoteWeight(makeAddr(3), nil)
		require.NoError(t, err)
		assert.Zero(t, w.Sign())
	})
}

func TestRegistry_ReturnedWeightsAreCopies(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		w := big.NewInt(10)
		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{{Address: makeAddr(1), Weight: w}}))
		w.SetInt64(99)

		got, err := r.GetDaoVoteWeight(makeAddr(1), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.Int64())

		got.SetInt64(1234)
		again, err := r.GetDaoVoteWeight(makeAddr(1), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(10), again.Int64())
	})
}

func TestRegistry_EmptyBatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, nil))
		assert.ErrorIs(t, r.RegisterMembersSnapshotBatch(stranger, nil), ErrUnauthorized)
	})
}

func TestRegistry_ConcurrentWritersAndReaders(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func(seed byte) {
				defer wg.Done()
				assert.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{member(seed, int64(seed))}))
			}(byte(i + 1))
			go func() {
				defer wg.Done()
				_, err := r.GetDaoMembers(nil)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		members, err := r.GetDaoMembers(nil)
		require.NoError(t, err)
		assert.Len(t, members, 8)
		for i := 1; i <= 8; i++ {
			w, err := r.GetDaoVoteWeight(makeAddr(byte(i)), nil)
			require.NoError(t, err)
			assert.Equal(t, int64(i), w.Int64())
		}
	})
}

func TestRegistry_WeightAbove2Pow1024(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		wide := new(big.Int).Lsh(big.NewInt(1), 1024)
		wide.Add(wide, big.NewInt(1))
		negWide := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(3), 4096))

		require.NoError(t, r.RegisterMembersSnapshotBatch(owner, []Member{
			{Address: makeAddr(1), Weight: wide},
			{Address: makeAddr(2), Weight: negWide},
		}))

		w, err := r.GetDaoVoteWeight(makeAddr(1), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, wide.Cmp(w))
		assert.Equal(t, 1025, w.BitLen())

		members, err := r.GetDaoMembers(nil)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, 0, negWide.Cmp(members[1].Weight))
	})
}

func TestRegistry_WithNonce(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *Registry) {
		err := r.RegisterMembersSnapshotBatchWithNonce(stranger, 10, []Member{member(1, 1)})
		assert.ErrorIs(t, err, ErrUnauthorized)

		require.NoError(t, r.RegisterMembersSnapshotBatchWithNonce(owner, 3, []Member{member(1, 1)}))

		for _, nonce := range []uint64{3, 2} {
			err := r.RegisterMembersSnapshotBatchWithNonce(owner, nonce, []Member{member(1, 9)})
			assert.ErrorIs(t, err, ErrStaleNonce)
		}

		// An empty batch still consumes its nonce.
		require.NoError(t, r.RegisterMembersSnapshotBatchWithNonce(owner, 4, nil))
		last, err := r.LastNonce()
		require.NoError(t, err)
		assert.Equal(t, uint64(4), last)

		w, err := r.GetDaoVoteWeight(makeAddr(1), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), w.Int64())
	})
}

// failingNonceStore rejects every combined write.
type failingNonceStore struct {
	*MemStore
}

func (s failingNonceStore) UpsertWithNonce([]Member, uint64) error {
	return errors.New("disk full")
}

func TestRegistry_WithNonceWriteFailure(t *testing.T) {
	store := failingNonceStore{NewMemStore()}
	r, err := New(store, owner)
	require.NoError(t, err)

	err = r.RegisterMembersSnapshotBatchWithNonce(owner, 1, []Member{member(1, 1)})
	require.Error(t, err)

	n, err := r.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	last, err := r.LastNonce()
	require.NoError(t, err)
	assert.Zero(t, last)
}

// ownerOnlyStore has no nonce record.
type ownerOnlyStore struct{ Store }

func TestRegistry_WithNonceUnsupported(t *testing.T) {
	r, err := New(ownerOnlyStore{NewMemStore()}, owner)
	require.NoError(t, err)

	err = r.RegisterMembersSnapshotBatchWithNonce(owner, 1, nil)
	assert.ErrorIs(t, err, ErrNoNonceStore)
	_, err = r.LastNonce()
	assert.ErrorIs(t, err, ErrNoNonceStore)
}
