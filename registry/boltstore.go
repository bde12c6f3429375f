package registry

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	bucketMembers      = []byte("members")
	bucketMembersOrder = []byte("members_order")
	bucketMeta         = []byte("meta")

	keyOwner = []byte("owner")
	keyNonce = []byte("nonce")
)

// BoltStore persists the registry in a bbolt database.
//
// Layout:
//
//	members:       address(20) -> seq(8) || weight
//	members_order: seq(8)      -> address(20)
//	meta:          "owner" -> address(20), "nonce" -> uint64
//
// The sequence number is taken from the order bucket the first time an
// address is inserted, so iterating members_order yields first-insertion order.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface checks.
var (
	_ Store      = (*BoltStore)(nil)
	_ NonceStore = (*BoltStore)(nil)
)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("registry: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMembers, bucketMembersOrder, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// seqKey encodes a sequence number as an 8-byte big-endian key for sorted storage.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func encodeRecord(seq uint64, weight *big.Int) []byte {
	w := EncodeWeight(weight)
	rec := make([]byte, 8+len(w))
	binary.BigEndian.PutUint64(rec, seq)
	copy(rec[8:], w)
	return rec
}

func decodeRecord(rec []byte) (uint64, *big.Int, error) {
	if len(rec) < 8 {
		return 0, nil, fmt.Errorf("%w: record too short (%d bytes)", ErrCorruptRecord, len(rec))
	}
	w, err := DecodeWeight(rec[8:])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return binary.BigEndian.Uint64(rec[:8]), w, nil
}

// Owner returns the recorded owner, or ErrNoOwner.
func (s *BoltStore) Owner() (Address, error) {
	var owner Address
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyOwner)
		if v == nil {
			return ErrNoOwner
		}
		if len(v) != AddressSize {
			return fmt.Errorf("%w: owner record is %d bytes", ErrCorruptRecord, len(v))
		}
		copy(owner[:], v)
		return nil
	})
	return owner, err
}

// SetOwner records the owner principal.
func (s *BoltStore) SetOwner(owner Address) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketMeta).Put(keyOwner, owner[:]); err != nil {
			return fmt.Errorf("boltstore: put owner: %w", err)
		}
		return nil
	})
}

// Get returns the stored weight for addr.
func (s *BoltStore) Get(addr Address) (*big.Int, bool, error) {
	var (
		weight *big.Int
		found  bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec := tx.Bucket(bucketMembers).Get(addr[:])
		if rec == nil {
			return nil
		}
		_, w, err := decodeRecord(rec)
		if err != nil {
			return fmt.Errorf("boltstore: decode member %s: %w", addr, err)
		}
		weight, found = w, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return weight, found, nil
}

// Upsert applies entries in order within a single write transaction.
func (s *BoltStore) Upsert(entries []Member) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return upsertTx(tx, entries)
	})
}

// UpsertWithNonce applies entries and records nonce in one write transaction.
func (s *BoltStore) UpsertWithNonce(entries []Member, nonce uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := upsertTx(tx, entries); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMeta).Put(keyNonce, seqKey(nonce)); err != nil {
			return fmt.Errorf("boltstore: put nonce: %w", err)
		}
		return nil
	})
}

func upsertTx(tx *bbolt.Tx, entries []Member) error {
	mb := tx.Bucket(bucketMembers)
	ob := tx.Bucket(bucketMembersOrder)

	for _, e := range entries {
		var seq uint64
		if rec := mb.Get(e.Address[:]); rec != nil {
			existing, _, err := decodeRecord(rec)
			if err != nil {
				return fmt.Errorf("boltstore: decode member %s: %w", e.Address, err)
			}
			seq = existing
		} else {
			next, err := ob.NextSequence()
			if err != nil {
				return fmt.Errorf("boltstore: next sequence: %w", err)
			}
			seq = next
			if err := ob.Put(seqKey(seq), e.Address[:]); err != nil {
				return fmt.Errorf("boltstore: put member order: %w", err)
			}
		}

		if err := mb.Put(e.Address[:], encodeRecord(seq, e.Weight)); err != nil {
			return fmt.Errorf("boltstore: put member: %w", err)
		}
	}
	return nil
}

// Members returns every entry in first-insertion order.
func (s *BoltStore) Members() ([]Member, error) {
	var members []Member
	err := s.db.View(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(bucketMembers)
		c := tx.Bucket(bucketMembersOrder).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			addr, err := AddressFromHash(v)
			if err != nil {
				return fmt.Errorf("%w: order entry: %w", ErrCorruptRecord, err)
			}
			rec := mb.Get(addr[:])
			if rec == nil {
				return fmt.Errorf("%w: member %s missing for order entry", ErrCorruptRecord, addr)
			}
			_, w, err := decodeRecord(rec)
			if err != nil {
				return fmt.Errorf("boltstore: decode member %s: %w", addr, err)
			}
			members = append(members, Member{Address: addr, Weight: w})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list members: %w", err)
	}
	return members, nil
}

// Len returns the number of entries.
func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketMembers).Stats().KeyN
		return nil
	})
	return n, err
}

// LastNonce returns the highest accepted batch nonce, or 0 if none.
func (s *BoltStore) LastNonce() (uint64, error) {
	var nonce uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyNonce)
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return fmt.Errorf("%w: nonce record is %d bytes", ErrCorruptRecord, len(v))
		}
		nonce = binary.BigEndian.Uint64(v)
		return nil
	})
	return nonce, err
}

