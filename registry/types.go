// Package registry implements the owner-gated DAO membership registry: an
// ordered mapping from member addresses to arbitrary-precision voting weights.
//
// Writes go through RegisterMembersSnapshotBatch and are accepted only from the
// owner principal recorded at initialization. Reads are open to any caller.
package registry

import (
	"encoding/hex"
	"fmt"
	"math/big"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
	"github.com/bsv-blockchain/go-sdk/script"
)

// AddressSize is the length of a member address (a P2PKH public key hash).
const AddressSize = 20

// Address identifies a member: HASH160 of its compressed public key.
type Address [AddressSize]byte

// AddressFromPublicKey derives the member address of a public key.
func AddressFromPublicKey(pub *ec.PublicKey) (Address, error) {
	if pub == nil {
		return Address{}, fmt.Errorf("%w: public key", ErrNilParam)
	}
	return AddressFromHash(bsvhash.Hash160(pub.Compressed()))
}

// AddressFromHash converts a 20-byte public key hash into an Address.
func AddressFromHash(pkh []byte) (Address, error) {
	var a Address
	if len(pkh) != AddressSize {
		return a, fmt.Errorf("%w: public key hash must be %d bytes, got %d", ErrInvalidAddress, AddressSize, len(pkh))
	}
	copy(a[:], pkh)
	return a, nil
}

// ParseAddress decodes a Base58Check P2PKH address (mainnet or testnet).
func ParseAddress(s string) (Address, error) {
	addr, err := script.NewAddressFromString(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, s, err)
	}
	return AddressFromHash([]byte(addr.PublicKeyHash))
}

// Encode renders the address in Base58Check form for the given network.
func (a Address) Encode(mainnet bool) string {
	addr, err := script.NewAddressFromPublicKeyHash(a[:], mainnet)
	if err != nil {
		// A 20-byte hash always encodes.
		return hex.EncodeToString(a[:])
	}
	return addr.AddressString
}

// String renders the address as a mainnet P2PKH address.
func (a Address) String() string {
	return a.Encode(true)
}

// IsZero reports whether the address is all zero bytes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// TokenID is an opaque token identifier (e.g. "ITHEUM-fce905").
//
// Read operations accept a *TokenID hint for interface compatibility only; the
// registry holds a single namespace and never inspects it.
type TokenID string

// Member is a single (address, weight) registry entry.
type Member struct {
	Address Address
	Weight  *big.Int
}

// NewMember builds a Member, copying the weight.
func NewMember(addr Address, weight *big.Int) Member {
	return Member{Address: addr, Weight: copyWeight(weight)}
}

// Equal reports whether two members have the same address and weight.
func (m Member) Equal(o Member) bool {
	return m.Address == o.Address && copyWeight(m.Weight).Cmp(copyWeight(o.Weight)) == 0
}

// copyWeight returns an independent copy of w, treating nil as zero.
func copyWeight(w *big.Int) *big.Int {
	if w == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(w)
}

func copyMembers(in []Member) []Member {
	out := make([]Member, len(in))
	for i, m := range in {
		out[i] = NewMember(m.Address, m.Weight)
	}
	return out
}
