// Package auth proves the invoking principal of a batch submission.
//
// A batch is signed over SHA256d of its canonical encoding
// (registry.SerializeBatch) with the caller's secp256k1 key. The verified
// caller address is HASH160 of the signing public key, which is the identity
// the registry compares against its owner.
package auth

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"

	"github.com/bitfsorg/daoregistry-go/registry"
)

// SignedBatch is a member batch together with the caller's proof of identity.
type SignedBatch struct {
	PubKey    []byte            // Compressed secp256k1 public key (33 bytes)
	Nonce     uint64            // Strictly increasing per owner
	Entries   []registry.Member // Upserted in order
	Signature []byte            // DER-encoded ECDSA signature
}

// Digest returns the message hash a batch signature commits to.
func Digest(nonce uint64, entries []registry.Member) ([]byte, error) {
	preimage, err := registry.SerializeBatch(nonce, entries)
	if err != nil {
		return nil, err
	}
	return bsvhash.Sha256d(preimage), nil
}

// SignBatch signs entries and nonce with priv.
func SignBatch(priv *ec.PrivateKey, nonce uint64, entries []registry.Member) (*SignedBatch, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: private key", ErrNilParam)
	}
	digest, err := Digest(nonce, entries)
	if err != nil {
		return nil, err
	}
	sig, err := priv.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("auth: sign batch: %w", err)
	}
	return &SignedBatch{
		PubKey:    priv.PubKey().Compressed(),
		Nonce:     nonce,
		Entries:   entries,
		Signature: sig.Serialize(),
	}, nil
}

// Verify checks the signature and returns the caller address.
func (b *SignedBatch) Verify() (registry.Address, error) {
	if b == nil {
		return registry.Address{}, fmt.Errorf("%w: signed batch", ErrNilParam)
	}
	pub, err := ec.PublicKeyFromBytes(b.PubKey)
	if err != nil {
		return registry.Address{}, fmt.Errorf("%w: %w", ErrInvalidPubKey, err)
	}
	sig, err := ec.ParseDERSignature(b.Signature)
	if err != nil {
		return registry.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	digest, err := Digest(b.Nonce, b.Entries)
	if err != nil {
		return registry.Address{}, err
	}
	if !sig.Verify(digest, pub) {
		return registry.Address{}, ErrInvalidSignature
	}
	return registry.AddressFromPublicKey(pub)
}

// jsonSignedBatch is the wire form of SignedBatch.
type jsonSignedBatch struct {
	PubKey    string      `json:"pubkey"`
	Nonce     uint64      `json:"nonce"`
	Entries   [][2]string `json:"entries"`
	Signature string      `json:"signature"`
}

// MarshalJSON encodes keys and signatures as hex, addresses as Base58Check and
// weights as decimal strings.
func (b SignedBatch) MarshalJSON() ([]byte, error) {
	out := jsonSignedBatch{
		PubKey:    hex.EncodeToString(b.PubKey),
		Nonce:     b.Nonce,
		Entries:   make([][2]string, len(b.Entries)),
		Signature: hex.EncodeToString(b.Signature),
	}
	for i, e := range b.Entries {
		w := e.Weight
		if w == nil {
			w = new(big.Int)
		}
		out.Entries[i] = [2]string{e.Address.String(), w.String()}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (b *SignedBatch) UnmarshalJSON(data []byte) error {
	var in jsonSignedBatch
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	pub, err := hex.DecodeString(in.PubKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPubKey, err)
	}
	sig, err := hex.DecodeString(in.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	entries := make([]registry.Member, len(in.Entries))
	for i, pair := range in.Entries {
		addr, err := registry.ParseAddress(pair[0])
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		w, ok := new(big.Int).SetString(pair[1], 10)
		if !ok {
			return fmt.Errorf("entry %d: invalid weight %q", i, pair[1])
		}
		entries[i] = registry.Member{Address: addr, Weight: w}
	}
	*b = SignedBatch{PubKey: pub, Nonce: in.Nonce, Entries: entries, Signature: sig}
	return nil
}
