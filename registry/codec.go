package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

const (
	batchVersion    = 2
	batchHeaderSize = 17 // magic(4) + version(1) + nonce(8) + num_entries(4)
	batchEntryMin   = 21 // address(20) + weight_len uvarint(>=1)
)

var batchMagic = [4]byte{'D', 'A', 'O', 'B'}

// EncodeWeight encodes w as a sign-prefixed big-endian magnitude.
// Zero encodes to an empty slice; positive values are prefixed with 0x00 and
// negative values with 0x01. The magnitude is unbounded.
func EncodeWeight(w *big.Int) []byte {
	if w == nil {
		return []byte{}
	}
	switch {
	case w.Sign() > 0:
		return append([]byte{0}, w.Bytes()...)
	case w.Sign() < 0:
		return append([]byte{1}, w.Bytes()...)
	}
	return []byte{}
}

// DecodeWeight reverses EncodeWeight.
func DecodeWeight(buf []byte) (*big.Int, error) {
	w := new(big.Int)
	if len(buf) == 0 {
		return w, nil
	}

	var negative bool
	switch buf[0] {
	case 0:
	case 1:
		negative = true
	default:
		return nil, fmt.Errorf("%w: weight prefix must be 0 or 1, got %d", ErrInvalidBatchData, buf[0])
	}

	w.SetBytes(buf[1:])
	if negative {
		w.Neg(w)
	}
	return w, nil
}

// SerializeBatch encodes a nonce and an ordered member list in the canonical
// binary batch format. The output is the signing preimage for batch
// submissions and the on-disk snapshot file format.
func SerializeBatch(nonce uint64, entries []Member) ([]byte, error) {
	if uint64(len(entries)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d entries", ErrInvalidBatchData, len(entries))
	}

	var buf bytes.Buffer
	buf.Grow(batchHeaderSize + len(entries)*(batchEntryMin+16))

	buf.Write(batchMagic[:])
	buf.WriteByte(batchVersion)

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], nonce)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(entries)))
	buf.Write(scratch[:4])

	var lenBuf [binary.MaxVarintLen64]byte
	for _, entry := range entries {
		w := EncodeWeight(entry.Weight)
		buf.Write(entry.Address[:])
		n := binary.PutUvarint(lenBuf[:], uint64(len(w)))
		buf.Write(lenBuf[:n])
		buf.Write(w)
	}
	return buf.Bytes(), nil
}

// DeserializeBatch decodes bytes produced by SerializeBatch.
func DeserializeBatch(data []byte) (uint64, []Member, error) {
	if len(data) < batchHeaderSize {
		return 0, nil, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidBatchData, len(data))
	}
	if !bytes.Equal(data[:4], batchMagic[:]) {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrInvalidBatchData)
	}
	if data[4] != batchVersion {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidBatchData, data[4])
	}
	offset := 5

	nonce := binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8

	numEntries := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4

	// Every entry needs at least its fixed part.
	if numEntries > (len(data)-offset)/batchEntryMin {
		return 0, nil, fmt.Errorf("%w: %d entries do not fit in %d bytes",
			ErrInvalidBatchData, numEntries, len(data))
	}

	entries := make([]Member, numEntries)
	for i := 0; i < numEntries; i++ {
		if len(data)-offset < batchEntryMin {
			return 0, nil, fmt.Errorf("%w: entry %d truncated", ErrInvalidBatchData, i)
		}
		copy(entries[i].Address[:], data[offset:offset+AddressSize])
		offset += AddressSize

		size, n := binary.Uvarint(data[offset:])
		if n <= 0 {
			return 0, nil, fmt.Errorf("%w: entry %d bad weight length", ErrInvalidBatchData, i)
		}
		offset += n
		if uint64(len(data)-offset) < size {
			return 0, nil, fmt.Errorf("%w: entry %d weight truncated", ErrInvalidBatchData, i)
		}
		wlen := int(size)
		w, err := DecodeWeight(data[offset : offset+wlen])
		if err != nil {
			return 0, nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries[i].Weight = w
		offset += wlen
	}

	if offset != len(data) {
		return 0, nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidBatchData, len(data)-offset)
	}
	return nonce, entries, nil
}
