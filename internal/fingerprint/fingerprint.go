// Package fingerprint computes and encodes the content fingerprints that name chunks.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Fingerprint is a 128-bit content digest. It is comparable and used directly
// as a map key. Hash[0] is the primary half (xxhash64 of the content) and can
// be recomputed on its own with PrimaryDigest; Hash[1] is the leading 64 bits
// of a keyed BLAKE3 digest.
type Fingerprint struct {
	Hash [2]uint64
}

// NameLen is the length of the canonical chunk name produced by Name.
const NameLen = 32

// secondaryKey separates chunk fingerprints from any other BLAKE3 use. The
// bytes are the ASCII domain name, zero padded. Changing it renames every chunk.
var secondaryKey = [32]byte{
	'c', 'h', 'u', 'n', 'k', 'l', 'o', 'a', 'd', 'e', 'r', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't',
}

// Of computes the full fingerprint of data.
func Of(data []byte) Fingerprint {
	hasher, err := blake3.NewKeyed(secondaryKey[:])
	if err != nil {
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)

	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))

	return Fingerprint{Hash: [2]uint64{
		PrimaryDigest(data),
		binary.LittleEndian.Uint64(sum[:8]),
	}}
}

// PrimaryDigest computes only the primary half of the fingerprint of data.
// It is a single cheap pass and is what production reads verify against.
func PrimaryDigest(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Name returns the canonical name for fp: 32 lowercase hex characters. The
// same string is used as the file name in local caches and as the object key
// in remote buckets.
func Name(fp Fingerprint) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], fp.Hash[0])
	binary.BigEndian.PutUint64(buf[8:], fp.Hash[1])
	return hex.EncodeToString(buf[:])
}

// String implements fmt.Stringer.
func (fp Fingerprint) String() string {
	return Name(fp)
}

// Parse is the inverse of Name.
func Parse(name string) (Fingerprint, error) {
	if len(name) != NameLen {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint %q: want %d hex characters, got %d", name, NameLen, len(name))
	}

	var buf [16]byte
	if _, err := hex.Decode(buf[:], []byte(name)); err != nil {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint %q: %w", name, err)
	}

	return Fingerprint{Hash: [2]uint64{
		binary.BigEndian.Uint64(buf[:8]),
		binary.BigEndian.Uint64(buf[8:]),
	}}, nil
}
