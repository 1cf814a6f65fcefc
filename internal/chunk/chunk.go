// Package chunk holds immutable, integrity-checked chunk payloads and the
// process-wide cache that deduplicates them in memory.
package chunk

import (
	"errors"
	"fmt"

	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
)

// ErrContentMismatch is matched by every *ContentMismatchError.
var ErrContentMismatch = errors.New("mismatching chunk contents")

// VerifyMode selects how much of the fingerprint New recomputes.
type VerifyMode int

const (
	// VerifyFast compares only the primary half of the fingerprint. Chunk
	// names come from a trusted addressing scheme, so the weaker check is
	// enough to catch truncation and bit rot.
	VerifyFast VerifyMode = iota

	// VerifyFull recomputes and compares the whole fingerprint.
	VerifyFull
)

// String implements fmt.Stringer.
func (m VerifyMode) String() string {
	switch m {
	case VerifyFast:
		return "fast"
	case VerifyFull:
		return "full"
	default:
		return fmt.Sprintf("VerifyMode(%d)", int(m))
	}
}

// ContentMismatchError reports a payload that does not digest to the
// fingerprint it was loaded under. In VerifyFast mode only Actual.Hash[0]
// is populated.
type ContentMismatchError struct {
	Expected fingerprint.Fingerprint
	Actual   fingerprint.Fingerprint
	Len      int
}

func (e *ContentMismatchError) Error() string {
	return fmt.Sprintf("mismatching chunk contents: expected %s, got %016x%016x (len %d)",
		e.Expected, e.Actual.Hash[0], e.Actual.Hash[1], e.Len)
}

// Is makes errors.Is(err, ErrContentMismatch) hold.
func (e *ContentMismatchError) Is(target error) bool {
	return target == ErrContentMismatch
}

// Chunk is a content-addressed payload. The only way to obtain one is New,
// so every Chunk in the process has been checked against its fingerprint.
// Chunks are shared by pointer and must be treated as read-only.
type Chunk struct {
	fprint  fingerprint.Fingerprint
	payload []byte
}

// New returns a chunk for fp holding payload, or a *ContentMismatchError if
// payload does not digest to fp. New takes ownership of payload.
func New(fp fingerprint.Fingerprint, payload []byte, mode VerifyMode) (*Chunk, error) {
	switch mode {
	case VerifyFull:
		if actual := fingerprint.Of(payload); actual != fp {
			return nil, &ContentMismatchError{Expected: fp, Actual: actual, Len: len(payload)}
		}
	default:
		if actual := fingerprint.PrimaryDigest(payload); actual != fp.Hash[0] {
			return nil, &ContentMismatchError{
				Expected: fp,
				Actual:   fingerprint.Fingerprint{Hash: [2]uint64{actual, 0}},
				Len:      len(payload),
			}
		}
	}

	return &Chunk{fprint: fp, payload: payload}, nil
}

// Fingerprint returns the chunk's fingerprint.
func (c *Chunk) Fingerprint() fingerprint.Fingerprint {
	return c.fprint
}

// Payload returns the chunk's bytes. Callers must not modify them.
func (c *Chunk) Payload() []byte {
	return c.payload
}

// Len returns the payload length in bytes.
func (c *Chunk) Len() int {
	return len(c.payload)
}
