package chunk

import (
	"sync"

	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
	"github.com/tunnelmesh/chunkloader/pkg/bytesize"
)

// SnapshotGranularity is the size of the chunks snapshots are cut into, and
// therefore the size of the all-zero chunk that sparse files are mostly made of.
const SnapshotGranularity = 64 * bytesize.KB

type zeroFilled struct {
	fprint fingerprint.Fingerprint
	chunk  *Chunk
}

// zeroChunk is computed on first use and kept for the life of the process,
// outside the Cache, so the common sparse-file case never takes a lock.
var zeroChunk = sync.OnceValue(func() zeroFilled {
	payload := make([]byte, SnapshotGranularity)
	fp := fingerprint.Of(payload)

	c, err := New(fp, payload, VerifyFull)
	if err != nil {
		panic("chunk: zero-filled chunk does not match its own fingerprint: " + err.Error())
	}
	return zeroFilled{fprint: fp, chunk: c}
})

// ZeroFingerprint returns the fingerprint of SnapshotGranularity zero bytes.
func ZeroFingerprint() fingerprint.Fingerprint {
	return zeroChunk().fprint
}

// Zero returns the shared all-zero chunk.
func Zero() *Chunk {
	return zeroChunk().chunk
}

// IsZero reports whether fp names the all-zero chunk. The returned chunk is
// nil when it does not.
func IsZero(fp fingerprint.Fingerprint) (*Chunk, bool) {
	z := zeroChunk()
	if fp != z.fprint {
		return nil, false
	}
	return z.chunk, true
}
