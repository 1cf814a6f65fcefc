// Package source reads chunk bytes by name from local cache directories and
// remote S3-compatible buckets.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local reads chunks from a directory of files named by chunk name. Files
// are write-once, so reads need no locking.
type Local struct {
	dir string
}

// NewLocal returns a source reading from dir. The directory does not have
// to exist; a missing directory has no chunks.
func NewLocal(dir string) *Local {
	return &Local{dir: dir}
}

// Dir returns the directory this source reads from.
func (l *Local) Dir() string {
	return l.dir
}

// String implements fmt.Stringer.
func (l *Local) String() string {
	return "local:" + l.dir
}

// Load returns the contents of file name. found is false when the file does
// not exist; any other failure is an ErrLocalIO error, since a broken cache
// must not look like a cache that lacks the chunk.
func (l *Local) Load(name string) (data []byte, found bool, err error) {
	path := filepath.Join(l.dir, name)

	data, err = os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrLocalIO, path, err)
	}

	return data, true, nil
}
