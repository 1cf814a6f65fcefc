package loader

import "errors"

// ErrSourceMismatch is returned in strict mode when two sources hold
// different bytes under the same chunk name.
var ErrSourceMismatch = errors.New("sources disagree on chunk contents")
