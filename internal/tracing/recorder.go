// Package tracing keeps a rolling runtime trace of a long-running loader so
// slow fetches can be inspected after the fact with `go tool trace`.
package tracing

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/trace"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tunnelmesh/chunkloader/pkg/bytesize"
)

// DefaultBufferSize is the default size of the trace ring buffer.
const DefaultBufferSize = 10 * bytesize.MB

// ErrNotRunning is returned when a snapshot is requested from a stopped recorder.
var ErrNotRunning = errors.New("trace recorder not running")

// Recorder wraps a runtime/trace FlightRecorder. The zero value is stopped.
type Recorder struct {
	mu     sync.Mutex
	fr     *trace.FlightRecorder
	logger zerolog.Logger
}

// NewRecorder creates a stopped recorder.
func NewRecorder(logger zerolog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Start begins recording into a ring buffer of bufferSize bytes holding at
// least the last minAge of activity. Starting a running recorder is a no-op.
func (r *Recorder) Start(bufferSize int64, minAge time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fr != nil {
		return nil
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if minAge <= 0 {
		minAge = 30 * time.Second
	}

	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   minAge,
		MaxBytes: uint64(bufferSize),
	})
	if err := fr.Start(); err != nil {
		return fmt.Errorf("start flight recorder: %w", err)
	}
	r.fr = fr

	r.logger.Info().Str("buffer", bytesize.Format(bufferSize)).Dur("min_age", minAge).Msg("runtime tracing enabled")
	return nil
}

// Running reports whether the recorder is recording.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fr != nil
}

// Snapshot writes the buffered trace to w.
func (r *Recorder) Snapshot(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fr == nil {
		return ErrNotRunning
	}
	_, err := r.fr.WriteTo(w)
	return err
}

// Stop stops recording. It is safe to call Stop multiple times.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fr != nil {
		r.fr.Stop()
		r.fr = nil
	}
}

// ServeHTTP serves a trace snapshot as a download.
func (r *Recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !r.Running() {
		http.Error(w, ErrNotRunning.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="chunkloader.trace"`)
	if err := r.Snapshot(w); err != nil {
		r.logger.Warn().Err(err).Msg("trace snapshot failed")
	}
}
