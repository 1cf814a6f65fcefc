// Package testutil provides shared test utilities and mocks for chunkloader tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
)

// TempDir creates a temporary directory for testing and returns a cleanup function.
func TempDir(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "chunkloader-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	return dir, func() {
		_ = os.RemoveAll(dir)
	}
}

// TempFile creates a temporary file with the given content and returns its path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// WriteChunk stores payload in dir under its canonical chunk name and
// returns its fingerprint.
func WriteChunk(t *testing.T, dir string, payload []byte) fingerprint.Fingerprint {
	t.Helper()
	fp := fingerprint.Of(payload)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create chunk dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fingerprint.Name(fp)), payload, 0644); err != nil {
		t.Fatalf("failed to write chunk: %v", err)
	}
	return fp
}

// Response is one scripted reply from a MockBucket.
type Response struct {
	Body   []byte
	Status int
	Err    error
}

// MockBucket is an in-memory bucket. Objects answer 200; names with a
// script replay it one response per call, repeating the last one; anything
// else answers 404.
type MockBucket struct {
	BucketName string

	mu      sync.Mutex
	objects map[string][]byte
	scripts map[string][]Response
	calls   map[string]int
	total   atomic.Int32
}

// NewMockBucket creates an empty mock bucket.
func NewMockBucket(name string) *MockBucket {
	return &MockBucket{
		BucketName: name,
		objects:    make(map[string][]byte),
		scripts:    make(map[string][]Response),
		calls:      make(map[string]int),
	}
}

// Put stores payload under its canonical chunk name and returns its fingerprint.
func (m *MockBucket) Put(payload []byte) fingerprint.Fingerprint {
	fp := fingerprint.Of(payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[fingerprint.Name(fp)] = payload
	return fp
}

// Script makes GETs of name replay responses in order.
func (m *MockBucket) Script(name string, responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[name] = responses
}

// Name returns the bucket name.
func (m *MockBucket) Name() string {
	return m.BucketName
}

// GetObject implements the bucket interface.
func (m *MockBucket) GetObject(ctx context.Context, name string) ([]byte, int, error) {
	m.total.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.calls[name]
	m.calls[name] = n + 1

	if script, ok := m.scripts[name]; ok && len(script) > 0 {
		r := script[min(n, len(script)-1)]
		return r.Body, r.Status, r.Err
	}
	if data, ok := m.objects[name]; ok {
		return append([]byte(nil), data...), 200, nil
	}
	return nil, 404, nil
}

// Calls returns how many GETs were made for name.
func (m *MockBucket) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// TotalCalls returns how many GETs were made in total.
func (m *MockBucket) TotalCalls() int {
	return int(m.total.Load())
}
