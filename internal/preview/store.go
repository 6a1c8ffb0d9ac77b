// Package preview holds the transient, locally resolvable references to
// selected image bytes that the UI renders while a session is alive.
package preview

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownHandle is returned when a handle was never issued or has already
// been released.
var ErrUnknownHandle = errors.New("unknown or released preview handle")

// Handle identifies a live preview.
type Handle string

// Image is the content behind a preview.
type Image struct {
	MediaType string
	Data      []byte
}

// Store issues, resolves and releases preview handles. Touch marks a handle
// as still in use; stores that expire entries restart the expiry clock.
type Store interface {
	Create(ctx context.Context, img Image) (Handle, error)
	Open(ctx context.Context, h Handle) (Image, error)
	Touch(ctx context.Context, h Handle) error
	Release(ctx context.Context, h Handle) error
}

// URL returns the path a browser resolves a handle through.
func URL(h Handle) string {
	if h == "" {
		return ""
	}
	return "/previews/" + string(h)
}

func newHandle() Handle {
	return Handle(uuid.NewString())
}

// MemoryStore keeps previews in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Handle]Image
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Handle]Image)}
}

// Create stores a copy of img under a fresh handle.
func (s *MemoryStore) Create(ctx context.Context, img Image) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data := make([]byte, len(img.Data))
	copy(data, img.Data)

	h := newHandle()
	s.mu.Lock()
	s.entries[h] = Image{MediaType: img.MediaType, Data: data}
	s.mu.Unlock()
	return h, nil
}

// Open resolves a live handle.
func (s *MemoryStore) Open(ctx context.Context, h Handle) (Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.entries[h]
	if !ok {
		return Image{}, ErrUnknownHandle
	}
	return img, nil
}

// Touch reports whether h is live. Memory entries never expire.
func (s *MemoryStore) Touch(ctx context.Context, h Handle) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entries[h]; !ok {
		return ErrUnknownHandle
	}
	return nil
}

// Release drops a handle. Releasing twice yields ErrUnknownHandle.
func (s *MemoryStore) Release(ctx context.Context, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[h]; !ok {
		return ErrUnknownHandle
	}
	delete(s.entries, h)
	return nil
}

// Live reports how many handles are currently issued.
func (s *MemoryStore) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
