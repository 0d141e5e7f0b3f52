package objectstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process content store for tests and local
// development. It mints uuid public ids and fabricates plausible URLs and
// dimensions; objects are never mutated after upload.
type MemoryStore struct {
	baseURL string

	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "https://objects.local"
	}
	return &MemoryStore{
		baseURL: baseURL,
		objects: make(map[string][]byte),
	}
}

func (s *MemoryStore) Upload(_ context.Context, data []byte, folder string) (UploadResult, error) {
	if len(data) == 0 {
		return UploadResult{}, fmt.Errorf("upload data is empty")
	}
	if folder == "" {
		folder = "uploads"
	}

	publicID := folder + "/" + uuid.NewString()

	s.mu.Lock()
	s.objects[publicID] = append([]byte(nil), data...)
	s.mu.Unlock()

	return UploadResult{
		SecureURL: fmt.Sprintf("%s/image/upload/v1/%s.png", s.baseURL, publicID),
		PublicID:  publicID,
		Width:     1920,
		Height:    1080,
		Bytes:     int64(len(data)),
	}, nil
}

// Object returns the stored bytes for a public id, for test assertions.
func (s *MemoryStore) Object(publicID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[publicID]
	return data, ok
}

// Len reports how many objects have been stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
