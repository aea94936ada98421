package storage

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lawn-analyzer/backend/internal/models"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	photos map[string]*models.Photo
	data   map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		photos: make(map[string]*models.Photo),
		data:   make(map[string][]byte),
	}
}

func (s *MemoryStore) Save(name, mimeType string, r io.Reader) (*models.Photo, error) {
	mimeType, r, err := detectMIMEType(mimeType, r)
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}

	photo := &models.Photo{
		ID:         uuid.New().String(),
		Name:       name,
		MIMEType:   mimeType,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos[photo.ID] = photo
	s.data[photo.ID] = data
	return photo, nil
}

func (s *MemoryStore) Get(id string) (*models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	photo, ok := s.photos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return photo, nil
}

func (s *MemoryStore) Open(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.photos[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.photos, id)
	delete(s.data, id)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*LocalStore)(nil)
)
