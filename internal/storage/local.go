package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lawn-analyzer/backend/internal/models"
)

// LocalStore implements Store using a scratch directory on the local filesystem.
// The directory is emptied when the store is created so nothing outlives a restart.
type LocalStore struct {
	mu       sync.RWMutex
	photoDir string
	photos   map[string]*models.Photo
}

// NewLocalStore creates a new LocalStore under scratchDir.
func NewLocalStore(scratchDir string) (*LocalStore, error) {
	photoDir := filepath.Join(scratchDir, "photos")
	if err := os.RemoveAll(photoDir); err != nil {
		return nil, fmt.Errorf("clearing photo directory: %w", err)
	}
	if err := os.MkdirAll(photoDir, 0755); err != nil {
		return nil, fmt.Errorf("creating photo directory: %w", err)
	}

	return &LocalStore{
		photoDir: photoDir,
		photos:   make(map[string]*models.Photo),
	}, nil
}

// Save writes a photo to the scratch directory.
func (s *LocalStore) Save(name, mimeType string, r io.Reader) (*models.Photo, error) {
	mimeType, r, err := detectMIMEType(mimeType, r)
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}

	id := uuid.New().String()
	path := filepath.Join(s.photoDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	photo := &models.Photo{
		ID:         id,
		Name:       name,
		MIMEType:   mimeType,
		Size:       size,
		UploadedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos[id] = photo

	return photo, nil
}

// Get retrieves photo metadata by ID.
func (s *LocalStore) Get(id string) (*models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	photo, ok := s.photos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return photo, nil
}

// Open returns a reader over the photo bytes.
func (s *LocalStore) Open(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	_, ok := s.photos[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	f, err := os.Open(filepath.Join(s.photoDir, id))
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

// Delete removes a photo from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.photos[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.photoDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.photos, id)
	return nil
}
