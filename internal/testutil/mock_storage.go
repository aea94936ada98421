// mock_storage.go - Mock photo storage for testing
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lawn-analyzer/backend/internal/models"
	"github.com/lawn-analyzer/backend/internal/storage"
)

// MockStorage implements storage.Store for testing
type MockStorage struct {
	photos  map[string]*models.Photo
	data    map[string][]byte
	deleted []string
	SaveErr error
	mu      sync.RWMutex
}

// NewMockStorage creates an empty mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		photos: make(map[string]*models.Photo),
		data:   make(map[string][]byte),
	}
}

func (m *MockStorage) Save(name, mimeType string, r io.Reader) (*models.Photo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.AddPhoto(generateTestID(), name, mimeType, data), nil
}

func (m *MockStorage) Get(id string) (*models.Photo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	photo, ok := m.photos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p := *photo
	return &p, nil
}

func (m *MockStorage) Open(id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.photos[id]; !exists {
		return storage.ErrNotFound
	}
	delete(m.photos, id)
	delete(m.data, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// Test Helper Methods

// AddPhoto adds a photo directly to the mock
func (m *MockStorage) AddPhoto(id, name, mimeType string, data []byte) *models.Photo {
	m.mu.Lock()
	defer m.mu.Unlock()

	photo := &models.Photo{
		ID:         id,
		Name:       name,
		MIMEType:   mimeType,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
	}
	m.photos[id] = photo
	m.data[id] = data
	return photo
}

// PhotoCount returns the number of stored photos
func (m *MockStorage) PhotoCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.photos)
}

// Deleted returns the IDs removed so far, in order
func (m *MockStorage) Deleted() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.deleted...)
}

// generateTestID generates a simple test ID
var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
