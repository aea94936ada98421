// Package storage holds the bytes of selected photos for the lifetime of a page.
package storage

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/lawn-analyzer/backend/internal/models"
)

// ErrNotFound is returned for unknown photo IDs.
var ErrNotFound = errors.New("photo not found")

// Store defines the interface for photo storage.
type Store interface {
	Save(name, mimeType string, r io.Reader) (*models.Photo, error)
	Get(id string) (*models.Photo, error)
	Open(id string) (io.ReadCloser, error)
	Delete(id string) error
}

// ReadAll returns the full contents of a stored photo.
func ReadAll(s Store, id string) ([]byte, error) {
	rc, err := s.Open(id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

const sniffLen = 512

// detectMIMEType keeps a declared MIME type and sniffs the content when the
// declaration is missing or generic. The returned reader still yields every byte.
func detectMIMEType(declared string, r io.Reader) (string, io.Reader, error) {
	declared = strings.TrimSpace(strings.Split(declared, ";")[0])
	if declared != "" && declared != "application/octet-stream" {
		return declared, r, nil
	}

	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return "", nil, err
	}
	return strings.Split(http.DetectContentType(head), ";")[0], br, nil
}
