// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/lawn-analyzer/backend/internal/models"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionHandler handles page session lifecycle
type SessionHandler interface {
	HandleOpenSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleCloseSession(c echo.Context) error
}

// PhotoHandler handles the selected photo of a page session
type PhotoHandler interface {
	HandleSelectPhoto(c echo.Context) error
	HandleGetPhoto(c echo.Context) error
}

// AnalysisHandler handles requests that reach the AI service
type AnalysisHandler interface {
	HandleAnalyze(c echo.Context) error
	HandleTest(c echo.Context) error
}

// EventHandler streams page session events over WebSocket
type EventHandler interface {
	HandleEvents(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Open() (*models.PageView, error)
	Get(id string) (*models.PageView, error)
	Close(id string) error
	Touch(id string) bool
	SelectFile(id, name, mimeType string, r io.Reader) (*models.PageView, error)
	Photo(id string) (*models.Photo, io.ReadCloser, error)
	Analyze(ctx context.Context, id string) (*models.AnalysisOutcome, error)
	RunAdHocTest(ctx context.Context, id, question string) (*models.TestOutcome, error)
	Subscribe(id string) (<-chan models.Event, func(), error)
}
