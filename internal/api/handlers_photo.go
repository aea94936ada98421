// handlers_photo.go - Photo selection and preview handlers
package api

import (
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"
)

// PhotoHandlerImpl implements the PhotoHandler interface
type PhotoHandlerImpl struct {
	sessionMgr SessionManager
}

// NewPhotoHandler creates a new photo handler instance
func NewPhotoHandler(sessionMgr SessionManager) PhotoHandler {
	return &PhotoHandlerImpl{sessionMgr: sessionMgr}
}

// HandleSelectPhoto replaces the selected photo with the multipart "file" part
func (h *PhotoHandlerImpl) HandleSelectPhoto(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	// Get file from form
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	view, err := h.sessionMgr.SelectFile(id, file.Filename, file.Header.Get(echo.HeaderContentType), src)
	if err != nil {
		return sessionError(err, id)
	}
	return c.JSON(http.StatusOK, withPreviewURL(view))
}

// HandleGetPhoto streams the selected photo for the page preview
func (h *PhotoHandlerImpl) HandleGetPhoto(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	photo, rc, err := h.sessionMgr.Photo(id)
	if err != nil {
		return sessionError(err, id)
	}
	defer rc.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("inline", map[string]string{"filename": photo.Name}))
	header.Set("Cache-Control", "private, max-age=3600")
	return c.Stream(http.StatusOK, photo.MIMEType, rc)
}
