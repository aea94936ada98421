// handlers_session.go - Page session lifecycle handlers
package api

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lawn-analyzer/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEApplicationMsgpack is the content type of msgpack encoded views
const MIMEApplicationMsgpack = "application/msgpack"

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessionMgr SessionManager
}

// NewSessionHandler creates a new session handler instance
func NewSessionHandler(sessionMgr SessionManager) SessionHandler {
	return &SessionHandlerImpl{sessionMgr: sessionMgr}
}

// HandleOpenSession opens a session for a freshly loaded page
func (h *SessionHandlerImpl) HandleOpenSession(c echo.Context) error {
	view, err := h.sessionMgr.Open()
	if err != nil {
		return NewInternalError("failed to open session", err)
	}
	return c.JSON(http.StatusCreated, withPreviewURL(view))
}

// HandleGetSession returns the current view of a session, as JSON or msgpack
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	view, err := h.sessionMgr.Get(id)
	if err != nil {
		return sessionError(err, id)
	}
	view = withPreviewURL(view)

	if !wantsMsgpack(c) {
		return c.JSON(http.StatusOK, view)
	}

	data, err := encodeMsgpack(view)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
}

// HandleCloseSession discards a session and its photo
func (h *SessionHandlerImpl) HandleCloseSession(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.sessionMgr.Close(id); err != nil {
		return sessionError(err, id)
	}
	return c.NoContent(http.StatusNoContent)
}

// withPreviewURL points the page at the photo endpoint of its session
func withPreviewURL(view *models.PageView) *models.PageView {
	if view != nil && view.Photo != nil {
		// The photo ID busts the browser cache when the selection changes.
		view.PreviewURL = "/api/sessions/" + view.ID + "/photo?v=" + view.Photo.ID
	}
	return view
}

func wantsMsgpack(c echo.Context) bool {
	if c.QueryParam("format") == "msgpack" {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEApplicationMsgpack)
}

// encodeMsgpack encodes v using its json tags as msgpack keys
func encodeMsgpack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
