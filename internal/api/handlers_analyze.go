// handlers_analyze.go - Handlers for requests sent to the AI service
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AnalysisHandlerImpl implements the AnalysisHandler interface
type AnalysisHandlerImpl struct {
	sessionMgr SessionManager
}

// NewAnalysisHandler creates a new analysis handler instance
func NewAnalysisHandler(sessionMgr SessionManager) AnalysisHandler {
	return &AnalysisHandlerImpl{sessionMgr: sessionMgr}
}

// HandleAnalyze runs the lawn analysis for the selected photo.
// AI failures are part of the outcome, not an HTTP error.
func (h *AnalysisHandlerImpl) HandleAnalyze(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	outcome, err := h.sessionMgr.Analyze(c.Request().Context(), id)
	if err != nil {
		return sessionError(err, id)
	}
	return c.JSON(http.StatusOK, outcome)
}

// HandleTest sends an ad-hoc question to the AI service
func (h *AnalysisHandlerImpl) HandleTest(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	var req testRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	outcome, err := h.sessionMgr.RunAdHocTest(c.Request().Context(), id, req.Question)
	if err != nil {
		return sessionError(err, id)
	}
	return c.JSON(http.StatusOK, outcome)
}

// Request types

// testRequest is the body of an ad-hoc API test. An empty question is sent as is.
type testRequest struct {
	Question string `json:"question"`
}
