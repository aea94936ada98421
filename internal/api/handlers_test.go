package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/lawn-analyzer/backend/internal/config"
	"github.com/lawn-analyzer/backend/internal/models"
	"github.com/lawn-analyzer/backend/internal/session"
	"github.com/lawn-analyzer/backend/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type testServer struct {
	e     *echo.Echo
	mgr   *session.Manager
	model *testutil.MockModel
	store *testutil.MockStorage
}

func newTestServer(t *testing.T, model *testutil.MockModel) *testServer {
	t.Helper()
	store := testutil.NewMockStorage()
	mgr := session.NewManager(store, model, session.Config{
		AnalysisPrompt: config.DefaultAnalysisPrompt,
		SelfTestPrompt: config.DefaultSelfTestPrompt,
	}, zerolog.Nop())
	t.Cleanup(mgr.Wait)

	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{Log: zerolog.Nop(), BodyLimit: "1M"})
	RegisterRoutes(e, NewHandlers(&Dependencies{
		SessionMgr: mgr,
		Version:    "test",
		Provider:   "mock",
		Model:      model.Name(),
		Log:        zerolog.Nop(),
	}), 0)

	return &testServer{e: e, mgr: mgr, model: model, store: store}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) openSession(t *testing.T) *models.PageView {
	t.Helper()
	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	var view models.PageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return &view
}

func photoRequest(t *testing.T, id, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, _ = part.Write(data)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/sessions/"+id+"/photo", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testutil.NewMockModel("unused"))

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "mock", body["provider"])
	assert.Equal(t, "mock-model", body["model"])
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, testutil.NewMockModel("unused"))
	view := s.openSession(t)

	assert.NotEmpty(t, view.ID)
	assert.Nil(t, view.Analysis)
	assert.False(t, view.AnalyzeEnabled)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"analysis":null`)

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+view.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeAPIError(t, rec).Code)
}

func TestGetSession_Msgpack(t *testing.T) {
	s := newTestServer(t, testutil.NewMockModel("unused"))
	view := s.openSession(t)

	tests := []struct {
		name   string
		target string
		accept string
	}{
		{name: "query parameter", target: "/api/sessions/" + view.ID + "?format=msgpack"},
		{name: "accept header", target: "/api/sessions/" + view.ID, accept: MIMEApplicationMsgpack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set(echo.HeaderAccept, tt.accept)
			}
			rec := s.do(t, req)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, MIMEApplicationMsgpack, rec.Header().Get(echo.HeaderContentType))

			var decoded map[string]interface{}
			require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &decoded))
			assert.Equal(t, view.ID, decoded["id"])
			assert.Nil(t, decoded["analysis"])
			assert.Equal(t, false, decoded["analyzeEnabled"])
		})
	}
}

func TestSelectPhoto(t *testing.T) {
	s := newTestServer(t, testutil.NewMockModel("unused"))
	view := s.openSession(t)

	rec := s.do(t, photoRequest(t, view.ID, "lawn.jpg", "image/jpeg", []byte("first")))
	require.Equal(t, http.StatusOK, rec.Code)

	var first models.PageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.NotNil(t, first.Photo)
	assert.Equal(t, "lawn.jpg", first.Photo.Name)
	assert.Equal(t, "image/jpeg", first.Photo.MIMEType)
	assert.True(t, first.AnalyzeEnabled)
	assert.Equal(t, "/api/sessions/"+view.ID+"/photo?v="+first.Photo.ID, first.PreviewURL)

	// A later selection replaces the preview.
	rec = s.do(t, photoRequest(t, view.ID, "back.png", "image/png", []byte("second")))
	require.Equal(t, http.StatusOK, rec.Code)

	var second models.PageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, "back.png", second.Photo.Name)
	assert.NotEqual(t, first.PreviewURL, second.PreviewURL)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, second.PreviewURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "second", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "back.png")
}

func TestSelectPhoto_Errors(t *testing.T) {
	s := newTestServer(t, testutil.NewMockModel("unused"))
	view := s.openSession(t)

	t.Run("missing file part", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/sessions/"+view.ID+"/photo", strings.NewReader(""))
		req.Header.Set(echo.HeaderContentType, "multipart/form-data; boundary=x")
		rec := s.do(t, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "BAD_REQUEST", decodeAPIError(t, rec).Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := s.do(t, photoRequest(t, "missing", "lawn.jpg", "image/jpeg", []byte("x")))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("no photo selected yet", func(t *testing.T) {
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID+"/photo", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		s.store.SaveErr = errors.New("disk full")
		defer func() { s.store.SaveErr = nil }()

		rec := s.do(t, photoRequest(t, view.ID, "lawn.jpg", "image/jpeg", []byte("x")))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "INTERNAL_ERROR", decodeAPIError(t, rec).Code)
	})
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name      string
		model     *testutil.MockModel
		withPhoto bool
		want      *string
		skipped   bool
		failed    bool
		calls     int
	}{
		{
			name:      "healthy lawn",
			model:     testutil.NewMockModel("Healthy Bermuda grass."),
			withPhoto: true,
			want:      strPtr("Healthy Bermuda grass."),
			calls:     1,
		},
		{
			name:      "quota exceeded",
			model:     testutil.NewFailingModel(errors.New("quota exceeded")),
			withPhoto: true,
			want:      strPtr("Error analyzing lawn: quota exceeded"),
			failed:    true,
			calls:     1,
		},
		{
			name:    "no photo selected",
			model:   testutil.NewMockModel("unused"),
			skipped: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.model)
			view := s.openSession(t)
			if tt.withPhoto {
				rec := s.do(t, photoRequest(t, view.ID, "lawn.jpg", "image/jpeg", []byte("jpeg")))
				require.Equal(t, http.StatusOK, rec.Code)
			}

			rec := s.do(t, httptest.NewRequest(http.MethodPost, "/api/sessions/"+view.ID+"/analyze", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var outcome models.AnalysisOutcome
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
			assert.Equal(t, tt.skipped, outcome.Skipped)
			assert.Equal(t, tt.failed, outcome.Failed)
			assert.Equal(t, tt.want, outcome.Analysis)
			assert.Equal(t, tt.calls, tt.model.Calls())

			got, err := s.mgr.Get(view.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Analysis)
			assert.False(t, got.Loading)
		})
	}
}

func TestAnalyze_ConflictWhileInFlight(t *testing.T) {
	model := testutil.NewMockModel("Healthy Bermuda grass.").Blocking()
	s := newTestServer(t, model)
	view := s.openSession(t)
	rec := s.do(t, photoRequest(t, view.ID, "lawn.jpg", "image/jpeg", []byte("jpeg")))
	require.Equal(t, http.StatusOK, rec.Code)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- s.do(t, httptest.NewRequest(http.MethodPost, "/api/sessions/"+view.ID+"/analyze", nil))
	}()
	<-model.Started

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID, nil))
	assert.Contains(t, rec.Body.String(), `"loading":true`)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/sessions/"+view.ID+"/analyze", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeAPIError(t, rec).Code)

	close(model.Gate)
	first := <-done
	assert.Equal(t, http.StatusOK, first.Code)
}

func TestRunTest(t *testing.T) {
	tests := []struct {
		name        string
		model       *testutil.MockModel
		body        string
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "response",
			model:       testutil.NewMockModel("I'm doing well"),
			body:        `{"question": "Hello, how are you?"}`,
			wantStatus:  http.StatusOK,
			wantMessage: "API Test Response: I'm doing well",
		},
		{
			name:        "error",
			model:       testutil.NewFailingModel(errors.New("quota exceeded")),
			body:        `{"question": "Hello"}`,
			wantStatus:  http.StatusOK,
			wantMessage: "API Test Error: quota exceeded",
		},
		{
			name:       "invalid json",
			model:      testutil.NewMockModel("unused"),
			body:       `{"question":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.model)
			view := s.openSession(t)

			req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+view.ID+"/test", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := s.do(t, req)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var outcome models.TestOutcome
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
			assert.Equal(t, tt.wantMessage, outcome.Message)

			// The ad-hoc test leaves the analysis panel alone.
			got, _ := s.mgr.Get(view.ID)
			assert.Nil(t, got.Analysis)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(zerolog.Nop(), false)
	e.POST("/limited", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewRateLimiter(1))

	first := httptest.NewRecorder()
	e.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/limited", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	e.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/limited", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "RATE_LIMITED")
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		showDetails bool
		wantStatus  int
		wantCode    string
		wantDetails string
	}{
		{name: "api error", err: NewNotFoundError("session", "abc"), wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "echo error", err: echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), wantStatus: http.StatusMethodNotAllowed, wantCode: "HTTP_ERROR"},
		{name: "unknown hidden", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "UNKNOWN_ERROR"},
		{name: "unknown shown", err: errors.New("boom"), showDetails: true, wantStatus: http.StatusInternalServerError, wantCode: "UNKNOWN_ERROR", wantDetails: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			NewErrorHandler(zerolog.Nop(), tt.showDetails)(tt.err, c)

			assert.Equal(t, tt.wantStatus, rec.Code)
			apiErr := decodeAPIError(t, rec)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantDetails, apiErr.Details)
		})
	}
}

func TestSessionError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, sessionError(session.ErrNotFound, "x").Status)
	assert.Equal(t, http.StatusConflict, sessionError(session.ErrOperationInFlight, "x").Status)
	assert.Equal(t, http.StatusInternalServerError, sessionError(io.ErrUnexpectedEOF, "x").Status)
}

func strPtr(s string) *string { return &s }
