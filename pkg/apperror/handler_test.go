package apperror

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHandler(t *testing.T, method string, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorHandler(slog.Default())(err, c)

	if method == http.MethodHead {
		return rec, nil
	}
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp["error"].(map[string]any)
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	rec, errObj := runHandler(t, http.MethodPost, fmt.Errorf("trigger: %w", ErrConflict))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errObj["code"])
	assert.Equal(t, "A run is already in progress", errObj["message"])
}

func TestHTTPErrorHandler_EchoError(t *testing.T) {
	tests := []struct {
		status   int
		wantCode string
	}{
		{http.StatusNotFound, "not_found"},
		{http.StatusBadRequest, "bad_request"},
		{http.StatusMethodNotAllowed, "method_not_allowed"},
		{http.StatusUnprocessableEntity, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec, errObj := runHandler(t, http.MethodGet, echo.NewHTTPError(tt.status, "test message"))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, errObj["code"])
			assert.Equal(t, "test message", errObj["message"])
		})
	}
}

func TestHTTPErrorHandler_UnknownError(t *testing.T) {
	rec, errObj := runHandler(t, http.MethodGet, fmt.Errorf("plain failure"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", errObj["code"])
}

func TestHTTPErrorHandler_Head(t *testing.T) {
	rec, _ := runHandler(t, http.MethodHead, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
}
