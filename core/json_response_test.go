package core_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/usagegate/core"
)

func TestJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	core.Render(w, httptest.NewRequest(http.MethodGet, "/", nil), core.JSON(map[string]int64{"detections": 2}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"detections":2}`, w.Body.String())
}

func TestJSONStatus(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	core.Render(w, httptest.NewRequest(http.MethodPost, "/", nil), core.JSONStatus(http.StatusAccepted, map[string]string{"status": "queued"}))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"status":"queued"}`, w.Body.String())
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   core.ErrorBody
	}{
		{
			name:       "http error uses status text",
			err:        core.ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantBody:   core.ErrorBody{Error: "Unauthorized", Code: "unauthorized"},
		},
		{
			name:       "custom message",
			err:        core.ErrBadRequest.WithMessage("userId is required"),
			wantStatus: http.StatusBadRequest,
			wantBody:   core.ErrorBody{Error: "userId is required", Code: "bad_request"},
		},
		{
			name:       "wrapped http error",
			err:        fmt.Errorf("webhook: %w", core.ErrInvalidSignature),
			wantStatus: http.StatusBadRequest,
			wantBody:   core.ErrorBody{Error: "Bad Request", Code: "invalid_signature"},
		},
		{
			name:       "plain error hides details",
			err:        errors.New("pq: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   core.ErrorBody{Error: "Internal Server Error", Code: "internal_server_error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			core.Render(w, httptest.NewRequest(http.MethodGet, "/", nil), core.JSONError(tt.err))

			assert.Equal(t, tt.wantStatus, w.Code)
			var got core.ErrorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.wantBody, got)
		})
	}
}

func TestHTTPError(t *testing.T) {
	t.Parallel()

	err := core.NewHTTPError(http.StatusConflict, "already_subscribed")
	assert.Equal(t, "already_subscribed", err.Error())
	assert.Equal(t, "try later", err.WithMessage("try later").Error())
	assert.Empty(t, err.Message, "WithMessage must not mutate the receiver")
}
