package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	t.Run("body", func(t *testing.T) {
		w := httptest.NewRecorder()
		JSON(w, http.StatusCreated, map[string]int{"id": 123})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"id":123}`, w.Body.String())
	})

	t.Run("no body", func(t *testing.T) {
		w := httptest.NewRecorder()
		JSON(w, http.StatusNoContent, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Zero(t, w.Body.Len())
	})

	t.Run("unencodable value", func(t *testing.T) {
		w := httptest.NewRecorder()
		JSON(w, http.StatusOK, map[string]any{"ch": make(chan int)})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ErrCodeInternalServer, resp.Error.Code)
	})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, ErrCodeNotFound, "service not found", "req-1")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorDetail{Code: ErrCodeNotFound, Message: "service not found", RequestID: "req-1"}, decodeError(t, w))
	assert.NotContains(t, w.Body.String(), "details")
}

func TestError_Defaults(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTooManyRequests, "", "slow down", "")

	got := decodeError(t, w)
	assert.Equal(t, ErrCodeTooManyRequests, got.Code)
	assert.Equal(t, "unknown", got.RequestID)
}

func TestErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorWithDetails(w, http.StatusBadRequest, ErrCodeValidationFailed, "invalid request",
		map[string]any{"field": "object_id"}, "req-2")

	got := decodeError(t, w)
	assert.Equal(t, ErrCodeValidationFailed, got.Code)
	assert.Equal(t, map[string]any{"field": "object_id"}, got.Details)
}

func TestCodeFor(t *testing.T) {
	for status, code := range map[int]string{
		http.StatusBadRequest:          ErrCodeBadRequest,
		http.StatusNotFound:            ErrCodeNotFound,
		http.StatusMethodNotAllowed:    ErrCodeMethodNotAllowed,
		http.StatusConflict:            ErrCodeConflict,
		http.StatusUnprocessableEntity: ErrCodeValidationFailed,
		http.StatusTooManyRequests:     ErrCodeTooManyRequests,
		http.StatusServiceUnavailable:  ErrCodeServiceUnavailable,
		http.StatusGatewayTimeout:      ErrCodeGatewayTimeout,
		http.StatusInternalServerError: ErrCodeInternalServer,
		http.StatusTeapot:              ErrCodeInternalServer,
	} {
		assert.Equal(t, code, CodeFor(status), "status %d", status)
	}
}

func TestDecode(t *testing.T) {
	type request struct {
		ObjectID string `json:"object_id"`
	}
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"valid", `{"object_id":"img"}`, "img", false},
		{"empty", ``, "", false},
		{"whitespace only", "  \n", "", false},
		{"unknown field", `{"object_id":"img","extra":1}`, "", true},
		{"malformed", `{"object_id":`, "", true},
		{"trailing object", `{"object_id":"a"}{"object_id":"b"}`, "a", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/snapshots", strings.NewReader(tt.body))
			var got request
			err := Decode(req, &got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if !tt.wantErr || tt.want != "" {
				assert.Equal(t, tt.want, got.ObjectID)
			}
		})
	}

	var v map[string]any
	assert.NoError(t, Decode(httptest.NewRequest(http.MethodPost, "/", nil), &v))
	assert.Nil(t, v)
}
