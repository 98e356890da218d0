package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glass-erp/deleteflow/pkg/api"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	return problem
}

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, 400, problem.Status)
	assert.Equal(t, "Bad Request", problem.Title)
	assert.Equal(t, "field is missing", problem.Detail)
	assert.Equal(t, api.ProblemTypeBase+"400", problem.Type)
}

func TestWriteErrorR_RequestContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodDelete, "/daily-works/42", nil)
	w := httptest.NewRecorder()
	w.Header().Set(api.RequestIDHeader, "req-9")

	api.WriteErrorR(w, r, http.StatusNotFound, "Not Found", "")

	problem := decodeProblem(t, w)
	assert.Equal(t, "/daily-works/42", problem.Instance)
	assert.Equal(t, "req-9", problem.TraceID)
	assert.Equal(t, "Not Found", problem.Error())
	assert.Equal(t, "Not Found", problem.Message())
}

func TestWriteValidation(t *testing.T) {
	r := httptest.NewRequest(http.MethodDelete, "/daily-works/42", nil)
	w := httptest.NewRecorder()

	api.WriteValidation(w, r, map[string]string{"reason": "required"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	problem := decodeProblem(t, w)
	assert.Equal(t, map[string]string{"reason": "required"}, problem.Errors)
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	problem := decodeProblem(t, w)
	assert.NotContains(t, problem.Detail, "10.0.0.1", "internal error details leaked to client")
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestReadProblem(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantNil     bool
		wantMessage string
		wantErrors  map[string]string
	}{
		{
			name:        "problem json",
			contentType: "application/problem+json; charset=utf-8",
			body:        `{"type":"x","title":"Conflict","status":409,"detail":"Billed work entries cannot be deleted."}`,
			wantMessage: "Billed work entries cannot be deleted.",
		},
		{
			name:        "problem title only",
			contentType: "application/problem+json",
			body:        `{"title":"Page Expired"}`,
			wantMessage: "Page Expired",
		},
		{
			name:        "message body",
			contentType: "application/json",
			body:        `{"message":"The given data was invalid.","errors":{"reason":["The reason field is required."],"details":"Too short."}}`,
			wantMessage: "The given data was invalid.",
			wantErrors:  map[string]string{"reason": "The reason field is required.", "details": "Too short."},
		},
		{name: "empty body", contentType: "application/json", body: "", wantNil: true},
		{name: "html body", contentType: "text/html", body: "<html>oops</html>", wantNil: true},
		{name: "no message", contentType: "application/json", body: `{"ok":false}`, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := api.ReadProblem(http.StatusTeapot, tt.contentType, strings.NewReader(tt.body))
			if tt.wantNil {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantMessage, p.Message())
			assert.NotZero(t, p.Status)
			if tt.wantErrors != nil {
				assert.Equal(t, tt.wantErrors, p.Errors)
			}
		})
	}
}
