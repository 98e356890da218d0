// Package api — RFC 7807 Problem Detail errors and the entity-scoped
// deletion endpoint.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
)

// ProblemTypeBase prefixes the type URI of every problem.
const ProblemTypeBase = "https://glass-erp.dev/errors/"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links to the distributed trace for this request.
	TraceID string `json:"trace_id,omitempty"`
	// Errors carries per-field messages for validation failures.
	Errors map[string]string `json:"errors,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	if p.Detail == "" {
		return p.Title
	}
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// Message is the most specific human-readable text of the problem.
func (p *ProblemDetail) Message() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}

func newProblem(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("%s%d", ProblemTypeBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WriteProblem writes p as an RFC 7807 response.
func WriteProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	WriteProblem(w, newProblem(status, title, detail))
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	p := newProblem(status, title, detail)
	p.Instance = r.URL.Path
	p.TraceID = w.Header().Get("X-Request-ID")
	WriteProblem(w, p)
}

// WriteValidation writes a 422 response listing field errors.
func WriteValidation(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	p := newProblem(http.StatusUnprocessableEntity, "Unprocessable Entity", "The given data was invalid.")
	p.Instance = r.URL.Path
	p.TraceID = w.Header().Get("X-Request-ID")
	p.Errors = fields
	WriteProblem(w, p)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// StatusPageExpired is the status used when the CSRF token does not match.
const StatusPageExpired = 419

// messageBody is the plain {"message": "..."} error shape some servers use.
type messageBody struct {
	Message string         `json:"message"`
	Errors  map[string]any `json:"errors"`
	Detail  string         `json:"detail"`
	Title   string         `json:"title"`
}

// ReadProblem decodes an error response body. RFC 7807 bodies are returned
// as-is; {"message": "..."} bodies are mapped onto Detail. It returns nil
// when the body carries no usable message.
func ReadProblem(status int, contentType string, body io.Reader) *ProblemDetail {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil || len(raw) == 0 {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/problem+json" {
		var p ProblemDetail
		if err := json.Unmarshal(raw, &p); err == nil && (p.Title != "" || p.Detail != "") {
			if p.Status == 0 {
				p.Status = status
			}
			return &p
		}
	}

	var m messageBody
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	p := &ProblemDetail{Status: status, Title: m.Title, Detail: m.Detail}
	if p.Detail == "" {
		p.Detail = m.Message
	}
	if len(m.Errors) > 0 {
		p.Errors = flattenErrors(m.Errors)
	}
	if p.Title == "" && p.Detail == "" {
		return nil
	}
	return p
}

// flattenErrors accepts both {"field": "msg"} and {"field": ["msg", ...]}.
func flattenErrors(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch msg := v.(type) {
		case string:
			out[k] = msg
		case []any:
			if len(msg) > 0 {
				if s, ok := msg[0].(string); ok {
					out[k] = s
				}
			}
		}
	}
	return out
}
