package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// CSRFHeader is the anti-forgery header checked on destructive requests.
const CSRFHeader = "X-CSRF-TOKEN"

// ErrEntryNotFound is returned by an EntryStore for unknown ids.
var ErrEntryNotFound = errors.New("work entry not found")

// EntryStore holds the daily-work entries exposed by the demo server.
type EntryStore interface {
	Get(ctx context.Context, id string) (contracts.WorkEntry, error)
	Delete(ctx context.Context, id string) error
}

// MemoryEntries is an in-process EntryStore.
type MemoryEntries struct {
	mu      sync.Mutex
	entries map[string]contracts.WorkEntry
}

// NewMemoryEntries seeds a store with entries.
func NewMemoryEntries(entries ...contracts.WorkEntry) *MemoryEntries {
	m := &MemoryEntries{entries: make(map[string]contracts.WorkEntry, len(entries))}
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return m
}

// Get returns the entry with id.
func (m *MemoryEntries) Get(_ context.Context, id string) (contracts.WorkEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return contracts.WorkEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return e, nil
}

// Delete removes the entry with id.
func (m *MemoryEntries) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	delete(m.entries, id)
	return nil
}

// Len returns the number of entries left.
func (m *MemoryEntries) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// TokenVerifier checks the bearer token of a request.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) error
}

// ServerOptions configures the demo deletion server.
type ServerOptions struct {
	CSRFToken     string
	Entries       EntryStore
	Sessions      TokenVerifier
	Idempotency   IdempotencyStorer
	RatePerSecond float64
	Burst         int
}

// DeleteResponse is the success body of DELETE /daily-works/{id}.
type DeleteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// Server exposes the entity-scoped deletion endpoint.
type Server struct {
	opts    ServerOptions
	limiter *GlobalRateLimiter
	logger  *slog.Logger
}

// NewServer creates the demo server.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.CSRFToken == "" {
		return nil, errors.New("api: csrf token is required")
	}
	if opts.Entries == nil {
		opts.Entries = NewMemoryEntries()
	}
	s := &Server{
		opts:   opts,
		logger: slog.Default().With("component", "api"),
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = NewGlobalRateLimiter(opts.RatePerSecond, burst)
	}
	return s, nil
}

// Limiter returns the per-IP limiter, or nil when rate limiting is off.
func (s *Server) Limiter() *GlobalRateLimiter {
	return s.limiter
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /daily-works/{id}", s.handlePage)

	var del http.Handler = http.HandlerFunc(s.handleDelete)
	if s.opts.Idempotency != nil {
		del = IdempotencyMiddleware(s.opts.Idempotency)(del)
	}
	mux.Handle("DELETE /daily-works/{id}", del)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = RequestID(h)
	return otelhttp.NewHandler(h, "deleteflow.api")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="csrf-token" content="{{.Token}}">
<title>Daily work {{.ID}}</title>
</head>
<body><main data-entry="{{.ID}}"></main></body>
</html>
`))

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.opts.Entries.Get(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = pageTemplate.Execute(w, struct{ ID, Token string }{id, s.opts.CSRFToken})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	got := r.Header.Get(CSRFHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.CSRFToken)) != 1 {
		WriteErrorR(w, r, StatusPageExpired, "Page Expired", "The page has expired. Reload it and try again.")
		return
	}

	if s.opts.Sessions != nil {
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if err := s.opts.Sessions.Verify(r.Context(), token); err != nil {
			WriteErrorR(w, r, http.StatusUnauthorized, "Unauthorized", "Your session has expired. Sign in again.")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var payload contracts.DeletionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	if fields := payload.Validate(); fields != nil {
		WriteValidation(w, r, fields)
		return
	}
	if payload.EntityID != id {
		WriteValidation(w, r, map[string]string{"entityId": "The entity id does not match the request path."})
		return
	}

	entry, err := s.opts.Entries.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if msg := deletionConflict(entry); msg != "" {
		WriteErrorR(w, r, http.StatusConflict, "Conflict", msg)
		return
	}
	if err := s.opts.Entries.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	s.logger.Info("work entry deleted",
		"entry_id", id,
		"reason", payload.Reason,
		"session_id", payload.SessionID,
		"attempt", payload.SecurityContext.RecentAttempts,
	)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(DeleteResponse{Message: "Daily work entry deleted.", ID: id})
}

// deletionConflict re-checks the entry state the client cannot be trusted with.
func deletionConflict(e contracts.WorkEntry) string {
	switch {
	case e.Status == contracts.WorkStatusBilled:
		return "Billed work entries cannot be deleted."
	case e.Status == contracts.WorkStatusApproved && !e.HasOverride:
		return "Approved work entries require an override before deletion."
	case e.ProjectPhase == contracts.PhaseCompleted:
		return "Work entries of completed projects cannot be deleted."
	}
	return ""
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrEntryNotFound) {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "The work entry does not exist.")
		return
	}
	WriteInternal(w, err)
}
