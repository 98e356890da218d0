package deleter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glass-erp/deleteflow/pkg/api"
	"github.com/glass-erp/deleteflow/pkg/contracts"
)

func payload(id string) contracts.DeletionPayload {
	return contracts.DeletionPayload{
		EntityID:                id,
		Reason:                  "duplicate_entry",
		ImpactAssessment:        map[string]bool{"project": true, "reporting": true, "financial": false, "compliance": false},
		Confirmation:            "delete work",
		AcknowledgeConsequences: true,
		SessionID:               "sess-1",
		SecurityContext:         contracts.SecurityContext{RecentAttempts: 1},
	}
}

func newClient(t *testing.T, url string, opts Options) *Client {
	t.Helper()
	opts.BaseURL = url
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestDelete_Success(t *testing.T) {
	var (
		gotMethod, gotPath, gotCSRF, gotKey string
		gotBody                             contracts.DeletionPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotCSRF = r.Header.Get(api.CSRFHeader)
		gotKey = r.Header.Get(api.IdempotencyKeyHeader)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Daily work entry deleted.","id":"42"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/", Options{CSRF: StaticToken("tok")})
	resp, err := c.Delete(context.Background(), payload("42"))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "42", resp.ID)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/daily-works/42", gotPath)
	assert.Equal(t, "tok", gotCSRF)
	assert.Equal(t, "sess-1", gotKey)
	assert.Equal(t, payload("42"), gotBody)
}

func TestDelete_NoCSRFHeaderWithoutToken(t *testing.T) {
	var present atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header[http.CanonicalHeaderKey(api.CSRFHeader)]
		present.Store(ok)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, Options{CSRF: StaticToken("")})
	resp, err := c.Delete(context.Background(), payload("42"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, present.Load())
}

func TestDelete_ServerErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantMessage string
	}{
		{"problem detail", 409, "application/problem+json", `{"title":"Conflict","status":409,"detail":"Billed work entries cannot be deleted."}`, "Billed work entries cannot be deleted."},
		{"message body", 422, "application/json", `{"message":"The given data was invalid.","errors":{"reason":["Required."]}}`, "The given data was invalid."},
		{"no body", 500, "text/plain", "", FallbackMessage},
		{"html body", 502, "text/html", "<h1>Bad gateway</h1>", FallbackMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(t, srv.URL, Options{}).Delete(context.Background(), payload("42"))

			var rerr *RequestError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.status, rerr.StatusCode)
			assert.Equal(t, tt.wantMessage, rerr.Message)
		})
	}
}

func TestDelete_FieldErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteValidation(w, r, map[string]string{"reason": "Required."})
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, Options{}).Delete(context.Background(), payload("42"))
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, map[string]string{"reason": "Required."}, rerr.FieldErrors())
}

func TestDelete_InvalidPayloadSendsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := payload("42")
	p.EntityID = ""
	_, err := newClient(t, srv.URL, Options{}).Delete(context.Background(), p)

	require.ErrorIs(t, err, ErrInvalidPayload)
	var perr *PayloadError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Fields, "entityId")
	assert.Zero(t, calls.Load())
}

func TestDelete_Cancelled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(t, srv.URL, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Delete(ctx, payload("42"))
		errc <- err
	}()

	<-started
	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not return after cancel")
	}
}

func TestDelete_TimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newClient(t, srv.URL, Options{Timeout: 50 * time.Millisecond}).Delete(context.Background(), payload("42"))

	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDelete_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url, Options{}).Delete(context.Background(), payload("42"))
	var nerr *NetworkError
	assert.ErrorAs(t, err, &nerr)
}

func TestDelete_PageExpiredInvalidatesMetaToken(t *testing.T) {
	var pageHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /page", func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
		_, _ = w.Write([]byte(`<html><head><meta name="csrf-token" content="stale"></head></html>`))
	})
	mux.HandleFunc("DELETE /daily-works/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.WriteErrorR(w, r, api.StatusPageExpired, "Page Expired", "")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewMetaTagSource(srv.URL+"/page", srv.Client())
	c := newClient(t, srv.URL, Options{CSRF: src})

	for i := 0; i < 2; i++ {
		_, err := c.Delete(context.Background(), payload("42"))
		var rerr *RequestError
		require.ErrorAs(t, err, &rerr)
		assert.True(t, rerr.CSRFExpired())
		assert.Equal(t, "Page Expired", rerr.Message)
	}
	assert.EqualValues(t, 2, pageHits.Load(), "token refetched after 419")
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	c, err := New(Options{BaseURL: "http://erp.local/", PathTemplate: "/api/works/%s"})
	require.NoError(t, err)
	assert.Equal(t, "http://erp.local/api/works/7", c.URL("7"))
	assert.Equal(t, DefaultTimeout, c.Timeout())
}

func TestExtractCSRFToken(t *testing.T) {
	tests := []struct {
		name    string
		page    string
		want    string
		wantErr error
	}{
		{"head meta", `<!DOCTYPE html><html><head><meta charset="utf-8"><meta name="csrf-token" content="abc"></head></html>`, "abc", nil},
		{"self closing upper case", `<META NAME="CSRF-TOKEN" CONTENT="xyz"/>`, "xyz", nil},
		{"attribute order", `<meta content="q1" name="csrf-token">`, "q1", nil},
		{"empty content skipped", `<meta name="csrf-token" content=""><meta name="csrf-token" content="second">`, "second", nil},
		{"missing", `<html><head><title>x</title></head></html>`, "", ErrNoCSRFToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCSRFToken(strings.NewReader(tt.page))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetaTagSource_CachesToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`<meta name="csrf-token" content="tok">`))
	}))
	defer srv.Close()

	src := NewMetaTagSource(srv.URL, nil)
	for i := 0; i < 3; i++ {
		tok, err := src.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok", tok)
	}
	assert.EqualValues(t, 1, hits.Load())

	src.Invalidate()
	_, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestMetaTagSource_PageError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewMetaTagSource(srv.URL, nil).Token(context.Background())
	assert.Error(t, err)
}
