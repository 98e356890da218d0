package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyMiddleware_ReplaysSuccess(t *testing.T) {
	calls := 0
	handler := IdempotencyMiddleware(NewIdempotencyStore(time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/daily-works/42", nil)
		req.Header.Set(IdempotencyKeyHeader, "sess-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":"42"}`, w.Body.String())
	}
	assert.Equal(t, 1, calls)

	req := httptest.NewRequest(http.MethodDelete, "/daily-works/43", nil)
	req.Header.Set(IdempotencyKeyHeader, "sess-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 2, calls, "key is scoped to the path")
}

func TestIdempotencyMiddleware_DoesNotCacheFailures(t *testing.T) {
	calls := 0
	handler := IdempotencyMiddleware(NewIdempotencyStore(time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/daily-works/42", nil)
		req.Header.Set(IdempotencyKeyHeader, "sess-1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/daily-works/42", nil))
	assert.Equal(t, 3, calls)
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store := NewIdempotencyStore(time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	store.Set(ctx, "k", CachedResponse{StatusCode: 200})
	_, ok := store.Check(ctx, "k")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = store.Check(ctx, "k")
	assert.False(t, ok)
	store.Sweep()
	assert.Empty(t, store.entries)
}

func TestPostgresIdempotencyStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store := NewPostgresIdempotencyStore(db, time.Hour)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS idempotency_keys")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.Migrate(ctx))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO idempotency_keys")).
		WithArgs("k", 200, sqlmock.AnyArg(), []byte(`{}`), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	store.Set(ctx, "k", CachedResponse{StatusCode: 200, Headers: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{}`)})

	rows := sqlmock.NewRows([]string{"status_code", "headers", "body", "cached_at"}).
		AddRow(200, []byte(`{"Content-Type":["application/json"]}`), []byte(`{}`), now.Add(-time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status_code, headers, body, cached_at FROM idempotency_keys")).
		WithArgs("k").WillReturnRows(rows)
	cached, ok := store.Check(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "application/json", cached.Headers.Get("Content-Type"))

	expired := sqlmock.NewRows([]string{"status_code", "headers", "body", "cached_at"}).
		AddRow(200, []byte(`{}`), []byte(`{}`), now.Add(-2*time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status_code")).WithArgs("old").WillReturnRows(expired)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM idempotency_keys WHERE key = $1")).
		WithArgs("old").WillReturnResult(sqlmock.NewResult(0, 1))
	_, ok = store.Check(ctx, "old")
	assert.False(t, ok)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM idempotency_keys WHERE cached_at < $1")).
		WithArgs(now.Add(-time.Hour)).WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
