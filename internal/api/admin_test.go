package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/contentguard/internal/ban"
)

type fakeSuspensions struct {
	suspended map[string]ban.Suspension
	offenses  map[string]int
	err       error
}

func (f *fakeSuspensions) IsSuspended(_ context.Context, author string) (ban.Suspension, error) {
	return f.suspended[author], f.err
}

func (f *fakeSuspensions) OffenseCount(_ context.Context, author string) (int, error) {
	return f.offenses[author], f.err
}

func (f *fakeSuspensions) Lift(_ context.Context, author string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.suspended, author)
	return nil
}

type historyFunc func(ctx context.Context, author string, window time.Duration) (int, error)

func (f historyFunc) CountFlagged(ctx context.Context, author string, window time.Duration) (int, error) {
	return f(ctx, author, window)
}

func adminDo(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdmin_AuthorStatusAndLift(t *testing.T) {
	store := &fakeSuspensions{
		suspended: map[string]ban.Suspension{"a1": {Suspended: true, Remaining: 15 * time.Minute, Reason: "hate"}},
		offenses:  map[string]int{"a1": 1},
	}
	var window time.Duration
	r := NewRouter(Options{
		AdminToken:  "s3cret",
		Suspensions: store,
		History: historyFunc(func(_ context.Context, _ string, w time.Duration) (int, error) {
			window = w
			return 3, nil
		}),
	})

	w := adminDo(r, http.MethodGet, "/admin/authors/a1", "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"author_id":"a1","suspended":true,"reason":"hate","remaining_seconds":900,"offenses":1,"flagged_24h":3}`, w.Body.String())
	assert.Equal(t, FlagWindow, window)

	w = adminDo(r, http.MethodDelete, "/admin/authors/a1/suspension", "s3cret")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = adminDo(r, http.MethodGet, "/admin/authors/a1", "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	var status AuthorStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Suspended)
	assert.Equal(t, 1, status.Offenses, "lifting keeps the offense count")
}

func TestAdmin_RequiresToken(t *testing.T) {
	r := NewRouter(Options{AdminToken: "s3cret", Suspensions: &fakeSuspensions{}})

	assert.Equal(t, http.StatusUnauthorized, adminDo(r, http.MethodGet, "/admin/authors/a1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, adminDo(r, http.MethodDelete, "/admin/authors/a1/suspension", "wrong").Code)

	// Without a token the routes are not mounted at all.
	open := NewRouter(Options{Suspensions: &fakeSuspensions{}})
	assert.Equal(t, http.StatusNotFound, adminDo(open, http.MethodGet, "/admin/authors/a1", "").Code)
}

func TestAdmin_StoreErrors(t *testing.T) {
	r := NewRouter(Options{
		AdminToken:  "s3cret",
		Suspensions: &fakeSuspensions{offenses: map[string]int{"a1": 2}},
		History: historyFunc(func(context.Context, string, time.Duration) (int, error) {
			return 0, errors.New("db down")
		}),
	})
	w := adminDo(r, http.MethodGet, "/admin/authors/a1", "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "flagged_24h", "history errors omit the count")

	broken := NewRouter(Options{AdminToken: "s3cret", Suspensions: &fakeSuspensions{err: errors.New("redis down")}})
	assert.Equal(t, http.StatusBadGateway, adminDo(broken, http.MethodGet, "/admin/authors/a1", "s3cret").Code)
	assert.Equal(t, http.StatusBadGateway, adminDo(broken, http.MethodDelete, "/admin/authors/a1/suspension", "s3cret").Code)
}
