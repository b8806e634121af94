package directory_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundflow/receipts/modules/imports/infrastructure/directory"
)

func newClient(baseURL string, maxRetries int) *directory.HTTPClient {
	return directory.NewHTTPClient(directory.Config{
		BaseURL:       baseURL,
		APIKey:        "test-key",
		Timeout:       time.Second,
		MaxRetries:    maxRetries,
		RetryInterval: time.Millisecond,
	})
}

func TestResolve_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/members/M-1", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(directory.Profile{
			Email:       "jane@example.com",
			DisplayName: "Jane Doe",
			Tags:        []string{"receipt:2024"},
		})
	}))
	defer srv.Close()

	profile, err := newClient(srv.URL, 0).Resolve(context.Background(), "M-1")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", profile.Email)
	assert.Equal(t, "Jane Doe", profile.DisplayName)
}

func TestResolve_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 3).Resolve(context.Background(), "M-404")
	assert.ErrorIs(t, err, directory.ErrMemberNotFound)
}

func TestResolve_TransientRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(directory.Profile{Email: "ok@example.com"})
	}))
	defer srv.Close()

	profile, err := newClient(srv.URL, 3).Resolve(context.Background(), "M-1")
	require.NoError(t, err)
	assert.Equal(t, "ok@example.com", profile.Email)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolve_TransientExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 2).Resolve(context.Background(), "M-1")
	var transient *directory.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWriteTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/members/M-1/tags", r.URL.Path)
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"receipt:2025"}, body["tags"])
	}))
	defer srv.Close()

	err := newClient(srv.URL, 0).WriteTags(context.Background(), "M-1", []string{"receipt:2025"})
	require.NoError(t, err)
}

type countingClient struct {
	resolves atomic.Int32
	profile  *directory.Profile
	err      error
}

func (c *countingClient) Resolve(context.Context, string) (*directory.Profile, error) {
	c.resolves.Add(1)
	return c.profile, c.err
}

func (c *countingClient) WriteTags(context.Context, string, []string) error {
	return nil
}

func TestMemoized_CachesResolutions(t *testing.T) {
	inner := &countingClient{profile: &directory.Profile{Email: "a@b.c"}}
	memo := directory.NewMemoized(inner)

	for i := 0; i < 5; i++ {
		profile, err := memo.Resolve(context.Background(), "M-1")
		require.NoError(t, err)
		assert.Equal(t, "a@b.c", profile.Email)
	}
	assert.Equal(t, int32(1), inner.resolves.Load())
}

func TestMemoized_CachesNotFound(t *testing.T) {
	inner := &countingClient{err: directory.ErrMemberNotFound}
	memo := directory.NewMemoized(inner)

	for i := 0; i < 3; i++ {
		_, err := memo.Resolve(context.Background(), "M-404")
		assert.ErrorIs(t, err, directory.ErrMemberNotFound)
	}
	assert.Equal(t, int32(1), inner.resolves.Load())
}

func TestMemoized_DoesNotCacheTransient(t *testing.T) {
	inner := &countingClient{err: &directory.TransientError{Err: context.DeadlineExceeded}}
	memo := directory.NewMemoized(inner)

	for i := 0; i < 3; i++ {
		_, err := memo.Resolve(context.Background(), "M-1")
		assert.Error(t, err)
	}
	assert.Equal(t, int32(3), inner.resolves.Load())
}
