package debridlink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/debrid"
	"github.com/beluchon/stream-fusion/internal/ratelimit"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(ClientOptions{BaseURL: baseURL, Timeout: 5 * time.Second, CacheAge: time.Hour}, "key",
		ratelimit.New(nil), debrid.NewInMemoryCache(), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestCheckAvailabilityBulkPopulatesFileNames(t *testing.T) {
	hash := "1111111111111111111111111111111111111a"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"value":{"` + hash + `":["movie.mkv","sample.mkv"]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.CheckAvailabilityBulk(context.Background(), []string{hash}, "")
	require.NoError(t, err)
	ann := result[hash]
	require.True(t, ann.Cached)
	require.Len(t, ann.Files, 2)
	require.Equal(t, "movie.mkv", ann.Files[0].FileName)
}

func TestCheckAvailabilityBulkCacheHitReturnsRememberedFiles(t *testing.T) {
	hash := "2222222222222222222222222222222222222b"
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"value":{"` + hash + `":["movie.mkv"]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.CheckAvailabilityBulk(context.Background(), []string{hash}, "")
	require.NoError(t, err)

	result, err := c.CheckAvailabilityBulk(context.Background(), []string{hash}, "")
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call should be served from the availability cache")
	require.Len(t, result[hash].Files, 1)
}

func TestCheckAvailabilityBulkRetriesOn429ThenSucceeds(t *testing.T) {
	hash := "3333333333333333333333333333333333333c"
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"value":{"` + hash + `":["movie.mkv"]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.CheckAvailabilityBulk(context.Background(), []string{hash}, "")
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.True(t, result[hash].Cached)
}

func TestCheckAvailabilityBulkNoRetryOnNon429ClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.CheckAvailabilityBulk(context.Background(), []string{"4444444444444444444444444444444444444d"}, "")
	require.NoError(t, err)
	require.Empty(t, result)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "a non-429 4xx must not be retried")
}
