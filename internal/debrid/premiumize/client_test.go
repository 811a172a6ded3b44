package premiumize

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
		ratelimit.New(nil), debrid.NewInMemoryCache(), debrid.NewInMemoryCache(), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestCheckAvailabilityBulkSplitsCachedFlagAndFiles(t *testing.T) {
	hashes := []string{"1111111111111111111111111111111111111a", "2222222222222222222222222222222222222b"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"success","response":[true,false],"filename":["movie.mkv",""],"filesize":[9000,0]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.CheckAvailabilityBulk(context.Background(), hashes, "")
	require.NoError(t, err)

	require.True(t, result[hashes[0]].Cached)
	require.Len(t, result[hashes[0]].Files, 1)
	require.Equal(t, "movie.mkv", result[hashes[0]].Files[0].FileName)

	require.False(t, result[hashes[1]].Cached)
	require.Empty(t, result[hashes[1]].Files)
}

func TestCheckAvailabilityBulkErrorStatusReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"error","message":"invalid key"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.CheckAvailabilityBulk(context.Background(), []string{"1111111111111111111111111111111111111a"}, "")
	require.NoError(t, err)
	require.Nil(t, result)
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
		_, _ = w.Write([]byte(`{"status":"success","response":[true],"filename":["movie.mkv"],"filesize":[9000]}`))
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
	require.Nil(t, result)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
