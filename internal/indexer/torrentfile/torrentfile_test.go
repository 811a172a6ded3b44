package torrentfile

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func buildTorrentBytes(t *testing.T, info map[string]interface{}) []byte {
	t.Helper()
	raw := map[string]interface{}{
		"announce": "udp://tracker.example.com:80",
		"info":     info,
	}
	b, err := bencode.EncodeBytes(raw)
	require.NoError(t, err)
	return b
}

func TestInfoHashFromBytesMatchesSHA1OfInfoDict(t *testing.T) {
	info := map[string]interface{}{
		"name":         "movie.mkv",
		"length":       int64(123456),
		"piece length": int64(16384),
		"pieces":       "01234567890123456789",
	}
	body := buildTorrentBytes(t, info)

	hash, err := infoHashFromBytes(body)
	require.NoError(t, err)
	require.Len(t, hash, 40)

	infoBytes, err := bencode.EncodeBytes(info)
	require.NoError(t, err)
	want := fmt.Sprintf("%x", sha1.Sum(infoBytes))
	require.Equal(t, want, hash)
}

func TestInfoHashFromBytesMissingInfoDict(t *testing.T) {
	body, err := bencode.EncodeBytes(map[string]interface{}{"announce": "x"})
	require.NoError(t, err)

	_, err = infoHashFromBytes(body)
	require.Error(t, err)
}

func TestInfoHashFetchesOverHTTP(t *testing.T) {
	info := map[string]interface{}{"name": "movie.mkv", "length": int64(1)}
	body := buildTorrentBytes(t, info)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	hash, err := InfoHash(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Len(t, hash, 40)
}
