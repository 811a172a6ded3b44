package jackett

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/model"
)

const torznabResponse = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <item>
      <title>Movie.2020.1080p.WEB-DL.x264-GRP</title>
      <guid>magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa</guid>
      <link>magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa</link>
      <size>1500000000</size>
      <attr name="seeders" value="42" xmlns="http://torznab.com/schemas/2015/feed"/>
    </item>
    <item>
      <title>Movie.2020.2160p.WEB-DL.x265-GRP</title>
      <guid>https://tracker.example.com/details/123</guid>
      <link>https://tracker.example.com/dl/123.torrent</link>
      <size>0</size>
      <enclosure url="https://tracker.example.com/dl/123.torrent" length="4500000000" type="application/x-bittorrent"/>
      <attr name="infohash" value="BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB" xmlns="http://torznab.com/schemas/2015/feed"/>
      <attr name="seeders" value="7" xmlns="http://torznab.com/schemas/2015/feed"/>
    </item>
    <item>
      <title>No.Usable.Link</title>
      <guid></guid>
      <link></link>
    </item>
  </channel>
</rss>`

func TestSearchParsesTorznabItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2.0/indexers/all/results/torznab/api", r.URL.Path)
		require.Equal(t, "secret", r.URL.Query().Get("apikey"))
		require.Equal(t, "movie", r.URL.Query().Get("t"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(torznabResponse))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 0, zap.NewNop())
	results, err := c.Search(context.Background(), model.MediaRequest{
		Type: model.Movie, ID: "tt1234567", Titles: []string{"Movie"}, Year: 2020,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", results[0].InfoHash)
	require.Equal(t, int64(1500000000), results[0].SizeBytes)
	require.Equal(t, 42, results[0].Seeders)
	require.NotEmpty(t, results[0].Magnet)

	require.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", results[1].InfoHash)
	require.Equal(t, "https://tracker.example.com/dl/123.torrent", results[1].TorrentFileURL)
	require.Equal(t, int64(4500000000), results[1].SizeBytes)
	require.Equal(t, 7, results[1].Seeders)
}

func TestSearchSeriesUsesTVSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tvsearch", r.URL.Query().Get("t"))
		require.Equal(t, "1", r.URL.Query().Get("season"))
		require.Equal(t, "2", r.URL.Query().Get("ep"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(torznabResponse))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 0, zap.NewNop())
	_, err := c.Search(context.Background(), model.MediaRequest{
		Type: model.SeriesEpisode, ID: "tt1234567", Titles: []string{"Show"}, Season: 1, Episode: 2,
	})
	require.NoError(t, err)
}

func TestSearchServerErrorReturnsEmptyNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 0, zap.NewNop())
	results, err := c.Search(context.Background(), model.MediaRequest{
		Type: model.Movie, ID: "tt1234567", Titles: []string{"Movie"},
	})
	require.NoError(t, err)
	require.Empty(t, results)
}
