package htmlscrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/model"
)

func TestParseSizeUnits(t *testing.T) {
	require.Equal(t, int64(1<<30), parseSize("1 GB"))
	require.Equal(t, int64(1.5*float64(1<<30)), parseSize("1.5GiB"))
	require.Equal(t, int64(0), parseSize("garbage"))
}

func TestParseIntStripsCommas(t *testing.T) {
	require.Equal(t, 1234, parseInt("1,234"))
	require.Equal(t, 0, parseInt("n/a"))
}

const searchResultHTML = `
<html><body>
<table>
<tr class="result">
  <td><a class="title">Movie.2020.1080p</a><a href="magnet:?xt=urn:btih:1111111111111111111111111111111111111a">dl</a></td>
  <td class="size">1.5 GB</td>
  <td class="seeds">42</td>
</tr>
</table>
</body></html>`

func TestSearchParsesRowsIntoRawResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(searchResultHTML))
	}))
	defer srv.Close()

	cfg := Config{
		Name:           "test-tracker",
		BaseURL:        srv.URL,
		SearchPathTmpl: "/search/%s",
		RowSelector:    "tr.result",
		TitleSelector:  "a.title",
		MagnetSelector: "a[href^='magnet:']",
		SizeSelector:   "td.size",
		SeedSelector:   "td.seeds",
		Privacy:        model.Public,
	}
	c := New(cfg, zap.NewNop())

	results, err := c.Search(context.Background(), model.MediaRequest{Titles: []string{"Movie 2020"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Movie.2020.1080p", results[0].RawTitle)
	require.Equal(t, "1111111111111111111111111111111111111a", results[0].InfoHash)
	require.Equal(t, 42, results[0].Seeders)
	require.Equal(t, int64(1.5*float64(1<<30)), results[0].SizeBytes)
	require.Equal(t, "test-tracker", results[0].IndexerName)
}

func TestSearchReturnsNilWithoutTitles(t *testing.T) {
	c := New(Config{Name: "x"}, zap.NewNop())
	results, err := c.Search(context.Background(), model.MediaRequest{})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestNewAlwaysCarriesCookieJar(t *testing.T) {
	c := New(Config{Name: "t", BaseURL: "https://example.com", SearchPathTmpl: "/%s"}, zap.NewNop())
	require.NotNil(t, c.httpClient.Jar)
	require.Nil(t, c.httpClient.Transport)
}

func TestNewWithSOCKS5ProxySetsTransport(t *testing.T) {
	c := New(Config{
		Name:            "t",
		BaseURL:         "https://example.com",
		SearchPathTmpl:  "/%s",
		SOCKS5ProxyAddr: "127.0.0.1:9050",
	}, zap.NewNop())
	require.NotNil(t, c.httpClient.Jar)
	require.NotNil(t, c.httpClient.Transport)
}
