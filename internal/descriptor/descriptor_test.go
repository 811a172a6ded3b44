package descriptor

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beluchon/stream-fusion/internal/model"
)

func TestBuildDirectProviderPrefix(t *testing.T) {
	item := &model.TorrentItem{
		InfoHash:         "abc123",
		RawTitle:         "Movie.2020.1080p",
		IndexerName:      "1337x",
		AvailabilityCode: "RD",
		IsCached:         true,
	}
	b := Builder{AddonHost: "https://example.com", ConfigB64: "cfg"}
	d := b.Build(item, model.MediaRequest{Type: model.Movie, ID: "tt1234567"}, "RD")

	require.Equal(t, "⚡RD+", d.DisplayName)
	require.Equal(t, "stream-abc123", d.BingeGroup)
	require.True(t, strings.HasPrefix(d.PlaybackURL, "https://example.com/playback/cfg/"))
}

func TestBuildUncachedItemShowsDownloadArrowWithRawTitle(t *testing.T) {
	item := &model.TorrentItem{InfoHash: "abc123", RawTitle: "Movie.2020.1080p", IndexerName: "1337x"}
	b := Builder{AddonHost: "https://example.com", ConfigB64: "cfg"}
	d := b.Build(item, model.MediaRequest{Type: model.Movie, ID: "tt1234567"}, "")

	require.Equal(t, "⬇️Movie.2020.1080p", d.DisplayName)
}

func TestBuildAggregatorUsesStremthruURLShape(t *testing.T) {
	item := &model.TorrentItem{InfoHash: "abc123", RawTitle: "Movie", AvailabilityCode: "ST:RD", IsCached: true}
	b := Builder{AddonHost: "https://example.com/", ConfigB64: "cfg"}
	d := b.Build(item, model.MediaRequest{Type: model.Movie, ID: "tt1234567"}, "ST:RD")

	require.Equal(t, "⚡ST:RD+", d.DisplayName)
	require.True(t, strings.HasPrefix(d.PlaybackURL, "https://example.com/playback/stremthru/RD/cfg/"))
}

func TestPlaybackURLQueryRoundTrips(t *testing.T) {
	item := &model.TorrentItem{InfoHash: "deadbeef", RawTitle: "Show", AvailabilityCode: "AD", IsCached: true}
	b := Builder{AddonHost: "https://example.com", ConfigB64: "cfg"}
	media := model.MediaRequest{Type: model.SeriesEpisode, ID: "tt1234567", Season: 1, Episode: 3}
	d := b.Build(item, media, "AD")

	parts := strings.Split(d.PlaybackURL, "/")
	queryB64 := parts[len(parts)-1]
	queryB64 = strings.ReplaceAll(queryB64, "%3D", "=")

	raw, err := base64.StdEncoding.DecodeString(queryB64)
	require.NoError(t, err)

	var q model.PlaybackQuery
	require.NoError(t, json.Unmarshal(raw, &q))
	require.Equal(t, "deadbeef", q.InfoHash)
	require.Equal(t, 1, q.Season)
	require.Equal(t, 3, q.Episode)
	require.Equal(t, "AD", q.Service)
}
