package container

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/beluchon/stream-fusion/internal/model"
)

func movieReq() model.MediaRequest {
	return model.MediaRequest{Type: model.Movie, ID: "tt1234567"}
}

func TestInsertDedupesByInfoHash(t *testing.T) {
	c := New()
	hash := "abcdefabcdefabcdefabcdefabcdefabcdefabcd"
	c.Insert([]model.RawResult{
		{InfoHash: hash, RawTitle: "first", Seeders: 1},
		{InfoHash: hash, RawTitle: "second", Seeders: 99},
	}, movieReq())

	hashes := c.UnresolvedHashes()
	require.Len(t, hashes, 1)
}

func TestInsertSkipsMalformedHashes(t *testing.T) {
	c := New()
	c.Insert([]model.RawResult{{InfoHash: "tooshort"}}, movieReq())
	require.Empty(t, c.UnresolvedHashes())
}

func TestUpdateAvailabilityDirectProviderResolvesFileIndex(t *testing.T) {
	c := New()
	hash := "111111111111111111111111111111111111111a"
	c.Insert([]model.RawResult{{InfoHash: hash, RawTitle: "movie"}}, movieReq())

	c.UpdateAvailability(map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: true, Files: []model.AnnouncedFile{
			{FileIndex: 3, FileName: "movie.mkv", SizeBytes: 9000},
		}},
	}, KindRealDebrid, movieReq())

	out := c.BestMatching(movieReq())
	require.Len(t, out, 1)
	require.Equal(t, "RD", out[0].AvailabilityCode)
	require.True(t, out[0].IsCached)
	require.NotNil(t, out[0].FileIndex)
	require.Equal(t, 3, *out[0].FileIndex)
	require.Equal(t, "movie.mkv", out[0].FileName)
}

func TestUpdateAvailabilityDirectProviderWithoutFilesStillShownByDefault(t *testing.T) {
	// A direct debrid confirming a hash as cached but returning no file
	// listing (e.g. a provider whose bulk-check endpoint doesn't expose
	// files) still surfaces the item: is_cached/always_show default true
	// until some later signal narrows them.
	c := New()
	hash := "111111111111111111111111111111111111111b"
	c.Insert([]model.RawResult{{InfoHash: hash, RawTitle: "movie"}}, movieReq())

	c.UpdateAvailability(map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: true},
	}, KindRealDebrid, movieReq())

	out := c.BestMatching(movieReq())
	require.Len(t, out, 1)
	require.Equal(t, "RD", out[0].AvailabilityCode)
	require.Nil(t, out[0].FileIndex)
}

func TestInsertDefaultsCachedAndAlwaysShowTrue(t *testing.T) {
	c := New()
	hash := "111111111111111111111111111111111111111c"
	c.Insert([]model.RawResult{{InfoHash: hash, Magnet: "magnet:?xt=urn:btih:" + hash}}, movieReq())

	out := c.BestMatching(movieReq())
	require.Len(t, out, 1)
	require.True(t, out[0].IsCached)
	require.True(t, out[0].AlwaysShow)
}

func TestUpdateAvailabilityPremiumizeSplitsCachedFlag(t *testing.T) {
	c := New()
	hash := "222222222222222222222222222222222222222b"
	c.Insert([]model.RawResult{{InfoHash: hash, Magnet: "magnet:?xt=urn:btih:" + hash}}, movieReq())

	c.UpdateAvailability(map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: false},
	}, KindPremiumize, movieReq())

	out := c.BestMatching(movieReq())
	require.Len(t, out, 1)
	require.Equal(t, "PM", out[0].AvailabilityCode)
	require.False(t, out[0].IsCached)
	require.NotNil(t, out[0].PMCached)
	require.False(t, *out[0].PMCached)
}

func TestUpdateAvailabilityAggregatorUncachedGetsAlwaysShow(t *testing.T) {
	c := New()
	hash := "333333333333333333333333333333333333333c"
	c.Insert([]model.RawResult{{InfoHash: hash}}, movieReq())

	c.UpdateAvailability(map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: false},
	}, AggregatorKind("RD"), movieReq())

	out := c.BestMatching(movieReq())
	require.Len(t, out, 1)
	require.Equal(t, "ST:RD", out[0].AvailabilityCode)
	require.False(t, out[0].IsCached)
	require.True(t, out[0].AlwaysShow)
}

func TestUpdateAvailabilitySelectsLargestFileForMovies(t *testing.T) {
	c := New()
	hash := "444444444444444444444444444444444444444d"
	c.Insert([]model.RawResult{{InfoHash: hash}}, movieReq())

	c.UpdateAvailability(map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: true, Files: []model.AnnouncedFile{
			{FileIndex: 0, FileName: "sample.mkv", SizeBytes: 10},
			{FileIndex: 1, FileName: "movie.mkv", SizeBytes: 9000},
		}},
	}, KindRealDebrid, movieReq())

	out := c.BestMatching(movieReq())
	require.Len(t, out, 1)
	require.Equal(t, "movie.mkv", out[0].FileName)
}

func TestBestMatchingResolvesEpisodeFromFullIndex(t *testing.T) {
	c := New()
	hash := "555555555555555555555555555555555555555e"
	seriesReq := model.MediaRequest{Type: model.SeriesEpisode, ID: "tt1234567", Season: 1, Episode: 2}
	c.Insert([]model.RawResult{{InfoHash: hash}}, seriesReq)

	c.UpdateAvailability(map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: true, Files: []model.AnnouncedFile{
			{FileIndex: 0, FileName: "Show.S01E01.mkv", SizeBytes: 100},
			{FileIndex: 1, FileName: "Show.S01E02.mkv", SizeBytes: 200},
		}},
	}, KindRealDebrid, seriesReq)

	out := c.BestMatching(seriesReq)
	require.Len(t, out, 1)
	require.Equal(t, "Show.S01E02.mkv", out[0].FileName)
}

func TestUpdateAvailabilityIsIdempotent(t *testing.T) {
	hash := "6666666666666666666666666666666666666666"
	seriesReq := model.MediaRequest{Type: model.SeriesEpisode, ID: "tt1234567", Season: 1, Episode: 2}
	announcements := map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: true, Files: []model.AnnouncedFile{
			{FileIndex: 0, FileName: "Show.S01E01.mkv", SizeBytes: 100},
			{FileIndex: 1, FileName: "Show.S01E02.mkv", SizeBytes: 200},
		}},
	}

	once := New()
	once.Insert([]model.RawResult{{InfoHash: hash, RawTitle: "Show.S01.1080p"}}, seriesReq)
	once.UpdateAvailability(announcements, KindRealDebrid, seriesReq)

	twice := New()
	twice.Insert([]model.RawResult{{InfoHash: hash, RawTitle: "Show.S01.1080p"}}, seriesReq)
	twice.UpdateAvailability(announcements, KindRealDebrid, seriesReq)
	twice.UpdateAvailability(announcements, KindRealDebrid, seriesReq)

	a := once.BestMatching(seriesReq)
	b := twice.BestMatching(seriesReq)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	if diff := cmp.Diff(a[0], b[0]); diff != "" {
		t.Errorf("container state diverged after repeated update (-once +twice):\n%s", diff)
	}
}
