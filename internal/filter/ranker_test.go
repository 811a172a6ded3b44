package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beluchon/stream-fusion/internal/model"
)

func TestRankerSizeDesc(t *testing.T) {
	in := []*model.TorrentItem{
		{SizeBytes: 100},
		{SizeBytes: 300},
		{SizeBytes: 200},
	}
	out := Ranker{SortMode: "sizedesc"}.Apply(in)
	require.Equal(t, []int64{300, 200, 100}, sizes(out))
}

func TestRankerSizeAsc(t *testing.T) {
	in := []*model.TorrentItem{
		{SizeBytes: 100},
		{SizeBytes: 300},
		{SizeBytes: 200},
	}
	out := Ranker{SortMode: "sizeasc"}.Apply(in)
	require.Equal(t, []int64{100, 200, 300}, sizes(out))
}

func TestRankerQualityThenSize(t *testing.T) {
	in := []*model.TorrentItem{
		{SizeBytes: 100, Parsed: model.ParsedMetadata{Resolution: "720p"}},
		{SizeBytes: 300, Parsed: model.ParsedMetadata{Resolution: "2160p"}},
		{SizeBytes: 50, Parsed: model.ParsedMetadata{Resolution: "2160p"}},
	}
	out := Ranker{SortMode: "qualitythensize"}.Apply(in)
	require.Equal(t, "2160p", out[0].Parsed.Resolution)
	require.Equal(t, int64(300), out[0].SizeBytes)
	require.Equal(t, int64(50), out[1].SizeBytes)
	require.Equal(t, "720p", out[2].Parsed.Resolution)
}

func TestRankerDefaultFallsBackToSeedersDesc(t *testing.T) {
	in := []*model.TorrentItem{
		{Seeders: 5},
		{Seeders: 50},
		{Seeders: 1},
	}
	out := Ranker{SortMode: "unknownmode"}.Apply(in)
	require.Equal(t, []int{50, 5, 1}, seeders(out))
}

func sizes(items []*model.TorrentItem) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.SizeBytes
	}
	return out
}

func seeders(items []*model.TorrentItem) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.Seeders
	}
	return out
}
