package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beluchon/stream-fusion/internal/model"
)

func resItems(resolutions ...string) []*model.TorrentItem {
	out := make([]*model.TorrentItem, 0, len(resolutions))
	for _, r := range resolutions {
		out = append(out, &model.TorrentItem{Parsed: model.ParsedMetadata{Resolution: r}})
	}
	return out
}

func TestResultsPerQualityFilterCapsPerBucket(t *testing.T) {
	in := resItems("1080p", "1080p", "1080p", "720p", "720p")
	f := ResultsPerQualityFilter{SortMode: "qualitythensize", MaxPerQuality: 2}
	out := f.Apply(in)
	require.Len(t, out, 4)

	counts := map[string]int{}
	for _, it := range out {
		counts[it.Parsed.Resolution]++
	}
	require.Equal(t, 2, counts["1080p"])
	require.Equal(t, 2, counts["720p"])
}

func TestResultsPerQualityFilterPassesThroughForSizeBasedSort(t *testing.T) {
	in := resItems("1080p", "1080p", "1080p")
	f := ResultsPerQualityFilter{SortMode: "sizedesc", MaxPerQuality: 1}
	out := f.Apply(in)
	require.Len(t, out, 3)
}

func TestResultsPerQualityFilterNoLimitMeansUnlimited(t *testing.T) {
	in := resItems("1080p", "1080p")
	f := ResultsPerQualityFilter{SortMode: "seedersdesc", MaxPerQuality: 0}
	out := f.Apply(in)
	require.Len(t, out, 2)
}
