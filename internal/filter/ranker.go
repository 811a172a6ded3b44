package filter

import (
	"sort"

	"github.com/beluchon/stream-fusion/internal/model"
)

// Ranker performs the final stable sort over the filtered item set.
// SortMode selects the comparator; unrecognized modes fall back to
// seeders-desc.
type Ranker struct {
	SortMode string
}

func (r Ranker) Apply(items []*model.TorrentItem) []*model.TorrentItem {
	less := r.comparator(items)
	sort.SliceStable(items, less)
	return items
}

func (r Ranker) comparator(items []*model.TorrentItem) func(i, j int) bool {
	switch r.SortMode {
	case "sizedesc":
		return func(i, j int) bool { return items[i].SizeBytes > items[j].SizeBytes }
	case "sizeasc":
		return func(i, j int) bool { return items[i].SizeBytes < items[j].SizeBytes }
	case "qualitythensize":
		return func(i, j int) bool {
			if items[i].Parsed.Resolution != items[j].Parsed.Resolution {
				return resolutionRank(items[i].Parsed.Resolution) > resolutionRank(items[j].Parsed.Resolution)
			}
			return items[i].SizeBytes > items[j].SizeBytes
		}
	case "seedersdesc":
		return func(i, j int) bool { return items[i].Seeders > items[j].Seeders }
	default:
		return func(i, j int) bool { return items[i].Seeders > items[j].Seeders }
	}
}

var resolutionOrder = map[string]int{
	"2160p": 4,
	"1080p": 3,
	"720p":  2,
	"480p":  1,
}

func resolutionRank(res string) int {
	return resolutionOrder[res]
}
