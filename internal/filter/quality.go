package filter

import "github.com/beluchon/stream-fusion/internal/model"

// sizeBasedSort reports whether a sort mode passes every item through
// ResultsPerQualityFilter untouched.
func sizeBasedSort(sortMode string) bool {
	switch sortMode {
	case "sizedesc", "sizeasc", "qualitythensize":
		return true
	default:
		return false
	}
}

// ResultsPerQualityFilter caps each resolution bucket to maxPerQuality,
// unless sortMode is one of the size-based modes, in which case every item
// passes through unchanged.
type ResultsPerQualityFilter struct {
	SortMode      string
	MaxPerQuality int
}

func (f ResultsPerQualityFilter) Apply(items []*model.TorrentItem) []*model.TorrentItem {
	if sizeBasedSort(f.SortMode) || f.MaxPerQuality <= 0 {
		return items
	}
	counts := make(map[string]int)
	out := make([]*model.TorrentItem, 0, len(items))
	for _, item := range items {
		res := item.Parsed.Resolution
		if counts[res] >= f.MaxPerQuality {
			continue
		}
		counts[res]++
		out = append(out, item)
	}
	return out
}
