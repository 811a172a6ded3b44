// Package container implements the torrent container: dedupe search
// results by info-hash, fold in per-provider availability announcements,
// and surface the items worth showing the client.
package container

import (
	"sort"
	"strings"
	"sync"

	"github.com/beluchon/stream-fusion/internal/episode"
	"github.com/beluchon/stream-fusion/internal/model"
	"github.com/beluchon/stream-fusion/internal/titleparse"
)

// Container holds one search's TorrentItems, keyed by info-hash.
type Container struct {
	mu    sync.Mutex
	items map[string]*model.TorrentItem
}

func New() *Container {
	return &Container{items: make(map[string]*model.TorrentItem)}
}

// Insert dedupes incoming raw results by info-hash; the first occurrence of
// a hash wins.
func (c *Container) Insert(results []model.RawResult, media model.MediaRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range results {
		if len(r.InfoHash) != 40 {
			continue
		}
		hash := strings.ToLower(r.InfoHash)
		if _, exists := c.items[hash]; exists {
			continue
		}
		c.items[hash] = &model.TorrentItem{
			InfoHash:       hash,
			RawTitle:       r.RawTitle,
			SizeBytes:      r.SizeBytes,
			Magnet:         r.Magnet,
			TorrentFileURL: r.TorrentFileURL,
			IndexerName:    r.IndexerName,
			Privacy:        r.Privacy,
			Seeders:        r.Seeders,
			Languages:      r.Languages,
			Type:           media.Type,
			Parsed:         titleparse.Parse(r.RawTitle),
			// Both default true until a provider update narrows them.
			IsCached:   true,
			AlwaysShow: true,
		}
	}
}

// UnresolvedHashes returns every hash whose availability_code is still
// empty.
func (c *Container) UnresolvedHashes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var hashes []string
	for hash, item := range c.items {
		if item.AvailabilityCode == "" {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)
	return hashes
}

// ProviderKind tags which branch of update_availability applies to an
// announcement batch.
type ProviderKind string

const (
	KindRealDebrid ProviderKind = "RD"
	KindAllDebrid  ProviderKind = "AD"
	KindTorBox     ProviderKind = "TB"
	KindPremiumize ProviderKind = "PM"
	KindDebridLink ProviderKind = "DL"
	KindEasyDebrid ProviderKind = "ED"
	KindOffcloud   ProviderKind = "OC"
	KindPikPak     ProviderKind = "PK"
)

// AggregatorKind builds the ST:<XX> provider kind for an aggregator
// announcement batch from its configured store's direct code.
func AggregatorKind(storeCode string) ProviderKind {
	return ProviderKind("ST:" + storeCode)
}

// UpdateAvailability folds a batch of announcements from one provider into
// the container, applying the per-provider-kind rules.
func (c *Container) UpdateAvailability(announcements map[string]model.AvailabilityAnnouncement, kind ProviderKind, media model.MediaRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	isAggregator := strings.HasPrefix(string(kind), "ST:")

	for hash, ann := range announcements {
		item, ok := c.items[hash]
		if !ok {
			continue
		}

		switch {
		case isAggregator:
			updateAggregator(item, ann, string(kind), media)
		case kind == KindPremiumize:
			updatePremiumize(item, ann, media)
		case kind == KindTorBox:
			updateTorBox(item, ann, media)
		case kind == KindAllDebrid:
			updateAllDebrid(item, ann, media)
		default:
			// RD and the remaining single-flag direct debrids share the same
			// "presence sets availability, pick file" rule.
			updateDirect(item, ann, string(kind), media)
		}
	}
}

func updateDirect(item *model.TorrentItem, ann model.AvailabilityAnnouncement, code string, media model.MediaRequest) {
	if !ann.Cached {
		return
	}
	item.AvailabilityCode = code
	item.IsCached = true
	selectFile(item, ann, media)
}

func updatePremiumize(item *model.TorrentItem, ann model.AvailabilityAnnouncement, media model.MediaRequest) {
	item.AvailabilityCode = "PM"
	cached := ann.Cached
	item.PMCached = &cached
	item.IsCached = cached
	selectFile(item, ann, media)
}

func updateTorBox(item *model.TorrentItem, ann model.AvailabilityAnnouncement, media model.MediaRequest) {
	// If TB never returned the hash at all, UpdateAvailability's caller
	// never puts an entry in announcements for it, so absence is handled by
	// simply never reaching this function, so the hash stays unavailable.
	item.AvailabilityCode = "TB"
	cached := ann.Cached
	item.TBCached = &cached
	item.IsCached = cached
	selectFile(item, ann, media)
}

func updateAllDebrid(item *model.TorrentItem, ann model.AvailabilityAnnouncement, media model.MediaRequest) {
	// Presence alone means instantly playable; availability is never
	// downgraded once set, only file details refreshed.
	item.AvailabilityCode = "AD"
	item.IsCached = true
	selectFile(item, ann, media)
}

func updateAggregator(item *model.TorrentItem, ann model.AvailabilityAnnouncement, code string, media model.MediaRequest) {
	item.AvailabilityCode = code
	item.IsCached = ann.Cached
	if !ann.Cached {
		item.AlwaysShow = true
	}
	selectFile(item, ann, media)
}

// selectFile applies episode-matching (series) or largest-file (movie) to
// an announcement's file list, when one was provided.
func selectFile(item *model.TorrentItem, ann model.AvailabilityAnnouncement, media model.MediaRequest) {
	if len(ann.Files) == 0 {
		return
	}
	item.FullIndex = make([]model.FullIndexEntry, len(ann.Files))
	for i, f := range ann.Files {
		item.FullIndex[i] = model.FullIndexEntry{FileIndex: f.FileIndex, FileName: f.FileName, Size: f.SizeBytes}
	}

	if media.Type == model.SeriesEpisode {
		files := make([]episode.File, len(ann.Files))
		for i, f := range ann.Files {
			files[i] = episode.File{Name: f.FileName, SizeBytes: f.SizeBytes}
		}
		idx := episode.Match(files, media.Season, media.Episode)
		if idx == -1 {
			return
		}
		item.FileIndex = intPtr(ann.Files[idx].FileIndex)
		item.FileName = ann.Files[idx].FileName
		item.FileSizeBytes = ann.Files[idx].SizeBytes
		return
	}

	best := 0
	for i, f := range ann.Files {
		if f.SizeBytes > ann.Files[best].SizeBytes {
			best = i
		}
	}
	item.FileIndex = intPtr(ann.Files[best].FileIndex)
	item.FileName = ann.Files[best].FileName
	item.FileSizeBytes = ann.Files[best].SizeBytes
}

func intPtr(i int) *int { return &i }

// BestMatching returns items worth showing the client: direct-torrentable
// items with a known file, items with a magnet and an identified file, or
// items explicitly marked always_show. For series without a pre-identified
// file, episode-matching is retried against full_index.
//
// Series episodes always require a resolved file_index, so
// always_show/magnet-only fallbacks only apply to movies: an aggregator
// "not cached, always_show" series item with no episode match is dropped
// rather than shown as a generic row.
func (c *Container) BestMatching(media model.MediaRequest) []*model.TorrentItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*model.TorrentItem
	for _, item := range c.items {
		if media.Type == model.SeriesEpisode {
			if item.FileIndex == nil && len(item.FullIndex) > 0 {
				files := make([]episode.File, len(item.FullIndex))
				for i, f := range item.FullIndex {
					files[i] = episode.File{Name: f.FileName, SizeBytes: f.Size}
				}
				idx := episode.Match(files, media.Season, media.Episode)
				if idx != -1 {
					item.FileIndex = intPtr(item.FullIndex[idx].FileIndex)
					item.FileName = item.FullIndex[idx].FileName
					item.FileSizeBytes = item.FullIndex[idx].Size
				}
			}
			if item.FileIndex != nil {
				out = append(out, item)
			}
			continue
		}

		if item.AlwaysShow || item.FileIndex != nil {
			out = append(out, item)
			continue
		}
		if item.Magnet != "" && item.AvailabilityCode == "" {
			// No provider has resolved this yet; still a direct-download
			// candidate once availability_code stays empty, handled by the
			// descriptor builder's "empty" row, so it's included here too.
			out = append(out, item)
		}
	}
	// Map iteration order is random; anchor it so the stable sorts applied
	// downstream produce the same list for the same container state.
	sort.Slice(out, func(i, j int) bool { return out[i].InfoHash < out[j].InfoHash })
	return out
}
