// Package descriptor turns a ranked TorrentItem into the client-facing
// StreamDescriptor, with its display-prefix, binge group and
// base64-encoded playback URL.
package descriptor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/beluchon/stream-fusion/internal/model"
)

// Builder produces StreamDescriptors for one user's configured addon host
// and encoded config, both constant across one search call.
type Builder struct {
	AddonHost string
	ConfigB64 string
}

// Build converts a ranked TorrentItem into its StreamDescriptor.
func (b Builder) Build(item *model.TorrentItem, media model.MediaRequest, service string) model.StreamDescriptor {
	prefix := displayPrefix(item)
	name := prefix
	if item.AvailabilityCode == "" {
		name = fmt.Sprintf("⬇️%s", item.RawTitle)
	}

	query := model.PlaybackQuery{
		Magnet:     item.Magnet,
		InfoHash:   item.InfoHash,
		Type:       string(media.Type),
		Season:     media.Season,
		Episode:    media.Episode,
		FileIndex:  item.FileIndex,
		Service:    service,
		Privacy:    string(item.Privacy),
		Cached:     boolPtr(item.IsCached),
		AlwaysShow: item.AlwaysShow,
	}
	// No magnet to resolve through a debrid provider: fall back to the raw
	// .torrent file URL so the download-service path (internal/playback) has
	// something to hand the client.
	if item.Magnet == "" && item.TorrentFileURL != "" {
		query.TorrentDownload = item.TorrentFileURL
	}

	playbackURL := b.playbackURL(query, service)

	return model.StreamDescriptor{
		DisplayName: name,
		Description: description(item),
		PlaybackURL: playbackURL,
		InfoHash:    item.InfoHash,
		FileIndex:   item.FileIndex,
		BingeGroup:  "stream-" + item.InfoHash,
		Filename:    item.FileName,
	}
}

// displayPrefix maps availability state to the descriptor's name prefix.
func displayPrefix(item *model.TorrentItem) string {
	switch {
	case item.AvailabilityCode == "RD" || item.AvailabilityCode == "AD":
		return fmt.Sprintf("⚡%s+", item.AvailabilityCode)
	case item.AvailabilityCode == "PM":
		if item.PMCached != nil && *item.PMCached {
			return "⚡PM+"
		}
		return "⬇️PM"
	case item.AvailabilityCode == "TB":
		if item.TBCached != nil && *item.TBCached {
			return "⚡TB+"
		}
		return "⬇️TB"
	case strings.HasPrefix(item.AvailabilityCode, "ST:"):
		if item.IsCached {
			return fmt.Sprintf("⚡%s+", item.AvailabilityCode)
		}
		return fmt.Sprintf("⬇️%s", item.AvailabilityCode)
	case item.AvailabilityCode == "":
		return fmt.Sprintf("⬇️%s", item.RawTitle)
	default:
		// DL, ED, OC, PK: direct debrids with a single cached flag,
		// presence already means cached (updateDirect in internal/container).
		return fmt.Sprintf("⚡%s+", item.AvailabilityCode)
	}
}

func description(item *model.TorrentItem) string {
	return fmt.Sprintf("%s\n%s", item.RawTitle, item.IndexerName)
}

// playbackURL JSON-serializes the query and base64-encodes it, escaping "="
// padding characters as %3D so the result is URL-path safe. Aggregator
// descriptors use the distinct stremthru/<store_code> URL shape to dispatch
// to the aggregator branch of the resolver.
func (b Builder) playbackURL(query model.PlaybackQuery, service string) string {
	queryJSON, _ := json.Marshal(query)
	queryB64 := base64.StdEncoding.EncodeToString(queryJSON)
	queryB64 = strings.ReplaceAll(queryB64, "=", "%3D")

	if strings.HasPrefix(service, "ST:") {
		storeCode := strings.TrimPrefix(service, "ST:")
		return fmt.Sprintf("%s/playback/stremthru/%s/%s/%s", strings.TrimRight(b.AddonHost, "/"), storeCode, b.ConfigB64, queryB64)
	}
	return fmt.Sprintf("%s/playback/%s/%s", strings.TrimRight(b.AddonHost, "/"), b.ConfigB64, queryB64)
}

func boolPtr(b bool) *bool { return &b }
