package debrid

import (
	"context"

	"github.com/beluchon/stream-fusion/internal/model"
)

// Query is the input to GetStreamLink.
type Query struct {
	Magnet    string
	InfoHash  string
	Type      model.MediaType
	Season    int
	Episode   int
	FileIndex *int
}

// AddedMagnet is the result of AddMagnet.
type AddedMagnet struct {
	ID    string
	Files []model.FullIndexEntry
}

// Client is the capability set every debrid provider implements.
// Providers that don't support background caching return ErrUnsupported from
// StartBackgroundCaching; the orchestrator treats that as "no caching needed".
type Client interface {
	// Code returns the 2-letter provider code used in availability_code
	// (one of RD, AD, PM, TB, DL, ED, OC, PK).
	Code() string

	CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error)
	AddMagnet(ctx context.Context, magnet string, clientIP string) (AddedMagnet, error)
	GetStreamLink(ctx context.Context, q Query, clientIP string) (string, error)
	StartBackgroundCaching(ctx context.Context, magnet string) (bool, error)
}
