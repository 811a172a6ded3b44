// Package indexer defines the indexer client contract: query an indexer,
// get back raw result items. Site specifics live in the subpackages;
// internal/indexer/htmlscrape is a generic HTML-scraping implementation
// the orchestrator's fan-out exercises.
package indexer

import (
	"context"

	"github.com/beluchon/stream-fusion/internal/model"
)

// Client is the shared IndexerClient contract. Failures are the
// implementation's responsibility to log; Search itself should return a
// non-nil error only when the call could not be attempted at all (e.g. bad
// configuration); transport failures are logged and reported as an empty
// slice with a nil error so the orchestrator's fan-out never treats one
// indexer's outage as fatal.
type Client interface {
	Name() string
	Search(ctx context.Context, media model.MediaRequest) ([]model.RawResult, error)
}
