// Package orchestrator implements the search pipeline: the
// two-tier cache, distributed-lock search flow, indexer fan-out and
// availability fan-out that turns a MediaRequest into a ranked list of
// StreamDescriptors.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/apperror"
	"github.com/beluchon/stream-fusion/internal/cache"
	"github.com/beluchon/stream-fusion/internal/container"
	"github.com/beluchon/stream-fusion/internal/debrid"
	"github.com/beluchon/stream-fusion/internal/descriptor"
	"github.com/beluchon/stream-fusion/internal/filter"
	"github.com/beluchon/stream-fusion/internal/indexer"
	"github.com/beluchon/stream-fusion/internal/indexer/torrentfile"
	"github.com/beluchon/stream-fusion/internal/model"
)

// ProviderClient pairs a debrid.Client with the container.ProviderKind its
// availability announcements should be folded in under.
type ProviderClient struct {
	Client debrid.Client
	Kind   container.ProviderKind
}

// UserConfig carries the subset of model.UserConfig the orchestrator needs,
// plus a stable user identifier for cache-key derivation.
type UserConfig struct {
	UserID            string
	Indexers          []indexer.Client
	Providers         []ProviderClient
	Sort              string
	MinCachedResults  int
	MaxResults        int
	ResultsPerQuality int
	HasAggregator     bool
	AddonHost         string
	ConfigB64         string
}

type Orchestrator struct {
	store      *cache.Store
	logger     *zap.Logger
	httpClient *http.Client

	cacheAgeStream     time.Duration
	cacheAgeStreamAggr time.Duration
}

func New(store *cache.Store, cacheAgeStream, cacheAgeStreamAggr time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:              store,
		logger:             logger,
		httpClient:         &http.Client{Timeout: 15 * time.Second},
		cacheAgeStream:     cacheAgeStream,
		cacheAgeStreamAggr: cacheAgeStreamAggr,
	}
}

func mediaKey(userID string, media model.MediaRequest) string {
	return fmt.Sprintf("media:%s:%s", userID, media.Key())
}

func streamKey(userID string, media model.MediaRequest) string {
	return fmt.Sprintf("stream:%s:%s", userID, media.Key())
}

// Search turns a MediaRequest into a ranked, cached list of stream
// descriptors.
func (o *Orchestrator) Search(ctx context.Context, media model.MediaRequest, cfg UserConfig) ([]model.StreamDescriptor, error) {
	mKey := mediaKey(cfg.UserID, media)
	sKey := streamKey(cfg.UserID, media)

	invalidated, err := o.invalidated(ctx, cfg.UserID, media, mKey)
	if err != nil {
		o.logger.Warn("couldn't check invalidation flags", zap.Error(err))
	}

	if !invalidated {
		var descriptors []model.StreamDescriptor
		found, err := o.store.GetJSON(ctx, sKey, &descriptors)
		if err == nil && found {
			upgraded := o.postProcess(ctx, descriptors)
			if changed(descriptors, upgraded) {
				ttl := o.cacheAgeStream
				if cfg.HasAggregator {
					ttl = o.cacheAgeStreamAggr
				}
				if err := o.store.SetJSON(ctx, sKey, upgraded, ttl); err != nil {
					o.logger.Error("couldn't re-cache upgraded descriptors", zap.Error(err))
				}
			}
			go o.maybePrefetch(media, cfg)
			return upgraded, nil
		}
	}

	lockKey := "lock:search:" + sKey
	acquired, err := o.store.AcquireLock(ctx, lockKey, 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("couldn't acquire search lock: %w", err)
	}
	if !acquired {
		descriptors, err := o.pollStreamKey(ctx, sKey)
		if err != nil {
			return nil, err
		}
		return descriptors, nil
	}
	defer o.store.ReleaseLock(ctx, lockKey)

	descriptors, err := o.searchLocked(ctx, media, cfg, mKey, sKey)
	if err != nil {
		return nil, err
	}

	go o.maybePrefetch(media, cfg)
	return descriptors, nil
}

func (o *Orchestrator) invalidated(ctx context.Context, userID string, media model.MediaRequest, mKey string) (bool, error) {
	if ok, err := o.store.HasFlag(ctx, "force_refresh:all"); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if ok, err := o.store.HasFlag(ctx, "global_update_needed:"+mKey); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if ok, err := o.store.HasFlag(ctx, "stremthru:imdb:"+media.ID); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	return false, nil
}

func (o *Orchestrator) pollStreamKey(ctx context.Context, sKey string) ([]model.StreamDescriptor, error) {
	var descriptors []model.StreamDescriptor
	found, err := o.store.PollUntil(ctx, sKey, &descriptors, time.Second, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.New(apperror.ServiceBusy, "search already in progress, timed out waiting for result")
	}
	return descriptors, nil
}

func (o *Orchestrator) searchLocked(ctx context.Context, media model.MediaRequest, cfg UserConfig, mKey, sKey string) ([]model.StreamDescriptor, error) {
	var rawResults []model.RawResult
	found, err := o.store.GetJSON(ctx, mKey, &rawResults)
	if err != nil {
		o.logger.Warn("couldn't read media cache", zap.Error(err))
	}
	if !found {
		rawResults = o.queryIndexers(ctx, media, cfg)
		if err := o.store.SetJSON(ctx, mKey, rawResults, 24*time.Hour); err != nil {
			o.logger.Error("couldn't cache raw results", zap.Error(err))
		}
	}

	c := container.New()
	c.Insert(rawResults, media)

	var wg sync.WaitGroup
	for _, p := range cfg.Providers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			hashes := c.UnresolvedHashes()
			if len(hashes) == 0 {
				return
			}
			announcements, err := p.Client.CheckAvailabilityBulk(ctx, hashes, "")
			if err != nil {
				o.logger.Warn("availability check failed", zap.String("provider", string(p.Kind)), zap.Error(err))
				return
			}
			c.UpdateAvailability(announcements, p.Kind, media)
		}()
	}
	wg.Wait()

	items := c.BestMatching(media)
	items = filter.LanguagePriorityFilter{}.Apply(items)
	items = filter.ResultsPerQualityFilter{SortMode: cfg.Sort, MaxPerQuality: cfg.ResultsPerQuality}.Apply(items)
	items = filter.Ranker{SortMode: cfg.Sort}.Apply(items)
	if cfg.MaxResults > 0 && len(items) > cfg.MaxResults {
		items = items[:cfg.MaxResults]
	}

	builder := descriptor.Builder{AddonHost: cfg.AddonHost, ConfigB64: cfg.ConfigB64}
	descriptors := make([]model.StreamDescriptor, 0, len(items))
	for _, item := range items {
		descriptors = append(descriptors, builder.Build(item, media, item.AvailabilityCode))
	}

	ttl := o.cacheAgeStream
	if cfg.HasAggregator {
		ttl = o.cacheAgeStreamAggr
	}
	if err := o.store.SetJSON(ctx, sKey, descriptors, ttl); err != nil {
		o.logger.Error("couldn't cache descriptors", zap.Error(err))
	}

	return descriptors, nil
}

// queryIndexers fans out in priority order, stopping early once
// min_cached_results worth of results have accumulated.
func (o *Orchestrator) queryIndexers(ctx context.Context, media model.MediaRequest, cfg UserConfig) []model.RawResult {
	var all []model.RawResult
	seen := make(map[string]bool)
	for _, idx := range cfg.Indexers {
		results, err := idx.Search(ctx, media)
		if err != nil {
			o.logger.Warn("indexer search failed", zap.String("indexer", idx.Name()), zap.Error(err))
			continue
		}
		for _, r := range results {
			if len(r.InfoHash) != 40 && r.TorrentFileURL != "" {
				hash, err := torrentfile.InfoHash(ctx, o.httpClient, r.TorrentFileURL)
				if err != nil {
					o.logger.Debug("couldn't resolve info-hash from torrent file", zap.String("indexer", idx.Name()), zap.Error(err))
					continue
				}
				r.InfoHash = hash
			}
			if len(r.InfoHash) != 40 {
				continue
			}
			if seen[r.InfoHash] {
				continue
			}
			seen[r.InfoHash] = true
			all = append(all, r)
		}
		if cfg.MinCachedResults > 0 && len(all) >= cfg.MinCachedResults {
			break
		}
	}
	return all
}

// postProcess upgrades any descriptor whose underlying info-hash has a
// working:<store>:<hash> marker, re-labeling it cached.
func (o *Orchestrator) postProcess(ctx context.Context, descriptors []model.StreamDescriptor) []model.StreamDescriptor {
	out := make([]model.StreamDescriptor, len(descriptors))
	copy(out, descriptors)
	for i, d := range out {
		if d.InfoHash == "" {
			continue
		}
		upgraded, ok := o.upgradeIfWorking(ctx, d)
		if ok {
			out[i] = upgraded
		}
	}
	return out
}

func (o *Orchestrator) upgradeIfWorking(ctx context.Context, d model.StreamDescriptor) (model.StreamDescriptor, bool) {
	stores := []string{"rd", "ad", "pm", "tb", "dl", "ed", "oc", "pk"}
	for _, store := range stores {
		ok, err := o.store.HasFlag(ctx, "working:"+store+":"+d.InfoHash)
		if err == nil && ok && !hasLightning(d.DisplayName) {
			d.DisplayName = relabelCached(d.DisplayName)
			return d, true
		}
	}
	return d, false
}

func hasLightning(name string) bool {
	for _, r := range name {
		if r == '⚡' {
			return true
		}
	}
	return false
}

func relabelCached(name string) string {
	return "⚡" + stripDownloadPrefix(name) + "+"
}

func stripDownloadPrefix(name string) string {
	runes := []rune(name)
	if len(runes) > 0 && runes[0] == '⬇' {
		// "⬇️" is two runes (emoji + variation selector); drop the leading
		// marker and any following selector byte.
		for i, r := range runes {
			if r != '⬇' && r != '️' {
				return string(runes[i:])
			}
		}
	}
	return name
}

func changed(a, b []model.StreamDescriptor) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].DisplayName != b[i].DisplayName {
			return true
		}
	}
	return false
}

// maybePrefetch schedules a background search for the next episode when the
// current media is a series episode. Errors are
// swallowed: this is best-effort.
func (o *Orchestrator) maybePrefetch(media model.MediaRequest, cfg UserConfig) {
	if media.Type != model.SeriesEpisode {
		return
	}
	next := media
	next.Episode++

	prefetchCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	mKey := mediaKey(cfg.UserID, next)
	sKey := streamKey(cfg.UserID, next)
	lockKey := "lock:search:" + sKey
	acquired, err := o.store.AcquireLock(prefetchCtx, lockKey, 60*time.Second)
	if err != nil || !acquired {
		return
	}
	defer o.store.ReleaseLock(prefetchCtx, lockKey)

	if _, err := o.searchLocked(prefetchCtx, next, cfg, mKey, sKey); err != nil {
		o.logger.Debug("background pre-fetch failed", zap.Error(err))
	}
}
