package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/beluchon/stream-fusion/internal/config"
	"github.com/beluchon/stream-fusion/internal/container"
	"github.com/beluchon/stream-fusion/internal/debrid"
	"github.com/beluchon/stream-fusion/internal/debrid/aggregator"
	"github.com/beluchon/stream-fusion/internal/debrid/alldebrid"
	"github.com/beluchon/stream-fusion/internal/debrid/debridlink"
	"github.com/beluchon/stream-fusion/internal/debrid/easydebrid"
	"github.com/beluchon/stream-fusion/internal/debrid/offcloud"
	"github.com/beluchon/stream-fusion/internal/debrid/pikpak"
	"github.com/beluchon/stream-fusion/internal/debrid/premiumize"
	"github.com/beluchon/stream-fusion/internal/debrid/realdebrid"
	"github.com/beluchon/stream-fusion/internal/debrid/torbox"
	"github.com/beluchon/stream-fusion/internal/model"
	"github.com/beluchon/stream-fusion/internal/orchestrator"
	"github.com/beluchon/stream-fusion/internal/ratelimit"
)

// providerRegistry builds per-user debrid.Client instances for every
// provider the config names a token for. Rate limiters and the small
// token/availability caches are shared per provider code across every
// user, since RealDebrid's and AllDebrid's own "is this hash cached"
// answer doesn't depend on which account is asking.
type providerRegistry struct {
	cfg    config.Config
	logger *zap.Logger

	limiters map[string]*ratelimit.Limiter

	tokenCaches        map[string]debrid.Cache
	availabilityCaches map[string]debrid.Cache
}

func newProviderRegistry(cfg config.Config, logger *zap.Logger) *providerRegistry {
	codes := []string{"RD", "AD", "PM", "TB", "DL", "ED", "OC", "PK"}
	r := &providerRegistry{
		cfg:                cfg,
		logger:             logger,
		limiters:           make(map[string]*ratelimit.Limiter, len(codes)),
		tokenCaches:        make(map[string]debrid.Cache, len(codes)),
		availabilityCaches: make(map[string]debrid.Cache, len(codes)),
	}
	rateConfigs := map[string]ratelimit.Config{
		ratelimit.ScopeGlobal:  {Limit: cfg.RateLimitGlobal, Period: cfg.RateLimitGlobalPeriod},
		ratelimit.ScopeTorrent: {Limit: cfg.RateLimitTorrent, Period: cfg.RateLimitTorrentPeriod},
	}
	for _, code := range codes {
		r.limiters[code] = ratelimit.New(rateConfigs)
		r.tokenCaches[code] = debrid.NewInMemoryCache()
		r.availabilityCaches[code] = debrid.NewInMemoryCache()
	}
	return r
}

// aggregatorLimiter returns a shared limiter for one aggregator store_name
// (e.g. "realdebrid" behind StremThru), distinct from the direct-provider
// limiters above since it hits a different upstream host.
func (r *providerRegistry) aggregatorLimiter(storeName string) *ratelimit.Limiter {
	key := "ST:" + storeName
	l, ok := r.limiters[key]
	if !ok {
		l = ratelimit.New(map[string]ratelimit.Config{
			ratelimit.ScopeGlobal:  {Limit: r.cfg.RateLimitGlobal, Period: r.cfg.RateLimitGlobalPeriod},
			ratelimit.ScopeTorrent: {Limit: r.cfg.RateLimitTorrent, Period: r.cfg.RateLimitTorrentPeriod},
		})
		r.limiters[key] = l
	}
	return l
}

// build constructs one debrid.Client per entry in cfg.ProviderTokens, paired
// with the container.ProviderKind it feeds, plus whether an aggregator is
// among them (used to pick the shorter stream-cache TTL).
func (r *providerRegistry) build(cfg model.UserConfig) ([]orchestrator.ProviderClient, bool, error) {
	var out []orchestrator.ProviderClient
	hasAggregator := false

	for code, token := range cfg.ProviderTokens {
		client, kind, err := r.buildOne(code, token)
		if err != nil {
			r.logger.Warn("couldn't build debrid client, skipping provider", zap.String("provider", code), zap.Error(err))
			continue
		}
		if client == nil {
			continue
		}
		out = append(out, orchestrator.ProviderClient{Client: client, Kind: kind})
		if _, isAggregator := aggregatorStoreName(code); isAggregator {
			hasAggregator = true
		}
	}
	return out, hasAggregator, nil
}

// findByCode returns the single configured client for a provider code
// (e.g. the download-service's designated downloader, or the store behind a
// playback query's "service" field), or nil if the user hasn't configured it.
func (r *providerRegistry) findByCode(cfg model.UserConfig, code string) (debrid.Client, error) {
	token, ok := cfg.ProviderTokens[code]
	if !ok {
		return nil, fmt.Errorf("no token configured for provider %q", code)
	}
	client, _, err := r.buildOne(code, token)
	return client, err
}

func aggregatorStoreName(code string) (string, bool) {
	const prefix = "ST:"
	if len(code) > len(prefix) && code[:len(prefix)] == prefix {
		return code[len(prefix):], true
	}
	return "", false
}

func (r *providerRegistry) buildOne(code string, token model.ProviderToken) (debrid.Client, container.ProviderKind, error) {
	if storeName, ok := aggregatorStoreName(code); ok {
		if r.cfg.BaseURLst == "" {
			return nil, "", fmt.Errorf("no aggregator base URL configured")
		}
		bearer := token.APIKey
		if bearer == "" {
			bearer = token.AccessToken
		}
		client, err := aggregator.New(aggregator.ClientOptions{BaseURL: r.cfg.BaseURLst, Timeout: 20 * time.Second}, storeName, bearer, r.aggregatorLimiter(storeName), r.logger)
		if err != nil {
			return nil, "", err
		}
		return client, container.AggregatorKind(client.Code()[len("ST:"):]), nil
	}

	switch code {
	case "RD":
		opts := realdebrid.DefaultClientOpts
		opts.BaseURL = r.cfg.BaseURLrd
		opts.ExtraHeaders = r.cfg.ExtraHeadersRD
		client, err := realdebrid.New(opts, token.APIKey, r.limiters["RD"], r.tokenCaches["RD"], r.availabilityCaches["RD"], r.logger)
		return client, container.KindRealDebrid, err
	case "AD":
		opts := alldebrid.DefaultClientOpts
		opts.BaseURL = r.cfg.BaseURLad
		opts.ExtraHeaders = r.cfg.ExtraHeadersAD
		client, err := alldebrid.New(opts, token.APIKey, r.limiters["AD"], r.tokenCaches["AD"], r.availabilityCaches["AD"], r.logger)
		return client, container.KindAllDebrid, err
	case "PM":
		opts := premiumize.DefaultClientOpts
		opts.BaseURL = r.cfg.BaseURLpm
		opts.ExtraHeaders = r.cfg.ExtraHeadersPM
		keyOrToken := token.APIKey
		if keyOrToken == "" {
			keyOrToken = token.AccessToken
		}
		client, err := premiumize.New(opts, keyOrToken, r.limiters["PM"], r.tokenCaches["PM"], r.availabilityCaches["PM"], r.logger)
		return client, container.KindPremiumize, err
	case "TB":
		opts := torbox.DefaultClientOpts
		opts.BaseURL = r.cfg.BaseURLtb
		client, err := torbox.New(opts, token.APIKey, r.limiters["TB"], r.availabilityCaches["TB"], r.logger)
		return client, container.KindTorBox, err
	case "DL":
		opts := debridlink.DefaultClientOpts
		opts.BaseURL = r.cfg.BaseURLdl
		client, err := debridlink.New(opts, token.APIKey, r.limiters["DL"], r.availabilityCaches["DL"], r.logger)
		return client, container.KindDebridLink, err
	case "ED":
		opts := easydebrid.DefaultClientOpts
		opts.BaseURL = r.cfg.BaseURLed
		client, err := easydebrid.New(opts, token.APIKey, r.limiters["ED"], r.logger)
		return client, container.KindEasyDebrid, err
	case "OC":
		opts := offcloud.DefaultClientOpts
		opts.BaseURL = r.cfg.BaseURLoc
		client, err := offcloud.New(opts, token.APIKey, r.limiters["OC"], r.availabilityCaches["OC"], r.logger)
		return client, container.KindOffcloud, err
	case "PK":
		opts := pikpak.DefaultClientOpts
		opts.BaseURL = r.cfg.BaseURLpp
		var oauthToken oauth2.Token
		if err := decryptToken(r.cfg.EncryptionKey(), token.AccessToken, &oauthToken); err != nil {
			return nil, "", fmt.Errorf("couldn't decrypt pikpak oauth2 token: %w", err)
		}
		ts := oauth2.StaticTokenSource(&oauthToken)
		client, err := pikpak.New(opts, ts, r.limiters["PK"], r.logger)
		return client, container.KindPikPak, err
	default:
		return nil, "", fmt.Errorf("unknown provider code %q", code)
	}
}
