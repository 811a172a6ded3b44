package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/apperror"
	"github.com/beluchon/stream-fusion/internal/config"
	"github.com/beluchon/stream-fusion/internal/debrid"
	"github.com/beluchon/stream-fusion/internal/indexer"
	"github.com/beluchon/stream-fusion/internal/indexer/htmlscrape"
	"github.com/beluchon/stream-fusion/internal/indexer/jackett"
	"github.com/beluchon/stream-fusion/internal/indexer/zilean"
	"github.com/beluchon/stream-fusion/internal/model"
	"github.com/beluchon/stream-fusion/internal/orchestrator"
	"github.com/beluchon/stream-fusion/internal/playback"
	"github.com/beluchon/stream-fusion/internal/stremio"
)

// decodeConfigMiddleware decodes the :configB64 path parameter into a
// UserConfig and stashes it for downstream handlers and authMiddleware.
func decodeConfigMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Params("configB64")
		cfg, err := decodeConfig(raw, logger)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config"})
		}
		c.Locals(localsUserConfig, cfg)
		return c.Next()
	}
}

func manifestHandler(m stremio.Manifest) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(m)
	}
}

// buildIndexers returns the fan-out order for queryIndexers: the always-on
// public trackers first, then the user's opted-in extras (zilean, yggflix,
// sharewood, jackett) in that priority order. Jackett and Zilean also need
// a server-side instance URL; a user opting in without one configured gets
// the flag silently ignored. Jackett goes last: it fans out to every
// tracker the operator configured, so it's the broad fallback once the
// cheaper sources failed to reach the result floor.
func buildIndexers(srvCfg config.Config, cfg model.UserConfig, logger *zap.Logger) []indexer.Client {
	var out []indexer.Client
	out = append(out, htmlscrape.New(htmlscrape.Config{
		Name:            "1337x",
		BaseURL:         "https://1337x.to",
		SearchPathTmpl:  "/search/%s/1/",
		RowSelector:     "table.table-list tbody tr",
		TitleSelector:   "td.name a:nth-of-type(2)",
		MagnetSelector:  "a[href^='magnet:']",
		SizeSelector:    "td.size",
		SeedSelector:    "td.seeds",
		Privacy:         model.Public,
		SOCKS5ProxyAddr: srvCfg.SOCKS5ProxyAddr,
	}, logger))
	out = append(out, htmlscrape.New(htmlscrape.Config{
		Name:            "ibit",
		BaseURL:         "https://ibit.am",
		SearchPathTmpl:  "/torrent-search/%s",
		RowSelector:     "table.it_table tbody tr",
		TitleSelector:   "td.torrent_name a",
		MagnetSelector:  "a[href^='magnet:']",
		SizeSelector:    "td.torrent_size",
		SeedSelector:    "td.torrent_seeds",
		Privacy:         model.Public,
		SOCKS5ProxyAddr: srvCfg.SOCKS5ProxyAddr,
	}, logger))
	if cfg.Zilean && srvCfg.ZileanURL != "" {
		out = append(out, zilean.New(srvCfg.ZileanURL, 0, logger))
	}
	if cfg.Yggflix {
		out = append(out, htmlscrape.New(htmlscrape.Config{
			Name:            "Yggflix",
			BaseURL:         "https://yggflix.fr",
			SearchPathTmpl:  "/search?q=%s",
			RowSelector:     "table.table tbody tr",
			TitleSelector:   "td a.torrent-title",
			MagnetSelector:  "a[href^='magnet:']",
			SizeSelector:    "td.size",
			SeedSelector:    "td.seeders",
			Privacy:         model.Private,
			SOCKS5ProxyAddr: srvCfg.SOCKS5ProxyAddr,
		}, logger))
	}
	if cfg.Sharewood {
		out = append(out, htmlscrape.New(htmlscrape.Config{
			Name:            "Sharewood",
			BaseURL:         "https://www.sharewood.tv",
			SearchPathTmpl:  "/torrents?name=%s",
			RowSelector:     "table.table tbody tr",
			TitleSelector:   "td a.torrent-name",
			MagnetSelector:  "a[href^='magnet:']",
			SizeSelector:    "td.torrent-size",
			SeedSelector:    "td.torrent-seed",
			Privacy:         model.Private,
			SOCKS5ProxyAddr: srvCfg.SOCKS5ProxyAddr,
		}, logger))
	}
	if cfg.Jackett && srvCfg.JackettURL != "" {
		out = append(out, jackett.New(srvCfg.JackettURL, srvCfg.JackettAPIKey, 0, logger))
	}
	return out
}

// streamHandler implements GET /{configB64}/stream/{type}/{streamID}:
// decode the request, run the search pipeline, and shape the result as a
// Stremio streams response.
func streamHandler(cfg config.Config, orch *orchestrator.Orchestrator, registry *providerRegistry, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCfg, _ := c.Locals(localsUserConfig).(model.UserConfig)

		mediaType := c.Params("type")
		streamID := strings.TrimSuffix(c.Params("streamID"), ".json")
		media, err := parseStreamID(mediaType, streamID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		providers, hasAggregator, err := registry.build(userCfg)
		if err != nil {
			logger.Warn("couldn't build debrid providers", zap.Error(err))
		}

		addonHost := userCfg.AddonHost
		if addonHost == "" {
			addonHost = cfg.AddonHost
		}
		configB64 := c.Params("configB64")

		orchCfg := orchestrator.UserConfig{
			UserID:            userIdentifier(userCfg),
			Indexers:          buildIndexers(cfg, userCfg, logger),
			Providers:         providers,
			Sort:              firstNonEmpty(userCfg.Sort, "qualitythensize"),
			MinCachedResults:  firstPositive(userCfg.MinCachedResults, cfg.MinCachedResults),
			MaxResults:        firstPositive(userCfg.MaxResults, cfg.MaxResults),
			ResultsPerQuality: firstPositive(userCfg.ResultsPerQuality, cfg.ResultsPerQuality),
			HasAggregator:     hasAggregator,
			AddonHost:         addonHost,
			ConfigB64:         configB64,
		}

		descriptors, err := orch.Search(c.Context(), media, orchCfg)
		if err != nil {
			return streamErrorStatus(c, err)
		}

		streams := make([]stremio.StreamItem, 0, len(descriptors))
		for _, d := range descriptors {
			streams = append(streams, toStreamItem(d))
		}
		return c.JSON(fiber.Map{"streams": streams})
	}
}

func toStreamItem(d model.StreamDescriptor) stremio.StreamItem {
	item := stremio.StreamItem{
		Name:        d.DisplayName,
		Description: d.Description,
		BehaviorHints: &stremio.StreamBehaviorHints{
			BingeGroup: d.BingeGroup,
			Filename:   d.Filename,
		},
	}
	if d.PlaybackURL != "" {
		item.URL = d.PlaybackURL
	}
	if d.InfoHash != "" {
		item.InfoHash = d.InfoHash
		if d.FileIndex != nil && *d.FileIndex >= 0 && *d.FileIndex <= 255 {
			item.FileIndex = uint8(*d.FileIndex)
		}
	}
	return item
}

// playbackHandler implements GET/HEAD /playback/{configB64}/{queryB64}:
// resolve the query to a direct URL and redirect, or 202 while a download
// is still being queued.
func playbackHandler(registry *providerRegistry, resolver *playback.Resolver, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCfg, _ := c.Locals(localsUserConfig).(model.UserConfig)
		query, err := decodeQuery(c.Params("queryB64"), logger)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query"})
		}

		client, err := registry.findByCode(userCfg, query.Service)
		if err != nil {
			logger.Warn("couldn't resolve debrid client for playback", zap.String("service", query.Service), zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider unavailable"})
		}

		userID := userIdentifier(userCfg)
		clientIP := clientIPOf(c, userCfg)

		if query.TorrentDownload != "" {
			return resolveDownloadService(c, registry, resolver, userCfg, query, client, clientIP)
		}

		url, err := resolver.Resolve(c.Context(), userID, query, client, strings.ToLower(query.Service), clientIP)
		if err != nil {
			return playbackErrorStatus(c, err)
		}
		return redirectOrHead(c, url)
	}
}

// playbackAggregatorHandler implements GET/HEAD
// /playback/stremthru/{storeCode}/{configB64}/{queryB64}: HEAD
// always answers 200 so clients render the item as available without
// triggering a real resolution; GET resolves through the aggregator branch.
func playbackAggregatorHandler(registry *providerRegistry, resolver *playback.Resolver, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodHead {
			return c.SendStatus(fiber.StatusOK)
		}

		userCfg, _ := c.Locals(localsUserConfig).(model.UserConfig)
		storeCode := c.Params("storeCode")
		query, err := decodeQuery(c.Params("queryB64"), logger)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query"})
		}
		query.Service = "ST:" + strings.ToUpper(storeCode)

		client, err := registry.findByCode(userCfg, query.Service)
		if err != nil {
			logger.Warn("couldn't resolve aggregator client for playback", zap.String("service", query.Service), zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider unavailable"})
		}

		userID := userIdentifier(userCfg)
		clientIP := clientIPOf(c, userCfg)
		storeName := "ST:" + strings.ToUpper(storeCode)
		url, err := resolver.Resolve(c.Context(), userID, query, client, storeName, clientIP)
		if err != nil {
			return playbackErrorStatus(c, err)
		}
		return redirectOrHead(c, url)
	}
}

func resolveDownloadService(c *fiber.Ctx, registry *providerRegistry, resolver *playback.Resolver, userCfg model.UserConfig, query model.PlaybackQuery, fallback debrid.Client, clientIP string) error {
	client := fallback
	if userCfg.DebridDownloader != "" {
		if dc, err := registry.findByCode(userCfg, userCfg.DebridDownloader); err == nil {
			client = dc
		}
	}
	url, err := resolver.DownloadService(c.Context(), userIdentifier(userCfg), query, client, clientIP)
	if err != nil {
		return playbackErrorStatus(c, err)
	}
	if url == playback.PlaceholderURL {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"url": url})
	}
	return redirectOrHead(c, url)
}

func redirectOrHead(c *fiber.Ctx, url string) error {
	if c.Method() == fiber.MethodHead {
		return c.SendStatus(fiber.StatusOK)
	}
	return c.Redirect(url, fiber.StatusFound)
}

func streamErrorStatus(c *fiber.Ctx, err error) error {
	switch apperror.KindOf(err) {
	case apperror.InvalidRequest:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case apperror.Unauthorized:
		return c.SendStatus(fiber.StatusUnauthorized)
	case apperror.ServiceBusy:
		return c.SendStatus(fiber.StatusServiceUnavailable)
	default:
		// No provider-level error aborts a search; if we get
		// here it's an orchestrator-level failure, but the user-visible
		// behavior for "nothing resolvable" is still an empty list, not 500.
		return c.JSON(fiber.Map{"streams": []stremio.StreamItem{}})
	}
}

func playbackErrorStatus(c *fiber.Ctx, err error) error {
	switch apperror.KindOf(err) {
	case apperror.ServiceBusy:
		return c.SendStatus(fiber.StatusServiceUnavailable)
	case apperror.NoFileInTorrent:
		return c.Redirect(playback.PlaceholderURL, fiber.StatusFound)
	default:
		return c.SendStatus(fiber.StatusInternalServerError)
	}
}

func parseStreamID(mediaType, streamID string) (model.MediaRequest, error) {
	parts := strings.Split(streamID, ":")
	imdbID := parts[0]
	if !strings.HasPrefix(imdbID, "tt") {
		return model.MediaRequest{}, fmt.Errorf("stream id must start with \"tt\"")
	}

	switch mediaType {
	case "movie":
		return model.MediaRequest{Type: model.Movie, ID: imdbID}, nil
	case "series":
		if len(parts) != 3 {
			return model.MediaRequest{}, fmt.Errorf("series stream id must be imdbid:season:episode")
		}
		season, err := strconv.Atoi(parts[1])
		if err != nil {
			return model.MediaRequest{}, fmt.Errorf("invalid season: %w", err)
		}
		episode, err := strconv.Atoi(parts[2])
		if err != nil {
			return model.MediaRequest{}, fmt.Errorf("invalid episode: %w", err)
		}
		return model.MediaRequest{Type: model.SeriesEpisode, ID: imdbID, Season: season, Episode: episode}, nil
	default:
		return model.MediaRequest{}, fmt.Errorf("unsupported media type %q", mediaType)
	}
}

func userIdentifier(cfg model.UserConfig) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	return "anonymous"
}

func clientIPOf(c *fiber.Ctx, cfg model.UserConfig) string {
	return c.IP()
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstPositive(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
