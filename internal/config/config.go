// Package config implements the ambient configuration layer: flags with
// environment-variable fallback: only fall back to an env var when the
// matching flag wasn't explicitly passed on the command line.
package config

import (
	"context"
	"crypto/sha256"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

// encryptionKeySalt is a fixed, non-secret salt: the input is already a
// high-entropy operator-supplied passphrase, so the salt's only job is to
// keep this derivation distinct from other pbkdf2 uses, not to defend
// against a rainbow-table attack on a low-entropy password.
var encryptionKeySalt = []byte("stream-fusion/oauth2-config-encryption")

// Config holds every value the binary needs to start, spanning bind
// address, storage backends, per-provider base URLs/headers, OAuth2
// credentials and the search pipeline's tunable defaults.
type Config struct {
	BindAddr  string
	Port      int
	AddonHost string
	LogLevel  string
	LogJSON   bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BadgerPath    string

	BaseURLrd string
	BaseURLad string
	BaseURLpm string
	BaseURLtb string
	BaseURLdl string
	BaseURLed string
	BaseURLoc string
	BaseURLpp string
	BaseURLst string

	JackettURL      string
	JackettAPIKey   string
	ZileanURL       string
	SOCKS5ProxyAddr string

	ExtraHeadersRD []string
	ExtraHeadersAD []string
	ExtraHeadersPM []string

	OAuth2ClientID     string
	OAuth2ClientSecret string
	OAuth2AuthURL      string
	OAuth2TokenURL     string
	EncryptionKeyHex   string

	RateLimitGlobal       int
	RateLimitGlobalPeriod time.Duration
	RateLimitTorrent      int
	RateLimitTorrentPeriod time.Duration

	CacheAgeAvailability time.Duration
	CacheAgeMedia        time.Duration
	CacheAgeStream       time.Duration
	CacheAgeStreamAggr   time.Duration

	MinCachedResults  int
	MaxResults        int
	ResultsPerQuality int

	EnvPrefix string
}

// EncryptionKey derives a 32-byte AES-256 key from EncryptionKeyHex via
// PBKDF2-HMAC-SHA256, so operators can configure any passphrase rather than
// an exact-length hex key. Used to encrypt OAuth2 refresh tokens embedded in
// config_b64 so the server never has to persist them.
func (c Config) EncryptionKey() [32]byte {
	var key [32]byte
	copy(key[:], pbkdf2.Key([]byte(c.EncryptionKeyHex), encryptionKeySalt, 4096, 32, sha256.New))
	return key
}

func Parse(ctx context.Context, logger *zap.Logger) Config {
	var result Config

	var (
		bindAddr  = flag.String("bindAddr", "localhost", "Local interface address to bind to")
		port      = flag.Int("port", 8080, "Port to listen on")
		addonHost = flag.String("addonHost", "http://localhost:8080", "Public URL used to build playback links")
		logLevel  = flag.String("logLevel", "info", `Log level: "debug", "info", "warn", "error"`)
		logJSON   = flag.Bool("logJSON", true, "Log in JSON (vs console) encoding")

		redisAddr     = flag.String("redisAddr", "", "Redis address (host:port); empty disables Redis and falls back to an in-process cache")
		redisPassword = flag.String("redisPassword", "", "Redis password")
		redisDB       = flag.Int("redisDB", 0, "Redis logical DB index")
		badgerPath    = flag.String("badgerPath", "", "BadgerDB storage path for the on-disk result cache; empty uses os.UserCacheDir()")

		baseURLrd = flag.String("baseURLrd", "https://api.real-debrid.com", "Base URL for RealDebrid")
		baseURLad = flag.String("baseURLad", "https://api.alldebrid.com", "Base URL for AllDebrid")
		baseURLpm = flag.String("baseURLpm", "https://www.premiumize.me/api", "Base URL for Premiumize")
		baseURLtb = flag.String("baseURLtb", "https://api.torbox.app", "Base URL for TorBox")
		baseURLdl = flag.String("baseURLdl", "https://debrid-link.com/api/v2", "Base URL for Debrid-Link")
		baseURLed = flag.String("baseURLed", "https://easydebrid.com/api/v1", "Base URL for EasyDebrid")
		baseURLoc = flag.String("baseURLoc", "https://offcloud.com/api", "Base URL for Offcloud")
		baseURLpp = flag.String("baseURLpp", "https://api-drive.mypikpak.com", "Base URL for PikPak")
		baseURLst = flag.String("baseURLst", "", "Base URL for the debrid-aggregating gateway (e.g. StremThru)")

		jackettURL      = flag.String("jackettURL", "", "Base URL of a Jackett instance; empty disables the Jackett indexer even for users who opted in")
		jackettAPIKey   = flag.String("jackettAPIKey", "", "Jackett API key")
		zileanURL       = flag.String("zileanURL", "", "Base URL of a Zilean instance; empty disables the Zilean indexer even for users who opted in")
		socks5ProxyAddr = flag.String("socks5ProxyAddr", "", "SOCKS5 proxy address (host:port) for public-tracker scraping, e.g. a local TOR client")

		extraHeadersRD = flag.String("extraHeadersRD", "", `Additional headers for RealDebrid requests, e.g. "X-Foo: bar", separated by "\n"`)
		extraHeadersAD = flag.String("extraHeadersAD", "", `Additional headers for AllDebrid requests`)
		extraHeadersPM = flag.String("extraHeadersPM", "", `Additional headers for Premiumize requests`)

		oauth2ClientID     = flag.String("oauth2ClientID", "", "OAuth2 client id for providers using the access_token config shape")
		oauth2ClientSecret = flag.String("oauth2ClientSecret", "", "OAuth2 client secret")
		oauth2AuthURL      = flag.String("oauth2AuthURL", "", "OAuth2 authorization URL")
		oauth2TokenURL     = flag.String("oauth2TokenURL", "", "OAuth2 token URL")
		encryptionKeyHex   = flag.String("encryptionKey", "", "Passphrase used to derive the AES key that encrypts OAuth2 refresh tokens embedded in config_b64")

		rateLimitGlobal        = flag.Int("rateLimitGlobal", 250, "Requests allowed per rateLimitGlobalPeriod, per debrid client")
		rateLimitGlobalPeriod  = flag.Duration("rateLimitGlobalPeriod", 60*time.Second, "Window for rateLimitGlobal")
		rateLimitTorrent       = flag.Int("rateLimitTorrent", 1, "Requests allowed per rateLimitTorrentPeriod against torrent-related endpoints")
		rateLimitTorrentPeriod = flag.Duration("rateLimitTorrentPeriod", 1*time.Second, "Window for rateLimitTorrent")

		cacheAgeAvailability = flag.Duration("cacheAgeAvailability", 24*time.Hour, "Max age of cached debrid availability responses")
		cacheAgeMedia        = flag.Duration("cacheAgeMedia", 24*time.Hour, "Max age of cached raw indexer results per media key")
		cacheAgeStream       = flag.Duration("cacheAgeStream", 20*time.Minute, "TTL of the cached final descriptor list")
		cacheAgeStreamAggr   = flag.Duration("cacheAgeStreamAggr", 10*time.Minute, "TTL of the cached final descriptor list when an aggregator is configured")

		minCachedResults  = flag.Int("minCachedResults", 5, "Stop querying further indexers once this many cached results are found")
		maxResults        = flag.Int("maxResults", 50, "Max descriptors returned per search")
		resultsPerQuality = flag.Int("resultsPerQuality", 3, "Max results kept per resolution bucket, unless sort mode is size-based")

		envPrefix = flag.String("envPrefix", "", "Prefix for environment variables")
	)

	flag.Parse()

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}
	result.EnvPrefix = *envPrefix

	strVal(ctx, "bindAddr", *envPrefix+"BIND_ADDR", bindAddr)
	result.BindAddr = *bindAddr

	intVal(ctx, logger, "port", *envPrefix+"PORT", port)
	result.Port = *port

	strVal(ctx, "addonHost", *envPrefix+"ADDON_HOST", addonHost)
	result.AddonHost = *addonHost

	strVal(ctx, "logLevel", *envPrefix+"LOG_LEVEL", logLevel)
	result.LogLevel = *logLevel

	boolVal(ctx, logger, "logJSON", *envPrefix+"LOG_JSON", logJSON)
	result.LogJSON = *logJSON

	strVal(ctx, "redisAddr", *envPrefix+"REDIS_ADDR", redisAddr)
	result.RedisAddr = *redisAddr
	strVal(ctx, "redisPassword", *envPrefix+"REDIS_PASSWORD", redisPassword)
	result.RedisPassword = *redisPassword
	intVal(ctx, logger, "redisDB", *envPrefix+"REDIS_DB", redisDB)
	result.RedisDB = *redisDB
	strVal(ctx, "badgerPath", *envPrefix+"BADGER_PATH", badgerPath)
	result.BadgerPath = *badgerPath

	strVal(ctx, "baseURLrd", *envPrefix+"BASE_URL_RD", baseURLrd)
	result.BaseURLrd = *baseURLrd
	strVal(ctx, "baseURLad", *envPrefix+"BASE_URL_AD", baseURLad)
	result.BaseURLad = *baseURLad
	strVal(ctx, "baseURLpm", *envPrefix+"BASE_URL_PM", baseURLpm)
	result.BaseURLpm = *baseURLpm
	strVal(ctx, "baseURLtb", *envPrefix+"BASE_URL_TB", baseURLtb)
	result.BaseURLtb = *baseURLtb
	strVal(ctx, "baseURLdl", *envPrefix+"BASE_URL_DL", baseURLdl)
	result.BaseURLdl = *baseURLdl
	strVal(ctx, "baseURLed", *envPrefix+"BASE_URL_ED", baseURLed)
	result.BaseURLed = *baseURLed
	strVal(ctx, "baseURLoc", *envPrefix+"BASE_URL_OC", baseURLoc)
	result.BaseURLoc = *baseURLoc
	strVal(ctx, "baseURLpp", *envPrefix+"BASE_URL_PP", baseURLpp)
	result.BaseURLpp = *baseURLpp
	strVal(ctx, "baseURLst", *envPrefix+"BASE_URL_ST", baseURLst)
	result.BaseURLst = *baseURLst

	strVal(ctx, "jackettURL", *envPrefix+"JACKETT_URL", jackettURL)
	result.JackettURL = *jackettURL
	strVal(ctx, "jackettAPIKey", *envPrefix+"JACKETT_API_KEY", jackettAPIKey)
	result.JackettAPIKey = *jackettAPIKey
	strVal(ctx, "zileanURL", *envPrefix+"ZILEAN_URL", zileanURL)
	result.ZileanURL = *zileanURL
	strVal(ctx, "socks5ProxyAddr", *envPrefix+"SOCKS5_PROXY_ADDR", socks5ProxyAddr)
	result.SOCKS5ProxyAddr = *socks5ProxyAddr

	strVal(ctx, "extraHeadersRD", *envPrefix+"EXTRA_HEADERS_RD", extraHeadersRD)
	result.ExtraHeadersRD = splitHeaders(*extraHeadersRD)
	strVal(ctx, "extraHeadersAD", *envPrefix+"EXTRA_HEADERS_AD", extraHeadersAD)
	result.ExtraHeadersAD = splitHeaders(*extraHeadersAD)
	strVal(ctx, "extraHeadersPM", *envPrefix+"EXTRA_HEADERS_PM", extraHeadersPM)
	result.ExtraHeadersPM = splitHeaders(*extraHeadersPM)

	strVal(ctx, "oauth2ClientID", *envPrefix+"OAUTH2_CLIENT_ID", oauth2ClientID)
	result.OAuth2ClientID = *oauth2ClientID
	strVal(ctx, "oauth2ClientSecret", *envPrefix+"OAUTH2_CLIENT_SECRET", oauth2ClientSecret)
	result.OAuth2ClientSecret = *oauth2ClientSecret
	strVal(ctx, "oauth2AuthURL", *envPrefix+"OAUTH2_AUTH_URL", oauth2AuthURL)
	result.OAuth2AuthURL = *oauth2AuthURL
	strVal(ctx, "oauth2TokenURL", *envPrefix+"OAUTH2_TOKEN_URL", oauth2TokenURL)
	result.OAuth2TokenURL = *oauth2TokenURL
	strVal(ctx, "encryptionKey", *envPrefix+"ENCRYPTION_KEY", encryptionKeyHex)
	result.EncryptionKeyHex = *encryptionKeyHex

	intVal(ctx, logger, "rateLimitGlobal", *envPrefix+"RATE_LIMIT_GLOBAL", rateLimitGlobal)
	result.RateLimitGlobal = *rateLimitGlobal
	durVal(ctx, logger, "rateLimitGlobalPeriod", *envPrefix+"RATE_LIMIT_GLOBAL_PERIOD", rateLimitGlobalPeriod)
	result.RateLimitGlobalPeriod = *rateLimitGlobalPeriod
	intVal(ctx, logger, "rateLimitTorrent", *envPrefix+"RATE_LIMIT_TORRENT", rateLimitTorrent)
	result.RateLimitTorrent = *rateLimitTorrent
	durVal(ctx, logger, "rateLimitTorrentPeriod", *envPrefix+"RATE_LIMIT_TORRENT_PERIOD", rateLimitTorrentPeriod)
	result.RateLimitTorrentPeriod = *rateLimitTorrentPeriod

	durVal(ctx, logger, "cacheAgeAvailability", *envPrefix+"CACHE_AGE_AVAILABILITY", cacheAgeAvailability)
	result.CacheAgeAvailability = *cacheAgeAvailability
	durVal(ctx, logger, "cacheAgeMedia", *envPrefix+"CACHE_AGE_MEDIA", cacheAgeMedia)
	result.CacheAgeMedia = *cacheAgeMedia
	durVal(ctx, logger, "cacheAgeStream", *envPrefix+"CACHE_AGE_STREAM", cacheAgeStream)
	result.CacheAgeStream = *cacheAgeStream
	durVal(ctx, logger, "cacheAgeStreamAggr", *envPrefix+"CACHE_AGE_STREAM_AGGR", cacheAgeStreamAggr)
	result.CacheAgeStreamAggr = *cacheAgeStreamAggr

	intVal(ctx, logger, "minCachedResults", *envPrefix+"MIN_CACHED_RESULTS", minCachedResults)
	result.MinCachedResults = *minCachedResults
	intVal(ctx, logger, "maxResults", *envPrefix+"MAX_RESULTS", maxResults)
	result.MaxResults = *maxResults
	intVal(ctx, logger, "resultsPerQuality", *envPrefix+"RESULTS_PER_QUALITY", resultsPerQuality)
	result.ResultsPerQuality = *resultsPerQuality

	return result
}

func splitHeaders(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, h := range strings.Split(raw, "\n") {
		h = strings.TrimSpace(h)
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

func strVal(ctx context.Context, flagName, envName string, target *string) {
	if isArgSet(ctx, flagName) {
		return
	}
	if val, ok := os.LookupEnv(envName); ok {
		*target = val
	}
}

func intVal(ctx context.Context, logger *zap.Logger, flagName, envName string, target *int) {
	if isArgSet(ctx, flagName) {
		return
	}
	val, ok := os.LookupEnv(envName)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		logger.Fatal("couldn't parse environment variable as int", zap.String("envVar", envName), zap.Error(err))
	}
	*target = n
}

func durVal(ctx context.Context, logger *zap.Logger, flagName, envName string, target *time.Duration) {
	if isArgSet(ctx, flagName) {
		return
	}
	val, ok := os.LookupEnv(envName)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		logger.Fatal("couldn't parse environment variable as duration", zap.String("envVar", envName), zap.Error(err))
	}
	*target = d
}

func boolVal(ctx context.Context, logger *zap.Logger, flagName, envName string, target *bool) {
	if isArgSet(ctx, flagName) {
		return
	}
	val, ok := os.LookupEnv(envName)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		logger.Fatal("couldn't parse environment variable as bool", zap.String("envVar", envName), zap.Error(err))
	}
	*target = b
}

// isArgSet returns true if the flag was explicitly passed on the command
// line, so env vars only ever fill in values the operator didn't override.
func isArgSet(ctx context.Context, arg string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == arg {
			found = true
		}
	})
	return found
}
