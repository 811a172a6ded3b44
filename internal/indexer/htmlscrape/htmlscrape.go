// Package htmlscrape implements indexer.Client against a public HTML
// tracker's search page: issue a GET against a templated search URL, walk
// the result table with goquery, and pull magnet link, title, size and
// seeders out of each row. Per-site differences (column order, selector
// names) live in this package's Config, so one implementation serves
// every public tracker in the orchestrator's priority order.
package htmlscrape

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"

	"github.com/beluchon/stream-fusion/internal/model"
)

// Config selects the CSS selectors for one tracker's search-result page.
type Config struct {
	Name           string
	BaseURL        string
	SearchPathTmpl string // e.g. "/search/%s/1/99/0"
	RowSelector    string
	TitleSelector  string
	MagnetSelector string // "a[href^='magnet:']" if not a per-row link
	SizeSelector   string
	SeedSelector   string
	Privacy        model.Privacy
	Timeout        time.Duration
	// SOCKS5ProxyAddr routes the tracker requests through a SOCKS5 proxy
	// (e.g. a local TOR client) when set. Empty means direct connection.
	SOCKS5ProxyAddr string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	httpClient, err := newHTTPClient(cfg.Timeout, cfg.SOCKS5ProxyAddr)
	if err != nil {
		logger.Warn("couldn't set up SOCKS5 proxy for indexer, connecting directly", zap.String("indexer", cfg.Name), zap.Error(err))
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}
}

// newHTTPClient builds the scraping client. Public trackers commonly sit
// behind interstitial pages that set cookies, so the client always carries
// a publicsuffix-aware cookie jar; a SOCKS5 dialer is added when an address
// is configured.
func newHTTPClient(timeout time.Duration, socks5ProxyAddr string) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("couldn't create cookie jar: %w", err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: timeout,
	}
	if socks5ProxyAddr != "" {
		dialer, err := proxy.SOCKS5("tcp", socks5ProxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("couldn't create SOCKS5 dialer: %w", err)
		}
		client.Transport = &http.Transport{
			Dial: dialer.Dial,
		}
	}
	return client, nil
}

func (c *Client) Name() string { return c.cfg.Name }

var infoHashPattern = regexp.MustCompile(`(?i)btih:([0-9a-f]{40})`)

var sizeUnit = map[string]int64{
	"b": 1, "kb": 1 << 10, "mb": 1 << 20, "gb": 1 << 30, "tb": 1 << 40,
	"kib": 1 << 10, "mib": 1 << 20, "gib": 1 << 30, "tib": 1 << 40,
}

func (c *Client) Search(ctx context.Context, media model.MediaRequest) ([]model.RawResult, error) {
	if len(media.Titles) == 0 {
		return nil, nil
	}
	query := media.Titles[0]
	searchPath := fmt.Sprintf(c.cfg.SearchPathTmpl, url.QueryEscape(query))
	reqURL := strings.TrimRight(c.cfg.BaseURL, "/") + searchPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Warn("couldn't build indexer request", zap.String("indexer", c.cfg.Name), zap.Error(err))
		return nil, nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/90.0 Safari/537.36")

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("indexer request failed", zap.String("indexer", c.cfg.Name), zap.Error(err))
		return nil, nil
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(res.Body)
		c.logger.Warn("indexer returned non-200", zap.String("indexer", c.cfg.Name), zap.Int("status", res.StatusCode), zap.ByteString("body", truncate(body, 200)))
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		c.logger.Warn("couldn't parse indexer HTML", zap.String("indexer", c.cfg.Name), zap.Error(err))
		return nil, nil
	}

	var results []model.RawResult
	doc.Find(c.cfg.RowSelector).Each(func(_ int, row *goquery.Selection) {
		title := strings.TrimSpace(row.Find(c.cfg.TitleSelector).First().Text())
		if title == "" {
			return
		}

		var magnet, infoHash string
		row.Find(c.cfg.MagnetSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, ok := a.Attr("href")
			if !ok || !strings.HasPrefix(href, "magnet:") {
				return true
			}
			magnet = href
			if m := infoHashPattern.FindStringSubmatch(href); len(m) == 2 {
				infoHash = strings.ToLower(m[1])
			}
			return false
		})
		if magnet == "" {
			return
		}

		sizeText := strings.TrimSpace(row.Find(c.cfg.SizeSelector).First().Text())
		seedsText := strings.TrimSpace(row.Find(c.cfg.SeedSelector).First().Text())

		results = append(results, model.RawResult{
			RawTitle:    title,
			InfoHash:    infoHash,
			SizeBytes:   parseSize(sizeText),
			Magnet:      magnet,
			Seeders:     parseInt(seedsText),
			IndexerName: c.cfg.Name,
			Privacy:     c.cfg.Privacy,
		})
	})

	return results, nil
}

func parseInt(s string) int {
	s = strings.ReplaceAll(s, ",", "")
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

var sizePattern = regexp.MustCompile(`(?i)([\d.]+)\s*([KMGT]?i?B)`)

func parseSize(s string) int64 {
	m := sizePattern.FindStringSubmatch(s)
	if len(m) != 3 {
		return 0
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	unit, ok := sizeUnit[strings.ToLower(m[2])]
	if !ok {
		return 0
	}
	return int64(val * float64(unit))
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
