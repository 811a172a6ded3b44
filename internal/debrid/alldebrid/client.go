// Package alldebrid implements debrid.Client against the AllDebrid API.
//
// Once a hash is present in AllDebrid's magnet/instant response it is
// treated as instantly playable regardless of files; this client therefore
// reports Cached=true on presence rather than gating on AllDebrid's
// "ready" flag, which means something else ("ready" != instant
// availability).
package alldebrid

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/apperror"
	"github.com/beluchon/stream-fusion/internal/debrid"
	"github.com/beluchon/stream-fusion/internal/model"
	"github.com/beluchon/stream-fusion/internal/ratelimit"
)

type ClientOptions struct {
	BaseURL      string
	Timeout      time.Duration
	CacheAge     time.Duration
	ExtraHeaders []string
}

var DefaultClientOpts = ClientOptions{
	BaseURL:  "https://api.alldebrid.com",
	Timeout:  20 * time.Second,
	CacheAge: 24 * time.Hour,
}

type Client struct {
	baseURL           string
	apiKey            string
	httpClient        *http.Client
	limiter           *ratelimit.Limiter
	apiKeyCache       debrid.Cache
	availabilityCache debrid.Cache
	cacheAge          time.Duration
	extraHeaders      map[string]string
	logger            *zap.Logger

	filesMu    sync.RWMutex
	filesCache map[string][]model.AnnouncedFile
}

var _ debrid.Client = (*Client)(nil)

func New(opts ClientOptions, apiKey string, limiter *ratelimit.Limiter, apiKeyCache, availabilityCache debrid.Cache, logger *zap.Logger) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("opts.BaseURL must not be empty")
	}
	extraHeaderMap := make(map[string]string, len(opts.ExtraHeaders))
	for _, h := range opts.ExtraHeaders {
		if h == "" {
			continue
		}
		i := strings.Index(h, ":")
		if i <= 0 || i == len(h)-1 {
			return nil, errors.New(`opts.ExtraHeaders elements must have a format like "X-Foo: bar"`)
		}
		extraHeaderMap[h[:i]] = strings.TrimSpace(h[i+1:])
	}
	return &Client{
		baseURL:           opts.BaseURL,
		apiKey:            apiKey,
		httpClient:        &http.Client{Timeout: opts.Timeout},
		limiter:           limiter,
		apiKeyCache:       apiKeyCache,
		availabilityCache: availabilityCache,
		cacheAge:          opts.CacheAge,
		extraHeaders:      extraHeaderMap,
		logger:            logger,
		filesCache:        make(map[string][]model.AnnouncedFile),
	}, nil
}

func (c *Client) Code() string { return "AD" }

func (c *Client) TestAPIkey(ctx context.Context) error {
	created, found, err := c.apiKeyCache.Get(c.apiKey)
	if err == nil && found && time.Since(created) < 24*time.Hour {
		return nil
	}
	resBytes, err := c.get(ctx, c.baseURL+"/v4/user")
	if err != nil {
		return fmt.Errorf("couldn't fetch user info from api.alldebrid.com: %w", err)
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		return fmt.Errorf("got error response from api.alldebrid.com: %v", gjson.GetBytes(resBytes, "error.message").String())
	}
	if err := c.apiKeyCache.Set(c.apiKey); err != nil {
		c.logger.Error("couldn't cache API key", zap.Error(err))
	}
	return nil
}

func (c *Client) CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	result := make(map[string]model.AvailabilityAnnouncement)
	var toCheck []string
	for _, h := range hashes {
		created, found, err := c.availabilityCache.Get(h)
		if err == nil && found && time.Since(created) < c.cacheAge {
			result[h] = model.AvailabilityAnnouncement{InfoHash: h, Cached: true, Store: "alldebrid", Files: c.cachedFiles(h)}
			continue
		}
		toCheck = append(toCheck, h)
	}
	if len(toCheck) == 0 {
		return result, nil
	}

	data := url.Values{"magnets[]": toCheck}
	resBytes, err := c.post(ctx, c.baseURL+"/v4/magnet/instant", data)
	if err != nil {
		c.logger.Warn("couldn't check torrents' instant availability on api.alldebrid.com", zap.Error(err))
		return result, nil
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		c.logger.Warn("got error response from api.alldebrid.com", zap.String("error", gjson.GetBytes(resBytes, "error.message").String()))
		return result, nil
	}
	// Once the hash is present, it's treated as instantly playable
	// regardless of the "instant" flag's own quirks (see package doc).
	for _, m := range gjson.ParseBytes(resBytes).Get("data.magnets").Array() {
		infoHash := strings.ToLower(m.Get("hash").String())
		if infoHash == "" {
			continue
		}
		var files []model.AnnouncedFile
		for i, f := range m.Get("files").Array() {
			files = append(files, model.AnnouncedFile{
				FileIndex: i,
				FileName:  f.Get("n").String(),
				SizeBytes: f.Get("s").Int(),
			})
		}
		result[infoHash] = model.AvailabilityAnnouncement{InfoHash: infoHash, Cached: true, Store: "alldebrid", Files: files}
		c.rememberFiles(infoHash, files)
		if err := c.availabilityCache.Set(infoHash); err != nil {
			c.logger.Error("couldn't cache availability", zap.Error(err))
		}
	}
	return result, nil
}

func (c *Client) rememberFiles(infoHash string, files []model.AnnouncedFile) {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	c.filesCache[infoHash] = files
}

func (c *Client) cachedFiles(infoHash string) []model.AnnouncedFile {
	c.filesMu.RLock()
	defer c.filesMu.RUnlock()
	return c.filesCache[infoHash]
}

func (c *Client) AddMagnet(ctx context.Context, magnet string, clientIP string) (debrid.AddedMagnet, error) {
	data := url.Values{}
	data.Set("magnets[]", magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/v4/magnet/upload", data)
	if err != nil {
		return debrid.AddedMagnet{}, fmt.Errorf("couldn't add magnet to api.alldebrid.com: %w", err)
	}
	id := gjson.GetBytes(resBytes, "data.magnets.0.id").String()
	return debrid.AddedMagnet{ID: id}, nil
}

func (c *Client) GetStreamLink(ctx context.Context, q debrid.Query, clientIP string) (string, error) {
	data := url.Values{}
	data.Set("magnets[]", q.Magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/v4/magnet/upload", data)
	if err != nil {
		return "", fmt.Errorf("couldn't add magnet to api.alldebrid.com: %w", err)
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		return "", fmt.Errorf("got error response from api.alldebrid.com: %v", gjson.GetBytes(resBytes, "error.message").String())
	}
	magnetID := gjson.GetBytes(resBytes, "data.magnets.0.id").String()
	if magnetID == "" {
		return "", errors.New("couldn't determine magnet ID in upload response from api.alldebrid.com")
	}

	resBytes, err = c.get(ctx, c.baseURL+"/v4/magnet/status?id="+magnetID)
	if err != nil {
		return "", fmt.Errorf("couldn't get magnet status from api.alldebrid.com: %w", err)
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		return "", fmt.Errorf("got error response from api.alldebrid.com: %v", gjson.GetBytes(resBytes, "error.message").String())
	}

	linkResults := gjson.GetBytes(resBytes, "data.magnets.links").Array()
	if len(linkResults) == 0 {
		return "", apperror.New(apperror.NoFileInTorrent, "no links in magnet status")
	}
	var files []model.FullIndexEntry
	for i, lr := range linkResults {
		files = append(files, model.FullIndexEntry{
			FileIndex: i,
			FileName:  lr.Get("filename").String(),
			Size:      lr.Get("size").Int(),
		})
	}
	fileIdx := debrid.SelectFile(files, q)
	if fileIdx < 0 || fileIdx >= len(linkResults) {
		return "", apperror.New(apperror.NoFileInTorrent, "no suitable file found")
	}
	link := linkResults[fileIdx].Get("link").String()
	if link == "" {
		return "", apperror.New(apperror.NoFileInTorrent, "empty link for selected file")
	}

	resBytes, err = c.get(ctx, c.baseURL+"/v4/link/unlock?link="+url.QueryEscape(link))
	if err != nil {
		return "", fmt.Errorf("couldn't unlock link on api.alldebrid.com: %w", err)
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		return "", fmt.Errorf("got error response from api.alldebrid.com: %v", gjson.GetBytes(resBytes, "error.message").String())
	}
	return gjson.GetBytes(resBytes, "data.link").String(), nil
}

func (c *Client) StartBackgroundCaching(ctx context.Context, magnet string) (bool, error) {
	_, err := c.AddMagnet(ctx, magnet, "")
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) authedURL(reqURL string) string {
	sep := "?"
	if strings.Contains(reqURL, "?") {
		sep = "&"
	}
	return reqURL + sep + "agent=streamfusion&apikey=" + c.apiKey
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authedURL(reqURL), nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	return c.do(ctx, req)
}

func (c *Client) post(ctx context.Context, reqURL string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authedURL(reqURL), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req)
	return c.do(ctx, req)
}

func (c *Client) decorate(req *http.Request) {
	for k, v := range c.extraHeaders {
		req.Header.Add(k, v)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/80.0.%d.149 Safari/537.36", rand.Intn(10000)))
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	res, err := debrid.Do(ctx, c.httpClient, c.limiter, c.logger, req)
	if err != nil {
		if res != nil {
			res.Body.Close()
		}
		return nil, err
	}
	defer res.Body.Close()
	return ioutil.ReadAll(res.Body)
}
