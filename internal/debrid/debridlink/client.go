// Package debridlink implements debrid.Client against the Debrid-Link
// API: add, poll, select, unlock. Availability is a plain presence flag,
// no split semantics.
package debridlink

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
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
	BaseURL:  "https://debrid-link.com/api/v2",
	Timeout:  20 * time.Second,
	CacheAge: 24 * time.Hour,
}

type Client struct {
	baseURL           string
	apiKey            string
	httpClient        *http.Client
	limiter           *ratelimit.Limiter
	availabilityCache debrid.Cache
	cacheAge          time.Duration
	extraHeaders      map[string]string
	logger            *zap.Logger

	filesMu    sync.RWMutex
	filesCache map[string][]model.AnnouncedFile
}

var _ debrid.Client = (*Client)(nil)

func New(opts ClientOptions, apiKey string, limiter *ratelimit.Limiter, availabilityCache debrid.Cache, logger *zap.Logger) (*Client, error) {
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
		availabilityCache: availabilityCache,
		cacheAge:          opts.CacheAge,
		extraHeaders:      extraHeaderMap,
		logger:            logger,
		filesCache:        make(map[string][]model.AnnouncedFile),
	}, nil
}

func (c *Client) Code() string { return "DL" }

func (c *Client) CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	result := make(map[string]model.AvailabilityAnnouncement)
	var toCheck []string
	for _, h := range hashes {
		created, found, err := c.availabilityCache.Get(h)
		if err == nil && found && time.Since(created) < c.cacheAge {
			result[h] = model.AvailabilityAnnouncement{InfoHash: h, Cached: true, Store: "debridlink", Files: c.cachedFiles(h)}
			continue
		}
		toCheck = append(toCheck, h)
	}
	if len(toCheck) == 0 {
		return result, nil
	}

	reqURL := c.baseURL + "/seedbox/cached?url=" + strings.Join(toCheck, ",")
	resBytes, err := c.get(ctx, reqURL)
	if err != nil {
		c.logger.Warn("couldn't check torrents' cache status on debrid-link.com", zap.Error(err))
		return result, nil
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return result, nil
	}
	gjson.GetBytes(resBytes, "value").ForEach(func(key, value gjson.Result) bool {
		names := value.Array()
		if len(names) == 0 {
			return true
		}
		infoHash := strings.ToLower(key.String())
		// seedbox/cached's value map only carries filenames, no sizes.
		files := make([]model.AnnouncedFile, len(names))
		for i, n := range names {
			files[i] = model.AnnouncedFile{FileIndex: i, FileName: n.String()}
		}
		result[infoHash] = model.AvailabilityAnnouncement{InfoHash: infoHash, Cached: true, Store: "debridlink", Files: files}
		c.rememberFiles(infoHash, files)
		if err := c.availabilityCache.Set(infoHash); err != nil {
			c.logger.Error("couldn't cache availability", zap.Error(err))
		}
		return true
	})
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
	data.Set("url", magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/seedbox/add", data)
	if err != nil {
		return debrid.AddedMagnet{}, fmt.Errorf("couldn't add magnet to debrid-link.com: %w", err)
	}
	id := gjson.GetBytes(resBytes, "value.id").String()
	return debrid.AddedMagnet{ID: id}, nil
}

func (c *Client) GetStreamLink(ctx context.Context, q debrid.Query, clientIP string) (string, error) {
	data := url.Values{}
	data.Set("url", q.Magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/seedbox/add", data)
	if err != nil {
		return "", fmt.Errorf("couldn't add magnet to debrid-link.com: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return "", fmt.Errorf("got error response from debrid-link.com: %v", gjson.GetBytes(resBytes, "error").String())
	}
	fileResults := gjson.GetBytes(resBytes, "value.files").Array()
	if len(fileResults) == 0 {
		return "", apperror.New(apperror.NoFileInTorrent, "no files in torrent")
	}
	var files []model.FullIndexEntry
	for i, fr := range fileResults {
		files = append(files, model.FullIndexEntry{FileIndex: i, FileName: fr.Get("name").String(), Size: fr.Get("size").Int()})
	}
	fileIdx := debrid.SelectFile(files, q)
	if fileIdx < 0 || fileIdx >= len(fileResults) {
		return "", apperror.New(apperror.NoFileInTorrent, "no suitable file found")
	}
	link := fileResults[fileIdx].Get("downloadUrl").String()
	if link == "" {
		return "", apperror.New(apperror.NoFileInTorrent, "empty link for selected file")
	}
	return link, nil
}

func (c *Client) StartBackgroundCaching(ctx context.Context, magnet string) (bool, error) {
	return false, debrid.ErrUnsupported
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	return c.do(ctx, req)
}

func (c *Client) post(ctx context.Context, reqURL string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req)
	return c.do(ctx, req)
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.extraHeaders {
		req.Header.Add(k, v)
	}
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
