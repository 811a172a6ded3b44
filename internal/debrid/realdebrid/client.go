// Package realdebrid implements debrid.Client against the RealDebrid API:
// add magnet -> torrent info -> select files -> poll status -> unrestrict
// link.
package realdebrid

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
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
	BaseURL:  "https://api.real-debrid.com",
	Timeout:  20 * time.Second,
	CacheAge: 24 * time.Hour,
}

// Client implements debrid.Client for RealDebrid.
type Client struct {
	baseURL           string
	apiToken          string
	httpClient        *http.Client
	limiter           *ratelimit.Limiter
	tokenCache        debrid.Cache
	availabilityCache debrid.Cache
	cacheAge          time.Duration
	extraHeaders      map[string]string
	logger            *zap.Logger

	filesMu    sync.RWMutex
	filesCache map[string][]model.AnnouncedFile
}

var _ debrid.Client = (*Client)(nil)

// New creates a RealDebrid client bound to a single user's API token.
func New(opts ClientOptions, apiToken string, limiter *ratelimit.Limiter, tokenCache, availabilityCache debrid.Cache, logger *zap.Logger) (*Client, error) {
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
		apiToken:          apiToken,
		httpClient:        &http.Client{Timeout: opts.Timeout},
		limiter:           limiter,
		tokenCache:        tokenCache,
		availabilityCache: availabilityCache,
		cacheAge:          opts.CacheAge,
		extraHeaders:      extraHeaderMap,
		logger:            logger,
		filesCache:        make(map[string][]model.AnnouncedFile),
	}, nil
}

func (c *Client) Code() string { return "RD" }

// TestToken validates the user's API token, cache-first.
func (c *Client) TestToken(ctx context.Context) error {
	created, found, err := c.tokenCache.Get(c.apiToken)
	if err == nil && found && time.Since(created) < 24*time.Hour {
		return nil
	}

	resBytes, err := c.get(ctx, c.baseURL+"/rest/1.0/user")
	if err != nil {
		return fmt.Errorf("couldn't fetch user info from real-debrid.com: %w", err)
	}
	if !gjson.GetBytes(resBytes, "id").Exists() {
		return errors.New("couldn't parse user info response from real-debrid.com")
	}
	if err := c.tokenCache.Set(c.apiToken); err != nil {
		c.logger.Error("couldn't cache API token", zap.Error(err))
	}
	return nil
}

func (c *Client) CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	result := make(map[string]model.AvailabilityAnnouncement)
	baseURL := c.baseURL + "/rest/1.0/torrents/instantAvailability"
	var toCheck []string
	for _, h := range hashes {
		created, found, err := c.availabilityCache.Get(h)
		if err == nil && found && time.Since(created) < c.cacheAge {
			result[h] = model.AvailabilityAnnouncement{InfoHash: h, Cached: true, Store: "realdebrid", Files: c.cachedFiles(h)}
			continue
		}
		toCheck = append(toCheck, h)
	}
	if len(toCheck) == 0 {
		return result, nil
	}

	reqURL := baseURL + "/" + strings.Join(toCheck, "/")
	resBytes, err := c.get(ctx, reqURL)
	if err != nil {
		if apperror.Is(err, apperror.ProviderClientError) {
			return result, nil
		}
		c.logger.Warn("couldn't check torrents' instant availability on real-debrid.com", zap.Error(err))
		return result, nil
	}

	gjson.ParseBytes(resBytes).ForEach(func(key, value gjson.Result) bool {
		variants := value.Get("rd")
		if !variants.IsArray() || len(variants.Array()) == 0 {
			return true
		}
		infoHash := strings.ToLower(key.String())
		files := filesFromVariant(variants.Array()[0])
		result[infoHash] = model.AvailabilityAnnouncement{InfoHash: infoHash, Cached: true, Store: "realdebrid", Files: files}
		c.rememberFiles(infoHash, files)
		if err := c.availabilityCache.Set(infoHash); err != nil {
			c.logger.Error("couldn't cache availability", zap.Error(err))
		}
		return true
	})
	return result, nil
}

// filesFromVariant extracts the file listing from one "rd" instant-availability
// variant: either a multi-file torrent (files keyed by file ID) or a
// single-file torrent (filename/filesize/id at the variant's top level).
func filesFromVariant(variant gjson.Result) []model.AnnouncedFile {
	if filesObj := variant.Get("files"); filesObj.IsObject() {
		var files []model.AnnouncedFile
		filesObj.ForEach(func(fileID, fileInfo gjson.Result) bool {
			idx, _ := strconv.Atoi(fileID.String())
			files = append(files, model.AnnouncedFile{
				FileIndex: idx,
				FileName:  fileInfo.Get("filename").String(),
				SizeBytes: fileInfo.Get("filesize").Int(),
			})
			return true
		})
		return files
	}
	if variant.Get("filename").Exists() {
		idx, _ := strconv.Atoi(variant.Get("id").String())
		return []model.AnnouncedFile{{
			FileIndex: idx,
			FileName:  variant.Get("filename").String(),
			SizeBytes: variant.Get("filesize").Int(),
		}}
	}
	return nil
}

// rememberFiles/cachedFiles keep the file listing alongside the timestamp-only
// availabilityCache hit, since debrid.Cache only remembers "confirmed as of
// when", not payload data.
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
	data.Set("magnet", magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/rest/1.0/torrents/addMagnet", data)
	if err != nil {
		return debrid.AddedMagnet{}, fmt.Errorf("couldn't add magnet to real-debrid.com: %w", err)
	}
	id := gjson.GetBytes(resBytes, "id").String()
	return debrid.AddedMagnet{ID: id}, nil
}

// GetStreamLink implements the full RealDebrid flow: add magnet, select
// file, poll until downloaded, unrestrict.
func (c *Client) GetStreamLink(ctx context.Context, q debrid.Query, clientIP string) (string, error) {
	data := url.Values{}
	data.Set("magnet", q.Magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/rest/1.0/torrents/addMagnet", data)
	if err != nil {
		return "", fmt.Errorf("couldn't add torrent to real-debrid.com: %w", err)
	}
	torrentInfoURL := gjson.GetBytes(resBytes, "uri").String()

	resBytes, err = c.get(ctx, torrentInfoURL)
	if err != nil {
		return "", fmt.Errorf("couldn't get torrent info from real-debrid.com: %w", err)
	}
	torrentID := gjson.GetBytes(resBytes, "id").String()
	if torrentID == "" {
		return "", errors.New("real-debrid.com response missing \"id\"")
	}
	fileResults := gjson.GetBytes(resBytes, "files").Array()
	if len(fileResults) == 0 {
		return "", apperror.New(apperror.NoFileInTorrent, "no files in torrent")
	}

	var files []model.FullIndexEntry
	for _, fr := range fileResults {
		files = append(files, model.FullIndexEntry{
			FileIndex: int(fr.Get("id").Int()),
			FileName:  fr.Get("path").String(),
			Size:      fr.Get("bytes").Int(),
		})
	}
	fileIdx := debrid.SelectFile(files, q)
	if fileIdx == -1 {
		return "", apperror.New(apperror.NoFileInTorrent, "no suitable file found")
	}

	data = url.Values{}
	data.Set("files", strconv.Itoa(fileIdx))
	if _, err = c.post(ctx, c.baseURL+"/rest/1.0/torrents/selectFiles/"+torrentID, data); err != nil {
		return "", fmt.Errorf("couldn't select files on real-debrid.com: %w", err)
	}

	status := ""
	const waitBudget = 5
	waited := 0
	for status != "downloaded" {
		resBytes, err = c.get(ctx, torrentInfoURL)
		if err != nil {
			return "", fmt.Errorf("couldn't poll torrent status on real-debrid.com: %w", err)
		}
		status = gjson.GetBytes(resBytes, "status").String()
		switch status {
		case "magnet_error", "error", "virus", "dead":
			return "", fmt.Errorf("bad torrent status on real-debrid.com: %v", status)
		}
		if status != "downloading" && status != "downloaded" {
			if waited >= waitBudget {
				return "", fmt.Errorf("torrent still %v on real-debrid.com after waiting", status)
			}
		}
		waited++
		if status != "downloaded" {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	links := gjson.GetBytes(resBytes, "links").Array()
	if len(links) == 0 {
		return "", apperror.New(apperror.NoFileInTorrent, "no links after download")
	}
	debridURL := links[0].String()

	data = url.Values{}
	data.Set("link", debridURL)
	resBytes, err = c.post(ctx, c.baseURL+"/rest/1.0/unrestrict/link", data)
	if err != nil {
		return "", fmt.Errorf("couldn't unrestrict link on real-debrid.com: %w", err)
	}
	return gjson.GetBytes(resBytes, "download").String(), nil
}

// StartBackgroundCaching is not a distinct RealDebrid capability: adding a
// magnet already queues caching. Report unsupported so the orchestrator
// treats it as no-op.
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
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
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

