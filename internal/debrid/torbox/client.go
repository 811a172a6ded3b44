// Package torbox implements debrid.Client against the TorBox API: add
// torrent, poll for completion, request a direct download link for the
// selected file.
//
// Per DESIGN.md's open-question decision, TorBox reports availability as
// plain presence (no separate "instantly playable" flag to split out, unlike
// Premiumize); a hash absent from TorBox's check response maps to an empty
// availability_code rather than a dedicated "⬇️TB" marker, matching the
// "None" convention TorBox's own API uses for uncached hits.
package torbox

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
	BaseURL:  "https://api.torbox.app",
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

func (c *Client) Code() string { return "TB" }

// CheckAvailabilityBulk reports plain presence: a hash missing from the
// result map means TorBox has no cached copy at all (the "None" convention),
// not a partially-cached state.
func (c *Client) CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	result := make(map[string]model.AvailabilityAnnouncement)
	var toCheck []string
	for _, h := range hashes {
		created, found, err := c.availabilityCache.Get(h)
		if err == nil && found && time.Since(created) < c.cacheAge {
			result[h] = model.AvailabilityAnnouncement{InfoHash: h, Cached: true, Store: "torbox", Files: c.cachedFiles(h)}
			continue
		}
		toCheck = append(toCheck, h)
	}
	if len(toCheck) == 0 {
		return result, nil
	}

	reqURL := c.baseURL + "/v1/api/torrents/checkcached?hash=" + strings.Join(toCheck, ",") + "&format=list&list_files=true"
	resBytes, err := c.get(ctx, reqURL)
	if err != nil {
		c.logger.Warn("couldn't check torrents' cache status on api.torbox.app", zap.Error(err))
		return result, nil
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		c.logger.Warn("got error response from api.torbox.app", zap.String("error", gjson.GetBytes(resBytes, "error").String()))
		return result, nil
	}
	for _, item := range gjson.GetBytes(resBytes, "data").Array() {
		infoHash := strings.ToLower(item.Get("hash").String())
		if infoHash == "" {
			continue
		}
		var files []model.AnnouncedFile
		// checkcached's file entries carry name/size but no stable file ID,
		// so the array position is the best available FileIndex.
		for i, f := range item.Get("files").Array() {
			files = append(files, model.AnnouncedFile{
				FileIndex: i,
				FileName:  f.Get("name").String(),
				SizeBytes: f.Get("size").Int(),
			})
		}
		result[infoHash] = model.AvailabilityAnnouncement{InfoHash: infoHash, Cached: true, Store: "torbox", Files: files}
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
	data.Set("magnet", magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/v1/api/torrents/createtorrent", data)
	if err != nil {
		return debrid.AddedMagnet{}, fmt.Errorf("couldn't add magnet to api.torbox.app: %w", err)
	}
	id := gjson.GetBytes(resBytes, "data.torrent_id").String()
	return debrid.AddedMagnet{ID: id}, nil
}

func (c *Client) GetStreamLink(ctx context.Context, q debrid.Query, clientIP string) (string, error) {
	data := url.Values{}
	data.Set("magnet", q.Magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/v1/api/torrents/createtorrent", data)
	if err != nil {
		return "", fmt.Errorf("couldn't add magnet to api.torbox.app: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return "", fmt.Errorf("got error response from api.torbox.app: %v", gjson.GetBytes(resBytes, "error").String())
	}
	torrentID := gjson.GetBytes(resBytes, "data.torrent_id").String()
	if torrentID == "" {
		return "", errors.New("couldn't determine torrent ID in response from api.torbox.app")
	}

	status := ""
	const waitBudget = 5
	waited := 0
	var fileResults []gjson.Result
	for status != "completed" {
		resBytes, err = c.get(ctx, c.baseURL+"/v1/api/torrents/mylist?id="+torrentID)
		if err != nil {
			return "", fmt.Errorf("couldn't poll torrent status on api.torbox.app: %w", err)
		}
		status = gjson.GetBytes(resBytes, "data.download_state").String()
		if status == "error" || status == "failed" {
			return "", fmt.Errorf("bad torrent status on api.torbox.app: %v", status)
		}
		if status != "completed" {
			if waited >= waitBudget {
				return "", fmt.Errorf("torrent still %v on api.torbox.app after waiting", status)
			}
			waited++
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		fileResults = gjson.GetBytes(resBytes, "data.files").Array()
	}
	if len(fileResults) == 0 {
		return "", apperror.New(apperror.NoFileInTorrent, "no files in torrent")
	}

	var files []model.FullIndexEntry
	for _, fr := range fileResults {
		files = append(files, model.FullIndexEntry{
			FileIndex: int(fr.Get("id").Int()),
			FileName:  fr.Get("name").String(),
			Size:      fr.Get("size").Int(),
		})
	}
	fileIdx := debrid.SelectFile(files, q)
	if fileIdx == -1 {
		return "", apperror.New(apperror.NoFileInTorrent, "no suitable file found")
	}

	reqURL := fmt.Sprintf("%s/v1/api/torrents/requestdl?token=%s&torrent_id=%s&file_id=%d",
		c.baseURL, url.QueryEscape(c.apiKey), torrentID, fileIdx)
	resBytes, err = c.getNoAuth(ctx, reqURL)
	if err != nil {
		return "", fmt.Errorf("couldn't request download link from api.torbox.app: %w", err)
	}
	return gjson.GetBytes(resBytes, "data").String(), nil
}

func (c *Client) StartBackgroundCaching(ctx context.Context, magnet string) (bool, error) {
	_, err := c.AddMagnet(ctx, magnet, "")
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	return c.do(ctx, req)
}

// getNoAuth is used for the one endpoint (requestdl) that takes its token as
// a query parameter instead of an Authorization header.
func (c *Client) getNoAuth(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.extraHeaders {
		req.Header.Add(k, v)
	}
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
