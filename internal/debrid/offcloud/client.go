// Package offcloud implements debrid.Client against the Offcloud API.
package offcloud

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
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
	BaseURL:  "https://offcloud.com/api",
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
	}, nil
}

func (c *Client) Code() string { return "OC" }

func (c *Client) CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	result := make(map[string]model.AvailabilityAnnouncement)
	var toCheck []string
	for _, h := range hashes {
		created, found, err := c.availabilityCache.Get(h)
		if err == nil && found && time.Since(created) < c.cacheAge {
			result[h] = model.AvailabilityAnnouncement{InfoHash: h, Cached: true, Store: "offcloud"}
			continue
		}
		toCheck = append(toCheck, h)
	}
	if len(toCheck) == 0 {
		return result, nil
	}

	data := url.Values{"hashes[]": toCheck}
	resBytes, err := c.post(ctx, c.baseURL+"/cache", data)
	if err != nil {
		c.logger.Warn("couldn't check torrents' cache status on offcloud.com", zap.Error(err))
		return result, nil
	}
	// cachedItems is a bare array of hashes; offcloud.com's /cache endpoint
	// carries no file listing, unlike /cloud/explore/<id>, so Files stays
	// empty here and is only resolved once GetStreamLink actually explores
	// the cloud item.
	gjson.GetBytes(resBytes, "cachedItems").ForEach(func(_, value gjson.Result) bool {
		infoHash := strings.ToLower(value.String())
		result[infoHash] = model.AvailabilityAnnouncement{InfoHash: infoHash, Cached: true, Store: "offcloud"}
		if err := c.availabilityCache.Set(infoHash); err != nil {
			c.logger.Error("couldn't cache availability", zap.Error(err))
		}
		return true
	})
	return result, nil
}

func (c *Client) AddMagnet(ctx context.Context, magnet string, clientIP string) (debrid.AddedMagnet, error) {
	data := url.Values{}
	data.Set("url", magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/cloud", data)
	if err != nil {
		return debrid.AddedMagnet{}, fmt.Errorf("couldn't add magnet to offcloud.com: %w", err)
	}
	id := gjson.GetBytes(resBytes, "requestId").String()
	return debrid.AddedMagnet{ID: id}, nil
}

func (c *Client) GetStreamLink(ctx context.Context, q debrid.Query, clientIP string) (string, error) {
	data := url.Values{}
	data.Set("url", q.Magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/cloud", data)
	if err != nil {
		return "", fmt.Errorf("couldn't add magnet to offcloud.com: %w", err)
	}
	requestID := gjson.GetBytes(resBytes, "requestId").String()
	if requestID == "" {
		return "", errors.New("couldn't determine request ID in response from offcloud.com")
	}

	resBytes, err = c.get(ctx, c.baseURL+"/cloud/explore/"+requestID)
	if err != nil {
		return "", fmt.Errorf("couldn't list torrent files on offcloud.com: %w", err)
	}
	fileResults := gjson.ParseBytes(resBytes).Array()
	if len(fileResults) == 0 {
		return "", apperror.New(apperror.NoFileInTorrent, "no files in torrent")
	}
	var files []model.FullIndexEntry
	for i, fr := range fileResults {
		files = append(files, model.FullIndexEntry{FileIndex: i, FileName: fr.String(), Size: 0})
	}
	fileIdx := debrid.SelectFile(files, q)
	if fileIdx < 0 || fileIdx >= len(fileResults) {
		return "", apperror.New(apperror.NoFileInTorrent, "no suitable file found")
	}
	return c.baseURL + "/cloud/download/" + requestID + "/" + url.PathEscape(fileResults[fileIdx].String()), nil
}

func (c *Client) StartBackgroundCaching(ctx context.Context, magnet string) (bool, error) {
	_, err := c.AddMagnet(ctx, magnet, "")
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authed(reqURL), nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	return c.do(ctx, req)
}

func (c *Client) post(ctx context.Context, reqURL string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authed(reqURL), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req)
	return c.do(ctx, req)
}

func (c *Client) authed(reqURL string) string {
	sep := "?"
	if strings.Contains(reqURL, "?") {
		sep = "&"
	}
	return reqURL + sep + "key=" + url.QueryEscape(c.apiKey)
}

func (c *Client) decorate(req *http.Request) {
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
