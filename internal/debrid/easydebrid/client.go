// Package easydebrid implements debrid.Client against the EasyDebrid API.
// EasyDebrid has no bulk instant-availability endpoint at the time of
// writing, so CheckAvailabilityBulk falls back to per-hash AddMagnet probes
// capped by the shared rate limiter; StartBackgroundCaching is unsupported.
package easydebrid

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
	ExtraHeaders []string
}

var DefaultClientOpts = ClientOptions{
	BaseURL: "https://easydebrid.com/api/v1",
	Timeout: 20 * time.Second,
}

type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	limiter      *ratelimit.Limiter
	extraHeaders map[string]string
	logger       *zap.Logger
}

var _ debrid.Client = (*Client)(nil)

func New(opts ClientOptions, apiKey string, limiter *ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
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
		baseURL:      opts.BaseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		limiter:      limiter,
		extraHeaders: extraHeaderMap,
		logger:       logger,
	}, nil
}

func (c *Client) Code() string { return "ED" }

// CheckAvailabilityBulk probes each hash individually via AddMagnet since
// EasyDebrid exposes no bulk check; a failed probe is simply omitted rather
// than treated as a fatal error.
func (c *Client) CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	result := make(map[string]model.AvailabilityAnnouncement)
	for _, h := range hashes {
		magnet := "magnet:?xt=urn:btih:" + h
		added, err := c.AddMagnet(ctx, magnet, clientIP)
		if err != nil || len(added.Files) == 0 {
			continue
		}
		result[h] = model.AvailabilityAnnouncement{InfoHash: h, Cached: true, Store: "easydebrid"}
	}
	return result, nil
}

func (c *Client) AddMagnet(ctx context.Context, magnet string, clientIP string) (debrid.AddedMagnet, error) {
	data := url.Values{}
	data.Set("magnet", magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/link/add", data)
	if err != nil {
		return debrid.AddedMagnet{}, err
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return debrid.AddedMagnet{}, fmt.Errorf("got error response from easydebrid.com: %v", gjson.GetBytes(resBytes, "message").String())
	}
	fileResults := gjson.GetBytes(resBytes, "data.files").Array()
	var files []model.FullIndexEntry
	for i, fr := range fileResults {
		files = append(files, model.FullIndexEntry{FileIndex: i, FileName: fr.Get("filename").String(), Size: fr.Get("filesize").Int()})
	}
	return debrid.AddedMagnet{Files: files}, nil
}

func (c *Client) GetStreamLink(ctx context.Context, q debrid.Query, clientIP string) (string, error) {
	data := url.Values{}
	data.Set("magnet", q.Magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/link/add", data)
	if err != nil {
		return "", fmt.Errorf("couldn't add magnet to easydebrid.com: %w", err)
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		return "", fmt.Errorf("got error response from easydebrid.com: %v", gjson.GetBytes(resBytes, "message").String())
	}
	fileResults := gjson.GetBytes(resBytes, "data.files").Array()
	if len(fileResults) == 0 {
		return "", apperror.New(apperror.NoFileInTorrent, "no files in torrent")
	}
	var files []model.FullIndexEntry
	for i, fr := range fileResults {
		files = append(files, model.FullIndexEntry{FileIndex: i, FileName: fr.Get("filename").String(), Size: fr.Get("filesize").Int()})
	}
	fileIdx := debrid.SelectFile(files, q)
	if fileIdx < 0 || fileIdx >= len(fileResults) {
		return "", apperror.New(apperror.NoFileInTorrent, "no suitable file found")
	}
	link := fileResults[fileIdx].Get("url").String()
	if link == "" {
		return "", apperror.New(apperror.NoFileInTorrent, "empty link for selected file")
	}
	return link, nil
}

func (c *Client) StartBackgroundCaching(ctx context.Context, magnet string) (bool, error) {
	return false, debrid.ErrUnsupported
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
