// Package premiumize implements debrid.Client against the Premiumize API.
//
// Presence and "instantly playable"
// are split: CheckAvailabilityBulk returns an entry for every hash
// Premiumize's cache/check call accepts (presence), with Cached set only
// when Premiumize's boolean response element for that hash is true. The
// container (internal/container) is responsible for keeping these as two
// separate booleans (availability_code="PM" vs pm_cached).
package premiumize

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
	BaseURL         string
	Timeout         time.Duration
	CacheAge        time.Duration
	ExtraHeaders    []string
	UseOAUTH2       bool
	ForwardOriginIP bool
}

var DefaultClientOpts = ClientOptions{
	BaseURL:  "https://www.premiumize.me/api",
	Timeout:  20 * time.Second,
	CacheAge: 24 * time.Hour,
}

type Client struct {
	baseURL           string
	keyOrToken        string
	httpClient        *http.Client
	limiter           *ratelimit.Limiter
	apiKeyCache       debrid.Cache
	availabilityCache debrid.Cache
	cacheAge          time.Duration
	extraHeaders      map[string]string
	useOAUTH2         bool
	forwardOriginIP   bool
	logger            *zap.Logger
}

var _ debrid.Client = (*Client)(nil)

func New(opts ClientOptions, keyOrToken string, limiter *ratelimit.Limiter, apiKeyCache, availabilityCache debrid.Cache, logger *zap.Logger) (*Client, error) {
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
		keyOrToken:        keyOrToken,
		httpClient:        &http.Client{Timeout: opts.Timeout},
		limiter:           limiter,
		apiKeyCache:       apiKeyCache,
		availabilityCache: availabilityCache,
		cacheAge:          opts.CacheAge,
		extraHeaders:      extraHeaderMap,
		useOAUTH2:         opts.UseOAUTH2,
		forwardOriginIP:   opts.ForwardOriginIP,
		logger:            logger,
	}, nil
}

func (c *Client) Code() string { return "PM" }

func (c *Client) TestAPIkey(ctx context.Context) error {
	created, found, err := c.apiKeyCache.Get(c.keyOrToken)
	if err == nil && found && time.Since(created) < 24*time.Hour {
		return nil
	}
	resBytes, err := c.get(ctx, c.baseURL+"/account/info")
	if err != nil {
		return fmt.Errorf("couldn't fetch user info from www.premiumize.me: %w", err)
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		return fmt.Errorf("got error response from www.premiumize.me: %v", gjson.GetBytes(resBytes, "message").String())
	}
	if err := c.apiKeyCache.Set(c.keyOrToken); err != nil {
		c.logger.Error("couldn't cache API key", zap.Error(err))
	}
	return nil
}

// CheckAvailabilityBulk reports presence for every hash Premiumize's
// cache/check accepts, with Cached reflecting Premiumize's own boolean
// ("instantly downloadable") distinct from mere presence.
func (c *Client) CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	data := url.Values{"items[]": hashes}
	resBytes, err := c.post(ctx, c.baseURL+"/cache/check", data, false)
	if err != nil {
		c.logger.Warn("couldn't check torrents' instant availability on www.premiumize.me", zap.Error(err))
		return nil, nil
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		c.logger.Warn("got error response from www.premiumize.me", zap.String("error", gjson.GetBytes(resBytes, "message").String()))
		return nil, nil
	}

	result := make(map[string]model.AvailabilityAnnouncement)
	parsed := gjson.ParseBytes(resBytes)
	responses := parsed.Get("response").Array()
	filenames := parsed.Get("filename").Array()
	filesizes := parsed.Get("filesize").Array()
	for i, present := range responses {
		if i >= len(hashes) {
			break
		}
		if !present.Exists() {
			continue
		}
		infoHash := hashes[i]
		cached := present.Bool()
		ann := model.AvailabilityAnnouncement{InfoHash: infoHash, Cached: cached, Store: "premiumize"}
		// cache/check returns filename/filesize arrays parallel to response,
		// one entry per hash, so there's at most a single file per hash here.
		if cached && i < len(filenames) && filenames[i].Exists() {
			size := int64(0)
			if i < len(filesizes) {
				size = filesizes[i].Int()
			}
			ann.Files = []model.AnnouncedFile{{FileIndex: 0, FileName: filenames[i].String(), SizeBytes: size}}
		}
		result[infoHash] = ann
		if cached {
			if err := c.availabilityCache.Set(infoHash); err != nil {
				c.logger.Error("couldn't cache availability", zap.Error(err))
			}
		}
	}
	return result, nil
}

func (c *Client) AddMagnet(ctx context.Context, magnet string, clientIP string) (debrid.AddedMagnet, error) {
	data := url.Values{}
	data.Set("src", magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/transfer/directdl", data, true, clientIP)
	if err != nil {
		return debrid.AddedMagnet{}, err
	}
	content := gjson.GetBytes(resBytes, "content").Array()
	var files []model.FullIndexEntry
	for i, item := range content {
		files = append(files, model.FullIndexEntry{FileIndex: i, FileName: item.Get("path").String(), Size: item.Get("size").Int()})
	}
	return debrid.AddedMagnet{Files: files}, nil
}

func (c *Client) GetStreamLink(ctx context.Context, q debrid.Query, clientIP string) (string, error) {
	data := url.Values{}
	data.Set("src", q.Magnet)
	resBytes, err := c.post(ctx, c.baseURL+"/transfer/directdl", data, true, clientIP)
	if err != nil {
		return "", fmt.Errorf("couldn't add magnet to www.premiumize.me: %w", err)
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		return "", fmt.Errorf("got error response from www.premiumize.me: %v", gjson.GetBytes(resBytes, "message").String())
	}
	content := gjson.GetBytes(resBytes, "content").Array()
	if len(content) == 0 {
		return "", apperror.New(apperror.NoFileInTorrent, "no content in directdl response")
	}
	var files []model.FullIndexEntry
	for i, item := range content {
		files = append(files, model.FullIndexEntry{FileIndex: i, FileName: item.Get("path").String(), Size: item.Get("size").Int()})
	}
	fileIdx := debrid.SelectFile(files, q)
	if fileIdx < 0 || fileIdx >= len(content) {
		return "", apperror.New(apperror.NoFileInTorrent, "no suitable file found")
	}
	link := content[fileIdx].Get("link").String()
	if link == "" {
		return "", apperror.New(apperror.NoFileInTorrent, "empty link for selected file")
	}
	return link, nil
}

func (c *Client) StartBackgroundCaching(ctx context.Context, magnet string) (bool, error) {
	return false, debrid.ErrUnsupported
}

func (c *Client) authParam() string {
	if c.useOAUTH2 {
		return "access_token=" + c.keyOrToken
	}
	return "apikey=" + c.keyOrToken
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	reqURL += "?" + c.authParam()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	return c.do(ctx, req)
}

func (c *Client) post(ctx context.Context, reqURL string, data url.Values, form bool, clientIP ...string) ([]byte, error) {
	reqURL += "?" + c.authParam()
	if c.forwardOriginIP && len(clientIP) > 0 && clientIP[0] != "" {
		data = cloneValues(data)
		data.Set("download_ip", clientIP[0])
	}
	var req *http.Request
	var err error
	if form {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(data.Encode()))
	} else {
		for k, vals := range data {
			for _, v := range vals {
				reqURL += "&" + url.QueryEscape(k) + "=" + url.QueryEscape(v)
			}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	}
	if err != nil {
		return nil, err
	}
	if form {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	c.decorate(req)
	return c.do(ctx, req)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
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
