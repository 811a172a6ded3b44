// Package aggregator implements debrid.Client against a single upstream
// gateway that itself fronts multiple debrid stores (e.g. StremThru):
// store_name and a bearer token travel as dedicated headers on every
// upstream request, and the produced availability code is ST:<XX>.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/apperror"
	"github.com/beluchon/stream-fusion/internal/debrid"
	"github.com/beluchon/stream-fusion/internal/model"
	"github.com/beluchon/stream-fusion/internal/ratelimit"
)

// storeCode maps an internal store_name to its 2-letter direct code, the
// same codes the direct debrid clients use for Code().
var storeCode = map[string]string{
	"realdebrid": "RD",
	"alldebrid":  "AD",
	"premiumize": "PM",
	"torbox":     "TB",
	"debridlink": "DL",
	"easydebrid": "ED",
	"offcloud":   "OC",
	"pikpak":     "PK",
}

const chunkSize = 50

type ClientOptions struct {
	BaseURL      string
	Timeout      time.Duration
	ExtraHeaders []string
}

var DefaultClientOpts = ClientOptions{
	Timeout: 20 * time.Second,
}

// Client delegates to an upstream gateway for one configured store.
type Client struct {
	baseURL      string
	storeName    string
	storeCode    string
	token        string
	httpClient   *http.Client
	limiter      *ratelimit.Limiter
	extraHeaders map[string]string
	logger       *zap.Logger
}

var _ debrid.Client = (*Client)(nil)

func New(opts ClientOptions, storeName, token string, limiter *ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("opts.BaseURL must not be empty")
	}
	code, ok := storeCode[storeName]
	if !ok {
		return nil, fmt.Errorf("unknown store_name %q", storeName)
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
		storeName:    storeName,
		storeCode:    code,
		token:        token,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		limiter:      limiter,
		extraHeaders: extraHeaderMap,
		logger:       logger,
	}, nil
}

// Code returns the ST:<XX> availability code this client's configured store
// produces.
func (c *Client) Code() string { return "ST:" + c.storeCode }

// CheckAvailabilityBulk groups hashes into chunks of 50 and encodes each
// chunk as comma-separated magnet URIs, per the aggregator's bulk-check
// contract.
func (c *Client) CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	result := make(map[string]model.AvailabilityAnnouncement)
	for start := 0; start < len(hashes); start += chunkSize {
		end := start + chunkSize
		if end > len(hashes) {
			end = len(hashes)
		}
		chunk := hashes[start:end]
		magnets := make([]string, len(chunk))
		for i, h := range chunk {
			magnets[i] = "magnet:?xt=urn:btih:" + h
		}
		reqURL := c.baseURL + "/v0/magnets/check?magnet=" + strings.Join(magnets, ",")
		resBytes, err := c.get(ctx, reqURL)
		if err != nil {
			c.logger.Warn("couldn't check torrents' cache status via aggregator", zap.String("store", c.storeName), zap.Error(err))
			continue
		}
		gjson.GetBytes(resBytes, "data.items").ForEach(func(_, item gjson.Result) bool {
			infoHash := strings.ToLower(item.Get("hash").String())
			if infoHash == "" {
				return true
			}
			cached := isCached(item)
			files := announcedFiles(item)
			result[infoHash] = model.AvailabilityAnnouncement{
				InfoHash: infoHash,
				Files:    files,
				Cached:   cached,
				Store:    c.storeName,
			}
			return true
		})
	}
	return result, nil
}

// isCached derives the store-specific cached flag from whichever field the
// upstream gateway's response actually carries.
func isCached(item gjson.Result) bool {
	if item.Get("cached").Exists() {
		return item.Get("cached").Bool()
	}
	if s := item.Get("status").String(); s != "" {
		return s == "cached" || s == "downloaded"
	}
	if item.Get("ready").Exists() {
		return item.Get("ready").Bool()
	}
	if item.Get("instant").Exists() {
		return item.Get("instant").Bool()
	}
	return false
}

func announcedFiles(item gjson.Result) []model.AnnouncedFile {
	var files []model.AnnouncedFile
	for _, f := range item.Get("files").Array() {
		files = append(files, model.AnnouncedFile{
			FileIndex: int(f.Get("index").Int()),
			FileName:  f.Get("name").String(),
			SizeBytes: f.Get("size").Int(),
		})
	}
	return files
}

func (c *Client) AddMagnet(ctx context.Context, magnet string, clientIP string) (debrid.AddedMagnet, error) {
	reqURL := c.baseURL + "/v0/magnets?magnet=" + magnet
	resBytes, err := c.post(ctx, reqURL)
	if err != nil {
		return debrid.AddedMagnet{}, fmt.Errorf("couldn't add magnet via aggregator: %w", err)
	}
	id := gjson.GetBytes(resBytes, "data.id").String()
	var files []model.FullIndexEntry
	for i, f := range gjson.GetBytes(resBytes, "data.files").Array() {
		files = append(files, model.FullIndexEntry{FileIndex: i, FileName: f.Get("name").String(), Size: f.Get("size").Int()})
	}
	return debrid.AddedMagnet{ID: id, Files: files}, nil
}

func (c *Client) GetStreamLink(ctx context.Context, q debrid.Query, clientIP string) (string, error) {
	reqURL := c.baseURL + "/v0/magnets?magnet=" + q.Magnet
	resBytes, err := c.post(ctx, reqURL)
	if err != nil {
		return "", fmt.Errorf("couldn't add magnet via aggregator: %w", err)
	}
	magnetID := gjson.GetBytes(resBytes, "data.id").String()
	if magnetID == "" {
		return "", errors.New("couldn't determine magnet id in aggregator response")
	}
	fileResults := gjson.GetBytes(resBytes, "data.files").Array()
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

	resBytes, err = c.get(ctx, fmt.Sprintf("%s/v0/magnets/%s/link?file_index=%d", c.baseURL, magnetID, fileIdx))
	if err != nil {
		return "", fmt.Errorf("couldn't resolve link via aggregator: %w", err)
	}
	link := gjson.GetBytes(resBytes, "data.link").String()
	if link == "" {
		return "", apperror.New(apperror.NoFileInTorrent, "empty link for selected file")
	}
	return link, nil
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

func (c *Client) post(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	return c.do(ctx, req)
}

// decorate attaches the store_name and bearer token as dedicated headers, as
// every upstream request to the gateway must per the aggregator contract.
func (c *Client) decorate(req *http.Request) {
	req.Header.Set("X-StremThru-Store-Name", c.storeName)
	req.Header.Set("X-StremThru-Store-Authorization", "Bearer "+c.token)
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
