// Package zilean implements indexer.Client against a Zilean instance's
// DMM filtered API: a pre-aggregated database of release hashes, queried
// by title plus season/episode. Responses for a given query are held in a
// per-instance 15-minute cache, since the underlying DMM dataset changes
// slowly and the same episode is typically searched in bursts.
package zilean

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/model"
)

const resultCacheTTL = 15 * time.Minute

type Client struct {
	baseURL    string
	httpClient *http.Client
	results    *gocache.Cache
	logger     *zap.Logger
}

func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		results:    gocache.New(resultCacheTTL, 5*time.Minute),
		logger:     logger,
	}
}

func (c *Client) Name() string { return "Zilean" }

func (c *Client) Search(ctx context.Context, media model.MediaRequest) ([]model.RawResult, error) {
	if len(media.Titles) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("Query", media.Titles[0])
	if media.Type == model.SeriesEpisode {
		params.Set("Season", strconv.Itoa(media.Season))
		params.Set("Episode", strconv.Itoa(media.Episode))
	} else if media.Year > 0 {
		params.Set("Year", strconv.Itoa(media.Year))
	}
	reqURL := fmt.Sprintf("%s/dmm/filtered?%s", c.baseURL, params.Encode())

	if cached, ok := c.results.Get(reqURL); ok {
		return cached.([]model.RawResult), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Warn("couldn't build zilean request", zap.Error(err))
		return nil, nil
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("zilean request failed", zap.Error(err))
		return nil, nil
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		c.logger.Warn("zilean returned non-200", zap.Int("status", res.StatusCode))
		return nil, nil
	}
	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		c.logger.Warn("couldn't read zilean response", zap.Error(err))
		return nil, nil
	}

	var results []model.RawResult
	gjson.ParseBytes(body).ForEach(func(_, item gjson.Result) bool {
		infoHash := strings.ToLower(item.Get("info_hash").String())
		title := item.Get("raw_title").String()
		if infoHash == "" || title == "" {
			return true
		}
		var languages []string
		for _, l := range item.Get("languages").Array() {
			languages = append(languages, l.String())
		}
		results = append(results, model.RawResult{
			RawTitle:    title,
			InfoHash:    infoHash,
			SizeBytes:   item.Get("size").Int(),
			Magnet:      "magnet:?xt=urn:btih:" + infoHash + "&dn=" + url.QueryEscape(title),
			Languages:   languages,
			IndexerName: c.Name(),
			Privacy:     model.Public,
		})
		return true
	})

	c.results.Set(reqURL, results, resultCacheTTL)
	return results, nil
}
