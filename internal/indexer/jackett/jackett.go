// Package jackett implements indexer.Client against a Jackett instance's
// Torznab API: one aggregated endpoint fronting whatever trackers the
// operator configured in Jackett itself. Results arrive as Torznab RSS
// (XML) with the info-hash and seeders carried in torznab:attr elements.
package jackett

import (
	"context"
	"encoding/xml"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/model"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) Name() string { return "Jackett" }

// rss is the Torznab response envelope.
type rss struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title     string `xml:"title"`
	GUID      string `xml:"guid"`
	Link      string `xml:"link"`
	Size      int64  `xml:"size"`
	Enclosure struct {
		URL    string `xml:"url,attr"`
		Length int64  `xml:"length,attr"`
	} `xml:"enclosure"`
	Attrs []attr `xml:"attr"`
}

type attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (c *Client) Search(ctx context.Context, media model.MediaRequest) ([]model.RawResult, error) {
	if len(media.Titles) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("q", media.Titles[0])
	if media.Type == model.SeriesEpisode {
		params.Set("t", "tvsearch")
		params.Set("season", strconv.Itoa(media.Season))
		params.Set("ep", strconv.Itoa(media.Episode))
	} else {
		params.Set("t", "movie")
		if media.Year > 0 {
			params.Set("year", strconv.Itoa(media.Year))
		}
	}
	reqURL := fmt.Sprintf("%s/api/v2.0/indexers/all/results/torznab/api?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Warn("couldn't build jackett request", zap.Error(err))
		return nil, nil
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("jackett request failed", zap.Error(err))
		return nil, nil
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		c.logger.Warn("jackett returned non-200", zap.Int("status", res.StatusCode))
		return nil, nil
	}
	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		c.logger.Warn("couldn't read jackett response", zap.Error(err))
		return nil, nil
	}

	var envelope rss
	if err := xml.Unmarshal(body, &envelope); err != nil {
		c.logger.Warn("couldn't parse jackett XML", zap.Error(err))
		return nil, nil
	}

	var results []model.RawResult
	for _, it := range envelope.Channel.Items {
		attrs := make(map[string]string, len(it.Attrs))
		for _, a := range it.Attrs {
			attrs[a.Name] = a.Value
		}

		infoHash := strings.ToLower(attrs["infohash"])
		if infoHash == "" {
			infoHash = extractInfoHash(it.GUID)
		}
		if infoHash == "" {
			infoHash = extractInfoHash(it.Link)
		}

		downloadURL := firstNonEmpty(it.Link, it.GUID, it.Enclosure.URL)
		var magnet, torrentURL string
		if strings.HasPrefix(downloadURL, "magnet:") {
			magnet = downloadURL
		} else if downloadURL != "" {
			torrentURL = downloadURL
		}
		if magnet == "" && infoHash != "" {
			magnet = "magnet:?xt=urn:btih:" + infoHash + "&dn=" + url.QueryEscape(it.Title)
		}
		if magnet == "" && infoHash == "" && torrentURL == "" {
			continue
		}

		seeders, _ := strconv.Atoi(attrs["seeders"])
		size := it.Size
		if size == 0 {
			size = it.Enclosure.Length
		}
		if size == 0 {
			size, _ = strconv.ParseInt(attrs["size"], 10, 64)
		}

		results = append(results, model.RawResult{
			RawTitle:       it.Title,
			InfoHash:       infoHash,
			SizeBytes:      size,
			Magnet:         magnet,
			TorrentFileURL: torrentURL,
			Seeders:        seeders,
			IndexerName:    c.Name(),
			Privacy:        model.Public,
		})
	}
	return results, nil
}

var infoHashPattern = regexp.MustCompile(`(?i)btih:([0-9a-f]{40})`)

func extractInfoHash(s string) string {
	if m := infoHashPattern.FindStringSubmatch(s); len(m) == 2 {
		return strings.ToLower(m[1])
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
