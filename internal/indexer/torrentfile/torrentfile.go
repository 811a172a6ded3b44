// Package torrentfile decodes a .torrent file body into its info-hash,
// for indexer results that carry a torrent file URL instead of a magnet
// URI.
package torrentfile

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"

	"github.com/zeebo/bencode"
)

// InfoHash fetches url and returns the lowercase 40-hex SHA-1 info-hash of
// its "info" dictionary.
func InfoHash(ctx context.Context, httpClient *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("couldn't fetch torrent file: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad HTTP status fetching torrent file: %v", res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("couldn't read torrent file body: %w", err)
	}
	return infoHashFromBytes(body)
}

func infoHashFromBytes(body []byte) (string, error) {
	var raw map[string]interface{}
	if err := bencode.DecodeBytes(body, &raw); err != nil {
		return "", fmt.Errorf("couldn't decode torrent file: %w", err)
	}
	info, ok := raw["info"]
	if !ok {
		return "", fmt.Errorf("torrent file has no \"info\" dictionary")
	}
	infoBytes, err := bencode.EncodeBytes(info)
	if err != nil {
		return "", fmt.Errorf("couldn't re-encode \"info\" dictionary: %w", err)
	}
	sum := sha1.Sum(infoBytes)
	return fmt.Sprintf("%x", sum), nil
}
