// Package playback resolves a decoded playback query to a direct stream
// URL, plus the separate "download service" flow for the configured
// downloader debrid.
package playback

import (
	"context"
	"crypto/sha1"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/apperror"
	"github.com/beluchon/stream-fusion/internal/cache"
	"github.com/beluchon/stream-fusion/internal/debrid"
	"github.com/beluchon/stream-fusion/internal/model"
)

// PlaceholderURL is returned while a download-service request is still in
// progress.
const PlaceholderURL = "https://stream-fusion.local/placeholder.mp4"

type Resolver struct {
	store  *cache.Store
	logger *zap.Logger
}

func New(store *cache.Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve implements the non-download-service entry point.
func (r *Resolver) Resolve(ctx context.Context, userID string, query model.PlaybackQuery, client debrid.Client, storeName string, clientIP string) (string, error) {
	decodedKey := fmt.Sprintf("%s:%s:%d:%d:%s", query.Magnet, query.InfoHash, query.Season, query.Episode, query.Service)
	linkKey := "stream_link:" + userID + ":" + decodedKey
	lockKey := "lock:stream:" + userID + ":" + decodedKey

	acquired, err := r.store.AcquireLock(ctx, lockKey, 60*time.Second)
	if err != nil {
		return "", fmt.Errorf("couldn't acquire stream lock: %w", err)
	}
	if !acquired {
		var link string
		found, err := r.store.PollUntil(ctx, linkKey, &link, time.Second, 30*time.Second)
		if err != nil {
			return "", err
		}
		if !found {
			return "", apperror.New(apperror.ServiceBusy, "stream resolution already in progress, timed out waiting for result")
		}
		return link, nil
	}
	defer r.store.ReleaseLock(ctx, lockKey)

	var link string
	found, err := r.store.GetJSON(ctx, linkKey, &link)
	if err != nil {
		r.logger.Warn("couldn't read stream link cache", zap.Error(err))
	}
	if found {
		return link, nil
	}

	q := debrid.Query{
		Magnet:    query.Magnet,
		InfoHash:  query.InfoHash,
		Type:      model.MediaType(query.Type),
		Season:    query.Season,
		Episode:   query.Episode,
		FileIndex: query.FileIndex,
	}
	link, err = client.GetStreamLink(ctx, q, clientIP)
	if err != nil {
		return "", err
	}

	if err := r.store.SetJSON(ctx, linkKey, link, 20*time.Minute); err != nil {
		r.logger.Error("couldn't cache stream link", zap.Error(err))
	}
	if query.InfoHash != "" {
		// The marker is keyed by the underlying 2-letter code so search-time
		// post-processing finds it for aggregator and direct stores alike.
		if err := r.store.SetFlag(ctx, "working:"+markerStore(storeName)+":"+query.InfoHash, 7*24*time.Hour); err != nil {
			r.logger.Error("couldn't write working marker", zap.Error(err))
		}
	}
	if isAggregatorStore(storeName) {
		if err := r.store.SetFlag(ctx, "force_refresh:all", 60*time.Second); err != nil {
			r.logger.Error("couldn't write force_refresh flag", zap.Error(err))
		}
		if err := r.store.Publish(ctx, cache.InvalidationsChannel, "force_refresh:all"); err != nil {
			r.logger.Error("couldn't publish invalidation", zap.Error(err))
		}
	}
	return link, nil
}

func isAggregatorStore(storeName string) bool {
	return len(storeName) >= 3 && storeName[:3] == "ST:"
}

// markerStore reduces a service name to the lowercase 2-letter code used in
// working:<store>:<hash> keys: "ST:RD" and "RD" both map to "rd".
func markerStore(storeName string) string {
	if isAggregatorStore(storeName) {
		storeName = storeName[3:]
	}
	return strings.ToLower(storeName)
}

// DownloadService implements the download-service entry point: a coarser
// state machine (READY / IN_PROGRESS / absent) tracked per user+query across
// three keys: `download:<user>:<queryhash>` (IN_PROGRESS, 10m),
// `ready:<user>:<queryhash>` (READY, 5m) and `direct_link:<user>:<queryhash>`
// (the resolved URL, 10m).
func (r *Resolver) DownloadService(ctx context.Context, userID string, query model.PlaybackQuery, client debrid.Client, clientIP string) (string, error) {
	qhash := queryHash(query)
	progressKey := "download:" + userID + ":" + qhash
	readyKey := "ready:" + userID + ":" + qhash
	linkKey := "direct_link:" + userID + ":" + qhash

	var ready string
	readyFound, err := r.store.GetJSON(ctx, readyKey, &ready)
	if err != nil {
		r.logger.Warn("couldn't read download ready state", zap.Error(err))
	}

	if readyFound && ready == "READY" {
		var link string
		if found, _ := r.store.GetJSON(ctx, linkKey, &link); found {
			return link, nil
		}
		// READY outlived the cached link: the provider finished the
		// download, so a fresh link is one call away.
		q := debrid.Query{Magnet: query.Magnet, InfoHash: query.InfoHash, Type: model.MediaType(query.Type), Season: query.Season, Episode: query.Episode, FileIndex: query.FileIndex}
		link, err := client.GetStreamLink(ctx, q, clientIP)
		if err == nil && link != "" {
			if err := r.store.SetJSON(ctx, linkKey, link, 10*time.Minute); err != nil {
				r.logger.Error("couldn't cache direct link", zap.Error(err))
			}
			if err := r.store.SetJSON(ctx, readyKey, "READY", 5*time.Minute); err != nil {
				r.logger.Error("couldn't refresh READY state", zap.Error(err))
			}
			return link, nil
		}
	}

	var inProgress string
	progressFound, err := r.store.GetJSON(ctx, progressKey, &inProgress)
	if err != nil {
		r.logger.Warn("couldn't read download progress state", zap.Error(err))
	}

	if progressFound && inProgress == "IN_PROGRESS" {
		q := debrid.Query{Magnet: query.Magnet, InfoHash: query.InfoHash, Type: model.MediaType(query.Type), Season: query.Season, Episode: query.Episode, FileIndex: query.FileIndex}
		link, err := client.GetStreamLink(ctx, q, clientIP)
		if err == nil && link != "" {
			if err := r.store.Delete(ctx, progressKey); err != nil {
				r.logger.Error("couldn't clear IN_PROGRESS state", zap.Error(err))
			}
			if err := r.store.SetJSON(ctx, linkKey, link, 10*time.Minute); err != nil {
				r.logger.Error("couldn't cache direct link", zap.Error(err))
			}
			if err := r.store.SetJSON(ctx, readyKey, "READY", 5*time.Minute); err != nil {
				r.logger.Error("couldn't set READY state", zap.Error(err))
			}
			return link, nil
		}
		return PlaceholderURL, nil
	}

	if err := r.store.SetJSON(ctx, progressKey, "IN_PROGRESS", 10*time.Minute); err != nil {
		r.logger.Error("couldn't set IN_PROGRESS state", zap.Error(err))
	}

	magnet := query.Magnet
	if magnet == "" && query.InfoHash != "" {
		magnet = "magnet:?xt=urn:btih:" + query.InfoHash
	}
	var addErr error
	if query.Magnet != "" {
		_, addErr = client.AddMagnet(ctx, magnet, clientIP)
	} else {
		_, addErr = client.StartBackgroundCaching(ctx, magnet)
	}
	if addErr != nil && addErr != debrid.ErrUnsupported {
		if err := r.store.Delete(ctx, progressKey); err != nil {
			r.logger.Error("couldn't clear IN_PROGRESS state after error", zap.Error(err))
		}
		return "", addErr
	}
	return PlaceholderURL, nil
}

// queryHash derives the `<queryhash>` key component from every field
// that distinguishes one download-service request from another.
func queryHash(query model.PlaybackQuery) string {
	decoded := fmt.Sprintf("%s:%s:%s:%d:%d:%v:%s", query.Magnet, query.InfoHash, query.Type, query.Season, query.Episode, query.FileIndex, query.TorrentDownload)
	sum := sha1.Sum([]byte(decoded))
	return fmt.Sprintf("%x", sum)
}
