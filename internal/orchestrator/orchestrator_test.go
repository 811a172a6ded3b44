package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/cache"
	"github.com/beluchon/stream-fusion/internal/container"
	"github.com/beluchon/stream-fusion/internal/debrid"
	"github.com/beluchon/stream-fusion/internal/indexer"
	"github.com/beluchon/stream-fusion/internal/model"
)

type fakeIndexer struct {
	name    string
	results []model.RawResult
	err     error
}

func (f *fakeIndexer) Name() string { return f.name }

func (f *fakeIndexer) Search(ctx context.Context, media model.MediaRequest) ([]model.RawResult, error) {
	return f.results, f.err
}

type fakeProvider struct {
	code          string
	announcements map[string]model.AvailabilityAnnouncement
}

func (f *fakeProvider) Code() string { return f.code }

func (f *fakeProvider) CheckAvailabilityBulk(ctx context.Context, hashes []string, clientIP string) (map[string]model.AvailabilityAnnouncement, error) {
	return f.announcements, nil
}

func (f *fakeProvider) AddMagnet(ctx context.Context, magnet string, clientIP string) (debrid.AddedMagnet, error) {
	return debrid.AddedMagnet{}, nil
}

func (f *fakeProvider) GetStreamLink(ctx context.Context, q debrid.Query, clientIP string) (string, error) {
	return "", nil
}

func (f *fakeProvider) StartBackgroundCaching(ctx context.Context, magnet string) (bool, error) {
	return false, debrid.ErrUnsupported
}

func movieRequest() model.MediaRequest {
	return model.MediaRequest{Type: model.Movie, ID: "tt1234567"}
}

func TestSearchQueriesIndexersAndProvidersOnFirstCall(t *testing.T) {
	hash := "111111111111111111111111111111111111111a"
	idx := &fakeIndexer{name: "1337x", results: []model.RawResult{{InfoHash: hash, RawTitle: "Movie.2020.1080p"}}}
	provider := &fakeProvider{code: "RD", announcements: map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: true, Files: []model.AnnouncedFile{{FileIndex: 0, FileName: "movie.mkv", SizeBytes: 9000}}},
	}}

	store := cache.New(nil, nil, zap.NewNop())
	o := New(store, time.Minute, time.Minute, zap.NewNop())

	cfg := UserConfig{
		UserID:    "user1",
		Indexers:  []indexer.Client{idx},
		Providers: []ProviderClient{{Client: provider, Kind: container.KindRealDebrid}},
		MaxResults: 10,
		AddonHost:  "https://example.com",
		ConfigB64:  "cfg",
	}

	descriptors, err := o.Search(context.Background(), movieRequest(), cfg)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	require.Equal(t, "⚡RD+", descriptors[0].DisplayName)
}

func TestSearchSecondCallHitsStreamCache(t *testing.T) {
	hash := "222222222222222222222222222222222222222b"
	idx := &fakeIndexer{name: "1337x", results: []model.RawResult{{InfoHash: hash, RawTitle: "Movie.2020.1080p"}}}
	provider := &fakeProvider{code: "RD", announcements: map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: true, Files: []model.AnnouncedFile{{FileIndex: 0, FileName: "movie.mkv", SizeBytes: 9000}}},
	}}

	store := cache.New(nil, nil, zap.NewNop())
	o := New(store, time.Minute, time.Minute, zap.NewNop())

	cfg := UserConfig{
		UserID:     "user2",
		Indexers:   []indexer.Client{idx},
		Providers:  []ProviderClient{{Client: provider, Kind: container.KindRealDebrid}},
		MaxResults: 10,
		AddonHost:  "https://example.com",
		ConfigB64:  "cfg",
	}

	_, err := o.Search(context.Background(), movieRequest(), cfg)
	require.NoError(t, err)

	idx.results = nil // second call must not need the indexer again
	descriptors, err := o.Search(context.Background(), movieRequest(), cfg)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
}

func TestSearchForceRefreshBypassesStreamCache(t *testing.T) {
	ctx := context.Background()
	hash := "333333333333333333333333333333333333333c"
	idx := &fakeIndexer{name: "1337x", results: []model.RawResult{{InfoHash: hash, RawTitle: "Movie.2020.1080p"}}}
	provider := &fakeProvider{code: "RD", announcements: map[string]model.AvailabilityAnnouncement{
		hash: {InfoHash: hash, Cached: true, Files: []model.AnnouncedFile{{FileIndex: 0, FileName: "movie.mkv", SizeBytes: 9000}}},
	}}

	store := cache.New(nil, nil, zap.NewNop())
	o := New(store, time.Minute, time.Minute, zap.NewNop())
	cfg := UserConfig{
		UserID:     "user3",
		Indexers:   []indexer.Client{idx},
		Providers:  []ProviderClient{{Client: provider, Kind: container.KindRealDebrid}},
		MaxResults: 10,
	}

	_, err := o.Search(ctx, movieRequest(), cfg)
	require.NoError(t, err)

	require.NoError(t, store.SetFlag(ctx, "force_refresh:all", time.Minute))

	idx.results = []model.RawResult{{InfoHash: hash, RawTitle: "Movie.2020.2160p"}}
	descriptors, err := o.Search(ctx, movieRequest(), cfg)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
}

func TestSearchResolvesInfoHashFromTorrentFileURL(t *testing.T) {
	info := map[string]interface{}{"name": "movie.mkv", "length": int64(1)}
	body, err := bencode.EncodeBytes(map[string]interface{}{"info": info})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	idx := &fakeIndexer{name: "yggflix", results: []model.RawResult{{TorrentFileURL: srv.URL, RawTitle: "Movie.2020.1080p"}}}

	store := cache.New(nil, nil, zap.NewNop())
	o := New(store, time.Minute, time.Minute, zap.NewNop())
	cfg := UserConfig{
		UserID:     "user4",
		Indexers:   []indexer.Client{idx},
		MaxResults: 10,
	}

	descriptors, err := o.Search(context.Background(), movieRequest(), cfg)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	require.Equal(t, "⬇️Movie.2020.1080p", descriptors[0].DisplayName)
}
