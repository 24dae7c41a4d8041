// Package library provides playlist retrieval with a local cache fallback.
package library

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicalchairs/internal/domain/playlist"
	"github.com/osa030/musicalchairs/internal/domain/track"
)

// Errors
var (
	ErrFetchFailure = errors.New("fetch failed")
	ErrNetwork      = errors.New("network error")
	ErrAuth         = errors.New("authorization error")
)

// LibraryPlaylistsKey is the cache key of the library playlist sequence.
const LibraryPlaylistsKey = "library-playlists"

// PlaylistTracksKey returns the cache key of a playlist's tracks.
func PlaylistTracksKey(playlistID string) string {
	return "playlist-tracks:" + playlistID
}

// Catalog is the remote music catalog. Implementations mark failures with
// ErrNetwork or ErrAuth.
type Catalog interface {
	LibraryPlaylists(ctx context.Context) ([]playlist.Playlist, error)
	PlaylistTracks(ctx context.Context, playlistID string) ([]track.Track, error)
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
}

// Cache stores opaque payloads under string keys.
type Cache interface {
	// GetCache reports ok=false when the key has never been stored.
	GetCache(ctx context.Context, key string) (payload []byte, fetchedAt time.Time, ok bool, err error)
	PutCache(ctx context.Context, key string, payload []byte) error
}

// Provider fetches from the catalog and falls back to the last successful
// result when the catalog fails.
type Provider struct {
	catalog Catalog
	cache   Cache
}

// NewProvider creates a provider.
func NewProvider(catalog Catalog, cache Cache) *Provider {
	return &Provider{
		catalog: catalog,
		cache:   cache,
	}
}

// FetchLibraryPlaylists returns the user's library playlists. When the
// catalog fails the cached sequence is returned; without one, the result
// is empty and the error is marked ErrFetchFailure.
func (p *Provider) FetchLibraryPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	return fetchWithFallback(ctx, p, LibraryPlaylistsKey, func(ctx context.Context) ([]playlist.Playlist, error) {
		return p.catalog.LibraryPlaylists(ctx)
	})
}

// PlaylistTracks returns a playlist's tracks in play order, with the same
// cache fallback as FetchLibraryPlaylists.
func (p *Provider) PlaylistTracks(ctx context.Context, playlistID string) ([]track.Track, error) {
	if playlistID == "" {
		return []track.Track{}, errors.Mark(errors.New("playlist id is required"), ErrFetchFailure)
	}
	return fetchWithFallback(ctx, p, PlaylistTracksKey(playlistID), func(ctx context.Context) ([]track.Track, error) {
		return p.catalog.PlaylistTracks(ctx, playlistID)
	})
}

// Track returns a single track. Single tracks are not cached.
func (p *Provider) Track(ctx context.Context, trackID string) (*track.Track, error) {
	t, err := p.catalog.GetTrack(ctx, trackID)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to get track %s", trackID), ErrFetchFailure)
	}
	return t, nil
}

func fetchWithFallback[T any](ctx context.Context, p *Provider, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	items, err := fetch(ctx)
	if err == nil {
		p.store(ctx, key, items)
		return items, nil
	}

	zlog.Warn().Err(err).Msgf("library: fetch failed, trying cache: key=%s auth=%t network=%t",
		key, errors.Is(err, ErrAuth), errors.Is(err, ErrNetwork))

	cached, fetchedAt, ok := loadCached[T](ctx, p, key)
	if ok {
		zlog.Info().Msgf("library: serving cached result: key=%s count=%d fetched_at=%s",
			key, len(cached), fetchedAt.Format(time.RFC3339))
		return cached, nil
	}
	return []T{}, errors.Mark(errors.Wrapf(err, "failed to fetch %s", key), ErrFetchFailure)
}

func (p *Provider) store(ctx context.Context, key string, v any) {
	if p.cache == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		zlog.Warn().Err(err).Msgf("library: failed to encode cache entry: key=%s", key)
		return
	}
	if err := p.cache.PutCache(ctx, key, payload); err != nil {
		zlog.Warn().Err(err).Msgf("library: failed to store cache entry: key=%s", key)
	}
}

func loadCached[T any](ctx context.Context, p *Provider, key string) ([]T, time.Time, bool) {
	if p.cache == nil {
		return nil, time.Time{}, false
	}
	payload, fetchedAt, ok, err := p.cache.GetCache(ctx, key)
	if err != nil {
		zlog.Warn().Err(err).Msgf("library: failed to read cache entry: key=%s", key)
		return nil, time.Time{}, false
	}
	if !ok {
		return nil, time.Time{}, false
	}
	var items []T
	if err := json.Unmarshal(payload, &items); err != nil {
		zlog.Warn().Err(err).Msgf("library: corrupt cache entry: key=%s", key)
		return nil, time.Time{}, false
	}
	if items == nil {
		items = []T{}
	}
	return items, fetchedAt, true
}
