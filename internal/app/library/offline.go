package library

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/musicalchairs/internal/domain/playlist"
	"github.com/osa030/musicalchairs/internal/domain/track"
)

// OfflineCatalog is used when no catalog credentials are configured.
// Every call fails with ErrNetwork, so the Provider only serves what an
// earlier online run cached.
type OfflineCatalog struct{}

var _ Catalog = OfflineCatalog{}

var errOffline = errors.Mark(errors.New("catalog is offline"), ErrNetwork)

// LibraryPlaylists always fails with ErrNetwork.
func (OfflineCatalog) LibraryPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	return nil, errOffline
}

// PlaylistTracks always fails with ErrNetwork.
func (OfflineCatalog) PlaylistTracks(ctx context.Context, playlistID string) ([]track.Track, error) {
	return nil, errOffline
}

// GetTrack always fails with ErrNetwork.
func (OfflineCatalog) GetTrack(ctx context.Context, trackID string) (*track.Track, error) {
	return nil, errOffline
}
