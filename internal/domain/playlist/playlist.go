// Package playlist provides the Playlist domain entity.
package playlist

import (
	"time"

	"github.com/osa030/musicalchairs/internal/domain/track"
)

// Playlist represents a library playlist.
// Track order is play order unless the queue is shuffled.
type Playlist struct {
	ID          string        // Catalog playlist ID
	Name        string        // Playlist name
	Description string        // Playlist description
	URL         string        // Catalog URL
	ArtworkURL  string        // Opaque artwork reference
	TrackCount  int           // Track count reported by the catalog
	Tracks      []track.Track // Tracks, when loaded
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// TotalDuration returns the total duration of all tracks.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		total += t.Duration
	}
	return total
}

// Len returns the number of tracks, falling back to the catalog count
// when tracks have not been loaded.
func (p *Playlist) Len() int {
	if len(p.Tracks) > 0 {
		return len(p.Tracks)
	}
	return p.TrackCount
}
