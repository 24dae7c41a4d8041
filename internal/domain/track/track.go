// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"strings"
	"time"
)

// DefaultAlbumTitle is shown when the catalog has no album for a track.
const DefaultAlbumTitle = "Album Title Not Found"

// Track represents a catalog track.
// The core only reads tracks; the catalog owns their contents.
type Track struct {
	ID         string        // Catalog track ID
	Title      string        // Track title
	ArtistName string        // Artist names joined for display
	AlbumTitle string        // Album title (empty if unknown)
	Duration   time.Duration // Track duration (zero if unknown)
	ArtworkURL string        // Opaque artwork reference
	URI        string        // Playback URI understood by the player backend
}

// HasDuration reports whether the catalog supplied a duration.
func (t *Track) HasDuration() bool {
	return t.Duration > 0
}

// AlbumTitleOrDefault returns the album title, or DefaultAlbumTitle when missing.
func (t *Track) AlbumTitleOrDefault() string {
	if strings.TrimSpace(t.AlbumTitle) == "" {
		return DefaultAlbumTitle
	}
	return t.AlbumTitle
}

// JoinArtists joins artist names the way they are displayed.
func JoinArtists(artists []string) string {
	return strings.Join(artists, ", ")
}

// FormatDuration renders seconds as m:ss.
// Negative values render as 0:00.
func FormatDuration(seconds float64) string {
	s := int(seconds)
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
