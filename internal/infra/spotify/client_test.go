package spotify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	crdb "github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/osa030/musicalchairs/internal/app/library"
	"github.com/osa030/musicalchairs/internal/app/player"
	"github.com/osa030/musicalchairs/internal/domain/track"
)

func TestExtractPlaylistID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Spotify URI format",
			input:    "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M",
			expected: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "Spotify URL format",
			input:    "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M",
			expected: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "Spotify URL with query params",
			input:    "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc123",
			expected: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "Plain playlist ID",
			input:    "37i9dQZF1DXcBWIGoYBM5M",
			expected: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "HTTP URL (not HTTPS)",
			input:    "http://open.spotify.com/playlist/testID",
			expected: "testID",
		},
		{
			name:     "URL with multiple query params",
			input:    "https://open.spotify.com/playlist/abc123?si=xyz&utm_source=copy",
			expected: "abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractPlaylistID(tt.input)
			assert.Equal(t, tt.expected, result,
				"extractPlaylistID(%s) should return %s", tt.input, tt.expected)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "rate limit error with 429",
			err:      errors.New("Error 429: rate limit exceeded"),
			expected: true,
		},
		{
			name:     "rate limit text",
			err:      errors.New("rate limit exceeded"),
			expected: true,
		},
		{
			name:     "server error 500",
			err:      errors.New("Error 500: internal server error"),
			expected: true,
		},
		{
			name:     "server error 502",
			err:      errors.New("502 Bad Gateway"),
			expected: true,
		},
		{
			name:     "server error 503",
			err:      errors.New("503 Service Unavailable"),
			expected: true,
		},
		{
			name:     "server error 504",
			err:      errors.New("504 Gateway Timeout"),
			expected: true,
		},
		{
			name:     "client error 400",
			err:      errors.New("400 Bad Request"),
			expected: false,
		},
		{
			name:     "not found error",
			err:      errors.New("404 not found"),
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("something went wrong"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRetryable(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExtractTrackID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "URI", input: "spotify:track:4uLU6hMCjMI75M1A2tKUQC", expected: "4uLU6hMCjMI75M1A2tKUQC"},
		{name: "URL", input: "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", expected: "4uLU6hMCjMI75M1A2tKUQC"},
		{name: "localized URL", input: "https://open.spotify.com/intl-ja/track/abc?si=1", expected: "abc"},
		{name: "trailing slash", input: "https://open.spotify.com/track/abc/", expected: "abc"},
		{name: "plain ID with spaces", input: "  abc  ", expected: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractTrackID(tt.input))
		})
	}
}

func TestMarkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantAuth bool
	}{
		{name: "unauthorized", err: spotify.Error{Message: "token expired", Status: http.StatusUnauthorized}, wantAuth: true},
		{name: "forbidden", err: spotify.Error{Message: "premium required", Status: http.StatusForbidden}, wantAuth: true},
		{name: "wrapped unauthorized", err: crdb.Wrap(spotify.Error{Status: http.StatusUnauthorized}, "get"), wantAuth: true},
		{name: "token refresh failure", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, wantAuth: true},
		{name: "not found", err: spotify.Error{Message: "missing", Status: http.StatusNotFound}},
		{name: "transport", err: errors.New("dial tcp: i/o timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marked := markError(tt.err)
			assert.Equal(t, tt.wantAuth, crdb.Is(marked, library.ErrAuth))
			assert.Equal(t, !tt.wantAuth, crdb.Is(marked, library.ErrNetwork))
		})
	}

	assert.NoError(t, markError(nil))
}

func TestConvertTrack(t *testing.T) {
	ft := &spotify.FullTrack{
		SimpleTrack: spotify.SimpleTrack{
			ID:       "t1",
			Name:     "Song",
			Artists:  []spotify.SimpleArtist{{Name: "A"}, {Name: "B"}},
			Duration: 185000,
			URI:      "spotify:track:t1",
		},
		Album: spotify.SimpleAlbum{
			Name:   "Album",
			Images: []spotify.Image{{URL: "https://i.scdn.co/image/1"}},
		},
	}

	got := convertTrack(ft)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "Song", got.Title)
	assert.Equal(t, "A, B", got.ArtistName)
	assert.Equal(t, "Album", got.AlbumTitle)
	assert.Equal(t, 185*time.Second, got.Duration)
	assert.Equal(t, "https://i.scdn.co/image/1", got.ArtworkURL)
	assert.Equal(t, "spotify:track:t1", got.URI)
}

func TestConvertPlaylist(t *testing.T) {
	sp := spotify.SimplePlaylist{
		ID:          "p1",
		Name:        "Party",
		Description: "loud",
		Tracks:      spotify.PlaylistTracks{Total: 12},
	}

	got := convertPlaylist(sp)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, "Party", got.Name)
	assert.Equal(t, 12, got.TrackCount)
	assert.Equal(t, "https://open.spotify.com/playlist/p1", got.URL)
	assert.Empty(t, got.ArtworkURL)
}

func newOfflinePlayer() *Player {
	return NewPlayer(&Client{client: spotify.New(http.DefaultClient)}, PlayerConfig{})
}

func TestPlayer_QueueHandling(t *testing.T) {
	ctx := context.Background()
	p := newOfflinePlayer()

	assert.ErrorIs(t, p.Play(ctx), player.ErrQueueEmpty)
	assert.ErrorIs(t, p.SkipToNext(ctx), player.ErrQueueEmpty)
	assert.NoError(t, p.Pause(ctx))
	assert.NoError(t, p.Stop(ctx))

	tracks := make([]track.Track, 0, MaxQueueURIs+10)
	tracks = append(tracks, track.Track{ID: "local"})
	for i := 0; i < MaxQueueURIs+9; i++ {
		tracks = append(tracks, track.Track{ID: "t", URI: "spotify:track:t"})
	}
	require.NoError(t, p.SetQueue(ctx, tracks, true))
	assert.Len(t, p.uris, MaxQueueURIs)
	assert.True(t, p.shuffled)
	assert.False(t, p.started)

	require.NoError(t, p.SetQueue(ctx, nil, false))
	assert.Empty(t, p.uris)
	assert.ErrorIs(t, p.Play(ctx), player.ErrQueueEmpty)
}

func TestPlayer_SubscribeNotifiesOnChange(t *testing.T) {
	p := newOfflinePlayer()
	events, unsubscribe := p.Subscribe()
	defer unsubscribe()

	p.mu.Lock()
	p.setCurrent(&track.Track{ID: "t1"})
	p.setCurrent(&track.Track{ID: "t1"})
	p.setCurrent(nil)
	p.mu.Unlock()

	ev := <-events
	require.NotNil(t, ev.Track)
	assert.Equal(t, "t1", ev.Track.ID)
	ev = <-events
	assert.Nil(t, ev.Track)

	select {
	case <-events:
		t.Fatal("duplicate track must not notify")
	default:
	}
}

func TestClient_RetryStopsWhenContextDone(t *testing.T) {
	c := &Client{maxRetries: 3, retryDelay: time.Second, clock: clockwork.NewFakeClock()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := c.retry(ctx, func() error {
		calls++
		cancel()
		return errors.New("429 rate limit")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestClient_RetryBacksOffOnClock(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c := &Client{maxRetries: 3, retryDelay: time.Second, clock: clk}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- c.retry(ctx, func() error {
			calls++
			if calls < 3 {
				return errors.New("503 service unavailable")
			}
			return nil
		})
	}()

	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	clk.Advance(time.Second)
	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	clk.Advance(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	case <-ctx.Done():
		t.Fatal("retry did not finish")
	}
}

func TestClient_RetryGivesUpOnPermanentError(t *testing.T) {
	c := &Client{maxRetries: 3, retryDelay: time.Second, clock: clockwork.NewFakeClock()}

	calls := 0
	err := c.retry(context.Background(), func() error {
		calls++
		return errors.New("404 not found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
