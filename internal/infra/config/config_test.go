package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/musicalchairs/internal/domain/settings"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "SPOTIFY_REFRESH_TOKEN", "ADMIN_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(`
admin:
  token: secret
player:
  backend: simulator
`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendSimulator, cfg.Player.Backend)
	assert.Equal(t, 2000, cfg.Player.PollIntervalMs)
	assert.Equal(t, time.Second, cfg.TickInterval())
	assert.Equal(t, 5*time.Second, cfg.TransportTimeout())
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, settings.Bounds{Min: 1, Max: 60}, cfg.Round.SongBounds)
	assert.Equal(t, settings.Bounds{Min: 5, Max: 30}, cfg.Round.RoundBounds)
	assert.Equal(t, "musicalchairs.db", cfg.Storage.Path)
	assert.Equal(t, "JP", cfg.Spotify.Market)
	assert.False(t, cfg.Spotify.HasCredentials())
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		errMsg  string
	}{
		{
			name: "spotify backend with credentials",
			yaml: `
admin: {token: secret}
spotify: {client_id: id, client_secret: sec, refresh_token: tok}
`,
		},
		{
			name:    "spotify backend without credentials",
			yaml:    `admin: {token: secret}`,
			wantErr: true,
			errMsg:  "credentials",
		},
		{
			name:    "missing admin token",
			yaml:    `player: {backend: simulator}`,
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name: "unknown backend",
			yaml: `
admin: {token: secret}
player: {backend: vinyl}
`,
			wantErr: true,
			errMsg:  "Backend",
		},
		{
			name: "inverted song bounds",
			yaml: `
admin: {token: secret}
player: {backend: simulator}
round:
  song_bounds: {min: 30, max: 5}
`,
			wantErr: true,
			errMsg:  "song_bounds",
		},
		{
			name: "zero round minimum",
			yaml: `
admin: {token: secret}
player: {backend: simulator}
round:
  round_bounds: {min: 0, max: 5}
`,
			wantErr: true,
			errMsg:  "Min",
		},
		{
			name: "tick interval too small",
			yaml: `
admin: {token: secret}
player: {backend: simulator}
round: {tick_interval_ms: 1}
`,
			wantErr: true,
			errMsg:  "TickIntervalMs",
		},
		{
			name: "bad market",
			yaml: `
admin: {token: secret}
player: {backend: simulator}
spotify: {market: JPN}
`,
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name: "custom bounds",
			yaml: `
admin: {token: secret}
player: {backend: simulator}
round:
  song_bounds: {min: 5, max: 30}
  round_bounds: {min: 3, max: 3}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
admin: {token: from-file}
spotify: {client_id: file-id, client_secret: file-secret, refresh_token: file-token}
`), 0o600))

	t.Setenv("ADMIN_TOKEN", "from-env")
	t.Setenv("SPOTIFY_REFRESH_TOKEN", "env-token")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Admin.Token)
	assert.Equal(t, "env-token", cfg.Spotify.RefreshToken)
	assert.Equal(t, "file-id", cfg.Spotify.ClientID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
