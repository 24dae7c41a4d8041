// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"gopkg.in/yaml.v3"

	apiconnect "github.com/osa030/musicalchairs/internal/api/connect"
	"github.com/osa030/musicalchairs/internal/app/library"
	"github.com/osa030/musicalchairs/internal/app/lifecycle"
	"github.com/osa030/musicalchairs/internal/app/player"
	"github.com/osa030/musicalchairs/internal/app/round"
	"github.com/osa030/musicalchairs/internal/app/session"
	appsettings "github.com/osa030/musicalchairs/internal/app/settings"
	"github.com/osa030/musicalchairs/internal/infra/config"
	"github.com/osa030/musicalchairs/internal/infra/logger"
	"github.com/osa030/musicalchairs/internal/infra/spotify"
	"github.com/osa030/musicalchairs/internal/infra/store"
)

var (
	app        = kingpin.New("musicalchairs-server", "Musical chairs round server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// print-settings command
	printSettingsCmd = app.Command("print-settings", "Print the persisted round settings and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closeLog, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closeLog()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == printSettingsCmd.FullCommand() {
		if err := printSettings(cfg); err != nil {
			zlog.Fatal().Msgf("Failed to print settings: %v", err)
		}
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		closeLog()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return errors.Wrap(err, "failed to open storage")
	}
	defer db.Close()

	settingsStore := appsettings.NewStore(db, cfg.Round.SongBounds, cfg.Round.RoundBounds)
	if err := settingsStore.Load(ctx); err != nil {
		return errors.Wrap(err, "failed to load settings")
	}

	catalog, adapter, runPlayer, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}

	playerCtx, stopPlayer := context.WithCancel(ctx)
	defer stopPlayer()
	if runPlayer != nil {
		go func() {
			if err := runPlayer(playerCtx); err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error().Err(err).Msg("Player poller stopped")
			}
		}()
	}

	monitor := lifecycle.NewMonitor()
	sessionMgr := session.NewManager(
		session.Config{Round: round.Config{
			TickInterval:   cfg.TickInterval(),
			CommandTimeout: cfg.TransportTimeout(),
		}},
		library.NewProvider(catalog, db),
		adapter,
		settingsStore,
		monitor,
	)

	mux := http.NewServeMux()
	path, handler := apiconnect.NewRoundServiceHandler(
		apiconnect.NewRoundService(sessionMgr),
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)
	mux.Handle(path, handler)

	serverAddr := cfg.Server.Addr
	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    serverAddr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s backend=%s", serverAddr, cfg.Player.Backend)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	var runErr error
wait:
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				sessionMgr.SetForeground(false)
			case syscall.SIGUSR2:
				sessionMgr.SetForeground(true)
			default:
				zlog.Info().Msg("Received shutdown signal...")
				break wait
			}
		case err := <-serverErrCh:
			runErr = errors.Wrap(err, "server error")
			break wait
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close session manager first to end active streams
	if err := sessionMgr.Close(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to stop session: %v", err)
	}
	stopPlayer()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// newBackend builds the catalog and the player adapter for the configured
// backend. The returned run function, if any, drives background polling.
func newBackend(ctx context.Context, cfg *config.Config) (library.Catalog, player.Adapter, func(context.Context) error, error) {
	var client *spotify.Client
	if cfg.Spotify.HasCredentials() {
		c, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "failed to create Spotify client")
		}
		client = c
	}

	var catalog library.Catalog = library.OfflineCatalog{}
	if client != nil {
		catalog = client
	} else {
		zlog.Warn().Msg("Spotify credentials not configured, serving cached playlists only")
	}

	switch cfg.Player.Backend {
	case config.BackendSpotify:
		p := spotify.NewPlayer(client, spotify.PlayerConfig{
			DeviceID:     cfg.Player.DeviceID,
			PollInterval: cfg.PollInterval(),
		})
		return catalog, p, p.Run, nil
	default:
		return catalog, player.NewSimulator(nil, nil), nil, nil
	}
}

// printSettings prints the persisted settings record with its bounds.
func printSettings(cfg *config.Config) error {
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return errors.Wrap(err, "failed to open storage")
	}
	defer db.Close()

	s := appsettings.NewStore(db, cfg.Round.SongBounds, cfg.Round.RoundBounds)
	if err := s.Load(context.Background()); err != nil {
		return err
	}
	values, err := s.Snapshot().Record().ToMap()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(map[string]any{
		"settings":     values,
		"song_bounds":  cfg.Round.SongBounds,
		"round_bounds": cfg.Round.RoundBounds,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode settings")
	}
	fmt.Print(string(out))
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
