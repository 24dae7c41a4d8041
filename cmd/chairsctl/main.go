// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/musicalchairs/internal/api/connect"
)

var (
	app    = kingpin.New("chairsctl", "Musical chairs admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Get session status")

	// start command
	startCmd      = app.Command("start", "Start a session from a playlist or a track")
	startPlaylist = startCmd.Flag("playlist", "Playlist ID").String()
	startTrack    = startCmd.Flag("track", "Track ID").String()
	startHold     = startCmd.Flag("hold", "Load the queue without starting the first round").Bool()

	// begin command
	beginCmd = app.Command("begin", "Start the first round")

	pauseCmd  = app.Command("pause", "Pause the session")
	resumeCmd = app.Command("resume", "Resume the session")
	skipCmd   = app.Command("skip", "Skip the current track")
	endCmd    = app.Command("end", "End the session").Alias("stop")

	// settings commands
	settingsCmd    = app.Command("settings", "Show the round settings")
	setSettingsCmd = app.Command("set-settings", "Update the round settings")
	settingFlags   = []*settingFlag{
		intSetting("song-timer", "Fixed song timer in seconds", "currentSongTimer"),
		intSetting("round-timer", "Fixed round timer in seconds", "currentRoundTimer"),
		boolSetting("song-random", "Draw the song timer at random", "isSongTimerRandom"),
		boolSetting("round-random", "Draw the round timer at random", "isRoundTimerRandom"),
		boolSetting("show-song-timer", "Display the song timer", "isSongTimerDisplayed"),
		boolSetting("show-round-timer", "Display the round timer", "isRoundTimerDisplayed"),
		boolSetting("shuffle", "Shuffle the queue of new sessions", "isShuffled"),
		boolSetting("reset-on-skip", "Redraw timers on manual skip", "shouldTimerResetOnSkip"),
	}

	// lifecycle commands
	backgroundCmd = app.Command("background", "Report that the host went to the background")
	foregroundCmd = app.Command("foreground", "Report that the host came to the foreground")

	setVolumeCmd     = app.Command("set-volume", "Set the player volume")
	setVolumePercent = setVolumeCmd.Arg("percent", "Volume in percent (0-100)").Required().Int()

	playlistsCmd = app.Command("playlists", "List library playlists").Alias("list")
	watchCmd     = app.Command("watch", "Stream session notifications")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewRoundClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = printStatus(client.GetStatus(ctx))
	case startCmd.FullCommand():
		err = printStatus(client.StartSession(ctx, *startPlaylist, *startTrack, !*startHold))
	case beginCmd.FullCommand():
		err = printStatus(client.Begin(ctx))
	case pauseCmd.FullCommand():
		err = printStatus(client.Pause(ctx))
	case resumeCmd.FullCommand():
		err = printStatus(client.Resume(ctx))
	case skipCmd.FullCommand():
		err = printStatus(client.Skip(ctx))
	case endCmd.FullCommand():
		err = printStatus(client.EndSession(ctx))
	case settingsCmd.FullCommand():
		err = printSettings(client.GetSettings(ctx))
	case setSettingsCmd.FullCommand():
		err = printSettings(client.UpdateSettings(ctx, changedSettings()))
	case backgroundCmd.FullCommand():
		err = setForeground(ctx, client, false)
	case foregroundCmd.FullCommand():
		err = setForeground(ctx, client, true)
	case setVolumeCmd.FullCommand():
		err = setVolume(ctx, client, *setVolumePercent)
	case playlistsCmd.FullCommand():
		err = listPlaylists(ctx, client)
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// settingFlag is a set-settings flag bound to a record key. Only flags
// given on the command line are sent.
type settingFlag struct {
	key   string
	set   bool
	value func() any
}

func intSetting(name, help, key string) *settingFlag {
	f := &settingFlag{key: key}
	v := setSettingsCmd.Flag(name, help).IsSetByUser(&f.set).Int()
	f.value = func() any { return *v }
	return f
}

// boolSetting flags accept --no-<name> to turn the setting off.
func boolSetting(name, help, key string) *settingFlag {
	f := &settingFlag{key: key}
	v := setSettingsCmd.Flag(name, help).IsSetByUser(&f.set).Bool()
	f.value = func() any { return *v }
	return f
}

func changedSettings() map[string]any {
	values := make(map[string]any)
	for _, f := range settingFlags {
		if f.set {
			values[f.key] = f.value()
		}
	}
	return values
}

func printStatus(s *apiconnect.StatusView, err error) error {
	if err != nil {
		return err
	}

	fmt.Println("\n=== CURRENT SESSION STATUS ===")
	fmt.Printf("Host: %s\n", hostState(s.Foreground))
	if s.Volume != nil {
		fmt.Printf("Volume: %d%% (level %d)\n", *s.Volume, s.VolumeLevel)
	}
	if !s.Active {
		fmt.Println("No active session")
		fmt.Println()
		return nil
	}

	fmt.Printf("Session ID: %s\n", s.SessionID)
	fmt.Printf("Source: %s\n", s.Source)
	fmt.Printf("Session: %s\n", s.SessionPhase)
	fmt.Printf("Round Phase: %s\n", s.Phase)
	fmt.Printf("Clock Active: %v\n", s.ClockActive)
	if s.ManuallyPaused {
		fmt.Println("Paused by user")
	}

	if s.Track != nil {
		fmt.Printf("\nCurrently Playing:\n")
		fmt.Printf("  Track ID: %s\n", s.Track.ID)
		fmt.Printf("  Title: %s\n", s.Track.Title)
		fmt.Printf("  Artist: %s\n", s.Track.Artist)
		fmt.Printf("  Album: %s\n", s.Track.Album)
		fmt.Printf("  Position: %s / %s\n", s.Position, s.Track.Duration)
	} else {
		fmt.Println("\nNo track currently playing")
	}

	fmt.Println()
	printTimer("Song Timer", s.SongTimer)
	printTimer("Round Timer", s.RoundTimer)
	fmt.Println()
	return nil
}

func setVolume(ctx context.Context, client *apiconnect.RoundClient, percent int) error {
	v, err := client.SetVolume(ctx, percent)
	if err != nil {
		return err
	}
	fmt.Printf("Volume set to %d%%\n", v)
	return nil
}

func printTimer(label string, t apiconnect.TimerView) {
	if !t.Displayed {
		fmt.Printf("%s: (hidden)\n", label)
		return
	}
	fmt.Printf("%s: %ds", label, t.Seconds)
	if t.Message != "" {
		fmt.Printf("  %s", t.Message)
	}
	fmt.Println()
}

func printSettings(v *apiconnect.SettingsView, err error) error {
	if err != nil {
		return err
	}
	r := v.Record
	fmt.Println("\n=== ROUND SETTINGS ===")
	fmt.Printf("Song Timer: %s (bounds %d..%d)\n", timerSetting(r.CurrentSongTimer, r.IsSongTimerRandom), v.SongBounds.Min, v.SongBounds.Max)
	fmt.Printf("Round Timer: %s (bounds %d..%d)\n", timerSetting(r.CurrentRoundTimer, r.IsRoundTimerRandom), v.RoundBounds.Min, v.RoundBounds.Max)
	fmt.Printf("Show Song Timer: %v\n", r.IsSongTimerDisplayed)
	fmt.Printf("Show Round Timer: %v\n", r.IsRoundTimerDisplayed)
	fmt.Printf("Shuffle: %v\n", r.IsShuffled)
	fmt.Printf("Reset Timers On Skip: %v\n", r.ShouldTimerResetOnSkip)
	fmt.Println()
	return nil
}

func timerSetting(fixed int, random bool) string {
	if random {
		return "random"
	}
	return fmt.Sprintf("%d seconds", fixed)
}

func setForeground(ctx context.Context, client *apiconnect.RoundClient, foreground bool) error {
	changed, err := client.SetForeground(ctx, foreground)
	if err != nil {
		return err
	}
	state := hostState(foreground)
	if changed {
		fmt.Printf("Host is now in the %s\n", state)
	} else {
		fmt.Printf("Host was already in the %s\n", state)
	}
	return nil
}

func listPlaylists(ctx context.Context, client *apiconnect.RoundClient) error {
	playlists, err := client.ListPlaylists(ctx)
	if err != nil {
		return err
	}
	if len(playlists) == 0 {
		fmt.Println("No playlists")
		return nil
	}
	fmt.Printf("\n=== PLAYLISTS (%d) ===\n", len(playlists))
	for i, p := range playlists {
		fmt.Printf("%d. %s\n", i+1, p.Name)
		fmt.Printf("   ID: %s\n", p.ID)
		fmt.Printf("   Tracks: %d\n", p.TrackCount)
		if p.URL != "" {
			fmt.Printf("   URL: %s\n", p.URL)
		}
	}
	fmt.Println()
	return nil
}

func watch(ctx context.Context, client *apiconnect.RoundClient) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := client.Watch(ctx, func(n apiconnect.NotificationView) error {
		s := n.Status
		line := fmt.Sprintf("[%d] %-8s phase=%s", n.SequenceNo, n.Kind, s.Phase)
		if s.Active {
			line += fmt.Sprintf(" song=%d round=%d clock=%v", s.SongTimer.Seconds, s.RoundTimer.Seconds, s.ClockActive)
		}
		if s.Track != nil {
			line += fmt.Sprintf(" track=%q", s.Track.Title)
		}
		fmt.Println(line)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func hostState(foreground bool) string {
	if foreground {
		return "foreground"
	}
	return "background"
}
