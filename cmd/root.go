package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/scrobbler/internal/config"
	"github.com/jfmyers9/scrobbler/internal/credentials"
	"github.com/jfmyers9/scrobbler/internal/daemon"
	"github.com/jfmyers9/scrobbler/internal/lyrics"
	"github.com/jfmyers9/scrobbler/internal/music"
	"github.com/jfmyers9/scrobbler/internal/scrobbler"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	flagDaemon      bool
	flagDebug       bool
	flagQuiet       bool
	flagLog         string
	flagNoLyrics    bool
	flagPlainLyrics bool
	flagNoScrobble  bool
	flagSource      string
)

// rootCmd runs the scrobbler when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "scrobbler",
	Short: "Last.fm scrobbler for the local media player",
	Long: `scrobbler watches what your media player is playing and reports it to
Last.fm: a now-playing notice when a track starts and a scrobble once
half of it (or four minutes) has been played.

Apple Music is read through AppleScript on macOS; on Linux any MPRIS
player on the session bus is followed. Metadata from players that are
not listed under music_players (browsers, video apps) is checked
against Last.fm search before anything is submitted.

In the foreground, synced lyrics from lrclib.net are printed as the
track plays. Use --daemon to log JSON to a file instead.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	Args:    cobra.NoArgs,
	RunE:    runScrobbler,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&flagDaemon, "daemon", false, "Run without terminal output, logging JSON to the log file")
	f.BoolVar(&flagDebug, "debug", false, "Log debug messages")
	f.BoolVar(&flagQuiet, "quiet", false, "Log errors only")
	f.StringVar(&flagLog, "log", "", "Log file for --daemon (default: $XDG_STATE_HOME/scrobbler/scrobbler.log)")
	f.BoolVar(&flagNoLyrics, "no-lyrics", false, "Do not fetch lyrics")
	f.BoolVar(&flagPlainLyrics, "plain-lyrics", false, "Print plain lyrics instead of synced lines")
	f.BoolVar(&flagNoScrobble, "no-scrobble", false, "Track plays without sending anything to Last.fm")
	f.StringVar(&flagSource, "source", "", "Media source: auto, applescript or mpris (overrides config)")
	rootCmd.MarkFlagsMutuallyExclusive("debug", "quiet")
}

func runScrobbler(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cmd, cfg)

	logger, closeLog, err := setupLogger(flagDaemon, logLevel(flagDebug, flagQuiet), cfg.LogPath)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info().
		Str("version", version).
		Str("source", cfg.Source).
		Bool("scrobble", cfg.Scrobble.Enabled).
		Bool("lyrics", cfg.Lyrics.Enabled).
		Msg("Starting scrobbler")

	player, err := music.NewPlayer(cfg.Source, cfg.MPRISPlayer)
	if err != nil {
		return err
	}

	trackerCfg := daemon.TrackerConfig{
		PreferSynced: cfg.Lyrics.PreferSynced,
		Logger:       logger,
	}

	var (
		batch scrobbler.BatchSubmitter
		queue *scrobbler.Queue
	)
	if cfg.Scrobble.Enabled {
		store, err := credentials.New(cfg)
		if err != nil {
			return err
		}
		creds, err := credentials.Load(store)
		if err != nil {
			return err
		}
		client, err := scrobbler.New(scrobbler.Config{
			APIKey:     creds.APIKey,
			APISecret:  creds.SharedSecret,
			SessionKey: creds.SessionKey,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		queue, err = scrobbler.NewQueue("")
		if err != nil {
			return fmt.Errorf("failed to create backlog: %w", err)
		}
		trackerCfg.Submitter = client
		trackerCfg.Backlog = queue
		batch = client
	}

	if cfg.Lyrics.Enabled {
		trackerCfg.Lyrics = lyrics.NewClient(lyrics.DefaultBaseURL)
		if !flagDaemon {
			trackerCfg.LyricsSink = lyrics.NewPrinter(cmd.OutOrStdout(), terminalWidth())
		}
	}

	tracker, err := daemon.NewTracker(trackerCfg)
	if err != nil {
		return err
	}

	d := daemon.New(daemon.Config{
		PollInterval:  cfg.PollInterval,
		IsMusicPlayer: cfg.IsMusicPlayer,
	}, player, tracker, queue, batch, logger)

	if err := d.Run(); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	if err := d.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	return nil
}

// applyFlags lets command-line flags override the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if flagSource != "" {
		cfg.Source = flagSource
	}
	if cmd.Flags().Changed("log") {
		cfg.LogPath = flagLog
	}
	if flagNoLyrics {
		cfg.Lyrics.Enabled = false
	}
	if flagPlainLyrics {
		cfg.Lyrics.PreferSynced = false
	}
	if flagNoScrobble {
		cfg.Scrobble.Enabled = false
	}
}

// terminalWidth returns $COLUMNS, or 0 (no truncation) when unset.
func terminalWidth() int {
	n, err := strconv.Atoi(os.Getenv("COLUMNS"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
