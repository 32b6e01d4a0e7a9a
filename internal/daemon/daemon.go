package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/scrobbler/internal/music"
	"github.com/jfmyers9/scrobbler/internal/scrobbler"
	"github.com/jfmyers9/scrobbler/pkg/lastfm"
)

// Config holds daemon configuration
type Config struct {
	PollInterval  time.Duration // How often to sample the player
	TickInterval  time.Duration // How often to re-sample the current track
	DrainInterval time.Duration // How often to retry the backlog

	// IsMusicPlayer reports whether a player's metadata is trusted as-is.
	IsMusicPlayer func(player string) bool
}

// Daemon feeds player snapshots to the tracker and drains the backlog.
type Daemon struct {
	config  Config
	poller  *music.Poller
	tracker *Tracker
	queue   *scrobbler.Queue
	client  scrobbler.BatchSubmitter
	logger  zerolog.Logger
}

// New creates a new Daemon instance. client may be nil when scrobbling is
// disabled; the backlog is then never drained.
func New(cfg Config, player music.Player, tracker *Tracker, queue *scrobbler.Queue, client scrobbler.BatchSubmitter, logger zerolog.Logger) *Daemon {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 30 * time.Second
	}
	if cfg.IsMusicPlayer == nil {
		cfg.IsMusicPlayer = func(string) bool { return true }
	}

	return &Daemon{
		config:  cfg,
		poller:  music.NewPoller(player, cfg.PollInterval, logger),
		tracker: tracker,
		queue:   queue,
		client:  client,
		logger:  logger.With().Str("component", "daemon").Logger(),
	}
}

// Run starts the daemon and blocks until shutdown signal received
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Handle first signal gracefully, second signal forces exit
	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		d.logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")
		cancel()

		<-sigChan
		d.logger.Warn().Msg("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()

	if err := d.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// run is the main daemon loop
func (d *Daemon) run(ctx context.Context) error {
	d.logger.Info().Msg("Starting daemon")

	var wg sync.WaitGroup
	updates := make(chan music.Update, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.poller.Run(ctx, updates); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Msg("Poller error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.tracker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.every(ctx, d.config.TickInterval, d.tracker.Tick)
	}()

	if d.client != nil && d.queue != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.every(ctx, d.config.DrainInterval, func() { d.drain(ctx) })
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.handleUpdates(ctx, updates)
	}()

	wg.Wait()

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// handleUpdates forwards poller results to the tracker
func (d *Daemon) handleUpdates(ctx context.Context, updates <-chan music.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			d.apply(update)
		}
	}
}

func (d *Daemon) apply(update music.Update) {
	if update.Err != nil {
		if !errors.Is(update.Err, music.ErrNotRunning) {
			d.logger.Debug().Err(update.Err).Msg("Player update error")
		}
		d.tracker.Stopped()
		return
	}

	snap := update.Snapshot
	if snap == nil {
		d.tracker.Stopped()
		return
	}

	d.tracker.OnTitleChanged(TitleChange{
		Artist:            snap.Artist,
		Title:             snap.Title,
		Album:             snap.Album,
		FromMusicPlatform: d.config.IsMusicPlayer(snap.Player),
	})
	d.tracker.OnPlaybackStateChanged(snap.PlaybackRate, snap.Elapsed, snap.Duration)
}

// drain submits one batch of backlogged scrobbles.
func (d *Daemon) drain(ctx context.Context) {
	if d.tracker.Suspended() {
		return
	}

	sent, outcome, err := d.queue.Drain(ctx, d.client)
	switch {
	case outcome == lastfm.OutcomeHardFailure:
		d.tracker.hardFailure(d.logger, err, "Backlog submission rejected")
	case err != nil && outcome == lastfm.OutcomeSoftFailure:
		d.logger.Warn().Err(err).Msg("Backlog submission failed")
	case err != nil:
		d.logger.Warn().Err(err).Int("count", sent).Msg("Backlog submitted with ignored scrobbles")
	case sent > 0:
		d.logger.Info().Int("count", sent).Msg("Backlog submitted")
	}
}

// Shutdown releases the backlog.
func (d *Daemon) Shutdown() error {
	if d.queue == nil {
		return nil
	}
	ctx := context.Background()
	if n, err := d.queue.Count(ctx); err == nil && n > 0 {
		d.logger.Warn().Int("count", n).Msg("Discarding undelivered scrobbles")
	}
	return d.queue.Close()
}
