package music

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Update is one poll result.
type Update struct {
	Snapshot *Snapshot // nil when stopped
	Err      error
}

// Poller polls a Player at regular intervals.
type Poller struct {
	player   Player
	interval time.Duration
	logger   zerolog.Logger
}

// NewPoller creates a new Poller instance.
func NewPoller(player Player, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		player:   player,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Run polls immediately and then on every tick, sending results to updates.
// Blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, updates chan<- Update) error {
	p.logger.Info().
		Str("player", p.player.Name()).
		Dur("interval", p.interval).
		Msg("Starting poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx, updates)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx, updates)
		}
	}
}

func (p *Poller) poll(ctx context.Context, updates chan<- Update) {
	snap, err := p.player.CurrentSnapshot(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Error reading player")
		select {
		case updates <- Update{Err: err}:
		case <-ctx.Done():
		}
		return
	}

	select {
	case updates <- Update{Snapshot: snap}:
		if snap != nil {
			p.logger.Debug().
				Str("title", snap.Title).
				Str("artist", snap.Artist).
				Str("state", snap.State()).
				Msg("Poll update")
		}
	case <-ctx.Done():
	}
}
