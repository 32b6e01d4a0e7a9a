// Package music reads what the local media player is currently playing.
package music

import (
	"context"
	"errors"
	"time"
)

// ErrNotRunning is returned when no supported player is available.
var ErrNotRunning = errors.New("music player is not running")

// Snapshot is one observation of the current media item. Fields may be
// empty or stale; consumers are expected to cope.
type Snapshot struct {
	Artist       string
	Title        string
	Album        string
	Duration     time.Duration
	Elapsed      time.Duration
	PlaybackRate float64 // 0 when paused
	Player       string  // application or bus name that reported it
}

// Playing reports whether playback is advancing.
func (s *Snapshot) Playing() bool {
	return s.PlaybackRate > 0
}

// State returns a human-readable playback state.
func (s *Snapshot) State() string {
	if s.Playing() {
		return "playing"
	}
	return "paused"
}

// Player is a source of snapshots.
type Player interface {
	// CurrentSnapshot returns what is playing or paused, or nil when the
	// player is stopped.
	CurrentSnapshot(ctx context.Context) (*Snapshot, error)

	// Name identifies the source in logs.
	Name() string
}
