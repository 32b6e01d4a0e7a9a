package music

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// AppleScriptPlayer reads the current track from Apple Music via osascript.
type AppleScriptPlayer struct {
	app string
}

// NewAppleScriptPlayer creates a player for the given macOS application.
// An empty app means "Music".
func NewAppleScriptPlayer(app string) *AppleScriptPlayer {
	if app == "" {
		app = "Music"
	}
	return &AppleScriptPlayer{app: app}
}

// Name returns the application name.
func (p *AppleScriptPlayer) Name() string {
	return p.app
}

const fieldSep = "|||"

// CurrentSnapshot queries the application in a single osascript call that
// also checks whether it is running.
func (p *AppleScriptPlayer) CurrentSnapshot(ctx context.Context) (*Snapshot, error) {
	script := fmt.Sprintf(`
tell application "System Events"
	if not ((name of processes) contains %[1]q) then
		return "not_running"
	end if
end tell
tell application %[1]q
	if player state is stopped then
		return "stopped"
	else
		set trackName to name of current track
		set trackArtist to artist of current track
		set trackAlbum to album of current track
		set trackDuration to duration of current track
		set playerPos to player position
		set playerState to player state as string

		return trackName & "|||" & trackArtist & "|||" & trackAlbum & "|||" & trackDuration & "|||" & playerPos & "|||" & playerState
	end if
end tell`, p.app)

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("osascript error: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("failed to execute osascript: %w", err)
	}

	switch result := strings.TrimSpace(string(output)); result {
	case "not_running":
		return nil, ErrNotRunning
	case "stopped":
		return nil, nil
	default:
		snap, err := parseSnapshot(result)
		if err != nil {
			return nil, fmt.Errorf("failed to parse track output: %w", err)
		}
		snap.Player = p.app
		return snap, nil
	}
}

// parseSnapshot parses the delimited output of the AppleScript query.
func parseSnapshot(output string) (*Snapshot, error) {
	parts := strings.Split(output, fieldSep)
	if len(parts) != 6 {
		return nil, fmt.Errorf("expected 6 parts, got %d: %q", len(parts), output)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	// Streams report "missing value" for an unknown duration.
	var duration time.Duration
	if parts[3] != "" && parts[3] != "missing value" {
		secs, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse duration %q: %w", parts[3], err)
		}
		duration = secondsToDuration(secs)
	}

	position, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse position %q: %w", parts[4], err)
	}

	var rate float64
	switch parts[5] {
	case "playing", "fast forwarding":
		rate = 1
	case "paused", "rewinding":
		rate = 0
	case "stopped":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown player state: %q", parts[5])
	}

	return &Snapshot{
		Title:        parts[0],
		Artist:       parts[1],
		Album:        parts[2],
		Duration:     duration,
		Elapsed:      secondsToDuration(position),
		PlaybackRate: rate,
	}, nil
}

// secondsToDuration converts seconds (as float) to time.Duration.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
