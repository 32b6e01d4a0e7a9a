package music

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mprisPrefix    = "org.mpris.MediaPlayer2."
	mprisPath      = "/org/mpris/MediaPlayer2"
	mprisPlayerIfc = "org.mpris.MediaPlayer2.Player"
)

// MPRISPlayer reads the current track from an MPRIS-capable player over the
// D-Bus session bus.
type MPRISPlayer struct {
	// want restricts the player to bus names ending in this suffix
	// (e.g. "spotify"). Empty means any player, preferring one that is
	// playing.
	want string
	conn *dbus.Conn
}

// NewMPRISPlayer creates a player. The session bus is connected lazily.
func NewMPRISPlayer(want string) *MPRISPlayer {
	return &MPRISPlayer{want: strings.ToLower(want)}
}

// Name returns the configured player filter, or "mpris".
func (p *MPRISPlayer) Name() string {
	if p.want != "" {
		return p.want
	}
	return "mpris"
}

func (p *MPRISPlayer) connect() (*dbus.Conn, error) {
	if p.conn != nil && p.conn.Connected() {
		return p.conn, nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	p.conn = conn
	return conn, nil
}

// CurrentSnapshot picks a player and reads its metadata, position, status
// and rate.
func (p *MPRISPlayer) CurrentSnapshot(ctx context.Context) (*Snapshot, error) {
	conn, err := p.connect()
	if err != nil {
		return nil, err
	}

	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("listing bus names: %w", err)
	}

	candidates := mprisNames(names, p.want)
	if len(candidates) == 0 {
		return nil, ErrNotRunning
	}

	var fallback *Snapshot
	for _, name := range candidates {
		snap, err := p.read(conn, name)
		if err != nil || snap == nil {
			continue
		}
		if snap.Playing() {
			return snap, nil
		}
		if fallback == nil {
			fallback = snap
		}
	}
	return fallback, nil
}

func (p *MPRISPlayer) read(conn *dbus.Conn, busName string) (*Snapshot, error) {
	obj := conn.Object(busName, mprisPath)

	status, err := obj.GetProperty(mprisPlayerIfc + ".PlaybackStatus")
	if err != nil {
		return nil, fmt.Errorf("reading PlaybackStatus: %w", err)
	}
	meta, err := obj.GetProperty(mprisPlayerIfc + ".Metadata")
	if err != nil {
		return nil, fmt.Errorf("reading Metadata: %w", err)
	}

	// Position and Rate are optional for some players.
	var position int64
	if v, err := obj.GetProperty(mprisPlayerIfc + ".Position"); err == nil {
		position = variantInt64(v)
	}
	rate := 1.0
	if v, err := obj.GetProperty(mprisPlayerIfc + ".Rate"); err == nil {
		if r, ok := v.Value().(float64); ok {
			rate = r
		}
	}

	metadata, _ := meta.Value().(map[string]dbus.Variant)
	statusStr, _ := status.Value().(string)
	return snapshotFromMPRIS(strings.TrimPrefix(busName, mprisPrefix), metadata, statusStr, position, rate), nil
}

// mprisNames returns the MPRIS bus names matching want, sorted for a stable
// preference order.
func mprisNames(names []string, want string) []string {
	var out []string
	for _, n := range names {
		if !strings.HasPrefix(n, mprisPrefix) {
			continue
		}
		suffix := strings.ToLower(strings.TrimPrefix(n, mprisPrefix))
		if want != "" && suffix != want && !strings.HasPrefix(suffix, want+".") {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// snapshotFromMPRIS builds a Snapshot from MPRIS properties. Lengths and
// positions are in microseconds.
func snapshotFromMPRIS(player string, metadata map[string]dbus.Variant, status string, positionUS int64, rate float64) *Snapshot {
	if status == "Stopped" || status == "" {
		return nil
	}

	snap := &Snapshot{
		Player:  player,
		Elapsed: time.Duration(positionUS) * time.Microsecond,
	}
	if status == "Playing" {
		snap.PlaybackRate = rate
	}

	if v, ok := metadata["xesam:title"]; ok {
		snap.Title, _ = v.Value().(string)
	}
	if v, ok := metadata["xesam:album"]; ok {
		snap.Album, _ = v.Value().(string)
	}
	if v, ok := metadata["xesam:artist"]; ok {
		switch a := v.Value().(type) {
		case []string:
			snap.Artist = strings.Join(a, ", ")
		case string:
			snap.Artist = a
		}
	}
	if v, ok := metadata["mpris:length"]; ok {
		snap.Duration = time.Duration(variantInt64(v)) * time.Microsecond
	}
	return snap
}

func variantInt64(v dbus.Variant) int64 {
	switch n := v.Value().(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
