// Package track holds per-track playback state and the bounded cache that
// maps track identities to it.
package track

import (
	"strings"
	"time"

	"github.com/jfmyers9/scrobbler/internal/lyrics"
	"github.com/jfmyers9/scrobbler/internal/normalize"
)

// Phase is the scrobble state of a single play.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNowPlayingPending
	PhaseNowPlayingSent
	PhaseScrobbleEligible
	PhaseScrobbled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNowPlayingPending:
		return "now_playing_pending"
	case PhaseNowPlayingSent:
		return "now_playing_sent"
	case PhaseScrobbleEligible:
		return "scrobble_eligible"
	case PhaseScrobbled:
		return "scrobbled"
	default:
		return "unknown"
	}
}

// State is everything known about one track identity.
//
// Artist, Title and Album are the display forms and never change after the
// state is created. SubmitArtist and SubmitTitle are what gets sent to
// Last.fm and may be replaced by a fuzzy correction.
type State struct {
	Key    string
	Artist string
	Title  string
	Album  string

	SubmitArtist string
	SubmitTitle  string

	Duration            time.Duration
	LastElapsed         time.Duration
	LastReportedElapsed time.Duration
	LastFetchTime       time.Time
	PlaybackRate        float64

	// Stopped is set while the source reports nothing loaded. LastElapsed
	// is kept as the baseline for restart detection.
	Stopped bool

	// BeginTimeStamp is when the current play started; it is the scrobble
	// timestamp.
	BeginTimeStamp time.Time

	IsMusic  bool
	Resolved bool

	HasSubmittedNowPlaying bool
	HasScrobbled           bool
	Phase                  Phase

	// PlayID increments on every restart so late results for an earlier
	// play of the same track can be told apart.
	PlayID         int
	SubmitInFlight bool
	FailedAttempts int

	PlainLyrics        string
	SyncedLyrics       string
	ParsedSyncedLyrics []lyrics.Line
	ParsedPlainLyrics  []string
	CurrentLyricIndex  int
	LyricsRequested    bool
}

// NewState returns a fresh state for a track seen for the first time.
func NewState(key, artist, title, album string) *State {
	return &State{
		Key:               key,
		Artist:            artist,
		Title:             title,
		Album:             album,
		SubmitArtist:      artist,
		SubmitTitle:       title,
		CurrentLyricIndex: -1,
	}
}

// ResetPlay clears the one-shot flags so the same track can be reported
// again as a new play.
func (s *State) ResetPlay(begin time.Time) {
	s.PlayID++
	s.BeginTimeStamp = begin
	s.HasSubmittedNowPlaying = false
	s.HasScrobbled = false
	s.SubmitInFlight = false
	s.FailedAttempts = 0
	s.CurrentLyricIndex = -1
	s.Phase = PhaseIdle
}

// Snapshot returns a copy of s safe to read without the owner's lock. The
// lyrics slices are shared; they are replaced, never modified in place.
func (s *State) Snapshot() State {
	return *s
}

// keySep separates the fields of an identity key. normalize.Compare drops
// control characters, so it cannot occur inside a field.
const keySep = "\x1f"

// IdentityKey derives the canonical key for a track. It is empty when all
// three fields are empty, which is the key of the sentinel state.
func IdentityKey(artist, title, album string) string {
	a, t, al := normalize.Compare(artist), normalize.Compare(title), normalize.Compare(album)
	if a == "" && t == "" && al == "" {
		return ""
	}
	return strings.Join([]string{a, t, al}, keySep)
}
