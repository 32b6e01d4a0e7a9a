package scrobbler

import (
	"time"

	"github.com/jfmyers9/scrobbler/internal/track"
	"github.com/jfmyers9/scrobbler/pkg/lastfm"
)

const (
	// RestartJump is how far elapsed must move backwards to count as a
	// restart rather than jitter.
	RestartJump = 10 * time.Second

	// RestartWindow is how close to the start of the track a backwards
	// jump must land to count as a restart.
	RestartWindow = 30 * time.Second

	// ElapsedJitter is how far past the duration elapsed may be reported
	// before it is clamped.
	ElapsedJitter = 2 * time.Second

	// MaxPlayAttempts bounds scrobble submissions per play before the
	// scrobble is handed to the backlog.
	MaxPlayAttempts = 3
)

// Sample is one observation of playback progress.
type Sample struct {
	Elapsed      time.Duration
	Duration     time.Duration
	PlaybackRate float64
	Now          time.Time
}

// Decision lists the API calls a sample calls for. Each flag is true at
// most once per play.
type Decision struct {
	NowPlaying bool
	Scrobble   bool
	Restarted  bool

	// PlayID identifies the play the decision belongs to.
	PlayID int
}

// Advance feeds a sample into st and returns what should be sent.
//
// The one-shot flags are set here, before any request is made, so a
// decision is never issued twice for the same play. The caller reports the
// scrobble result back through CompleteScrobble.
func Advance(st *track.State, s Sample) Decision {
	if s.Duration > 0 {
		st.Duration = s.Duration
	}

	elapsed := max(s.Elapsed, 0)
	seen := !st.LastFetchTime.IsZero()

	// Players that only report position on state changes repeat the last
	// value; extrapolate from the wall clock instead.
	if seen && s.PlaybackRate > 0 && s.Elapsed == st.LastReportedElapsed {
		since := s.Now.Sub(st.LastFetchTime)
		if since > 0 {
			elapsed = max(elapsed, st.LastElapsed+time.Duration(float64(since)*s.PlaybackRate))
		}
	}
	if st.Duration > 0 && elapsed > st.Duration+ElapsedJitter {
		elapsed = st.Duration
	}

	var d Decision
	if (seen || st.Stopped) && st.LastElapsed-elapsed > RestartJump && elapsed < RestartWindow {
		st.ResetPlay(s.Now.Add(-elapsed))
		d.Restarted = true
	}

	st.LastReportedElapsed = s.Elapsed
	st.LastElapsed = elapsed
	st.LastFetchTime = s.Now
	st.PlaybackRate = s.PlaybackRate
	st.Stopped = false
	d.PlayID = st.PlayID

	if !st.IsMusic || st.Artist == "" || st.Title == "" {
		return d
	}
	if st.Phase == track.PhaseIdle {
		st.Phase = track.PhaseNowPlayingPending
	}
	// Held in pending until a fuzzy correction has been settled.
	if !st.Resolved || s.PlaybackRate <= 0 {
		return d
	}

	if !st.HasSubmittedNowPlaying {
		st.HasSubmittedNowPlaying = true
		if st.BeginTimeStamp.IsZero() {
			st.BeginTimeStamp = s.Now.Add(-elapsed)
		}
		st.Phase = track.PhaseNowPlayingSent
		d.NowPlaying = true
	}

	if !st.HasScrobbled && !st.SubmitInFlight && st.FailedAttempts < MaxPlayAttempts &&
		ShouldScrobble(st.Duration, elapsed) {
		st.Phase = track.PhaseScrobbleEligible
		st.SubmitInFlight = true
		d.Scrobble = true
	}

	return d
}

// CompleteScrobble records the outcome of a scrobble submission for the
// given play. It reports false when st has since moved on to another play
// and the result was ignored.
//
// On failure the state stays ScrobbleEligible so a later sample retries.
func CompleteScrobble(st *track.State, playID int, outcome lastfm.Outcome) bool {
	if st.PlayID != playID || !st.SubmitInFlight {
		return false
	}
	st.SubmitInFlight = false

	if outcome == lastfm.OutcomeSuccess {
		st.HasScrobbled = true
		st.Phase = track.PhaseScrobbled
		return true
	}
	st.FailedAttempts++
	return true
}

// HandOff marks the play as scrobbled because its scrobble now belongs to
// the backlog.
func HandOff(st *track.State) {
	st.SubmitInFlight = false
	st.HasScrobbled = true
	st.Phase = track.PhaseScrobbled
}

// Pending reports whether st holds a scrobble that was decided on but
// never delivered.
func Pending(st *track.State) bool {
	return st.Phase == track.PhaseScrobbleEligible && !st.HasScrobbled
}

// Detach forgets the sample baseline so that the next sample after the
// track becomes current again is not mistaken for a seek or a restart.
func Detach(st *track.State) {
	st.LastFetchTime = time.Time{}
	st.PlaybackRate = 0
	st.Stopped = false
}

// Stop forgets the wall-clock baseline but keeps the last elapsed value, so
// the next sample is still checked for a restart.
func Stop(st *track.State) {
	st.LastFetchTime = time.Time{}
	st.PlaybackRate = 0
	st.Stopped = true
}
