package scrobbler

import (
	"time"
)

// Last.fm scrobbling rules.
const (
	// MinimumTrackDuration is the shortest track that can be scrobbled.
	MinimumTrackDuration = 30 * time.Second

	// ScrobblePercentage is the fraction of a track that must be played.
	ScrobblePercentage = 0.5

	// MaxScrobbleThreshold caps the required play time for long tracks.
	MaxScrobbleThreshold = 4 * time.Minute
)

// ShouldScrobble reports whether a track of trackDuration counts as played
// after playedDuration: the track must be at least 30 seconds long and
// played for half its length or 4 minutes, whichever comes first.
func ShouldScrobble(trackDuration, playedDuration time.Duration) bool {
	threshold := ScrobbleThreshold(trackDuration)
	return threshold >= 0 && playedDuration >= threshold
}

// ScrobbleThreshold returns the play time at which a track of the given
// duration becomes eligible, or -1 when it never can.
func ScrobbleThreshold(trackDuration time.Duration) time.Duration {
	if !IsEligible(trackDuration) {
		return -1
	}
	return min(time.Duration(float64(trackDuration)*ScrobblePercentage), MaxScrobbleThreshold)
}

// IsEligible reports whether a track is long enough to ever be scrobbled.
func IsEligible(trackDuration time.Duration) bool {
	return trackDuration >= MinimumTrackDuration
}
