package daemon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfmyers9/scrobbler/internal/lyrics"
	"github.com/jfmyers9/scrobbler/internal/scrobbler"
	"github.com/jfmyers9/scrobbler/internal/track"
	"github.com/jfmyers9/scrobbler/pkg/lastfm"
)

type call struct {
	Method string
	scrobbler.Scrobble
}

type fakeSubmitter struct {
	mu         sync.Mutex
	calls      []call
	scrobbleFn func(n int) (lastfm.Outcome, error)
	candidates []scrobbler.Candidate
	searchErr  error
	searches   int
}

func (f *fakeSubmitter) UpdateNowPlaying(ctx context.Context, s scrobbler.Scrobble) (lastfm.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"now_playing", s})
	return lastfm.OutcomeSuccess, nil
}

func (f *fakeSubmitter) ScrobbleTrack(ctx context.Context, s scrobbler.Scrobble) (lastfm.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"scrobble", s})
	if f.scrobbleFn != nil {
		return f.scrobbleFn(f.count("scrobble"))
	}
	return lastfm.OutcomeSuccess, nil
}

func (f *fakeSubmitter) Search(ctx context.Context, artist, title string) ([]scrobbler.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return f.candidates, f.searchErr
}

// count must be called with mu held.
func (f *fakeSubmitter) count(method string) int {
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *fakeSubmitter) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count(method)
}

func (f *fakeSubmitter) Calls(method string) []scrobbler.Scrobble {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scrobbler.Scrobble
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c.Scrobble)
		}
	}
	return out
}

type fakeBacklog struct {
	mu    sync.Mutex
	items []scrobbler.Scrobble
}

func (b *fakeBacklog) Add(ctx context.Context, s scrobbler.Scrobble) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, s)
	return nil
}

func (b *fakeBacklog) Items() []scrobbler.Scrobble {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]scrobbler.Scrobble(nil), b.items...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var epoch = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type harness struct {
	*Tracker
	clock   *fakeClock
	api     *fakeSubmitter
	backlog *fakeBacklog
}

func newHarness(t *testing.T, mutate func(*TrackerConfig)) *harness {
	t.Helper()
	h := &harness{
		clock:   &fakeClock{t: epoch},
		api:     &fakeSubmitter{},
		backlog: &fakeBacklog{},
	}
	cfg := TrackerConfig{
		Submitter: h.api,
		Backlog:   h.backlog,
		Now:       h.clock.Now,
		Logger:    zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	tr, err := NewTracker(cfg)
	require.NoError(t, err)
	h.Tracker = tr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// play feeds one-second samples from from to to inclusive and waits for
// the resulting calls.
func (h *harness) play(from, to int, duration time.Duration) {
	for s := from; s <= to; s++ {
		h.OnPlaybackStateChanged(1, time.Duration(s)*time.Second, duration)
		h.Wait()
		h.clock.Advance(time.Second)
	}
}

func (h *harness) title(artist, title, album string) {
	h.OnTitleChanged(TitleChange{Artist: artist, Title: title, Album: album, FromMusicPlatform: true})
	h.Wait()
}

const onceMoreDuration = 320 * time.Second

func TestTracker_FullPlay(t *testing.T) {
	h := newHarness(t, nil)

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 0, onceMoreDuration)
	assert.Equal(t, 1, h.api.Count("now_playing"))
	assert.Equal(t, 0, h.api.Count("scrobble"))

	h.play(1, 159, onceMoreDuration)
	assert.Equal(t, 0, h.api.Count("scrobble"), "scrobble before half the track")

	h.play(160, 160, onceMoreDuration)
	require.Equal(t, 1, h.api.Count("scrobble"))
	assert.Equal(t, track.PhaseScrobbled, h.Current().Phase)

	h.play(161, 320, onceMoreDuration)
	assert.Equal(t, 1, h.api.Count("now_playing"))
	assert.Equal(t, 1, h.api.Count("scrobble"))

	s := h.api.Calls("scrobble")[0]
	assert.Equal(t, "Daft Punk", s.Artist)
	assert.Equal(t, "One More Time", s.Track)
	assert.Equal(t, "Discovery", s.Album)
	assert.Equal(t, epoch, s.Timestamp)
	assert.Equal(t, onceMoreDuration, s.Duration)
}

func TestTracker_Restart(t *testing.T) {
	h := newHarness(t, nil)

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 300, onceMoreDuration)
	require.Equal(t, 1, h.api.Count("now_playing"))
	require.Equal(t, 1, h.api.Count("scrobble"))

	h.play(5, 5, onceMoreDuration)
	assert.Equal(t, 2, h.api.Count("now_playing"), "restart should send a fresh now playing")
	assert.Equal(t, 1, h.Current().PlayID)

	h.play(6, 160, onceMoreDuration)
	assert.Equal(t, 2, h.api.Count("scrobble"))
}

func TestTracker_RepeatedTitleIsIgnored(t *testing.T) {
	h := newHarness(t, nil)

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 10, onceMoreDuration)
	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(11, 20, onceMoreDuration)

	assert.Equal(t, 1, h.api.Count("now_playing"))
	assert.Equal(t, 20*time.Second, h.Current().LastElapsed)
}

func TestTracker_CachedTrackDoesNotRefire(t *testing.T) {
	h := newHarness(t, nil)

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 200, onceMoreDuration)
	h.title("Daft Punk", "Aerodynamic", "Discovery")
	h.play(0, 5, 212*time.Second)
	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 200, onceMoreDuration)

	assert.Equal(t, 2, h.api.Count("now_playing"))
	assert.Equal(t, 1, h.api.Count("scrobble"))
}

func TestTracker_EvictedTrackStartsFresh(t *testing.T) {
	h := newHarness(t, func(c *TrackerConfig) { c.CacheSize = 3 })

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 0, onceMoreDuration)

	for i := range 3 {
		h.title("Daft Punk", fmt.Sprintf("Track %d", i), "Discovery")
		h.play(0, 0, 200*time.Second)
	}

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 0, onceMoreDuration)

	assert.Equal(t, 5, h.api.Count("now_playing"))
	assert.Equal(t, 0, h.Current().PlayID)
}

func TestTracker_NonMusicMetadata(t *testing.T) {
	h := newHarness(t, nil)

	h.title("", "", "")
	h.play(0, 200, onceMoreDuration)
	h.title("Unknown Artist", "Track 01", "")
	h.play(0, 200, onceMoreDuration)

	assert.Equal(t, 0, h.api.Count("now_playing"))
	assert.Equal(t, "", h.Current().Key)
}

func TestTracker_ShortTrackNeverScrobbles(t *testing.T) {
	h := newHarness(t, nil)

	h.title("Napalm Death", "You Suffer", "Scum")
	h.play(0, 29, 29*time.Second)

	assert.Equal(t, 1, h.api.Count("now_playing"))
	assert.Equal(t, 0, h.api.Count("scrobble"))
}

func TestTracker_SoftFailureRetriesThenQueues(t *testing.T) {
	h := newHarness(t, nil)
	h.api.scrobbleFn = func(int) (lastfm.Outcome, error) {
		return lastfm.OutcomeSoftFailure, fmt.Errorf("max retries exceeded")
	}

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 170, onceMoreDuration)

	assert.Equal(t, scrobbler.MaxPlayAttempts, h.api.Count("scrobble"))
	require.Len(t, h.backlog.Items(), 1)
	assert.Equal(t, epoch, h.backlog.Items()[0].Timestamp)
	assert.Equal(t, track.PhaseScrobbled, h.Current().Phase)
}

func TestTracker_SoftFailureQueuedWhenTrackChanges(t *testing.T) {
	h := newHarness(t, nil)
	h.api.scrobbleFn = func(n int) (lastfm.Outcome, error) {
		return lastfm.OutcomeSoftFailure, fmt.Errorf("service offline")
	}

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 160, onceMoreDuration)
	require.Equal(t, 1, h.api.Count("scrobble"))
	assert.Empty(t, h.backlog.Items(), "current track retries on its own")

	h.title("Daft Punk", "Aerodynamic", "Discovery")
	require.Len(t, h.backlog.Items(), 1)
	assert.Equal(t, "One More Time", h.backlog.Items()[0].Track)
}

func TestTracker_SessionRejectedSuspends(t *testing.T) {
	h := newHarness(t, nil)
	h.api.scrobbleFn = func(int) (lastfm.Outcome, error) {
		return lastfm.OutcomeHardFailure, &lastfm.Error{Code: lastfm.ErrCodeInvalidSessionKey, Message: "Invalid session key"}
	}

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 200, onceMoreDuration)

	assert.True(t, h.Suspended())
	assert.Equal(t, 1, h.api.Count("scrobble"))
	assert.Len(t, h.backlog.Items(), 1)

	h.title("Daft Punk", "Aerodynamic", "Discovery")
	h.play(0, 150, 212*time.Second)
	assert.Equal(t, 1, h.api.Count("now_playing"), "no now playing while suspended")
	assert.Equal(t, 1, h.api.Count("scrobble"))
	assert.Len(t, h.backlog.Items(), 2)
}

func TestTracker_OtherHardFailureIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.api.scrobbleFn = func(int) (lastfm.Outcome, error) {
		return lastfm.OutcomeHardFailure, &lastfm.Error{Code: lastfm.ErrCodeInvalidParameters, Message: "Invalid parameters"}
	}

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 200, onceMoreDuration)

	assert.False(t, h.Suspended())
	assert.Equal(t, 1, h.api.Count("scrobble"))
	assert.Empty(t, h.backlog.Items())
}

func TestTracker_ScrobblingDisabled(t *testing.T) {
	h := newHarness(t, func(c *TrackerConfig) { c.Submitter = nil })

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 170, onceMoreDuration)

	st := h.Current()
	assert.True(t, st.HasSubmittedNowPlaying)
	assert.True(t, st.HasScrobbled)
	assert.Equal(t, track.PhaseScrobbled, st.Phase)
	assert.Equal(t, 0, h.api.Count("scrobble"))
}

func TestTracker_FuzzyCorrection(t *testing.T) {
	h := newHarness(t, nil)
	h.api.candidates = []scrobbler.Candidate{
		{Artist: "Daft Punk", Title: "One More Time"},
	}

	h.OnTitleChanged(TitleChange{
		Artist: "DaftPunkVEVO",
		Title:  "Daft Punk - One More Tiem (Official Video)",
	})
	h.Wait()
	h.play(0, 0, onceMoreDuration)

	require.Equal(t, 1, h.api.searches)
	calls := h.api.Calls("now_playing")
	require.Len(t, calls, 1)
	assert.Equal(t, "Daft Punk", calls[0].Artist)
	assert.Equal(t, "One More Time", calls[0].Track)
	assert.Equal(t, "One More Tiem", h.Current().Title, "display form keeps the reported title")
}

func TestTracker_FuzzyRejectsUnrelatedMatch(t *testing.T) {
	h := newHarness(t, nil)
	h.api.candidates = []scrobbler.Candidate{
		{Artist: "Taylor Swift", Title: "Shake It Off"},
	}

	h.OnTitleChanged(TitleChange{Artist: "Some Channel", Title: "Cooking Stream - Episode 4"})
	h.Wait()
	h.play(0, 200, onceMoreDuration)

	assert.False(t, h.Current().IsMusic)
	assert.Equal(t, 0, h.api.Count("now_playing"))
	assert.Equal(t, 0, h.api.Count("scrobble"))
}

func TestTracker_SearchFailureUsesReportedNames(t *testing.T) {
	h := newHarness(t, nil)
	h.api.searchErr = fmt.Errorf("network down")

	h.OnTitleChanged(TitleChange{Artist: "Channel", Title: "Daft Punk - One More Time"})
	h.Wait()
	h.play(0, 0, onceMoreDuration)

	calls := h.api.Calls("now_playing")
	require.Len(t, calls, 1, "search failure falls back to reported names")
	assert.Equal(t, "Daft Punk", calls[0].Artist)
}

func TestTracker_Extrapolation(t *testing.T) {
	h := newHarness(t, nil)

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 0, onceMoreDuration)

	for range 32 {
		h.clock.Advance(5 * time.Second)
		h.Tick()
		h.Wait()
	}
	assert.Equal(t, 1, h.api.Count("scrobble"))
	assert.Equal(t, 161*time.Second, h.Current().LastElapsed)
}

func TestTracker_StoppedThenResumed(t *testing.T) {
	h := newHarness(t, nil)

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 100, onceMoreDuration)
	h.Stopped()
	h.clock.Advance(10 * time.Minute)
	h.play(101, 160, onceMoreDuration)

	assert.Equal(t, 1, h.api.Count("now_playing"))
	assert.Equal(t, 1, h.api.Count("scrobble"))
}

func TestTracker_StoppedThenReplayed(t *testing.T) {
	h := newHarness(t, nil)

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 300, onceMoreDuration)
	h.Stopped()
	h.clock.Advance(time.Minute)
	h.play(5, 200, onceMoreDuration)

	assert.Equal(t, 2, h.api.Count("now_playing"))
	require.Equal(t, 2, h.api.Count("scrobble"))
	calls := h.api.Calls("scrobble")
	assert.True(t, calls[1].Timestamp.After(calls[0].Timestamp))
}

type fakeLyrics struct {
	res *lyrics.Result
	err error
}

func (f fakeLyrics) Get(ctx context.Context, artist, title, album string, duration time.Duration) (*lyrics.Result, error) {
	return f.res, f.err
}

type recordedLine struct {
	Idx  int
	Text string
}

type fakeSink struct {
	mu      sync.Mutex
	headers []string
	lines   []recordedLine
}

func (s *fakeSink) Header(key, artist, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.headers) == 0 || s.headers[len(s.headers)-1] != key {
		s.headers = append(s.headers, key)
	}
}

func (s *fakeSink) Line(key string, idx int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, recordedLine{idx, text})
}

func TestTracker_SyncedLyrics(t *testing.T) {
	sink := &fakeSink{}
	h := newHarness(t, func(c *TrackerConfig) {
		c.Lyrics = fakeLyrics{res: &lyrics.Result{
			SyncedLyrics: "[00:01.00]One more time\n[00:03.00]We're gonna celebrate\n",
			PlainLyrics:  "One more time\nWe're gonna celebrate\n",
		}}
		c.LyricsSink = sink
		c.PreferSynced = true
	})

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 4, onceMoreDuration)

	st := h.Current()
	assert.Len(t, st.ParsedSyncedLyrics, 2)
	assert.Equal(t, 1, st.CurrentLyricIndex)
	assert.Len(t, sink.headers, 1)
	assert.Equal(t, []recordedLine{{0, "One more time"}, {1, "We're gonna celebrate"}}, sink.lines)
}

func TestTracker_PlainLyrics(t *testing.T) {
	sink := &fakeSink{}
	h := newHarness(t, func(c *TrackerConfig) {
		c.Lyrics = fakeLyrics{res: &lyrics.Result{
			SyncedLyrics: "[00:01.00]One more time\n",
			PlainLyrics:  "One more time\nWe're gonna celebrate\n",
		}}
		c.LyricsSink = sink
	})

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 4, onceMoreDuration)

	assert.Equal(t, []recordedLine{{0, "One more time"}, {1, "We're gonna celebrate"}}, sink.lines)
}

func TestTracker_LyricsNotFound(t *testing.T) {
	sink := &fakeSink{}
	h := newHarness(t, func(c *TrackerConfig) {
		c.Lyrics = fakeLyrics{err: lyrics.ErrNotFound}
		c.LyricsSink = sink
	})

	h.title("Daft Punk", "One More Time", "Discovery")
	h.play(0, 4, onceMoreDuration)

	assert.Empty(t, sink.lines)
	assert.True(t, h.Current().LyricsRequested)
	assert.Equal(t, 1, h.api.Count("now_playing"))
}
