package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/scrobbler/internal/lyrics"
	"github.com/jfmyers9/scrobbler/internal/normalize"
	"github.com/jfmyers9/scrobbler/internal/scrobbler"
	"github.com/jfmyers9/scrobbler/internal/track"
	"github.com/jfmyers9/scrobbler/pkg/lastfm"
)

// Submitter is the part of the Last.fm client the tracker calls.
type Submitter interface {
	UpdateNowPlaying(ctx context.Context, s scrobbler.Scrobble) (lastfm.Outcome, error)
	ScrobbleTrack(ctx context.Context, s scrobbler.Scrobble) (lastfm.Outcome, error)
	Search(ctx context.Context, artist, title string) ([]scrobbler.Candidate, error)
}

// Backlog keeps scrobbles that could not be delivered while their track
// was current.
type Backlog interface {
	Add(ctx context.Context, s scrobbler.Scrobble) error
}

// LyricsFetcher looks up lyrics for a track.
type LyricsFetcher interface {
	Get(ctx context.Context, artist, title, album string, duration time.Duration) (*lyrics.Result, error)
}

// LyricsSink displays lyric lines as playback reaches them.
type LyricsSink interface {
	Header(key, artist, title string)
	Line(key string, idx int, text string)
}

// TitleChange is a metadata notification from the media source.
type TitleChange struct {
	Artist string
	Title  string
	Album  string

	// FromMusicPlatform marks sources whose metadata is trusted as-is.
	// Anything else is checked against Last.fm search first.
	FromMusicPlatform bool
}

// TrackerConfig wires a Tracker to its collaborators. Every field except
// Logger may be left zero.
type TrackerConfig struct {
	// Submitter sends now-playing and scrobbles. When nil, decisions are
	// still made and recorded but nothing is sent.
	Submitter Submitter
	Backlog   Backlog

	Lyrics       LyricsFetcher
	LyricsSink   LyricsSink
	PreferSynced bool

	CacheSize int
	Now       func() time.Time
	Logger    zerolog.Logger
}

var errJobDropped = errors.New("submission queue full")

// Tracker turns media source notifications into Last.fm calls.
//
// All track state is guarded by mu, which is never held across a network
// call: decisions are made under the lock and the resulting calls run on
// dispatcher goroutines, reporting back through the cache by key.
type Tracker struct {
	cfg        TrackerConfig
	now        func() time.Time
	logger     zerolog.Logger
	api        *Dispatcher
	background *Dispatcher

	mu         sync.Mutex
	cache      *track.Cache
	currentKey string
	last       TitleChange
	seen       bool
	suspended  bool
	evicted    []scrobbler.Scrobble
}

// NewTracker creates a Tracker. Call Run to start its workers.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	t := &Tracker{
		cfg:    cfg,
		now:    cfg.Now,
		logger: cfg.Logger.With().Str("component", "tracker").Logger(),
	}
	if t.now == nil {
		t.now = time.Now
	}
	t.api = NewDispatcher("api", 0, cfg.Logger)
	t.background = NewDispatcher("lyrics", 0, cfg.Logger)

	cache, err := track.NewCache(cfg.CacheSize, t.onEvict)
	if err != nil {
		return nil, err
	}
	t.cache = cache
	return t, nil
}

// Run starts the dispatchers and blocks until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range []*Dispatcher{t.api, t.background} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(ctx)
		}()
	}
	wg.Wait()
}

// Wait blocks until all submitted background work has finished.
func (t *Tracker) Wait() {
	t.api.Wait()
	t.background.Wait()
}

// Current returns a copy of the current track state.
func (t *Tracker) Current() track.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current().Snapshot()
}

// Suspended reports whether submissions stopped because Last.fm rejected
// the session.
func (t *Tracker) Suspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspended
}

// OnTitleChanged handles new metadata. Repeats of the last notification are
// ignored. When the identity differs from the current one, the previous
// track is detached and the new one becomes current, created on first
// sight.
func (t *Tracker) OnTitleChanged(c TitleChange) {
	var p pending

	t.mu.Lock()
	if t.seen && c.Artist == t.last.Artist && c.Title == t.last.Title && c.Album == t.last.Album {
		t.mu.Unlock()
		return
	}
	t.seen = true
	t.last = c

	artist, title, album := normalize.Artist(c.Artist), normalize.Title(c.Title), normalize.Album(c.Album)
	// Browsers and video apps put the channel name in artist and
	// "Artist - Title" in title.
	if artist == "" || !c.FromMusicPlatform {
		if a, ti, ok := normalize.ExtractArtistTitle(c.Title); ok {
			artist, title = a, ti
		}
	}

	var key string
	if normalize.IsPlausibleMusic(artist, title, album) {
		key = track.IdentityKey(artist, title, album)
	} else {
		t.logger.Debug().
			Str("artist", c.Artist).
			Str("title", c.Title).
			Msg("Ignoring non-music metadata")
	}

	if key != t.currentKey {
		t.switchTo(key, artist, title, album, c.FromMusicPlatform, &p)
	}
	t.mu.Unlock()

	t.flush(&p)
}

// OnPlaybackStateChanged feeds a progress sample for the current track.
// A zero duration keeps the last known duration.
func (t *Tracker) OnPlaybackStateChanged(rate float64, elapsed, duration time.Duration) {
	var p pending

	t.mu.Lock()
	t.advance(t.current(), scrobbler.Sample{
		Elapsed:      elapsed,
		Duration:     duration,
		PlaybackRate: rate,
		Now:          t.now(),
	}, &p)
	t.mu.Unlock()

	t.flush(&p)
}

// Tick re-samples the current track from its last report so eligibility
// advances for sources that only report on state changes.
func (t *Tracker) Tick() {
	var p pending

	t.mu.Lock()
	st := t.current()
	if !st.LastFetchTime.IsZero() && st.PlaybackRate > 0 {
		t.advance(st, scrobbler.Sample{
			Elapsed:      st.LastReportedElapsed,
			PlaybackRate: st.PlaybackRate,
			Now:          t.now(),
		}, &p)
	}
	t.mu.Unlock()

	t.flush(&p)
}

// Stopped records that the source has nothing loaded. Starting the same
// track over afterwards counts as a new play.
func (t *Tracker) Stopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	scrobbler.Stop(t.current())
}

func (t *Tracker) current() *track.State {
	if st, ok := t.cache.Get(t.currentKey); ok {
		return st
	}
	t.currentKey = ""
	return t.cache.Sentinel()
}

func (t *Tracker) switchTo(key, artist, title, album string, trusted bool, p *pending) {
	prev := t.current()
	scrobbler.Detach(prev)
	if scrobbler.Pending(prev) && !prev.SubmitInFlight {
		scrobbler.HandOff(prev)
		p.backlog = append(p.backlog, scrobbleOf(prev))
	}

	st, created := t.cache.LookupOrCreate(key, func() *track.State {
		st := track.NewState(key, artist, title, album)
		st.IsMusic = true
		st.Resolved = trusted || t.cfg.Submitter == nil
		return st
	})
	if !created {
		scrobbler.Detach(st)
	}
	t.currentKey = key
	p.backlog = append(p.backlog, t.evicted...)
	t.evicted = nil

	if key == "" {
		return
	}
	t.logger.Info().
		Str("artist", st.Artist).
		Str("title", st.Title).
		Str("album", st.Album).
		Bool("cached", !created).
		Msg("Track changed")

	if created && !st.Resolved {
		p.api = append(p.api, task{
			run:  t.resolveJob(key, artist, title),
			drop: func() { t.markResolved(key) },
		})
	}
}

// onEvict runs under mu from inside the cache.
func (t *Tracker) onEvict(key string, st *track.State) {
	t.logger.Debug().Str("artist", st.Artist).Str("title", st.Title).Msg("Evicted track")
	if scrobbler.Pending(st) && !st.SubmitInFlight {
		t.evicted = append(t.evicted, scrobbleOf(st))
	}
}

func (t *Tracker) advance(st *track.State, s scrobbler.Sample, p *pending) {
	d := scrobbler.Advance(st, s)
	if st.Key == "" {
		return
	}

	if d.Restarted {
		t.logger.Info().Str("artist", st.Artist).Str("title", st.Title).Msg("Track restarted")
	}

	if t.cfg.Lyrics != nil && st.IsMusic && !st.LyricsRequested {
		st.LyricsRequested = true
		p.background = append(p.background, task{
			run: t.lyricsJob(st.Key, st.Artist, st.Title, st.Album, st.Duration),
		})
	}
	if len(st.ParsedSyncedLyrics) > 0 {
		p.output = append(p.output, t.lyricOutput(st, false)...)
	}

	if d.NowPlaying {
		t.decideNowPlaying(st, p)
	}
	if d.Scrobble {
		t.decideScrobble(st, d.PlayID, p)
	}
}

func (t *Tracker) decideNowPlaying(st *track.State, p *pending) {
	if t.cfg.Submitter == nil || t.suspended {
		return
	}
	s := scrobbleOf(st)
	p.api = append(p.api, task{run: func(ctx context.Context) {
		outcome, err := t.cfg.Submitter.UpdateNowPlaying(ctx, s)
		log := t.logger.With().Str("artist", s.Artist).Str("track", s.Track).Logger()
		switch outcome {
		case lastfm.OutcomeSuccess:
			log.Info().Msg("Now playing")
		case lastfm.OutcomeSoftFailure:
			log.Warn().Err(err).Msg("Failed to update now playing")
		case lastfm.OutcomeHardFailure:
			t.hardFailure(log, err, "Now playing rejected")
		}
	}})
}

func (t *Tracker) decideScrobble(st *track.State, playID int, p *pending) {
	s := scrobbleOf(st)
	switch {
	case t.cfg.Submitter == nil:
		scrobbler.CompleteScrobble(st, playID, lastfm.OutcomeSuccess)
		t.logger.Debug().Str("artist", s.Artist).Str("track", s.Track).Msg("Scrobbling disabled, marked locally")
	case t.suspended:
		scrobbler.HandOff(st)
		p.backlog = append(p.backlog, s)
	default:
		key := st.Key
		p.api = append(p.api, task{
			run: func(ctx context.Context) {
				outcome, err := t.cfg.Submitter.ScrobbleTrack(ctx, s)
				t.finishScrobble(key, playID, s, outcome, err)
			},
			drop: func() {
				t.finishScrobble(key, playID, s, lastfm.OutcomeSoftFailure, errJobDropped)
			},
		})
	}
}

// finishScrobble applies a scrobble result to the play it was made for.
// A soft failure goes to the backlog once the play can no longer retry it
// itself: the track stopped being current, was evicted or restarted, or
// used up its attempts.
func (t *Tracker) finishScrobble(key string, playID int, s scrobbler.Scrobble, outcome lastfm.Outcome, err error) {
	log := t.logger.With().Str("artist", s.Artist).Str("track", s.Track).Logger()
	toBacklog := false

	t.mu.Lock()
	st, ok := t.cache.Peek(key)
	live := ok && scrobbler.CompleteScrobble(st, playID, outcome)
	switch outcome {
	case lastfm.OutcomeSoftFailure:
		switch {
		case !live:
			toBacklog = true
		case key != t.currentKey || st.FailedAttempts >= scrobbler.MaxPlayAttempts:
			scrobbler.HandOff(st)
			toBacklog = true
		}
	case lastfm.OutcomeHardFailure:
		if live {
			scrobbler.HandOff(st)
		}
		toBacklog = lastfm.RequiresReauth(err)
	}
	t.mu.Unlock()

	switch outcome {
	case lastfm.OutcomeSuccess:
		if err != nil {
			log.Warn().Err(err).Msg("Scrobble ignored")
		} else {
			log.Info().Time("timestamp", s.Timestamp).Msg("Scrobbled")
		}
	case lastfm.OutcomeSoftFailure:
		log.Warn().Err(err).Bool("queued", toBacklog).Msg("Scrobble failed")
	case lastfm.OutcomeHardFailure:
		t.hardFailure(log, err, "Scrobble rejected")
	}

	if toBacklog {
		t.enqueue(s)
	}
}

// hardFailure logs a rejected call and stops further submissions when the
// session itself was rejected.
func (t *Tracker) hardFailure(log zerolog.Logger, err error, msg string) {
	if !lastfm.RequiresReauth(err) {
		log.Error().Err(err).Msg(msg)
		return
	}
	t.mu.Lock()
	already := t.suspended
	t.suspended = true
	t.mu.Unlock()
	if !already {
		log.Error().Err(err).Msg("Last.fm rejected the session, submissions suspended (run 'scrobbler auth')")
	}
}

func (t *Tracker) enqueue(s scrobbler.Scrobble) {
	log := t.logger.With().Str("artist", s.Artist).Str("track", s.Track).Logger()
	if t.cfg.Backlog == nil {
		log.Warn().Msg("No backlog, dropping scrobble")
		return
	}
	if err := t.cfg.Backlog.Add(context.Background(), s); err != nil {
		log.Error().Err(err).Msg("Failed to queue scrobble")
		return
	}
	log.Info().Msg("Queued scrobble for retry")
}

func (t *Tracker) resolveJob(key, artist, title string) Job {
	return func(ctx context.Context) {
		candidates, err := t.cfg.Submitter.Search(ctx, artist, title)

		t.mu.Lock()
		defer t.mu.Unlock()

		st, ok := t.cache.Peek(key)
		if !ok || st.Resolved {
			return
		}
		st.Resolved = true
		log := t.logger.With().Str("artist", artist).Str("title", title).Logger()

		if err != nil {
			log.Warn().Err(err).Msg("Track search failed, using names as reported")
			return
		}
		for _, c := range candidates {
			if normalize.AcceptMatch(artist, c.Artist) && normalize.AcceptMatch(title, c.Title) {
				st.SubmitArtist, st.SubmitTitle = c.Artist, c.Title
				log.Debug().Str("match_artist", c.Artist).Str("match_title", c.Title).Msg("Matched track")
				return
			}
		}
		st.IsMusic = false
		st.Phase = track.PhaseIdle
		log.Info().Int("candidates", len(candidates)).Msg("No matching track, treating as non-music")
	}
}

func (t *Tracker) markResolved(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.cache.Peek(key); ok {
		st.Resolved = true
	}
}

func (t *Tracker) lyricsJob(key, artist, title, album string, duration time.Duration) Job {
	return func(ctx context.Context) {
		log := t.logger.With().Str("component", "lyrics").Str("artist", artist).Str("title", title).Logger()

		res, err := t.cfg.Lyrics.Get(ctx, artist, title, album, duration)
		if errors.Is(err, lyrics.ErrNotFound) {
			log.Debug().Msg("No lyrics found")
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("Failed to fetch lyrics")
			return
		}

		var synced []lyrics.Line
		if res.SyncedLyrics != "" {
			if synced, err = lyrics.ParseLRC(res.SyncedLyrics); err != nil {
				log.Debug().Err(err).Msg("Ignoring malformed synced lyrics")
			}
		}
		plain := lyrics.ParsePlain(res.PlainLyrics)

		var out []func()
		t.mu.Lock()
		if st, ok := t.cache.Peek(key); ok {
			st.PlainLyrics = res.PlainLyrics
			st.SyncedLyrics = res.SyncedLyrics
			st.ParsedSyncedLyrics = synced
			st.ParsedPlainLyrics = plain
			if key == t.currentKey {
				out = t.lyricOutput(st, true)
			}
		}
		t.mu.Unlock()

		for _, f := range out {
			f()
		}
	}
}

// lyricOutput moves st's lyric index to its elapsed time and returns the
// sink calls that display the change. arrived is true when the lyrics were
// just stored.
func (t *Tracker) lyricOutput(st *track.State, arrived bool) []func() {
	useSynced := len(st.ParsedSyncedLyrics) > 0 && (t.cfg.PreferSynced || len(st.ParsedPlainLyrics) == 0)

	var out []func()
	sink := t.cfg.LyricsSink
	key, artist, title := st.Key, st.Artist, st.Title

	if useSynced {
		idx := lyrics.LineAt(st.ParsedSyncedLyrics, st.LastElapsed)
		if idx == st.CurrentLyricIndex && !arrived {
			return nil
		}
		st.CurrentLyricIndex = idx
		if sink == nil || idx < 0 {
			return nil
		}
		text := st.ParsedSyncedLyrics[idx].Text
		return append(out, func() {
			sink.Header(key, artist, title)
			sink.Line(key, idx, text)
		})
	}

	if !arrived || sink == nil || len(st.ParsedPlainLyrics) == 0 {
		return nil
	}
	lines := st.ParsedPlainLyrics
	return append(out, func() {
		sink.Header(key, artist, title)
		for i, l := range lines {
			sink.Line(key, i, l)
		}
	})
}

func scrobbleOf(st *track.State) scrobbler.Scrobble {
	return scrobbler.Scrobble{
		Artist:    st.SubmitArtist,
		Track:     st.SubmitTitle,
		Album:     st.Album,
		Timestamp: st.BeginTimeStamp,
		Duration:  st.Duration,
	}
}

// task is a job plus what to do if it cannot be queued.
type task struct {
	run  Job
	drop func()
}

// pending collects the side effects of a locked section so they can run
// after the lock is released.
type pending struct {
	api        []task
	background []task
	backlog    []scrobbler.Scrobble
	output     []func()
}

func (t *Tracker) flush(p *pending) {
	for _, s := range p.backlog {
		t.enqueue(s)
	}
	for _, f := range p.output {
		f()
	}
	submit := func(d *Dispatcher, tasks []task) {
		for _, tk := range tasks {
			if !d.Submit(tk.run) && tk.drop != nil {
				tk.drop()
			}
		}
	}
	submit(t.api, p.api)
	submit(t.background, p.background)
}
