package scrobbler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/scrobbler/pkg/lastfm"
)

// Client wraps the Last.fm API client and reduces every submission to a
// lastfm.Outcome.
type Client struct {
	client *lastfm.Client
}

// Config configures a Client. BaseURL, MinInterval and RetryBackoff are
// left at the lastfm defaults when zero.
type Config struct {
	APIKey       string
	APISecret    string
	SessionKey   string
	BaseURL      string
	MinInterval  time.Duration
	RetryBackoff time.Duration
	Logger       zerolog.Logger
}

// zerologAdapter satisfies lastfm.Logger.
type zerologAdapter struct {
	log zerolog.Logger
}

func (a zerologAdapter) Debugf(format string, args ...interface{}) {
	a.log.Debug().Msgf(format, args...)
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	client, err := lastfm.NewClient(lastfm.Config{
		APIKey:       cfg.APIKey,
		APISecret:    cfg.APISecret,
		SessionKey:   cfg.SessionKey,
		BaseURL:      cfg.BaseURL,
		MinInterval:  cfg.MinInterval,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       zerologAdapter{log: cfg.Logger.With().Str("component", "lastfm").Logger()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lastfm client: %w", err)
	}
	return &Client{client: client}, nil
}

// AuthenticateWithToken initiates the authentication flow.
// Returns the auth URL that the user should visit.
func (c *Client) AuthenticateWithToken(ctx context.Context) (token string, authURL string, err error) {
	tokenResp, err := c.client.Auth().GetToken(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to get auth token: %w", err)
	}
	return tokenResp.Token, c.client.Auth().GetAuthURL(tokenResp.Token), nil
}

// GetSession completes the authentication flow after user authorization.
// Returns the session key that should be stored for future use.
func (c *Client) GetSession(ctx context.Context, token string) (sessionKey string, err error) {
	session, err := c.client.Auth().GetSession(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to get session: %w", err)
	}
	c.client.SetSessionKey(session.Key)
	return session.Key, nil
}

// Scrobble is a single play to report.
type Scrobble struct {
	Artist    string
	Track     string
	Album     string
	Timestamp time.Time
	Duration  time.Duration
}

func (s Scrobble) lastfmTrack() lastfm.Track {
	t := lastfm.Track{
		Artist: s.Artist,
		Track:  s.Track,
		Album:  s.Album,
	}
	if s.Duration > 0 {
		t.Duration = int(s.Duration.Seconds())
	}
	return t
}

// UpdateNowPlaying sends a now-playing notification.
func (c *Client) UpdateNowPlaying(ctx context.Context, s Scrobble) (lastfm.Outcome, error) {
	_, err := c.client.Scrobble().UpdateNowPlaying(ctx, s.lastfmTrack())
	if err != nil {
		return lastfm.Classify(err), fmt.Errorf("failed to update now playing: %w", err)
	}
	return lastfm.OutcomeSuccess, nil
}

// ScrobbleTrack submits a single scrobble.
//
// A scrobble Last.fm accepted but ignored (filtered artist, timestamp out
// of range) comes back as OutcomeSuccess with a non-nil error: sending it
// again would be ignored again.
func (c *Client) ScrobbleTrack(ctx context.Context, s Scrobble) (lastfm.Outcome, error) {
	resp, err := c.client.Scrobble().Scrobble(ctx, s.lastfmTrack(), s.Timestamp)
	if err != nil {
		return lastfm.Classify(err), fmt.Errorf("failed to scrobble track: %w", err)
	}

	if resp.Ignored > 0 {
		if len(resp.Scrobbles) > 0 && resp.Scrobbles[0].IgnoredMessage.Text != "" {
			return lastfm.OutcomeSuccess, fmt.Errorf("scrobble was ignored: %s", resp.Scrobbles[0].IgnoredMessage.Text)
		}
		return lastfm.OutcomeSuccess, fmt.Errorf("scrobble was ignored by Last.fm")
	}
	return lastfm.OutcomeSuccess, nil
}

// ScrobbleBatch submits up to lastfm.MaxBatchSize scrobbles in one request.
func (c *Client) ScrobbleBatch(ctx context.Context, scrobbles []Scrobble) (lastfm.Outcome, error) {
	if len(scrobbles) == 0 {
		return lastfm.OutcomeSuccess, nil
	}
	if len(scrobbles) > lastfm.MaxBatchSize {
		return lastfm.OutcomeHardFailure, fmt.Errorf("cannot scrobble more than %d tracks at once (got %d)", lastfm.MaxBatchSize, len(scrobbles))
	}

	lfmScrobbles := make([]lastfm.Scrobble, len(scrobbles))
	for i, s := range scrobbles {
		lfmScrobbles[i] = lastfm.Scrobble{Track: s.lastfmTrack(), Timestamp: s.Timestamp}
	}

	resp, err := c.client.Scrobble().ScrobbleBatch(ctx, lfmScrobbles)
	if err != nil {
		return lastfm.Classify(err), fmt.Errorf("failed to scrobble batch: %w", err)
	}
	if resp.Ignored > 0 {
		return lastfm.OutcomeSuccess, fmt.Errorf("%d scrobbles were ignored by Last.fm", resp.Ignored)
	}
	return lastfm.OutcomeSuccess, nil
}

// Candidate is a search result offered as a correction.
type Candidate struct {
	Artist string
	Title  string
}

// Search returns Last.fm's ranked matches for artist and title.
func (c *Client) Search(ctx context.Context, artist, title string) ([]Candidate, error) {
	results, err := c.client.Track().Search(ctx, title, artist, lastfm.DefaultSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search track: %w", err)
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		out = append(out, Candidate{Artist: r.Artist, Title: r.Name})
	}
	return out, nil
}

// IsAuthenticated checks if the client has a session key.
func (c *Client) IsAuthenticated() bool {
	return c.client.GetSessionKey() != ""
}

// GetSessionKey returns the current session key.
func (c *Client) GetSessionKey() string {
	return c.client.GetSessionKey()
}
