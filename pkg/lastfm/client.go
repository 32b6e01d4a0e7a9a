package lastfm

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds client configuration.
type Config struct {
	APIKey       string        // Required: Last.fm API key
	APISecret    string        // Required: Last.fm shared secret
	SessionKey   string        // Optional: Session key for authenticated requests
	HTTPClient   *http.Client  // Optional: HTTP client (defaults to a client with a 10s timeout)
	BaseURL      string        // Optional: Base URL for API (defaults to Last.fm API, used for testing)
	UserAgent    string        // Optional: User-Agent header
	MinInterval  time.Duration // Optional: minimum spacing between outbound requests (default 250ms, negative disables)
	MaxAttempts  int           // Optional: attempts per call including the first (default 3)
	RetryBackoff time.Duration // Optional: delay before the first retry, doubled per retry (default 1s)
	Logger       Logger        // Optional: Logger interface for debug logging
}

// Logger is an optional interface for logging.
type Logger interface {
	// Debugf logs a debug message with format and arguments.
	Debugf(format string, args ...interface{})
}

// Client is the main entry point for Last.fm API operations.
//
// A Client is safe for concurrent use. All calls made through the same
// Client share one rate limiter, so requests are spaced by at least
// MinInterval regardless of which goroutine issues them.
type Client struct {
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     Logger

	limiter      *rate.Limiter
	maxAttempts  int
	retryBackoff time.Duration

	mu         sync.RWMutex
	sessionKey string

	auth     *AuthService
	scrobble *ScrobbleService
	track    *TrackService
}

const (
	// DefaultBaseURL is the default Last.fm API endpoint.
	DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

	// DefaultMinInterval is the default minimum spacing between requests.
	DefaultMinInterval = 250 * time.Millisecond

	// DefaultMaxAttempts is the default number of attempts per call.
	DefaultMaxAttempts = 3

	// DefaultRetryBackoff is the default delay before the first retry.
	DefaultRetryBackoff = 1 * time.Second

	defaultUserAgent = "scrobbler/1.0"
)

// NewClient creates a new Last.fm API client.
//
// Returns an error if required configuration (APIKey, APISecret) is missing.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: APIKey is required", ErrInvalidConfig)
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: APISecret is required", ErrInvalidConfig)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	interval := cfg.MinInterval
	if interval == 0 {
		interval = DefaultMinInterval
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}

	c := &Client{
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		sessionKey:   cfg.SessionKey,
		httpClient:   httpClient,
		baseURL:      baseURL,
		userAgent:    userAgent,
		logger:       cfg.Logger,
		limiter:      rate.NewLimiter(limit, 1),
		maxAttempts:  maxAttempts,
		retryBackoff: backoff,
	}

	c.auth = &AuthService{client: c}
	c.scrobble = &ScrobbleService{client: c}
	c.track = &TrackService{client: c}

	return c, nil
}

// Auth returns the authentication service.
func (c *Client) Auth() *AuthService {
	return c.auth
}

// Scrobble returns the scrobbling service.
func (c *Client) Scrobble() *ScrobbleService {
	return c.scrobble
}

// Track returns the track lookup service.
func (c *Client) Track() *TrackService {
	return c.track
}

// SetSessionKey sets the session key for authenticated requests.
func (c *Client) SetSessionKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionKey = key
}

// GetSessionKey returns the current session key.
func (c *Client) GetSessionKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionKey
}

// logDebugf logs a debug message if a logger is configured.
func (c *Client) logDebugf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debugf(format, args...)
	}
}
