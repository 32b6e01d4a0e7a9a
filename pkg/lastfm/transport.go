package lastfm

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Base represents the root XML response from Last.fm API.
type Base struct {
	XMLName xml.Name `xml:"lfm"`
	Status  string   `xml:"status,attr"`
	Inner   []byte   `xml:",innerxml"`
}

// APIError represents an error response from the Last.fm API.
type APIError struct {
	Code    int    `xml:"code,attr"`
	Message string `xml:",chardata"`
}

const (
	apiStatusOK     = "ok"
	apiStatusFailed = "failed"

	maxBackoff = 30 * time.Second
)

// errRateLimited marks an HTTP 429 response without a parsable API error.
var errRateLimited = &Error{Code: ErrCodeRateLimitExceeded, Message: "rate limit exceeded (HTTP 429)"}

// call makes a signed request to the Last.fm API with rate limiting and retry.
//
// httpMethod selects GET (read-only calls, parameters in the query string)
// or POST (state-changing calls, parameters form-encoded in the body).
//
// Every attempt first waits on the shared rate limiter. Transient failures
// (network errors, 5xx, HTTP 429, temporary API error codes) are retried up
// to the configured attempt bound with doubling backoff; anything else is
// returned immediately.
func (c *Client) call(ctx context.Context, httpMethod, method string, params map[string]string, requiresAuth bool) ([]byte, error) {
	reqParams := make(map[string]string, len(params)+3)
	for k, v := range params {
		reqParams[k] = v
	}
	reqParams["method"] = method
	reqParams["api_key"] = c.apiKey

	if requiresAuth {
		sk := c.GetSessionKey()
		if sk == "" {
			return nil, ErrNoSessionKey
		}
		reqParams["sk"] = sk
	}

	values := url.Values{}
	for k, v := range reqParams {
		values.Set(k, v)
	}
	values.Set("api_sig", calculateSignature(reqParams, c.apiSecret))
	encoded := values.Encode()

	var lastErr error
	backoff := c.retryBackoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if !sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff = nextBackoff(backoff)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		c.logDebugf("lastfm: calling %s (attempt %d/%d)", method, attempt, c.maxAttempts)

		body, err := c.do(ctx, httpMethod, encoded)
		if err == nil {
			c.logDebugf("lastfm: %s succeeded", method)
			return body, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logDebugf("lastfm: %s failed with transient error: %v", method, err)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// do performs a single HTTP round trip and decodes the lfm envelope.
func (c *Client) do(ctx context.Context, httpMethod, encoded string) ([]byte, error) {
	var req *http.Request
	var err error
	if httpMethod == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+encoded, http.NoBody)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return nil, &transportError{err: fmt.Errorf("server error: %s", resp.Status)}
	}

	// Last.fm reports API errors with 4xx statuses and an lfm body, so the
	// body is decoded before the status is judged.
	var base Base
	if err := xml.Unmarshal(body, &base); err != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, errRateLimited
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	switch base.Status {
	case apiStatusOK:
		return base.Inner, nil
	case apiStatusFailed:
		var apiErr APIError
		if err := xml.Unmarshal(base.Inner, &apiErr); err != nil {
			return nil, fmt.Errorf("failed to parse error response: %w", err)
		}
		return nil, &Error{Code: apiErr.Code, Message: strings.TrimSpace(apiErr.Message)}
	default:
		return nil, fmt.Errorf("unknown response status %q", base.Status)
	}
}

// transportError wraps failures below the API layer: network errors,
// truncated bodies and 5xx responses. All of them are retryable.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "http request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// sleep waits for the specified duration or until context is cancelled.
// Returns true if sleep completed, false if context was cancelled.
func sleep(ctx context.Context, duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff calculates the next backoff duration with exponential increase.
// Maximum backoff is capped at 30 seconds.
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
