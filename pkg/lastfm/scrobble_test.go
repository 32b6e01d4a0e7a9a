package lastfm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestScrobbleService_UpdateNowPlaying tests the UpdateNowPlaying method.
func TestScrobbleService_UpdateNowPlaying(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		statusCode  int
		track       Track
		wantErr     bool
		errContains string
		wantIgnored int
	}{
		{
			name: "success",
			response: `<?xml version="1.0" encoding="utf-8"?>
<lfm status="ok">
	<nowplaying>
		<artist corrected="0">The Beatles</artist>
		<track corrected="0">Yesterday</track>
		<album corrected="0">Help!</album>
		<albumArtist corrected="0">The Beatles</albumArtist>
		<ignoredMessage code="0"></ignoredMessage>
	</nowplaying>
</lfm>`,
			statusCode: http.StatusOK,
			track: Track{
				Artist: "The Beatles",
				Track:  "Yesterday",
				Album:  "Help!",
			},
		},
		{
			name: "with all optional fields",
			response: `<?xml version="1.0" encoding="utf-8"?>
<lfm status="ok">
	<nowplaying>
		<artist corrected="0">The Beatles</artist>
		<track corrected="0">Yesterday</track>
		<album corrected="0">Help!</album>
		<albumArtist corrected="0">The Beatles</albumArtist>
	</nowplaying>
</lfm>`,
			statusCode: http.StatusOK,
			track: Track{
				Artist:      "The Beatles",
				Track:       "Yesterday",
				Album:       "Help!",
				AlbumArtist: "The Beatles",
				Duration:    125,
				TrackNumber: 1,
				MBTrackID:   "mbid-123",
			},
		},
		{
			name: "ignored by filter",
			response: `<?xml version="1.0" encoding="utf-8"?>
<lfm status="ok">
	<nowplaying>
		<artist corrected="0">The Beatles</artist>
		<track corrected="0">Yesterday</track>
		<ignoredMessage code="1">Artist was ignored</ignoredMessage>
	</nowplaying>
</lfm>`,
			statusCode: http.StatusOK,
			track: Track{
				Artist: "The Beatles",
				Track:  "Yesterday",
			},
			wantIgnored: 1,
		},
		{
			name: "api error - invalid session key",
			response: `<?xml version="1.0" encoding="utf-8"?>
<lfm status="failed">
	<error code="9">Invalid session key - Please re-authenticate</error>
</lfm>`,
			statusCode: http.StatusForbidden,
			track: Track{
				Artist: "The Beatles",
				Track:  "Yesterday",
			},
			wantErr:     true,
			errContains: "error 9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST request, got %s", r.Method)
				}
				if err := r.ParseForm(); err != nil {
					t.Fatalf("failed to parse form: %v", err)
				}

				if method := r.PostFormValue("method"); method != "track.updateNowPlaying" {
					t.Errorf("expected method track.updateNowPlaying, got %s", method)
				}
				if artist := r.PostFormValue("artist"); artist != tt.track.Artist {
					t.Errorf("expected artist %s, got %s", tt.track.Artist, artist)
				}
				if track := r.PostFormValue("track"); track != tt.track.Track {
					t.Errorf("expected track %s, got %s", tt.track.Track, track)
				}
				if sk := r.PostFormValue("sk"); sk != "test-session-key" {
					t.Errorf("expected sk test-session-key, got %s", sk)
				}
				if tt.track.Album != "" {
					if album := r.PostFormValue("album"); album != tt.track.Album {
						t.Errorf("expected album %s, got %s", tt.track.Album, album)
					}
				}
				if tt.track.Duration > 0 {
					if duration := r.PostFormValue("duration"); duration != fmt.Sprintf("%d", tt.track.Duration) {
						t.Errorf("expected duration %d, got %s", tt.track.Duration, duration)
					}
				}
				if tt.track.MBTrackID != "" {
					if mbid := r.PostFormValue("mbid"); mbid != tt.track.MBTrackID {
						t.Errorf("expected mbid %s, got %s", tt.track.MBTrackID, mbid)
					}
				}

				w.WriteHeader(tt.statusCode)
				if _, err := w.Write([]byte(tt.response)); err != nil {
					t.Fatalf("failed to write response body: %v", err)
				}
			}))
			defer server.Close()

			client := newTestClient(t, server, "test-session-key")
			resp, err := client.Scrobble().UpdateNowPlaying(context.Background(), tt.track)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error to contain %q, got %v", tt.errContains, err)
				}
				if got := Classify(err); got != OutcomeHardFailure {
					t.Errorf("expected hard failure, got %s", got)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Artist != tt.track.Artist {
				t.Errorf("expected artist %s, got %s", tt.track.Artist, resp.Artist)
			}
			if resp.Track != tt.track.Track {
				t.Errorf("expected track %s, got %s", tt.track.Track, resp.Track)
			}
			if resp.IgnoredMessage.Code != tt.wantIgnored {
				t.Errorf("expected ignored code %d, got %d", tt.wantIgnored, resp.IgnoredMessage.Code)
			}
		})
	}
}

// TestScrobbleService_Scrobble tests the Scrobble method (single scrobble).
func TestScrobbleService_Scrobble(t *testing.T) {
	started := time.Unix(1700000000, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}

		if method := r.PostFormValue("method"); method != "track.scrobble" {
			t.Errorf("expected method track.scrobble, got %s", method)
		}
		if artist := r.PostFormValue("artist[0]"); artist != "The Beatles" {
			t.Errorf("expected artist[0] The Beatles, got %s", artist)
		}
		if track := r.PostFormValue("track[0]"); track != "Yesterday" {
			t.Errorf("expected track[0] Yesterday, got %s", track)
		}
		if timestamp := r.PostFormValue("timestamp[0]"); timestamp != "1700000000" {
			t.Errorf("expected timestamp[0] 1700000000, got %s", timestamp)
		}

		response := `<?xml version="1.0" encoding="utf-8"?>
<lfm status="ok">
	<scrobbles accepted="1" ignored="0">
		<scrobble>
			<artist corrected="0">The Beatles</artist>
			<track corrected="0">Yesterday</track>
			<album corrected="0">Help!</album>
			<timestamp>1700000000</timestamp>
			<ignoredMessage code="0"></ignoredMessage>
		</scrobble>
	</scrobbles>
</lfm>`
		if _, err := w.Write([]byte(response)); err != nil {
			t.Fatalf("failed to write response body: %v", err)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, "test-session-key")
	resp, err := client.Scrobble().Scrobble(context.Background(), Track{
		Artist:   "The Beatles",
		Track:    "Yesterday",
		Album:    "Help!",
		Duration: 123,
	}, started)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Accepted != 1 {
		t.Errorf("expected 1 accepted, got %d", resp.Accepted)
	}
	if resp.Ignored != 0 {
		t.Errorf("expected 0 ignored, got %d", resp.Ignored)
	}
	if len(resp.Scrobbles) != 1 {
		t.Fatalf("expected 1 scrobble result, got %d", len(resp.Scrobbles))
	}
	if resp.Scrobbles[0].Timestamp != 1700000000 {
		t.Errorf("expected timestamp 1700000000, got %d", resp.Scrobbles[0].Timestamp)
	}
}

// TestScrobbleService_ScrobbleBatch tests indexed batch parameters and
// per-entry ignored messages.
func TestScrobbleService_ScrobbleBatch(t *testing.T) {
	base := time.Unix(1700000000, 0)
	scrobbles := []Scrobble{
		{Track: Track{Artist: "The Beatles", Track: "Yesterday", Album: "Help!"}, Timestamp: base},
		{Track: Track{Artist: "The Beatles", Track: "Let It Be"}, Timestamp: base.Add(3 * time.Minute)},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		for i, s := range scrobbles {
			idx := fmt.Sprintf("[%d]", i)
			if got := r.PostFormValue("track" + idx); got != s.Track.Track {
				t.Errorf("expected track%s %s, got %s", idx, s.Track.Track, got)
			}
			if got := r.PostFormValue("timestamp" + idx); got != fmt.Sprintf("%d", s.Timestamp.Unix()) {
				t.Errorf("expected timestamp%s %d, got %s", idx, s.Timestamp.Unix(), got)
			}
		}
		if got := r.PostFormValue("album[1]"); got != "" {
			t.Errorf("expected no album[1], got %s", got)
		}

		response := `<?xml version="1.0" encoding="utf-8"?>
<lfm status="ok">
	<scrobbles accepted="1" ignored="1">
		<scrobble>
			<artist corrected="0">The Beatles</artist>
			<track corrected="0">Yesterday</track>
			<timestamp>1700000000</timestamp>
			<ignoredMessage code="0"></ignoredMessage>
		</scrobble>
		<scrobble>
			<artist corrected="0">The Beatles</artist>
			<track corrected="0">Let It Be</track>
			<timestamp>1700000180</timestamp>
			<ignoredMessage code="3">Timestamp too old</ignoredMessage>
		</scrobble>
	</scrobbles>
</lfm>`
		if _, err := w.Write([]byte(response)); err != nil {
			t.Fatalf("failed to write response body: %v", err)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, "test-session-key")
	resp, err := client.Scrobble().ScrobbleBatch(context.Background(), scrobbles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Accepted != 1 || resp.Ignored != 1 {
		t.Errorf("expected 1 accepted and 1 ignored, got %d/%d", resp.Accepted, resp.Ignored)
	}
	if len(resp.Scrobbles) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Scrobbles))
	}
	if msg := resp.Scrobbles[1].IgnoredMessage; msg.Code != 3 || msg.Text != "Timestamp too old" {
		t.Errorf("unexpected ignored message %+v", msg)
	}
}

// TestScrobbleService_ScrobbleBatch_MaxBatchSize tests that batches are
// truncated to MaxBatchSize entries.
func TestScrobbleService_ScrobbleBatch_MaxBatchSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		last := fmt.Sprintf("artist[%d]", MaxBatchSize-1)
		if r.PostFormValue(last) == "" {
			t.Errorf("expected %s to be present", last)
		}
		over := fmt.Sprintf("artist[%d]", MaxBatchSize)
		if r.PostFormValue(over) != "" {
			t.Errorf("expected %s to be absent", over)
		}
		_, _ = w.Write([]byte(`<lfm status="ok"><scrobbles accepted="50" ignored="0"></scrobbles></lfm>`))
	}))
	defer server.Close()

	scrobbles := make([]Scrobble, MaxBatchSize+10)
	for i := range scrobbles {
		scrobbles[i] = Scrobble{
			Track:     Track{Artist: "Artist", Track: fmt.Sprintf("Track %d", i)},
			Timestamp: time.Unix(int64(1700000000+i*200), 0),
		}
	}

	client := newTestClient(t, server, "test-session-key")
	resp, err := client.Scrobble().ScrobbleBatch(context.Background(), scrobbles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Accepted != MaxBatchSize {
		t.Errorf("expected %d accepted, got %d", MaxBatchSize, resp.Accepted)
	}
}

// TestScrobbleService_EmptyBatch tests that an empty batch makes no request.
func TestScrobbleService_EmptyBatch(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server, "test-session-key")
	resp, err := client.Scrobble().ScrobbleBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Accepted != 0 {
		t.Errorf("expected 0 accepted, got %d", resp.Accepted)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

// TestScrobbleService_NoSessionKey tests that authenticated calls fail
// before any request when no session key is set.
func TestScrobbleService_NoSessionKey(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server, "")
	ctx := context.Background()
	track := Track{Artist: "The Beatles", Track: "Yesterday"}

	_, err := client.Scrobble().UpdateNowPlaying(ctx, track)
	if !errors.Is(err, ErrNoSessionKey) {
		t.Errorf("UpdateNowPlaying: expected ErrNoSessionKey, got %v", err)
	}

	_, err = client.Scrobble().Scrobble(ctx, track, time.Now())
	if !errors.Is(err, ErrNoSessionKey) {
		t.Errorf("Scrobble: expected ErrNoSessionKey, got %v", err)
	}
	if got := Classify(err); got != OutcomeHardFailure {
		t.Errorf("expected hard failure, got %s", got)
	}

	if n := calls.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func ExampleScrobbleService_ScrobbleBatch() {
	client, _ := NewClient(Config{
		APIKey:     "your-api-key",
		APISecret:  "your-api-secret",
		SessionKey: "your-session-key",
	})

	scrobbles := []Scrobble{
		{Track: Track{Artist: "The Beatles", Track: "Yesterday"}, Timestamp: time.Now().Add(-10 * time.Minute)},
		{Track: Track{Artist: "The Beatles", Track: "Let It Be"}, Timestamp: time.Now().Add(-5 * time.Minute)},
	}

	resp, err := client.Scrobble().ScrobbleBatch(context.Background(), scrobbles)
	switch Classify(err) {
	case OutcomeSuccess:
		fmt.Printf("Accepted: %d, Ignored: %d\n", resp.Accepted, resp.Ignored)
	case OutcomeSoftFailure:
		fmt.Println("keep for later:", err)
	case OutcomeHardFailure:
		fmt.Println("re-authenticate:", err)
	}
}
