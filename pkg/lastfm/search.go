package lastfm

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// TrackService provides read-only track lookups.
type TrackService struct {
	client *Client
}

// DefaultSearchLimit is the number of candidates requested by Search.
const DefaultSearchLimit = 5

// Search looks up tracks matching the given title, optionally narrowed by
// artist. Results keep the ranking order Last.fm returned. Search does not
// require a session key.
func (t *TrackService) Search(ctx context.Context, title, artist string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("lastfm: search title is required")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	params := map[string]string{
		"track": title,
		"limit": strconv.Itoa(limit),
	}
	if artist != "" {
		params["artist"] = artist
	}

	resp, err := t.client.call(ctx, http.MethodGet, "track.search", params, false)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Tracks []struct {
			Name      string `xml:"name"`
			Artist    string `xml:"artist"`
			URL       string `xml:"url"`
			Listeners int    `xml:"listeners"`
			MBID      string `xml:"mbid"`
		} `xml:"results>trackmatches>track"`
	}
	if err := xml.Unmarshal(wrapInner(resp), &parsed); err != nil {
		return nil, fmt.Errorf("lastfm: failed to parse search response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Tracks))
	for _, tr := range parsed.Tracks {
		results = append(results, SearchResult{
			Name:      strings.TrimSpace(tr.Name),
			Artist:    strings.TrimSpace(tr.Artist),
			URL:       tr.URL,
			Listeners: tr.Listeners,
			MBID:      tr.MBID,
		})
	}
	return results, nil
}
