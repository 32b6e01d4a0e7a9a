package lastfm

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ScrobbleService provides scrobbling operations for the Last.fm API.
type ScrobbleService struct {
	client *Client
}

const (
	// MaxBatchSize is the maximum number of scrobbles allowed in a single batch.
	MaxBatchSize = 50
)

// UpdateNowPlaying updates the "now playing" status on Last.fm.
//
// This should be called when a track starts playing. It does not count
// as a scrobble and does not affect play counts.
//
// Requires authentication (session key must be set via SetSessionKey).
//
// Example:
//
//	track := lastfm.Track{
//	    Artist: "The Beatles",
//	    Track:  "Yesterday",
//	    Album:  "Help!",
//	}
//	_, err := client.Scrobble().UpdateNowPlaying(ctx, track)
//	if err != nil {
//	    log.Printf("Failed to update now playing: %v", err)
//	}
func (s *ScrobbleService) UpdateNowPlaying(ctx context.Context, track Track) (*NowPlayingResponse, error) {
	params := map[string]string{
		"artist": track.Artist,
		"track":  track.Track,
	}
	addTrackParams(params, "", track)

	resp, err := s.client.call(ctx, http.MethodPost, "track.updateNowPlaying", params, true)
	if err != nil {
		return nil, err
	}

	nowPlaying, err := unmarshalNowPlaying(resp)
	if err != nil {
		return nil, fmt.Errorf("lastfm: failed to parse now playing response: %w", err)
	}

	return nowPlaying, nil
}

// Scrobble submits a single scrobble to Last.fm.
//
// timestamp is when the track started playing. Eligibility (length and
// listened fraction) is the caller's decision; this method only submits.
//
// Requires authentication (session key must be set via SetSessionKey).
func (s *ScrobbleService) Scrobble(ctx context.Context, track Track, timestamp time.Time) (*ScrobbleResponse, error) {
	return s.ScrobbleBatch(ctx, []Scrobble{{Track: track, Timestamp: timestamp}})
}

// ScrobbleBatch submits multiple scrobbles to Last.fm in a single request.
//
// Up to 50 scrobbles can be submitted at once. If more than 50 scrobbles
// are provided, only the first 50 will be submitted.
//
// Requires authentication (session key must be set via SetSessionKey).
//
// Example:
//
//	resp, err := client.Scrobble().ScrobbleBatch(ctx, scrobbles)
//	if err != nil {
//	    log.Printf("Failed to scrobble batch: %v", err)
//	}
//	fmt.Printf("Accepted: %d, Ignored: %d\n", resp.Accepted, resp.Ignored)
func (s *ScrobbleService) ScrobbleBatch(ctx context.Context, scrobbles []Scrobble) (*ScrobbleResponse, error) {
	if len(scrobbles) == 0 {
		return &ScrobbleResponse{}, nil
	}
	if len(scrobbles) > MaxBatchSize {
		scrobbles = scrobbles[:MaxBatchSize]
	}

	params := make(map[string]string, len(scrobbles)*4)
	for i, scrobble := range scrobbles {
		idx := fmt.Sprintf("[%d]", i)
		params["artist"+idx] = scrobble.Track.Artist
		params["track"+idx] = scrobble.Track.Track
		params["timestamp"+idx] = strconv.FormatInt(scrobble.Timestamp.Unix(), 10)
		addTrackParams(params, idx, scrobble.Track)
	}

	resp, err := s.client.call(ctx, http.MethodPost, "track.scrobble", params, true)
	if err != nil {
		return nil, err
	}

	scrobbleResp, err := unmarshalScrobbles(resp)
	if err != nil {
		return nil, fmt.Errorf("lastfm: failed to parse scrobble response: %w", err)
	}

	return scrobbleResp, nil
}

// addTrackParams adds the optional track fields under the given index suffix.
func addTrackParams(params map[string]string, idx string, track Track) {
	if track.Album != "" {
		params["album"+idx] = track.Album
	}
	if track.AlbumArtist != "" {
		params["albumArtist"+idx] = track.AlbumArtist
	}
	if track.Duration > 0 {
		params["duration"+idx] = strconv.Itoa(track.Duration)
	}
	if track.TrackNumber > 0 {
		params["trackNumber"+idx] = strconv.Itoa(track.TrackNumber)
	}
	if track.MBTrackID != "" {
		params["mbid"+idx] = track.MBTrackID
	}
}

type xmlIgnoredMessage struct {
	Code int    `xml:"code,attr"`
	Text string `xml:",chardata"`
}

// nowPlayingResponse represents the XML response from track.updateNowPlaying.
type nowPlayingResponse struct {
	Artist         string            `xml:"nowplaying>artist"`
	Track          string            `xml:"nowplaying>track"`
	Album          string            `xml:"nowplaying>album"`
	AlbumArtist    string            `xml:"nowplaying>albumArtist"`
	IgnoredMessage xmlIgnoredMessage `xml:"nowplaying>ignoredMessage"`
}

// wrapInner wraps the inner XML of an lfm envelope so it can be unmarshaled.
func wrapInner(data []byte) []byte {
	return []byte("<root>" + string(data) + "</root>")
}

// unmarshalNowPlaying parses the XML response from track.updateNowPlaying.
func unmarshalNowPlaying(data []byte) (*NowPlayingResponse, error) {
	var resp nowPlayingResponse
	if err := xml.Unmarshal(wrapInner(data), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal now playing response: %w", err)
	}

	return &NowPlayingResponse{
		Artist:      resp.Artist,
		Track:       resp.Track,
		Album:       resp.Album,
		AlbumArtist: resp.AlbumArtist,
		IgnoredMessage: IgnoredMessage{
			Code: resp.IgnoredMessage.Code,
			Text: resp.IgnoredMessage.Text,
		},
	}, nil
}

// scrobbleResponse represents the XML response from track.scrobble.
type scrobbleResponse struct {
	Scrobbles struct {
		Accepted  int `xml:"accepted,attr"`
		Ignored   int `xml:"ignored,attr"`
		Scrobbles []struct {
			Artist         string            `xml:"artist"`
			Track          string            `xml:"track"`
			Album          string            `xml:"album"`
			Timestamp      int64             `xml:"timestamp"`
			IgnoredMessage xmlIgnoredMessage `xml:"ignoredMessage"`
		} `xml:"scrobble"`
	} `xml:"scrobbles"`
}

// unmarshalScrobbles parses the XML response from track.scrobble.
func unmarshalScrobbles(data []byte) (*ScrobbleResponse, error) {
	var resp scrobbleResponse
	if err := xml.Unmarshal(wrapInner(data), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scrobble response: %w", err)
	}

	result := &ScrobbleResponse{
		Accepted:  resp.Scrobbles.Accepted,
		Ignored:   resp.Scrobbles.Ignored,
		Scrobbles: make([]ScrobbleResult, 0, len(resp.Scrobbles.Scrobbles)),
	}

	for _, s := range resp.Scrobbles.Scrobbles {
		result.Scrobbles = append(result.Scrobbles, ScrobbleResult{
			Artist:    s.Artist,
			Track:     s.Track,
			Album:     s.Album,
			Timestamp: s.Timestamp,
			IgnoredMessage: IgnoredMessage{
				Code: s.IgnoredMessage.Code,
				Text: s.IgnoredMessage.Text,
			},
		})
	}

	return result, nil
}
