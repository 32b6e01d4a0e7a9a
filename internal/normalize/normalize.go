// Package normalize cleans the artist, title and album strings reported by
// media players and compares them for fuzzy matching.
//
// Display forms keep the original casing. Comparison forms (see Compare)
// are case-folded and stripped of punctuation and are what identity keys
// and similarity scores are computed from.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Noise appended to titles and albums by video sites and reissues.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*[\(\[]\s*official\s+(?:music\s+|lyric\s+)?(?:video|audio|visuali[sz]er)\s*[\)\]]`),
	regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:lyrics?|lyric\s+video|audio|visuali[sz]er|hd|hq|4k|explicit|clean)\s*[\)\]]`),
	regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:\d{4}\s+)?remaster(?:ed)?(?:\s+\d{4})?(?:\s+version)?\s*[\)\]]`),
	regexp.MustCompile(`(?i)\s+-\s+(?:\d{4}\s+)?remaster(?:ed)?(?:\s+\d{4})?(?:\s+version)?$`),
}

// vevoPattern matches the "VEVO" suffix of YouTube channel names.
var vevoPattern = regexp.MustCompile(`(?i)\s*vevo$`)

// Separators between artist and title in a combined field. The hyphen
// needs surrounding spaces so names like "Jay-Z" survive.
var artistTitleSeparator = regexp.MustCompile(`^(.+?)(?:\s+-\s+|\s*[–—]\s*)(.+)$`)

// Titles and artists that players report for content that is not music.
var nonMusicMarkers = []string{
	"advertisement",
	"podcast",
	"episode",
	"audiobook",
	"unknown artist",
	"unknown",
	"advertisement break",
}

var folder = cases.Fold()

// Clean returns s in NFC with control and format characters removed,
// whitespace collapsed to single spaces and the ends trimmed.
func Clean(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !space {
				b.WriteRune(' ')
				space = true
			}
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			// dropped
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

// stripNoise removes the bracketed noise patterns from s.
func stripNoise(s string) string {
	for _, p := range noisePatterns {
		s = p.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// Artist returns the display form of an artist name.
func Artist(raw string) string {
	return strings.TrimSpace(vevoPattern.ReplaceAllString(Clean(raw), ""))
}

// Title returns the display form of a track title.
func Title(raw string) string {
	return stripNoise(Clean(raw))
}

// Album returns the display form of an album name.
func Album(raw string) string {
	return stripNoise(Clean(raw))
}

// Compare returns the comparison form of s: cleaned, case-folded, with
// punctuation dropped and a leading "the " removed.
func Compare(s string) string {
	s = folder.String(stripNoise(Clean(s)))

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r), r == '-', r == '_', r == '/':
			if !space {
				b.WriteRune(' ')
				space = true
			}
		}
	}
	out := strings.TrimSpace(b.String())
	if rest, ok := strings.CutPrefix(out, "the "); ok && rest != "" {
		out = rest
	}
	return out
}

// ExtractArtistTitle splits a combined "Artist - Title" field. ok is false
// when no separator is found or either side would be empty.
func ExtractArtistTitle(combined string) (artist, title string, ok bool) {
	m := artistTitleSeparator.FindStringSubmatch(Clean(combined))
	if m == nil {
		return "", "", false
	}
	artist = Artist(m[1])
	title = Title(m[2])
	if artist == "" || title == "" {
		return "", "", false
	}
	return artist, title, true
}

// Similarity returns the Levenshtein distance between the comparison forms
// of a and b. Zero means the strings are equivalent.
func Similarity(a, b string) int {
	return edlib.LevenshteinDistance(Compare(a), Compare(b))
}

const (
	// MaxMatchDistance is the absolute edit distance always accepted.
	MaxMatchDistance = 3

	// MaxMatchRatio is the edit distance accepted relative to the longer
	// comparison form.
	MaxMatchRatio = 0.25
)

// AcceptMatch reports whether candidate is close enough to want to be
// treated as the same name.
func AcceptMatch(want, candidate string) bool {
	a, b := Compare(want), Compare(candidate)
	if a == "" || b == "" {
		return false
	}
	dist := edlib.LevenshteinDistance(a, b)
	if dist <= MaxMatchDistance {
		return true
	}
	longer := max(len([]rune(a)), len([]rune(b)))
	return float64(dist) <= MaxMatchRatio*float64(longer)
}

// IsPlausibleMusic rejects empty artist or title and known non-music
// markers. album may be empty.
func IsPlausibleMusic(artist, title, album string) bool {
	a, t := Compare(artist), Compare(title)
	if a == "" || t == "" {
		return false
	}
	for _, marker := range nonMusicMarkers {
		if a == marker || t == marker {
			return false
		}
	}
	switch Compare(album) {
	case "podcast", "podcasts", "audiobook", "audiobooks":
		return false
	}
	return true
}
