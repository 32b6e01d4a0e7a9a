// Package lyrics fetches lyrics for the current track, parses LRC timing
// and prints the active line as playback advances.
package lyrics

import (
	"bufio"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Line is a single timestamped lyric line.
type Line struct {
	Time time.Duration
	Text string
}

// Matches timestamps like [00:12.34], [00:12:34] or [00:12].
var timestampRe = regexp.MustCompile(`\[(\d+):(\d+)(?:[.:](\d+))?\]`)

// ParseLRC parses LRC text into lines sorted by time. Metadata tags such as
// [ar:Artist] and lines without timestamps are skipped.
func ParseLRC(text string) ([]Line, error) {
	var lines []Line
	scanner := bufio.NewScanner(strings.NewReader(text))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// A line can carry several timestamps: [00:12.34][00:45.67]Text
		matches := timestampRe.FindAllStringSubmatchIndex(line, -1)
		if len(matches) == 0 {
			continue
		}

		last := matches[len(matches)-1]
		lyric := strings.TrimSpace(line[last[1]:])

		for _, m := range matches {
			ts, ok := parseTimestamp(line[m[0]:m[1]])
			if !ok {
				continue
			}
			lines = append(lines, Line{Time: ts, Text: lyric})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Time < lines[j].Time
	})
	return lines, nil
}

// ParsePlain splits plain lyrics into non-empty trimmed lines.
func ParsePlain(text string) []string {
	var out []string
	for line := range strings.SplitSeq(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// LineAt returns the index of the last line starting at or before pos, or
// -1 when no line has started yet.
func LineAt(lines []Line, pos time.Duration) int {
	// first line strictly after pos
	i := sort.Search(len(lines), func(i int) bool {
		return lines[i].Time > pos
	})
	return i - 1
}

func parseTimestamp(s string) (time.Duration, bool) {
	m := timestampRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}

	var millis int
	if m[3] != "" {
		millis, err = strconv.Atoi(m[3])
		if err != nil {
			return 0, false
		}
		switch len(m[3]) {
		case 1:
			millis *= 100
		case 2:
			millis *= 10
		}
	}

	return time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, true
}
