package lyrics

import (
	"fmt"
	"io"
	"sync"

	"github.com/mattn/go-runewidth"
)

// Printer writes the active lyric line to a terminal, once per change.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	width   int
	lastKey string
	lastIdx int
}

// NewPrinter creates a Printer that truncates lines to width display
// columns. A width of 0 disables truncation.
func NewPrinter(w io.Writer, width int) *Printer {
	return &Printer{w: w, width: width, lastIdx: -1}
}

// Header prints the track heading when key differs from the last track
// printed.
func (p *Printer) Header(key, artist, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if key == p.lastKey {
		return
	}
	p.lastKey = key
	p.lastIdx = -1
	fmt.Fprintf(p.w, "\n♪ %s\n", p.fit(artist+" - "+title))
}

// Line prints text if idx differs from the previously printed index for
// the same track.
func (p *Printer) Line(key string, idx int, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if key != p.lastKey || idx == p.lastIdx || idx < 0 {
		return
	}
	p.lastIdx = idx
	fmt.Fprintln(p.w, p.fit(text))
}

func (p *Printer) fit(s string) string {
	if p.width <= 0 {
		return s
	}
	return runewidth.Truncate(s, p.width, "…")
}
