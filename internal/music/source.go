package music

import (
	"fmt"
	"runtime"
)

// Source names accepted by NewPlayer.
const (
	SourceAuto        = "auto"
	SourceAppleScript = "applescript"
	SourceMPRIS       = "mpris"
)

// NewPlayer returns the Player for source. "auto" picks AppleScript on macOS
// and MPRIS elsewhere. mprisPlayer narrows MPRIS to one bus name.
func NewPlayer(source, mprisPlayer string) (Player, error) {
	switch source {
	case "", SourceAuto:
		if runtime.GOOS == "darwin" {
			return NewAppleScriptPlayer(""), nil
		}
		return NewMPRISPlayer(mprisPlayer), nil
	case SourceAppleScript:
		return NewAppleScriptPlayer(""), nil
	case SourceMPRIS:
		return NewMPRISPlayer(mprisPlayer), nil
	default:
		return nil, fmt.Errorf("unknown source %q (want auto, applescript or mpris)", source)
	}
}
