package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jfmyers9/scrobbler/internal/config"
	"github.com/jfmyers9/scrobbler/internal/music"
)

// nowCmd represents the now command
var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Display the currently playing track",
	Long: `Query the media player and display the currently playing track.

The output format can be customized in ~/.config/scrobbler/config.yaml
using a Go template. Available fields: .Title, .Artist, .Album, .Duration,
.Elapsed, .Player and .State

Exit codes:
  0 - Track is currently playing
  1 - No track playing, paused, or player not running`,
	Args: cobra.NoArgs,
	RunE: runNow,
}

func init() {
	rootCmd.AddCommand(nowCmd)

	nowCmd.Flags().StringP("format", "f", "", "Output format template (overrides config)")
	nowCmd.Flags().IntP("width", "w", 0, "Fixed output width (0=disabled)")
	nowCmd.Flags().Bool("marquee", false, "Scroll text longer than --width instead of truncating it")
	nowCmd.Flags().Int("speed", 2, "Marquee speed in characters per second")
	nowCmd.Flags().String("separator", " • ", "Text between marquee repetitions")
	nowCmd.Flags().String("source", "", "Media source: auto, applescript or mpris (overrides config)")
}

func runNow(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		cfg.OutputFormat = f
	}
	if s, _ := cmd.Flags().GetString("source"); s != "" {
		cfg.Source = s
	}

	player, err := music.NewPlayer(cfg.Source, cfg.MPRISPlayer)
	if err != nil {
		return err
	}

	snap, err := player.CurrentSnapshot(ctx)
	if err != nil || snap == nil || !snap.Playing() {
		// Status bars poll this; not playing is an exit code, not an error.
		os.Exit(1)
	}

	output, err := formatSnapshot(snap, cfg.OutputFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	width, _ := cmd.Flags().GetInt("width")
	if width > 0 {
		if marquee, _ := cmd.Flags().GetBool("marquee"); marquee {
			speed, _ := cmd.Flags().GetInt("speed")
			sep, _ := cmd.Flags().GetString("separator")
			output = marqueeText(output, width, speed, sep, time.Now())
		} else {
			output = padToWidth(output, width)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

// formatSnapshot applies the template to the snapshot
func formatSnapshot(snap *music.Snapshot, templateStr string) (string, error) {
	tmpl, err := template.New("output").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, snap); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}

	return buf.String(), nil
}

// padToWidth pads or truncates text to a fixed display width.
// Width is measured in display columns, accounting for Unicode characters.
// If width <= 0, returns text unchanged.
// If text is longer than width, truncates with "..." suffix.
// If text is shorter than width, pads with spaces.
func padToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}

	currentWidth := runewidth.StringWidth(text)

	if currentWidth > width {
		ellipsis := "..."
		ellipsisWidth := runewidth.StringWidth(ellipsis)

		if width <= ellipsisWidth {
			return runewidth.Truncate(ellipsis, width, "")
		}

		truncated := runewidth.Truncate(text, width-ellipsisWidth, "")
		result := truncated + ellipsis

		// Wide runes may leave the result a column short.
		resultWidth := runewidth.StringWidth(result)
		if resultWidth < width {
			return result + strings.Repeat(" ", width-resultWidth)
		} else if resultWidth > width {
			return runewidth.Truncate(result, width, "")
		}
		return result
	} else if currentWidth < width {
		return text + strings.Repeat(" ", width-currentWidth)
	}

	return text
}

// marqueeText returns a width-column window of text scrolling at speed
// characters per second. The position is derived from now, so successive
// invocations (e.g. a tmux status refresh) step through the text without
// keeping state. Text that fits is padded instead.
func marqueeText(text string, width int, speed int, separator string, now time.Time) string {
	if width <= 0 {
		return text
	}
	if runewidth.StringWidth(text) <= width {
		return padToWidth(text, width)
	}

	extended := []rune(text + separator + text)
	position := int(now.Unix()*int64(speed)) % len(extended)

	var result []rune
	resultWidth := 0
	for i := 0; i < len(extended) && resultWidth < width; i++ {
		r := extended[(position+i)%len(extended)]
		rw := runewidth.RuneWidth(r)
		if resultWidth+rw > width {
			break
		}
		result = append(result, r)
		resultWidth += rw
	}

	if resultWidth < width {
		return string(result) + strings.Repeat(" ", width-resultWidth)
	}
	return string(result)
}
