// Package iface is the console side of the rig: logger construction, banners,
// board rendering and the console session notifier.
package iface

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/calibration"
	"github.com/thyrook/chessrig/internal/session"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// CLI prints to a terminal. It is safe for concurrent use.
type CLI struct {
	out   io.Writer
	quiet bool
	color bool
	mu    sync.Mutex
}

// NewCLI creates a CLI writing to out (stdout when nil).
func NewCLI(out io.Writer, quiet bool) *CLI {
	if out == nil {
		out = os.Stdout
	}
	return &CLI{
		out:   out,
		quiet: quiet,
		color: out == os.Stdout && os.Getenv("NO_COLOR") == "",
	}
}

func (c *CLI) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Colorize applies color to text if the terminal supports it
func (c *CLI) Colorize(text string, color string) string {
	if !c.color {
		return text
	}
	return color + text + ColorReset
}

// PrintBanner displays the application banner
func (c *CLI) PrintBanner(version string) {
	if c.quiet {
		return
	}
	line := strings.Repeat("=", 60)
	c.printf("%s\n  chessrig %s - camera-guided chess playing arm\n%s\n\n", line, version, line)
}

// PrintModeHeader displays the mode-specific header
func (c *CLI) PrintModeHeader(mode string) {
	if c.quiet {
		return
	}

	var header string
	switch mode {
	case "play":
		header = "PLAY MODE\nWatching the board and answering each move with the arm.\nPress Ctrl+C to stop."
	case "calibrate":
		header = "CALIBRATE MODE\nLocating the board and learning the empty-square baseline."
	case "observe":
		header = "OBSERVE MODE\nPrinting occupancy snapshots. No arm commands are sent.\nPress Ctrl+C to stop."
	default:
		header = strings.ToUpper(mode) + " MODE"
	}
	c.printf("%s\n%s\n\n", header, strings.Repeat("━", 60))
}

// PrintStatus prints a status message
func (c *CLI) PrintStatus(message string, level string) {
	if c.quiet && level != "error" {
		return
	}

	var prefix string
	switch level {
	case "info":
		prefix = c.Colorize("i", ColorBlue)
	case "success":
		prefix = c.Colorize("✓", ColorGreen)
	case "warning":
		prefix = c.Colorize("!", ColorYellow)
	case "error":
		prefix = c.Colorize("✗", ColorRed)
	default:
		prefix = "•"
	}
	c.printf("[%s] %s %s\n", time.Now().Format("15:04:05"), prefix, message)
}

// PrintError prints an error
func (c *CLI) PrintError(err error) {
	c.PrintStatus(err.Error(), "error")
}

// PrintBoard renders a confirmed position.
func (c *CLI) PrintBoard(st board.State) {
	if c.quiet {
		return
	}
	c.printf("%s  %s\n", st.String(), st.FEN())
}

// PrintSnapshot renders an occupancy snapshot.
func (c *CLI) PrintSnapshot(s board.Snapshot) {
	if c.quiet {
		return
	}
	c.printf("frame %d  min confidence %.2f\n%s\n", s.FrameSeq(), s.MinConfidence(), s.String())
}

// PrintCalibration prints a calibration summary.
func (c *CLI) PrintCalibration(t calibration.Transform) {
	c.PrintTable([]string{"method", "points", "rms px", "frame"}, [][]string{{
		t.Method,
		fmt.Sprint(t.Points),
		fmt.Sprintf("%.3f", t.RMS),
		fmt.Sprintf("%dx%d", t.Bounds.Dx(), t.Bounds.Dy()),
	}})
}

// PrintTable prints data in a formatted table
func (c *CLI) PrintTable(headers []string, rows [][]string) {
	if c.quiet {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		fmt.Fprintf(&b, "%-*s  ", widths[i], h)
	}
	b.WriteString("\n")
	for _, w := range widths {
		b.WriteString(strings.Repeat("─", w+2))
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
			}
		}
		b.WriteString("\n")
	}
	c.printf("%s\n", b.String())
}

// Notify prints session events, so a CLI can serve as a session.Notifier.
func (c *CLI) Notify(ev session.Event) {
	switch ev.Kind {
	case session.EventPhase:
		c.PrintStatus(fmt.Sprintf("%s -> %s", ev.From, ev.Phase), "info")
	case session.EventBoard:
		if ev.Move != "" {
			c.PrintStatus("Move "+ev.Move+"  "+ev.FEN, "success")
		}
	case session.EventAmbiguous:
		c.PrintStatus("Several moves match the board: "+strings.Join(ev.Candidates, ", ")+
			". Send \"resolve <move>\" to choose.", "warning")
	case session.EventManualSwap:
		c.PrintStatus("Promotion "+ev.Move+": replace the pawn with the promoted piece.", "warning")
	case session.EventError:
		c.PrintStatus(ev.Error, "error")
		if ev.Phase == session.Error.String() {
			c.PrintStatus("Fix the board, then send \"resume\".", "warning")
		}
	case session.EventStalled:
		c.PrintStatus("Waiting for a piece to be put down: "+ev.Error, "warning")
	case session.EventGameOver:
		c.PrintStatus("Game over: "+ev.Result, "success")
	}
}
