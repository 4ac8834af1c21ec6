// Package spinner renders a single-line terminal progress indicator.
// It is driven by the caller: every Tick advances one frame, so the
// animation speed follows the pace of the work being reported.
package spinner

import (
	"fmt"
	"io"
	"strings"
)

// Spinner redraws one terminal line with an animated frame and a message.
type Spinner struct {
	out    io.Writer
	frames []string
	index  int
	width  int
}

// New creates a spinner writing to out.
func New(out io.Writer) *Spinner {
	return &Spinner{
		out: out,
		frames: []string{
			"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷",
		},
	}
}

// Tick redraws the line with the next frame and the given message.
func (s *Spinner) Tick(message string) {
	frame := s.frames[s.index]
	s.index = (s.index + 1) % len(s.frames)

	line := frame + " " + message
	// Pad over the remains of a longer previous line.
	if pad := s.width - len([]rune(line)); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	s.width = len([]rune(frame + " " + message))
	fmt.Fprintf(s.out, "\r%s", line)
}

// Clear erases the spinner line and returns the cursor to column one.
func (s *Spinner) Clear() {
	if s.width == 0 {
		return
	}
	fmt.Fprintf(s.out, "\r%s\r", strings.Repeat(" ", s.width))
	s.width = 0
	s.index = 0
}
