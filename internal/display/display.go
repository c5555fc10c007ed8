// Package display renders images inline in terminals that speak the kitty
// graphics protocol.
package display

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/manash/stylist/pkg/models"
)

var ErrNotSupported = errors.New("inline images not supported by this terminal")

const defaultCols = 60

type Displayer struct {
	out     io.Writer
	enabled bool
	cols    int
}

// New enables inline images only when out is an interactive terminal that
// supports the graphics protocol.
func New(out io.Writer) *Displayer {
	return NewWithSupport(out, IsTerminalSupported() && IsTerminal(out))
}

func NewWithSupport(out io.Writer, enabled bool) *Displayer {
	return &Displayer{out: out, enabled: enabled, cols: defaultCols}
}

func (d *Displayer) Enabled() bool {
	return d.enabled
}

// SetColumns sets the rendered width in terminal cells. 0 keeps the native
// size.
func (d *Displayer) SetColumns(cols int) {
	d.cols = cols
}

func (d *Displayer) Display(img models.EncodedImage) error {
	if !d.enabled {
		return ErrNotSupported
	}
	if img.IsZero() {
		return fmt.Errorf("image has no data")
	}

	enc := NewKittyEncoder(d.out, d.cols)
	if err := enc.Encode(img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(d.out)
	return nil
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func IsTerminalSupported() bool {
	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "iterm.app", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	if os.Getenv("ITERM_SESSION_ID") != "" {
		return true
	}

	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
