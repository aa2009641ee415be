// Package tui renders the interactive output of the pixvault command line:
// status messages, confirmations, spinners and tables. Everything degrades to
// plain text when stdout is not a terminal.
package tui

import (
	"os"

	"github.com/mattn/go-isatty"
)

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())
)
