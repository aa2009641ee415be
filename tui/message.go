package tui

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pixvault/go-common/logger"
)

var (
	messageOKColor      = lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"}
	messageOKStyle      = lipgloss.NewStyle().Foreground(messageOKColor)
	messageTextColor    = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	messageTextStyle    = lipgloss.NewStyle().Foreground(messageTextColor)
	messageWarningColor = lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"}
	messageWarningStyle = lipgloss.NewStyle().Foreground(messageWarningColor)
)

func successMessage(msg string, args ...any) string {
	return messageOKStyle.Render(" ✓ ") + messageTextStyle.Render(fmt.Sprintf(msg, args...))
}

func warningMessage(msg string, args ...any) string {
	return messageWarningStyle.Render(" ✕ ") + messageTextStyle.Render(fmt.Sprintf(msg, args...))
}

func errorMessage(msg string, args ...any) string {
	return messageWarningStyle.Render(" ⚠ ") + messageTextStyle.Render(fmt.Sprintf(msg, args...))
}

func ShowSuccess(msg string, args ...any) {
	fmt.Println(successMessage(msg, args...))
}

func ShowWarning(msg string, args ...any) {
	fmt.Println(warningMessage(msg, args...))
}

func ShowError(msg string, args ...any) {
	fmt.Println(errorMessage(msg, args...))
}

// Ask prompts for a yes/no answer. Without a terminal it returns defaultValue.
func Ask(logger logger.Logger, title string, defaultValue bool) bool {
	confirm := defaultValue
	if !HasTTY {
		return confirm
	}
	if err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes!").
		Negative("No").
		Value(&confirm).
		Inline(false).
		Run(); err != nil {
		logger.Fatal("%s", err)
	}
	return confirm
}
