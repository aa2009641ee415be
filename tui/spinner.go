package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner displays a spinner with title while action runs. The context
// passed to action is cancelled when ctx is done. Without a terminal the
// action runs directly.
func ShowSpinner(ctx context.Context, title string, action func(ctx context.Context)) {
	if !HasTTY {
		action(ctx)
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	err := spinner.New().
		Context(ctx).
		Title(title).
		Action(func() {
			defer close(done)
			action(ctx)
		}).
		Run()
	if err != nil {
		// the spinner returned early, let the action observe cancellation
		cancel()
	}
	<-done
}
