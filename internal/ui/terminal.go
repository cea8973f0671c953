// Package ui shows handshake progress to the local user and to a remote
// operator, and carries their abort and lobby-control requests back to the
// session loop.
package ui

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/pregame/internal/session"
)

// Terminal shows lobby progress as a pterm spinner. Cancelling ctx (Ctrl+C)
// is the user's abort.
type Terminal struct {
	ctx     context.Context
	label   string
	spinner *pterm.SpinnerPrinter
	shown   string
}

var _ session.UI = (*Terminal)(nil)

// NewTerminal returns a terminal UI. label prefixes the progress line.
func NewTerminal(ctx context.Context, label string) *Terminal {
	return &Terminal{ctx: ctx, label: label}
}

func (t *Terminal) ReportProgress(current, total int) {
	text := progressText(t.label, current, total)
	if text == t.shown {
		return
	}
	t.shown = text

	if t.spinner == nil {
		sp, err := pterm.DefaultSpinner.WithRemoveWhenDone(false).Start(text)
		if err != nil {
			pterm.Info.Println(text)
			return
		}
		t.spinner = sp
		return
	}
	t.spinner.UpdateText(text)
}

func (t *Terminal) PollAbort() bool {
	return t.ctx.Err() != nil
}

// Finish stops the spinner with a final success or failure line.
func (t *Terminal) Finish(err error) {
	if t.spinner == nil {
		return
	}
	if err != nil {
		t.spinner.Fail(err.Error())
	} else {
		t.spinner.Success(t.shown)
	}
	t.spinner = nil
}

func progressText(label string, current, total int) string {
	if total <= 0 {
		return label + ": contacting host..."
	}
	return fmt.Sprintf("%s: %d/%d players", label, current, total)
}

// Multi fans progress out to several UIs. Any of them can abort.
type Multi []session.UI

func (m Multi) ReportProgress(current, total int) {
	for _, u := range m {
		u.ReportProgress(current, total)
	}
}

func (m Multi) PollAbort() bool {
	for _, u := range m {
		if u.PollAbort() {
			return true
		}
	}
	return false
}
