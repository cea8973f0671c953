package session

import (
	"context"
	"time"
)

// DefaultTick is the pace of the handshake loop.
const DefaultTick = 50 * time.Millisecond

// Outcome is how a completed Loop ended.
type Outcome int

const (
	OutcomeReady Outcome = iota + 1
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeAborted:
		return "aborted"
	}
	return "unknown"
}

// Controller is one side of the handshake. Host and Guest implement it.
type Controller interface {
	// Step processes one tick and reports whether the session is established.
	Step() (bool, error)
	// Abort tells the other side we are leaving.
	Abort()
	Progress() (current, total int)
	Session() *Session
}

// Loop steps c every tick until it is done, fails, or the user gives up.
// Cancelling ctx counts as the user giving up.
func Loop(ctx context.Context, c Controller, ui UI, tick time.Duration) (Outcome, error) {
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil || (ui != nil && ui.PollAbort()) {
			c.Abort()
			return OutcomeAborted, nil
		}

		done, err := c.Step()
		if ui != nil {
			ui.ReportProgress(c.Progress())
		}
		if err != nil {
			c.Abort()
			return 0, err
		}
		if done {
			return OutcomeReady, nil
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// Linger keeps stepping c for d after Loop has returned ready, so a
// participant that missed every Go is answered when it asks again. It stops
// early when ctx is cancelled.
func Linger(ctx context.Context, c Controller, tick, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	for {
		if _, err := c.Step(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-ticker.C:
		}
	}
}
