// Package app contains the top-level orchestration for the host, guest and
// solo roles.
package app

import (
	"context"
	"errors"

	"github.com/1ureka/pregame/internal/config"
	"github.com/1ureka/pregame/internal/metrics"
	"github.com/1ureka/pregame/internal/session"
	"github.com/1ureka/pregame/internal/transport"
	"github.com/1ureka/pregame/internal/ui"
	"github.com/1ureka/pregame/internal/util"
)

// ListenFunc opens the socket a role uses. Port 0 picks any free port.
type ListenFunc func(port int) (transport.Socket, error)

// Options carries collaborators shared by every role. The zero value uses
// real UDP and no extra UI.
type Options struct {
	Listen  ListenFunc
	UI      session.UI       // local UI, e.g. the terminal
	Metrics *metrics.Metrics // optional
}

func (o Options) listen(port int) (transport.Socket, error) {
	if o.Listen != nil {
		return o.Listen(port)
	}
	sock, err := transport.ListenUDP(port)
	if err != nil {
		return nil, err
	}
	return sock, nil
}

// Result is how a role ended. Session is nil unless Outcome is ready.
type Result struct {
	Outcome session.Outcome
	Session *session.Session
}

// Run validates cfg and runs its role until the session is established, the
// user aborts, or a fatal error occurs.
func Run(ctx context.Context, cfg *config.Config, opts Options) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	var (
		res Result
		err error
	)
	switch cfg.Role {
	case config.RoleHost:
		res, err = RunHost(ctx, cfg, opts)
	case config.RoleGuest:
		res, err = RunGuest(ctx, cfg, opts)
	case config.RoleSolo:
		res = RunSolo(cfg)
	}

	if opts.Metrics != nil {
		opts.Metrics.RecordOutcome(string(cfg.Role), outcomeLabel(res, err))
	}
	return res, err
}

// RunSolo returns a single-player session without touching the network.
func RunSolo(cfg *config.Config) Result {
	return Result{
		Outcome: session.OutcomeReady,
		Session: session.Solo(cfg.GameID, cfg.TicDup),
	}
}

func finish(c session.Controller, outcome session.Outcome, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	if outcome != session.OutcomeReady {
		return Result{Outcome: outcome}, nil
	}
	return Result{Outcome: outcome, Session: c.Session()}, nil
}

func outcomeLabel(res Result, err error) string {
	if err == nil {
		return res.Outcome.String()
	}
	for _, known := range []struct {
		err   error
		label string
	}{
		{session.ErrGameFull, "full"},
		{session.ErrInProgress, "in_progress"},
		{session.ErrWrongPassword, "wrong_password"},
		{session.ErrWrongEngine, "wrong_engine"},
		{session.ErrInvalidFiles, "invalid_files"},
		{session.ErrKicked, "kicked"},
		{session.ErrBanned, "banned"},
		{session.ErrHostCancelled, "host_cancelled"},
		{session.ErrConnectionLost, "connection_lost"},
		{config.ErrInvalid, "invalid_config"},
	} {
		if errors.Is(err, known.err) {
			return known.label
		}
	}
	return "error"
}

func uiWith(local session.UI, extra ...session.UI) session.UI {
	var all ui.Multi
	if local != nil {
		all = append(all, local)
	}
	for _, u := range extra {
		if u != nil {
			all = append(all, u)
		}
	}
	switch len(all) {
	case 0:
		return nil
	case 1:
		return all[0]
	}
	return all
}

func closeQuietly(what string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		util.LogWarning("failed to close %s: %v", what, err)
	}
}
