package app

import (
	"context"
	"fmt"

	"github.com/1ureka/pregame/internal/config"
	"github.com/1ureka/pregame/internal/protocol"
	"github.com/1ureka/pregame/internal/session"
	"github.com/1ureka/pregame/internal/sim"
	"github.com/1ureka/pregame/internal/util"
)

// RunGuest orchestrates the full guest lifecycle:
//  1. Resolve the host
//  2. Bind any local port
//  3. Step the guest controller until Go arrives, the host refuses us, or
//     the user aborts
func RunGuest(ctx context.Context, cfg *config.Config, opts Options) (Result, error) {
	hostAddr, err := config.ResolveJoin(ctx, cfg.Join)
	if err != nil {
		return Result{}, err
	}

	sock, err := opts.listen(0)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open socket: %w", err)
	}
	defer closeQuietly("socket", sock)

	game := sim.New(sim.Player{Name: cfg.Name, Color: cfg.Color}, sim.Settings{})
	guest := session.NewGuest(session.GuestConfig{
		GameID:   cfg.GameID,
		Host:     hostAddr,
		Password: cfg.Password,
		Version:  protocol.CurrentVersion,
	}, sock, game)

	util.LogInfo("contacting %s...", hostAddr)

	outcome, err := session.Loop(ctx, guest, uiWith(opts.UI), cfg.Tick())
	res, err := finish(guest, outcome, err)
	if err == nil && res.Session != nil {
		s := game.Settings()
		util.LogInfo("map %s, skill %d, seed %d", s.Map, s.Skill, s.Seed)
		logSession(res.Session, game)
	}
	return res, err
}
