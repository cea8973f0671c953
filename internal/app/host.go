package app

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/1ureka/pregame/internal/bans"
	"github.com/1ureka/pregame/internal/config"
	"github.com/1ureka/pregame/internal/protocol"
	"github.com/1ureka/pregame/internal/session"
	"github.com/1ureka/pregame/internal/sim"
	"github.com/1ureka/pregame/internal/ui"
	"github.com/1ureka/pregame/internal/util"
)

// RunHost orchestrates the full host lifecycle:
//  1. Bind the lobby port
//  2. Open the ban list and, if configured, the operator console
//  3. Step the host controller until everyone is ready or the user aborts
//  4. Keep answering guests that missed Go for a short while
func RunHost(ctx context.Context, cfg *config.Config, opts Options) (Result, error) {
	// ── 1. Socket ──────────────────────────────────────────────────────
	sock, err := opts.listen(cfg.Port)
	if err != nil {
		return Result{}, fmt.Errorf("failed to bind lobby port %d: %w", cfg.Port, err)
	}
	defer closeQuietly("lobby socket", sock)

	// ── 2. Collaborators ───────────────────────────────────────────────
	var banList session.BanList = bans.NewMemory()
	if cfg.BanDB != "" {
		db, err := bans.OpenSQLite(cfg.BanDB)
		if err != nil {
			return Result{}, err
		}
		defer closeQuietly("ban list", db)
		banList = db
		util.LogInfo("loaded %d bans from %s", len(db.List()), cfg.BanDB)
	}
	hostOpts := []session.HostOption{session.WithBanList(banList)}

	lobbyUI := uiWith(opts.UI)
	if cfg.Monitor != "" {
		monitor, err := startMonitor(cfg)
		if err != nil {
			return Result{}, err
		}
		defer closeQuietly("monitor", monitor)
		hostOpts = append(hostOpts, session.WithControls(monitor))
		lobbyUI = uiWith(opts.UI, monitor)
	}

	mode, forced, err := cfg.ParseNetMode()
	if err != nil {
		return Result{}, err
	}

	game := sim.New(
		sim.Player{Name: cfg.Name, Color: cfg.Color},
		sim.Settings{Map: cfg.Map, Skill: cfg.Skill, Seed: rand.Uint32()},
	)
	host := session.NewHost(session.HostConfig{
		GameID:       cfg.GameID,
		MaxClients:   cfg.Players,
		TicDup:       cfg.TicDup,
		Password:     cfg.Password,
		Version:      protocol.CurrentVersion,
		NetMode:      mode,
		ForceNetMode: forced,
	}, sock, game, hostOpts...)

	util.LogInfo("hosting %s on %s, waiting for %d players", cfg.GameID, sock.LocalAddr(), cfg.Players)

	// ── 3. Handshake ───────────────────────────────────────────────────
	outcome, err := session.Loop(ctx, host, lobbyUI, cfg.Tick())
	res, err := finish(host, outcome, err)
	if err != nil || res.Session == nil {
		return res, err
	}
	logSession(res.Session, game)

	// ── 4. Stragglers ──────────────────────────────────────────────────
	if res.Session.Networked {
		if err := session.Linger(ctx, host, cfg.Tick(), cfg.Linger()); err != nil {
			util.LogWarning("stopped answering late guests: %v", err)
		}
	}
	return res, nil
}

func startMonitor(cfg *config.Config) (*ui.Monitor, error) {
	pin := cfg.MonitorPIN
	if pin == "" {
		pin = ui.GeneratePIN(4)
	}
	monitor := ui.NewMonitor(pin)
	port, err := monitor.Start(cfg.Monitor)
	if err != nil {
		return nil, err
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║          Lobby Operator Console          ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Port : %-32d ║\n", port)
	fmt.Printf("║  PIN  : %-32s ║\n", pin)
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	return monitor, nil
}

func logSession(s *session.Session, game *sim.Game) {
	if !s.Networked {
		util.LogWarning("nobody joined, starting a single-player game")
		return
	}
	for _, p := range s.Participants {
		name := game.Name(p.ID)
		if p.ID == s.LocalID {
			util.LogInfo("  %2d  %-16s (you)", p.ID, name)
			continue
		}
		util.LogInfo("  %2d  %-16s %s", p.ID, name, p.Addr)
	}
}
