package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/pregame/internal/config"
	"github.com/1ureka/pregame/internal/util"
)

// runInteractive prompts for a role and its essentials when no subcommand is
// given. Everything else comes from cfg.
func runInteractive(ctx context.Context, cfg *config.Config) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Host  — Open a lobby and wait for players",
			"Join  — Connect to someone's lobby",
			"Solo  — Play alone, no networking",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Host"):
		cfg.Role = config.RoleHost
		cfg.Players = askInt("Number of players including you (1 ~ 64)", 1, 64)
		cfg.Password = askText("Password (leave empty for none)")
	case strings.HasPrefix(role, "Join"):
		cfg.Role = config.RoleGuest
		cfg.Join = askJoin()
		cfg.Password = askText("Password (leave empty for none)")
	default:
		cfg.Role = config.RoleSolo
	}

	return runRole(ctx, cfg)
}

// askInt prompts until a number within [lo, hi] is entered.
func askInt(prompt string, lo, hi int) int {
	for {
		n, err := strconv.Atoi(askText(prompt))
		if err == nil && n >= lo && n <= hi {
			return n
		}

		util.LogWarning("invalid number: must be %d ~ %d", lo, hi)
		pterm.Println()
	}
}

// askJoin prompts until a non-empty host address is entered. Resolution
// happens later so a typo surfaces as a normal error.
func askJoin() string {
	for {
		addr := askText("Host address (host[:port])")
		if addr != "" {
			return addr
		}

		util.LogWarning("host address is required")
		pterm.Println()
	}
}

func askText(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}
