// Pregame CLI entry point.
//
// This tool gathers the players of a multiplayer game before it starts: one
// process hosts a lobby on a UDP port, the others join it, and once everyone
// holds everyone else's info the host sends Go and every process prints the
// agreed session.
//
// It can be launched interactively (no subcommand) or non-interactively via
// the host, join and solo subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/pregame/internal/app"
	"github.com/1ureka/pregame/internal/config"
	"github.com/1ureka/pregame/internal/metrics"
	"github.com/1ureka/pregame/internal/session"
	"github.com/1ureka/pregame/internal/ui"
	"github.com/1ureka/pregame/internal/util"
)

var version = "dev"

// runRole is what every subcommand ends in. Tests swap it out.
var runRole = run

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// flagSet remembers which config field each flag writes, so values from a
// config file are only overridden by flags the user actually passed.
type flagSet struct {
	cmd       *cobra.Command
	overrides map[string]func(*config.Config)
}

func (f *flagSet) string(name, short, value, usage string, set func(*config.Config, string)) {
	p := new(string)
	f.cmd.Flags().StringVarP(p, name, short, value, usage)
	f.overrides[name] = func(c *config.Config) { set(c, *p) }
}

func (f *flagSet) int(name, short string, value int, usage string, set func(*config.Config, int)) {
	p := new(int)
	f.cmd.Flags().IntVarP(p, name, short, value, usage)
	f.overrides[name] = func(c *config.Config) { set(c, *p) }
}

// build loads the config file named by --config, if any, then applies every
// flag that was set on the command line.
func (f *flagSet) build(role config.Role, global *globalFlags) (*config.Config, error) {
	cfg := config.Default()
	if global.configPath != "" {
		loaded, err := config.Load(global.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Role = role

	for name, apply := range global.overrides {
		if f.cmd.Flags().Changed(name) {
			apply(cfg)
		}
	}
	for name, apply := range f.overrides {
		if f.cmd.Flags().Changed(name) {
			apply(cfg)
		}
	}
	return cfg, nil
}

func newFlagSet(cmd *cobra.Command) *flagSet {
	return &flagSet{cmd: cmd, overrides: make(map[string]func(*config.Config))}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	overrides  map[string]func(*config.Config)
}

func rootCmd() *cobra.Command {
	global := &globalFlags{overrides: make(map[string]func(*config.Config))}

	root := &cobra.Command{
		Use:   "pregame",
		Short: "Gather players for a multiplayer game before it starts",
		Long: `Pregame brings a host and its guests to a common ready state over UDP.

Run without a subcommand for interactive prompts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if global.configPath != "" {
				loaded, err := config.Load(global.configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			for name, apply := range global.overrides {
				if cmd.Flags().Changed(name) {
					apply(cfg)
				}
			}
			return runInteractive(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&global.configPath, "config", "c", "", "Config file (.yaml or .toml)")

	debug := pf.Bool("debug", false, "Enable debug logging")
	global.overrides["debug"] = func(c *config.Config) { c.Debug = *debug }

	logFile := pf.String("log-file", "", "Also write logs to this rotating file")
	global.overrides["log-file"] = func(c *config.Config) { c.LogFile = *logFile }

	metricsAddr := pf.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9129)")
	global.overrides["metrics"] = func(c *config.Config) { c.Metrics = *metricsAddr }

	name := pf.String("name", "Player", "Your player name")
	global.overrides["name"] = func(c *config.Config) { c.Name = *name }

	color := pf.String("color", "40cf00", "Your player color (hex RGB)")
	global.overrides["color"] = func(c *config.Config) { c.Color = *color }

	game := pf.String("game", "doom2", "Game id shared by every participant")
	global.overrides["game"] = func(c *config.Config) { c.GameID = *game }

	tick := pf.Int("tick", 50, "Handshake tick in milliseconds")
	global.overrides["tick"] = func(c *config.Config) { c.TickMS = *tick }

	root.AddCommand(
		hostCmd(global),
		joinCmd(global),
		soloCmd(global),
		versionCmd(),
	)
	return root
}

func hostCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a lobby and wait for players",
		Args:  cobra.NoArgs,
	}
	f := newFlagSet(cmd)
	f.int("players", "n", 2, "Number of players, including you (1~64)", func(c *config.Config, v int) { c.Players = v })
	f.int("port", "p", 5029, "UDP port to listen on", func(c *config.Config, v int) { c.Port = v })
	f.string("password", "", "", "Password guests must present", func(c *config.Config, v string) { c.Password = v })
	f.int("dup", "", 1, "Tic duplication (1~3)", func(c *config.Config, v int) { c.TicDup = v })
	f.string("netmode", "", "auto", "auto, p2p or packet-server", func(c *config.Config, v string) { c.NetMode = v })
	f.string("map", "", "MAP01", "Map to start on", func(c *config.Config, v string) { c.Map = v })
	f.int("skill", "", 3, "Skill level", func(c *config.Config, v int) { c.Skill = v })
	f.int("linger", "", 3000, "Milliseconds to keep answering late guests after Go (0 disables)", func(c *config.Config, v int) { c.LingerMS = v })
	f.string("bans", "", "", "SQLite file that keeps bans across runs", func(c *config.Config, v string) { c.BanDB = v })
	f.string("monitor", "", "", "Serve the operator console on this address (e.g. 127.0.0.1:0)", func(c *config.Config, v string) { c.Monitor = v })
	f.string("monitor-pin", "", "", "Operator console PIN (random when empty)", func(c *config.Config, v string) { c.MonitorPIN = v })

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := f.build(config.RoleHost, global)
		if err != nil {
			return err
		}
		return runRole(cmd.Context(), cfg)
	}
	return cmd
}

func joinCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <host[:port]>",
		Short: "Join a hosted lobby",
		Args:  cobra.MaximumNArgs(1),
	}
	f := newFlagSet(cmd)
	f.string("password", "", "", "Lobby password", func(c *config.Config, v string) { c.Password = v })

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := f.build(config.RoleGuest, global)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			cfg.Join = args[0]
		}
		return runRole(cmd.Context(), cfg)
	}
	return cmd
}

func soloCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solo",
		Short: "Start a single-player session without networking",
		Args:  cobra.NoArgs,
	}
	f := newFlagSet(cmd)
	f.int("dup", "", 1, "Tic duplication (1~3)", func(c *config.Config, v int) { c.TicDup = v })

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := f.build(config.RoleSolo, global)
		if err != nil {
			return err
		}
		return runRole(cmd.Context(), cfg)
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// run sets up the ambient services cfg asks for and runs its role.
func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Debug {
		util.EnableDebug()
	}
	if cfg.LogFile != "" {
		closer := util.SetLogFile(util.LogFile{Path: cfg.LogFile})
		defer closer.Close()
	}

	pterm.Info.Println(fmt.Sprintf("Pregame — v%s", version))
	pterm.Println()

	var m *metrics.Metrics
	if cfg.Metrics != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics); err != nil {
				util.LogError("%v", err)
			}
		}()
	}
	util.StartStatsReporter(ctx)

	term := ui.NewTerminal(ctx, string(cfg.Role))
	res, err := app.Run(ctx, cfg, app.Options{UI: term, Metrics: m})
	term.Finish(err)
	if err != nil {
		return err
	}

	if res.Outcome == session.OutcomeAborted {
		util.LogWarning("handshake aborted")
		return nil
	}
	printSession(res.Session)
	return nil
}

func printSession(s *session.Session) {
	pterm.Println()
	util.LogSuccess("session ready: game %s, %d players, %s, tic dup %d",
		s.GameID, len(s.Participants), s.NetMode, s.TicDup)
}
