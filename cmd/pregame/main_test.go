package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/1ureka/pregame/internal/config"
)

// execute runs the CLI with args and returns the config the role would have
// started with.
func execute(t *testing.T, args ...string) *config.Config {
	t.Helper()

	var got *config.Config
	runRole = func(_ context.Context, cfg *config.Config) error {
		got = cfg
		return nil
	}
	t.Cleanup(func() { runRole = run })

	root := rootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("execute %v failed: %v", args, err)
	}
	if got == nil {
		t.Fatalf("execute %v never reached a role", args)
	}
	return got
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHostDefaults(t *testing.T) {
	cfg := execute(t, "host")
	want := config.Default()
	want.Role = config.RoleHost

	if *cfg != *want {
		t.Errorf("got %+v, want %+v", cfg, want)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := writeFile(t, "lobby.yaml", "players: 4\nport: 6000\nname: file\n")
	cfg := execute(t, "host", "--config", path, "--port", "7000", "--name", "flag")

	if cfg.Players != 4 {
		t.Errorf("players = %d, want 4 from the file", cfg.Players)
	}
	if cfg.Port != 7000 {
		t.Errorf("port = %d, want 7000 from the flag", cfg.Port)
	}
	if cfg.Name != "flag" {
		t.Errorf("name = %q, want flag", cfg.Name)
	}
}

func TestUnsetFlagsKeepFileValues(t *testing.T) {
	path := writeFile(t, "lobby.toml", "password = \"secret\"\ntick_ms = 20\n")
	cfg := execute(t, "host", "-c", path, "-n", "3")

	if cfg.Password != "secret" || cfg.TickMS != 20 || cfg.Players != 3 {
		t.Errorf("got %+v", cfg)
	}
}

func TestJoinTakesAddressArgument(t *testing.T) {
	path := writeFile(t, "join.yaml", "join: 10.1.2.3\n")

	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"argument", []string{"join", "lobby.example:6000"}, "lobby.example:6000"},
		{"from file", []string{"join", "-c", path}, "10.1.2.3"},
		{"argument wins", []string{"join", "-c", path, "10.9.9.9"}, "10.9.9.9"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := execute(t, tc.args...)
			if cfg.Role != config.RoleGuest || cfg.Join != tc.want {
				t.Errorf("got role %s join %q, want guest %q", cfg.Role, cfg.Join, tc.want)
			}
		})
	}
}

func TestSoloRole(t *testing.T) {
	cfg := execute(t, "solo", "--dup", "2")
	if cfg.Role != config.RoleSolo || cfg.TicDup != 2 {
		t.Errorf("got %+v", cfg)
	}
}

func TestBadConfigFile(t *testing.T) {
	path := writeFile(t, "lobby.ini", "players=2\n")
	root := rootCmd()
	root.SetArgs([]string{"host", "-c", path})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for an unsupported config format")
	}
}
