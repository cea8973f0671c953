// Package config holds the CLI configuration types.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/1ureka/pregame/internal/protocol"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Role represents the user's chosen role.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
	RoleSolo  Role = "solo"
)

// Network mode names accepted in configuration.
const (
	NetModeAuto         = "auto"
	NetModePeerToPeer   = "p2p"
	NetModePacketServer = "packet-server"
)

// Config stores every parameter gathered from flags, prompts or a file.
type Config struct {
	Role Role `yaml:"role" toml:"role"`

	// Lobby, used by the host.
	Players  int    `yaml:"players" toml:"players"` // including the host
	Port     int    `yaml:"port" toml:"port"`
	Password string `yaml:"password" toml:"password"`
	TicDup   int    `yaml:"ticdup" toml:"ticdup"`
	NetMode  string `yaml:"netmode" toml:"netmode"`
	GameID   string `yaml:"game_id" toml:"game_id"`
	Map      string `yaml:"map" toml:"map"`
	Skill    int    `yaml:"skill" toml:"skill"`

	// Guest: host[:port] to join.
	Join string `yaml:"join" toml:"join"`

	// Local player.
	Name  string `yaml:"name" toml:"name"`
	Color string `yaml:"color" toml:"color"`

	TickMS int `yaml:"tick_ms" toml:"tick_ms"`
	// Host: how long to keep answering stragglers after Go. 0 disables.
	LingerMS int `yaml:"linger_ms" toml:"linger_ms"`

	BanDB      string `yaml:"ban_db" toml:"ban_db"`           // empty keeps bans in memory
	Monitor    string `yaml:"monitor" toml:"monitor"`         // operator console listen address
	MonitorPIN string `yaml:"monitor_pin" toml:"monitor_pin"` // generated when empty
	Metrics    string `yaml:"metrics" toml:"metrics"`         // Prometheus listen address

	LogFile string `yaml:"log_file" toml:"log_file"`
	Debug   bool   `yaml:"debug" toml:"debug"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Players: 2,
		Port:    protocol.DefaultPort,
		TicDup:  1,
		NetMode: NetModeAuto,
		GameID:  "doom2",
		Map:     "MAP01",
		Skill:   3,
		Name:    "Player",
		Color:   "40cf00",
		TickMS:  50,

		LingerMS: 3000,
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yml/.yaml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.UnmarshalStrict(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalid, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and fills derivable values. tic dup outside 1..3 is
// clamped rather than refused.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleHost, RoleGuest, RoleSolo:
	default:
		return fmt.Errorf("%w: role must be host, guest or solo, got %q", ErrInvalid, c.Role)
	}

	if c.Role == RoleHost && (c.Players < 1 || c.Players > protocol.MaxParticipants) {
		return fmt.Errorf("%w: players must be 1~%d", ErrInvalid, protocol.MaxParticipants)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 0~65535", ErrInvalid)
	}
	if len(c.Password) > protocol.MaxPasswordLen {
		return fmt.Errorf("%w: password is longer than %d bytes", ErrInvalid, protocol.MaxPasswordLen)
	}
	if strings.ContainsRune(c.Password, 0) {
		return fmt.Errorf("%w: password contains a NUL byte", ErrInvalid)
	}
	if c.Role == RoleGuest && c.Join == "" {
		return fmt.Errorf("%w: guest needs a host to join", ErrInvalid)
	}
	if _, _, err := c.ParseNetMode(); err != nil {
		return err
	}
	if c.LingerMS < 0 {
		return fmt.Errorf("%w: linger must not be negative", ErrInvalid)
	}

	c.TicDup = min(max(c.TicDup, 1), protocol.MaxTicDup)
	if c.TickMS <= 0 {
		c.TickMS = Default().TickMS
	}
	return nil
}

// ParseNetMode returns the configured mode and whether it overrides the
// automatic choice.
func (c *Config) ParseNetMode() (protocol.NetMode, bool, error) {
	switch strings.ToLower(c.NetMode) {
	case "", NetModeAuto:
		return protocol.PeerToPeer, false, nil
	case NetModePeerToPeer, "peer-to-peer", "0":
		return protocol.PeerToPeer, true, nil
	case NetModePacketServer, "packetserver", "1":
		return protocol.PacketServer, true, nil
	}
	return 0, false, fmt.Errorf("%w: netmode must be auto, p2p or packet-server, got %q", ErrInvalid, c.NetMode)
}

// Tick returns the handshake tick interval.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// Linger returns how long a host keeps answering after the session starts.
func (c *Config) Linger() time.Duration {
	return time.Duration(c.LingerMS) * time.Millisecond
}

// ResolveJoin turns "host[:port]" into a UDP endpoint, resolving names to
// IPv4. A missing or zero port means the default port.
func ResolveJoin(ctx context.Context, target string) (netip.AddrPort, error) {
	host, port, err := splitHostPort(target)
	if err != nil {
		return netip.AddrPort{}, err
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), port), nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("failed to resolve %s: no IPv4 address", host)
	}
	return netip.AddrPortFrom(addrs[0].Unmap(), port), nil
}

func splitHostPort(target string) (string, uint16, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", 0, fmt.Errorf("%w: empty join address", ErrInvalid)
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// No port given.
		return strings.Trim(target, "[]"), protocol.DefaultPort, nil
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad port in %q", ErrInvalid, target)
	}
	if port == 0 {
		port = protocol.DefaultPort
	}
	return host, uint16(port), nil
}
