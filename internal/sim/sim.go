// Package sim is the game-side collaborator used by the command line tool:
// it owns the player roster and the game settings exchanged during the
// handshake.
package sim

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/1ureka/pregame/internal/session"
	"github.com/1ureka/pregame/internal/util"
)

// ErrBadInfo is returned when a user or game info string does not parse.
var ErrBadInfo = errors.New("malformed info string")

// Player is one participant's user info.
type Player struct {
	Name  string
	Color string // hex RGB, e.g. "40cf00"
}

// Settings is the host's game info.
type Settings struct {
	Map   string
	Skill int
	Seed  uint32
}

// Game implements session.Simulation. It is safe for concurrent use so a
// UI can read the roster while the handshake runs.
type Game struct {
	mu       sync.RWMutex
	local    Player
	players  map[session.ParticipantID]Player
	settings Settings
}

var _ session.Simulation = (*Game)(nil)

// New returns a game whose local player is local. Guests overwrite settings
// with whatever the host sends.
func New(local Player, settings Settings) *Game {
	return &Game{
		local:    local,
		players:  make(map[session.ParticipantID]Player),
		settings: settings,
	}
}

// SerializeUserInfo encodes id's user info. Ids the game has not heard of
// are the local player.
func (g *Game) SerializeUserInfo(id session.ParticipantID) []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.players[id]
	if !ok {
		p = g.local
	}
	return encodeInfo([][2]string{{"name", p.Name}, {"color", p.Color}})
}

// ApplyUserInfo records id's user info. Unparsable info is logged and
// replaced with a placeholder name so the slot is still shown.
func (g *Game) ApplyUserInfo(id session.ParticipantID, info []byte) {
	kv, err := decodeInfo(info)
	if err != nil {
		util.LogWarning("user info for participant %d: %v", id, err)
	}
	p := Player{Name: kv["name"], Color: kv["color"]}
	if p.Name == "" {
		p.Name = fmt.Sprintf("Player %d", id+1)
	}

	g.mu.Lock()
	g.players[id] = p
	g.mu.Unlock()
}

// SerializeGameInfo encodes the host's settings.
func (g *Game) SerializeGameInfo() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return encodeInfo([][2]string{
		{"map", g.settings.Map},
		{"skill", strconv.Itoa(g.settings.Skill)},
		{"seed", strconv.FormatUint(uint64(g.settings.Seed), 10)},
	})
}

// ApplyGameInfo replaces the settings with the host's.
func (g *Game) ApplyGameInfo(info []byte) {
	kv, err := decodeInfo(info)
	if err != nil {
		util.LogWarning("game info: %v", err)
		return
	}
	s := Settings{Map: kv["map"]}
	s.Skill, _ = strconv.Atoi(kv["skill"])
	seed, _ := strconv.ParseUint(kv["seed"], 10, 32)
	s.Seed = uint32(seed)

	g.mu.Lock()
	g.settings = s
	g.mu.Unlock()
}

// Settings returns the current game settings.
func (g *Game) Settings() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings
}

// Roster returns every remote player the handshake has told us about.
func (g *Game) Roster() map[session.ParticipantID]Player {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return maps.Clone(g.players)
}

// Name returns id's display name, or the local name for unknown ids.
func (g *Game) Name(id session.ParticipantID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if p, ok := g.players[id]; ok {
		return p.Name
	}
	return g.local.Name
}

// encodeInfo builds a backslash-separated key/value string, the format the
// engine uses for user info. Backslashes in values are dropped.
func encodeInfo(pairs [][2]string) []byte {
	var b strings.Builder
	for _, kv := range pairs {
		b.WriteByte('\\')
		b.WriteString(kv[0])
		b.WriteByte('\\')
		b.WriteString(strings.ReplaceAll(kv[1], `\`, ""))
	}
	return []byte(b.String())
}

func decodeInfo(info []byte) (map[string]string, error) {
	out := make(map[string]string)
	s := string(info)
	if s == "" {
		return out, nil
	}
	if s[0] != '\\' {
		return out, fmt.Errorf("%w: missing leading separator", ErrBadInfo)
	}

	fields := strings.Split(s[1:], `\`)
	if len(fields)%2 != 0 {
		return out, fmt.Errorf("%w: key %q has no value", ErrBadInfo, fields[len(fields)-1])
	}
	for i := 0; i < len(fields); i += 2 {
		out[fields[i]] = fields[i+1]
	}
	return out, nil
}

// SortedIDs returns the roster ids in order.
func SortedIDs(roster map[session.ParticipantID]Player) []session.ParticipantID {
	return slices.Sorted(maps.Keys(roster))
}
