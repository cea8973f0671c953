// Package session brings a host and its guests to a common ready state
// before the game starts.
//
// A Host or Guest controller is advanced one tick at a time by Loop. Each
// tick drains every queued datagram, updates the controller's connection
// records, and then re-sends the full state each peer is still missing.
// There are no sequence numbers: lost packets are repaired by the next tick's
// resend, so every send must be idempotent.
package session

import (
	"net/netip"
	"slices"

	"github.com/1ureka/pregame/internal/protocol"
)

// ParticipantID is a player slot. The host is always 0.
type ParticipantID int

const (
	HostID     ParticipantID = 0
	Unassigned ParticipantID = -1
)

// Status is a connection's progress through the handshake.
type Status uint8

const (
	StatusNone Status = iota
	StatusConnecting
	StatusWaiting
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusWaiting:
		return "waiting"
	case StatusReady:
		return "ready"
	}
	return "none"
}

// Simulation is the game layer that owns the user-info and game-info blobs.
type Simulation interface {
	SerializeUserInfo(id ParticipantID) []byte
	ApplyUserInfo(id ParticipantID, info []byte)
	SerializeGameInfo() []byte
	ApplyGameInfo(info []byte)
}

// UI shows progress and reports when the user gives up.
type UI interface {
	ReportProgress(current, total int)
	PollAbort() bool
}

// Controls carries operator requests to a host. Take* calls drain the
// pending requests.
type Controls interface {
	TakeKicks() []ParticipantID
	TakeBans() []ParticipantID
	ForceStart() bool
}

// RosterReporter is an optional extension of Controls. A host whose
// controls implement it reports the active participants every tick, so an
// operator knows which ids to kick or ban.
type RosterReporter interface {
	ReportRoster(participants []Participant)
}

// BanList is the set of addresses refused at the handshake.
type BanList interface {
	Banned(addr netip.Addr) bool
	Add(addr netip.Addr) error
}

// Participant is one player in an established session.
type Participant struct {
	ID   ParticipantID
	Addr netip.AddrPort // zero for the local participant's own entry on the host
}

// Session is the result handed to the game once everyone is ready.
type Session struct {
	GameID       string
	LocalID      ParticipantID
	Participants []Participant // ordered by ID
	NetMode      protocol.NetMode
	TicDup       int
	Networked    bool
}

// Solo returns a session with only the local player and no networking.
func Solo(gameID string, ticDup int) *Session {
	return &Session{
		GameID:       gameID,
		LocalID:      HostID,
		Participants: []Participant{{ID: HostID}},
		NetMode:      protocol.PeerToPeer,
		TicDup:       clampTicDup(ticDup),
	}
}

// IDs returns the participant ids in order.
func (s *Session) IDs() []ParticipantID {
	ids := make([]ParticipantID, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.ID
	}
	return ids
}

func sortParticipants(ps []Participant) {
	slices.SortFunc(ps, func(a, b Participant) int { return int(a.ID) - int(b.ID) })
}

func clampTicDup(n int) int {
	return min(max(n, 1), protocol.MaxTicDup)
}
