package session

import (
	"bytes"
	"net/netip"

	"github.com/1ureka/pregame/internal/protocol"
	"github.com/1ureka/pregame/internal/transport"
	"github.com/1ureka/pregame/internal/util"
)

// GuestConfig describes the lobby a guest tries to join.
type GuestConfig struct {
	GameID   string
	Host     netip.AddrPort
	Password string
	Version  protocol.Version
}

// peer is what a guest knows about another participant.
type peer struct {
	addr netip.AddrPort
	info []byte
}

// Guest joins a host's lobby and waits for Go.
type Guest struct {
	cfg  GuestConfig
	link *link
	sim  Simulation

	id          ParticipantID
	status      Status // StatusNone until the host assigns an id
	connected   int
	maxClients  int
	ticDup      int
	hasGameInfo bool
	peers       map[ParticipantID]peer

	session *Session
}

// NewGuest returns a guest controller that owns sock for the lobby's
// lifetime.
func NewGuest(cfg GuestConfig, sock transport.Socket, sim Simulation) *Guest {
	return &Guest{
		cfg:    cfg,
		link:   newLink(sock),
		sim:    sim,
		id:     Unassigned,
		ticDup: 1,
		peers:  make(map[ParticipantID]peer),
	}
}

// ID returns the id assigned by the host, or Unassigned.
func (g *Guest) ID() ParticipantID { return g.id }

// Status returns how far the handshake has got.
func (g *Guest) Status() Status { return g.status }

// Progress returns the lobby fill reported by the host. Before the host has
// answered it is (0, 0).
func (g *Guest) Progress() (int, int) { return g.connected, g.maxClients }

// Session returns the established session once Step has reported done.
func (g *Guest) Session() *Session { return g.session }

// Step handles every queued datagram and then sends whatever the host is
// still waiting for. It reports true once Go has arrived. A rejection or a
// lost host ends the handshake with an error.
func (g *Guest) Step() (bool, error) {
	if g.session != nil {
		return true, nil
	}

	for {
		in, ok, err := g.link.next()
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		if err := g.handle(in); err != nil {
			return false, err
		}
		if g.session != nil {
			return true, nil
		}
	}

	return false, g.sendState()
}

// Abort tells the host this guest is leaving.
func (g *Guest) Abort() {
	g.link.repeat(exitRepeat, g.cfg.Host, &protocol.Exit{})
}

func (g *Guest) handle(in inbound) error {
	if in.from != g.cfg.Host {
		util.LogDebug("ignored datagram from %s, not the host", in.from)
		util.Stats.AddDropped()
		return nil
	}
	if in.reset {
		return ErrConnectionLost
	}

	switch m := in.msg.(type) {
	case *protocol.Rejection:
		return rejectionError(m.Reason)

	case *protocol.Exit:
		return ErrHostCancelled

	case *protocol.ConnectAck:
		g.connected, g.maxClients = int(m.Connected), int(m.MaxClients)
		if g.status == StatusNone {
			g.id = ParticipantID(m.ID)
			g.status = StatusConnecting
			util.LogInfo("host assigned us participant %d (%d/%d)", g.id, m.Connected, m.MaxClients)
		}

	case *protocol.Heartbeat:
		g.connected, g.maxClients = int(m.Connected), int(m.MaxClients)
		if g.status == StatusWaiting {
			g.status = StatusReady
		}

	case *protocol.UserInfoAck:
		if g.status == StatusNone || ParticipantID(m.ID) != g.id {
			return nil
		}
		if g.status == StatusConnecting {
			g.status = StatusWaiting
			util.LogInfo("host has our user info")
		}
		return g.link.send(g.cfg.Host, &protocol.UserInfoAck{ID: m.ID})

	case *protocol.UserInfo:
		if g.status < StatusWaiting {
			return nil
		}
		g.learn(ParticipantID(m.ID), m)
		return g.link.send(g.cfg.Host, &protocol.UserInfoAck{ID: m.ID})

	case *protocol.GameInfo:
		if g.status < StatusWaiting {
			return nil
		}
		if !g.hasGameInfo {
			g.ticDup = clampTicDup(int(m.TicDup))
			g.sim.ApplyGameInfo(m.Info)
			g.hasGameInfo = true
			util.LogInfo("received game info (tic dup %d)", g.ticDup)
		}
		return g.link.send(g.cfg.Host, &protocol.GameInfoAck{})

	case *protocol.Disconnect:
		id := ParticipantID(m.ID)
		if id == HostID {
			return ErrHostCancelled
		}
		if _, ok := g.peers[id]; ok {
			delete(g.peers, id)
			util.LogInfo("participant %d left the lobby", id)
		}

	case *protocol.Go:
		if g.status < StatusWaiting {
			// Go before we were even admitted means we missed the lobby.
			return ErrInProgress
		}
		g.finish(m.NetMode)
	}
	return nil
}

// learn applies another participant's user info. The host repeats it until
// our ack arrives, so it is re-applied only when it changed, which also
// covers a slot reused after a missed Disconnect.
func (g *Guest) learn(id ParticipantID, m *protocol.UserInfo) {
	if id == g.id {
		return
	}
	if p, ok := g.peers[id]; ok && p.addr == m.Addr && bytes.Equal(p.info, m.Info) {
		return
	}
	g.peers[id] = peer{addr: m.Addr, info: bytes.Clone(m.Info)}
	g.sim.ApplyUserInfo(id, m.Info)
	util.LogDebug("learned participant %d at %s", id, m.Addr)
}

func (g *Guest) sendState() error {
	switch g.status {
	case StatusNone:
		return g.link.send(g.cfg.Host, &protocol.Connect{
			Version:  g.cfg.Version,
			Password: g.cfg.Password,
		})
	case StatusConnecting:
		return g.link.send(g.cfg.Host, &protocol.UserInfo{
			ID:   uint8(g.id),
			Info: g.sim.SerializeUserInfo(g.id),
		})
	}
	return g.link.send(g.cfg.Host, &protocol.Heartbeat{})
}

func (g *Guest) finish(mode protocol.NetMode) {
	participants := []Participant{
		{ID: HostID, Addr: g.cfg.Host},
		{ID: g.id},
	}
	for id, p := range g.peers {
		if id != HostID {
			participants = append(participants, Participant{ID: id, Addr: p.addr})
		}
	}
	sortParticipants(participants)

	g.status = StatusReady
	g.session = &Session{
		GameID:       g.cfg.GameID,
		LocalID:      g.id,
		Participants: participants,
		NetMode:      mode,
		TicDup:       g.ticDup,
		Networked:    true,
	}
	util.LogSuccess("host started the game in %s mode with %d participants", mode, len(participants))
}
