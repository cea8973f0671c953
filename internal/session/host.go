package session

import (
	"net/netip"
	"slices"

	"github.com/1ureka/pregame/internal/bans"
	"github.com/1ureka/pregame/internal/netaddr"
	"github.com/1ureka/pregame/internal/protocol"
	"github.com/1ureka/pregame/internal/transport"
	"github.com/1ureka/pregame/internal/util"
)

const (
	goRepeat   = 8 // Go is only resent when a straggler asks again, so send it several times
	exitRepeat = 4
)

// HostConfig is the lobby the host offers.
type HostConfig struct {
	GameID       string
	MaxClients   int // total participants, host included
	TicDup       int
	Password     string
	Version      protocol.Version
	NetMode      protocol.NetMode
	ForceNetMode bool // use NetMode as is instead of choosing from addresses
}

// Host drives every guest connection toward Ready and then starts the game.
type Host struct {
	cfg      HostConfig
	link     *link
	sim      Simulation
	bans     BanList
	controls Controls

	table   *Table
	started bool
	session *Session
}

// HostOption configures optional host collaborators.
type HostOption func(*Host)

// WithBanList makes the host consult and extend bl. Without it the host uses
// a ban list that lasts for this lobby only.
func WithBanList(bl BanList) HostOption {
	return func(h *Host) { h.bans = bl }
}

// WithControls lets an operator kick, ban and force-start.
func WithControls(c Controls) HostOption {
	return func(h *Host) { h.controls = c }
}

// NewHost returns a host controller that owns sock for the lobby's lifetime.
func NewHost(cfg HostConfig, sock transport.Socket, sim Simulation, opts ...HostOption) *Host {
	cfg.MaxClients = min(max(cfg.MaxClients, 1), protocol.MaxParticipants)
	cfg.TicDup = clampTicDup(cfg.TicDup)

	h := &Host{
		cfg:   cfg,
		link:  newLink(sock),
		sim:   sim,
		table: NewTable(cfg.MaxClients),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bans == nil {
		h.bans = bans.NewMemory()
	}

	h.table.Add(HostID, netip.AddrPort{}, StatusReady)
	return h
}

// Table exposes the connection table for inspection.
func (h *Host) Table() *Table { return h.table }

// Progress returns the number of participants and the lobby size.
func (h *Host) Progress() (int, int) {
	return h.table.Count(), h.cfg.MaxClients
}

// Session returns the established session once Step has reported done.
func (h *Host) Session() *Session { return h.session }

// Step advances the lobby by one tick: operator requests first, then every
// queued datagram, then one round of outbound state. It reports true once
// Go has been sent. Calling Step after that keeps answering stragglers.
func (h *Host) Step() (bool, error) {
	if h.started {
		return true, h.drain(h.handleLate)
	}

	if err := h.applyOperatorRequests(); err != nil {
		return false, err
	}
	if err := h.drain(h.handle); err != nil {
		return false, err
	}
	if err := h.broadcast(); err != nil {
		return false, err
	}
	util.Stats.SetParticipants(h.table.Count())
	if r, ok := h.controls.(RosterReporter); ok {
		r.ReportRoster(h.roster())
	}

	if !h.readyToStart() {
		return false, nil
	}
	return true, h.start()
}

// Abort tells every guest the lobby is gone. Best effort: nothing confirms it.
func (h *Host) Abort() {
	for _, id := range h.guests() {
		h.link.repeat(exitRepeat, h.table.Record(id).Addr, &protocol.Exit{})
	}
}

func (h *Host) drain(handle func(inbound) error) error {
	for {
		in, ok, err := h.link.next()
		if err != nil || !ok {
			return err
		}
		if err := handle(in); err != nil {
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func (h *Host) handle(in inbound) error {
	id, known := h.table.FindByAddr(in.from)

	if in.reset {
		// A reset without a peer address cannot be attributed to anyone.
		if known {
			return h.remove(id, "dropped its connection")
		}
		return nil
	}

	if m, ok := in.msg.(*protocol.Connect); ok {
		if known {
			// Our ConnectAck was lost; the next broadcast repeats it anyway.
			return h.sendConnectAck(id)
		}
		return h.admit(in.from, m)
	}

	if !known {
		util.LogDebug("ignored %T from unknown sender %s", in.msg, in.from)
		util.Stats.AddDropped()
		return nil
	}

	rec := h.table.Record(id)
	switch m := in.msg.(type) {
	case *protocol.UserInfo:
		if ParticipantID(m.ID) != id {
			util.LogDebug("participant %d sent user info for %d, ignored", id, m.ID)
			util.Stats.AddDropped()
			return nil
		}
		if rec.Status == StatusConnecting {
			h.sim.ApplyUserInfo(id, m.Info)
			h.table.SetStatus(id, StatusWaiting)
			util.LogInfo("participant %d sent user info", id)
		}
		return h.link.send(rec.Addr, &protocol.UserInfoAck{ID: m.ID})

	case *protocol.UserInfoAck:
		subject := ParticipantID(m.ID)
		if rec.Status >= StatusWaiting && h.hasUserInfo(subject) {
			h.table.MarkInfoAcked(id, subject)
		}

	case *protocol.GameInfoAck:
		if rec.Status >= StatusWaiting {
			rec.HasGameInfo = true
		}

	case *protocol.Heartbeat:
		// Liveness only.

	case *protocol.Disconnect, *protocol.Exit:
		return h.remove(id, "left the lobby")

	default:
		util.Stats.AddDropped()
	}
	return nil
}

// handleLate answers packets that arrive after Go: unknown senders learn the
// game is running, known ones that are still in the lobby get Go again.
func (h *Host) handleLate(in inbound) error {
	if in.reset {
		return nil
	}
	id, known := h.table.FindByAddr(in.from)

	switch in.msg.(type) {
	case *protocol.Exit, *protocol.Disconnect:
		return nil
	case *protocol.Connect:
		if !known {
			reason, _ := h.admission(in.from, in.msg.(*protocol.Connect))
			return h.link.send(in.from, &protocol.Rejection{Reason: reason})
		}
	}
	if !known {
		return nil
	}
	return h.link.send(h.table.Record(id).Addr, &protocol.Go{NetMode: h.session.NetMode})
}

// admission applies the connect checks in order; the first failure wins.
func (h *Host) admission(from netip.AddrPort, m *protocol.Connect) (protocol.Command, bool) {
	switch {
	case h.bans.Banned(from.Addr()):
		return protocol.CmdBanned, false
	case m.Version != h.cfg.Version:
		return protocol.CmdWrongEngine, false
	case h.table.Count() >= h.cfg.MaxClients:
		return protocol.CmdFull, false
	case h.started:
		return protocol.CmdInProgress, false
	case h.cfg.Password != "" && m.Password != h.cfg.Password:
		return protocol.CmdWrongPassword, false
	}
	return 0, true
}

func (h *Host) admit(from netip.AddrPort, m *protocol.Connect) error {
	reason, ok := h.admission(from, m)
	if !ok {
		util.LogWarning("refused connect from %s: %s", from, reason)
		return h.link.send(from, &protocol.Rejection{Reason: reason})
	}

	id, ok := h.table.LowestFree()
	if !ok {
		return h.link.send(from, &protocol.Rejection{Reason: protocol.CmdFull})
	}

	// Everyone who was ready must now learn about the newcomer.
	for _, other := range h.guests() {
		if h.table.Record(other).Status == StatusReady {
			h.table.SetStatus(other, StatusWaiting)
		}
	}
	h.table.Add(id, from, StatusConnecting)
	util.LogInfo("got connect from %s, assigned participant %d", from, id)

	return h.sendConnectAck(id)
}

// remove frees id's slot and tells the remaining guests to forget it.
func (h *Host) remove(id ParticipantID, why string) error {
	if id == HostID {
		return nil
	}
	util.LogInfo("participant %d %s", id, why)
	h.table.Clear(id)
	for _, other := range h.guests() {
		if err := h.link.send(h.table.Record(other).Addr, &protocol.Disconnect{ID: uint8(id)}); err != nil {
			return err
		}
	}
	return nil
}

// applyOperatorRequests drains kicks and bans. The removed participant gets a
// direct reply at its last address even though it is no longer tracked.
func (h *Host) applyOperatorRequests() error {
	if h.controls == nil {
		return nil
	}
	for _, id := range h.controls.TakeBans() {
		if err := h.evict(id, protocol.CmdBanned); err != nil {
			return err
		}
	}
	for _, id := range h.controls.TakeKicks() {
		if err := h.evict(id, protocol.CmdKicked); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) evict(id ParticipantID, reason protocol.Command) error {
	if id <= HostID || int(id) >= h.table.Size() || !h.table.Active(id) {
		util.LogWarning("cannot remove participant %d: no such guest", id)
		return nil
	}

	addr := h.table.Record(id).Addr
	if reason == protocol.CmdBanned {
		if err := h.bans.Add(addr.Addr()); err != nil {
			util.LogError("failed to record ban for %s: %v", addr.Addr(), err)
		}
	}
	if err := h.remove(id, "was removed by the operator ("+reason.String()+")"); err != nil {
		return err
	}
	return h.link.send(addr, &protocol.Rejection{Reason: reason})
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (h *Host) broadcast() error {
	for _, id := range h.guests() {
		rec := h.table.Record(id)

		var err error
		switch rec.Status {
		case StatusConnecting:
			err = h.sendConnectAck(id)
		case StatusWaiting:
			err = h.advance(id)
		case StatusReady:
			err = h.link.send(rec.Addr, &protocol.Heartbeat{
				Connected:  uint8(h.table.Count()),
				MaxClients: uint8(h.cfg.MaxClients),
			})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// advance sends a waiting guest whatever it still lacks and promotes it to
// Ready once nothing was needed.
func (h *Host) advance(id ParticipantID) error {
	rec := h.table.Record(id)
	pending := false

	if !h.table.InfoAcked(id, id) {
		pending = true
		if err := h.link.send(rec.Addr, &protocol.UserInfoAck{ID: uint8(id)}); err != nil {
			return err
		}
	}

	if !rec.HasGameInfo {
		pending = true
		if err := h.link.send(rec.Addr, &protocol.GameInfo{
			TicDup: uint8(h.cfg.TicDup),
			Info:   h.sim.SerializeGameInfo(),
		}); err != nil {
			return err
		}
	}

	for _, other := range h.table.Clients() {
		if other == id || h.table.InfoAcked(id, other) {
			continue
		}
		pending = true
		if !h.hasUserInfo(other) {
			continue
		}
		if err := h.link.send(rec.Addr, h.userInfo(other)); err != nil {
			return err
		}
	}

	if !pending {
		h.table.SetStatus(id, StatusReady)
		util.LogInfo("participant %d is ready", id)
	}
	return nil
}

func (h *Host) sendConnectAck(id ParticipantID) error {
	return h.link.send(h.table.Record(id).Addr, &protocol.ConnectAck{
		ID:         uint8(id),
		Connected:  uint8(h.table.Count()),
		MaxClients: uint8(h.cfg.MaxClients),
	})
}

// hasUserInfo reports whether the host holds id's user info.
func (h *Host) hasUserInfo(id ParticipantID) bool {
	if id == HostID {
		return true
	}
	return int(id) < h.table.Size() && h.table.Active(id) && h.table.Record(id).Status >= StatusWaiting
}

func (h *Host) userInfo(id ParticipantID) *protocol.UserInfo {
	msg := &protocol.UserInfo{ID: uint8(id), Info: h.sim.SerializeUserInfo(id)}
	if id != HostID {
		msg.Addr = h.table.Record(id).Addr
	}
	return msg
}

// roster lists the active participants. The host's own entry has no address.
func (h *Host) roster() []Participant {
	ids := h.table.Clients()
	out := make([]Participant, len(ids))
	for i, id := range ids {
		out[i] = Participant{ID: id, Addr: h.table.Record(id).Addr}
	}
	return out
}

func (h *Host) guests() []ParticipantID {
	return slices.DeleteFunc(h.table.Clients(), func(id ParticipantID) bool {
		return id == HostID
	})
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

func (h *Host) readyToStart() bool {
	for _, id := range h.table.Clients() {
		if h.table.Record(id).Status != StatusReady {
			return false
		}
	}
	if h.table.Count() >= h.cfg.MaxClients {
		return true
	}
	return h.controls != nil && h.controls.ForceStart()
}

func (h *Host) start() error {
	h.started = true
	mode := h.chooseNetMode()

	participants := make([]Participant, 0, h.table.Count())
	for _, id := range h.table.Clients() {
		participants = append(participants, Participant{ID: id, Addr: h.table.Record(id).Addr})
	}
	h.session = &Session{
		GameID:       h.cfg.GameID,
		LocalID:      HostID,
		Participants: participants,
		NetMode:      mode,
		TicDup:       h.cfg.TicDup,
		Networked:    len(participants) > 1,
	}

	for _, id := range h.guests() {
		if err := h.link.repeat(goRepeat, h.table.Record(id).Addr, &protocol.Go{NetMode: mode}); err != nil {
			return err
		}
	}

	util.LogSuccess("all %d participants ready, starting in %s mode", len(participants), mode)
	return nil
}

// chooseNetMode picks packet-server unless the game is small or every guest
// seems to be on one private network. With two players packet-server is
// peer-to-peer with larger packets, so it is never worth it.
func (h *Host) chooseNetMode() protocol.NetMode {
	if h.cfg.ForceNetMode {
		return h.cfg.NetMode
	}
	if h.table.Count() < 3 {
		return protocol.PeerToPeer
	}

	var addrs []netip.Addr
	for _, id := range h.guests() {
		addrs = append(addrs, h.table.Record(id).Addr.Addr())
	}
	if netaddr.AllSameNetwork(addrs) {
		return protocol.PeerToPeer
	}
	return protocol.PacketServer
}
