package session

import (
	"errors"
	"net/netip"
	"slices"
	"testing"

	"github.com/1ureka/pregame/internal/bans"
	"github.com/1ureka/pregame/internal/protocol"
	"github.com/1ureka/pregame/internal/transport"
)

func newTestHost(t *testing.T, cfg HostConfig, opts ...HostOption) (*Host, *transport.MemSocket) {
	t.Helper()
	sock := transport.NewMemNetwork().Listen(hostAddr)
	return NewHost(cfg, sock, newFakeSim("host"), opts...), sock
}

// connect injects a Connect from addr and steps the host once.
func connect(t *testing.T, h *Host, sock *transport.MemSocket, addr netip.AddrPort, password string) []protocol.Message {
	t.Helper()
	sock.Inject(addr, encode(t, &protocol.Connect{Version: protocol.CurrentVersion, Password: password}))
	mustStep(t, h)
	return sentTo(t, sock, addr)
}

func TestHostAdmissionOrder(t *testing.T) {
	banned := netip.MustParseAddrPort("192.0.2.9:5029")

	testCases := []struct {
		name     string
		max      int
		password string
		from     netip.AddrPort
		version  protocol.Version
		given    string
		want     protocol.Command
	}{
		{
			name: "banned wins over everything",
			max:  1, password: "pw", from: banned,
			version: protocol.Version{Major: 1}, given: "nope",
			want: protocol.CmdBanned,
		},
		{
			name: "wrong engine before full",
			max:  1, from: guestAddr(1),
			version: protocol.Version{Major: 1},
			want:    protocol.CmdWrongEngine,
		},
		{
			name: "full before password",
			max:  1, password: "pw", from: guestAddr(1),
			version: protocol.CurrentVersion, given: "nope",
			want: protocol.CmdFull,
		},
		{
			name: "wrong password",
			max:  4, password: "pw", from: guestAddr(1),
			version: protocol.CurrentVersion, given: "nope",
			want: protocol.CmdWrongPassword,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bl := bans.NewMemory()
			bl.Add(banned.Addr())

			cfg := testHostConfig(tc.max)
			cfg.Password = tc.password
			h, sock := newTestHost(t, cfg, WithBanList(bl))

			sock.Inject(tc.from, encode(t, &protocol.Connect{Version: tc.version, Password: tc.given}))
			mustStep(t, h)

			got := commands(sentTo(t, sock, tc.from))
			if !slices.Equal(got, []protocol.Command{tc.want}) {
				t.Fatalf("replies = %v, want exactly [%s]", got, tc.want)
			}
			if h.Table().Count() != 1 {
				t.Errorf("rejected sender got a record: %v", h.Table().Clients())
			}
		})
	}
}

func TestHostAdmitsWithLowestFreeID(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(4))

	for i := 1; i <= 3; i++ {
		msgs := connect(t, h, sock, guestAddr(i), "")
		if len(msgs) == 0 {
			t.Fatalf("guest %d got no reply", i)
		}
		ack, ok := msgs[0].(*protocol.ConnectAck)
		if !ok || ack.ID != uint8(i) || ack.MaxClients != 4 {
			t.Fatalf("guest %d got %#v", i, msgs[0])
		}
	}

	// Slot 2 leaves and the next newcomer takes it.
	sock.Inject(guestAddr(2), encode(t, &protocol.Disconnect{ID: 2}))
	mustStep(t, h)
	sock.TakeSent()

	msgs := connect(t, h, sock, netip.MustParseAddrPort("10.0.0.99:7000"), "")
	if ack := msgs[0].(*protocol.ConnectAck); ack.ID != 2 {
		t.Errorf("newcomer got id %d, want reused slot 2", ack.ID)
	}
}

func TestHostRepeatedConnectIsIdempotent(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(4))
	connect(t, h, sock, guestAddr(1), "")
	msgs := connect(t, h, sock, guestAddr(1), "")

	for _, m := range msgs {
		if ack, ok := m.(*protocol.ConnectAck); !ok || ack.ID != 1 {
			t.Fatalf("repeated connect got %#v, want ConnectAck{1}", m)
		}
	}
	if h.Table().Count() != 2 {
		t.Errorf("Count = %d, want 2", h.Table().Count())
	}
}

// bringToReady walks one guest through the handshake by hand.
func bringToReady(t *testing.T, h *Host, sock *transport.MemSocket, addr netip.AddrPort, id uint8) {
	t.Helper()
	connect(t, h, sock, addr, "")
	sock.Inject(addr, encode(t, &protocol.UserInfo{ID: id, Info: []byte(`\name\g`)}))
	mustStep(t, h)

	for _, m := range sentTo(t, sock, addr) {
		switch m := m.(type) {
		case *protocol.UserInfoAck:
			sock.Inject(addr, encode(t, &protocol.UserInfoAck{ID: m.ID}))
		case *protocol.UserInfo:
			sock.Inject(addr, encode(t, &protocol.UserInfoAck{ID: m.ID}))
		case *protocol.GameInfo:
			sock.Inject(addr, encode(t, &protocol.GameInfoAck{}))
		}
	}
	mustStep(t, h)
	sock.TakeSent()
}

func TestHostDemotesReadyGuestsOnAdmission(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(3))
	bringToReady(t, h, sock, guestAddr(1), 1)

	if got := h.Table().Record(1).Status; got != StatusReady {
		t.Fatalf("guest 1 is %s, want ready", got)
	}

	connect(t, h, sock, guestAddr(2), "")
	if got := h.Table().Record(1).Status; got != StatusWaiting {
		t.Fatalf("guest 1 is %s after a newcomer arrived, want waiting", got)
	}

	// The newcomer has not sent its info yet: guest 1 must wait for it.
	mustStep(t, h)
	if got := h.Table().Record(1).Status; got != StatusWaiting {
		t.Errorf("guest 1 promoted before learning the newcomer")
	}
	for _, m := range sentTo(t, sock, guestAddr(1)) {
		if ui, ok := m.(*protocol.UserInfo); ok && ui.ID == 2 {
			t.Error("relayed user info the host does not have yet")
		}
	}
}

func TestHostRelaysUserInfoWithAddress(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(3))
	bringToReady(t, h, sock, guestAddr(1), 1)

	connect(t, h, sock, guestAddr(2), "")
	sock.Inject(guestAddr(2), encode(t, &protocol.UserInfo{ID: 2, Info: []byte(`\name\two`)}))
	mustStep(t, h)

	var relayed *protocol.UserInfo
	for _, m := range sentTo(t, sock, guestAddr(1)) {
		if ui, ok := m.(*protocol.UserInfo); ok && ui.ID == 2 {
			relayed = ui
		}
	}
	if relayed == nil {
		t.Fatal("guest 1 was not told about guest 2")
	}
	if relayed.Addr != guestAddr(2) || string(relayed.Info) != `\name\two` {
		t.Errorf("relayed %+v", relayed)
	}
}

func TestHostAckBitsAreMonotone(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(4))
	bringToReady(t, h, sock, guestAddr(1), 1)
	before := h.Table().Record(1).InfoAck

	// Duplicate and stale acks change nothing.
	for range 3 {
		sock.Inject(guestAddr(1), encode(t, &protocol.UserInfoAck{ID: 0}))
		sock.Inject(guestAddr(1), encode(t, &protocol.UserInfoAck{ID: 1}))
	}
	// An ack for a slot nobody holds is ignored.
	sock.Inject(guestAddr(1), encode(t, &protocol.UserInfoAck{ID: 3}))
	mustStep(t, h)

	if after := h.Table().Record(1).InfoAck; after != before {
		t.Errorf("InfoAck changed from %#x to %#x", before, after)
	}
	if h.Table().Record(1).Status != StatusReady {
		t.Error("duplicate acks demoted a ready guest")
	}
}

func TestHostKickAndBan(t *testing.T) {
	bl := bans.NewMemory()
	controls := &fakeControls{}
	h, sock := newTestHost(t, testHostConfig(4), WithBanList(bl), WithControls(controls))

	connect(t, h, sock, guestAddr(1), "")
	connect(t, h, sock, guestAddr(2), "")
	connect(t, h, sock, guestAddr(3), "")

	controls.kicks = []ParticipantID{1}
	controls.bans = []ParticipantID{2}
	mustStep(t, h)

	for _, id := range []ParticipantID{1, 2} {
		if h.Table().Active(id) {
			t.Errorf("participant %d still active", id)
		}
	}

	if got := commands(sentTo(t, sock, guestAddr(1))); !slices.Contains(got, protocol.CmdKicked) {
		t.Errorf("kicked guest got %v", got)
	}
	if !bl.Banned(guestAddr(2).Addr()) {
		t.Error("banned guest's address not on the ban list")
	}

	// A banned address is refused even from a new port.
	msgs := connect(t, h, sock, netip.AddrPortFrom(guestAddr(2).Addr(), 6000), "")
	if got := commands(msgs); !slices.Equal(got, []protocol.Command{protocol.CmdBanned}) {
		t.Errorf("banned address reconnecting got %v", got)
	}
}

func TestHostReportsRoster(t *testing.T) {
	controls := &fakeControls{}
	h, sock := newTestHost(t, testHostConfig(4), WithControls(controls))
	connect(t, h, sock, guestAddr(1), "")
	connect(t, h, sock, guestAddr(2), "")

	want := []Participant{{ID: 0}, {ID: 1, Addr: guestAddr(1)}, {ID: 2, Addr: guestAddr(2)}}
	if !slices.Equal(controls.roster, want) {
		t.Fatalf("roster = %v, want %v", controls.roster, want)
	}

	sock.Inject(guestAddr(1), encode(t, &protocol.Disconnect{ID: 1}))
	mustStep(t, h)
	want = []Participant{{ID: 0}, {ID: 2, Addr: guestAddr(2)}}
	if !slices.Equal(controls.roster, want) {
		t.Errorf("roster after a departure = %v, want %v", controls.roster, want)
	}
}

func TestHostNotifiesDisconnect(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(4))
	connect(t, h, sock, guestAddr(1), "")
	connect(t, h, sock, guestAddr(2), "")

	sock.InjectReset(guestAddr(1))
	mustStep(t, h)

	if h.Table().Active(1) {
		t.Fatal("reset did not remove participant 1")
	}
	var told bool
	for _, m := range sentTo(t, sock, guestAddr(2)) {
		if d, ok := m.(*protocol.Disconnect); ok && d.ID == 1 {
			told = true
		}
	}
	if !told {
		t.Error("remaining guest was not told about the departure")
	}
}

func TestHostResets(t *testing.T) {
	testCases := []struct {
		name    string
		from    netip.AddrPort
		clients []ParticipantID
	}{
		{"no peer address", netip.AddrPort{}, []ParticipantID{0, 1, 2}},
		{"unknown peer", netip.MustParseAddrPort("198.51.100.7:5029"), []ParticipantID{0, 1, 2}},
		{"waiting guest", guestAddr(1), []ParticipantID{0, 2}},
		{"ready guest", guestAddr(2), []ParticipantID{0, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Slot 1 is waiting on acks, slot 2 is ready.
			h, sock := newTestHost(t, testHostConfig(4))
			connect(t, h, sock, guestAddr(1), "")
			sock.Inject(guestAddr(1), encode(t, &protocol.UserInfo{ID: 1, Info: []byte(`\name\one`)}))
			mustStep(t, h)
			bringToReady(t, h, sock, guestAddr(2), 2)
			if h.Table().Record(1).Status != StatusWaiting || h.Table().Record(2).Status != StatusReady {
				t.Fatalf("setup: statuses %s/%s", h.Table().Record(1).Status, h.Table().Record(2).Status)
			}

			sock.InjectReset(tc.from)
			mustStep(t, h)

			if got := h.Table().Clients(); !slices.Equal(got, tc.clients) {
				t.Fatalf("clients = %v, want %v", got, tc.clients)
			}
			sent := sentByAddr(t, sock)
			for _, id := range tc.clients[1:] {
				msgs := sent[guestAddr(int(id))]
				if len(msgs) == 0 {
					t.Errorf("guest %d got nothing after the reset", id)
				}
				for _, m := range msgs {
					if d, ok := m.(*protocol.Disconnect); ok && d.ID == uint8(HostID) {
						t.Errorf("guest %d was told the host left", id)
					}
				}
			}
		})
	}
}

func TestHostAloneSurvivesAnonymousReset(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(4))

	sock.InjectReset(netip.AddrPort{})
	mustStep(t, h)
	h.Abort()

	if !h.Table().Active(HostID) || h.Table().Count() != 1 {
		t.Errorf("clients = %v, want only the host", h.Table().Clients())
	}
}

func TestHostIgnoresUnknownSenders(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(4))
	stranger := netip.MustParseAddrPort("198.51.100.1:9")

	sock.Inject(stranger, encode(t, &protocol.UserInfo{ID: 1, Info: []byte("x")}))
	sock.Inject(stranger, encode(t, &protocol.Heartbeat{}))
	sock.Inject(stranger, []byte{0xff, 0x00})
	mustStep(t, h)

	if msgs := sentTo(t, sock, stranger); len(msgs) != 0 {
		t.Errorf("unknown sender got replies: %v", commands(msgs))
	}
	if h.Table().Count() != 1 {
		t.Error("unknown sender created a record")
	}
}

func TestHostLatePackets(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(2))
	bringToReady(t, h, sock, guestAddr(1), 1)

	if !h.started {
		mustStep(t, h)
	}
	if !h.started {
		t.Fatal("host did not start with a full ready lobby")
	}
	sock.TakeSent()

	late := netip.MustParseAddrPort("10.0.0.50:5029")
	sock.Inject(late, encode(t, &protocol.Connect{Version: protocol.CurrentVersion}))
	sock.Inject(guestAddr(1), encode(t, &protocol.Heartbeat{}))
	if !mustStep(t, h) {
		t.Fatal("started host reported not done")
	}

	// Full is checked before InProgress; the lobby of two is full.
	if got := commands(sentTo(t, sock, late)); !slices.Equal(got, []protocol.Command{protocol.CmdFull}) {
		t.Errorf("late connect got %v", got)
	}
	sock.Inject(guestAddr(1), encode(t, &protocol.Heartbeat{}))
	mustStep(t, h)
	if got := commands(sentTo(t, sock, guestAddr(1))); !slices.Equal(got, []protocol.Command{protocol.CmdGo}) {
		t.Errorf("straggler got %v, want Go", got)
	}
}

func TestHostForceStartNotFull(t *testing.T) {
	controls := &fakeControls{}
	h, sock := newTestHost(t, testHostConfig(4), WithControls(controls))
	bringToReady(t, h, sock, guestAddr(1), 1)

	if mustStep(t, h) {
		t.Fatal("host started without a full lobby or a force start")
	}
	controls.start = true
	if !mustStep(t, h) {
		t.Fatal("force start did not start a ready lobby")
	}

	s := h.Session()
	if !slices.Equal(s.IDs(), []ParticipantID{0, 1}) || !s.Networked || s.NetMode != protocol.PeerToPeer {
		t.Errorf("session = %+v", s)
	}
	gos := 0
	for _, m := range sentTo(t, sock, guestAddr(1)) {
		if m.Command() == protocol.CmdGo {
			gos++
		}
	}
	if gos != goRepeat {
		t.Errorf("sent Go %d times, want %d", gos, goRepeat)
	}
}

func TestHostForceStartAloneIsSolo(t *testing.T) {
	controls := &fakeControls{start: true}
	h, _ := newTestHost(t, testHostConfig(4), WithControls(controls))

	if !mustStep(t, h) {
		t.Fatal("force start with nobody connected did not start")
	}
	s := h.Session()
	if s.Networked || !slices.Equal(s.IDs(), []ParticipantID{0}) {
		t.Errorf("session = %+v, want a single non-networked participant", s)
	}
}

func TestHostNetMode(t *testing.T) {
	lan := []netip.AddrPort{
		netip.MustParseAddrPort("192.168.1.2:5029"),
		netip.MustParseAddrPort("192.168.1.3:5029"),
	}
	wan := []netip.AddrPort{
		netip.MustParseAddrPort("192.168.1.2:5029"),
		netip.MustParseAddrPort("203.0.113.3:5029"),
	}

	testCases := []struct {
		name   string
		guests []netip.AddrPort
		force  bool
		mode   protocol.NetMode
		want   protocol.NetMode
	}{
		{"two players always peer-to-peer", wan[:1], false, 0, protocol.PeerToPeer},
		{"one private network", lan, false, 0, protocol.PeerToPeer},
		{"mixed networks", wan, false, 0, protocol.PacketServer},
		{"forced mode wins", lan, true, protocol.PacketServer, protocol.PacketServer},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testHostConfig(len(tc.guests) + 1)
			cfg.ForceNetMode, cfg.NetMode = tc.force, tc.mode
			h, _ := newTestHost(t, cfg)
			for i, addr := range tc.guests {
				h.Table().Add(ParticipantID(i+1), addr, StatusReady)
			}
			if got := h.chooseNetMode(); got != tc.want {
				t.Errorf("chooseNetMode = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestHostAbortSendsExit(t *testing.T) {
	h, sock := newTestHost(t, testHostConfig(4))
	connect(t, h, sock, guestAddr(1), "")

	h.Abort()
	got := commands(sentTo(t, sock, guestAddr(1)))
	if len(got) != exitRepeat {
		t.Errorf("sent %d datagrams on abort, want %d", len(got), exitRepeat)
	}
}

// brokenSocket fails every read the way a dead UDP socket does.
type brokenSocket struct {
	transport.Socket
	err error
}

func (s brokenSocket) ReadFrom([]byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, s.err
}

func TestStepSurfacesSocketFailure(t *testing.T) {
	cause := errors.New("use of closed network connection")
	sock := brokenSocket{Socket: transport.NewMemNetwork().Listen(hostAddr), err: cause}

	testCases := []struct {
		name string
		c    Controller
	}{
		{"host", NewHost(testHostConfig(2), sock, newFakeSim("h"))},
		{"guest", NewGuest(GuestConfig{Host: hostAddr, Version: protocol.CurrentVersion}, sock, newFakeSim("g"))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.c.Step(); !errors.Is(err, cause) {
				t.Fatalf("Step returned %v, want the read failure", err)
			}
		})
	}
}
