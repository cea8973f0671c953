package session

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/1ureka/pregame/internal/protocol"
	"github.com/1ureka/pregame/internal/transport"
)

// Compile-time interface checks.
var (
	_ Simulation     = (*fakeSim)(nil)
	_ Controls       = (*fakeControls)(nil)
	_ RosterReporter = (*fakeControls)(nil)
	_ Controller     = (*Host)(nil)
	_ Controller     = (*Guest)(nil)
)

// fakeSim records what the handshake applied.
type fakeSim struct {
	name      string
	userInfo  map[ParticipantID][]byte
	applied   map[ParticipantID]int
	gameInfo  []byte
	gameTimes int
}

func newFakeSim(name string) *fakeSim {
	return &fakeSim{
		name:     name,
		userInfo: make(map[ParticipantID][]byte),
		applied:  make(map[ParticipantID]int),
	}
}

func (s *fakeSim) SerializeUserInfo(id ParticipantID) []byte {
	if info, ok := s.userInfo[id]; ok {
		return info
	}
	return []byte(`\name\` + s.name)
}

func (s *fakeSim) ApplyUserInfo(id ParticipantID, info []byte) {
	s.userInfo[id] = append([]byte(nil), info...)
	s.applied[id]++
}

func (s *fakeSim) SerializeGameInfo() []byte { return []byte("map01;seed=7") }

func (s *fakeSim) ApplyGameInfo(info []byte) {
	s.gameInfo = append([]byte(nil), info...)
	s.gameTimes++
}

// fakeControls hands out queued operator requests once.
type fakeControls struct {
	kicks, bans []ParticipantID
	start       bool
	roster      []Participant
}

func (c *fakeControls) ReportRoster(participants []Participant) { c.roster = participants }

func (c *fakeControls) TakeKicks() []ParticipantID {
	out := c.kicks
	c.kicks = nil
	return out
}

func (c *fakeControls) TakeBans() []ParticipantID {
	out := c.bans
	c.bans = nil
	return out
}

func (c *fakeControls) ForceStart() bool { return c.start }

var hostAddr = netip.MustParseAddrPort("10.0.0.1:5029")

func guestAddr(n int) netip.AddrPort {
	return netip.MustParseAddrPort(fmt.Sprintf("10.0.0.%d:5029", n+1))
}

func testHostConfig(maxClients int) HostConfig {
	return HostConfig{
		GameID:     "doom2",
		MaxClients: maxClients,
		TicDup:     1,
		Version:    protocol.CurrentVersion,
	}
}

// encode returns the datagram a peer would send for msg.
func encode(t *testing.T, msg protocol.Message) []byte {
	t.Helper()
	wire, err := protocol.NewCodec().Encode(protocol.Marshal(msg))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return wire
}

// sentTo decodes everything sock wrote to addr since the last call.
// Datagrams to other addresses are discarded.
func sentTo(t *testing.T, sock *transport.MemSocket, addr netip.AddrPort) []protocol.Message {
	t.Helper()
	return sentByAddr(t, sock)[addr]
}

// sentByAddr decodes everything sock wrote since the last call, grouped by
// destination.
func sentByAddr(t *testing.T, sock *transport.MemSocket) map[netip.AddrPort][]protocol.Message {
	t.Helper()
	codec := protocol.NewCodec()
	out := make(map[netip.AddrPort][]protocol.Message)
	for _, d := range sock.TakeSent() {
		pkt, err := codec.Decode(d.Data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		msg, err := protocol.Unmarshal(pkt)
		if err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		out[d.To] = append(out[d.To], msg)
	}
	return out
}

func commands(msgs []protocol.Message) []protocol.Command {
	out := make([]protocol.Command, len(msgs))
	for i, m := range msgs {
		out[i] = m.Command()
	}
	return out
}

func mustStep(t *testing.T, c Controller) bool {
	t.Helper()
	done, err := c.Step()
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	return done
}

// runAll steps every controller in turn until all are done or the tick
// budget runs out. It returns the first error by controller index.
func runAll(t *testing.T, ticks int, ctrls ...Controller) []error {
	t.Helper()
	errs := make([]error, len(ctrls))
	done := make([]bool, len(ctrls))

	for range ticks {
		finished := true
		for i, c := range ctrls {
			if errs[i] != nil {
				continue
			}
			ok, err := c.Step()
			errs[i] = err
			done[i] = ok
			if err == nil && !ok {
				finished = false
			}
		}
		if finished {
			return errs
		}
	}

	for i := range ctrls {
		if errs[i] == nil && !done[i] {
			t.Fatalf("controller %d did not finish within %d ticks", i, ticks)
		}
	}
	return errs
}
