package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// ErrMalformed is returned by Unmarshal for any packet that does not parse.
var ErrMalformed = errors.New("malformed packet")

// EndpointSize is the size of an encoded endpoint inside a UserInfo packet.
const EndpointSize = 16

const afInet = 2

// Message is one pregame packet variant. Marshal produces the logical packet
// (before compression) and Unmarshal parses one.
type Message interface {
	// Command returns the setup sub-command, or CmdConnect for Exit, which
	// carries none.
	Command() Command
	appendPayload(b []byte) []byte
	decodePayload(p []byte) error
}

// Connect is sent by a guest without an id until the host answers.
type Connect struct {
	Version  Version
	Password string
}

// ConnectAck tells a guest its id and how full the lobby is.
type ConnectAck struct {
	ID         uint8
	Connected  uint8
	MaxClients uint8
}

// Disconnect announces that participant ID has left the lobby.
type Disconnect struct {
	ID uint8
}

// UserInfo carries one participant's serialized user info. The host fills
// Addr when relaying another guest's info; it is left zero otherwise.
type UserInfo struct {
	ID   uint8
	Addr netip.AddrPort
	Info []byte
}

// UserInfoAck confirms that the sender holds participant ID's user info.
type UserInfoAck struct {
	ID uint8
}

// GameInfo carries the tic duplication factor and the serialized game info.
type GameInfo struct {
	TicDup uint8
	Info   []byte
}

// GameInfoAck confirms receipt of GameInfo.
type GameInfoAck struct{}

// Go starts the game with the negotiated network mode.
type Go struct {
	NetMode NetMode
}

// Heartbeat keeps NAT mappings open and carries lobby progress.
type Heartbeat struct {
	Connected  uint8
	MaxClients uint8
}

// Rejection is one of the payload-less refusals (Full, InProgress,
// WrongPassword, WrongEngine, InvalidFiles, Kicked, Banned).
type Rejection struct {
	Reason Command
}

// Exit is the bare NCMD_EXIT datagram: byte 0 is FlagExit and nothing follows.
type Exit struct{}

func (Connect) Command() Command     { return CmdConnect }
func (ConnectAck) Command() Command  { return CmdConnectAck }
func (Disconnect) Command() Command  { return CmdDisconnect }
func (UserInfo) Command() Command    { return CmdUserInfo }
func (UserInfoAck) Command() Command { return CmdUserInfoAck }
func (GameInfo) Command() Command    { return CmdGameInfo }
func (GameInfoAck) Command() Command { return CmdGameInfoAck }
func (Go) Command() Command          { return CmdGo }
func (Heartbeat) Command() Command   { return CmdHeartbeat }
func (r Rejection) Command() Command { return r.Reason }
func (Exit) Command() Command        { return CmdConnect }

// Marshal builds the logical packet for msg.
func Marshal(msg Message) []byte {
	if _, ok := msg.(*Exit); ok {
		return []byte{FlagExit}
	}
	b := make([]byte, 2, 64)
	b[0] = FlagSetup
	b[1] = byte(msg.Command())
	return msg.appendPayload(b)
}

// Unmarshal parses a logical packet. Packets without FlagSetup (other than
// a bare Exit) and unknown sub-commands are ErrMalformed.
func Unmarshal(pkt []byte) (Message, error) {
	if len(pkt) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	flags := pkt[0]
	if flags&FlagExit != 0 && flags&FlagSetup == 0 {
		return &Exit{}, nil
	}
	if flags&FlagSetup == 0 {
		return nil, fmt.Errorf("%w: not a setup packet (flags %#02x)", ErrMalformed, flags)
	}
	if len(pkt) < 2 {
		return nil, fmt.Errorf("%w: missing sub-command", ErrMalformed)
	}

	var msg Message
	cmd := Command(pkt[1])
	switch cmd {
	case CmdConnect:
		msg = &Connect{}
	case CmdConnectAck:
		msg = &ConnectAck{}
	case CmdDisconnect:
		msg = &Disconnect{}
	case CmdUserInfo:
		msg = &UserInfo{}
	case CmdUserInfoAck:
		msg = &UserInfoAck{}
	case CmdGameInfo:
		msg = &GameInfo{}
	case CmdGameInfoAck:
		msg = &GameInfoAck{}
	case CmdGo:
		msg = &Go{}
	case CmdHeartbeat:
		msg = &Heartbeat{}
	default:
		if !cmd.IsRejection() {
			return nil, fmt.Errorf("%w: unknown sub-command %d", ErrMalformed, cmd)
		}
		msg = &Rejection{Reason: cmd}
	}

	if err := msg.decodePayload(pkt[2:]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, cmd, err)
	}
	return msg, nil
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

func needLen(p []byte, n int) error {
	if len(p) < n {
		return fmt.Errorf("payload is %d bytes, need %d", len(p), n)
	}
	return nil
}

func (m Connect) appendPayload(b []byte) []byte {
	b = append(b, m.Version.Major, m.Version.Minor, m.Version.Revision)
	b = append(b, m.Password...)
	return append(b, 0)
}

func (m *Connect) decodePayload(p []byte) error {
	if err := needLen(p, 4); err != nil {
		return err
	}
	m.Version = Version{Major: p[0], Minor: p[1], Revision: p[2]}
	pw := p[3:]
	end := bytes.IndexByte(pw, 0)
	if end < 0 {
		return errors.New("password is not NUL-terminated")
	}
	if end > MaxPasswordLen {
		return fmt.Errorf("password is %d bytes", end)
	}
	m.Password = string(pw[:end])
	return nil
}

func (m ConnectAck) appendPayload(b []byte) []byte {
	return append(b, m.ID, m.Connected, m.MaxClients)
}

func (m *ConnectAck) decodePayload(p []byte) error {
	if err := needLen(p, 3); err != nil {
		return err
	}
	m.ID, m.Connected, m.MaxClients = p[0], p[1], p[2]
	return nil
}

func (m Disconnect) appendPayload(b []byte) []byte {
	return append(b, m.ID)
}

func (m *Disconnect) decodePayload(p []byte) error {
	if err := needLen(p, 1); err != nil {
		return err
	}
	m.ID = p[0]
	return nil
}

func (m UserInfo) appendPayload(b []byte) []byte {
	b = append(b, m.ID)
	if ep, ok := encodeEndpoint(m.Addr); ok {
		b = append(b, 1)
		b = append(b, ep[:]...)
	} else {
		b = append(b, 0)
	}
	return append(b, m.Info...)
}

func (m *UserInfo) decodePayload(p []byte) error {
	if err := needLen(p, 2); err != nil {
		return err
	}
	m.ID = p[0]
	rest := p[2:]
	switch p[1] {
	case 0:
		m.Addr = netip.AddrPort{}
	case 1:
		if err := needLen(rest, EndpointSize); err != nil {
			return err
		}
		addr, err := decodeEndpoint(rest[:EndpointSize])
		if err != nil {
			return err
		}
		m.Addr = addr
		rest = rest[EndpointSize:]
	default:
		return fmt.Errorf("bad endpoint marker %d", p[1])
	}
	m.Info = append([]byte(nil), rest...)
	return nil
}

func (m UserInfoAck) appendPayload(b []byte) []byte {
	return append(b, m.ID)
}

func (m *UserInfoAck) decodePayload(p []byte) error {
	if err := needLen(p, 1); err != nil {
		return err
	}
	m.ID = p[0]
	return nil
}

func (m GameInfo) appendPayload(b []byte) []byte {
	b = append(b, m.TicDup)
	return append(b, m.Info...)
}

func (m *GameInfo) decodePayload(p []byte) error {
	if err := needLen(p, 1); err != nil {
		return err
	}
	m.TicDup = p[0]
	m.Info = append([]byte(nil), p[1:]...)
	return nil
}

func (GameInfoAck) appendPayload(b []byte) []byte { return b }
func (*GameInfoAck) decodePayload([]byte) error   { return nil }

func (m Go) appendPayload(b []byte) []byte {
	return append(b, byte(m.NetMode))
}

func (m *Go) decodePayload(p []byte) error {
	if err := needLen(p, 1); err != nil {
		return err
	}
	switch NetMode(p[0]) {
	case PeerToPeer, PacketServer:
		m.NetMode = NetMode(p[0])
	default:
		return fmt.Errorf("unknown net mode %d", p[0])
	}
	return nil
}

func (m Heartbeat) appendPayload(b []byte) []byte {
	return append(b, m.Connected, m.MaxClients)
}

func (m *Heartbeat) decodePayload(p []byte) error {
	if err := needLen(p, 2); err != nil {
		return err
	}
	m.Connected, m.MaxClients = p[0], p[1]
	return nil
}

func (Rejection) appendPayload(b []byte) []byte { return b }
func (*Rejection) decodePayload([]byte) error   { return nil }

func (Exit) appendPayload(b []byte) []byte { return b }
func (*Exit) decodePayload([]byte) error   { return nil }

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// encodeEndpoint lays out an IPv4 endpoint like a sockaddr_in. IPv6
// endpoints have no encoding and report false.
func encodeEndpoint(ap netip.AddrPort) ([EndpointSize]byte, bool) {
	var ep [EndpointSize]byte
	addr := ap.Addr().Unmap()
	if !ap.IsValid() || !addr.Is4() {
		return ep, false
	}
	binary.BigEndian.PutUint16(ep[0:2], afInet)
	binary.BigEndian.PutUint16(ep[2:4], ap.Port())
	a4 := addr.As4()
	copy(ep[4:8], a4[:])
	return ep, true
}

func decodeEndpoint(ep []byte) (netip.AddrPort, error) {
	if fam := binary.BigEndian.Uint16(ep[0:2]); fam != afInet {
		return netip.AddrPort{}, fmt.Errorf("unsupported address family %d", fam)
	}
	port := binary.BigEndian.Uint16(ep[2:4])
	addr := netip.AddrFrom4([4]byte(ep[4:8]))
	return netip.AddrPortFrom(addr, port), nil
}
