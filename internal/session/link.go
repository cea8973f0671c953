package session

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/1ureka/pregame/internal/protocol"
	"github.com/1ureka/pregame/internal/transport"
	"github.com/1ureka/pregame/internal/util"
)

// link pairs a socket with its codec and does the per-datagram accounting.
type link struct {
	sock  transport.Socket
	codec *protocol.Codec
	buf   []byte
}

func newLink(sock transport.Socket) *link {
	return &link{
		sock:  sock,
		codec: protocol.NewCodec(),
		buf:   make([]byte, protocol.MaxTransmitSize),
	}
}

type inbound struct {
	from  netip.AddrPort
	msg   protocol.Message
	reset bool // the socket reported a connection reset from `from`
}

// send encodes msg and writes it to addr. Only encoding failures are
// returned; a datagram the OS refuses is as good as lost.
func (l *link) send(addr netip.AddrPort, msg protocol.Message) error {
	wire, err := l.codec.Encode(protocol.Marshal(msg))
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", msg, err)
	}
	if len(wire) > 0 && wire[0]&protocol.FlagCompressed != 0 {
		util.Stats.AddCompressed()
	}
	if err := l.sock.WriteTo(wire, addr); err != nil {
		util.LogDebug("send %T to %s failed: %v", msg, addr, err)
		return nil
	}
	util.Stats.AddSent(len(wire))
	return nil
}

// next returns the next well-formed inbound message. ok is false once the
// socket queue is empty. Datagrams that do not decode are counted and
// skipped.
func (l *link) next() (inbound, bool, error) {
	for {
		n, from, err := l.sock.ReadFrom(l.buf)
		if err != nil {
			var reset *transport.ResetError
			switch {
			case errors.Is(err, transport.ErrWouldBlock):
				return inbound{}, false, nil
			case errors.As(err, &reset):
				return inbound{from: reset.Addr, reset: true}, true, nil
			default:
				return inbound{}, false, fmt.Errorf("socket read failed: %w", err)
			}
		}
		util.Stats.AddRecv(n)

		pkt, err := l.codec.Decode(l.buf[:n])
		if err != nil {
			util.LogDebug("dropped datagram from %s: %v", from, err)
			util.Stats.AddDropped()
			continue
		}
		msg, err := protocol.Unmarshal(pkt)
		if err != nil {
			util.LogDebug("dropped datagram from %s: %v", from, err)
			util.Stats.AddDropped()
			continue
		}
		return inbound{from: from, msg: msg}, true, nil
	}
}

// repeat sends msg to addr n times; used where no later tick will resend.
func (l *link) repeat(n int, addr netip.AddrPort, msg protocol.Message) error {
	for range n {
		if err := l.send(addr, msg); err != nil {
			return err
		}
	}
	return nil
}
