package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"github.com/1ureka/pregame/internal/protocol"
)

const inboxSize = 256 // datagrams buffered between reads; extra ones are dropped

type datagram struct {
	data []byte
	addr netip.AddrPort
	err  error
}

// UDPSocket is a Socket over an IPv4 UDP port. A single reader goroutine
// moves datagrams from the kernel into an inbox; ReadFrom only polls the
// inbox, so the controller that owns the socket never blocks on it.
type UDPSocket struct {
	conn  *net.UDPConn
	inbox chan datagram

	closeOnce sync.Once
	done      chan struct{}
}

// ListenUDP binds an IPv4 UDP socket on port (0 picks a free port).
func ListenUDP(port int) (*UDPSocket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP port %d: %w", port, err)
	}

	s := &UDPSocket{
		conn:  conn,
		inbox: make(chan datagram, inboxSize),
		done:  make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

func (s *UDPSocket) readLoop() {
	buf := make([]byte, protocol.MaxTransmitSize)
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)

		var d datagram
		switch {
		case err == nil:
			d.data = make([]byte, n)
			copy(d.data, buf[:n])
			d.addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
		case errors.Is(err, syscall.ECONNRESET):
			d.err = &ResetError{Addr: addr}
		default:
			// Broken socket: report it once so the owner fails instead of
			// waiting forever. After Close nobody is listening.
			select {
			case <-s.done:
				return
			default:
			}
			select {
			case s.inbox <- datagram{err: err}:
			case <-s.done:
			}
			return
		}

		select {
		case s.inbox <- d:
		case <-s.done:
			return
		default:
			// Inbox full; the sender will repeat its state next tick.
		}
	}
}

// ReadFrom copies the next queued datagram into buf.
func (s *UDPSocket) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-s.inbox:
		if d.err != nil {
			return 0, netip.AddrPort{}, d.err
		}
		return copy(buf, d.data), d.addr, nil
	case <-s.done:
		return 0, netip.AddrPort{}, ErrClosed
	default:
		return 0, netip.AddrPort{}, ErrWouldBlock
	}
}

// WriteTo sends one datagram.
func (s *UDPSocket) WriteTo(b []byte, addr netip.AddrPort) error {
	_, err := s.conn.WriteToUDPAddrPort(b, addr)
	return err
}

// LocalAddr returns the bound address.
func (s *UDPSocket) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Close releases the port and stops the reader.
func (s *UDPSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
