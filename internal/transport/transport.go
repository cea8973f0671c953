// Package transport provides the datagram sockets the session controllers
// drain and write each tick.
package transport

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrWouldBlock is returned by ReadFrom when no datagram is queued.
var ErrWouldBlock = errors.New("no datagram queued")

// ErrClosed is returned by operations on a closed socket.
var ErrClosed = errors.New("socket closed")

// ResetError reports that the remote end at Addr refused a datagram
// (ICMP port unreachable surfacing as ECONNRESET). Addr is zero when the
// platform does not say which peer it was.
type ResetError struct {
	Addr netip.AddrPort
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("connection reset by %s", e.Addr)
}

// Socket is a non-blocking datagram endpoint. ReadFrom never waits: it
// returns ErrWouldBlock when the queue is empty.
type Socket interface {
	ReadFrom(buf []byte) (int, netip.AddrPort, error)
	WriteTo(b []byte, addr netip.AddrPort) error
	LocalAddr() netip.AddrPort
	Close() error
}
