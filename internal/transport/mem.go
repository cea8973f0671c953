package transport

import (
	"net/netip"
	"sync"
)

// LossFunc decides whether a datagram from one endpoint to another is lost.
type LossFunc func(from, to netip.AddrPort, data []byte) bool

// MemNetwork is an in-process datagram network. Delivery is immediate and in
// order unless a LossFunc drops the datagram.
type MemNetwork struct {
	mu    sync.Mutex
	socks map[netip.AddrPort]*MemSocket
	loss  LossFunc
}

// NewMemNetwork returns an empty network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{socks: make(map[netip.AddrPort]*MemSocket)}
}

// SetLoss installs fn as the loss model (nil delivers everything).
func (n *MemNetwork) SetLoss(fn LossFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loss = fn
}

// Listen attaches a socket at addr. Attaching twice to one address replaces
// the earlier socket.
func (n *MemNetwork) Listen(addr netip.AddrPort) *MemSocket {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := &MemSocket{net: n, addr: addr}
	n.socks[addr] = s
	return s
}

func (n *MemNetwork) deliver(from, to netip.AddrPort, b []byte) {
	n.mu.Lock()
	dst, ok := n.socks[to]
	loss := n.loss
	n.mu.Unlock()

	if !ok || (loss != nil && loss(from, to, b)) {
		return
	}

	data := make([]byte, len(b))
	copy(data, b)

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if !dst.closed {
		dst.queue = append(dst.queue, datagram{data: data, addr: from})
	}
}

// MemSocket is a Socket attached to a MemNetwork.
type MemSocket struct {
	net  *MemNetwork
	addr netip.AddrPort

	mu     sync.Mutex
	queue  []datagram
	sent   []Sent
	closed bool
}

// Sent records one datagram written through a MemSocket.
type Sent struct {
	To   netip.AddrPort
	Data []byte
}

// Inject queues a datagram as if from had sent it.
func (s *MemSocket) Inject(from netip.AddrPort, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, datagram{data: append([]byte(nil), b...), addr: from})
}

// InjectReset queues a connection-reset report for from.
func (s *MemSocket) InjectReset(from netip.AddrPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, datagram{err: &ResetError{Addr: from}})
}

// TakeSent returns and forgets everything written since the last call.
func (s *MemSocket) TakeSent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

func (s *MemSocket) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, netip.AddrPort{}, ErrClosed
	}
	if len(s.queue) == 0 {
		return 0, netip.AddrPort{}, ErrWouldBlock
	}

	d := s.queue[0]
	s.queue = s.queue[1:]
	if d.err != nil {
		return 0, netip.AddrPort{}, d.err
	}
	return copy(buf, d.data), d.addr, nil
}

func (s *MemSocket) WriteTo(b []byte, addr netip.AddrPort) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.sent = append(s.sent, Sent{To: addr, Data: append([]byte(nil), b...)})
	s.mu.Unlock()

	s.net.deliver(s.addr, addr, b)
	return nil
}

func (s *MemSocket) LocalAddr() netip.AddrPort { return s.addr }

func (s *MemSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.net.mu.Lock()
	if s.net.socks[s.addr] == s {
		delete(s.net.socks, s.addr)
	}
	s.net.mu.Unlock()
	return nil
}
