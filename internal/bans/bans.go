// Package bans holds the addresses a host refuses at the handshake. Entries
// are only ever added while a session is being set up.
package bans

import (
	"net/netip"
	"sync"
)

// Memory is a ban list that lives as long as the process.
type Memory struct {
	mu    sync.RWMutex
	addrs map[netip.Addr]struct{}
}

// NewMemory returns an empty in-memory ban list.
func NewMemory() *Memory {
	return &Memory{addrs: make(map[netip.Addr]struct{})}
}

// Banned reports whether addr is on the list.
func (m *Memory) Banned(addr netip.Addr) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.addrs[addr.Unmap()]
	return ok
}

// Add puts addr on the list.
func (m *Memory) Add(addr netip.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addrs[addr.Unmap()] = struct{}{}
	return nil
}

// List returns every banned address.
func (m *Memory) List() []netip.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]netip.Addr, 0, len(m.addrs))
	for a := range m.addrs {
		out = append(out, a)
	}
	return out
}
