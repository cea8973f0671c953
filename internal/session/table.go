package session

import (
	"net/netip"
	"slices"
)

// Record is the host's view of one participant.
type Record struct {
	Status      Status
	Addr        netip.AddrPort
	InfoAck     uint64 // bit n set: this participant holds participant n's user info
	HasGameInfo bool
}

// Table holds one Record per participant slot plus the ordered set of active
// ids. It is owned by a single controller and is not safe for concurrent use.
type Table struct {
	records []Record
	clients []ParticipantID // ascending, so iteration order is reproducible
}

// NewTable returns a table with size slots, all None.
func NewTable(size int) *Table {
	return &Table{records: make([]Record, size)}
}

// Size returns the number of slots.
func (t *Table) Size() int { return len(t.records) }

// Count returns the number of active participants.
func (t *Table) Count() int { return len(t.clients) }

// Record returns the record for id. The pointer stays valid for the table's
// lifetime.
func (t *Table) Record(id ParticipantID) *Record {
	return &t.records[id]
}

// Clients returns the active ids in ascending order.
func (t *Table) Clients() []ParticipantID {
	return slices.Clone(t.clients)
}

// Active reports whether id is in use.
func (t *Table) Active(id ParticipantID) bool {
	_, found := slices.BinarySearch(t.clients, id)
	return found
}

// Add activates id at addr with the given status.
func (t *Table) Add(id ParticipantID, addr netip.AddrPort, status Status) {
	i, found := slices.BinarySearch(t.clients, id)
	if !found {
		t.clients = slices.Insert(t.clients, i, id)
	}
	t.records[id] = Record{Status: status, Addr: addr}
}

// Clear frees id's slot and withdraws every ack that referred to it.
func (t *Table) Clear(id ParticipantID) {
	if i, found := slices.BinarySearch(t.clients, id); found {
		t.clients = slices.Delete(t.clients, i, i+1)
	}
	t.records[id] = Record{}
	for i := range t.records {
		t.records[i].InfoAck &^= bit(id)
	}
}

// SetStatus moves id to status.
func (t *Table) SetStatus(id ParticipantID, status Status) {
	t.records[id].Status = status
}

// MarkInfoAcked records that id holds from's user info.
func (t *Table) MarkInfoAcked(id, from ParticipantID) {
	t.records[id].InfoAck |= bit(from)
}

// InfoAcked reports whether id holds from's user info.
func (t *Table) InfoAcked(id, from ParticipantID) bool {
	return t.records[id].InfoAck&bit(from) != 0
}

// AllRequiredAcks reports whether id has acked every participant in active,
// itself included.
func (t *Table) AllRequiredAcks(id ParticipantID, active []ParticipantID) bool {
	for _, other := range active {
		if !t.InfoAcked(id, other) {
			return false
		}
	}
	return true
}

// FindByAddr returns the active participant at addr. The host's own record
// has no address, so an invalid addr never matches.
func (t *Table) FindByAddr(addr netip.AddrPort) (ParticipantID, bool) {
	if !addr.IsValid() {
		return Unassigned, false
	}
	for _, id := range t.clients {
		if t.records[id].Status != StatusNone && t.records[id].Addr == addr {
			return id, true
		}
	}
	return Unassigned, false
}

// LowestFree returns the lowest unused guest slot.
func (t *Table) LowestFree() (ParticipantID, bool) {
	for id := 1; id < len(t.records); id++ {
		if !t.Active(ParticipantID(id)) {
			return ParticipantID(id), true
		}
	}
	return Unassigned, false
}

func bit(id ParticipantID) uint64 {
	return 1 << uint(id)
}
