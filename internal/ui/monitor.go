package ui

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/pregame/internal/session"
	"github.com/1ureka/pregame/internal/util"
)

// MessageType identifies a monitor message.
type MessageType string

const (
	MsgProgress MessageType = "progress" // host -> operator
	MsgKick     MessageType = "kick"     // operator -> host
	MsgBan      MessageType = "ban"
	MsgStart    MessageType = "start"
	MsgAbort    MessageType = "abort"
)

// Message is the JSON structure exchanged with the operator. Progress
// messages carry the lobby's participants so kick and ban requests can name
// an id.
type Message struct {
	Type         MessageType `json:"type"`
	ID           int         `json:"id,omitempty"`
	Current      int         `json:"current"`
	Total        int         `json:"total"`
	Participants []Entry     `json:"participants,omitempty"`
}

// Entry is one participant as shown to the operator. Addr is empty for the
// host itself.
type Entry struct {
	ID   int    `json:"id"`
	Addr string `json:"addr,omitempty"`
}

const writeTimeout = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Monitor is a WebSocket operator console for a hosted lobby. It shows
// progress and relays kick, ban, force-start and abort requests. Only one
// operator is connected at a time.
type Monitor struct {
	pin      string
	listener net.Listener

	mu      sync.Mutex
	conn    *websocket.Conn
	kicks   []session.ParticipantID
	bans    []session.ParticipantID
	start   bool
	abort   bool
	current int
	total   int
	roster  []session.Participant

	wmu sync.Mutex // serializes writes to conn
}

var (
	_ session.UI             = (*Monitor)(nil)
	_ session.Controls       = (*Monitor)(nil)
	_ session.RosterReporter = (*Monitor)(nil)
)

// NewMonitor creates a monitor that accepts operators presenting pin.
func NewMonitor(pin string) *Monitor {
	return &Monitor{pin: pin}
}

// Start listens on addr (":0" picks a port) and returns the port.
func (m *Monitor) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start monitor: %w", err)
	}
	m.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return port, nil
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("pin") != m.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
		return
	}
	m.conn = conn
	snapshot := m.progressLocked()
	m.mu.Unlock()

	util.LogInfo("operator connected from %s", r.RemoteAddr)
	m.write(conn, snapshot)
	m.watch(conn)
}

// watch applies operator requests until the connection drops.
func (m *Monitor) watch(conn *websocket.Conn) {
	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		conn.Close()
		util.LogInfo("operator disconnected")
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				util.LogDebug("monitor read failed: %v", err)
			}
			return
		}

		m.mu.Lock()
		switch msg.Type {
		case MsgKick:
			m.kicks = append(m.kicks, session.ParticipantID(msg.ID))
		case MsgBan:
			m.bans = append(m.bans, session.ParticipantID(msg.ID))
		case MsgStart:
			m.start = true
		case MsgAbort:
			m.abort = true
		default:
			util.LogWarning("unknown operator request %q", msg.Type)
		}
		m.mu.Unlock()
	}
}

func (m *Monitor) write(conn *websocket.Conn, msg Message) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		util.LogDebug("monitor write failed: %v", err)
	}
}

// ReportProgress forwards lobby progress to the operator when it changes.
func (m *Monitor) ReportProgress(current, total int) {
	m.mu.Lock()
	changed := current != m.current || total != m.total
	m.current, m.total = current, total
	m.pushLocked(changed)
}

// ReportRoster forwards the participant list to the operator when it changes.
func (m *Monitor) ReportRoster(participants []session.Participant) {
	m.mu.Lock()
	changed := !slices.Equal(participants, m.roster)
	m.roster = slices.Clone(participants)
	m.pushLocked(changed)
}

// pushLocked sends the current progress if changed and unlocks m.mu.
func (m *Monitor) pushLocked(changed bool) {
	conn, msg := m.conn, m.progressLocked()
	m.mu.Unlock()

	if changed && conn != nil {
		m.write(conn, msg)
	}
}

func (m *Monitor) progressLocked() Message {
	msg := Message{Type: MsgProgress, Current: m.current, Total: m.total}
	for _, p := range m.roster {
		e := Entry{ID: int(p.ID)}
		if p.Addr.IsValid() {
			e.Addr = p.Addr.String()
		}
		msg.Participants = append(msg.Participants, e)
	}
	return msg
}

// PollAbort reports whether the operator asked to abort.
func (m *Monitor) PollAbort() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abort
}

func (m *Monitor) TakeKicks() []session.ParticipantID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.kicks
	m.kicks = nil
	return out
}

func (m *Monitor) TakeBans() []session.ParticipantID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.bans
	m.bans = nil
	return out
}

// ForceStart reports whether the operator asked to start without a full
// lobby. The request stays in effect once made.
func (m *Monitor) ForceStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start
}

// Close shuts down the listener and drops the operator.
func (m *Monitor) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
