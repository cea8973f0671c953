// Package protocol defines the pregame wire format: the flags byte, the setup
// sub-commands, the compression codec and the message variants exchanged
// while a session is being established.
package protocol

// Flag bits carried in byte 0 of every datagram.
const (
	FlagExit       byte = 0x80 // Participant is leaving (NCMD_EXIT)
	FlagRetransmit byte = 0x40
	FlagSetup      byte = 0x20 // Pregame packet, byte 1 holds a Command
	FlagLevelReady byte = 0x10
	FlagQuitters   byte = 0x08
	FlagCompressed byte = 0x04 // Bytes 1.. are zlib-compressed
	FlagLatencyAck byte = 0x02
	FlagLatency    byte = 0x01
)

// Command is the setup sub-command stored in byte 1 when FlagSetup is set.
type Command uint8

const (
	CmdConnect Command = iota
	CmdConnectAck
	CmdDisconnect
	CmdUserInfo
	CmdUserInfoAck
	CmdGameInfo
	CmdGameInfoAck
	CmdGo
	CmdFull
	CmdInProgress
	CmdWrongPassword
	CmdWrongEngine
	CmdInvalidFiles
	CmdKicked
	CmdBanned
	CmdHeartbeat

	cmdCount
)

var commandNames = [...]string{
	CmdConnect:       "Connect",
	CmdConnectAck:    "ConnectAck",
	CmdDisconnect:    "Disconnect",
	CmdUserInfo:      "UserInfo",
	CmdUserInfoAck:   "UserInfoAck",
	CmdGameInfo:      "GameInfo",
	CmdGameInfoAck:   "GameInfoAck",
	CmdGo:            "Go",
	CmdFull:          "Full",
	CmdInProgress:    "InProgress",
	CmdWrongPassword: "WrongPassword",
	CmdWrongEngine:   "WrongEngine",
	CmdInvalidFiles:  "InvalidFiles",
	CmdKicked:        "Kicked",
	CmdBanned:        "Banned",
	CmdHeartbeat:     "Heartbeat",
}

func (c Command) String() string {
	if c < cmdCount {
		return commandNames[c]
	}
	return "Command(?)"
}

// IsRejection reports whether c is one of the single-packet refusals a host
// sends to a participant it will not (or no longer) track.
func (c Command) IsRejection() bool {
	switch c {
	case CmdFull, CmdInProgress, CmdWrongPassword, CmdWrongEngine,
		CmdInvalidFiles, CmdKicked, CmdBanned:
		return true
	}
	return false
}

// Size limits.
const (
	MaxLogicalSize    = 14000 // Largest packet a controller may hand to the codec
	MaxTransmitSize   = 8000  // Largest datagram put on the wire
	CompressThreshold = 10    // Packets shorter than this are never compressed
	MaxPasswordLen    = 255
	MaxParticipants   = 64
	MaxTicDup         = 3
)

// DefaultPort is the UDP port a host binds when none is configured.
const DefaultPort = 5000 + 29

// NetMode is the in-game topology negotiated by the host.
type NetMode uint8

const (
	PeerToPeer   NetMode = 0
	PacketServer NetMode = 1
)

func (m NetMode) String() string {
	switch m {
	case PeerToPeer:
		return "peer-to-peer"
	case PacketServer:
		return "packet-server"
	}
	return "unknown"
}

// Version identifies the engine build; peers with different versions cannot
// play together.
type Version struct {
	Major, Minor, Revision uint8
}

// CurrentVersion is the protocol version spoken by this build.
var CurrentVersion = Version{Major: 4, Minor: 14, Revision: 0}
