package session

import (
	"errors"
	"fmt"

	"github.com/1ureka/pregame/internal/protocol"
)

// Terminal outcomes a guest can receive from its host. None of them is worth
// retrying automatically.
var (
	ErrGameFull       = errors.New("the game is full")
	ErrInProgress     = errors.New("the game was already started")
	ErrWrongPassword  = errors.New("invalid password")
	ErrWrongEngine    = errors.New("the host runs a different engine version")
	ErrInvalidFiles   = errors.New("game files do not match the host's")
	ErrKicked         = errors.New("you were kicked from the game")
	ErrBanned         = errors.New("you are banned from this host")
	ErrHostCancelled  = errors.New("the host cancelled the game")
	ErrConnectionLost = errors.New("the connection to the host was dropped")
)

func rejectionError(reason protocol.Command) error {
	switch reason {
	case protocol.CmdFull:
		return ErrGameFull
	case protocol.CmdInProgress:
		return ErrInProgress
	case protocol.CmdWrongPassword:
		return ErrWrongPassword
	case protocol.CmdWrongEngine:
		return ErrWrongEngine
	case protocol.CmdInvalidFiles:
		return ErrInvalidFiles
	case protocol.CmdKicked:
		return ErrKicked
	case protocol.CmdBanned:
		return ErrBanned
	}
	return fmt.Errorf("rejected by host (%s)", reason)
}
