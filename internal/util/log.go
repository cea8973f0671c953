// Package util provides shared logging and traffic accounting.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

// A handshake tick is a few tens of milliseconds, so timestamps carry them.
const timeFormat = "15:04:05.000"

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = timeFormat
	pterm.DefaultLogger.MaxWidth = 1000
}

// LogDebug is called for every dropped or ignored datagram, so the message
// is only formatted when debug output is on.
func LogDebug(format string, args ...any) {
	if pterm.DefaultLogger.CanPrint(pterm.LogLevelDebug) {
		pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
	}
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks a milestone such as an established session. pterm's
// logger has no success level, so it logs at info.
func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug shows per-datagram debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// LogFile describes an optional rotating log file. Zero fields take the
// defaults below.
type LogFile struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetLogFile copies every log line to a rotating file in addition to stderr.
// The returned closer flushes and closes the file.
func SetLogFile(f LogFile) io.Closer {
	lj := &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    max(f.MaxSizeMB, 10),
		MaxBackups: max(f.MaxBackups, 1),
		MaxAge:     max(f.MaxAgeDays, 7),
	}
	pterm.DefaultLogger.Writer = io.MultiWriter(os.Stderr, lj)
	return lj
}
