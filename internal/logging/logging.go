// Package logging provides the runtime's named log channels: one
// hclog.Logger per spec-defined channel, all writing to a shared sink so
// that output from different subsystems interleaves in time order but
// stays individually attributable and independently silenceable.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Channel identifies one of the runtime's named log channels.
type Channel string

const (
	LRT      Channel = "LRT"
	TIME     Channel = "TIME"
	GENERAL  Channel = "GENERAL"
	SCHEDULE Channel = "SCHEDULE"
	MEMORY   Channel = "MEMORY"
	TRANSFO  Channel = "TRANSFO"
	OPTIMS   Channel = "OPTIMS"
	EXPR     Channel = "EXPR"
)

var allChannels = []Channel{LRT, TIME, GENERAL, SCHEDULE, MEMORY, TRANSFO, OPTIMS, EXPR}

// Loggers holds one named sub-logger per channel, all sharing one output
// writer and one base level. Individual channels can be silenced by
// raising their level past hclog.Off without touching the others.
type Loggers struct {
	byChannel map[Channel]hclog.Logger
}

// New creates a Loggers writing every channel to out at the given base
// level. Channels listed in muted start at hclog.Off regardless of level.
func New(out io.Writer, level hclog.Level, muted ...Channel) *Loggers {
	if out == nil {
		out = os.Stderr
	}
	isMuted := make(map[Channel]bool, len(muted))
	for _, c := range muted {
		isMuted[c] = true
	}
	l := &Loggers{byChannel: make(map[Channel]hclog.Logger, len(allChannels))}
	for _, c := range allChannels {
		chLevel := level
		if isMuted[c] {
			chLevel = hclog.Off
		}
		l.byChannel[c] = hclog.New(&hclog.LoggerOptions{
			Name:   "spider2." + string(c),
			Output: out,
			Level:  chLevel,
		})
	}
	return l
}

// For returns the logger for the given channel. Looking up an unknown
// channel returns a no-op logger rather than panicking, since log calls
// should never be able to crash the runtime they're instrumenting.
func (l *Loggers) For(c Channel) hclog.Logger {
	if lg, ok := l.byChannel[c]; ok {
		return lg
	}
	return hclog.NewNullLogger()
}

// SetLevel changes the level of a single channel at runtime, e.g. to turn
// on SCHEDULE tracing mid-run without restarting the process.
func (l *Loggers) SetLevel(c Channel, level hclog.Level) {
	if lg, ok := l.byChannel[c]; ok {
		lg.SetLevel(level)
	}
}
