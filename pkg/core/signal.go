package core

import "fmt"

type SignalDirection byte

const (
	SignalDirectionZero SignalDirection = iota // only the owner of the socket
	SignalDirectionUp                          // towards sources
	SignalDirectionDown                        // towards sinks
)

func (d SignalDirection) String() string {
	switch d {
	case SignalDirectionUp:
		return "up"
	case SignalDirectionDown:
		return "down"
	}
	return "zero"
}

type SignalType byte

const (
	SignalTypeVoid SignalType = iota
	SignalTypeSeek
	SignalTypeReset
)

func (t SignalType) String() string {
	switch t {
	case SignalTypeVoid:
		return "void"
	case SignalTypeSeek:
		return "seek"
	case SignalTypeReset:
		return "reset"
	}
	return "unknown"
}

// Signal - out of band request travelling through connected sockets
type Signal struct {
	Type      SignalType      `json:"type"`
	Direction SignalDirection `json:"direction"`

	// Start and End - position range for SignalTypeSeek,
	// in the native unit of the source (bytes for byte streams)
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

func NewSignal(typ SignalType, direction SignalDirection) *Signal {
	return &Signal{Type: typ, Direction: direction}
}

// NewSeekSignal - upstream request to restart sources at start, end <= 0 means open range
func NewSeekSignal(start, end int64) *Signal {
	return &Signal{Type: SignalTypeSeek, Direction: SignalDirectionUp, Start: start, End: end}
}

func (s *Signal) String() string {
	if s.Type == SignalTypeSeek {
		return fmt.Sprintf("%s/%s %d-%d", s.Type, s.Direction, s.Start, s.End)
	}
	return fmt.Sprintf("%s/%s", s.Type, s.Direction)
}
