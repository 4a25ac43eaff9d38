package flow

import "fmt"

type ErrorSpace byte

const (
	ErrorSpaceFlow ErrorSpace = iota
	ErrorSpaceProcessor
	ErrorSpaceSocket
)

func (s ErrorSpace) String() string {
	switch s {
	case ErrorSpaceFlow:
		return "flow"
	case ErrorSpaceProcessor:
		return "processor"
	case ErrorSpaceSocket:
		return "socket"
	}
	return "unknown"
}

const (
	CodeFailed         = 1
	CodeProcessorError = 2
	CodeSocketError    = 3
)

// Error - failure that completed a Flow
type Error struct {
	Space   ErrorSpace
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("flow: %s error %d", e.Space, e.Code)
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}
