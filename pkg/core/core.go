// Package core is the dataflow engine: buffer slices and packets, typed
// sockets with taps, queues and valves, and processors that route packets
// between them.
//
//  1. Processor.CreateInput / Processor.CreateOutput - allocate sockets from the
//     kernel template and fire socket-created events
//  2. OutputSocket.Connect - wire an output to any number of inputs, every input
//     accepts only one connecting output
//  3. OutputSocket.Transfer - broadcast a Packet to every peer, each peer yields
//     through its Executor before the receiver runs
//  4. Socket.Cast - move a Signal up or down the graph, results are OR-ed
package core

import (
	"errors"
	"sync/atomic"
)

type SocketType byte

const (
	SocketTypeInput SocketType = iota + 1
	SocketTypeOutput
)

func (t SocketType) String() string {
	switch t {
	case SocketTypeInput:
		return "input"
	case SocketTypeOutput:
		return "output"
	}
	return "unknown"
}

var (
	ErrOutOfBounds        = errors.New("core: out of bounds")
	ErrSocketClosed       = errors.New("core: socket closed")
	ErrAlreadyConnected   = errors.New("core: already connected to peer")
	ErrPeerHasConnection  = errors.New("core: peer already has a connecting output")
	ErrNotConnected       = errors.New("core: peer not connected")
	ErrIncompatibleSocket = errors.New("core: incompatible socket descriptors")
	ErrSymbolicPacket     = errors.New("core: symbolic packet has no data")
)

var id atomic.Uint32

// NewID - unique id for processors and sockets, used only in logs
func NewID() uint32 {
	return id.Add(1)
}
