package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// Socket - typed, directional transfer endpoint, InputSocket or OutputSocket
type Socket interface {
	Type() SocketType
	Name() string
	Descriptor() *SocketDescriptor
	Owner() *Processor

	// Transfer - hand the packet over, ownership moves with it
	Transfer(packet *Packet) *Completion
	// Cast - send a signal, results of all receivers are OR-ed
	Cast(signal *Signal) (bool, error)

	SetTap(tap SocketTap)
	// FlushTap - release everything the tap holds, in order
	FlushTap() *Completion

	// WhenReady - closed once the socket can receive, never reopens
	WhenReady() <-chan struct{}
	IsTransferring() bool
	IsClosed() bool
	Close()
}

// Seekable - sources that can restart at a position range
type Seekable interface {
	Seek(start, end int64) error
}

// URLLoading - sources that open their transport from an URL
type URLLoading interface {
	Load(ctx context.Context, rawURL string) error
}

type SignalHandlerFunc func(signal *Signal) bool

type SocketOption func(s *socket)

func WithName(name string) SocketOption {
	return func(s *socket) {
		s.name = name
	}
}

// WithNotReady - WhenReady blocks until MarkReady
func WithNotReady() SocketOption {
	return func(s *socket) {
		s.notReady = true
	}
}

// WithSignalHandler - receive signals instead of the owner processor
func WithSignalHandler(handler SignalHandlerFunc) SocketOption {
	return func(s *socket) {
		s.signalHandler = handler
	}
}

// WithExecutor - scheduling point for input sockets, Inline by default
func WithExecutor(executor Executor) SocketOption {
	return func(s *socket) {
		s.executor = executor
	}
}

func withOwner(owner *Processor) SocketOption {
	return func(s *socket) {
		s.owner = owner
	}
}

type socket struct {
	self    Socket
	typ     SocketType
	desc    *SocketDescriptor
	name    string
	owner   *Processor
	deliver func(packets []*Packet) *Completion

	mu            sync.Mutex
	closed        bool
	executor      Executor
	signalHandler SignalHandlerFunc

	tapMu sync.Mutex
	tap   SocketTap

	transferring atomic.Int32

	notReady  bool
	ready     chan struct{}
	readyOnce sync.Once
}

func (s *socket) init(self Socket, typ SocketType, desc *SocketDescriptor, opts []SocketOption) {
	s.self = self
	s.typ = typ
	s.desc = desc
	s.executor = Inline
	for _, opt := range opts {
		opt(s)
	}
	if s.desc == nil {
		s.desc = &SocketDescriptor{}
	}
	if s.name == "" {
		s.name = typ.String() + "#" + strconv.Itoa(int(NewID()))
	}
	s.ready = make(chan struct{})
	if !s.notReady {
		s.MarkReady()
	}
}

func (s *socket) Type() SocketType {
	return s.typ
}

func (s *socket) Name() string {
	return s.name
}

func (s *socket) Descriptor() *SocketDescriptor {
	return s.desc
}

func (s *socket) Owner() *Processor {
	return s.owner
}

func (s *socket) SetTap(tap SocketTap) {
	s.tapMu.Lock()
	s.tap = tap
	s.tapMu.Unlock()
}

func (s *socket) Tap() SocketTap {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()
	return s.tap
}

func (s *socket) FlushTap() *Completion {
	s.tapMu.Lock()
	var packets []*Packet
	if s.tap != nil {
		packets = s.tap.Flush()
	}
	s.tapMu.Unlock()

	if len(packets) == 0 {
		return Resolved(true, nil)
	}
	return s.deliver(packets)
}

func (s *socket) SetSignalHandler(handler SignalHandlerFunc) {
	s.mu.Lock()
	s.signalHandler = handler
	s.mu.Unlock()
}

func (s *socket) SetExecutor(executor Executor) {
	if executor == nil {
		executor = Inline
	}
	s.mu.Lock()
	s.executor = executor
	s.mu.Unlock()
}

func (s *socket) Executor() Executor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executor
}

func (s *socket) WhenReady() <-chan struct{} {
	return s.ready
}

// MarkReady - one way, a ready socket never becomes not ready
func (s *socket) MarkReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
	})
}

func (s *socket) IsReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (s *socket) IsTransferring() bool {
	return s.transferring.Load() > 0
}

func (s *socket) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *socket) String() string {
	return s.name
}

// tapped - packets to deliver now, in order: released ones first, then packet.
// Empty result means the tap holds the packet.
func (s *socket) tapped(packet *Packet) []*Packet {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()

	if s.tap == nil {
		return []*Packet{packet}
	}

	if !s.tap.PushPacket(packet) {
		return nil
	}

	var packets []*Packet
	for !s.tap.IsClear() {
		held := s.tap.PopPacket()
		if held == nil {
			break
		}
		packets = append(packets, held)
	}
	return append(packets, packet)
}

// receiveSignal - signal reached this socket and goes to its owner
func (s *socket) receiveSignal(signal *Signal) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("core: signal %s on %s: %v", signal, s.name, r)
		}
	}()

	s.mu.Lock()
	handler := s.signalHandler
	s.mu.Unlock()

	if handler != nil {
		return handler(signal), nil
	}
	if s.owner != nil {
		return s.owner.handleSignal(s.self, signal), nil
	}
	return false, nil
}
