package core

import "fmt"

// TransferHandler - receiver of packets arriving at an InputSocket
type TransferHandler func(in *InputSocket, packet *Packet) bool

type InputSocket struct {
	socket

	handler TransferHandler
	peer    *OutputSocket
}

func NewInputSocket(handler TransferHandler, desc *SocketDescriptor, opts ...SocketOption) *InputSocket {
	s := &InputSocket{handler: handler}
	s.init(s, SocketTypeInput, desc, opts)
	s.deliver = s.receiveAll
	return s
}

func (s *InputSocket) SetHandler(handler TransferHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Peer - connected output or nil
func (s *InputSocket) Peer() *OutputSocket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Transfer - every packet goes through the socket executor before the handler,
// packets on one socket are received in transfer order
func (s *InputSocket) Transfer(packet *Packet) *Completion {
	if s.IsClosed() {
		return Resolved(false, ErrSocketClosed)
	}

	packets := s.tapped(packet)
	if len(packets) == 0 {
		return Resolved(true, nil)
	}
	return s.receiveAll(packets)
}

func (s *InputSocket) Cast(signal *Signal) (bool, error) {
	if s.IsClosed() {
		return false, ErrSocketClosed
	}

	if signal.Direction == SignalDirectionUp {
		peer := s.Peer()
		if peer == nil {
			return false, nil
		}
		return peer.receiveSignal(signal)
	}

	return s.receiveSignal(signal)
}

// Close - disconnect from peer, second call does nothing
func (s *InputSocket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	peer := s.peer
	s.peer = nil
	s.mu.Unlock()

	if peer != nil {
		peer.removePeer(s)
	}
}

func (s *InputSocket) receiveAll(packets []*Packet) *Completion {
	executor := s.Executor()

	list := make([]*Completion, len(packets))
	for i, packet := range packets {
		packet := packet
		c := NewCompletion()
		list[i] = c
		executor.Execute(func() {
			c.Resolve(s.receive(packet))
		})
	}
	return WhenAll(list...)
}

func (s *InputSocket) receive(packet *Packet) (ok bool, err error) {
	s.transferring.Add(1)
	defer s.transferring.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("core: receive on %s: %v", s.name, r)
		}
	}()

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return true, nil
	}
	return handler(s, packet), nil
}
