package core

import (
	"errors"
	"fmt"
	"slices"
)

// OutputSocket - broadcasts to all connected inputs, an input has only one output
type OutputSocket struct {
	socket

	peers []*InputSocket
}

func NewOutputSocket(desc *SocketDescriptor, opts ...SocketOption) *OutputSocket {
	s := &OutputSocket{}
	s.init(s, SocketTypeOutput, desc, opts)
	s.deliver = s.broadcast
	return s
}

func (s *OutputSocket) Connect(in *InputSocket) error {
	if !s.desc.Match(in.desc) {
		return fmt.Errorf("%w: %s -> %s", ErrIncompatibleSocket, s.desc, in.desc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSocketClosed
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	switch {
	case in.closed:
		return ErrSocketClosed
	case in.peer == s:
		return ErrAlreadyConnected
	case in.peer != nil:
		return ErrPeerHasConnection
	}

	in.peer = s
	s.peers = append(s.peers, in)
	return nil
}

// Disconnect - nil disconnects all peers
func (s *OutputSocket) Disconnect(in *InputSocket) error {
	s.mu.Lock()
	var peers []*InputSocket
	if in == nil {
		peers = s.peers
		s.peers = nil
	} else {
		i := slices.Index(s.peers, in)
		if i < 0 {
			s.mu.Unlock()
			return ErrNotConnected
		}
		s.peers = slices.Delete(slices.Clone(s.peers), i, i+1)
		peers = []*InputSocket{in}
	}
	s.mu.Unlock()

	for _, peer := range peers {
		peer.mu.Lock()
		if peer.peer == s {
			peer.peer = nil
		}
		peer.mu.Unlock()
	}
	return nil
}

func (s *OutputSocket) Peers() []*InputSocket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.peers)
}

func (s *OutputSocket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers) > 0
}

// Transfer - deliver to every peer, a failed peer doesn't stop the others.
// Without peers the packet is dropped and the result is true.
func (s *OutputSocket) Transfer(packet *Packet) *Completion {
	if s.IsClosed() {
		return Resolved(false, ErrSocketClosed)
	}

	packets := s.tapped(packet)
	if len(packets) == 0 {
		return Resolved(true, nil)
	}
	return s.broadcast(packets)
}

// Cast - down signals go to peers, others to the owner
func (s *OutputSocket) Cast(signal *Signal) (bool, error) {
	if s.IsClosed() {
		return false, ErrSocketClosed
	}

	if signal.Direction != SignalDirectionDown {
		return s.receiveSignal(signal)
	}

	var ok bool
	var errs []error
	for _, peer := range s.Peers() {
		res, err := peer.receiveSignal(signal)
		if err != nil {
			errs = append(errs, err)
		}
		ok = ok || res
	}
	return ok, errors.Join(errs...)
}

func (s *OutputSocket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.Disconnect(nil)
}

func (s *OutputSocket) broadcast(packets []*Packet) *Completion {
	s.transferring.Add(1)
	defer s.transferring.Add(-1)

	peers := s.Peers()

	var list []*Completion
	for _, packet := range packets {
		for i, peer := range peers {
			// each extra peer gets own header, bytes stay shared
			if i > 0 {
				packet = packet.Clone()
			}
			list = append(list, transferSafely(peer, packet))
		}
	}
	return WhenAll(list...)
}

func (s *OutputSocket) removePeer(in *InputSocket) {
	s.mu.Lock()
	if i := slices.Index(s.peers, in); i >= 0 {
		s.peers = slices.Delete(slices.Clone(s.peers), i, i+1)
	}
	s.mu.Unlock()
}

func transferSafely(in *InputSocket, packet *Packet) (c *Completion) {
	defer func() {
		if r := recover(); r != nil {
			c = Resolved(false, fmt.Errorf("core: transfer to %s: %v", in.name, r))
		}
	}()
	return in.Transfer(packet)
}
