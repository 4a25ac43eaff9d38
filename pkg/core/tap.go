package core

// SocketTap - interceptor in front of a socket transfer.
//
// PushPacket returns false to hold the packet. When it returns true the socket
// first pops every held packet (while !IsClear) and then forwards the pushed one.
// Implementations must keep FIFO order: held packets only grow and then fully
// drain, they never reorder packets of two different PushPacket calls.
type SocketTap interface {
	PushPacket(packet *Packet) bool
	PopPacket() *Packet
	IsClear() bool
	// Flush - remove and return all held packets in order
	Flush() []*Packet
}

// FIFOTap - holds packets while Hold is on, Release lets them go on next push
type FIFOTap struct {
	Hold bool

	packets []*Packet
}

func (t *FIFOTap) PushPacket(packet *Packet) bool {
	if t.Hold {
		t.packets = append(t.packets, packet)
		return false
	}
	return true
}

func (t *FIFOTap) PopPacket() *Packet {
	if len(t.packets) == 0 {
		return nil
	}
	packet := t.packets[0]
	t.packets[0] = nil
	t.packets = t.packets[1:]
	return packet
}

func (t *FIFOTap) IsClear() bool {
	return len(t.packets) == 0
}

func (t *FIFOTap) Flush() []*Packet {
	packets := t.packets
	t.packets = nil
	return packets
}

func (t *FIFOTap) Len() int {
	return len(t.packets)
}
