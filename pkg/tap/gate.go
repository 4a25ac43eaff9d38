// Package tap has stock core.SocketTap implementations
package tap

import (
	"github.com/mflow/mflow/pkg/core"
)

// SymbolGate - tap controlled by packet symbols:
//   - WAIT and WAIT_BUT_Q start holding, following packets are queued
//   - RESUME stops holding, queued packets go out first, then RESUME
//   - DROP_Q discards queued packets and passes
//
// A control symbol that starts holding passes itself, so downstream sees it.
type SymbolGate struct {
	holding bool
	packets []*core.Packet
}

func NewSymbolGate() *SymbolGate {
	return &SymbolGate{}
}

func (g *SymbolGate) PushPacket(packet *core.Packet) bool {
	if packet.IsSymbolic() {
		switch packet.Symbol() {
		case core.SymbolWait, core.SymbolWaitButQueue:
			if g.holding {
				break
			}
			g.holding = true
			return true
		case core.SymbolResume:
			g.holding = false
			return true
		case core.SymbolDropQueue:
			g.packets = nil
			return true
		}
	}

	if g.holding {
		g.packets = append(g.packets, packet)
		return false
	}
	return true
}

func (g *SymbolGate) PopPacket() *core.Packet {
	if len(g.packets) == 0 {
		return nil
	}
	packet := g.packets[0]
	g.packets[0] = nil
	g.packets = g.packets[1:]
	return packet
}

func (g *SymbolGate) IsClear() bool {
	return len(g.packets) == 0
}

func (g *SymbolGate) Flush() []*core.Packet {
	packets := g.packets
	g.packets = nil
	return packets
}

func (g *SymbolGate) IsHolding() bool {
	return g.holding
}

func (g *SymbolGate) Len() int {
	return len(g.packets)
}
