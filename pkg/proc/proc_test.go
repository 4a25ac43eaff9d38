package proc

import (
	"sync"
	"testing"
	"time"

	"github.com/mflow/mflow/pkg/core"
	"github.com/stretchr/testify/require"
)

type sink struct {
	*core.InputSocket

	mu      sync.Mutex
	packets []*core.Packet
}

func newSink(t *testing.T, out *core.OutputSocket) *sink {
	s := &sink{}
	s.InputSocket = core.NewInputSocket(func(_ *core.InputSocket, packet *core.Packet) bool {
		s.mu.Lock()
		s.packets = append(s.packets, packet)
		s.mu.Unlock()
		return true
	}, nil)
	require.Nil(t, out.Connect(s.InputSocket))
	return s
}

func (s *sink) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []string
	for _, packet := range s.packets {
		if packet.IsSymbolic() {
			list = append(list, packet.Symbol().String())
		} else {
			list = append(list, string(packet.Slices()[0].Bytes()))
		}
	}
	return list
}

func packet(payload string) *core.Packet {
	return core.NewPacketFromSlice(core.BufferSliceFromBytes([]byte(payload), nil), 0, 0)
}

func symbol(sym core.PacketSymbol, sid uint32) *core.Packet {
	p := core.NewPacketFromSymbol(sym)
	p.SynchronizationID = sid
	return p
}

func TestIdentity(t *testing.T) {
	p := NewIdentity()
	s := newSink(t, p.Out(0))

	in := core.NewPacketFromSlice(core.BufferSliceFromBytes([]byte("abc"), nil), 1000, 0)
	in.TimeScale = 90000
	ok, err := p.In(0).Transfer(in).Wait()
	require.True(t, ok)
	require.Nil(t, err)

	require.Len(t, s.packets, 1)
	require.Same(t, in, s.packets[0])

	// second input gets second output on first packet
	p.CreateInput(nil)
	p.In(1).Transfer(packet("x"))
	require.Equal(t, 2, p.NumOutputs())
}

func TestFunc(t *testing.T) {
	p := NewFunc(core.DropSymbols(core.SymbolGap))
	s := newSink(t, p.Out(0))

	p.In(0).Transfer(packet("a"))
	p.In(0).Transfer(symbol(core.SymbolGap, 0))
	p.In(0).Transfer(symbol(core.SymbolEOS, 0))
	require.Equal(t, []string{"a", "EOS"}, s.list())
}

func TestChunker(t *testing.T) {
	p := NewChunker(4)
	s := newSink(t, p.Out(0))

	in := packet("0123456789")
	in.Timestamp = 42
	in.TimeScale = 1000
	p.In(0).Transfer(in)

	require.Len(t, s.packets, 1)
	out := s.packets[0]
	require.Equal(t, int64(42), out.Timestamp)
	require.Equal(t, uint32(1000), out.TimeScale)

	var parts []string
	for _, slice := range out.Slices() {
		parts = append(parts, string(slice.Bytes()))
		require.Same(t, in.Slices()[0].Buffer(), slice.Buffer())
	}
	require.Equal(t, []string{"0123", "4567", "89"}, parts)
}

func TestAggregatorEOSOnce(t *testing.T) {
	a := NewAggregator(2, 0)
	s := newSink(t, a.Out(0))

	a.In(0).Transfer(packet("a1"))
	a.In(1).Transfer(packet("b1"))
	a.In(0).Transfer(packet("a2"))

	a.In(0).Transfer(symbol(core.SymbolEOS, 1))
	a.In(0).Transfer(symbol(core.SymbolEOS, 1))
	require.Empty(t, s.list())
	require.Equal(t, 0, a.Finalized())

	a.In(1).Transfer(symbol(core.SymbolEOS, 1))
	require.Equal(t, 1, a.Finalized())
	require.Equal(t, []string{"a1", "a2", "b1", "EOS"}, s.list())

	// late EOS for the finalized sync id does nothing
	a.In(1).Transfer(symbol(core.SymbolEOS, 1))
	a.In(0).Transfer(symbol(core.SymbolEOS, 1))
	require.Equal(t, 1, a.Finalized())
	require.Len(t, s.list(), 4)

	// SYNC opens the epoch again and goes downstream
	a.In(0).Transfer(symbol(core.SymbolSync, 1))
	require.Equal(t, []string{"a1", "a2", "b1", "EOS", "SYNC"}, s.list())
	a.In(0).Transfer(packet("a3"))
	a.In(0).Transfer(symbol(core.SymbolEOS, 1))
	a.In(1).Transfer(symbol(core.SymbolEOS, 1))
	require.Equal(t, 2, a.Finalized())
	require.Equal(t, []string{"a1", "a2", "b1", "EOS", "SYNC", "a3", "EOS"}, s.list())
}

func TestAggregatorFlushDrop(t *testing.T) {
	a := NewAggregator(2, 0)
	s := newSink(t, a.Out(0))

	a.In(1).Transfer(packet("b1"))
	a.In(0).Transfer(packet("a1"))
	a.In(0).Transfer(symbol(core.SymbolFlush, 0))
	require.Equal(t, []string{"a1", "b1", "FLUSH"}, s.list())

	a.In(0).Transfer(packet("a2"))
	require.Equal(t, 1, a.Buffered())
	a.In(1).Transfer(symbol(core.SymbolDrop, 0))
	require.Equal(t, 0, a.Buffered())
	require.Equal(t, []string{"a1", "b1", "FLUSH", "DROP"}, s.list())
}

func TestAggregatorStall(t *testing.T) {
	a := NewAggregator(2, 20*time.Millisecond)
	defer a.Close()
	s := newSink(t, a.Out(0))

	a.In(0).Transfer(packet("a1"))
	require.Eventually(t, func() bool {
		return len(s.list()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, a.Buffered())
}
