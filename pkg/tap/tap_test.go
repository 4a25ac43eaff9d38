package tap

import (
	"testing"

	"github.com/mflow/mflow/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) (*core.OutputSocket, *[]*core.Packet) {
	var received []*core.Packet
	in := core.NewInputSocket(func(_ *core.InputSocket, packet *core.Packet) bool {
		received = append(received, packet)
		return true
	}, nil)
	out := core.NewOutputSocket(nil, core.WithName("video"))
	require.Nil(t, out.Connect(in))
	return out, &received
}

func data(ts int64, size int) *core.Packet {
	return core.NewPacketFromSlice(core.BufferSliceFromBytes(make([]byte, size), nil), ts, 0)
}

func describe(packets []*core.Packet) (s []string) {
	for _, packet := range packets {
		if packet.IsSymbolic() {
			s = append(s, packet.Symbol().String())
		} else {
			s = append(s, string(rune('0'+packet.Timestamp)))
		}
	}
	return
}

func TestSymbolGate(t *testing.T) {
	out, received := connect(t)
	gate := NewSymbolGate()
	out.SetTap(gate)

	out.Transfer(data(1, 1))
	out.Transfer(core.NewPacketFromSymbol(core.SymbolWait))
	out.Transfer(data(2, 1))
	out.Transfer(core.NewPacketFromSymbol(core.SymbolWaitButQueue))
	out.Transfer(data(3, 1))

	require.True(t, gate.IsHolding())
	require.Equal(t, 3, gate.Len())
	require.Equal(t, []string{"1", "WAIT"}, describe(*received))

	out.Transfer(core.NewPacketFromSymbol(core.SymbolResume))
	require.False(t, gate.IsHolding())
	require.True(t, gate.IsClear())
	require.Equal(t, []string{"1", "WAIT", "2", "WAIT_BUT_Q", "3", "RESUME"}, describe(*received))
}

func TestSymbolGateDropQueue(t *testing.T) {
	out, received := connect(t)
	gate := NewSymbolGate()
	out.SetTap(gate)

	out.Transfer(core.NewPacketFromSymbol(core.SymbolWaitButQueue))
	out.Transfer(data(1, 1))
	out.Transfer(data(2, 1))
	out.Transfer(core.NewPacketFromSymbol(core.SymbolDropQueue))
	out.Transfer(data(3, 1))
	require.Equal(t, 1, gate.Len())

	ok, err := out.FlushTap().Wait()
	require.True(t, ok)
	require.Nil(t, err)
	require.Equal(t, []string{"WAIT_BUT_Q", "DROP_Q", "3"}, describe(*received))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.Nil(t, err)

	out, received := connect(t)
	m.Attach(out)

	out.Transfer(data(1, 100))
	out.Transfer(data(2, 50))
	out.Transfer(core.NewPacketFromSymbol(core.SymbolEOS))
	require.Len(t, *received, 3)

	require.Equal(t, float64(2), testutil.ToFloat64(m.packets.WithLabelValues("video")))
	require.Equal(t, float64(150), testutil.ToFloat64(m.bytes.WithLabelValues("video")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.symbols.WithLabelValues("video", "EOS")))

	_, err = NewMetrics(reg)
	require.Error(t, err)
}
