package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	packets []*Packet
}

func (r *recorder) handler(_ *InputSocket, packet *Packet) bool {
	r.packets = append(r.packets, packet)
	return true
}

func (r *recorder) timestamps() (ts []int64) {
	for _, packet := range r.packets {
		ts = append(ts, packet.Timestamp)
	}
	return
}

func dataPacket(ts int64) *Packet {
	return NewPacketFromSlice(BufferSliceFromBytes([]byte{byte(ts)}, nil), ts, 0)
}

func TestConnectExclusive(t *testing.T) {
	a := NewOutputSocket(nil)
	c := NewOutputSocket(nil)
	b := NewInputSocket(nil, nil)

	require.Nil(t, a.Connect(b))
	require.ErrorIs(t, a.Connect(b), ErrAlreadyConnected)
	require.ErrorIs(t, c.Connect(b), ErrPeerHasConnection)
	require.Same(t, a, b.Peer())

	require.Nil(t, a.Disconnect(b))
	require.Nil(t, b.Peer())
	require.ErrorIs(t, a.Disconnect(b), ErrNotConnected)

	require.Nil(t, a.Connect(b))
	require.Nil(t, a.Disconnect(nil))
	require.Empty(t, a.Peers())

	require.Nil(t, c.Connect(b))
}

func TestConnectIncompatible(t *testing.T) {
	out := NewOutputSocket(NewSocketDescriptor("video/mp4"))
	in := NewInputSocket(nil, NewSocketDescriptor("audio/aac"))
	require.ErrorIs(t, out.Connect(in), ErrIncompatibleSocket)

	in = NewInputSocket(nil, nil)
	require.Nil(t, out.Connect(in))
}

func TestConnectClosed(t *testing.T) {
	out := NewOutputSocket(nil)
	in := NewInputSocket(nil, nil)
	require.Nil(t, out.Connect(in))

	in.Close()
	in.Close()
	require.True(t, in.IsClosed())
	require.Empty(t, out.Peers())
	require.ErrorIs(t, out.Connect(in), ErrSocketClosed)

	_, err := in.Cast(NewSignal(SignalTypeVoid, SignalDirectionZero))
	require.ErrorIs(t, err, ErrSocketClosed)

	ok, err := in.Transfer(dataPacket(1)).Wait()
	require.False(t, ok)
	require.ErrorIs(t, err, ErrSocketClosed)

	in2 := NewInputSocket(nil, nil)
	require.Nil(t, out.Connect(in2))
	out.Close()
	require.Nil(t, in2.Peer())
	require.ErrorIs(t, out.Connect(NewInputSocket(nil, nil)), ErrSocketClosed)
}

func TestTransferFanOut(t *testing.T) {
	out := NewOutputSocket(nil)

	var r1, r3 recorder
	in1 := NewInputSocket(r1.handler, nil)
	in2 := NewInputSocket(func(*InputSocket, *Packet) bool {
		panic("broken peer")
	}, nil)
	in3 := NewInputSocket(r3.handler, nil)

	require.Nil(t, out.Connect(in1))
	require.Nil(t, out.Connect(in2))
	require.Nil(t, out.Connect(in3))

	ok, err := out.Transfer(dataPacket(5)).Wait()
	require.False(t, ok)
	require.ErrorContains(t, err, "broken peer")

	require.Equal(t, []int64{5}, r1.timestamps())
	require.Equal(t, []int64{5}, r3.timestamps())
	require.False(t, out.IsTransferring())
}

func TestTransferWithoutPeers(t *testing.T) {
	out := NewOutputSocket(nil)
	ok, err := out.Transfer(dataPacket(1)).Wait()
	require.True(t, ok)
	require.Nil(t, err)
}

func TestTransferringFlag(t *testing.T) {
	out := NewOutputSocket(nil)

	var seen []bool
	in := NewInputSocket(func(in *InputSocket, _ *Packet) bool {
		seen = append(seen, out.IsTransferring(), in.IsTransferring())
		return true
	}, nil)
	require.Nil(t, out.Connect(in))

	ok, _ := out.Transfer(dataPacket(1)).Wait()
	require.True(t, ok)
	require.Equal(t, []bool{true, true}, seen)
	require.False(t, out.IsTransferring())
	require.False(t, in.IsTransferring())
}

func TestTransferLoopOrder(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	var r recorder
	in := NewInputSocket(r.handler, nil, WithExecutor(loop))
	out := NewOutputSocket(nil)
	require.Nil(t, out.Connect(in))

	var list []*Completion
	for i := int64(1); i <= 100; i++ {
		list = append(list, out.Transfer(dataPacket(i)))
	}

	ok, err := WhenAll(list...).Wait()
	require.True(t, ok)
	require.Nil(t, err)
	loop.Sync()

	require.Len(t, r.packets, 100)
	for i, ts := range r.timestamps() {
		require.Equal(t, int64(i+1), ts)
	}
}

func TestSocketTap(t *testing.T) {
	var r recorder
	in := NewInputSocket(r.handler, nil)
	out := NewOutputSocket(nil)
	require.Nil(t, out.Connect(in))

	tap := &FIFOTap{Hold: true}
	out.SetTap(tap)

	out.Transfer(dataPacket(1))
	out.Transfer(dataPacket(2))
	require.Empty(t, r.packets)
	require.Equal(t, 2, tap.Len())

	// held packets go first, then the new one
	tap.Hold = false
	out.Transfer(dataPacket(3))
	require.Equal(t, []int64{1, 2, 3}, r.timestamps())
	require.True(t, tap.IsClear())

	tap.Hold = true
	out.Transfer(dataPacket(4))
	ok, err := out.FlushTap().Wait()
	require.True(t, ok)
	require.Nil(t, err)
	require.Equal(t, []int64{1, 2, 3, 4}, r.timestamps())
}

func TestSocketReady(t *testing.T) {
	in := NewInputSocket(nil, nil)
	select {
	case <-in.WhenReady():
	default:
		require.Fail(t, "should be ready")
	}

	in = NewInputSocket(nil, nil, WithNotReady())
	require.False(t, in.IsReady())

	// connectable before ready
	require.Nil(t, NewOutputSocket(nil).Connect(in))

	in.MarkReady()
	in.MarkReady()
	<-in.WhenReady()
	require.True(t, in.IsReady())
}

func TestCastDirections(t *testing.T) {
	var upCalls, downCalls, zeroCalls int

	out := NewOutputSocket(nil, WithSignalHandler(func(signal *Signal) bool {
		if signal.Direction == SignalDirectionUp {
			upCalls++
		} else {
			zeroCalls++
		}
		return true
	}))
	in1 := NewInputSocket(nil, nil, WithSignalHandler(func(*Signal) bool {
		downCalls++
		return false
	}))
	in2 := NewInputSocket(nil, nil, WithSignalHandler(func(*Signal) bool {
		downCalls++
		return true
	}))
	require.Nil(t, out.Connect(in1))
	require.Nil(t, out.Connect(in2))

	ok, err := out.Cast(NewSignal(SignalTypeReset, SignalDirectionDown))
	require.Nil(t, err)
	require.True(t, ok) // OR of false and true
	require.Equal(t, 2, downCalls)

	// up from an input reaches the connected output
	ok, err = in1.Cast(NewSeekSignal(10, 0))
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, 1, upCalls)

	ok, err = out.Cast(NewSignal(SignalTypeVoid, SignalDirectionZero))
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, 1, zeroCalls)

	// no peer, nobody answers
	ok, err = NewInputSocket(nil, nil).Cast(NewSeekSignal(0, 0))
	require.Nil(t, err)
	require.False(t, ok)
}
