package proxy

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mflow/mflow/pkg/core"
	"github.com/mflow/mflow/pkg/proc"
	"github.com/stretchr/testify/require"
)

type sink struct {
	*core.InputSocket
	mu      sync.Mutex
	packets []*core.Packet
}

func newSink() *sink {
	s := &sink{}
	s.InputSocket = core.NewInputSocket(func(_ *core.InputSocket, packet *core.Packet) bool {
		s.mu.Lock()
		s.packets = append(s.packets, packet)
		s.mu.Unlock()
		return true
	}, nil)
	return s
}

func (s *sink) Packets() []*core.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*core.Packet(nil), s.packets...)
}

func testFactory(kernel string) (*core.Processor, error) {
	switch kernel {
	case "chunker":
		return proc.NewChunker(2), nil
	case "fail":
		var p *core.Processor
		p = proc.NewFunc(func(packet *core.Packet) *core.Packet {
			p.EmitError(errors.New("boom"))
			return nil
		})
		return p, nil
	}
	return nil, ErrUnknownKernel
}

func startPipe(t *testing.T, cfg Config) *Proxy {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	local, remote := Pipe()
	go func() {
		_ = Serve(ctx, remote, testFactory)
	}()

	p := NewProxy(cfg, local)
	require.Nil(t, p.Start(ctx))
	t.Cleanup(p.Close)
	return p
}

func TestWirePacket(t *testing.T) {
	props := core.NewBufferProperties("video/mp2t", 1, 90000)
	props.AddTag("live")

	buf := core.NewBuffer([]byte("abcdef"))
	a, err := core.NewBufferSlice(buf, 0, 2, props)
	require.Nil(t, err)
	b, err := core.NewBufferSlice(buf, 2, 2, props)
	require.Nil(t, err)
	c := core.BufferSliceFromBytes([]byte("xyz"), nil)

	packet := core.NewPacketFromSlices(100, 10, a, b, c)
	packet.TimeScale = 90000
	packet.SynchronizationID = 7

	w := EncodePacket(packet)
	require.Len(t, w.Props, 1)
	require.Equal(t, -1, w.Slices[2].Props)

	raw, err := Marshal(&Message{Type: MessageTransfer, Index: 1, Packet: w})
	require.Nil(t, err)

	msg, err := Unmarshal(raw)
	require.Nil(t, err)
	require.Equal(t, MessageTransfer, msg.Type)
	require.Equal(t, 1, msg.Index)

	got := DecodePacket(msg.Packet)
	require.Equal(t, int64(100), got.Timestamp)
	require.Equal(t, int64(10), got.PresentationTimeOffset)
	require.Equal(t, uint32(90000), got.TimeScale)
	require.Equal(t, uint32(7), got.SynchronizationID)

	slices := got.Slices()
	require.Len(t, slices, 3)
	require.Equal(t, "ab", string(slices[0].Bytes()))
	require.Equal(t, "cd", string(slices[1].Bytes()))
	require.Equal(t, "xyz", string(slices[2].Bytes()))
	require.Same(t, slices[0].Props, slices[1].Props)
	require.True(t, slices[0].Props.HasTag("live"))
	require.Nil(t, slices[2].Props)

	// the original stays untouched
	slices[0].Bytes()[0] = 'Z'
	require.Equal(t, "abcdef", string(buf.Bytes()))
}

func TestWireSymbol(t *testing.T) {
	eos := core.NewPacketFromSymbol(core.SymbolEOS)
	eos.SynchronizationID = 3

	raw, err := Marshal(&Message{Type: MessageTransfer, Packet: EncodePacket(eos)})
	require.Nil(t, err)
	msg, err := Unmarshal(raw)
	require.Nil(t, err)

	got := DecodePacket(msg.Packet)
	require.True(t, got.Is(core.SymbolEOS))
	require.Equal(t, uint32(3), got.SynchronizationID)
}

func TestProxyPipe(t *testing.T) {
	p := startPipe(t, Config{Kernel: "chunker"})
	require.Equal(t, 1, p.NumInputs())
	require.Equal(t, 1, p.NumOutputs())
	require.Equal(t, "proxy/chunker", p.String())

	src := core.NewOutputSocket(nil)
	require.Nil(t, src.Connect(p.In(0)))

	dst := newSink()
	require.Nil(t, p.Out(0).Connect(dst.InputSocket))

	packet := core.NewPacketFromSlice(core.BufferSliceFromBytes([]byte("abcde"), nil), 5, 0)
	ok, err := src.Transfer(packet).Wait()
	require.Nil(t, err)
	require.True(t, ok)

	ok, err = src.Transfer(core.NewPacketFromSymbol(core.SymbolEOS)).Wait()
	require.Nil(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return len(dst.Packets()) == 2
	}, time.Second, time.Millisecond*10)

	packets := dst.Packets()
	var parts []string
	for _, slice := range packets[0].Slices() {
		parts = append(parts, string(slice.Bytes()))
	}
	require.Equal(t, []string{"ab", "cd", "e"}, parts)
	require.Equal(t, int64(5), packets[0].Timestamp)
	require.True(t, packets[1].Is(core.SymbolEOS))
}

func TestProxySignal(t *testing.T) {
	p := startPipe(t, Config{Kernel: "chunker"})

	signals := make(chan *core.Signal, 1)
	src := core.NewOutputSocket(nil, core.WithSignalHandler(func(signal *core.Signal) bool {
		signals <- signal
		return true
	}))
	require.Nil(t, src.Connect(p.In(0)))

	dst := newSink()
	require.Nil(t, p.Out(0).Connect(dst.InputSocket))

	// up from the sink, through the remote chunker, back to the local source
	ok, err := dst.Cast(core.NewSeekSignal(10, 20))
	require.Nil(t, err)
	require.True(t, ok)

	select {
	case signal := <-signals:
		require.Equal(t, core.SignalTypeSeek, signal.Type)
		require.Equal(t, int64(10), signal.Start)
		require.Equal(t, int64(20), signal.End)
	case <-time.After(time.Second):
		require.Fail(t, "signal not delivered")
	}
}

func TestProxyRemoteError(t *testing.T) {
	p := startPipe(t, Config{Name: "remote-fail", Kernel: "fail"})

	errs := make(chan error, 1)
	p.Listen(func(event core.Event) {
		if event.Type == core.EventError {
			errs <- event.Err
		}
	})

	src := core.NewOutputSocket(nil)
	require.Nil(t, src.Connect(p.In(0)))
	src.Transfer(core.NewPacketFromSlice(core.BufferSliceFromBytes([]byte("x"), nil), 0, 0))

	select {
	case err := <-errs:
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		require.Equal(t, "fail", remote.Kernel)
		require.Equal(t, "boom", remote.Message)
	case <-time.After(time.Second):
		require.Fail(t, "error not delivered")
	}
}

func TestProxyUnknownKernel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := Pipe()

	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, remote, testFactory)
	}()

	p := NewProxy(Config{Kernel: "nope", HandshakeTimeout: time.Second * 10}, local)
	defer p.Close()

	var errs int
	p.Listen(func(event core.Event) {
		if event.Type == core.EventError {
			errs++
		}
	})

	start := time.Now()
	err := p.Start(ctx)
	require.Less(t, time.Since(start), time.Second*5)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, "nope", remoteErr.Kernel)
	require.Contains(t, remoteErr.Message, ErrUnknownKernel.Error())
	require.Equal(t, err, p.Err())

	require.ErrorIs(t, <-served, ErrUnknownKernel)

	// the remote close after the failure is not one more error
	select {
	case <-p.stopped:
	case <-time.After(time.Second):
		require.Fail(t, "read loop not stopped")
	}
	require.Equal(t, 0, errs)
}

func TestProxyClosedAfterRemoteError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := Pipe()

	serveCtx, stopServe := context.WithCancel(ctx)
	go func() {
		_ = Serve(serveCtx, remote, testFactory)
	}()

	p := NewProxy(Config{Kernel: "fail"}, local)
	defer p.Close()
	require.Nil(t, p.Start(ctx))

	var mu sync.Mutex
	var errs []error
	p.Listen(func(event core.Event) {
		if event.Type == core.EventError {
			mu.Lock()
			errs = append(errs, event.Err)
			mu.Unlock()
		}
	})

	src := core.NewOutputSocket(nil)
	require.Nil(t, src.Connect(p.In(0)))
	src.Transfer(core.NewPacketFromSlice(core.BufferSliceFromBytes([]byte("x"), nil), 0, 0))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, time.Second, time.Millisecond)

	// transport failure after the remote error
	stopServe()

	select {
	case <-p.stopped:
	case <-time.After(time.Second):
		require.Fail(t, "read loop not stopped")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	var remoteErr *RemoteError
	require.ErrorAs(t, errs[0], &remoteErr)
}

func TestProxyRemoteGone(t *testing.T) {
	local, remote := Pipe()
	go func() {
		// remote side closes without handshake
		_, _ = remote.Receive()
		_ = remote.Close()
	}()

	p := NewProxy(Config{Kernel: "chunker", HandshakeTimeout: time.Second * 10}, local)
	defer p.Close()

	require.Error(t, p.Start(context.Background()))
}

func TestProxyWebsocket(t *testing.T) {
	server := httptest.NewServer(Handler(testFactory))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := Dial(ctx, Config{
		URL:    "ws" + strings.TrimPrefix(server.URL, "http"),
		Kernel: "chunker",
	})
	require.Nil(t, err)
	defer p.Close()

	src := core.NewOutputSocket(nil)
	require.Nil(t, src.Connect(p.In(0)))

	dst := newSink()
	require.Nil(t, p.Out(0).Connect(dst.InputSocket))

	src.Transfer(core.NewPacketFromSlice(core.BufferSliceFromBytes([]byte("wxyz"), nil), 0, 0))

	require.Eventually(t, func() bool {
		return len(dst.Packets()) == 1
	}, time.Second*2, time.Millisecond*10)
	require.Len(t, dst.Packets()[0].Slices(), 2)
}
