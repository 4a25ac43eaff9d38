package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mflow/mflow/pkg/core"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Factory - build a processor for the kernel name from MessageOpen
type Factory func(kernel string) (*core.Processor, error)

var (
	ErrUnknownKernel = errors.New("proxy: unknown kernel")
	ErrNoHandshake   = errors.New("proxy: first message must be open")

	errSessionEnd = errors.New("proxy: session end")
)

// Serve - remote side of a Proxy, blocks until the connection is closed
func Serve(ctx context.Context, conn Conn, factory Factory) error {
	s := &session{
		id:      uuid.NewString(),
		conn:    conn,
		feeders: map[int]*core.OutputSocket{},
		taps:    map[int]*core.InputSocket{},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	g.Go(func() error {
		defer s.close()
		return s.run(factory)
	})

	err := g.Wait()
	if errors.Is(err, errSessionEnd) || ctx.Err() != nil {
		return nil
	}
	return err
}

// Handler - websocket endpoint for Dial
func Handler(factory Factory) http.Handler {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 512 * 1024, // 512K
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Caller().Msgf("[proxy] host=%s", r.Host)
			return
		}

		if err = Serve(r.Context(), NewWebsocketConn(ws), factory); err != nil {
			log.Warn().Err(err).Msgf("[proxy] remote=%s", r.RemoteAddr)
		}
	})
}

// session - every remote input is fed by a private output (feeder),
// every remote output is drained by a private input (tap)
type session struct {
	id   string
	conn Conn
	proc *core.Processor

	mu      sync.Mutex
	feeders map[int]*core.OutputSocket
	taps    map[int]*core.InputSocket
}

func (s *session) run(factory Factory) error {
	msg, err := s.conn.Receive()
	if err != nil {
		return s.receiveError(err)
	}
	if msg.Type != MessageOpen {
		return ErrNoHandshake
	}

	if s.proc, err = factory(msg.Kernel); err != nil {
		_ = s.conn.Send(&Message{Type: MessageError, Error: err.Error()})
		return err
	}

	s.proc.Logger().Debug().Msgf("[proxy] session=%s open kernel=%s inputs=%d", s.id, msg.Kernel, msg.Index)

	unlisten := s.proc.Listen(s.onEvent)
	defer unlisten()

	for i, in := range s.proc.Inputs() {
		s.attachInput(i, in)
	}
	for i, out := range s.proc.Outputs() {
		s.attachOutput(i, out)
	}
	for s.proc.NumInputs() < msg.Index {
		s.proc.CreateInput(nil)
	}

	if err = s.conn.Send(&Message{Type: MessageReady}); err != nil {
		return err
	}

	for {
		if msg, err = s.conn.Receive(); err != nil {
			return s.receiveError(err)
		}
		if msg.Type == MessageClose {
			return errSessionEnd
		}
		s.handle(msg)
	}
}

func (s *session) handle(msg *Message) {
	switch msg.Type {
	case MessageTransfer:
		feeder := s.feeder(msg.Index)
		if feeder == nil || msg.Packet == nil {
			return
		}
		packet := DecodePacket(msg.Packet)
		feeder.Transfer(packet).Then(func(_ bool, err error) {
			if err != nil {
				s.proc.Logger().Warn().Err(err).Msgf("[proxy] input=%d packet={%s}", msg.Index, packet)
			}
		})

	case MessageSignal:
		if msg.Signal == nil {
			return
		}
		var err error
		switch msg.SocketType {
		case core.SocketTypeInput:
			if feeder := s.feeder(msg.Index); feeder != nil {
				_, err = feeder.Cast(msg.Signal)
			}
		case core.SocketTypeOutput:
			if tap := s.tap(msg.Index); tap != nil {
				_, err = tap.Cast(msg.Signal)
			}
		}
		if err != nil {
			s.proc.Logger().Warn().Err(err).Msgf("[proxy] signal=%s", msg.Signal)
		}
	}
}

func (s *session) onEvent(event core.Event) {
	switch event.Type {
	case core.EventInputSocketCreated:
		s.attachInput(event.Index, event.Socket.(*core.InputSocket))
	case core.EventOutputSocketCreated:
		s.attachOutput(event.Index, event.Socket.(*core.OutputSocket))
	case core.EventError:
		_ = s.conn.Send(&Message{Type: MessageError, Error: event.Err.Error()})
	}
}

func (s *session) attachInput(index int, in *core.InputSocket) {
	s.mu.Lock()
	if _, ok := s.feeders[index]; ok {
		s.mu.Unlock()
		return
	}
	feeder := core.NewOutputSocket(nil,
		core.WithName(fmt.Sprintf("proxy/feed%d", index)),
		core.WithSignalHandler(func(signal *core.Signal) bool {
			msg := &Message{Type: MessageSignal, SocketType: core.SocketTypeInput, Index: index, Signal: signal}
			return s.conn.Send(msg) == nil
		}),
	)
	s.feeders[index] = feeder
	s.mu.Unlock()

	if err := feeder.Connect(in); err != nil {
		s.proc.Logger().Warn().Err(err).Msgf("[proxy] input=%d", index)
	}

	msg := &Message{Type: MessageSocketCreated, SocketType: core.SocketTypeInput, Index: index, Descriptor: in.Descriptor()}
	_ = s.conn.Send(msg)
}

func (s *session) attachOutput(index int, out *core.OutputSocket) {
	s.mu.Lock()
	if _, ok := s.taps[index]; ok {
		s.mu.Unlock()
		return
	}
	tap := core.NewInputSocket(
		func(_ *core.InputSocket, packet *core.Packet) bool {
			msg := &Message{Type: MessageTransfer, SocketType: core.SocketTypeOutput, Index: index, Packet: EncodePacket(packet)}
			return s.conn.Send(msg) == nil
		},
		nil,
		core.WithName(fmt.Sprintf("proxy/tap%d", index)),
		core.WithSignalHandler(func(signal *core.Signal) bool {
			msg := &Message{Type: MessageSignal, SocketType: core.SocketTypeOutput, Index: index, Signal: signal}
			return s.conn.Send(msg) == nil
		}),
	)
	s.taps[index] = tap
	s.mu.Unlock()

	// created message goes first, so the local output exists before any transfer
	msg := &Message{Type: MessageSocketCreated, SocketType: core.SocketTypeOutput, Index: index, Descriptor: out.Descriptor()}
	_ = s.conn.Send(msg)

	if err := out.Connect(tap); err != nil {
		s.proc.Logger().Warn().Err(err).Msgf("[proxy] output=%d", index)
	}
}

func (s *session) feeder(index int) *core.OutputSocket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeders[index]
}

func (s *session) tap(index int) *core.InputSocket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taps[index]
}

func (s *session) receiveError(err error) error {
	if errors.Is(err, ErrConnClosed) {
		return errSessionEnd
	}
	return err
}

func (s *session) close() {
	if s.proc != nil {
		s.proc.Close()
	}

	s.mu.Lock()
	for _, feeder := range s.feeders {
		feeder.Close()
	}
	for _, tap := range s.taps {
		tap.Close()
	}
	s.mu.Unlock()
}
