package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mflow/mflow/pkg/core"
)

// Config - explicit proxy settings, usually a part of the pipeline yaml
type Config struct {
	Name             string        `yaml:"name"`
	URL              string        `yaml:"url"`    // ws://host:port/path of the remote Handler
	Kernel           string        `yaml:"kernel"` // name passed to the remote Factory
	Inputs           int           `yaml:"inputs"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

const defaultHandshakeTimeout = time.Second * 5

var ErrHandshakeTimeout = errors.New("proxy: handshake timeout")

// RemoteError - error event of the remote processor
type RemoteError struct {
	Kernel  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("proxy: remote kernel=%s: %s", e.Kernel, e.Message)
}

// Proxy - local stand-in for a processor in another process.
// Sockets appear when the remote side reports them, with the same
// indexes and descriptors.
type Proxy struct {
	*core.Processor

	cfg  Config
	conn Conn

	ready     chan struct{}
	readyOnce sync.Once
	stopped   chan struct{} // read loop exited
	closed    atomic.Bool

	mu     sync.Mutex
	err    error // first remote or transport error
	failed chan struct{}
}

func NewProxy(cfg Config, conn Conn) *Proxy {
	p := &Proxy{
		cfg:     cfg,
		conn:    conn,
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
		failed:  make(chan struct{}),
	}
	p.Processor = core.NewProcessor(p)
	if cfg.Name != "" {
		p.Name = cfg.Name
	} else {
		p.Name = "proxy/" + cfg.Kernel
	}
	return p
}

// Dial - connect to the remote Handler and finish the handshake
func Dial(ctx context.Context, cfg Config) (*Proxy, error) {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	p := NewProxy(cfg, NewWebsocketConn(ws))
	if err = p.Start(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Start - run the read loop in background, send the open request and wait
// until the remote sockets are mirrored. A remote failure before the
// handshake is returned as *RemoteError.
func (p *Proxy) Start(ctx context.Context) error {
	go func() {
		defer close(p.stopped)
		if err := p.Run(ctx); err != nil && p.fail(err) && p.isReady() {
			p.EmitError(err)
		}
	}()

	msg := &Message{Type: MessageOpen, Kernel: p.cfg.Kernel, Index: p.cfg.Inputs}
	if err := p.conn.Send(msg); err != nil {
		return err
	}

	timeout := p.cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.ready:
		return nil
	case <-p.failed:
		if p.isReady() {
			return nil
		}
		return p.Err()
	case <-p.stopped:
		if p.isReady() {
			return nil
		}
		if err := p.Err(); err != nil {
			return err
		}
		return ErrConnClosed
	case <-timer.C:
		return ErrHandshakeTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err - first remote or transport error
func (p *Proxy) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// fail - save the first error, false if some error was already saved
func (p *Proxy) fail(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return false
	}
	p.err = err
	close(p.failed)
	return true
}

func (p *Proxy) isReady() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// Ready - closed after the handshake
func (p *Proxy) Ready() <-chan struct{} {
	return p.ready
}

// Run - read loop, nil when either side closes the proxy
func (p *Proxy) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = p.conn.Close()
	})
	defer stop()

	for {
		msg, err := p.conn.Receive()
		if err != nil {
			if p.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if msg.Type == MessageClose {
			p.Logger().Debug().Msgf("[proxy] remote closed kernel=%s", p.cfg.Kernel)
			return nil
		}

		p.handle(msg)
	}
}

func (p *Proxy) Close() {
	if p.closed.Swap(true) {
		return
	}
	_ = p.conn.Send(&Message{Type: MessageClose})
	_ = p.conn.Close()
	p.Processor.Close()
}

func (p *Proxy) TemplateSocketDescriptor(core.SocketType) *core.SocketDescriptor {
	return nil
}

// ProcessTransfer - local input packets go to the same remote input
func (p *Proxy) ProcessTransfer(_ *core.InputSocket, packet *core.Packet, index int) bool {
	msg := &Message{Type: MessageTransfer, SocketType: core.SocketTypeInput, Index: index, Packet: EncodePacket(packet)}
	if err := p.conn.Send(msg); err != nil {
		p.Logger().Warn().Err(err).Msgf("[proxy] send kernel=%s input=%d", p.cfg.Kernel, index)
		return false
	}
	return true
}

// HandleSignal - signals are answered by the remote processor,
// true means only that the signal was delivered
func (p *Proxy) HandleSignal(from core.Socket, signal *core.Signal) bool {
	index := p.indexOf(from)
	if index < 0 {
		return false
	}

	msg := &Message{Type: MessageSignal, SocketType: from.Type(), Index: index, Signal: signal}
	if err := p.conn.Send(msg); err != nil {
		p.Logger().Warn().Err(err).Msgf("[proxy] send kernel=%s signal=%s", p.cfg.Kernel, signal)
		return false
	}
	return true
}

func (p *Proxy) handle(msg *Message) {
	switch msg.Type {
	case MessageReady:
		p.readyOnce.Do(func() { close(p.ready) })

	case MessageSocketCreated:
		p.mirror(msg)

	case MessageTransfer:
		out := p.Out(msg.Index)
		if out == nil || msg.Packet == nil {
			p.Logger().Warn().Msgf("[proxy] transfer to unknown output=%d", msg.Index)
			return
		}
		packet := DecodePacket(msg.Packet)
		out.Transfer(packet).Then(func(_ bool, err error) {
			if err != nil {
				p.Logger().Warn().Err(err).Msgf("[proxy] output=%d packet={%s}", msg.Index, packet)
			}
		})

	case MessageSignal:
		if msg.Signal == nil {
			return
		}
		var socket core.Socket
		switch msg.SocketType {
		case core.SocketTypeInput:
			if in := p.In(msg.Index); in != nil {
				socket = in
			}
		case core.SocketTypeOutput:
			if out := p.Out(msg.Index); out != nil {
				socket = out
			}
		}
		if socket == nil {
			return
		}
		if _, err := socket.Cast(msg.Signal); err != nil {
			p.Logger().Warn().Err(err).Msgf("[proxy] signal=%s", msg.Signal)
		}

	case MessageError:
		err := &RemoteError{Kernel: p.cfg.Kernel, Message: msg.Error}
		p.fail(err)
		if p.isReady() {
			p.EmitError(err)
		} else {
			p.Logger().Debug().Err(err).Msg("[proxy] handshake")
		}

	default:
		p.Logger().Trace().Msgf("[proxy] skip message=%s", msg.Type)
	}
}

// mirror - create local sockets up to the remote index, fires the usual
// socket created events
func (p *Proxy) mirror(msg *Message) {
	switch msg.SocketType {
	case core.SocketTypeInput:
		for p.NumInputs() <= msg.Index {
			p.CreateInput(msg.Descriptor)
		}
	case core.SocketTypeOutput:
		for p.NumOutputs() <= msg.Index {
			p.CreateOutput(msg.Descriptor)
		}
	}
}

func (p *Proxy) indexOf(socket core.Socket) int {
	switch s := socket.(type) {
	case *core.InputSocket:
		for i, in := range p.Inputs() {
			if in == s {
				return i
			}
		}
	case *core.OutputSocket:
		for i, out := range p.Outputs() {
			if out == s {
				return i
			}
		}
	}
	return -1
}
