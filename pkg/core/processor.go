package core

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kernel - the processing part of a Processor
type Kernel interface {
	// TemplateSocketDescriptor - default descriptor for new sockets of typ
	TemplateSocketDescriptor(typ SocketType) *SocketDescriptor
	// ProcessTransfer - packet arrived on input number index
	ProcessTransfer(in *InputSocket, packet *Packet, index int) bool
}

// SymbolHandler - optional Kernel part that receives symbolic packets
// instead of ProcessTransfer
type SymbolHandler interface {
	ProcessSymbol(in *InputSocket, packet *Packet, index int) bool
}

// SignalHandler - optional Kernel part that replaces PropagateSignal
type SignalHandler interface {
	HandleSignal(from Socket, signal *Signal) bool
}

type EventType byte

const (
	EventInputSocketCreated EventType = iota + 1
	EventOutputSocketCreated
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventInputSocketCreated:
		return "input-socket-created"
	case EventOutputSocketCreated:
		return "output-socket-created"
	case EventError:
		return "error"
	}
	return "unknown"
}

type Event struct {
	Type      EventType
	Processor *Processor
	Socket    Socket // for socket events
	Index     int    // socket position
	Err       error  // for EventError
}

// Processor - graph node owning ordered inputs and outputs.
// Sockets are never removed, so an index stays valid for the processor life.
type Processor struct {
	ID   uint32
	Name string

	kernel Kernel

	mu        sync.Mutex
	inputs    []*InputSocket
	outputs   []*OutputSocket
	listeners map[int]func(Event)
	listenID  int
	executor  Executor
	log       zerolog.Logger
}

func NewProcessor(kernel Kernel) *Processor {
	return &Processor{
		ID:        NewID(),
		kernel:    kernel,
		listeners: map[int]func(Event){},
		executor:  Inline,
		log:       log.Logger,
	}
}

func (p *Processor) Kernel() Kernel {
	return p.kernel
}

// CreateInput - nil desc means the kernel template
func (p *Processor) CreateInput(desc *SocketDescriptor, opts ...SocketOption) *InputSocket {
	if desc == nil {
		desc = p.kernel.TemplateSocketDescriptor(SocketTypeInput)
	}

	p.mu.Lock()
	index := len(p.inputs)
	opts = append([]SocketOption{
		withOwner(p),
		WithExecutor(p.executor),
		WithName(fmt.Sprintf("%s/in%d", p, index)),
	}, opts...)
	in := NewInputSocket(func(in *InputSocket, packet *Packet) bool {
		return p.route(in, packet, index)
	}, desc, opts...)
	p.inputs = append(p.inputs, in)
	p.mu.Unlock()

	p.fire(Event{Type: EventInputSocketCreated, Processor: p, Socket: in, Index: index})
	return in
}

// CreateOutput - can be called any time, also from ProcessTransfer
func (p *Processor) CreateOutput(desc *SocketDescriptor, opts ...SocketOption) *OutputSocket {
	if desc == nil {
		desc = p.kernel.TemplateSocketDescriptor(SocketTypeOutput)
	}

	p.mu.Lock()
	index := len(p.outputs)
	opts = append([]SocketOption{
		withOwner(p),
		WithName(fmt.Sprintf("%s/out%d", p, index)),
	}, opts...)
	out := NewOutputSocket(desc, opts...)
	p.outputs = append(p.outputs, out)
	p.mu.Unlock()

	p.fire(Event{Type: EventOutputSocketCreated, Processor: p, Socket: out, Index: index})
	return out
}

// In - input by index or nil
func (p *Processor) In(i int) *InputSocket {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.inputs) {
		return nil
	}
	return p.inputs[i]
}

// Out - output by index or nil
func (p *Processor) Out(i int) *OutputSocket {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.outputs) {
		return nil
	}
	return p.outputs[i]
}

func (p *Processor) Inputs() []*InputSocket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*InputSocket(nil), p.inputs...)
}

func (p *Processor) Outputs() []*OutputSocket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*OutputSocket(nil), p.outputs...)
}

func (p *Processor) NumInputs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inputs)
}

func (p *Processor) NumOutputs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outputs)
}

// Listen - subscribe to processor events, returns unsubscribe func
func (p *Processor) Listen(f func(event Event)) func() {
	p.mu.Lock()
	id := p.listenID
	p.listenID++
	p.listeners[id] = f
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// EmitError - report a run failure to listeners (Flow)
func (p *Processor) EmitError(err error) {
	p.Logger().Error().Err(err).Msgf("[core] processor=%s", p)
	p.fire(Event{Type: EventError, Processor: p, Err: err})
}

// SetExecutor - used by all inputs, also already created
func (p *Processor) SetExecutor(executor Executor) {
	if executor == nil {
		executor = Inline
	}
	p.mu.Lock()
	p.executor = executor
	inputs := append([]*InputSocket(nil), p.inputs...)
	p.mu.Unlock()

	for _, in := range inputs {
		in.SetExecutor(executor)
	}
}

func (p *Processor) Executor() Executor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executor
}

func (p *Processor) SetLogger(l zerolog.Logger) {
	p.mu.Lock()
	p.log = l
	p.mu.Unlock()
}

func (p *Processor) Logger() *zerolog.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := p.log
	return &l
}

// PropagateSignal - default signal policy:
// down signals from an input go to all outputs, up signals from an output go to all inputs
func (p *Processor) PropagateSignal(from Socket, signal *Signal) bool {
	var sockets []Socket

	switch {
	case from.Type() == SocketTypeInput && signal.Direction == SignalDirectionDown:
		for _, out := range p.Outputs() {
			sockets = append(sockets, out)
		}
	case from.Type() == SocketTypeOutput && signal.Direction == SignalDirectionUp:
		for _, in := range p.Inputs() {
			sockets = append(sockets, in)
		}
	default:
		return false
	}

	var ok bool
	for _, socket := range sockets {
		res, err := socket.Cast(signal)
		if err != nil {
			p.Logger().Warn().Err(err).Msgf("[core] processor=%s signal=%s", p, signal)
		}
		ok = ok || res
	}
	return ok
}

// Close - close all sockets
func (p *Processor) Close() {
	for _, in := range p.Inputs() {
		in.Close()
	}
	for _, out := range p.Outputs() {
		out.Close()
	}
}

func (p *Processor) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("processor#%d", p.ID)
}

// route - a panic in the kernel stays here and becomes false
func (p *Processor) route(in *InputSocket, packet *Packet, index int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.Logger().Error().Msgf("[core] processor=%s input=%d packet={%s} panic: %v", p, index, packet, r)
			ok = false
		}
	}()

	if packet.IsSymbolic() {
		if handler, ok := p.kernel.(SymbolHandler); ok {
			return handler.ProcessSymbol(in, packet, index)
		}
	}
	return p.kernel.ProcessTransfer(in, packet, index)
}

func (p *Processor) handleSignal(from Socket, signal *Signal) bool {
	if handler, ok := p.kernel.(SignalHandler); ok {
		return handler.HandleSignal(from, signal)
	}
	return p.PropagateSignal(from, signal)
}

func (p *Processor) fire(event Event) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, p.listeners[id])
	}
	p.mu.Unlock()

	for _, f := range listeners {
		f(event)
	}
}
