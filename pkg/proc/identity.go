// Package proc has stock processors built on core.Processor
package proc

import (
	"github.com/mflow/mflow/pkg/core"
	"github.com/rs/zerolog/log"
)

// identity - input N forwards unchanged to output N
type identity struct {
	proc *core.Processor
}

// NewIdentity - one input and one output, more inputs get outputs lazily
func NewIdentity() *core.Processor {
	k := &identity{}
	k.proc = core.NewProcessor(k)
	k.proc.CreateInput(nil)
	k.proc.CreateOutput(nil)
	return k.proc
}

func (k *identity) TemplateSocketDescriptor(core.SocketType) *core.SocketDescriptor {
	return &core.SocketDescriptor{}
}

func (k *identity) ProcessTransfer(_ *core.InputSocket, packet *core.Packet, index int) bool {
	return forward(outputFor(k.proc, index, nil), packet)
}

// filter - 1 to 1 processor applying a core.PacketFilter
type filter struct {
	proc *core.Processor
	fn   core.PacketFilter
}

// NewFunc - processor that rewrites every packet with fn, nil result drops the packet
func NewFunc(fn core.PacketFilter) *core.Processor {
	k := &filter{fn: fn}
	k.proc = core.NewProcessor(k)
	k.proc.CreateInput(nil)
	k.proc.CreateOutput(nil)
	return k.proc
}

func (k *filter) TemplateSocketDescriptor(core.SocketType) *core.SocketDescriptor {
	return &core.SocketDescriptor{}
}

func (k *filter) ProcessTransfer(_ *core.InputSocket, packet *core.Packet, _ int) bool {
	if packet = k.fn(packet); packet == nil {
		return true
	}
	return forward(k.proc.Out(0), packet)
}

// outputFor - output with the index, created with desc when missing
func outputFor(p *core.Processor, index int, desc *core.SocketDescriptor) *core.OutputSocket {
	for p.NumOutputs() <= index {
		p.CreateOutput(desc)
	}
	return p.Out(index)
}

// forward - never waits, a receiver may be queued on the executor running this kernel.
// Result is known only when the transfer finished inline.
func forward(out *core.OutputSocket, packet *core.Packet) bool {
	c := out.Transfer(packet)
	select {
	case <-c.Done():
		ok, err := c.Wait()
		if err != nil {
			logTransfer(out, err)
		}
		return ok
	default:
		c.Then(func(_ bool, err error) {
			if err != nil {
				logTransfer(out, err)
			}
		})
		return true
	}
}

func logTransfer(out *core.OutputSocket, err error) {
	l := &log.Logger
	if p := out.Owner(); p != nil {
		l = p.Logger()
	}
	l.Warn().Err(err).Msgf("[proc] transfer from %s", out.Name())
}
