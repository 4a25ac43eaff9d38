package proc

import (
	"github.com/mflow/mflow/pkg/core"
)

// chunker - splits data into slices of max size, bytes are not copied
type chunker struct {
	proc *core.Processor
	size int
}

func NewChunker(size int) *core.Processor {
	k := &chunker{size: size}
	k.proc = core.NewProcessor(k)
	k.proc.CreateInput(nil)
	k.proc.CreateOutput(nil)
	return k.proc
}

func (k *chunker) TemplateSocketDescriptor(core.SocketType) *core.SocketDescriptor {
	return &core.SocketDescriptor{}
}

func (k *chunker) ProcessTransfer(_ *core.InputSocket, packet *core.Packet, _ int) bool {
	if packet.IsSymbolic() || k.size <= 0 {
		return forward(k.proc.Out(0), packet)
	}

	chunked := core.NewPacketFromSlices(packet.Timestamp, packet.PresentationTimeOffset)
	chunked.TimeScale = packet.TimeScale
	chunked.TimestampOffset = packet.TimestampOffset
	chunked.SynchronizationID = packet.SynchronizationID

	for _, slice := range packet.Slices() {
		for offset := 0; offset < slice.Len(); offset += k.size {
			size := min(k.size, slice.Len()-offset)
			part, err := slice.Unwrap(offset, size)
			if err != nil {
				k.proc.EmitError(err)
				return false
			}
			_ = chunked.AppendSlice(part)
		}
	}

	return forward(k.proc.Out(0), chunked)
}
