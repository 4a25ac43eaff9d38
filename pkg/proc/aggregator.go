package proc

import (
	"sync"
	"time"

	"github.com/mflow/mflow/pkg/core"
)

// Aggregator - N inputs to one output. Data is buffered per input and emitted
// in input order when every input reported EOS for the synchronization id:
//   - EOS twice on one input and sync id counts once, finalize happens once
//   - SYNC starts a new epoch for its sync id and goes downstream
//   - FLUSH emits buffered data now, DROP discards it
//   - with a stall timeout buffered data is flushed after that long without input
type Aggregator struct {
	*core.Processor

	mu        sync.Mutex
	buffered  [][]*core.Packet
	epochs    map[uint32][]bool
	finalized map[uint32]bool
	count     int
	stall     *core.Worker
}

func NewAggregator(inputs int, stallTimeout time.Duration) *Aggregator {
	a := &Aggregator{
		buffered:  make([][]*core.Packet, inputs),
		epochs:    map[uint32][]bool{},
		finalized: map[uint32]bool{},
	}
	a.Processor = core.NewProcessor(a)
	for i := 0; i < inputs; i++ {
		a.CreateInput(nil)
	}
	a.CreateOutput(nil)

	if stallTimeout > 0 {
		a.stall = core.NewWorker(stallTimeout, a.onStall)
	}
	return a
}

func (a *Aggregator) TemplateSocketDescriptor(core.SocketType) *core.SocketDescriptor {
	return &core.SocketDescriptor{}
}

func (a *Aggregator) ProcessTransfer(_ *core.InputSocket, packet *core.Packet, index int) bool {
	a.mu.Lock()
	a.buffered[index] = append(a.buffered[index], packet)
	a.mu.Unlock()

	a.stall.Kick()
	return true
}

func (a *Aggregator) ProcessSymbol(_ *core.InputSocket, packet *core.Packet, index int) bool {
	switch packet.Symbol() {
	case core.SymbolEOS:
		return a.eos(packet, index)

	case core.SymbolSync:
		a.mu.Lock()
		delete(a.epochs, packet.SynchronizationID)
		delete(a.finalized, packet.SynchronizationID)
		a.mu.Unlock()
		return forward(a.Out(0), packet)

	case core.SymbolFlush:
		a.flush()
		return forward(a.Out(0), packet)

	case core.SymbolDrop, core.SymbolDropQueue:
		a.mu.Lock()
		for i := range a.buffered {
			a.buffered[i] = nil
		}
		a.mu.Unlock()
		a.stall.Pause()
		return forward(a.Out(0), packet)
	}

	return forward(a.Out(0), packet)
}

// Finalized - how many times all inputs reached EOS
func (a *Aggregator) Finalized() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Buffered - packets waiting in all inputs
func (a *Aggregator) Buffered() (n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, packets := range a.buffered {
		n += len(packets)
	}
	return
}

func (a *Aggregator) Close() {
	a.stall.Stop()
	a.Processor.Close()
}

func (a *Aggregator) eos(packet *core.Packet, index int) bool {
	sid := packet.SynchronizationID

	a.mu.Lock()
	if a.finalized[sid] {
		a.mu.Unlock()
		return true
	}

	seen := a.epochs[sid]
	if seen == nil {
		seen = make([]bool, len(a.buffered))
		a.epochs[sid] = seen
	}
	seen[index] = true

	for _, ok := range seen {
		if !ok {
			a.mu.Unlock()
			return true
		}
	}

	a.finalized[sid] = true
	delete(a.epochs, sid)
	a.count++
	a.mu.Unlock()

	a.flush()

	eos := core.NewPacketFromSymbol(core.SymbolEOS)
	eos.SynchronizationID = sid
	return forward(a.Out(0), eos)
}

func (a *Aggregator) flush() bool {
	a.mu.Lock()
	var packets []*core.Packet
	for i, buffered := range a.buffered {
		packets = append(packets, buffered...)
		a.buffered[i] = nil
	}
	a.mu.Unlock()

	a.stall.Pause()

	ok := true
	for _, packet := range packets {
		ok = forward(a.Out(0), packet) && ok
	}
	return ok
}

func (a *Aggregator) onStall() {
	if n := a.Buffered(); n > 0 {
		a.Logger().Warn().Msgf("[proc] aggregator=%s stalled, flush %d packets", a, n)
		a.flush()
	}
}
