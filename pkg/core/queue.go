package core

import (
	"sync"
)

// Queue - InputSocket that stores received packets in arrival order
// until somebody pulls them
type Queue struct {
	*InputSocket

	qmu      sync.Mutex
	packets  []*Packet
	handlers []func(packet *Packet)
}

func NewQueue(desc *SocketDescriptor, opts ...SocketOption) *Queue {
	q := &Queue{}
	q.InputSocket = NewInputSocket(func(_ *InputSocket, packet *Packet) bool {
		q.push(packet)
		return true
	}, desc, opts...)
	return q
}

// OnPacket - f runs after every stored packet
func (q *Queue) OnPacket(f func(packet *Packet)) {
	q.qmu.Lock()
	q.handlers = append(q.handlers, f)
	q.qmu.Unlock()
}

func (q *Queue) Peek() *Packet {
	q.qmu.Lock()
	defer q.qmu.Unlock()
	if len(q.packets) == 0 {
		return nil
	}
	return q.packets[0]
}

// Pop - oldest packet or nil
func (q *Queue) Pop() *Packet {
	q.qmu.Lock()
	defer q.qmu.Unlock()
	if len(q.packets) == 0 {
		return nil
	}
	packet := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	return packet
}

// Dequeue - remove and return all packets
func (q *Queue) Dequeue() []*Packet {
	q.qmu.Lock()
	packets := q.packets
	q.packets = nil
	q.qmu.Unlock()
	return packets
}

func (q *Queue) Len() int {
	q.qmu.Lock()
	defer q.qmu.Unlock()
	return len(q.packets)
}

func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Drop - discard all packets, returns how many
func (q *Queue) Drop() int {
	return len(q.Dequeue())
}

func (q *Queue) push(packet *Packet) {
	q.qmu.Lock()
	q.packets = append(q.packets, packet)
	handlers := q.handlers
	q.qmu.Unlock()

	for _, f := range handlers {
		f(packet)
	}
}

// PacketFilter - rewrite a packet on its way out, nil drops it
type PacketFilter func(packet *Packet) *Packet

// Valve - OutputSocket that pushes packets of one Queue on demand
type Valve struct {
	*OutputSocket

	queue *Queue

	fmu     sync.Mutex
	filters []PacketFilter
}

func NewValve(queue *Queue, filters ...PacketFilter) *Valve {
	return &Valve{
		OutputSocket: NewOutputSocket(queue.Descriptor()),
		queue:        queue,
		filters:      filters,
	}
}

// WrapOutput - connect out to a new Queue and return it with its Valve,
// so the consumer decides when packets of out move on
func WrapOutput(out *OutputSocket, filters ...PacketFilter) (*Queue, *Valve, error) {
	queue := NewQueue(out.Descriptor())
	if err := out.Connect(queue.InputSocket); err != nil {
		return nil, nil, err
	}
	return queue, NewValve(queue, filters...), nil
}

func (v *Valve) Queue() *Queue {
	return v.queue
}

func (v *Valve) AddFilter(filter PacketFilter) {
	v.fmu.Lock()
	v.filters = append(v.filters[:len(v.filters):len(v.filters)], filter)
	v.fmu.Unlock()
}

// TransferOne - pop one packet, apply filters and transfer it.
// Returns false when the queue is empty.
func (v *Valve) TransferOne() (*Completion, bool) {
	packet := v.queue.Pop()
	if packet == nil {
		return nil, false
	}

	v.fmu.Lock()
	filters := v.filters
	v.fmu.Unlock()

	for _, filter := range filters {
		if packet = filter(packet); packet == nil {
			return Resolved(true, nil), true
		}
	}

	return v.Transfer(packet), true
}

// Drain - TransferOne until the queue is empty
func (v *Valve) Drain() *Completion {
	var list []*Completion
	for {
		c, ok := v.TransferOne()
		if !ok {
			break
		}
		list = append(list, c)
	}
	return WhenAll(list...)
}

// RewriteEOSToSync - downstream aggregators see a new epoch instead of the end
func RewriteEOSToSync(packet *Packet) *Packet {
	if !packet.Is(SymbolEOS) {
		return packet
	}
	clone := packet.Clone()
	clone.symbol = SymbolSync
	return clone
}

// ShiftTimestamps - move data packets by delta ticks of their own time scale,
// used to concatenate sources
func ShiftTimestamps(delta int64) PacketFilter {
	return func(packet *Packet) *Packet {
		if packet.IsSymbolic() {
			return packet
		}
		clone := packet.Clone()
		clone.Timestamp += delta
		return clone
	}
}

func DropSymbols(symbols ...PacketSymbol) PacketFilter {
	return func(packet *Packet) *Packet {
		for _, symbol := range symbols {
			if packet.Is(symbol) {
				return nil
			}
		}
		return packet
	}
}

// EOSBarrier - hold several queues until each of them received EOS,
// then drain their valves once, in the given order
type EOSBarrier struct {
	mu     sync.Mutex
	valves []*Valve
	seen   []bool
	done   *Completion
	fired  bool
}

func NewEOSBarrier(valves ...*Valve) *EOSBarrier {
	b := &EOSBarrier{
		valves: valves,
		seen:   make([]bool, len(valves)),
		done:   NewCompletion(),
	}
	for i, valve := range valves {
		i := i
		valve.Queue().OnPacket(func(packet *Packet) {
			if packet.Is(SymbolEOS) {
				b.markEOS(i)
			}
		})
	}
	return b
}

// Done - resolves with the drain result
func (b *EOSBarrier) Done() *Completion {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Reset - wait for a new round of EOS
func (b *EOSBarrier) Reset() {
	b.mu.Lock()
	clear(b.seen)
	b.fired = false
	b.done = NewCompletion()
	b.mu.Unlock()
}

func (b *EOSBarrier) markEOS(i int) {
	b.mu.Lock()
	b.seen[i] = true
	for _, seen := range b.seen {
		if !seen {
			b.mu.Unlock()
			return
		}
	}
	if b.fired {
		b.mu.Unlock()
		return
	}
	b.fired = true
	done := b.done
	b.mu.Unlock()

	list := make([]*Completion, len(b.valves))
	for i, valve := range b.valves {
		list[i] = valve.Drain()
	}
	WhenAll(list...).Then(done.Resolve)
}
