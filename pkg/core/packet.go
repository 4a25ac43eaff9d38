package core

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

type PacketSymbol byte

const (
	SymbolVoid         PacketSymbol = iota // placeholder, no-op
	SymbolWait                             // suspend downstream processing until SymbolResume
	SymbolWaitButQueue                     // keep processing but hold transfer
	SymbolResume
	SymbolFlush // emit buffered but already processed data now
	SymbolGap   // a timeline discontinuity follows
	SymbolEOS   // no further data on this synchronization id
	SymbolDrop  // discard data already processed
	SymbolDropQueue
	SymbolSync // a new synchronization id epoch begins
)

func (s PacketSymbol) String() string {
	switch s {
	case SymbolVoid:
		return "VOID"
	case SymbolWait:
		return "WAIT"
	case SymbolWaitButQueue:
		return "WAIT_BUT_Q"
	case SymbolResume:
		return "RESUME"
	case SymbolFlush:
		return "FLUSH"
	case SymbolGap:
		return "GAP"
	case SymbolEOS:
		return "EOS"
	case SymbolDrop:
		return "DROP"
	case SymbolDropQueue:
		return "DROP_Q"
	case SymbolSync:
		return "SYNC"
	}
	return fmt.Sprintf("SYMBOL(%d)", byte(s))
}

// Packet - unit of transfer, either ordered BufferSlice(s) sharing one
// timeline position or a symbolic control marker without data.
// A Packet belongs to whoever holds it, only one holder may mutate it.
type Packet struct {
	Timestamp              int64  // DTS in TimeScale ticks
	PresentationTimeOffset int64  // CTS = PTS - DTS
	TimestampOffset        int64  // epoch shift in TimeScale ticks
	TimeScale              uint32 // ticks per second
	SynchronizationID      uint32

	slices   []*BufferSlice
	symbol   PacketSymbol
	symbolic bool
}

func NewPacketFromSlice(slice *BufferSlice, dts, cto int64) *Packet {
	return NewPacketFromSlices(dts, cto, slice)
}

func NewPacketFromSlices(dts, cto int64, slices ...*BufferSlice) *Packet {
	return &Packet{
		Timestamp:              dts,
		PresentationTimeOffset: cto,
		TimeScale:              1,
		slices:                 slices,
	}
}

// NewEmptyPacket - data packet without slices, filled with AppendSlice
func NewEmptyPacket() *Packet {
	return &Packet{TimeScale: 1}
}

func NewPacketFromSymbol(symbol PacketSymbol) *Packet {
	return &Packet{TimeScale: 1, symbol: symbol, symbolic: true}
}

func (p *Packet) IsSymbolic() bool {
	return p.symbolic
}

func (p *Packet) Symbol() PacketSymbol {
	return p.symbol
}

// Is - symbolic packet carrying this symbol
func (p *Packet) Is(symbol PacketSymbol) bool {
	return p.symbolic && p.symbol == symbol
}

// Slices - read-only list, derive new slices instead of editing it
func (p *Packet) Slices() []*BufferSlice {
	return p.slices
}

// AppendSlice - add data to a packet the caller owns
func (p *Packet) AppendSlice(slice *BufferSlice) error {
	if p.symbolic {
		return ErrSymbolicPacket
	}
	p.slices = append(p.slices, slice)
	return nil
}

func (p *Packet) DataLength() (n int) {
	for _, slice := range p.slices {
		n += slice.Len()
	}
	return
}

// DefaultProps - props of the first slice
func (p *Packet) DefaultProps() *BufferProperties {
	if len(p.slices) == 0 {
		return nil
	}
	return p.slices[0].Props
}

func (p *Packet) PresentationTimestamp() int64 {
	return p.Timestamp + p.PresentationTimeOffset
}

// NormalizedDecodingTime - DTS plus timestamp offset on the wall timeline
func (p *Packet) NormalizedDecodingTime() time.Duration {
	return ticksToDuration(p.Timestamp+p.TimestampOffset, p.TimeScale)
}

func (p *Packet) NormalizedPresentationTime() time.Duration {
	return ticksToDuration(p.PresentationTimestamp()+p.TimestampOffset, p.TimeScale)
}

// SetTimeScale - rescale all timing fields to a new ticks per second value
func (p *Packet) SetTimeScale(scale uint32) {
	if scale == 0 || scale == p.TimeScale {
		return
	}
	if p.TimeScale != 0 {
		p.Timestamp = rescale(p.Timestamp, p.TimeScale, scale)
		p.PresentationTimeOffset = rescale(p.PresentationTimeOffset, p.TimeScale, scale)
		p.TimestampOffset = rescale(p.TimestampOffset, p.TimeScale, scale)
	}
	p.TimeScale = scale
}

// ForEachSlice - call fn for every slice, a failing or panicking slice
// never stops the iteration, all failures are returned together
func (p *Packet) ForEachSlice(fn func(slice *BufferSlice) error) error {
	var errs []error
	for i, slice := range p.slices {
		if err := callSlice(fn, slice); err != nil {
			errs = append(errs, fmt.Errorf("slice %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Clone - new header, slices are shared
func (p *Packet) Clone() *Packet {
	clone := *p
	if p.slices != nil {
		clone.slices = append([]*BufferSlice(nil), p.slices...)
	}
	return &clone
}

// TransferableCopy - self-contained copy for another execution context.
// Every distinct Buffer is copied once and every distinct BufferProperties
// is cloned once, slices that shared them keep sharing the copies.
func (p *Packet) TransferableCopy() *Packet {
	clone := *p
	if p.slices == nil {
		return &clone
	}

	buffers := map[*Buffer]*Buffer{}
	props := map[*BufferProperties]*BufferProperties{}

	clone.slices = make([]*BufferSlice, len(p.slices))
	for i, slice := range p.slices {
		buf, ok := buffers[slice.buf]
		if !ok {
			buf = slice.buf.clone()
			buffers[slice.buf] = buf
		}

		prop, ok := props[slice.Props]
		if !ok && slice.Props != nil {
			prop = slice.Props.Clone()
			props[slice.Props] = prop
		}

		clone.slices[i] = &BufferSlice{Props: prop, buf: buf, offset: slice.offset, length: slice.length}
	}

	return &clone
}

func (p *Packet) String() string {
	if p.symbolic {
		return fmt.Sprintf("symbol=%s sync=%d", p.symbol, p.SynchronizationID)
	}
	return fmt.Sprintf(
		"dts=%d cto=%d offset=%d scale=%d sync=%d slices=%d bytes=%d",
		p.Timestamp, p.PresentationTimeOffset, p.TimestampOffset, p.TimeScale,
		p.SynchronizationID, len(p.slices), p.DataLength(),
	)
}

func callSlice(fn func(slice *BufferSlice) error, slice *BufferSlice) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("core: panic: %v", r)
		}
	}()
	return fn(slice)
}

func ticksToDuration(ticks int64, scale uint32) time.Duration {
	if scale == 0 {
		return 0
	}
	sec := ticks / int64(scale)
	rem := ticks % int64(scale)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(scale)
}

func rescale(v int64, from, to uint32) int64 {
	i := big.NewInt(v)
	i.Mul(i, big.NewInt(int64(to)))
	i.Quo(i, big.NewInt(int64(from)))
	return i.Int64()
}
