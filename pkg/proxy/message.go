// Package proxy mirrors a processor running in another process.
//
//  1. Proxy.Start - local side sends MessageOpen with the kernel name and input count
//  2. Serve - remote side builds the processor, reports every socket with
//     MessageSocketCreated and finishes the handshake with MessageReady
//  3. packets move as MessageTransfer in a self-contained form, the local
//     Proxy re-emits socket and error events so a Flow can't tell it from
//     a local processor
package proxy

import (
	"bytes"

	"github.com/mflow/mflow/pkg/core"
	"github.com/vmihailenco/msgpack/v5"
)

type MessageType byte

const (
	MessageOpen MessageType = iota + 1
	MessageReady
	MessageSocketCreated
	MessageTransfer
	MessageSignal
	MessageError
	MessageClose
)

func (t MessageType) String() string {
	switch t {
	case MessageOpen:
		return "open"
	case MessageReady:
		return "ready"
	case MessageSocketCreated:
		return "socket-created"
	case MessageTransfer:
		return "transfer"
	case MessageSignal:
		return "signal"
	case MessageError:
		return "error"
	case MessageClose:
		return "close"
	}
	return "unknown"
}

type Message struct {
	Type MessageType `msgpack:"t"`

	Kernel     string                 `msgpack:"k,omitempty"` // for MessageOpen
	SocketType core.SocketType        `msgpack:"st,omitempty"`
	Index      int                    `msgpack:"i,omitempty"` // socket index or input count for MessageOpen
	Descriptor *core.SocketDescriptor `msgpack:"d,omitempty"`
	Packet     *WirePacket            `msgpack:"p,omitempty"`
	Signal     *core.Signal           `msgpack:"s,omitempty"`
	Error      string                 `msgpack:"e,omitempty"`
}

// WirePacket - packet without any shared memory, props are stored once
// and referenced by slices
type WirePacket struct {
	Timestamp              int64             `msgpack:"dts"`
	PresentationTimeOffset int64             `msgpack:"cto,omitempty"`
	TimestampOffset        int64             `msgpack:"off,omitempty"`
	TimeScale              uint32            `msgpack:"scale"`
	SynchronizationID      uint32            `msgpack:"sync,omitempty"`
	Symbolic               bool              `msgpack:"sym,omitempty"`
	Symbol                 core.PacketSymbol `msgpack:"symbol,omitempty"`

	Props  []*core.BufferProperties `msgpack:"props,omitempty"`
	Slices []WireSlice              `msgpack:"slices,omitempty"`
}

type WireSlice struct {
	Props int    `msgpack:"props"` // index in WirePacket.Props, -1 for none
	Data  []byte `msgpack:"data"`
}

// EncodePacket - built from a TransferableCopy, nothing aliases the packet
func EncodePacket(packet *core.Packet) *WirePacket {
	if packet.IsSymbolic() {
		return &WirePacket{
			TimeScale:         packet.TimeScale,
			SynchronizationID: packet.SynchronizationID,
			Symbolic:          true,
			Symbol:            packet.Symbol(),
		}
	}

	c := packet.TransferableCopy()

	w := &WirePacket{
		Timestamp:              c.Timestamp,
		PresentationTimeOffset: c.PresentationTimeOffset,
		TimestampOffset:        c.TimestampOffset,
		TimeScale:              c.TimeScale,
		SynchronizationID:      c.SynchronizationID,
	}

	index := map[*core.BufferProperties]int{}
	for _, slice := range c.Slices() {
		if slice.Props == nil {
			w.Slices = append(w.Slices, WireSlice{Props: -1, Data: slice.Bytes()})
			continue
		}
		i, ok := index[slice.Props]
		if !ok {
			i = len(w.Props)
			index[slice.Props] = i
			w.Props = append(w.Props, slice.Props)
		}
		w.Slices = append(w.Slices, WireSlice{Props: i, Data: slice.Bytes()})
	}

	return w
}

// DecodePacket - slices that shared props on the sender share them again
func DecodePacket(w *WirePacket) *core.Packet {
	if w.Symbolic {
		packet := core.NewPacketFromSymbol(w.Symbol)
		packet.TimeScale = w.TimeScale
		packet.SynchronizationID = w.SynchronizationID
		return packet
	}

	packet := core.NewEmptyPacket()
	packet.Timestamp = w.Timestamp
	packet.PresentationTimeOffset = w.PresentationTimeOffset
	packet.TimestampOffset = w.TimestampOffset
	packet.TimeScale = w.TimeScale
	packet.SynchronizationID = w.SynchronizationID

	for _, ws := range w.Slices {
		var props *core.BufferProperties
		if ws.Props >= 0 && ws.Props < len(w.Props) {
			props = w.Props[ws.Props]
		}
		_ = packet.AppendSlice(core.BufferSliceFromBytes(ws.Data, props))
	}

	return packet
}

// Marshal - msgpack, core types without msgpack tags use their json names
func Marshal(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(b []byte) (*Message, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	msg := &Message{}
	if err := dec.Decode(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
