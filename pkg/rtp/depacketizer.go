package rtp

import (
	"sync"

	"github.com/mflow/mflow/pkg/core"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// seconds between NTP (1900) and Unix (1970) epochs
const ntpEpochOffset = 2208988800

// Depacketizer - output socket fed with RTP packets from a network source:
//   - time scale is the clock rate, timestamps are extended over the 32 bit wrap
//   - synchronization id is the SSRC
//   - lost packets (sequence jump) are reported with GAP before the next data
//   - duplicate and late packets are dropped
//   - after an RTCP sender report TimestampOffset moves packets to Unix time
//
// WriteRTP waits for the transfer, so call it from the source goroutine.
type Depacketizer struct {
	*core.OutputSocket

	Props     *core.BufferProperties
	ClockRate uint32

	mu        sync.Mutex
	started   bool
	seq       uint16
	ts        uint32
	cycles    int64
	ssrc      uint32
	lost      int
	late      int
	offset    int64
	hasOffset bool
}

func NewDepacketizer(props *core.BufferProperties, opts ...core.SocketOption) *Depacketizer {
	d := &Depacketizer{Props: props, ClockRate: 90000}
	if props != nil {
		if props.SampleRate != 0 {
			d.ClockRate = props.SampleRate
		}
		d.OutputSocket = core.NewOutputSocket(&core.SocketDescriptor{
			Payloads: []*core.BufferProperties{props},
		}, opts...)
	} else {
		d.OutputSocket = core.NewOutputSocket(nil, opts...)
	}
	return d
}

func (d *Depacketizer) WriteRTP(packet *rtp.Packet) error {
	d.mu.Lock()
	var gap bool
	if d.started {
		delta := int16(packet.SequenceNumber - d.seq)
		if delta <= 0 {
			d.late++
			d.mu.Unlock()
			return nil
		}
		if delta > 1 {
			gap = true
			d.lost += int(delta) - 1
		}
	}
	ts := d.extend(packet.Timestamp)
	d.cycles = ts >> 32
	d.started = true
	d.seq = packet.SequenceNumber
	d.ts = packet.Timestamp
	d.ssrc = packet.SSRC
	offset := d.offset
	d.mu.Unlock()

	if gap {
		symbol := core.NewPacketFromSymbol(core.SymbolGap)
		symbol.SynchronizationID = packet.SSRC
		if _, err := d.Transfer(symbol).Wait(); err != nil {
			return err
		}
	}

	slice := core.BufferSliceFromBytes(packet.Payload, d.Props)
	p := core.NewPacketFromSlice(slice, ts, 0)
	p.TimeScale = d.ClockRate
	p.TimestampOffset = offset
	p.SynchronizationID = packet.SSRC

	_, err := d.Transfer(p).Wait()
	return err
}

// Unmarshal - parse raw RTP bytes and write them
func (d *Depacketizer) Unmarshal(b []byte) error {
	packet := &rtp.Packet{}
	if err := packet.Unmarshal(b); err != nil {
		return err
	}
	return d.WriteRTP(packet)
}

// WriteRTCP - sender report of the same SSRC sets TimestampOffset of the
// next packets, other packets are skipped
func (d *Depacketizer) WriteRTCP(packet rtcp.Packet) {
	report, ok := packet.(*rtcp.SenderReport)
	if !ok {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started && report.SSRC != d.ssrc {
		return
	}

	d.offset = ntpToTicks(report.NTPTime, d.ClockRate) - d.extend(report.RTPTime)
	d.hasOffset = true
}

// UnmarshalRTCP - parse a compound RTCP packet and write all parts
func (d *Depacketizer) UnmarshalRTCP(b []byte) error {
	packets, err := rtcp.Unmarshal(b)
	if err != nil {
		return err
	}
	for _, packet := range packets {
		d.WriteRTCP(packet)
	}
	return nil
}

// End - no more packets, sends EOS
func (d *Depacketizer) End() error {
	d.mu.Lock()
	eos := core.NewPacketFromSymbol(core.SymbolEOS)
	eos.SynchronizationID = d.ssrc
	d.mu.Unlock()

	_, err := d.Transfer(eos).Wait()
	return err
}

// Lost - number of missing sequence numbers
func (d *Depacketizer) Lost() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// Late - number of dropped duplicate or reordered packets
func (d *Depacketizer) Late() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.late
}

// TimestampOffset - false until the first sender report
func (d *Depacketizer) TimestampOffset() (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset, d.hasOffset
}

// extend - 64 bit timestamp near the last one, mu must be held
func (d *Depacketizer) extend(ts uint32) int64 {
	cycles := d.cycles
	if d.started {
		switch {
		case ts < d.ts && d.ts-ts > 1<<31:
			cycles++
		case ts > d.ts && ts-d.ts > 1<<31 && cycles > 0:
			cycles--
		}
	}
	return cycles<<32 | int64(ts)
}

// ntpToTicks - 32.32 fixed point NTP time to clock ticks from Unix epoch
func ntpToTicks(ntp uint64, clockRate uint32) int64 {
	sec := int64(ntp>>32) - ntpEpochOffset
	frac := (ntp & 0xFFFFFFFF) * uint64(clockRate) >> 32
	return sec*int64(clockRate) + int64(frac)
}
