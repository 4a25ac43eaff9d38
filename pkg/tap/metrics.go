package tap

import (
	"github.com/mflow/mflow/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - counters for packets passing socket taps, labelled by socket name
type Metrics struct {
	packets *prometheus.CounterVec
	bytes   *prometheus.CounterVec
	symbols *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mflow",
			Subsystem: "socket",
			Name:      "packets_total",
			Help:      "Data packets passed through the socket",
		}, []string{"socket"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mflow",
			Subsystem: "socket",
			Name:      "bytes_total",
			Help:      "Payload bytes passed through the socket",
		}, []string{"socket"}),
		symbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mflow",
			Subsystem: "socket",
			Name:      "symbols_total",
			Help:      "Symbolic packets passed through the socket",
		}, []string{"socket", "symbol"}),
	}

	for _, c := range []prometheus.Collector{m.packets, m.bytes, m.symbols} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Tap - pass-through tap counting for the socket name
func (m *Metrics) Tap(socket string) core.SocketTap {
	return &metricsTap{
		packets: m.packets.WithLabelValues(socket),
		bytes:   m.bytes.WithLabelValues(socket),
		symbols: m.symbols.MustCurryWith(prometheus.Labels{"socket": socket}),
	}
}

// Attach - install counting tap on every socket
func (m *Metrics) Attach(sockets ...core.Socket) {
	for _, s := range sockets {
		s.SetTap(m.Tap(s.Name()))
	}
}

type metricsTap struct {
	packets prometheus.Counter
	bytes   prometheus.Counter
	symbols *prometheus.CounterVec
}

func (t *metricsTap) PushPacket(packet *core.Packet) bool {
	if packet.IsSymbolic() {
		t.symbols.WithLabelValues(packet.Symbol().String()).Inc()
	} else {
		t.packets.Inc()
		t.bytes.Add(float64(packet.DataLength()))
	}
	return true
}

func (t *metricsTap) PopPacket() *core.Packet {
	return nil
}

func (t *metricsTap) IsClear() bool {
	return true
}

func (t *metricsTap) Flush() []*core.Packet {
	return nil
}
