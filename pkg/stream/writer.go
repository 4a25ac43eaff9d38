package stream

import (
	"io"
	"sync"

	"github.com/mflow/mflow/pkg/core"
	"github.com/rs/zerolog/log"
)

// WriterSocket - input socket writing slice bytes to an io.Writer.
// Not ready until Attach, packets before that are refused.
type WriterSocket struct {
	*core.InputSocket

	mu    sync.Mutex
	wr    io.Writer
	n     int64
	onEOS []func()
}

func NewWriterSocket(desc *core.SocketDescriptor, opts ...core.SocketOption) *WriterSocket {
	s := &WriterSocket{}
	opts = append(opts, core.WithNotReady())
	s.InputSocket = core.NewInputSocket(s.receive, desc, opts...)
	return s
}

// Attach - set destination and mark socket ready
func (s *WriterSocket) Attach(wr io.Writer) {
	s.mu.Lock()
	s.wr = wr
	s.mu.Unlock()
	s.MarkReady()
}

func (s *WriterSocket) OnEOS(f func()) {
	s.mu.Lock()
	s.onEOS = append(s.onEOS, f)
	s.mu.Unlock()
}

// Written - total bytes written
func (s *WriterSocket) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *WriterSocket) receive(_ *core.InputSocket, packet *core.Packet) bool {
	if packet.IsSymbolic() {
		if packet.Is(core.SymbolEOS) {
			s.mu.Lock()
			handlers := s.onEOS
			s.mu.Unlock()
			for _, f := range handlers {
				f()
			}
		}
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wr == nil {
		log.Warn().Msgf("[stream] packet before ready on %s", s.Name())
		return false
	}

	err := packet.ForEachSlice(func(slice *core.BufferSlice) error {
		n, err := s.wr.Write(slice.Bytes())
		s.n += int64(n)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Msgf("[stream] write to %s", s.Name())
		return false
	}
	return true
}
