// Package stream has I/O adapter sockets between byte streams and packets
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/mflow/mflow/pkg/core"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotLoaded         = errors.New("stream: source not loaded")
	ErrNotSeekable       = errors.New("stream: source not seekable")
	ErrUnsupportedScheme = errors.New("stream: unsupported url scheme")
)

const DefaultChunkSize = 64 * 1024

// ReaderSocket - output socket reading a byte source in chunks.
// Packet timestamp is the byte offset of the chunk, the stream ends with EOS.
// Upstream seek signals restart reading at the requested byte range.
type ReaderSocket struct {
	*core.OutputSocket

	ChunkSize int
	Props     *core.BufferProperties
	Client    *http.Client

	mu     sync.Mutex
	rd     io.ReadCloser
	rawURL string
	offset int64
	end    int64 // exclusive, 0 for open range
}

func NewReaderSocket(desc *core.SocketDescriptor, opts ...core.SocketOption) *ReaderSocket {
	s := &ReaderSocket{ChunkSize: DefaultChunkSize, Client: http.DefaultClient}
	opts = append(opts, core.WithSignalHandler(s.onSignal))
	s.OutputSocket = core.NewOutputSocket(desc, opts...)
	if !desc.IsVoid() {
		s.Props = desc.Payloads[0].Clone()
	}
	return s
}

// Open - read from any reader, seek works when rd is an io.Seeker
func (s *ReaderSocket) Open(rd io.ReadCloser) {
	s.mu.Lock()
	s.closeReader()
	s.rd = rd
	s.rawURL = ""
	s.offset, s.end = 0, 0
	s.mu.Unlock()
}

// Load - open file path, file:// or http(s):// URL
func (s *ReaderSocket) Load(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}

	var rd io.ReadCloser

	switch u.Scheme {
	case "", "file":
		path := rawURL
		if u.Scheme == "file" {
			path = u.Path
		}
		if rd, err = os.Open(path); err != nil {
			return err
		}
	case "http", "https":
		if rd, err = s.get(ctx, rawURL, 0, 0); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	s.mu.Lock()
	s.closeReader()
	s.rd = rd
	s.rawURL = rawURL
	s.offset, s.end = 0, 0
	s.mu.Unlock()

	log.Debug().Msgf("[stream] load url=%s", rawURL)
	return nil
}

// Seek - restart at start, stop before end (0 - till the end of source)
func (s *ReaderSocket) Seek(start, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rd == nil {
		return ErrNotLoaded
	}

	if seeker, ok := s.rd.(io.Seeker); ok {
		if _, err := seeker.Seek(start, io.SeekStart); err != nil {
			return err
		}
	} else if s.rawURL != "" {
		rd, err := s.get(context.Background(), s.rawURL, start, end)
		if err != nil {
			return err
		}
		s.closeReader()
		s.rd = rd
	} else {
		return ErrNotSeekable
	}

	s.offset, s.end = start, end
	return nil
}

// Run - read until the end of source or ctx cancel, every packet waits
// for its transfer result
func (s *ReaderSocket) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		packet, err := s.read()
		if packet != nil {
			if ok, err := s.Transfer(packet).Wait(); !ok && err != nil {
				return err
			}
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			eos := core.NewPacketFromSymbol(core.SymbolEOS)
			_, err = s.Transfer(eos).Wait()
			return err
		}
		if err != nil {
			return err
		}
	}
}

func (s *ReaderSocket) Close() {
	s.mu.Lock()
	s.closeReader()
	s.mu.Unlock()
	s.OutputSocket.Close()
}

func (s *ReaderSocket) read() (*core.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rd == nil {
		return nil, ErrNotLoaded
	}

	size := int64(s.ChunkSize)
	if size <= 0 {
		size = DefaultChunkSize
	}
	if s.end > 0 {
		if s.offset >= s.end {
			return nil, io.EOF
		}
		size = min(size, s.end-s.offset)
	}

	b := make([]byte, size)
	n, err := io.ReadFull(s.rd, b)
	if n == 0 {
		return nil, err
	}

	packet := core.NewPacketFromSlice(core.BufferSliceFromBytes(b[:n], s.Props), s.offset, 0)
	s.offset += int64(n)
	return packet, err
}

func (s *ReaderSocket) get(ctx context.Context, rawURL string, start, end int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, err
	}

	if start > 0 || end > 0 {
		r := "bytes=" + strconv.FormatInt(start, 10) + "-"
		if end > 0 {
			r += strconv.FormatInt(end-1, 10)
		}
		req.Header.Set("Range", r)
	}

	res, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		_ = res.Body.Close()
		return nil, fmt.Errorf("stream: wrong response on %s: %s", rawURL, res.Status)
	}

	return res.Body, nil
}

func (s *ReaderSocket) closeReader() {
	if s.rd != nil {
		_ = s.rd.Close()
		s.rd = nil
	}
}

func (s *ReaderSocket) onSignal(signal *core.Signal) bool {
	var err error
	switch signal.Type {
	case core.SignalTypeSeek:
		err = s.Seek(signal.Start, signal.End)
	case core.SignalTypeReset:
		err = s.Seek(0, 0)
	default:
		return false
	}
	if err != nil {
		log.Warn().Err(err).Msgf("[stream] signal=%s", signal)
		return false
	}
	return true
}
