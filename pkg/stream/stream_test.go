package stream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mflow/mflow/pkg/core"
	"github.com/stretchr/testify/require"
)

func TestReaderToWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.ts")
	require.Nil(t, os.WriteFile(path, []byte("0123456789"), 0644))

	src := NewReaderSocket(core.NewSocketDescriptor("video/mp2t"))
	src.ChunkSize = 4
	require.Nil(t, src.Load(context.Background(), "file://"+path))

	dst := NewWriterSocket(nil)
	require.False(t, dst.IsReady())
	require.Nil(t, src.Connect(dst.InputSocket))

	var eos int
	dst.OnEOS(func() { eos++ })

	buf := bytes.NewBuffer(nil)
	dst.Attach(buf)
	<-dst.WhenReady()

	require.Nil(t, src.Run(context.Background()))
	require.Equal(t, "0123456789", buf.String())
	require.Equal(t, int64(10), dst.Written())
	require.Equal(t, 1, eos)
}

func TestReaderPackets(t *testing.T) {
	src := NewReaderSocket(core.NewSocketDescriptor("video/mp2t"))
	src.ChunkSize = 3
	src.Open(io.NopCloser(strings.NewReader("abcdefg")))

	var packets []*core.Packet
	in := core.NewInputSocket(func(_ *core.InputSocket, packet *core.Packet) bool {
		packets = append(packets, packet)
		return true
	}, nil)
	require.Nil(t, src.Connect(in))

	require.Nil(t, src.Run(context.Background()))
	require.Len(t, packets, 4)
	require.Equal(t, int64(0), packets[0].Timestamp)
	require.Equal(t, int64(3), packets[1].Timestamp)
	require.Equal(t, "g", string(packets[2].Slices()[0].Bytes()))
	require.Equal(t, "video/mp2t", packets[0].DefaultProps().MimeType)
	require.True(t, packets[3].Is(core.SymbolEOS))
}

type readSeekCloser struct {
	*bytes.Reader
}

func (readSeekCloser) Close() error { return nil }

func TestReaderSeekSignal(t *testing.T) {
	src := NewReaderSocket(nil)
	src.ChunkSize = 100
	src.Open(readSeekCloser{bytes.NewReader([]byte("0123456789"))})

	var got []string
	in := core.NewInputSocket(func(_ *core.InputSocket, packet *core.Packet) bool {
		if !packet.IsSymbolic() {
			got = append(got, string(packet.Slices()[0].Bytes()))
		}
		return true
	}, nil)
	require.Nil(t, src.Connect(in))

	// seek arrives from downstream
	ok, err := in.Cast(core.NewSeekSignal(2, 5))
	require.Nil(t, err)
	require.True(t, ok)

	require.Nil(t, src.Run(context.Background()))
	require.Equal(t, []string{"234"}, got)

	src.Open(io.NopCloser(strings.NewReader("x")))
	require.ErrorIs(t, src.Seek(1, 0), ErrNotSeekable)
}

func TestReaderHTTP(t *testing.T) {
	data := []byte("hello over http")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	src := NewReaderSocket(nil)
	require.Nil(t, src.Load(context.Background(), server.URL))

	dst := NewWriterSocket(nil)
	buf := bytes.NewBuffer(nil)
	dst.Attach(buf)
	require.Nil(t, src.Connect(dst.InputSocket))

	require.Nil(t, src.Seek(6, 10))
	require.Nil(t, src.Run(context.Background()))
	require.Equal(t, "over", buf.String())

	require.ErrorIs(t, src.Load(context.Background(), "ftp://host/file"), ErrUnsupportedScheme)
}

func TestWriterNotReady(t *testing.T) {
	dst := NewWriterSocket(nil)
	packet := core.NewPacketFromSlice(core.BufferSliceFromBytes([]byte("x"), nil), 0, 0)
	ok, err := dst.Transfer(packet).Wait()
	require.False(t, ok)
	require.Nil(t, err)
}
