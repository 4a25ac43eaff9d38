package core

import (
	"bytes"
	"fmt"
)

// Buffer - owned byte region, any number of BufferSlice can view it.
// The region is read-shared, only TransferableCopy and BufferSlice.Copy
// produce memory that nobody else aliases.
type Buffer struct {
	data []byte
}

func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

func AllocBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

func (b *Buffer) Len() int {
	return len(b.data)
}

func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) clone() *Buffer {
	return &Buffer{data: bytes.Clone(b.data)}
}

// BufferSlice - immutable window over a Buffer plus payload metadata.
// Derived slices get a new header but may alias the same bytes.
type BufferSlice struct {
	Props *BufferProperties

	buf    *Buffer
	offset int
	length int
}

func NewBufferSlice(buf *Buffer, offset, length int, props *BufferProperties) (*BufferSlice, error) {
	if buf == nil {
		return nil, fmt.Errorf("%w: nil buffer", ErrOutOfBounds)
	}
	if offset < 0 || length < 0 || offset+length > buf.Len() {
		return nil, fmt.Errorf("%w: offset=%d length=%d size=%d", ErrOutOfBounds, offset, length, buf.Len())
	}
	if props == nil {
		props = &BufferProperties{}
	}
	return &BufferSlice{Props: props, buf: buf, offset: offset, length: length}, nil
}

// BufferSliceFromBytes - slice over the whole data, data becomes the owned Buffer
func BufferSliceFromBytes(data []byte, props *BufferProperties) *BufferSlice {
	s, _ := NewBufferSlice(NewBuffer(data), 0, len(data), props)
	return s
}

func (s *BufferSlice) Buffer() *Buffer {
	return s.buf
}

func (s *BufferSlice) Offset() int {
	return s.offset
}

func (s *BufferSlice) Len() int {
	return s.length
}

// Bytes - view of the window, capacity is limited so append never writes
// into the neighbour bytes of the owning Buffer
func (s *BufferSlice) Bytes() []byte {
	end := s.offset + s.length
	return s.buf.data[s.offset:end:end]
}

// Unwrap - sub-window relative to this slice, fails instead of clamping
func (s *BufferSlice) Unwrap(offset, length int) (*BufferSlice, error) {
	if offset < 0 || length < 0 || offset+length > s.length {
		return nil, fmt.Errorf("%w: unwrap offset=%d length=%d slice=%d", ErrOutOfBounds, offset, length, s.length)
	}
	return &BufferSlice{Props: s.Props, buf: s.buf, offset: s.offset + offset, length: length}, nil
}

// ShrinkFront - drop n bytes from the front
func (s *BufferSlice) ShrinkFront(n int) (*BufferSlice, error) {
	return s.Unwrap(n, s.length-n)
}

// Prepend - new slice with other before this one
func (s *BufferSlice) Prepend(other *BufferSlice) *BufferSlice {
	return join(other, s, s.Props)
}

// Append - new slice with other after this one
func (s *BufferSlice) Append(other *BufferSlice) *BufferSlice {
	return join(s, other, s.Props)
}

// Copy - same window in a freshly allocated Buffer, Props are kept
func (s *BufferSlice) Copy() *BufferSlice {
	return &BufferSlice{Props: s.Props, buf: NewBuffer(bytes.Clone(s.Bytes())), length: s.length}
}

func (s *BufferSlice) String() string {
	return fmt.Sprintf("offset=%d length=%d %s", s.offset, s.length, s.Props)
}

// join - adjacent windows of one Buffer only get a new header,
// anything else is copied into a new Buffer
func join(a, b *BufferSlice, props *BufferProperties) *BufferSlice {
	if a.buf == b.buf && a.offset+a.length == b.offset {
		return &BufferSlice{Props: props, buf: a.buf, offset: a.offset, length: a.length + b.length}
	}

	data := make([]byte, 0, a.length+b.length)
	data = append(data, a.Bytes()...)
	data = append(data, b.Bytes()...)
	return &BufferSlice{Props: props, buf: NewBuffer(data), length: len(data)}
}
