package gpu

import (
	"errors"
	"fmt"
)

var ErrOutOfRange = errors.New("access outside mapped range")

// Span is a byte range [Lo, Hi).
type Span struct {
	Lo, Hi int
}

// MappedBuffer is a CPU view of a GPU buffer. It records the spans written
// since the last flush so backends without persistent mapping can upload
// only those ranges before submitting. Disjoint writes stay disjoint, so
// bytes in between that the GPU owns are never overwritten by a flush.
//
// There is no synchronization with the GPU. Writing bytes the GPU is still
// reading is a data race on the device side.
type MappedBuffer struct {
	data  []byte
	dirty []Span
}

func NewMappedBuffer(data []byte) *MappedBuffer {
	return &MappedBuffer{data: data}
}
func (m *MappedBuffer) Len() int { return len(m.data) }

func (m *MappedBuffer) check(off int64, n int) error {
	if off < 0 || n < 0 || off+int64(n) > int64(len(m.data)) {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", ErrOutOfRange, off, off+int64(n), len(m.data))
	}
	return nil
}

// WriteAt implements io.WriterAt. Partial writes never happen: an
// out-of-range write copies nothing.
func (m *MappedBuffer) WriteAt(p []byte, off int64) (int, error) {
	if err := m.check(off, len(p)); err != nil {
		return 0, err
	}
	copy(m.data[off:], p)
	m.markDirty(int(off), int(off)+len(p))
	return len(p), nil
}

// ReadAt implements io.ReaderAt.
func (m *MappedBuffer) ReadAt(p []byte, off int64) (int, error) {
	if err := m.check(off, len(p)); err != nil {
		return 0, err
	}
	return copy(p, m.data[off:]), nil
}

// Bytes returns a read-only view of n bytes at off. The slice aliases the
// mapping and must not be written.
func (m *MappedBuffer) Bytes(off, n int) ([]byte, error) {
	if err := m.check(int64(off), n); err != nil {
		return nil, err
	}
	return m.data[off : off+n : off+n], nil
}

// markDirty inserts [lo, hi) keeping spans sorted, merging any it touches.
func (m *MappedBuffer) markDirty(lo, hi int) {
	if lo == hi {
		return
	}
	out := m.dirty[:0:0]
	i := 0
	for ; i < len(m.dirty) && m.dirty[i].Hi < lo; i++ {
		out = append(out, m.dirty[i])
	}
	for ; i < len(m.dirty) && m.dirty[i].Lo <= hi; i++ {
		lo = min(lo, m.dirty[i].Lo)
		hi = max(hi, m.dirty[i].Hi)
	}
	out = append(out, Span{Lo: lo, Hi: hi})
	m.dirty = append(out, m.dirty[i:]...)
}

// Dirty returns the spans written since the last TakeDirty, in order.
func (m *MappedBuffer) Dirty() []Span {
	return append([]Span(nil), m.dirty...)
}

// TakeDirty returns the dirty spans and clears them.
func (m *MappedBuffer) TakeDirty() []Span {
	spans := m.dirty
	m.dirty = nil
	return spans
}
