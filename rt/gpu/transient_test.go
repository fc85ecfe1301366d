package gpu_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/gekko3d/shoyu/rt/gpu/gputest"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAllocator(t *testing.T, frames, blocks int) (*gputest.Device, *gpu.TransientAllocator) {
	t.Helper()
	dev := gputest.New(640, 480)
	a, err := gpu.NewTransientAllocator(dev, frames, blocks, 256)
	require.NoError(t, err)
	return dev, a
}

func TestTransientAllocator_RejectsUnalignedBlocks(t *testing.T) {
	dev := gputest.New(640, 480)
	_, err := gpu.NewTransientAllocator(dev, 2, 4, 100)
	assert.Error(t, err)

	_, err = gpu.NewTransientAllocator(dev, 0, 4, 256)
	assert.Error(t, err)
}

func TestTransientAllocator_BlocksDoNotOverlap(t *testing.T) {
	_, a := newAllocator(t, 2, 8)
	a.BeginFrame(0)

	var prevEnd uint64
	for i := 0; i < 8; i++ {
		blk, err := a.Bump()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, blk.Offset, prevEnd)
		assert.Equal(t, uint64(0), blk.Offset%256)
		prevEnd = blk.Offset + blk.Size
	}
	assert.LessOrEqual(t, prevEnd, uint64(8*256))
}

func TestTransientAllocator_ExhaustionAndReset(t *testing.T) {
	_, a := newAllocator(t, 1, 4)
	a.BeginFrame(0)

	first, err := a.Bump()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = a.Bump()
		require.NoError(t, err)
	}

	_, err = a.Bump()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSlotExhausted))

	a.Reset()
	again, err := a.Bump()
	require.NoError(t, err)
	assert.Equal(t, first.Offset, again.Offset)
}

func TestTransientAllocator_SlotsUseSeparateRegions(t *testing.T) {
	_, a := newAllocator(t, 3, 4)

	offsets := make(map[int]uint64)
	for slot := 0; slot < 3; slot++ {
		a.BeginFrame(slot)
		blk, err := a.Bump()
		require.NoError(t, err)
		offsets[slot] = blk.Offset
	}
	assert.Equal(t, uint64(0), offsets[0])
	assert.Equal(t, uint64(4*256), offsets[1])
	assert.Equal(t, uint64(8*256), offsets[2])

	// Slot numbers wrap onto the ring of regions.
	a.BeginFrame(4)
	blk, err := a.Bump()
	require.NoError(t, err)
	assert.Equal(t, offsets[1], blk.Offset)
}

func TestAllocation_Writers(t *testing.T) {
	dev, a := newAllocator(t, 1, 2)
	a.BeginFrame(0)
	_, _ = a.Bump()
	blk, err := a.Bump()
	require.NoError(t, err)

	require.NoError(t, blk.PutMat4(0, mgl32.Ident4()))
	require.NoError(t, blk.PutVec4(64, mgl32.Vec4{1, 0.5, 0.25, 1}))
	require.NoError(t, blk.PutUint32(80, 7))

	data := dev.BufferData(a.Buffer())
	base := blk.Offset
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(data[base:])))
	assert.Equal(t, float32(0), math.Float32frombits(binary.LittleEndian.Uint32(data[base+4:])))
	assert.Equal(t, float32(0.5), math.Float32frombits(binary.LittleEndian.Uint32(data[base+68:])))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(data[base+80:]))

	err = blk.PutVec4(250, mgl32.Vec4{})
	assert.True(t, errors.Is(err, gpu.ErrOutOfRange))
}

func TestMappedBuffer_DirtySpan(t *testing.T) {
	m := gpu.NewMappedBuffer(make([]byte, 1024))

	assert.Empty(t, m.Dirty())

	_, err := m.WriteAt([]byte{1, 2, 3, 4}, 512)
	require.NoError(t, err)
	_, err = m.WriteAt([]byte{9}, 16)
	require.NoError(t, err)
	_, err = m.WriteAt([]byte{5, 5}, 516)
	require.NoError(t, err)
	_, err = m.WriteAt([]byte{7, 7, 7}, 15)
	require.NoError(t, err)

	// Touching writes merge, disjoint ones stay apart.
	assert.Equal(t, []gpu.Span{{Lo: 15, Hi: 18}, {Lo: 512, Hi: 518}}, m.TakeDirty())
	assert.Empty(t, m.Dirty())

	view, err := m.Bytes(512, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, view)

	n, err := m.WriteAt(make([]byte, 8), 1020)
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, gpu.ErrOutOfRange))

	buf := make([]byte, 4)
	_, err = m.ReadAt(buf, 512)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestTransientAllocator_BumpNIsContiguous(t *testing.T) {
	_, a := newAllocator(t, 2, 8)
	a.BeginFrame(1)

	first, err := a.Bump()
	require.NoError(t, err)
	run, err := a.BumpN(3)
	require.NoError(t, err)
	assert.Equal(t, first.Offset+256, run.Offset)
	assert.Equal(t, uint64(3*256), run.Size)
	assert.Equal(t, 4, a.Used())

	_, err = a.BumpN(5)
	assert.True(t, errors.Is(err, core.ErrSlotExhausted))
	assert.Equal(t, 4, a.Used(), "failed request must not consume blocks")
}
