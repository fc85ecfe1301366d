package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/shoyu/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// TransientAllocator hands out fixed-size blocks of per-frame data from a
// single mapped buffer. The buffer holds one region per frame in flight so
// a frame never overwrites blocks the GPU may still be reading for an
// earlier frame. Allocating is a bump of a cursor; freeing is rewinding it.
type TransientAllocator struct {
	buffer core.Handle[Buffer]
	mem    *MappedBuffer

	blockSize      uint64
	blocksPerFrame int
	frames         int

	region int
	used   int
}

// NewTransientAllocator creates the backing buffer on dev. blockSize must
// be a non-zero multiple of the device's uniform offset alignment.
func NewTransientAllocator(dev Device, frames, blocksPerFrame int, blockSize uint64) (*TransientAllocator, error) {
	if frames <= 0 || blocksPerFrame <= 0 {
		return nil, fmt.Errorf("transient allocator: frames (%d) and blocks per frame (%d) must be positive", frames, blocksPerFrame)
	}
	align := uint64(dev.Limits().MinUniformOffsetAlignment)
	if blockSize == 0 || (align > 0 && blockSize%align != 0) {
		return nil, fmt.Errorf("transient allocator: block size %d is not a multiple of %d", blockSize, align)
	}

	h, err := dev.MakeBuffer(BufferInfo{
		Label: "transient",
		Size:  uint64(frames*blocksPerFrame) * blockSize,
		Usage: BufferUniform | BufferVertex | BufferMapped,
	})
	if err != nil {
		return nil, fmt.Errorf("transient allocator: %w", err)
	}
	mem, err := dev.MapBuffer(h)
	if err != nil {
		_ = dev.DestroyBuffer(h)
		return nil, fmt.Errorf("transient allocator: %w", err)
	}

	return &TransientAllocator{
		buffer:         h,
		mem:            mem,
		blockSize:      blockSize,
		blocksPerFrame: blocksPerFrame,
		frames:         frames,
	}, nil
}

// BeginFrame selects the region owned by a frame slot and rewinds it.
func (a *TransientAllocator) BeginFrame(slot int) {
	a.region = slot % a.frames
	a.Reset()
}

// Reset rewinds the current region. Allocations made from it are invalid
// afterwards.
func (a *TransientAllocator) Reset() {
	a.used = 0
}

// Bump returns the next free block of the current region.
func (a *TransientAllocator) Bump() (Allocation, error) {
	return a.BumpN(1)
}

// BumpN returns n adjacent blocks as one allocation, for data larger than a
// single uniform block such as glyph vertices.
func (a *TransientAllocator) BumpN(n int) (Allocation, error) {
	if n <= 0 {
		return Allocation{}, fmt.Errorf("transient allocator: cannot allocate %d blocks", n)
	}
	if a.used+n > a.blocksPerFrame {
		return Allocation{}, fmt.Errorf("transient allocator: %d of %d blocks used this frame, %d requested: %w",
			a.used, a.blocksPerFrame, n, core.ErrSlotExhausted)
	}
	off := uint64(a.region*a.blocksPerFrame+a.used) * a.blockSize
	a.used += n
	return Allocation{Offset: off, Size: uint64(n) * a.blockSize, mem: a.mem}, nil
}

func (a *TransientAllocator) Buffer() core.Handle[Buffer] { return a.buffer }
func (a *TransientAllocator) BlockSize() uint64          { return a.blockSize }
func (a *TransientAllocator) Used() int                  { return a.used }
func (a *TransientAllocator) Capacity() int              { return a.blocksPerFrame }

// Allocation is a block in the transient buffer, valid until the region it
// came from is reset. Offsets passed to the Put methods are relative to the
// start of the block.
type Allocation struct {
	Offset uint64
	Size   uint64
	mem    *MappedBuffer
}

// DynamicOffset returns the block offset in the form bind calls expect.
func (a Allocation) DynamicOffset() uint32 { return uint32(a.Offset) }

func (a Allocation) Write(off uint64, p []byte) error {
	if off+uint64(len(p)) > a.Size {
		return fmt.Errorf("%w: %d bytes at %d in a %d byte block", ErrOutOfRange, len(p), off, a.Size)
	}
	_, err := a.mem.WriteAt(p, int64(a.Offset+off))
	return err
}

func (a Allocation) PutFloat32(off uint64, v float32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return a.Write(off, b[:])
}

func (a Allocation) PutUint32(off uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return a.Write(off, b[:])
}

func (a Allocation) PutVec2(off uint64, v mgl32.Vec2) error {
	return a.Write(off, floatBytes(v[:]))
}

func (a Allocation) PutVec4(off uint64, v mgl32.Vec4) error {
	return a.Write(off, floatBytes(v[:]))
}

// PutMat4 writes m column-major, matching WGSL mat4x4<f32>.
func (a Allocation) PutMat4(off uint64, m mgl32.Mat4) error {
	return a.Write(off, floatBytes(m[:]))
}

// PutFloats writes consecutive float32 values, e.g. packed vertices.
func (a Allocation) PutFloats(off uint64, fs []float32) error {
	return a.Write(off, floatBytes(fs))
}

func floatBytes(fs []float32) []byte {
	out := make([]byte, 4*len(fs))
	for i, f := range fs {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
