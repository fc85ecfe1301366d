package particle

import (
	"fmt"

	"github.com/gekko3d/shoyu/rt/gpu"
)

// Slots is bounds-checked access to the mapped particle array.
//
// Writes are not synchronized with the GPU: a slot written while the
// frame's update dispatch is in flight may lose one simulation step, or
// overwrite the step the GPU just made. Reads return what the CPU last
// wrote on backends that keep a CPU shadow rather than a persistent
// mapping.
type Slots struct {
	mem *gpu.MappedBuffer
	n   int
}

func (s Slots) Len() int { return s.n }

func (s Slots) Get(i int) (Particle, error) {
	if i < 0 || i >= s.n {
		return Particle{}, fmt.Errorf("particle slot %d of %d: %w", i, s.n, gpu.ErrOutOfRange)
	}
	b, err := s.mem.Bytes(i*RecordSize, RecordSize)
	if err != nil {
		return Particle{}, err
	}
	return UnmarshalRecord(b), nil
}

func (s Slots) Set(i int, p Particle) error {
	if i < 0 || i >= s.n {
		return fmt.Errorf("particle slot %d of %d: %w", i, s.n, gpu.ErrOutOfRange)
	}
	var rec [RecordSize]byte
	p.MarshalRecord(rec[:])
	_, err := s.mem.WriteAt(rec[:], int64(i*RecordSize))
	return err
}
