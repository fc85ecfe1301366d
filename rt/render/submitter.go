package render

import (
	"context"
	"fmt"

	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"go.uber.org/multierr"
)

type frameSlot struct {
	cmd   gpu.CommandList
	fence core.Handle[gpu.Fence]
}

// FrameSubmitter rotates through a fixed ring of frame slots. Starting a
// slot waits for the fence of its previous submission, so the CPU never
// runs more than len(slots) frames ahead of the GPU.
type FrameSubmitter struct {
	dev   gpu.Device
	slots []frameSlot

	frame     uint64
	recording bool
}

func NewFrameSubmitter(dev gpu.Device, framesInFlight int) (*FrameSubmitter, error) {
	if framesInFlight <= 0 {
		return nil, fmt.Errorf("frame submitter: frames in flight must be positive, got %d", framesInFlight)
	}
	return &FrameSubmitter{
		dev:   dev,
		slots: make([]frameSlot, framesInFlight),
	}, nil
}

// Begin opens the command list of the next slot and returns its index.
func (s *FrameSubmitter) Begin(ctx context.Context) (int, gpu.CommandList, error) {
	slot := s.Slot()
	fs := &s.slots[slot]

	if fs.fence.Valid() {
		if err := s.dev.WaitFence(ctx, fs.fence); err != nil {
			return slot, nil, fmt.Errorf("wait for frame slot %d: %w", slot, err)
		}
		fs.fence = core.Handle[gpu.Fence]{}
	}

	cmd, err := s.dev.BeginCommandList(slot)
	if err != nil {
		return slot, nil, err
	}
	fs.cmd = cmd
	s.recording = true
	return slot, cmd, nil
}

// Submit submits the slot's commands after the wait semaphores and moves
// on to the next slot.
func (s *FrameSubmitter) Submit(wait []core.Handle[gpu.Semaphore]) (core.Handle[gpu.Semaphore], error) {
	if !s.recording {
		return core.Handle[gpu.Semaphore]{}, fmt.Errorf("frame submitter: submit without begin: %w", ErrInvalidState)
	}
	fs := &s.slots[s.Slot()]
	s.recording = false

	sem, fence, err := s.dev.Submit(fs.cmd, wait)
	if err != nil {
		return sem, err
	}
	fs.fence = fence
	s.frame++
	return sem, nil
}

// Abort drops the open recording without submitting it. The slot is reused
// by the next Begin.
func (s *FrameSubmitter) Abort() { s.recording = false }

// Slot is the index of the slot the current or next frame records into.
func (s *FrameSubmitter) Slot() int { return int(s.frame % uint64(len(s.slots))) }

// FrameIndex counts submitted frames.
func (s *FrameSubmitter) FrameIndex() uint64 { return s.frame }

func (s *FrameSubmitter) FramesInFlight() int { return len(s.slots) }

// Drain waits for every outstanding submission.
func (s *FrameSubmitter) Drain(ctx context.Context) error {
	var errs error
	for i := range s.slots {
		if s.slots[i].fence.Valid() {
			errs = multierr.Append(errs, s.dev.WaitFence(ctx, s.slots[i].fence))
			s.slots[i].fence = core.Handle[gpu.Fence]{}
		}
	}
	return errs
}
