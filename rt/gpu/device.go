// Package gpu is the backend-neutral GPU capability the renderer records
// against. Backends live in subpackages: wgpudev drives WebGPU, gputest
// records calls for tests.
package gpu

import (
	"context"

	"github.com/gekko3d/shoyu/rt/core"
)

// Device creates GPU objects and submits recorded work.
//
// Errors are returned as *core.GPUError. A transient error means the frame
// should be skipped and retried; a fatal one means the device is unusable.
type Device interface {
	MakeBuffer(info BufferInfo) (core.Handle[Buffer], error)
	MakeImage(info ImageInfo) (core.Handle[Image], error)
	MakeSampler(info SamplerInfo) (core.Handle[Sampler], error)
	MakeBindGroupLayout(info BindGroupLayoutInfo) (core.Handle[BindGroupLayout], error)
	MakeBindGroup(info BindGroupInfo) (core.Handle[BindGroup], error)
	MakeRenderPass(info RenderPassInfo) (core.Handle[RenderPass], error)
	MakeGraphicsPipeline(info GraphicsPipelineInfo) (core.Handle[GraphicsPipeline], error)
	MakeComputePipeline(info ComputePipelineInfo) (core.Handle[ComputePipeline], error)

	// MapBuffer returns the CPU view of a buffer created with BufferMapped.
	// Writes are not synchronized with GPU work that may still read the
	// same bytes; callers partition the buffer per frame in flight.
	MapBuffer(h core.Handle[Buffer]) (*MappedBuffer, error)

	// BeginCommandList opens the command list owned by a frame slot.
	BeginCommandList(slot int) (CommandList, error)
	// Submit queues cmd after every semaphore in wait. The returned
	// semaphore is signaled when the work completes on the GPU; the fence
	// can be waited on from the CPU. Both are consumed by their waiter.
	Submit(cmd CommandList, wait []core.Handle[Semaphore]) (core.Handle[Semaphore], core.Handle[Fence], error)
	// WaitFence blocks until the fence signals, then releases it. Waiting on
	// a fence that was already released returns immediately.
	WaitFence(ctx context.Context, f core.Handle[Fence]) error

	// AcquireImage returns the next presentable image and a semaphore that
	// is signaled once it can be written.
	AcquireImage(ctx context.Context) (core.Handle[Image], core.Handle[Semaphore], error)
	Present(img core.Handle[Image], wait core.Handle[Semaphore]) error
	SurfaceSize() (width, height uint32)

	DestroyBuffer(h core.Handle[Buffer]) error
	DestroyImage(h core.Handle[Image]) error
	DestroySampler(h core.Handle[Sampler]) error
	DestroyBindGroupLayout(h core.Handle[BindGroupLayout]) error
	DestroyBindGroup(h core.Handle[BindGroup]) error
	DestroyRenderPass(h core.Handle[RenderPass]) error
	DestroyGraphicsPipeline(h core.Handle[GraphicsPipeline]) error
	DestroyComputePipeline(h core.Handle[ComputePipeline]) error

	Limits() Limits
}

// BindSet binds a group together with its dynamic offsets, one per dynamic
// binding in layout order.
type BindSet struct {
	Group          core.Handle[BindGroup]
	DynamicOffsets []uint32
}

// DrawIndexed draws uint16-indexed triangles. A zero Vertex handle draws
// without a vertex buffer.
type DrawIndexed struct {
	Vertex        core.Handle[Buffer]
	VertexOffset  uint64
	Index         core.Handle[Buffer]
	IndexCount    uint32
	InstanceCount uint32
	BindGroups    []BindSet
}

type Dispatch struct {
	Pipeline   core.Handle[ComputePipeline]
	BindGroups []BindSet
	X, Y, Z    uint32
}

// CommandList records work for one frame slot. Compute dispatches must be
// recorded outside a render pass.
type CommandList interface {
	Slot() int
	BeginDrawing(pass core.Handle[RenderPass]) error
	BindPipeline(p core.Handle[GraphicsPipeline]) error
	DrawIndexed(d DrawIndexed) error
	Dispatch(d Dispatch) error
	EndDrawing() error
	// Blit copies src onto dst, scaling with the given filter.
	Blit(src, dst core.Handle[Image], filter FilterMode) error
	InRenderPass() bool
}
