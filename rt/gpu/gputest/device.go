// Package gputest provides an in-memory gpu.Device that records what is
// submitted to it. It performs no rendering.
package gputest

import (
	"context"
	"errors"
	"fmt"

	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
)

var (
	ErrNotRecording = errors.New("command list is not recording")
	ErrPassOpen     = errors.New("render pass already open")
	ErrNoPass       = errors.New("no render pass open")
	ErrUnknown      = errors.New("unknown handle")
)

// Call is one recorded command.
type Call struct {
	Op   string
	Slot int
	// Draw or Dispatch is set for the matching Op.
	Draw     gpu.DrawIndexed
	Dispatch gpu.Dispatch
}

type fence struct {
	submission int
}

// Device is a recording gpu.Device. Fail* fields inject errors into the
// next matching call and are cleared once returned.
type Device struct {
	Width, Height uint32
	limits        gpu.Limits

	Buffers          *core.Pool[gpu.Buffer]
	Images           *core.Pool[gpu.Image]
	Samplers         *core.Pool[gpu.Sampler]
	BindGroupLayouts *core.Pool[gpu.BindGroupLayout]
	BindGroups       *core.Pool[gpu.BindGroup]
	RenderPasses     *core.Pool[gpu.RenderPass]
	Pipelines        *core.Pool[gpu.GraphicsPipeline]
	ComputePipelines *core.Pool[gpu.ComputePipeline]
	semaphores       *core.Pool[gpu.Semaphore]
	fences           *core.Pool[gpu.Fence]

	mapped map[core.Handle[gpu.Buffer]]*gpu.MappedBuffer
	lists  map[int]*CommandList

	Calls       []Call
	Submissions int
	FenceWaits  int
	Presents    int

	FailAcquire error
	FailSubmit  error
	FailMake    error
}

func New(width, height uint32) *Device {
	return &Device{
		Width:  width,
		Height: height,
		limits: gpu.Limits{MinUniformOffsetAlignment: 256, MaxComputeWorkgroups: 65535},

		Buffers:          core.NewPool[gpu.Buffer](0),
		Images:           core.NewPool[gpu.Image](0),
		Samplers:         core.NewPool[gpu.Sampler](0),
		BindGroupLayouts: core.NewPool[gpu.BindGroupLayout](0),
		BindGroups:       core.NewPool[gpu.BindGroup](0),
		RenderPasses:     core.NewPool[gpu.RenderPass](0),
		Pipelines:        core.NewPool[gpu.GraphicsPipeline](0),
		ComputePipelines: core.NewPool[gpu.ComputePipeline](0),
		semaphores:       core.NewPool[gpu.Semaphore](0),
		fences:           core.NewPool[gpu.Fence](0),

		mapped: make(map[core.Handle[gpu.Buffer]]*gpu.MappedBuffer),
		lists:  make(map[int]*CommandList),
	}
}

func (d *Device) takeMakeErr(op string) error {
	if d.FailMake == nil {
		return nil
	}
	err := d.FailMake
	d.FailMake = nil
	return core.Fatal(op, err)
}

func (d *Device) MakeBuffer(info gpu.BufferInfo) (core.Handle[gpu.Buffer], error) {
	if err := d.takeMakeErr("create buffer"); err != nil {
		return core.Handle[gpu.Buffer]{}, err
	}
	if info.Size == 0 {
		info.Size = uint64(len(info.Data))
	}
	data := make([]byte, info.Size)
	copy(data, info.Data)
	h, err := d.Buffers.Insert(gpu.Buffer{Info: info, Impl: data})
	if err != nil {
		return h, core.Fatal("create buffer", err)
	}
	if info.Usage.Has(gpu.BufferMapped) {
		d.mapped[h] = gpu.NewMappedBuffer(data)
	}
	return h, nil
}

func (d *Device) MakeImage(info gpu.ImageInfo) (core.Handle[gpu.Image], error) {
	if err := d.takeMakeErr("create image"); err != nil {
		return core.Handle[gpu.Image]{}, err
	}
	if want := int(info.Width*info.Height) * info.Format.BytesPerPixel(); info.Data != nil && len(info.Data) != want {
		return core.Handle[gpu.Image]{}, core.Fatal("create image", fmt.Errorf("%q: got %d bytes, want %d", info.Label, len(info.Data), want))
	}
	return d.Images.Insert(gpu.Image{Info: info})
}

func (d *Device) MakeSampler(info gpu.SamplerInfo) (core.Handle[gpu.Sampler], error) {
	if err := d.takeMakeErr("create sampler"); err != nil {
		return core.Handle[gpu.Sampler]{}, err
	}
	return d.Samplers.Insert(gpu.Sampler{Info: info})
}

func (d *Device) MakeBindGroupLayout(info gpu.BindGroupLayoutInfo) (core.Handle[gpu.BindGroupLayout], error) {
	if err := d.takeMakeErr("create bind group layout"); err != nil {
		return core.Handle[gpu.BindGroupLayout]{}, err
	}
	return d.BindGroupLayouts.Insert(gpu.BindGroupLayout{Info: info})
}

func (d *Device) MakeBindGroup(info gpu.BindGroupInfo) (core.Handle[gpu.BindGroup], error) {
	if err := d.takeMakeErr("create bind group"); err != nil {
		return core.Handle[gpu.BindGroup]{}, err
	}
	if !d.BindGroupLayouts.Contains(info.Layout) {
		return core.Handle[gpu.BindGroup]{}, core.Fatal("create bind group", ErrUnknown)
	}
	return d.BindGroups.Insert(gpu.BindGroup{Info: info})
}

func (d *Device) MakeRenderPass(info gpu.RenderPassInfo) (core.Handle[gpu.RenderPass], error) {
	if err := d.takeMakeErr("create render pass"); err != nil {
		return core.Handle[gpu.RenderPass]{}, err
	}
	return d.RenderPasses.Insert(gpu.RenderPass{Info: info})
}

func (d *Device) MakeGraphicsPipeline(info gpu.GraphicsPipelineInfo) (core.Handle[gpu.GraphicsPipeline], error) {
	if err := d.takeMakeErr("create render pipeline"); err != nil {
		return core.Handle[gpu.GraphicsPipeline]{}, err
	}
	return d.Pipelines.Insert(gpu.GraphicsPipeline{Info: info})
}

func (d *Device) MakeComputePipeline(info gpu.ComputePipelineInfo) (core.Handle[gpu.ComputePipeline], error) {
	if err := d.takeMakeErr("create compute pipeline"); err != nil {
		return core.Handle[gpu.ComputePipeline]{}, err
	}
	return d.ComputePipelines.Insert(gpu.ComputePipeline{Info: info})
}

func (d *Device) MapBuffer(h core.Handle[gpu.Buffer]) (*gpu.MappedBuffer, error) {
	m, ok := d.mapped[h]
	if !ok || !d.Buffers.Contains(h) {
		return nil, core.Fatal("map buffer", fmt.Errorf("%v: %w", h, ErrUnknown))
	}
	return m, nil
}

// BufferData returns the contents of any buffer, mapped or not.
func (d *Device) BufferData(h core.Handle[gpu.Buffer]) []byte {
	b, ok := d.Buffers.Get(h)
	if !ok {
		return nil
	}
	return b.Impl.([]byte)
}

func (d *Device) BeginCommandList(slot int) (gpu.CommandList, error) {
	cl, ok := d.lists[slot]
	if !ok {
		cl = &CommandList{dev: d, slot: slot}
		d.lists[slot] = cl
	}
	cl.recording = true
	cl.inPass = false
	return cl, nil
}

func (d *Device) Submit(cmd gpu.CommandList, wait []core.Handle[gpu.Semaphore]) (core.Handle[gpu.Semaphore], core.Handle[gpu.Fence], error) {
	cl, ok := cmd.(*CommandList)
	if !ok || !cl.recording {
		return core.Handle[gpu.Semaphore]{}, core.Handle[gpu.Fence]{}, core.Fatal("submit", ErrNotRecording)
	}
	if cl.inPass {
		return core.Handle[gpu.Semaphore]{}, core.Handle[gpu.Fence]{}, core.Fatal("submit", ErrPassOpen)
	}
	cl.recording = false
	if d.FailSubmit != nil {
		err := d.FailSubmit
		d.FailSubmit = nil
		return core.Handle[gpu.Semaphore]{}, core.Handle[gpu.Fence]{}, err
	}
	for _, s := range wait {
		d.semaphores.Release(s)
	}

	d.Submissions++
	d.Calls = append(d.Calls, Call{Op: "submit", Slot: cl.slot})
	sem, _ := d.semaphores.Insert(gpu.Semaphore{})
	f, _ := d.fences.Insert(gpu.Fence{Impl: fence{submission: d.Submissions}})
	return sem, f, nil
}

func (d *Device) WaitFence(ctx context.Context, f core.Handle[gpu.Fence]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.fences.Release(f) {
		return nil
	}
	d.FenceWaits++
	d.Calls = append(d.Calls, Call{Op: "wait-fence"})
	return nil
}

// PendingFences is the number of fences not yet waited on.
func (d *Device) PendingFences() int { return d.fences.Len() }

func (d *Device) AcquireImage(ctx context.Context) (core.Handle[gpu.Image], core.Handle[gpu.Semaphore], error) {
	if err := ctx.Err(); err != nil {
		return core.Handle[gpu.Image]{}, core.Handle[gpu.Semaphore]{}, core.Transient("acquire image", err)
	}
	if d.FailAcquire != nil {
		err := d.FailAcquire
		d.FailAcquire = nil
		return core.Handle[gpu.Image]{}, core.Handle[gpu.Semaphore]{}, err
	}
	img, err := d.Images.Insert(gpu.Image{Info: gpu.ImageInfo{
		Label:  "surface",
		Width:  d.Width,
		Height: d.Height,
		Format: gpu.FormatBGRA8,
		Usage:  gpu.ImageRenderTarget,
	}})
	if err != nil {
		return img, core.Handle[gpu.Semaphore]{}, core.Fatal("acquire image", err)
	}
	sem, _ := d.semaphores.Insert(gpu.Semaphore{})
	d.Calls = append(d.Calls, Call{Op: "acquire"})
	return img, sem, nil
}

func (d *Device) Present(img core.Handle[gpu.Image], wait core.Handle[gpu.Semaphore]) error {
	if !d.Images.Release(img) {
		return core.Fatal("present", fmt.Errorf("%v: %w", img, ErrUnknown))
	}
	d.semaphores.Release(wait)
	d.Presents++
	d.Calls = append(d.Calls, Call{Op: "present"})
	return nil
}

func (d *Device) SurfaceSize() (uint32, uint32) { return d.Width, d.Height }

func destroy[T any](p *core.Pool[T], h core.Handle[T], op string) error {
	if !p.Release(h) {
		return core.Fatal(op, fmt.Errorf("%v: %w", h, ErrUnknown))
	}
	return nil
}

func (d *Device) DestroyBuffer(h core.Handle[gpu.Buffer]) error {
	delete(d.mapped, h)
	return destroy(d.Buffers, h, "destroy buffer")
}

func (d *Device) DestroyImage(h core.Handle[gpu.Image]) error {
	return destroy(d.Images, h, "destroy image")
}

func (d *Device) DestroySampler(h core.Handle[gpu.Sampler]) error {
	return destroy(d.Samplers, h, "destroy sampler")
}

func (d *Device) DestroyBindGroupLayout(h core.Handle[gpu.BindGroupLayout]) error {
	return destroy(d.BindGroupLayouts, h, "destroy bind group layout")
}

func (d *Device) DestroyBindGroup(h core.Handle[gpu.BindGroup]) error {
	return destroy(d.BindGroups, h, "destroy bind group")
}

func (d *Device) DestroyRenderPass(h core.Handle[gpu.RenderPass]) error {
	return destroy(d.RenderPasses, h, "destroy render pass")
}

func (d *Device) DestroyGraphicsPipeline(h core.Handle[gpu.GraphicsPipeline]) error {
	return destroy(d.Pipelines, h, "destroy render pipeline")
}

func (d *Device) DestroyComputePipeline(h core.Handle[gpu.ComputePipeline]) error {
	return destroy(d.ComputePipelines, h, "destroy compute pipeline")
}

func (d *Device) Limits() gpu.Limits { return d.limits }

// Ops returns the recorded op names in order.
func (d *Device) Ops() []string {
	ops := make([]string, len(d.Calls))
	for i, c := range d.Calls {
		ops[i] = c.Op
	}
	return ops
}

// Draws returns every recorded indexed draw.
func (d *Device) Draws() []gpu.DrawIndexed {
	var out []gpu.DrawIndexed
	for _, c := range d.Calls {
		if c.Op == "draw-indexed" {
			out = append(out, c.Draw)
		}
	}
	return out
}

// Reset clears the call log.
func (d *Device) Reset() {
	d.Calls = d.Calls[:0]
}

// CommandList records into its Device's call log.
type CommandList struct {
	dev       *Device
	slot      int
	recording bool
	inPass    bool
}

func (c *CommandList) Slot() int          { return c.slot }
func (c *CommandList) InRenderPass() bool { return c.inPass }

func (c *CommandList) record(call Call) {
	call.Slot = c.slot
	c.dev.Calls = append(c.dev.Calls, call)
}

func (c *CommandList) BeginDrawing(pass core.Handle[gpu.RenderPass]) error {
	switch {
	case !c.recording:
		return core.Fatal("begin drawing", ErrNotRecording)
	case c.inPass:
		return core.Fatal("begin drawing", ErrPassOpen)
	case !c.dev.RenderPasses.Contains(pass):
		return core.Fatal("begin drawing", ErrUnknown)
	}
	c.inPass = true
	c.record(Call{Op: "begin-drawing"})
	return nil
}

func (c *CommandList) BindPipeline(p core.Handle[gpu.GraphicsPipeline]) error {
	if !c.inPass {
		return core.Fatal("bind pipeline", ErrNoPass)
	}
	if !c.dev.Pipelines.Contains(p) {
		return core.Fatal("bind pipeline", ErrUnknown)
	}
	c.record(Call{Op: "bind-pipeline"})
	return nil
}

func (c *CommandList) DrawIndexed(d gpu.DrawIndexed) error {
	if !c.inPass {
		return core.Fatal("draw indexed", ErrNoPass)
	}
	for _, b := range d.BindGroups {
		if !c.dev.BindGroups.Contains(b.Group) {
			return core.Fatal("draw indexed", fmt.Errorf("bind group %v: %w", b.Group, ErrUnknown))
		}
	}
	c.record(Call{Op: "draw-indexed", Draw: d})
	return nil
}

func (c *CommandList) Dispatch(d gpu.Dispatch) error {
	if !c.recording {
		return core.Fatal("dispatch", ErrNotRecording)
	}
	if c.inPass {
		return core.Fatal("dispatch", ErrPassOpen)
	}
	c.record(Call{Op: "dispatch", Dispatch: d})
	return nil
}

func (c *CommandList) EndDrawing() error {
	if !c.inPass {
		return core.Fatal("end drawing", ErrNoPass)
	}
	c.inPass = false
	c.record(Call{Op: "end-drawing"})
	return nil
}

func (c *CommandList) Blit(src, dst core.Handle[gpu.Image], _ gpu.FilterMode) error {
	if c.inPass {
		return core.Fatal("blit", ErrPassOpen)
	}
	if !c.dev.Images.Contains(src) || !c.dev.Images.Contains(dst) {
		return core.Fatal("blit", ErrUnknown)
	}
	c.record(Call{Op: "blit"})
	return nil
}
