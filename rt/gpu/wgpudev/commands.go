package wgpudev

import (
	"context"
	"errors"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
)

var (
	errNotRecording = errors.New("command list is not recording")
	errPassOpen     = errors.New("render pass is open")
	errNoPass       = errors.New("no render pass is open")
)

// CommandList wraps a command encoder for one frame slot.
type CommandList struct {
	dev     *Device
	slot    int
	encoder *wgpu.CommandEncoder
	pass    *wgpu.RenderPassEncoder
}

func (d *Device) BeginCommandList(slot int) (gpu.CommandList, error) {
	cl, ok := d.lists[slot]
	if !ok {
		cl = &CommandList{dev: d, slot: slot}
		d.lists[slot] = cl
	}
	if cl.encoder != nil {
		cl.encoder.Release()
	}
	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		cl.encoder = nil
		return nil, core.Fatal("create command encoder", err)
	}
	cl.encoder = enc
	cl.pass = nil
	return cl, nil
}

func (c *CommandList) Slot() int          { return c.slot }
func (c *CommandList) InRenderPass() bool { return c.pass != nil }

func (c *CommandList) BeginDrawing(h core.Handle[gpu.RenderPass]) error {
	if c.encoder == nil {
		return core.Fatal("begin drawing", errNotRecording)
	}
	if c.pass != nil {
		return core.Fatal("begin drawing", errPassOpen)
	}
	rp, ok := c.dev.renderPasses.Get(h)
	if !ok {
		return core.Fatal("begin drawing", errWrongBackend)
	}

	colors := make([]wgpu.RenderPassColorAttachment, 0, len(rp.Info.Colors))
	for _, att := range rp.Info.Colors {
		img, ok := c.dev.images.Get(att.Image)
		if !ok {
			return core.Fatal("begin drawing", errWrongBackend)
		}
		colors = append(colors, wgpu.RenderPassColorAttachment{
			View:       img.Impl.(*image).view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: att.Clear[0], G: att.Clear[1], B: att.Clear[2], A: att.Clear[3]},
		})
	}
	c.pass = c.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label:            rp.Info.Label,
		ColorAttachments: colors,
	})
	return nil
}

func (c *CommandList) BindPipeline(h core.Handle[gpu.GraphicsPipeline]) error {
	if c.pass == nil {
		return core.Fatal("bind pipeline", errNoPass)
	}
	p, ok := c.dev.pipelines.Get(h)
	if !ok {
		return core.Fatal("bind pipeline", errWrongBackend)
	}
	c.pass.SetPipeline(p.Impl.(*wgpu.RenderPipeline))
	return nil
}

func (c *CommandList) DrawIndexed(d gpu.DrawIndexed) error {
	if c.pass == nil {
		return core.Fatal("draw indexed", errNoPass)
	}
	for i, set := range d.BindGroups {
		bg, ok := c.dev.bindGroups.Get(set.Group)
		if !ok {
			return core.Fatal("draw indexed", errWrongBackend)
		}
		c.pass.SetBindGroup(uint32(i), bg.Impl.(*wgpu.BindGroup), set.DynamicOffsets)
	}
	if d.Vertex.Valid() {
		vb, ok := c.dev.buffers.Get(d.Vertex)
		if !ok {
			return core.Fatal("draw indexed", errWrongBackend)
		}
		c.pass.SetVertexBuffer(0, vb.Impl.(*buffer).buf, d.VertexOffset, wgpu.WholeSize)
	}
	ib, ok := c.dev.buffers.Get(d.Index)
	if !ok {
		return core.Fatal("draw indexed", errWrongBackend)
	}
	c.pass.SetIndexBuffer(ib.Impl.(*buffer).buf, wgpu.IndexFormatUint16, 0, wgpu.WholeSize)

	instances := d.InstanceCount
	if instances == 0 {
		instances = 1
	}
	c.pass.DrawIndexed(d.IndexCount, instances, 0, 0, 0)
	return nil
}

func (c *CommandList) Dispatch(d gpu.Dispatch) error {
	if c.encoder == nil {
		return core.Fatal("dispatch", errNotRecording)
	}
	if c.pass != nil {
		return core.Fatal("dispatch", errPassOpen)
	}
	p, ok := c.dev.computePipelines.Get(d.Pipeline)
	if !ok {
		return core.Fatal("dispatch", errWrongBackend)
	}

	cp := c.encoder.BeginComputePass(nil)
	defer cp.Release()
	cp.SetPipeline(p.Impl.(*wgpu.ComputePipeline))
	for i, set := range d.BindGroups {
		bg, ok := c.dev.bindGroups.Get(set.Group)
		if !ok {
			_ = cp.End()
			return core.Fatal("dispatch", errWrongBackend)
		}
		cp.SetBindGroup(uint32(i), bg.Impl.(*wgpu.BindGroup), set.DynamicOffsets)
	}
	cp.DispatchWorkgroups(max(d.X, 1), max(d.Y, 1), max(d.Z, 1))
	return core.Fatal("dispatch", cp.End())
}

func (c *CommandList) EndDrawing() error {
	if c.pass == nil {
		return core.Fatal("end drawing", errNoPass)
	}
	err := c.pass.End()
	c.pass.Release()
	c.pass = nil
	return core.Fatal("end drawing", err)
}

// Blit draws src over dst with a fullscreen triangle.
func (c *CommandList) Blit(src, dst core.Handle[gpu.Image], filter gpu.FilterMode) error {
	if c.encoder == nil {
		return core.Fatal("blit", errNotRecording)
	}
	if c.pass != nil {
		return core.Fatal("blit", errPassOpen)
	}
	s, ok := c.dev.images.Get(src)
	t, ok2 := c.dev.images.Get(dst)
	if !ok || !ok2 {
		return core.Fatal("blit", errWrongBackend)
	}
	srcImg := s.Impl.(*image)

	bg, err := srcImg.blit.get(filter, func(i int) (*wgpu.BindGroup, error) {
		return c.dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "blit",
			Layout: c.dev.blitLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: srcImg.view},
				{Binding: 1, Sampler: c.dev.blitSamplers[i]},
			},
		})
	})
	if err != nil {
		return core.Fatal("blit", err)
	}

	pass := c.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "blit",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       t.Impl.(*image).view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	defer pass.Release()
	pass.SetPipeline(c.dev.blitPipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Draw(3, 1, 0, 0)
	return core.Fatal("blit", pass.End())
}

// Submit uploads every dirty mapped span, then submits the encoder. WebGPU
// orders queue submissions, so semaphores carry no native object.
func (d *Device) Submit(cmd gpu.CommandList, wait []core.Handle[gpu.Semaphore]) (core.Handle[gpu.Semaphore], core.Handle[gpu.Fence], error) {
	var (
		noSem   core.Handle[gpu.Semaphore]
		noFence core.Handle[gpu.Fence]
	)
	cl, ok := cmd.(*CommandList)
	if !ok || cl.encoder == nil {
		return noSem, noFence, core.Fatal("submit", errNotRecording)
	}
	if cl.pass != nil {
		return noSem, noFence, core.Fatal("submit", errPassOpen)
	}
	for _, s := range wait {
		d.semaphores.Release(s)
	}

	if err := d.flushMapped(); err != nil {
		return noSem, noFence, core.Fatal("upload mapped buffers", err)
	}

	buf, err := cl.encoder.Finish(nil)
	cl.encoder.Release()
	cl.encoder = nil
	if err != nil {
		return noSem, noFence, core.Fatal("finish commands", err)
	}
	defer buf.Release()

	idx := d.queue.Submit(buf)
	sem, err := d.semaphores.Insert(gpu.Semaphore{})
	if err != nil {
		return noSem, noFence, core.Fatal("submit", err)
	}
	fence, err := d.fences.Insert(gpu.Fence{Impl: idx})
	if err != nil {
		return noSem, noFence, core.Fatal("submit", err)
	}
	return sem, fence, nil
}

// WaitFence blocks in Device.Poll until the submission completes.
func (d *Device) WaitFence(ctx context.Context, h core.Handle[gpu.Fence]) error {
	f, ok := d.fences.Get(h)
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.device.Poll(true, &wgpu.WrappedSubmissionIndex{
		Queue:           d.queue,
		SubmissionIndex: f.Impl.(wgpu.SubmissionIndex),
	})
	d.fences.Release(h)
	return nil
}

// AcquireImage returns the current surface texture, reconfiguring the
// surface first when the framebuffer was resized. Surface errors are
// transient: the frame is skipped and acquisition retried.
func (d *Device) AcquireImage(ctx context.Context) (core.Handle[gpu.Image], core.Handle[gpu.Semaphore], error) {
	var (
		noImg core.Handle[gpu.Image]
		noSem core.Handle[gpu.Semaphore]
	)
	if err := ctx.Err(); err != nil {
		return noImg, noSem, core.Transient("acquire image", err)
	}

	w, h := d.window.GetFramebufferSize()
	if w == 0 || h == 0 {
		return noImg, noSem, core.Transient("acquire image", errors.New("window is minimized"))
	}
	if uint32(w) != d.config.Width || uint32(h) != d.config.Height {
		d.config.Width, d.config.Height = uint32(w), uint32(h)
		d.surface.Configure(d.adapter, d.device, d.config)
		d.log.Debugf("surface reconfigured to %dx%d", w, h)
	}

	tex, err := d.surface.GetCurrentTexture()
	if err != nil {
		return noImg, noSem, core.Transient("acquire image", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return noImg, noSem, core.Transient("acquire image", err)
	}

	img, err := d.images.Insert(gpu.Image{
		Info: gpu.ImageInfo{
			Label:  "surface",
			Width:  d.config.Width,
			Height: d.config.Height,
			Format: gpu.FormatBGRA8,
			Usage:  gpu.ImageRenderTarget,
		},
		Impl: &image{tex: tex, view: view, surface: true},
	})
	if err != nil {
		view.Release()
		tex.Release()
		return noImg, noSem, core.Fatal("acquire image", err)
	}
	sem, err := d.semaphores.Insert(gpu.Semaphore{})
	if err != nil {
		return noImg, noSem, core.Fatal("acquire image", err)
	}
	return img, sem, nil
}

func (d *Device) Present(h core.Handle[gpu.Image], wait core.Handle[gpu.Semaphore]) error {
	img, ok := d.images.Get(h)
	if !ok {
		return core.Fatal("present", errWrongBackend)
	}
	d.semaphores.Release(wait)
	d.surface.Present()
	releaseImage(img.Impl.(*image))
	d.images.Release(h)
	return nil
}
