// Package wgpudev implements gpu.Device on WebGPU through
// github.com/cogentcore/webgpu, presenting into a glfw window.
package wgpudev

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/gekko3d/shoyu/rt/shaders"
	"github.com/go-gl/glfw/v3.3/glfw"
	"go.uber.org/multierr"
)

var errWrongBackend = errors.New("object was not created by this device")

type Options struct {
	VSync  bool
	Logger core.Logger
}

type buffer struct {
	buf    *wgpu.Buffer
	shadow *gpu.MappedBuffer
}

type image struct {
	tex     *wgpu.Texture
	view    *wgpu.TextureView
	surface bool
	blit    blitGroups
}

// blitGroups caches one blit bind group per filter mode, indexed like
// Device.blitSamplers.
type blitGroups [2]*wgpu.BindGroup

func filterIndex(f gpu.FilterMode) int {
	if f == gpu.FilterLinear {
		return 1
	}
	return 0
}

func (g *blitGroups) get(f gpu.FilterMode, create func(i int) (*wgpu.BindGroup, error)) (*wgpu.BindGroup, error) {
	i := filterIndex(f)
	if g[i] == nil {
		bg, err := create(i)
		if err != nil {
			return nil, err
		}
		g[i] = bg
	}
	return g[i], nil
}

func (g *blitGroups) release() {
	for i, bg := range g {
		if bg != nil {
			bg.Release()
			g[i] = nil
		}
	}
}

// Device drives a WebGPU device and the surface of one window.
type Device struct {
	log    core.Logger
	window *glfw.Window

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	surface  *wgpu.Surface
	config   *wgpu.SurfaceConfiguration
	limits   gpu.Limits

	buffers          *core.Pool[gpu.Buffer]
	images           *core.Pool[gpu.Image]
	samplers         *core.Pool[gpu.Sampler]
	bindGroupLayouts *core.Pool[gpu.BindGroupLayout]
	bindGroups       *core.Pool[gpu.BindGroup]
	renderPasses     *core.Pool[gpu.RenderPass]
	pipelines        *core.Pool[gpu.GraphicsPipeline]
	computePipelines *core.Pool[gpu.ComputePipeline]
	semaphores       *core.Pool[gpu.Semaphore]
	fences           *core.Pool[gpu.Fence]

	mapped []core.Handle[gpu.Buffer]
	lists  map[int]*CommandList

	blitLayout   *wgpu.BindGroupLayout
	blitPipeline *wgpu.RenderPipeline
	blitSamplers [2]*wgpu.Sampler
}

// New creates a device presenting to window.
func New(window *glfw.Window, opts Options) (*Device, error) {
	d := &Device{
		log:    core.OrNop(opts.Logger),
		window: window,

		buffers:          core.NewPool[gpu.Buffer](0),
		images:           core.NewPool[gpu.Image](0),
		samplers:         core.NewPool[gpu.Sampler](0),
		bindGroupLayouts: core.NewPool[gpu.BindGroupLayout](0),
		bindGroups:       core.NewPool[gpu.BindGroup](0),
		renderPasses:     core.NewPool[gpu.RenderPass](0),
		pipelines:        core.NewPool[gpu.GraphicsPipeline](0),
		computePipelines: core.NewPool[gpu.ComputePipeline](0),
		semaphores:       core.NewPool[gpu.Semaphore](0),
		fences:           core.NewPool[gpu.Fence](0),
		lists:            make(map[int]*CommandList),
	}

	d.instance = wgpu.CreateInstance(nil)
	d.surface = d.instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))

	adapter, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: d.surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, core.Fatal("request adapter", err)
	}
	d.adapter = adapter

	d.device, err = adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "shoyu"})
	if err != nil {
		return nil, core.Fatal("request device", err)
	}
	d.queue = d.device.GetQueue()

	supported := d.device.GetLimits()
	d.limits = gpu.Limits{
		MinUniformOffsetAlignment: supported.Limits.MinUniformBufferOffsetAlignment,
		MaxComputeWorkgroups:      supported.Limits.MaxComputeWorkgroupsPerDimension,
	}

	width, height := window.GetFramebufferSize()
	caps := d.surface.GetCapabilities(adapter)
	present := wgpu.PresentModeFifo
	if !opts.VSync {
		present = wgpu.PresentModeImmediate
	}
	d.config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: present,
		AlphaMode:   caps.AlphaModes[0],
	}
	d.surface.Configure(adapter, d.device, d.config)

	if err := d.initBlit(); err != nil {
		d.Release()
		return nil, err
	}

	d.log.Infof("wgpu device ready: surface %dx%d format %v", width, height, d.config.Format)
	return d, nil
}

func (d *Device) initBlit() error {
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "blit",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.BlitWGSL},
	})
	if err != nil {
		return core.Fatal("create blit shader", err)
	}
	defer module.Release()

	d.blitLayout, err = d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "blit",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return core.Fatal("create blit layout", err)
	}

	layout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{d.blitLayout},
	})
	if err != nil {
		return core.Fatal("create blit pipeline layout", err)
	}
	defer layout.Release()

	d.blitPipeline, err = d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "blit",
		Layout: layout,
		Vertex: wgpu.VertexState{Module: module, EntryPoint: "vs_main"},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    d.config.Format,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive:   wgpu.PrimitiveState{Topology: wgpu.PrimitiveTopologyTriangleList},
		Multisample: wgpu.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return core.Fatal("create blit pipeline", err)
	}

	for i, filter := range []wgpu.FilterMode{wgpu.FilterModeNearest, wgpu.FilterModeLinear} {
		d.blitSamplers[i], err = d.device.CreateSampler(&wgpu.SamplerDescriptor{
			AddressModeU:  wgpu.AddressModeClampToEdge,
			AddressModeV:  wgpu.AddressModeClampToEdge,
			AddressModeW:  wgpu.AddressModeClampToEdge,
			MinFilter:     filter,
			MagFilter:     filter,
			MaxAnisotropy: 1,
		})
		if err != nil {
			return core.Fatal("create blit sampler", err)
		}
	}
	return nil
}

func textureFormat(f gpu.Format) wgpu.TextureFormat {
	switch f {
	case gpu.FormatR8:
		return wgpu.TextureFormatR8Unorm
	case gpu.FormatBGRA8:
		return wgpu.TextureFormatBGRA8Unorm
	default:
		return wgpu.TextureFormatRGBA8Unorm
	}
}

func (d *Device) MakeBuffer(info gpu.BufferInfo) (core.Handle[gpu.Buffer], error) {
	size := info.Size
	if size == 0 {
		size = uint64(len(info.Data))
	}
	// Queue writes must be 4-byte aligned.
	size = (size + 3) &^ 3

	usage := wgpu.BufferUsageCopyDst
	if info.Usage.Has(gpu.BufferVertex) {
		usage |= wgpu.BufferUsageVertex
	}
	if info.Usage.Has(gpu.BufferIndex) {
		usage |= wgpu.BufferUsageIndex
	}
	if info.Usage.Has(gpu.BufferUniform) {
		usage |= wgpu.BufferUsageUniform
	}
	if info.Usage.Has(gpu.BufferStorage) {
		usage |= wgpu.BufferUsageStorage
	}

	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: info.Label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return core.Handle[gpu.Buffer]{}, core.Fatal("create buffer "+info.Label, err)
	}

	b := &buffer{buf: buf}
	if len(info.Data) > 0 {
		data := make([]byte, size)
		copy(data, info.Data)
		if err := d.queue.WriteBuffer(buf, 0, data); err != nil {
			buf.Release()
			return core.Handle[gpu.Buffer]{}, core.Fatal("upload buffer "+info.Label, err)
		}
	}
	if info.Usage.Has(gpu.BufferMapped) {
		b.shadow = gpu.NewMappedBuffer(make([]byte, size))
	}

	info.Data = nil
	h, err := d.buffers.Insert(gpu.Buffer{Info: info, Impl: b})
	if err != nil {
		buf.Release()
		return h, core.Fatal("create buffer "+info.Label, err)
	}
	if b.shadow != nil {
		d.mapped = append(d.mapped, h)
	}
	return h, nil
}

func (d *Device) MakeImage(info gpu.ImageInfo) (core.Handle[gpu.Image], error) {
	usage := wgpu.TextureUsageCopyDst
	if info.Usage&gpu.ImageSampled != 0 {
		usage |= wgpu.TextureUsageTextureBinding
	}
	if info.Usage&gpu.ImageRenderTarget != 0 {
		usage |= wgpu.TextureUsageRenderAttachment
	}
	if info.Usage&gpu.ImageCopySrc != 0 {
		usage |= wgpu.TextureUsageCopySrc
	}

	extent := wgpu.Extent3D{Width: info.Width, Height: info.Height, DepthOrArrayLayers: 1}
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         info.Label,
		Size:          extent,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        textureFormat(info.Format),
		Usage:         usage,
	})
	if err != nil {
		return core.Handle[gpu.Image]{}, core.Fatal("create image "+info.Label, err)
	}

	if len(info.Data) > 0 {
		bpp := uint32(info.Format.BytesPerPixel())
		err = d.queue.WriteTexture(tex.AsImageCopy(), info.Data, &wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  info.Width * bpp,
			RowsPerImage: info.Height,
		}, &extent)
		if err != nil {
			tex.Release()
			return core.Handle[gpu.Image]{}, core.Fatal("upload image "+info.Label, err)
		}
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return core.Handle[gpu.Image]{}, core.Fatal("create image view "+info.Label, err)
	}

	info.Data = nil
	return d.images.Insert(gpu.Image{Info: info, Impl: &image{tex: tex, view: view}})
}

func (d *Device) MakeSampler(info gpu.SamplerInfo) (core.Handle[gpu.Sampler], error) {
	filter := wgpu.FilterModeNearest
	if info.Filter == gpu.FilterLinear {
		filter = wgpu.FilterModeLinear
	}
	s, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         info.Label,
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MinFilter:     filter,
		MagFilter:     filter,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return core.Handle[gpu.Sampler]{}, core.Fatal("create sampler", err)
	}
	return d.samplers.Insert(gpu.Sampler{Info: info, Impl: s})
}

func visibility(s gpu.ShaderStage) wgpu.ShaderStage {
	var v wgpu.ShaderStage
	if s&gpu.StageVertex != 0 {
		v |= wgpu.ShaderStageVertex
	}
	if s&gpu.StageFragment != 0 {
		v |= wgpu.ShaderStageFragment
	}
	if s&gpu.StageCompute != 0 {
		v |= wgpu.ShaderStageCompute
	}
	return v
}

// MakeBindGroupLayout builds an explicit layout. Automatic layouts cannot
// express dynamic offsets.
func (d *Device) MakeBindGroupLayout(info gpu.BindGroupLayoutInfo) (core.Handle[gpu.BindGroupLayout], error) {
	var entries []wgpu.BindGroupLayoutEntry
	for _, e := range info.Entries {
		vis := visibility(e.Stages)
		switch e.Kind {
		case gpu.BindingDynamicUniform:
			entries = append(entries, wgpu.BindGroupLayoutEntry{
				Binding:    e.Binding,
				Visibility: vis,
				Buffer: wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: true,
					MinBindingSize:   e.Size,
				},
			})
		case gpu.BindingStorageRead, gpu.BindingStorageReadWrite:
			typ := wgpu.BufferBindingTypeReadOnlyStorage
			if e.Kind == gpu.BindingStorageReadWrite {
				typ = wgpu.BufferBindingTypeStorage
			}
			entries = append(entries, wgpu.BindGroupLayoutEntry{
				Binding:    e.Binding,
				Visibility: vis,
				Buffer:     wgpu.BufferBindingLayout{Type: typ},
			})
		case gpu.BindingSampledImage:
			entries = append(entries,
				wgpu.BindGroupLayoutEntry{
					Binding:    e.Binding,
					Visibility: vis,
					Texture: wgpu.TextureBindingLayout{
						SampleType:    wgpu.TextureSampleTypeFloat,
						ViewDimension: wgpu.TextureViewDimension2D,
					},
				},
				wgpu.BindGroupLayoutEntry{
					Binding:    e.Binding + 1,
					Visibility: vis,
					Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
				})
		default:
			return core.Handle[gpu.BindGroupLayout]{}, core.Fatal("create bind group layout",
				fmt.Errorf("%s: unsupported binding kind %v", info.Label, e.Kind))
		}
	}

	bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   info.Label,
		Entries: entries,
	})
	if err != nil {
		return core.Handle[gpu.BindGroupLayout]{}, core.Fatal("create bind group layout "+info.Label, err)
	}
	return d.bindGroupLayouts.Insert(gpu.BindGroupLayout{Info: info, Impl: bgl})
}

func (d *Device) MakeBindGroup(info gpu.BindGroupInfo) (core.Handle[gpu.BindGroup], error) {
	layout, ok := d.bindGroupLayouts.Get(info.Layout)
	if !ok {
		return core.Handle[gpu.BindGroup]{}, core.Fatal("create bind group "+info.Label, errWrongBackend)
	}
	kinds := make(map[uint32]gpu.BindingKind, len(layout.Info.Entries))
	for _, e := range layout.Info.Entries {
		kinds[e.Binding] = e.Kind
	}

	var entries []wgpu.BindGroupEntry
	for _, e := range info.Entries {
		if kinds[e.Binding] == gpu.BindingSampledImage && e.Image.Valid() {
			img, ok := d.images.Get(e.Image)
			smp, ok2 := d.samplers.Get(e.Sampler)
			if !ok || !ok2 {
				return core.Handle[gpu.BindGroup]{}, core.Fatal("create bind group "+info.Label, errWrongBackend)
			}
			entries = append(entries,
				wgpu.BindGroupEntry{Binding: e.Binding, TextureView: img.Impl.(*image).view},
				wgpu.BindGroupEntry{Binding: e.Binding + 1, Sampler: smp.Impl.(*wgpu.Sampler)})
			continue
		}
		buf, ok := d.buffers.Get(e.Buffer)
		if !ok {
			return core.Handle[gpu.BindGroup]{}, core.Fatal("create bind group "+info.Label, errWrongBackend)
		}
		size := e.Size
		if size == 0 {
			size = wgpu.WholeSize
		}
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: e.Binding,
			Buffer:  buf.Impl.(*buffer).buf,
			Offset:  e.Offset,
			Size:    size,
		})
	}

	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   info.Label,
		Layout:  layout.Impl.(*wgpu.BindGroupLayout),
		Entries: entries,
	})
	if err != nil {
		return core.Handle[gpu.BindGroup]{}, core.Fatal("create bind group "+info.Label, err)
	}
	return d.bindGroups.Insert(gpu.BindGroup{Info: info, Impl: bg})
}

// MakeRenderPass records the attachments; the pass itself is encoded per
// frame by BeginDrawing.
func (d *Device) MakeRenderPass(info gpu.RenderPassInfo) (core.Handle[gpu.RenderPass], error) {
	for _, c := range info.Colors {
		if !d.images.Contains(c.Image) {
			return core.Handle[gpu.RenderPass]{}, core.Fatal("create render pass "+info.Label, errWrongBackend)
		}
	}
	return d.renderPasses.Insert(gpu.RenderPass{Info: info})
}

func (d *Device) pipelineLayout(label string, layouts []core.Handle[gpu.BindGroupLayout]) (*wgpu.PipelineLayout, error) {
	bgls := make([]*wgpu.BindGroupLayout, 0, len(layouts))
	for _, h := range layouts {
		l, ok := d.bindGroupLayouts.Get(h)
		if !ok {
			return nil, errWrongBackend
		}
		bgls = append(bgls, l.Impl.(*wgpu.BindGroupLayout))
	}
	return d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: bgls,
	})
}

func vertexFormat(f gpu.VertexFormat) wgpu.VertexFormat {
	if f == gpu.VertexFloat32x4 {
		return wgpu.VertexFormatFloat32x4
	}
	return wgpu.VertexFormatFloat32x2
}

func (d *Device) MakeGraphicsPipeline(info gpu.GraphicsPipelineInfo) (core.Handle[gpu.GraphicsPipeline], error) {
	op := "create render pipeline " + info.Label
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          info.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: info.Shader},
	})
	if err != nil {
		return core.Handle[gpu.GraphicsPipeline]{}, core.Fatal(op, err)
	}
	defer module.Release()

	layout, err := d.pipelineLayout(info.Label, info.Layouts)
	if err != nil {
		return core.Handle[gpu.GraphicsPipeline]{}, core.Fatal(op, err)
	}
	defer layout.Release()

	var buffers []wgpu.VertexBufferLayout
	for _, vl := range info.Vertex {
		attrs := make([]wgpu.VertexAttribute, len(vl.Attributes))
		for i, a := range vl.Attributes {
			attrs[i] = wgpu.VertexAttribute{
				Format:         vertexFormat(a.Format),
				Offset:         a.Offset,
				ShaderLocation: a.Location,
			}
		}
		buffers = append(buffers, wgpu.VertexBufferLayout{
			ArrayStride: vl.Stride,
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes:  attrs,
		})
	}

	target := wgpu.ColorTargetState{
		Format:    textureFormat(info.Format),
		WriteMask: wgpu.ColorWriteMaskAll,
	}
	if info.AlphaBlend {
		target.Blend = &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		}
	}

	p, err := d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  info.Label,
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: info.VertexEntry,
			Buffers:    buffers,
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: info.FragmentEntry,
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return core.Handle[gpu.GraphicsPipeline]{}, core.Fatal(op, err)
	}
	return d.pipelines.Insert(gpu.GraphicsPipeline{Info: info, Impl: p})
}

func (d *Device) MakeComputePipeline(info gpu.ComputePipelineInfo) (core.Handle[gpu.ComputePipeline], error) {
	op := "create compute pipeline " + info.Label
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          info.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: info.Shader},
	})
	if err != nil {
		return core.Handle[gpu.ComputePipeline]{}, core.Fatal(op, err)
	}
	defer module.Release()

	layout, err := d.pipelineLayout(info.Label, info.Layouts)
	if err != nil {
		return core.Handle[gpu.ComputePipeline]{}, core.Fatal(op, err)
	}
	defer layout.Release()

	p, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  info.Label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: info.Entry,
		},
	})
	if err != nil {
		return core.Handle[gpu.ComputePipeline]{}, core.Fatal(op, err)
	}
	return d.computePipelines.Insert(gpu.ComputePipeline{Info: info, Impl: p})
}

// MapBuffer returns the CPU shadow of a mapped buffer. WebGPU has no
// persistent mapping; the written span is uploaded on the next Submit.
func (d *Device) MapBuffer(h core.Handle[gpu.Buffer]) (*gpu.MappedBuffer, error) {
	b, ok := d.buffers.Get(h)
	if !ok {
		return nil, core.Fatal("map buffer", errWrongBackend)
	}
	shadow := b.Impl.(*buffer).shadow
	if shadow == nil {
		return nil, core.Fatal("map buffer", fmt.Errorf("%s was not created mappable", b.Info.Label))
	}
	return shadow, nil
}

func (d *Device) flushMapped() error {
	var errs error
	for _, h := range d.mapped {
		b, ok := d.buffers.Get(h)
		if !ok {
			continue
		}
		impl := b.Impl.(*buffer)
		for _, span := range impl.shadow.TakeDirty() {
			// WriteBuffer wants 4-byte aligned offsets and sizes.
			lo := span.Lo &^ 3
			hi := min((span.Hi+3)&^3, impl.shadow.Len())
			data, err := impl.shadow.Bytes(lo, hi-lo)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			errs = multierr.Append(errs, d.queue.WriteBuffer(impl.buf, uint64(lo), data))
		}
	}
	return errs
}

func (d *Device) SurfaceSize() (uint32, uint32) { return d.config.Width, d.config.Height }
func (d *Device) Limits() gpu.Limits            { return d.limits }

func (d *Device) DestroyBuffer(h core.Handle[gpu.Buffer]) error {
	b, ok := d.buffers.Get(h)
	if !ok {
		return core.Fatal("destroy buffer", errWrongBackend)
	}
	b.Impl.(*buffer).buf.Release()
	d.buffers.Release(h)
	for i, m := range d.mapped {
		if m == h {
			d.mapped = append(d.mapped[:i], d.mapped[i+1:]...)
			break
		}
	}
	return nil
}

func (d *Device) DestroyImage(h core.Handle[gpu.Image]) error {
	img, ok := d.images.Get(h)
	if !ok {
		return core.Fatal("destroy image", errWrongBackend)
	}
	releaseImage(img.Impl.(*image))
	d.images.Release(h)
	return nil
}

func releaseImage(img *image) {
	img.blit.release()
	img.view.Release()
	img.tex.Release()
}

func (d *Device) DestroySampler(h core.Handle[gpu.Sampler]) error {
	s, ok := d.samplers.Get(h)
	if !ok {
		return core.Fatal("destroy sampler", errWrongBackend)
	}
	s.Impl.(*wgpu.Sampler).Release()
	d.samplers.Release(h)
	return nil
}

func (d *Device) DestroyBindGroupLayout(h core.Handle[gpu.BindGroupLayout]) error {
	l, ok := d.bindGroupLayouts.Get(h)
	if !ok {
		return core.Fatal("destroy bind group layout", errWrongBackend)
	}
	l.Impl.(*wgpu.BindGroupLayout).Release()
	d.bindGroupLayouts.Release(h)
	return nil
}

func (d *Device) DestroyBindGroup(h core.Handle[gpu.BindGroup]) error {
	bg, ok := d.bindGroups.Get(h)
	if !ok {
		return core.Fatal("destroy bind group", errWrongBackend)
	}
	bg.Impl.(*wgpu.BindGroup).Release()
	d.bindGroups.Release(h)
	return nil
}

func (d *Device) DestroyRenderPass(h core.Handle[gpu.RenderPass]) error {
	if !d.renderPasses.Release(h) {
		return core.Fatal("destroy render pass", errWrongBackend)
	}
	return nil
}

func (d *Device) DestroyGraphicsPipeline(h core.Handle[gpu.GraphicsPipeline]) error {
	p, ok := d.pipelines.Get(h)
	if !ok {
		return core.Fatal("destroy render pipeline", errWrongBackend)
	}
	p.Impl.(*wgpu.RenderPipeline).Release()
	d.pipelines.Release(h)
	return nil
}

func (d *Device) DestroyComputePipeline(h core.Handle[gpu.ComputePipeline]) error {
	p, ok := d.computePipelines.Get(h)
	if !ok {
		return core.Fatal("destroy compute pipeline", errWrongBackend)
	}
	p.Impl.(*wgpu.ComputePipeline).Release()
	d.computePipelines.Release(h)
	return nil
}

// Release frees every object still owned by the device, then the device.
func (d *Device) Release() {
	d.buffers.Each(func(_ core.Handle[gpu.Buffer], b *gpu.Buffer) bool {
		b.Impl.(*buffer).buf.Release()
		return true
	})
	d.images.Each(func(_ core.Handle[gpu.Image], img *gpu.Image) bool {
		if i := img.Impl.(*image); !i.surface {
			releaseImage(i)
		}
		return true
	})
	d.bindGroups.Each(func(_ core.Handle[gpu.BindGroup], bg *gpu.BindGroup) bool {
		bg.Impl.(*wgpu.BindGroup).Release()
		return true
	})
	d.bindGroupLayouts.Each(func(_ core.Handle[gpu.BindGroupLayout], l *gpu.BindGroupLayout) bool {
		l.Impl.(*wgpu.BindGroupLayout).Release()
		return true
	})
	d.samplers.Each(func(_ core.Handle[gpu.Sampler], s *gpu.Sampler) bool {
		s.Impl.(*wgpu.Sampler).Release()
		return true
	})
	d.pipelines.Each(func(_ core.Handle[gpu.GraphicsPipeline], p *gpu.GraphicsPipeline) bool {
		p.Impl.(*wgpu.RenderPipeline).Release()
		return true
	})
	d.computePipelines.Each(func(_ core.Handle[gpu.ComputePipeline], p *gpu.ComputePipeline) bool {
		p.Impl.(*wgpu.ComputePipeline).Release()
		return true
	})

	for _, s := range d.blitSamplers {
		if s != nil {
			s.Release()
		}
	}
	if d.blitPipeline != nil {
		d.blitPipeline.Release()
	}
	if d.blitLayout != nil {
		d.blitLayout.Release()
	}
	if d.surface != nil {
		d.surface.Release()
	}
	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
}
