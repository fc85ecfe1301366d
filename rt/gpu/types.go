package gpu

import "github.com/gekko3d/shoyu/rt/core"

// Objects owned by a Device. Each is addressed through a core.Handle minted
// by a pool inside the backend; Impl holds the backend's native object.

type Buffer struct {
	Info BufferInfo
	Impl any
}

type Image struct {
	Info ImageInfo
	Impl any
}

type Sampler struct {
	Info SamplerInfo
	Impl any
}

type BindGroupLayout struct {
	Info BindGroupLayoutInfo
	Impl any
}

type BindGroup struct {
	Info BindGroupInfo
	Impl any
}

type RenderPass struct {
	Info RenderPassInfo
	Impl any
}

type GraphicsPipeline struct {
	Info GraphicsPipelineInfo
	Impl any
}

type ComputePipeline struct {
	Info ComputePipelineInfo
	Impl any
}

// Semaphore orders GPU work against other GPU work.
type Semaphore struct {
	Impl any
}

// Fence is signaled when a submission has finished executing.
type Fence struct {
	Impl any
}

type BufferUsage uint32

const (
	BufferVertex BufferUsage = 1 << iota
	BufferIndex
	BufferUniform
	BufferStorage
	// BufferMapped requests a CPU view through Device.MapBuffer.
	BufferMapped
)

func (u BufferUsage) Has(f BufferUsage) bool { return u&f != 0 }

type BufferInfo struct {
	Label string
	Size  uint64
	Usage BufferUsage
	// Data, when set, is uploaded at creation.
	Data []byte
}

type Format int

const (
	FormatRGBA8 Format = iota
	FormatBGRA8
	FormatR8
)

// BytesPerPixel returns the texel size of f.
func (f Format) BytesPerPixel() int {
	if f == FormatR8 {
		return 1
	}
	return 4
}

type ImageUsage uint32

const (
	ImageSampled ImageUsage = 1 << iota
	ImageRenderTarget
	ImageCopySrc
)

type ImageInfo struct {
	Label  string
	Width  uint32
	Height uint32
	Format Format
	Usage  ImageUsage
	Data   []byte
}

type FilterMode int

const (
	FilterNearest FilterMode = iota
	FilterLinear
)

type SamplerInfo struct {
	Label  string
	Filter FilterMode
}

type BindingKind int

const (
	BindingDynamicUniform BindingKind = iota
	BindingStorageRead
	BindingStorageReadWrite
	// BindingSampledImage occupies two slots: the texture at Binding and its
	// sampler at Binding+1.
	BindingSampledImage
)

func (k BindingKind) String() string {
	switch k {
	case BindingDynamicUniform:
		return "dynamic-uniform"
	case BindingStorageRead:
		return "storage-read"
	case BindingStorageReadWrite:
		return "storage-read-write"
	case BindingSampledImage:
		return "sampled-image"
	default:
		return "unknown"
	}
}

type ShaderStage uint32

const (
	StageVertex ShaderStage = 1 << iota
	StageFragment
	StageCompute
)

type LayoutEntry struct {
	Binding uint32
	Kind    BindingKind
	Stages  ShaderStage
	// Size is the bound range for buffer bindings.
	Size uint64
}

type BindGroupLayoutInfo struct {
	Label   string
	Entries []LayoutEntry
}

type BindGroupEntry struct {
	Binding uint32
	Buffer  core.Handle[Buffer]
	Offset  uint64
	Size    uint64
	Image   core.Handle[Image]
	Sampler core.Handle[Sampler]
}

type BindGroupInfo struct {
	Label   string
	Layout  core.Handle[BindGroupLayout]
	Entries []BindGroupEntry
}

type ColorAttachment struct {
	Image core.Handle[Image]
	Clear [4]float64
}

type RenderPassInfo struct {
	Label  string
	Width  uint32
	Height uint32
	Colors []ColorAttachment
}

type VertexFormat int

const (
	VertexFloat32x2 VertexFormat = iota
	VertexFloat32x4
)

type VertexAttribute struct {
	Location uint32
	Offset   uint64
	Format   VertexFormat
}

type VertexLayout struct {
	Stride     uint64
	Attributes []VertexAttribute
}

type GraphicsPipelineInfo struct {
	Label         string
	Shader        string
	VertexEntry   string
	FragmentEntry string
	Vertex        []VertexLayout
	Layouts       []core.Handle[BindGroupLayout]
	Format        Format
	AlphaBlend    bool
}

type ComputePipelineInfo struct {
	Label   string
	Shader  string
	Entry   string
	Layouts []core.Handle[BindGroupLayout]
}

type Limits struct {
	// MinUniformOffsetAlignment is the required alignment of dynamic
	// uniform offsets. 256 on WebGPU.
	MinUniformOffsetAlignment uint32
	MaxComputeWorkgroups      uint32
}
