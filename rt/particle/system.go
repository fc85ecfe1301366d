package particle

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gekko3d/shoyu/rt/assets"
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/gekko3d/shoyu/rt/render"
	"github.com/gekko3d/shoyu/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/multierr"
)

// ErrUnknownType is returned when emitting a type id outside the table.
var ErrUnknownType = errors.New("unknown particle type")

// Uniform blocks: update params {camera, delta_ms, gravity} and the draw
// view {camera, viewport}.
const paramsSize = 16

// EmitInfo describes a burst of particles. Position is the bottom-left
// corner in pixels; a zero Size uses the pixel size of the type's first
// frame.
type EmitInfo struct {
	Type       uint32
	LifetimeMs float32
	Amount     uint32
	Position   mgl32.Vec2
	Size       mgl32.Vec2
	Velocity   mgl32.Vec2
	Rotation   float32
	Behavior   Behavior
	// Spread is the jitter box for EmitRandom. Zero means the particle size.
	Spread mgl32.Vec2
}

type Options struct {
	Capacity int
	// Gravity is the downward acceleration in pixels per second squared.
	Gravity float32
	Logger  core.Logger
	// Rand drives EmitRandom; nil uses the global source.
	Rand *rand.Rand
	// Clock measures the time between updates; nil uses time.Now.
	Clock func() time.Time
}

type System struct {
	dev gpu.Device
	log core.Logger

	capacity int
	gravity  float32
	cursor   int
	slots    Slots
	anims    [MaxTypes]Animation
	sizes    [MaxTypes]mgl32.Vec2
	rng      *rand.Rand
	timer    *core.Timer

	particles core.Handle[gpu.Buffer]
	animTable core.Handle[gpu.Buffer]
	atlas     core.Handle[gpu.Image]

	updateLayout   core.Handle[gpu.BindGroupLayout]
	updateGroup    core.Handle[gpu.BindGroup]
	updatePipeline core.Handle[gpu.ComputePipeline]
	drawLayout     core.Handle[gpu.BindGroupLayout]
	drawGroup      core.Handle[gpu.BindGroup]
	drawPipeline   core.Handle[gpu.GraphicsPipeline]

	quadVB core.Handle[gpu.Buffer]
	quadIB core.Handle[gpu.Buffer]
}

// New uploads the animation table and atlas from cfg and allocates the
// particle array. Per-frame uniforms come from the resource manager's
// transient allocator, so the system must be driven by the renderer that
// owns that manager.
func New(res *render.ResourceManager, cfg *assets.ParticleConfig, opts Options) (*System, error) {
	dev := res.Device()
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("particle system: invalid capacity %d", opts.Capacity)
	}
	if groups := workgroups(opts.Capacity); groups > dev.Limits().MaxComputeWorkgroups {
		return nil, fmt.Errorf("particle system: capacity %d needs %d workgroups, device allows %d",
			opts.Capacity, groups, dev.Limits().MaxComputeWorkgroups)
	}

	s := &System{
		dev:      dev,
		log:      core.OrNop(opts.Logger),
		capacity: opts.Capacity,
		gravity:  opts.Gravity,
		rng:      opts.Rand,
		quadVB:   res.QuadVertices(),
		quadIB:   res.QuadIndices(),
	}
	if opts.Clock != nil {
		s.timer = core.NewTimerWithClock(opts.Clock)
	} else {
		s.timer = core.NewTimer()
	}
	s.anims, s.sizes = animationsFromConfig(cfg)

	if err := s.build(res, cfg); err != nil {
		return nil, multierr.Append(fmt.Errorf("particle system: %w", err), s.Release())
	}
	s.timer.Start()
	s.log.Infof("particle system ready: %d slots, %d types", s.capacity, len(cfg.Types))
	return s, nil
}

func workgroups(capacity int) uint32 {
	return uint32((capacity + WorkgroupSize - 1) / WorkgroupSize)
}

func (s *System) build(res *render.ResourceManager, cfg *assets.ParticleConfig) error {
	var err error
	dev := s.dev
	size := uint64(s.capacity * RecordSize)

	if s.particles, err = dev.MakeBuffer(gpu.BufferInfo{
		Label: "particles",
		Size:  size,
		Usage: gpu.BufferStorage | gpu.BufferMapped,
	}); err != nil {
		return err
	}
	mem, err := dev.MapBuffer(s.particles)
	if err != nil {
		return err
	}
	s.slots = Slots{mem: mem, n: s.capacity}

	if s.animTable, err = dev.MakeBuffer(gpu.BufferInfo{
		Label: "particle animations",
		Usage: gpu.BufferStorage,
		Data:  encodeAnimations(&s.anims),
	}); err != nil {
		return err
	}

	img := cfg.Image
	if img.Width == 0 || img.Height == 0 {
		img = assets.ImageData{Width: 1, Height: 1, Pixels: []byte{255, 255, 255, 255}}
	}
	if s.atlas, err = dev.MakeImage(gpu.ImageInfo{
		Label:  "particle atlas",
		Width:  img.Width,
		Height: img.Height,
		Format: gpu.FormatRGBA8,
		Usage:  gpu.ImageSampled,
		Data:   img.Pixels,
	}); err != nil {
		return err
	}

	transient := res.Transient().Buffer()

	if s.updateLayout, err = dev.MakeBindGroupLayout(gpu.BindGroupLayoutInfo{
		Label: "particle update",
		Entries: []gpu.LayoutEntry{
			{Binding: 0, Kind: gpu.BindingStorageReadWrite, Stages: gpu.StageCompute},
			{Binding: 1, Kind: gpu.BindingStorageRead, Stages: gpu.StageCompute},
			{Binding: 2, Kind: gpu.BindingDynamicUniform, Stages: gpu.StageCompute, Size: paramsSize},
		},
	}); err != nil {
		return err
	}
	if s.updateGroup, err = dev.MakeBindGroup(gpu.BindGroupInfo{
		Label:  "particle update",
		Layout: s.updateLayout,
		Entries: []gpu.BindGroupEntry{
			{Binding: 0, Buffer: s.particles, Size: size},
			{Binding: 1, Buffer: s.animTable, Size: AnimationTable},
			{Binding: 2, Buffer: transient, Size: paramsSize},
		},
	}); err != nil {
		return err
	}
	if s.updatePipeline, err = dev.MakeComputePipeline(gpu.ComputePipelineInfo{
		Label:   "particle update",
		Shader:  shaders.ParticleUpdateWGSL,
		Entry:   "cs_main",
		Layouts: []core.Handle[gpu.BindGroupLayout]{s.updateLayout},
	}); err != nil {
		return err
	}

	if s.drawLayout, err = dev.MakeBindGroupLayout(gpu.BindGroupLayoutInfo{
		Label: "particle draw",
		Entries: []gpu.LayoutEntry{
			{Binding: 0, Kind: gpu.BindingStorageRead, Stages: gpu.StageVertex},
			{Binding: 1, Kind: gpu.BindingStorageRead, Stages: gpu.StageVertex},
			{Binding: 2, Kind: gpu.BindingDynamicUniform, Stages: gpu.StageVertex, Size: paramsSize},
			{Binding: 3, Kind: gpu.BindingSampledImage, Stages: gpu.StageFragment},
		},
	}); err != nil {
		return err
	}
	if s.drawGroup, err = dev.MakeBindGroup(gpu.BindGroupInfo{
		Label:  "particle draw",
		Layout: s.drawLayout,
		Entries: []gpu.BindGroupEntry{
			{Binding: 0, Buffer: s.particles, Size: size},
			{Binding: 1, Buffer: s.animTable, Size: AnimationTable},
			{Binding: 2, Buffer: transient, Size: paramsSize},
			{Binding: 3, Image: s.atlas, Sampler: res.Sampler()},
		},
	}); err != nil {
		return err
	}
	s.drawPipeline, err = dev.MakeGraphicsPipeline(gpu.GraphicsPipelineInfo{
		Label:         "particle draw",
		Shader:        shaders.ParticleDrawWGSL,
		VertexEntry:   "vs_main",
		FragmentEntry: "fs_main",
		Vertex:        []gpu.VertexLayout{render.QuadVertexLayout},
		Layouts:       []core.Handle[gpu.BindGroupLayout]{s.drawLayout},
		Format:        res.Format(),
		AlphaBlend:    true,
	})
	return err
}

func (s *System) Capacity() int { return s.capacity }

// Cursor is the slot the next emission starts at.
func (s *System) Cursor() int { return s.cursor }

func (s *System) Slots() Slots { return s.slots }

// Animation returns the table entry of a particle type.
func (s *System) Animation(typ uint32) (*Animation, bool) {
	if typ >= MaxTypes {
		return nil, false
	}
	return &s.anims[typ], true
}

func (s *System) SetGravity(g float32) { s.gravity = g }

// Emit writes info.Amount particles at the cursor, wrapping around the
// array. Live particles in those slots are overwritten. Amounts above the
// capacity are clamped.
func (s *System) Emit(info EmitInfo) error {
	return s.emit(info, func(p *Particle) {})
}

// EmitRandom is Emit with each particle's position jittered inside
// info.Spread and its velocity scaled by up to ±25% per axis.
func (s *System) EmitRandom(info EmitInfo) error {
	return s.emit(info, func(p *Particle) {
		spread := info.Spread
		if spread == (mgl32.Vec2{}) {
			spread = p.Size
		}
		p.Position = p.Position.Add(mgl32.Vec2{
			(s.randFloat() - 0.5) * spread.X(),
			(s.randFloat() - 0.5) * spread.Y(),
		})
		p.Velocity = mgl32.Vec2{
			p.Velocity.X() * (0.75 + 0.5*s.randFloat()),
			p.Velocity.Y() * (0.75 + 0.5*s.randFloat()),
		}
	})
}

func (s *System) randFloat() float32 {
	if s.rng != nil {
		return s.rng.Float32()
	}
	return rand.Float32()
}

func (s *System) emit(info EmitInfo, jitter func(*Particle)) error {
	if s.capacity == 0 {
		return errors.New("emit into released particle system")
	}
	if info.Type >= MaxTypes {
		return fmt.Errorf("emit type %d: %w", info.Type, ErrUnknownType)
	}
	amount := min(int(info.Amount), s.capacity)
	if amount < int(info.Amount) {
		s.log.Warnf("emitting %d particles into %d slots, clamped", info.Amount, s.capacity)
	}

	size := info.Size
	if size == (mgl32.Vec2{}) {
		size = s.sizes[info.Type]
	}

	for i := 0; i < amount; i++ {
		p := Particle{
			Position:    info.Position,
			Size:        size,
			Velocity:    info.Velocity,
			Rotation:    info.Rotation,
			Type:        info.Type,
			MaxLifetime: info.LifetimeMs,
			Behavior:    info.Behavior,
			Active:      true,
		}
		jitter(&p)
		if err := s.slots.Set((s.cursor+i)%s.capacity, p); err != nil {
			return err
		}
	}
	s.cursor = (s.cursor + amount) % s.capacity
	return nil
}

// Update records the simulation dispatch. It must run before the frame's
// render pass opens.
func (s *System) Update(f gpu.Frame) error {
	cmd := f.Commands()
	if cmd.InRenderPass() {
		return fmt.Errorf("particle update: %w", gpu.ErrRenderPassActive)
	}

	dtMs := float32(s.timer.Lap().Seconds() * 1000)
	blk, err := f.Transient().Bump()
	if err != nil {
		return err
	}
	if err := multierr.Combine(
		blk.PutVec2(0, f.Camera()),
		blk.PutFloat32(8, dtMs),
		blk.PutFloat32(12, s.gravity),
	); err != nil {
		return err
	}

	return cmd.Dispatch(gpu.Dispatch{
		Pipeline:   s.updatePipeline,
		BindGroups: []gpu.BindSet{{Group: s.updateGroup, DynamicOffsets: []uint32{blk.DynamicOffset()}}},
		X:          workgroups(s.capacity),
		Y:          1,
		Z:          1,
	})
}

// Draw records one instanced draw over every slot; the vertex shader
// collapses inactive ones.
func (s *System) Draw(f gpu.Frame) error {
	w, h := f.Viewport()
	blk, err := f.Transient().Bump()
	if err != nil {
		return err
	}
	if err := multierr.Append(blk.PutVec2(0, f.Camera()), blk.PutVec2(8, mgl32.Vec2{w, h})); err != nil {
		return err
	}

	cmd := f.Commands()
	if err := cmd.BindPipeline(s.drawPipeline); err != nil {
		return err
	}
	return cmd.DrawIndexed(gpu.DrawIndexed{
		Vertex:        s.quadVB,
		Index:         s.quadIB,
		IndexCount:    6,
		InstanceCount: uint32(s.capacity),
		BindGroups:    []gpu.BindSet{{Group: s.drawGroup, DynamicOffsets: []uint32{blk.DynamicOffset()}}},
	})
}

// Release destroys the system's GPU objects. The quad buffers and sampler
// belong to the resource manager.
func (s *System) Release() error {
	var errs error
	if s.drawPipeline.Valid() {
		errs = multierr.Append(errs, s.dev.DestroyGraphicsPipeline(s.drawPipeline))
	}
	if s.drawGroup.Valid() {
		errs = multierr.Append(errs, s.dev.DestroyBindGroup(s.drawGroup))
	}
	if s.drawLayout.Valid() {
		errs = multierr.Append(errs, s.dev.DestroyBindGroupLayout(s.drawLayout))
	}
	if s.updatePipeline.Valid() {
		errs = multierr.Append(errs, s.dev.DestroyComputePipeline(s.updatePipeline))
	}
	if s.updateGroup.Valid() {
		errs = multierr.Append(errs, s.dev.DestroyBindGroup(s.updateGroup))
	}
	if s.updateLayout.Valid() {
		errs = multierr.Append(errs, s.dev.DestroyBindGroupLayout(s.updateLayout))
	}
	if s.atlas.Valid() {
		errs = multierr.Append(errs, s.dev.DestroyImage(s.atlas))
	}
	if s.animTable.Valid() {
		errs = multierr.Append(errs, s.dev.DestroyBuffer(s.animTable))
	}
	if s.particles.Valid() {
		errs = multierr.Append(errs, s.dev.DestroyBuffer(s.particles))
	}
	*s = System{dev: s.dev, log: s.log}
	return errs
}
