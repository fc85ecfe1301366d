package render

import (
	"fmt"

	"github.com/gekko3d/shoyu/rt/assets"
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/multierr"
)

// AssetSource is where the manager reads decoded asset data from.
// *assets.Database satisfies it.
type AssetSource interface {
	FetchSprite(key string) (*assets.Sprite, error)
	FetchSpriteSheet(key string) (*assets.SpriteSheet, error)
	FetchFont(key string) (*assets.Font, error)
	FetchParticleConfig() (*assets.ParticleConfig, error)
}

type Options struct {
	FramesInFlight int
	// BlockSize must be a multiple of the device's uniform offset alignment.
	BlockSize      uint64
	BlocksPerFrame int

	SpriteCapacity int
	SheetCapacity  int
	FontCapacity   int

	// Format is the color format of the canvas the pipelines draw into.
	// The zero value is RGBA8.
	Format gpu.Format
	Logger core.Logger
}

func (o *Options) setDefaults() {
	if o.FramesInFlight == 0 {
		o.FramesInFlight = 2
	}
	if o.BlockSize == 0 {
		o.BlockSize = 256
	}
	if o.BlocksPerFrame == 0 {
		o.BlocksPerFrame = 4096
	}
}

// Sprite is an uploaded image ready to draw.
type Sprite struct {
	Name      string
	Width     uint32
	Height    uint32
	Image     core.Handle[gpu.Image]
	BindGroup core.Handle[gpu.BindGroup]
}

// SheetRegion is one sub-rectangle of a sheet, in normalized uv space, plus
// its size in pixels.
type SheetRegion struct {
	UV   mgl32.Vec4
	Size mgl32.Vec2
}

type SpriteSheet struct {
	Name      string
	Width     uint32
	Height    uint32
	Image     core.Handle[gpu.Image]
	BindGroup core.Handle[gpu.BindGroup]
	Regions   map[uint32]SheetRegion
}

// Font is an uploaded glyph atlas.
type Font struct {
	Name       string
	AtlasSize  mgl32.Vec2
	Image      core.Handle[gpu.Image]
	BindGroup  core.Handle[gpu.BindGroup]
	Glyphs     map[rune]assets.Glyph
	Ascent     float32
	LineHeight float32
}

// ResourceManager turns asset data into GPU objects and owns everything the
// renderer draws with, including the transient allocator shared by every
// per-frame writer.
type ResourceManager struct {
	dev  gpu.Device
	src  AssetSource
	log  core.Logger
	opts Options

	alloc *gpu.TransientAllocator
	pipes *pipelines

	sprites *core.Pool[Sprite]
	sheets  *core.Pool[SpriteSheet]
	fonts   *core.Pool[Font]
}

func NewResourceManager(dev gpu.Device, src AssetSource, opts Options) (*ResourceManager, error) {
	opts.setDefaults()

	alloc, err := gpu.NewTransientAllocator(dev, opts.FramesInFlight, opts.BlocksPerFrame, opts.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("resource manager: %w", err)
	}
	region := uint64(opts.BlocksPerFrame) * opts.BlockSize
	pipes, err := newPipelines(dev, opts.Format, region)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("resource manager: %w", err), dev.DestroyBuffer(alloc.Buffer()))
	}

	return &ResourceManager{
		dev:     dev,
		src:     src,
		log:     core.OrNop(opts.Logger),
		opts:    opts,
		alloc:   alloc,
		pipes:   pipes,
		sprites: core.NewPool[Sprite](opts.SpriteCapacity),
		sheets:  core.NewPool[SpriteSheet](opts.SheetCapacity),
		fonts:   core.NewPool[Font](opts.FontCapacity),
	}, nil
}

func (m *ResourceManager) Device() gpu.Device                    { return m.dev }
func (m *ResourceManager) Assets() AssetSource                   { return m.src }
func (m *ResourceManager) Transient() *gpu.TransientAllocator    { return m.alloc }
func (m *ResourceManager) FramesInFlight() int                   { return m.opts.FramesInFlight }
func (m *ResourceManager) Format() gpu.Format                    { return m.opts.Format }
func (m *ResourceManager) Sampler() core.Handle[gpu.Sampler]     { return m.pipes.sampler }
func (m *ResourceManager) QuadVertices() core.Handle[gpu.Buffer] { return m.pipes.quadVB }
func (m *ResourceManager) QuadIndices() core.Handle[gpu.Buffer]  { return m.pipes.quadIB }

// uploadImage creates a sampled image and its bind group. Entries are the
// layout-specific uniform bindings; the image binding comes last.
func (m *ResourceManager) uploadImage(label string, data assets.ImageData, format gpu.Format,
	layout core.Handle[gpu.BindGroupLayout], entries []gpu.BindGroupEntry, imageBinding uint32,
) (core.Handle[gpu.Image], core.Handle[gpu.BindGroup], error) {
	img, err := m.dev.MakeImage(gpu.ImageInfo{
		Label:  label,
		Width:  data.Width,
		Height: data.Height,
		Format: format,
		Usage:  gpu.ImageSampled,
		Data:   data.Pixels,
	})
	if err != nil {
		return img, core.Handle[gpu.BindGroup]{}, err
	}

	entries = append(entries, gpu.BindGroupEntry{Binding: imageBinding, Image: img, Sampler: m.pipes.sampler})
	bg, err := m.dev.MakeBindGroup(gpu.BindGroupInfo{Label: label, Layout: layout, Entries: entries})
	if err != nil {
		return img, bg, multierr.Append(err, m.dev.DestroyImage(img))
	}
	return img, bg, nil
}

func (m *ResourceManager) spriteBindings() []gpu.BindGroupEntry {
	return []gpu.BindGroupEntry{
		{Binding: 0, Buffer: m.alloc.Buffer(), Size: spriteModelSize},
		{Binding: 1, Buffer: m.alloc.Buffer(), Size: spriteCameraSize},
	}
}

func (m *ResourceManager) release(img core.Handle[gpu.Image], bg core.Handle[gpu.BindGroup]) error {
	return multierr.Combine(m.dev.DestroyBindGroup(bg), m.dev.DestroyImage(img))
}

// MakeSprite uploads the sprite stored under key. Every call creates new GPU
// objects, even for a key that was loaded before.
func (m *ResourceManager) MakeSprite(name, key string) (core.Handle[Sprite], error) {
	data, err := m.src.FetchSprite(key)
	if err != nil {
		return core.Handle[Sprite]{}, err
	}

	img, bg, err := m.uploadImage("sprite "+name, data.Image, gpu.FormatRGBA8, m.pipes.spriteLayout, m.spriteBindings(), 2)
	if err != nil {
		return core.Handle[Sprite]{}, fmt.Errorf("sprite %q: %w", name, err)
	}

	h, err := m.sprites.Insert(Sprite{
		Name:      name,
		Width:     data.Image.Width,
		Height:    data.Image.Height,
		Image:     img,
		BindGroup: bg,
	})
	if err != nil {
		return h, multierr.Append(fmt.Errorf("sprite %q: %w", name, err), m.release(img, bg))
	}
	m.log.Debugf("sprite %q uploaded as %v (%dx%d)", name, h, data.Image.Width, data.Image.Height)
	return h, nil
}

func (m *ResourceManager) MakeSpriteSheet(name, key string) (core.Handle[SpriteSheet], error) {
	data, err := m.src.FetchSpriteSheet(key)
	if err != nil {
		return core.Handle[SpriteSheet]{}, err
	}
	if len(data.Sprites) == 0 {
		return core.Handle[SpriteSheet]{}, &core.LoadingError{Key: key, Err: fmt.Errorf("sprite sheet has no sprites")}
	}

	w, h := float32(data.Image.Width), float32(data.Image.Height)
	regions := make(map[uint32]SheetRegion, len(data.Sprites))
	for _, s := range data.Sprites {
		b := s.Bounds
		regions[s.ID] = SheetRegion{
			UV:   mgl32.Vec4{float32(b.X) / w, float32(b.Y) / h, float32(b.W) / w, float32(b.H) / h},
			Size: mgl32.Vec2{float32(b.W), float32(b.H)},
		}
	}

	img, bg, err := m.uploadImage("sheet "+name, data.Image, gpu.FormatRGBA8, m.pipes.spriteLayout, m.spriteBindings(), 2)
	if err != nil {
		return core.Handle[SpriteSheet]{}, fmt.Errorf("sprite sheet %q: %w", name, err)
	}

	hnd, err := m.sheets.Insert(SpriteSheet{
		Name:      name,
		Width:     data.Image.Width,
		Height:    data.Image.Height,
		Image:     img,
		BindGroup: bg,
		Regions:   regions,
	})
	if err != nil {
		return hnd, multierr.Append(fmt.Errorf("sprite sheet %q: %w", name, err), m.release(img, bg))
	}
	m.log.Debugf("sprite sheet %q uploaded as %v with %d regions", name, hnd, len(regions))
	return hnd, nil
}

func (m *ResourceManager) MakeFont(name, key string) (core.Handle[Font], error) {
	data, err := m.src.FetchFont(key)
	if err != nil {
		return core.Handle[Font]{}, err
	}

	bindings := []gpu.BindGroupEntry{{Binding: 0, Buffer: m.alloc.Buffer(), Size: textStyleSize}}
	img, bg, err := m.uploadImage("font "+name, data.Atlas, gpu.FormatR8, m.pipes.textLayout, bindings, 1)
	if err != nil {
		return core.Handle[Font]{}, fmt.Errorf("font %q: %w", name, err)
	}

	h, err := m.fonts.Insert(Font{
		Name:       name,
		AtlasSize:  mgl32.Vec2{float32(data.Atlas.Width), float32(data.Atlas.Height)},
		Image:      img,
		BindGroup:  bg,
		Glyphs:     data.Glyphs,
		Ascent:     data.Ascent,
		LineHeight: data.LineHeight,
	})
	if err != nil {
		return h, multierr.Append(fmt.Errorf("font %q: %w", name, err), m.release(img, bg))
	}
	m.log.Debugf("font %q uploaded as %v with %d glyphs", name, h, len(data.Glyphs))
	return h, nil
}

// Fetch* return nil, false for handles that were released or never issued.

func (m *ResourceManager) FetchSprite(h core.Handle[Sprite]) (*Sprite, bool) {
	s := m.sprites.GetRef(h)
	return s, s != nil
}

func (m *ResourceManager) FetchSpriteSheet(h core.Handle[SpriteSheet]) (*SpriteSheet, bool) {
	s := m.sheets.GetRef(h)
	return s, s != nil
}

func (m *ResourceManager) FetchFont(h core.Handle[Font]) (*Font, bool) {
	f := m.fonts.GetRef(h)
	return f, f != nil
}

// Release* destroy the GPU objects behind a handle. The caller must not
// release a resource that a frame still in flight draws with; draining the
// renderer first is enough.

func (m *ResourceManager) ReleaseSprite(h core.Handle[Sprite]) error {
	s, ok := m.sprites.Get(h)
	if !ok {
		return nil
	}
	m.sprites.Release(h)
	return m.release(s.Image, s.BindGroup)
}

func (m *ResourceManager) ReleaseSpriteSheet(h core.Handle[SpriteSheet]) error {
	s, ok := m.sheets.Get(h)
	if !ok {
		return nil
	}
	m.sheets.Release(h)
	return m.release(s.Image, s.BindGroup)
}

func (m *ResourceManager) ReleaseFont(h core.Handle[Font]) error {
	f, ok := m.fonts.Get(h)
	if !ok {
		return nil
	}
	m.fonts.Release(h)
	return m.release(f.Image, f.BindGroup)
}

// Close releases every resource and the shared GPU state.
func (m *ResourceManager) Close() error {
	var errs error
	var sprites []core.Handle[Sprite]
	m.sprites.Each(func(h core.Handle[Sprite], _ *Sprite) bool {
		sprites = append(sprites, h)
		return true
	})
	for _, h := range sprites {
		errs = multierr.Append(errs, m.ReleaseSprite(h))
	}

	var sheets []core.Handle[SpriteSheet]
	m.sheets.Each(func(h core.Handle[SpriteSheet], _ *SpriteSheet) bool {
		sheets = append(sheets, h)
		return true
	})
	for _, h := range sheets {
		errs = multierr.Append(errs, m.ReleaseSpriteSheet(h))
	}

	var fonts []core.Handle[Font]
	m.fonts.Each(func(h core.Handle[Font], _ *Font) bool {
		fonts = append(fonts, h)
		return true
	})
	for _, h := range fonts {
		errs = multierr.Append(errs, m.ReleaseFont(h))
	}

	errs = multierr.Append(errs, m.pipes.release(m.dev))
	errs = multierr.Append(errs, m.dev.DestroyBuffer(m.alloc.Buffer()))
	return errs
}
