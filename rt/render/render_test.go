package render

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gekko3d/shoyu/rt/assets"
	"github.com/gekko3d/shoyu/rt/canvas"
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/gekko3d/shoyu/rt/gpu/gputest"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	sprites map[string]*assets.Sprite
	sheets  map[string]*assets.SpriteSheet
	fonts   map[string]*assets.Font
}

func (s *fakeSource) FetchSprite(key string) (*assets.Sprite, error) {
	if v, ok := s.sprites[key]; ok {
		return v, nil
	}
	return nil, &core.LookupError{Key: key}
}

func (s *fakeSource) FetchSpriteSheet(key string) (*assets.SpriteSheet, error) {
	if v, ok := s.sheets[key]; ok {
		return v, nil
	}
	return nil, &core.LookupError{Key: key}
}

func (s *fakeSource) FetchFont(key string) (*assets.Font, error) {
	if v, ok := s.fonts[key]; ok {
		return v, nil
	}
	return nil, &core.LookupError{Key: key}
}

func (s *fakeSource) FetchParticleConfig() (*assets.ParticleConfig, error) {
	return nil, &core.LookupError{Key: "particles"}
}

func rgba(w, h uint32) assets.ImageData {
	return assets.ImageData{Width: w, Height: h, Pixels: make([]byte, w*h*4)}
}

func newSource() *fakeSource {
	return &fakeSource{
		sprites: map[string]*assets.Sprite{
			"hero": {Meta: assets.Meta{Name: "hero"}, Image: rgba(16, 8)},
		},
		sheets: map[string]*assets.SpriteSheet{
			"tiles": {
				Meta:  assets.Meta{Name: "tiles"},
				Image: rgba(64, 32),
				Sprites: []assets.SheetSprite{
					{Name: "grass", ID: 0, Bounds: assets.Rect{X: 0, Y: 0, W: 16, H: 16}},
					{Name: "stone", ID: 7, Bounds: assets.Rect{X: 32, Y: 16, W: 16, H: 16}},
				},
			},
			"blank": {Meta: assets.Meta{Name: "blank"}, Image: rgba(8, 8)},
		},
		fonts: map[string]*assets.Font{
			"mono": {
				Meta:  assets.Meta{Name: "mono"},
				Atlas: assets.ImageData{Width: 8, Height: 8, Pixels: make([]byte, 64)},
				Glyphs: map[rune]assets.Glyph{
					'A': {Bounds: assets.Rect{X: 0, Y: 0, W: 4, H: 4}, Advance: 5, BearingX: 1, BearingY: 4},
					'B': {Bounds: assets.Rect{X: 4, Y: 4, W: 4, H: 4}, Advance: 5, BearingX: 0, BearingY: 3},
					' ': {Advance: 3},
				},
				LineHeight: 10,
			},
		},
	}
}

type fixture struct {
	dev *gputest.Device
	res *ResourceManager
	cv  *canvas.Canvas
	r   *Renderer2D
}

func newFixture(t *testing.T, blocksPerFrame int) *fixture {
	t.Helper()
	dev := gputest.New(200, 100)
	res, err := NewResourceManager(dev, newSource(), Options{
		FramesInFlight: 2,
		BlockSize:      256,
		BlocksPerFrame: blocksPerFrame,
	})
	require.NoError(t, err)
	cv, err := canvas.New(dev, canvas.Info{Name: "main", Width: 200, Height: 100})
	require.NoError(t, err)
	r, err := NewRenderer2D(res, cv, nil)
	require.NoError(t, err)
	return &fixture{dev: dev, res: res, cv: cv, r: r}
}

func floatsAt(b []byte, off uint64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off+uint64(4*i):]))
	}
	return out
}

func TestFrameSubmitter_PacesSlots(t *testing.T) {
	dev := gputest.New(10, 10)
	s, err := NewFrameSubmitter(dev, 2)
	require.NoError(t, err)

	var slots []int
	for i := 0; i < 4; i++ {
		slot, _, err := s.Begin(context.Background())
		require.NoError(t, err)
		slots = append(slots, slot)
		_, err = s.Submit(nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 0, 1}, slots)
	assert.Equal(t, uint64(4), s.FrameIndex())
	// The first two frames find their slots idle.
	assert.Equal(t, 2, dev.FenceWaits)
	assert.Equal(t, 2, dev.PendingFences())

	require.NoError(t, s.Drain(context.Background()))
	assert.Equal(t, 0, dev.PendingFences())
	assert.Equal(t, 4, dev.FenceWaits)
}

func TestFrameSubmitter_Errors(t *testing.T) {
	_, err := NewFrameSubmitter(gputest.New(1, 1), 0)
	assert.Error(t, err)

	s, err := NewFrameSubmitter(gputest.New(1, 1), 3)
	require.NoError(t, err)
	_, err = s.Submit(nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, _, err := s.Begin(context.Background())
		require.NoError(t, err)
		_, err = s.Submit(nil)
		require.NoError(t, err)
	}
	_, _, err = s.Begin(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResourceManager_MakeSprite(t *testing.T) {
	f := newFixture(t, 16)

	a, err := f.res.MakeSprite("a", "hero")
	require.NoError(t, err)
	b, err := f.res.MakeSprite("b", "hero")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "each call makes new objects")

	s, ok := f.res.FetchSprite(a)
	require.True(t, ok)
	assert.Equal(t, uint32(16), s.Width)
	assert.Equal(t, uint32(8), s.Height)
	assert.True(t, f.dev.Images.Contains(s.Image))
	assert.True(t, f.dev.BindGroups.Contains(s.BindGroup))

	_, err = f.res.MakeSprite("c", "nobody")
	var lookup *core.LookupError
	assert.True(t, errors.As(err, &lookup))
}

func TestResourceManager_MakeSpriteSheet(t *testing.T) {
	f := newFixture(t, 16)

	h, err := f.res.MakeSpriteSheet("tiles", "tiles")
	require.NoError(t, err)
	sheet, ok := f.res.FetchSpriteSheet(h)
	require.True(t, ok)
	require.Len(t, sheet.Regions, 2)
	assert.Equal(t, mgl32.Vec4{0.5, 0.5, 0.25, 0.5}, sheet.Regions[7].UV)
	assert.Equal(t, mgl32.Vec2{16, 16}, sheet.Regions[7].Size)

	_, err = f.res.MakeSpriteSheet("blank", "blank")
	var loading *core.LoadingError
	assert.True(t, errors.As(err, &loading))
}

func TestResourceManager_ReleaseAndClose(t *testing.T) {
	f := newFixture(t, 16)

	s, err := f.res.MakeSprite("hero", "hero")
	require.NoError(t, err)
	font, err := f.res.MakeFont("mono", "mono")
	require.NoError(t, err)
	_, err = f.res.MakeSpriteSheet("tiles", "tiles")
	require.NoError(t, err)

	require.NoError(t, f.res.ReleaseSprite(s))
	_, ok := f.res.FetchSprite(s)
	assert.False(t, ok)
	assert.NoError(t, f.res.ReleaseSprite(s), "double release is a no-op")

	fnt, ok := f.res.FetchFont(font)
	require.True(t, ok)
	assert.Equal(t, mgl32.Vec2{8, 8}, fnt.AtlasSize)

	require.NoError(t, f.res.Close())
	require.NoError(t, f.cv.Release(f.dev))
	assert.Equal(t, 0, f.dev.Images.Len())
	assert.Equal(t, 0, f.dev.BindGroups.Len())
	assert.Equal(t, 0, f.dev.Buffers.Len())
	assert.Equal(t, 0, f.dev.Pipelines.Len())
}

func TestRenderer_FrameOrder(t *testing.T) {
	f := newFixture(t, 16)
	h, err := f.res.MakeSprite("hero", "hero")
	require.NoError(t, err)

	require.NoError(t, f.r.BeginFrame(context.Background()))
	assert.Equal(t, StateRecording, f.r.State())
	require.NoError(t, f.r.DrawSprite(SpriteDrawCommand{Sprite: h, Position: mgl32.Vec2{10, 10}}))
	require.NoError(t, f.r.EndFrame())
	assert.Equal(t, StateIdle, f.r.State())

	assert.Equal(t, []string{
		"acquire", "begin-drawing",
		"bind-pipeline", "draw-indexed",
		"end-drawing", "blit", "submit", "present",
	}, f.dev.Ops())
	assert.Equal(t, 1, f.r.Stats().Sprites)
	assert.Equal(t, 2, f.r.Stats().TransientBlocks)
}

func TestRenderer_InvalidState(t *testing.T) {
	f := newFixture(t, 16)

	assert.ErrorIs(t, f.r.EndFrame(), ErrInvalidState)
	assert.ErrorIs(t, f.r.DrawSprite(SpriteDrawCommand{}), ErrInvalidState)
	assert.ErrorIs(t, f.r.DrawText(TextDrawCommand{}), ErrInvalidState)

	require.NoError(t, f.r.BeginFrame(context.Background()))
	assert.ErrorIs(t, f.r.BeginFrame(context.Background()), ErrInvalidState)
	require.NoError(t, f.r.EndFrame())
	assert.ErrorIs(t, f.r.EndFrame(), ErrInvalidState)
}

func TestRenderer_SpriteUniforms(t *testing.T) {
	f := newFixture(t, 16)
	h, err := f.res.MakeSprite("hero", "hero")
	require.NoError(t, err)
	f.r.SetCamera(mgl32.Vec2{20, 10})

	require.NoError(t, f.r.BeginFrame(context.Background()))
	cmd := SpriteDrawCommand{Sprite: h, Position: mgl32.Vec2{50, 40}, Rotation: 30, Flip: true}
	require.NoError(t, f.r.DrawSprite(cmd))
	require.NoError(t, f.r.EndFrame())

	draws := f.dev.Draws()
	require.Len(t, draws, 1)
	d := draws[0]
	assert.Equal(t, uint32(6), d.IndexCount)
	require.Len(t, d.BindGroups, 1)
	offsets := d.BindGroups[0].DynamicOffsets
	require.Len(t, offsets, 2)

	mem := f.dev.BufferData(f.res.Transient().Buffer())
	want := core.QuadTransform(mgl32.Vec2{50, 40}, mgl32.Vec2{16, 8}, 30, 200, 100)
	got := floatsAt(mem, uint64(offsets[0]), 16)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5)
	}
	assert.Equal(t, []float32{1, 0, -1, 1}, floatsAt(mem, uint64(offsets[0])+64, 4))
	assert.Equal(t, []float32{0.2, 0.2}, floatsAt(mem, uint64(offsets[1]), 2))
}

func TestRenderer_SkipsStaleAndUnknown(t *testing.T) {
	f := newFixture(t, 16)
	s, err := f.res.MakeSprite("hero", "hero")
	require.NoError(t, err)
	sheet, err := f.res.MakeSpriteSheet("tiles", "tiles")
	require.NoError(t, err)
	require.NoError(t, f.res.ReleaseSprite(s))

	require.NoError(t, f.r.BeginFrame(context.Background()))
	assert.NoError(t, f.r.DrawSprite(SpriteDrawCommand{Sprite: s}))
	assert.NoError(t, f.r.DrawSpriteSheet(SpriteSheetDrawCommand{Sheet: sheet, SpriteID: 3}))
	assert.NoError(t, f.r.DrawSpriteSheet(SpriteSheetDrawCommand{Sheet: sheet, SpriteID: 7, Flip: true}))
	require.NoError(t, f.r.EndFrame())

	st := f.r.Stats()
	assert.Equal(t, 2, st.Skipped)
	assert.Equal(t, 1, st.Sheets)
	require.Len(t, f.dev.Draws(), 1)

	offsets := f.dev.Draws()[0].BindGroups[0].DynamicOffsets
	mem := f.dev.BufferData(f.res.Transient().Buffer())
	assert.Equal(t, []float32{0.75, 0.5, -0.25, 0.5}, floatsAt(mem, uint64(offsets[0])+64, 4))
}

func TestRenderer_Text(t *testing.T) {
	f := newFixture(t, 16)
	font, err := f.res.MakeFont("mono", "mono")
	require.NoError(t, err)

	require.NoError(t, f.r.BeginFrame(context.Background()))
	require.NoError(t, f.r.DrawText(TextDrawCommand{
		Font:     font,
		Text:     "A B?\nA",
		Position: mgl32.Vec2{100, 50},
		Color:    mgl32.Vec4{1, 0, 0, 1},
	}))
	require.NoError(t, f.r.EndFrame())

	st := f.r.Stats()
	assert.Equal(t, 1, st.Texts)
	assert.Equal(t, 3, st.Glyphs, "space and unknown runes emit no quads")

	draws := f.dev.Draws()
	require.Len(t, draws, 1)
	d := draws[0]
	assert.Equal(t, uint32(18), d.IndexCount)
	assert.Equal(t, f.res.Transient().Buffer(), d.Vertex)

	mem := f.dev.BufferData(f.res.Transient().Buffer())
	// First glyph: x from 101 to 105, y from 50 to 54.
	first := floatsAt(mem, d.VertexOffset, 4)
	assert.InDelta(t, 2*101.0/200-1, first[0], 1e-6)
	assert.InDelta(t, 2*50.0/100-1, first[1], 1e-6)
	assert.InDelta(t, 0, first[2], 1e-6)
	assert.InDelta(t, 0.5, first[3], 1e-6)

	// Third glyph sits on the second line, back at the left edge.
	third := floatsAt(mem, d.VertexOffset+2*glyphQuadBytes, 2)
	assert.InDelta(t, 2*101.0/200-1, third[0], 1e-6)
	assert.InDelta(t, 2*40.0/100-1, third[1], 1e-6)

	color := floatsAt(mem, uint64(d.BindGroups[0].DynamicOffsets[0]), 4)
	assert.Equal(t, []float32{1, 0, 0, 1}, color)
}

func TestRenderer_TransientAcquireSkipsFrame(t *testing.T) {
	f := newFixture(t, 16)
	f.dev.FailAcquire = core.Transient("acquire image", errors.New("surface outdated"))

	err := f.r.BeginFrame(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
	assert.Equal(t, StateIdle, f.r.State())

	require.NoError(t, f.r.BeginFrame(context.Background()))
	require.NoError(t, f.r.EndFrame())
	assert.Equal(t, 1, f.dev.Presents)
	assert.Equal(t, uint64(1), f.r.Submitter().FrameIndex())
}

func TestRenderer_FailedSubmitReturnsImage(t *testing.T) {
	f := newFixture(t, 16)
	live := f.dev.Images.Len()

	require.NoError(t, f.r.BeginFrame(context.Background()))
	assert.Equal(t, live+1, f.dev.Images.Len())
	f.dev.FailSubmit = core.Transient("submit", errors.New("queue busy"))

	err := f.r.EndFrame()
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
	assert.Equal(t, StateIdle, f.r.State())
	assert.Equal(t, 1, f.dev.Presents)
	assert.Equal(t, live, f.dev.Images.Len(), "surface image handed back")

	require.NoError(t, f.r.BeginFrame(context.Background()))
	require.NoError(t, f.r.EndFrame())
	assert.Equal(t, 2, f.dev.Presents)
	assert.Equal(t, live, f.dev.Images.Len())
}

func TestRenderer_TransientExhaustion(t *testing.T) {
	f := newFixture(t, 4)
	h, err := f.res.MakeSprite("hero", "hero")
	require.NoError(t, err)

	require.NoError(t, f.r.BeginFrame(context.Background()))
	require.NoError(t, f.r.DrawSprite(SpriteDrawCommand{Sprite: h}))
	require.NoError(t, f.r.DrawSprite(SpriteDrawCommand{Sprite: h}))
	assert.ErrorIs(t, f.r.DrawSprite(SpriteDrawCommand{Sprite: h}), core.ErrSlotExhausted)
	require.NoError(t, f.r.EndFrame())

	// The next frame starts with a fresh region.
	require.NoError(t, f.r.BeginFrame(context.Background()))
	assert.NoError(t, f.r.DrawSprite(SpriteDrawCommand{Sprite: h}))
	require.NoError(t, f.r.EndFrame())
}

type recordingPass struct {
	updateInPass []bool
	drawInPass   []bool
	failUpdate   error
}

func (p *recordingPass) Update(f gpu.Frame) error {
	p.updateInPass = append(p.updateInPass, f.Commands().InRenderPass())
	return p.failUpdate
}

func (p *recordingPass) Draw(f gpu.Frame) error {
	p.drawInPass = append(p.drawInPass, f.Commands().InRenderPass())
	return nil
}

func TestRenderer_FramePasses(t *testing.T) {
	f := newFixture(t, 16)
	p := &recordingPass{}
	f.r.Attach(p)

	require.NoError(t, f.r.BeginFrame(context.Background()))
	require.NoError(t, f.r.EndFrame())
	assert.Equal(t, []bool{false}, p.updateInPass)
	assert.Equal(t, []bool{true}, p.drawInPass)

	// A failing update still presents the acquired image.
	p.failUpdate = errors.New("boom")
	err := f.r.BeginFrame(context.Background())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, StateIdle, f.r.State())
	assert.Equal(t, 2, f.dev.Presents)
}

func TestLayoutText_Scale(t *testing.T) {
	font := &Font{
		AtlasSize:  mgl32.Vec2{8, 8},
		LineHeight: 10,
		Glyphs: map[rune]assets.Glyph{
			'A': {Bounds: assets.Rect{W: 4, H: 4}, Advance: 5, BearingY: 4},
		},
	}
	verts := layoutText(nil, font, "AA", mgl32.Vec2{0, 0}, 2, 100, 100)
	require.Len(t, verts, 32)

	// Second quad starts one scaled advance to the right.
	assert.InDelta(t, 2*10.0/100-1, verts[16], 1e-6)
	// Top edge is bearing*scale above the baseline.
	assert.InDelta(t, 2*8.0/100-1, verts[16+9], 1e-6)
}
