package particle

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/gekko3d/shoyu/rt/assets"
	"github.com/gekko3d/shoyu/rt/canvas"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/gekko3d/shoyu/rt/gpu/gputest"
	"github.com/gekko3d/shoyu/rt/render"
	"github.com/gekko3d/shoyu/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() *assets.ParticleConfig {
	return &assets.ParticleConfig{
		ImagePath: "particles.png",
		Image:     assets.ImageData{Width: 32, Height: 16, Pixels: make([]byte, 32*16*4)},
		Types: []assets.ParticleType{
			{Name: "spark", ID: 0, Animations: []assets.ParticleAnimation{{
				Name:           "burn",
				TimePerFrameMs: 50,
				Sprites:        []assets.Rect{{X: 0, Y: 0, W: 8, H: 8}, {X: 8, Y: 8, W: 8, H: 8}},
			}}},
			{Name: "smoke", ID: 5},
		},
	}
}

type fixture struct {
	dev   *gputest.Device
	res   *render.ResourceManager
	r     *render.Renderer2D
	sys   *System
	clock *fakeClock
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	dev := gputest.New(320, 240)
	res, err := render.NewResourceManager(dev, nil, render.Options{BlocksPerFrame: 16})
	require.NoError(t, err)
	cv, err := canvas.New(dev, canvas.Info{Name: "main", Width: 320, Height: 240})
	require.NoError(t, err)
	r, err := render.NewRenderer2D(res, cv, nil)
	require.NoError(t, err)

	clock := &fakeClock{t: time.Unix(0, 0)}
	sys, err := New(res, testConfig(), Options{
		Capacity: capacity,
		Gravity:  100,
		Rand:     rand.New(rand.NewPCG(1, 2)),
		Clock:    clock.now,
	})
	require.NoError(t, err)
	return &fixture{dev: dev, res: res, r: r, sys: sys, clock: clock}
}

func activeSlots(t *testing.T, s Slots) []int {
	t.Helper()
	var out []int
	for i := 0; i < s.Len(); i++ {
		p, err := s.Get(i)
		require.NoError(t, err)
		if p.Active {
			out = append(out, i)
		}
	}
	return out
}

func TestWorkgroupSizeMatchesShader(t *testing.T) {
	assert.Contains(t, shaders.ParticleUpdateWGSL, fmt.Sprintf("@workgroup_size(%d)", WorkgroupSize))
}

func TestRecordLayout(t *testing.T) {
	p := Particle{
		Position:     mgl32.Vec2{1, 2},
		Size:         mgl32.Vec2{3, 4},
		Velocity:     mgl32.Vec2{5, 6},
		Rotation:     7,
		Type:         8,
		Frame:        9,
		AnimTimer:    10,
		MaxLifetime:  11,
		CurrLifetime: 12,
		Behavior:     Gravity,
		Active:       true,
	}
	var b [RecordSize]byte
	p.MarshalRecord(b[:])

	assert.Equal(t, float32(5), math.Float32frombits(binary.LittleEndian.Uint32(b[16:])))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(b[28:]))
	assert.Equal(t, float32(12), math.Float32frombits(binary.LittleEndian.Uint32(b[44:])))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b[48:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b[52:]))
	assert.Equal(t, p, UnmarshalRecord(b[:]))
}

func TestBehaviorString(t *testing.T) {
	assert.Equal(t, "linear", Linear.String())
	assert.Equal(t, "gravity", Gravity.String())
	assert.Equal(t, "Behavior(7)", Behavior(7).String())
}

func TestStep_Lifetime(t *testing.T) {
	p := Particle{MaxLifetime: 100, Active: true}

	Step(&p, nil, 60, 0)
	assert.True(t, p.Active)
	Step(&p, nil, 39.5, 0)
	assert.True(t, p.Active, "still alive just below the lifetime")
	Step(&p, nil, 0.5, 0)
	assert.False(t, p.Active, "dies exactly at the lifetime")

	// Dead particles are left untouched.
	before := p
	Step(&p, nil, 10, 0)
	assert.Equal(t, before, p)
}

func TestStep_Motion(t *testing.T) {
	lin := Particle{Velocity: mgl32.Vec2{10, 20}, MaxLifetime: 1e6, Active: true}
	Step(&lin, nil, 500, 100)
	assert.InDelta(t, 5, lin.Position.X(), 1e-4)
	assert.InDelta(t, 10, lin.Position.Y(), 1e-4)

	grav := Particle{Velocity: mgl32.Vec2{0, 20}, MaxLifetime: 1e6, Behavior: Gravity, Active: true}
	Step(&grav, nil, 500, 100)
	// Velocity drops by 50 before integrating.
	assert.InDelta(t, -30, grav.Velocity.Y(), 1e-4)
	assert.InDelta(t, -15, grav.Position.Y(), 1e-4)
}

func TestStep_Animation(t *testing.T) {
	anim := &Animation{TimePerFrameMs: 50, Regions: make([]mgl32.Vec4, 3)}
	p := Particle{MaxLifetime: 1e6, Active: true}

	Step(&p, anim, 40, 0)
	assert.Equal(t, uint32(0), p.Frame)
	Step(&p, anim, 20, 0)
	assert.Equal(t, uint32(1), p.Frame)
	assert.InDelta(t, 10, p.AnimTimer, 1e-4)
	Step(&p, anim, 50, 0)
	Step(&p, anim, 50, 0)
	assert.Equal(t, uint32(0), p.Frame, "wraps at the frame count")
}

func TestAnimationTable(t *testing.T) {
	f := newFixture(t, 64)

	a, ok := f.sys.Animation(0)
	require.True(t, ok)
	assert.Equal(t, float32(50), a.TimePerFrameMs)
	require.Len(t, a.Regions, 2)
	assert.Equal(t, mgl32.Vec4{0.25, 0.5, 0.25, 0.5}, a.Regions[1])

	smoke, ok := f.sys.Animation(5)
	require.True(t, ok)
	assert.Empty(t, smoke.Regions)
	_, ok = f.sys.Animation(MaxTypes)
	assert.False(t, ok)

	table := encodeAnimations(&f.sys.anims)
	require.Len(t, table, 264192)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(table[4:]))
	// Second region's x of type 0.
	assert.Equal(t, float32(0.25), math.Float32frombits(binary.LittleEndian.Uint32(table[16+16:])))
}

func TestEmit_Consecutive(t *testing.T) {
	f := newFixture(t, 64)

	require.NoError(t, f.sys.Emit(EmitInfo{Type: 0, Amount: 5, LifetimeMs: 1000, Position: mgl32.Vec2{10, 20}}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, activeSlots(t, f.sys.Slots()))
	assert.Equal(t, 5, f.sys.Cursor())

	p, err := f.sys.Slots().Get(3)
	require.NoError(t, err)
	assert.Equal(t, float32(0), p.CurrLifetime)
	assert.Equal(t, float32(1000), p.MaxLifetime)
	assert.Equal(t, mgl32.Vec2{10, 20}, p.Position)
	assert.Equal(t, mgl32.Vec2{8, 8}, p.Size, "defaults to the first frame's size")
}

func TestEmit_WrapsAround(t *testing.T) {
	f := newFixture(t, 8)

	require.NoError(t, f.sys.Emit(EmitInfo{Amount: 6, LifetimeMs: 10}))
	require.NoError(t, f.sys.Emit(EmitInfo{Amount: 4, LifetimeMs: 20, Behavior: Gravity}))
	assert.Equal(t, 2, f.sys.Cursor())

	for _, i := range []int{6, 7, 0, 1} {
		p, err := f.sys.Slots().Get(i)
		require.NoError(t, err)
		assert.Equal(t, float32(20), p.MaxLifetime, "slot %d", i)
		assert.Equal(t, Gravity, p.Behavior)
	}
	p, err := f.sys.Slots().Get(2)
	require.NoError(t, err)
	assert.Equal(t, float32(10), p.MaxLifetime)
}

func TestEmit_FullCapacityScenario(t *testing.T) {
	f := newFixture(t, 0)
	require.Equal(t, DefaultCapacity, f.sys.Capacity())

	require.NoError(t, f.sys.Emit(EmitInfo{Amount: 2048, LifetimeMs: 100}))
	assert.Equal(t, 0, f.sys.Cursor())
	assert.Len(t, activeSlots(t, f.sys.Slots()), 2048)

	require.NoError(t, f.sys.Emit(EmitInfo{Amount: 1, LifetimeMs: 999, Type: 5}))
	assert.Equal(t, 1, f.sys.Cursor())
	p, err := f.sys.Slots().Get(0)
	require.NoError(t, err)
	assert.Equal(t, float32(999), p.MaxLifetime)
	assert.Equal(t, uint32(5), p.Type)
}

func TestEmit_ClampsAndRejects(t *testing.T) {
	f := newFixture(t, 4)

	require.NoError(t, f.sys.Emit(EmitInfo{Amount: 10, LifetimeMs: 1}))
	assert.Len(t, activeSlots(t, f.sys.Slots()), 4)
	assert.Equal(t, 0, f.sys.Cursor())

	assert.ErrorIs(t, f.sys.Emit(EmitInfo{Type: MaxTypes, Amount: 1}), ErrUnknownType)

	_, err := f.sys.Slots().Get(4)
	assert.ErrorIs(t, err, gpu.ErrOutOfRange)
}

func TestEmitRandom_Jitter(t *testing.T) {
	f := newFixture(t, 32)

	info := EmitInfo{
		Amount:     32,
		LifetimeMs: 100,
		Position:   mgl32.Vec2{100, 100},
		Size:       mgl32.Vec2{10, 10},
		Velocity:   mgl32.Vec2{40, -80},
		Spread:     mgl32.Vec2{20, 4},
	}
	require.NoError(t, f.sys.EmitRandom(info))

	varied := false
	for i := 0; i < 32; i++ {
		p, err := f.sys.Slots().Get(i)
		require.NoError(t, err)
		assert.InDelta(t, 100, p.Position.X(), 10)
		assert.InDelta(t, 100, p.Position.Y(), 2)
		assert.InDelta(t, 40, p.Velocity.X(), 10)
		assert.InDelta(t, -80, p.Velocity.Y(), 20)
		if p.Position != info.Position {
			varied = true
		}
	}
	assert.True(t, varied)
}

func TestUpdateAndDraw_InFrame(t *testing.T) {
	f := newFixture(t, 100)
	f.r.Attach(f.sys)
	f.r.SetCamera(mgl32.Vec2{3, 4})

	f.clock.advance(16 * time.Millisecond)
	require.NoError(t, f.r.BeginFrame(context.Background()))
	require.NoError(t, f.r.EndFrame())

	assert.Equal(t, []string{
		"acquire", "dispatch", "begin-drawing",
		"bind-pipeline", "draw-indexed",
		"end-drawing", "blit", "submit", "present",
	}, f.dev.Ops())

	var dispatch gpu.Dispatch
	for _, c := range f.dev.Calls {
		if c.Op == "dispatch" {
			dispatch = c.Dispatch
		}
	}
	assert.Equal(t, uint32(4), dispatch.X, "ceil(100/32)")
	require.Len(t, dispatch.BindGroups, 1)

	mem := f.dev.BufferData(f.res.Transient().Buffer())
	off := dispatch.BindGroups[0].DynamicOffsets[0]
	params := func(i uint32) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(mem[off+4*i:]))
	}
	assert.Equal(t, float32(3), params(0))
	assert.Equal(t, float32(4), params(1))
	assert.InDelta(t, 16, params(2), 1e-3)
	assert.Equal(t, float32(100), params(3))

	draws := f.dev.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(100), draws[0].InstanceCount)
	assert.Equal(t, uint32(6), draws[0].IndexCount)
}

type frameInPass struct{ cmd gpu.CommandList }

func (f frameInPass) Commands() gpu.CommandList          { return f.cmd }
func (f frameInPass) Transient() *gpu.TransientAllocator { return nil }
func (f frameInPass) Slot() int                          { return 0 }
func (f frameInPass) Viewport() (float32, float32)       { return 1, 1 }
func (f frameInPass) Camera() mgl32.Vec2                 { return mgl32.Vec2{} }

func TestUpdate_RejectsOpenRenderPass(t *testing.T) {
	f := newFixture(t, 8)
	pass, err := f.dev.MakeRenderPass(gpu.RenderPassInfo{Label: "p", Width: 1, Height: 1})
	require.NoError(t, err)
	cmd, err := f.dev.BeginCommandList(0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginDrawing(pass))

	err = f.sys.Update(frameInPass{cmd: cmd})
	assert.ErrorIs(t, err, gpu.ErrRenderPassActive)
}

func TestNew_TooManyWorkgroups(t *testing.T) {
	dev := gputest.New(8, 8)
	res, err := render.NewResourceManager(dev, nil, render.Options{BlocksPerFrame: 4})
	require.NoError(t, err)

	_, err = New(res, testConfig(), Options{Capacity: 65536*WorkgroupSize + 1})
	assert.Error(t, err)
}

func TestRelease(t *testing.T) {
	f := newFixture(t, 8)
	images := f.dev.Images.Len()

	require.NoError(t, f.sys.Release())
	assert.Equal(t, images-1, f.dev.Images.Len())
	assert.Equal(t, 0, f.dev.ComputePipelines.Len())
	assert.Error(t, f.sys.Emit(EmitInfo{Amount: 1}))
}
