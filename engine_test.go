package shoyu

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu/gputest"
	"github.com/gekko3d/shoyu/rt/particle"
	"github.com/gekko3d/shoyu/rt/render"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

// assetDir lays out a database with one sprite and, optionally, particles.
func assetDir(t *testing.T, particles bool) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, dir, "hero.png", 16, 8)
	writeFile(t, dir, "sprites.json", `{"sprites": [{"name": "hero", "image_path": "hero.png"}]}`)
	if !particles {
		writeFile(t, dir, "shoyu.json", `{"sprite_cfg": "sprites.json"}`)
		return dir
	}
	writePNG(t, dir, "particles.png", 16, 16)
	writeFile(t, dir, "particles.json", `{"particles": [{"name": "spark", "id": 0, "image_path": "particles.png",
  "animations": [{"name": "burn", "id": 0, "time_per_frame_ms": 50, "sprites": [{"x": 0, "y": 0, "w": 8, "h": 8}]}]}]}`)
	writeFile(t, dir, "shoyu.json", `{"sprite_cfg": "sprites.json", "particle_cfg": "particles.json"}`)
	return dir
}

func testConfig(dir string) *Config {
	cfg := Defaults()
	cfg.Window.Width, cfg.Window.Height = 320, 240
	cfg.Renderer.TransientBlocksPerFrame = 64
	cfg.Particles.Capacity = 64
	cfg.Assets.BasePath = dir
	cfg.Assets.PreloadWorkers = 2
	return cfg
}

func newTestEngine(t *testing.T, particles bool) (*Engine, *gputest.Device) {
	t.Helper()
	dev := gputest.New(320, 240)
	e, err := newEngine(testConfig(assetDir(t, particles)), nil, dev)
	require.NoError(t, err)
	return e, dev
}

func TestEngine_WithoutParticleConfig(t *testing.T) {
	e, dev := newTestEngine(t, false)
	assert.Nil(t, e.Particles())

	require.NoError(t, e.Preload(context.Background(), nil))
	hero, err := e.Resources().MakeSprite("hero", "hero")
	require.NoError(t, err)

	require.NoError(t, e.Frame(context.Background(), func(e *Engine, _ *Time) error {
		return e.Renderer().DrawSprite(render.SpriteDrawCommand{Sprite: hero, Position: mgl32.Vec2{40, 40}})
	}))
	assert.Equal(t, []string{
		"acquire", "begin-drawing",
		"bind-pipeline", "draw-indexed",
		"end-drawing", "blit", "submit", "present",
	}, dev.Ops())

	require.NoError(t, e.Close())
	assert.Equal(t, 0, dev.Images.Len())
	assert.Equal(t, 0, dev.Buffers.Len())
	assert.Equal(t, 0, dev.RenderPasses.Len())
	assert.NoError(t, e.Close(), "second close is a no-op")
}

func TestEngine_ParticlesAttached(t *testing.T) {
	e, dev := newTestEngine(t, true)
	t.Cleanup(func() { _ = e.Close() })
	require.NotNil(t, e.Particles())
	assert.Equal(t, 64, e.Particles().Capacity())

	require.NoError(t, e.Frame(context.Background(), func(e *Engine, _ *Time) error {
		return e.Particles().Emit(particle.EmitInfo{Type: 0, LifetimeMs: 500, Amount: 4})
	}))
	assert.Equal(t, 4, e.Particles().Cursor())
	assert.Equal(t, []string{
		"acquire", "dispatch", "begin-drawing",
		"bind-pipeline", "draw-indexed",
		"end-drawing", "blit", "submit", "present",
	}, dev.Ops())
}

func TestEngine_ParticlesDisabled(t *testing.T) {
	cfg := testConfig(assetDir(t, true))
	cfg.Particles.Enabled = false
	e, err := newEngine(cfg, nil, gputest.New(320, 240))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	assert.Nil(t, e.Particles())
}

func TestEngine_TransientErrorSkipsFrame(t *testing.T) {
	e, dev := newTestEngine(t, false)
	t.Cleanup(func() { _ = e.Close() })

	dev.FailAcquire = core.Transient("acquire image", errors.New("surface lost"))
	called := false
	require.NoError(t, e.Frame(context.Background(), func(*Engine, *Time) error {
		called = true
		return nil
	}))
	assert.False(t, called)
	assert.Equal(t, uint64(1), e.SkippedFrames())
	assert.Equal(t, 0, dev.Presents)

	require.NoError(t, e.Frame(context.Background(), nil))
	assert.Equal(t, 1, dev.Presents)
	assert.Equal(t, uint64(2), e.Time().Frame)
}

func TestEngine_FatalErrorEndsFrame(t *testing.T) {
	e, dev := newTestEngine(t, false)
	t.Cleanup(func() { _ = e.Close() })

	dev.FailSubmit = core.Fatal("submit", errors.New("device lost"))
	err := e.Frame(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, core.IsTransient(err))
	assert.Equal(t, uint64(0), e.SkippedFrames())
}

func TestEngine_RunUntilStop(t *testing.T) {
	e, dev := newTestEngine(t, false)
	t.Cleanup(func() { _ = e.Close() })

	clock := time.Unix(100, 0)
	e.now = func() time.Time {
		clock = clock.Add(16 * time.Millisecond)
		return clock
	}

	var dts []time.Duration
	err := e.Run(context.Background(), func(_ *Engine, tm *Time) error {
		dts = append(dts, tm.Dt)
		if tm.Frame == 3 {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, 16 * time.Millisecond, 16 * time.Millisecond}, dts)
	assert.Equal(t, 3, dev.Presents, "the stopping frame is still presented")
}

func TestEngine_RunCancelled(t *testing.T) {
	e, _ := newTestEngine(t, false)
	t.Cleanup(func() { _ = e.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	err := e.Run(ctx, func(*Engine, *Time) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_BadAssets(t *testing.T) {
	cfg := testConfig(t.TempDir())
	dev := gputest.New(320, 240)
	_, err := newEngine(cfg, nil, dev)
	var loading *core.LoadingError
	assert.ErrorAs(t, err, &loading)
	assert.Equal(t, 0, dev.Images.Len())
}

func TestTime_Tick(t *testing.T) {
	var tm Time
	start := time.Unix(10, 0)
	tm.Tick(start)
	assert.Equal(t, time.Duration(0), tm.Dt)
	assert.Equal(t, uint64(1), tm.Frame)

	tm.Tick(start.Add(250 * time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, tm.Dt)
	assert.InDelta(t, 0.25, tm.Seconds(), 1e-6)
	assert.Equal(t, uint64(2), tm.Frame)
}
