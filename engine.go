// Package shoyu wires the 2D rendering core into a running game loop: a
// window, a GPU device, the asset database, the renderer and the particle
// system, driven one frame at a time.
package shoyu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gekko3d/shoyu/rt/assets"
	"github.com/gekko3d/shoyu/rt/canvas"
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/gekko3d/shoyu/rt/gpu/wgpudev"
	"github.com/gekko3d/shoyu/rt/particle"
	"github.com/gekko3d/shoyu/rt/render"
	"github.com/go-gl/glfw/v3.3/glfw"
	"go.uber.org/multierr"
)

// ErrStop ends Run without an error when returned from the update callback.
var ErrStop = errors.New("stop")

// UpdateFunc records one frame's draws and emissions. It runs between
// BeginFrame and EndFrame, inside the canvas render pass.
type UpdateFunc func(e *Engine, t *Time) error

type Engine struct {
	cfg *Config
	log Logger

	window  *glfw.Window
	dev     gpu.Device
	release func()

	db        *assets.Database
	canvas    *canvas.Canvas
	res       *render.ResourceManager
	renderer  *render.Renderer2D
	particles *particle.System

	time    Time
	now     func() time.Time
	skipped uint64
}

// NewEngine opens the window and the wgpu device, then builds everything
// on top of them. It must be called from the main thread.
func NewEngine(cfg *Config, log Logger) (*Engine, error) {
	log = core.OrNop(log)
	win, err := wgpudev.OpenWindow(cfg.Window.Title, cfg.Window.Width, cfg.Window.Height, cfg.Window.Resizable)
	if err != nil {
		return nil, err
	}
	dev, err := wgpudev.New(win, wgpudev.Options{VSync: cfg.Window.VSync, Logger: log})
	if err != nil {
		wgpudev.CloseWindow(win)
		return nil, err
	}

	e, err := newEngine(cfg, log, dev)
	if err != nil {
		dev.Release()
		wgpudev.CloseWindow(win)
		return nil, err
	}
	e.window = win
	e.release = func() {
		dev.Release()
		wgpudev.CloseWindow(win)
	}
	return e, nil
}

// newEngine builds the engine on an existing device. The caller keeps
// ownership of dev.
func newEngine(cfg *Config, log Logger, dev gpu.Device) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, log: core.OrNop(log), dev: dev, now: time.Now}
	if err := e.build(); err != nil {
		return nil, multierr.Append(err, e.Close())
	}
	return e, nil
}

func (e *Engine) build() error {
	var err error
	e.db, err = assets.Open(e.cfg.Assets.BasePath, assets.Options{
		Logger:    e.log,
		AtlasSize: e.cfg.Assets.AtlasSize,
	})
	if err != nil {
		return fmt.Errorf("open assets: %w", err)
	}

	w, h := e.cfg.CanvasSize()
	e.canvas, err = canvas.New(e.dev, canvas.Info{
		Name:       "main",
		Width:      w,
		Height:     h,
		ClearColor: e.cfg.Renderer.ClearColor,
	})
	if err != nil {
		return err
	}

	rc := e.cfg.Renderer
	e.res, err = render.NewResourceManager(e.dev, e.db, render.Options{
		FramesInFlight: rc.FramesInFlight,
		BlockSize:      rc.TransientBlockSize,
		BlocksPerFrame: rc.TransientBlocksPerFrame,
		SpriteCapacity: rc.SpriteCapacity,
		SheetCapacity:  rc.SheetCapacity,
		FontCapacity:   rc.FontCapacity,
		Format:         gpu.FormatRGBA8,
		Logger:         e.log,
	})
	if err != nil {
		return err
	}

	e.renderer, err = render.NewRenderer2D(e.res, e.canvas, e.log)
	if err != nil {
		return err
	}

	if !e.cfg.Particles.Enabled {
		return nil
	}
	pcfg, err := e.db.FetchParticleConfig()
	if err != nil {
		var lookup *core.LookupError
		if errors.As(err, &lookup) {
			e.log.Warnf("particles disabled: %v", err)
			return nil
		}
		return err
	}
	e.particles, err = particle.New(e.res, pcfg, particle.Options{
		Capacity: e.cfg.Particles.Capacity,
		Gravity:  e.cfg.Particles.Gravity,
		Logger:   e.log,
	})
	if err != nil {
		return err
	}
	e.renderer.Attach(e.particles)
	return nil
}

func (e *Engine) Config() *Config                    { return e.cfg }
func (e *Engine) Logger() Logger                     { return e.log }
func (e *Engine) Device() gpu.Device                 { return e.dev }
func (e *Engine) Assets() *assets.Database           { return e.db }
func (e *Engine) Resources() *render.ResourceManager { return e.res }
func (e *Engine) Renderer() *render.Renderer2D       { return e.renderer }
func (e *Engine) Time() Time                         { return e.time }
func (e *Engine) Window() *glfw.Window               { return e.window }
func (e *Engine) SkippedFrames() uint64              { return e.skipped }

// Particles is nil when particles are disabled or no particle config exists.
func (e *Engine) Particles() *particle.System { return e.particles }

// Preload loads every asset entry up front. progress may be nil.
func (e *Engine) Preload(ctx context.Context, progress func(done, total int)) error {
	return e.db.Preload(ctx, e.cfg.Assets.PreloadWorkers, progress)
}

// Frame ticks the clock and records, submits and presents one frame.
// Transient GPU errors skip the frame and are only logged.
func (e *Engine) Frame(ctx context.Context, update UpdateFunc) error {
	e.time.Tick(e.now())

	if err := e.renderer.BeginFrame(ctx); err != nil {
		return e.skip(err)
	}
	var uerr error
	if update != nil {
		uerr = update(e, &e.time)
	}
	err := e.renderer.EndFrame()
	if uerr != nil {
		return multierr.Append(uerr, err)
	}
	if err != nil {
		return e.skip(err)
	}
	return nil
}

func (e *Engine) skip(err error) error {
	if !core.IsTransient(err) {
		return err
	}
	e.skipped++
	e.log.Warnf("frame %d skipped: %v", e.time.Frame, err)
	return nil
}

// Run drives frames until the window closes, the context is cancelled or
// update returns ErrStop.
func (e *Engine) Run(ctx context.Context, update UpdateFunc) error {
	e.log.Infof("running: canvas %s, %d frames in flight", e.canvasSize(), e.res.FramesInFlight())
	for {
		if e.window != nil {
			if e.window.ShouldClose() {
				return nil
			}
			glfw.PollEvents()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Frame(ctx, update); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

func (e *Engine) canvasSize() string {
	w, h := e.canvas.Viewport()
	return fmt.Sprintf("%gx%g", w, h)
}

// Close waits for the GPU and releases everything in reverse order of
// creation. It is safe to call more than once.
func (e *Engine) Close() error {
	var err error
	if e.renderer != nil {
		err = multierr.Append(err, e.renderer.Drain(context.Background()))
		e.renderer = nil
	}
	if e.particles != nil {
		err = multierr.Append(err, e.particles.Release())
		e.particles = nil
	}
	if e.res != nil {
		err = multierr.Append(err, e.res.Close())
		e.res = nil
	}
	if e.canvas != nil {
		err = multierr.Append(err, e.canvas.Release(e.dev))
		e.canvas = nil
	}
	if e.release != nil {
		e.release()
		e.release = nil
	}
	return err
}
