package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/gekko3d/shoyu"
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/particle"
	"github.com/gekko3d/shoyu/rt/render"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/schollz/progressbar/v3"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "shoyu.toml", "path to the engine config")
	debug := flag.Bool("debug", false, "enable debug logging")
	sprite := flag.String("sprite", "hero", "sprite key to draw")
	sheet := flag.String("sheet", "tiles", "sprite sheet key to draw")
	font := flag.String("font", "mono", "font key for the FPS counter")
	flag.Parse()

	if err := run(*configPath, *debug, demoAssets{sprite: *sprite, sheet: *sheet, font: *font}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type demoAssets struct {
	sprite, sheet, font string
}

func run(configPath string, debug bool, keys demoAssets) error {
	cfg := shoyu.Defaults()
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err = shoyu.Load(configPath); err != nil {
			return err
		}
	}

	log, err := shoyu.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()
	if debug {
		log.SetDebug(true)
	}

	e, err := shoyu.NewEngine(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cfg.Assets.Preload {
		bar := progressbar.Default(-1, "loading assets")
		err := e.Preload(ctx, func(done, total int) {
			bar.ChangeMax(total)
			_ = bar.Set(done)
		})
		_ = bar.Finish()
		if err != nil {
			return err
		}
	}

	s := newScene(e, keys)
	e.Window().SetKeyCallback(func(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})
	e.Window().SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		if button == glfw.MouseButtonLeft && action == glfw.Press {
			x, y := w.GetCursorPos()
			s.burst = append(s.burst, s.toCanvas(w, x, y))
		}
	})

	return e.Run(ctx, s.update)
}

type scene struct {
	log core.Logger

	hero  core.Handle[render.Sprite]
	tiles core.Handle[render.SpriteSheet]
	font  core.Handle[render.Font]

	viewport mgl32.Vec2
	angle    float32
	fps      float32
	sinceFx  float32
	burst    []mgl32.Vec2
}

// newScene uploads what the demo draws. Missing assets are logged and
// left as zero handles, which the renderer skips.
func newScene(e *shoyu.Engine, keys demoAssets) *scene {
	s := &scene{log: e.Logger()}
	res := e.Resources()
	var err error
	if s.hero, err = res.MakeSprite(keys.sprite, keys.sprite); err != nil {
		s.log.Warnf("sprite: %v", err)
	}
	if s.tiles, err = res.MakeSpriteSheet(keys.sheet, keys.sheet); err != nil {
		s.log.Warnf("sprite sheet: %v", err)
	}
	if s.font, err = res.MakeFont(keys.font, keys.font); err != nil {
		s.log.Warnf("font: %v", err)
	}
	return s
}

// toCanvas maps a cursor position (top-left origin, window units) onto the
// canvas seen in the last frame.
func (s *scene) toCanvas(w *glfw.Window, x, y float64) mgl32.Vec2 {
	ww, wh := w.GetSize()
	if ww == 0 || wh == 0 {
		return mgl32.Vec2{}
	}
	return mgl32.Vec2{
		float32(x/float64(ww)) * s.viewport.X(),
		float32(1-y/float64(wh)) * s.viewport.Y(),
	}
}

func (s *scene) update(e *shoyu.Engine, t *shoyu.Time) error {
	r := e.Renderer()
	w, h := r.Viewport()
	s.viewport = mgl32.Vec2{w, h}

	dt := t.Seconds()
	s.angle += 45 * dt
	if dt > 0 {
		s.fps = 0.9*s.fps + 0.1/dt
	}

	if err := r.DrawSprite(render.SpriteDrawCommand{
		Sprite:   s.hero,
		Position: mgl32.Vec2{w/2 - 32, h/2 - 32},
		Size:     mgl32.Vec2{64, 64},
		Rotation: s.angle,
	}); err != nil {
		return err
	}
	if err := r.DrawSpriteSheet(render.SpriteSheetDrawCommand{
		Sheet:    s.tiles,
		SpriteID: 0,
		Position: mgl32.Vec2{16, 16},
		Size:     mgl32.Vec2{32, 32},
	}); err != nil {
		return err
	}
	if err := r.DrawText(render.TextDrawCommand{
		Font:     s.font,
		Text:     fmt.Sprintf("%.0f fps\nframe %d", s.fps, t.Frame),
		Position: mgl32.Vec2{8, h - 24},
		Color:    mgl32.Vec4{1, 1, 1, 1},
	}); err != nil {
		return err
	}

	p := e.Particles()
	if p == nil {
		return nil
	}
	s.sinceFx += dt
	if s.sinceFx >= 0.1 {
		s.sinceFx = 0
		s.burst = append(s.burst, mgl32.Vec2{w / 2, h / 4})
	}
	for _, pos := range s.burst {
		err := p.EmitRandom(particle.EmitInfo{
			Type:       0,
			LifetimeMs: 1200,
			Amount:     16,
			Position:   pos,
			Velocity:   mgl32.Vec2{0, 220},
			Behavior:   particle.Gravity,
			Spread:     mgl32.Vec2{24, 8},
		})
		if errors.Is(err, particle.ErrUnknownType) {
			s.log.Warnf("particles: %v", err)
			break
		}
		if err != nil {
			return err
		}
	}
	s.burst = s.burst[:0]
	return nil
}
