package shoyu

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Window    WindowConfig    `toml:"window"`
	Renderer  RendererConfig  `toml:"renderer"`
	Particles ParticlesConfig `toml:"particles"`
	Assets    AssetsConfig    `toml:"assets"`
	Logging   LoggingConfig   `toml:"logging"`
}

type WindowConfig struct {
	Title     string `toml:"title"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
	Resizable bool   `toml:"resizable"`
	VSync     bool   `toml:"vsync"`
}

type RendererConfig struct {
	// Canvas size in pixels. Zero takes the window size.
	CanvasWidth  uint32     `toml:"canvas_width"`
	CanvasHeight uint32     `toml:"canvas_height"`
	ClearColor   [4]float64 `toml:"clear_color"`

	FramesInFlight          int    `toml:"frames_in_flight"`
	TransientBlockSize      uint64 `toml:"transient_block_size"`
	TransientBlocksPerFrame int    `toml:"transient_blocks_per_frame"`

	// Pool capacities; zero grows without bound.
	SpriteCapacity int `toml:"sprite_capacity"`
	SheetCapacity  int `toml:"sheet_capacity"`
	FontCapacity   int `toml:"font_capacity"`
}

type ParticlesConfig struct {
	Enabled  bool    `toml:"enabled"`
	Capacity int     `toml:"capacity"`
	Gravity  float32 `toml:"gravity"` // px/s²
}

type AssetsConfig struct {
	BasePath       string `toml:"base_path"`
	Preload        bool   `toml:"preload"`
	PreloadWorkers int    `toml:"preload_workers"`
	AtlasSize      int    `toml:"atlas_size"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "shoyu",
			Width:  1280,
			Height: 720,
			VSync:  true,
		},
		Renderer: RendererConfig{
			ClearColor:              [4]float64{0, 0, 0, 1},
			FramesInFlight:          2,
			TransientBlockSize:      256,
			TransientBlocksPerFrame: 4096,
		},
		Particles: ParticlesConfig{
			Enabled:  true,
			Capacity: 2048,
			Gravity:  300,
		},
		Assets: AssetsConfig{
			BasePath:       "assets",
			Preload:        true,
			PreloadWorkers: 4,
			AtlasSize:      512,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Window.Width <= 0 || c.Window.Height <= 0:
		return fmt.Errorf("window: invalid size %dx%d", c.Window.Width, c.Window.Height)
	case (c.Renderer.CanvasWidth == 0) != (c.Renderer.CanvasHeight == 0):
		return fmt.Errorf("renderer: canvas_width and canvas_height must be set together")
	case c.Renderer.FramesInFlight < 1:
		return fmt.Errorf("renderer: frames_in_flight must be at least 1, got %d", c.Renderer.FramesInFlight)
	case c.Renderer.TransientBlockSize == 0 || c.Renderer.TransientBlockSize%4 != 0:
		return fmt.Errorf("renderer: transient_block_size %d is not a positive multiple of 4", c.Renderer.TransientBlockSize)
	case c.Renderer.TransientBlocksPerFrame < 1:
		return fmt.Errorf("renderer: transient_blocks_per_frame must be at least 1, got %d", c.Renderer.TransientBlocksPerFrame)
	case c.Renderer.SpriteCapacity < 0 || c.Renderer.SheetCapacity < 0 || c.Renderer.FontCapacity < 0:
		return fmt.Errorf("renderer: negative pool capacity")
	case c.Particles.Enabled && c.Particles.Capacity <= 0:
		return fmt.Errorf("particles: capacity must be positive, got %d", c.Particles.Capacity)
	case c.Assets.BasePath == "":
		return fmt.Errorf("assets: base_path is empty")
	case c.Assets.PreloadWorkers < 0:
		return fmt.Errorf("assets: negative preload_workers")
	case c.Logging.Format != "console" && c.Logging.Format != "json":
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	return nil
}

// CanvasSize resolves the canvas size, falling back to the window size.
func (c *Config) CanvasSize() (uint32, uint32) {
	if c.Renderer.CanvasWidth != 0 {
		return c.Renderer.CanvasWidth, c.Renderer.CanvasHeight
	}
	return uint32(c.Window.Width), uint32(c.Window.Height)
}
