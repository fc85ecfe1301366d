// Package canvas owns the offscreen render target a frame is drawn into
// before it is blitted onto the window surface.
package canvas

import (
	"fmt"

	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"go.uber.org/multierr"
)

type Info struct {
	Name       string
	Width      uint32
	Height     uint32
	ClearColor [4]float64
}

// Canvas is a fixed-size color target plus the render pass that clears and
// draws into it. Its pixel size is the viewport for every draw.
type Canvas struct {
	info  Info
	color core.Handle[gpu.Image]
	pass  core.Handle[gpu.RenderPass]
}

func New(dev gpu.Device, info Info) (*Canvas, error) {
	if info.Width == 0 || info.Height == 0 {
		return nil, fmt.Errorf("canvas %q: invalid size %dx%d", info.Name, info.Width, info.Height)
	}

	color, err := dev.MakeImage(gpu.ImageInfo{
		Label:  info.Name + " color",
		Width:  info.Width,
		Height: info.Height,
		Format: gpu.FormatRGBA8,
		Usage:  gpu.ImageRenderTarget | gpu.ImageSampled | gpu.ImageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("canvas %q: %w", info.Name, err)
	}

	pass, err := dev.MakeRenderPass(gpu.RenderPassInfo{
		Label:  info.Name,
		Width:  info.Width,
		Height: info.Height,
		Colors: []gpu.ColorAttachment{{Image: color, Clear: info.ClearColor}},
	})
	if err != nil {
		_ = dev.DestroyImage(color)
		return nil, fmt.Errorf("canvas %q: %w", info.Name, err)
	}

	return &Canvas{info: info, color: color, pass: pass}, nil
}

func (c *Canvas) Name() string                           { return c.info.Name }
func (c *Canvas) RenderPass() core.Handle[gpu.RenderPass] { return c.pass }

// Viewport returns the canvas size in pixels.
func (c *Canvas) Viewport() (width, height float32) {
	return float32(c.info.Width), float32(c.info.Height)
}

// ColorAttachment returns the i-th color image. Only index 0 exists.
func (c *Canvas) ColorAttachment(i int) (core.Handle[gpu.Image], bool) {
	if i != 0 {
		return core.Handle[gpu.Image]{}, false
	}
	return c.color, true
}

func (c *Canvas) Release(dev gpu.Device) error {
	return multierr.Combine(
		dev.DestroyRenderPass(c.pass),
		dev.DestroyImage(c.color),
	)
}
