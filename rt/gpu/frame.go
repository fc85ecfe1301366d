package gpu

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
)

// Frame is the view of an in-progress frame handed to passes that record
// into it, such as the particle system.
type Frame interface {
	Commands() CommandList
	Transient() *TransientAllocator
	Slot() int
	// Viewport is the canvas size in pixels.
	Viewport() (width, height float32)
	// Camera is the screen-space camera offset in pixels.
	Camera() mgl32.Vec2
}

// ErrRenderPassActive is returned by frame passes that must record outside
// a render pass, such as compute dispatches, when one is open.
var ErrRenderPassActive = errors.New("render pass is active")
