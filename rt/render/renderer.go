package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/gekko3d/shoyu/rt/canvas"
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/multierr"
)

// ErrInvalidState is returned when frame calls arrive out of order.
var ErrInvalidState = errors.New("invalid renderer state")

type State int

const (
	StateIdle State = iota
	StateRecording
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FramePass hooks extra GPU work into every frame. Update runs before the
// canvas render pass opens, Draw inside it after all immediate draws.
type FramePass interface {
	Update(f gpu.Frame) error
	Draw(f gpu.Frame) error
}

// Renderer2D records immediate-mode sprite and text draws into a canvas and
// presents it on the window surface.
type Renderer2D struct {
	dev       gpu.Device
	res       *ResourceManager
	canvas    *canvas.Canvas
	submitter *FrameSubmitter
	alloc     *gpu.TransientAllocator
	log       core.Logger

	passes []FramePass
	camera mgl32.Vec2

	state State
	cmd   gpu.CommandList
	image core.Handle[gpu.Image]
	ready core.Handle[gpu.Semaphore]
	stats Stats
}

func NewRenderer2D(res *ResourceManager, cv *canvas.Canvas, log core.Logger) (*Renderer2D, error) {
	sub, err := NewFrameSubmitter(res.Device(), res.FramesInFlight())
	if err != nil {
		return nil, err
	}
	return &Renderer2D{
		dev:       res.Device(),
		res:       res,
		canvas:    cv,
		submitter: sub,
		alloc:     res.Transient(),
		log:       core.OrNop(log),
	}, nil
}

func (r *Renderer2D) Resources() *ResourceManager { return r.res }
func (r *Renderer2D) Canvas() *canvas.Canvas      { return r.canvas }
func (r *Renderer2D) Submitter() *FrameSubmitter  { return r.submitter }
func (r *Renderer2D) State() State                { return r.state }

// Stats reports the draws of the frame being recorded, or of the last one.
func (r *Renderer2D) Stats() Stats { return r.stats }

// Attach adds a pass that runs every frame in attachment order.
func (r *Renderer2D) Attach(p FramePass) { r.passes = append(r.passes, p) }

// SetCamera moves the view; everything is drawn offset by -camera pixels.
func (r *Renderer2D) SetCamera(pos mgl32.Vec2) { r.camera = pos }

// gpu.Frame

func (r *Renderer2D) Commands() gpu.CommandList          { return r.cmd }
func (r *Renderer2D) Transient() *gpu.TransientAllocator { return r.alloc }
func (r *Renderer2D) Slot() int                          { return r.submitter.Slot() }
func (r *Renderer2D) Viewport() (float32, float32)       { return r.canvas.Viewport() }
func (r *Renderer2D) Camera() mgl32.Vec2                 { return r.camera }

// BeginFrame waits for the frame slot to come free, acquires the next
// surface image and opens the canvas render pass. A transient error means
// nothing was recorded and the frame can simply be skipped.
func (r *Renderer2D) BeginFrame(ctx context.Context) error {
	if r.state != StateIdle {
		return fmt.Errorf("begin frame while %v: %w", r.state, ErrInvalidState)
	}

	slot, cmd, err := r.submitter.Begin(ctx)
	if err != nil {
		return err
	}
	r.alloc.BeginFrame(slot)
	r.stats = Stats{}

	img, ready, err := r.dev.AcquireImage(ctx)
	if err != nil {
		r.submitter.Abort()
		return err
	}
	r.cmd, r.image, r.ready = cmd, img, ready
	r.state = StateRecording

	// From here on the image must be presented, even on failure.
	for _, p := range r.passes {
		if err := p.Update(r); err != nil {
			return multierr.Append(err, r.finish())
		}
	}
	if err := cmd.BeginDrawing(r.canvas.RenderPass()); err != nil {
		return multierr.Append(err, r.finish())
	}
	return nil
}

// EndFrame runs the attached passes' draws, closes the render pass, blits
// the canvas onto the surface image, submits and presents.
func (r *Renderer2D) EndFrame() error {
	if r.state != StateRecording {
		return fmt.Errorf("end frame while %v: %w", r.state, ErrInvalidState)
	}
	var errs error
	for _, p := range r.passes {
		errs = multierr.Append(errs, p.Draw(r))
	}
	return multierr.Append(errs, r.finish())
}

func (r *Renderer2D) finish() (err error) {
	defer func() {
		if err != nil && r.state == StateRecording {
			r.submitter.Abort()
		}
		// An acquired image must go back to the surface on every path.
		if r.image.Valid() {
			err = multierr.Append(err, r.dev.Present(r.image, r.ready))
		}
		r.state = StateIdle
		r.cmd = nil
		r.image, r.ready = core.Handle[gpu.Image]{}, core.Handle[gpu.Semaphore]{}
	}()

	if r.cmd.InRenderPass() {
		if err := r.cmd.EndDrawing(); err != nil {
			return err
		}
	}
	color, _ := r.canvas.ColorAttachment(0)
	if err := r.cmd.Blit(color, r.image, gpu.FilterNearest); err != nil {
		return err
	}

	r.stats.TransientBlocks = r.alloc.Used()
	done, err := r.submitter.Submit([]core.Handle[gpu.Semaphore]{r.ready})
	if err != nil {
		return err
	}
	r.state = StateSubmitted
	img := r.image
	r.image = core.Handle[gpu.Image]{}
	return r.dev.Present(img, done)
}

// Drain blocks until the GPU has finished every submitted frame.
func (r *Renderer2D) Drain(ctx context.Context) error {
	return r.submitter.Drain(ctx)
}

func (r *Renderer2D) requireDrawing(op string) error {
	if r.state != StateRecording || !r.cmd.InRenderPass() {
		return fmt.Errorf("%s while %v: %w", op, r.state, ErrInvalidState)
	}
	return nil
}

func (r *Renderer2D) skip(kind string, h fmt.Stringer) {
	r.stats.Skipped++
	r.log.Debugf("skipping %s draw: %v not found", kind, h)
}

func (r *Renderer2D) DrawSprite(cmd SpriteDrawCommand) error {
	if err := r.requireDrawing("draw sprite"); err != nil {
		return err
	}
	s, ok := r.res.FetchSprite(cmd.Sprite)
	if !ok {
		r.skip("sprite", cmd.Sprite)
		return nil
	}

	size := cmd.Size
	if size == (mgl32.Vec2{}) {
		size = mgl32.Vec2{float32(s.Width), float32(s.Height)}
	}
	uv := mgl32.Vec4{0, 0, 1, 1}
	if cmd.Flip {
		uv = mgl32.Vec4{1, 0, -1, 1}
	}
	if err := r.drawQuad(s.BindGroup, cmd.Position, size, cmd.Rotation, uv); err != nil {
		return err
	}
	r.stats.Sprites++
	return nil
}

// DrawSpriteSheet draws the region registered under SpriteID. Unknown ids
// are skipped like stale handles.
func (r *Renderer2D) DrawSpriteSheet(cmd SpriteSheetDrawCommand) error {
	if err := r.requireDrawing("draw sprite sheet"); err != nil {
		return err
	}
	sheet, ok := r.res.FetchSpriteSheet(cmd.Sheet)
	if !ok {
		r.skip("sprite sheet", cmd.Sheet)
		return nil
	}
	region, ok := sheet.Regions[cmd.SpriteID]
	if !ok {
		r.stats.Skipped++
		r.log.Debugf("skipping sprite sheet draw: %q has no sprite %d", sheet.Name, cmd.SpriteID)
		return nil
	}

	size := cmd.Size
	if size == (mgl32.Vec2{}) {
		size = region.Size
	}
	uv := region.UV
	if cmd.Flip {
		uv = mgl32.Vec4{uv[0] + uv[2], uv[1], -uv[2], uv[3]}
	}
	if err := r.drawQuad(sheet.BindGroup, cmd.Position, size, cmd.Rotation, uv); err != nil {
		return err
	}
	r.stats.Sheets++
	return nil
}

// drawQuad writes the model and camera blocks and records one unit quad.
func (r *Renderer2D) drawQuad(bg core.Handle[gpu.BindGroup], pos, size mgl32.Vec2, rotation float32, uv mgl32.Vec4) error {
	w, h := r.canvas.Viewport()

	model, err := r.alloc.Bump()
	if err != nil {
		return err
	}
	camera, err := r.alloc.Bump()
	if err != nil {
		return err
	}
	if err := multierr.Combine(
		model.PutMat4(0, core.QuadTransform(pos, size, rotation, w, h)),
		model.PutVec4(64, uv),
		camera.PutVec2(0, core.ScreenToDeviceOffset(r.camera, w, h)),
	); err != nil {
		return err
	}

	if err := r.cmd.BindPipeline(r.res.pipes.spritePipeline); err != nil {
		return err
	}
	return r.cmd.DrawIndexed(gpu.DrawIndexed{
		Vertex:        r.res.pipes.quadVB,
		Index:         r.res.pipes.quadIB,
		IndexCount:    uint32(len(quadIndices)),
		InstanceCount: 1,
		BindGroups: []gpu.BindSet{{
			Group:          bg,
			DynamicOffsets: []uint32{model.DynamicOffset(), camera.DynamicOffset()},
		}},
	})
}

// DrawText lays out the string on the CPU and draws every glyph with one
// indexed call. The vertices live in consecutive transient blocks.
func (r *Renderer2D) DrawText(cmd TextDrawCommand) error {
	if err := r.requireDrawing("draw text"); err != nil {
		return err
	}
	f, ok := r.res.FetchFont(cmd.Font)
	if !ok {
		r.skip("text", cmd.Font)
		return nil
	}

	scale := cmd.Scale
	if scale == 0 {
		scale = 1
	}
	w, h := r.canvas.Viewport()
	verts := layoutText(nil, f, cmd.Text, cmd.Position.Sub(r.camera), scale, w, h)
	quads := len(verts) / 16
	if quads == 0 {
		return nil
	}
	if limit := r.res.pipes.maxGlyphs; quads > limit {
		r.log.Warnf("text with %d glyphs truncated to %d", quads, limit)
		quads = limit
		verts = verts[:quads*16]
	}

	bs := r.alloc.BlockSize()
	vb, err := r.alloc.BumpN(int((uint64(quads*glyphQuadBytes) + bs - 1) / bs))
	if err != nil {
		return err
	}
	style, err := r.alloc.Bump()
	if err != nil {
		return err
	}
	if err := multierr.Append(vb.PutFloats(0, verts), style.PutVec4(0, cmd.Color)); err != nil {
		return err
	}

	if err := r.cmd.BindPipeline(r.res.pipes.textPipeline); err != nil {
		return err
	}
	if err := r.cmd.DrawIndexed(gpu.DrawIndexed{
		Vertex:        r.alloc.Buffer(),
		VertexOffset:  vb.Offset,
		Index:         r.res.pipes.textIB,
		IndexCount:    uint32(6 * quads),
		InstanceCount: 1,
		BindGroups: []gpu.BindSet{{
			Group:          f.BindGroup,
			DynamicOffsets: []uint32{style.DynamicOffset()},
		}},
	}); err != nil {
		return err
	}
	r.stats.Texts++
	r.stats.Glyphs += quads
	return nil
}
