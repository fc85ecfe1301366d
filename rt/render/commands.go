package render

import (
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// Positions are in canvas pixels, origin bottom-left. Rotations are in
// degrees, counter-clockwise about the quad's center.

// SpriteDrawCommand draws a whole sprite. A zero Size uses the image size.
type SpriteDrawCommand struct {
	Sprite   core.Handle[Sprite]
	Position mgl32.Vec2
	Size     mgl32.Vec2
	Rotation float32
	// Flip mirrors the image horizontally.
	Flip bool
}

// SpriteSheetDrawCommand draws one region of a sheet. A zero Size uses the
// region's pixel size.
type SpriteSheetDrawCommand struct {
	Sheet    core.Handle[SpriteSheet]
	SpriteID uint32
	Position mgl32.Vec2
	Size     mgl32.Vec2
	Rotation float32
	Flip     bool
}

// TextDrawCommand draws a string with its first baseline starting at
// Position. A zero Scale draws at the rasterized size.
type TextDrawCommand struct {
	Font     core.Handle[Font]
	Text     string
	Position mgl32.Vec2
	Scale    float32
	Color    mgl32.Vec4
}

// Stats counts draws recorded during the current or last frame.
type Stats struct {
	Sprites int
	Sheets  int
	Texts   int
	Glyphs  int
	// Skipped counts commands dropped for stale handles or unknown ids.
	Skipped int
	// TransientBlocks is the number of allocator blocks used.
	TransientBlocks int
}
