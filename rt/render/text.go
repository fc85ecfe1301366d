package render

import (
	"github.com/gekko3d/shoyu/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/text/unicode/norm"
)

// layoutText appends four vertices per visible glyph to dst. Each vertex is
// a device-space position followed by its atlas uv. origin is the start of
// the first baseline in pixels, already offset by the camera. Runes with no
// glyph are skipped without moving the pen; zero-size glyphs such as spaces
// move it without emitting a quad.
func layoutText(dst []float32, f *Font, text string, origin mgl32.Vec2, scale, width, height float32) []float32 {
	penX, baseline := origin.X(), origin.Y()

	for _, r := range norm.NFC.String(text) {
		if r == '\n' {
			penX = origin.X()
			baseline -= f.LineHeight * scale
			continue
		}
		g, ok := f.Glyphs[r]
		if !ok {
			continue
		}

		if g.Bounds.W > 0 && g.Bounds.H > 0 {
			x0 := penX + g.BearingX*scale
			x1 := x0 + float32(g.Bounds.W)*scale
			y1 := baseline + g.BearingY*scale
			y0 := y1 - float32(g.Bounds.H)*scale

			u0 := float32(g.Bounds.X) / f.AtlasSize.X()
			u1 := float32(g.Bounds.X+g.Bounds.W) / f.AtlasSize.X()
			v0 := float32(g.Bounds.Y) / f.AtlasSize.Y()
			v1 := float32(g.Bounds.Y+g.Bounds.H) / f.AtlasSize.Y()

			bl := core.ScreenToDevice(mgl32.Vec2{x0, y0}, width, height)
			tr := core.ScreenToDevice(mgl32.Vec2{x1, y1}, width, height)

			// Same corner order as the unit quad.
			dst = append(dst,
				bl.X(), bl.Y(), u0, v1,
				tr.X(), bl.Y(), u1, v1,
				tr.X(), tr.Y(), u1, v0,
				bl.X(), tr.Y(), u0, v0,
			)
		}
		penX += g.Advance * scale
	}
	return dst
}
