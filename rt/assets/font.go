package assets

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultAtlasSize = 512
	glyphPadding     = 2
)

// DefaultGlyphs is the printable ASCII range.
var DefaultGlyphs = func() []rune {
	rs := make([]rune, 0, 95)
	for r := rune(32); r < 127; r++ {
		rs = append(rs, r)
	}
	return rs
}()

// Glyph describes one rasterized character. Bounds is its atlas rect in
// pixels. BearingX is the offset from the pen to the left edge, BearingY the
// offset from the baseline up to the top edge; both in pixels at the
// rasterized size, as is Advance.
type Glyph struct {
	Bounds   Rect
	Advance  float32
	BearingX float32
	BearingY float32
}

// Font is a rasterized face packed into a single-channel atlas.
type Font struct {
	Meta
	Size       float32
	Atlas      ImageData
	Glyphs     map[rune]Glyph
	Ascent     float32
	LineHeight float32
}

// LoadFont reads a TrueType or OpenType file and rasterizes glyphs into an
// atlas. Glyphs that do not fit are left out of the table.
func LoadFont(path string, size float64, glyphs []rune, atlasSize int) (*Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return BuildFont(data, size, glyphs, atlasSize)
}

// BuildFont rasterizes an in-memory font file.
func BuildFont(data []byte, size float64, glyphs []rune, atlasSize int) (*Font, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create face: %w", err)
	}
	defer face.Close()

	if atlasSize <= 0 {
		atlasSize = DefaultAtlasSize
	}
	if len(glyphs) == 0 {
		glyphs = DefaultGlyphs
	}

	atlas := image.NewAlpha(image.Rect(0, 0, atlasSize, atlasSize))
	table := make(map[rune]Glyph, len(glyphs))

	x, y := glyphPadding, glyphPadding
	rowHeight := 0
	for _, r := range glyphs {
		dr, mask, maskp, adv, ok := face.Glyph(fixed.Point26_6{}, r)
		if !ok {
			continue
		}
		w, h := dr.Dx(), dr.Dy()

		if x+w+glyphPadding > atlasSize {
			x = glyphPadding
			y += rowHeight + 2*glyphPadding
			rowHeight = 0
		}
		if y+h+glyphPadding > atlasSize {
			break
		}

		if w > 0 && h > 0 {
			draw.Draw(atlas, image.Rect(x, y, x+w, y+h), mask, maskp, draw.Src)
		}

		table[r] = Glyph{
			Bounds:   Rect{X: uint32(x), Y: uint32(y), W: uint32(w), H: uint32(h)},
			Advance:  float32(adv) / 64,
			BearingX: float32(dr.Min.X),
			BearingY: float32(-dr.Min.Y),
		}

		x += w + 2*glyphPadding
		rowHeight = max(rowHeight, h)
	}

	metrics := face.Metrics()
	return &Font{
		Size: float32(size),
		Atlas: ImageData{
			Width:  uint32(atlasSize),
			Height: uint32(atlasSize),
			Pixels: atlas.Pix,
		},
		Glyphs:     table,
		Ascent:     float32(metrics.Ascent.Ceil()),
		LineHeight: float32(metrics.Height.Ceil()),
	}, nil
}

// Measure returns the width and height in pixels of text drawn at scale.
func (f *Font) Measure(text string, scale float32) (float32, float32) {
	maxW, curW := float32(0), float32(0)
	lines := 1
	for _, r := range text {
		if r == '\n' {
			maxW = max(maxW, curW)
			curW = 0
			lines++
			continue
		}
		if g, ok := f.Glyphs[r]; ok {
			curW += g.Advance * scale
		}
	}
	return max(maxW, curW), f.LineHeight * scale * float32(lines)
}
