package assets

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageData holds tightly packed pixel rows, top row first. Sprite images
// are RGBA8; font atlases are single-channel.
type ImageData struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// LoadImageRGBA8 decodes any registered image format and converts it to
// RGBA8.
func LoadImageRGBA8(path string) (ImageData, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImageData{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return ImageData{}, fmt.Errorf("decode %s: %w", path, err)
	}

	return toRGBA8(img), nil
}

func toRGBA8(img image.Image) ImageData {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return ImageData{
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
		Pixels: rgba.Pix,
	}
}
