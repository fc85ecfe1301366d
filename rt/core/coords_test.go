package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

// near compares componentwise with an absolute tolerance, which unlike
// ApproxEqualThreshold also holds around zero.
func near(a, b mgl32.Vec2, eps float32) bool {
	return mgl32.Abs(a.X()-b.X()) <= eps && mgl32.Abs(a.Y()-b.Y()) <= eps
}

func assertNear(t *testing.T, want, got mgl32.Vec2) {
	t.Helper()
	assert.InDelta(t, want.X(), got.X(), 1e-5, "x of %v", got)
	assert.InDelta(t, want.Y(), got.Y(), 1e-5, "y of %v", got)
}

func TestScreenToDevice_Corners(t *testing.T) {
	w, h := float32(800), float32(600)

	assert.Equal(t, mgl32.Vec2{-1, -1}, ScreenToDevice(mgl32.Vec2{0, 0}, w, h))
	assert.Equal(t, mgl32.Vec2{1, 1}, ScreenToDevice(mgl32.Vec2{800, 600}, w, h))
	assert.Equal(t, mgl32.Vec2{0, 0}, ScreenToDevice(mgl32.Vec2{400, 300}, w, h))
}

func TestScreenDeviceRoundTrip(t *testing.T) {
	w, h := float32(1280), float32(720)
	for x := float32(0); x <= w; x += 37.5 {
		for y := float32(0); y <= h; y += 41.25 {
			p := mgl32.Vec2{x, y}
			back := DeviceToScreen(ScreenToDevice(p, w, h), w, h)
			if !near(back, p, 1e-3) {
				t.Fatalf("Expected %v, got %v", p, back)
			}
		}
	}
}

func TestQuadTransform_NoRotation(t *testing.T) {
	w, h := float32(200), float32(100)
	m := QuadTransform(mgl32.Vec2{50, 25}, mgl32.Vec2{100, 50}, 0, w, h)

	bl := m.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	tr := m.Mul4x1(mgl32.Vec4{1, 1, 0, 1})

	assertNear(t, ScreenToDevice(mgl32.Vec2{50, 25}, w, h), bl.Vec2())
	assertNear(t, ScreenToDevice(mgl32.Vec2{150, 75}, w, h), tr.Vec2())
}

func TestNear_AroundZero(t *testing.T) {
	assert.True(t, near(mgl32.Vec2{-2.98e-08, 1e-7}, mgl32.Vec2{}, 1e-5))
	assert.False(t, near(mgl32.Vec2{0, 1e-3}, mgl32.Vec2{}, 1e-5))
}

func TestQuadTransform_RotatesAboutCenter(t *testing.T) {
	w, h := float32(200), float32(200)
	m := QuadTransform(mgl32.Vec2{50, 50}, mgl32.Vec2{100, 100}, 90, w, h)

	center := m.Mul4x1(mgl32.Vec4{0.5, 0.5, 0, 1})
	assertNear(t, mgl32.Vec2{0, 0}, center.Vec2())

	// Bottom-left corner ends up bottom-right after a quarter turn.
	bl := m.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assertNear(t, ScreenToDevice(mgl32.Vec2{150, 50}, w, h), bl.Vec2())
}
