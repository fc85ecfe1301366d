package core

import "github.com/go-gl/mathgl/mgl32"

// Screen space is measured in pixels with the origin in the bottom-left
// corner of the viewport. Device space is the [-1,1] clip range.

// ScreenToDevice maps a pixel position to device coordinates: the position
// is normalized by the viewport to [0,1] and then mapped with d = 2c - 1.
func ScreenToDevice(p mgl32.Vec2, width, height float32) mgl32.Vec2 {
	return mgl32.Vec2{
		2*(p.X()/width) - 1,
		2*(p.Y()/height) - 1,
	}
}

// DeviceToScreen is the inverse of ScreenToDevice.
func DeviceToScreen(d mgl32.Vec2, width, height float32) mgl32.Vec2 {
	return mgl32.Vec2{
		(d.X() + 1) / 2 * width,
		(d.Y() + 1) / 2 * height,
	}
}

// ScreenToDeviceOffset converts a pixel displacement (not a point) into a
// device-space displacement.
func ScreenToDeviceOffset(v mgl32.Vec2, width, height float32) mgl32.Vec2 {
	return mgl32.Vec2{2 * v.X() / width, 2 * v.Y() / height}
}

// Projection maps pixel space onto device space for a viewport.
func Projection(width, height float32) mgl32.Mat4 {
	return mgl32.Translate3D(-1, -1, 0).Mul4(mgl32.Scale3D(2/width, 2/height, 1))
}

// QuadTransform builds the transform for a unit quad ([0,1] on both axes)
// drawn at pos (bottom-left corner, pixels) with the given size and a
// rotation in degrees about the quad's own center. The result already
// includes the viewport projection.
func QuadTransform(pos, size mgl32.Vec2, rotationDeg float32, width, height float32) mgl32.Mat4 {
	half := size.Mul(0.5)
	model := mgl32.Translate3D(pos.X()+half.X(), pos.Y()+half.Y(), 0).
		Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(rotationDeg))).
		Mul4(mgl32.Translate3D(-half.X(), -half.Y(), 0)).
		Mul4(mgl32.Scale3D(size.X(), size.Y(), 1))
	return Projection(width, height).Mul4(model)
}
