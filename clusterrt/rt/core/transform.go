package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Perspective is a right handed projection mapping view depth to [0, 1].
func Perspective(fovY, aspect, zNear, zFar float32) mgl32.Mat4 {
	f := float32(1 / math.Tan(float64(fovY)/2))
	nf := zFar / (zNear - zFar)
	return mgl32.Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, nf, -1,
		0, 0, zNear * nf, 0,
	}
}

// OrthoBox maps a view space box onto x, y in [-1, 1] and z in [0, 1], where
// z = 0 sits at Max.Z and z = 1 at Min.Z.
func OrthoBox(box AABB) mgl32.Mat4 {
	l, r := box.Min[0], box.Max[0]
	b, t := box.Min[1], box.Max[1]
	n, f := -box.Max[2], -box.Min[2]
	return mgl32.Mat4{
		2 / (r - l), 0, 0, 0,
		0, 2 / (t - b), 0, 0,
		0, 0, -1 / (f - n), 0,
		-(r + l) / (r - l), -(t + b) / (t - b), -n / (f - n), 1,
	}
}

// LookAtArbitraryUp rotates direction onto -Z along the shortest arc.
func LookAtArbitraryUp(direction mgl32.Vec3) mgl32.Mat4 {
	return mgl32.QuatBetweenVectors(direction.Normalize(), mgl32.Vec3{0, 0, -1}).Mat4()
}

var (
	cubeDirs = [6]mgl32.Vec3{
		{1, 0, 0}, {-1, 0, 0},
		{0, 1, 0}, {0, -1, 0},
		{0, 0, 1}, {0, 0, -1},
	}
	cubeUps = [6]mgl32.Vec3{
		{0, 1, 0}, {0, 1, 0},
		{0, 0, -1}, {0, 0, 1},
		{0, 1, 0}, {0, 1, 0},
	}
)

// CubeRenderTransform returns the projection and view of one cube face
// centered at center.
func CubeRenderTransform(center mgl32.Vec3, face int, zNear, zFar float32) (proj, view mgl32.Mat4) {
	view = mgl32.LookAtV(center, center.Add(cubeDirs[face]), cubeUps[face])
	proj = mgl32.Scale3D(-1, 1, 1).Mul4(Perspective(math.Pi/2, 1, zNear, zFar))
	return proj, view
}
