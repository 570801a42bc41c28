package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestFrustumCulling(t *testing.T) {
	// Camera at origin looking down -Z, 90 deg FOV, near 1, far 100
	proj := Perspective(mgl32.DegToRad(90), 1.0, 1.0, 100.0)
	view := mgl32.LookAtV(
		mgl32.Vec3{0, 0, 0},
		mgl32.Vec3{0, 0, -1},
		mgl32.Vec3{0, 1, 0},
	)
	planes := ExtractFrustum(proj.Mul4(view))

	tests := []struct {
		name     string
		aabbMin  mgl32.Vec3
		aabbMax  mgl32.Vec3
		expected bool
	}{
		{"Inside (center)", mgl32.Vec3{-1, -1, -10}, mgl32.Vec3{1, 1, -5}, true},
		{"Outside (Left)", mgl32.Vec3{-20, -1, -10}, mgl32.Vec3{-15, 1, -5}, false},
		{"Outside (Right)", mgl32.Vec3{15, -1, -10}, mgl32.Vec3{20, 1, -5}, false},
		{"Outside (Behind/Near)", mgl32.Vec3{-1, -1, 2}, mgl32.Vec3{1, 1, 5}, false},
		{"Outside (Between eye and near)", mgl32.Vec3{-0.1, -0.1, -0.5}, mgl32.Vec3{0.1, 0.1, -0.2}, false},
		{"Outside (Far)", mgl32.Vec3{-1, -1, -200}, mgl32.Vec3{1, 1, -150}, false},
		{"Intersecting (Left Plane)", mgl32.Vec3{-15, -1, -10}, mgl32.Vec3{-5, 1, -5}, true},
		{"Intersecting (Near Plane)", mgl32.Vec3{-1, -1, -2}, mgl32.Vec3{1, 1, 1}, true},
		{"Encompassing (Huge box)", mgl32.Vec3{-1000, -1000, -1000}, mgl32.Vec3{1000, 1000, 1000}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, planes.Intersects(NewAABB(tc.aabbMin, tc.aabbMax)))
		})
	}
}

func TestPerspectiveDepthRange(t *testing.T) {
	proj := Perspective(mgl32.DegToRad(60), 1.5, 0.5, 50)

	near := proj.Mul4x1(mgl32.Vec4{0, 0, -0.5, 1})
	far := proj.Mul4x1(mgl32.Vec4{0, 0, -50, 1})

	assert.InDelta(t, 0, near[2]/near[3], 1e-5)
	assert.InDelta(t, 1, far[2]/far[3], 1e-5)
}

func TestOrthoBox(t *testing.T) {
	box := NewAABB(mgl32.Vec3{-4, -2, -100}, mgl32.Vec3{4, 2, -1})
	m := OrthoBox(box)

	lo := m.Mul4x1(mgl32.Vec4{-4, -2, -1, 1})
	hi := m.Mul4x1(mgl32.Vec4{4, 2, -100, 1})

	assert.InDelta(t, -1, lo[0], 1e-5)
	assert.InDelta(t, -1, lo[1], 1e-5)
	assert.InDelta(t, 0, lo[2], 1e-5)
	assert.InDelta(t, 1, hi[0], 1e-5)
	assert.InDelta(t, 1, hi[1], 1e-5)
	assert.InDelta(t, 1, hi[2], 1e-5)
}

func TestLookAtArbitraryUp(t *testing.T) {
	dirs := []mgl32.Vec3{
		{1, 0, 0},
		{0, -1, 0},
		{0.3, 0.4, -0.5},
		{0, 0, -1},
	}
	for _, d := range dirs {
		m := LookAtArbitraryUp(d)
		got := m.Mul4x1(d.Normalize().Vec4(0)).Vec3()
		assert.InDelta(t, 0, got[0], 1e-4)
		assert.InDelta(t, 0, got[1], 1e-4)
		assert.InDelta(t, -1, got[2], 1e-4)
	}
}

func TestCubeRenderTransformFacesLookOutward(t *testing.T) {
	center := mgl32.Vec3{3, 1, -2}
	for face := 0; face < 6; face++ {
		proj, view := CubeRenderTransform(center, face, 0.05, 10)
		// A point one unit along the face direction lands in the middle of the face.
		p := center.Add(cubeDirs[face])
		clip := proj.Mul4(view).Mul4x1(p.Vec4(1))
		ndc := clip.Vec3().Mul(1 / clip[3])

		assert.Greater(t, clip[3], float32(0), "face %d", face)
		assert.InDelta(t, 0, ndc[0], 1e-4, "face %d", face)
		assert.InDelta(t, 0, ndc[1], 1e-4, "face %d", face)
		assert.True(t, ndc[2] > 0 && ndc[2] < 1, "face %d depth %f", face, ndc[2])
	}
}

func TestRenderParametersCamera(t *testing.T) {
	cam := NewCameraState()
	cam.Position = mgl32.Vec3{1, 2, 3}
	params := cam.RenderParameters()

	assert.InDelta(t, 1, params.CameraPosition[0], 1e-4)
	assert.InDelta(t, 2, params.CameraPosition[1], 1e-4)
	assert.InDelta(t, 3, params.CameraPosition[2], 1e-4)
	assert.InDelta(t, -1, params.CameraFront[2], 1e-4)
	assert.Equal(t, cam.ZNear, params.ZNear)
	assert.Equal(t, cam.ZFar, params.ZFar)
}
