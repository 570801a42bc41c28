package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// CameraState is a free-fly camera. The world is Y-up and the camera looks
// down -Z at zero yaw and pitch.
type CameraState struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32
	FovY     float32
	Aspect   float32
	ZNear    float32
	ZFar     float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position: mgl32.Vec3{0, 2, 20},
		FovY:     mgl32.DegToRad(60),
		Aspect:   16.0 / 9.0,
		ZNear:    0.1,
		ZFar:     200,
	}
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
	}
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	eye := c.Position
	return mgl32.LookAtV(eye, eye.Add(c.GetForward()), mgl32.Vec3{0, 1, 0})
}

func (c *CameraState) RenderParameters() RenderParameters {
	proj := Perspective(c.FovY, c.Aspect, c.ZNear, c.ZFar)
	return NewRenderParameters(proj, c.GetViewMatrix(), c.ZNear, c.ZFar)
}

// RenderParameters is the per-view camera state consumed by the light passes.
type RenderParameters struct {
	View              mgl32.Mat4
	Projection        mgl32.Mat4
	ViewProjection    mgl32.Mat4
	InvView           mgl32.Mat4
	InvProjection     mgl32.Mat4
	InvViewProjection mgl32.Mat4

	ZNear float32
	ZFar  float32

	CameraPosition mgl32.Vec3
	CameraFront    mgl32.Vec3
}

func NewRenderParameters(proj, view mgl32.Mat4, zNear, zFar float32) RenderParameters {
	p := RenderParameters{
		View:       view,
		Projection: proj,
		ZNear:      zNear,
		ZFar:       zFar,
	}
	p.ViewProjection = proj.Mul4(view)
	p.InvView = view.Inv()
	p.InvProjection = proj.Inv()
	p.InvViewProjection = p.ViewProjection.Inv()
	p.CameraPosition = p.InvView.Col(3).Vec3()
	p.CameraFront = p.InvView.Col(2).Vec3().Mul(-1).Normalize()
	return p
}

func (p *RenderParameters) Frustum() Frustum {
	return ExtractFrustum(p.ViewProjection)
}

// Frustum holds six inward facing planes: Left, Right, Bottom, Top, Near, Far.
// A plane is Ax + By + Cz + D = 0.
type Frustum [6]mgl32.Vec4

// ExtractFrustum extracts the frustum planes of a view-projection matrix with
// a zero-to-one clip depth range.
func ExtractFrustum(vp mgl32.Mat4) Frustum {
	var planes Frustum
	row := func(r int) mgl32.Vec4 {
		return mgl32.Vec4{vp.At(r, 0), vp.At(r, 1), vp.At(r, 2), vp.At(r, 3)}
	}
	w := row(3)
	planes[0] = w.Add(row(0))
	planes[1] = w.Sub(row(0))
	planes[2] = w.Add(row(1))
	planes[3] = w.Sub(row(1))
	// Near plane: z >= 0
	planes[4] = row(2)
	planes[5] = w.Sub(row(2))

	for i := 0; i < 6; i++ {
		length := float32(math.Sqrt(float64(planes[i][0]*planes[i][0] + planes[i][1]*planes[i][1] + planes[i][2]*planes[i][2])))
		if length > 0 {
			planes[i] = planes[i].Mul(1.0 / length)
		}
	}
	return planes
}

// Intersects reports whether the box is at least partially inside. The test is
// conservative near frustum corners.
func (f *Frustum) Intersects(aabb AABB) bool {
	for i := 0; i < 6; i++ {
		plane := f[i]
		// Positive vertex: the corner furthest along the plane normal.
		var p mgl32.Vec3
		for k := 0; k < 3; k++ {
			if plane[k] > 0 {
				p[k] = aabb.Max[k]
			} else {
				p[k] = aabb.Min[k]
			}
		}
		if plane[0]*p[0]+plane[1]*p[1]+plane[2]*p[2]+plane[3] < 0 {
			return false
		}
	}
	return true
}
