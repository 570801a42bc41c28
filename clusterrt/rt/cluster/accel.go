package cluster

import (
	"math"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// Transform maps world space into cluster space. The view space box spanned by
// the far plane is fitted to x, y in [-1, 1] and z in [0, 1], then scaled so
// the outermost cascade ends at the far plane. With no active lights every
// point collapses onto the origin.
func Transform(params *core.RenderParameters, anyLights bool) mgl32.Mat4 {
	if !anyLights {
		return mgl32.Scale3D(0, 0, 0)
	}

	project := func(v mgl32.Vec4) mgl32.Vec3 {
		return v.Vec3().Mul(1 / v[3])
	}
	inv := params.InvProjection
	corners := [4]mgl32.Vec3{
		project(inv.Mul4x1(mgl32.Vec4{-1, -1, 1, 1})),
		project(inv.Mul4x1(mgl32.Vec4{-1, +1, 1, 1})),
		project(inv.Mul4x1(mgl32.Vec4{+1, -1, 1, 1})),
		project(inv.Mul4x1(mgl32.Vec4{+1, +1, 1, 1})),
	}
	lo, hi := corners[0], corners[0]
	for _, c := range corners[1:] {
		for k := range 3 {
			lo[k] = min(lo[k], c[k])
			hi[k] = max(hi[k], c[k])
		}
	}
	// Keep the near end of the box on the camera.
	hi[2] = 0

	s := float32(int(1) << (core.ClusterHierarchies - 1))
	return mgl32.Scale3D(s, s, s).Mul4(core.OrthoBox(core.NewAABB(lo, hi))).Mul4(params.View)
}

// Masks holds one light set per kind.
type Masks struct {
	Spot  core.LightMask
	Point core.LightMask
}

func (m Masks) Empty() bool { return m.Spot == 0 && m.Point == 0 }

type spotCull struct {
	position  mgl32.Vec3
	direction mgl32.Vec3
	size      float32
	cos, sin  float32
}

type pointCull struct {
	position mgl32.Vec3
	size     float32
}

// AccelState is the light culling data shared by every cell of one build.
type AccelState struct {
	InverseTransform mgl32.Mat4
	InvRes           mgl32.Vec3
	// Radius is the world space bounding radius of one base cell.
	Radius float32

	spots  []spotCull
	points []pointCull
}

func NewAccelState(transform mgl32.Mat4, resX, resY, resZ int, spots, points []core.ShaderInfo) *AccelState {
	s := &AccelState{
		InverseTransform: transform.Inv(),
		InvRes:           mgl32.Vec3{1 / float32(resX), 1 / float32(resY), 1 / float32(resZ)},
		spots:            make([]spotCull, len(spots)),
		points:           make([]pointCull, len(points)),
	}
	step := mgl32.Vec3{2 * s.InvRes[0], 2 * s.InvRes[1], 0.5 * s.InvRes[2]}
	s.Radius = 0.5 * s.InverseTransform.Mat3().Mul3x1(step).Len()

	for i, info := range spots {
		s.spots[i] = spotCull{
			position:  info.Position,
			direction: info.Direction,
			size:      info.Radius(),
			cos:       info.ConeCos,
			sin:       info.ConeSin,
		}
	}
	for i, info := range points {
		s.points[i] = pointCull{position: info.Position, size: info.Radius()}
	}
	return s
}

// All has a bit for every light of the build.
func (s *AccelState) All() Masks {
	return Masks{Spot: core.MaskOf(len(s.spots)), Point: core.MaskOf(len(s.points))}
}

// Cascade holds the light independent scale terms of one cascade. Cascade 0 is
// the base grid over the near half of the box, cascade k covers 2^(k-1) times
// the base extent.
type Cascade struct {
	Index      int
	WorldScale float32
	ZBias      float32
	CubeRadius float32
}

func (s *AccelState) Cascade(slice int) Cascade {
	c := Cascade{Index: slice, WorldScale: 1}
	if slice > 0 {
		c.WorldScale = float32(math.Exp2(float64(slice - 1)))
		c.ZBias = 0.5
	}
	c.CubeRadius = s.Radius * c.WorldScale
	return c
}

// CellCenter returns the world space center of the block of scale x scale x
// scale cells whose first cell is (x, y, z).
func (s *AccelState) CellCenter(x, y, z int, c Cascade, scale float32) mgl32.Vec3 {
	half := 0.5 * scale
	v := mgl32.Vec3{
		2*(float32(x)+half)*s.InvRes[0] - 1,
		2*(float32(y)+half)*s.InvRes[1] - 1,
		0.5*(float32(z)+half)*s.InvRes[2] + c.ZBias,
	}
	v = v.Mul(c.WorldScale)
	return s.InverseTransform.Mul4x1(v.Vec4(1)).Vec3()
}

// CellMasks tests the lights in pre against the bounding sphere of a block of
// cells and returns the ones that may touch it.
func (s *AccelState) CellMasks(x, y, z int, c Cascade, scale float32, pre Masks) Masks {
	var out Masks
	center := s.CellCenter(x, y, z, c, scale)
	r := c.CubeRadius * scale

	pre.Spot.ForEach(func(i int) {
		l := &s.spots[i]
		// Sphere against cone, Wronski's "Cull that cone".
		v := center.Sub(l.position)
		vSq := v.Dot(v)
		v1 := v.Dot(l.direction)
		if v1 > r+l.size || -v1 > r {
			return
		}
		v2 := float32(math.Sqrt(float64(max(vSq-v1*v1, 0))))
		if l.cos*v2-l.sin*v1 > r {
			return
		}
		out.Spot = out.Spot.Set(i)
	})

	pre.Point.ForEach(func(i int) {
		l := &s.points[i]
		d := center.Sub(l.position)
		cutoff := l.size + r
		if d.Dot(d) <= cutoff*cutoff {
			out.Point = out.Point.Set(i)
		}
	})
	return out
}
