package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

func NewAABB(min, max mgl32.Vec3) AABB {
	return AABB{Min: min, Max: max}
}

func (a AABB) Center() mgl32.Vec3 {
	return a.Min.Add(a.Max).Mul(0.5)
}

func (a AABB) Extent() mgl32.Vec3 {
	return a.Max.Sub(a.Min).Mul(0.5)
}

func (a AABB) Corner(i int) mgl32.Vec3 {
	c := a.Min
	if i&1 != 0 {
		c[0] = a.Max[0]
	}
	if i&2 != 0 {
		c[1] = a.Max[1]
	}
	if i&4 != 0 {
		c[2] = a.Max[2]
	}
	return c
}

// Transform returns the world box enclosing the eight transformed corners.
func (a AABB) Transform(m mgl32.Mat4) AABB {
	inf := float32(math.Inf(1))
	out := AABB{Min: mgl32.Vec3{inf, inf, inf}, Max: mgl32.Vec3{-inf, -inf, -inf}}
	for i := 0; i < 8; i++ {
		p := mgl32.TransformCoordinate(a.Corner(i), m)
		for k := 0; k < 3; k++ {
			out.Min[k] = min(out.Min[k], p[k])
			out.Max[k] = max(out.Max[k], p[k])
		}
	}
	return out
}

func (a AABB) Contains(p mgl32.Vec3) bool {
	for k := 0; k < 3; k++ {
		if p[k] < a.Min[k] || p[k] > a.Max[k] {
			return false
		}
	}
	return true
}

// DepthRange returns the extent of the box along a unit direction measured
// from origin.
func (a AABB) DepthRange(origin, dir mgl32.Vec3) (float32, float32) {
	c := a.Center().Sub(origin).Dot(dir)
	e := a.Extent()
	r := e[0]*abs32(dir[0]) + e[1]*abs32(dir[1]) + e[2]*abs32(dir[2])
	return c - r, c + r
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
