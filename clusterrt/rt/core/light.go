package core

import (
	"math"

	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

type Kind uint8

const (
	KindPoint Kind = iota
	KindSpot
)

func (k Kind) String() string {
	if k == KindSpot {
		return "spot"
	}
	return "point"
}

// SpotCone holds the cosines of the inner and outer cone half-angles.
type SpotCone struct {
	InnerCos float32
	OuterCos float32
}

// Light is a positional light owned by the scene. Spot lights point down the
// -Z axis of their world transform.
type Light struct {
	Kind  Kind
	Color mgl32.Vec3
	Range float32
	Cone  SpotCone

	cookie Cookie
}

func NewPointLight(color mgl32.Vec3, rng float32) *Light {
	return &Light{Kind: KindPoint, Color: color, Range: rng, cookie: NextCookie()}
}

// NewSpotLight takes cone half-angles in radians.
func NewSpotLight(color mgl32.Vec3, rng, inner, outer float32) *Light {
	l := &Light{Kind: KindSpot, Color: color, Range: rng, cookie: NextCookie()}
	l.SetCone(inner, outer)
	return l
}

func (l *Light) SetCone(inner, outer float32) {
	outer = mgl32.Clamp(outer, 0.001, math.Pi-0.001)
	inner = mgl32.Clamp(inner, 0, outer-0.001)
	l.Cone = SpotCone{
		InnerCos: float32(math.Cos(float64(inner))),
		OuterCos: float32(math.Cos(float64(outer))),
	}
}

func (l *Light) Cookie() Cookie { return l.cookie }

// Recreate gives the light a new identity, as if it had been destroyed and
// created again.
func (l *Light) Recreate() { l.cookie = NextCookie() }

func (l *Light) InvRadius() float32 {
	if l.Range <= 0 {
		return 0
	}
	return 1 / l.Range
}

// XYRange is the outer cone half-angle.
func (l *Light) XYRange() float32 {
	return float32(math.Acos(float64(mgl32.Clamp(l.Cone.OuterCos, -1, 1))))
}

// LocalAABB bounds the light volume in light space.
func (l *Light) LocalAABB() AABB {
	r := l.Range
	if l.Kind == KindPoint {
		return AABB{Min: mgl32.Vec3{-r, -r, -r}, Max: mgl32.Vec3{r, r, r}}
	}
	a := float64(l.XYRange())
	lateral := r
	if a < math.Pi/2 {
		lateral = r * float32(math.Sin(a))
	}
	back := max(0, -r*float32(math.Cos(a)))
	return AABB{Min: mgl32.Vec3{-lateral, -lateral, -r}, Max: mgl32.Vec3{lateral, lateral, back}}
}

func (l *Light) WorldAABB(world mgl32.Mat4) AABB {
	return l.LocalAABB().Transform(world)
}

// ShaderInfo holds the shader-ready parameters of an active light.
type ShaderInfo struct {
	Color     mgl32.Vec3
	SpotScale float32
	Position  mgl32.Vec3
	SpotBias  float32
	Direction mgl32.Vec3
	InvRadius float32

	// Cone terms of the outer half-angle, used by the cluster cone test.
	ConeCos float32
	ConeSin float32
}

func (l *Light) ShaderInfo(world mgl32.Mat4) ShaderInfo {
	info := ShaderInfo{
		Color:     l.Color,
		Position:  world.Col(3).Vec3(),
		Direction: world.Col(2).Vec3().Mul(-1),
		InvRadius: l.InvRadius(),
	}
	if info.Direction.Len() > 0 {
		info.Direction = info.Direction.Normalize()
	}
	if l.Kind == KindSpot {
		info.SpotScale = 1 / max(l.Cone.InnerCos-l.Cone.OuterCos, 0.001)
		info.SpotBias = -l.Cone.OuterCos * info.SpotScale
		a := float64(l.XYRange())
		info.ConeCos = float32(math.Cos(a))
		info.ConeSin = float32(math.Sin(a))
	}
	return info
}

func (s ShaderInfo) Radius() float32 {
	if s.InvRadius == 0 {
		return 0
	}
	return 1 / s.InvRadius
}

// AppendStd140 writes the 48 byte GPU layout of the light.
func (s ShaderInfo) AppendStd140(w *gpu.Std140) {
	w.Vec3Float(s.Color, s.SpotScale)
	w.Vec3Float(s.Position, s.SpotBias)
	w.Vec3Float(s.Direction, s.InvRadius)
}

// PointShadowTransform packs the depth terms of a cube shadow projection and
// the atlas cube index in Slice.X.
type PointShadowTransform struct {
	Transform mgl32.Vec4
	Slice     mgl32.Vec4
}

// ShadowBinding is the shadow state a shading pass needs for one active light:
// the atlas view and the light space transform. Spot lights use SpotTransform,
// point lights use PointTransform.
type ShadowBinding struct {
	Atlas          *gpu.ImageView
	SpotTransform  mgl32.Mat4
	PointTransform PointShadowTransform
}
