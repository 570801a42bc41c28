package lightset

import (
	"testing"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource []core.LightRef

func (s sliceSource) ForEachLight(fn func(ref core.LightRef)) {
	for _, r := range s {
		fn(r)
	}
}

func refAt(l *core.Light, pos mgl32.Vec3) core.LightRef {
	world := mgl32.Translate3D(pos[0], pos[1], pos[2])
	return core.LightRef{Light: l, World: world, Bounds: l.WorldAABB(world)}
}

func frustum() core.Frustum {
	params := core.NewRenderParameters(
		core.Perspective(mgl32.DegToRad(90), 1, 0.1, 100),
		mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}),
		0.1, 100)
	return params.Frustum()
}

func TestBuildCapsPointLightsInIterationOrder(t *testing.T) {
	lights := []*core.Light{
		core.NewPointLight(mgl32.Vec3{1, 0, 0}, 1),
		core.NewPointLight(mgl32.Vec3{0, 1, 0}, 1),
		core.NewPointLight(mgl32.Vec3{0, 0, 1}, 1),
	}
	src := sliceSource{
		refAt(lights[0], mgl32.Vec3{0, 0, -30}),
		refAt(lights[1], mgl32.Vec3{0, 0, -5}),
		refAt(lights[2], mgl32.Vec3{0, 0, -10}),
	}
	f := frustum()
	b := NewBuilder(4, 2)
	frame := b.Build(src, &f)

	require.Equal(t, 2, frame.Points.Len())
	assert.Equal(t, lights[0].Cookie(), frame.Points.Cookie(0))
	assert.Equal(t, lights[1].Cookie(), frame.Points.Cookie(1))
	assert.Equal(t, 1, frame.DroppedPoints)
	assert.Equal(t, 0, frame.Spots.Len())

	_, ok := frame.Lookup(lights[2].Cookie())
	assert.False(t, ok, "dropped light must not be reachable")

	h, ok := frame.Lookup(lights[1].Cookie())
	require.True(t, ok)
	assert.Equal(t, Handle{Kind: core.KindPoint, Index: 1}, h)
	assert.Equal(t, core.MaskOf(2), frame.Points.Mask())
}

func TestBuildCullsAndSplitsKinds(t *testing.T) {
	spot := core.NewSpotLight(mgl32.Vec3{1, 1, 1}, 5, 0.1, 0.3)
	point := core.NewPointLight(mgl32.Vec3{1, 1, 1}, 2)
	behind := core.NewPointLight(mgl32.Vec3{1, 1, 1}, 2)
	src := sliceSource{
		refAt(behind, mgl32.Vec3{0, 0, 20}),
		refAt(spot, mgl32.Vec3{0, 0, -8}),
		refAt(point, mgl32.Vec3{1, 0, -8}),
	}
	f := frustum()
	frame := NewBuilder(core.MaxLights, core.MaxLights).Build(src, &f)

	require.Equal(t, 1, frame.Spots.Len())
	require.Equal(t, 1, frame.Points.Len())
	assert.Equal(t, spot.Cookie(), frame.Spots.Cookie(0))
	assert.Equal(t, point.Cookie(), frame.Points.Cookie(0))
	assert.InDelta(t, 0.2, frame.Spots.Info()[0].InvRadius, 1e-6)
}

func TestBuildClearsShadowBindings(t *testing.T) {
	point := core.NewPointLight(mgl32.Vec3{1, 1, 1}, 2)
	src := sliceSource{refAt(point, mgl32.Vec3{0, 0, -8})}
	f := frustum()
	b := NewBuilder(2, 2)

	frame := b.Build(src, &f)
	frame.BindShadow(core.KindPoint, 0, core.ShadowBinding{PointTransform: core.PointShadowTransform{Slice: mgl32.Vec4{3}}})
	require.NotNil(t, frame.ShadowByCookie(point.Cookie()))
	assert.Equal(t, float32(3), frame.Shadow(core.KindPoint, 0).PointTransform.Slice[0])

	frame = b.Build(src, &f)
	assert.Nil(t, frame.Shadow(core.KindPoint, 0))
	assert.Nil(t, frame.ShadowByCookie(point.Cookie()))
}

func TestActiveLightsLimit(t *testing.T) {
	a := NewActiveLights(core.MaxLights + 10)
	assert.Equal(t, core.MaxLights, a.Limit())

	l := core.NewPointLight(mgl32.Vec3{1, 1, 1}, 1)
	for i := 0; i < core.MaxLights; i++ {
		require.True(t, a.Push(refAt(l, mgl32.Vec3{})))
	}
	assert.False(t, a.Push(refAt(l, mgl32.Vec3{})))
	assert.Equal(t, core.AllLights, a.Mask())

	a.Reset(-1)
	assert.Equal(t, 0, a.Limit())
	assert.False(t, a.Push(refAt(l, mgl32.Vec3{})))
}
