package atlas

import (
	"testing"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/gekko3d/lightcluster/clusterrt/rt/lightset"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lights []core.LightRef

func (l lights) ForEachLight(fn func(ref core.LightRef)) {
	for _, r := range l {
		fn(r)
	}
}

func buildFrame(t *testing.T, b *lightset.Builder, src lights) *lightset.Frame {
	t.Helper()
	params := core.NewRenderParameters(
		core.Perspective(mgl32.DegToRad(90), 1, 0.1, 100),
		mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}),
		0.1, 100)
	f := params.Frustum()
	return b.Build(src, &f)
}

func spotAt(z float32) core.LightRef {
	l := core.NewSpotLight(mgl32.Vec3{1, 1, 1}, 4, 0.2, 0.5)
	w := mgl32.Translate3D(0, 0, z)
	return core.LightRef{Light: l, World: w, Bounds: l.WorldAABB(w)}
}

func TestCachePlanLifecycle(t *testing.T) {
	dev := gpu.NewHeadlessDevice()
	cache := NewCache(64, false)
	b := lightset.NewBuilder(4, 4)
	src := lights{spotAt(-5), spotAt(-10)}

	frame := buildFrame(t, b, src)
	plan := cache.PlanSpots(frame, false)
	assert.True(t, plan.Create)
	assert.Equal(t, core.AllLights, plan.Dirty)
	assert.False(t, plan.Partial())
	assert.Nil(t, frame.Shadow(core.KindSpot, 0), "no binding without an atlas")

	cmd := dev.RequestCommandBuffer("atlas")
	require.NoError(t, cache.Spot.Create(dev, cmd))
	require.NoError(t, dev.Submit(cmd))
	assert.Equal(t, uint32(64*SpotColumns), cache.Spot.Image().Width())
	assert.Equal(t, []gpu.Layout{gpu.LayoutDepthAttachment}, dev.LayerLayouts(cache.Spot.Image()))

	frame = buildFrame(t, b, src)
	plan = cache.PlanSpots(frame, false)
	assert.True(t, plan.Skip())
	assert.False(t, plan.Create)
	require.NotNil(t, frame.Shadow(core.KindSpot, 1))
	assert.Same(t, cache.Spot.View(), frame.Shadow(core.KindSpot, 1).Atlas)

	frame = buildFrame(t, b, src)
	assert.Equal(t, core.AllLights, cache.PlanSpots(frame, true).Dirty)

	cache.Reset()
	assert.False(t, cache.Spot.Exists())
	frame = buildFrame(t, b, src)
	plan = cache.PlanSpots(frame, false)
	assert.True(t, plan.Create)
	assert.Nil(t, frame.Shadow(core.KindSpot, 0))
}

func TestPointAtlasCreation(t *testing.T) {
	dev := gpu.NewHeadlessDevice()
	cache := NewCache(32, true)
	cmd := dev.RequestCommandBuffer("atlas")
	require.NoError(t, cache.Point.Create(dev, cmd))

	img := cache.Point.Image()
	assert.Equal(t, uint32(6*core.MaxLights), img.Desc.Layers)
	assert.True(t, img.Desc.CubeCompatible)
	assert.Equal(t, gpu.FormatRG32Float, img.Desc.Format)
	assert.Equal(t, uint32(7), cache.Point.LayerView(7).Desc.BaseLayer)
	assert.Equal(t, 0, len(cmd.Commands()), "point atlas creation records nothing")
}

func TestVSMSpotAtlasIsClearedOnCreate(t *testing.T) {
	dev := gpu.NewHeadlessDevice()
	cache := NewCache(32, true)
	cmd := dev.RequestCommandBuffer("atlas")
	require.NoError(t, cache.Spot.Create(dev, cmd))
	require.NoError(t, dev.Submit(cmd))

	assert.Equal(t, 2, cmd.Count(gpu.CmdImageBarrier))
	assert.Equal(t, 1, cmd.Count(gpu.CmdClearImage))
	assert.Equal(t, []gpu.Layout{gpu.LayoutColorAttachment}, dev.LayerLayouts(cache.Spot.Image()))
}

func TestConfigureReleasesMismatchedAtlas(t *testing.T) {
	dev := gpu.NewHeadlessDevice()
	cache := NewCache(32, false)
	require.NoError(t, cache.Point.Create(dev, dev.RequestCommandBuffer("atlas")))
	require.Equal(t, 1, dev.LiveImages())

	assert.False(t, cache.Configure(dev, 32, false))
	assert.True(t, cache.Configure(dev, 64, false))
	assert.False(t, cache.Point.Exists())
	assert.Equal(t, 0, dev.LiveImages())
	assert.Equal(t, uint32(64), cache.Point.Resolution)
}

func TestSpotRegionAndTransform(t *testing.T) {
	assert.Equal(t, gpu.Rect{X: 3 * 128, Y: 2 * 128, Width: 128, Height: 128}, SpotRegion(19, 128))

	proj := core.Perspective(1, 1, 0.1, 10)
	view := mgl32.Ident4()
	m := SpotAtlasTransform(19, proj, view)

	// The cone axis lands in the middle of cell (3, 2).
	p := m.Mul4x1(mgl32.Vec4{0, 0, -5, 1})
	uv := mgl32.Vec2{p[0] / p[3], p[1] / p[3]}
	assert.InDelta(t, (3+0.5)/8.0, uv[0], 1e-5)
	assert.InDelta(t, (2+0.5)/4.0, uv[1], 1e-5)
}

func TestPointTransformPacksDepthTerms(t *testing.T) {
	proj, _ := core.CubeRenderTransform(mgl32.Vec3{}, 0, 0.05, 10)
	pt := PointTransform(proj, 5)
	assert.Equal(t, float32(5), pt.Slice[0])

	// z_clip / w_clip for a view depth d is (T.x * -d + T.z) / (T.y * -d + T.w).
	d := float32(4)
	clip := proj.Mul4x1(mgl32.Vec4{0, 0, -d, 1})
	got := (pt.Transform[0]*-d + pt.Transform[2]) / (pt.Transform[1]*-d + pt.Transform[3])
	assert.InDelta(t, clip[2]/clip[3], got, 1e-5)
}
