package deferred

import (
	"testing"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func camera() core.RenderParameters {
	return core.NewRenderParameters(
		core.Perspective(mgl32.DegToRad(90), 1, 0.1, 100),
		mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}),
		0.1, 100)
}

func pointAt(depth, radius float32) core.LightRef {
	l := core.NewPointLight(mgl32.Vec3{1, 1, 1}, radius)
	w := mgl32.Translate3D(0, 0, -depth)
	return core.LightRef{Light: l, World: w, Bounds: l.WorldAABB(w)}
}

// spread returns n lights with evenly spaced depths in [10, 50].
func spread(n int) []core.LightRef {
	out := make([]core.LightRef, n)
	for i := range out {
		out[i] = pointAt(10+40*float32(i)/float32(n-1), 0.5)
	}
	return out
}

func TestPartitionBalancesEvenlySpreadLights(t *testing.T) {
	params := camera()
	for _, n := range []int{7, 10, 14} {
		var bins Bins
		Partition(spread(n), &params, &bins)
		assert.Empty(t, bins.Clipped)
		assert.Equal(t, n, bins.Len())
		lo, hi := n/core.NumDepthBins, (n+core.NumDepthBins-1)/core.NumDepthBins
		for b, bin := range bins.Bins {
			assert.GreaterOrEqual(t, len(bin), lo, "n=%d bin %d", n, b)
			assert.LessOrEqual(t, len(bin), hi, "n=%d bin %d", n, b)
		}
		assert.InDelta(t, 10, bins.ZMin, 1e-3)
		assert.InDelta(t, 50, bins.ZMax, 1e-3)
	}
}

func TestPartitionClipsLightsCrossingClipPlanes(t *testing.T) {
	params := camera()
	tests := []struct {
		name    string
		light   core.LightRef
		clipped bool
	}{
		{"straddles near", pointAt(0.5, 1), true},
		{"contains the camera", pointAt(0, 3), true},
		{"straddles far", pointAt(99, 2), true},
		{"inside", pointAt(20, 2), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var bins Bins
			Partition([]core.LightRef{tt.light, pointAt(30, 1)}, &params, &bins)
			if tt.clipped {
				require.Len(t, bins.Clipped, 1)
				assert.Same(t, tt.light.Light, bins.Clipped[0].Light)
				assert.Equal(t, 1, bins.Len()-len(bins.Clipped))
			} else {
				assert.Empty(t, bins.Clipped)
				assert.Equal(t, 2, bins.Len())
			}
		})
	}
}

func TestPartitionSingleDepth(t *testing.T) {
	params := camera()
	var bins Bins
	Partition([]core.LightRef{pointAt(20, 1), pointAt(20, 2)}, &params, &bins)
	assert.Len(t, bins.Bins[0], 2)
}

func TestPartitionKeepsInputOrder(t *testing.T) {
	params := camera()
	a, b, c := pointAt(0.5, 1), pointAt(20, 1), pointAt(1, 2)
	var bins Bins
	Partition([]core.LightRef{a, b, c}, &params, &bins)
	require.Len(t, bins.Clipped, 2)
	assert.Same(t, a.Light, bins.Clipped[0].Light)
	assert.Same(t, c.Light, bins.Clipped[1].Light)
}

func TestStencilCullerReferences(t *testing.T) {
	params := camera()
	depth := core.NewHeadlessRenderer()
	lights := core.NewHeadlessRenderer()
	s := NewStencilCuller()
	s.SetEnabled(true)
	s.SetRenderers(depth, lights)
	s.Refresh(append(spread(7), pointAt(0.5, 1)), &params)

	cmd := gpu.NewCommandBuffer("lights")
	require.NoError(t, s.RenderPrepass(cmd, &params))
	require.Len(t, depth.Batches, core.NumDepthBins)
	for b, batch := range depth.Batches {
		bit := uint8(2 << b)
		assert.Equal(t, gpu.StencilReference{CompareMask: 0xff, WriteMask: bit, Reference: bit}, batch.Stencil)
		assert.Equal(t, prepassFlags, batch.Flags)
		assert.Len(t, batch.Items, 1)
	}

	require.NoError(t, s.RenderLights(cmd, &params, gpu.OptionShadowVSM))
	require.Len(t, lights.Batches, core.NumDepthBins+1)
	clipped := lights.Batches[0]
	assert.Equal(t, gpu.StencilReference{CompareMask: 1}, clipped.Stencil)
	assert.Len(t, clipped.Items, 1)
	for b, batch := range lights.Batches[1:] {
		bit := uint8(2 << b)
		assert.Equal(t, gpu.StencilReference{CompareMask: bit | 1, Reference: bit}, batch.Stencil)
		assert.Equal(t, gpu.FlagStencilCompareReference, batch.Flags)
		assert.Equal(t, gpu.OptionShadowVSM, batch.Options)
	}
}

func TestStencilCullerDisabledDrawsEverything(t *testing.T) {
	params := camera()
	depth := core.NewHeadlessRenderer()
	lights := core.NewHeadlessRenderer()
	s := NewStencilCuller()
	s.SetRenderers(depth, lights)
	s.Refresh(spread(10), &params)

	cmd := gpu.NewCommandBuffer("lights")
	require.NoError(t, s.RenderPrepass(cmd, &params))
	assert.Empty(t, depth.Batches)
	require.NoError(t, s.RenderLights(cmd, &params, 0))
	require.Len(t, lights.Batches, 1)
	assert.Len(t, lights.Batches[0].Items, 10)
	assert.Equal(t, gpu.RenderFlags(0), lights.Batches[0].Flags)
}

func TestStencilCullerWithoutRenderers(t *testing.T) {
	params := camera()
	s := NewStencilCuller()
	s.SetEnabled(true)
	assert.ErrorIs(t, s.RenderPrepass(gpu.NewCommandBuffer("x"), &params), ErrNoRenderer)
	assert.ErrorIs(t, s.RenderLights(gpu.NewCommandBuffer("x"), &params, 0), ErrNoRenderer)
}
