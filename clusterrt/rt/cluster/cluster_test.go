package cluster

import (
	"math"
	"testing"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/gekko3d/lightcluster/clusterrt/rt/graph"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const res = 8

func camera() core.RenderParameters {
	return core.NewRenderParameters(
		core.Perspective(mgl32.DegToRad(90), 1, 0.1, 100),
		mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}),
		0.1, 100)
}

func pointAt(p mgl32.Vec3, r float32) core.ShaderInfo {
	return core.NewPointLight(mgl32.Vec3{1, 1, 1}, r).ShaderInfo(mgl32.Translate3D(p[0], p[1], p[2]))
}

func TestTransformWithoutLightsCollapses(t *testing.T) {
	params := camera()
	assert.Equal(t, mgl32.Scale3D(0, 0, 0), Transform(&params, false))
}

func TestTransformSpansFarPlane(t *testing.T) {
	params := camera()
	m := Transform(&params, true)
	top := float32(1 << (core.ClusterHierarchies - 1))

	eye := m.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 0, eye[2], 1e-3)

	far := m.Mul4x1(mgl32.Vec4{100, 100, -100, 1})
	assert.InDelta(t, top, far[0], 0.05)
	assert.InDelta(t, top, far[1], 0.05)
	assert.InDelta(t, top, far[2], 0.05)
}

func TestCascadeScales(t *testing.T) {
	s := NewAccelState(mgl32.Ident4(), res, res, res, nil, nil)
	tests := []struct {
		slice int
		scale float32
		bias  float32
	}{
		{0, 1, 0},
		{1, 1, 0.5},
		{2, 2, 0.5},
		{8, 128, 0.5},
	}
	for _, tt := range tests {
		c := s.Cascade(tt.slice)
		assert.Equal(t, tt.scale, c.WorldScale, "slice %d", tt.slice)
		assert.Equal(t, tt.bias, c.ZBias, "slice %d", tt.slice)
		assert.InDelta(t, s.Radius*tt.scale, c.CubeRadius, 1e-6)
	}
}

func TestSpotConeTest(t *testing.T) {
	s := NewAccelState(mgl32.Ident4(), res, res, res, nil, nil)
	c := s.Cascade(0)
	center := s.CellCenter(4, 4, 4, c, 1)
	from := center.Add(mgl32.Vec3{0, 0, 5})

	toward := core.NewSpotLight(mgl32.Vec3{1, 1, 1}, 10, 0.3, 0.5)
	tests := []struct {
		name  string
		world mgl32.Mat4
		hit   bool
	}{
		{"facing the cell", mgl32.Translate3D(from[0], from[1], from[2]), true},
		{"facing away", mgl32.Translate3D(from[0], from[1], from[2]).Mul4(mgl32.HomogRotate3DY(math.Pi)), false},
		{"cell off axis", mgl32.Translate3D(from[0]+4, from[1], from[2]), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewAccelState(mgl32.Ident4(), res, res, res, []core.ShaderInfo{toward.ShaderInfo(tt.world)}, nil)
			m := state.CellMasks(4, 4, 4, c, 1, state.All())
			assert.Equal(t, tt.hit, m.Spot.Has(0))
		})
	}
}

func TestCPUBuildRoundTrip(t *testing.T) {
	params := camera()
	transform := Transform(&params, true)
	accel := NewAccelState(transform, res, res, res, nil, nil)
	center := accel.CellCenter(4, 3, 2, accel.Cascade(0), 1)
	light := pointAt(center, 0.01)

	b := NewCPUBuilder(4)
	defer b.Close()
	grid := b.Build(transform, res, res, res, ModeDense, nil, []core.ShaderInfo{light})
	assert.True(t, grid.Lookup(4, 3, 2, 0).Point.Has(0), "light at the cell center")

	for cascade := 0; cascade <= core.ClusterHierarchies; cascade++ {
		c := accel.Cascade(cascade)
		for z := 0; z < res; z++ {
			for y := 0; y < res; y++ {
				for x := 0; x < res; x++ {
					d := accel.CellCenter(x, y, z, c, 1).Sub(center).Len()
					if d-c.CubeRadius-light.Radius() > 1e-3 {
						require.False(t, grid.Lookup(x, y, z, cascade).Point.Has(0), "cell %d,%d,%d cascade %d", x, y, z, cascade)
					}
				}
			}
		}
	}
}

func scatter() (spots, points []core.ShaderInfo) {
	for i := range 6 {
		f := float32(i)
		points = append(points, pointAt(mgl32.Vec3{f - 3, 0.5 * f, -2 - 4*f}, 1+0.5*f))
		spot := core.NewSpotLight(mgl32.Vec3{1, 1, 1}, 6, 0.2, 0.6)
		spots = append(spots, spot.ShaderInfo(mgl32.Translate3D(3-f, -0.5*f, -1-3*f)))
	}
	return spots, points
}

func TestListModeMatchesDense(t *testing.T) {
	params := camera()
	transform := Transform(&params, true)
	spots, points := scatter()

	b := NewCPUBuilder(3)
	defer b.Close()
	dense := b.Build(transform, res, res, res, ModeDense, spots, points)
	want := make([]Masks, 0, len(dense.Cells))
	for cascade := 0; cascade <= core.ClusterHierarchies; cascade++ {
		for z := 0; z < res; z++ {
			for y := 0; y < res; y++ {
				for x := 0; x < res; x++ {
					want = append(want, dense.Lookup(x, y, z, cascade))
				}
			}
		}
	}

	list := b.Build(transform, res, res, res, ModeList, spots, points)
	require.NotEmpty(t, list.List)
	i := 0
	for cascade := 0; cascade <= core.ClusterHierarchies; cascade++ {
		for z := 0; z < res; z++ {
			for y := 0; y < res; y++ {
				for x := 0; x < res; x++ {
					require.Equal(t, want[i], list.Lookup(x, y, z, cascade), "cell %d,%d,%d cascade %d", x, y, z, cascade)
					i++
				}
			}
		}
	}
}

func TestCPUBuildIsIdempotent(t *testing.T) {
	params := camera()
	transform := Transform(&params, true)
	spots, points := scatter()

	b := NewCPUBuilder(4)
	defer b.Close()
	first := b.Build(transform, res, res, res, ModeDense, spots, points).Bytes()
	second := b.Build(transform, res, res, res, ModeDense, spots, points).Bytes()
	assert.Equal(t, first, second)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"default", Options{ResX: 64, ResY: 32, ResZ: 16}, true},
		{"odd width", Options{ResX: 62, ResY: 32, ResZ: 16}, false},
		{"depth not a power of two", Options{ResX: 64, ResY: 32, ResZ: 12}, false},
		{"zero", Options{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrResolution)
			}
		})
	}
}

func TestBuilderCPUPassUploadsGrid(t *testing.T) {
	dev := gpu.NewHeadlessDevice()
	g := graph.New()
	b := NewBuilder(dev, Options{ResX: res, ResY: res, ResZ: res, ListMode: true, Workers: 2})
	defer b.Close()
	require.NoError(t, b.RegisterPasses(g))
	require.NoError(t, g.Bake(dev))
	assert.Equal(t, gpu.FormatRGBA32Uint, b.ClusterImage().Image.Desc.Format)
	assert.Nil(t, b.PrepassImage())

	params := camera()
	b.Update(&params, nil, nil)
	require.NoError(t, g.Execute(dev))

	require.Len(t, dev.Submitted, 1)
	dispatch := dev.Submitted[0].Filter(gpu.CmdDispatch)
	require.Len(t, dispatch, 1)
	assert.Equal(t, [3]uint32{1, 1, res * (core.ClusterHierarchies + 1)}, dispatch[0].Groups)
	require.NotNil(t, b.ListBuffer(), "list mode always binds a list")
	assert.Equal(t, uint64(16), b.ListBuffer().Size())

	spots, points := scatter()
	b.Update(&params, spots, points)
	require.NoError(t, g.Execute(dev))
	assert.Equal(t, b.Grid().ListBytes(), dev.BufferData(b.ListBuffer()))

	b.SetEnabled(false)
	dev.ResetSubmissions()
	require.NoError(t, g.Execute(dev))
	assert.Empty(t, dev.Submitted)
}

func TestBuilderGPUPassRecordsBothLevels(t *testing.T) {
	dev := gpu.NewHeadlessDevice()
	g := graph.New()
	b := NewBuilder(dev, Options{ResX: res, ResY: res, ResZ: res})
	require.NoError(t, b.RegisterPasses(g))
	require.NoError(t, g.Bake(dev))
	require.NotNil(t, b.PrepassImage())
	assert.Equal(t, uint32(res/4), b.PrepassImage().Image.Desc.Width)
	assert.Equal(t, gpu.FormatRG32Uint, b.ClusterImage().Image.Desc.Format)

	params := camera()
	spots, points := scatter()
	b.Update(&params, spots, points)
	require.NoError(t, g.Execute(dev))

	cmd := dev.Submitted[0]
	dispatch := cmd.Filter(gpu.CmdDispatch)
	require.Len(t, dispatch, 2)
	assert.Equal(t, [3]uint32{1, 1, 9}, dispatch[0].Groups)
	assert.Equal(t, [3]uint32{2, 2, 18}, dispatch[1].Groups)

	programs := cmd.Filter(gpu.CmdSetProgram)
	assert.Equal(t, CullProgram, programs[0].Program)
	assert.Equal(t, InheritProgram, programs[1].Program)

	barriers := cmd.Filter(gpu.CmdImageBarrier)
	last := barriers[len(barriers)-1].Barrier
	assert.Same(t, b.PrepassImage().Image, last.Image)
	assert.Equal(t, gpu.AccessShaderRead, last.DstAccess)

	sizes := map[uint32]int{0: core.MaxLights * 48, 1: core.MaxLights * 48, 2: core.MaxLights * 16}
	for _, c := range cmd.Filter(gpu.CmdSetConstantData) {
		assert.Len(t, c.Data, sizes[c.Binding], "binding %d", c.Binding)
	}
	push := cmd.Filter(gpu.CmdPushConstants)
	assert.Len(t, push[0].Data, 128)
	assert.Nil(t, b.Grid())
}

func TestSwitchToCPUReleasesPrepassImage(t *testing.T) {
	dev := gpu.NewHeadlessDevice()
	g := graph.New()
	b := NewBuilder(dev, Options{ResX: res, ResY: res, ResZ: res})
	defer b.Close()
	require.NoError(t, b.RegisterPasses(g))
	require.NoError(t, g.Bake(dev))
	require.Equal(t, 2, dev.LiveImages())

	b.SetOptions(Options{ResX: res, ResY: res, ResZ: res, ForceCPU: true})
	require.NoError(t, b.RegisterPasses(g))
	require.NoError(t, g.Bake(dev))
	assert.Equal(t, 1, dev.LiveImages())
	prepass, ok := g.Resource(PrepassName)
	require.True(t, ok)
	assert.Nil(t, prepass.Image())
}
