package gpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cubeArray(t *testing.T, d *HeadlessDevice) *Image {
	t.Helper()
	img, err := d.CreateImage(ImageDesc{
		Label:          "cubes",
		Width:          16,
		Height:         16,
		Layers:         12,
		Format:         FormatD16Unorm,
		CubeCompatible: true,
	})
	require.NoError(t, err)
	return img
}

func TestCreateImageDefaults(t *testing.T) {
	d := NewHeadlessDevice()
	tests := []struct {
		name string
		desc ImageDesc
		dim  ViewDimension
	}{
		{"2d", ImageDesc{Width: 4, Height: 4, Format: FormatRGBA8Unorm}, View2D},
		{"array", ImageDesc{Width: 4, Height: 4, Layers: 3, Format: FormatRG32Float}, View2DArray},
		{"cube", ImageDesc{Width: 4, Height: 4, Layers: 6, Format: FormatD16Unorm, CubeCompatible: true}, ViewCube},
		{"cube array", ImageDesc{Width: 4, Height: 4, Layers: 12, Format: FormatD16Unorm, CubeCompatible: true}, ViewCubeArray},
		{"3d", ImageDesc{Width: 4, Height: 4, Depth: 8, Format: FormatRGBA32Uint, Dimension: Dimension3D}, View3D},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := d.CreateImage(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.dim, img.View().Desc.Dimension)
			assert.NotZero(t, img.Desc.Depth)
			assert.NotZero(t, img.Desc.Layers)
		})
	}
}

func TestCreateImageRejectsInvalid(t *testing.T) {
	d := NewHeadlessDevice()
	tests := []ImageDesc{
		{Width: 0, Height: 4, Format: FormatD16Unorm},
		{Width: 4, Height: 4},
		{Width: 4, Height: 4, Layers: 4, Format: FormatD16Unorm, CubeCompatible: true},
	}
	for _, desc := range tests {
		_, err := d.CreateImage(desc)
		assert.Error(t, err)
	}
	assert.Zero(t, d.LiveImages())
}

func TestFailNextIsConsumedOnce(t *testing.T) {
	d := NewHeadlessDevice()
	d.FailNext = ErrOutOfMemory
	_, err := d.CreateBuffer(BufferDesc{Size: 4}, nil)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	_, err = d.CreateBuffer(BufferDesc{Size: 4}, nil)
	assert.NoError(t, err)
}

func TestSubmitTracksLayerLayouts(t *testing.T) {
	d := NewHeadlessDevice()
	img := cubeArray(t, d)

	cmd := d.RequestCommandBuffer("cube")
	cmd.ImageBarrier(ImageBarrier{Image: img, BaseLayer: 6, Layers: 6,
		OldLayout: LayoutUndefined, NewLayout: LayoutDepthAttachment})
	require.NoError(t, d.Submit(cmd))

	layouts := d.LayerLayouts(img)
	for l, layout := range layouts {
		if l >= 6 {
			assert.Equal(t, LayoutDepthAttachment, layout, "layer %d", l)
		} else {
			assert.Equal(t, LayoutUndefined, layout, "layer %d", l)
		}
	}

	bad := d.RequestCommandBuffer("bad")
	bad.ImageBarrier(WholeImage(img, LayoutDepthAttachment, LayoutShaderReadOnly, 0, 0, 0, 0))
	assert.ErrorIs(t, d.Submit(bad), ErrLayoutMismatch)

	outOfRange := d.RequestCommandBuffer("range")
	outOfRange.ImageBarrier(ImageBarrier{Image: img, BaseLayer: 10, Layers: 6, NewLayout: LayoutGeneral})
	assert.ErrorIs(t, d.Submit(outOfRange), ErrLayoutMismatch)
}

func TestSubmitValidatesStructure(t *testing.T) {
	d := NewHeadlessDevice()
	released, err := d.CreateImage(ImageDesc{Width: 4, Height: 4, Format: FormatRGBA8Unorm})
	require.NoError(t, err)
	d.ReleaseImage(released)

	tests := []struct {
		name   string
		record func(c *CommandBuffer)
		err    error
	}{
		{"open pass", func(c *CommandBuffer) { c.BeginRenderPass(RenderPassInfo{}) }, ErrUnbalancedPass},
		{"nested pass", func(c *CommandBuffer) {
			c.BeginRenderPass(RenderPassInfo{})
			c.BeginRenderPass(RenderPassInfo{})
		}, ErrUnbalancedPass},
		{"stray end", func(c *CommandBuffer) { c.EndRenderPass() }, ErrUnbalancedPass},
		{"dispatch without program", func(c *CommandBuffer) { c.Dispatch(1, 1, 1) }, ErrDispatchNoProgram},
		{"dispatch with quad program", func(c *CommandBuffer) {
			c.SetProgram(QuadProgram("vsm_down_blur"))
			c.Dispatch(1, 1, 1)
		}, ErrDispatchNoProgram},
		{"released image", func(c *CommandBuffer) { c.ClearImage(released, [4]float32{}) }, ErrReleasedResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := d.RequestCommandBuffer(tt.name)
			tt.record(cmd)
			assert.ErrorIs(t, d.Submit(cmd), tt.err)
		})
	}
	assert.Empty(t, d.Submitted)
}

func TestSubmitRunsExecuteCallbacks(t *testing.T) {
	d := NewHeadlessDevice()
	cmd := d.RequestCommandBuffer("draw")
	calls := 0
	cmd.BeginRenderPass(RenderPassInfo{})
	cmd.Execute("flush", func(native any) error {
		assert.Nil(t, native)
		calls++
		return nil
	})
	cmd.EndRenderPass()
	cmd.SetProgram(ComputeProgram("clustering", "cull_main"))
	cmd.Dispatch(2, 2, 2)
	require.NoError(t, d.Submit(cmd))
	assert.Equal(t, 1, calls)
	require.Len(t, d.Submitted, 1)
	assert.Equal(t, 1, d.Submitted[0].Count(CmdDispatch))
}

func TestBufferData(t *testing.T) {
	d := NewHeadlessDevice()
	buf, err := d.CreateBuffer(BufferDesc{Size: 8}, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, d.BufferData(buf))

	grown, err := d.CreateBuffer(BufferDesc{}, []byte{9, 9})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), grown.Size())
}

func TestStd140Alignment(t *testing.T) {
	w := &Std140{}
	w.Uint(7).Vec4(mgl32.Vec4{1, 2, 3, 4}).Float(0.5).Pad(16)
	b := w.Bytes()
	require.Len(t, b, 48)
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(b[16:])))
	assert.Equal(t, float32(0.5), math.Float32frombits(binary.LittleEndian.Uint32(b[32:])))
}

func TestRenderArea(t *testing.T) {
	d := NewHeadlessDevice()
	img, err := d.CreateImage(ImageDesc{Width: 64, Height: 32, Format: FormatD16Unorm})
	require.NoError(t, err)
	info := RenderPassInfo{Depth: &DepthAttachment{View: img.View()}}
	assert.Equal(t, Rect{Width: 64, Height: 32}, info.RenderArea())
	info.Area = Rect{X: 8, Y: 8, Width: 16, Height: 16}
	assert.Equal(t, info.Area, info.RenderArea())
}
