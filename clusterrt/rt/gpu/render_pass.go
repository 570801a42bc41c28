package gpu

// RenderFlags select fixed-function state for a renderer flush.
type RenderFlags uint32

const (
	FlagNoColor RenderFlags = 1 << iota
	FlagBackface
	FlagDepthStencilReadOnly
	FlagStencilWriteReference
	FlagStencilCompareReference
	FlagDepthBias
	FlagFrontFaceClockwise
)

func (f RenderFlags) Has(flag RenderFlags) bool { return f&flag != 0 }

// RenderOptions select shader variants for a renderer.
type RenderOptions uint32

const (
	OptionShadowVSM RenderOptions = 1 << iota
)

// StencilReference mirrors the dynamic stencil state of a draw.
type StencilReference struct {
	CompareMask uint8
	WriteMask   uint8
	Reference   uint8
}

type LoadOp uint8

const (
	LoadDontCare LoadOp = iota
	LoadClear
	LoadLoad
)

type ColorAttachment struct {
	View  *ImageView
	Load  LoadOp
	Store bool
	Clear [4]float32
}

type DepthAttachment struct {
	View       *ImageView
	Load       LoadOp
	Store      bool
	ClearDepth float32
	ReadOnly   bool
}

// RenderPassInfo describes the targets of a render pass. A zero Area covers the
// whole first attachment.
type RenderPassInfo struct {
	Label string
	Color []ColorAttachment
	Depth *DepthAttachment
	Area  Rect
}

// Extent returns the size of the first attachment.
func (info RenderPassInfo) Extent() (uint32, uint32) {
	var v *ImageView
	if len(info.Color) > 0 {
		v = info.Color[0].View
	} else if info.Depth != nil {
		v = info.Depth.View
	}
	if v == nil || v.Image == nil {
		return 0, 0
	}
	return v.Image.Desc.Width, v.Image.Desc.Height
}

// RenderArea resolves a zero Area to the full attachment extent.
func (info RenderPassInfo) RenderArea() Rect {
	if info.Area.Width != 0 && info.Area.Height != 0 {
		return info.Area
	}
	w, h := info.Extent()
	return Rect{Width: w, Height: h}
}

// ImageBarrier transitions a layer range of an image.
type ImageBarrier struct {
	Image     *Image
	BaseLayer uint32
	Layers    uint32
	OldLayout Layout
	NewLayout Layout
	SrcStage  Stage
	SrcAccess Access
	DstStage  Stage
	DstAccess Access
}

// WholeImage returns a barrier covering every layer of img.
func WholeImage(img *Image, oldLayout, newLayout Layout, srcStage Stage, srcAccess Access, dstStage Stage, dstAccess Access) ImageBarrier {
	return ImageBarrier{
		Image:     img,
		Layers:    img.Desc.Layers,
		OldLayout: oldLayout,
		NewLayout: newLayout,
		SrcStage:  srcStage,
		SrcAccess: srcAccess,
		DstStage:  dstStage,
		DstAccess: dstAccess,
	}
}
