package gpu

import "fmt"

// Format is the texel format of an image.
type Format uint8

const (
	FormatUndefined Format = iota
	FormatD16Unorm
	FormatD32Float
	FormatRG32Float
	FormatRG32Uint
	FormatRGBA32Uint
	FormatRGBA8Unorm
)

func (f Format) String() string {
	switch f {
	case FormatD16Unorm:
		return "D16Unorm"
	case FormatD32Float:
		return "D32Float"
	case FormatRG32Float:
		return "RG32Float"
	case FormatRG32Uint:
		return "RG32Uint"
	case FormatRGBA32Uint:
		return "RGBA32Uint"
	case FormatRGBA8Unorm:
		return "RGBA8Unorm"
	}
	return "Undefined"
}

func (f Format) IsDepth() bool {
	return f == FormatD16Unorm || f == FormatD32Float
}

// BytesPerTexel returns the size of a single texel, or 0 when unknown.
func (f Format) BytesPerTexel() uint32 {
	switch f {
	case FormatD16Unorm:
		return 2
	case FormatD32Float, FormatRGBA8Unorm:
		return 4
	case FormatRG32Float, FormatRG32Uint:
		return 8
	case FormatRGBA32Uint:
		return 16
	}
	return 0
}

// Layout tracks how an image subresource is currently being used.
type Layout uint8

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutShaderReadOnly
	LayoutTransferDst
)

func (l Layout) String() string {
	return [...]string{"Undefined", "General", "ColorAttachment", "DepthAttachment", "ShaderReadOnly", "TransferDst"}[l]
}

type Stage uint32

const (
	StageTopOfPipe Stage = 1 << iota
	StageTransfer
	StageCompute
	StageEarlyFragmentTests
	StageLateFragmentTests
	StageFragmentShader
	StageColorOutput
)

type Access uint32

const (
	AccessNone              Access = 0
	AccessShaderRead        Access = 1 << 0
	AccessShaderWrite       Access = 1 << 1
	AccessColorRead         Access = 1 << 2
	AccessColorWrite        Access = 1 << 3
	AccessDepthStencilRead  Access = 1 << 4
	AccessDepthStencilWrite Access = 1 << 5
	AccessTransferWrite     Access = 1 << 6
	AccessHostWrite         Access = 1 << 7
)

type Usage uint32

const (
	UsageSampled Usage = 1 << iota
	UsageStorage
	UsageColorAttachment
	UsageDepthAttachment
	UsageTransferSrc
	UsageTransferDst
)

type BufferUsage uint32

const (
	BufferStorage BufferUsage = 1 << iota
	BufferUniform
	BufferTransferDst
)

type ImageDimension uint8

const (
	Dimension2D ImageDimension = iota
	Dimension3D
)

type ViewDimension uint8

const (
	View2D ViewDimension = iota
	View2DArray
	ViewCube
	ViewCubeArray
	View3D
)

// ImageDesc describes an image allocation.
type ImageDesc struct {
	Label     string
	Width     uint32
	Height    uint32
	Depth     uint32
	Layers    uint32
	Format    Format
	Usage     Usage
	Dimension ImageDimension

	// CubeCompatible allows cube and cube-array views over groups of six layers.
	CubeCompatible bool
	InitialLayout  Layout
}

func (d ImageDesc) normalized() ImageDesc {
	if d.Depth == 0 {
		d.Depth = 1
	}
	if d.Layers == 0 {
		d.Layers = 1
	}
	return d
}

func (d ImageDesc) validate() error {
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("image %q: zero extent %dx%d", d.Label, d.Width, d.Height)
	}
	if d.Format == FormatUndefined {
		return fmt.Errorf("image %q: undefined format", d.Label)
	}
	if d.CubeCompatible && d.Layers%6 != 0 {
		return fmt.Errorf("image %q: cube compatible image needs a multiple of 6 layers, got %d", d.Label, d.Layers)
	}
	return nil
}

type Image struct {
	Desc ImageDesc
	id   uint64
	view *ImageView

	native any
}

func (i *Image) ID() uint64 { return i.id }

// View returns the default view covering every layer of the image.
func (i *Image) View() *ImageView { return i.view }

func (i *Image) Width() uint32  { return i.Desc.Width }
func (i *Image) Height() uint32 { return i.Desc.Height }

type ViewDesc struct {
	Label     string
	BaseLayer uint32
	Layers    uint32
	Dimension ViewDimension
}

type ImageView struct {
	Image *Image
	Desc  ViewDesc

	native any
}

type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

type Buffer struct {
	Desc BufferDesc
	id   uint64

	native any
}

func (b *Buffer) ID() uint64   { return b.id }
func (b *Buffer) Size() uint64 { return b.Desc.Size }

// Rect is a pixel rectangle inside a render target.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// ViewportFor returns a full depth range viewport matching r.
func ViewportFor(r Rect) Viewport {
	return Viewport{X: float32(r.X), Y: float32(r.Y), Width: float32(r.Width), Height: float32(r.Height), MaxDepth: 1}
}

type StockSampler uint8

const (
	SamplerNone StockSampler = iota
	SamplerLinearClamp
	SamplerNearestWrap
)

// Program names a pipeline by shader names. Vertex is empty for compute programs.
type Program struct {
	Vertex string
	Shader string
	Entry  string
}

func ComputeProgram(shader, entry string) Program {
	return Program{Shader: shader, Entry: entry}
}

func QuadProgram(fragment string) Program {
	return Program{Vertex: "quad", Shader: fragment, Entry: "fs_main"}
}

func (p Program) IsCompute() bool { return p.Vertex == "" }

func (p Program) String() string {
	if p.IsCompute() {
		return p.Shader + ":" + p.Entry
	}
	return p.Vertex + "+" + p.Shader + ":" + p.Entry
}
