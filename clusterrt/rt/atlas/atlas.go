package atlas

import (
	"fmt"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// The spot atlas is a grid of SpotColumns x SpotRows square slots.
const (
	SpotColumns = 8
	SpotRows    = 4
)

// Atlas is one persistent shadow image. Point atlases hold a cube of six layers
// per slot, spot atlases hold one grid cell per slot in a single layer.
type Atlas struct {
	Kind       core.Kind
	Resolution uint32
	VSM        bool

	image  *gpu.Image
	layers []*gpu.ImageView
}

func New(kind core.Kind, resolution uint32, vsm bool) *Atlas {
	return &Atlas{Kind: kind, Resolution: resolution, VSM: vsm}
}

func (a *Atlas) Format() gpu.Format {
	if a.VSM {
		return gpu.FormatRG32Float
	}
	return gpu.FormatD16Unorm
}

// AttachmentLayout is the layout slots are rendered in.
func (a *Atlas) AttachmentLayout() gpu.Layout {
	if a.VSM {
		return gpu.LayoutColorAttachment
	}
	return gpu.LayoutDepthAttachment
}

func (a *Atlas) AttachmentStages() gpu.Stage {
	if a.VSM {
		return gpu.StageColorOutput
	}
	return gpu.StageEarlyFragmentTests | gpu.StageLateFragmentTests
}

func (a *Atlas) AttachmentAccess() gpu.Access {
	if a.VSM {
		return gpu.AccessColorWrite | gpu.AccessColorRead
	}
	return gpu.AccessDepthStencilWrite | gpu.AccessDepthStencilRead
}

// WriteStage and WriteAccess describe the last write into a rendered slot.
func (a *Atlas) WriteStage() gpu.Stage {
	if a.VSM {
		return gpu.StageColorOutput
	}
	return gpu.StageLateFragmentTests
}

func (a *Atlas) WriteAccess() gpu.Access {
	if a.VSM {
		return gpu.AccessColorWrite
	}
	return gpu.AccessDepthStencilWrite
}

func (a *Atlas) Exists() bool { return a.image != nil }

func (a *Atlas) Image() *gpu.Image { return a.image }

// View returns the view shading samples: a cube array for points, the whole
// grid for spots. It is nil until the atlas exists.
func (a *Atlas) View() *gpu.ImageView {
	if a.image == nil {
		return nil
	}
	return a.image.View()
}

// LayerView returns the render target view of one point atlas layer.
func (a *Atlas) LayerView(layer uint32) *gpu.ImageView {
	return a.layers[layer]
}

func (a *Atlas) desc() gpu.ImageDesc {
	desc := gpu.ImageDesc{
		Format:        a.Format(),
		Usage:         gpu.UsageSampled,
		InitialLayout: a.AttachmentLayout(),
	}
	if a.VSM {
		desc.Usage |= gpu.UsageColorAttachment
	} else {
		desc.Usage |= gpu.UsageDepthAttachment
	}
	switch a.Kind {
	case core.KindPoint:
		desc.Label = "shadow-atlas-point"
		desc.Width, desc.Height = a.Resolution, a.Resolution
		desc.Layers = 6 * core.MaxLights
		desc.CubeCompatible = true
	case core.KindSpot:
		desc.Label = "shadow-atlas-spot"
		desc.Width, desc.Height = a.Resolution*SpotColumns, a.Resolution*SpotRows
		if a.VSM {
			desc.Usage |= gpu.UsageTransferDst
			desc.InitialLayout = gpu.LayoutUndefined
		}
	}
	return desc
}

// Create allocates the atlas. A new VSM spot atlas is cleared through cmd so
// unrendered cells never filter against garbage.
func (a *Atlas) Create(dev gpu.Device, cmd *gpu.CommandBuffer) error {
	img, err := dev.CreateImage(a.desc())
	if err != nil {
		return fmt.Errorf("create %s shadow atlas: %w", a.Kind, err)
	}
	if a.Kind == core.KindPoint {
		layers, err := gpu.CreateLayerViews(dev, img, img.Desc.Label)
		if err != nil {
			dev.ReleaseImage(img)
			return fmt.Errorf("create %s shadow atlas views: %w", a.Kind, err)
		}
		a.layers = layers
	}
	a.image = img

	if a.Kind == core.KindSpot && a.VSM {
		cmd.ImageBarrier(gpu.WholeImage(img, gpu.LayoutUndefined, gpu.LayoutTransferDst,
			gpu.StageTopOfPipe, gpu.AccessNone, gpu.StageTransfer, gpu.AccessTransferWrite))
		cmd.ClearImage(img, [4]float32{})
		cmd.ImageBarrier(gpu.WholeImage(img, gpu.LayoutTransferDst, gpu.LayoutColorAttachment,
			gpu.StageTransfer, gpu.AccessTransferWrite, gpu.StageColorOutput, gpu.AccessColorWrite))
	}
	return nil
}

// Release frees the atlas image.
func (a *Atlas) Release(dev gpu.Device) {
	if a.image != nil {
		dev.ReleaseImage(a.image)
	}
	a.Reset()
}

// Reset forgets the atlas without touching the device, for use after the
// device is gone.
func (a *Atlas) Reset() {
	a.image = nil
	a.layers = nil
}

// SpotRegion is the pixel rectangle of a spot atlas slot.
func SpotRegion(slot, resolution uint32) gpu.Rect {
	return gpu.Rect{
		X:      int32(resolution * (slot % SpotColumns)),
		Y:      int32(resolution * (slot / SpotColumns)),
		Width:  resolution,
		Height: resolution,
	}
}

// SpotAtlasTransform maps world space into the atlas texture coordinates of a
// spot slot.
func SpotAtlasTransform(slot uint32, proj, view mgl32.Mat4) mgl32.Mat4 {
	cell := mgl32.Translate3D(float32(slot%SpotColumns)/SpotColumns, float32(slot/SpotColumns)/SpotRows, 0).
		Mul4(mgl32.Scale3D(1.0/SpotColumns, 1.0/SpotRows, 1))
	// Clip space y points up, texture v points down.
	bias := mgl32.Translate3D(0.5, 0.5, 0).Mul4(mgl32.Scale3D(0.5, -0.5, 1))
	return cell.Mul4(bias).Mul4(proj).Mul4(view)
}

// PointTransform packs the depth terms of a cube face projection together
// with the cube index of the slot.
func PointTransform(proj mgl32.Mat4, slot uint32) core.PointShadowTransform {
	return core.PointShadowTransform{
		Transform: mgl32.Vec4{proj.At(2, 2), proj.At(3, 2), proj.At(2, 3), proj.At(3, 3)},
		Slice:     mgl32.Vec4{float32(slot), 0, 0, 0},
	}
}
