package gpu

import "errors"

var (
	ErrDeviceLost        = errors.New("gpu: device lost")
	ErrOutOfMemory       = errors.New("gpu: out of device memory")
	ErrUnknownProgram    = errors.New("gpu: unknown program")
	ErrUnbalancedPass    = errors.New("gpu: unbalanced render pass")
	ErrReleasedResource  = errors.New("gpu: use of released resource")
	ErrDispatchNoProgram = errors.New("gpu: dispatch without a compute program")
	ErrLayoutMismatch    = errors.New("gpu: image barrier from a layout the image is not in")
)

// Device allocates resources and executes recorded command buffers. All methods
// are called from the frame thread.
type Device interface {
	CreateImage(desc ImageDesc) (*Image, error)
	CreateImageView(img *Image, desc ViewDesc) (*ImageView, error)
	CreateBuffer(desc BufferDesc, data []byte) (*Buffer, error)
	ReleaseImage(img *Image)
	ReleaseBuffer(buf *Buffer)

	RequestCommandBuffer(label string) *CommandBuffer
	Submit(cmd *CommandBuffer) error
}

// CreateLayerViews creates one 2D view per array layer of img.
func CreateLayerViews(dev Device, img *Image, label string) ([]*ImageView, error) {
	views := make([]*ImageView, img.Desc.Layers)
	for i := range views {
		v, err := dev.CreateImageView(img, ViewDesc{
			Label:     label,
			BaseLayer: uint32(i),
			Layers:    1,
			Dimension: View2D,
		})
		if err != nil {
			return nil, err
		}
		views[i] = v
	}
	return views, nil
}

func defaultViewDesc(desc ImageDesc) ViewDesc {
	v := ViewDesc{Label: desc.Label, Layers: desc.Layers}
	switch {
	case desc.Dimension == Dimension3D:
		v.Dimension = View3D
	case desc.CubeCompatible && desc.Layers == 6:
		v.Dimension = ViewCube
	case desc.CubeCompatible:
		v.Dimension = ViewCubeArray
	case desc.Layers > 1:
		v.Dimension = View2DArray
	default:
		v.Dimension = View2D
	}
	return v
}

// validateCommands checks structural rules shared by every backend.
func validateCommands(cmd *CommandBuffer, released func(id uint64) bool) error {
	depth := 0
	compute := false
	for _, c := range cmd.cmds {
		switch c.Kind {
		case CmdBeginRenderPass:
			depth++
			if depth > 1 {
				return ErrUnbalancedPass
			}
		case CmdEndRenderPass:
			depth--
			if depth < 0 {
				return ErrUnbalancedPass
			}
		case CmdSetProgram:
			compute = c.Program.IsCompute()
		case CmdDispatch:
			if !compute || depth != 0 {
				return ErrDispatchNoProgram
			}
		case CmdImageBarrier:
			if c.Barrier.Image != nil && released(c.Barrier.Image.id) {
				return ErrReleasedResource
			}
		case CmdClearImage:
			if c.Image != nil && released(c.Image.id) {
				return ErrReleasedResource
			}
		}
	}
	if depth != 0 {
		return ErrUnbalancedPass
	}
	return nil
}
