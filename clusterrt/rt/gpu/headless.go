package gpu

import (
	"fmt"
	"sync"
)

// HeadlessDevice executes command buffers without a physical adapter. It keeps
// buffer contents and per-layer image layouts so callers can inspect what a
// frame produced.
type HeadlessDevice struct {
	mu sync.Mutex

	nextID   uint64
	images   map[uint64]*Image
	layouts  map[uint64][]Layout
	buffers  map[uint64][]byte
	released map[uint64]bool

	Submitted []*CommandBuffer

	// FailNext makes the next allocation or submission return the error.
	FailNext error
}

var _ Device = (*HeadlessDevice)(nil)

func NewHeadlessDevice() *HeadlessDevice {
	return &HeadlessDevice{
		images:   make(map[uint64]*Image),
		layouts:  make(map[uint64][]Layout),
		buffers:  make(map[uint64][]byte),
		released: make(map[uint64]bool),
	}
}

func (d *HeadlessDevice) takeFailure() error {
	err := d.FailNext
	d.FailNext = nil
	return err
}

func (d *HeadlessDevice) CreateImage(desc ImageDesc) (*Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	desc = desc.normalized()
	if err := desc.validate(); err != nil {
		return nil, err
	}
	d.nextID++
	img := &Image{Desc: desc, id: d.nextID}
	img.view = &ImageView{Image: img, Desc: defaultViewDesc(desc)}
	d.images[img.id] = img
	layers := make([]Layout, desc.Layers)
	for i := range layers {
		layers[i] = desc.InitialLayout
	}
	d.layouts[img.id] = layers
	return img, nil
}

func (d *HeadlessDevice) CreateImageView(img *Image, desc ViewDesc) (*ImageView, error) {
	if img == nil {
		return nil, fmt.Errorf("create view %q: nil image", desc.Label)
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.BaseLayer+desc.Layers > img.Desc.Layers {
		return nil, fmt.Errorf("create view %q: layers [%d,%d) out of range for %d layers",
			desc.Label, desc.BaseLayer, desc.BaseLayer+desc.Layers, img.Desc.Layers)
	}
	return &ImageView{Image: img, Desc: desc}, nil
}

func (d *HeadlessDevice) CreateBuffer(desc BufferDesc, data []byte) (*Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	if desc.Size < uint64(len(data)) {
		desc.Size = uint64(len(data))
	}
	d.nextID++
	buf := &Buffer{Desc: desc, id: d.nextID}
	contents := make([]byte, desc.Size)
	copy(contents, data)
	d.buffers[buf.id] = contents
	return buf, nil
}

func (d *HeadlessDevice) ReleaseImage(img *Image) {
	if img == nil {
		return
	}
	d.mu.Lock()
	delete(d.images, img.id)
	delete(d.layouts, img.id)
	d.released[img.id] = true
	d.mu.Unlock()
}

func (d *HeadlessDevice) ReleaseBuffer(buf *Buffer) {
	if buf == nil {
		return
	}
	d.mu.Lock()
	delete(d.buffers, buf.id)
	d.released[buf.id] = true
	d.mu.Unlock()
}

func (d *HeadlessDevice) RequestCommandBuffer(label string) *CommandBuffer {
	return NewCommandBuffer(label)
}

func (d *HeadlessDevice) Submit(cmd *CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return err
	}
	if err := validateCommands(cmd, func(id uint64) bool { return d.released[id] }); err != nil {
		return fmt.Errorf("submit %q: %w", cmd.Label, err)
	}
	for _, c := range cmd.cmds {
		if c.Kind != CmdImageBarrier || c.Barrier.Image == nil {
			continue
		}
		b := c.Barrier
		layers := d.layouts[b.Image.id]
		end := b.BaseLayer + b.Layers
		if end > uint32(len(layers)) {
			return fmt.Errorf("submit %q: barrier layers [%d,%d) out of range: %w", cmd.Label, b.BaseLayer, end, ErrLayoutMismatch)
		}
		for l := b.BaseLayer; l < end; l++ {
			if b.OldLayout != LayoutUndefined && layers[l] != b.OldLayout {
				return fmt.Errorf("submit %q: %s layer %d is %s, barrier expects %s: %w",
					cmd.Label, b.Image.Desc.Label, l, layers[l], b.OldLayout, ErrLayoutMismatch)
			}
			layers[l] = b.NewLayout
		}
	}
	for _, c := range cmd.cmds {
		if c.Kind == CmdExecute && c.Fn != nil {
			if err := c.Fn(nil); err != nil {
				return fmt.Errorf("submit %q: %s: %w", cmd.Label, c.Label, err)
			}
		}
	}
	d.Submitted = append(d.Submitted, cmd)
	return nil
}

// BufferData returns a copy of the buffer contents.
func (d *HeadlessDevice) BufferData(buf *Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	src := d.buffers[buf.id]
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// LayerLayouts returns the tracked layout of every layer of img.
func (d *HeadlessDevice) LayerLayouts(img *Image) []Layout {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Layout, len(d.layouts[img.id]))
	copy(out, d.layouts[img.id])
	return out
}

// LiveImages returns the number of images that have not been released.
func (d *HeadlessDevice) LiveImages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.images)
}

// ResetSubmissions forgets previously submitted command buffers.
func (d *HeadlessDevice) ResetSubmissions() {
	d.mu.Lock()
	d.Submitted = nil
	d.mu.Unlock()
}
