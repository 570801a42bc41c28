package gpu

import (
	"fmt"
	"sort"

	"github.com/cogentcore/webgpu/wgpu"
)

// PushConstantGroup is the bind group WGSL programs read push constants from.
// WebGPU has no push constants, so the replay uploads them as a uniform block.
const PushConstantGroup = 3

// ShaderSource resolves WGSL source by shader name.
type ShaderSource interface {
	Source(name string) (string, error)
}

type graphicsKey struct {
	program Program
	color   Format
	depth   Format
}

// WGPUDevice replays recorded command buffers on a WebGPU device. Image barriers
// are dropped because WebGPU tracks resource usage itself.
type WGPUDevice struct {
	Device  *wgpu.Device
	Queue   *wgpu.Queue
	Shaders ShaderSource

	nextID   uint64
	released map[uint64]bool
	modules  map[string]*wgpu.ShaderModule
	compute  map[Program]*wgpu.ComputePipeline
	graphics map[graphicsKey]*wgpu.RenderPipeline
}

var _ Device = (*WGPUDevice)(nil)

func NewWGPUDevice(device *wgpu.Device, shaders ShaderSource) *WGPUDevice {
	return &WGPUDevice{
		Device:   device,
		Queue:    device.GetQueue(),
		Shaders:  shaders,
		released: make(map[uint64]bool),
		modules:  make(map[string]*wgpu.ShaderModule),
		compute:  make(map[Program]*wgpu.ComputePipeline),
		graphics: make(map[graphicsKey]*wgpu.RenderPipeline),
	}
}

func textureFormat(f Format) wgpu.TextureFormat {
	switch f {
	case FormatD16Unorm:
		return wgpu.TextureFormatDepth16Unorm
	case FormatD32Float:
		return wgpu.TextureFormatDepth32Float
	case FormatRG32Float:
		return wgpu.TextureFormatRG32Float
	case FormatRG32Uint:
		return wgpu.TextureFormatRG32Uint
	case FormatRGBA32Uint:
		return wgpu.TextureFormatRGBA32Uint
	case FormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm
	}
	return wgpu.TextureFormatUndefined
}

func textureUsage(u Usage) wgpu.TextureUsage {
	var out wgpu.TextureUsage
	if u&UsageSampled != 0 {
		out |= wgpu.TextureUsageTextureBinding
	}
	if u&UsageStorage != 0 {
		out |= wgpu.TextureUsageStorageBinding
	}
	if u&(UsageColorAttachment|UsageDepthAttachment) != 0 {
		out |= wgpu.TextureUsageRenderAttachment
	}
	if u&UsageTransferSrc != 0 {
		out |= wgpu.TextureUsageCopySrc
	}
	if u&UsageTransferDst != 0 {
		out |= wgpu.TextureUsageCopyDst
	}
	return out
}

func viewDimension(v ViewDimension) wgpu.TextureViewDimension {
	switch v {
	case View2DArray:
		return wgpu.TextureViewDimension2DArray
	case ViewCube:
		return wgpu.TextureViewDimensionCube
	case ViewCubeArray:
		return wgpu.TextureViewDimensionCubeArray
	case View3D:
		return wgpu.TextureViewDimension3D
	}
	return wgpu.TextureViewDimension2D
}

func (d *WGPUDevice) CreateImage(desc ImageDesc) (*Image, error) {
	desc = desc.normalized()
	if err := desc.validate(); err != nil {
		return nil, err
	}
	size := wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: desc.Layers}
	dim := wgpu.TextureDimension2D
	if desc.Dimension == Dimension3D {
		size.DepthOrArrayLayers = desc.Depth
		dim = wgpu.TextureDimension3D
	}
	tex, err := d.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     dim,
		Format:        textureFormat(desc.Format),
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", desc.Label, err)
	}
	d.nextID++
	img := &Image{Desc: desc, id: d.nextID, native: tex}
	view, err := d.CreateImageView(img, defaultViewDesc(desc))
	if err != nil {
		tex.Release()
		return nil, err
	}
	img.view = view
	return img, nil
}

func (d *WGPUDevice) CreateImageView(img *Image, desc ViewDesc) (*ImageView, error) {
	tex, ok := img.native.(*wgpu.Texture)
	if !ok || d.released[img.id] {
		return nil, fmt.Errorf("create view %q: %w", desc.Label, ErrReleasedResource)
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	layers := desc.Layers
	if desc.Dimension == View3D {
		layers = 1
	}
	native, err := tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          textureFormat(img.Desc.Format),
		Dimension:       viewDimension(desc.Dimension),
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  desc.BaseLayer,
		ArrayLayerCount: layers,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		return nil, fmt.Errorf("create view %q: %w", desc.Label, err)
	}
	return &ImageView{Image: img, Desc: desc, native: native}, nil
}

func (d *WGPUDevice) CreateBuffer(desc BufferDesc, data []byte) (*Buffer, error) {
	usage := wgpu.BufferUsageCopyDst
	if desc.Usage&BufferStorage != 0 {
		usage |= wgpu.BufferUsageStorage
	}
	if desc.Usage&BufferUniform != 0 {
		usage |= wgpu.BufferUsageUniform
	}
	if desc.Size < uint64(len(data)) {
		desc.Size = uint64(len(data))
	}
	desc.Size = (desc.Size + 3) &^ 3
	native, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}
	if len(data) > 0 {
		padded := make([]byte, (len(data)+3)&^3)
		copy(padded, data)
		d.Queue.WriteBuffer(native, 0, padded)
	}
	d.nextID++
	return &Buffer{Desc: desc, id: d.nextID, native: native}, nil
}

func (d *WGPUDevice) ReleaseImage(img *Image) {
	if img == nil || d.released[img.id] {
		return
	}
	d.released[img.id] = true
	if img.view != nil {
		if v, ok := img.view.native.(*wgpu.TextureView); ok {
			v.Release()
		}
	}
	if tex, ok := img.native.(*wgpu.Texture); ok {
		tex.Release()
	}
}

func (d *WGPUDevice) ReleaseBuffer(buf *Buffer) {
	if buf == nil || d.released[buf.id] {
		return
	}
	d.released[buf.id] = true
	if b, ok := buf.native.(*wgpu.Buffer); ok {
		b.Release()
	}
}

func (d *WGPUDevice) RequestCommandBuffer(label string) *CommandBuffer {
	return NewCommandBuffer(label)
}

func (d *WGPUDevice) Submit(cmd *CommandBuffer) error {
	if err := validateCommands(cmd, func(id uint64) bool { return d.released[id] }); err != nil {
		return fmt.Errorf("submit %q: %w", cmd.Label, err)
	}
	encoder, err := d.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: cmd.Label})
	if err != nil {
		return fmt.Errorf("submit %q: %w", cmd.Label, err)
	}
	r := &replay{dev: d, encoder: encoder}
	defer r.release()
	for i, c := range cmd.cmds {
		if err := r.apply(c); err != nil {
			return fmt.Errorf("submit %q: command %d: %w", cmd.Label, i, err)
		}
	}
	native, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("submit %q: %w", cmd.Label, err)
	}
	d.Queue.Submit(native)
	return nil
}

func (d *WGPUDevice) module(name string) (*wgpu.ShaderModule, error) {
	if m, ok := d.modules[name]; ok {
		return m, nil
	}
	if d.Shaders == nil {
		return nil, fmt.Errorf("%w: %s (no shader source)", ErrUnknownProgram, name)
	}
	src, err := d.Shaders.Source(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownProgram, name, err)
	}
	m, err := d.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: src},
	})
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	d.modules[name] = m
	return m, nil
}

func (d *WGPUDevice) computePipeline(p Program) (*wgpu.ComputePipeline, error) {
	if pl, ok := d.compute[p]; ok {
		return pl, nil
	}
	mod, err := d.module(p.Shader)
	if err != nil {
		return nil, err
	}
	pl, err := d.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: p.String(),
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     mod,
			EntryPoint: p.Entry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", p, err)
	}
	d.compute[p] = pl
	return pl, nil
}

func (d *WGPUDevice) graphicsPipeline(key graphicsKey) (*wgpu.RenderPipeline, error) {
	if pl, ok := d.graphics[key]; ok {
		return pl, nil
	}
	vs, err := d.module(key.program.Vertex)
	if err != nil {
		return nil, err
	}
	desc := &wgpu.RenderPipelineDescriptor{
		Label: key.program.String(),
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: "vs_main",
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if key.program.Shader != "" {
		fs, err := d.module(key.program.Shader)
		if err != nil {
			return nil, err
		}
		desc.Fragment = &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: key.program.Entry,
			Targets: []wgpu.ColorTargetState{{
				Format:    textureFormat(key.color),
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		}
	} else {
		desc.Vertex.EntryPoint = key.program.Entry
	}
	if key.depth != FormatUndefined {
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:            textureFormat(key.depth),
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionAlways,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		}
	}
	pl, err := d.Device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", key.program, err)
	}
	d.graphics[key] = pl
	return pl, nil
}

// depthClearProgram writes depth 1.0 over the scissor rectangle. WebGPU clears
// whole attachments, so partial render areas are cleared with a draw.
var depthClearProgram = Program{Vertex: "quad", Entry: "vs_depth_one"}

type bindGroupSource interface {
	GetBindGroupLayout(groupIndex uint32) *wgpu.BindGroupLayout
}

type replay struct {
	dev     *WGPUDevice
	encoder *wgpu.CommandEncoder

	pass     *wgpu.RenderPassEncoder
	passInfo RenderPassInfo

	program  Program
	bindings map[uint32]map[uint32]wgpu.BindGroupEntry
	push     []byte

	buffers []*wgpu.Buffer
	views   []*wgpu.TextureView
	groups  []*wgpu.BindGroup
}

func (r *replay) release() {
	for _, g := range r.groups {
		g.Release()
	}
	for _, v := range r.views {
		v.Release()
	}
	for _, b := range r.buffers {
		b.Release()
	}
}

func (r *replay) bind(set uint32, entry wgpu.BindGroupEntry) {
	if r.bindings == nil {
		r.bindings = make(map[uint32]map[uint32]wgpu.BindGroupEntry)
	}
	if r.bindings[set] == nil {
		r.bindings[set] = make(map[uint32]wgpu.BindGroupEntry)
	}
	r.bindings[set][entry.Binding] = entry
}

func (r *replay) uniform(label string, data []byte) (*wgpu.Buffer, error) {
	padded := make([]byte, (len(data)+15)&^15)
	copy(padded, data)
	buf, err := r.dev.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: padded,
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	r.buffers = append(r.buffers, buf)
	return buf, nil
}

// bindGroups builds one bind group per set up to the highest bound set.
func (r *replay) bindGroups(src bindGroupSource, set func(uint32, *wgpu.BindGroup)) error {
	if r.push != nil {
		buf, err := r.uniform("push-constants", r.push)
		if err != nil {
			return err
		}
		r.bind(PushConstantGroup, wgpu.BindGroupEntry{Binding: 0, Buffer: buf, Size: buf.GetSize()})
	}
	maxSet := -1
	for s := range r.bindings {
		if int(s) > maxSet {
			maxSet = int(s)
		}
	}
	for s := 0; s <= maxSet; s++ {
		entries := make([]wgpu.BindGroupEntry, 0, len(r.bindings[uint32(s)]))
		for _, e := range r.bindings[uint32(s)] {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })
		bg, err := r.dev.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s set %d", r.program, s),
			Layout:  src.GetBindGroupLayout(uint32(s)),
			Entries: entries,
		})
		if err != nil {
			return err
		}
		r.groups = append(r.groups, bg)
		set(uint32(s), bg)
	}
	return nil
}

func nativeView(v *ImageView) (*wgpu.TextureView, error) {
	if v == nil {
		return nil, fmt.Errorf("nil image view")
	}
	tv, ok := v.native.(*wgpu.TextureView)
	if !ok {
		return nil, fmt.Errorf("view %q: %w", v.Desc.Label, ErrReleasedResource)
	}
	return tv, nil
}

func loadOp(op LoadOp) wgpu.LoadOp {
	if op == LoadClear {
		return wgpu.LoadOpClear
	}
	return wgpu.LoadOpLoad
}

func storeOp(store bool) wgpu.StoreOp {
	if store {
		return wgpu.StoreOpStore
	}
	return wgpu.StoreOpDiscard
}

func (r *replay) apply(c Command) error {
	switch c.Kind {
	case CmdImageBarrier, CmdBarrier:
		return nil
	case CmdClearImage:
		return r.clearImage(c.Image, c.Color)
	case CmdBeginRenderPass:
		return r.beginRenderPass(c.Pass)
	case CmdEndRenderPass:
		err := r.pass.End()
		r.pass = nil
		return err
	case CmdSetViewport:
		r.pass.SetViewport(c.Viewport.X, c.Viewport.Y, c.Viewport.Width, c.Viewport.Height, c.Viewport.MinDepth, c.Viewport.MaxDepth)
	case CmdSetScissor:
		r.pass.SetScissorRect(uint32(c.Scissor.X), uint32(c.Scissor.Y), c.Scissor.Width, c.Scissor.Height)
	case CmdSetProgram:
		r.program = c.Program
		r.bindings = nil
		r.push = nil
	case CmdSetTexture, CmdSetStorageTexture:
		// WGSL programs fetch texels with textureLoad, so no sampler is bound.
		tv, err := nativeView(c.View)
		if err != nil {
			return err
		}
		r.bind(c.Set, wgpu.BindGroupEntry{Binding: c.Binding, TextureView: tv})
	case CmdSetStorageBuffer:
		b, ok := c.Buffer.native.(*wgpu.Buffer)
		if !ok || r.dev.released[c.Buffer.id] {
			return ErrReleasedResource
		}
		r.bind(c.Set, wgpu.BindGroupEntry{Binding: c.Binding, Buffer: b, Size: b.GetSize()})
	case CmdSetConstantData:
		buf, err := r.uniform(fmt.Sprintf("constants %d.%d", c.Set, c.Binding), c.Data)
		if err != nil {
			return err
		}
		r.bind(c.Set, wgpu.BindGroupEntry{Binding: c.Binding, Buffer: buf, Size: buf.GetSize()})
	case CmdPushConstants:
		r.push = c.Data
	case CmdDispatch:
		pl, err := r.dev.computePipeline(r.program)
		if err != nil {
			return err
		}
		cpass := r.encoder.BeginComputePass(nil)
		cpass.SetPipeline(pl)
		if err := r.bindGroups(pl, func(i uint32, bg *wgpu.BindGroup) { cpass.SetBindGroup(i, bg, nil) }); err != nil {
			cpass.End()
			return err
		}
		cpass.DispatchWorkgroups(c.Groups[0], c.Groups[1], c.Groups[2])
		return cpass.End()
	case CmdDrawQuad:
		key := graphicsKey{program: r.program}
		if len(r.passInfo.Color) > 0 {
			key.color = r.passInfo.Color[0].View.Image.Desc.Format
		}
		pl, err := r.dev.graphicsPipeline(key)
		if err != nil {
			return err
		}
		r.pass.SetPipeline(pl)
		if err := r.bindGroups(pl, func(i uint32, bg *wgpu.BindGroup) { r.pass.SetBindGroup(i, bg, nil) }); err != nil {
			return err
		}
		r.pass.Draw(3, 1, 0, 0)
	case CmdExecute:
		if r.pass != nil {
			return c.Fn(r.pass)
		}
		return c.Fn(r.encoder)
	}
	return nil
}

func (r *replay) beginRenderPass(info RenderPassInfo) error {
	desc := &wgpu.RenderPassDescriptor{Label: info.Label}
	for _, att := range info.Color {
		tv, err := nativeView(att.View)
		if err != nil {
			return err
		}
		desc.ColorAttachments = append(desc.ColorAttachments, wgpu.RenderPassColorAttachment{
			View:       tv,
			LoadOp:     loadOp(att.Load),
			StoreOp:    storeOp(att.Store),
			ClearValue: wgpu.Color{R: float64(att.Clear[0]), G: float64(att.Clear[1]), B: float64(att.Clear[2]), A: float64(att.Clear[3])},
		})
	}
	w, h := info.Extent()
	area := info.RenderArea()
	partial := area.X != 0 || area.Y != 0 || area.Width != w || area.Height != h
	clearDepthRegion := false
	if info.Depth != nil {
		tv, err := nativeView(info.Depth.View)
		if err != nil {
			return err
		}
		att := &wgpu.RenderPassDepthStencilAttachment{View: tv, DepthReadOnly: info.Depth.ReadOnly}
		if !info.Depth.ReadOnly {
			att.DepthLoadOp = loadOp(info.Depth.Load)
			att.DepthStoreOp = storeOp(info.Depth.Store)
			att.DepthClearValue = info.Depth.ClearDepth
			if partial && info.Depth.Load == LoadClear {
				att.DepthLoadOp = wgpu.LoadOpLoad
				clearDepthRegion = true
			}
		}
		desc.DepthStencilAttachment = att
	}
	r.pass = r.encoder.BeginRenderPass(desc)
	r.passInfo = info
	r.pass.SetViewport(float32(area.X), float32(area.Y), float32(area.Width), float32(area.Height), 0, 1)
	r.pass.SetScissorRect(uint32(area.X), uint32(area.Y), area.Width, area.Height)
	if clearDepthRegion {
		pl, err := r.dev.graphicsPipeline(graphicsKey{program: depthClearProgram, depth: info.Depth.View.Image.Desc.Format})
		if err != nil {
			return err
		}
		r.pass.SetPipeline(pl)
		r.pass.Draw(3, 1, 0, 0)
	}
	return nil
}

func (r *replay) clearImage(img *Image, color [4]float32) error {
	tex, ok := img.native.(*wgpu.Texture)
	if !ok || r.dev.released[img.id] {
		return ErrReleasedResource
	}
	for layer := uint32(0); layer < img.Desc.Layers; layer++ {
		tv, err := tex.CreateView(&wgpu.TextureViewDescriptor{
			Label:           img.Desc.Label + " clear",
			Format:          textureFormat(img.Desc.Format),
			Dimension:       wgpu.TextureViewDimension2D,
			MipLevelCount:   1,
			BaseArrayLayer:  layer,
			ArrayLayerCount: 1,
			Aspect:          wgpu.TextureAspectAll,
		})
		if err != nil {
			return err
		}
		r.views = append(r.views, tv)
		desc := &wgpu.RenderPassDescriptor{Label: img.Desc.Label + " clear"}
		if img.Desc.Format.IsDepth() {
			desc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
				View:            tv,
				DepthLoadOp:     wgpu.LoadOpClear,
				DepthStoreOp:    wgpu.StoreOpStore,
				DepthClearValue: color[0],
			}
		} else {
			desc.ColorAttachments = []wgpu.RenderPassColorAttachment{{
				View:       tv,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: float64(color[0]), G: float64(color[1]), B: float64(color[2]), A: float64(color[3])},
			}}
		}
		pass := r.encoder.BeginRenderPass(desc)
		if err := pass.End(); err != nil {
			return err
		}
	}
	return nil
}
