package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
)

var (
	ErrNotBaked      = errors.New("graph: not baked")
	ErrMissingWriter = errors.New("graph: texture input has no earlier writer")
)

type Queue uint8

const (
	QueueGraphics Queue = iota
	QueueCompute
)

// AttachmentInfo describes the physical image behind a named resource. Depth
// greater than one makes a 3D image.
type AttachmentInfo struct {
	Format   gpu.Format
	Width    uint32
	Height   uint32
	Depth    uint32
	AuxUsage gpu.Usage

	// Persistent images keep their contents between frames.
	Persistent bool
}

func (a AttachmentInfo) desc(name string) gpu.ImageDesc {
	d := gpu.ImageDesc{
		Label:  name,
		Width:  a.Width,
		Height: a.Height,
		Depth:  a.Depth,
		Format: a.Format,
		Usage:  gpu.UsageStorage | a.AuxUsage,
	}
	if a.Depth > 1 {
		d.Dimension = gpu.Dimension3D
	}
	return d
}

// Resource is a named texture shared between passes.
type Resource struct {
	name string
	info AttachmentInfo

	image  *gpu.Image
	layout gpu.Layout
	stage  gpu.Stage
	access gpu.Access
}

func (r *Resource) Name() string         { return r.name }
func (r *Resource) Info() AttachmentInfo { return r.info }

// Image is nil until the graph is baked.
func (r *Resource) Image() *gpu.Image { return r.image }

func (r *Resource) View() *gpu.ImageView {
	if r.image == nil {
		return nil
	}
	return r.image.View()
}

// Pass is one node of the graph.
type Pass struct {
	graph *Graph
	name  string
	queue Queue

	outputs []*Resource
	inputs  []*Resource

	build      func(cmd *gpu.CommandBuffer) error
	needRender func() bool
}

func (p *Pass) Name() string { return p.name }

func (p *Pass) Queue() Queue { return p.queue }

func (p *Pass) Outputs() []*Resource { return p.outputs }

func (p *Pass) Inputs() []*Resource { return p.inputs }

func (p *Pass) SetBuildRenderPass(fn func(cmd *gpu.CommandBuffer) error) { p.build = fn }

// SetNeedRenderPass installs a predicate evaluated every Execute. A pass
// without one always runs.
func (p *Pass) SetNeedRenderPass(fn func() bool) { p.needRender = fn }

// ClearResources drops every declared input and output so the pass can be
// declared again.
func (p *Pass) ClearResources() {
	p.outputs = p.outputs[:0]
	p.inputs = p.inputs[:0]
	p.graph.baked = false
}

func (p *Pass) NeedRender() bool {
	return p.needRender == nil || p.needRender()
}

// Graph schedules passes in registration order and owns the physical images of
// their resources.
type Graph struct {
	passes    []*Pass
	passIndex map[string]*Pass
	resources map[string]*Resource
	order     []*Resource

	baked  bool
	writer map[*Resource]*Pass
}

func New() *Graph {
	return &Graph{
		passIndex: make(map[string]*Pass),
		resources: make(map[string]*Resource),
	}
}

// AddPass returns the pass with the given name, creating it if needed.
func (g *Graph) AddPass(name string, queue Queue) *Pass {
	if p, ok := g.passIndex[name]; ok {
		return p
	}
	p := &Pass{graph: g, name: name, queue: queue}
	g.passes = append(g.passes, p)
	g.passIndex[name] = p
	g.baked = false
	return p
}

func (g *Graph) Pass(name string) (*Pass, bool) {
	p, ok := g.passIndex[name]
	return p, ok
}

// Writer returns the last pass writing r, once baked.
func (g *Graph) Writer(r *Resource) *Pass { return g.writer[r] }

func (g *Graph) Resource(name string) (*Resource, bool) {
	r, ok := g.resources[name]
	return r, ok
}

func (g *Graph) resource(name string) *Resource {
	if r, ok := g.resources[name]; ok {
		return r
	}
	r := &Resource{name: name}
	g.resources[name] = r
	g.order = append(g.order, r)
	return r
}

// AddStorageTextureOutput declares that the pass writes name from compute
// shaders. The last declaration of a resource's info wins.
func (p *Pass) AddStorageTextureOutput(name string, info AttachmentInfo) *Resource {
	g := p.graph
	r := g.resource(name)
	r.info = info
	if !slices.Contains(p.outputs, r) {
		p.outputs = append(p.outputs, r)
	}
	g.baked = false
	return r
}

// AddTextureInput declares that the pass samples name.
func (p *Pass) AddTextureInput(name string) *Resource {
	g := p.graph
	r := g.resource(name)
	if !slices.Contains(p.inputs, r) {
		p.inputs = append(p.inputs, r)
	}
	g.baked = false
	return r
}

// Bake validates the graph and allocates every resource image. Images whose
// info did not change since the last bake are kept. Images of resources no
// pass writes are released.
func (g *Graph) Bake(dev gpu.Device) error {
	g.writer = make(map[*Resource]*Pass)
	for _, p := range g.passes {
		for _, in := range p.inputs {
			if _, ok := g.writer[in]; !ok {
				return fmt.Errorf("pass %q reads %q: %w", p.name, in.name, ErrMissingWriter)
			}
		}
		for _, out := range p.outputs {
			g.writer[out] = p
		}
	}

	for _, r := range g.order {
		if _, ok := g.writer[r]; !ok {
			// No pass writes r anymore.
			if r.image != nil {
				dev.ReleaseImage(r.image)
				r.image = nil
				r.layout = gpu.LayoutUndefined
			}
			continue
		}
		want := r.info.desc(r.name)
		if r.image != nil && r.image.Desc.Width == want.Width && r.image.Desc.Height == want.Height &&
			r.image.Desc.Depth == max(want.Depth, 1) && r.image.Desc.Format == want.Format {
			continue
		}
		if r.image != nil {
			dev.ReleaseImage(r.image)
			r.image = nil
		}
		img, err := dev.CreateImage(want)
		if err != nil {
			return fmt.Errorf("bake resource %q: %w", r.name, err)
		}
		r.image = img
		r.layout = gpu.LayoutUndefined
		r.stage = gpu.StageTopOfPipe
		r.access = gpu.AccessNone
	}
	g.baked = true
	return nil
}

func (g *Graph) transition(cmd *gpu.CommandBuffer, r *Resource, layout gpu.Layout, stage gpu.Stage, access gpu.Access, discard bool) {
	old := r.layout
	if discard {
		old = gpu.LayoutUndefined
	}
	cmd.ImageBarrier(gpu.WholeImage(r.image, old, layout, r.stage, r.access, stage, access))
	r.layout, r.stage, r.access = layout, stage, access
}

// Execute runs every pass whose predicate holds, in registration order, each
// in its own command buffer. Outputs move to General before the pass and inputs
// to ShaderReadOnly.
func (g *Graph) Execute(dev gpu.Device) error {
	if !g.baked {
		return ErrNotBaked
	}
	for _, p := range g.passes {
		if !p.NeedRender() {
			continue
		}
		cmd := dev.RequestCommandBuffer(p.name)
		for _, in := range p.inputs {
			g.transition(cmd, in, gpu.LayoutShaderReadOnly,
				gpu.StageCompute|gpu.StageFragmentShader, gpu.AccessShaderRead, false)
		}
		for _, out := range p.outputs {
			g.transition(cmd, out, gpu.LayoutGeneral,
				gpu.StageCompute, gpu.AccessShaderWrite|gpu.AccessShaderRead, !out.info.Persistent)
		}
		if p.build != nil {
			if err := p.build(cmd); err != nil {
				return fmt.Errorf("pass %q: %w", p.name, err)
			}
		}
		if err := dev.Submit(cmd); err != nil {
			return fmt.Errorf("pass %q: %w", p.name, err)
		}
	}
	return nil
}

// Release frees every physical image.
func (g *Graph) Release(dev gpu.Device) {
	for _, r := range g.order {
		if r.image != nil {
			dev.ReleaseImage(r.image)
		}
	}
	g.Reset()
}

// Reset forgets physical images without touching the device, after device
// loss. The graph must be baked again.
func (g *Graph) Reset() {
	for _, r := range g.order {
		r.image = nil
		r.layout = gpu.LayoutUndefined
	}
	g.baked = false
}
