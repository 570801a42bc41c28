package core

import (
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// LightRef is one scene light with its world state for the current frame.
type LightRef struct {
	ID     uuid.UUID
	Light  *Light
	World  mgl32.Mat4
	Bounds AABB
}

// Renderable is a draw submitted to a Renderer. Light is set for light volume
// draws and nil for shadow casters.
type Renderable struct {
	ID     uuid.UUID
	Bounds AABB
	World  mgl32.Mat4
	Light  *Light
}

// Renderer batches draws and records them into a command buffer on Flush. The
// mesh and material side of the engine implements it.
type Renderer interface {
	Begin()
	SetOptions(opts gpu.RenderOptions)
	SetStencilReference(ref gpu.StencilReference)
	Push(params *RenderParameters, items []Renderable)
	Flush(cmd *gpu.CommandBuffer, params *RenderParameters, flags gpu.RenderFlags) error
}

// Batch is one flushed group of draws recorded by HeadlessRenderer.
type Batch struct {
	Options gpu.RenderOptions
	Stencil gpu.StencilReference
	Flags   gpu.RenderFlags
	Params  RenderParameters
	Items   []Renderable
}

// HeadlessRenderer records every flush without drawing anything.
type HeadlessRenderer struct {
	Batches []Batch

	pending Batch
}

func NewHeadlessRenderer() *HeadlessRenderer {
	return &HeadlessRenderer{}
}

func (r *HeadlessRenderer) Begin() {
	r.pending = Batch{}
}

func (r *HeadlessRenderer) SetOptions(opts gpu.RenderOptions) {
	r.pending.Options = opts
}

func (r *HeadlessRenderer) SetStencilReference(ref gpu.StencilReference) {
	r.pending.Stencil = ref
}

func (r *HeadlessRenderer) Push(params *RenderParameters, items []Renderable) {
	r.pending.Params = *params
	r.pending.Items = append(r.pending.Items, items...)
}

func (r *HeadlessRenderer) Flush(cmd *gpu.CommandBuffer, params *RenderParameters, flags gpu.RenderFlags) error {
	b := r.pending
	b.Params = *params
	b.Flags = flags
	r.Batches = append(r.Batches, b)
	cmd.Execute("flush", func(any) error { return nil })
	r.pending.Items = nil
	return nil
}

// Reset drops recorded batches.
func (r *HeadlessRenderer) Reset() {
	r.Batches = nil
	r.pending = Batch{}
}
