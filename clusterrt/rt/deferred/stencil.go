package deferred

import (
	"errors"
	"fmt"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
)

var ErrNoRenderer = errors.New("deferred: renderers not set")

// PrepassStencil is the stencil state of a bin's prepass. Bin b marks its
// pixels with bit 2<<b.
func PrepassStencil(bin int) gpu.StencilReference {
	bit := uint8(2 << bin)
	return gpu.StencilReference{CompareMask: 0xff, WriteMask: bit, Reference: bit}
}

// LightStencil restricts the lights of a bin to pixels carrying its bit and
// the geometry bit 1.
func LightStencil(bin int) gpu.StencilReference {
	bit := uint8(2 << bin)
	return gpu.StencilReference{CompareMask: bit | 1, Reference: bit}
}

// ClippedStencil compares only the geometry bit.
var ClippedStencil = gpu.StencilReference{CompareMask: 1}

const prepassFlags = gpu.FlagNoColor | gpu.FlagBackface | gpu.FlagDepthStencilReadOnly | gpu.FlagStencilWriteReference

// StencilCuller draws deferred light volumes restricted by per-bin stencil
// bits. Without culling every light is drawn in one batch.
type StencilCuller struct {
	enabled bool
	depth   core.Renderer
	lights  core.Renderer

	all   []core.LightRef
	bins  Bins
	items []core.Renderable
}

func NewStencilCuller() *StencilCuller {
	return &StencilCuller{}
}

func (s *StencilCuller) SetEnabled(enabled bool) { s.enabled = enabled }

func (s *StencilCuller) Enabled() bool { return s.enabled }

func (s *StencilCuller) SetRenderers(depth, lights core.Renderer) {
	s.depth = depth
	s.lights = lights
}

// Refresh partitions the frame's active lights.
func (s *StencilCuller) Refresh(lights []core.LightRef, params *core.RenderParameters) {
	s.all = append(s.all[:0], lights...)
	if !s.enabled {
		s.bins.reset()
		return
	}
	Partition(s.all, params, &s.bins)
}

func (s *StencilCuller) Bins() *Bins { return &s.bins }

func (s *StencilCuller) renderables(refs []core.LightRef) []core.Renderable {
	s.items = s.items[:0]
	for _, ref := range refs {
		s.items = append(s.items, core.Renderable{ID: ref.ID, Bounds: ref.Bounds, World: ref.World, Light: ref.Light})
	}
	return s.items
}

// RenderPrepass writes each bin's stencil bit where its light volumes cover
// scene depth.
func (s *StencilCuller) RenderPrepass(cmd *gpu.CommandBuffer, params *core.RenderParameters) error {
	if !s.enabled {
		return nil
	}
	if s.depth == nil {
		return ErrNoRenderer
	}
	for bin := range core.NumDepthBins {
		s.depth.Begin()
		s.depth.Push(params, s.renderables(s.bins.Bins[bin]))
		s.depth.SetStencilReference(PrepassStencil(bin))
		if err := s.depth.Flush(cmd, params, prepassFlags); err != nil {
			return fmt.Errorf("stencil prepass bin %d: %w", bin, err)
		}
	}
	return nil
}

// RenderLights draws the clipped lights unconditionally and every bin against
// its stencil bit.
func (s *StencilCuller) RenderLights(cmd *gpu.CommandBuffer, params *core.RenderParameters, opts gpu.RenderOptions) error {
	if s.lights == nil {
		return ErrNoRenderer
	}
	if !s.enabled {
		s.lights.Begin()
		s.lights.SetOptions(opts)
		s.lights.Push(params, s.renderables(s.all))
		return s.lights.Flush(cmd, params, 0)
	}

	s.lights.Begin()
	s.lights.SetOptions(opts)
	s.lights.Push(params, s.renderables(s.bins.Clipped))
	s.lights.SetStencilReference(ClippedStencil)
	if err := s.lights.Flush(cmd, params, gpu.FlagStencilCompareReference); err != nil {
		return fmt.Errorf("clipped lights: %w", err)
	}
	for bin := range core.NumDepthBins {
		s.lights.Begin()
		s.lights.SetOptions(opts)
		s.lights.Push(params, s.renderables(s.bins.Bins[bin]))
		s.lights.SetStencilReference(LightStencil(bin))
		if err := s.lights.Flush(cmd, params, gpu.FlagStencilCompareReference); err != nil {
			return fmt.Errorf("lights bin %d: %w", bin, err)
		}
	}
	return nil
}
