package lightset

import (
	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
)

// Source yields the positional lights of a scene in iteration order.
type Source interface {
	ForEachLight(fn func(ref core.LightRef))
}

// Handle locates an active light inside a Frame.
type Handle struct {
	Kind  core.Kind
	Index int
}

// Frame is the light set of one frame. It is rebuilt from scratch by every
// Build call and must not be retained across frames.
type Frame struct {
	Spots  *ActiveLights
	Points *ActiveLights

	DroppedSpots  int
	DroppedPoints int

	handles      map[core.Cookie]Handle
	spotShadows  [core.MaxLights]*core.ShadowBinding
	pointShadows [core.MaxLights]*core.ShadowBinding
	bindings     [2 * core.MaxLights]core.ShadowBinding
}

func newFrame() *Frame {
	return &Frame{
		Spots:   NewActiveLights(0),
		Points:  NewActiveLights(0),
		handles: make(map[core.Cookie]Handle, 2*core.MaxLights),
	}
}

// Lights returns the active array of a kind.
func (f *Frame) Lights(kind core.Kind) *ActiveLights {
	if kind == core.KindSpot {
		return f.Spots
	}
	return f.Points
}

func (f *Frame) shadows(kind core.Kind) *[core.MaxLights]*core.ShadowBinding {
	if kind == core.KindSpot {
		return &f.spotShadows
	}
	return &f.pointShadows
}

// Lookup finds the active light carrying cookie this frame.
func (f *Frame) Lookup(cookie core.Cookie) (Handle, bool) {
	h, ok := f.handles[cookie]
	return h, ok
}

// BindShadow records the shadow state of active light i for the rest of the frame.
func (f *Frame) BindShadow(kind core.Kind, i int, b core.ShadowBinding) {
	slot := i
	if kind == core.KindPoint {
		slot += core.MaxLights
	}
	f.bindings[slot] = b
	f.shadows(kind)[i] = &f.bindings[slot]
}

// Shadow returns the shadow bound to active light i, or nil when the light has
// no valid shadow this frame.
func (f *Frame) Shadow(kind core.Kind, i int) *core.ShadowBinding {
	return f.shadows(kind)[i]
}

// ShadowByCookie resolves a light identity to its shadow binding.
func (f *Frame) ShadowByCookie(cookie core.Cookie) *core.ShadowBinding {
	h, ok := f.handles[cookie]
	if !ok {
		return nil
	}
	return f.Shadow(h.Kind, h.Index)
}

func (f *Frame) reset(maxSpots, maxPoints int) {
	f.Spots.Reset(maxSpots)
	f.Points.Reset(maxPoints)
	f.DroppedSpots = 0
	f.DroppedPoints = 0
	clear(f.handles)
	clear(f.spotShadows[:])
	clear(f.pointShadows[:])
}

// Builder frustum culls scene lights into capped per-kind arrays.
type Builder struct {
	MaxSpotLights  int
	MaxPointLights int

	frame *Frame
}

func NewBuilder(maxSpots, maxPoints int) *Builder {
	return &Builder{MaxSpotLights: maxSpots, MaxPointLights: maxPoints, frame: newFrame()}
}

// Build rebuilds the frame light set. Lights past the per-kind limit are
// dropped in iteration order. Every emitted light starts without a shadow.
func (b *Builder) Build(src Source, frustum *core.Frustum) *Frame {
	f := b.frame
	f.reset(b.MaxSpotLights, b.MaxPointLights)
	if src == nil {
		return f
	}
	src.ForEachLight(func(ref core.LightRef) {
		if ref.Light == nil || !frustum.Intersects(ref.Bounds) {
			return
		}
		arr := f.Lights(ref.Light.Kind)
		if !arr.Push(ref) {
			if ref.Light.Kind == core.KindSpot {
				f.DroppedSpots++
			} else {
				f.DroppedPoints++
			}
			return
		}
		f.handles[ref.Light.Cookie()] = Handle{Kind: ref.Light.Kind, Index: arr.Len() - 1}
	})
	return f
}

// Frame returns the most recently built frame.
func (b *Builder) Frame() *Frame { return b.frame }
