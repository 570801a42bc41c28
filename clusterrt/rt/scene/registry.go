package scene

import (
	"errors"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

var ErrUnknownID = errors.New("scene: unknown id")

type LightID = uuid.UUID
type CasterID = uuid.UUID

type lightEntry struct {
	light *core.Light
	world mgl32.Mat4
}

// Caster is a shadow casting object with its local bounds.
type Caster struct {
	ID     CasterID
	Local  core.AABB
	World  mgl32.Mat4
	Bounds core.AABB
	Static bool
}

// Registry holds the positional lights and shadow casters of a scene. Lights
// are visited in insertion order, which is the scene iteration order the light
// set builder relies on.
type Registry struct {
	order  []LightID
	lights map[LightID]*lightEntry

	casters     []*Caster
	casterIndex map[CasterID]int
}

func NewRegistry() *Registry {
	return &Registry{
		lights:      make(map[LightID]*lightEntry),
		casterIndex: make(map[CasterID]int),
	}
}

func (r *Registry) AddLight(l *core.Light, world mgl32.Mat4) LightID {
	id := uuid.New()
	r.order = append(r.order, id)
	r.lights[id] = &lightEntry{light: l, world: world}
	return id
}

func (r *Registry) Light(id LightID) (core.LightRef, bool) {
	e, ok := r.lights[id]
	if !ok {
		return core.LightRef{}, false
	}
	return e.ref(id), true
}

func (e *lightEntry) ref(id LightID) core.LightRef {
	return core.LightRef{
		ID:     id,
		Light:  e.light,
		World:  e.world,
		Bounds: e.light.WorldAABB(e.world),
	}
}

// SetTransform moves a light. The light keeps its identity.
func (r *Registry) SetTransform(id LightID, world mgl32.Mat4) error {
	e, ok := r.lights[id]
	if !ok {
		return ErrUnknownID
	}
	e.world = world
	return nil
}

// ReplaceLight destroys the light behind id and puts a new one in its place in
// iteration order.
func (r *Registry) ReplaceLight(id LightID, l *core.Light) error {
	e, ok := r.lights[id]
	if !ok {
		return ErrUnknownID
	}
	if l == e.light {
		l.Recreate()
	}
	e.light = l
	return nil
}

func (r *Registry) RemoveLight(id LightID) bool {
	if _, ok := r.lights[id]; !ok {
		return false
	}
	delete(r.lights, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) NumLights() int { return len(r.order) }

// ForEachLight visits every light in iteration order.
func (r *Registry) ForEachLight(fn func(ref core.LightRef)) {
	for _, id := range r.order {
		fn(r.lights[id].ref(id))
	}
}

// GatherVisibleLights appends every light whose bounds intersect the frustum.
func (r *Registry) GatherVisibleLights(f *core.Frustum, out []core.LightRef) []core.LightRef {
	r.ForEachLight(func(ref core.LightRef) {
		if f.Intersects(ref.Bounds) {
			out = append(out, ref)
		}
	})
	return out
}

func (r *Registry) AddCaster(local core.AABB, world mgl32.Mat4, static bool) CasterID {
	c := &Caster{
		ID:     uuid.New(),
		Local:  local,
		World:  world,
		Bounds: local.Transform(world),
		Static: static,
	}
	r.casterIndex[c.ID] = len(r.casters)
	r.casters = append(r.casters, c)
	return c.ID
}

func (r *Registry) SetCasterTransform(id CasterID, world mgl32.Mat4) error {
	i, ok := r.casterIndex[id]
	if !ok {
		return ErrUnknownID
	}
	c := r.casters[i]
	c.World = world
	c.Bounds = c.Local.Transform(world)
	return nil
}

func (r *Registry) RemoveCaster(id CasterID) bool {
	i, ok := r.casterIndex[id]
	if !ok {
		return false
	}
	last := len(r.casters) - 1
	r.casters[i] = r.casters[last]
	r.casterIndex[r.casters[i].ID] = i
	r.casters = r.casters[:last]
	delete(r.casterIndex, id)
	return true
}

func (r *Registry) gatherCasters(f *core.Frustum, static bool, out []core.Renderable) []core.Renderable {
	for _, c := range r.casters {
		if c.Static != static || !f.Intersects(c.Bounds) {
			continue
		}
		out = append(out, core.Renderable{ID: c.ID, Bounds: c.Bounds, World: c.World})
	}
	return out
}

func (r *Registry) GatherStaticShadowCasters(f *core.Frustum, out []core.Renderable) []core.Renderable {
	return r.gatherCasters(f, true, out)
}

func (r *Registry) GatherDynamicShadowCasters(f *core.Frustum, out []core.Renderable) []core.Renderable {
	return r.gatherCasters(f, false, out)
}
