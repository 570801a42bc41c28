package atlas

import (
	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/gekko3d/lightcluster/clusterrt/rt/lightset"
	"github.com/go-gl/mathgl/mgl32"
)

// Plan is the outcome of slot reassignment for one atlas this frame.
type Plan struct {
	// Dirty has a bit per active light whose shadow must be rendered. It is
	// AllLights when the whole atlas is rewritten.
	Dirty core.LightMask
	// Create is set when the atlas does not exist yet.
	Create bool
}

// Partial reports whether the slots outside Dirty must be preserved.
func (p Plan) Partial() bool { return p.Dirty != core.AllLights }

// Skip reports whether the atlas needs no work at all.
func (p Plan) Skip() bool { return p.Dirty.Empty() }

// Cache owns both shadow atlases and their slot tables.
type Cache struct {
	Spot       *Atlas
	Point      *Atlas
	SpotSlots  *SlotTable[mgl32.Mat4]
	PointSlots *SlotTable[core.PointShadowTransform]

	cookies []core.Cookie
}

func NewCache(resolution uint32, vsm bool) *Cache {
	return &Cache{
		Spot:       New(core.KindSpot, resolution, vsm),
		Point:      New(core.KindPoint, resolution, vsm),
		SpotSlots:  NewSlotTable[mgl32.Mat4](),
		PointSlots: NewSlotTable[core.PointShadowTransform](),
		cookies:    make([]core.Cookie, 0, core.MaxLights),
	}
}

// Configure changes the atlas format. Existing atlases that no longer match
// are released and their cached shadows forgotten.
func (c *Cache) Configure(dev gpu.Device, resolution uint32, vsm bool) bool {
	if c.Spot.Resolution == resolution && c.Spot.VSM == vsm {
		return false
	}
	c.Release(dev)
	for _, a := range []*Atlas{c.Spot, c.Point} {
		a.Resolution = resolution
		a.VSM = vsm
	}
	return true
}

// PlanSpots reassigns spot slots for the frame and binds cached shadows of
// unchanged lights.
func (c *Cache) PlanSpots(frame *lightset.Frame, force bool) Plan {
	c.cookies = frame.Spots.Cookies(c.cookies)
	dirty := c.SpotSlots.Reassign(c.cookies, func(i int, transform mgl32.Mat4) {
		if c.Spot.Exists() {
			frame.BindShadow(core.KindSpot, i, core.ShadowBinding{Atlas: c.Spot.View(), SpotTransform: transform})
		}
	})
	return finish(c.Spot, c.SpotSlots, len(c.cookies), dirty, force)
}

// PlanPoints is PlanSpots for the point atlas.
func (c *Cache) PlanPoints(frame *lightset.Frame, force bool) Plan {
	c.cookies = frame.Points.Cookies(c.cookies)
	dirty := c.PointSlots.Reassign(c.cookies, func(i int, transform core.PointShadowTransform) {
		if c.Point.Exists() {
			frame.BindShadow(core.KindPoint, i, core.ShadowBinding{Atlas: c.Point.View(), PointTransform: transform})
		}
	})
	return finish(c.Point, c.PointSlots, len(c.cookies), dirty, force)
}

// finish widens the plan to the whole atlas when it is missing or forced. A
// full rewrite discards every slot, so inactive slots lose their cookies too.
func finish[T any](a *Atlas, slots *SlotTable[T], active int, dirty core.LightMask, force bool) Plan {
	if !a.Exists() || force {
		dirty = core.AllLights
	}
	plan := Plan{Dirty: dirty, Create: !a.Exists()}
	if !plan.Partial() {
		slots.InvalidateFrom(active)
	}
	return plan
}

// Release frees both atlases and forgets every cached shadow.
func (c *Cache) Release(dev gpu.Device) {
	c.Spot.Release(dev)
	c.Point.Release(dev)
	c.Invalidate()
}

// Reset drops both atlases after device loss.
func (c *Cache) Reset() {
	c.Spot.Reset()
	c.Point.Reset()
	c.Invalidate()
}

func (c *Cache) Invalidate() {
	c.SpotSlots.Invalidate()
	c.PointSlots.Invalidate()
}
