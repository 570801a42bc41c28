package lightset

import (
	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
)

// ActiveLights is the fixed capacity array of visible lights of one kind. The
// configured limit never exceeds core.MaxLights, so the set fits a LightMask.
type ActiveLights struct {
	limit int
	count int

	info [core.MaxLights]core.ShaderInfo
	refs [core.MaxLights]core.LightRef
}

func NewActiveLights(limit int) *ActiveLights {
	a := &ActiveLights{}
	a.Reset(limit)
	return a
}

// Reset empties the array and sets its limit, clamped to [0, MaxLights].
func (a *ActiveLights) Reset(limit int) {
	a.limit = max(0, min(limit, core.MaxLights))
	a.count = 0
	clear(a.refs[:])
}

// Push appends a light. It returns false when the limit is reached.
func (a *ActiveLights) Push(ref core.LightRef) bool {
	if a.count >= a.limit {
		return false
	}
	a.info[a.count] = ref.Light.ShaderInfo(ref.World)
	a.refs[a.count] = ref
	a.count++
	return true
}

func (a *ActiveLights) Len() int   { return a.count }
func (a *ActiveLights) Limit() int { return a.limit }

// Mask has one bit per active light.
func (a *ActiveLights) Mask() core.LightMask { return core.MaskOf(a.count) }

func (a *ActiveLights) Info() []core.ShaderInfo { return a.info[:a.count] }

func (a *ActiveLights) Refs() []core.LightRef { return a.refs[:a.count] }

func (a *ActiveLights) Ref(i int) core.LightRef { return a.refs[i] }

func (a *ActiveLights) Cookie(i int) core.Cookie { return a.refs[i].Light.Cookie() }

// Cookies returns the identity of every active light in array order.
func (a *ActiveLights) Cookies(out []core.Cookie) []core.Cookie {
	out = out[:0]
	for i := 0; i < a.count; i++ {
		out = append(out, a.Cookie(i))
	}
	return out
}
