package atlas

import (
	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
)

// SlotTable is the persistent bookkeeping of one shadow atlas. Entry i belongs
// to active light i of the current frame and points at physical atlas slot
// Remap[i]. Cookies[i] is the light whose shadow that slot holds, 0 if none.
type SlotTable[T any] struct {
	Cookies    [core.MaxLights]core.Cookie
	Transforms [core.MaxLights]T
	Remap      [core.MaxLights]uint32
}

func NewSlotTable[T any]() *SlotTable[T] {
	s := &SlotTable[T]{}
	for i := range s.Remap {
		s.Remap[i] = uint32(i)
	}
	return s
}

func (s *SlotTable[T]) swap(i, j int) {
	s.Cookies[i], s.Cookies[j] = s.Cookies[j], s.Cookies[i]
	s.Transforms[i], s.Transforms[j] = s.Transforms[j], s.Transforms[i]
	s.Remap[i], s.Remap[j] = s.Remap[j], s.Remap[i]
}

func (s *SlotTable[T]) find(cookie core.Cookie) int {
	for j, c := range s.Cookies {
		if c == cookie {
			return j
		}
	}
	return -1
}

// Reassign moves cached slots so active light i lines up with the slot already
// holding its shadow, or with a never used slot. It returns the lights whose
// slot does not hold their shadow. For every other light, reuse is called with
// the cached transform. The first matching slot in table order wins.
func (s *SlotTable[T]) Reassign(cookies []core.Cookie, reuse func(i int, transform T)) core.LightMask {
	var dirty core.LightMask
	for i, cookie := range cookies {
		if j := s.find(cookie); j >= 0 && j != i {
			s.swap(i, j)
		}

		// Slot i holds another light's shadow: move a free slot here instead.
		if s.Cookies[i] != cookie && s.Cookies[i] != 0 {
			if j := s.find(0); j >= 0 && j != i {
				s.swap(i, j)
			}
		}

		if s.Cookies[i] != cookie {
			dirty = dirty.Set(i)
		} else if reuse != nil {
			reuse(i, s.Transforms[i])
		}
		s.Cookies[i] = cookie
	}
	return dirty
}

// Slot returns the physical atlas slot of active light i.
func (s *SlotTable[T]) Slot(i int) uint32 { return s.Remap[i] }

// Invalidate forgets every cached shadow. The slot permutation is kept.
func (s *SlotTable[T]) Invalidate() {
	clear(s.Cookies[:])
}

// InvalidateFrom forgets the shadows cached in slots n and above, which hold
// no active light this frame.
func (s *SlotTable[T]) InvalidateFrom(n int) {
	clear(s.Cookies[min(n, len(s.Cookies)):])
}
