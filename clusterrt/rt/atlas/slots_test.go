package atlas

import (
	"math/rand"
	"testing"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cookies(n int) []core.Cookie {
	out := make([]core.Cookie, n)
	for i := range out {
		out[i] = core.NextCookie()
	}
	return out
}

// assertBijection checks that every active cookie sits in exactly one slot
// and that the remap is still a permutation.
func assertBijection(t *testing.T, s *SlotTable[mgl32.Mat4], active []core.Cookie) {
	t.Helper()
	for i, c := range active {
		n := 0
		for _, resident := range s.Cookies {
			if resident == c {
				n++
			}
		}
		assert.Equal(t, 1, n, "cookie of light %d", i)
		assert.Equal(t, c, s.Cookies[i])
	}
	seen := make(map[uint32]bool)
	for _, r := range s.Remap {
		assert.False(t, seen[r], "slot %d mapped twice", r)
		seen[r] = true
	}
	assert.Len(t, seen, core.MaxLights)
}

func TestReassignStaticSetIsClean(t *testing.T) {
	s := NewSlotTable[mgl32.Mat4]()
	active := cookies(5)

	assert.Equal(t, core.MaskOf(5), s.Reassign(active, nil))

	var reused []int
	dirty := s.Reassign(active, func(i int, _ mgl32.Mat4) { reused = append(reused, i) })
	assert.True(t, dirty.Empty())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, reused)
	assertBijection(t, s, active)
}

func TestReassignFollowsReorderedLights(t *testing.T) {
	s := NewSlotTable[mgl32.Mat4]()
	active := cookies(4)
	s.Reassign(active, nil)
	for i := range active {
		s.Transforms[i] = mgl32.Translate3D(float32(i), 0, 0)
	}
	slots := map[core.Cookie]uint32{}
	for i, c := range active {
		slots[c] = s.Slot(i)
	}

	reordered := []core.Cookie{active[2], active[0], active[3], active[1]}
	got := map[int]mgl32.Mat4{}
	dirty := s.Reassign(reordered, func(i int, m mgl32.Mat4) { got[i] = m })

	assert.True(t, dirty.Empty())
	for i, c := range reordered {
		assert.Equal(t, slots[c], s.Slot(i), "light keeps its physical slot")
	}
	assert.Equal(t, float32(2), got[0].Col(3)[0])
	assert.Equal(t, float32(1), got[3].Col(3)[0])
	assertBijection(t, s, reordered)
}

func TestReassignReplacedLightIsDirty(t *testing.T) {
	s := NewSlotTable[mgl32.Mat4]()
	active := cookies(3)
	s.Reassign(active, nil)

	// Light 1 is destroyed and a new light takes its place in iteration order.
	next := []core.Cookie{active[0], core.NextCookie(), active[2]}
	dirty := s.Reassign(next, nil)
	assert.Equal(t, core.LightMask(0).Set(1), dirty)
	assertBijection(t, s, next)

	// A light that only moved keeps its cookie and stays clean.
	assert.True(t, s.Reassign(next, nil).Empty())
}

func TestReassignPrefersFreeSlot(t *testing.T) {
	s := NewSlotTable[mgl32.Mat4]()
	first := cookies(2)
	s.Reassign(first, nil)

	// A new light at index 0 takes a never used slot and leaves the shadow of
	// first[0] cached for when it comes back.
	newcomer := core.NextCookie()
	dirty := s.Reassign([]core.Cookie{newcomer}, nil)
	assert.Equal(t, core.MaskOf(1), dirty)
	assert.NotEqual(t, uint32(0), s.Slot(0))

	dirty = s.Reassign([]core.Cookie{newcomer, first[0]}, nil)
	assert.True(t, dirty.Empty(), "returning light finds its cached slot")
}

func TestReassignFullTableEvicts(t *testing.T) {
	s := NewSlotTable[mgl32.Mat4]()
	s.Reassign(cookies(core.MaxLights), nil)

	fresh := cookies(core.MaxLights)
	dirty := s.Reassign(fresh, nil)
	assert.Equal(t, core.AllLights, dirty)
	assertBijection(t, s, fresh)
}

func TestReassignRandomSequencesStayBijective(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewSlotTable[mgl32.Mat4]()
	pool := cookies(48)

	for frame := 0; frame < 200; frame++ {
		n := rng.Intn(core.MaxLights + 1)
		perm := rng.Perm(len(pool))[:n]
		active := make([]core.Cookie, n)
		for i, p := range perm {
			active[i] = pool[p]
		}
		s.Reassign(active, nil)
		require.True(t, s.Reassign(active, nil).Empty(), "frame %d", frame)
		assertBijection(t, s, active)
	}
}

func TestInvalidateKeepsPermutation(t *testing.T) {
	s := NewSlotTable[mgl32.Mat4]()
	active := cookies(3)
	s.Reassign(active, nil)
	s.Reassign([]core.Cookie{active[2], active[1], active[0]}, nil)
	remap := s.Remap

	s.Invalidate()
	assert.Equal(t, remap, s.Remap)
	assert.Equal(t, core.MaskOf(3), s.Reassign(active, nil))
}

func TestInvalidateFromForgetsInactiveSlots(t *testing.T) {
	s := NewSlotTable[mgl32.Mat4]()
	active := cookies(3)
	s.Reassign(active, nil)

	s.InvalidateFrom(1)
	assert.Equal(t, active[0], s.Cookies[0])
	assert.Zero(t, s.Cookies[1])
	assert.Zero(t, s.Cookies[2])
	assert.Equal(t, core.LightMask(0).Set(1).Set(2), s.Reassign(active, nil))

	s.InvalidateFrom(core.MaxLights + 1)
	assert.Equal(t, active, s.Cookies[:3])
}
