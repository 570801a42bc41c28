package core

import (
	"math/bits"
	"sync/atomic"
)

const (
	// MaxLights is the capacity of each active light array. A light set must fit
	// in a LightMask.
	MaxLights = 32
	// ClusterHierarchies is the number of geometrically scaled cascades above the
	// base grid.
	ClusterHierarchies = 8
	// ClusterPrepassDownsample is the coarse grid factor of the cluster pre-pass.
	ClusterPrepassDownsample = 4
	// NumDepthBins is the number of camera depth bins of the stencil path.
	NumDepthBins = 7
)

// LightMask is a set of active light indices.
type LightMask uint32

// AllLights has every slot bit set.
const AllLights = ^LightMask(0)

// MaskOf returns a mask with the lowest n bits set.
func MaskOf(n int) LightMask {
	if n >= MaxLights {
		return AllLights
	}
	if n <= 0 {
		return 0
	}
	return LightMask(1)<<uint(n) - 1
}

func (m LightMask) Has(i int) bool        { return m&(1<<uint(i)) != 0 }
func (m LightMask) Set(i int) LightMask   { return m | 1<<uint(i) }
func (m LightMask) Clear(i int) LightMask { return m &^ (1 << uint(i)) }
func (m LightMask) Count() int            { return bits.OnesCount32(uint32(m)) }
func (m LightMask) Empty() bool           { return m == 0 }

// ForEach calls fn for every set bit in ascending order.
func (m LightMask) ForEach(fn func(i int)) {
	for m != 0 {
		i := bits.TrailingZeros32(uint32(m))
		m &^= 1 << uint(i)
		fn(i)
	}
}

// Cookie identifies a logical light. It changes only when the light is
// destroyed and recreated. Zero marks an empty atlas slot.
type Cookie uint32

var cookieCounter atomic.Uint32

// NextCookie returns a fresh non-zero cookie.
func NextCookie() Cookie {
	for {
		c := Cookie(cookieCounter.Add(1))
		if c != 0 {
			return c
		}
	}
}
