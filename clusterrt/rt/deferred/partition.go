package deferred

import (
	"math"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
)

// minBinRange keeps the bin width finite when every light sits at one depth.
const minBinRange = 0.001

// Bins is the depth partition of one frame. Every light is in exactly one bin
// or in Clipped.
type Bins struct {
	Clipped []core.LightRef
	Bins    [core.NumDepthBins][]core.LightRef

	ZMin, ZMax float32
}

func (b *Bins) reset() {
	b.Clipped = b.Clipped[:0]
	for i := range b.Bins {
		b.Bins[i] = b.Bins[i][:0]
	}
	b.ZMin, b.ZMax = 0, 0
}

// Len is the number of partitioned lights.
func (b *Bins) Len() int {
	n := len(b.Clipped)
	for _, bin := range b.Bins {
		n += len(bin)
	}
	return n
}

// ZRange is the extent of a light volume along the camera front vector.
func ZRange(ref core.LightRef, params *core.RenderParameters) (float32, float32) {
	return ref.Bounds.DepthRange(params.CameraPosition, params.CameraFront)
}

// CenterDepth is the camera depth of the light volume center.
func CenterDepth(ref core.LightRef, params *core.RenderParameters) float32 {
	return ref.Bounds.Center().Sub(params.CameraPosition).Dot(params.CameraFront)
}

// Partition splits lights into the clipped list and NumDepthBins equal width
// bins over the depth extent of the remaining light centers. Lights whose
// volume crosses the near or far plane are clipped. Input order is kept inside
// every list.
func Partition(lights []core.LightRef, params *core.RenderParameters, out *Bins) {
	out.reset()

	zMin, zMax := float32(math.MaxFloat32), float32(0)
	binned := 0
	for _, ref := range lights {
		lo, hi := ZRange(ref, params)
		if lo < params.ZNear || hi > params.ZFar {
			out.Clipped = append(out.Clipped, ref)
			continue
		}
		d := CenterDepth(ref, params)
		zMin = min(zMin, d)
		zMax = max(zMax, d)
		binned++
	}
	if binned == 0 {
		return
	}
	out.ZMin, out.ZMax = zMin, zMax

	invRange := core.NumDepthBins / max(zMax-zMin, minBinRange)
	for _, ref := range lights {
		lo, hi := ZRange(ref, params)
		if lo < params.ZNear || hi > params.ZFar {
			continue
		}
		bin := int((CenterDepth(ref, params) - zMin) * invRange)
		bin = max(0, min(bin, core.NumDepthBins-1))
		out.Bins[bin] = append(out.Bins[bin], ref)
	}
}
