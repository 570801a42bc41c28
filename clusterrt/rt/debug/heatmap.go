package debug

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/gekko3d/lightcluster/clusterrt/rt/cluster"
	"golang.org/x/image/draw"
)

// ramp runs from no lights (dark blue) to a full cell (white).
var ramp = []color.RGBA{
	{0x10, 0x10, 0x40, 0xff},
	{0x20, 0x60, 0xc0, 0xff},
	{0x20, 0xc0, 0x60, 0xff},
	{0xf0, 0xd0, 0x20, 0xff},
	{0xf0, 0x40, 0x20, 0xff},
	{0xff, 0xff, 0xff, 0xff},
}

// CountColor maps a per-cell light count to the heatmap ramp, saturating at
// limit.
func CountColor(count, limit int) color.RGBA {
	if count <= 0 || limit <= 0 {
		return ramp[0]
	}
	if count >= limit {
		return ramp[len(ramp)-1]
	}
	return ramp[1+count*(len(ramp)-2)/limit]
}

// Heatmap renders the light count of every cell in one depth slice of a
// cascade, upscaled by scale.
func Heatmap(grid *cluster.Grid, z, cascade, scale int) (*image.RGBA, error) {
	if grid == nil {
		return nil, fmt.Errorf("heatmap: no cpu cluster grid")
	}
	if z < 0 || z >= grid.ResZ || cascade < 0 || cascade >= grid.Slices()/grid.ResZ {
		return nil, fmt.Errorf("heatmap: slice %d of cascade %d out of range", z, cascade)
	}
	scale = max(scale, 1)

	cells := image.NewRGBA(image.Rect(0, 0, grid.ResX, grid.ResY))
	for y := range grid.ResY {
		for x := range grid.ResX {
			m := grid.Lookup(x, y, z, cascade)
			// Row 0 of the grid is the bottom of the view.
			cells.SetRGBA(x, grid.ResY-1-y, CountColor(m.Spot.Count()+m.Point.Count(), 8))
		}
	}
	if scale == 1 {
		return cells, nil
	}
	out := image.NewRGBA(image.Rect(0, 0, grid.ResX*scale, grid.ResY*scale))
	draw.NearestNeighbor.Scale(out, out.Bounds(), cells, cells.Bounds(), draw.Src, nil)
	return out, nil
}

// WritePNG encodes a heatmap.
func WritePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}
