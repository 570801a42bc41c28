package cluster

import (
	"encoding/binary"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
)

type Mode uint8

const (
	// ModeDense stores (spot mask, point mask, 0, 0) per cell.
	ModeDense Mode = iota
	// ModeList stores (spot offset, spot count, point offset, point count) per
	// cell, indexing the shared light list.
	ModeList
)

func (m Mode) String() string {
	if m == ModeList {
		return "list"
	}
	return "dense"
}

// Cell is one RGBA32Uint texel of the cluster image.
type Cell [4]uint32

// Grid is the CPU side cluster image, ResZ slices per cascade stacked along z.
type Grid struct {
	ResX, ResY, ResZ int
	Mode             Mode

	Cells []Cell
	List  []uint32
}

func NewGrid(resX, resY, resZ int, mode Mode) *Grid {
	g := &Grid{ResX: resX, ResY: resY, ResZ: resZ, Mode: mode}
	g.Cells = make([]Cell, resX*resY*g.Slices())
	return g
}

// Slices is the depth of the cluster image.
func (g *Grid) Slices() int { return g.ResZ * (core.ClusterHierarchies + 1) }

func (g *Grid) Index(x, y, z, cascade int) int {
	return ((cascade*g.ResZ+z)*g.ResY+y)*g.ResX + x
}

func (g *Grid) Cell(x, y, z, cascade int) Cell {
	return g.Cells[g.Index(x, y, z, cascade)]
}

// Lookup decodes a cell into light masks in either mode.
func (g *Grid) Lookup(x, y, z, cascade int) Masks {
	c := g.Cell(x, y, z, cascade)
	if g.Mode == ModeDense {
		return Masks{Spot: core.LightMask(c[0]), Point: core.LightMask(c[1])}
	}
	var m Masks
	for _, i := range g.List[c[0] : c[0]+c[1]] {
		m.Spot = m.Spot.Set(int(i))
	}
	for _, i := range g.List[c[2] : c[2]+c[3]] {
		m.Point = m.Point.Set(int(i))
	}
	return m
}

// reset prepares the grid for another build of the same shape.
func (g *Grid) reset(mode Mode) {
	g.Mode = mode
	clear(g.Cells)
	g.List = g.List[:0]
}

// Bytes returns the little endian texel data of the whole image.
func (g *Grid) Bytes() []byte {
	out := make([]byte, 0, len(g.Cells)*16)
	for _, c := range g.Cells {
		for _, v := range c {
			out = binary.LittleEndian.AppendUint32(out, v)
		}
	}
	return out
}

// ListBytes returns the light list as a storage buffer payload.
func (g *Grid) ListBytes() []byte {
	out := make([]byte, 0, len(g.List)*4)
	for _, v := range g.List {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}
