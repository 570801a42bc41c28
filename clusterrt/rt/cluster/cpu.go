package cluster

import (
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// CPUBuilder computes the cluster grid on a worker pool. One task covers
// core.ClusterPrepassDownsample slices of one cascade.
type CPUBuilder struct {
	pool    worker.DynamicWorkerPool
	workers int

	listMu sync.Mutex
	grid   *Grid
}

func NewCPUBuilder(workers int) *CPUBuilder {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUBuilder{
		pool:    worker.NewDynamicWorkerPool(workers, 256, time.Second),
		workers: workers,
	}
}

func (b *CPUBuilder) Workers() int { return b.workers }

// Close stops the worker pool. The builder cannot be used afterwards.
func (b *CPUBuilder) Close() {
	b.pool.Stop()
}

// Build fills the grid for one frame and returns once every task has
// finished. The returned grid is reused by the next Build.
func (b *CPUBuilder) Build(transform mgl32.Mat4, resX, resY, resZ int, mode Mode, spots, points []core.ShaderInfo) *Grid {
	if b.grid == nil || b.grid.ResX != resX || b.grid.ResY != resY || b.grid.ResZ != resZ {
		b.grid = NewGrid(resX, resY, resZ, mode)
	} else {
		b.grid.reset(mode)
	}
	state := NewAccelState(transform, resX, resY, resZ, spots, points)

	// pool.Wait only returns once workers exit, so a WaitGroup is the per-frame join.
	var wg sync.WaitGroup
	id := 0
	for slice := 0; slice <= core.ClusterHierarchies; slice++ {
		cascade := state.Cascade(slice)
		for cz := 0; cz < resZ; cz += core.ClusterPrepassDownsample {
			wg.Add(1)
			task := slab{b: b, state: state, grid: b.grid, cascade: cascade, cz: cz}
			b.pool.SubmitTask(worker.Task{
				ID: id,
				Do: func() (any, error) {
					defer wg.Done()
					task.run()
					return nil, nil
				},
			})
			id++
		}
	}
	wg.Wait()
	return b.grid
}

// slab is the work of one task.
type slab struct {
	b       *CPUBuilder
	state   *AccelState
	grid    *Grid
	cascade Cascade
	cz      int
}

func (s slab) run() {
	const block = core.ClusterPrepassDownsample
	g := s.grid
	resX, resY, resZ := g.ResX, g.ResY, g.ResZ
	plane := resX * resY
	list := g.Mode == ModeList

	// Cells of this slab, block slices deep.
	out := g.Cells[g.Index(0, 0, s.cz, s.cascade.Index) : g.Index(0, 0, s.cz, s.cascade.Index)+block*plane]
	var (
		local       []uint32
		base        []Cell
		cachedMasks Masks
		cachedNode  Cell
	)
	if list {
		base = make([]Cell, block*plane)
	}

	// Restrict x and y to the frustum footprint at the far end of the slab,
	// plus a small guard band.
	rangeZ := s.cascade.ZBias + 0.5*(float32(s.cz)+block+0.5)/float32(resZ)
	minX, maxX := footprint(rangeZ, resX)
	minY, maxY := footprint(rangeZ, resY)

	pre := s.state.All()
	for cy := minY; cy < maxY; cy += block {
		for cx := minX; cx < maxX; cx += block {
			targetX := min(cx+block, maxX)
			targetY := min(cy+block, maxY)

			coarse := s.state.CellMasks(cx, cy, s.cz, s.cascade, block, pre)
			if coarse.Empty() {
				if !list {
					for sz := 0; sz < block; sz++ {
						for sy := cy; sy < targetY; sy++ {
							row := out[sz*plane+sy*resX:]
							clear(row[cx:targetX])
						}
					}
				}
				continue
			}

			for sz := 0; sz < block; sz++ {
				for sy := cy; sy < targetY; sy++ {
					for sx := cx; sx < targetX; sx++ {
						m := s.state.CellMasks(sx, sy, s.cz+sz, s.cascade, 1, coarse)
						idx := sz*plane + sy*resX + sx
						switch {
						case !list:
							out[idx] = Cell{uint32(m.Spot), uint32(m.Point), 0, 0}
						case m == cachedMasks:
							// Neighbouring cells tend to share lights.
							base[idx] = cachedNode
						default:
							spotStart := uint32(len(local))
							m.Spot.ForEach(func(i int) { local = append(local, uint32(i)) })
							pointStart := uint32(len(local))
							m.Point.ForEach(func(i int) { local = append(local, uint32(i)) })
							node := Cell{spotStart, uint32(m.Spot.Count()), pointStart, uint32(m.Point.Count())}
							base[idx] = node
							cachedMasks, cachedNode = m, node
						}
					}
				}
			}
		}
	}

	if !list {
		return
	}

	s.b.listMu.Lock()
	offset := uint32(len(g.List))
	g.List = append(g.List, local...)
	s.b.listMu.Unlock()

	for i, c := range base {
		out[i] = Cell{c[0] + offset, c[1], c[2] + offset, c[3]}
	}
}

func footprint(rangeZ float32, res int) (int, int) {
	lo := int(math.Floor(float64((0.5 - 0.5*rangeZ) * float32(res))))
	hi := int(math.Ceil(float64((0.5 + 0.5*rangeZ) * float32(res))))
	return max(0, min(lo, res)), max(0, min(hi, res))
}
