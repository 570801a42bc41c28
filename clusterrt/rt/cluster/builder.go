package cluster

import (
	"errors"
	"fmt"
	"time"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/gekko3d/lightcluster/clusterrt/rt/graph"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	PassName    = "clustering"
	ImageName   = "light-cluster"
	PrepassName = "light-cluster-prepass"
)

var ErrResolution = errors.New("cluster: resolution must be a multiple of the prepass downsample with a power of two depth")

// Options select the cluster grid shape and build path.
type Options struct {
	ResX, ResY, ResZ int
	// ListMode stores per-cell ranges into a compact light list. It is only
	// built on the CPU.
	ListMode bool
	ForceCPU bool
	Workers  int
}

func (o Options) Validate() error {
	const d = core.ClusterPrepassDownsample
	if o.ResX <= 0 || o.ResY <= 0 || o.ResZ <= 0 ||
		o.ResX%d != 0 || o.ResY%d != 0 || o.ResZ%d != 0 || o.ResZ&(o.ResZ-1) != 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrResolution, o.ResX, o.ResY, o.ResZ)
	}
	return nil
}

// UsesCPU reports whether the grid is built by the worker pool.
func (o Options) UsesCPU() bool { return o.ListMode || o.ForceCPU }

func (o Options) Mode() Mode {
	if o.ListMode {
		return ModeList
	}
	return ModeDense
}

// Builder owns the per-frame cluster state and the "clustering" pass.
type Builder struct {
	opts    Options
	dev     gpu.Device
	cpu     *CPUBuilder
	enabled bool

	transform mgl32.Mat4
	spots     []core.ShaderInfo
	points    []core.ShaderInfo

	target  *graph.Resource
	prepass *graph.Resource

	grid    *Grid
	staging *gpu.Buffer
	list    *gpu.Buffer

	buildTime time.Duration
}

func NewBuilder(dev gpu.Device, opts Options) *Builder {
	return &Builder{opts: opts, dev: dev, enabled: true, transform: mgl32.Scale3D(0, 0, 0)}
}

func (b *Builder) Options() Options { return b.opts }

// SetOptions takes effect on the next RegisterPasses.
func (b *Builder) SetOptions(opts Options) {
	if b.cpu != nil && opts.Workers != b.opts.Workers {
		b.cpu.Close()
		b.cpu = nil
	}
	b.opts = opts
}

func (b *Builder) SetEnabled(enabled bool) { b.enabled = enabled }

func (b *Builder) Enabled() bool { return b.enabled }

// Update captures the frame's lights and computes the cluster transform.
func (b *Builder) Update(params *core.RenderParameters, spots, points []core.ShaderInfo) {
	b.spots = append(b.spots[:0], spots...)
	b.points = append(b.points[:0], points...)
	b.transform = Transform(params, len(spots) > 0 || len(points) > 0)
}

// Transform is the world to cluster space transform of the last Update.
func (b *Builder) Transform() mgl32.Mat4 { return b.transform }

// RegisterPasses adds the "clustering" compute pass. The GPU path also writes a
// coarse pre-pass image at a quarter of the resolution.
func (b *Builder) RegisterPasses(g *graph.Graph) error {
	if err := b.opts.Validate(); err != nil {
		return err
	}
	att := graph.AttachmentInfo{
		Format:     gpu.FormatRGBA32Uint,
		Width:      uint32(b.opts.ResX),
		Height:     uint32(b.opts.ResY),
		Depth:      uint32(b.opts.ResZ * (core.ClusterHierarchies + 1)),
		AuxUsage:   gpu.UsageSampled,
		Persistent: true,
	}

	pass := g.AddPass(PassName, graph.QueueCompute)
	pass.ClearResources()
	pass.SetNeedRenderPass(func() bool { return b.enabled })
	if b.opts.UsesCPU() {
		b.target = pass.AddStorageTextureOutput(ImageName, att)
		b.prepass = nil
		pass.SetBuildRenderPass(b.buildCPU)
		return nil
	}

	att.Format = gpu.FormatRG32Uint
	pre := att
	pre.Width /= core.ClusterPrepassDownsample
	pre.Height /= core.ClusterPrepassDownsample
	pre.Depth /= core.ClusterPrepassDownsample
	b.target = pass.AddStorageTextureOutput(ImageName, att)
	b.prepass = pass.AddStorageTextureOutput(PrepassName, pre)
	pass.SetBuildRenderPass(b.buildGPU)
	return nil
}

func (b *Builder) buildGPU(cmd *gpu.CommandBuffer) error {
	start := time.Now()
	defer func() { b.buildTime = time.Since(start) }()
	RecordGPU(cmd, b.transform, b.opts.ResX, b.opts.ResY, b.opts.ResZ, b.spots, b.points, b.target.View(), b.prepass.View())
	return nil
}

func (b *Builder) buildCPU(cmd *gpu.CommandBuffer) error {
	start := time.Now()
	defer func() { b.buildTime = time.Since(start) }()
	if b.cpu == nil {
		b.cpu = NewCPUBuilder(b.opts.Workers)
	}
	b.releaseBuffers()

	b.grid = b.cpu.Build(b.transform, b.opts.ResX, b.opts.ResY, b.opts.ResZ, b.opts.Mode(), b.spots, b.points)

	staging, err := b.dev.CreateBuffer(gpu.BufferDesc{Label: "cluster-staging", Usage: gpu.BufferStorage}, b.grid.Bytes())
	if err != nil {
		return fmt.Errorf("cluster staging buffer: %w", err)
	}
	b.staging = staging
	RecordCopy(cmd, staging, b.target.View(), b.grid.ResX, b.grid.ResY, b.grid.Slices())

	switch {
	case len(b.grid.List) > 0:
		b.list, err = b.dev.CreateBuffer(gpu.BufferDesc{Label: "cluster-list", Usage: gpu.BufferStorage}, b.grid.ListBytes())
	case b.grid.Mode == ModeList:
		// Shaders always bind the list in list mode.
		b.list, err = b.dev.CreateBuffer(gpu.BufferDesc{Label: "cluster-list", Size: 16, Usage: gpu.BufferStorage}, nil)
	}
	if err != nil {
		return fmt.Errorf("cluster list buffer: %w", err)
	}
	return nil
}

func (b *Builder) releaseBuffers() {
	if b.staging != nil {
		b.dev.ReleaseBuffer(b.staging)
		b.staging = nil
	}
	if b.list != nil {
		b.dev.ReleaseBuffer(b.list)
		b.list = nil
	}
}

// Grid is the CPU result of the last build, nil on the GPU path.
func (b *Builder) Grid() *Grid {
	if !b.opts.UsesCPU() {
		return nil
	}
	return b.grid
}

// ClusterImage is the "light-cluster" view, nil before the graph is baked.
func (b *Builder) ClusterImage() *gpu.ImageView {
	if b.target == nil {
		return nil
	}
	return b.target.View()
}

func (b *Builder) PrepassImage() *gpu.ImageView {
	if b.prepass == nil {
		return nil
	}
	return b.prepass.View()
}

// LastBuildTime is the CPU time spent recording or computing the last grid.
func (b *Builder) LastBuildTime() time.Duration { return b.buildTime }

// ListBuffer is the light list of list mode, nil in dense mode.
func (b *Builder) ListBuffer() *gpu.Buffer { return b.list }

// OnDeviceLost forgets device buffers without releasing them.
func (b *Builder) OnDeviceLost() {
	b.staging = nil
	b.list = nil
}

// Close releases buffers and stops the worker pool.
func (b *Builder) Close() {
	b.releaseBuffers()
	if b.cpu != nil {
		b.cpu.Close()
		b.cpu = nil
	}
}
