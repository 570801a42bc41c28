package lightcluster

import (
	"fmt"

	"github.com/gekko3d/lightcluster/clusterrt/rt/app"
	"github.com/gekko3d/lightcluster/clusterrt/rt/atlas"
	"github.com/gekko3d/lightcluster/clusterrt/rt/cluster"
	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/deferred"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/gekko3d/lightcluster/clusterrt/rt/graph"
	"github.com/gekko3d/lightcluster/clusterrt/rt/lightset"
	"github.com/gekko3d/lightcluster/clusterrt/rt/shadow"
	"github.com/gekko3d/lightcluster/clusterrt/rt/telemetry"
	"github.com/go-gl/mathgl/mgl32"
)

// DeferredPassName is the graphics pass drawing deferred light volumes.
const DeferredPassName = "deferred-lights"

// Profiler scopes.
const (
	ScopeLightSet   = "LightSet"
	ScopeAtlasSpot  = "Atlas Spot"
	ScopeAtlasPoint = "Atlas Point"
	ScopeClusterCPU = "Cluster CPU"
	ScopeClusterGPU = "Cluster GPU"
	ScopeDepthBins  = "Depth Bins"
)

// Scene supplies the lights and shadow casters of a frame.
type Scene interface {
	lightset.Source
	shadow.CasterSource
}

// LightClusterer runs the per-frame light pipeline: light set, shadow atlases,
// then either the cluster grid or the deferred depth bins.
type LightClusterer struct {
	cfg   Config
	dev   gpu.Device
	log   Logger
	scene Scene

	lights   *lightset.Builder
	frame    *lightset.Frame
	shadows  *shadow.Renderer
	cluster  *cluster.Builder
	stencil  *deferred.StencilCuller
	profiler *app.Profiler

	depth    core.Renderer
	deferred core.Renderer

	params   core.RenderParameters
	refs     []core.LightRef
	frameNum uint64
	spotRes  shadow.Result
	pointRes shadow.Result
}

// New validates cfg and builds an idle clusterer. A nil logger discards output.
func New(cfg Config, dev gpu.Device, logger Logger) (*LightClusterer, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if cfg.Debug {
		logger.SetDebug(true)
	}

	c := &LightClusterer{
		cfg:      cfg,
		dev:      dev,
		log:      logger,
		lights:   lightset.NewBuilder(cfg.MaxSpotLights, cfg.MaxPointLights),
		shadows:  shadow.NewRenderer(dev, atlas.NewCache(cfg.ShadowResolution, cfg.ShadowType.VSM())),
		cluster:  cluster.NewBuilder(dev, cfg.ClusterOptions()),
		stencil:  deferred.NewStencilCuller(),
		profiler: app.NewProfiler(),
	}
	c.frame = c.lights.Frame()
	c.cluster.SetEnabled(cfg.ClusteringEnabled)
	return c, nil
}

func (c *LightClusterer) SetScene(s Scene) {
	c.scene = s
	c.shadows.SetCasters(s)
}

// SetDepthRenderer sets the renderer of shadow casters and of the stencil
// prepass light volumes.
func (c *LightClusterer) SetDepthRenderer(r core.Renderer) {
	c.depth = r
	c.shadows.SetDepthRenderer(r)
	c.stencil.SetRenderers(c.depth, c.deferred)
}

// SetDeferredRenderer sets the renderer of deferred light volumes.
func (c *LightClusterer) SetDeferredRenderer(r core.Renderer) {
	c.deferred = r
	c.stencil.SetRenderers(c.depth, c.deferred)
}

func (c *LightClusterer) Config() Config { return c.cfg }

// SetConfig swaps the configuration between frames. Shadow format changes
// release the atlases. Cluster grid changes need RegisterPasses and a bake.
func (c *LightClusterer) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	old := c.cfg
	c.cfg = cfg
	c.log.SetDebug(cfg.Debug)

	c.lights.MaxSpotLights = cfg.MaxSpotLights
	c.lights.MaxPointLights = cfg.MaxPointLights
	if c.shadows.Configure(cfg.ShadowResolution, cfg.ShadowType.VSM()) {
		c.log.Infof("shadow atlas format changed to %d (%s)", cfg.ShadowResolution, cfg.ShadowType)
	}
	if old.ClusterOptions() != cfg.ClusterOptions() {
		c.cluster.SetOptions(cfg.ClusterOptions())
		c.log.Infof("cluster grid changed to %dx%dx%d %s, passes must be registered again",
			cfg.ClusterResolution.X, cfg.ClusterResolution.Y, cfg.ClusterResolution.Z, cfg.ClusterOptions().Mode())
	}
	c.cluster.SetEnabled(cfg.ClusteringEnabled)
	return nil
}

// RegisterPasses adds the clustering pass when clustering is enabled and the
// deferred light pass.
func (c *LightClusterer) RegisterPasses(g *graph.Graph) error {
	if c.cfg.ClusteringEnabled {
		if err := c.cluster.RegisterPasses(g); err != nil {
			return fmt.Errorf("register clustering: %w", err)
		}
	}
	pass := g.AddPass(DeferredPassName, graph.QueueGraphics)
	pass.ClearResources()
	pass.SetNeedRenderPass(func() bool { return c.deferred != nil })
	pass.SetBuildRenderPass(c.buildDeferred)
	return nil
}

// SetupPassResources declares the cluster image as a texture input of the
// consumer pass, so the graph orders it after clustering.
func (c *LightClusterer) SetupPassResources(g *graph.Graph, consumer string) error {
	pass, ok := g.Pass(consumer)
	if !ok {
		return fmt.Errorf("setup light resources: unknown pass %q", consumer)
	}
	if !c.cfg.ClusteringEnabled {
		return nil
	}
	pass.AddTextureInput(cluster.ImageName)
	return nil
}

func (c *LightClusterer) buildDeferred(cmd *gpu.CommandBuffer) error {
	if err := c.stencil.RenderPrepass(cmd, &c.params); err != nil {
		return err
	}
	var opts gpu.RenderOptions
	if c.cfg.ShadowsEnabled && c.cfg.ShadowType.VSM() {
		opts |= gpu.OptionShadowVSM
	}
	return c.stencil.RenderLights(cmd, &c.params, opts)
}

// Refresh runs the light pipeline for one frame. Shadow atlas work is
// submitted before it returns. The cluster grid is built when the graph
// executes the clustering pass.
func (c *LightClusterer) Refresh(params *core.RenderParameters) error {
	if c.scene == nil {
		return ErrNoScene
	}
	c.frameNum++
	c.params = *params
	c.profiler.Reset()
	if c.cfg.ClusteringEnabled {
		// Timed during the previous graph execution.
		scope := ScopeClusterGPU
		if c.cfg.ClusterOptions().UsesCPU() {
			scope = ScopeClusterCPU
		}
		c.profiler.Record(scope, c.cluster.LastBuildTime())
	}

	end := c.profiler.Scope(ScopeLightSet)
	frustum := params.Frustum()
	c.frame = c.lights.Build(c.scene, &frustum)
	end()
	if c.frame.DroppedSpots > 0 || c.frame.DroppedPoints > 0 {
		c.log.Debugf("light budget exceeded: dropped %d spot and %d point lights", c.frame.DroppedSpots, c.frame.DroppedPoints)
	}

	if err := c.refreshShadows(); err != nil {
		return err
	}

	c.cluster.Update(params, c.frame.Spots.Info(), c.frame.Points.Info())

	end = c.profiler.Scope(ScopeDepthBins)
	c.stencil.SetEnabled(!c.cfg.ClusteringEnabled && c.cfg.DeferredStencilCulling)
	c.refs = append(append(c.refs[:0], c.frame.Spots.Refs()...), c.frame.Points.Refs()...)
	c.stencil.Refresh(c.refs, params)
	end()

	c.profiler.SetCount("Active Spots", c.frame.Spots.Len())
	c.profiler.SetCount("Active Points", c.frame.Points.Len())
	c.profiler.SetCount("Dirty Slots", c.spotRes.Rendered.Count()+c.pointRes.Rendered.Count())
	if g := c.cluster.Grid(); g != nil && c.cfg.ClusteringEnabled {
		c.profiler.SetCount("List Entries", len(g.List))
	}
	return nil
}

func (c *LightClusterer) refreshShadows() error {
	c.spotRes, c.pointRes = shadow.Result{}, shadow.Result{}
	cache := c.shadows.Cache()
	if !c.cfg.ShadowsEnabled {
		if cache.Spot.Exists() || cache.Point.Exists() {
			c.shadows.Disable()
			c.log.Infof("shadows disabled, atlases released")
		}
		return nil
	}

	var err error
	end := c.profiler.Scope(ScopeAtlasSpot)
	c.spotRes, err = c.shadows.UpdateSpots(c.frame, c.cfg.ForceShadowUpdate)
	end()
	if err != nil {
		c.log.Errorf("spot shadow update failed: %v", err)
		return fmt.Errorf("spot shadows: %w", err)
	}
	c.logShadows(core.KindSpot, c.spotRes, cache.SpotSlots.Slot)

	end = c.profiler.Scope(ScopeAtlasPoint)
	c.pointRes, err = c.shadows.UpdatePoints(c.frame, c.cfg.ForceShadowUpdate)
	end()
	if err != nil {
		c.log.Errorf("point shadow update failed: %v", err)
		return fmt.Errorf("point shadows: %w", err)
	}
	c.logShadows(core.KindPoint, c.pointRes, cache.PointSlots.Slot)
	return nil
}

func (c *LightClusterer) logShadows(kind core.Kind, res shadow.Result, slot func(int) uint32) {
	if res.Created {
		c.log.Infof("created %s shadow atlas, %d texels per slot (%s)", kind, c.cfg.ShadowResolution, c.cfg.ShadowType)
	}
	if !c.log.DebugEnabled() {
		return
	}
	res.Rendered.ForEach(func(i int) {
		c.log.Debugf("frame %d: %s light %d shadow rendered into slot %d", c.frameNum, kind, i, slot(i))
	})
}

// OnDeviceLost forgets every device object. Atlases are recreated on the next
// Refresh and the graph must be baked again.
func (c *LightClusterer) OnDeviceLost() {
	c.log.Warnf("device lost, resetting shadow atlases and cluster buffers")
	c.shadows.OnDeviceLost()
	c.cluster.OnDeviceLost()
}

// Close releases the atlases and cluster buffers and stops the worker pool.
func (c *LightClusterer) Close() {
	c.shadows.Disable()
	c.cluster.Close()
}

// Frame is the light set of the last Refresh.
func (c *LightClusterer) Frame() *lightset.Frame { return c.frame }

func (c *LightClusterer) SpotLights() []core.ShaderInfo { return c.frame.Spots.Info() }

func (c *LightClusterer) PointLights() []core.ShaderInfo { return c.frame.Points.Info() }

// SpotAtlas is the spot shadow atlas view, nil while shadows are off.
func (c *LightClusterer) SpotAtlas() *gpu.ImageView { return c.shadows.Cache().Spot.View() }

// PointAtlas is the point shadow cube array view, nil while shadows are off.
func (c *LightClusterer) PointAtlas() *gpu.ImageView { return c.shadows.Cache().Point.View() }

// ShadowBinding returns the shadow of the active light carrying cookie, nil if
// the light is not active or has no shadow this frame.
func (c *LightClusterer) ShadowBinding(cookie core.Cookie) *core.ShadowBinding {
	return c.frame.ShadowByCookie(cookie)
}

// SpotShadowTransforms returns the atlas transform of each active spot light.
func (c *LightClusterer) SpotShadowTransforms() []mgl32.Mat4 {
	if !c.cfg.ShadowsEnabled {
		return nil
	}
	return c.shadows.Cache().SpotSlots.Transforms[:c.frame.Spots.Len()]
}

// PointShadowTransforms returns the cube transform of each active point light.
func (c *LightClusterer) PointShadowTransforms() []core.PointShadowTransform {
	if !c.cfg.ShadowsEnabled {
		return nil
	}
	return c.shadows.Cache().PointSlots.Transforms[:c.frame.Points.Len()]
}

func (c *LightClusterer) ClusterImage() *gpu.ImageView { return c.cluster.ClusterImage() }

func (c *LightClusterer) ClusterPrepass() *gpu.ImageView { return c.cluster.PrepassImage() }

func (c *LightClusterer) ClusterListBuffer() *gpu.Buffer { return c.cluster.ListBuffer() }

func (c *LightClusterer) ClusterTransform() mgl32.Mat4 { return c.cluster.Transform() }

// ClusterGrid is the CPU grid of the last build, nil on the GPU path.
func (c *LightClusterer) ClusterGrid() *cluster.Grid { return c.cluster.Grid() }

func (c *LightClusterer) DepthBins() *deferred.Bins { return c.stencil.Bins() }

func (c *LightClusterer) StencilCuller() *deferred.StencilCuller { return c.stencil }

func (c *LightClusterer) Profiler() *app.Profiler { return c.profiler }

// Stats is the per-frame summary published to telemetry clients.
type Stats struct {
	Frame         uint64 `json:"frame"`
	SpotLights    int    `json:"spot_lights"`
	PointLights   int    `json:"point_lights"`
	DroppedSpots  int    `json:"dropped_spots"`
	DroppedPoints int    `json:"dropped_points"`

	SpotShadowsRendered  int  `json:"spot_shadows_rendered"`
	PointShadowsRendered int  `json:"point_shadows_rendered"`
	ShadowsEnabled       bool `json:"shadows_enabled"`

	ClusterMode string `json:"cluster_mode"`
	ClusterPath string `json:"cluster_path"`
	ListEntries int    `json:"list_entries"`

	DepthBins [core.NumDepthBins]int `json:"depth_bins"`
	Clipped   int                    `json:"clipped"`

	TimingsMS map[string]float64 `json:"timings_ms"`
}

func (c *LightClusterer) Stats() Stats {
	s := Stats{
		Frame:                c.frameNum,
		SpotLights:           c.frame.Spots.Len(),
		PointLights:          c.frame.Points.Len(),
		DroppedSpots:         c.frame.DroppedSpots,
		DroppedPoints:        c.frame.DroppedPoints,
		SpotShadowsRendered:  c.spotRes.Rendered.Count(),
		PointShadowsRendered: c.pointRes.Rendered.Count(),
		ShadowsEnabled:       c.cfg.ShadowsEnabled,
		ClusterMode:          "off",
		TimingsMS:            c.profiler.Milliseconds(),
	}
	if c.cfg.ClusteringEnabled {
		opts := c.cfg.ClusterOptions()
		s.ClusterMode = opts.Mode().String()
		s.ClusterPath = "gpu"
		if opts.UsesCPU() {
			s.ClusterPath = "cpu"
		}
		if g := c.cluster.Grid(); g != nil {
			s.ListEntries = len(g.List)
		}
	}
	bins := c.stencil.Bins()
	for i := range bins.Bins {
		s.DepthBins[i] = len(bins.Bins[i])
	}
	s.Clipped = len(bins.Clipped)
	return s
}

// Publish broadcasts Stats to every telemetry client and returns how many
// received it.
func (c *LightClusterer) Publish(hub *telemetry.Hub) int {
	return hub.Broadcast(c.Stats())
}
