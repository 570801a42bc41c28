package main

import (
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"runtime"

	"github.com/gekko3d/lightcluster"
	"github.com/gekko3d/lightcluster/clusterrt/rt/app"
	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/debug"
	"github.com/gekko3d/lightcluster/clusterrt/rt/graph"
	"github.com/gekko3d/lightcluster/clusterrt/rt/scene"
	"github.com/gekko3d/lightcluster/clusterrt/rt/shaders"
	"github.com/gekko3d/lightcluster/clusterrt/rt/telemetry"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	runtime.LockOSThread()
}

type orbit struct {
	id     scene.LightID
	radius float32
	speed  float32
	phase  float32
	height float32
}

// populate fills the registry with a ring of orbiting point lights, a row of
// spot lights and a floor of static casters.
func populate(reg *scene.Registry, points, spots int) []orbit {
	var orbits []orbit
	for i := range points {
		f := float32(i)
		hue := mgl32.Vec3{
			0.5 + 0.5*float32(math.Sin(float64(f))),
			0.5 + 0.5*float32(math.Sin(float64(f)+2)),
			0.5 + 0.5*float32(math.Sin(float64(f)+4)),
		}
		o := orbit{radius: 4 + f*0.75, speed: 0.3 + 0.05*f, phase: f, height: 1 + float32(i%3)}
		o.id = reg.AddLight(core.NewPointLight(hue, 4), mgl32.Translate3D(o.radius, o.height, 0))
		orbits = append(orbits, o)
	}
	for i := range spots {
		x := float32(i)*4 - float32(spots-1)*2
		world := mgl32.Translate3D(x, 6, -4).Mul4(mgl32.HomogRotate3DX(-math.Pi / 3))
		reg.AddLight(core.NewSpotLight(mgl32.Vec3{1, 0.9, 0.7}, 14, 0.3, 0.5), world)
	}
	for x := -3; x <= 3; x++ {
		for z := -3; z <= 3; z++ {
			box := core.NewAABB(mgl32.Vec3{-0.5, 0, -0.5}, mgl32.Vec3{0.5, 1 + float32((x+z+6)%3), 0.5})
			reg.AddCaster(box, mgl32.Translate3D(float32(x)*3, 0, float32(z)*3), true)
		}
	}
	return orbits
}

func main() {
	configPath := flag.String("config", "", "YAML lighting config")
	gltfPath := flag.String("gltf", "", "glTF file with KHR_lights_punctual lights")
	points := flag.Int("points", 24, "procedural point lights")
	spots := flag.Int("spots", 6, "procedural spot lights")
	telemetryAddr := flag.String("telemetry", "", "serve per-frame light stats over websocket on this address")
	debugLog := flag.Bool("debug", false, "log every shadow slot render")
	flag.Parse()

	logger := lightcluster.NewDefaultLogger("lightcluster", *debugLog)
	cfg := lightcluster.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = lightcluster.LoadConfig(*configPath); err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}
	cfg.Debug = cfg.Debug || *debugLog

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "LightCluster Go", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	application := app.NewApp(window)
	if err := application.Init(shaders.Builtin()); err != nil {
		panic(err)
	}
	defer application.Release()

	registry := scene.NewRegistry()
	var orbits []orbit
	if *gltfPath != "" {
		ids, err := registry.LoadGLTFLights(*gltfPath)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		logger.Infof("imported %d lights from %s", len(ids), *gltfPath)
	} else {
		orbits = populate(registry, *points, *spots)
	}

	clusterer, err := lightcluster.New(cfg, application.GPU, logger)
	if err != nil {
		panic(err)
	}
	defer clusterer.Close()
	// Mesh rendering lives outside this module. The headless renderer records
	// the batches the real renderer would draw.
	depth := core.NewHeadlessRenderer()
	lights := core.NewHeadlessRenderer()
	clusterer.SetScene(registry)
	clusterer.SetDepthRenderer(depth)
	clusterer.SetDeferredRenderer(lights)

	g := graph.New()
	bake := func() {
		g.Release(application.GPU)
		g = graph.New()
		if err := clusterer.RegisterPasses(g); err != nil {
			panic(err)
		}
		if err := clusterer.SetupPassResources(g, lightcluster.DeferredPassName); err != nil {
			panic(err)
		}
		if err := g.Bake(application.GPU); err != nil {
			panic(err)
		}
	}
	bake()
	defer func() { g.Release(application.GPU) }()

	var hub *telemetry.Hub
	if *telemetryAddr != "" {
		hub = telemetry.NewHub()
		hub.OnError = func(err error) { logger.Warnf("telemetry: %v", err) }
		defer hub.Close()
		go func() {
			if err := http.ListenAndServe(*telemetryAddr, hub); err != nil {
				logger.Errorf("telemetry server: %v", err)
			}
		}()
		logger.Infof("telemetry on ws://%s", *telemetryAddr)
	}

	camera := core.NewCameraState()
	camera.Position = mgl32.Vec3{0, 8, 24}
	camera.Pitch = -0.3

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyC:
			// Toggle between clustering and depth bins.
			next := clusterer.Config()
			next.ClusteringEnabled = !next.ClusteringEnabled
			if err := clusterer.SetConfig(next); err != nil {
				logger.Errorf("%v", err)
				return
			}
			bake()
		case glfw.KeyL:
			next := clusterer.Config()
			next.ClusteringListMode = !next.ClusteringListMode
			if err := clusterer.SetConfig(next); err != nil {
				logger.Errorf("%v", err)
				return
			}
			bake()
		case glfw.KeyV:
			next := clusterer.Config()
			if next.ShadowType.VSM() {
				next.ShadowType = lightcluster.ShadowPCF
			} else {
				next.ShadowType = lightcluster.ShadowVSM
			}
			if err := clusterer.SetConfig(next); err != nil {
				logger.Errorf("%v", err)
			}
		case glfw.KeyR:
			// Recreate the first light: its shadow is rendered again.
			if len(orbits) > 0 {
				if ref, ok := registry.Light(orbits[0].id); ok {
					if err := registry.ReplaceLight(orbits[0].id, core.NewPointLight(ref.Light.Color, 4)); err != nil {
						logger.Errorf("%v", err)
					}
				}
			}
		case glfw.KeyH:
			dumpHeatmap(clusterer, logger)
		case glfw.KeyP:
			fmt.Print(clusterer.Profiler().GetStatsString())
		}
	})

	start := glfw.GetTime()
	for !window.ShouldClose() {
		glfw.PollEvents()
		t := float32(glfw.GetTime() - start)
		for _, o := range orbits {
			a := float64(o.phase + o.speed*t)
			pos := mgl32.Vec3{o.radius * float32(math.Cos(a)), o.height, o.radius * float32(math.Sin(a))}
			_ = registry.SetTransform(o.id, mgl32.Translate3D(pos[0], pos[1], pos[2]))
		}

		camera.Aspect = application.Aspect()
		params := camera.RenderParameters()
		depth.Reset()
		lights.Reset()
		if err := clusterer.Refresh(&params); err != nil {
			logger.Errorf("refresh: %v", err)
			break
		}
		if err := g.Execute(application.GPU); err != nil {
			logger.Errorf("graph: %v", err)
			break
		}
		if hub != nil {
			clusterer.Publish(hub)
		}
		if err := application.Present(); err != nil {
			logger.Errorf("present: %v", err)
			break
		}
	}
}

func dumpHeatmap(c *lightcluster.LightClusterer, logger lightcluster.Logger) {
	grid := c.ClusterGrid()
	if grid == nil {
		logger.Warnf("heatmap needs the CPU cluster path (clustering_force_cpu or list mode)")
		return
	}
	img, err := debug.Heatmap(grid, grid.ResZ/2, 0, 8)
	if err != nil {
		logger.Errorf("heatmap: %v", err)
		return
	}
	f, err := os.Create("cluster-heatmap.png")
	if err != nil {
		logger.Errorf("heatmap: %v", err)
		return
	}
	defer f.Close()
	if err := debug.WritePNG(f, img); err != nil {
		logger.Errorf("heatmap: %v", err)
		return
	}
	logger.Infof("wrote cluster-heatmap.png")
}
