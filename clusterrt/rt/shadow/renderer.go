package shadow

import (
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/lightcluster/clusterrt/rt/atlas"
	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/gekko3d/lightcluster/clusterrt/rt/lightset"
	"github.com/go-gl/mathgl/mgl32"
)

var ErrNoDepthRenderer = errors.New("shadow: no depth renderer")

var (
	DownBlurProgram = gpu.QuadProgram("vsm_down_blur")
	UpBlurProgram   = gpu.QuadProgram("vsm_up_blur")
)

// Near plane of a shadow camera as a fraction of the light radius.
const nearFactor = 0.005

// CasterSource finds shadow casters inside a light camera frustum.
type CasterSource interface {
	GatherStaticShadowCasters(f *core.Frustum, out []core.Renderable) []core.Renderable
	GatherDynamicShadowCasters(f *core.Frustum, out []core.Renderable) []core.Renderable
}

// Result reports what one atlas update did.
type Result struct {
	// Rendered has a bit per active light whose shadow was drawn.
	Rendered core.LightMask
	Created  bool
}

// Renderer draws dirty shadow slots into the atlases of a Cache.
type Renderer struct {
	dev     gpu.Device
	cache   *atlas.Cache
	casters CasterSource
	depth   core.Renderer

	scratchRT    *gpu.Image
	scratchDown  *gpu.Image
	scratchDepth *gpu.Image

	visible []core.Renderable
}

func NewRenderer(dev gpu.Device, cache *atlas.Cache) *Renderer {
	return &Renderer{dev: dev, cache: cache}
}

func (r *Renderer) Cache() *atlas.Cache { return r.cache }

func (r *Renderer) SetCasters(src CasterSource) { r.casters = src }

func (r *Renderer) SetDepthRenderer(depth core.Renderer) { r.depth = depth }

// Configure changes the atlas resolution or shadow type. Atlases and scratch
// images that no longer match are released.
func (r *Renderer) Configure(resolution uint32, vsm bool) bool {
	if !r.cache.Configure(r.dev, resolution, vsm) {
		return false
	}
	r.releaseScratch()
	return true
}

// UpdateSpots reassigns spot slots and renders the dirty ones into the spot
// atlas.
func (r *Renderer) UpdateSpots(frame *lightset.Frame, force bool) (Result, error) {
	plan := r.cache.PlanSpots(frame, force)
	if plan.Skip() {
		return Result{}, nil
	}
	if r.depth == nil {
		return Result{}, ErrNoDepthRenderer
	}
	a := r.cache.Spot
	cmd := r.dev.RequestCommandBuffer("shadow-atlas-spot")
	if plan.Create {
		if err := a.Create(r.dev, cmd); err != nil {
			return Result{}, err
		}
	} else {
		// Slots outside the dirty set keep their shadows on a partial update.
		old := gpu.LayoutUndefined
		if plan.Partial() {
			old = gpu.LayoutShaderReadOnly
		}
		cmd.ImageBarrier(gpu.WholeImage(a.Image(), old, a.AttachmentLayout(),
			gpu.StageFragmentShader, gpu.AccessNone, a.AttachmentStages(), a.AttachmentAccess()))
	}

	res := Result{Created: plan.Create}
	spots := frame.Spots
	for i := range spots.Len() {
		if !plan.Dirty.Has(i) {
			continue
		}
		ref := spots.Ref(i)
		info := spots.Info()[i]
		radius := info.Radius()

		view := core.LookAtArbitraryUp(info.Direction).Mul4(
			mgl32.Translate3D(-info.Position[0], -info.Position[1], -info.Position[2]))
		proj := core.Perspective(SpotFieldOfView(ref.Light), 1, nearFactor*radius, radius)

		slot := r.cache.SpotSlots.Slot(i)
		transform := atlas.SpotAtlasTransform(slot, proj, view)
		r.cache.SpotSlots.Transforms[i] = transform
		frame.BindShadow(core.KindSpot, i, core.ShadowBinding{Atlas: a.View(), SpotTransform: transform})

		params := core.NewRenderParameters(proj, view, nearFactor*radius, radius)
		region := atlas.SpotRegion(slot, a.Resolution)
		if err := r.renderShadow(cmd, a, &params, region, a.View(), gpu.FlagDepthBias); err != nil {
			return res, fmt.Errorf("spot shadow %d: %w", i, err)
		}
		res.Rendered = res.Rendered.Set(i)
	}

	cmd.ImageBarrier(gpu.WholeImage(a.Image(), a.AttachmentLayout(), gpu.LayoutShaderReadOnly,
		a.WriteStage(), a.WriteAccess(), gpu.StageFragmentShader, gpu.AccessShaderRead))
	if err := r.dev.Submit(cmd); err != nil {
		return res, err
	}
	return res, nil
}

// UpdatePoints reassigns point slots and renders the six cube faces of every
// dirty slot into the point atlas.
func (r *Renderer) UpdatePoints(frame *lightset.Frame, force bool) (Result, error) {
	plan := r.cache.PlanPoints(frame, force)
	if plan.Skip() {
		return Result{}, nil
	}
	if r.depth == nil {
		return Result{}, ErrNoDepthRenderer
	}
	a := r.cache.Point
	slots := r.cache.PointSlots
	points := frame.Points
	cmd := r.dev.RequestCommandBuffer("shadow-atlas-point")

	// Barriers on a partial update cover only the cubes being rewritten.
	cubeBarriers := func(from, to gpu.Layout, srcStage gpu.Stage, srcAccess gpu.Access, dstStage gpu.Stage, dstAccess gpu.Access) {
		plan.Dirty.ForEach(func(i int) {
			if i >= points.Len() {
				return
			}
			cmd.ImageBarrier(gpu.ImageBarrier{
				Image:     a.Image(),
				BaseLayer: 6 * slots.Slot(i),
				Layers:    6,
				OldLayout: from,
				NewLayout: to,
				SrcStage:  srcStage,
				SrcAccess: srcAccess,
				DstStage:  dstStage,
				DstAccess: dstAccess,
			})
		})
	}

	switch {
	case plan.Create:
		if err := a.Create(r.dev, cmd); err != nil {
			return Result{}, err
		}
	case plan.Partial():
		cubeBarriers(gpu.LayoutUndefined, a.AttachmentLayout(),
			gpu.StageFragmentShader, gpu.AccessNone, a.AttachmentStages(), a.AttachmentAccess())
	default:
		cmd.ImageBarrier(gpu.WholeImage(a.Image(), gpu.LayoutUndefined, a.AttachmentLayout(),
			gpu.StageFragmentShader, gpu.AccessNone, a.AttachmentStages(), a.AttachmentAccess()))
	}

	res := Result{Created: plan.Create}
	for i := range points.Len() {
		if !plan.Dirty.Has(i) {
			continue
		}
		info := points.Info()[i]
		radius := info.Radius()
		slot := slots.Slot(i)

		for face := range 6 {
			proj, view := core.CubeRenderTransform(info.Position, face, nearFactor*radius, radius)
			if face == 0 {
				transform := atlas.PointTransform(proj, slot)
				slots.Transforms[i] = transform
				frame.BindShadow(core.KindPoint, i, core.ShadowBinding{Atlas: a.View(), PointTransform: transform})
			}
			params := core.NewRenderParameters(proj, view, nearFactor*radius, radius)
			target := a.LayerView(6*slot + uint32(face))
			region := gpu.Rect{Width: a.Resolution, Height: a.Resolution}
			if err := r.renderShadow(cmd, a, &params, region, target, gpu.FlagFrontFaceClockwise|gpu.FlagDepthBias); err != nil {
				return res, fmt.Errorf("point shadow %d face %d: %w", i, face, err)
			}
		}
		res.Rendered = res.Rendered.Set(i)
	}

	if plan.Partial() {
		cubeBarriers(a.AttachmentLayout(), gpu.LayoutShaderReadOnly,
			a.WriteStage(), a.WriteAccess(), gpu.StageFragmentShader, gpu.AccessShaderRead)
	} else {
		cmd.ImageBarrier(gpu.WholeImage(a.Image(), a.AttachmentLayout(), gpu.LayoutShaderReadOnly,
			a.WriteStage(), a.WriteAccess(), gpu.StageFragmentShader, gpu.AccessShaderRead))
	}
	if err := r.dev.Submit(cmd); err != nil {
		return res, err
	}
	return res, nil
}

// renderShadow draws the casters visible from params into region of target.
func (r *Renderer) renderShadow(cmd *gpu.CommandBuffer, a *atlas.Atlas, params *core.RenderParameters, region gpu.Rect, target *gpu.ImageView, flags gpu.RenderFlags) error {
	frustum := params.Frustum()
	r.visible = r.visible[:0]
	if r.casters != nil {
		r.visible = r.casters.GatherStaticShadowCasters(&frustum, r.visible)
		r.visible = r.casters.GatherDynamicShadowCasters(&frustum, r.visible)
	}

	r.depth.Begin()
	if a.VSM {
		r.depth.SetOptions(gpu.OptionShadowVSM)
	} else {
		r.depth.SetOptions(0)
	}
	r.depth.Push(params, r.visible)

	if !a.VSM {
		cmd.BeginRenderPass(gpu.RenderPassInfo{
			Label: "shadow-depth",
			Depth: &gpu.DepthAttachment{View: target, Load: gpu.LoadClear, Store: true, ClearDepth: 1},
			Area:  region,
		})
		cmd.SetViewport(gpu.ViewportFor(region))
		cmd.SetScissor(region)
		if err := r.depth.Flush(cmd, params, flags); err != nil {
			return err
		}
		cmd.EndRenderPass()
		return nil
	}

	if err := r.ensureScratch(a.Resolution); err != nil {
		return err
	}
	for _, img := range []*gpu.Image{r.scratchRT, r.scratchDown} {
		cmd.ImageBarrier(gpu.WholeImage(img, gpu.LayoutUndefined, gpu.LayoutColorAttachment,
			gpu.StageFragmentShader, gpu.AccessNone, gpu.StageColorOutput, gpu.AccessColorWrite))
	}
	cmd.ImageBarrier(gpu.WholeImage(r.scratchDepth, gpu.LayoutUndefined, gpu.LayoutDepthAttachment,
		gpu.StageFragmentShader, gpu.AccessNone,
		gpu.StageEarlyFragmentTests|gpu.StageLateFragmentTests, gpu.AccessDepthStencilWrite))

	far := params.ZFar
	cmd.BeginRenderPass(gpu.RenderPassInfo{
		Label: "shadow-vsm",
		Color: []gpu.ColorAttachment{{View: r.scratchRT.View(), Load: gpu.LoadClear, Store: true, Clear: [4]float32{far, far * far}}},
		Depth: &gpu.DepthAttachment{View: r.scratchDepth.View(), Load: gpu.LoadClear, ClearDepth: 1},
	})
	if err := r.depth.Flush(cmd, params, flags); err != nil {
		return err
	}
	cmd.EndRenderPass()

	cmd.ImageBarrier(gpu.WholeImage(r.scratchRT, gpu.LayoutColorAttachment, gpu.LayoutShaderReadOnly,
		gpu.StageColorOutput, gpu.AccessColorWrite, gpu.StageFragmentShader, gpu.AccessShaderRead))

	cmd.BeginRenderPass(gpu.RenderPassInfo{
		Label: "shadow-vsm-down",
		Color: []gpu.ColorAttachment{{View: r.scratchDown.View(), Load: gpu.LoadDontCare, Store: true}},
	})
	cmd.SetProgram(DownBlurProgram)
	cmd.SetTexture(0, 0, r.scratchRT.View(), gpu.SamplerLinearClamp)
	cmd.PushConstants(blurPush(r.scratchRT, 0, 0))
	cmd.DrawQuad()
	cmd.EndRenderPass()

	cmd.ImageBarrier(gpu.WholeImage(r.scratchDown, gpu.LayoutColorAttachment, gpu.LayoutShaderReadOnly,
		gpu.StageColorOutput, gpu.AccessColorWrite, gpu.StageFragmentShader, gpu.AccessShaderRead))

	cmd.BeginRenderPass(gpu.RenderPassInfo{
		Label: "shadow-vsm-up",
		Color: []gpu.ColorAttachment{{View: target, Load: gpu.LoadLoad, Store: true}},
		Area:  region,
	})
	cmd.SetViewport(gpu.ViewportFor(region))
	cmd.SetScissor(region)
	cmd.SetProgram(UpBlurProgram)
	cmd.SetTexture(0, 0, r.scratchDown.View(), gpu.SamplerLinearClamp)
	cmd.PushConstants(blurPush(r.scratchDown, float32(region.X), float32(region.Y)))
	cmd.DrawQuad()
	cmd.EndRenderPass()
	return nil
}

// blurPush packs the inverse source size and the target region origin.
func blurPush(src *gpu.Image, x, y float32) []byte {
	w := &gpu.Std140{}
	w.Vec4(mgl32.Vec4{1 / float32(src.Width()), 1 / float32(src.Height()), x, y})
	return w.Bytes()
}

func (r *Renderer) ensureScratch(resolution uint32) error {
	if r.scratchRT != nil && r.scratchRT.Width() == resolution {
		return nil
	}
	r.releaseScratch()

	desc := gpu.ImageDesc{
		Label:  "shadow-vsm-rt",
		Width:  resolution,
		Height: resolution,
		Format: gpu.FormatRG32Float,
		Usage:  gpu.UsageColorAttachment | gpu.UsageSampled,
	}
	var err error
	if r.scratchRT, err = r.dev.CreateImage(desc); err != nil {
		return fmt.Errorf("create vsm scratch: %w", err)
	}
	desc.Label = "shadow-vsm-down"
	desc.Width = max(resolution/2, 1)
	desc.Height = max(resolution/2, 1)
	if r.scratchDown, err = r.dev.CreateImage(desc); err != nil {
		return fmt.Errorf("create vsm scratch: %w", err)
	}
	if r.scratchDepth, err = r.dev.CreateImage(gpu.ImageDesc{
		Label:  "shadow-vsm-depth",
		Width:  resolution,
		Height: resolution,
		Format: gpu.FormatD16Unorm,
		Usage:  gpu.UsageDepthAttachment,
	}); err != nil {
		return fmt.Errorf("create vsm scratch: %w", err)
	}
	return nil
}

func (r *Renderer) releaseScratch() {
	for _, img := range []**gpu.Image{&r.scratchRT, &r.scratchDown, &r.scratchDepth} {
		if *img != nil {
			r.dev.ReleaseImage(*img)
			*img = nil
		}
	}
}

// Scratch returns the VSM scratch images, nil until the first VSM render.
func (r *Renderer) Scratch() (rt, down *gpu.Image) { return r.scratchRT, r.scratchDown }

// Disable releases both atlases and forgets every cached shadow.
func (r *Renderer) Disable() {
	r.cache.Release(r.dev)
	r.releaseScratch()
}

// OnDeviceLost forgets device objects without releasing them.
func (r *Renderer) OnDeviceLost() {
	r.cache.Reset()
	r.scratchRT, r.scratchDown, r.scratchDepth = nil, nil, nil
}

// SpotFieldOfView is the vertical field of view of a spot shadow camera.
func SpotFieldOfView(l *core.Light) float32 {
	return float32(math.Min(float64(2*l.XYRange()), math.Pi-1e-3))
}
