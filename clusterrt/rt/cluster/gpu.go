package cluster

import (
	"math/bits"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/gekko3d/lightcluster/clusterrt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	CullProgram    = gpu.ComputeProgram("clustering", "cull_main")
	InheritProgram = gpu.ComputeProgram("clustering", "inherit_main")
	CopyProgram    = gpu.ComputeProgram("copy_buffer_to_image_3d", "main")
)

// lightBlock packs a full MaxLights array of lights for a uniform binding.
func lightBlock(lights []core.ShaderInfo) []byte {
	w := &gpu.Std140{}
	for i := range core.MaxLights {
		var info core.ShaderInfo
		if i < len(lights) {
			info = lights[i]
		}
		info.AppendStd140(w)
	}
	return w.Bytes()
}

// spotLUT packs (cos, sin, radius, 0) of every spot cone.
func spotLUT(spots []core.ShaderInfo) []byte {
	w := &gpu.Std140{}
	for i := range core.MaxLights {
		var v mgl32.Vec4
		if i < len(spots) {
			v = mgl32.Vec4{spots[i].ConeCos, spots[i].ConeSin, spots[i].Radius(), 0}
		}
		w.Vec4(v)
	}
	return w.Bytes()
}

// RecordGPU records the coarse cull into prepass, a compute barrier, and the
// fine pass into target which only retests lights the coarse cell kept.
func RecordGPU(cmd *gpu.CommandBuffer, transform mgl32.Mat4, resX, resY, resZ int, spots, points []core.ShaderInfo, target, prepass *gpu.ImageView) {
	recordDispatch(cmd, transform, resX, resY, resZ, spots, points, prepass, nil)
	cmd.ImageBarrier(gpu.WholeImage(prepass.Image, gpu.LayoutGeneral, gpu.LayoutGeneral,
		gpu.StageCompute, gpu.AccessShaderWrite, gpu.StageCompute, gpu.AccessShaderRead))
	recordDispatch(cmd, transform, resX, resY, resZ, spots, points, target, prepass)
}

func recordDispatch(cmd *gpu.CommandBuffer, transform mgl32.Mat4, resX, resY, resZ int, spots, points []core.ShaderInfo, view, preCulled *gpu.ImageView) {
	if preCulled == nil {
		resX /= core.ClusterPrepassDownsample
		resY /= core.ClusterPrepassDownsample
		resZ /= core.ClusterPrepassDownsample
		cmd.SetProgram(CullProgram)
	} else {
		cmd.SetProgram(InheritProgram)
	}
	cmd.SetStorageTexture(0, 0, view)
	if preCulled != nil {
		cmd.SetTexture(0, 1, preCulled, gpu.SamplerNearestWrap)
	}

	cmd.SetConstantData(1, 0, lightBlock(spots))
	cmd.SetConstantData(1, 1, lightBlock(points))
	cmd.SetConstantData(1, 2, spotLUT(spots))

	state := NewAccelState(transform, resX, resY, resZ, nil, nil)
	levels := float32(core.ClusterHierarchies + 1)
	push := &gpu.Std140{}
	push.Mat4(state.InverseTransform).
		UVec4([4]uint32{uint32(resX), uint32(resY), uint32(resZ), uint32(bits.TrailingZeros32(uint32(resZ)))}).
		Vec4(mgl32.Vec4{1 / float32(resX), 1 / float32(resY), 1 / (levels * float32(resZ)), 1}).
		Vec4(state.InvRes.Vec4(state.Radius)).
		Uint(uint32(len(spots))).
		Uint(uint32(len(points))).
		Pad(16)
	cmd.PushConstants(push.Bytes())

	groupsZ := (core.ClusterHierarchies + 1) * ((resZ + 3) / 4)
	cmd.Dispatch(uint32((resX+3)/4), uint32((resY+3)/4), uint32(groupsZ))
}

// RecordCopy records the dispatch copying a staging buffer of RGBA32Uint texels
// into the 3D cluster image.
func RecordCopy(cmd *gpu.CommandBuffer, staging *gpu.Buffer, target *gpu.ImageView, resX, resY, slices int) {
	cmd.SetProgram(CopyProgram)
	cmd.SetStorageTexture(0, 0, target)
	cmd.SetStorageBuffer(0, 1, staging)
	push := &gpu.Std140{}
	push.Uint(uint32(resX)).Uint(uint32(resY)).Uint(uint32(resX)).Uint(uint32(resX * resY))
	cmd.PushConstants(push.Bytes())
	cmd.Dispatch(uint32((resX+7)/8), uint32((resY+7)/8), uint32(slices))
}
