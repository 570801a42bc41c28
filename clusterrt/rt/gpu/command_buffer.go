package gpu

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type CommandKind uint8

const (
	CmdImageBarrier CommandKind = iota
	CmdBarrier
	CmdClearImage
	CmdBeginRenderPass
	CmdEndRenderPass
	CmdSetViewport
	CmdSetScissor
	CmdSetProgram
	CmdSetTexture
	CmdSetStorageTexture
	CmdSetStorageBuffer
	CmdSetConstantData
	CmdPushConstants
	CmdDispatch
	CmdDrawQuad
	CmdExecute
)

// Command is one recorded operation. Only the fields relevant to Kind are set.
type Command struct {
	Kind CommandKind

	Barrier   ImageBarrier
	SrcStage  Stage
	SrcAccess Access
	DstStage  Stage
	DstAccess Access

	Image   *Image
	View    *ImageView
	Buffer  *Buffer
	Sampler StockSampler
	Color   [4]float32

	Pass     RenderPassInfo
	Viewport Viewport
	Scissor  Rect
	Program  Program

	Set     uint32
	Binding uint32
	Data    []byte
	Groups  [3]uint32

	Label string
	Fn    func(native any) error
}

// CommandBuffer records work for a Device. Recording never fails; validation
// happens when the buffer is submitted.
type CommandBuffer struct {
	Label string

	cmds         []Command
	inRenderPass bool
}

func NewCommandBuffer(label string) *CommandBuffer {
	return &CommandBuffer{Label: label}
}

func (c *CommandBuffer) Commands() []Command { return c.cmds }

func (c *CommandBuffer) InRenderPass() bool { return c.inRenderPass }

// Filter returns every recorded command of the given kind in order.
func (c *CommandBuffer) Filter(kind CommandKind) []Command {
	var out []Command
	for _, cmd := range c.cmds {
		if cmd.Kind == kind {
			out = append(out, cmd)
		}
	}
	return out
}

func (c *CommandBuffer) Count(kind CommandKind) int {
	n := 0
	for _, cmd := range c.cmds {
		if cmd.Kind == kind {
			n++
		}
	}
	return n
}

func (c *CommandBuffer) ImageBarrier(b ImageBarrier) {
	if b.Layers == 0 && b.Image != nil {
		b.Layers = b.Image.Desc.Layers - b.BaseLayer
	}
	c.cmds = append(c.cmds, Command{Kind: CmdImageBarrier, Barrier: b})
}

// Barrier is a global execution and memory dependency.
func (c *CommandBuffer) Barrier(srcStage Stage, srcAccess Access, dstStage Stage, dstAccess Access) {
	c.cmds = append(c.cmds, Command{Kind: CmdBarrier, SrcStage: srcStage, SrcAccess: srcAccess, DstStage: dstStage, DstAccess: dstAccess})
}

func (c *CommandBuffer) ClearImage(img *Image, color [4]float32) {
	c.cmds = append(c.cmds, Command{Kind: CmdClearImage, Image: img, Color: color})
}

func (c *CommandBuffer) BeginRenderPass(info RenderPassInfo) {
	c.inRenderPass = true
	c.cmds = append(c.cmds, Command{Kind: CmdBeginRenderPass, Pass: info})
}

func (c *CommandBuffer) EndRenderPass() {
	c.inRenderPass = false
	c.cmds = append(c.cmds, Command{Kind: CmdEndRenderPass})
}

func (c *CommandBuffer) SetViewport(vp Viewport) {
	c.cmds = append(c.cmds, Command{Kind: CmdSetViewport, Viewport: vp})
}

func (c *CommandBuffer) SetScissor(r Rect) {
	c.cmds = append(c.cmds, Command{Kind: CmdSetScissor, Scissor: r})
}

// SetProgram binds a pipeline and drops every resource binding of the previous one.
func (c *CommandBuffer) SetProgram(p Program) {
	c.cmds = append(c.cmds, Command{Kind: CmdSetProgram, Program: p})
}

func (c *CommandBuffer) SetTexture(set, binding uint32, view *ImageView, sampler StockSampler) {
	c.cmds = append(c.cmds, Command{Kind: CmdSetTexture, Set: set, Binding: binding, View: view, Sampler: sampler})
}

func (c *CommandBuffer) SetStorageTexture(set, binding uint32, view *ImageView) {
	c.cmds = append(c.cmds, Command{Kind: CmdSetStorageTexture, Set: set, Binding: binding, View: view})
}

func (c *CommandBuffer) SetStorageBuffer(set, binding uint32, buf *Buffer) {
	c.cmds = append(c.cmds, Command{Kind: CmdSetStorageBuffer, Set: set, Binding: binding, Buffer: buf})
}

// SetConstantData binds a small uniform block owned by the command buffer.
func (c *CommandBuffer) SetConstantData(set, binding uint32, data []byte) {
	c.cmds = append(c.cmds, Command{Kind: CmdSetConstantData, Set: set, Binding: binding, Data: data})
}

func (c *CommandBuffer) PushConstants(data []byte) {
	c.cmds = append(c.cmds, Command{Kind: CmdPushConstants, Data: data})
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	c.cmds = append(c.cmds, Command{Kind: CmdDispatch, Groups: [3]uint32{x, y, z}})
}

// DrawQuad draws a fullscreen triangle with the current graphics program.
func (c *CommandBuffer) DrawQuad() {
	c.cmds = append(c.cmds, Command{Kind: CmdDrawQuad})
}

// Execute records a backend specific callback. Inside a render pass native is the
// backend's pass encoder, outside it is the backend's command encoder. The
// headless device passes nil.
func (c *CommandBuffer) Execute(label string, fn func(native any) error) {
	c.cmds = append(c.cmds, Command{Kind: CmdExecute, Label: label, Fn: fn})
}

// Std140 packs values into a little endian uniform block.
type Std140 struct {
	buf []byte
}

func (w *Std140) Bytes() []byte { return w.buf }

func (w *Std140) align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *Std140) Float(v float32) *Std140 {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
	return w
}

func (w *Std140) Uint(v uint32) *Std140 {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Std140) Vec4(v mgl32.Vec4) *Std140 {
	w.align(16)
	for _, f := range v {
		w.Float(f)
	}
	return w
}

func (w *Std140) Vec3Float(v mgl32.Vec3, f float32) *Std140 {
	return w.Vec4(v.Vec4(f))
}

func (w *Std140) UVec4(v [4]uint32) *Std140 {
	w.align(16)
	for _, u := range v {
		w.Uint(u)
	}
	return w
}

func (w *Std140) Mat4(m mgl32.Mat4) *Std140 {
	w.align(16)
	for _, f := range m {
		w.Float(f)
	}
	return w
}

// Pad grows the block to a multiple of n bytes.
func (w *Std140) Pad(n int) *Std140 {
	w.align(n)
	return w
}
