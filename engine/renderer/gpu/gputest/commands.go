package gputest

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

type OpKind string

const (
	OpBarrier   OpKind = "barrier"
	OpBuild     OpKind = "build"
	OpBind      OpKind = "bind"
	OpClear     OpKind = "clear"
	OpTraceRays OpKind = "trace-rays"
	OpCopy      OpKind = "copy"
	OpBlit      OpKind = "blit"
)

// Op is one recorded command.
type Op struct {
	Kind      OpKind
	SrcStage  gpu.PipelineStage
	DstStage  gpu.PipelineStage
	Memory    []gpu.MemoryBarrier
	Images    []gpu.ImageBarrier
	Build     *gpu.BuildGeometryInfo
	Regions   *gpu.ShaderBindingRegions
	Width     uint32
	Height    uint32
	Src       gpu.Handle
	SrcLayout gpu.ImageLayout
	Dst       gpu.Handle
	DstLayout gpu.ImageLayout
	SrcExtent gpu.Extent2D
	DstExtent gpu.Extent2D
	Filter    gpu.Filter
	Set       int
}

// CommandBuffer is the fake recording target. Ops holds what was recorded
// since the last Begin.
type CommandBuffer struct {
	dev       *Device
	handle    gpu.Handle
	recording bool
	last      *submission
	Ops       []Op
}

func (c *CommandBuffer) Handle() gpu.Handle {
	return c.handle
}

func (c *CommandBuffer) Begin(singleUse bool) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if c.last != nil && !c.last.retired {
		c.dev.violations = append(c.dev.violations, fmt.Sprintf("begin of command buffer %d still in flight", c.handle))
	}
	c.recording = true
	c.Ops = nil
	c.dev.logLocked(Event{Kind: EventBeginCommands, Handle: c.handle})
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.recording {
		return fmt.Errorf("gputest: end of command buffer %d not recording", c.handle)
	}
	c.recording = false
	return nil
}

func (c *CommandBuffer) Reset() error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	retired := c.last == nil || c.last.retired
	if !retired {
		c.dev.violations = append(c.dev.violations, fmt.Sprintf("reset of command buffer %d before its fence signalled", c.handle))
	}
	c.recording = false
	c.Ops = nil
	c.dev.logLocked(Event{Kind: EventResetCommands, Handle: c.handle, Retired: retired})
	return nil
}

func (c *CommandBuffer) PipelineBarrier(src, dst gpu.PipelineStage, memory []gpu.MemoryBarrier, images []gpu.ImageBarrier) {
	c.Ops = append(c.Ops, Op{
		Kind:     OpBarrier,
		SrcStage: src,
		DstStage: dst,
		Memory:   append([]gpu.MemoryBarrier(nil), memory...),
		Images:   append([]gpu.ImageBarrier(nil), images...),
	})
}

func (c *CommandBuffer) BuildAccelerationStructure(info *gpu.BuildGeometryInfo) {
	cp := *info
	c.Ops = append(c.Ops, Op{Kind: OpBuild, Build: &cp})
}

func (c *CommandBuffer) BindRayTracingPipeline(p *gpu.Pipeline, set int) {
	c.Ops = append(c.Ops, Op{Kind: OpBind, Src: p.Handle, Set: set})
}

func (c *CommandBuffer) ClearColorImage(img gpu.Handle, layout gpu.ImageLayout, color [4]float32) {
	c.Ops = append(c.Ops, Op{Kind: OpClear, Dst: img, DstLayout: layout})
}

func (c *CommandBuffer) TraceRays(regions *gpu.ShaderBindingRegions, width, height, depth uint32) {
	r := *regions
	c.Ops = append(c.Ops, Op{Kind: OpTraceRays, Regions: &r, Width: width, Height: height})
}

func (c *CommandBuffer) CopyImage(src gpu.Handle, srcLayout gpu.ImageLayout, dst gpu.Handle, dstLayout gpu.ImageLayout, extent gpu.Extent2D) {
	c.Ops = append(c.Ops, Op{Kind: OpCopy, Src: src, SrcLayout: srcLayout, Dst: dst, DstLayout: dstLayout, SrcExtent: extent, DstExtent: extent})
}

func (c *CommandBuffer) BlitImage(src gpu.Handle, srcLayout gpu.ImageLayout, srcExtent gpu.Extent2D, dst gpu.Handle, dstLayout gpu.ImageLayout, dstExtent gpu.Extent2D, filter gpu.Filter) {
	c.Ops = append(c.Ops, Op{Kind: OpBlit, Src: src, SrcLayout: srcLayout, SrcExtent: srcExtent, Dst: dst, DstLayout: dstLayout, DstExtent: dstExtent, Filter: filter})
}

// Kinds lists the recorded op kinds in order.
func (c *CommandBuffer) Kinds() []OpKind {
	out := make([]OpKind, len(c.Ops))
	for i, op := range c.Ops {
		out[i] = op.Kind
	}
	return out
}
