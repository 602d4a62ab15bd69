package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

type CommandBufferState int

const (
	CommandBufferStateReady CommandBufferState = iota
	CommandBufferStateRecording
	CommandBufferStateRecordingEnded
	CommandBufferStateSubmitted
	CommandBufferStateNotAllocated
)

func (s CommandBufferState) String() string {
	switch s {
	case CommandBufferStateReady:
		return "ready"
	case CommandBufferStateRecording:
		return "recording"
	case CommandBufferStateRecordingEnded:
		return "recording ended"
	case CommandBufferStateSubmitted:
		return "submitted"
	default:
		return "not allocated"
	}
}

// CommandBuffer is a primary command buffer from the graphics pool.
// Recording methods that cannot resolve a handle record nothing and keep
// the first such error; End reports it.
type CommandBuffer struct {
	backend *Backend
	handle  gpu.Handle
	buffer  vk.CommandBuffer
	State   CommandBufferState
	err     error
}

var _ gpu.CommandBuffer = (*CommandBuffer)(nil)

func (b *Backend) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	cb := &CommandBuffer{backend: b, State: CommandBufferStateNotAllocated}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        b.device.CommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	err := b.locks.SafeCall(CommandPoolManagement, func() error {
		return ResultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(b.device.LogicalDevice, &info, buffers))
	})
	if err != nil {
		return nil, err
	}
	cb.buffer = buffers[0]
	cb.handle = b.objects.add(cb)
	cb.State = CommandBufferStateReady
	return cb, nil
}

func (b *Backend) FreeCommandBuffer(c gpu.CommandBuffer) {
	cb, ok := take[*CommandBuffer](b.objects, c.Handle())
	if !ok {
		return
	}
	_ = b.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(b.device.LogicalDevice, b.device.CommandPool, 1, []vk.CommandBuffer{cb.buffer})
		return nil
	})
	cb.buffer = nil
	cb.State = CommandBufferStateNotAllocated
}

func (cb *CommandBuffer) Handle() gpu.Handle {
	return cb.handle
}

func (cb *CommandBuffer) Begin(singleUse bool) error {
	if cb.State != CommandBufferStateReady {
		return fmt.Errorf("begin command buffer %d: state is %s", cb.handle, cb.State)
	}
	info := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if singleUse {
		info.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if err := ResultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(cb.buffer, &info)); err != nil {
		return err
	}
	cb.err = nil
	cb.State = CommandBufferStateRecording
	return nil
}

func (cb *CommandBuffer) End() error {
	if cb.State != CommandBufferStateRecording {
		return fmt.Errorf("end command buffer %d: state is %s", cb.handle, cb.State)
	}
	if err := ResultError("vkEndCommandBuffer", vk.EndCommandBuffer(cb.buffer)); err != nil {
		return err
	}
	cb.State = CommandBufferStateRecordingEnded
	return cb.err
}

func (cb *CommandBuffer) Reset() error {
	if err := ResultError("vkResetCommandBuffer", vk.ResetCommandBuffer(cb.buffer, 0)); err != nil {
		return err
	}
	cb.State = CommandBufferStateReady
	cb.err = nil
	return nil
}

func (cb *CommandBuffer) fail(op string, err error) {
	if cb.err == nil {
		cb.err = fmt.Errorf("%s: %w", op, err)
		core.LogError(cb.err.Error(), "commandBuffer", cb.handle)
	}
}

func (cb *CommandBuffer) PipelineBarrier(src, dst gpu.PipelineStage, memory []gpu.MemoryBarrier, images []gpu.ImageBarrier) {
	memoryBarriers := make([]vk.MemoryBarrier, len(memory))
	for i, m := range memory {
		memoryBarriers[i] = vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: accessFlags(m.SrcAccess),
			DstAccessMask: accessFlags(m.DstAccess),
		}
	}
	imageBarriers := make([]vk.ImageMemoryBarrier, 0, len(images))
	for _, ib := range images {
		img, err := cb.backend.image(ib.Image)
		if err != nil {
			cb.fail("pipeline barrier", err)
			return
		}
		imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       accessFlags(ib.SrcAccess),
			DstAccessMask:       accessFlags(ib.DstAccess),
			OldLayout:           imageLayout(ib.OldLayout),
			NewLayout:           imageLayout(ib.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img,
			SubresourceRange:    colorSubresource,
		})
	}
	vk.CmdPipelineBarrier(cb.buffer,
		pipelineStages(src), pipelineStages(dst), 0,
		uint32(len(memoryBarriers)), memoryBarriers,
		0, nil,
		uint32(len(imageBarriers)), imageBarriers)
}

func (cb *CommandBuffer) BuildAccelerationStructure(info *gpu.BuildGeometryInfo) {
	src, dst, err := cb.backend.structures(info)
	if err != nil {
		cb.fail("build acceleration structure", err)
		return
	}
	cb.backend.procs.CmdBuild(cb.buffer, info, src, dst)
}

func (cb *CommandBuffer) BindRayTracingPipeline(p *gpu.Pipeline, set int) {
	obj, err := lookup[*pipelineObject](cb.backend.objects, p.Handle)
	if err != nil {
		cb.fail("bind pipeline", err)
		return
	}
	if set < 0 || set >= len(obj.sets) {
		cb.fail("bind pipeline", fmt.Errorf("descriptor set %d out of range [0,%d)", set, len(obj.sets)))
		return
	}
	bindPoint := vk.PipelineBindPoint(pipelineBindPointRayTracing)
	vk.CmdBindPipeline(cb.buffer, bindPoint, obj.pipeline)
	vk.CmdBindDescriptorSets(cb.buffer, bindPoint, obj.layout, 0, 1, []vk.DescriptorSet{obj.sets[set]}, 0, nil)
}

func (cb *CommandBuffer) TraceRays(regions *gpu.ShaderBindingRegions, width, height, depth uint32) {
	cb.backend.procs.CmdTraceRays(cb.buffer, regions, width, height, depth)
}

func (cb *CommandBuffer) ClearColorImage(h gpu.Handle, layout gpu.ImageLayout, color [4]float32) {
	img, err := cb.backend.image(h)
	if err != nil {
		cb.fail("clear color image", err)
		return
	}
	var clear vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&clear)) = color
	vk.CmdClearColorImage(cb.buffer, img, imageLayout(layout), &clear, 1, []vk.ImageSubresourceRange{colorSubresource})
}

func (cb *CommandBuffer) CopyImage(src gpu.Handle, srcLayout gpu.ImageLayout, dst gpu.Handle, dstLayout gpu.ImageLayout, extent gpu.Extent2D) {
	srcImg, err := cb.backend.image(src)
	if err != nil {
		cb.fail("copy image", err)
		return
	}
	dstImg, err := cb.backend.image(dst)
	if err != nil {
		cb.fail("copy image", err)
		return
	}
	region := vk.ImageCopy{
		SrcSubresource: colorLayers,
		DstSubresource: colorLayers,
		Extent:         vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
	}
	vk.CmdCopyImage(cb.buffer, srcImg, imageLayout(srcLayout), dstImg, imageLayout(dstLayout), 1, []vk.ImageCopy{region})
}

func (cb *CommandBuffer) BlitImage(src gpu.Handle, srcLayout gpu.ImageLayout, srcExtent gpu.Extent2D, dst gpu.Handle, dstLayout gpu.ImageLayout, dstExtent gpu.Extent2D, filter gpu.Filter) {
	srcImg, err := cb.backend.image(src)
	if err != nil {
		cb.fail("blit image", err)
		return
	}
	dstImg, err := cb.backend.image(dst)
	if err != nil {
		cb.fail("blit image", err)
		return
	}
	region := vk.ImageBlit{
		SrcSubresource: colorLayers,
		SrcOffsets:     [2]vk.Offset3D{{}, {X: int32(srcExtent.Width), Y: int32(srcExtent.Height), Z: 1}},
		DstSubresource: colorLayers,
		DstOffsets:     [2]vk.Offset3D{{}, {X: int32(dstExtent.Width), Y: int32(dstExtent.Height), Z: 1}},
	}
	vkFilter := vk.FilterNearest
	if filter == gpu.FilterLinear {
		vkFilter = vk.FilterLinear
	}
	vk.CmdBlitImage(cb.buffer, srcImg, imageLayout(srcLayout), dstImg, imageLayout(dstLayout), 1, []vk.ImageBlit{region}, vkFilter)
}

func (cb *CommandBuffer) copyBufferToImage(src vk.Buffer, dst vk.Image, extent gpu.Extent2D) {
	region := vk.BufferImageCopy{
		ImageSubresource: colorLayers,
		ImageExtent:      vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(cb.buffer, src, dst, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}
