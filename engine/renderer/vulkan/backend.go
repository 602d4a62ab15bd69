// Package vulkan implements the renderer's device interfaces on top of the
// goki/vulkan binding. Ray tracing entry points are supplied by a
// RayTracingProcs implementation loaded against the logical device.
package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// Backend is a gpu.Device over one Vulkan logical device.
type Backend struct {
	ctx    *Context
	device *Device
	procs  RayTracingProcs
	props  gpu.Properties

	locks   *LockPool
	objects *registry
}

var _ gpu.Device = (*Backend)(nil)

type bufferObject struct {
	buffer vk.Buffer
	memory vk.DeviceMemory
	flags  vk.MemoryPropertyFlags
}

type imageObject struct {
	image   vk.Image
	memory  vk.DeviceMemory
	view    vk.ImageView
	sampler vk.Sampler
}

type pipelineObject struct {
	pipeline  vk.Pipeline
	layout    vk.PipelineLayout
	setLayout vk.DescriptorSetLayout
	pool      vk.DescriptorPool
	sets      []vk.DescriptorSet
	bindings  map[uint32]gpu.DescriptorBinding
}

// New creates the instance, surface and logical device for source and
// resolves the ray tracing entry points. A nil procs selects KHRProcs. A
// device without the entry points is reported as core.ErrRayTracingUnsupported.
func New(source SurfaceSource, cfg ContextConfig, procs RayTracingProcs) (*Backend, error) {
	if procs == nil {
		procs = NewKHRProcs(source.GetInstanceProcAddress())
	}
	ctx, err := NewContext(source, cfg)
	if err != nil {
		return nil, err
	}
	device, err := createDevice(ctx, procs)
	if err != nil {
		ctx.Destroy()
		if errors.Is(err, errNoSuitableDevice) {
			return nil, fmt.Errorf("%w: %v", core.ErrRayTracingUnsupported, err)
		}
		return nil, err
	}
	if err := loadRayTracing(procs, ctx.Instance, device.LogicalDevice); err != nil {
		device.destroy(ctx)
		ctx.Destroy()
		return nil, err
	}

	b := &Backend{
		ctx:     ctx,
		device:  device,
		procs:   procs,
		props:   procs.Properties(ctx.Instance, device.PhysicalDevice),
		locks:   NewLockPool(),
		objects: newRegistry(),
	}
	core.LogInfo("vulkan backend ready",
		"handleSize", b.props.ShaderGroupHandleSize,
		"maxRecursion", b.props.MaxRayRecursionDepth,
		"hostBuilds", b.props.HostAccelerationStructureCommands)
	return b, nil
}

// Context exposes the instance and surface to the presenter.
func (b *Backend) Context() *Context { return b.ctx }

// Device exposes the physical and logical device to the presenter.
func (b *Backend) Device() *Device { return b.device }

// Destroy releases the device and the instance. Every object created
// through the backend must already be destroyed.
func (b *Backend) Destroy() {
	if b.device == nil {
		return
	}
	if n := b.objects.len(); n > 0 {
		core.LogWarn("destroying device with live objects", "count", n)
	}
	vk.DeviceWaitIdle(b.device.LogicalDevice)
	b.device.destroy(b.ctx)
	b.ctx.Destroy()
	b.device = nil
}

func (b *Backend) Properties() gpu.Properties {
	return b.props
}

func (b *Backend) allocate(reqs vk.MemoryRequirements, flags vk.MemoryPropertyFlags, addressable bool) (vk.DeviceMemory, error) {
	reqs.Deref()
	index, err := b.device.findMemoryIndex(reqs.MemoryTypeBits, flags)
	if err != nil {
		return nil, err
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}
	if addressable {
		info.PNext = b.procs.AllocateFlags()
	}
	var memory vk.DeviceMemory
	if err := ResultError("vkAllocateMemory", vk.AllocateMemory(b.device.LogicalDevice, &info, b.ctx.Allocator, &memory)); err != nil {
		return nil, err
	}
	return memory, nil
}

func (b *Backend) CreateBuffer(size uint64, usage gpu.BufferUsage, props gpu.MemoryProperty) (*gpu.Buffer, error) {
	dev := b.device.LogicalDevice
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       bufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}

	obj := &bufferObject{flags: memoryProperties(props)}
	if err := ResultError("vkCreateBuffer", vk.CreateBuffer(dev, &info, b.ctx.Allocator, &obj.buffer)); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, obj.buffer, &reqs)
	addressable := usage&gpu.BufferUsageDeviceAddress != 0
	memory, err := b.allocate(reqs, obj.flags, addressable)
	if err != nil {
		vk.DestroyBuffer(dev, obj.buffer, b.ctx.Allocator)
		return nil, err
	}
	obj.memory = memory
	if err := ResultError("vkBindBufferMemory", vk.BindBufferMemory(dev, obj.buffer, obj.memory, 0)); err != nil {
		vk.DestroyBuffer(dev, obj.buffer, b.ctx.Allocator)
		vk.FreeMemory(dev, obj.memory, b.ctx.Allocator)
		return nil, err
	}

	buf := &gpu.Buffer{
		Handle:   b.objects.add(obj),
		Memory:   b.objects.add(obj.memory),
		Size:     size,
		Usage:    usage,
		Property: props,
	}
	if addressable {
		buf.Address = b.procs.BufferDeviceAddress(dev, obj.buffer)
	}
	return buf, nil
}

func (b *Backend) WriteBuffer(buf *gpu.Buffer, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if buf.Property&gpu.MemoryPropertyHostVisible == 0 {
		return fmt.Errorf("write to buffer %d: memory is not host visible", buf.Handle)
	}
	if offset+uint64(len(data)) > buf.Size {
		return fmt.Errorf("write to buffer %d: %d bytes at %d exceed size %d", buf.Handle, len(data), offset, buf.Size)
	}
	obj, err := lookup[*bufferObject](b.objects, buf.Handle)
	if err != nil {
		return err
	}

	dev := b.device.LogicalDevice
	var ptr unsafe.Pointer
	if err := ResultError("vkMapMemory", vk.MapMemory(dev, obj.memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &ptr)); err != nil {
		return err
	}
	vk.Memcopy(ptr, data)
	if buf.Property&gpu.MemoryPropertyHostCoherent == 0 {
		flush := vk.MappedMemoryRange{
			SType:  vk.StructureTypeMappedMemoryRange,
			Memory: obj.memory,
			Offset: 0,
			Size:   vk.DeviceSize(vk.WholeSize),
		}
		if err := ResultError("vkFlushMappedMemoryRanges", vk.FlushMappedMemoryRanges(dev, 1, []vk.MappedMemoryRange{flush})); err != nil {
			vk.UnmapMemory(dev, obj.memory)
			return err
		}
	}
	vk.UnmapMemory(dev, obj.memory)
	return nil
}

func (b *Backend) DestroyBuffer(buf *gpu.Buffer) {
	obj, ok := take[*bufferObject](b.objects, buf.Handle)
	if !ok {
		return
	}
	b.objects.remove(buf.Memory)
	vk.DestroyBuffer(b.device.LogicalDevice, obj.buffer, b.ctx.Allocator)
	vk.FreeMemory(b.device.LogicalDevice, obj.memory, b.ctx.Allocator)
}

func (b *Backend) AccelerationStructureBuildSizes(info *gpu.BuildGeometryInfo) gpu.BuildSizes {
	return b.procs.BuildSizes(b.device.LogicalDevice, info)
}

func (b *Backend) CreateAccelerationStructure(kind gpu.AccelerationStructureKind, buf *gpu.Buffer, size uint64) (gpu.Handle, error) {
	obj, err := lookup[*bufferObject](b.objects, buf.Handle)
	if err != nil {
		return gpu.NullHandle, err
	}
	as, err := b.procs.CreateAccelerationStructure(b.device.LogicalDevice, kind, obj.buffer, size)
	if err != nil {
		return gpu.NullHandle, fmt.Errorf("create %s level acceleration structure: %w", kind, err)
	}
	return b.objects.add(as), nil
}

func (b *Backend) AccelerationStructureAddress(h gpu.Handle) gpu.DeviceAddress {
	as, err := lookup[AccelerationStructure](b.objects, h)
	if err != nil {
		return 0
	}
	return b.procs.AccelerationStructureAddress(b.device.LogicalDevice, as)
}

func (b *Backend) DestroyAccelerationStructure(h gpu.Handle) {
	if as, ok := take[AccelerationStructure](b.objects, h); ok {
		b.procs.DestroyAccelerationStructure(b.device.LogicalDevice, as)
	}
}

// structures resolves the source and destination of a build. Src is only
// read for updates.
func (b *Backend) structures(info *gpu.BuildGeometryInfo) (src, dst AccelerationStructure, err error) {
	if dst, err = lookup[AccelerationStructure](b.objects, info.Dst); err != nil {
		return nil, nil, err
	}
	if info.Mode == gpu.BuildModeUpdate {
		if src, err = lookup[AccelerationStructure](b.objects, info.Src); err != nil {
			return nil, nil, err
		}
	}
	return src, dst, nil
}

// BuildAccelerationStructureHost is never valid here: build inputs are
// addressed by device address, so Properties reports no host commands and
// every build is recorded into a command buffer.
func (b *Backend) BuildAccelerationStructureHost(info *gpu.BuildGeometryInfo) error {
	return errors.New("host acceleration structure builds are not supported by the vulkan backend")
}

func (b *Backend) Submit(info *gpu.SubmitInfo) error {
	submit := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo}

	cbs := make([]*CommandBuffer, 0, len(info.CommandBuffers))
	for _, c := range info.CommandBuffers {
		cb, ok := c.(*CommandBuffer)
		if !ok || cb.State != CommandBufferStateRecordingEnded {
			return fmt.Errorf("submit: command buffer %d is not ready for submission", c.Handle())
		}
		cbs = append(cbs, cb)
		submit.PCommandBuffers = append(submit.PCommandBuffers, cb.buffer)
	}
	submit.CommandBufferCount = uint32(len(submit.PCommandBuffers))

	for i, h := range info.WaitSemaphores {
		sem, err := b.semaphore(h)
		if err != nil {
			return err
		}
		submit.PWaitSemaphores = append(submit.PWaitSemaphores, sem)
		stage := gpu.PipelineStageAllCommands
		if i < len(info.WaitStages) {
			stage = info.WaitStages[i]
		}
		submit.PWaitDstStageMask = append(submit.PWaitDstStageMask, pipelineStages(stage))
	}
	submit.WaitSemaphoreCount = uint32(len(submit.PWaitSemaphores))

	for _, h := range info.SignalSemaphores {
		sem, err := b.semaphore(h)
		if err != nil {
			return err
		}
		submit.PSignalSemaphores = append(submit.PSignalSemaphores, sem)
	}
	submit.SignalSemaphoreCount = uint32(len(submit.PSignalSemaphores))

	var fence vk.Fence
	if info.Fence != gpu.NullHandle {
		f, err := lookup[vk.Fence](b.objects, info.Fence)
		if err != nil {
			return err
		}
		fence = f
	}

	err := b.locks.SafeCall(QueueManagement, func() error {
		return ResultError("vkQueueSubmit", vk.QueueSubmit(b.device.GraphicsQueue, 1, []vk.SubmitInfo{submit}, fence))
	})
	if err != nil {
		return err
	}
	for _, cb := range cbs {
		cb.State = CommandBufferStateSubmitted
	}
	return nil
}

func (b *Backend) QueueWaitIdle() error {
	return b.locks.SafeCall(QueueManagement, func() error {
		return ResultError("vkQueueWaitIdle", vk.QueueWaitIdle(b.device.GraphicsQueue))
	})
}

func (b *Backend) WaitIdle() error {
	return b.locks.SafeCall(QueueManagement, func() error {
		return ResultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(b.device.LogicalDevice))
	})
}
