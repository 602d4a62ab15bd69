package gpu

// Device is the logical GPU the renderer core drives. Implementations are
// the Vulkan backend and the instrumented fake in gputest. Methods that
// create objects report failures as errors; a NullHandle result with a nil
// error is treated by callers as a failure too.
type Device interface {
	// Properties returns the ray tracing limits of the device.
	Properties() Properties

	// CreateBuffer allocates and binds a buffer. When usage includes
	// BufferUsageDeviceAddress the returned buffer has a valid Address.
	CreateBuffer(size uint64, usage BufferUsage, props MemoryProperty) (*Buffer, error)
	// WriteBuffer copies data into a host-visible buffer at offset.
	WriteBuffer(b *Buffer, offset uint64, data []byte) error
	DestroyBuffer(b *Buffer)

	CreateImage(desc ImageDesc) (*Image, error)
	// UploadImage fills a sampled image with tightly packed pixels and leaves
	// it in ImageLayoutShaderReadOnly. It blocks until the copy retired.
	UploadImage(img *Image, pixels []byte) error
	DestroyImage(img *Image)

	// AccelerationStructureBuildSizes queries the storage and scratch
	// requirements for info. Src, Dst and ScratchAddress are ignored.
	AccelerationStructureBuildSizes(info *BuildGeometryInfo) BuildSizes
	// CreateAccelerationStructure places a structure of size bytes at the start of buf.
	CreateAccelerationStructure(kind AccelerationStructureKind, buf *Buffer, size uint64) (Handle, error)
	AccelerationStructureAddress(as Handle) DeviceAddress
	DestroyAccelerationStructure(as Handle)
	// BuildAccelerationStructureHost runs a build on the calling thread. It is
	// only valid when Properties().HostAccelerationStructureCommands is set.
	BuildAccelerationStructureHost(info *BuildGeometryInfo) error

	CreateRayTracingPipeline(desc *RayTracingPipelineDesc) (*Pipeline, error)
	DestroyPipeline(p *Pipeline)
	// ShaderGroupHandles returns groupCount opaque handles of
	// Properties().ShaderGroupHandleSize bytes each, packed back to back.
	ShaderGroupHandles(p *Pipeline, firstGroup, groupCount uint32) ([]byte, error)
	// UpdateDescriptorSet writes into the descriptor set of frame slot set.
	// The slot's previous submission must have retired.
	UpdateDescriptorSet(p *Pipeline, set int, writes []DescriptorWrite) error

	CreateFence(signaled bool) (Handle, error)
	// WaitForFence blocks until the fence signals or timeoutNs elapses.
	WaitForFence(fence Handle, timeoutNs uint64) error
	ResetFence(fence Handle) error
	DestroyFence(fence Handle)

	CreateSemaphore() (Handle, error)
	DestroySemaphore(sem Handle)

	AllocateCommandBuffer() (CommandBuffer, error)
	FreeCommandBuffer(cb CommandBuffer)

	Submit(info *SubmitInfo) error
	// QueueWaitIdle blocks until the graphics queue drained.
	QueueWaitIdle() error
	// WaitIdle blocks until every queue of the device drained.
	WaitIdle() error
}

// CommandBuffer records GPU commands. Recording starts with Begin and ends
// with End; the buffer may then be submitted. Reset returns it to the
// initial state and must only happen once its last submission retired.
type CommandBuffer interface {
	Handle() Handle
	Begin(singleUse bool) error
	End() error
	Reset() error

	PipelineBarrier(src, dst PipelineStage, memory []MemoryBarrier, images []ImageBarrier)
	BuildAccelerationStructure(info *BuildGeometryInfo)
	BindRayTracingPipeline(p *Pipeline, set int)
	TraceRays(regions *ShaderBindingRegions, width, height, depth uint32)
	ClearColorImage(img Handle, layout ImageLayout, color [4]float32)
	CopyImage(src Handle, srcLayout ImageLayout, dst Handle, dstLayout ImageLayout, extent Extent2D)
	BlitImage(src Handle, srcLayout ImageLayout, srcExtent Extent2D, dst Handle, dstLayout ImageLayout, dstExtent Extent2D, filter Filter)
}

// Presenter is the chain of presentable images. It is owned by a
// collaborator; the renderer core only acquires and presents.
type Presenter interface {
	// AcquireNextImage returns the index of the next image, signalling
	// imageAcquired once it is ready. An out-of-date status means no image
	// was acquired.
	AcquireNextImage(imageAcquired Handle) (uint32, SurfaceStatus, error)
	// Present queues image index for presentation after renderFinished.
	Present(index uint32, renderFinished Handle) (SurfaceStatus, error)
	Image(index uint32) Handle
	ImageCount() uint32
	Extent() Extent2D
	// Recreate rebuilds the chain at extent. The device is idle when called.
	Recreate(extent Extent2D) error
}

// SingleUse records fn into a transient command buffer, submits it and
// blocks until the queue is idle. The command buffer is freed afterwards.
func SingleUse(dev Device, fn func(cb CommandBuffer) error) error {
	cb, err := dev.AllocateCommandBuffer()
	if err != nil {
		return err
	}
	defer dev.FreeCommandBuffer(cb)

	if err := cb.Begin(true); err != nil {
		return err
	}
	if err := fn(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	if err := dev.Submit(&SubmitInfo{CommandBuffers: []CommandBuffer{cb}}); err != nil {
		return err
	}
	return dev.QueueWaitIdle()
}
