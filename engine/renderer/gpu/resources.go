package gpu

// Buffer is a device buffer and its backing allocation. It has a single
// owner, which must call Destroy exactly once.
type Buffer struct {
	Handle   Handle
	Memory   Handle
	Size     uint64
	Usage    BufferUsage
	Property MemoryProperty
	// Address is only valid when Usage includes BufferUsageDeviceAddress.
	Address DeviceAddress
}

// Destroy releases the buffer and its memory. Calling it on a nil or already
// destroyed buffer does nothing.
func (b *Buffer) Destroy(dev Device) {
	if b == nil || b.Handle == NullHandle {
		return
	}
	dev.DestroyBuffer(b)
	b.Handle = NullHandle
	b.Memory = NullHandle
	b.Address = 0
}

type ImageDesc struct {
	Extent  Extent2D
	Format  Format
	Usage   ImageUsage
	Sampled bool
}

// Image is a 2D single-mip color image with its view and, for sampled
// images, a sampler. Layout is the layout the image is left in by the last
// recorded barrier.
type Image struct {
	Handle  Handle
	Memory  Handle
	View    Handle
	Sampler Handle
	Format  Format
	Extent  Extent2D
	Usage   ImageUsage
	Layout  ImageLayout
}

// Destroy releases the image, its view, sampler and memory.
func (img *Image) Destroy(dev Device) {
	if img == nil || img.Handle == NullHandle {
		return
	}
	dev.DestroyImage(img)
	img.Handle = NullHandle
	img.Memory = NullHandle
	img.View = NullHandle
	img.Sampler = NullHandle
	img.Layout = ImageLayoutUndefined
}

type DescriptorType uint8

const (
	DescriptorAccelerationStructure DescriptorType = iota
	DescriptorStorageImage
	DescriptorUniformBuffer
	DescriptorStorageBuffer
	DescriptorCombinedImageSampler
)

// DescriptorBinding declares one binding of the ray tracing descriptor set.
// Count is the array size; arrays may be partially bound.
type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
}

// DescriptorWrite updates one binding. Only the field matching the binding
// type is read.
type DescriptorWrite struct {
	Binding               uint32
	Type                  DescriptorType
	AccelerationStructure Handle
	Images                []*Image
	Buffers               []*Buffer
}

type ShaderStage uint8

const (
	ShaderStageRaygen ShaderStage = iota
	ShaderStageMiss
	ShaderStageClosestHit
)

// ShaderModule is SPIR-V code for one stage, supplied already loaded.
type ShaderModule struct {
	Stage ShaderStage
	Code  []byte
	Entry string
}

// RayTracingPipelineDesc creates a pipeline with one group per module, in order.
type RayTracingPipelineDesc struct {
	Modules           []ShaderModule
	Bindings          []DescriptorBinding
	MaxRecursionDepth uint32
	// SetCount descriptor sets are allocated, one per frame slot.
	SetCount uint32
}

// Pipeline is a ray tracing pipeline together with its layout and one
// descriptor set per frame slot.
type Pipeline struct {
	Handle         Handle
	Layout         Handle
	SetLayout      Handle
	DescriptorPool Handle
	DescriptorSets []Handle
	GroupCount     uint32
}

func (p *Pipeline) Destroy(dev Device) {
	if p == nil || p.Handle == NullHandle {
		return
	}
	dev.DestroyPipeline(p)
	*p = Pipeline{}
}

// SubmitInfo is a single queue submission.
type SubmitInfo struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []Handle
	WaitStages       []PipelineStage
	SignalSemaphores []Handle
	Fence            Handle
}
