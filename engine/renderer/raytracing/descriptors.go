package raytracing

import "github.com/spaghettifunk/anima-rt/engine/renderer/gpu"

// Descriptor bindings shared with the shaders.
const (
	BindingTopLevel uint32 = iota
	BindingStorageImage
	BindingAccumulationImage
	BindingUniforms
	BindingVertexBuffers
	BindingIndexBuffers
	BindingEnvironment
	BindingMaterials
	BindingInstanceTransforms
)

// MaxObjects bounds the per-object descriptor arrays.
const MaxObjects = 1024

// Bindings is the layout of the ray tracing descriptor set.
func Bindings() []gpu.DescriptorBinding {
	return []gpu.DescriptorBinding{
		{Binding: BindingTopLevel, Type: gpu.DescriptorAccelerationStructure, Count: 1},
		{Binding: BindingStorageImage, Type: gpu.DescriptorStorageImage, Count: 1},
		{Binding: BindingAccumulationImage, Type: gpu.DescriptorStorageImage, Count: 1},
		{Binding: BindingUniforms, Type: gpu.DescriptorUniformBuffer, Count: 1},
		{Binding: BindingVertexBuffers, Type: gpu.DescriptorStorageBuffer, Count: MaxObjects},
		{Binding: BindingIndexBuffers, Type: gpu.DescriptorStorageBuffer, Count: MaxObjects},
		{Binding: BindingEnvironment, Type: gpu.DescriptorCombinedImageSampler, Count: 1},
		{Binding: BindingMaterials, Type: gpu.DescriptorStorageBuffer, Count: MaxObjects},
		{Binding: BindingInstanceTransforms, Type: gpu.DescriptorStorageBuffer, Count: 1},
	}
}

// DescriptorResources is everything bound to one frame slot's set.
type DescriptorResources struct {
	TopLevel     gpu.Handle
	Storage      *gpu.Image
	Accumulation *gpu.Image
	Uniforms     *gpu.Buffer
	Vertices     []*gpu.Buffer
	Indices      []*gpu.Buffer
	Environment  *gpu.Image
	Materials    []*gpu.Buffer
	Instances    *gpu.Buffer
}

// Writes turns r into descriptor writes. Empty arrays and missing resources
// are skipped since their bindings are partially bound.
func (r *DescriptorResources) Writes() []gpu.DescriptorWrite {
	var w []gpu.DescriptorWrite
	if r.TopLevel != gpu.NullHandle {
		w = append(w, gpu.DescriptorWrite{Binding: BindingTopLevel, Type: gpu.DescriptorAccelerationStructure, AccelerationStructure: r.TopLevel})
	}
	image := func(binding uint32, t gpu.DescriptorType, img *gpu.Image) {
		if img != nil {
			w = append(w, gpu.DescriptorWrite{Binding: binding, Type: t, Images: []*gpu.Image{img}})
		}
	}
	buffers := func(binding uint32, bufs ...*gpu.Buffer) {
		if len(bufs) > 0 && bufs[0] != nil {
			w = append(w, gpu.DescriptorWrite{Binding: binding, Type: gpu.DescriptorStorageBuffer, Buffers: bufs})
		}
	}
	image(BindingStorageImage, gpu.DescriptorStorageImage, r.Storage)
	image(BindingAccumulationImage, gpu.DescriptorStorageImage, r.Accumulation)
	if r.Uniforms != nil {
		w = append(w, gpu.DescriptorWrite{Binding: BindingUniforms, Type: gpu.DescriptorUniformBuffer, Buffers: []*gpu.Buffer{r.Uniforms}})
	}
	buffers(BindingVertexBuffers, r.Vertices...)
	buffers(BindingIndexBuffers, r.Indices...)
	image(BindingEnvironment, gpu.DescriptorCombinedImageSampler, r.Environment)
	buffers(BindingMaterials, r.Materials...)
	buffers(BindingInstanceTransforms, r.Instances)
	return w
}

// DescriptorTracker remembers which frame slots hold stale descriptor
// sets. Shared resources changing makes every slot stale; a slot is
// rewritten the next time it records.
type DescriptorTracker struct {
	generation uint64
	written    []uint64
}

func NewDescriptorTracker(slots int) *DescriptorTracker {
	return &DescriptorTracker{generation: 1, written: make([]uint64, slots)}
}

func (t *DescriptorTracker) Invalidate() {
	t.generation++
}

func (t *DescriptorTracker) Stale(slot int) bool {
	return t.written[slot] != t.generation
}

func (t *DescriptorTracker) MarkWritten(slot int) {
	t.written[slot] = t.generation
}
