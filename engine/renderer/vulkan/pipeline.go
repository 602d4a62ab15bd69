package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// CreateRayTracingPipeline builds the pipeline, its layout and one
// descriptor set per frame slot. Shader modules only live for the duration
// of the call.
func (b *Backend) CreateRayTracingPipeline(desc *gpu.RayTracingPipelineDesc) (*gpu.Pipeline, error) {
	if desc.MaxRecursionDepth > b.props.MaxRayRecursionDepth {
		return nil, fmt.Errorf("create ray tracing pipeline: recursion depth %d exceeds device limit %d",
			desc.MaxRecursionDepth, b.props.MaxRayRecursionDepth)
	}
	dev := b.device.LogicalDevice
	obj := &pipelineObject{bindings: make(map[uint32]gpu.DescriptorBinding, len(desc.Bindings))}
	for _, binding := range desc.Bindings {
		obj.bindings[binding.Binding] = binding
	}

	setLayout, err := b.createSetLayout(desc.Bindings)
	if err != nil {
		return nil, err
	}
	obj.setLayout = setLayout

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{obj.setLayout},
	}
	if err := ResultError("vkCreatePipelineLayout", vk.CreatePipelineLayout(dev, &layoutInfo, b.ctx.Allocator, &obj.layout)); err != nil {
		b.destroyPipelineObject(obj)
		return nil, err
	}

	stages, err := b.createShaderStages(desc.Modules)
	if err != nil {
		b.destroyPipelineObject(obj)
		return nil, err
	}
	pipeline, err := b.procs.CreatePipeline(dev, obj.layout, stages, desc.MaxRecursionDepth)
	b.destroyShaderStages(stages)
	if err != nil {
		b.destroyPipelineObject(obj)
		return nil, fmt.Errorf("create ray tracing pipeline: %w", err)
	}
	obj.pipeline = pipeline

	setCount := desc.SetCount
	if setCount == 0 {
		setCount = 1
	}
	pool, sets, err := b.createDescriptorSets(obj.setLayout, desc.Bindings, setCount)
	if err != nil {
		b.destroyPipelineObject(obj)
		return nil, err
	}
	obj.pool = pool
	obj.sets = sets

	p := &gpu.Pipeline{
		Handle:         b.objects.add(obj),
		Layout:         b.objects.add(obj.layout),
		SetLayout:      b.objects.add(obj.setLayout),
		DescriptorPool: b.objects.add(obj.pool),
		GroupCount:     uint32(len(desc.Modules)),
	}
	for _, s := range sets {
		p.DescriptorSets = append(p.DescriptorSets, b.objects.add(s))
	}
	core.LogDebug("ray tracing pipeline created", "groups", p.GroupCount, "sets", setCount)
	return p, nil
}

func (b *Backend) DestroyPipeline(p *gpu.Pipeline) {
	obj, ok := take[*pipelineObject](b.objects, p.Handle)
	if !ok {
		return
	}
	for _, h := range append([]gpu.Handle{p.Layout, p.SetLayout, p.DescriptorPool}, p.DescriptorSets...) {
		b.objects.remove(h)
	}
	b.destroyPipelineObject(obj)
}

func (b *Backend) destroyPipelineObject(obj *pipelineObject) {
	dev := b.device.LogicalDevice
	// Sets are freed with their pool.
	if obj.pool != nil {
		vk.DestroyDescriptorPool(dev, obj.pool, b.ctx.Allocator)
	}
	if obj.pipeline != nil {
		vk.DestroyPipeline(dev, obj.pipeline, b.ctx.Allocator)
	}
	if obj.layout != nil {
		vk.DestroyPipelineLayout(dev, obj.layout, b.ctx.Allocator)
	}
	if obj.setLayout != nil {
		vk.DestroyDescriptorSetLayout(dev, obj.setLayout, b.ctx.Allocator)
	}
}

func (b *Backend) ShaderGroupHandles(p *gpu.Pipeline, firstGroup, groupCount uint32) ([]byte, error) {
	obj, err := lookup[*pipelineObject](b.objects, p.Handle)
	if err != nil {
		return nil, err
	}
	if firstGroup+groupCount > p.GroupCount {
		return nil, fmt.Errorf("shader group handles: groups [%d,%d) exceed %d", firstGroup, firstGroup+groupCount, p.GroupCount)
	}
	data := make([]byte, int(groupCount)*int(b.props.ShaderGroupHandleSize))
	if err := b.procs.GroupHandles(b.device.LogicalDevice, obj.pipeline, firstGroup, groupCount, data); err != nil {
		return nil, err
	}
	return data, nil
}
