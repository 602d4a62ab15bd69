package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

func (b *Backend) createSetLayout(bindings []gpu.DescriptorBinding) (vk.DescriptorSetLayout, error) {
	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, binding := range bindings {
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         binding.Binding,
			DescriptorType:  descriptorType(binding.Type),
			DescriptorCount: binding.Count,
			StageFlags:      vk.ShaderStageFlags(allRayTracingStages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}
	var layout vk.DescriptorSetLayout
	if err := ResultError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(b.device.LogicalDevice, &info, b.ctx.Allocator, &layout)); err != nil {
		return nil, err
	}
	return layout, nil
}

// createDescriptorSets allocates count sets of layout from a pool sized for exactly them.
func (b *Backend) createDescriptorSets(layout vk.DescriptorSetLayout, bindings []gpu.DescriptorBinding, count uint32) (vk.DescriptorPool, []vk.DescriptorSet, error) {
	totals := make(map[vk.DescriptorType]uint32)
	for _, binding := range bindings {
		totals[descriptorType(binding.Type)] += binding.Count * count
	}
	sizes := make([]vk.DescriptorPoolSize, 0, len(totals))
	for t, n := range totals {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n})
	}

	dev := b.device.LogicalDevice
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       count,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := ResultError("vkCreateDescriptorPool", vk.CreateDescriptorPool(dev, &info, b.ctx.Allocator, &pool)); err != nil {
		return nil, nil, err
	}

	sets := make([]vk.DescriptorSet, count)
	for i := range sets {
		alloc := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}
		if err := ResultError("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(dev, &alloc, &sets[i])); err != nil {
			vk.DestroyDescriptorPool(dev, pool, b.ctx.Allocator)
			return nil, nil, err
		}
	}
	return pool, sets, nil
}

// UpdateDescriptorSet writes into the set of one frame slot. Arrays shorter
// than the declared binding count are padded with their first element so
// every element the shaders may index is valid.
func (b *Backend) UpdateDescriptorSet(p *gpu.Pipeline, set int, writes []gpu.DescriptorWrite) error {
	obj, err := lookup[*pipelineObject](b.objects, p.Handle)
	if err != nil {
		return err
	}
	if set < 0 || set >= len(obj.sets) {
		return fmt.Errorf("update descriptor set: slot %d out of range [0,%d)", set, len(obj.sets))
	}
	dst := obj.sets[set]
	dev := b.device.LogicalDevice

	return b.locks.SafeCall(DescriptorManagement, func() error {
		var vkWrites []vk.WriteDescriptorSet
		for _, w := range writes {
			binding, ok := obj.bindings[w.Binding]
			if !ok {
				return fmt.Errorf("update descriptor set: binding %d is not declared", w.Binding)
			}
			switch w.Type {
			case gpu.DescriptorAccelerationStructure:
				as, err := lookup[AccelerationStructure](b.objects, w.AccelerationStructure)
				if err != nil {
					return err
				}
				b.procs.WriteAccelerationStructure(dev, dst, w.Binding, as)

			case gpu.DescriptorStorageImage, gpu.DescriptorCombinedImageSampler:
				infos, err := b.imageInfos(w, binding.Count)
				if err != nil {
					return err
				}
				vkWrites = append(vkWrites, vk.WriteDescriptorSet{
					SType:           vk.StructureTypeWriteDescriptorSet,
					DstSet:          dst,
					DstBinding:      w.Binding,
					DescriptorCount: uint32(len(infos)),
					DescriptorType:  descriptorType(w.Type),
					PImageInfo:      infos,
				})

			case gpu.DescriptorUniformBuffer, gpu.DescriptorStorageBuffer:
				infos, err := b.bufferInfos(w, binding.Count)
				if err != nil {
					return err
				}
				vkWrites = append(vkWrites, vk.WriteDescriptorSet{
					SType:           vk.StructureTypeWriteDescriptorSet,
					DstSet:          dst,
					DstBinding:      w.Binding,
					DescriptorCount: uint32(len(infos)),
					DescriptorType:  descriptorType(w.Type),
					PBufferInfo:     infos,
				})
			}
		}
		if len(vkWrites) > 0 {
			vk.UpdateDescriptorSets(dev, uint32(len(vkWrites)), vkWrites, 0, nil)
		}
		return nil
	})
}

func (b *Backend) imageInfos(w gpu.DescriptorWrite, count uint32) ([]vk.DescriptorImageInfo, error) {
	if len(w.Images) == 0 {
		return nil, fmt.Errorf("update descriptor set: binding %d has no images", w.Binding)
	}
	layout := vk.ImageLayoutShaderReadOnlyOptimal
	if w.Type == gpu.DescriptorStorageImage {
		layout = vk.ImageLayoutGeneral
	}
	infos := make([]vk.DescriptorImageInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		img := w.Images[0]
		if int(i) < len(w.Images) {
			img = w.Images[i]
		}
		obj, err := lookup[*imageObject](b.objects, img.Handle)
		if err != nil {
			return nil, err
		}
		infos = append(infos, vk.DescriptorImageInfo{
			Sampler:     obj.sampler,
			ImageView:   obj.view,
			ImageLayout: layout,
		})
	}
	return infos, nil
}

func (b *Backend) bufferInfos(w gpu.DescriptorWrite, count uint32) ([]vk.DescriptorBufferInfo, error) {
	if len(w.Buffers) == 0 {
		return nil, fmt.Errorf("update descriptor set: binding %d has no buffers", w.Binding)
	}
	infos := make([]vk.DescriptorBufferInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		buf := w.Buffers[0]
		if int(i) < len(w.Buffers) {
			buf = w.Buffers[i]
		}
		obj, err := lookup[*bufferObject](b.objects, buf.Handle)
		if err != nil {
			return nil, err
		}
		infos = append(infos, vk.DescriptorBufferInfo{
			Buffer: obj.buffer,
			Range:  vk.DeviceSize(buf.Size),
		})
	}
	return infos, nil
}
