package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// createShaderStages compiles every module into a stage, in order. On
// failure the modules created so far are destroyed.
func (b *Backend) createShaderStages(modules []gpu.ShaderModule) ([]RayTracingStage, error) {
	stages := make([]RayTracingStage, 0, len(modules))
	for _, m := range modules {
		if len(m.Code) == 0 || len(m.Code)%4 != 0 {
			b.destroyShaderStages(stages)
			return nil, fmt.Errorf("shader module for stage %d: code size %d is not a positive multiple of 4", m.Stage, len(m.Code))
		}
		info := vk.ShaderModuleCreateInfo{
			SType:    vk.StructureTypeShaderModuleCreateInfo,
			CodeSize: uint(len(m.Code)),
			PCode:    sliceUint32(m.Code),
		}
		var module vk.ShaderModule
		if err := ResultError("vkCreateShaderModule", vk.CreateShaderModule(b.device.LogicalDevice, &info, b.ctx.Allocator, &module)); err != nil {
			b.destroyShaderStages(stages)
			return nil, err
		}
		entry := m.Entry
		if entry == "" {
			entry = "main"
		}
		stages = append(stages, RayTracingStage{
			Stage:  shaderStage(m.Stage),
			Module: module,
			Entry:  entry,
		})
	}
	return stages, nil
}

func (b *Backend) destroyShaderStages(stages []RayTracingStage) {
	for _, s := range stages {
		vk.DestroyShaderModule(b.device.LogicalDevice, s.Module, b.ctx.Allocator)
	}
}
