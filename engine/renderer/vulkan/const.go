package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// Device extensions a ray tracing device must expose.
const (
	khrAccelerationStructureExtensionName     = "VK_KHR_acceleration_structure"
	khrRayTracingPipelineExtensionName        = "VK_KHR_ray_tracing_pipeline"
	khrBufferDeviceAddressExtensionName       = "VK_KHR_buffer_device_address"
	khrDeferredHostOperationsExtensionName    = "VK_KHR_deferred_host_operations"
	khrPortabilitySubsetExtensionName         = "VK_KHR_portability_subset"
	khronosValidationLayerName                = "VK_LAYER_KHRONOS_validation"
	khrPortabilityEnumerationExtensionName    = "VK_KHR_portability_enumeration"
	khrPhysicalDeviceProperties2ExtensionName = "VK_KHR_get_physical_device_properties2"
)

// Raw enumerants of the ray tracing extensions.
const (
	bufferUsageShaderDeviceAddressBit          = 0x00020000
	bufferUsageAccelerationStructureInputBit   = 0x00080000
	bufferUsageAccelerationStructureStorageBit = 0x00100000
	bufferUsageShaderBindingTableBit           = 0x00000400

	pipelineStageRayTracingShaderBit  = 0x00200000
	pipelineStageAccelerationBuildBit = 0x02000000

	accessAccelerationStructureReadBit  = 0x00200000
	accessAccelerationStructureWriteBit = 0x00400000

	descriptorTypeAccelerationStructure = 1000150000
	pipelineBindPointRayTracing         = 1000165000

	shaderStageRaygenBit     = 0x00000100
	shaderStageClosestHitBit = 0x00000400
	shaderStageMissBit       = 0x00000800
)

type bitMapping struct {
	from uint32
	to   uint32
}

func mapBits(v uint32, table []bitMapping) uint32 {
	var out uint32
	for _, m := range table {
		if v&m.from != 0 {
			out |= m.to
		}
	}
	return out
}

var bufferUsageBits = []bitMapping{
	{uint32(gpu.BufferUsageTransferSrc), uint32(vk.BufferUsageTransferSrcBit)},
	{uint32(gpu.BufferUsageTransferDst), uint32(vk.BufferUsageTransferDstBit)},
	{uint32(gpu.BufferUsageUniform), uint32(vk.BufferUsageUniformBufferBit)},
	{uint32(gpu.BufferUsageStorage), uint32(vk.BufferUsageStorageBufferBit)},
	{uint32(gpu.BufferUsageIndex), uint32(vk.BufferUsageIndexBufferBit)},
	{uint32(gpu.BufferUsageVertex), uint32(vk.BufferUsageVertexBufferBit)},
	{uint32(gpu.BufferUsageDeviceAddress), bufferUsageShaderDeviceAddressBit},
	{uint32(gpu.BufferUsageAccelerationStructureStorage), bufferUsageAccelerationStructureStorageBit},
	{uint32(gpu.BufferUsageAccelerationStructureBuildInput), bufferUsageAccelerationStructureInputBit},
	{uint32(gpu.BufferUsageShaderBindingTable), bufferUsageShaderBindingTableBit},
}

var memoryPropertyBits = []bitMapping{
	{uint32(gpu.MemoryPropertyDeviceLocal), uint32(vk.MemoryPropertyDeviceLocalBit)},
	{uint32(gpu.MemoryPropertyHostVisible), uint32(vk.MemoryPropertyHostVisibleBit)},
	{uint32(gpu.MemoryPropertyHostCoherent), uint32(vk.MemoryPropertyHostCoherentBit)},
}

var imageUsageBits = []bitMapping{
	{uint32(gpu.ImageUsageTransferSrc), uint32(vk.ImageUsageTransferSrcBit)},
	{uint32(gpu.ImageUsageTransferDst), uint32(vk.ImageUsageTransferDstBit)},
	{uint32(gpu.ImageUsageStorage), uint32(vk.ImageUsageStorageBit)},
	{uint32(gpu.ImageUsageSampled), uint32(vk.ImageUsageSampledBit)},
}

var pipelineStageBits = []bitMapping{
	{uint32(gpu.PipelineStageTopOfPipe), uint32(vk.PipelineStageTopOfPipeBit)},
	{uint32(gpu.PipelineStageTransfer), uint32(vk.PipelineStageTransferBit)},
	{uint32(gpu.PipelineStageHost), uint32(vk.PipelineStageHostBit)},
	{uint32(gpu.PipelineStageRayTracingShader), pipelineStageRayTracingShaderBit},
	{uint32(gpu.PipelineStageAccelerationStructureBuild), pipelineStageAccelerationBuildBit},
	{uint32(gpu.PipelineStageBottomOfPipe), uint32(vk.PipelineStageBottomOfPipeBit)},
	{uint32(gpu.PipelineStageAllCommands), uint32(vk.PipelineStageAllCommandsBit)},
}

var accessBits = []bitMapping{
	{uint32(gpu.AccessHostWrite), uint32(vk.AccessHostWriteBit)},
	{uint32(gpu.AccessTransferRead), uint32(vk.AccessTransferReadBit)},
	{uint32(gpu.AccessTransferWrite), uint32(vk.AccessTransferWriteBit)},
	{uint32(gpu.AccessShaderRead), uint32(vk.AccessShaderReadBit)},
	{uint32(gpu.AccessShaderWrite), uint32(vk.AccessShaderWriteBit)},
	{uint32(gpu.AccessAccelerationStructureRead), accessAccelerationStructureReadBit},
	{uint32(gpu.AccessAccelerationStructureWrite), accessAccelerationStructureWriteBit},
	{uint32(gpu.AccessMemoryRead), uint32(vk.AccessMemoryReadBit)},
}

func bufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	return vk.BufferUsageFlags(mapBits(uint32(u), bufferUsageBits))
}

func memoryProperties(p gpu.MemoryProperty) vk.MemoryPropertyFlags {
	return vk.MemoryPropertyFlags(mapBits(uint32(p), memoryPropertyBits))
}

func imageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	return vk.ImageUsageFlags(mapBits(uint32(u), imageUsageBits))
}

func pipelineStages(s gpu.PipelineStage) vk.PipelineStageFlags {
	return vk.PipelineStageFlags(mapBits(uint32(s), pipelineStageBits))
}

func accessFlags(a gpu.AccessFlags) vk.AccessFlags {
	return vk.AccessFlags(mapBits(uint32(a), accessBits))
}

func imageFormat(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatRGBA32Sfloat:
		return vk.FormatR32g32b32a32Sfloat
	default:
		return vk.FormatUndefined
	}
}

func formatFromVulkan(f vk.Format) gpu.Format {
	switch f {
	case vk.FormatR8g8b8a8Unorm:
		return gpu.FormatRGBA8Unorm
	case vk.FormatB8g8r8a8Unorm:
		return gpu.FormatBGRA8Unorm
	case vk.FormatR32g32b32a32Sfloat:
		return gpu.FormatRGBA32Sfloat
	default:
		return gpu.FormatUndefined
	}
}

func imageLayout(l gpu.ImageLayout) vk.ImageLayout {
	switch l {
	case gpu.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.ImageLayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.ImageLayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.ImageLayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutUndefined
	}
}

func descriptorType(t gpu.DescriptorType) vk.DescriptorType {
	switch t {
	case gpu.DescriptorAccelerationStructure:
		return vk.DescriptorType(descriptorTypeAccelerationStructure)
	case gpu.DescriptorStorageImage:
		return vk.DescriptorTypeStorageImage
	case gpu.DescriptorUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case gpu.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	default:
		return vk.DescriptorTypeCombinedImageSampler
	}
}

func shaderStage(s gpu.ShaderStage) vk.ShaderStageFlagBits {
	switch s {
	case gpu.ShaderStageMiss:
		return vk.ShaderStageFlagBits(shaderStageMissBit)
	case gpu.ShaderStageClosestHit:
		return vk.ShaderStageFlagBits(shaderStageClosestHitBit)
	default:
		return vk.ShaderStageFlagBits(shaderStageRaygenBit)
	}
}

// allRayTracingStages is the visibility of every descriptor binding.
const allRayTracingStages = shaderStageRaygenBit | shaderStageMissBit | shaderStageClosestHitBit

var colorSubresource = vk.ImageSubresourceRange{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LevelCount: 1,
	LayerCount: 1,
}

var colorLayers = vk.ImageSubresourceLayers{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LayerCount: 1,
}
