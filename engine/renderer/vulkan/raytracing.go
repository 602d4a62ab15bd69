package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// AccelerationStructure is a VkAccelerationStructureKHR.
type AccelerationStructure unsafe.Pointer

// RayTracingStage is one compiled stage of a ray tracing pipeline, in group order.
type RayTracingStage struct {
	Stage  vk.ShaderStageFlagBits
	Module vk.ShaderModule
	Entry  string
}

// RayTracingProcs are the acceleration structure, ray tracing pipeline and
// buffer device address entry points. The core binding does not wrap them,
// so an implementation resolves them through vkGetDeviceProcAddr once the
// logical device exists.
type RayTracingProcs interface {
	// DeviceFeatures is the pNext chain enabling buffer device address,
	// acceleration structures and ray tracing pipelines at device creation.
	DeviceFeatures(instance vk.Instance, physical vk.PhysicalDevice) unsafe.Pointer
	// Load resolves the entry points for device. It fails when any is missing.
	Load(instance vk.Instance, device vk.Device) error
	Properties(instance vk.Instance, physical vk.PhysicalDevice) gpu.Properties
	// AllocateFlags is the pNext chain of allocations backing addressable buffers.
	AllocateFlags() unsafe.Pointer

	BufferDeviceAddress(device vk.Device, buffer vk.Buffer) gpu.DeviceAddress

	BuildSizes(device vk.Device, info *gpu.BuildGeometryInfo) gpu.BuildSizes
	CreateAccelerationStructure(device vk.Device, kind gpu.AccelerationStructureKind, buffer vk.Buffer, size uint64) (AccelerationStructure, error)
	AccelerationStructureAddress(device vk.Device, as AccelerationStructure) gpu.DeviceAddress
	DestroyAccelerationStructure(device vk.Device, as AccelerationStructure)
	CmdBuild(cb vk.CommandBuffer, info *gpu.BuildGeometryInfo, src, dst AccelerationStructure)

	CreatePipeline(device vk.Device, layout vk.PipelineLayout, stages []RayTracingStage, maxRecursionDepth uint32) (vk.Pipeline, error)
	GroupHandles(device vk.Device, pipeline vk.Pipeline, firstGroup, groupCount uint32, dst []byte) error
	CmdTraceRays(cb vk.CommandBuffer, regions *gpu.ShaderBindingRegions, width, height, depth uint32)

	// WriteAccelerationStructure points binding of set at as.
	WriteAccelerationStructure(device vk.Device, set vk.DescriptorSet, binding uint32, as AccelerationStructure)
}

// requiredDeviceExtensions is every device extension the backend enables.
func requiredDeviceExtensions() []string {
	return []string{
		vk.KhrSwapchainExtensionName,
		khrAccelerationStructureExtensionName,
		khrRayTracingPipelineExtensionName,
		khrBufferDeviceAddressExtensionName,
		khrDeferredHostOperationsExtensionName,
	}
}

// loadRayTracing resolves procs against the logical device. A nil procs or
// a failed load means the device cannot trace rays at all.
func loadRayTracing(procs RayTracingProcs, instance vk.Instance, device vk.Device) error {
	if procs == nil {
		return core.ErrRayTracingUnsupported
	}
	if err := procs.Load(instance, device); err != nil {
		core.LogError("ray tracing entry points unavailable", "err", err)
		return core.ErrRayTracingUnsupported
	}
	return nil
}
