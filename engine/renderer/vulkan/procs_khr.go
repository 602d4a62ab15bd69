package vulkan

/*
#cgo CFLAGS: -DVK_NO_PROTOTYPES
#include <stdlib.h>
#include <string.h>
#include <vulkan/vulkan.h>

typedef struct {
	PFN_vkGetBufferDeviceAddressKHR getBufferDeviceAddress;
	PFN_vkGetAccelerationStructureBuildSizesKHR getBuildSizes;
	PFN_vkCreateAccelerationStructureKHR createStructure;
	PFN_vkDestroyAccelerationStructureKHR destroyStructure;
	PFN_vkGetAccelerationStructureDeviceAddressKHR getStructureAddress;
	PFN_vkCmdBuildAccelerationStructuresKHR cmdBuild;
	PFN_vkCreateRayTracingPipelinesKHR createPipelines;
	PFN_vkGetRayTracingShaderGroupHandlesKHR getGroupHandles;
	PFN_vkCmdTraceRaysKHR cmdTraceRays;
	PFN_vkUpdateDescriptorSets updateDescriptorSets;
} rt_procs;

static rt_procs procs;

static VkPhysicalDeviceBufferDeviceAddressFeatures address_features;
static VkPhysicalDeviceAccelerationStructureFeaturesKHR structure_features;
static VkPhysicalDeviceRayTracingPipelineFeaturesKHR pipeline_features;
static VkMemoryAllocateFlagsInfo allocate_flags;

static PFN_vkVoidFunction rt_instance_proc(void* gipa, VkInstance instance, const char* name) {
	return ((PFN_vkGetInstanceProcAddr)gipa)(instance, name);
}

#define RT_LOAD(field, type, name) \
	procs.field = (type)gdpa(device, name); \
	if (procs.field == NULL) return 0;

static int rt_load(void* gipa, VkInstance instance, VkDevice device) {
	PFN_vkGetDeviceProcAddr gdpa = (PFN_vkGetDeviceProcAddr)rt_instance_proc(gipa, instance, "vkGetDeviceProcAddr");
	if (gdpa == NULL) return 0;
	RT_LOAD(getBufferDeviceAddress, PFN_vkGetBufferDeviceAddressKHR, "vkGetBufferDeviceAddressKHR")
	RT_LOAD(getBuildSizes, PFN_vkGetAccelerationStructureBuildSizesKHR, "vkGetAccelerationStructureBuildSizesKHR")
	RT_LOAD(createStructure, PFN_vkCreateAccelerationStructureKHR, "vkCreateAccelerationStructureKHR")
	RT_LOAD(destroyStructure, PFN_vkDestroyAccelerationStructureKHR, "vkDestroyAccelerationStructureKHR")
	RT_LOAD(getStructureAddress, PFN_vkGetAccelerationStructureDeviceAddressKHR, "vkGetAccelerationStructureDeviceAddressKHR")
	RT_LOAD(cmdBuild, PFN_vkCmdBuildAccelerationStructuresKHR, "vkCmdBuildAccelerationStructuresKHR")
	RT_LOAD(createPipelines, PFN_vkCreateRayTracingPipelinesKHR, "vkCreateRayTracingPipelinesKHR")
	RT_LOAD(getGroupHandles, PFN_vkGetRayTracingShaderGroupHandlesKHR, "vkGetRayTracingShaderGroupHandlesKHR")
	RT_LOAD(cmdTraceRays, PFN_vkCmdTraceRaysKHR, "vkCmdTraceRaysKHR")
	RT_LOAD(updateDescriptorSets, PFN_vkUpdateDescriptorSets, "vkUpdateDescriptorSets")
	return 1;
}

static void* rt_device_features(void) {
	memset(&address_features, 0, sizeof(address_features));
	memset(&structure_features, 0, sizeof(structure_features));
	memset(&pipeline_features, 0, sizeof(pipeline_features));
	address_features.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_BUFFER_DEVICE_ADDRESS_FEATURES;
	address_features.pNext = &structure_features;
	address_features.bufferDeviceAddress = VK_TRUE;
	structure_features.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	structure_features.pNext = &pipeline_features;
	structure_features.accelerationStructure = VK_TRUE;
	pipeline_features.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	pipeline_features.rayTracingPipeline = VK_TRUE;
	return &address_features;
}

static void* rt_allocate_flags(void) {
	allocate_flags.sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_FLAGS_INFO;
	allocate_flags.pNext = NULL;
	allocate_flags.flags = VK_MEMORY_ALLOCATE_DEVICE_ADDRESS_BIT;
	allocate_flags.deviceMask = 0;
	return &allocate_flags;
}

// out: handle size, handle alignment, base alignment, scratch alignment, max recursion.
static int rt_properties(void* gipa, VkInstance instance, VkPhysicalDevice pd, uint32_t* out) {
	PFN_vkGetPhysicalDeviceProperties2 get = (PFN_vkGetPhysicalDeviceProperties2)rt_instance_proc(gipa, instance, "vkGetPhysicalDeviceProperties2");
	if (get == NULL) return 0;
	VkPhysicalDeviceAccelerationStructurePropertiesKHR structure = {0};
	structure.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_PROPERTIES_KHR;
	VkPhysicalDeviceRayTracingPipelinePropertiesKHR pipeline = {0};
	pipeline.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_PROPERTIES_KHR;
	pipeline.pNext = &structure;
	VkPhysicalDeviceProperties2 props = {0};
	props.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
	props.pNext = &pipeline;
	get(pd, &props);
	out[0] = pipeline.shaderGroupHandleSize;
	out[1] = pipeline.shaderGroupHandleAlignment;
	out[2] = pipeline.shaderGroupBaseAlignment;
	out[3] = structure.minAccelerationStructureScratchOffsetAlignment;
	out[4] = pipeline.maxRayRecursionDepth;
	return 1;
}

static uint64_t rt_buffer_address(VkDevice device, VkBuffer buffer) {
	VkBufferDeviceAddressInfo info = {0};
	info.sType = VK_STRUCTURE_TYPE_BUFFER_DEVICE_ADDRESS_INFO;
	info.buffer = buffer;
	return procs.getBufferDeviceAddress(device, &info);
}

typedef struct {
	uint32_t top;
	uint32_t update;
	uint32_t allow_update;
	uint32_t prefer_fast_trace;
	uint64_t scratch;
	uint64_t vertex_address;
	uint64_t index_address;
	uint64_t vertex_stride;
	uint32_t max_vertex;
	uint32_t opaque;
	uint64_t instance_address;
	uint32_t primitive_count;
} rt_build;

static void rt_fill(const rt_build* b, VkAccelerationStructureKHR src, VkAccelerationStructureKHR dst,
		VkAccelerationStructureGeometryKHR* geometry, VkAccelerationStructureBuildGeometryInfoKHR* info) {
	memset(geometry, 0, sizeof(*geometry));
	memset(info, 0, sizeof(*info));
	geometry->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	if (b->top) {
		geometry->geometryType = VK_GEOMETRY_TYPE_INSTANCES_KHR;
		geometry->geometry.instances.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_INSTANCES_DATA_KHR;
		geometry->geometry.instances.arrayOfPointers = VK_FALSE;
		geometry->geometry.instances.data.deviceAddress = b->instance_address;
	} else {
		VkAccelerationStructureGeometryTrianglesDataKHR* t = &geometry->geometry.triangles;
		geometry->geometryType = VK_GEOMETRY_TYPE_TRIANGLES_KHR;
		t->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_TRIANGLES_DATA_KHR;
		t->vertexFormat = VK_FORMAT_R32G32B32_SFLOAT;
		t->vertexData.deviceAddress = b->vertex_address;
		t->vertexStride = b->vertex_stride;
		t->maxVertex = b->max_vertex;
		t->indexType = VK_INDEX_TYPE_UINT32;
		t->indexData.deviceAddress = b->index_address;
		if (b->opaque) geometry->flags = VK_GEOMETRY_OPAQUE_BIT_KHR;
	}
	info->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info->type = b->top ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	info->flags = b->prefer_fast_trace ? VK_BUILD_ACCELERATION_STRUCTURE_PREFER_FAST_TRACE_BIT_KHR
	                                   : VK_BUILD_ACCELERATION_STRUCTURE_PREFER_FAST_BUILD_BIT_KHR;
	if (b->allow_update) info->flags |= VK_BUILD_ACCELERATION_STRUCTURE_ALLOW_UPDATE_BIT_KHR;
	info->mode = b->update ? VK_BUILD_ACCELERATION_STRUCTURE_MODE_UPDATE_KHR : VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info->srcAccelerationStructure = src;
	info->dstAccelerationStructure = dst;
	info->geometryCount = 1;
	info->pGeometries = geometry;
	info->scratchData.deviceAddress = b->scratch;
}

static void rt_build_sizes(VkDevice device, const rt_build* b, uint64_t* out) {
	VkAccelerationStructureGeometryKHR geometry;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	rt_fill(b, VK_NULL_HANDLE, VK_NULL_HANDLE, &geometry, &info);
	VkAccelerationStructureBuildSizesInfoKHR sizes = {0};
	sizes.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;
	procs.getBuildSizes(device, VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR, &info, &b->primitive_count, &sizes);
	out[0] = sizes.accelerationStructureSize;
	out[1] = sizes.buildScratchSize;
	out[2] = sizes.updateScratchSize;
}

static void rt_cmd_build(VkCommandBuffer cb, const rt_build* b, VkAccelerationStructureKHR src, VkAccelerationStructureKHR dst) {
	VkAccelerationStructureGeometryKHR geometry;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	rt_fill(b, src, dst, &geometry, &info);
	VkAccelerationStructureBuildRangeInfoKHR range = {0};
	range.primitiveCount = b->primitive_count;
	const VkAccelerationStructureBuildRangeInfoKHR* ranges = &range;
	procs.cmdBuild(cb, 1, &info, &ranges);
}

static VkResult rt_create_structure(VkDevice device, uint32_t top, VkBuffer buffer, uint64_t size, VkAccelerationStructureKHR* out) {
	VkAccelerationStructureCreateInfoKHR info = {0};
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_CREATE_INFO_KHR;
	info.buffer = buffer;
	info.size = size;
	info.type = top ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	return procs.createStructure(device, &info, NULL, out);
}

static void rt_destroy_structure(VkDevice device, VkAccelerationStructureKHR as) {
	procs.destroyStructure(device, as, NULL);
}

static uint64_t rt_structure_address(VkDevice device, VkAccelerationStructureKHR as) {
	VkAccelerationStructureDeviceAddressInfoKHR info = {0};
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_DEVICE_ADDRESS_INFO_KHR;
	info.accelerationStructure = as;
	return procs.getStructureAddress(device, &info);
}

// One group per stage: raygen and miss are general groups, closest hit is a
// triangles hit group.
static VkResult rt_create_pipeline(VkDevice device, VkPipelineLayout layout, uint32_t count,
		const uint32_t* stage_flags, VkShaderModule* modules, char** entries,
		uint32_t max_recursion, VkPipeline* out) {
	VkPipelineShaderStageCreateInfo* stages = calloc(count, sizeof(VkPipelineShaderStageCreateInfo));
	VkRayTracingShaderGroupCreateInfoKHR* groups = calloc(count, sizeof(VkRayTracingShaderGroupCreateInfoKHR));
	if (stages == NULL || groups == NULL) {
		free(stages);
		free(groups);
		return VK_ERROR_OUT_OF_HOST_MEMORY;
	}
	for (uint32_t i = 0; i < count; i++) {
		stages[i].sType = VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO;
		stages[i].stage = (VkShaderStageFlagBits)stage_flags[i];
		stages[i].module = modules[i];
		stages[i].pName = entries[i];

		groups[i].sType = VK_STRUCTURE_TYPE_RAY_TRACING_SHADER_GROUP_CREATE_INFO_KHR;
		groups[i].generalShader = VK_SHADER_UNUSED_KHR;
		groups[i].closestHitShader = VK_SHADER_UNUSED_KHR;
		groups[i].anyHitShader = VK_SHADER_UNUSED_KHR;
		groups[i].intersectionShader = VK_SHADER_UNUSED_KHR;
		if (stage_flags[i] == VK_SHADER_STAGE_CLOSEST_HIT_BIT_KHR) {
			groups[i].type = VK_RAY_TRACING_SHADER_GROUP_TYPE_TRIANGLES_HIT_GROUP_KHR;
			groups[i].closestHitShader = i;
		} else {
			groups[i].type = VK_RAY_TRACING_SHADER_GROUP_TYPE_GENERAL_KHR;
			groups[i].generalShader = i;
		}
	}
	VkRayTracingPipelineCreateInfoKHR info = {0};
	info.sType = VK_STRUCTURE_TYPE_RAY_TRACING_PIPELINE_CREATE_INFO_KHR;
	info.stageCount = count;
	info.pStages = stages;
	info.groupCount = count;
	info.pGroups = groups;
	info.maxPipelineRayRecursionDepth = max_recursion;
	info.layout = layout;
	VkResult res = procs.createPipelines(device, VK_NULL_HANDLE, VK_NULL_HANDLE, 1, &info, NULL, out);
	free(stages);
	free(groups);
	return res;
}

static VkResult rt_group_handles(VkDevice device, VkPipeline pipeline, uint32_t first, uint32_t count, size_t size, void* data) {
	return procs.getGroupHandles(device, pipeline, first, count, size, data);
}

// regions: raygen, miss, hit, callable as (address, stride, size) triples.
static void rt_trace_rays(VkCommandBuffer cb, const uint64_t* r, uint32_t width, uint32_t height, uint32_t depth) {
	VkStridedDeviceAddressRegionKHR regions[4];
	for (int i = 0; i < 4; i++) {
		regions[i].deviceAddress = r[i*3];
		regions[i].stride = r[i*3+1];
		regions[i].size = r[i*3+2];
	}
	procs.cmdTraceRays(cb, &regions[0], &regions[1], &regions[2], &regions[3], width, height, depth);
}

static void rt_write_structure(VkDevice device, VkDescriptorSet set, uint32_t binding, VkAccelerationStructureKHR as) {
	VkWriteDescriptorSetAccelerationStructureKHR structure = {0};
	structure.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET_ACCELERATION_STRUCTURE_KHR;
	structure.accelerationStructureCount = 1;
	structure.pAccelerationStructures = &as;
	VkWriteDescriptorSet write = {0};
	write.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET;
	write.pNext = &structure;
	write.dstSet = set;
	write.dstBinding = binding;
	write.descriptorCount = 1;
	write.descriptorType = VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR;
	procs.updateDescriptorSets(device, 1, &write, 0, NULL);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// KHRProcs resolves the VK_KHR ray tracing entry points through the
// platform loader. Only one device per process is supported: the feature
// and allocation chains live in C statics.
type KHRProcs struct {
	getInstanceProcAddr unsafe.Pointer
}

var _ RayTracingProcs = (*KHRProcs)(nil)

func NewKHRProcs(getInstanceProcAddr unsafe.Pointer) *KHRProcs {
	return &KHRProcs{getInstanceProcAddr: getInstanceProcAddr}
}

func cDevice(d vk.Device) C.VkDevice { return C.VkDevice(unsafe.Pointer(d)) }

func cStructure(as AccelerationStructure) C.VkAccelerationStructureKHR {
	return C.VkAccelerationStructureKHR(unsafe.Pointer(as))
}

func (p *KHRProcs) DeviceFeatures(instance vk.Instance, physical vk.PhysicalDevice) unsafe.Pointer {
	return C.rt_device_features()
}

func (p *KHRProcs) Load(instance vk.Instance, device vk.Device) error {
	if p.getInstanceProcAddr == nil {
		return errors.New("vkGetInstanceProcAddr is not available")
	}
	if C.rt_load(p.getInstanceProcAddr, C.VkInstance(unsafe.Pointer(instance)), cDevice(device)) == 0 {
		return errors.New("ray tracing entry points are missing from the device")
	}
	return nil
}

// Properties never reports host commands: inputs are always device addresses.
func (p *KHRProcs) Properties(instance vk.Instance, physical vk.PhysicalDevice) gpu.Properties {
	var out [5]C.uint32_t
	if C.rt_properties(p.getInstanceProcAddr, C.VkInstance(unsafe.Pointer(instance)), C.VkPhysicalDevice(unsafe.Pointer(physical)), &out[0]) == 0 {
		return gpu.Properties{}
	}
	return gpu.Properties{
		ShaderGroupHandleSize:      uint32(out[0]),
		ShaderGroupHandleAlignment: uint32(out[1]),
		ShaderGroupBaseAlignment:   uint32(out[2]),
		MinScratchOffsetAlignment:  uint32(out[3]),
		MaxRayRecursionDepth:       uint32(out[4]),
	}
}

func (p *KHRProcs) AllocateFlags() unsafe.Pointer {
	return C.rt_allocate_flags()
}

func (p *KHRProcs) BufferDeviceAddress(device vk.Device, buffer vk.Buffer) gpu.DeviceAddress {
	return gpu.DeviceAddress(C.rt_buffer_address(cDevice(device), C.VkBuffer(unsafe.Pointer(buffer))))
}

func buildParams(info *gpu.BuildGeometryInfo) C.rt_build {
	b := C.rt_build{
		scratch:         C.uint64_t(info.ScratchAddress),
		primitive_count: C.uint32_t(info.PrimitiveCount()),
	}
	if info.Kind == gpu.TopLevel {
		b.top = 1
	}
	if info.Mode == gpu.BuildModeUpdate {
		b.update = 1
	}
	if info.AllowUpdate {
		b.allow_update = 1
	}
	if info.PreferFastTrace {
		b.prefer_fast_trace = 1
	}
	if t := info.Triangles; t != nil {
		b.vertex_address = C.uint64_t(t.VertexAddress)
		b.index_address = C.uint64_t(t.IndexAddress)
		b.vertex_stride = C.uint64_t(t.VertexStride)
		b.max_vertex = C.uint32_t(t.MaxVertex)
		if t.Opaque {
			b.opaque = 1
		}
	}
	if in := info.Instances; in != nil {
		b.instance_address = C.uint64_t(in.Address)
	}
	return b
}

func (p *KHRProcs) BuildSizes(device vk.Device, info *gpu.BuildGeometryInfo) gpu.BuildSizes {
	params := buildParams(info)
	var out [3]C.uint64_t
	C.rt_build_sizes(cDevice(device), &params, &out[0])
	return gpu.BuildSizes{
		StructureSize:     uint64(out[0]),
		BuildScratchSize:  uint64(out[1]),
		UpdateScratchSize: uint64(out[2]),
	}
}

func (p *KHRProcs) CreateAccelerationStructure(device vk.Device, kind gpu.AccelerationStructureKind, buffer vk.Buffer, size uint64) (AccelerationStructure, error) {
	var top C.uint32_t
	if kind == gpu.TopLevel {
		top = 1
	}
	var as C.VkAccelerationStructureKHR
	res := C.rt_create_structure(cDevice(device), top, C.VkBuffer(unsafe.Pointer(buffer)), C.uint64_t(size), &as)
	if err := ResultError("vkCreateAccelerationStructureKHR", vk.Result(res)); err != nil {
		return nil, err
	}
	return AccelerationStructure(unsafe.Pointer(as)), nil
}

func (p *KHRProcs) AccelerationStructureAddress(device vk.Device, as AccelerationStructure) gpu.DeviceAddress {
	return gpu.DeviceAddress(C.rt_structure_address(cDevice(device), cStructure(as)))
}

func (p *KHRProcs) DestroyAccelerationStructure(device vk.Device, as AccelerationStructure) {
	C.rt_destroy_structure(cDevice(device), cStructure(as))
}

func (p *KHRProcs) CmdBuild(cb vk.CommandBuffer, info *gpu.BuildGeometryInfo, src, dst AccelerationStructure) {
	params := buildParams(info)
	C.rt_cmd_build(C.VkCommandBuffer(unsafe.Pointer(cb)), &params, cStructure(src), cStructure(dst))
}

func (p *KHRProcs) CreatePipeline(device vk.Device, layout vk.PipelineLayout, stages []RayTracingStage, maxRecursionDepth uint32) (vk.Pipeline, error) {
	if len(stages) == 0 {
		return nil, errors.New("ray tracing pipeline without stages")
	}
	n := len(stages)
	flags := (*[1 << 16]C.uint32_t)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof(C.uint32_t(0)))))[:n:n]
	modules := (*[1 << 16]C.VkShaderModule)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof(C.VkShaderModule(nil)))))[:n:n]
	entries := (*[1 << 16]*C.char)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof((*C.char)(nil)))))[:n:n]
	defer func() {
		for _, e := range entries {
			C.free(unsafe.Pointer(e))
		}
		C.free(unsafe.Pointer(&flags[0]))
		C.free(unsafe.Pointer(&modules[0]))
		C.free(unsafe.Pointer(&entries[0]))
	}()
	for i, s := range stages {
		flags[i] = C.uint32_t(s.Stage)
		modules[i] = C.VkShaderModule(unsafe.Pointer(s.Module))
		entries[i] = C.CString(s.Entry)
	}

	var pipeline C.VkPipeline
	res := C.rt_create_pipeline(cDevice(device), C.VkPipelineLayout(unsafe.Pointer(layout)), C.uint32_t(n),
		&flags[0], &modules[0], &entries[0], C.uint32_t(maxRecursionDepth), &pipeline)
	if err := ResultError("vkCreateRayTracingPipelinesKHR", vk.Result(res)); err != nil {
		return nil, err
	}
	return vk.Pipeline(unsafe.Pointer(pipeline)), nil
}

func (p *KHRProcs) GroupHandles(device vk.Device, pipeline vk.Pipeline, firstGroup, groupCount uint32, dst []byte) error {
	if len(dst) == 0 {
		return fmt.Errorf("shader group handles: empty destination for %d groups", groupCount)
	}
	res := C.rt_group_handles(cDevice(device), C.VkPipeline(unsafe.Pointer(pipeline)),
		C.uint32_t(firstGroup), C.uint32_t(groupCount), C.size_t(len(dst)), unsafe.Pointer(&dst[0]))
	return ResultError("vkGetRayTracingShaderGroupHandlesKHR", vk.Result(res))
}

func (p *KHRProcs) CmdTraceRays(cb vk.CommandBuffer, regions *gpu.ShaderBindingRegions, width, height, depth uint32) {
	r := [12]C.uint64_t{}
	for i, region := range []gpu.StridedRegion{regions.Raygen, regions.Miss, regions.Hit, regions.Callable} {
		r[i*3] = C.uint64_t(region.Address)
		r[i*3+1] = C.uint64_t(region.Stride)
		r[i*3+2] = C.uint64_t(region.Size)
	}
	C.rt_trace_rays(C.VkCommandBuffer(unsafe.Pointer(cb)), &r[0], C.uint32_t(width), C.uint32_t(height), C.uint32_t(depth))
}

func (p *KHRProcs) WriteAccelerationStructure(device vk.Device, set vk.DescriptorSet, binding uint32, as AccelerationStructure) {
	C.rt_write_structure(cDevice(device), C.VkDescriptorSet(unsafe.Pointer(set)), C.uint32_t(binding), cStructure(as))
}
