package vulkan

import (
	"errors"
	"fmt"
	"strings"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

var errNoSuitableDevice = errors.New("no physical device meets the ray tracing requirements")

// SwapchainSupport is what the surface allows on a physical device.
type SwapchainSupport struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

type queueFamilies struct {
	graphics int32
	present  int32
}

func (q queueFamilies) complete() bool {
	return q.graphics >= 0 && q.present >= 0
}

// Device is the selected physical device and the logical device created on it.
type Device struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32
	GraphicsQueue      vk.Queue
	PresentQueue       vk.Queue
	CommandPool        vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties
}

// createDevice picks the first physical device able to present to the
// context's surface and to trace rays, then creates the logical device,
// its queues and the graphics command pool.
func createDevice(ctx *Context, procs RayTracingProcs) (*Device, error) {
	d := &Device{}
	families, err := d.selectPhysicalDevice(ctx)
	if err != nil {
		return nil, err
	}
	d.GraphicsQueueIndex = uint32(families.graphics)
	d.PresentQueueIndex = uint32(families.present)

	indices := []uint32{d.GraphicsQueueIndex}
	if d.PresentQueueIndex != d.GraphicsQueueIndex {
		indices = append(indices, d.PresentQueueIndex)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensions := requiredDeviceExtensions()
	if deviceHasExtension(d.PhysicalDevice, khrPortabilitySubsetExtensionName) {
		core.LogInfo("adding required extension", "name", khrPortabilitySubsetExtensionName)
		extensions = append(extensions, khrPortabilitySubsetExtensionName)
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   procs.DeviceFeatures(ctx.Instance, d.PhysicalDevice),
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{SamplerAnisotropy: vk.True}},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	if err := ResultError("vkCreateDevice", vk.CreateDevice(d.PhysicalDevice, &createInfo, ctx.Allocator, &d.LogicalDevice)); err != nil {
		return nil, err
	}
	core.LogInfo("logical device created", "extensions", extensions)

	vk.GetDeviceQueue(d.LogicalDevice, d.GraphicsQueueIndex, 0, &d.GraphicsQueue)
	vk.GetDeviceQueue(d.LogicalDevice, d.PresentQueueIndex, 0, &d.PresentQueue)

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := ResultError("vkCreateCommandPool", vk.CreateCommandPool(d.LogicalDevice, &poolInfo, ctx.Allocator, &d.CommandPool)); err != nil {
		d.destroy(ctx)
		return nil, err
	}
	return d, nil
}

func (d *Device) destroy(ctx *Context) {
	if d.LogicalDevice == nil {
		return
	}
	if d.CommandPool != nil {
		vk.DestroyCommandPool(d.LogicalDevice, d.CommandPool, ctx.Allocator)
		d.CommandPool = nil
	}
	vk.DestroyDevice(d.LogicalDevice, ctx.Allocator)
	d.LogicalDevice = nil
	d.GraphicsQueue = nil
	d.PresentQueue = nil
	d.PhysicalDevice = nil
	core.LogDebug("logical device destroyed")
}

func (d *Device) selectPhysicalDevice(ctx *Context) (queueFamilies, error) {
	var count uint32
	if err := ResultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(ctx.Instance, &count, nil)); err != nil {
		return queueFamilies{}, err
	}
	if count == 0 {
		return queueFamilies{}, errors.New("no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := ResultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(ctx.Instance, &count, devices)); err != nil {
		return queueFamilies{}, err
	}

	for _, pd := range devices {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		name := cString(props.DeviceName[:])

		families, ok := meetsRequirements(pd, ctx.Surface, name)
		if !ok {
			continue
		}

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
		memory.Deref()

		d.PhysicalDevice = pd
		d.Properties = props
		d.Memory = memory

		version := vk.Version(props.ApiVersion)
		core.LogInfo("selected device",
			"name", name,
			"type", deviceTypeName(props.DeviceType),
			"api", fmt.Sprintf("%d.%d.%d", version.Major(), version.Minor(), version.Patch()))
		return families, nil
	}
	return queueFamilies{}, errNoSuitableDevice
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	default:
		return "other"
	}
}

func meetsRequirements(pd vk.PhysicalDevice, surface vk.Surface, name string) (queueFamilies, bool) {
	families := findQueueFamilies(pd, surface)
	if !families.complete() {
		core.LogInfo("device lacks graphics or present queue, skipping", "device", name)
		return families, false
	}
	for _, ext := range requiredDeviceExtensions() {
		if !deviceHasExtension(pd, ext) {
			core.LogInfo("required extension not found, skipping", "device", name, "extension", ext)
			return families, false
		}
	}
	support, err := querySwapchainSupport(pd, surface)
	if err != nil || len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		core.LogInfo("required swapchain support not present, skipping", "device", name)
		return families, false
	}
	return families, true
}

func findQueueFamilies(pd vk.PhysicalDevice, surface vk.Surface) queueFamilies {
	families := queueFamilies{graphics: -1, present: -1}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, props)

	for i := range props {
		props[i].Deref()
		if families.graphics < 0 && vk.QueueFlagBits(props[i].QueueFlags)&vk.QueueGraphicsBit != 0 {
			families.graphics = int32(i)
		}
		var supported vk.Bool32
		if vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), surface, &supported) != vk.Success {
			continue
		}
		// Prefer a family that does both.
		if supported == vk.True && (families.present < 0 || int32(i) == families.graphics) {
			families.present = int32(i)
		}
	}
	return families
}

func deviceHasExtension(pd vk.PhysicalDevice, name string) bool {
	name = strings.TrimSuffix(name, "\x00")
	var count uint32
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil) != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, available) != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func querySwapchainSupport(pd vk.PhysicalDevice, surface vk.Surface) (*SwapchainSupport, error) {
	support := &SwapchainSupport{}
	if err := ResultError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &support.Capabilities)); err != nil {
		return nil, err
	}
	support.Capabilities.Deref()
	support.Capabilities.CurrentExtent.Deref()
	support.Capabilities.MinImageExtent.Deref()
	support.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := ResultError("vkGetPhysicalDeviceSurfaceFormatsKHR", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, nil)); err != nil {
		return nil, err
	}
	if formatCount > 0 {
		support.Formats = make([]vk.SurfaceFormat, formatCount)
		if err := ResultError("vkGetPhysicalDeviceSurfaceFormatsKHR", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, support.Formats)); err != nil {
			return nil, err
		}
		for i := range support.Formats {
			support.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := ResultError("vkGetPhysicalDeviceSurfacePresentModesKHR", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, nil)); err != nil {
		return nil, err
	}
	if modeCount > 0 {
		support.PresentModes = make([]vk.PresentMode, modeCount)
		if err := ResultError("vkGetPhysicalDeviceSurfacePresentModesKHR", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, support.PresentModes)); err != nil {
			return nil, err
		}
	}
	return support, nil
}

// findMemoryIndex returns the first memory type allowed by typeFilter that
// has every bit of flags.
func (d *Device) findMemoryIndex(typeFilter uint32, flags vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.Memory.MemoryTypeCount; i++ {
		d.Memory.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && d.Memory.MemoryTypes[i].PropertyFlags&flags == flags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type matches filter %#x with properties %#x", typeFilter, uint32(flags))
}
