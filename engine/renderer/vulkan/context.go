package vulkan

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

// SurfaceSource is the window the presentable surface is created for.
type SurfaceSource interface {
	// RequiredInstanceExtensions lists the instance extensions the platform
	// needs to present to its windows.
	RequiredInstanceExtensions() []string
	// CreateWindowSurface returns a VkSurfaceKHR as a raw pointer.
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
	// GetInstanceProcAddress is the platform's vkGetInstanceProcAddr.
	GetInstanceProcAddress() unsafe.Pointer
}

type ContextConfig struct {
	ApplicationName string
	// Validation enables the Khronos validation layer and the debug report callback.
	Validation bool
}

// Context owns the instance and the window surface.
type Context struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugCallback vk.DebugReportCallback
	validation    bool
}

// NewContext creates an instance able to present to source and its surface.
func NewContext(source SurfaceSource, cfg ContextConfig) (*Context, error) {
	procAddr := source.GetInstanceProcAddress()
	if procAddr == nil {
		return nil, errors.New("vkGetInstanceProcAddr is not available")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("initialize vulkan loader: %w", err)
	}

	c := &Context{validation: cfg.Validation}
	if err := c.createInstance(source, cfg); err != nil {
		return nil, err
	}
	if c.validation {
		if err := c.createDebugCallback(); err != nil {
			c.Destroy()
			return nil, err
		}
	}

	surface, err := source.CreateWindowSurface(c.Instance, nil)
	if err != nil {
		c.Destroy()
		return nil, fmt.Errorf("create window surface: %w", err)
	}
	c.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("vulkan surface created")
	return c, nil
}

func (c *Context) createInstance(source SurfaceSource, cfg ContextConfig) error {
	// Ray tracing needs 1.2 for buffer device addresses and SPIR-V 1.4.
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(cfg.ApplicationName),
		PEngineName:        safeString("Anima RT"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{}, source.RequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, khrPortabilityEnumerationExtensionName, khrPhysicalDeviceProperties2ExtensionName)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if cfg.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if !layerAvailable(khronosValidationLayerName) {
			return fmt.Errorf("required validation layer is missing: %s", khronosValidationLayerName)
		}
		layers = append(layers, khronosValidationLayerName)
		core.LogInfo("validation layers enabled", "layers", layers)
	}
	core.LogDebug("instance extensions", "extensions", extensions)

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = safeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = safeStrings(layers)

	var instance vk.Instance
	if err := ResultError("vkCreateInstance", vk.CreateInstance(&createInfo, c.Allocator, &instance)); err != nil {
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, c.Allocator)
		return fmt.Errorf("initialize instance: %w", err)
	}
	c.Instance = instance
	core.LogInfo("vulkan instance created")
	return nil
}

func layerAvailable(name string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, layers) != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (c *Context) createDebugCallback() error {
	info := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: debugReport,
	}
	var cb vk.DebugReportCallback
	if err := ResultError("vkCreateDebugReportCallbackEXT", vk.CreateDebugReportCallback(c.Instance, &info, c.Allocator, &cb)); err != nil {
		return err
	}
	c.debugCallback = cb
	return nil
}

func debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError(pMessage, "layer", pLayerPrefix, "code", messageCode)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn(pMessage, "layer", pLayerPrefix, "code", messageCode)
	default:
		core.LogDebug(pMessage, "layer", pLayerPrefix, "code", messageCode)
	}
	return vk.Bool32(vk.False)
}

// Destroy releases the surface, the debug callback and the instance. The
// device must already be destroyed.
func (c *Context) Destroy() {
	if c.Instance == nil {
		return
	}
	if c.Surface != nil {
		vk.DestroySurface(c.Instance, c.Surface, c.Allocator)
		c.Surface = nil
	}
	if c.debugCallback != nil {
		vk.DestroyDebugReportCallback(c.Instance, c.debugCallback, c.Allocator)
		c.debugCallback = nil
	}
	vk.DestroyInstance(c.Instance, c.Allocator)
	c.Instance = nil
	core.LogDebug("vulkan instance destroyed")
}
