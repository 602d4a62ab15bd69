package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// Swapchain is the presentable image chain of the backend's surface. Its
// images are used as blit and clear destinations only.
type Swapchain struct {
	backend *Backend
	handle  vk.Swapchain
	format  vk.SurfaceFormat
	extent  gpu.Extent2D
	images  []gpu.Handle
}

var _ gpu.Presenter = (*Swapchain)(nil)

// NewSwapchain creates a chain at extent, clamped to what the surface allows.
func NewSwapchain(b *Backend, extent gpu.Extent2D) (*Swapchain, error) {
	s := &Swapchain{backend: b}
	if err := s.create(extent); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) AcquireNextImage(imageAcquired gpu.Handle) (uint32, gpu.SurfaceStatus, error) {
	sem, err := s.backend.semaphore(imageAcquired)
	if err != nil {
		return 0, gpu.SurfaceOptimal, err
	}
	var index uint32
	switch res := vk.AcquireNextImage(s.backend.device.LogicalDevice, s.handle, math.MaxUint64, sem, nil, &index); res {
	case vk.Success:
		return index, gpu.SurfaceOptimal, nil
	case vk.Suboptimal:
		return index, gpu.SurfaceSuboptimal, nil
	case vk.ErrorOutOfDate:
		return 0, gpu.SurfaceOutOfDate, nil
	default:
		return 0, gpu.SurfaceOptimal, ResultError("vkAcquireNextImageKHR", res)
	}
}

func (s *Swapchain) Present(index uint32, renderFinished gpu.Handle) (gpu.SurfaceStatus, error) {
	sem, err := s.backend.semaphore(renderFinished)
	if err != nil {
		return gpu.SurfaceOptimal, err
	}
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{s.handle},
		PImageIndices:  []uint32{index},
	}
	if sem != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{sem}
	}

	var res vk.Result
	_ = s.backend.locks.SafeCall(QueueManagement, func() error {
		res = vk.QueuePresent(s.backend.device.PresentQueue, &info)
		return nil
	})
	switch res {
	case vk.Success:
		return gpu.SurfaceOptimal, nil
	case vk.Suboptimal:
		return gpu.SurfaceSuboptimal, nil
	case vk.ErrorOutOfDate:
		return gpu.SurfaceOutOfDate, nil
	default:
		return gpu.SurfaceOptimal, ResultError("vkQueuePresentKHR", res)
	}
}

func (s *Swapchain) Image(index uint32) gpu.Handle {
	if int(index) >= len(s.images) {
		return gpu.NullHandle
	}
	return s.images[index]
}

func (s *Swapchain) ImageCount() uint32 {
	return uint32(len(s.images))
}

func (s *Swapchain) Extent() gpu.Extent2D {
	return s.extent
}

// Format is the surface format the chain was created with.
func (s *Swapchain) Format() gpu.Format {
	return formatFromVulkan(s.format.Format)
}

// Recreate replaces the chain. The old one is passed to the driver as the
// retired chain and destroyed afterwards.
func (s *Swapchain) Recreate(extent gpu.Extent2D) error {
	old := s.handle
	s.releaseImages()
	err := s.create(extent)
	if old != nil {
		vk.DestroySwapchain(s.backend.device.LogicalDevice, old, s.backend.ctx.Allocator)
		if s.handle == old {
			s.handle = nil
		}
	}
	return err
}

// Destroy releases the chain. The device must be idle.
func (s *Swapchain) Destroy() {
	s.releaseImages()
	if s.handle != nil {
		vk.DestroySwapchain(s.backend.device.LogicalDevice, s.handle, s.backend.ctx.Allocator)
		s.handle = nil
	}
}

func (s *Swapchain) releaseImages() {
	for _, h := range s.images {
		s.backend.objects.remove(h)
	}
	s.images = nil
}

func (s *Swapchain) create(extent gpu.Extent2D) error {
	b := s.backend
	dev := b.device
	support, err := querySwapchainSupport(dev.PhysicalDevice, b.ctx.Surface)
	if err != nil {
		return err
	}
	caps := support.Capabilities

	s.format = support.Formats[0]
	for _, f := range support.Formats {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			s.format = f
			break
		}
	}

	presentMode := vk.PresentModeFifo
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	size := vk.Extent2D{Width: extent.Width, Height: extent.Height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		size = caps.CurrentExtent
	}
	size.Width = core.Clamp(size.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	size.Height = core.Clamp(size.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if size.Width == 0 || size.Height == 0 {
		return core.ErrInvalidExtent
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          b.ctx.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      s.format.Format,
		ImageColorSpace:  s.format.ColorSpace,
		ImageExtent:      size,
		ImageArrayLayers: 1,
		// Frames reach the chain by blit or clear.
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     s.handle,
	}
	if dev.GraphicsQueueIndex != dev.PresentQueueIndex {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{dev.GraphicsQueueIndex, dev.PresentQueueIndex}
	}

	var handle vk.Swapchain
	if err := ResultError("vkCreateSwapchainKHR", vk.CreateSwapchain(dev.LogicalDevice, &info, b.ctx.Allocator, &handle)); err != nil {
		return err
	}

	var count uint32
	if err := ResultError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(dev.LogicalDevice, handle, &count, nil)); err != nil {
		vk.DestroySwapchain(dev.LogicalDevice, handle, b.ctx.Allocator)
		return err
	}
	images := make([]vk.Image, count)
	if err := ResultError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(dev.LogicalDevice, handle, &count, images)); err != nil {
		vk.DestroySwapchain(dev.LogicalDevice, handle, b.ctx.Allocator)
		return err
	}

	s.handle = handle
	s.extent = gpu.Extent2D{Width: size.Width, Height: size.Height}
	for _, img := range images {
		s.images = append(s.images, b.objects.add(img))
	}
	core.LogInfo("swapchain created",
		"width", s.extent.Width,
		"height", s.extent.Height,
		"images", len(s.images),
		"mailbox", presentMode == vk.PresentModeMailbox)
	if s.Format() == gpu.FormatUndefined {
		return fmt.Errorf("swapchain format %d has no renderer equivalent", s.format.Format)
	}
	return nil
}
