package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

func (b *Backend) CreateImage(desc gpu.ImageDesc) (*gpu.Image, error) {
	if desc.Extent.IsZero() {
		return nil, fmt.Errorf("create image: zero extent %dx%d", desc.Extent.Width, desc.Extent.Height)
	}
	format := imageFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, fmt.Errorf("create image: unsupported format %d", desc.Format)
	}

	dev := b.device.LogicalDevice
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	obj := &imageObject{}
	if err := ResultError("vkCreateImage", vk.CreateImage(dev, &info, b.ctx.Allocator, &obj.image)); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, obj.image, &reqs)
	memory, err := b.allocate(reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), false)
	if err != nil {
		b.destroyImageObject(obj)
		return nil, err
	}
	obj.memory = memory
	if err := ResultError("vkBindImageMemory", vk.BindImageMemory(dev, obj.image, obj.memory, 0)); err != nil {
		b.destroyImageObject(obj)
		return nil, err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            obj.image,
		ViewType:         vk.ImageViewType2d,
		Format:           format,
		SubresourceRange: colorSubresource,
	}
	if err := ResultError("vkCreateImageView", vk.CreateImageView(dev, &viewInfo, b.ctx.Allocator, &obj.view)); err != nil {
		b.destroyImageObject(obj)
		return nil, err
	}

	if desc.Sampled {
		samplerInfo := vk.SamplerCreateInfo{
			SType:         vk.StructureTypeSamplerCreateInfo,
			MagFilter:     vk.FilterLinear,
			MinFilter:     vk.FilterLinear,
			MipmapMode:    vk.SamplerMipmapModeLinear,
			AddressModeU:  vk.SamplerAddressModeRepeat,
			AddressModeV:  vk.SamplerAddressModeClampToEdge,
			AddressModeW:  vk.SamplerAddressModeRepeat,
			MaxAnisotropy: 1,
			BorderColor:   vk.BorderColorFloatOpaqueBlack,
			CompareOp:     vk.CompareOpAlways,
		}
		if err := ResultError("vkCreateSampler", vk.CreateSampler(dev, &samplerInfo, b.ctx.Allocator, &obj.sampler)); err != nil {
			b.destroyImageObject(obj)
			return nil, err
		}
	}

	img := &gpu.Image{
		Handle: b.objects.add(obj),
		Memory: b.objects.add(obj.memory),
		View:   b.objects.add(obj.view),
		Format: desc.Format,
		Extent: desc.Extent,
		Usage:  desc.Usage,
		Layout: gpu.ImageLayoutUndefined,
	}
	if obj.sampler != nil {
		img.Sampler = b.objects.add(obj.sampler)
	}
	return img, nil
}

// UploadImage stages pixels in a host visible buffer and copies them into
// img on the graphics queue.
func (b *Backend) UploadImage(img *gpu.Image, pixels []byte) error {
	want := uint64(img.Extent.Width) * uint64(img.Extent.Height) * uint64(img.Format.BytesPerPixel())
	if uint64(len(pixels)) != want {
		return fmt.Errorf("upload image %d: got %d bytes, want %d", img.Handle, len(pixels), want)
	}
	obj, err := lookup[*imageObject](b.objects, img.Handle)
	if err != nil {
		return err
	}

	staging, err := b.CreateBuffer(want, gpu.BufferUsageTransferSrc, gpu.MemoryPropertyHostShared)
	if err != nil {
		return err
	}
	defer staging.Destroy(b)
	if err := b.WriteBuffer(staging, 0, pixels); err != nil {
		return err
	}
	src, err := lookup[*bufferObject](b.objects, staging.Handle)
	if err != nil {
		return err
	}

	err = gpu.SingleUse(b, func(c gpu.CommandBuffer) error {
		cb := c.(*CommandBuffer)
		cb.PipelineBarrier(gpu.PipelineStageTopOfPipe, gpu.PipelineStageTransfer, nil, []gpu.ImageBarrier{{
			Image:     img.Handle,
			OldLayout: img.Layout,
			NewLayout: gpu.ImageLayoutTransferDst,
			DstAccess: gpu.AccessTransferWrite,
		}})
		cb.copyBufferToImage(src.buffer, obj.image, img.Extent)
		cb.PipelineBarrier(gpu.PipelineStageTransfer, gpu.PipelineStageRayTracingShader, nil, []gpu.ImageBarrier{{
			Image:     img.Handle,
			OldLayout: gpu.ImageLayoutTransferDst,
			NewLayout: gpu.ImageLayoutShaderReadOnly,
			SrcAccess: gpu.AccessTransferWrite,
			DstAccess: gpu.AccessShaderRead,
		}})
		return nil
	})
	if err != nil {
		return err
	}
	img.Layout = gpu.ImageLayoutShaderReadOnly
	return nil
}

func (b *Backend) DestroyImage(img *gpu.Image) {
	obj, ok := take[*imageObject](b.objects, img.Handle)
	if !ok {
		return
	}
	b.objects.remove(img.Memory)
	b.objects.remove(img.View)
	b.objects.remove(img.Sampler)
	b.destroyImageObject(obj)
}

func (b *Backend) destroyImageObject(obj *imageObject) {
	dev := b.device.LogicalDevice
	if obj.sampler != nil {
		vk.DestroySampler(dev, obj.sampler, b.ctx.Allocator)
	}
	if obj.view != nil {
		vk.DestroyImageView(dev, obj.view, b.ctx.Allocator)
	}
	if obj.image != nil {
		vk.DestroyImage(dev, obj.image, b.ctx.Allocator)
	}
	if obj.memory != nil {
		vk.FreeMemory(dev, obj.memory, b.ctx.Allocator)
	}
}

// image resolves h to a device image. Presentable images are registered
// by the swapchain as bare vk.Image values.
func (b *Backend) image(h gpu.Handle) (vk.Image, error) {
	if obj, err := lookup[*imageObject](b.objects, h); err == nil {
		return obj.image, nil
	}
	return lookup[vk.Image](b.objects, h)
}
