package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

func (b *Backend) CreateFence(signaled bool) (gpu.Handle, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := ResultError("vkCreateFence", vk.CreateFence(b.device.LogicalDevice, &info, b.ctx.Allocator, &fence)); err != nil {
		return gpu.NullHandle, err
	}
	return b.objects.add(fence), nil
}

func (b *Backend) WaitForFence(h gpu.Handle, timeoutNs uint64) error {
	fence, err := lookup[vk.Fence](b.objects, h)
	if err != nil {
		return err
	}
	switch res := vk.WaitForFences(b.device.LogicalDevice, 1, []vk.Fence{fence}, vk.True, timeoutNs); res {
	case vk.Success:
		return nil
	case vk.Timeout:
		return fmt.Errorf("wait for fence %d: timed out after %dns", h, timeoutNs)
	default:
		return ResultError("vkWaitForFences", res)
	}
}

func (b *Backend) ResetFence(h gpu.Handle) error {
	fence, err := lookup[vk.Fence](b.objects, h)
	if err != nil {
		return err
	}
	return ResultError("vkResetFences", vk.ResetFences(b.device.LogicalDevice, 1, []vk.Fence{fence}))
}

func (b *Backend) DestroyFence(h gpu.Handle) {
	if fence, ok := take[vk.Fence](b.objects, h); ok {
		vk.DestroyFence(b.device.LogicalDevice, fence, b.ctx.Allocator)
	}
}

func (b *Backend) CreateSemaphore() (gpu.Handle, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var sem vk.Semaphore
	if err := ResultError("vkCreateSemaphore", vk.CreateSemaphore(b.device.LogicalDevice, &info, b.ctx.Allocator, &sem)); err != nil {
		return gpu.NullHandle, err
	}
	return b.objects.add(sem), nil
}

func (b *Backend) DestroySemaphore(h gpu.Handle) {
	if sem, ok := take[vk.Semaphore](b.objects, h); ok {
		vk.DestroySemaphore(b.device.LogicalDevice, sem, b.ctx.Allocator)
	}
}

func (b *Backend) semaphore(h gpu.Handle) (vk.Semaphore, error) {
	if h == gpu.NullHandle {
		return nil, nil
	}
	return lookup[vk.Semaphore](b.objects, h)
}
