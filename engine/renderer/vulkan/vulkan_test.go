package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

func TestBufferUsageMapsEveryBit(t *testing.T) {
	got := bufferUsage(gpu.BufferUsageStorage | gpu.BufferUsageDeviceAddress | gpu.BufferUsageAccelerationStructureBuildInput)
	want := vk.BufferUsageFlags(uint32(vk.BufferUsageStorageBufferBit) | bufferUsageShaderDeviceAddressBit | bufferUsageAccelerationStructureInputBit)
	if got != want {
		t.Fatalf("bufferUsage = %#x, want %#x", uint32(got), uint32(want))
	}
	if bufferUsage(0) != 0 {
		t.Fatal("empty usage mapped to non-zero flags")
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for _, f := range []gpu.Format{gpu.FormatRGBA8Unorm, gpu.FormatRGBA32Sfloat} {
		if got := formatFromVulkan(imageFormat(f)); got != f {
			t.Errorf("format %v came back as %v", f, got)
		}
	}
}

func TestRegistryTypedAccess(t *testing.T) {
	r := newRegistry()
	buf := &bufferObject{}
	h := r.add(buf)
	other := r.add(&imageObject{})

	if got, err := lookup[*bufferObject](r, h); err != nil || got != buf {
		t.Fatalf("lookup = %v, %v", got, err)
	}
	if _, err := lookup[*bufferObject](r, other); err == nil {
		t.Fatal("image handle resolved as a buffer")
	}
	if _, ok := take[*bufferObject](r, other); ok {
		t.Fatal("take succeeded with the wrong type")
	}
	if r.len() != 2 {
		t.Fatalf("mismatched take removed the handle, len = %d", r.len())
	}
	if _, ok := take[*bufferObject](r, h); !ok {
		t.Fatal("take of a buffer failed")
	}
	if _, err := lookup[*bufferObject](r, h); err == nil {
		t.Fatal("handle still resolves after take")
	}
}

func TestResultError(t *testing.T) {
	if err := ResultError("vkQueueSubmit", vk.Success); err != nil {
		t.Fatalf("success reported as %v", err)
	}
	err := ResultError("vkQueueSubmit", vk.ErrorDeviceLost)
	if !errors.Is(err, ErrVulkan) {
		t.Fatalf("error %v does not wrap ErrVulkan", err)
	}
	if ResultString(vk.Result(-12345)) != "VkResult(-12345)" {
		t.Fatalf("unknown result = %q", ResultString(vk.Result(-12345)))
	}
}

func TestCString(t *testing.T) {
	if got := cString([]byte{'V', 'K', 0, 'x'}); got != "VK" {
		t.Fatalf("cString = %q", got)
	}
	if got := cString([]byte("full")); got != "full" {
		t.Fatalf("cString = %q", got)
	}
}

func TestLockPoolPropagatesErrors(t *testing.T) {
	lp := NewLockPool()
	boom := errors.New("boom")
	if err := lp.SafeCall(QueueManagement, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("SafeCall = %v", err)
	}
}
