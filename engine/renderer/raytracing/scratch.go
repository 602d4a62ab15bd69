package raytracing

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// ScratchAllocator hands out transient scratch buffers for acceleration
// structure builds. A scratch buffer serves exactly one build and is
// released as soon as that build has retired.
type ScratchAllocator struct {
	dev       gpu.Device
	alignment uint64
	lastSize  uint64
	live      int
}

func NewScratchAllocator(dev gpu.Device) *ScratchAllocator {
	align := uint64(dev.Properties().MinScratchOffsetAlignment)
	if align == 0 {
		align = 1
	}
	return &ScratchAllocator{dev: dev, alignment: align}
}

// Allocate returns a device-local scratch buffer of size bytes, rounded up
// to the scratch alignment.
func (s *ScratchAllocator) Allocate(size uint64) (*gpu.Buffer, error) {
	s.lastSize = size
	buf, err := s.dev.CreateBuffer(
		core.AlignUp(size, s.alignment),
		gpu.BufferUsageStorage|gpu.BufferUsageDeviceAddress,
		gpu.MemoryPropertyDeviceLocal,
	)
	if err != nil {
		core.LogError("failed to allocate scratch buffer", "size", size, "err", err)
		return nil, err
	}
	s.live++
	return buf, nil
}

func (s *ScratchAllocator) Release(buf *gpu.Buffer) {
	if buf == nil || buf.Handle == gpu.NullHandle {
		return
	}
	buf.Destroy(s.dev)
	s.live--
}

// LastSize is the unaligned size of the most recent request.
func (s *ScratchAllocator) LastSize() uint64 {
	return s.lastSize
}

// Live is the number of scratch buffers not yet released.
func (s *ScratchAllocator) Live() int {
	return s.live
}
