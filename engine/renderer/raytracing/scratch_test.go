package raytracing

import (
	"testing"

	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu/gputest"
)

func TestScratchAllocator(t *testing.T) {
	dev := gputest.NewDevice()
	s := NewScratchAllocator(dev)

	b, err := s.Allocate(200)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b.Size != 256 {
		t.Errorf("size = %d, want 256 (aligned to 128)", b.Size)
	}
	if b.Address == 0 {
		t.Error("scratch buffer has no device address")
	}
	if s.LastSize() != 200 || s.Live() != 1 {
		t.Errorf("LastSize = %d, Live = %d", s.LastSize(), s.Live())
	}

	s.Release(b)
	s.Release(b)
	if s.Live() != 0 || dev.Live().Buffers != 0 {
		t.Errorf("after release: allocator live %d, device buffers %d", s.Live(), dev.Live().Buffers)
	}
	expectNoViolations(t, dev)
}
