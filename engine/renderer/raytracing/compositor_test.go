package raytracing

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu/gputest"
)

func newTestCompositor(t *testing.T, dev *gputest.Device, extent gpu.Extent2D) *Compositor {
	t.Helper()
	p := testPipeline(t, dev, 3)
	sbt, err := NewShaderBindingTable(dev, p)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCompositor(dev, p, sbt, extent)
	if err != nil {
		t.Fatalf("NewCompositor: %v", err)
	}
	return c
}

func expectKinds(t *testing.T, got []gputest.OpKind, want ...gputest.OpKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("recorded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recorded %v, want %v", got, want)
		}
	}
}

func expectTransition(t *testing.T, b gpu.ImageBarrier, img gpu.Handle, from, to gpu.ImageLayout) {
	t.Helper()
	if b.Image != img || b.OldLayout != from || b.NewLayout != to {
		t.Errorf("barrier on %d %s->%s, want %d %s->%s", b.Image, b.OldLayout, b.NewLayout, img, from, to)
	}
}

func TestCompositorRecordOrder(t *testing.T) {
	dev := gputest.NewDevice()
	c := newTestCompositor(t, dev, gpu.Extent2D{Width: 800, Height: 600})
	storage, accum := c.StorageImage().Handle, c.AccumulationImage().Handle
	if c.StorageImage().Layout != gpu.ImageLayoutGeneral || c.AccumulationImage().Layout != gpu.ImageLayoutGeneral {
		t.Fatal("images not left in the general layout")
	}

	const surface = gpu.Handle(9999)
	surfaceExtent := gpu.Extent2D{Width: 1024, Height: 768}
	cb := recordingBuffer(t, dev)
	c.Record(cb, 1, true, surface, surfaceExtent)

	expectKinds(t, cb.Kinds(),
		gputest.OpBind, gputest.OpTraceRays,
		gputest.OpBarrier, gputest.OpCopy, gputest.OpBarrier,
		gputest.OpBarrier, gputest.OpBlit, gputest.OpBarrier)

	ops := cb.Ops
	if ops[0].Set != 1 {
		t.Errorf("bound descriptor set %d, want 1", ops[0].Set)
	}
	if ops[1].Width != 800 || ops[1].Height != 600 {
		t.Errorf("trace %dx%d, want 800x600", ops[1].Width, ops[1].Height)
	}
	expectTransition(t, ops[2].Images[0], storage, gpu.ImageLayoutGeneral, gpu.ImageLayoutTransferSrc)
	expectTransition(t, ops[2].Images[1], accum, gpu.ImageLayoutGeneral, gpu.ImageLayoutTransferDst)
	if ops[3].Src != storage || ops[3].Dst != accum {
		t.Errorf("copy %d -> %d", ops[3].Src, ops[3].Dst)
	}
	expectTransition(t, ops[4].Images[0], accum, gpu.ImageLayoutTransferDst, gpu.ImageLayoutGeneral)
	expectTransition(t, ops[5].Images[0], surface, gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDst)
	if ops[6].Src != accum || ops[6].Dst != surface || ops[6].Filter != gpu.FilterLinear {
		t.Errorf("blit = %+v", ops[6])
	}
	if ops[6].SrcExtent != c.Extent() || ops[6].DstExtent != surfaceExtent {
		t.Errorf("blit extents %v -> %v", ops[6].SrcExtent, ops[6].DstExtent)
	}
	expectTransition(t, ops[7].Images[0], surface, gpu.ImageLayoutTransferDst, gpu.ImageLayoutPresentSrc)
	expectTransition(t, ops[7].Images[1], accum, gpu.ImageLayoutTransferSrc, gpu.ImageLayoutGeneral)
}

func TestCompositorCompositeOnly(t *testing.T) {
	dev := gputest.NewDevice()
	c := newTestCompositor(t, dev, gpu.Extent2D{Width: 64, Height: 64})
	cb := recordingBuffer(t, dev)
	c.Record(cb, 0, false, gpu.Handle(42), gpu.Extent2D{Width: 64, Height: 64})
	expectKinds(t, cb.Kinds(),
		gputest.OpBarrier, gputest.OpClear,
		gputest.OpBarrier, gputest.OpBlit, gputest.OpBarrier)

	accum := c.AccumulationImage().Handle
	ops := cb.Ops
	expectTransition(t, ops[0].Images[0], accum, gpu.ImageLayoutGeneral, gpu.ImageLayoutGeneral)
	if ops[1].Dst != accum || ops[1].DstLayout != gpu.ImageLayoutGeneral {
		t.Errorf("cleared %d in %s, want accumulation image in general", ops[1].Dst, ops[1].DstLayout)
	}
	if ops[3].Src != accum || ops[3].Dst != gpu.Handle(42) {
		t.Errorf("blit %d -> %d", ops[3].Src, ops[3].Dst)
	}
}

func TestCompositorResize(t *testing.T) {
	dev := gputest.NewDevice()
	c := newTestCompositor(t, dev, gpu.Extent2D{Width: 800, Height: 600})

	for i := 0; i < 3; i++ {
		if err := c.Resize(gpu.Extent2D{Width: 640, Height: 480}); err != nil {
			t.Fatalf("Resize: %v", err)
		}
	}
	if n := dev.Live().Images; n != 2 {
		t.Errorf("%d images alive, want 2", n)
	}
	if c.Extent() != (gpu.Extent2D{Width: 640, Height: 480}) || c.Generation() != 4 {
		t.Errorf("extent %v generation %d", c.Extent(), c.Generation())
	}

	err := c.Resize(gpu.Extent2D{})
	if !core.IsFatal(err) || !errors.Is(err, core.ErrInvalidExtent) {
		t.Errorf("zero extent err = %v", err)
	}

	c.Destroy()
	if n := dev.Live().Images; n != 0 {
		t.Errorf("%d images alive after Destroy", n)
	}
	expectNoViolations(t, dev)
}
