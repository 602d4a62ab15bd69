package raytracing

import (
	"encoding/binary"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu/gputest"
)

func TestInstanceRecordLayout(t *testing.T) {
	inst := Instance{
		Transform:   mgl32.Translate3D(1, 2, 3),
		CustomIndex: 7,
		Mask:        0xFF,
		SBTOffset:   0,
		Flags:       InstanceTriangleFacingCullDisable,
		BLASAddress: 0xDEADBEEF00,
	}
	rec := inst.AppendRecord(nil)
	if len(rec) != InstanceRecordSize {
		t.Fatalf("record is %d bytes, want %d", len(rec), InstanceRecordSize)
	}
	want := [12]float32{1, 0, 0, 1, 0, 1, 0, 2, 0, 0, 1, 3}
	for i, w := range want {
		if got := recordFloat(rec, i); got != w {
			t.Errorf("transform[%d] = %v, want %v", i, got, w)
		}
	}
	if got := binary.LittleEndian.Uint32(rec[48:]); got != 7|0xFF<<24 {
		t.Errorf("index and mask = %#x", got)
	}
	if got := binary.LittleEndian.Uint32(rec[52:]); got != 1<<24 {
		t.Errorf("offset and flags = %#x", got)
	}
	if got := binary.LittleEndian.Uint64(rec[56:]); got != 0xDEADBEEF00 {
		t.Errorf("address = %#x", got)
	}
}

func TestInstanceTableRemoveReindexes(t *testing.T) {
	table := NewInstanceTable(gputest.NewDevice())
	for i := 0; i < 3; i++ {
		idx, err := table.Append(Instance{Transform: translation(float32(i)), CustomIndex: 99, Mask: 0xFF})
		if err != nil || idx != i {
			t.Fatalf("Append = %d, %v", idx, err)
		}
	}
	if !table.Remove(0) {
		t.Fatal("Remove(0) reported out of range")
	}
	if table.Len() != 2 {
		t.Fatalf("Len = %d, want 2", table.Len())
	}
	for i := 0; i < table.Len(); i++ {
		inst := table.At(i)
		if inst.CustomIndex != uint32(i) {
			t.Errorf("instance %d has custom index %d", i, inst.CustomIndex)
		}
		if x := inst.Transform.At(0, 3); x != float32(i+1) {
			t.Errorf("instance %d translation = %v, want %v", i, x, i+1)
		}
	}
	if table.Remove(5) || table.Remove(-1) {
		t.Error("out of range removal reported success")
	}
	if table.Len() != 2 {
		t.Errorf("Len = %d after ignored removals", table.Len())
	}
}

func TestInstanceTableUploadGrowsOnly(t *testing.T) {
	dev := gputest.NewDevice()
	table := NewInstanceTable(dev)

	if err := table.Upload(); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if table.Capacity() != 1 || table.Buffer() == nil {
		t.Fatalf("empty table capacity = %d", table.Capacity())
	}

	steps := []struct {
		appendN  int
		remove   bool
		capacity int
	}{
		{appendN: 1, capacity: 1},
		{appendN: 1, capacity: 2},
		{appendN: 1, capacity: 4},
		{remove: true, capacity: 4},
	}
	for i, s := range steps {
		for j := 0; j < s.appendN; j++ {
			if _, err := table.Append(Instance{Transform: translation(float32(i)), Mask: 0xFF}); err != nil {
				t.Fatal(err)
			}
		}
		if s.remove {
			table.Remove(0)
		}
		if err := table.Upload(); err != nil {
			t.Fatalf("step %d: Upload: %v", i, err)
		}
		if table.Capacity() != s.capacity {
			t.Errorf("step %d: capacity = %d, want %d", i, table.Capacity(), s.capacity)
		}
		if n := dev.Live().Buffers; n != 1 {
			t.Errorf("step %d: %d buffers alive, want 1", i, n)
		}
	}

	first := table.At(0)
	got := dev.Contents(table.Buffer())[:InstanceRecordSize]
	if want := first.AppendRecord(nil); string(got) != string(want) {
		t.Error("uploaded record differs from the host copy")
	}

	table.Destroy()
	if n := dev.Live().Buffers; n != 0 {
		t.Errorf("%d buffers alive after Destroy", n)
	}
	expectNoViolations(t, dev)
}

func TestInstanceTableResolve(t *testing.T) {
	table := NewInstanceTable(gputest.NewDevice())
	table.Append(Instance{Mask: 0xFF})
	table.Append(Instance{Mask: 0xFF})

	if err := table.Resolve([]gpu.DeviceAddress{1}); err == nil {
		t.Error("expected a count mismatch error")
	}
	if err := table.Resolve([]gpu.DeviceAddress{0x100, 0x200}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if table.At(1).BLASAddress != 0x200 {
		t.Errorf("address = %#x, want 0x200", table.At(1).BLASAddress)
	}
}
