package raytracing

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu/gputest"
)

type storeFixture struct {
	dev        *gputest.Device
	store      *Store
	table      *InstanceTable
	geometries []*GeometryResource
}

func newStoreFixture(t *testing.T, host bool) *storeFixture {
	t.Helper()
	dev := gputest.NewDevice(gputest.WithHostBuilds(host))
	return &storeFixture{dev: dev, store: NewStore(dev, true), table: NewInstanceTable(dev)}
}

func (f *storeFixture) add(t *testing.T, x float32) {
	t.Helper()
	g, err := NewGeometryResource(f.dev, testQuad())
	if err != nil {
		t.Fatalf("NewGeometryResource: %v", err)
	}
	if _, err := f.store.BuildBottom(g); err != nil {
		t.Fatalf("BuildBottom: %v", err)
	}
	if _, err := f.table.Append(Instance{Transform: translation(x), Mask: 0xFF}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.geometries = append(f.geometries, g)
}

func (f *storeFixture) remove(t *testing.T, i int) {
	t.Helper()
	if !f.store.Remove(i) || !f.table.Remove(i) {
		t.Fatalf("Remove(%d) out of range", i)
	}
	f.geometries[i].Destroy(f.dev)
	f.geometries = append(f.geometries[:i], f.geometries[i+1:]...)
}

func lastTopBuild(t *testing.T, dev *gputest.Device) gputest.BuildRecord {
	t.Helper()
	builds := dev.Builds()
	for i := len(builds) - 1; i >= 0; i-- {
		if builds[i].Info.Kind == gpu.TopLevel {
			return builds[i]
		}
	}
	t.Fatal("no top-level build recorded")
	return gputest.BuildRecord{}
}

func alignedScratch(n uint64) uint64 {
	return core.AlignUp(n, 128)
}

func TestStoreTransformOnlyUsesUpdate(t *testing.T) {
	f := newStoreFixture(t, true)
	if !f.store.HostBuilds() {
		t.Fatal("host builds should be used when supported and preferred")
	}
	f.add(t, 0)
	if err := f.store.BuildTop(nil, f.table); err != nil {
		t.Fatalf("BuildTop: %v", err)
	}
	if f.store.TopState() != TopBuilt {
		t.Fatalf("state = %s, want built", f.store.TopState())
	}
	top := f.store.Top().Handle

	f.table.SetTransform(0, translation(5))
	if err := f.store.UpdateTopInPlace(nil, f.table, false); err != nil {
		t.Fatalf("UpdateTopInPlace: %v", err)
	}
	if f.store.TopState() != TopUpdated {
		t.Errorf("state = %s, want updated", f.store.TopState())
	}

	rec := lastTopBuild(t, f.dev)
	if rec.Info.Mode != gpu.BuildModeUpdate {
		t.Errorf("mode = %s, want update", rec.Info.Mode)
	}
	if rec.Info.Src != top || rec.Info.Dst != top {
		t.Errorf("update src %d dst %d, want both %d", rec.Info.Src, rec.Info.Dst, top)
	}
	sizes := gputest.DefaultSizes(&rec.Info)
	if rec.ScratchSize != alignedScratch(sizes.UpdateScratchSize) {
		t.Errorf("scratch = %d, want update size %d", rec.ScratchSize, alignedScratch(sizes.UpdateScratchSize))
	}
	if rec.ScratchSize >= alignedScratch(sizes.BuildScratchSize) {
		t.Error("update scratch is not smaller than build scratch")
	}
	if got := recordFloat(f.dev.Contents(f.table.Buffer()), 3); got != 5 {
		t.Errorf("uploaded x translation = %v, want 5", got)
	}
	if f.store.Scratch().Live() != 0 {
		t.Errorf("%d scratch buffers still alive", f.store.Scratch().Live())
	}
	expectNoViolations(t, f.dev)
}

func TestStoreCountChangeRebuilds(t *testing.T) {
	f := newStoreFixture(t, true)
	f.add(t, 0)
	if err := f.store.BuildTop(nil, f.table); err != nil {
		t.Fatal(err)
	}
	f.add(t, 2)
	if err := f.store.UpdateTopInPlace(nil, f.table, false); err != nil {
		t.Fatal(err)
	}
	if f.store.TopState() != TopRebuilt {
		t.Errorf("state = %s, want rebuilt", f.store.TopState())
	}
	rec := lastTopBuild(t, f.dev)
	if rec.Info.Mode != gpu.BuildModeBuild || rec.Info.Instances.Count != 2 {
		t.Errorf("build = %s over %d instances", rec.Info.Mode, rec.Info.Instances.Count)
	}
	if want := alignedScratch(gputest.DefaultSizes(&rec.Info).BuildScratchSize); rec.ScratchSize != want {
		t.Errorf("scratch = %d, want %d", rec.ScratchSize, want)
	}
	if n := f.dev.StructureCount(gpu.TopLevel); n != 1 {
		t.Errorf("%d top-level structures alive, want 1", n)
	}

	if err := f.store.UpdateTopInPlace(nil, f.table, true); err != nil {
		t.Fatal(err)
	}
	if f.store.TopState() != TopRebuilt {
		t.Errorf("forced rebuild left state %s", f.store.TopState())
	}
	expectNoViolations(t, f.dev)
}

func TestStoreAddMoveRemoveScenario(t *testing.T) {
	f := newStoreFixture(t, true)

	type step struct {
		name    string
		do      func()
		rebuild bool
		state   TopState
		mode    gpu.BuildMode
		bottoms int
		count   uint32
	}
	steps := []step{
		{name: "add A", do: func() { f.add(t, 0) }, rebuild: true, state: TopBuilt, mode: gpu.BuildModeBuild, bottoms: 1, count: 1},
		{name: "add B", do: func() { f.add(t, 3) }, rebuild: true, state: TopRebuilt, mode: gpu.BuildModeBuild, bottoms: 2, count: 2},
		{name: "move A", do: func() { f.table.SetTransform(0, translation(1)) }, state: TopUpdated, mode: gpu.BuildModeUpdate, bottoms: 2, count: 2},
		{name: "remove A", do: func() { f.remove(t, 0) }, rebuild: true, state: TopRebuilt, mode: gpu.BuildModeBuild, bottoms: 1, count: 1},
	}
	for _, s := range steps {
		s.do()
		if err := f.store.UpdateTopInPlace(nil, f.table, s.rebuild); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if f.store.TopState() != s.state {
			t.Errorf("%s: state = %s, want %s", s.name, f.store.TopState(), s.state)
		}
		if n := f.dev.StructureCount(gpu.BottomLevel); n != s.bottoms {
			t.Errorf("%s: %d bottom-level structures, want %d", s.name, n, s.bottoms)
		}
		if n := f.dev.StructureCount(gpu.TopLevel); n != 1 {
			t.Errorf("%s: %d top-level structures, want 1", s.name, n)
		}
		rec := lastTopBuild(t, f.dev)
		if rec.Info.Mode != s.mode || rec.Info.Instances.Count != s.count {
			t.Errorf("%s: %s over %d instances", s.name, rec.Info.Mode, rec.Info.Instances.Count)
		}
		sizes := gputest.DefaultSizes(&rec.Info)
		want := sizes.BuildScratchSize
		if s.mode == gpu.BuildModeUpdate {
			want = sizes.UpdateScratchSize
		}
		if rec.ScratchSize != alignedScratch(want) {
			t.Errorf("%s: scratch = %d, want %d", s.name, rec.ScratchSize, alignedScratch(want))
		}
	}

	remaining := f.table.At(0)
	if remaining.CustomIndex != 0 {
		t.Errorf("remaining instance custom index = %d", remaining.CustomIndex)
	}
	if remaining.BLASAddress != f.store.Bottoms()[0].Address {
		t.Error("remaining instance does not reference the surviving bottom-level structure")
	}
	if x := remaining.Transform.At(0, 3); x != 3 {
		t.Errorf("remaining instance is not B: x = %v", x)
	}
	expectNoViolations(t, f.dev)
}

func TestStoreDeviceBuildsRecordBarriers(t *testing.T) {
	f := newStoreFixture(t, false)
	if f.store.HostBuilds() {
		t.Fatal("host builds used without device support")
	}
	f.add(t, 0)
	if b := f.dev.Builds(); len(b) != 1 || b[0].Host {
		t.Fatalf("bottom-level build records = %+v", b)
	}

	cb := recordingBuffer(t, f.dev)
	if err := f.store.BuildTop(cb, f.table); err != nil {
		t.Fatal(err)
	}
	kinds := cb.Kinds()
	want := []gputest.OpKind{gputest.OpBarrier, gputest.OpBuild, gputest.OpBarrier}
	if len(kinds) != len(want) {
		t.Fatalf("recorded %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("recorded %v, want %v", kinds, want)
		}
	}
	pre, post := cb.Ops[0], cb.Ops[2]
	if pre.Memory[0].SrcAccess != gpu.AccessHostWrite || pre.Memory[0].DstAccess != gpu.AccessAccelerationStructureRead {
		t.Errorf("pre-build barrier = %+v", pre.Memory[0])
	}
	if post.Memory[0].SrcAccess != gpu.AccessAccelerationStructureWrite || post.DstStage != gpu.PipelineStageRayTracingShader {
		t.Errorf("post-build barrier = %+v", post)
	}
	if f.store.Scratch().Live() != 1 {
		t.Errorf("scratch of a recorded build must outlive the recording, live = %d", f.store.Scratch().Live())
	}

	if err := cb.End(); err != nil {
		t.Fatal(err)
	}
	if err := f.dev.Submit(&gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{cb}}); err != nil {
		t.Fatal(err)
	}
	if err := f.dev.QueueWaitIdle(); err != nil {
		t.Fatal(err)
	}
	if rec := lastTopBuild(t, f.dev); rec.Host {
		t.Error("top-level build ran on the host")
	}

	if err := cb.Reset(); err != nil {
		t.Fatal(err)
	}
	cb.Begin(false)
	f.table.SetTransform(0, translation(2))
	if err := f.store.UpdateTopInPlace(cb, f.table, false); err != nil {
		t.Fatal(err)
	}
	if f.store.TopState() != TopUpdated || f.store.Scratch().Live() != 1 {
		t.Errorf("state %s with %d scratch buffers", f.store.TopState(), f.store.Scratch().Live())
	}

	f.dev.WaitIdle()
	f.store.Destroy()
	if f.store.TopState() != TopDestroyed {
		t.Errorf("state = %s after Destroy", f.store.TopState())
	}
	if f.store.Scratch().Live() != 0 || f.dev.StructureCount(gpu.TopLevel) != 0 || f.dev.StructureCount(gpu.BottomLevel) != 0 {
		t.Error("Destroy left structures or scratch behind")
	}
	expectNoViolations(t, f.dev)
}

func TestStoreNullHandleIsFatal(t *testing.T) {
	dev := gputest.NewDevice(gputest.WithHostBuilds(true))
	dev.FailCreateStructure = true
	store := NewStore(dev, true)

	g, err := NewGeometryResource(dev, testQuad())
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.BuildBottom(g)
	if !core.IsFatal(err) || !errors.Is(err, core.ErrNullHandle) {
		t.Fatalf("err = %v, want fatal null handle", err)
	}
	if n := dev.Live().Buffers; n != 2 {
		t.Errorf("%d buffers alive, want only the 2 geometry buffers", n)
	}
	if len(store.Bottoms()) != 0 {
		t.Error("failed build was kept")
	}
}
