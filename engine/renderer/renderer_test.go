package renderer

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/frame"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
	"github.com/spaghettifunk/anima-rt/engine/scene"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 0, 0}

type fixture struct {
	dev       *gputest.Device
	presenter *gputest.Presenter
	window    *gputest.Window
	scene     *scene.Scene
	r         *Renderer
}

func newFixture(t *testing.T, opts ...gputest.Option) *fixture {
	t.Helper()
	dev := gputest.NewDevice(opts...)
	f := &fixture{
		dev:       dev,
		presenter: gputest.NewPresenter(dev, 3, gpu.Extent2D{Width: 320, Height: 240}),
		window:    gputest.NewWindow(320, 240),
		scene:     scene.New(scene.Loaders{}),
	}
	var err error
	f.r, err = New(dev, f.presenter, f.window, f.scene,
		Shaders{Raygen: spirv, Miss: spirv, ClosestHit: spirv},
		Options{SamplesPerFrame: 2, MaxBounces: 3, PreferHostBuilds: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) cube(t *testing.T, x float32) {
	t.Helper()
	m := mgl32.Translate3D(x, 0, 0)
	obj, err := scene.Build(scene.KindPrimitive, scene.ObjectParams{Shape: scene.PrimitiveCube, Transform: &m}, scene.Loaders{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := f.scene.AddObject(obj); err != nil {
		t.Fatalf("AddObject: %v", err)
	}
}

func (f *fixture) draw(t *testing.T) {
	t.Helper()
	if err := f.r.DrawFrame(context.Background()); err != nil {
		t.Fatalf("DrawFrame: %v", err)
	}
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

func expectNoViolations(t *testing.T, dev *gputest.Device) {
	t.Helper()
	for _, v := range dev.Violations() {
		t.Errorf("device violation: %s", v)
	}
}

func TestRendererSceneEditScenario(t *testing.T) {
	for _, host := range []bool{true, false} {
		name := "device builds"
		if host {
			name = "host builds"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, gputest.WithHostBuilds(host))
			store := f.r.Store()

			type step struct {
				name  string
				edit  func()
				state raytracing.TopState
				mode  gpu.BuildMode
				count uint32
			}
			steps := []step{
				{name: "add A", edit: func() { f.cube(t, 0) }, state: raytracing.TopBuilt, mode: gpu.BuildModeBuild, count: 1},
				{name: "add B", edit: func() { f.cube(t, 3) }, state: raytracing.TopRebuilt, mode: gpu.BuildModeBuild, count: 2},
				{name: "move A", edit: func() { f.scene.SetTransform(0, mgl32.Translate3D(1, 0, 0)) }, state: raytracing.TopUpdated, mode: gpu.BuildModeUpdate, count: 2},
				{name: "remove A", edit: func() { f.scene.Remove(0) }, state: raytracing.TopRebuilt, mode: gpu.BuildModeBuild, count: 1},
			}
			for _, s := range steps {
				s.edit()
				f.draw(t)
				// device builds are recorded when the frame is submitted
				if store.TopState() != s.state {
					t.Errorf("%s: state = %s, want %s", s.name, store.TopState(), s.state)
				}
				rec := lastTopBuild(t, f.dev)
				if rec.Info.Mode != s.mode || rec.Info.Instances.Count != s.count {
					t.Errorf("%s: %s over %d instances, want %s over %d", s.name, rec.Info.Mode, rec.Info.Instances.Count, s.mode, s.count)
				}
				sizes := gputest.DefaultSizes(&rec.Info)
				want := sizes.BuildScratchSize
				if s.mode == gpu.BuildModeUpdate {
					want = sizes.UpdateScratchSize
				}
				if want = core.AlignUp(want, 128); rec.ScratchSize != want {
					t.Errorf("%s: scratch = %d, want %d", s.name, rec.ScratchSize, want)
				}
				if n := f.dev.StructureCount(gpu.TopLevel); n != 1 {
					t.Errorf("%s: %d top-level structures alive", s.name, n)
				}
			}

			if n := f.dev.StructureCount(gpu.BottomLevel); n != 1 {
				t.Errorf("%d bottom-level structures alive, want 1", n)
			}
			inst := f.r.Instances().At(0)
			if x := inst.Transform.At(0, 3); x != 3 {
				t.Errorf("remaining instance is at x = %v, want B at 3", x)
			}
			if inst.BLASAddress != store.Bottoms()[0].Address {
				t.Error("remaining instance does not reference the surviving bottom-level structure")
			}

			if err := f.r.Shutdown(); err != nil {
				t.Fatalf("Shutdown: %v", err)
			}
			if live := f.dev.Live(); live != (gputest.Live{}) {
				t.Errorf("resources leaked: %+v", live)
			}
			expectNoViolations(t, f.dev)
		})
	}
}

func TestRendererEmptySceneOnlyComposites(t *testing.T) {
	f := newFixture(t)
	f.draw(t)
	f.draw(t)
	if b := f.dev.Builds(); len(b) != 0 {
		t.Errorf("%d builds without any object", len(b))
	}
	if f.r.Store().TopState() != raytracing.TopUninitialized {
		t.Errorf("state = %s", f.r.Store().TopState())
	}
	if n := f.r.AccumulatedSamples(); n != 0 {
		t.Errorf("accumulated %d samples without tracing", n)
	}
	if len(f.presenter.Presented) != 2 {
		t.Errorf("presented %d frames, want 2", len(f.presenter.Presented))
	}
	expectNoViolations(t, f.dev)
}

func TestRendererRemovingLastObjectClearsImage(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 0)
	f.draw(t)
	f.draw(t)
	if err := f.scene.Remove(0); err != nil {
		t.Fatal(err)
	}

	var ops []gputest.Op
	err := f.r.Synchronizer().DrawFrame(context.Background(), frame.RecorderFunc(func(fc *frame.Context) error {
		if err := f.r.Record(fc); err != nil {
			return err
		}
		ops = append(ops, fc.Commands.(*gputest.CommandBuffer).Ops...)
		return nil
	}))
	if err != nil {
		t.Fatalf("DrawFrame: %v", err)
	}

	if f.r.Instances().Len() != 0 {
		t.Fatalf("%d instances left", f.r.Instances().Len())
	}
	accum := f.r.Compositor().AccumulationImage().Handle
	cleared := -1
	for i, op := range ops {
		switch op.Kind {
		case gputest.OpTraceRays:
			t.Errorf("rays traced over an empty table")
		case gputest.OpClear:
			if op.Dst == accum {
				cleared = i
			}
		case gputest.OpBlit:
			if op.Src == accum && (cleared < 0 || cleared > i) {
				t.Errorf("accumulation image blitted before it was cleared")
			}
		}
	}
	if cleared < 0 {
		t.Error("accumulation image never cleared")
	}
	if n := f.r.AccumulatedSamples(); n != 0 {
		t.Errorf("accumulated = %d, want 0", n)
	}
	expectNoViolations(t, f.dev)
}

func TestRendererFailedAddReleasesBottom(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 0)
	f.draw(t)

	f.dev.FailBufferExact = gpu.BufferUsageStorage // material buffers only
	f.cube(t, 3)
	err := f.r.DrawFrame(context.Background())
	if !core.IsFatal(err) {
		t.Fatalf("DrawFrame err = %v, want fatal", err)
	}
	if n, m := len(f.r.Store().Bottoms()), f.r.Instances().Len(); n != 1 || m != 1 {
		t.Errorf("bottoms = %d, instances = %d, want 1 and 1", n, m)
	}
	if n := f.dev.StructureCount(gpu.BottomLevel); n != 1 {
		t.Errorf("%d bottom-level structures alive, want 1", n)
	}
}

func fenceWaits(events []gputest.Event) int {
	n := 0
	for _, e := range events {
		if e.Kind == gputest.EventWaitFence {
			n++
		}
	}
	return n
}

func TestRendererWaitsForOtherSlotOnlyOnInstanceChanges(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 0)
	f.draw(t)
	f.draw(t)

	before := len(f.dev.Events())
	f.scene.Camera().SetPosition(mgl32.Vec3{0, 2, 6})
	f.draw(t)
	if n := fenceWaits(f.dev.Events()[before:]); n != 1 {
		t.Errorf("camera-only frame waited %d fences, want 1", n)
	}

	before = len(f.dev.Events())
	f.scene.SetTransform(0, mgl32.Translate3D(0, 1, 0))
	f.draw(t)
	if n := fenceWaits(f.dev.Events()[before:]); n != 2 {
		t.Errorf("transform-only frame waited %d fences, want 2", n)
	}
	if f.r.Store().TopState() != raytracing.TopUpdated {
		t.Errorf("state = %s, want updated", f.r.Store().TopState())
	}
	expectNoViolations(t, f.dev)
}

func TestRendererAccumulationResets(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 0)
	f.draw(t)
	f.draw(t)
	f.draw(t)
	if n := f.r.AccumulatedSamples(); n != 6 {
		t.Fatalf("accumulated = %d, want 6", n)
	}

	f.scene.Camera().SetPosition(mgl32.Vec3{0, 1, 5})
	f.draw(t)
	if n := f.r.AccumulatedSamples(); n != 2 {
		t.Errorf("after camera move accumulated = %d, want 2", n)
	}

	f.window.Resize(640, 480)
	f.draw(t) // flags the resize at present
	f.draw(t) // recreates, then traces from zero
	if ext := f.r.Compositor().Extent(); ext != (gpu.Extent2D{Width: 640, Height: 480}) {
		t.Errorf("compositor extent = %+v", ext)
	}
	if n := f.r.AccumulatedSamples(); n != 2 {
		t.Errorf("after resize accumulated = %d, want 2", n)
	}
	expectNoViolations(t, f.dev)
}

func TestRendererDescriptorsPerSlot(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 0)
	f.draw(t)
	f.draw(t)

	top := f.r.Store().Top().Handle
	for slot := 0; slot < 2; slot++ {
		w, ok := f.dev.Descriptor(slot, raytracing.BindingTopLevel)
		if !ok || w.AccelerationStructure != top {
			t.Errorf("slot %d: top-level binding = %+v", slot, w)
		}
		u, ok := f.dev.Descriptor(slot, raytracing.BindingUniforms)
		if !ok || len(u.Buffers) != 1 {
			t.Fatalf("slot %d: uniform binding = %+v", slot, u)
		}
		if v, _ := f.dev.Descriptor(slot, raytracing.BindingVertexBuffers); len(v.Buffers) != 1 {
			t.Errorf("slot %d: %d vertex buffers bound", slot, len(v.Buffers))
		}
	}
	u0, _ := f.dev.Descriptor(0, raytracing.BindingUniforms)
	u1, _ := f.dev.Descriptor(1, raytracing.BindingUniforms)
	if u0.Buffers[0] == u1.Buffers[0] {
		t.Error("frame slots share a uniform buffer")
	}

	updates := f.dev.DescriptorUpdates
	f.draw(t)
	f.draw(t)
	if f.dev.DescriptorUpdates != updates {
		t.Errorf("descriptor sets rewritten without changes: %d -> %d", updates, f.dev.DescriptorUpdates)
	}
	expectNoViolations(t, f.dev)
}

func TestRendererOutOfRangeRemoveIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 0)
	f.draw(t)
	if err := f.scene.Remove(5); err != nil {
		t.Fatal(err)
	}
	f.draw(t)
	if f.r.Instances().Len() != 1 || len(f.scene.Objects()) != 1 {
		t.Errorf("instances = %d, objects = %d", f.r.Instances().Len(), len(f.scene.Objects()))
	}
	if f.r.Store().TopState() != raytracing.TopBuilt {
		t.Errorf("state = %s, want built", f.r.Store().TopState())
	}
	expectNoViolations(t, f.dev)
}
