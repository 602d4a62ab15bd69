package frame

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu/gputest"
)

type fixture struct {
	dev       *gputest.Device
	presenter *gputest.Presenter
	window    *gputest.Window
	sync      *Synchronizer
}

func newFixture(t *testing.T, opts ...gputest.Option) *fixture {
	t.Helper()
	dev := gputest.NewDevice(opts...)
	f := &fixture{
		dev:       dev,
		presenter: gputest.NewPresenter(dev, 3, gpu.Extent2D{Width: 800, Height: 600}),
		window:    gputest.NewWindow(800, 600),
	}
	var err error
	f.sync, err = New(dev, f.presenter, f.window, DefaultFramesInFlight)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

// barrierRecorder records one barrier per frame and remembers the slots it saw.
type barrierRecorder struct {
	slots []int
}

func (r *barrierRecorder) Record(fc *Context) error {
	r.slots = append(r.slots, fc.Slot)
	fc.Commands.PipelineBarrier(gpu.PipelineStageTopOfPipe, gpu.PipelineStageBottomOfPipe, nil, nil)
	return nil
}

// imageResizer owns one image of the current extent.
type imageResizer struct {
	dev   gpu.Device
	image *gpu.Image
	calls int
}

func (r *imageResizer) Resize(extent gpu.Extent2D) error {
	r.calls++
	r.image.Destroy(r.dev)
	img, err := r.dev.CreateImage(gpu.ImageDesc{Extent: extent, Format: gpu.FormatRGBA8Unorm})
	if err != nil {
		return err
	}
	r.image = img
	return nil
}

func eventKinds(events []gputest.Event) []gputest.EventKind {
	out := make([]gputest.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestDrawFrameOrdering(t *testing.T) {
	f := newFixture(t)
	rec := &barrierRecorder{}
	if err := f.sync.DrawFrame(context.Background(), rec); err != nil {
		t.Fatalf("DrawFrame: %v", err)
	}

	want := []gputest.EventKind{
		gputest.EventWaitFence,
		gputest.EventAcquire,
		gputest.EventResetFence,
		gputest.EventResetCommands,
		gputest.EventBeginCommands,
		gputest.EventSubmit,
		gputest.EventPresent,
	}
	got := eventKinds(f.dev.Events())
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if f.sync.Frame() != 1 || f.sync.CurrentSlot() != 1 {
		t.Errorf("frame %d slot %d after one frame", f.sync.Frame(), f.sync.CurrentSlot())
	}
}

func TestDrawFrameSlotExclusion(t *testing.T) {
	f := newFixture(t, gputest.WithLatency(3*time.Millisecond))
	rec := &barrierRecorder{}
	const frames = 10
	for i := 0; i < frames; i++ {
		if err := f.sync.DrawFrame(context.Background(), rec); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	for i, slot := range rec.slots {
		if slot != i%2 {
			t.Errorf("frame %d recorded into slot %d", i, slot)
		}
	}
	if f.sync.Frame() != frames || len(f.presenter.Presented) != frames {
		t.Errorf("submitted %d, presented %d", f.sync.Frame(), len(f.presenter.Presented))
	}

	// Every command buffer reset must come after the fence of its previous
	// submission signalled.
	for _, e := range f.dev.Events() {
		if e.Kind == gputest.EventResetCommands && !e.Retired {
			t.Errorf("command buffer %d reset while in flight", e.Handle)
		}
	}
	for _, v := range f.dev.Violations() {
		t.Errorf("violation: %s", v)
	}
}

func TestOutOfDateAcquireSkipsFrame(t *testing.T) {
	f := newFixture(t)
	f.presenter.ScriptAcquire(gpu.SurfaceOutOfDate)
	rec := &barrierRecorder{}

	if err := f.sync.DrawFrame(context.Background(), rec); err != nil {
		t.Fatalf("DrawFrame: %v", err)
	}
	if len(rec.slots) != 0 {
		t.Error("recorder ran for a skipped frame")
	}
	if f.sync.Frame() != 0 || f.sync.CurrentSlot() != 0 {
		t.Errorf("skipped frame advanced to frame %d slot %d", f.sync.Frame(), f.sync.CurrentSlot())
	}
	if !f.sync.RecreatePending() {
		t.Error("out-of-date acquire did not request recreation")
	}
	for _, e := range f.dev.Events() {
		if e.Kind == gputest.EventResetFence || e.Kind == gputest.EventSubmit {
			t.Errorf("skipped frame produced %s", e.Kind)
		}
	}

	if err := f.sync.DrawFrame(context.Background(), rec); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.presenter.Recreated) != 1 || f.sync.Frame() != 1 || f.sync.RecreatePending() {
		t.Errorf("retry: %d recreations, frame %d", len(f.presenter.Recreated), f.sync.Frame())
	}
	for _, v := range f.dev.Violations() {
		t.Errorf("violation: %s", v)
	}
}

func TestRecreationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	res := &imageResizer{dev: f.dev}
	f.sync.Register(res)

	// A suboptimal present and an external resize in the same frame.
	f.presenter.ScriptPresent(gpu.SurfaceSuboptimal)
	f.window.Resize(1024, 768)
	if err := f.sync.DrawFrame(context.Background(), &barrierRecorder{}); err != nil {
		t.Fatal(err)
	}
	f.sync.RequestRecreate()
	f.sync.RequestRecreate()

	if err := f.sync.DrawFrame(context.Background(), &barrierRecorder{}); err != nil {
		t.Fatal(err)
	}
	if f.sync.Recreations() != 1 || res.calls != 1 || len(f.presenter.Recreated) != 1 {
		t.Fatalf("%d recreations, %d resizes, %d presenter recreations", f.sync.Recreations(), res.calls, len(f.presenter.Recreated))
	}
	if f.presenter.Recreated[0] != (gpu.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("recreated at %v", f.presenter.Recreated[0])
	}

	for i := 0; i < 3; i++ {
		if err := f.sync.Recreate(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.dev.Live().Images; n != 1 {
		t.Errorf("%d size-dependent images alive, want 1", n)
	}
	for _, v := range f.dev.Violations() {
		t.Errorf("violation: %s", v)
	}
}

func TestRecreateWaitsForFramebuffer(t *testing.T) {
	f := newFixture(t)
	f.window.Resize(0, 0)
	f.window.Sizes = []gpu.Extent2D{{}, {Width: 640, Height: 480}}

	if err := f.sync.Recreate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.window.WaitCalls != 2 {
		t.Errorf("waited for events %d times, want 2", f.window.WaitCalls)
	}
	if got := f.presenter.Extent(); got != (gpu.Extent2D{Width: 640, Height: 480}) {
		t.Errorf("recreated at %v", got)
	}

	f.window.Resize(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.sync.Recreate(ctx)
	if !IsCancelled(err) || core.IsFatal(err) {
		t.Errorf("cancelled recreation err = %v", err)
	}
}

func TestDrawFrameFatalFailures(t *testing.T) {
	tests := []struct {
		name   string
		inject func(f *fixture)
		rec    Recorder
	}{
		{"acquire", func(f *fixture) { f.presenter.AcquireErr = errors.New("device lost") }, nil},
		{"present", func(f *fixture) { f.presenter.PresentErr = errors.New("device lost") }, nil},
		{"submit", func(f *fixture) { f.dev.SubmitErr = errors.New("device lost") }, nil},
		{"record", func(f *fixture) {}, RecorderFunc(func(*Context) error { return errors.New("out of memory") })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.inject(f)
			rec := tt.rec
			if rec == nil {
				rec = &barrierRecorder{}
			}
			err := f.sync.DrawFrame(context.Background(), rec)
			if !core.IsFatal(err) {
				t.Errorf("err = %v, want fatal", err)
			}
		})
	}
}

func TestShutdownReleasesSlots(t *testing.T) {
	f := newFixture(t, gputest.WithLatency(time.Millisecond))
	for i := 0; i < 3; i++ {
		if err := f.sync.DrawFrame(context.Background(), &barrierRecorder{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.sync.Shutdown(); err != nil {
		t.Fatal(err)
	}
	live := f.dev.Live()
	if live.Fences != 0 || live.Semaphores != 0 || live.CommandBuffers != 0 {
		t.Errorf("live after shutdown: %+v", live)
	}
	for _, v := range f.dev.Violations() {
		t.Errorf("violation: %s", v)
	}
}

func TestWaitInFlightFromRecorder(t *testing.T) {
	f := newFixture(t)
	waits := 0
	rec := RecorderFunc(func(fc *Context) error {
		waits++
		return f.sync.WaitInFlight()
	})
	for i := 0; i < 4; i++ {
		if err := f.sync.DrawFrame(context.Background(), rec); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if waits != 4 {
		t.Fatalf("recorder ran %d times, want 4", waits)
	}
	if err := f.sync.WaitInFlight(); err != nil {
		t.Fatalf("WaitInFlight outside a frame: %v", err)
	}
}
