// Package frame runs the per-frame fence, acquire, submit and present
// protocol over a fixed number of frame slots.
package frame

import (
	"context"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// DefaultFramesInFlight is the number of frames the host may record ahead
// of the device.
const DefaultFramesInFlight = 2

// Window is the part of the platform window the synchronizer needs.
type Window interface {
	FramebufferSize() (width, height uint32)
	// WaitEvents blocks until the platform delivers at least one event.
	WaitEvents()
	// ConsumeResize reports whether the framebuffer was resized since the
	// last call and clears the flag.
	ConsumeResize() bool
}

// Resizer is a size-dependent resource recreated together with the
// presentable images.
type Resizer interface {
	Resize(extent gpu.Extent2D) error
}

// Context is handed to the recorder once the frame slot is free and a
// presentable image has been acquired.
type Context struct {
	Slot       int
	Frame      uint64
	Commands   gpu.CommandBuffer
	ImageIndex uint32
	Image      gpu.Handle
	Extent     gpu.Extent2D
}

// Recorder fills the slot's command buffer. It runs between Begin and End.
type Recorder interface {
	Record(fc *Context) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(fc *Context) error

func (f RecorderFunc) Record(fc *Context) error {
	return f(fc)
}

// Slot is the set of objects that may be reused once the frame that last
// used them has retired.
type Slot struct {
	Commands       gpu.CommandBuffer
	ImageAcquired  gpu.Handle
	RenderFinished gpu.Handle
	InFlight       gpu.Handle
}

// Synchronizer owns the frame slots and drives the frame protocol. It is
// used from the frame loop goroutine only.
type Synchronizer struct {
	dev       gpu.Device
	presenter gpu.Presenter
	window    Window

	slots    []*Slot
	current  int
	frames   uint64
	resizers []Resizer

	recreatePending bool
	recreating      bool
	recording       bool
	recreations     int
}

// New creates framesInFlight slots, each with its fence already signalled
// so that the first wait does not block.
func New(dev gpu.Device, presenter gpu.Presenter, window Window, framesInFlight int) (*Synchronizer, error) {
	if framesInFlight <= 0 {
		framesInFlight = DefaultFramesInFlight
	}
	s := &Synchronizer{dev: dev, presenter: presenter, window: window}
	for i := 0; i < framesInFlight; i++ {
		slot, err := s.createSlot()
		if err != nil {
			s.destroySlots()
			return nil, core.Fatal(fmt.Sprintf("create frame slot %d", i), err)
		}
		s.slots = append(s.slots, slot)
	}
	core.LogDebug("frame slots created", "count", framesInFlight)
	return s, nil
}

func (s *Synchronizer) createSlot() (*Slot, error) {
	slot := &Slot{}
	var err error
	if slot.Commands, err = s.dev.AllocateCommandBuffer(); err != nil {
		return nil, err
	}
	if slot.ImageAcquired, err = s.dev.CreateSemaphore(); err != nil {
		s.destroySlot(slot)
		return nil, err
	}
	if slot.RenderFinished, err = s.dev.CreateSemaphore(); err != nil {
		s.destroySlot(slot)
		return nil, err
	}
	if slot.InFlight, err = s.dev.CreateFence(true); err != nil {
		s.destroySlot(slot)
		return nil, err
	}
	return slot, nil
}

func (s *Synchronizer) destroySlot(slot *Slot) {
	if slot.InFlight != gpu.NullHandle {
		s.dev.DestroyFence(slot.InFlight)
	}
	if slot.RenderFinished != gpu.NullHandle {
		s.dev.DestroySemaphore(slot.RenderFinished)
	}
	if slot.ImageAcquired != gpu.NullHandle {
		s.dev.DestroySemaphore(slot.ImageAcquired)
	}
	if slot.Commands != nil {
		s.dev.FreeCommandBuffer(slot.Commands)
	}
	*slot = Slot{}
}

func (s *Synchronizer) destroySlots() {
	for _, slot := range s.slots {
		s.destroySlot(slot)
	}
	s.slots = nil
}

// Register adds a size-dependent resource resized on every recreation.
func (s *Synchronizer) Register(r Resizer) {
	s.resizers = append(s.resizers, r)
}

func (s *Synchronizer) FramesInFlight() int {
	return len(s.slots)
}

// CurrentSlot is the slot the next DrawFrame will use.
func (s *Synchronizer) CurrentSlot() int {
	return s.current
}

// Frame counts the frames submitted so far.
func (s *Synchronizer) Frame() uint64 {
	return s.frames
}

// Recreations counts completed recreations of the presentable images.
func (s *Synchronizer) Recreations() int {
	return s.recreations
}

// RequestRecreate asks for the presentable images to be recreated before the
// next frame. Repeated requests collapse into one recreation.
func (s *Synchronizer) RequestRecreate() {
	if !s.recreatePending {
		core.LogDebug("recreation requested")
	}
	s.recreatePending = true
}

func (s *Synchronizer) RecreatePending() bool {
	return s.recreatePending
}

// WaitInFlight blocks until every slot's last submission has retired. The
// fences stay signalled. Called from a recorder it skips the recording
// slot, whose fence is already reset and whose last submission retired.
func (s *Synchronizer) WaitInFlight() error {
	for i, slot := range s.slots {
		if s.recording && i == s.current {
			continue
		}
		if err := s.dev.WaitForFence(slot.InFlight, gpu.InfiniteTimeout); err != nil {
			return core.Fatal(fmt.Sprintf("wait for frame slot %d", i), err)
		}
	}
	return nil
}

// DrawFrame renders one frame into the current slot. A stale surface at
// acquire time skips the frame without advancing it; every other failure is
// fatal.
func (s *Synchronizer) DrawFrame(ctx context.Context, rec Recorder) error {
	if s.recreatePending {
		if err := s.Recreate(ctx); err != nil {
			return err
		}
	}

	slot := s.slots[s.current]
	if err := s.dev.WaitForFence(slot.InFlight, gpu.InfiniteTimeout); err != nil {
		return core.Fatal("wait for in-flight fence", err)
	}

	index, acquired, err := s.presenter.AcquireNextImage(slot.ImageAcquired)
	if err != nil {
		return core.Fatal("acquire next image", err)
	}
	if acquired == gpu.SurfaceOutOfDate {
		core.LogDebug("surface out of date at acquire, skipping frame", "frame", s.frames)
		s.RequestRecreate()
		return nil
	}

	// Only reset the fence once work is certain to be submitted with it.
	if err := s.dev.ResetFence(slot.InFlight); err != nil {
		return core.Fatal("reset in-flight fence", err)
	}
	if err := slot.Commands.Reset(); err != nil {
		return core.Fatal("reset command buffer", err)
	}
	if err := slot.Commands.Begin(false); err != nil {
		return core.Fatal("begin command buffer", err)
	}

	fc := &Context{
		Slot:       s.current,
		Frame:      s.frames,
		Commands:   slot.Commands,
		ImageIndex: index,
		Image:      s.presenter.Image(index),
		Extent:     s.presenter.Extent(),
	}
	s.recording = true
	err = rec.Record(fc)
	s.recording = false
	if err != nil {
		return core.Fatal("record frame", err)
	}
	if err := slot.Commands.End(); err != nil {
		return core.Fatal("end command buffer", err)
	}

	err = s.dev.Submit(&gpu.SubmitInfo{
		CommandBuffers:   []gpu.CommandBuffer{slot.Commands},
		WaitSemaphores:   []gpu.Handle{slot.ImageAcquired},
		WaitStages:       []gpu.PipelineStage{gpu.PipelineStageRayTracingShader | gpu.PipelineStageTransfer},
		SignalSemaphores: []gpu.Handle{slot.RenderFinished},
		Fence:            slot.InFlight,
	})
	if err != nil {
		return core.Fatal("submit frame", err)
	}

	s.current = (s.current + 1) % len(s.slots)
	s.frames++

	presented, err := s.presenter.Present(index, slot.RenderFinished)
	if err != nil {
		return core.Fatal("present frame", err)
	}
	resized := s.window.ConsumeResize()
	if resized || presented != gpu.SurfaceOptimal || acquired == gpu.SurfaceSuboptimal {
		s.RequestRecreate()
	}
	return nil
}

// Recreate rebuilds the presentable images and every registered resource at
// the current framebuffer size. It waits while the framebuffer is empty
// (minimised window) and returns early only if ctx is cancelled.
func (s *Synchronizer) Recreate(ctx context.Context) error {
	if s.recreating {
		core.LogDebug("recreate called while already recreating")
		return nil
	}
	s.recreating = true
	defer func() { s.recreating = false }()

	if err := s.dev.WaitIdle(); err != nil {
		return core.Fatal("wait idle before recreation", err)
	}

	width, height := s.window.FramebufferSize()
	for width == 0 || height == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.window.WaitEvents()
		width, height = s.window.FramebufferSize()
	}
	extent := gpu.Extent2D{Width: width, Height: height}

	if err := s.presenter.Recreate(extent); err != nil {
		return core.Fatal("recreate presentable images", err)
	}
	for _, r := range s.resizers {
		if err := r.Resize(extent); err != nil {
			return core.Fatal("resize frame resources", err)
		}
	}

	s.recreatePending = false
	s.recreations++
	core.LogInfo("presentable images recreated", "width", width, "height", height, "count", s.recreations)
	return nil
}

// Shutdown waits for the device to go idle and releases every slot.
func (s *Synchronizer) Shutdown() error {
	err := s.dev.WaitIdle()
	s.destroySlots()
	if err != nil {
		return core.Fatal("wait idle on shutdown", err)
	}
	return nil
}

// IsCancelled reports whether err only signals that the frame loop was asked
// to stop.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
