package gputest

import (
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// Presenter is a fake image chain. Scripted statuses are consumed one per
// call; when a script runs out the call reports SurfaceOptimal.
type Presenter struct {
	mu sync.Mutex

	dev     *Device
	images  []gpu.Handle
	extent  gpu.Extent2D
	next    uint32
	acquire []gpu.SurfaceStatus
	present []gpu.SurfaceStatus

	AcquireErr error
	PresentErr error
	Recreated  []gpu.Extent2D
	Presented  []uint32
}

func NewPresenter(dev *Device, imageCount uint32, extent gpu.Extent2D) *Presenter {
	p := &Presenter{dev: dev, extent: extent}
	p.allocate(imageCount)
	return p
}

func (p *Presenter) allocate(count uint32) {
	p.images = make([]gpu.Handle, count)
	p.dev.mu.Lock()
	for i := range p.images {
		p.images[i] = p.dev.handle()
	}
	p.dev.mu.Unlock()
}

// ScriptAcquire queues statuses returned by subsequent acquires.
func (p *Presenter) ScriptAcquire(statuses ...gpu.SurfaceStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquire = append(p.acquire, statuses...)
}

// ScriptPresent queues statuses returned by subsequent presents.
func (p *Presenter) ScriptPresent(statuses ...gpu.SurfaceStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present = append(p.present, statuses...)
}

func (p *Presenter) AcquireNextImage(imageAcquired gpu.Handle) (uint32, gpu.SurfaceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dev.mu.Lock()
	p.dev.logLocked(Event{Kind: EventAcquire, Handle: imageAcquired})
	p.dev.mu.Unlock()
	if p.AcquireErr != nil {
		return 0, gpu.SurfaceOptimal, p.AcquireErr
	}
	status := gpu.SurfaceOptimal
	if len(p.acquire) > 0 {
		status, p.acquire = p.acquire[0], p.acquire[1:]
	}
	if status == gpu.SurfaceOutOfDate {
		return 0, status, nil
	}
	idx := p.next
	p.next = (p.next + 1) % uint32(len(p.images))
	return idx, status, nil
}

func (p *Presenter) Present(index uint32, renderFinished gpu.Handle) (gpu.SurfaceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dev.mu.Lock()
	p.dev.logLocked(Event{Kind: EventPresent, Handle: renderFinished})
	p.dev.mu.Unlock()
	if p.PresentErr != nil {
		return gpu.SurfaceOptimal, p.PresentErr
	}
	p.Presented = append(p.Presented, index)
	status := gpu.SurfaceOptimal
	if len(p.present) > 0 {
		status, p.present = p.present[0], p.present[1:]
	}
	return status, nil
}

func (p *Presenter) Image(index uint32) gpu.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.images[index]
}

func (p *Presenter) ImageCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(len(p.images))
}

func (p *Presenter) Extent() gpu.Extent2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extent
}

func (p *Presenter) Recreate(extent gpu.Extent2D) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extent = extent
	p.Recreated = append(p.Recreated, extent)
	p.next = 0
	p.allocate(uint32(len(p.images)))
	p.dev.mu.Lock()
	p.dev.logLocked(Event{Kind: EventRecreate})
	p.dev.mu.Unlock()
	return nil
}

// Window is a fake frame.Window with a settable framebuffer size.
type Window struct {
	mu      sync.Mutex
	width   uint32
	height  uint32
	resized bool
	// Sizes are returned, in order, by successive WaitEvents calls.
	Sizes     []gpu.Extent2D
	WaitCalls int
}

func NewWindow(width, height uint32) *Window {
	return &Window{width: width, height: height}
}

func (w *Window) FramebufferSize() (uint32, uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

func (w *Window) WaitEvents() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.WaitCalls++
	if len(w.Sizes) > 0 {
		w.width, w.height = w.Sizes[0].Width, w.Sizes[0].Height
		w.Sizes = w.Sizes[1:]
	}
}

// Resize changes the framebuffer size and raises the resize flag.
func (w *Window) Resize(width, height uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.width, w.height = width, height
	w.resized = true
}

func (w *Window) ConsumeResize() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.resized
	w.resized = false
	return r
}
