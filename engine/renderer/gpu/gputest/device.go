// Package gputest provides an in-memory gpu.Device that records what the
// renderer asks of it. Fences retire after a configurable simulated latency.
package gputest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

var ErrInjected = errors.New("gputest: injected failure")

// EventKind names an entry of the ordered device event log.
type EventKind string

const (
	EventWaitFence     EventKind = "wait-fence"
	EventResetFence    EventKind = "reset-fence"
	EventBeginCommands EventKind = "begin-cb"
	EventResetCommands EventKind = "reset-cb"
	EventSubmit        EventKind = "submit"
	EventQueueWaitIdle EventKind = "queue-wait-idle"
	EventWaitIdle      EventKind = "wait-idle"
	EventAcquire       EventKind = "acquire"
	EventPresent       EventKind = "present"
	EventRecreate      EventKind = "recreate"
)

type Event struct {
	Kind    EventKind
	Handle  gpu.Handle
	Fence   gpu.Handle
	Retired bool
}

// BuildRecord is one acceleration structure build seen by the device.
type BuildRecord struct {
	Info        gpu.BuildGeometryInfo
	Host        bool
	ScratchSize uint64
}

type asRecord struct {
	kind    gpu.AccelerationStructureKind
	size    uint64
	address gpu.DeviceAddress
}

type submission struct {
	fence   gpu.Handle
	readyAt time.Time
	retired bool
}

type fenceState struct {
	signaled bool
	pending  []*submission
}

// Device is a fake gpu.Device. The zero value is not usable; call NewDevice.
type Device struct {
	mu sync.Mutex

	props   gpu.Properties
	latency time.Duration
	next    gpu.Handle

	buffers    map[gpu.Handle]*gpu.Buffer
	contents   map[gpu.Handle][]byte
	addresses  map[gpu.DeviceAddress]*gpu.Buffer
	images     map[gpu.Handle]*gpu.Image
	structures map[gpu.Handle]*asRecord
	fences     map[gpu.Handle]*fenceState
	semaphores map[gpu.Handle]struct{}
	commands   map[gpu.Handle]*CommandBuffer
	pipelines  map[gpu.Handle]*gpu.Pipeline

	events      []Event
	builds      []BuildRecord
	descriptors map[int]map[uint32]gpu.DescriptorWrite
	violations  []string

	DescriptorUpdates int

	// SizesFunc overrides the default build size model.
	SizesFunc func(info *gpu.BuildGeometryInfo) gpu.BuildSizes
	// Failure injection.
	FailCreateStructure bool
	FailGroupHandles    bool
	FailBufferUsage     gpu.BufferUsage
	// FailBufferExact fails only buffers created with exactly this usage.
	FailBufferExact gpu.BufferUsage
	SubmitErr       error
}

type Option func(*Device)

// WithHostBuilds toggles host-side acceleration structure commands.
func WithHostBuilds(enabled bool) Option {
	return func(d *Device) {
		d.props.HostAccelerationStructureCommands = enabled
	}
}

// WithLatency delays every fence signal by latency after submit.
func WithLatency(latency time.Duration) Option {
	return func(d *Device) {
		d.latency = latency
	}
}

func WithProperties(props gpu.Properties) Option {
	return func(d *Device) {
		d.props = props
	}
}

func NewDevice(opts ...Option) *Device {
	d := &Device{
		props: gpu.Properties{
			ShaderGroupHandleSize:      32,
			ShaderGroupHandleAlignment: 64,
			ShaderGroupBaseAlignment:   64,
			MinScratchOffsetAlignment:  128,
			MaxRayRecursionDepth:       1,
		},
		buffers:     make(map[gpu.Handle]*gpu.Buffer),
		contents:    make(map[gpu.Handle][]byte),
		addresses:   make(map[gpu.DeviceAddress]*gpu.Buffer),
		images:      make(map[gpu.Handle]*gpu.Image),
		structures:  make(map[gpu.Handle]*asRecord),
		fences:      make(map[gpu.Handle]*fenceState),
		semaphores:  make(map[gpu.Handle]struct{}),
		commands:    make(map[gpu.Handle]*CommandBuffer),
		pipelines:   make(map[gpu.Handle]*gpu.Pipeline),
		descriptors: make(map[int]map[uint32]gpu.DescriptorWrite),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Device) handle() gpu.Handle {
	d.next++
	return d.next
}

func (d *Device) logLocked(e Event) {
	d.events = append(d.events, e)
}

// DefaultSizes is the size model used unless SizesFunc is set. Update
// scratch is always smaller than build scratch.
func DefaultSizes(info *gpu.BuildGeometryInfo) gpu.BuildSizes {
	n := uint64(info.PrimitiveCount())
	if info.Kind == gpu.TopLevel {
		return gpu.BuildSizes{
			StructureSize:     4096 + 128*n,
			BuildScratchSize:  2048 + 96*n,
			UpdateScratchSize: 256 + 16*n,
		}
	}
	return gpu.BuildSizes{
		StructureSize:     8192 + 64*n,
		BuildScratchSize:  4096 + 32*n,
		UpdateScratchSize: 512 + 8*n,
	}
}

func (d *Device) Properties() gpu.Properties {
	return d.props
}

func (d *Device) CreateBuffer(size uint64, usage gpu.BufferUsage, props gpu.MemoryProperty) (*gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailBufferUsage != 0 && usage&d.FailBufferUsage == d.FailBufferUsage {
		return nil, ErrInjected
	}
	if d.FailBufferExact != 0 && usage == d.FailBufferExact {
		return nil, ErrInjected
	}
	if size == 0 {
		return nil, fmt.Errorf("gputest: zero sized buffer")
	}
	h := d.handle()
	b := &gpu.Buffer{
		Handle:   h,
		Memory:   d.handle(),
		Size:     size,
		Usage:    usage,
		Property: props,
	}
	if usage&gpu.BufferUsageDeviceAddress != 0 {
		b.Address = gpu.DeviceAddress(0x1000_0000 + uint64(h)<<16)
		d.addresses[b.Address] = b
	}
	d.buffers[h] = b
	if props&gpu.MemoryPropertyHostVisible != 0 {
		d.contents[h] = make([]byte, size)
	}
	return b, nil
}

func (d *Device) WriteBuffer(b *gpu.Buffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.contents[b.Handle]
	if !ok {
		return fmt.Errorf("gputest: buffer %d is not host visible", b.Handle)
	}
	if offset+uint64(len(data)) > uint64(len(mem)) {
		return fmt.Errorf("gputest: write of %d bytes at %d overflows buffer of %d", len(data), offset, len(mem))
	}
	copy(mem[offset:], data)
	return nil
}

func (d *Device) DestroyBuffer(b *gpu.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[b.Handle]; !ok {
		d.violations = append(d.violations, fmt.Sprintf("destroy of unknown buffer %d", b.Handle))
		return
	}
	delete(d.buffers, b.Handle)
	delete(d.contents, b.Handle)
	delete(d.addresses, b.Address)
}

// Contents returns a copy of a host-visible buffer's bytes.
func (d *Device) Contents(b *gpu.Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.contents[b.Handle]...)
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (*gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Extent.IsZero() {
		return nil, fmt.Errorf("gputest: zero sized image")
	}
	img := &gpu.Image{
		Handle: d.handle(),
		Memory: d.handle(),
		View:   d.handle(),
		Format: desc.Format,
		Extent: desc.Extent,
		Usage:  desc.Usage,
		Layout: gpu.ImageLayoutUndefined,
	}
	if desc.Sampled {
		img.Sampler = d.handle()
	}
	d.images[img.Handle] = img
	return img, nil
}

func (d *Device) UploadImage(img *gpu.Image, pixels []byte) error {
	want := int(img.Extent.Width * img.Extent.Height * img.Format.BytesPerPixel())
	if len(pixels) != want {
		return fmt.Errorf("gputest: upload of %d bytes, image needs %d", len(pixels), want)
	}
	img.Layout = gpu.ImageLayoutShaderReadOnly
	return nil
}

func (d *Device) DestroyImage(img *gpu.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.images[img.Handle]; !ok {
		d.violations = append(d.violations, fmt.Sprintf("destroy of unknown image %d", img.Handle))
		return
	}
	delete(d.images, img.Handle)
}

func (d *Device) AccelerationStructureBuildSizes(info *gpu.BuildGeometryInfo) gpu.BuildSizes {
	if d.SizesFunc != nil {
		return d.SizesFunc(info)
	}
	return DefaultSizes(info)
}

func (d *Device) CreateAccelerationStructure(kind gpu.AccelerationStructureKind, buf *gpu.Buffer, size uint64) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreateStructure {
		return gpu.NullHandle, nil
	}
	if buf == nil || buf.Size < size {
		return gpu.NullHandle, fmt.Errorf("gputest: backing buffer too small for %d bytes", size)
	}
	h := d.handle()
	d.structures[h] = &asRecord{
		kind:    kind,
		size:    size,
		address: gpu.DeviceAddress(0xA000_0000 + uint64(h)<<12),
	}
	return h, nil
}

func (d *Device) AccelerationStructureAddress(as gpu.Handle) gpu.DeviceAddress {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.structures[as]; ok {
		return r.address
	}
	return 0
}

func (d *Device) DestroyAccelerationStructure(as gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.structures[as]; !ok {
		d.violations = append(d.violations, fmt.Sprintf("destroy of unknown acceleration structure %d", as))
		return
	}
	delete(d.structures, as)
}

func (d *Device) recordBuild(info *gpu.BuildGeometryInfo, host bool) {
	rec := BuildRecord{Info: *info, Host: host}
	if info.Triangles != nil {
		t := *info.Triangles
		rec.Info.Triangles = &t
	}
	if info.Instances != nil {
		i := *info.Instances
		rec.Info.Instances = &i
	}
	if b, ok := d.addresses[info.ScratchAddress]; ok {
		rec.ScratchSize = b.Size
	} else {
		d.violations = append(d.violations, fmt.Sprintf("build with unknown scratch address %#x", info.ScratchAddress))
	}
	if _, ok := d.structures[info.Dst]; !ok {
		d.violations = append(d.violations, fmt.Sprintf("build into unknown structure %d", info.Dst))
	}
	if info.Mode == gpu.BuildModeUpdate && info.Src != info.Dst {
		d.violations = append(d.violations, "update build with distinct source and destination")
	}
	d.builds = append(d.builds, rec)
}

func (d *Device) BuildAccelerationStructureHost(info *gpu.BuildGeometryInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.props.HostAccelerationStructureCommands {
		return errors.New("gputest: host builds not supported")
	}
	d.recordBuild(info, true)
	return nil
}

func (d *Device) CreateRayTracingPipeline(desc *gpu.RayTracingPipelineDesc) (*gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &gpu.Pipeline{
		Handle:         d.handle(),
		Layout:         d.handle(),
		SetLayout:      d.handle(),
		DescriptorPool: d.handle(),
		GroupCount:     uint32(len(desc.Modules)),
	}
	for i := uint32(0); i < desc.SetCount; i++ {
		p.DescriptorSets = append(p.DescriptorSets, d.handle())
	}
	d.pipelines[p.Handle] = p
	return p, nil
}

func (d *Device) DestroyPipeline(p *gpu.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, p.Handle)
}

func (d *Device) ShaderGroupHandles(p *gpu.Pipeline, firstGroup, groupCount uint32) ([]byte, error) {
	if d.FailGroupHandles {
		return nil, ErrInjected
	}
	if firstGroup+groupCount > p.GroupCount {
		return nil, fmt.Errorf("gputest: groups [%d,%d) out of range %d", firstGroup, firstGroup+groupCount, p.GroupCount)
	}
	size := d.props.ShaderGroupHandleSize
	out := make([]byte, groupCount*size)
	for g := uint32(0); g < groupCount; g++ {
		for i := uint32(0); i < size; i++ {
			out[g*size+i] = byte(firstGroup+g+1)<<4 | byte(i&0x0f)
		}
	}
	return out, nil
}

func (d *Device) UpdateDescriptorSet(p *gpu.Pipeline, set int, writes []gpu.DescriptorWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set < 0 || set >= len(p.DescriptorSets) {
		return fmt.Errorf("gputest: descriptor set %d out of range %d", set, len(p.DescriptorSets))
	}
	if d.descriptors[set] == nil {
		d.descriptors[set] = make(map[uint32]gpu.DescriptorWrite)
	}
	for _, w := range writes {
		d.descriptors[set][w.Binding] = w
	}
	d.DescriptorUpdates++
	return nil
}

// Descriptor returns the last write seen for binding in set.
func (d *Device) Descriptor(set int, binding uint32) (gpu.DescriptorWrite, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.descriptors[set][binding]
	return w, ok
}

func (d *Device) CreateFence(signaled bool) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.handle()
	d.fences[h] = &fenceState{signaled: signaled}
	return h, nil
}

func (d *Device) WaitForFence(fence gpu.Handle, timeoutNs uint64) error {
	d.mu.Lock()
	f, ok := d.fences[fence]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("gputest: unknown fence %d", fence)
	}
	if !f.signaled && len(f.pending) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("gputest: wait on fence %d that can never signal", fence)
	}
	var readyAt time.Time
	for _, s := range f.pending {
		if s.readyAt.After(readyAt) {
			readyAt = s.readyAt
		}
	}
	d.mu.Unlock()

	if wait := time.Until(readyAt); wait > 0 {
		time.Sleep(wait)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range f.pending {
		s.retired = true
	}
	f.pending = nil
	f.signaled = true
	d.logLocked(Event{Kind: EventWaitFence, Fence: fence, Retired: true})
	return nil
}

func (d *Device) ResetFence(fence gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[fence]
	if !ok {
		return fmt.Errorf("gputest: unknown fence %d", fence)
	}
	if len(f.pending) != 0 {
		d.violations = append(d.violations, fmt.Sprintf("reset of fence %d with pending work", fence))
	}
	f.signaled = false
	d.logLocked(Event{Kind: EventResetFence, Fence: fence})
	return nil
}

func (d *Device) DestroyFence(fence gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, fence)
}

func (d *Device) CreateSemaphore() (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.handle()
	d.semaphores[h] = struct{}{}
	return h, nil
}

func (d *Device) DestroySemaphore(sem gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.semaphores, sem)
}

func (d *Device) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := &CommandBuffer{dev: d, handle: d.handle()}
	d.commands[cb.handle] = cb
	return cb, nil
}

func (d *Device) FreeCommandBuffer(cb gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.commands[cb.Handle()]
	if !ok {
		return
	}
	if c.last != nil && !c.last.retired {
		d.violations = append(d.violations, fmt.Sprintf("free of command buffer %d still in flight", c.handle))
	}
	delete(d.commands, cb.Handle())
}

func (d *Device) Submit(info *gpu.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SubmitErr != nil {
		return d.SubmitErr
	}
	sub := &submission{fence: info.Fence, readyAt: time.Now().Add(d.latency)}
	if info.Fence != gpu.NullHandle {
		f, ok := d.fences[info.Fence]
		if !ok {
			return fmt.Errorf("gputest: unknown fence %d", info.Fence)
		}
		if f.signaled {
			d.violations = append(d.violations, fmt.Sprintf("submit with fence %d still signalled", info.Fence))
		}
		f.pending = append(f.pending, sub)
	}
	for _, cb := range info.CommandBuffers {
		c, ok := d.commands[cb.Handle()]
		if !ok {
			return fmt.Errorf("gputest: unknown command buffer %d", cb.Handle())
		}
		if c.recording {
			d.violations = append(d.violations, fmt.Sprintf("submit of command buffer %d still recording", c.handle))
		}
		c.last = sub
		for _, op := range c.Ops {
			if op.Build != nil {
				d.recordBuild(op.Build, false)
			}
		}
		d.logLocked(Event{Kind: EventSubmit, Handle: c.handle, Fence: info.Fence})
	}
	return nil
}

func (d *Device) retireAllLocked() time.Time {
	var readyAt time.Time
	for _, f := range d.fences {
		for _, s := range f.pending {
			if s.readyAt.After(readyAt) {
				readyAt = s.readyAt
			}
		}
	}
	for _, c := range d.commands {
		if c.last != nil && c.last.readyAt.After(readyAt) {
			readyAt = c.last.readyAt
		}
	}
	return readyAt
}

func (d *Device) drain(kind EventKind) error {
	d.mu.Lock()
	readyAt := d.retireAllLocked()
	d.mu.Unlock()
	if wait := time.Until(readyAt); wait > 0 {
		time.Sleep(wait)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.fences {
		for _, s := range f.pending {
			s.retired = true
		}
		if len(f.pending) != 0 {
			f.signaled = true
		}
		f.pending = nil
	}
	for _, c := range d.commands {
		if c.last != nil {
			c.last.retired = true
		}
	}
	d.logLocked(Event{Kind: kind})
	return nil
}

func (d *Device) QueueWaitIdle() error {
	return d.drain(EventQueueWaitIdle)
}

func (d *Device) WaitIdle() error {
	return d.drain(EventWaitIdle)
}

// Events returns a copy of the ordered event log.
func (d *Device) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Builds returns every build recorded so far, host and device.
func (d *Device) Builds() []BuildRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]BuildRecord(nil), d.builds...)
}

// Violations lists ordering or lifetime rules the renderer broke.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Live reports the number of objects currently alive per category.
type Live struct {
	Buffers, Images, Structures, Fences, Semaphores, CommandBuffers, Pipelines int
}

func (d *Device) Live() Live {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Live{
		Buffers:        len(d.buffers),
		Images:         len(d.images),
		Structures:     len(d.structures),
		Fences:         len(d.fences),
		Semaphores:     len(d.semaphores),
		CommandBuffers: len(d.commands),
		Pipelines:      len(d.pipelines),
	}
}

// StructureCount returns the number of live structures of kind.
func (d *Device) StructureCount(kind gpu.AccelerationStructureKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.structures {
		if r.kind == kind {
			n++
		}
	}
	return n
}
