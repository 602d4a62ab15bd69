package raytracing

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// AccelerationStructure is a built structure and the buffer backing it.
type AccelerationStructure struct {
	Kind    gpu.AccelerationStructureKind
	Handle  gpu.Handle
	Buffer  *gpu.Buffer
	Address gpu.DeviceAddress
	Size    uint64
}

func (as *AccelerationStructure) Destroy(dev gpu.Device) {
	if as == nil || as.Handle == gpu.NullHandle {
		return
	}
	dev.DestroyAccelerationStructure(as.Handle)
	as.Buffer.Destroy(dev)
	as.Handle = gpu.NullHandle
	as.Buffer = nil
	as.Address = 0
}

// TopState tracks the lifecycle of the top-level structure.
type TopState uint8

const (
	TopUninitialized TopState = iota
	TopBuilt
	TopUpdated
	TopRebuilt
	TopDestroyed
)

func (s TopState) String() string {
	switch s {
	case TopUninitialized:
		return "uninitialized"
	case TopBuilt:
		return "built"
	case TopUpdated:
		return "updated"
	case TopRebuilt:
		return "rebuilt"
	case TopDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Store owns every bottom-level structure, indexed like the scene's objects,
// and the single top-level structure.
//
// Callers must make sure no submitted work still reads the top-level
// structure or the instance buffer before calling BuildTop or
// UpdateTopInPlace.
type Store struct {
	dev     gpu.Device
	scratch *ScratchAllocator
	host    bool

	bottoms []*AccelerationStructure

	top      *AccelerationStructure
	topState TopState
	topCount uint32

	// scratch of builds recorded into a frame command buffer, released at the
	// next top-level refresh.
	deferred []*gpu.Buffer
}

// NewStore returns an empty store. Builds run on the host when preferHost is
// set and the device supports it.
func NewStore(dev gpu.Device, preferHost bool) *Store {
	host := preferHost && dev.Properties().HostAccelerationStructureCommands
	core.LogDebug("acceleration structure store created", "hostBuilds", host)
	return &Store{
		dev:     dev,
		scratch: NewScratchAllocator(dev),
		host:    host,
	}
}

func (s *Store) HostBuilds() bool {
	return s.host
}

func (s *Store) Scratch() *ScratchAllocator {
	return s.scratch
}

func (s *Store) Bottoms() []*AccelerationStructure {
	return s.bottoms
}

// Addresses returns the device address of every bottom-level structure.
func (s *Store) Addresses() []gpu.DeviceAddress {
	out := make([]gpu.DeviceAddress, len(s.bottoms))
	for i, b := range s.bottoms {
		out[i] = b.Address
	}
	return out
}

func (s *Store) Top() *AccelerationStructure {
	return s.top
}

func (s *Store) TopState() TopState {
	return s.topState
}

func (s *Store) allocate(kind gpu.AccelerationStructureKind, size uint64) (*AccelerationStructure, error) {
	buf, err := s.dev.CreateBuffer(size,
		gpu.BufferUsageAccelerationStructureStorage|gpu.BufferUsageDeviceAddress,
		gpu.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, core.Fatal("create "+kind.String()+"-level storage", err)
	}
	h, err := s.dev.CreateAccelerationStructure(kind, buf, size)
	if err == nil && h == gpu.NullHandle {
		err = core.ErrNullHandle
	}
	if err != nil {
		buf.Destroy(s.dev)
		return nil, core.Fatal("create "+kind.String()+"-level structure", err)
	}
	return &AccelerationStructure{
		Kind:    kind,
		Handle:  h,
		Buffer:  buf,
		Address: s.dev.AccelerationStructureAddress(h),
		Size:    size,
	}, nil
}

// BuildBottom builds a bottom-level structure over geom and appends it to
// the store. The build has completed when BuildBottom returns.
func (s *Store) BuildBottom(geom *GeometryResource) (*AccelerationStructure, error) {
	info := &gpu.BuildGeometryInfo{
		Kind:            gpu.BottomLevel,
		Mode:            gpu.BuildModeBuild,
		PreferFastTrace: true,
		Triangles:       geom.Triangles(),
	}
	sizes := s.dev.AccelerationStructureBuildSizes(info)

	as, err := s.allocate(gpu.BottomLevel, sizes.StructureSize)
	if err != nil {
		return nil, err
	}
	scratch, err := s.scratch.Allocate(sizes.BuildScratchSize)
	if err != nil {
		as.Destroy(s.dev)
		return nil, core.Fatal("allocate bottom-level scratch", err)
	}
	defer s.scratch.Release(scratch)

	info.Dst = as.Handle
	info.ScratchAddress = scratch.Address

	if s.host {
		err = s.dev.BuildAccelerationStructureHost(info)
	} else {
		err = gpu.SingleUse(s.dev, func(cb gpu.CommandBuffer) error {
			cb.BuildAccelerationStructure(info)
			return nil
		})
	}
	if err != nil {
		as.Destroy(s.dev)
		return nil, core.Fatal("build bottom-level structure", err)
	}

	core.LogDebug("bottom-level structure built", "triangles", geom.TriangleCount(), "size", sizes.StructureSize)
	s.bottoms = append(s.bottoms, as)
	return as, nil
}

// Remove destroys the i-th bottom-level structure and closes the gap. It
// reports false when i is out of range.
func (s *Store) Remove(i int) bool {
	if i < 0 || i >= len(s.bottoms) {
		return false
	}
	s.bottoms[i].Destroy(s.dev)
	copy(s.bottoms[i:], s.bottoms[i+1:])
	s.bottoms[len(s.bottoms)-1] = nil
	s.bottoms = s.bottoms[:len(s.bottoms)-1]
	return true
}

func (s *Store) releaseDeferred() {
	for _, b := range s.deferred {
		s.scratch.Release(b)
	}
	s.deferred = nil
}

func (s *Store) instancesInfo(table *InstanceTable) *gpu.BuildGeometryInfo {
	return &gpu.BuildGeometryInfo{
		Kind:            gpu.TopLevel,
		Mode:            gpu.BuildModeBuild,
		AllowUpdate:     true,
		PreferFastTrace: true,
		Instances: &gpu.InstancesGeometry{
			Address: table.Buffer().Address,
			Count:   uint32(table.Len()),
		},
	}
}

func (s *Store) prepareInstances(table *InstanceTable) error {
	if err := table.Resolve(s.Addresses()); err != nil {
		return core.Fatal("resolve instances", err)
	}
	if err := table.Upload(); err != nil {
		return core.Fatal("upload instances", err)
	}
	return nil
}

// BuildTop builds the top-level structure from scratch over table. Any
// previous top-level structure is destroyed first.
func (s *Store) BuildTop(cb gpu.CommandBuffer, table *InstanceTable) error {
	s.releaseDeferred()
	if err := s.prepareInstances(table); err != nil {
		return err
	}
	info := s.instancesInfo(table)
	sizes := s.dev.AccelerationStructureBuildSizes(info)

	if s.top != nil {
		s.top.Destroy(s.dev)
		s.top = nil
	}
	top, err := s.allocate(gpu.TopLevel, sizes.StructureSize)
	if err != nil {
		return err
	}
	s.top = top
	if err := s.run(cb, info, sizes.BuildScratchSize); err != nil {
		return err
	}
	s.topCount = info.Instances.Count
	s.topState = TopBuilt
	core.LogDebug("top-level structure built", "instances", s.topCount)
	return nil
}

// UpdateTopInPlace refreshes the top-level structure after instances moved,
// appeared or disappeared. Transform-only changes are applied as an update
// of the existing structure; a changed instance count, or fullRebuild,
// rebuilds it.
func (s *Store) UpdateTopInPlace(cb gpu.CommandBuffer, table *InstanceTable, fullRebuild bool) error {
	if s.top == nil {
		return s.BuildTop(cb, table)
	}
	s.releaseDeferred()
	if err := s.prepareInstances(table); err != nil {
		return err
	}
	info := s.instancesInfo(table)
	sizes := s.dev.AccelerationStructureBuildSizes(info)

	if fullRebuild || info.Instances.Count != s.topCount {
		if sizes.StructureSize > s.top.Size {
			top, err := s.allocate(gpu.TopLevel, sizes.StructureSize)
			if err != nil {
				return err
			}
			s.top.Destroy(s.dev)
			s.top = top
		}
		if err := s.run(cb, info, sizes.BuildScratchSize); err != nil {
			return err
		}
		s.topCount = info.Instances.Count
		s.topState = TopRebuilt
		core.LogDebug("top-level structure rebuilt", "instances", s.topCount)
		return nil
	}

	info.Mode = gpu.BuildModeUpdate
	info.Src = s.top.Handle
	if err := s.run(cb, info, sizes.UpdateScratchSize); err != nil {
		return err
	}
	s.topState = TopUpdated
	return nil
}

// run issues a top-level build with a scratch buffer of scratchSize bytes,
// on the host or recorded into cb.
func (s *Store) run(cb gpu.CommandBuffer, info *gpu.BuildGeometryInfo, scratchSize uint64) error {
	scratch, err := s.scratch.Allocate(scratchSize)
	if err != nil {
		return core.Fatal("allocate top-level scratch", err)
	}
	info.Dst = s.top.Handle
	info.ScratchAddress = scratch.Address

	if s.host {
		defer s.scratch.Release(scratch)
		if err := s.dev.BuildAccelerationStructureHost(info); err != nil {
			return core.Fatal(fmt.Sprintf("%s top-level structure", info.Mode), err)
		}
		if cb != nil {
			cb.PipelineBarrier(gpu.PipelineStageHost, gpu.PipelineStageRayTracingShader,
				[]gpu.MemoryBarrier{{SrcAccess: gpu.AccessHostWrite, DstAccess: gpu.AccessAccelerationStructureRead}}, nil)
		}
		return nil
	}

	if cb == nil {
		s.scratch.Release(scratch)
		return core.Fatal("build top-level structure", errors.New("no command buffer for a device build"))
	}
	cb.PipelineBarrier(gpu.PipelineStageHost, gpu.PipelineStageAccelerationStructureBuild,
		[]gpu.MemoryBarrier{{SrcAccess: gpu.AccessHostWrite, DstAccess: gpu.AccessAccelerationStructureRead}}, nil)
	cb.BuildAccelerationStructure(info)
	cb.PipelineBarrier(gpu.PipelineStageAccelerationStructureBuild, gpu.PipelineStageRayTracingShader,
		[]gpu.MemoryBarrier{{SrcAccess: gpu.AccessAccelerationStructureWrite, DstAccess: gpu.AccessAccelerationStructureRead}}, nil)
	s.deferred = append(s.deferred, scratch)
	return nil
}

// Destroy releases every structure. The device must be idle.
func (s *Store) Destroy() {
	s.releaseDeferred()
	for _, b := range s.bottoms {
		b.Destroy(s.dev)
	}
	s.bottoms = nil
	if s.top != nil {
		s.top.Destroy(s.dev)
		s.top = nil
	}
	s.topCount = 0
	s.topState = TopDestroyed
}
