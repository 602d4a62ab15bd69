package gpu

// Handle is an opaque, non-dispatchable device object handle.
type Handle uint64

// NullHandle is the zero handle. No live object is ever NullHandle.
const NullHandle Handle = 0

// DeviceAddress is a GPU virtual address obtained from a buffer or an
// acceleration structure.
type DeviceAddress uint64

type Extent2D struct {
	Width  uint32
	Height uint32
}

// IsZero reports whether either dimension is zero.
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageDeviceAddress
	BufferUsageAccelerationStructureStorage
	BufferUsageAccelerationStructureBuildInput
	BufferUsageShaderBindingTable
)

type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal MemoryProperty = 1 << iota
	MemoryPropertyHostVisible
	MemoryPropertyHostCoherent
)

// MemoryPropertyHostShared is the usual combination for buffers written by the host every frame.
const MemoryPropertyHostShared = MemoryPropertyHostVisible | MemoryPropertyHostCoherent

type Format uint8

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatRGBA32Sfloat
)

// BytesPerPixel returns the texel size of f.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm:
		return 4
	case FormatRGBA32Sfloat:
		return 16
	default:
		return 0
	}
}

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageStorage
	ImageUsageSampled
)

type ImageLayout uint8

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutShaderReadOnly
	ImageLayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "Undefined"
	case ImageLayoutGeneral:
		return "General"
	case ImageLayoutTransferSrc:
		return "TransferSrc"
	case ImageLayoutTransferDst:
		return "TransferDst"
	case ImageLayoutShaderReadOnly:
		return "ShaderReadOnly"
	case ImageLayoutPresentSrc:
		return "PresentSrc"
	default:
		return "Unknown"
	}
}

type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageTransfer
	PipelineStageHost
	PipelineStageRayTracingShader
	PipelineStageAccelerationStructureBuild
	PipelineStageBottomOfPipe
	PipelineStageAllCommands
)

type AccessFlags uint32

const AccessNone AccessFlags = 0

const (
	AccessHostWrite AccessFlags = 1 << iota
	AccessTransferRead
	AccessTransferWrite
	AccessShaderRead
	AccessShaderWrite
	AccessAccelerationStructureRead
	AccessAccelerationStructureWrite
	AccessMemoryRead
)

type Filter uint8

const (
	FilterNearest Filter = iota
	FilterLinear
)

// MemoryBarrier is a global memory dependency.
type MemoryBarrier struct {
	SrcAccess AccessFlags
	DstAccess AccessFlags
}

// ImageBarrier transitions a whole single-mip, single-layer color image.
type ImageBarrier struct {
	Image     Handle
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess AccessFlags
	DstAccess AccessFlags
}

type AccelerationStructureKind uint8

const (
	BottomLevel AccelerationStructureKind = iota
	TopLevel
)

func (k AccelerationStructureKind) String() string {
	if k == TopLevel {
		return "top"
	}
	return "bottom"
}

type BuildMode uint8

const (
	// BuildModeBuild constructs the structure from scratch.
	BuildModeBuild BuildMode = iota
	// BuildModeUpdate refits an existing structure built with AllowUpdate.
	BuildModeUpdate
)

func (m BuildMode) String() string {
	if m == BuildModeUpdate {
		return "update"
	}
	return "build"
}

// TrianglesGeometry describes an indexed triangle mesh with float3 positions
// at the start of every vertex.
type TrianglesGeometry struct {
	VertexAddress DeviceAddress
	IndexAddress  DeviceAddress
	VertexStride  uint64
	MaxVertex     uint32
	TriangleCount uint32
	Opaque        bool
}

// InstancesGeometry describes a tightly packed array of instance records.
type InstancesGeometry struct {
	Address DeviceAddress
	Count   uint32
}

// BuildGeometryInfo describes one acceleration structure build or update.
// Exactly one of Triangles and Instances is set.
type BuildGeometryInfo struct {
	Kind            AccelerationStructureKind
	Mode            BuildMode
	AllowUpdate     bool
	PreferFastTrace bool
	Src             Handle
	Dst             Handle
	ScratchAddress  DeviceAddress
	Triangles       *TrianglesGeometry
	Instances       *InstancesGeometry
}

// PrimitiveCount returns the number of triangles or instances built.
func (i *BuildGeometryInfo) PrimitiveCount() uint32 {
	switch {
	case i.Triangles != nil:
		return i.Triangles.TriangleCount
	case i.Instances != nil:
		return i.Instances.Count
	default:
		return 0
	}
}

// BuildSizes are the storage requirements reported by the device for a build.
type BuildSizes struct {
	StructureSize     uint64
	BuildScratchSize  uint64
	UpdateScratchSize uint64
}

// StridedRegion is one shader binding table region.
type StridedRegion struct {
	Address DeviceAddress
	Stride  uint64
	Size    uint64
}

// ShaderBindingRegions groups the four regions consumed by a trace rays command.
type ShaderBindingRegions struct {
	Raygen   StridedRegion
	Miss     StridedRegion
	Hit      StridedRegion
	Callable StridedRegion
}

// SurfaceStatus is the outcome of an acquire or present that did not fail.
// Staleness is expected during resizes and is reported here, not as an error.
type SurfaceStatus uint8

const (
	SurfaceOptimal SurfaceStatus = iota
	SurfaceSuboptimal
	SurfaceOutOfDate
)

func (s SurfaceStatus) String() string {
	switch s {
	case SurfaceOptimal:
		return "optimal"
	case SurfaceSuboptimal:
		return "suboptimal"
	case SurfaceOutOfDate:
		return "out-of-date"
	default:
		return "unknown"
	}
}

// Properties are the device limits this renderer depends on. They are
// immutable for the lifetime of the device.
type Properties struct {
	ShaderGroupHandleSize      uint32
	ShaderGroupHandleAlignment uint32
	ShaderGroupBaseAlignment   uint32
	MinScratchOffsetAlignment  uint32
	MaxRayRecursionDepth       uint32
	// HostAccelerationStructureCommands is set when builds may run on the host thread.
	HostAccelerationStructureCommands bool
}

// InfiniteTimeout waits without bound.
const InfiniteTimeout = ^uint64(0)
