package raytracing

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// GeometrySource is mesh data ready to be uploaded. Every vertex starts with
// three float32 position components.
type GeometrySource interface {
	VertexBytes() []byte
	VertexStride() uint64
	VertexCount() uint32
	IndexData() []uint32
}

// GeometryResource holds the device-resident vertex and index buffers of one
// mesh. It is owned by the object that created it.
type GeometryResource struct {
	VertexBuffer *gpu.Buffer
	IndexBuffer  *gpu.Buffer
	VertexStride uint64
	VertexCount  uint32
	IndexCount   uint32
}

const geometryUsage = gpu.BufferUsageStorage |
	gpu.BufferUsageDeviceAddress |
	gpu.BufferUsageAccelerationStructureBuildInput

// NewGeometryResource uploads src into two device-addressable buffers.
func NewGeometryResource(dev gpu.Device, src GeometrySource) (*GeometryResource, error) {
	vertices := src.VertexBytes()
	indices := src.IndexData()
	if len(vertices) == 0 || len(indices) == 0 {
		return nil, fmt.Errorf("geometry has %d vertex bytes and %d indices", len(vertices), len(indices))
	}
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("index count %d is not a multiple of 3", len(indices))
	}
	if src.VertexStride() < 12 {
		return nil, fmt.Errorf("vertex stride %d cannot hold a position", src.VertexStride())
	}

	g := &GeometryResource{
		VertexStride: src.VertexStride(),
		VertexCount:  src.VertexCount(),
		IndexCount:   uint32(len(indices)),
	}

	var err error
	g.VertexBuffer, err = dev.CreateBuffer(uint64(len(vertices)), geometryUsage|gpu.BufferUsageVertex, gpu.MemoryPropertyHostShared)
	if err != nil {
		core.LogError("failed to create vertex buffer", "err", err)
		return nil, err
	}
	if err := dev.WriteBuffer(g.VertexBuffer, 0, vertices); err != nil {
		g.Destroy(dev)
		return nil, err
	}

	packed := make([]byte, 0, len(indices)*4)
	for _, i := range indices {
		packed = binary.LittleEndian.AppendUint32(packed, i)
	}
	g.IndexBuffer, err = dev.CreateBuffer(uint64(len(packed)), geometryUsage|gpu.BufferUsageIndex, gpu.MemoryPropertyHostShared)
	if err != nil {
		core.LogError("failed to create index buffer", "err", err)
		g.Destroy(dev)
		return nil, err
	}
	if err := dev.WriteBuffer(g.IndexBuffer, 0, packed); err != nil {
		g.Destroy(dev)
		return nil, err
	}
	return g, nil
}

func (g *GeometryResource) TriangleCount() uint32 {
	return g.IndexCount / 3
}

// Triangles describes the resource as bottom-level build input.
func (g *GeometryResource) Triangles() *gpu.TrianglesGeometry {
	maxVertex := uint32(0)
	if g.VertexCount > 0 {
		maxVertex = g.VertexCount - 1
	}
	return &gpu.TrianglesGeometry{
		VertexAddress: g.VertexBuffer.Address,
		IndexAddress:  g.IndexBuffer.Address,
		VertexStride:  g.VertexStride,
		MaxVertex:     maxVertex,
		TriangleCount: g.TriangleCount(),
		Opaque:        true,
	}
}

func (g *GeometryResource) Destroy(dev gpu.Device) {
	if g == nil {
		return
	}
	g.VertexBuffer.Destroy(dev)
	g.IndexBuffer.Destroy(dev)
	g.VertexBuffer = nil
	g.IndexBuffer = nil
}
