package scene

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// VertexStride is the size of a packed Vertex: position, normal, texcoord.
const VertexStride = 32

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	Texcoord mgl32.Vec2
}

// MeshData is indexed triangle geometry in host memory.
type MeshData struct {
	Name     string
	Vertices []Vertex
	Indices  []uint32
}

func (m *MeshData) VertexBytes() []byte {
	out := make([]byte, 0, len(m.Vertices)*VertexStride)
	for _, v := range m.Vertices {
		for _, f := range [8]float32{v.Position[0], v.Position[1], v.Position[2], v.Normal[0], v.Normal[1], v.Normal[2], v.Texcoord[0], v.Texcoord[1]} {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
	}
	return out
}

func (m *MeshData) VertexStride() uint64 {
	return VertexStride
}

func (m *MeshData) VertexCount() uint32 {
	return uint32(len(m.Vertices))
}

func (m *MeshData) IndexData() []uint32 {
	return m.Indices
}
