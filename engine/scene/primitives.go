package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

type PrimitiveShape uint8

const (
	PrimitiveCube PrimitiveShape = iota
	PrimitivePlane
)

func (s PrimitiveShape) String() string {
	switch s {
	case PrimitiveCube:
		return "cube"
	case PrimitivePlane:
		return "plane"
	default:
		return "unknown"
	}
}

// Primitive generates the mesh of shape with the given half extent.
func Primitive(shape PrimitiveShape, halfExtent float32) (*MeshData, error) {
	switch shape {
	case PrimitiveCube:
		return cube(halfExtent), nil
	case PrimitivePlane:
		return plane(halfExtent), nil
	default:
		return nil, fmt.Errorf("unknown primitive shape %d", shape)
	}
}

func plane(h float32) *MeshData {
	n := mgl32.Vec3{0, 1, 0}
	return &MeshData{
		Name: "plane",
		Vertices: []Vertex{
			{Position: mgl32.Vec3{-h, 0, -h}, Normal: n, Texcoord: mgl32.Vec2{0, 0}},
			{Position: mgl32.Vec3{h, 0, -h}, Normal: n, Texcoord: mgl32.Vec2{1, 0}},
			{Position: mgl32.Vec3{h, 0, h}, Normal: n, Texcoord: mgl32.Vec2{1, 1}},
			{Position: mgl32.Vec3{-h, 0, h}, Normal: n, Texcoord: mgl32.Vec2{0, 1}},
		},
		Indices: []uint32{0, 2, 1, 0, 3, 2},
	}
}

func cube(h float32) *MeshData {
	faces := []struct {
		normal, u, v mgl32.Vec3
	}{
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
	}
	m := &MeshData{Name: "cube"}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	for _, f := range faces {
		base := uint32(len(m.Vertices))
		center := f.normal.Mul(h)
		for _, c := range corners {
			p := center.Add(f.u.Mul(c[0] * h)).Add(f.v.Mul(c[1] * h))
			m.Vertices = append(m.Vertices, Vertex{
				Position: p,
				Normal:   f.normal,
				Texcoord: mgl32.Vec2{(c[0] + 1) / 2, (c[1] + 1) / 2},
			})
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base+2, base+3, base)
	}
	return m
}
