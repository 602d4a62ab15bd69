package raytracing

import (
	"encoding/binary"
	"testing"

	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu/gputest"
)

func TestNewGeometryResource(t *testing.T) {
	dev := gputest.NewDevice()
	g, err := NewGeometryResource(dev, testQuad())
	if err != nil {
		t.Fatalf("NewGeometryResource: %v", err)
	}
	if g.TriangleCount() != 2 || g.IndexCount != 6 || g.VertexCount != 4 {
		t.Errorf("counts = %d triangles, %d indices, %d vertices", g.TriangleCount(), g.IndexCount, g.VertexCount)
	}
	if got := binary.LittleEndian.Uint32(dev.Contents(g.IndexBuffer)[12:]); got != 2 {
		t.Errorf("fourth index = %d, want 2", got)
	}

	tri := g.Triangles()
	if tri.VertexAddress == 0 || tri.VertexAddress != g.VertexBuffer.Address {
		t.Errorf("vertex address = %#x", tri.VertexAddress)
	}
	if tri.IndexAddress != g.IndexBuffer.Address {
		t.Errorf("index address = %#x, want %#x", tri.IndexAddress, g.IndexBuffer.Address)
	}
	if tri.MaxVertex != 3 || tri.VertexStride != 32 || tri.TriangleCount != 2 {
		t.Errorf("triangles = %+v", tri)
	}

	g.Destroy(dev)
	if n := dev.Live().Buffers; n != 0 {
		t.Errorf("%d buffers alive after Destroy", n)
	}
	expectNoViolations(t, dev)
}

func TestNewGeometryResourceRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *testMesh)
	}{
		{"no vertices", func(m *testMesh) { m.vertices = nil }},
		{"no indices", func(m *testMesh) { m.indices = nil }},
		{"partial triangle", func(m *testMesh) { m.indices = m.indices[:4] }},
		{"stride too small", func(m *testMesh) { m.stride = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := gputest.NewDevice()
			m := testQuad()
			tt.mutate(m)
			if _, err := NewGeometryResource(dev, m); err == nil {
				t.Fatal("expected an error")
			}
			if n := dev.Live().Buffers; n != 0 {
				t.Errorf("%d buffers leaked", n)
			}
		})
	}
}
