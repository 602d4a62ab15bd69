package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestCameraView(t *testing.T) {
	c := NewCamera()
	if f := c.Forward(); !f.ApproxEqual(mgl32.Vec3{0, 0, -1}) {
		t.Errorf("default forward = %v", f)
	}
	origin := mgl32.TransformCoordinate(mgl32.Vec3{}, c.View())
	if !origin.ApproxEqual(mgl32.Vec3{0, 0, -5}) {
		t.Errorf("origin in view space = %v", origin)
	}

	c.MoveForward(2)
	if p := c.Position(); !p.ApproxEqual(mgl32.Vec3{0, 0, 3}) {
		t.Errorf("position after MoveForward = %v", p)
	}
	c.SetRotation(0, 10)
	if _, pitch := c.Rotation(); pitch >= 1.5708 {
		t.Errorf("pitch %v not clamped", pitch)
	}
}

func TestCameraProjectionFlipsY(t *testing.T) {
	c := NewCamera()
	p := c.Projection(1)
	gl := mgl32.Perspective(c.FovY, 1, c.Near, c.Far)
	if p[5] != -gl[5] || p[0] != gl[0] {
		t.Errorf("projection = %v", p)
	}
}

func TestMeshVertexBytes(t *testing.T) {
	m, err := Primitive(PrimitiveCube, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(m.VertexBytes()); got != 24*VertexStride {
		t.Errorf("packed %d bytes, want %d", got, 24*VertexStride)
	}
	if m.VertexCount() != 24 || len(m.IndexData()) != 36 {
		t.Errorf("counts %d, %d", m.VertexCount(), len(m.IndexData()))
	}
	if _, err := Primitive(PrimitiveShape(9), 1); err == nil {
		t.Error("unknown shape accepted")
	}
}
