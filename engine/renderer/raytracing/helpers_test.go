package raytracing

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu/gputest"
)

// testMesh is a unit quad with position, normal and texcoord per vertex.
type testMesh struct {
	vertices []byte
	stride   uint64
	count    uint32
	indices  []uint32
}

func (m *testMesh) VertexBytes() []byte  { return m.vertices }
func (m *testMesh) VertexStride() uint64 { return m.stride }
func (m *testMesh) VertexCount() uint32  { return m.count }
func (m *testMesh) IndexData() []uint32  { return m.indices }

func testQuad() *testMesh {
	positions := [][3]float32{{-1, -1, 0}, {1, -1, 0}, {1, 1, 0}, {-1, 1, 0}}
	var vertices []byte
	for _, p := range positions {
		for _, f := range []float32{p[0], p[1], p[2], 0, 0, 1, 0, 0} {
			vertices = binary.LittleEndian.AppendUint32(vertices, math.Float32bits(f))
		}
	}
	return &testMesh{
		vertices: vertices,
		stride:   32,
		count:    uint32(len(positions)),
		indices:  []uint32{0, 1, 2, 2, 3, 0},
	}
}

func testPipeline(t *testing.T, dev *gputest.Device, modules int) *gpu.Pipeline {
	t.Helper()
	desc := &gpu.RayTracingPipelineDesc{Bindings: Bindings(), MaxRecursionDepth: 1, SetCount: 2}
	for i := 0; i < modules; i++ {
		desc.Modules = append(desc.Modules, gpu.ShaderModule{Stage: gpu.ShaderStage(i), Code: []byte{0x03, 0x02, 0x23, 0x07}, Entry: "main"})
	}
	p, err := dev.CreateRayTracingPipeline(desc)
	if err != nil {
		t.Fatalf("CreateRayTracingPipeline: %v", err)
	}
	return p
}

func recordingBuffer(t *testing.T, dev *gputest.Device) *gputest.CommandBuffer {
	t.Helper()
	cb, err := dev.AllocateCommandBuffer()
	if err != nil {
		t.Fatalf("AllocateCommandBuffer: %v", err)
	}
	if err := cb.Begin(false); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return cb.(*gputest.CommandBuffer)
}

func translation(x float32) mgl32.Mat4 {
	return mgl32.Translate3D(x, 0, 0)
}

func recordFloat(rec []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(rec[i*4:]))
}

func expectNoViolations(t *testing.T, dev *gputest.Device) {
	t.Helper()
	for _, v := range dev.Violations() {
		t.Errorf("device violation: %s", v)
	}
}
