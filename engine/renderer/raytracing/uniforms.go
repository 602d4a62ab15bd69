package raytracing

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

const MaxLights = 16

// UniformSize is the std140 size of FrameUniforms: two matrices, six scalars
// padded to a vec4 boundary and the light array.
const UniformSize = 2*64 + 32 + MaxLights*32

type LightData struct {
	Position  mgl32.Vec3
	Color     mgl32.Vec3
	Intensity float32
}

// FrameUniforms is the per-frame data read by every ray tracing stage.
type FrameUniforms struct {
	ViewInverse        mgl32.Mat4
	ProjectionInverse  mgl32.Mat4
	VertexStride       uint32
	AccumulatedSamples uint32
	SamplesPerFrame    uint32
	MaxBounces         uint32
	Seed               uint32
	Lights             []LightData
}

// Bytes packs u in std140 layout. Lights beyond MaxLights are dropped.
func (u *FrameUniforms) Bytes() []byte {
	out := make([]byte, 0, UniformSize)
	putFloats := func(fs ...float32) {
		for _, f := range fs {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
	}
	putFloats(u.ViewInverse[:]...)
	putFloats(u.ProjectionInverse[:]...)

	lights := u.Lights
	if len(lights) > MaxLights {
		lights = lights[:MaxLights]
	}
	for _, v := range []uint32{u.VertexStride, u.AccumulatedSamples, u.SamplesPerFrame, u.MaxBounces, uint32(len(lights)), u.Seed, 0, 0} {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	for i := 0; i < MaxLights; i++ {
		if i < len(lights) {
			l := lights[i]
			putFloats(l.Position.X(), l.Position.Y(), l.Position.Z(), 1)
			putFloats(l.Color.X(), l.Color.Y(), l.Color.Z(), l.Intensity)
			continue
		}
		putFloats(0, 0, 0, 0, 0, 0, 0, 0)
	}
	return out
}

// UniformRing keeps one uniform buffer per frame slot.
type UniformRing struct {
	dev     gpu.Device
	buffers []*gpu.Buffer
}

func NewUniformRing(dev gpu.Device, slots int) (*UniformRing, error) {
	r := &UniformRing{dev: dev}
	for i := 0; i < slots; i++ {
		buf, err := dev.CreateBuffer(UniformSize, gpu.BufferUsageUniform, gpu.MemoryPropertyHostShared)
		if err != nil {
			r.Destroy()
			return nil, core.Fatal(fmt.Sprintf("create uniform buffer %d", i), err)
		}
		r.buffers = append(r.buffers, buf)
	}
	return r, nil
}

// Write uploads u into the buffer of slot. The slot's previous submission
// must have retired.
func (r *UniformRing) Write(slot int, u *FrameUniforms) error {
	return r.dev.WriteBuffer(r.buffers[slot], 0, u.Bytes())
}

func (r *UniformRing) Buffer(slot int) *gpu.Buffer {
	return r.buffers[slot]
}

func (r *UniformRing) Destroy() {
	for _, b := range r.buffers {
		b.Destroy(r.dev)
	}
	r.buffers = nil
}
