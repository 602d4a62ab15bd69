package raytracing

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// MaterialSize is the std430 size of one packed MaterialData.
const MaterialSize = 48

// Texture presence bits carried in MaterialData.TextureMask.
const (
	TextureAlbedo uint32 = 1 << iota
	TextureNormal
	TextureRoughness
	TextureMetallic
	TextureEmissive
)

// MaterialData is the per-object shading input read by the hit shader.
type MaterialData struct {
	Albedo      mgl32.Vec4
	Emission    mgl32.Vec3
	Roughness   float32
	Metallic    float32
	TextureMask uint32
	Emissive    bool
}

func (m *MaterialData) Bytes() []byte {
	out := make([]byte, 0, MaterialSize)
	for _, f := range []float32{m.Albedo[0], m.Albedo[1], m.Albedo[2], m.Albedo[3], m.Emission[0], m.Emission[1], m.Emission[2], m.Roughness, m.Metallic} {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	emissive := uint32(0)
	if m.Emissive {
		emissive = 1
	}
	out = binary.LittleEndian.AppendUint32(out, m.TextureMask)
	out = binary.LittleEndian.AppendUint32(out, emissive)
	return binary.LittleEndian.AppendUint32(out, 0)
}

// NewMaterialBuffer uploads m into a storage buffer of its own.
func NewMaterialBuffer(dev gpu.Device, m *MaterialData) (*gpu.Buffer, error) {
	buf, err := dev.CreateBuffer(MaterialSize, gpu.BufferUsageStorage, gpu.MemoryPropertyHostShared)
	if err != nil {
		return nil, err
	}
	if err := dev.WriteBuffer(buf, 0, m.Bytes()); err != nil {
		buf.Destroy(dev)
		return nil, err
	}
	return buf, nil
}
