package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// Shader group indices inside the ray tracing pipeline.
const (
	GroupRaygen uint32 = iota
	GroupMiss
	GroupHit
	groupCount
)

// ShaderBindingTable holds one device buffer per shader group and the
// strided regions a trace rays command consumes.
type ShaderBindingTable struct {
	Raygen  *gpu.Buffer
	Miss    *gpu.Buffer
	Hit     *gpu.Buffer
	Regions gpu.ShaderBindingRegions

	HandleSize        uint32
	AlignedHandleSize uint32
}

// NewShaderBindingTable fetches the handles of the pipeline's raygen, miss
// and hit groups and copies each into its own buffer. Every failure is fatal.
func NewShaderBindingTable(dev gpu.Device, pipeline *gpu.Pipeline) (*ShaderBindingTable, error) {
	props := dev.Properties()
	if pipeline.GroupCount < groupCount {
		return nil, core.Fatal("create shader binding table",
			fmt.Errorf("%w: pipeline has %d groups", core.ErrMissingShaderGroup, pipeline.GroupCount))
	}

	handleSize := props.ShaderGroupHandleSize
	aligned := core.AlignUp(handleSize, props.ShaderGroupHandleAlignment)

	handles, err := dev.ShaderGroupHandles(pipeline, 0, groupCount)
	if err != nil {
		return nil, core.Fatal("query shader group handles", err)
	}
	if uint32(len(handles)) < groupCount*handleSize {
		return nil, core.Fatal("query shader group handles",
			fmt.Errorf("%w: got %d bytes", core.ErrMissingShaderGroup, len(handles)))
	}

	sbt := &ShaderBindingTable{HandleSize: handleSize, AlignedHandleSize: aligned}
	buffers := []**gpu.Buffer{&sbt.Raygen, &sbt.Miss, &sbt.Hit}
	for g, dst := range buffers {
		buf, err := dev.CreateBuffer(uint64(aligned),
			gpu.BufferUsageShaderBindingTable|gpu.BufferUsageDeviceAddress|gpu.BufferUsageTransferSrc,
			gpu.MemoryPropertyHostShared)
		if err != nil {
			sbt.Destroy(dev)
			return nil, core.Fatal("create shader binding table buffer", err)
		}
		*dst = buf
		record := make([]byte, aligned)
		copy(record, handles[uint32(g)*handleSize:uint32(g+1)*handleSize])
		if err := dev.WriteBuffer(buf, 0, record); err != nil {
			sbt.Destroy(dev)
			return nil, core.Fatal("write shader binding table", err)
		}
	}

	region := func(b *gpu.Buffer) gpu.StridedRegion {
		return gpu.StridedRegion{Address: b.Address, Stride: uint64(aligned), Size: uint64(aligned)}
	}
	sbt.Regions = gpu.ShaderBindingRegions{
		Raygen: region(sbt.Raygen),
		Miss:   region(sbt.Miss),
		Hit:    region(sbt.Hit),
	}
	core.LogDebug("shader binding table created", "handleSize", handleSize, "aligned", aligned)
	return sbt, nil
}

func (t *ShaderBindingTable) Destroy(dev gpu.Device) {
	if t == nil {
		return
	}
	t.Raygen.Destroy(dev)
	t.Miss.Destroy(dev)
	t.Hit.Destroy(dev)
	t.Raygen, t.Miss, t.Hit = nil, nil, nil
	t.Regions = gpu.ShaderBindingRegions{}
}
