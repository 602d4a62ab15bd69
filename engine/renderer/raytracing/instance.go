package raytracing

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// InstanceRecordSize is the size of one packed instance record
// (VkAccelerationStructureInstanceKHR).
const InstanceRecordSize = 64

const maxCustomIndex = 1<<24 - 1

type InstanceFlags uint8

const (
	InstanceTriangleFacingCullDisable InstanceFlags = 1 << iota
	InstanceTriangleFlipFacing
	InstanceForceOpaque
	InstanceForceNoOpaque
)

// Instance places one bottom-level structure in the top-level structure.
type Instance struct {
	Transform   mgl32.Mat4
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       InstanceFlags
	BLASAddress gpu.DeviceAddress
}

// RowMajor3x4 returns the upper three rows of m in row-major order.
func RowMajor3x4(m mgl32.Mat4) [12]float32 {
	var out [12]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m.At(r, c)
		}
	}
	return out
}

// AppendRecord packs inst into its 64-byte device layout.
func (inst *Instance) AppendRecord(dst []byte) []byte {
	for _, f := range RowMajor3x4(inst.Transform) {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	dst = binary.LittleEndian.AppendUint32(dst, inst.CustomIndex&maxCustomIndex|uint32(inst.Mask)<<24)
	dst = binary.LittleEndian.AppendUint32(dst, inst.SBTOffset&maxCustomIndex|uint32(inst.Flags)<<24)
	return binary.LittleEndian.AppendUint64(dst, uint64(inst.BLASAddress))
}

// InstanceTable is the host copy of the instance array together with the
// single device buffer the top-level build reads. Instance i always belongs
// to object i and carries custom index i.
type InstanceTable struct {
	dev       gpu.Device
	instances []Instance
	buffer    *gpu.Buffer
	capacity  int
}

func NewInstanceTable(dev gpu.Device) *InstanceTable {
	return &InstanceTable{dev: dev}
}

func (t *InstanceTable) Len() int {
	return len(t.instances)
}

func (t *InstanceTable) At(i int) Instance {
	return t.instances[i]
}

// Append adds inst at the end of the table, assigning it the next custom
// index, and returns that index.
func (t *InstanceTable) Append(inst Instance) (int, error) {
	i := len(t.instances)
	if i > maxCustomIndex {
		return -1, fmt.Errorf("instance table full at %d entries", i)
	}
	inst.CustomIndex = uint32(i)
	t.instances = append(t.instances, inst)
	return i, nil
}

// Remove deletes instance i, shifting the following instances down and
// renumbering their custom indices. It reports false when i is out of range.
func (t *InstanceTable) Remove(i int) bool {
	if i < 0 || i >= len(t.instances) {
		return false
	}
	copy(t.instances[i:], t.instances[i+1:])
	t.instances = t.instances[:len(t.instances)-1]
	for j := i; j < len(t.instances); j++ {
		t.instances[j].CustomIndex = uint32(j)
	}
	return true
}

func (t *InstanceTable) SetTransform(i int, m mgl32.Mat4) bool {
	if i < 0 || i >= len(t.instances) {
		return false
	}
	t.instances[i].Transform = m
	return true
}

// Resolve refreshes the bottom-level address of every instance. addresses
// is indexed like the table.
func (t *InstanceTable) Resolve(addresses []gpu.DeviceAddress) error {
	if len(addresses) != len(t.instances) {
		return fmt.Errorf("%d bottom-level structures for %d instances", len(addresses), len(t.instances))
	}
	for i := range t.instances {
		t.instances[i].BLASAddress = addresses[i]
	}
	return nil
}

// Pack returns the whole table in device layout.
func (t *InstanceTable) Pack() []byte {
	out := make([]byte, 0, len(t.instances)*InstanceRecordSize)
	for i := range t.instances {
		out = t.instances[i].AppendRecord(out)
	}
	return out
}

// Upload writes the whole table to its device buffer, growing the buffer
// when the table no longer fits. The buffer never shrinks.
func (t *InstanceTable) Upload() error {
	if t.buffer == nil || len(t.instances) > t.capacity {
		capacity := max(t.capacity*2, len(t.instances), 1)
		buf, err := t.dev.CreateBuffer(
			uint64(capacity*InstanceRecordSize),
			gpu.BufferUsageStorage|gpu.BufferUsageDeviceAddress|gpu.BufferUsageAccelerationStructureBuildInput,
			gpu.MemoryPropertyHostShared,
		)
		if err != nil {
			core.LogError("failed to grow instance buffer", "capacity", capacity, "err", err)
			return err
		}
		core.LogDebug("instance buffer resized", "from", t.capacity, "to", capacity)
		t.buffer.Destroy(t.dev)
		t.buffer = buf
		t.capacity = capacity
	}
	if len(t.instances) == 0 {
		return nil
	}
	return t.dev.WriteBuffer(t.buffer, 0, t.Pack())
}

// Buffer is nil until the first Upload.
func (t *InstanceTable) Buffer() *gpu.Buffer {
	return t.buffer
}

func (t *InstanceTable) Capacity() int {
	return t.capacity
}

func (t *InstanceTable) Destroy() {
	t.buffer.Destroy(t.dev)
	t.buffer = nil
	t.capacity = 0
	t.instances = nil
}
