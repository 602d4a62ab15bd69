package raytracing

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

// AccumulationFormat is the format of the storage and accumulation images.
const AccumulationFormat = gpu.FormatRGBA32Sfloat

// Compositor records the ray dispatch and the copy of its result to the
// presentable image. It owns the two size-dependent images.
type Compositor struct {
	dev      gpu.Device
	pipeline *gpu.Pipeline
	sbt      *ShaderBindingTable

	storage      *gpu.Image
	accumulation *gpu.Image
	extent       gpu.Extent2D
	generation   uint64
}

func NewCompositor(dev gpu.Device, pipeline *gpu.Pipeline, sbt *ShaderBindingTable, extent gpu.Extent2D) (*Compositor, error) {
	c := &Compositor{dev: dev, pipeline: pipeline, sbt: sbt}
	if err := c.createImages(extent); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Compositor) createImages(extent gpu.Extent2D) error {
	if extent.IsZero() {
		return core.Fatal("create compositor images", core.ErrInvalidExtent)
	}
	var err error
	c.storage, err = c.dev.CreateImage(gpu.ImageDesc{
		Extent: extent,
		Format: AccumulationFormat,
		Usage:  gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc,
	})
	if err != nil {
		return core.Fatal("create storage image", err)
	}
	c.accumulation, err = c.dev.CreateImage(gpu.ImageDesc{
		Extent: extent,
		Format: AccumulationFormat,
		Usage:  gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst,
	})
	if err != nil {
		c.storage.Destroy(c.dev)
		return core.Fatal("create accumulation image", err)
	}

	err = gpu.SingleUse(c.dev, func(cb gpu.CommandBuffer) error {
		cb.PipelineBarrier(gpu.PipelineStageTopOfPipe, gpu.PipelineStageTransfer, nil, []gpu.ImageBarrier{
			{Image: c.storage.Handle, OldLayout: gpu.ImageLayoutUndefined, NewLayout: gpu.ImageLayoutGeneral, DstAccess: gpu.AccessTransferWrite},
			{Image: c.accumulation.Handle, OldLayout: gpu.ImageLayoutUndefined, NewLayout: gpu.ImageLayoutGeneral, DstAccess: gpu.AccessTransferWrite},
		})
		cb.ClearColorImage(c.storage.Handle, gpu.ImageLayoutGeneral, [4]float32{0, 0, 0, 1})
		cb.ClearColorImage(c.accumulation.Handle, gpu.ImageLayoutGeneral, [4]float32{0, 0, 0, 1})
		cb.PipelineBarrier(gpu.PipelineStageTransfer, gpu.PipelineStageRayTracingShader, nil, []gpu.ImageBarrier{
			{Image: c.storage.Handle, OldLayout: gpu.ImageLayoutGeneral, NewLayout: gpu.ImageLayoutGeneral, SrcAccess: gpu.AccessTransferWrite, DstAccess: gpu.AccessShaderWrite},
			{Image: c.accumulation.Handle, OldLayout: gpu.ImageLayoutGeneral, NewLayout: gpu.ImageLayoutGeneral, SrcAccess: gpu.AccessTransferWrite, DstAccess: gpu.AccessShaderRead | gpu.AccessShaderWrite},
		})
		return nil
	})
	if err != nil {
		c.destroyImages()
		return core.Fatal("initialise compositor images", err)
	}
	c.storage.Layout = gpu.ImageLayoutGeneral
	c.accumulation.Layout = gpu.ImageLayoutGeneral
	c.extent = extent
	c.generation++
	return nil
}

func (c *Compositor) destroyImages() {
	c.storage.Destroy(c.dev)
	c.accumulation.Destroy(c.dev)
	c.storage = nil
	c.accumulation = nil
}

// Resize recreates both images at extent. The accumulated samples are lost.
func (c *Compositor) Resize(extent gpu.Extent2D) error {
	if err := c.dev.WaitIdle(); err != nil {
		return core.Fatal("wait idle before compositor resize", err)
	}
	c.destroyImages()
	core.LogDebug("compositor images resized", "width", extent.Width, "height", extent.Height)
	return c.createImages(extent)
}

func (c *Compositor) Extent() gpu.Extent2D {
	return c.extent
}

func (c *Compositor) StorageImage() *gpu.Image {
	return c.storage
}

func (c *Compositor) AccumulationImage() *gpu.Image {
	return c.accumulation
}

// Generation increments every time the images are recreated.
func (c *Compositor) Generation() uint64 {
	return c.generation
}

// Record traces one frame with the descriptor set of slot and composites the
// result onto surface, leaving it ready for presentation. With trace unset
// the accumulation image is cleared and composited, so nothing from an
// earlier trace reaches the surface.
func (c *Compositor) Record(cb gpu.CommandBuffer, slot int, trace bool, surface gpu.Handle, surfaceExtent gpu.Extent2D) {
	if !trace {
		c.clearAccumulation(cb)
	} else {
		cb.BindRayTracingPipeline(c.pipeline, slot)
		cb.TraceRays(&c.sbt.Regions, c.extent.Width, c.extent.Height, 1)

		cb.PipelineBarrier(gpu.PipelineStageRayTracingShader, gpu.PipelineStageTransfer, nil, []gpu.ImageBarrier{
			{
				Image:     c.storage.Handle,
				OldLayout: gpu.ImageLayoutGeneral,
				NewLayout: gpu.ImageLayoutTransferSrc,
				SrcAccess: gpu.AccessShaderWrite,
				DstAccess: gpu.AccessTransferRead,
			},
			{
				Image:     c.accumulation.Handle,
				OldLayout: gpu.ImageLayoutGeneral,
				NewLayout: gpu.ImageLayoutTransferDst,
				SrcAccess: gpu.AccessShaderRead | gpu.AccessShaderWrite,
				DstAccess: gpu.AccessTransferWrite,
			},
		})
		cb.CopyImage(c.storage.Handle, gpu.ImageLayoutTransferSrc, c.accumulation.Handle, gpu.ImageLayoutTransferDst, c.extent)
		cb.PipelineBarrier(gpu.PipelineStageTransfer, gpu.PipelineStageRayTracingShader|gpu.PipelineStageTransfer, nil, []gpu.ImageBarrier{
			{
				Image:     c.accumulation.Handle,
				OldLayout: gpu.ImageLayoutTransferDst,
				NewLayout: gpu.ImageLayoutGeneral,
				SrcAccess: gpu.AccessTransferWrite,
				DstAccess: gpu.AccessShaderRead | gpu.AccessShaderWrite | gpu.AccessTransferRead,
			},
			{
				Image:     c.storage.Handle,
				OldLayout: gpu.ImageLayoutTransferSrc,
				NewLayout: gpu.ImageLayoutGeneral,
				SrcAccess: gpu.AccessTransferRead,
				DstAccess: gpu.AccessShaderWrite,
			},
		})
	}

	cb.PipelineBarrier(gpu.PipelineStageTransfer, gpu.PipelineStageTransfer, nil, []gpu.ImageBarrier{
		{
			Image:     surface,
			OldLayout: gpu.ImageLayoutUndefined,
			NewLayout: gpu.ImageLayoutTransferDst,
			DstAccess: gpu.AccessTransferWrite,
		},
		{
			Image:     c.accumulation.Handle,
			OldLayout: gpu.ImageLayoutGeneral,
			NewLayout: gpu.ImageLayoutTransferSrc,
			SrcAccess: gpu.AccessTransferWrite,
			DstAccess: gpu.AccessTransferRead,
		},
	})
	cb.BlitImage(c.accumulation.Handle, gpu.ImageLayoutTransferSrc, c.extent, surface, gpu.ImageLayoutTransferDst, surfaceExtent, gpu.FilterLinear)
	cb.PipelineBarrier(gpu.PipelineStageTransfer, gpu.PipelineStageBottomOfPipe|gpu.PipelineStageRayTracingShader, nil, []gpu.ImageBarrier{
		{
			Image:     surface,
			OldLayout: gpu.ImageLayoutTransferDst,
			NewLayout: gpu.ImageLayoutPresentSrc,
			SrcAccess: gpu.AccessTransferWrite,
			DstAccess: gpu.AccessMemoryRead,
		},
		{
			Image:     c.accumulation.Handle,
			OldLayout: gpu.ImageLayoutTransferSrc,
			NewLayout: gpu.ImageLayoutGeneral,
			SrcAccess: gpu.AccessTransferRead,
			DstAccess: gpu.AccessShaderRead | gpu.AccessShaderWrite,
		},
	})
}

func (c *Compositor) clearAccumulation(cb gpu.CommandBuffer) {
	cb.PipelineBarrier(gpu.PipelineStageTransfer|gpu.PipelineStageRayTracingShader, gpu.PipelineStageTransfer, nil, []gpu.ImageBarrier{
		{
			Image:     c.accumulation.Handle,
			OldLayout: gpu.ImageLayoutGeneral,
			NewLayout: gpu.ImageLayoutGeneral,
			SrcAccess: gpu.AccessShaderRead | gpu.AccessShaderWrite | gpu.AccessTransferRead,
			DstAccess: gpu.AccessTransferWrite,
		},
	})
	cb.ClearColorImage(c.accumulation.Handle, gpu.ImageLayoutGeneral, [4]float32{0, 0, 0, 1})
}

func (c *Compositor) Destroy() {
	c.destroyImages()
	c.extent = gpu.Extent2D{}
}
