// Package renderer turns the scene into acceleration structures, traces it
// and hands the result to the frame protocol.
package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/frame"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
	"github.com/spaghettifunk/anima-rt/engine/scene"
)

// Shaders is the SPIR-V of the three ray tracing stages.
type Shaders struct {
	Raygen     []byte
	Miss       []byte
	ClosestHit []byte
}

// ImageLoader decodes environment images.
type ImageLoader interface {
	LoadImage(path string) (*loaders.ImageData, error)
}

type Options struct {
	FramesInFlight   int
	SamplesPerFrame  uint32
	MaxBounces       uint32
	PreferHostBuilds bool
	// Images may be nil, in which case skyboxes keep the default environment.
	Images ImageLoader
}

// objectResources are the GPU resources of one scene object. Entry i belongs
// to scene object i, instance i and bottom-level structure i.
type objectResources struct {
	geometry *raytracing.GeometryResource
	material *gpu.Buffer
}

type Renderer struct {
	dev   gpu.Device
	opts  Options
	sync  *frame.Synchronizer
	scene *scene.Scene

	pipeline    *gpu.Pipeline
	sbt         *raytracing.ShaderBindingTable
	compositor  *raytracing.Compositor
	uniforms    *raytracing.UniformRing
	descriptors *raytracing.DescriptorTracker
	store       *raytracing.Store
	instances   *raytracing.InstanceTable
	objects     []objectResources
	environment *gpu.Image

	refreshTop  bool
	rebuildTop  bool
	topHandle   gpu.Handle
	generation  uint64
	accumulated uint32
	rng         *rand.Rand
}

// New creates the pipeline, shader binding table, compositor images and
// frame slots. Every failure is fatal.
func New(dev gpu.Device, presenter gpu.Presenter, window frame.Window, sc *scene.Scene, shaders Shaders, opts Options) (*Renderer, error) {
	if opts.FramesInFlight <= 0 {
		opts.FramesInFlight = frame.DefaultFramesInFlight
	}
	if opts.SamplesPerFrame == 0 {
		opts.SamplesPerFrame = 1
	}
	r := &Renderer{
		dev:         dev,
		opts:        opts,
		scene:       sc,
		descriptors: raytracing.NewDescriptorTracker(opts.FramesInFlight),
		store:       raytracing.NewStore(dev, opts.PreferHostBuilds),
		instances:   raytracing.NewInstanceTable(dev),
		rng:         rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
	}
	if err := r.init(presenter, window, shaders); err != nil {
		r.destroy()
		return nil, err
	}
	core.LogInfo("ray tracing renderer ready",
		"framesInFlight", opts.FramesInFlight,
		"hostBuilds", r.store.HostBuilds(),
		"extent", fmt.Sprintf("%dx%d", presenter.Extent().Width, presenter.Extent().Height))
	return r, nil
}

func (r *Renderer) init(presenter gpu.Presenter, window frame.Window, shaders Shaders) error {
	depth := r.dev.Properties().MaxRayRecursionDepth
	if depth > 2 {
		depth = 2
	}
	var err error
	r.pipeline, err = r.dev.CreateRayTracingPipeline(&gpu.RayTracingPipelineDesc{
		Modules: []gpu.ShaderModule{
			{Stage: gpu.ShaderStageRaygen, Code: shaders.Raygen, Entry: "main"},
			{Stage: gpu.ShaderStageMiss, Code: shaders.Miss, Entry: "main"},
			{Stage: gpu.ShaderStageClosestHit, Code: shaders.ClosestHit, Entry: "main"},
		},
		Bindings:          raytracing.Bindings(),
		MaxRecursionDepth: depth,
		SetCount:          uint32(r.opts.FramesInFlight),
	})
	if err != nil {
		return core.Fatal("create ray tracing pipeline", err)
	}
	if r.sbt, err = raytracing.NewShaderBindingTable(r.dev, r.pipeline); err != nil {
		return err
	}
	if r.compositor, err = raytracing.NewCompositor(r.dev, r.pipeline, r.sbt, presenter.Extent()); err != nil {
		return err
	}
	r.generation = r.compositor.Generation()
	if r.uniforms, err = raytracing.NewUniformRing(r.dev, r.opts.FramesInFlight); err != nil {
		return err
	}
	if r.environment, err = r.uploadEnvironment(&loaders.ImageData{Width: 1, Height: 1, Pixels: []byte{0, 0, 0, 255}}); err != nil {
		return err
	}
	if r.sync, err = frame.New(r.dev, presenter, window, r.opts.FramesInFlight); err != nil {
		return err
	}
	r.sync.Register(r.compositor)
	return nil
}

func (r *Renderer) Synchronizer() *frame.Synchronizer {
	return r.sync
}

func (r *Renderer) Store() *raytracing.Store {
	return r.store
}

func (r *Renderer) Instances() *raytracing.InstanceTable {
	return r.instances
}

func (r *Renderer) Compositor() *raytracing.Compositor {
	return r.compositor
}

// AccumulatedSamples is the number of samples averaged into the current image.
func (r *Renderer) AccumulatedSamples() uint32 {
	return r.accumulated
}

// DrawFrame renders and presents one frame. A stale surface skips the frame.
func (r *Renderer) DrawFrame(ctx context.Context) error {
	return r.sync.DrawFrame(ctx, r)
}

// Sync applies the scene's pending edits to the GPU side: added objects get
// geometry and a bottom-level structure, removed ones release theirs, moved
// ones update their instance. The top-level refresh itself happens in Record.
func (r *Renderer) Sync(sc *scene.Scene) error {
	changes := sc.ApplyPending()

	if changes.InstancesChanged() || changes.EnvironmentChanged {
		// Shared structures are about to change; nothing in flight may read them.
		// The instance buffer, the update scratch and the top-level structure
		// are single copies, so a transform-only change also serialises the
		// slots. A per-slot instance buffer and scratch would let device-built
		// updates overlap; host builds would still have to wait here.
		if err := r.sync.WaitInFlight(); err != nil {
			return err
		}
	}

	for _, e := range changes.Edits {
		switch e.Kind {
		case scene.EditAdd:
			if err := r.addObject(e.Object); err != nil {
				return err
			}
		case scene.EditRemove:
			r.removeObject(e.Index)
		}
	}
	objects := sc.Objects()
	for _, i := range changes.Moved {
		r.instances.SetTransform(i, objects[i].Transform)
	}

	if changes.EnvironmentChanged {
		if err := r.loadEnvironment(sc.Environment()); err != nil {
			return err
		}
	}

	if changes.InstancesChanged() {
		r.refreshTop = true
		r.rebuildTop = r.rebuildTop || changes.TopologyChanged
	}
	if changes.TopologyChanged || changes.EnvironmentChanged {
		r.descriptors.Invalidate()
	}
	if changes.Any() {
		r.accumulated = 0
	}
	return nil
}

func (r *Renderer) addObject(obj *scene.RenderableObject) error {
	if len(r.objects) >= raytracing.MaxObjects {
		return core.Fatal("add object", fmt.Errorf("scene exceeds %d objects", raytracing.MaxObjects))
	}
	geom, err := raytracing.NewGeometryResource(r.dev, obj.Mesh)
	if err != nil {
		return core.Fatal(fmt.Sprintf("create geometry of %s", obj.Name), err)
	}
	blas, err := r.store.BuildBottom(geom)
	if err != nil {
		geom.Destroy(r.dev)
		return err
	}
	material, err := raytracing.NewMaterialBuffer(r.dev, &raytracing.MaterialData{
		Albedo:      obj.Material.Albedo,
		Emission:    obj.Material.Emission,
		Roughness:   obj.Material.Roughness,
		Metallic:    obj.Material.Metallic,
		TextureMask: obj.Material.TextureMask,
		Emissive:    obj.Emissive,
	})
	if err != nil {
		r.store.Remove(len(r.store.Bottoms()) - 1)
		geom.Destroy(r.dev)
		return core.Fatal(fmt.Sprintf("create material of %s", obj.Name), err)
	}
	if _, err := r.instances.Append(raytracing.Instance{
		Transform:   obj.Transform,
		Mask:        0xff,
		Flags:       raytracing.InstanceTriangleFacingCullDisable,
		BLASAddress: blas.Address,
	}); err != nil {
		r.store.Remove(len(r.store.Bottoms()) - 1)
		geom.Destroy(r.dev)
		material.Destroy(r.dev)
		return core.Fatal("append instance", err)
	}
	r.objects = append(r.objects, objectResources{geometry: geom, material: material})
	core.LogDebug("object added", "name", obj.Name, "id", obj.ID, "triangles", geom.TriangleCount())
	return nil
}

func (r *Renderer) removeObject(i int) {
	if i < 0 || i >= len(r.objects) {
		return
	}
	res := r.objects[i]
	res.geometry.Destroy(r.dev)
	res.material.Destroy(r.dev)
	r.store.Remove(i)
	r.instances.Remove(i)
	copy(r.objects[i:], r.objects[i+1:])
	r.objects[len(r.objects)-1] = objectResources{}
	r.objects = r.objects[:len(r.objects)-1]
	core.LogDebug("object removed", "index", i, "remaining", len(r.objects))
}

func (r *Renderer) loadEnvironment(path string) error {
	data := &loaders.ImageData{Width: 1, Height: 1, Pixels: []byte{0, 0, 0, 255}}
	if path != "" && r.opts.Images != nil {
		loaded, err := r.opts.Images.LoadImage(path)
		if err != nil {
			core.LogWarn("failed to load environment, keeping a black sky", "path", path, "err", err)
		} else {
			data = loaded
		}
	}
	img, err := r.uploadEnvironment(data)
	if err != nil {
		return err
	}
	r.environment.Destroy(r.dev)
	r.environment = img
	return nil
}

func (r *Renderer) uploadEnvironment(data *loaders.ImageData) (*gpu.Image, error) {
	img, err := r.dev.CreateImage(gpu.ImageDesc{
		Extent:  gpu.Extent2D{Width: data.Width, Height: data.Height},
		Format:  gpu.FormatRGBA8Unorm,
		Usage:   gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
		Sampled: true,
	})
	if err != nil {
		return nil, core.Fatal("create environment image", err)
	}
	if err := r.dev.UploadImage(img, data.Pixels); err != nil {
		img.Destroy(r.dev)
		return nil, core.Fatal("upload environment image", err)
	}
	return img, nil
}

// Record implements frame.Recorder. It runs once the slot's previous frame
// retired, so the slot's uniforms and descriptor set may be rewritten.
func (r *Renderer) Record(fc *frame.Context) error {
	if r.scene != nil {
		if err := r.Sync(r.scene); err != nil {
			return err
		}
	}

	if r.refreshTop && r.instances.Len() > 0 {
		if err := r.store.UpdateTopInPlace(fc.Commands, r.instances, r.rebuildTop); err != nil {
			return err
		}
		r.refreshTop, r.rebuildTop = false, false
	}
	if top := r.store.Top(); top != nil && top.Handle != r.topHandle {
		r.topHandle = top.Handle
		r.descriptors.Invalidate()
	}
	if g := r.compositor.Generation(); g != r.generation {
		r.generation = g
		r.accumulated = 0
		r.descriptors.Invalidate()
	}

	if err := r.uniforms.Write(fc.Slot, r.frameUniforms()); err != nil {
		return core.Fatal("write frame uniforms", err)
	}
	if r.descriptors.Stale(fc.Slot) {
		if err := r.dev.UpdateDescriptorSet(r.pipeline, fc.Slot, r.descriptorResources(fc.Slot).Writes()); err != nil {
			return core.Fatal("update descriptor set", err)
		}
		r.descriptors.MarkWritten(fc.Slot)
	}

	trace := r.store.Top() != nil && r.instances.Len() > 0
	r.compositor.Record(fc.Commands, fc.Slot, trace, fc.Image, fc.Extent)
	if trace {
		r.accumulated += r.opts.SamplesPerFrame
	}
	return nil
}

func (r *Renderer) frameUniforms() *raytracing.FrameUniforms {
	u := &raytracing.FrameUniforms{
		ViewInverse:        mgl32.Ident4(),
		ProjectionInverse:  mgl32.Ident4(),
		VertexStride:       scene.VertexStride,
		AccumulatedSamples: r.accumulated,
		SamplesPerFrame:    r.opts.SamplesPerFrame,
		MaxBounces:         r.opts.MaxBounces,
		Seed:               r.rng.Uint32(),
	}
	if r.scene == nil {
		return u
	}
	extent := r.compositor.Extent()
	cam := r.scene.Camera()
	u.ViewInverse = cam.View().Inv()
	u.ProjectionInverse = cam.Projection(float32(extent.Width) / float32(extent.Height)).Inv()
	for _, l := range r.scene.Lights() {
		u.Lights = append(u.Lights, raytracing.LightData{Position: l.Position, Color: l.Color, Intensity: l.Intensity})
	}
	return u
}

func (r *Renderer) descriptorResources(slot int) *raytracing.DescriptorResources {
	res := &raytracing.DescriptorResources{
		Storage:      r.compositor.StorageImage(),
		Accumulation: r.compositor.AccumulationImage(),
		Uniforms:     r.uniforms.Buffer(slot),
		Environment:  r.environment,
		Instances:    r.instances.Buffer(),
	}
	if top := r.store.Top(); top != nil {
		res.TopLevel = top.Handle
	}
	for _, o := range r.objects {
		res.Vertices = append(res.Vertices, o.geometry.VertexBuffer)
		res.Indices = append(res.Indices, o.geometry.IndexBuffer)
		res.Materials = append(res.Materials, o.material)
	}
	return res
}

// Shutdown waits for the device and releases everything the renderer owns.
func (r *Renderer) Shutdown() error {
	var err error
	if r.sync != nil {
		err = r.sync.Shutdown()
	}
	r.destroy()
	return err
}

func (r *Renderer) destroy() {
	for _, o := range r.objects {
		o.geometry.Destroy(r.dev)
		o.material.Destroy(r.dev)
	}
	r.objects = nil
	r.store.Destroy()
	r.instances.Destroy()
	r.environment.Destroy(r.dev)
	if r.uniforms != nil {
		r.uniforms.Destroy()
	}
	if r.compositor != nil {
		r.compositor.Destroy()
	}
	if r.sbt != nil {
		r.sbt.Destroy(r.dev)
	}
	r.pipeline.Destroy(r.dev)
}
