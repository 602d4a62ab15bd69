package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type ObjectKind uint8

const (
	KindObject ObjectKind = iota
	KindPBRObject
	KindSkybox
	KindPrimitive
	KindLight
)

func (k ObjectKind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindPBRObject:
		return "pbr-object"
	case KindSkybox:
		return "skybox"
	case KindPrimitive:
		return "primitive"
	case KindLight:
		return "light"
	default:
		return "unknown"
	}
}

// Texture presence bits of Material.TextureMask.
const (
	TextureAlbedo uint32 = 1 << iota
	TextureNormal
	TextureRoughness
	TextureMetallic
	TextureEmissive
)

type Material struct {
	Albedo      mgl32.Vec4
	Emission    mgl32.Vec3
	Roughness   float32
	Metallic    float32
	TextureMask uint32
}

// DefaultMaterial is a rough white diffuse surface.
func DefaultMaterial() Material {
	return Material{Albedo: mgl32.Vec4{0.8, 0.8, 0.8, 1}, Roughness: 1}
}

// Animation spins an object around Axis at Speed radians per second.
type Animation struct {
	Axis  mgl32.Vec3
	Speed float32
}

// RenderableObject is one object of the scene. Its GPU resources live in the
// renderer, indexed like the scene's object list.
type RenderableObject struct {
	ID        uuid.UUID
	Name      string
	Kind      ObjectKind
	Mesh      *MeshData
	Material  Material
	Transform mgl32.Mat4
	Animation *Animation
	Emissive  bool
	Deleted   bool
}

// MeshLoader resolves mesh paths to mesh data.
type MeshLoader interface {
	LoadMesh(path string) (*MeshData, error)
}

// MaterialLoader resolves material paths to material parameters.
type MaterialLoader interface {
	LoadMaterial(path string) (Material, error)
}

// ObjectParams describes an object for the kind factory. Which fields are read
// depends on the kind.
type ObjectParams struct {
	Name         string
	MeshPath     string
	Mesh         *MeshData
	MaterialPath string
	Material     *Material
	Transform    *mgl32.Mat4
	Animation    *Animation
	Shape        PrimitiveShape
	HalfExtent   float32
	Light        Light
	// EnvironmentPath is the image used by a skybox.
	EnvironmentPath string
}

// Loaders bundles the asset collaborators used by the kind factory.
type Loaders struct {
	Meshes    MeshLoader
	Materials MaterialLoader
	// Background is optional; without it AddAsync loads synchronously.
	Background Background
}

// Background runs load off the frame loop and calls done back on it.
type Background interface {
	Go(name string, load func() (any, error), done func(any, error)) error
}

// Build constructs a renderable object of kind. Skybox and light kinds do not
// produce renderables; use Scene.Spawn for those.
func Build(kind ObjectKind, p ObjectParams, loaders Loaders) (*RenderableObject, error) {
	obj := &RenderableObject{
		ID:        uuid.New(),
		Name:      p.Name,
		Kind:      kind,
		Material:  DefaultMaterial(),
		Transform: mgl32.Ident4(),
		Animation: p.Animation,
	}
	if p.Transform != nil {
		obj.Transform = *p.Transform
	}

	var err error
	switch kind {
	case KindObject, KindPBRObject:
		obj.Mesh, err = resolveMesh(p, loaders.Meshes)
	case KindPrimitive:
		extent := p.HalfExtent
		if extent == 0 {
			extent = 0.5
		}
		obj.Mesh, err = Primitive(p.Shape, extent)
	default:
		return nil, fmt.Errorf("kind %s is not renderable", kind)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case p.Material != nil:
		obj.Material = *p.Material
	case p.MaterialPath != "" && loaders.Materials != nil:
		if obj.Material, err = loaders.Materials.LoadMaterial(p.MaterialPath); err != nil {
			return nil, err
		}
	case kind == KindPBRObject:
		obj.Material.Roughness = 0.5
		obj.Material.Metallic = 0
	}
	if obj.Material.Emission.Len() > 0 {
		obj.Emissive = true
	}
	if obj.Name == "" {
		obj.Name = fmt.Sprintf("%s-%s", kind, obj.ID.String()[:8])
	}
	return obj, nil
}

func resolveMesh(p ObjectParams, loader MeshLoader) (*MeshData, error) {
	if p.Mesh != nil {
		return p.Mesh, nil
	}
	if p.MeshPath == "" {
		return nil, fmt.Errorf("object needs a mesh or a mesh path")
	}
	if loader == nil {
		return nil, fmt.Errorf("no mesh loader for %q", p.MeshPath)
	}
	return loader.LoadMesh(p.MeshPath)
}
