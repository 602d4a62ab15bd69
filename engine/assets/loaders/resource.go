package loaders

// ResourceType classifies asset files by what loads them.
type ResourceType int

const (
	ResourceTypeNone ResourceType = iota
	ResourceTypeShader
	ResourceTypeImage
	ResourceTypeMesh
	ResourceTypeMaterial
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeImage:
		return "image"
	case ResourceTypeMesh:
		return "mesh"
	case ResourceTypeMaterial:
		return "material"
	default:
		return "none"
	}
}

// Resource is what every loader produces. Data holds the typed payload:
// []byte for shaders, *ImageData for images, *scene.MeshData for meshes and
// scene.Material for materials.
type Resource struct {
	Name     string
	FullPath string
	Type     ResourceType
	DataSize uint64
	Data     any
}
