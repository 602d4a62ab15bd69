package scene

import "github.com/go-gl/mathgl/mgl32"

// MaxLights is the number of point lights the shaders read.
const MaxLights = 16

type Light struct {
	Position  mgl32.Vec3
	Color     mgl32.Vec3
	Intensity float32
}
