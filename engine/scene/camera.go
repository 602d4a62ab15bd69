package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera is a free-look perspective camera. Yaw and pitch are in radians; a
// zero yaw looks down -Z.
type Camera struct {
	position mgl32.Vec3
	yaw      float32
	pitch    float32

	FovY float32
	Near float32
	Far  float32

	// dirty is set whenever the view changes and cleared by the scene when
	// it reports the change.
	dirty bool
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.position = mgl32.Vec3{0, 0, 5}
	c.yaw = 0
	c.pitch = 0
	c.FovY = mgl32.DegToRad(60)
	c.Near = 0.1
	c.Far = 1000
	c.dirty = true
}

func (c *Camera) Position() mgl32.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.position = position
	c.dirty = true
}

func (c *Camera) Rotation() (yaw, pitch float32) {
	return c.yaw, c.pitch
}

// SetRotation sets yaw and pitch; pitch is clamped just short of straight
// up or down.
func (c *Camera) SetRotation(yaw, pitch float32) {
	limit := float32(math.Pi/2 - 0.01)
	c.yaw = yaw
	c.pitch = mgl32.Clamp(pitch, -limit, limit)
	c.dirty = true
}

func (c *Camera) Forward() mgl32.Vec3 {
	sy, cy := math.Sincos(float64(c.yaw))
	sp, cp := math.Sincos(float64(c.pitch))
	return mgl32.Vec3{float32(cp * sy), float32(sp), float32(-cp * cy)}
}

func (c *Camera) Right() mgl32.Vec3 {
	return c.Forward().Cross(mgl32.Vec3{0, 1, 0}).Normalize()
}

func (c *Camera) MoveForward(amount float32) {
	c.SetPosition(c.position.Add(c.Forward().Mul(amount)))
}

func (c *Camera) MoveRight(amount float32) {
	c.SetPosition(c.position.Add(c.Right().Mul(amount)))
}

func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.position, c.position.Add(c.Forward()), mgl32.Vec3{0, 1, 0})
}

// Projection returns a perspective projection with Y flipped for Vulkan, for the
// given aspect ratio.
func (c *Camera) Projection(aspect float32) mgl32.Mat4 {
	p := mgl32.Perspective(c.FovY, aspect, c.Near, c.Far)
	p[5] *= -1
	return p
}

func (c *Camera) takeDirty() bool {
	d := c.dirty
	c.dirty = false
	return d
}
