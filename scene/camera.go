package scene

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"deferred-renderer/core"
)

// Camera is a perspective view. It is a plain value: the renderer copies it
// at the start of a frame and every pass reads that copy.
type Camera struct {
	Position    mgl32.Vec3
	Rotation    mgl32.Quat
	FOV         float32 // vertical, radians
	AspectRatio float32
	NearPlane   float32
	FarPlane    float32
}

func NewCamera(fov, aspectRatio, nearPlane, farPlane float32) Camera {
	return Camera{
		Rotation:    mgl32.QuatIdent(),
		FOV:         fov,
		AspectRatio: aspectRatio,
		NearPlane:   nearPlane,
		FarPlane:    farPlane,
	}
}

// DefaultCamera matches the usual 45° lens at the origin looking down -Z.
func DefaultCamera(size core.Size) Camera {
	return NewCamera(mgl32.DegToRad(45), size.Aspect(), 0.01, 1000)
}

func (c *Camera) UpdateAspectRatio(size core.Size) {
	if size.Height > 0 {
		c.AspectRatio = size.Aspect()
	}
}

func (c *Camera) Translate(delta mgl32.Vec3) {
	c.Position = c.Position.Add(delta)
}

func (c *Camera) Rotate(axis mgl32.Vec3, angle float32) {
	c.Rotation = c.Rotation.Mul(mgl32.QuatRotate(angle, axis)).Normalize()
}

// LookAt orients the camera towards target.
func (c *Camera) LookAt(target, up mgl32.Vec3) {
	view := mgl32.LookAtV(c.Position, target, up)
	c.Rotation = mgl32.Mat4ToQuat(view).Inverse().Normalize()
}

func (c Camera) ViewMatrix() mgl32.Mat4 {
	rotation := c.Rotation.Normalize().Inverse().Mat4()
	translation := mgl32.Translate3D(-c.Position.X(), -c.Position.Y(), -c.Position.Z())
	return rotation.Mul4(translation)
}

func (c Camera) ProjectionMatrix() mgl32.Mat4 {
	return mgl32.Perspective(c.FOV, c.AspectRatio, c.NearPlane, c.FarPlane)
}

func (c Camera) ViewProjectionMatrix() mgl32.Mat4 {
	return c.ProjectionMatrix().Mul4(c.ViewMatrix())
}

func (c Camera) Forward() mgl32.Vec3 { return c.Rotation.Rotate(mgl32.Vec3{0, 0, -1}) }
func (c Camera) Right() mgl32.Vec3   { return c.Rotation.Rotate(mgl32.Vec3{1, 0, 0}) }
func (c Camera) Up() mgl32.Vec3      { return c.Rotation.Rotate(mgl32.Vec3{0, 1, 0}) }

// OrbitCamera circles a target at a fixed distance.
type OrbitCamera struct {
	Camera
	Target   mgl32.Vec3
	Distance float32
	Yaw      float32
	Pitch    float32
}

func NewOrbitCamera(target mgl32.Vec3, distance float32, size core.Size) *OrbitCamera {
	c := &OrbitCamera{
		Camera:   DefaultCamera(size),
		Target:   target,
		Distance: distance,
		Pitch:    0.3,
	}
	c.UpdatePosition()
	return c
}

func (c *OrbitCamera) UpdatePosition() {
	c.Pitch = mgl32.Clamp(c.Pitch, -1.5, 1.5)

	cosPitch, sinPitch := math32.Cos(c.Pitch), math32.Sin(c.Pitch)
	cosYaw, sinYaw := math32.Cos(c.Yaw), math32.Sin(c.Yaw)

	offset := mgl32.Vec3{
		c.Distance * cosPitch * sinYaw,
		c.Distance * sinPitch,
		c.Distance * cosPitch * cosYaw,
	}
	c.Position = c.Target.Add(offset)
	c.LookAt(c.Target, mgl32.Vec3{0, 1, 0})
}

func (c *OrbitCamera) Orbit(deltaYaw, deltaPitch float32) {
	c.Yaw += deltaYaw
	c.Pitch += deltaPitch
	c.UpdatePosition()
}

func (c *OrbitCamera) Zoom(delta float32) {
	c.Distance = max(c.Distance+delta, 0.1)
	c.UpdatePosition()
}
