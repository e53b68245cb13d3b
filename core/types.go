package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

type Color struct {
	R, G, B, A float32
}

var (
	ColorWhite = Color{1, 1, 1, 1}
	ColorBlack = Color{0, 0, 0, 1}
	ColorRed   = Color{1, 0, 0, 1}
	ColorGreen = Color{0, 1, 0, 1}
	ColorBlue  = Color{0, 0, 1, 1}
)

// Vec3 returns the RGB channels as a vector (alpha dropped).
func (c Color) Vec3() mgl32.Vec3 {
	return mgl32.Vec3{c.R, c.G, c.B}
}

func (c Color) Vec4() mgl32.Vec4 {
	return mgl32.Vec4{c.R, c.G, c.B, c.A}
}

// Size is a pixel extent of a surface or texture.
type Size struct {
	Width, Height int
}

func NewSize(width, height int) Size {
	return Size{Width: width, Height: height}
}

// Empty reports whether the size has zero (or negative) area.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Half returns the next smaller mip size, never below 1×1.
func (s Size) Half() Size {
	return Size{Width: max(1, s.Width/2), Height: max(1, s.Height/2)}
}

func (s Size) Aspect() float32 {
	if s.Height == 0 {
		return 1
	}
	return float32(s.Width) / float32(s.Height)
}

func (s Size) Vec2() mgl32.Vec2 {
	return mgl32.Vec2{float32(s.Width), float32(s.Height)}
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Transform is a translation, rotation and scale applied in TRS order.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Translated returns an identity-rotation, unit-scale transform at pos.
func Translated(pos mgl32.Vec3) Transform {
	t := NewTransform()
	t.Position = pos
	return t
}

func (t Transform) Matrix() mgl32.Mat4 {
	translation := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotation := t.Rotation.Normalize().Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return translation.Mul4(rotation).Mul4(scale)
}

// Forward is the -Z axis rotated by the transform's rotation.
func (t Transform) Forward() mgl32.Vec3 {
	return t.Rotation.Rotate(mgl32.Vec3{0, 0, -1})
}

func (t Transform) Right() mgl32.Vec3 {
	return t.Rotation.Rotate(mgl32.Vec3{1, 0, 0})
}

func (t Transform) Up() mgl32.Vec3 {
	return t.Rotation.Rotate(mgl32.Vec3{0, 1, 0})
}
