package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestSizeHalf(t *testing.T) {
	tests := []struct {
		in, want Size
	}{
		{Size{1024, 768}, Size{512, 384}},
		{Size{3, 5}, Size{1, 2}},
		{Size{1, 1}, Size{1, 1}},
		{Size{2, 1}, Size{1, 1}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Half(), "Half(%v)", tt.in)
	}
}

func TestSizeEmpty(t *testing.T) {
	assert.True(t, Size{0, 10}.Empty())
	assert.True(t, Size{10, 0}.Empty())
	assert.True(t, Size{-1, 10}.Empty())
	assert.False(t, Size{1, 1}.Empty())
}

func TestTransformMatrixTranslation(t *testing.T) {
	tr := Translated(mgl32.Vec3{1, 2, 3})
	p := tr.Matrix().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 1, p.X(), 1e-6)
	assert.InDelta(t, 2, p.Y(), 1e-6)
	assert.InDelta(t, 3, p.Z(), 1e-6)
}

func TestTransformForward(t *testing.T) {
	tr := NewTransform()
	assert.True(t, tr.Forward().ApproxEqual(mgl32.Vec3{0, 0, -1}))

	tr.Rotation = mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0})
	assert.True(t, tr.Forward().ApproxEqualThreshold(mgl32.Vec3{-1, 0, 0}, 1e-5))
}
