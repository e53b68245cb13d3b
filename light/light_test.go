package light

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deferred-renderer/core"
	"deferred-renderer/gpu/gputest"
)

func TestWithTransform(t *testing.T) {
	tr := core.Translated(mgl32.Vec3{1, 2, 3})
	tr.Rotation = mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0})

	tests := []struct {
		name  string
		light Light
		want  Record
	}{
		{
			name:  "point",
			light: Point(mgl32.Vec3{1, 1, 1}, 2),
			want: Record{
				Kind:   KindPoint,
				PosDir: mgl32.Vec3{1, 2, 3},
				Color:  mgl32.Vec3{2, 2, 2}.Mul(float32(math.Sqrt(3))),
			},
		},
		{
			name:  "directional",
			light: Directional(mgl32.Vec3{1, 0.5, 0}, 1),
			want:  Record{Kind: KindDirectional, PosDir: mgl32.Vec3{-1, 0, 0}, Color: mgl32.Vec3{1, 0.5, 0}},
		},
		{
			name:  "ambient",
			light: Ambient(mgl32.Vec3{0.1, 0.1, 0.1}, 1),
			want:  Record{Kind: KindAmbient, Color: mgl32.Vec3{0.1, 0.1, 0.1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.light.WithTransform(tr)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.True(t, tt.want.PosDir.ApproxEqualThreshold(got.PosDir, 1e-5), "pos_dir %v", got.PosDir)
			assert.True(t, tt.want.Color.ApproxEqualThreshold(got.Color, 1e-5), "color %v", got.Color)
		})
	}
}

func TestRecordLayout(t *testing.T) {
	require.Equal(t, 48, RecordSize)

	r := Record{Kind: KindDirectional, PosDir: mgl32.Vec3{1, 2, 3}, Color: mgl32.Vec3{4, 5, 6}}
	b := r.Encode()
	require.Len(t, b, RecordSize)

	f32 := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[off:])) }
	assert.Equal(t, uint32(KindDirectional), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, []float32{1, 2, 3}, []float32{f32(16), f32(20), f32(24)})
	assert.Equal(t, []float32{4, 5, 6}, []float32{f32(32), f32(36), f32(40)})

	back, err := DecodeRecord(b)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	_, err = DecodeRecord(b[:10])
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "point", KindPoint.String())
	assert.Equal(t, "ambient", KindAmbient.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

func TestHash(t *testing.T) {
	a := []Entry{{Transform: core.NewTransform(), Light: Point(mgl32.Vec3{1, 1, 1}, 1)}}
	b := []Entry{{Transform: core.NewTransform(), Light: Point(mgl32.Vec3{1, 1, 1}, 1)}}
	assert.Equal(t, Hash(a), Hash(b))

	b[0].Transform.Position = mgl32.Vec3{0, 0.001, 0}
	assert.NotEqual(t, Hash(a), Hash(b))

	c := []Entry{{Transform: core.NewTransform(), Light: Point(mgl32.Vec3{1, 1, 1}, 2)}}
	assert.NotEqual(t, Hash(a), Hash(c))

	assert.NotEqual(t, Hash(nil), Hash(a))
	assert.Equal(t, Hash(nil), Hash([]Entry{}))
}

func TestBufferRebuildsOnlyOnChange(t *testing.T) {
	dev := gputest.New()
	buf := NewBuffer(dev)

	rebuilt, err := buf.Update(nil)
	require.NoError(t, err)
	assert.False(t, rebuilt, "empty set matches initial hash")
	assert.Zero(t, buf.Len())
	assert.Nil(t, buf.GPU())

	lights := []Entry{
		{Transform: core.Translated(mgl32.Vec3{0, 3, 0}), Light: Point(mgl32.Vec3{1, 1, 1}, 5)},
		{Transform: core.NewTransform(), Light: Ambient(mgl32.Vec3{1, 1, 1}, 0.1)},
	}
	for frame := range 2 {
		rebuilt, err = buf.Update(lights)
		require.NoError(t, err)
		assert.Equal(t, frame == 0, rebuilt, "frame %d", frame)
	}
	assert.Equal(t, 1, buf.Rebuilds())
	assert.Equal(t, 2, buf.Len())
	require.Len(t, dev.UniformBuffers(), 1)
	assert.Equal(t, 2, buf.GPU().Len())
	assert.Equal(t, KindAmbient, buf.Records()[1].Kind)

	first := dev.UniformBuffers()[0]
	lights[0].Transform.Position = mgl32.Vec3{0, 4, 0}
	rebuilt, err = buf.Update(lights)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.True(t, first.Released)
	assert.Equal(t, 2, buf.Rebuilds())

	rebuilt, err = buf.Update(nil)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Zero(t, buf.Len())
	assert.Nil(t, buf.GPU())

	buf.Close()
}

func TestBufferUploadsEncodedRecords(t *testing.T) {
	dev := gputest.New()
	buf := NewBuffer(dev)
	e := Entry{Transform: core.Translated(mgl32.Vec3{1, 2, 3}), Light: Point(mgl32.Vec3{1, 0, 0}, 1)}

	_, err := buf.Update([]Entry{e})
	require.NoError(t, err)

	ub := dev.UniformBuffers()[0]
	assert.Equal(t, "lights", ub.Label)
	assert.Equal(t, e.Light.WithTransform(e.Transform).Encode(), ub.Elements[0])
}
