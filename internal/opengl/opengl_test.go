package opengl

import (
	"testing"

	gl "github.com/go-gl/gl/v4.1-core/gl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		n, align, want int
	}{
		{48, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{48, 16, 48},
		{50, 16, 64},
		{48, 1, 48},
		{48, 0, 48},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, alignUp(tt.n, tt.align), "alignUp(%d, %d)", tt.n, tt.align)
	}
}

func TestPackPadsRecords(t *testing.T) {
	out := pack([][]byte{{1, 2, 3}, {4, 5, 6}}, 4)

	assert.Equal(t, []byte{1, 2, 3, 0, 4, 5, 6, 0}, out)
}

func TestLevelSize(t *testing.T) {
	s := core.NewSize(640, 480)

	assert.Equal(t, s, levelSize(s, 0))
	assert.Equal(t, core.NewSize(320, 240), levelSize(s, 1))
	assert.Equal(t, core.NewSize(5, 3), levelSize(s, 7))
	assert.Equal(t, core.NewSize(1, 1), levelSize(s, gpu.MipLevels(s)-1))
}

func TestEveryFormatHasGLTriple(t *testing.T) {
	for _, f := range []gpu.Format{gpu.FormatRGB16F, gpu.FormatRGBA16F, gpu.FormatRG16F, gpu.FormatR32F, gpu.FormatDepth32F} {
		triple, ok := formats[f]
		require.True(t, ok, "format %d", f)
		assert.Equal(t, uint32(gl.FLOAT), triple.xtype)
	}
	for _, f := range []gpu.Format{gpu.FormatRGBA8, gpu.FormatSRGBA8} {
		triple, ok := formats[f]
		require.True(t, ok, "format %d", f)
		assert.Equal(t, uint32(gl.UNSIGNED_BYTE), triple.xtype)
		assert.Equal(t, uint32(gl.RGBA), triple.format)
	}
	assert.Equal(t, int32(gl.SRGB8_ALPHA8), formats[gpu.FormatSRGBA8].internal)
	assert.Equal(t, int32(gl.DEPTH_COMPONENT32F), formats[gpu.FormatDepth32F].internal)
	assert.Equal(t, uint32(gl.RED), formats[gpu.FormatR32F].format)
}

func TestBlendTables(t *testing.T) {
	for _, f := range []gpu.BlendFactor{gpu.BlendZero, gpu.BlendOne, gpu.BlendSrcAlpha, gpu.BlendOneMinusSrcAlpha} {
		_, ok := blendFactors[f]
		assert.True(t, ok, "factor %d", f)
	}
	assert.Equal(t, uint32(gl.ONE), blendFactors[gpu.BlendAdditive.Src])
	assert.Equal(t, uint32(gl.FUNC_ADD), blendEquations[gpu.BlendAdditive.Equation])
}
