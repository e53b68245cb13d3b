package gpu

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deferred-renderer/core"
)

func TestMipLevels(t *testing.T) {
	tests := []struct {
		size core.Size
		want int
	}{
		{core.Size{Width: 1, Height: 1}, 1},
		{core.Size{Width: 2, Height: 2}, 2},
		{core.Size{Width: 1024, Height: 768}, 11},
		{core.Size{Width: 640, Height: 480}, 10},
		{core.Size{Width: 1, Height: 300}, 9},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MipLevels(tt.size), "MipLevels(%v)", tt.size)
	}
}

func TestFormatChannels(t *testing.T) {
	assert.Equal(t, 3, FormatRGB16F.Channels())
	assert.Equal(t, 4, FormatRGBA16F.Channels())
	assert.Equal(t, 2, FormatRG16F.Channels())
	assert.Equal(t, 1, FormatR32F.Channels())
	assert.Equal(t, 4, FormatSRGBA8.Channels())
}

func TestFormatTexelBytes(t *testing.T) {
	assert.Equal(t, 4, FormatRGBA8.TexelBytes())
	assert.Equal(t, 4, FormatSRGBA8.TexelBytes())
	assert.Equal(t, 12, FormatRGB16F.TexelBytes())
	assert.Equal(t, 4, FormatR32F.TexelBytes())
}

func TestThreadGuardSameThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	g := NewThreadGuard()
	assert.True(t, g.IsCurrent())
	assert.NoError(t, g.Check())
	assert.NotPanics(t, g.Must)
}

func TestThreadGuardRejectsOtherThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	g := NewThreadGuard()

	type result struct {
		current bool
		err     error
		panic   any
	}
	done := make(chan result)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		r := result{current: g.IsCurrent(), err: g.Check()}
		func() {
			defer func() { r.panic = recover() }()
			g.Must()
		}()
		done <- r
	}()

	r := <-done
	require.Error(t, r.err)
	assert.False(t, r.current)
	assert.ErrorIs(t, r.err, ErrWrongThread)
	assert.NotNil(t, r.panic)
}
