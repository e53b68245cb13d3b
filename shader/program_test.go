package shader

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deferred-renderer/gpu"
	"deferred-renderer/gpu/gputest"
)

var errCompile = errors.New("0:3(1): syntax error")

func source(name, frag string) gpu.ProgramSource {
	return gpu.ProgramSource{Name: name, Vertex: ScreenVertex, Fragment: frag}
}

func TestNewFailsOnCompileError(t *testing.T) {
	dev := gputest.New()
	dev.CompileErr = func(gpu.ProgramSource) error { return errCompile }

	_, err := New(dev, source("broken", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errCompile)
}

func TestReloadSwapsOnSuccess(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	dev := gputest.New()
	p, err := New(dev, source("tonemap", "v1"))
	require.NoError(t, err)
	first := p.GPU().(*gputest.Program)

	require.NoError(t, p.Reload(source("tonemap", "v2")))

	assert.True(t, first.Released)
	assert.NotSame(t, first, p.GPU())
	assert.Equal(t, "v2", p.Source().Fragment)
	assert.Equal(t, 1, p.Reloads())
}

func TestReloadKeepsLastGoodProgram(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	dev := gputest.New()
	p, err := New(dev, source("tonemap", "v1"))
	require.NoError(t, err)
	good := p.GPU()

	dev.CompileErr = func(src gpu.ProgramSource) error {
		if src.Fragment == "broken" {
			return errCompile
		}
		return nil
	}
	err = p.Reload(source("tonemap", "broken"))
	require.ErrorIs(t, err, errCompile)

	assert.Same(t, good, p.GPU())
	assert.False(t, good.(*gputest.Program).Released)
	assert.Equal(t, "v1", p.Source().Fragment)
	assert.Zero(t, p.Reloads())

	// Uniforms still reach the surviving program.
	require.NoError(t, p.Set("exposure", float32(2)))
	assert.Equal(t, float32(2), good.(*gputest.Program).Uniforms["exposure"])
}

func TestReloadFromOtherThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	dev := gputest.New()
	p, err := New(dev, source("tonemap", "v1"))
	require.NoError(t, err)

	errc := make(chan error)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		errc <- p.Reload(source("tonemap", "v2"))
	}()
	assert.ErrorIs(t, <-errc, gpu.ErrWrongThread)
	assert.Equal(t, "v1", p.Source().Fragment)
}

func TestSetWrapsUnknownUniform(t *testing.T) {
	dev := gputest.New()
	p, err := New(dev, source("tonemap", "v1"))
	require.NoError(t, err)
	p.GPU().(*gputest.Program).UnknownUniforms = map[string]bool{"nope": true}

	err = p.Set("nope", float32(1))
	assert.ErrorIs(t, err, gpu.ErrUnknownUniform)
	assert.Contains(t, err.Error(), "tonemap")
}
