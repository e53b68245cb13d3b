package postprocess

import (
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/gpu/gputest"
)

var testSize = core.NewSize(64, 32)

const frame = 16 * time.Millisecond

func lockThread(t *testing.T) {
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)
}

func hdrTexture(t *testing.T, dev *gputest.Device, size core.Size) gpu.Texture {
	t.Helper()
	tex, err := dev.CreateTexture(gpu.TextureDesc{Label: "hdr", Size: size, Format: gpu.FormatRGBA16F})
	require.NoError(t, err)
	return tex
}

func newExposure(t *testing.T, dev *gputest.Device) *AutoExposure {
	t.Helper()
	lockThread(t)
	e, err := NewAutoExposure(dev, testSize)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestLerpFactor(t *testing.T) {
	tests := []struct {
		name string
		dt   time.Duration
		k    float32
		want float32
	}{
		{"zero dt", 0, 5, 0},
		{"negative dt", -time.Second, 5, 0},
		{"one frame", frame, 5, 0.08 / 1.08},
		{"one second", time.Second, 5, 5.0 / 6.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, LerpFactor(tt.dt, tt.k), 1e-6)
		})
	}
	assert.Less(t, LerpFactor(time.Hour, 5), float32(1))
}

func TestAutoExposureStartsAtHalf(t *testing.T) {
	e := newExposure(t, gputest.New())
	assert.Equal(t, float32(0.5), e.Average())
	assert.Equal(t, DefaultAdaptationRate, e.Rate)
}

func TestAutoExposureConvergesUpWithoutOvershoot(t *testing.T) {
	dev := gputest.New()
	e := newExposure(t, dev)
	dev.Texture("exposure.luminance").Fill(2)
	hdr := hdrTexture(t, dev, testSize)

	prev := e.Average()
	for i := range 60 {
		avg, err := e.Process(hdr, frame)
		require.NoError(t, err)
		assert.Greater(t, avg, prev, "frame %d", i)
		assert.LessOrEqual(t, avg, float32(2), "frame %d", i)
		prev = avg
	}
	assert.InDelta(t, 2, prev, 0.05)
}

func TestAutoExposureConvergesDownWithoutOvershoot(t *testing.T) {
	dev := gputest.New()
	e := newExposure(t, dev)
	dev.Texture("exposure.luminance").Fill(0.1)
	hdr := hdrTexture(t, dev, testSize)

	prev := e.Average()
	for i := range 60 {
		avg, err := e.Process(hdr, frame)
		require.NoError(t, err)
		assert.Less(t, avg, prev, "frame %d", i)
		assert.GreaterOrEqual(t, avg, float32(0.1), "frame %d", i)
		prev = avg
	}
}

func TestAutoExposureReadsCoarsestMip(t *testing.T) {
	dev := gputest.New()
	e := newExposure(t, dev)
	lum := dev.Texture("exposure.luminance")
	require.True(t, lum.Desc().Mipmapped)
	assert.Equal(t, gpu.FormatR32F, lum.Format())

	var level int
	var levelSize core.Size
	lum.DownloadFunc = func(l int, size core.Size) []float32 {
		level, levelSize = l, size
		return []float32{1}
	}
	_, err := e.Process(hdrTexture(t, dev, testSize), frame)
	require.NoError(t, err)
	assert.Equal(t, gpu.MipLevels(testSize)-1, level)
	assert.Equal(t, core.NewSize(1, 1), levelSize)

	draws := dev.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, "postprocess.luminance", draws[0].Program)
	assert.Equal(t, "exposure", draws[0].Framebuffer)
	assert.Equal(t, gpu.BlendOpaque, draws[0].Blend)
	assert.Len(t, dev.Filter(gputest.OpMipmaps), 1)
}

func TestAutoExposureNaNSampleCountsAsOne(t *testing.T) {
	dev := gputest.New()
	e := newExposure(t, dev)
	dev.Texture("exposure.luminance").Fill(float32(math.NaN()))

	avg, err := e.Process(hdrTexture(t, dev, testSize), time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+0.5*LerpFactor(time.Second, DefaultAdaptationRate), avg, 1e-6)
}

func TestAutoExposureClampsDarkSample(t *testing.T) {
	dev := gputest.New()
	e := newExposure(t, dev)
	dev.Texture("exposure.luminance").Fill(-3)
	hdr := hdrTexture(t, dev, testSize)

	for range 20 {
		avg, err := e.Process(hdr, time.Hour)
		require.NoError(t, err)
		assert.Greater(t, avg, float32(0))
	}
}

func TestAutoExposureResizeKeepsAverage(t *testing.T) {
	dev := gputest.New()
	e := newExposure(t, dev)
	dev.Texture("exposure.luminance").Fill(4)
	hdr := hdrTexture(t, dev, testSize)

	avg, err := e.Process(hdr, frame)
	require.NoError(t, err)

	next := core.NewSize(128, 128)
	require.NoError(t, e.Resize(next))
	assert.Equal(t, avg, e.Average())
	assert.Equal(t, next, dev.Texture("exposure.luminance").Size())

	assert.ErrorIs(t, e.Resize(core.NewSize(0, 4)), gpu.ErrZeroSize)
}

func TestAutoExposureDisabled(t *testing.T) {
	dev := gputest.New()
	e := newExposure(t, dev)
	e.Enabled = false

	avg, err := e.Process(hdrTexture(t, dev, testSize), frame)
	require.NoError(t, err)
	assert.Equal(t, float32(1), avg)
	assert.Empty(t, dev.Draws())
	assert.Equal(t, float32(0.5), e.Average())
}

func TestMaxChainLength(t *testing.T) {
	tests := []struct {
		size core.Size
		want int
	}{
		{core.NewSize(64, 32), 4},
		{core.NewSize(1920, 1080), 9},
		{core.NewSize(1024, 1024), 9},
		{core.NewSize(3, 3), 0},
		{core.NewSize(2, 100), 0},
		{core.NewSize(0, 100), 0},
	}
	for _, tt := range tests {
		t.Run(tt.size.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, MaxChainLength(tt.size))
		})
	}
}

func TestMipSizes(t *testing.T) {
	assert.Equal(t, []core.Size{
		core.NewSize(64, 32),
		core.NewSize(32, 16),
		core.NewSize(16, 8),
		core.NewSize(8, 4),
	}, MipSizes(testSize, 4))

	assert.Equal(t, []core.Size{
		core.NewSize(5, 3),
		core.NewSize(2, 1),
		core.NewSize(1, 1),
	}, MipSizes(core.NewSize(5, 3), 3))
}

func TestNewBloomValidatesChainLength(t *testing.T) {
	lockThread(t)
	for _, n := range []int{-1, 0, MaxChainLength(testSize) + 1, 12} {
		_, err := NewBloom(gputest.New(), testSize, n)
		assert.ErrorIs(t, err, ErrMipChainLength, "n=%d", n)
	}
	_, err := NewBloom(gputest.New(), core.NewSize(3, 3), 1)
	assert.ErrorIs(t, err, ErrMipChainLength)

	_, err = NewBloom(gputest.New(), core.NewSize(0, 0), 1)
	assert.ErrorIs(t, err, gpu.ErrZeroSize)

	dev := gputest.New()
	b, err := NewBloom(dev, testSize, MaxChainLength(testSize))
	require.NoError(t, err)
	defer b.Close()
	for i, want := range MipSizes(testSize, b.Len()) {
		assert.Equal(t, want, b.Mip(i).Size(), "mip %d", i)
	}
}

func newBloom(t *testing.T, dev *gputest.Device, n int) *Bloom {
	t.Helper()
	lockThread(t)
	b, err := NewBloom(dev, testSize, n)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestBloomClearsFirstMipAtConstruction(t *testing.T) {
	dev := gputest.New()
	newBloom(t, dev, 3)

	clears := dev.Filter(gputest.OpClear)
	require.Len(t, clears, 1)
	assert.Equal(t, "bloom.mip0", clears[0].Framebuffer)
	assert.Equal(t, core.ColorBlack, clears[0].Color)
}

func TestBloomProcess(t *testing.T) {
	dev := gputest.New()
	b := newBloom(t, dev, 3)
	hdr := hdrTexture(t, dev, testSize)
	dev.Reset()

	out, err := b.Process(hdr, 0.01, false)
	require.NoError(t, err)
	assert.Same(t, b.Output(), out)

	down := dev.DrawsBy("postprocess.downsample")
	require.Len(t, down, 3)
	prevSize := testSize
	for i, d := range down {
		assert.Equal(t, "bloom.mip"+string(rune('0'+i)), d.Framebuffer)
		assert.Equal(t, gpu.BlendOpaque, d.Blend)
		assert.Equal(t, b.Mip(i).Size(), d.Viewport)
		assert.Equal(t, prevSize.Vec2(), d.Uniforms["screen_size"])
		prevSize = b.Mip(i).Size()
	}
	assert.Equal(t, gpu.Sampler{Unit: 0, Texture: hdr}, down[0].Uniforms["in_texture"])

	up := dev.DrawsBy("postprocess.upsample")
	require.Len(t, up, 2)
	assert.Equal(t, "bloom.mip1", up[0].Framebuffer)
	assert.Equal(t, "bloom.mip0", up[1].Framebuffer)
	assert.Equal(t, gpu.Sampler{Unit: 0, Texture: b.Mip(2)}, up[0].Uniforms["in_texture"])
	assert.Equal(t, gpu.Sampler{Unit: 0, Texture: b.Mip(1)}, up[1].Uniforms["in_texture"])
	for _, u := range up {
		assert.Equal(t, gpu.BlendAdditive, u.Blend)
		assert.Equal(t, float32(0.01), u.Uniforms["filter_radius"])
	}
	assert.Equal(t, b.Mip(0).Size(), up[1].Viewport)

	all := dev.Draws()
	assert.Equal(t, "postprocess.downsample", all[2].Program, "every downsample precedes the upsample")
	assert.Equal(t, gpu.BlendOpaque, dev.Blend(), "blend restored")
}

func TestBloomSingleLevelSkipsUpsample(t *testing.T) {
	dev := gputest.New()
	b := newBloom(t, dev, 1)
	dev.Reset()

	_, err := b.Process(hdrTexture(t, dev, testSize), 0.01, false)
	require.NoError(t, err)
	assert.Len(t, dev.DrawsBy("postprocess.downsample"), 1)
	assert.Empty(t, dev.DrawsBy("postprocess.upsample"))
}

func TestBloomBypass(t *testing.T) {
	dev := gputest.New()
	b := newBloom(t, dev, 3)
	dev.Reset()

	out, err := b.Process(hdrTexture(t, dev, testSize), 0.01, true)
	require.NoError(t, err)
	assert.Same(t, b.Mip(0), out)
	assert.Empty(t, dev.Draws())
}

func TestBloomResize(t *testing.T) {
	dev := gputest.New()
	b := newBloom(t, dev, 4)

	next := core.NewSize(200, 100)
	require.NoError(t, b.Resize(next))
	for i, want := range MipSizes(next, 4) {
		assert.Equal(t, want, b.Mip(i).Size(), "mip %d", i)
	}

	// Shrinking below what the chain needs keeps every level at least 1×1.
	require.NoError(t, b.Resize(core.NewSize(4, 4)))
	assert.Equal(t, core.NewSize(1, 1), b.Mip(3).Size())

	assert.ErrorIs(t, b.Resize(core.Size{}), gpu.ErrZeroSize)
}

func TestBloomBypassAfterResizeReadsClearedMip(t *testing.T) {
	dev := gputest.New()
	b := newBloom(t, dev, 3)
	dev.Reset()

	next := core.NewSize(128, 64)
	require.NoError(t, b.Resize(next))
	out, err := b.Process(nil, 0.01, true)
	require.NoError(t, err)
	assert.Same(t, b.Mip(0), out)
	assert.Empty(t, dev.Draws())

	clears := dev.Filter(gputest.OpClear)
	require.Len(t, clears, 1)
	assert.Equal(t, "bloom.mip0", clears[0].Framebuffer)
	assert.Equal(t, core.ColorBlack, clears[0].Color)
	viewports := dev.Filter(gputest.OpViewport)
	require.NotEmpty(t, viewports)
	assert.Equal(t, next, viewports[len(viewports)-1].Viewport)
}

func TestCompositeDraw(t *testing.T) {
	lockThread(t)
	dev := gputest.New()
	c, err := NewComposite(dev)
	require.NoError(t, err)
	defer c.Close()

	hdr := hdrTexture(t, dev, testSize)
	bloom, err := dev.CreateTexture(gpu.TextureDesc{Label: "bloom", Size: testSize, Format: gpu.FormatRGB16F})
	require.NoError(t, err)
	dev.Viewport(core.NewSize(800, 600))
	dev.SetBlend(gpu.BlendAdditive)

	flare := LensFlare{Strength: 0.2, Distortion: 3, Threshold: 1.5, GhostSpacing: 0.4, GhostCount: 6}
	err = c.Draw(dev.Backbuffer(), hdr, bloom, CompositeParams{
		AverageLuminance: 0.8,
		ExposureBias:     2,
		BloomStrength:    0.05,
		LensFlare:        flare,
		DeltaTime:        frame,
	})
	require.NoError(t, err)

	draws := dev.Draws()
	require.Len(t, draws, 1)
	d := draws[0]
	assert.Equal(t, "backbuffer", d.Framebuffer)
	assert.Equal(t, testSize, d.Viewport, "viewport follows the HDR texture")
	assert.Equal(t, gpu.BlendOpaque, d.Blend)
	assert.Equal(t, gpu.Sampler{Unit: 0, Texture: hdr}, d.Uniforms["frame"])
	assert.Equal(t, gpu.Sampler{Unit: 1, Texture: bloom}, d.Uniforms["bloom_texture"])
	assert.Equal(t, float32(0.4), d.Uniforms["luminance_average"])
	assert.Equal(t, float32(0.05), d.Uniforms["bloom_strength"])
	assert.Equal(t, float32(0.2), d.Uniforms["lens_flare_strength"])
	assert.Equal(t, float32(3), d.Uniforms["lens_flare_distortion"])
	assert.Equal(t, float32(1.5), d.Uniforms["lens_flare_threshold"])
	assert.Equal(t, float32(0.4), d.Uniforms["lens_flare_ghost_spacing"])
	assert.Equal(t, int32(6), d.Uniforms["lens_flare_ghost_count"])
	assert.InDelta(t, 0.016, d.Uniforms["delta_time"], 1e-6)
}

func TestCompositeRejectsNonPositiveBias(t *testing.T) {
	lockThread(t)
	dev := gputest.New()
	c, err := NewComposite(dev)
	require.NoError(t, err)
	defer c.Close()

	hdr := hdrTexture(t, dev, testSize)
	err = c.Draw(dev.Backbuffer(), hdr, hdr, CompositeParams{AverageLuminance: 1})
	assert.ErrorIs(t, err, gpu.ErrUnsupportedValue)
	assert.Empty(t, dev.Draws())
}

func newChain(t *testing.T, dev *gputest.Device) *Chain {
	t.Helper()
	lockThread(t)
	c, err := NewChain(dev, testSize, 3, DefaultAdaptationRate)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestChainOrder(t *testing.T) {
	dev := gputest.New()
	c := newChain(t, dev)
	dev.Texture("exposure.luminance").Fill(1)
	hdr := hdrTexture(t, dev, testSize)
	dev.Reset()

	avg, err := c.Process(dev.Backbuffer(), hdr, frame, Settings{
		AutoExposure:  true,
		ExposureBias:  1,
		BloomRadius:   0.01,
		BloomStrength: 0.05,
	})
	require.NoError(t, err)
	assert.Equal(t, c.Exposure.Average(), avg)

	var programs []string
	for _, d := range dev.Draws() {
		programs = append(programs, d.Program)
	}
	assert.Equal(t, []string{
		"postprocess.luminance",
		"postprocess.downsample",
		"postprocess.downsample",
		"postprocess.downsample",
		"postprocess.upsample",
		"postprocess.upsample",
		"postprocess.composite",
	}, programs)

	composite := dev.DrawsBy("postprocess.composite")[0]
	assert.Equal(t, gpu.Sampler{Unit: 1, Texture: c.Bloom.Output()}, composite.Uniforms["bloom_texture"])
	assert.Equal(t, avg, composite.Uniforms["luminance_average"])
}

func TestChainWithoutAutoExposure(t *testing.T) {
	dev := gputest.New()
	c := newChain(t, dev)
	hdr := hdrTexture(t, dev, testSize)
	dev.Reset()

	avg, err := c.Process(dev.Backbuffer(), hdr, frame, Settings{ExposureBias: 4, BloomBypass: true})
	require.NoError(t, err)
	assert.Equal(t, float32(1), avg)

	draws := dev.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, "postprocess.composite", draws[0].Program)
	assert.Equal(t, float32(0.25), draws[0].Uniforms["luminance_average"])
}

func TestChainResize(t *testing.T) {
	dev := gputest.New()
	c := newChain(t, dev)

	next := core.NewSize(320, 240)
	require.NoError(t, c.Resize(next))
	assert.Equal(t, next, dev.Texture("exposure.luminance").Size())
	assert.Equal(t, next, c.Bloom.Output().Size())
	assert.Len(t, c.Programs(), 4)
}
