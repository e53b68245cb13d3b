// Package postprocess turns the lit HDR frame into the displayed image:
// auto-exposure measures the scene, bloom blurs it through a mip chain and
// the composite tone-maps both into the output framebuffer.
package postprocess

import (
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/internal/logger"
	"deferred-renderer/shader"
)

const (
	// DefaultAdaptationRate is k in lerp = dt·k / (1 + dt·k).
	DefaultAdaptationRate float32 = 5

	initialLuminance float32 = 0.5
	minLuminance     float32 = 1e-4
)

// LerpFactor is the per-frame blend weight for a frame of length dt. It lies
// in [0, 1) for any dt ≥ 0 and depends on the frame rate only through dt.
func LerpFactor(dt time.Duration, k float32) float32 {
	a := float32(dt.Seconds()) * k
	if a <= 0 {
		return 0
	}
	return a / (1 + a)
}

// AutoExposure keeps an exponential moving average of the scene luminance.
type AutoExposure struct {
	// Rate is the adaptation rate k.
	Rate float32
	// Enabled switches measurement on. When off, Process reports a flat 1.
	Enabled bool

	dev   gpu.Device
	guard gpu.ThreadGuard

	program *shader.Program
	fbo     gpu.Framebuffer
	target  gpu.Texture

	avg float32
}

func NewAutoExposure(dev gpu.Device, size core.Size) (*AutoExposure, error) {
	if size.Empty() {
		return nil, fmt.Errorf("auto-exposure %v: %w", size, gpu.ErrZeroSize)
	}
	e := &AutoExposure{
		Rate:    DefaultAdaptationRate,
		Enabled: true,
		dev:     dev,
		guard:   gpu.NewThreadGuard(),
		avg:     initialLuminance,
	}
	if err := e.init(size); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *AutoExposure) init(size core.Size) error {
	var err error
	e.target, err = e.dev.CreateTexture(gpu.TextureDesc{
		Label:     "exposure.luminance",
		Size:      size,
		Format:    gpu.FormatR32F,
		Mipmapped: true,
		Filter:    gpu.FilterLinear,
	})
	if err != nil {
		return fmt.Errorf("auto-exposure target: %w", err)
	}
	e.fbo, err = e.dev.CreateFramebuffer("exposure")
	if err != nil {
		return fmt.Errorf("auto-exposure framebuffer: %w", err)
	}
	if err := e.fbo.AttachColor(0, e.target); err != nil {
		return fmt.Errorf("auto-exposure attach: %w", err)
	}
	if err := e.fbo.Complete(); err != nil {
		return fmt.Errorf("auto-exposure: %w", err)
	}
	e.program, err = shader.New(e.dev, luminanceSource())
	return err
}

// Average is the current running average.
func (e *AutoExposure) Average() float32 { return e.avg }

func (e *AutoExposure) Program() *shader.Program { return e.program }

// Process measures hdr and folds the sample into the running average, which
// it returns. The sample is the coarsest mip of the luminance target; a NaN
// sample counts as 1 and anything below a small epsilon is clamped to it.
func (e *AutoExposure) Process(hdr gpu.Texture, dt time.Duration) (float32, error) {
	if err := e.guard.Check(); err != nil {
		return 0, err
	}
	if !e.Enabled {
		return 1, nil
	}

	if err := e.program.Set("in_texture", gpu.Sampler{Unit: 0, Texture: hdr}); err != nil {
		return 0, err
	}
	e.dev.SetBlend(gpu.BlendOpaque)
	e.dev.SetDepthTest(gpu.DepthDisabled)
	e.dev.Viewport(e.target.Size())
	if err := e.dev.DrawFullscreen(e.fbo, e.program.GPU()); err != nil {
		return 0, fmt.Errorf("luminance estimate: %w", err)
	}
	if err := e.target.GenerateMipmaps(); err != nil {
		return 0, fmt.Errorf("luminance mipmaps: %w", err)
	}

	last := e.target.MipLevels() - 1
	data, err := e.target.Download(last)
	if err != nil {
		return 0, fmt.Errorf("luminance readback: %w", err)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("luminance readback: empty mip %d", last)
	}

	sample := data[0]
	if math32.IsNaN(sample) {
		sample = 1
	}
	sample = math32.Max(sample, minLuminance)

	lerp := LerpFactor(dt, e.Rate)
	e.avg += (sample - e.avg) * lerp
	logger.L().Debug("auto-exposure",
		zap.Int("mip", last),
		zap.Float32("sample", sample),
		zap.Float32("ev", math32.Log2(sample)),
		zap.Float32("lerp", lerp),
		zap.Float32("avg", e.avg))
	return e.avg, nil
}

// Resize reallocates the luminance target. The running average carries over.
func (e *AutoExposure) Resize(size core.Size) error {
	if err := e.guard.Check(); err != nil {
		return err
	}
	if size.Empty() {
		return fmt.Errorf("auto-exposure resize %v: %w", size, gpu.ErrZeroSize)
	}
	if err := e.target.Resize(size); err != nil {
		return fmt.Errorf("auto-exposure resize: %w", err)
	}
	return e.fbo.Complete()
}

func (e *AutoExposure) Close() {
	if e.program != nil {
		e.program.Close()
		e.program = nil
	}
	if e.fbo != nil {
		e.fbo.Release()
		e.fbo = nil
	}
	if e.target != nil {
		e.target.Release()
		e.target = nil
	}
}
