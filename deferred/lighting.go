package deferred

import (
	"fmt"

	"go.uber.org/zap"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/internal/logger"
	"deferred-renderer/light"
	"deferred-renderer/scene"
	"deferred-renderer/shader"
)

// G-buffer sampler units bound by the lighting program.
const (
	unitPosition = iota
	unitAlbedo
	unitNormal
	unitRoughMetal
)

// Lighting accumulates light contributions from the G-buffer into one HDR
// color texture.
type Lighting struct {
	dev   gpu.Device
	guard gpu.ThreadGuard
	gbuf  *GBuffer

	program *shader.Program
	fbo     gpu.Framebuffer
	color   gpu.Texture
}

func NewLighting(dev gpu.Device, gbuf *GBuffer) (*Lighting, error) {
	l := &Lighting{dev: dev, guard: gpu.NewThreadGuard(), gbuf: gbuf}
	if err := l.init(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Lighting) init() error {
	var err error
	l.color, err = l.dev.CreateTexture(gpu.TextureDesc{
		Label:  "lighting.color",
		Size:   l.gbuf.Size(),
		Format: gpu.FormatRGBA16F,
	})
	if err != nil {
		return fmt.Errorf("lighting output: %w", err)
	}
	l.fbo, err = l.dev.CreateFramebuffer("lighting")
	if err != nil {
		return fmt.Errorf("lighting framebuffer: %w", err)
	}
	if err := l.fbo.AttachColor(0, l.color); err != nil {
		return fmt.Errorf("lighting attach color: %w", err)
	}
	if err := l.fbo.AttachDepth(l.gbuf.Depth()); err != nil {
		return fmt.Errorf("lighting attach depth: %w", err)
	}
	if err := l.fbo.Complete(); err != nil {
		return fmt.Errorf("lighting: %w", err)
	}
	l.program, err = shader.New(l.dev, lightingSource())
	return err
}

// Program exposes the lighting program so it can be hot-reloaded.
func (l *Lighting) Program() *shader.Program { return l.program }

// Output is the HDR color texture the pass writes.
func (l *Lighting) Output() gpu.Texture { return l.color }

// Process clears the output to clear, lets env paint the background and its
// illumination, then adds one full-screen draw per light with that light
// bound as the Light uniform block. With no lights the cleared (and
// environment-lit) texture is returned as is.
func (l *Lighting) Process(camera scene.Camera, lights *light.Buffer, env Environment, clear core.Color) (gpu.Texture, error) {
	if err := l.guard.Check(); err != nil {
		return nil, err
	}
	size := l.gbuf.Size()
	l.dev.Viewport(size)
	l.dev.SetBlend(gpu.BlendOpaque)
	l.dev.SetDepthTest(gpu.DepthDisabled)
	if err := l.fbo.Clear(gpu.ClearColor, clear); err != nil {
		return nil, fmt.Errorf("lighting clear: %w", err)
	}

	if env != nil {
		view := View{Camera: camera, Size: size}
		l.dev.SetDepthTest(gpu.DepthLessEqual)
		if err := env.RenderBackground(l.fbo, view); err != nil {
			return nil, fmt.Errorf("environment background: %w", err)
		}
		l.dev.SetDepthTest(gpu.DepthDisabled)
		l.dev.SetBlend(gpu.BlendAdditive)
		if err := env.Illuminate(l.fbo, view, l.gbuf.Surfaces()); err != nil {
			return nil, fmt.Errorf("environment illumination: %w", err)
		}
	}

	if lights == nil || lights.Len() == 0 {
		return l.color, nil
	}

	s := l.gbuf.Surfaces()
	samplers := []struct {
		name string
		unit int
		tex  gpu.Texture
	}{
		{"frame_position", unitPosition, s.Position},
		{"frame_albedo", unitAlbedo, s.Albedo},
		{"frame_normal", unitNormal, s.Normal},
		{"frame_rough_metal", unitRoughMetal, s.RoughMetal},
	}
	for _, sm := range samplers {
		if err := l.program.Set(sm.name, gpu.Sampler{Unit: sm.unit, Texture: sm.tex}); err != nil {
			return nil, err
		}
	}
	if err := l.program.Set("camera_pos", camera.Position); err != nil {
		return nil, err
	}

	l.dev.SetDepthTest(gpu.DepthDisabled)
	l.dev.SetBlend(gpu.BlendAdditive)
	for i := range lights.Len() {
		if err := l.program.BindBlock("Light", lights.GPU(), i); err != nil {
			return nil, fmt.Errorf("light %d: %w", i, err)
		}
		if err := l.dev.DrawFullscreen(l.fbo, l.program.GPU()); err != nil {
			return nil, fmt.Errorf("light %d: %w", i, err)
		}
	}
	logger.L().Debug("lighting accumulated", zap.Int("lights", lights.Len()))
	return l.color, nil
}

// Resize follows the G-buffer size. The depth attachment is the G-buffer's
// own, so only the color target is reallocated here.
func (l *Lighting) Resize(size core.Size) error {
	if err := l.guard.Check(); err != nil {
		return err
	}
	if size.Empty() {
		return fmt.Errorf("lighting resize %v: %w", size, gpu.ErrZeroSize)
	}
	if err := l.color.Resize(size); err != nil {
		return fmt.Errorf("lighting resize: %w", err)
	}
	return l.fbo.Complete()
}

func (l *Lighting) Close() {
	if l.program != nil {
		l.program.Close()
		l.program = nil
	}
	if l.fbo != nil {
		l.fbo.Release()
		l.fbo = nil
	}
	if l.color != nil {
		l.color.Release()
		l.color = nil
	}
}
