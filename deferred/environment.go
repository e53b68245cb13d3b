package deferred

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/scene"
	"deferred-renderer/shader"
)

// View is the camera and surface size an environment renders for.
type View struct {
	Camera scene.Camera
	Size   core.Size
}

// InverseViewProjection maps clip space back to world space.
func (v View) InverseViewProjection() mgl32.Mat4 {
	return v.Camera.ViewProjectionMatrix().Inv()
}

// Surfaces are the G-buffer targets handed to screen-space consumers.
type Surfaces struct {
	Position   gpu.Texture
	Albedo     gpu.Texture
	Normal     gpu.Texture // alpha = coverage
	RoughMetal gpu.Texture
}

// Environment contributes light that does not come from the light list: a
// background behind the scene and image-based illumination of the scene.
//
// The lighting pass calls RenderBackground with depth testing against the
// scene depth (LessEqual, so only uncovered pixels pass) and Illuminate with
// additive blending, both into its HDR output.
type Environment interface {
	RenderBackground(surface gpu.Framebuffer, view View) error
	Illuminate(surface gpu.Framebuffer, view View, surfaces Surfaces) error
}

// SimpleSky is a three-color gradient environment.
type SimpleSky struct {
	Horizon core.Color
	Zenith  core.Color
	Ground  core.Color

	dev     gpu.Device
	program *shader.Program
}

var _ Environment = (*SimpleSky)(nil)

// NewSimpleSky uses a white horizon, blue zenith and brown ground.
func NewSimpleSky(dev gpu.Device) (*SimpleSky, error) {
	p, err := shader.New(dev, skySource())
	if err != nil {
		return nil, fmt.Errorf("simple sky: %w", err)
	}
	return &SimpleSky{
		Horizon: core.ColorWhite,
		Zenith:  core.Color{R: 0.1, G: 0.3, B: 0.7, A: 1},
		Ground:  core.Color{R: 0.2, G: 0.15, B: 0.1, A: 1},
		dev:     dev,
		program: p,
	}, nil
}

// Program exposes the sky program so it can be hot-reloaded.
func (s *SimpleSky) Program() *shader.Program { return s.program }

func (s *SimpleSky) RenderBackground(surface gpu.Framebuffer, view View) error {
	if err := s.setCommon(view, false); err != nil {
		return err
	}
	return s.dev.DrawFullscreen(surface, s.program.GPU())
}

func (s *SimpleSky) Illuminate(surface gpu.Framebuffer, view View, surfaces Surfaces) error {
	if err := s.setCommon(view, true); err != nil {
		return err
	}
	if err := s.program.Set("frame_normal", gpu.Sampler{Unit: 0, Texture: surfaces.Normal}); err != nil {
		return err
	}
	if err := s.program.Set("frame_albedo", gpu.Sampler{Unit: 1, Texture: surfaces.Albedo}); err != nil {
		return err
	}
	return s.dev.DrawFullscreen(surface, s.program.GPU())
}

func (s *SimpleSky) setCommon(view View, illumination bool) error {
	uniforms := []struct {
		name  string
		value any
	}{
		{"inv_view_proj", view.InverseViewProjection()},
		{"camera_pos", view.Camera.Position},
		{"horizon_color", s.Horizon.Vec3()},
		{"zenith_color", s.Zenith.Vec3()},
		{"ground_color", s.Ground.Vec3()},
		{"is_illumination", illumination},
	}
	for _, u := range uniforms {
		if err := s.program.Set(u.name, u.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimpleSky) Close() {
	if s.program != nil {
		s.program.Close()
		s.program = nil
	}
}
