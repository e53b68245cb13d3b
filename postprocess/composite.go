package postprocess

import (
	"fmt"
	"time"

	"deferred-renderer/gpu"
	"deferred-renderer/shader"
)

// LensFlare parameterizes the ghosts drawn from the bloom texture.
type LensFlare struct {
	Strength     float32
	Distortion   float32
	Threshold    float32
	GhostSpacing float32
	GhostCount   int
}

// CompositeParams are the per-frame inputs of the composite draw.
type CompositeParams struct {
	AverageLuminance float32
	ExposureBias     float32
	BloomStrength    float32
	LensFlare        LensFlare
	DeltaTime        time.Duration
}

// Composite tone-maps the HDR frame and its bloom into the output.
type Composite struct {
	dev     gpu.Device
	guard   gpu.ThreadGuard
	program *shader.Program
}

func NewComposite(dev gpu.Device) (*Composite, error) {
	p, err := shader.New(dev, compositeSource())
	if err != nil {
		return nil, err
	}
	return &Composite{dev: dev, guard: gpu.NewThreadGuard(), program: p}, nil
}

func (c *Composite) Program() *shader.Program { return c.program }

// Draw issues one opaque full-screen draw into out. The viewport is the HDR
// texture's size, which need not match out.
func (c *Composite) Draw(out gpu.Framebuffer, hdr, bloom gpu.Texture, p CompositeParams) error {
	if err := c.guard.Check(); err != nil {
		return err
	}
	if p.ExposureBias <= 0 {
		return fmt.Errorf("composite exposure bias %g: %w", p.ExposureBias, gpu.ErrUnsupportedValue)
	}

	uniforms := []struct {
		name  string
		value any
	}{
		{"frame", gpu.Sampler{Unit: 0, Texture: hdr}},
		{"bloom_texture", gpu.Sampler{Unit: 1, Texture: bloom}},
		{"luminance_average", p.AverageLuminance / p.ExposureBias},
		{"bloom_strength", p.BloomStrength},
		{"lens_flare_strength", p.LensFlare.Strength},
		{"lens_flare_distortion", p.LensFlare.Distortion},
		{"lens_flare_threshold", p.LensFlare.Threshold},
		{"lens_flare_ghost_spacing", p.LensFlare.GhostSpacing},
		{"lens_flare_ghost_count", int32(p.LensFlare.GhostCount)},
		{"delta_time", float32(p.DeltaTime.Seconds())},
	}
	for _, u := range uniforms {
		if err := c.program.Set(u.name, u.value); err != nil {
			return err
		}
	}

	c.dev.SetBlend(gpu.BlendOpaque)
	c.dev.SetDepthTest(gpu.DepthDisabled)
	c.dev.Viewport(hdr.Size())
	if err := c.dev.DrawFullscreen(out, c.program.GPU()); err != nil {
		return fmt.Errorf("composite: %w", err)
	}
	return nil
}

func (c *Composite) Close() {
	if c.program != nil {
		c.program.Close()
		c.program = nil
	}
}
