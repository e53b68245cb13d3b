package postprocess

import (
	"time"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/shader"
)

// Settings are the tunables the chain reads once per frame.
type Settings struct {
	AutoExposure  bool
	ExposureBias  float32
	BloomRadius   float32
	BloomStrength float32
	BloomBypass   bool
	LensFlare     LensFlare
}

// Chain runs auto-exposure, bloom and composite in that order.
type Chain struct {
	Exposure  *AutoExposure
	Bloom     *Bloom
	Composite *Composite
}

// NewChain builds every stage for size. bloomLevels is validated by NewBloom.
func NewChain(dev gpu.Device, size core.Size, bloomLevels int, adaptationRate float32) (*Chain, error) {
	c := &Chain{}
	var err error
	if c.Exposure, err = NewAutoExposure(dev, size); err != nil {
		return nil, err
	}
	c.Exposure.Rate = adaptationRate
	if c.Bloom, err = NewBloom(dev, size, bloomLevels); err != nil {
		c.Close()
		return nil, err
	}
	if c.Composite, err = NewComposite(dev); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Process takes the lit frame hdr to out and returns the average luminance
// the composite was exposed with.
func (c *Chain) Process(out gpu.Framebuffer, hdr gpu.Texture, dt time.Duration, s Settings) (float32, error) {
	c.Exposure.Enabled = s.AutoExposure
	avg, err := c.Exposure.Process(hdr, dt)
	if err != nil {
		return 0, err
	}
	bloom, err := c.Bloom.Process(hdr, s.BloomRadius, s.BloomBypass)
	if err != nil {
		return 0, err
	}
	err = c.Composite.Draw(out, hdr, bloom, CompositeParams{
		AverageLuminance: avg,
		ExposureBias:     s.ExposureBias,
		BloomStrength:    s.BloomStrength,
		LensFlare:        s.LensFlare,
		DeltaTime:        dt,
	})
	return avg, err
}

func (c *Chain) Resize(size core.Size) error {
	if err := c.Exposure.Resize(size); err != nil {
		return err
	}
	return c.Bloom.Resize(size)
}

// Programs lists every program of the chain for hot reloading.
func (c *Chain) Programs() []*shader.Program {
	out := []*shader.Program{c.Exposure.Program()}
	out = append(out, c.Bloom.Programs()...)
	return append(out, c.Composite.Program())
}

func (c *Chain) Close() {
	if c.Exposure != nil {
		c.Exposure.Close()
	}
	if c.Bloom != nil {
		c.Bloom.Close()
	}
	if c.Composite != nil {
		c.Composite.Close()
	}
}
