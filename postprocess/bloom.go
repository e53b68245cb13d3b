package postprocess

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/internal/logger"
	"deferred-renderer/shader"
)

// ErrMipChainLength is returned when a bloom chain cannot fit the viewport.
var ErrMipChainLength = errors.New("postprocess: bloom mip chain length out of range")

// MaxChainLength is the longest chain a viewport of the given size supports:
// floor(log2(min(W, H))) − 1. It is zero or negative for tiny viewports.
func MaxChainLength(size core.Size) int {
	m := min(size.Width, size.Height)
	if m <= 0 {
		return 0
	}
	return int(math32.Floor(math32.Log2(float32(m)))) - 1
}

// MipSizes lists the n level sizes of a chain starting at size: level i is
// (max(1, W>>i), max(1, H>>i)).
func MipSizes(size core.Size, n int) []core.Size {
	out := make([]core.Size, n)
	for i := range out {
		out[i] = core.Size{
			Width:  max(1, size.Width>>i),
			Height: max(1, size.Height>>i),
		}
	}
	return out
}

// Bloom blurs an HDR frame by filtering it down a chain of ever smaller
// textures and adding the levels back up again.
type Bloom struct {
	dev   gpu.Device
	guard gpu.ThreadGuard
	size  core.Size

	mips []gpu.Texture
	fbos []gpu.Framebuffer

	down *shader.Program
	up   *shader.Program
}

// NewBloom allocates an n-level chain for size. n outside
// [1, MaxChainLength(size)] fails with ErrMipChainLength.
func NewBloom(dev gpu.Device, size core.Size, n int) (*Bloom, error) {
	if size.Empty() {
		return nil, fmt.Errorf("bloom %v: %w", size, gpu.ErrZeroSize)
	}
	if limit := MaxChainLength(size); n < 1 || n > limit {
		return nil, fmt.Errorf("bloom chain of %d levels at %v (max %d): %w", n, size, limit, ErrMipChainLength)
	}
	b := &Bloom{dev: dev, guard: gpu.NewThreadGuard(), size: size}
	if err := b.init(n); err != nil {
		b.Close()
		return nil, err
	}
	logger.L().Info("bloom chain allocated", zap.Int("levels", n), zap.Stringer("size", size))
	return b, nil
}

func (b *Bloom) init(n int) error {
	for i, s := range MipSizes(b.size, n) {
		label := fmt.Sprintf("bloom.mip%d", i)
		mip, err := b.dev.CreateTexture(gpu.TextureDesc{
			Label:  label,
			Size:   s,
			Format: gpu.FormatRGB16F,
			Filter: gpu.FilterLinear,
			Wrap:   gpu.WrapClampEdge,
		})
		if err != nil {
			return fmt.Errorf("bloom mip %d: %w", i, err)
		}
		b.mips = append(b.mips, mip)

		fbo, err := b.dev.CreateFramebuffer(label)
		if err != nil {
			return fmt.Errorf("bloom mip %d framebuffer: %w", i, err)
		}
		b.fbos = append(b.fbos, fbo)
		if err := fbo.AttachColor(0, mip); err != nil {
			return fmt.Errorf("bloom mip %d attach: %w", i, err)
		}
		if err := fbo.Complete(); err != nil {
			return fmt.Errorf("bloom mip %d: %w", i, err)
		}
	}

	// A bypassed first frame reads mip 0; make it black rather than undefined.
	b.dev.Viewport(b.mips[0].Size())
	if err := b.fbos[0].Clear(gpu.ClearColor, core.ColorBlack); err != nil {
		return fmt.Errorf("bloom clear: %w", err)
	}

	var err error
	if b.down, err = shader.New(b.dev, downsampleSource()); err != nil {
		return err
	}
	b.up, err = shader.New(b.dev, upsampleSource())
	return err
}

// Len is the chain length.
func (b *Bloom) Len() int { return len(b.mips) }

// Mip returns chain level i.
func (b *Bloom) Mip(i int) gpu.Texture { return b.mips[i] }

// Output is the texture Process returns: level 0.
func (b *Bloom) Output() gpu.Texture { return b.mips[0] }

func (b *Bloom) Programs() []*shader.Program { return []*shader.Program{b.down, b.up} }

// Process downsamples src through every level, then upsamples back to level 0
// with additive blending. With bypass set nothing is drawn and the previous
// result is returned.
func (b *Bloom) Process(src gpu.Texture, radius float32, bypass bool) (gpu.Texture, error) {
	if err := b.guard.Check(); err != nil {
		return nil, err
	}
	if bypass {
		return b.mips[0], nil
	}
	if err := b.downsample(src); err != nil {
		return nil, err
	}
	if err := b.upsample(radius); err != nil {
		return nil, err
	}
	return b.mips[0], nil
}

func (b *Bloom) downsample(src gpu.Texture) error {
	b.dev.SetBlend(gpu.BlendOpaque)
	b.dev.SetDepthTest(gpu.DepthDisabled)

	prev := src
	for i, mip := range b.mips {
		if err := b.down.Set("screen_size", prev.Size().Vec2()); err != nil {
			return err
		}
		if err := b.down.Set("in_texture", gpu.Sampler{Unit: 0, Texture: prev}); err != nil {
			return err
		}
		b.dev.Viewport(mip.Size())
		if err := b.dev.DrawFullscreen(b.fbos[i], b.down.GPU()); err != nil {
			return fmt.Errorf("bloom downsample %d: %w", i, err)
		}
		prev = mip
	}
	return nil
}

func (b *Bloom) upsample(radius float32) error {
	if err := b.up.Set("filter_radius", radius); err != nil {
		return err
	}
	b.dev.SetBlend(gpu.BlendAdditive)
	defer b.dev.SetBlend(gpu.BlendOpaque)

	for i := len(b.mips) - 1; i > 0; i-- {
		if err := b.up.Set("in_texture", gpu.Sampler{Unit: 0, Texture: b.mips[i]}); err != nil {
			return err
		}
		b.dev.Viewport(b.mips[i-1].Size())
		if err := b.dev.DrawFullscreen(b.fbos[i-1], b.up.GPU()); err != nil {
			return fmt.Errorf("bloom upsample %d: %w", i, err)
		}
	}
	return nil
}

// Resize reallocates every level for the new viewport. The chain length is
// fixed at construction; levels that would drop below 1×1 stay at 1×1.
func (b *Bloom) Resize(size core.Size) error {
	if err := b.guard.Check(); err != nil {
		return err
	}
	if size.Empty() {
		return fmt.Errorf("bloom resize %v: %w", size, gpu.ErrZeroSize)
	}
	if limit := MaxChainLength(size); len(b.mips) > limit {
		logger.L().Warn("bloom chain longer than the viewport supports",
			zap.Int("levels", len(b.mips)), zap.Int("max", limit), zap.Stringer("size", size))
	}
	for i, s := range MipSizes(size, len(b.mips)) {
		if err := b.mips[i].Resize(s); err != nil {
			return fmt.Errorf("bloom resize mip %d: %w", i, err)
		}
		if err := b.fbos[i].Complete(); err != nil {
			return fmt.Errorf("bloom resize mip %d: %w", i, err)
		}
	}
	// Reallocated storage is undefined until the next unbypassed frame.
	b.dev.Viewport(b.mips[0].Size())
	if err := b.fbos[0].Clear(gpu.ClearColor, core.ColorBlack); err != nil {
		return fmt.Errorf("bloom resize clear: %w", err)
	}
	b.size = size
	return nil
}

func (b *Bloom) Close() {
	for _, p := range []*shader.Program{b.down, b.up} {
		if p != nil {
			p.Close()
		}
	}
	b.down, b.up = nil, nil
	for _, fbo := range b.fbos {
		fbo.Release()
	}
	for _, mip := range b.mips {
		mip.Release()
	}
	b.fbos, b.mips = nil, nil
}
