package opengl

import (
	"fmt"

	gl "github.com/go-gl/gl/v4.1-core/gl"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
)

// glFormat is the GL triple used to allocate and read back a gpu.Format.
type glFormat struct {
	internal int32
	format   uint32
	xtype    uint32
}

var formats = map[gpu.Format]glFormat{
	gpu.FormatRGB16F:   {gl.RGB16F, gl.RGB, gl.FLOAT},
	gpu.FormatRGBA16F:  {gl.RGBA16F, gl.RGBA, gl.FLOAT},
	gpu.FormatRG16F:    {gl.RG16F, gl.RG, gl.FLOAT},
	gpu.FormatR32F:     {gl.R32F, gl.RED, gl.FLOAT},
	gpu.FormatDepth32F: {gl.DEPTH_COMPONENT32F, gl.DEPTH_COMPONENT, gl.FLOAT},
	gpu.FormatRGBA8:    {gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE},
	gpu.FormatSRGBA8:   {gl.SRGB8_ALPHA8, gl.RGBA, gl.UNSIGNED_BYTE},
}

var filters = map[gpu.Filter]int32{
	gpu.FilterLinear:  gl.LINEAR,
	gpu.FilterNearest: gl.NEAREST,
}

var wraps = map[gpu.Wrap]int32{
	gpu.WrapClampEdge:      gl.CLAMP_TO_EDGE,
	gpu.WrapMirroredRepeat: gl.MIRRORED_REPEAT,
	gpu.WrapRepeat:         gl.REPEAT,
}

// Texture is a 2-D GL texture.
type Texture struct {
	dev    *Device
	guard  gpu.ThreadGuard
	id     uint32
	desc   gpu.TextureDesc
	native glFormat
}

var _ gpu.Texture = (*Texture)(nil)

func newTexture(d *Device, desc gpu.TextureDesc) (*Texture, error) {
	f, ok := formats[desc.Format]
	if !ok {
		return nil, fmt.Errorf("texture %q: unknown format %d", desc.Label, desc.Format)
	}
	if desc.Size.Empty() {
		return nil, fmt.Errorf("texture %q: %w", desc.Label, gpu.ErrZeroSize)
	}
	t := &Texture{dev: d, guard: d.guard, desc: desc, native: f}

	gl.GenTextures(1, &t.id)
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	minFilter := filters[desc.Filter]
	if desc.Mipmapped {
		minFilter = gl.LINEAR_MIPMAP_LINEAR
	}
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, minFilter)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, filters[desc.Filter])
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, wraps[desc.Wrap])
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, wraps[desc.Wrap])
	t.allocate()
	gl.BindTexture(gl.TEXTURE_2D, 0)

	if err := checkError("texture " + desc.Label); err != nil {
		gl.DeleteTextures(1, &t.id)
		return nil, err
	}
	return t, nil
}

// allocate reserves level 0 (and the mip chain) for the texture bound to
// TEXTURE_2D.
func (t *Texture) allocate() {
	s := t.desc.Size
	gl.TexImage2D(gl.TEXTURE_2D, 0, t.native.internal,
		int32(s.Width), int32(s.Height), 0, t.native.format, t.native.xtype, nil)
	if t.desc.Mipmapped {
		gl.GenerateMipmap(gl.TEXTURE_2D)
	}
}

func (t *Texture) Size() core.Size    { return t.desc.Size }
func (t *Texture) Format() gpu.Format { return t.desc.Format }

func (t *Texture) MipLevels() int {
	if !t.desc.Mipmapped {
		return 1
	}
	return gpu.MipLevels(t.desc.Size)
}

func (t *Texture) Resize(size core.Size) error {
	if err := t.guard.Check(); err != nil {
		return err
	}
	if size.Empty() {
		return fmt.Errorf("texture %q: %w", t.desc.Label, gpu.ErrZeroSize)
	}
	t.desc.Size = size
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	t.allocate()
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return checkError("resize " + t.desc.Label)
}

func (t *Texture) GenerateMipmaps() error {
	if err := t.guard.Check(); err != nil {
		return err
	}
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.GenerateMipmap(gl.TEXTURE_2D)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return checkError("mipmaps " + t.desc.Label)
}

func (t *Texture) Upload(pixels []byte) error {
	if err := t.guard.Check(); err != nil {
		return err
	}
	s := t.desc.Size
	if want := s.Width * s.Height * t.desc.Format.TexelBytes(); len(pixels) != want {
		return fmt.Errorf("texture %q: %d bytes, want %d: %w", t.desc.Label, len(pixels), want, gpu.ErrDataSize)
	}
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(s.Width), int32(s.Height),
		t.native.format, t.native.xtype, gl.Ptr(&pixels[0]))
	if t.desc.Mipmapped {
		gl.GenerateMipmap(gl.TEXTURE_2D)
	}
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return checkError("upload " + t.desc.Label)
}

// Download reads a mip level back to the CPU. It stalls until the GPU has
// finished writing the texture.
func (t *Texture) Download(level int) ([]float32, error) {
	if err := t.guard.Check(); err != nil {
		return nil, err
	}
	if level < 0 || level >= t.MipLevels() {
		return nil, fmt.Errorf("texture %q level %d: %w", t.desc.Label, level, gpu.ErrOutOfRange)
	}
	s := levelSize(t.desc.Size, level)
	out := make([]float32, s.Width*s.Height*t.desc.Format.Channels())

	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.GetTexImage(gl.TEXTURE_2D, int32(level), t.native.format, gl.FLOAT, gl.Ptr(&out[0]))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return out, checkError("download " + t.desc.Label)
}

// levelSize follows GL's rule: each level halves, rounding down, to 1×1.
func levelSize(s core.Size, level int) core.Size {
	for range level {
		s = s.Half()
	}
	return s
}

func (t *Texture) Release() {
	t.guard.Must()
	if t.id != 0 {
		gl.DeleteTextures(1, &t.id)
		t.id = 0
	}
}
