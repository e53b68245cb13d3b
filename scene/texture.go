package scene

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/webp"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
)

// Texture holds CPU-side pixel data for a 2D material texture.
type Texture struct {
	Name   string
	Width  int
	Height int
	// Pixels in RGBA8 format (4 bytes per pixel, row-major, top-to-bottom).
	Pixels []byte
}

// LoadTexture reads a PNG, JPEG or WebP file from disk.
func LoadTexture(path string) (*Texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open texture %q: %w", path, err)
	}
	defer f.Close()
	return decodeTexture(path, f)
}

// DecodeTexture decodes an encoded PNG, JPEG or WebP image.
func DecodeTexture(name string, data []byte) (*Texture, error) {
	return decodeTexture(name, bytes.NewReader(data))
}

func decodeTexture(name string, r io.Reader) (*Texture, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode texture %q: %w", name, err)
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	return &Texture{
		Name:   name,
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: rgba.Pix,
	}, nil
}

// NewSolidTexture creates a 1x1 texture with the given RGBA color values (0–255).
func NewSolidTexture(name string, r, g, b, a uint8) *Texture {
	return &Texture{
		Name:   name,
		Width:  1,
		Height: 1,
		Pixels: []byte{r, g, b, a},
	}
}

// Upload creates a mipmapped, repeating GPU texture from the pixels. Color
// data is uploaded as sRGB; normal and roughness/metal maps must not be.
func (t *Texture) Upload(dev gpu.Device, srgb bool) (gpu.Texture, error) {
	format := gpu.FormatRGBA8
	if srgb {
		format = gpu.FormatSRGBA8
	}
	tex, err := dev.CreateTexture(gpu.TextureDesc{
		Label:     t.Name,
		Size:      core.NewSize(t.Width, t.Height),
		Format:    format,
		Mipmapped: true,
		Filter:    gpu.FilterLinear,
		Wrap:      gpu.WrapRepeat,
	})
	if err != nil {
		return nil, err
	}
	if err := tex.Upload(t.Pixels); err != nil {
		tex.Release()
		return nil, err
	}
	return tex, nil
}
