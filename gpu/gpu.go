// Package gpu describes the GPU surface primitives the renderer is built on:
// textures with mip levels, framebuffers with multiple color attachments,
// linked shader programs with named uniforms and uniform blocks, uniform
// buffers, indexed geometry and a full-screen draw.
//
// The interfaces mirror an immediate-mode API such as OpenGL: blending, depth
// testing and the viewport are device-wide state set before a draw. Every
// implementation is bound to the thread that created it; see ThreadGuard.
package gpu

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"

	"deferred-renderer/core"
)

var (
	ErrZeroSize              = errors.New("gpu: zero-area size")
	ErrWrongThread           = errors.New("gpu: resource accessed from a thread that does not own the context")
	ErrUnknownUniform        = errors.New("gpu: unknown uniform")
	ErrUnknownBlock          = errors.New("gpu: unknown uniform block")
	ErrUnsupportedValue      = errors.New("gpu: unsupported uniform value")
	ErrIncompleteFramebuffer = errors.New("gpu: framebuffer incomplete")
	ErrOutOfRange            = errors.New("gpu: index out of range")
	ErrDataSize              = errors.New("gpu: texel data does not match the texture size")
)

type Format int

const (
	FormatRGB16F Format = iota
	FormatRGBA16F
	FormatRG16F
	FormatR32F
	FormatDepth32F
	// 8-bit formats for sampled material textures. SRGBA8 is decoded to
	// linear when sampled.
	FormatRGBA8
	FormatSRGBA8
)

// Channels is the number of float components a texel of this format holds.
func (f Format) Channels() int {
	switch f {
	case FormatRGB16F:
		return 3
	case FormatRGBA16F, FormatRGBA8, FormatSRGBA8:
		return 4
	case FormatRG16F:
		return 2
	default:
		return 1
	}
}

// TexelBytes is the size of one texel as Texture.Upload expects it: one
// byte per channel for the 8-bit formats, a float32 per channel otherwise.
func (f Format) TexelBytes() int {
	switch f {
	case FormatRGBA8, FormatSRGBA8:
		return 4
	default:
		return 4 * f.Channels()
	}
}

type Filter int

const (
	FilterLinear Filter = iota
	FilterNearest
)

type Wrap int

const (
	WrapClampEdge Wrap = iota
	WrapMirroredRepeat
	WrapRepeat
)

// TextureDesc describes a 2-D texture allocation.
type TextureDesc struct {
	Label     string
	Size      core.Size
	Format    Format
	Mipmapped bool
	Filter    Filter
	Wrap      Wrap
}

// MipLevels returns the length of a full mip chain for size: one level per
// halving of the largest dimension, down to 1×1.
func MipLevels(size core.Size) int {
	n := 1
	for d := max(size.Width, size.Height); d > 1; d /= 2 {
		n++
	}
	return n
}

type Texture interface {
	Size() core.Size
	Format() Format
	// Resize reallocates the storage at a new size. Contents are undefined
	// afterwards; the texture keeps its identity and attachments.
	Resize(size core.Size) error
	GenerateMipmaps() error
	// Upload replaces level 0 with tightly packed rows of texels, top row
	// first, and regenerates the mip chain of a mipmapped texture. len(pixels)
	// must be Width*Height*Format.TexelBytes().
	Upload(pixels []byte) error
	MipLevels() int
	// Download reads back every texel of a mip level, channels interleaved.
	Download(level int) ([]float32, error)
	Release()
}

type ClearMask uint8

const (
	ClearColor ClearMask = 1 << iota
	ClearDepth
)

type Framebuffer interface {
	AttachColor(index int, tex Texture) error
	AttachDepth(tex Texture) error
	// DrawBuffers selects which color attachments fragment outputs write to.
	DrawBuffers(indices ...int) error
	// Complete reports ErrIncompleteFramebuffer when the attachments cannot
	// be rendered to.
	Complete() error
	Clear(mask ClearMask, color core.Color) error
	Release()
}

type BlendFactor int

const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcAlpha
	BlendOneMinusSrcAlpha
)

type BlendEquation int

const (
	BlendAdd BlendEquation = iota
	BlendSubtract
)

// Blend is the output-merger state applied to subsequent draws.
type Blend struct {
	Enabled  bool
	Src, Dst BlendFactor
	Equation BlendEquation
}

var (
	BlendOpaque   = Blend{}
	BlendAdditive = Blend{Enabled: true, Src: BlendOne, Dst: BlendOne, Equation: BlendAdd}
)

type DepthFunc int

const (
	DepthDisabled DepthFunc = iota
	DepthLess
	DepthLessEqual
)

// Sampler binds a texture to a texture unit when passed to Program.Set.
type Sampler struct {
	Unit    int
	Texture Texture
}

// ProgramSource is the GLSL source of a vertex + fragment program.
type ProgramSource struct {
	Name     string
	Vertex   string
	Fragment string
}

type Program interface {
	// Set assigns a uniform by name. Supported values are float32, int32,
	// int, bool, mgl32.Vec2, mgl32.Vec3, mgl32.Vec4, mgl32.Mat4 and Sampler.
	Set(name string, value any) error
	// BindBlock binds element index of buf to the named uniform block.
	BindBlock(name string, buf UniformBuffer, index int) error
	Release()
}

// UniformBuffer is an array of equally-sized std140 records.
type UniformBuffer interface {
	Len() int
	Release()
}

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	UV       mgl32.Vec2
}

// Geometry is uploaded indexed triangle data.
type Geometry interface {
	IndexCount() int
	Release()
}

// Device creates resources and issues draws. Blend, depth and viewport state
// persist until changed.
type Device interface {
	CreateTexture(desc TextureDesc) (Texture, error)
	CreateFramebuffer(label string) (Framebuffer, error)
	CreateProgram(src ProgramSource) (Program, error)
	// CreateUniformBuffer uploads one record per element. Records must share
	// a size; the device pads them to its binding alignment.
	CreateUniformBuffer(label string, elements [][]byte) (UniformBuffer, error)
	CreateGeometry(label string, vertices []Vertex, indices []uint32) (Geometry, error)

	// Backbuffer is the default framebuffer of the window surface.
	Backbuffer() Framebuffer

	Viewport(size core.Size)
	SetBlend(b Blend)
	SetDepthTest(f DepthFunc)

	DrawFullscreen(fb Framebuffer, p Program) error
	DrawGeometry(fb Framebuffer, p Program, g Geometry) error
}
