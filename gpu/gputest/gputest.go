// Package gputest provides a recording gpu.Device for tests. It allocates no
// GPU memory; every state change, clear, uniform assignment and draw is
// appended to an event log that tests inspect.
package gputest

import (
	"fmt"
	"maps"
	"sync"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
)

type Op string

const (
	OpViewport       Op = "viewport"
	OpBlend          Op = "blend"
	OpDepth          Op = "depth"
	OpClear          Op = "clear"
	OpSet            Op = "set"
	OpBindBlock      Op = "bind-block"
	OpDrawFullscreen Op = "draw-fullscreen"
	OpDrawGeometry   Op = "draw-geometry"
	OpMipmaps        Op = "mipmaps"
	OpResize         Op = "resize"
	OpUpload         Op = "upload"
)

// Event is one recorded device call. Draw events snapshot the device state
// and the program's uniforms at the time of the draw.
type Event struct {
	Op          Op
	Framebuffer string
	Program     string
	Geometry    string
	Texture     string

	Name  string
	Value any
	Index int

	Mask  gpu.ClearMask
	Color core.Color

	Blend    gpu.Blend
	Depth    gpu.DepthFunc
	Viewport core.Size

	Uniforms map[string]any
	Blocks   map[string]int
}

// Device is a recording gpu.Device. The zero value is not usable; call New.
type Device struct {
	mu sync.Mutex

	Events []Event

	// CompileErr, when set, is consulted by CreateProgram.
	CompileErr func(src gpu.ProgramSource) error
	// DrawErr, when set, is returned by every draw.
	DrawErr error
	// IncompleteFramebuffers makes Complete fail for the named framebuffers.
	IncompleteFramebuffers map[string]bool

	blend    gpu.Blend
	depth    gpu.DepthFunc
	viewport core.Size

	textures     map[string]*Texture
	framebuffers map[string]*Framebuffer
	programs     []*Program
	buffers      []*UniformBuffer
	geometries   []*Geometry
	backbuffer   *Framebuffer
}

var _ gpu.Device = (*Device)(nil)

func New() *Device {
	d := &Device{
		IncompleteFramebuffers: map[string]bool{},
		textures:               map[string]*Texture{},
		framebuffers:           map[string]*Framebuffer{},
	}
	d.backbuffer = &Framebuffer{dev: d, label: "backbuffer", backbuffer: true}
	return d
}

func (d *Device) record(e Event) {
	d.mu.Lock()
	d.Events = append(d.Events, e)
	d.mu.Unlock()
}

// Reset drops the recorded events but keeps resources and state.
func (d *Device) Reset() {
	d.mu.Lock()
	d.Events = nil
	d.mu.Unlock()
}

// Filter returns the recorded events with one of the given ops.
func (d *Device) Filter(ops ...Op) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Event
	for _, e := range d.Events {
		for _, op := range ops {
			if e.Op == op {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Draws returns every draw event in order.
func (d *Device) Draws() []Event {
	return d.Filter(OpDrawFullscreen, OpDrawGeometry)
}

// DrawsBy returns the draw events issued with the named program.
func (d *Device) DrawsBy(program string) []Event {
	var out []Event
	for _, e := range d.Draws() {
		if e.Program == program {
			out = append(out, e)
		}
	}
	return out
}

// Texture returns the most recently created texture with the label.
func (d *Device) Texture(label string) *Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textures[label]
}

func (d *Device) Framebuffer(label string) *Framebuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.framebuffers[label]
}

func (d *Device) Programs() []*Program {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Program(nil), d.programs...)
}

func (d *Device) UniformBuffers() []*UniformBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*UniformBuffer(nil), d.buffers...)
}

func (d *Device) Geometries() []*Geometry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Geometry(nil), d.geometries...)
}

// Blend returns the current blend state.
func (d *Device) Blend() gpu.Blend { return d.blend }

func (d *Device) CreateTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	if desc.Size.Empty() {
		return nil, fmt.Errorf("texture %q: %w", desc.Label, gpu.ErrZeroSize)
	}
	t := &Texture{dev: d, desc: desc}
	d.mu.Lock()
	d.textures[desc.Label] = t
	d.mu.Unlock()
	return t, nil
}

func (d *Device) CreateFramebuffer(label string) (gpu.Framebuffer, error) {
	fb := &Framebuffer{dev: d, label: label, colors: map[int]*Texture{}}
	d.mu.Lock()
	d.framebuffers[label] = fb
	d.mu.Unlock()
	return fb, nil
}

func (d *Device) CreateProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if d.CompileErr != nil {
		if err := d.CompileErr(src); err != nil {
			return nil, err
		}
	}
	p := &Program{
		dev:      d,
		Source:   src,
		Uniforms: map[string]any{},
		Blocks:   map[string]int{},
	}
	d.mu.Lock()
	d.programs = append(d.programs, p)
	d.mu.Unlock()
	return p, nil
}

func (d *Device) CreateUniformBuffer(label string, elements [][]byte) (gpu.UniformBuffer, error) {
	b := &UniformBuffer{Label: label}
	for _, e := range elements {
		b.Elements = append(b.Elements, append([]byte(nil), e...))
	}
	d.mu.Lock()
	d.buffers = append(d.buffers, b)
	d.mu.Unlock()
	return b, nil
}

func (d *Device) CreateGeometry(label string, vertices []gpu.Vertex, indices []uint32) (gpu.Geometry, error) {
	g := &Geometry{Label: label, Vertices: len(vertices), Indices: len(indices)}
	d.mu.Lock()
	d.geometries = append(d.geometries, g)
	d.mu.Unlock()
	return g, nil
}

func (d *Device) Backbuffer() gpu.Framebuffer { return d.backbuffer }

func (d *Device) Viewport(size core.Size) {
	d.viewport = size
	d.record(Event{Op: OpViewport, Viewport: size})
}

func (d *Device) SetBlend(b gpu.Blend) {
	d.blend = b
	d.record(Event{Op: OpBlend, Blend: b})
}

func (d *Device) SetDepthTest(f gpu.DepthFunc) {
	d.depth = f
	d.record(Event{Op: OpDepth, Depth: f})
}

func (d *Device) DrawFullscreen(fb gpu.Framebuffer, p gpu.Program) error {
	return d.draw(OpDrawFullscreen, fb, p, nil)
}

func (d *Device) DrawGeometry(fb gpu.Framebuffer, p gpu.Program, g gpu.Geometry) error {
	return d.draw(OpDrawGeometry, fb, p, g)
}

func (d *Device) draw(op Op, fb gpu.Framebuffer, p gpu.Program, g gpu.Geometry) error {
	if d.DrawErr != nil {
		return d.DrawErr
	}
	e := Event{
		Op:       op,
		Blend:    d.blend,
		Depth:    d.depth,
		Viewport: d.viewport,
	}
	if f, ok := fb.(*Framebuffer); ok {
		e.Framebuffer = f.label
	}
	if prog, ok := p.(*Program); ok {
		e.Program = prog.Source.Name
		e.Uniforms = maps.Clone(prog.Uniforms)
		e.Blocks = maps.Clone(prog.Blocks)
	}
	if geom, ok := g.(*Geometry); ok {
		e.Geometry = geom.Label
	}
	d.record(e)
	return nil
}

// Texture is a recorded texture. Download returns the output of DownloadFunc,
// or zeros when it is nil.
type Texture struct {
	dev  *Device
	desc gpu.TextureDesc

	DownloadFunc func(level int, size core.Size) []float32
	// Pixels is the data of the last Upload.
	Pixels   []byte
	Released bool
}

func (t *Texture) Label() string         { return t.desc.Label }
func (t *Texture) Desc() gpu.TextureDesc { return t.desc }
func (t *Texture) Size() core.Size       { return t.desc.Size }
func (t *Texture) Format() gpu.Format    { return t.desc.Format }

func (t *Texture) Resize(size core.Size) error {
	if size.Empty() {
		return fmt.Errorf("texture %q: %w", t.desc.Label, gpu.ErrZeroSize)
	}
	t.desc.Size = size
	t.dev.record(Event{Op: OpResize, Texture: t.desc.Label, Viewport: size})
	return nil
}

func (t *Texture) GenerateMipmaps() error {
	t.dev.record(Event{Op: OpMipmaps, Texture: t.desc.Label})
	return nil
}

func (t *Texture) Upload(pixels []byte) error {
	s := t.desc.Size
	if want := s.Width * s.Height * t.desc.Format.TexelBytes(); len(pixels) != want {
		return fmt.Errorf("texture %q: %d bytes, want %d: %w", t.desc.Label, len(pixels), want, gpu.ErrDataSize)
	}
	t.Pixels = append([]byte(nil), pixels...)
	t.dev.record(Event{Op: OpUpload, Texture: t.desc.Label, Viewport: s})
	return nil
}

func (t *Texture) MipLevels() int {
	if !t.desc.Mipmapped {
		return 1
	}
	return gpu.MipLevels(t.desc.Size)
}

func (t *Texture) levelSize(level int) core.Size {
	s := t.desc.Size
	for range level {
		s = s.Half()
	}
	return s
}

func (t *Texture) Download(level int) ([]float32, error) {
	if level < 0 || level >= t.MipLevels() {
		return nil, fmt.Errorf("texture %q level %d: %w", t.desc.Label, level, gpu.ErrOutOfRange)
	}
	size := t.levelSize(level)
	if t.DownloadFunc != nil {
		return t.DownloadFunc(level, size), nil
	}
	return make([]float32, size.Width*size.Height*t.desc.Format.Channels()), nil
}

func (t *Texture) Release() { t.Released = true }

// Fill makes Download return every channel of every texel set to v.
func (t *Texture) Fill(v float32) {
	t.DownloadFunc = func(_ int, size core.Size) []float32 {
		out := make([]float32, size.Width*size.Height*t.desc.Format.Channels())
		for i := range out {
			out[i] = v
		}
		return out
	}
}

type Framebuffer struct {
	dev        *Device
	label      string
	backbuffer bool

	colors      map[int]*Texture
	depth       *Texture
	drawBuffers []int

	Released bool
}

func (f *Framebuffer) Label() string { return f.label }

// Color returns the texture attached at index, or nil.
func (f *Framebuffer) Color(index int) *Texture { return f.colors[index] }

func (f *Framebuffer) Depth() *Texture { return f.depth }

func (f *Framebuffer) DrawBufferIndices() []int { return f.drawBuffers }

func (f *Framebuffer) AttachColor(index int, tex gpu.Texture) error {
	t, ok := tex.(*Texture)
	if !ok {
		return fmt.Errorf("framebuffer %q: foreign texture %T", f.label, tex)
	}
	f.colors[index] = t
	return nil
}

func (f *Framebuffer) AttachDepth(tex gpu.Texture) error {
	t, ok := tex.(*Texture)
	if !ok {
		return fmt.Errorf("framebuffer %q: foreign texture %T", f.label, tex)
	}
	f.depth = t
	return nil
}

func (f *Framebuffer) DrawBuffers(indices ...int) error {
	for _, i := range indices {
		if _, ok := f.colors[i]; !ok {
			return fmt.Errorf("framebuffer %q draw buffer %d: %w", f.label, i, gpu.ErrOutOfRange)
		}
	}
	f.drawBuffers = append([]int(nil), indices...)
	return nil
}

func (f *Framebuffer) Complete() error {
	if f.backbuffer {
		return nil
	}
	if len(f.colors) == 0 && f.depth == nil || f.dev.IncompleteFramebuffers[f.label] {
		return fmt.Errorf("framebuffer %q: %w", f.label, gpu.ErrIncompleteFramebuffer)
	}
	return nil
}

func (f *Framebuffer) Clear(mask gpu.ClearMask, color core.Color) error {
	f.dev.record(Event{Op: OpClear, Framebuffer: f.label, Mask: mask, Color: color})
	return nil
}

func (f *Framebuffer) Release() { f.Released = true }

// Program records uniform assignments. UnknownUniforms names uniforms that
// Set rejects with gpu.ErrUnknownUniform.
type Program struct {
	dev    *Device
	Source gpu.ProgramSource

	Uniforms        map[string]any
	Blocks          map[string]int
	UnknownUniforms map[string]bool
	Released        bool
}

func (p *Program) Set(name string, value any) error {
	if p.UnknownUniforms[name] {
		return fmt.Errorf("program %q uniform %q: %w", p.Source.Name, name, gpu.ErrUnknownUniform)
	}
	p.Uniforms[name] = value
	p.dev.record(Event{Op: OpSet, Program: p.Source.Name, Name: name, Value: value})
	return nil
}

func (p *Program) BindBlock(name string, buf gpu.UniformBuffer, index int) error {
	if index < 0 || index >= buf.Len() {
		return fmt.Errorf("program %q block %q index %d: %w", p.Source.Name, name, index, gpu.ErrOutOfRange)
	}
	p.Blocks[name] = index
	p.dev.record(Event{Op: OpBindBlock, Program: p.Source.Name, Name: name, Index: index})
	return nil
}

func (p *Program) Release() { p.Released = true }

type UniformBuffer struct {
	Label    string
	Elements [][]byte
	Released bool
}

func (b *UniformBuffer) Len() int { return len(b.Elements) }
func (b *UniformBuffer) Release() { b.Released = true }

type Geometry struct {
	Label    string
	Vertices int
	Indices  int
	Released bool
}

func (g *Geometry) IndexCount() int { return g.Indices }
func (g *Geometry) Release()        { g.Released = true }
