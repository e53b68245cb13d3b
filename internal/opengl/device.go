// Package opengl implements gpu.Device on an OpenGL 4.1 core context.
//
// The context must be current on the calling thread, and that thread must
// stay locked (runtime.LockOSThread) for the device's lifetime: every object
// created here checks the calling thread against its creator.
package opengl

import (
	"fmt"

	gl "github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/internal/logger"
)

// Device is the OpenGL implementation of gpu.Device.
type Device struct {
	guard gpu.ThreadGuard

	quadVAO    uint32 // empty VAO for the fullscreen triangle
	uboAlign   int
	backbuffer *Framebuffer
}

var _ gpu.Device = (*Device)(nil)

// NewDevice loads the GL entry points for the current context.
func NewDevice() (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	d := &Device{guard: gpu.NewThreadGuard()}

	var align int32
	gl.GetIntegerv(gl.UNIFORM_BUFFER_OFFSET_ALIGNMENT, &align)
	d.uboAlign = max(int(align), 1)

	gl.GenVertexArrays(1, &d.quadVAO)
	d.backbuffer = &Framebuffer{dev: d, guard: d.guard, label: "backbuffer"}

	logger.L().Info("OpenGL device",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
		zap.Int("ubo_alignment", d.uboAlign))
	return d, checkError("init")
}

func (d *Device) CreateTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	if err := d.guard.Check(); err != nil {
		return nil, err
	}
	return newTexture(d, desc)
}

func (d *Device) CreateFramebuffer(label string) (gpu.Framebuffer, error) {
	if err := d.guard.Check(); err != nil {
		return nil, err
	}
	fb := &Framebuffer{dev: d, guard: d.guard, label: label}
	gl.GenFramebuffers(1, &fb.id)
	return fb, nil
}

func (d *Device) CreateProgram(src gpu.ProgramSource) (gpu.Program, error) {
	if err := d.guard.Check(); err != nil {
		return nil, err
	}
	id, err := newProgram(src.Vertex, src.Fragment)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", src.Name, err)
	}
	return &Program{
		dev:       d,
		guard:     d.guard,
		name:      src.Name,
		id:        id,
		locations: map[string]int32{},
		blocks:    map[string]uint32{},
		ranges:    map[uint32]blockRange{},
		samplers:  map[int]*Texture{},
	}, nil
}

func (d *Device) CreateUniformBuffer(label string, elements [][]byte) (gpu.UniformBuffer, error) {
	if err := d.guard.Check(); err != nil {
		return nil, err
	}
	return newUniformBuffer(d, label, elements)
}

func (d *Device) CreateGeometry(label string, vertices []gpu.Vertex, indices []uint32) (gpu.Geometry, error) {
	if err := d.guard.Check(); err != nil {
		return nil, err
	}
	return newGeometry(d, label, vertices, indices)
}

func (d *Device) Backbuffer() gpu.Framebuffer { return d.backbuffer }

// ── State ─────────────────────────────────────────────────────────────────────

func (d *Device) Viewport(size core.Size) {
	d.guard.Must()
	gl.Viewport(0, 0, int32(size.Width), int32(size.Height))
}

func (d *Device) SetBlend(b gpu.Blend) {
	d.guard.Must()
	if !b.Enabled {
		gl.Disable(gl.BLEND)
		return
	}
	gl.Enable(gl.BLEND)
	gl.BlendFunc(blendFactors[b.Src], blendFactors[b.Dst])
	gl.BlendEquation(blendEquations[b.Equation])
}

// SetDepthTest enables depth writes only for DepthLess: LessEqual draws
// (backgrounds at the far plane) test against the scene without changing it.
func (d *Device) SetDepthTest(f gpu.DepthFunc) {
	d.guard.Must()
	switch f {
	case gpu.DepthLess:
		gl.Enable(gl.DEPTH_TEST)
		gl.DepthFunc(gl.LESS)
		gl.DepthMask(true)
	case gpu.DepthLessEqual:
		gl.Enable(gl.DEPTH_TEST)
		gl.DepthFunc(gl.LEQUAL)
		gl.DepthMask(false)
	default:
		gl.Disable(gl.DEPTH_TEST)
	}
}

var blendFactors = map[gpu.BlendFactor]uint32{
	gpu.BlendZero:             gl.ZERO,
	gpu.BlendOne:              gl.ONE,
	gpu.BlendSrcAlpha:         gl.SRC_ALPHA,
	gpu.BlendOneMinusSrcAlpha: gl.ONE_MINUS_SRC_ALPHA,
}

var blendEquations = map[gpu.BlendEquation]uint32{
	gpu.BlendAdd:      gl.FUNC_ADD,
	gpu.BlendSubtract: gl.FUNC_SUBTRACT,
}

// ── Draws ─────────────────────────────────────────────────────────────────────

// DrawFullscreen draws one triangle covering the viewport; the vertex stage
// derives positions from gl_VertexID, so the bound VAO is empty.
func (d *Device) DrawFullscreen(fb gpu.Framebuffer, p gpu.Program) error {
	if err := d.guard.Check(); err != nil {
		return err
	}
	prog, err := d.prepare(fb, p)
	if err != nil {
		return err
	}
	gl.BindVertexArray(d.quadVAO)
	gl.DrawArrays(gl.TRIANGLES, 0, 3)
	gl.BindVertexArray(0)
	return checkError("draw fullscreen " + prog.name)
}

func (d *Device) DrawGeometry(fb gpu.Framebuffer, p gpu.Program, g gpu.Geometry) error {
	if err := d.guard.Check(); err != nil {
		return err
	}
	geom, ok := g.(*Geometry)
	if !ok {
		return fmt.Errorf("draw: foreign geometry %T", g)
	}
	prog, err := d.prepare(fb, p)
	if err != nil {
		return err
	}
	gl.BindVertexArray(geom.vao)
	gl.DrawElements(gl.TRIANGLES, int32(geom.count), gl.UNSIGNED_INT, nil)
	gl.BindVertexArray(0)
	return checkError("draw " + geom.label + " with " + prog.name)
}

// prepare binds the target framebuffer and the program with its samplers
// and uniform blocks.
func (d *Device) prepare(fb gpu.Framebuffer, p gpu.Program) (*Program, error) {
	target, ok := fb.(*Framebuffer)
	if !ok {
		return nil, fmt.Errorf("draw: foreign framebuffer %T", fb)
	}
	prog, ok := p.(*Program)
	if !ok {
		return nil, fmt.Errorf("draw: foreign program %T", p)
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, target.id)
	gl.UseProgram(prog.id)
	prog.bind()
	return prog, nil
}

func checkError(op string) error {
	if e := gl.GetError(); e != gl.NO_ERROR {
		return fmt.Errorf("%s: GL error 0x%X", op, e)
	}
	return nil
}

// Release frees the device's own objects. Resources created from it must be
// released by their owners first.
func (d *Device) Release() {
	d.guard.Must()
	if d.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &d.quadVAO)
		d.quadVAO = 0
	}
}
