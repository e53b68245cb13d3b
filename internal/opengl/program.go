package opengl

import (
	"fmt"
	"strings"

	gl "github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"

	"deferred-renderer/gpu"
)

// blockRange is the slice of a uniform buffer bound to a block.
type blockRange struct {
	buf    *UniformBuffer
	offset int
	size   int
}

// Program is a linked GL program. Uniform locations and block indices are
// cached on first use.
type Program struct {
	dev   *Device
	guard gpu.ThreadGuard
	name  string
	id    uint32

	locations map[string]int32
	blocks    map[string]uint32 // block name → binding point
	ranges    map[uint32]blockRange
	samplers  map[int]*Texture
}

var _ gpu.Program = (*Program)(nil)

func (p *Program) location(name string) (int32, error) {
	if loc, ok := p.locations[name]; ok {
		return loc, nil
	}
	loc := gl.GetUniformLocation(p.id, gl.Str(name+"\x00"))
	if loc < 0 {
		return -1, fmt.Errorf("%q in %q: %w", name, p.name, gpu.ErrUnknownUniform)
	}
	p.locations[name] = loc
	return loc, nil
}

func (p *Program) Set(name string, value any) error {
	if err := p.guard.Check(); err != nil {
		return err
	}
	loc, err := p.location(name)
	if err != nil {
		return err
	}
	switch v := value.(type) {
	case float32:
		gl.ProgramUniform1f(p.id, loc, v)
	case int32:
		gl.ProgramUniform1i(p.id, loc, v)
	case int:
		gl.ProgramUniform1i(p.id, loc, int32(v))
	case bool:
		var b int32
		if v {
			b = 1
		}
		gl.ProgramUniform1i(p.id, loc, b)
	case mgl32.Vec2:
		gl.ProgramUniform2f(p.id, loc, v[0], v[1])
	case mgl32.Vec3:
		gl.ProgramUniform3f(p.id, loc, v[0], v[1], v[2])
	case mgl32.Vec4:
		gl.ProgramUniform4f(p.id, loc, v[0], v[1], v[2], v[3])
	case mgl32.Mat4:
		gl.ProgramUniformMatrix4fv(p.id, loc, 1, false, &v[0])
	case gpu.Sampler:
		t, ok := v.Texture.(*Texture)
		if !ok {
			return fmt.Errorf("%q in %q: foreign texture %T: %w", name, p.name, v.Texture, gpu.ErrUnsupportedValue)
		}
		p.samplers[v.Unit] = t
		gl.ProgramUniform1i(p.id, loc, int32(v.Unit))
	default:
		return fmt.Errorf("%q in %q: %T: %w", name, p.name, value, gpu.ErrUnsupportedValue)
	}
	return checkError("set " + name)
}

func (p *Program) BindBlock(name string, buf gpu.UniformBuffer, index int) error {
	if err := p.guard.Check(); err != nil {
		return err
	}
	ub, ok := buf.(*UniformBuffer)
	if !ok {
		return fmt.Errorf("block %q in %q: foreign buffer %T", name, p.name, buf)
	}
	if index < 0 || index >= ub.Len() {
		return fmt.Errorf("block %q in %q: element %d of %d: %w", name, p.name, index, ub.Len(), gpu.ErrOutOfRange)
	}
	binding, ok := p.blocks[name]
	if !ok {
		idx := gl.GetUniformBlockIndex(p.id, gl.Str(name+"\x00"))
		if idx == gl.INVALID_INDEX {
			return fmt.Errorf("%q in %q: %w", name, p.name, gpu.ErrUnknownBlock)
		}
		binding = uint32(len(p.blocks))
		gl.UniformBlockBinding(p.id, idx, binding)
		p.blocks[name] = binding
	}
	p.ranges[binding] = blockRange{buf: ub, offset: index * ub.stride, size: ub.recordSize}
	return checkError("bind block " + name)
}

// bind makes the recorded samplers and block ranges current. Binding points
// and texture units are context state, so this runs before every draw.
func (p *Program) bind() {
	for unit, t := range p.samplers {
		gl.ActiveTexture(gl.TEXTURE0 + uint32(unit))
		gl.BindTexture(gl.TEXTURE_2D, t.id)
	}
	for binding, r := range p.ranges {
		gl.BindBufferRange(gl.UNIFORM_BUFFER, binding, r.buf.id, r.offset, r.size)
	}
}

func (p *Program) Release() {
	p.guard.Must()
	if p.id != 0 {
		gl.DeleteProgram(p.id)
		p.id = 0
	}
}

// ── Shader helpers ────────────────────────────────────────────────────────────

func newProgram(vertSrc, fragSrc string) (uint32, error) {
	vert, err := compileShader(vertSrc, gl.VERTEX_SHADER)
	if err != nil {
		return 0, fmt.Errorf("vertex: %w", err)
	}
	defer gl.DeleteShader(vert)
	frag, err := compileShader(fragSrc, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, fmt.Errorf("fragment: %w", err)
	}
	defer gl.DeleteShader(frag)

	prog := gl.CreateProgram()
	gl.AttachShader(prog, vert)
	gl.AttachShader(prog, frag)
	gl.LinkProgram(prog)

	var status int32
	gl.GetProgramiv(prog, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(prog, gl.INFO_LOG_LENGTH, &logLen)
		log := strings.Repeat("\x00", int(logLen+1))
		gl.GetProgramInfoLog(prog, logLen, nil, gl.Str(log))
		gl.DeleteProgram(prog)
		return 0, fmt.Errorf("link failed: %v", strings.TrimRight(log, "\x00"))
	}
	return prog, nil
}

func compileShader(src string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csrc, free := gl.Strs(src + "\x00")
	gl.ShaderSource(shader, 1, csrc, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		log := strings.Repeat("\x00", int(logLen+1))
		gl.GetShaderInfoLog(shader, logLen, nil, gl.Str(log))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("compile failed: %v", strings.TrimRight(log, "\x00"))
	}
	return shader, nil
}
