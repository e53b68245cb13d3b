package opengl

import (
	"fmt"
	"unsafe"

	gl "github.com/go-gl/gl/v4.1-core/gl"

	"deferred-renderer/gpu"
)

// UniformBuffer stores records at a stride rounded up to the device's
// UNIFORM_BUFFER_OFFSET_ALIGNMENT, so every element can be bound on its own.
type UniformBuffer struct {
	guard      gpu.ThreadGuard
	label      string
	id         uint32
	n          int
	recordSize int
	stride     int
}

var _ gpu.UniformBuffer = (*UniformBuffer)(nil)

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// pack lays elements out at stride bytes apart.
func pack(elements [][]byte, stride int) []byte {
	out := make([]byte, len(elements)*stride)
	for i, e := range elements {
		copy(out[i*stride:], e)
	}
	return out
}

func newUniformBuffer(d *Device, label string, elements [][]byte) (*UniformBuffer, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("uniform buffer %q: no elements", label)
	}
	size := len(elements[0])
	for i, e := range elements {
		if len(e) != size {
			return nil, fmt.Errorf("uniform buffer %q: element %d is %d bytes, want %d", label, i, len(e), size)
		}
	}
	b := &UniformBuffer{
		guard:      d.guard,
		label:      label,
		n:          len(elements),
		recordSize: size,
		stride:     alignUp(size, d.uboAlign),
	}
	data := pack(elements, b.stride)

	gl.GenBuffers(1, &b.id)
	gl.BindBuffer(gl.UNIFORM_BUFFER, b.id)
	gl.BufferData(gl.UNIFORM_BUFFER, len(data), gl.Ptr(data), gl.STATIC_DRAW)
	gl.BindBuffer(gl.UNIFORM_BUFFER, 0)
	if err := checkError("uniform buffer " + label); err != nil {
		gl.DeleteBuffers(1, &b.id)
		return nil, err
	}
	return b, nil
}

func (b *UniformBuffer) Len() int { return b.n }

func (b *UniformBuffer) Release() {
	b.guard.Must()
	if b.id != 0 {
		gl.DeleteBuffers(1, &b.id)
		b.id = 0
	}
}

// Geometry holds the buffer objects of an uploaded indexed mesh.
type Geometry struct {
	guard gpu.ThreadGuard
	label string
	vao   uint32
	vbo   uint32
	ebo   uint32
	count int
}

var _ gpu.Geometry = (*Geometry)(nil)

func newGeometry(d *Device, label string, vertices []gpu.Vertex, indices []uint32) (*Geometry, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		return nil, fmt.Errorf("geometry %q: empty", label)
	}
	g := &Geometry{guard: d.guard, label: label, count: len(indices)}
	stride := int32(unsafe.Sizeof(gpu.Vertex{}))

	gl.GenVertexArrays(1, &g.vao)
	gl.GenBuffers(1, &g.vbo)
	gl.BindVertexArray(g.vao)

	gl.BindBuffer(gl.ARRAY_BUFFER, g.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(vertices)*int(stride), gl.Ptr(vertices), gl.STATIC_DRAW)

	var v gpu.Vertex
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 3, gl.FLOAT, false, stride, gl.PtrOffset(int(unsafe.Offsetof(v.Position))))
	gl.EnableVertexAttribArray(1)
	gl.VertexAttribPointer(1, 3, gl.FLOAT, false, stride, gl.PtrOffset(int(unsafe.Offsetof(v.Normal))))
	gl.EnableVertexAttribArray(2)
	gl.VertexAttribPointer(2, 2, gl.FLOAT, false, stride, gl.PtrOffset(int(unsafe.Offsetof(v.UV))))

	gl.GenBuffers(1, &g.ebo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, g.ebo)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(indices)*4, gl.Ptr(indices), gl.STATIC_DRAW)

	gl.BindVertexArray(0)
	if err := checkError("geometry " + label); err != nil {
		g.Release()
		return nil, err
	}
	return g, nil
}

func (g *Geometry) IndexCount() int { return g.count }

func (g *Geometry) Release() {
	g.guard.Must()
	if g.ebo != 0 {
		gl.DeleteBuffers(1, &g.ebo)
		g.ebo = 0
	}
	if g.vbo != 0 {
		gl.DeleteBuffers(1, &g.vbo)
		g.vbo = 0
	}
	if g.vao != 0 {
		gl.DeleteVertexArrays(1, &g.vao)
		g.vao = 0
	}
}
