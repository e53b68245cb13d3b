package scene

import (
	"fmt"

	"deferred-renderer/gpu"
)

// Mesh holds CPU-side vertex/index data and, once uploaded, its GPU geometry.
// Meshes are owned by the application; the renderer only sees weak handles.
type Mesh struct {
	Name     string
	Vertices []gpu.Vertex
	Indices  []uint32

	geometry gpu.Geometry
}

func NewMesh(name string, vertices []gpu.Vertex, indices []uint32) *Mesh {
	return &Mesh{Name: name, Vertices: vertices, Indices: indices}
}

// Upload creates the GPU geometry. Uploading twice is a no-op.
func (m *Mesh) Upload(dev gpu.Device) error {
	if m.geometry != nil {
		return nil
	}
	g, err := dev.CreateGeometry(m.Name, m.Vertices, m.Indices)
	if err != nil {
		return fmt.Errorf("mesh %q: %w", m.Name, err)
	}
	m.geometry = g
	return nil
}

// Geometry returns the uploaded geometry, or nil before Upload.
func (m *Mesh) Geometry() gpu.Geometry { return m.geometry }

func (m *Mesh) Release() {
	if m.geometry != nil {
		m.geometry.Release()
		m.geometry = nil
	}
}
