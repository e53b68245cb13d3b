package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/shader"
)

// Texture units used by the material program.
const (
	UnitAlbedo     = 0
	UnitNormal     = 1
	UnitRoughMetal = 2
)

// Material describes how a batch of meshes writes into the G-buffer. Every
// material owns (or shares) the program that draws its meshes.
//
// Materials are compared by handle, never by value: two materials with the
// same parameters are still separate batches.
type Material struct {
	Name    string
	Program *shader.Program

	Albedo        core.Color  // multiplied with AlbedoTexture when set
	AlbedoTexture gpu.Texture // optional

	Roughness         float32
	Metallic          float32
	RoughMetalTexture gpu.Texture // optional, glTF layout: G = roughness, B = metallic

	NormalTexture gpu.Texture // optional tangent-space normal map
	NormalAmount  float32
}

func NewMaterial(name string, program *shader.Program, albedo core.Color, roughness, metallic float32) *Material {
	return &Material{
		Name:         name,
		Program:      program,
		Albedo:       albedo,
		Roughness:    roughness,
		Metallic:     metallic,
		NormalAmount: 1,
	}
}

// Apply binds the per-batch uniforms: the camera and the surface parameters.
// The per-mesh model matrix is set separately with SetModel.
func (m *Material) Apply(camera Camera) error {
	p := m.Program
	if p == nil {
		return fmt.Errorf("material %q: no program", m.Name)
	}
	set := []struct {
		name  string
		value any
	}{
		{"view_proj", camera.ViewProjectionMatrix()},
		{"color", m.Albedo.Vec3()},
		{"has_color_texture", m.AlbedoTexture != nil},
		{"rough_metal", mgl32.Vec2{m.Roughness, m.Metallic}},
		{"has_rough_metal_texture", m.RoughMetalTexture != nil},
		{"has_normal_texture", m.NormalTexture != nil},
		{"normal_amount", m.NormalAmount},
	}
	for _, u := range set {
		if err := p.Set(u.name, u.value); err != nil {
			return fmt.Errorf("material %q: %w", m.Name, err)
		}
	}

	textures := []struct {
		name string
		unit int
		tex  gpu.Texture
	}{
		{"color_texture", UnitAlbedo, m.AlbedoTexture},
		{"normal_texture", UnitNormal, m.NormalTexture},
		{"rough_metal_texture", UnitRoughMetal, m.RoughMetalTexture},
	}
	for _, t := range textures {
		if t.tex == nil {
			continue
		}
		if err := p.Set(t.name, gpu.Sampler{Unit: t.unit, Texture: t.tex}); err != nil {
			return fmt.Errorf("material %q: %w", m.Name, err)
		}
	}
	return nil
}

// SetModel updates the per-instance model matrix.
func (m *Material) SetModel(transform core.Transform) error {
	return m.Program.Set("model", transform.Matrix())
}
