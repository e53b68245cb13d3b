// Package deferred implements the geometry and lighting passes of the
// deferred pipeline. The geometry pass rasterizes material batches into a set
// of G-buffer targets; the lighting pass reads them back in screen space and
// accumulates one additive full-screen draw per light.
package deferred

import (
	"errors"
	"fmt"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/scene"
	"deferred-renderer/shader"
)

// Target selects one of the G-buffer color targets.
type Target int

const (
	TargetPosition Target = iota
	TargetAlbedo
	TargetNormal
	TargetRoughMetal

	targetCount
)

func (t Target) String() string {
	switch t {
	case TargetPosition:
		return "position"
	case TargetAlbedo:
		return "albedo"
	case TargetNormal:
		return "normal"
	case TargetRoughMetal:
		return "rough-metal"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

var targetFormats = [targetCount]gpu.Format{
	TargetPosition:   gpu.FormatRGB16F,
	TargetAlbedo:     gpu.FormatRGB16F,
	TargetNormal:     gpu.FormatRGBA16F, // alpha = coverage
	TargetRoughMetal: gpu.FormatRG16F,
}

// MeshInstance is a resolved mesh with its world transform.
type MeshInstance = scene.Transformed[*scene.Mesh]

// GBuffer owns the geometry pass: four color targets and a depth target, all
// at viewport resolution.
type GBuffer struct {
	dev   gpu.Device
	guard gpu.ThreadGuard
	size  core.Size

	fbo     gpu.Framebuffer
	targets [targetCount]gpu.Texture
	depth   gpu.Texture

	blit *shader.Program
}

func NewGBuffer(dev gpu.Device, size core.Size) (*GBuffer, error) {
	if size.Empty() {
		return nil, fmt.Errorf("gbuffer %v: %w", size, gpu.ErrZeroSize)
	}
	g := &GBuffer{dev: dev, guard: gpu.NewThreadGuard(), size: size}
	if err := g.init(); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func (g *GBuffer) init() error {
	var err error
	for t := range targetCount {
		g.targets[t], err = g.dev.CreateTexture(gpu.TextureDesc{
			Label:  "gbuffer." + t.String(),
			Size:   g.size,
			Format: targetFormats[t],
			Filter: gpu.FilterNearest,
		})
		if err != nil {
			return fmt.Errorf("gbuffer %s target: %w", t, err)
		}
	}
	g.depth, err = g.dev.CreateTexture(gpu.TextureDesc{
		Label:  "gbuffer.depth",
		Size:   g.size,
		Format: gpu.FormatDepth32F,
		Filter: gpu.FilterNearest,
	})
	if err != nil {
		return fmt.Errorf("gbuffer depth target: %w", err)
	}

	g.fbo, err = g.dev.CreateFramebuffer("gbuffer")
	if err != nil {
		return fmt.Errorf("gbuffer framebuffer: %w", err)
	}
	indices := make([]int, 0, targetCount)
	for t, tex := range g.targets {
		if err := g.fbo.AttachColor(t, tex); err != nil {
			return fmt.Errorf("gbuffer attach %s: %w", Target(t), err)
		}
		indices = append(indices, t)
	}
	if err := g.fbo.AttachDepth(g.depth); err != nil {
		return fmt.Errorf("gbuffer attach depth: %w", err)
	}
	if err := g.fbo.DrawBuffers(indices...); err != nil {
		return fmt.Errorf("gbuffer draw buffers: %w", err)
	}
	if err := g.fbo.Complete(); err != nil {
		return fmt.Errorf("gbuffer: %w", err)
	}

	g.blit, err = shader.New(g.dev, blitSource())
	if err != nil {
		return err
	}
	return nil
}

func (g *GBuffer) Size() core.Size { return g.size }

// Framebuffer is the multi-target framebuffer meshes are drawn into.
func (g *GBuffer) Framebuffer() gpu.Framebuffer { return g.fbo }

// Texture returns one color target.
func (g *GBuffer) Texture(t Target) gpu.Texture { return g.targets[t] }

// Depth returns the depth target. The lighting pass shares it so background
// draws can be depth-tested against the scene.
func (g *GBuffer) Depth() gpu.Texture { return g.depth }

// Surfaces bundles the color targets for screen-space consumers.
func (g *GBuffer) Surfaces() Surfaces {
	return Surfaces{
		Position:   g.targets[TargetPosition],
		Albedo:     g.targets[TargetAlbedo],
		Normal:     g.targets[TargetNormal],
		RoughMetal: g.targets[TargetRoughMetal],
	}
}

// Begin clears every target for a new frame. It runs once per frame, before
// the first batch, never between batches.
func (g *GBuffer) Begin() error {
	if err := g.guard.Check(); err != nil {
		return err
	}
	g.dev.Viewport(g.size)
	g.dev.SetBlend(gpu.BlendOpaque)
	if err := g.fbo.Clear(gpu.ClearColor|gpu.ClearDepth, core.Color{}); err != nil {
		return fmt.Errorf("gbuffer clear: %w", err)
	}
	return nil
}

// DrawMeshes rasterizes one material batch: the material's program is bound
// once and each mesh gets its own model matrix and draw call, in order.
// Meshes that were never uploaded are uploaded on first draw.
func (g *GBuffer) DrawMeshes(camera scene.Camera, material *scene.Material, meshes []MeshInstance) error {
	if err := g.guard.Check(); err != nil {
		return err
	}
	if material == nil || material.Program == nil {
		return errors.New("gbuffer: material without program")
	}
	g.dev.Viewport(g.size)
	g.dev.SetBlend(gpu.BlendOpaque)
	g.dev.SetDepthTest(gpu.DepthLess)

	if err := material.Apply(camera); err != nil {
		return err
	}
	for _, m := range meshes {
		mesh := m.Value
		if err := mesh.Upload(g.dev); err != nil {
			return err
		}
		if err := material.SetModel(m.Transform); err != nil {
			return fmt.Errorf("material %q: %w", material.Name, err)
		}
		if err := g.dev.DrawGeometry(g.fbo, material.Program.GPU(), mesh.Geometry()); err != nil {
			return fmt.Errorf("draw mesh %q: %w", mesh.Name, err)
		}
	}
	return nil
}

// Resize reallocates every target in place; attachments keep pointing at the
// same textures. A zero-area size is rejected.
func (g *GBuffer) Resize(size core.Size) error {
	if err := g.guard.Check(); err != nil {
		return err
	}
	if size.Empty() {
		return fmt.Errorf("gbuffer resize %v: %w", size, gpu.ErrZeroSize)
	}
	for t, tex := range g.targets {
		if err := tex.Resize(size); err != nil {
			return fmt.Errorf("gbuffer resize %s: %w", Target(t), err)
		}
	}
	if err := g.depth.Resize(size); err != nil {
		return fmt.Errorf("gbuffer resize depth: %w", err)
	}
	g.size = size
	return g.fbo.Complete()
}

// Debug copies one target into fb for inspection. The G-buffer itself is
// only read.
func (g *GBuffer) Debug(t Target, fb gpu.Framebuffer) error {
	if err := g.guard.Check(); err != nil {
		return err
	}
	if t < 0 || t >= targetCount {
		return fmt.Errorf("gbuffer debug %s: %w", t, gpu.ErrOutOfRange)
	}
	g.dev.SetBlend(gpu.BlendOpaque)
	g.dev.SetDepthTest(gpu.DepthDisabled)
	g.dev.Viewport(g.size)
	if err := g.blit.Set("in_texture", gpu.Sampler{Unit: 0, Texture: g.targets[t]}); err != nil {
		return err
	}
	return g.dev.DrawFullscreen(fb, g.blit.GPU())
}

// Close releases every GPU object the pass owns.
func (g *GBuffer) Close() {
	if g.blit != nil {
		g.blit.Close()
		g.blit = nil
	}
	if g.fbo != nil {
		g.fbo.Release()
		g.fbo = nil
	}
	for t, tex := range g.targets {
		if tex != nil {
			tex.Release()
			g.targets[t] = nil
		}
	}
	if g.depth != nil {
		g.depth.Release()
		g.depth = nil
	}
}
