package scene

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/internal/logger"
	"deferred-renderer/shader"
)

// GLTFMaterial holds the metallic-roughness parameters of a glTF material.
// Texture fields are nil when the slot is unset or its image failed to load.
type GLTFMaterial struct {
	Name      string
	Albedo    core.Color
	Roughness float32
	Metallic  float32

	AlbedoTexture     *Texture
	RoughMetalTexture *Texture
	NormalTexture     *Texture
}

// GLTFPrimitive is one drawable primitive placed in the world.
type GLTFPrimitive struct {
	Mesh      *Mesh
	Material  int // index into GLTFScene.Materials, -1 when unset
	Transform core.Transform
}

// GLTFScene is a flattened glTF document: every primitive reachable from the
// scene roots, with its node hierarchy folded into one world transform.
type GLTFScene struct {
	Materials  []GLTFMaterial
	Primitives []GLTFPrimitive

	uploaded []gpu.Texture
}

// LoadGLTF opens a .glb or .gltf file. External images resolve relative to
// the file's directory.
func LoadGLTF(path string) (*GLTFScene, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gltf open %q: %w", path, err)
	}
	return FromGLTF(doc, filepath.Dir(path))
}

// FromGLTF flattens an already decoded document. Image URIs resolve against
// dir. Primitives and images that fail to decode are logged and skipped.
func FromGLTF(doc *gltf.Document, dir string) (*GLTFScene, error) {
	result := &GLTFScene{Materials: make([]GLTFMaterial, len(doc.Materials))}

	// ── Textures ──────────────────────────────────────────────────────────────
	textures := make([]*Texture, len(doc.Textures))
	for i := range doc.Textures {
		tex, err := loadGLTFTexture(doc, dir, i)
		if err != nil {
			logger.L().Warn("gltf texture skipped", zap.Int("texture", i), zap.Error(err))
			continue
		}
		textures[i] = tex
	}
	texture := func(idx int) *Texture {
		if idx < 0 || idx >= len(textures) {
			return nil
		}
		return textures[idx]
	}

	// ── Materials ─────────────────────────────────────────────────────────────
	for i, gm := range doc.Materials {
		m := GLTFMaterial{Name: gm.Name, Albedo: core.ColorWhite, Roughness: 1, Metallic: 1}
		if m.Name == "" {
			m.Name = fmt.Sprintf("material_%d", i)
		}
		if pbr := gm.PBRMetallicRoughness; pbr != nil {
			cf := pbr.BaseColorFactorOrDefault()
			m.Albedo = core.Color{R: float32(cf[0]), G: float32(cf[1]), B: float32(cf[2]), A: float32(cf[3])}
			m.Roughness = float32(pbr.RoughnessFactorOrDefault())
			m.Metallic = float32(pbr.MetallicFactorOrDefault())
			if pbr.BaseColorTexture != nil {
				m.AlbedoTexture = texture(pbr.BaseColorTexture.Index)
			}
			if pbr.MetallicRoughnessTexture != nil {
				m.RoughMetalTexture = texture(pbr.MetallicRoughnessTexture.Index)
			}
		}
		if gm.NormalTexture != nil && gm.NormalTexture.Index != nil {
			m.NormalTexture = texture(*gm.NormalTexture.Index)
		}
		result.Materials[i] = m
	}

	// ── Mesh primitives ───────────────────────────────────────────────────────
	type prim struct {
		mesh     *Mesh
		material int
	}
	meshPrims := make([][]prim, len(doc.Meshes))
	for mi, gm := range doc.Meshes {
		for pi, p := range gm.Primitives {
			m, err := loadGLTFPrimitive(doc, gm.Name, pi, p)
			if err != nil {
				logger.L().Warn("gltf primitive skipped",
					zap.Int("mesh", mi), zap.Int("primitive", pi), zap.Error(err))
				continue
			}
			material := -1
			if p.Material != nil && *p.Material < len(result.Materials) {
				material = *p.Material
			}
			meshPrims[mi] = append(meshPrims[mi], prim{mesh: m, material: material})
		}
	}

	// ── Nodes ─────────────────────────────────────────────────────────────────
	visited := make([]bool, len(doc.Nodes))
	var walk func(idx int, parent core.Transform)
	walk = func(idx int, parent core.Transform) {
		if idx < 0 || idx >= len(doc.Nodes) || visited[idx] {
			return
		}
		visited[idx] = true
		gn := doc.Nodes[idx]
		world := compose(parent, nodeTransform(gn))
		if gn.Mesh != nil && *gn.Mesh < len(meshPrims) {
			for _, p := range meshPrims[*gn.Mesh] {
				result.Primitives = append(result.Primitives,
					GLTFPrimitive{Mesh: p.mesh, Material: p.material, Transform: world})
			}
		}
		for _, c := range gn.Children {
			walk(c, world)
		}
	}
	for _, root := range rootNodes(doc) {
		walk(root, core.NewTransform())
	}
	return result, nil
}

// rootNodes returns the default scene's roots, or every parentless node when
// the document has no default scene.
func rootNodes(doc *gltf.Document) []int {
	if doc.Scene != nil && *doc.Scene < len(doc.Scenes) {
		return doc.Scenes[*doc.Scene].Nodes
	}
	hasParent := make([]bool, len(doc.Nodes))
	for _, gn := range doc.Nodes {
		for _, c := range gn.Children {
			if c < len(hasParent) {
				hasParent[c] = true
			}
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !hasParent[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

func nodeTransform(gn *gltf.Node) core.Transform {
	t := gn.TranslationOrDefault()
	r := gn.RotationOrDefault() // x, y, z, w
	s := gn.ScaleOrDefault()
	return core.Transform{
		Position: mgl32.Vec3{float32(t[0]), float32(t[1]), float32(t[2])},
		Rotation: mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}}.Normalize(),
		Scale:    mgl32.Vec3{float32(s[0]), float32(s[1]), float32(s[2])},
	}
}

// compose places child in parent's space. Shear from a non-uniform parent
// scale under a rotated child is dropped.
func compose(parent, child core.Transform) core.Transform {
	scaled := mgl32.Vec3{
		parent.Scale[0] * child.Position[0],
		parent.Scale[1] * child.Position[1],
		parent.Scale[2] * child.Position[2],
	}
	return core.Transform{
		Position: parent.Position.Add(parent.Rotation.Rotate(scaled)),
		Rotation: parent.Rotation.Mul(child.Rotation).Normalize(),
		Scale: mgl32.Vec3{
			parent.Scale[0] * child.Scale[0],
			parent.Scale[1] * child.Scale[1],
			parent.Scale[2] * child.Scale[2],
		},
	}
}

// loadGLTFPrimitive converts one glTF triangle-list primitive into a Mesh.
// Missing normals default to +Y; missing indices draw the vertices in order.
func loadGLTFPrimitive(doc *gltf.Document, meshName string, primIdx int, prim *gltf.Primitive) (*Mesh, error) {
	name := fmt.Sprintf("%s_p%d", meshName, primIdx)
	if meshName == "" {
		name = fmt.Sprintf("prim_%d", primIdx)
	}
	if prim.Mode != gltf.PrimitiveTriangles {
		return nil, fmt.Errorf("%s: unsupported primitive mode %v", name, prim.Mode)
	}

	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, fmt.Errorf("%s: no POSITION attribute", name)
	}
	acc, err := accessor(doc, posIdx)
	if err != nil {
		return nil, fmt.Errorf("%s positions: %w", name, err)
	}
	positions, err := modeler.ReadPosition(doc, acc, nil)
	if err != nil {
		return nil, fmt.Errorf("%s positions: %w", name, err)
	}

	var normals [][3]float32
	var uvs [][2]float32
	if idx, ok := prim.Attributes["NORMAL"]; ok {
		if acc, err = accessor(doc, idx); err == nil {
			normals, err = modeler.ReadNormal(doc, acc, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("%s normals: %w", name, err)
		}
	}
	if idx, ok := prim.Attributes["TEXCOORD_0"]; ok {
		if acc, err = accessor(doc, idx); err == nil {
			uvs, err = modeler.ReadTextureCoord(doc, acc, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("%s uvs: %w", name, err)
		}
	}

	verts := make([]gpu.Vertex, len(positions))
	for i, p := range positions {
		v := gpu.Vertex{Position: mgl32.Vec3(p), Normal: mgl32.Vec3{0, 1, 0}}
		if i < len(normals) {
			v.Normal = mgl32.Vec3(normals[i])
		}
		if i < len(uvs) {
			v.UV = mgl32.Vec2(uvs[i])
		}
		verts[i] = v
	}

	var indices []uint32
	if prim.Indices != nil {
		if acc, err = accessor(doc, *prim.Indices); err == nil {
			indices, err = modeler.ReadIndices(doc, acc, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("%s indices: %w", name, err)
		}
	} else {
		indices = make([]uint32, len(verts))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	return NewMesh(name, verts, indices), nil
}

func accessor(doc *gltf.Document, idx int) (*gltf.Accessor, error) {
	if idx < 0 || idx >= len(doc.Accessors) || doc.Accessors[idx] == nil {
		return nil, fmt.Errorf("accessor %d of %d: %w", idx, len(doc.Accessors), gpu.ErrOutOfRange)
	}
	return doc.Accessors[idx], nil
}

// loadGLTFTexture decodes the image behind doc.Textures[idx]. The image may
// live in a buffer view (GLB), a data URI or a file next to the document.
func loadGLTFTexture(doc *gltf.Document, dir string, idx int) (*Texture, error) {
	gt := doc.Textures[idx]
	if gt == nil || gt.Source == nil {
		return nil, fmt.Errorf("texture %d has no image source", idx)
	}
	src := *gt.Source
	if src < 0 || src >= len(doc.Images) || doc.Images[src] == nil {
		return nil, fmt.Errorf("image %d of %d: %w", src, len(doc.Images), gpu.ErrOutOfRange)
	}
	img := doc.Images[src]
	name := img.Name
	if name == "" {
		name = fmt.Sprintf("gltf_img_%d", src)
	}

	switch {
	case img.BufferView != nil:
		bv := *img.BufferView
		if bv < 0 || bv >= len(doc.BufferViews) {
			return nil, fmt.Errorf("image %d buffer view %d: %w", src, bv, gpu.ErrOutOfRange)
		}
		raw, err := modeler.ReadBufferView(doc, doc.BufferViews[bv])
		if err != nil {
			return nil, fmt.Errorf("image %d buffer view: %w", src, err)
		}
		return DecodeTexture(name, raw)
	case img.IsEmbeddedResource():
		raw, err := img.MarshalData()
		if err != nil {
			return nil, fmt.Errorf("image %d data uri: %w", src, err)
		}
		return DecodeTexture(name, raw)
	case img.URI != "":
		uri, err := url.PathUnescape(img.URI)
		if err != nil {
			return nil, fmt.Errorf("image %d uri: %w", src, err)
		}
		return LoadTexture(filepath.Join(dir, filepath.FromSlash(uri)))
	}
	return nil, fmt.Errorf("image %d has no data", src)
}

// BuildMaterials uploads the material textures and returns one Material per
// entry of s.Materials, drawn with program. Albedo maps are sampled as sRGB.
// A texture shared by several materials is uploaded once. The GPU textures
// belong to s and are freed by Release.
func (s *GLTFScene) BuildMaterials(dev gpu.Device, program *shader.Program) ([]*Material, error) {
	type key struct {
		tex  *Texture
		srgb bool
	}
	cache := map[key]gpu.Texture{}
	upload := func(t *Texture, srgb bool) (gpu.Texture, error) {
		if t == nil {
			return nil, nil
		}
		k := key{t, srgb}
		if g, ok := cache[k]; ok {
			return g, nil
		}
		g, err := t.Upload(dev, srgb)
		if err != nil {
			return nil, err
		}
		cache[k] = g
		s.uploaded = append(s.uploaded, g)
		return g, nil
	}

	out := make([]*Material, len(s.Materials))
	for i, gm := range s.Materials {
		m := NewMaterial(gm.Name, program, gm.Albedo, gm.Roughness, gm.Metallic)
		var err error
		if m.AlbedoTexture, err = upload(gm.AlbedoTexture, true); err != nil {
			return nil, fmt.Errorf("material %q albedo: %w", gm.Name, err)
		}
		if m.RoughMetalTexture, err = upload(gm.RoughMetalTexture, false); err != nil {
			return nil, fmt.Errorf("material %q rough/metal: %w", gm.Name, err)
		}
		if m.NormalTexture, err = upload(gm.NormalTexture, false); err != nil {
			return nil, fmt.Errorf("material %q normal: %w", gm.Name, err)
		}
		out[i] = m
	}
	return out, nil
}

// Release frees every texture uploaded by BuildMaterials.
func (s *GLTFScene) Release() {
	for _, t := range s.uploaded {
		t.Release()
	}
	s.uploaded = nil
}
