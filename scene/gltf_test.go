package scene

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/gpu/gputest"
	"deferred-renderer/shader"
)

func triangleDoc(t *testing.T) *gltf.Document {
	t.Helper()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	idx := modeler.WriteIndices(doc, []uint32{0, 1, 2})

	doc.Materials = []*gltf.Material{{Name: "plain"}}
	doc.Meshes = []*gltf.Mesh{{
		Name: "tri",
		Primitives: []*gltf.Primitive{{
			Attributes: map[string]int{"POSITION": pos},
			Indices:    gltf.Index(idx),
			Material:   gltf.Index(0),
		}},
	}}
	doc.Nodes = []*gltf.Node{
		{Name: "root", Translation: [3]float64{1, 0, 0}, Scale: [3]float64{2, 2, 2}, Children: []int{1}},
		{Name: "leaf", Translation: [3]float64{0, 1, 0}, Mesh: gltf.Index(0)},
	}
	doc.Scene = gltf.Index(0)
	doc.Scenes = []*gltf.Scene{{Nodes: []int{0}}}
	return doc
}

func TestFromGLTFFlattensHierarchy(t *testing.T) {
	s, err := FromGLTF(triangleDoc(t), "")
	require.NoError(t, err)
	require.Len(t, s.Primitives, 1)

	p := s.Primitives[0]
	assert.Equal(t, "tri_p0", p.Mesh.Name)
	assert.Equal(t, []uint32{0, 1, 2}, p.Mesh.Indices)
	require.Len(t, p.Mesh.Vertices, 3)
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, p.Mesh.Vertices[1].Position)
	assert.Equal(t, mgl32.Vec3{0, 1, 0}, p.Mesh.Vertices[1].Normal, "missing normals default to +Y")

	assert.InDeltaSlice(t, []float32{1, 2, 0}, p.Transform.Position[:], 1e-5)
	assert.Equal(t, mgl32.Vec3{2, 2, 2}, p.Transform.Scale)
}

func TestFromGLTFMaterialDefaults(t *testing.T) {
	s, err := FromGLTF(triangleDoc(t), "")
	require.NoError(t, err)
	require.Len(t, s.Materials, 1)

	assert.Equal(t, GLTFMaterial{Name: "plain", Albedo: core.ColorWhite, Roughness: 1, Metallic: 1}, s.Materials[0])
	assert.Equal(t, 0, s.Primitives[0].Material)
}

func TestFromGLTFSkipsPrimitiveWithoutPositions(t *testing.T) {
	doc := triangleDoc(t)
	doc.Meshes[0].Primitives = append(doc.Meshes[0].Primitives, &gltf.Primitive{Attributes: map[string]int{}})

	s, err := FromGLTF(doc, "")
	require.NoError(t, err)
	assert.Len(t, s.Primitives, 1)
}

func TestFromGLTFSkipsDanglingAccessors(t *testing.T) {
	doc := triangleDoc(t)
	missing := len(doc.Accessors) + 5
	doc.Meshes[0].Primitives = append(doc.Meshes[0].Primitives,
		&gltf.Primitive{Attributes: map[string]int{"POSITION": missing}},
		&gltf.Primitive{Attributes: map[string]int{"POSITION": 0, "NORMAL": missing}},
		&gltf.Primitive{Attributes: map[string]int{"POSITION": 0, "TEXCOORD_0": -1}},
		&gltf.Primitive{Attributes: map[string]int{"POSITION": 0}, Indices: gltf.Index(missing)},
	)

	var s *GLTFScene
	var err error
	require.NotPanics(t, func() { s, err = FromGLTF(doc, "") })
	require.NoError(t, err)
	assert.Len(t, s.Primitives, 1)
}

func TestFromGLTFPositionWithoutAccessors(t *testing.T) {
	doc := gltf.NewDocument()
	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{{Attributes: map[string]int{"POSITION": 7}}}}}
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = []int{0}

	var s *GLTFScene
	var err error
	require.NotPanics(t, func() { s, err = FromGLTF(doc, "") })
	require.NoError(t, err)
	assert.Empty(t, s.Primitives)
}

func TestFromGLTFSkipsNonTriangleModes(t *testing.T) {
	doc := triangleDoc(t)
	tri := doc.Meshes[0].Primitives[0]
	for _, mode := range []gltf.PrimitiveMode{gltf.PrimitiveLines, gltf.PrimitivePoints, gltf.PrimitiveTriangleStrip} {
		p := *tri
		p.Mode = mode
		doc.Meshes[0].Primitives = append(doc.Meshes[0].Primitives, &p)
	}

	s, err := FromGLTF(doc, "")
	require.NoError(t, err)
	require.Len(t, s.Primitives, 1)
	assert.Equal(t, "tri_p0", s.Primitives[0].Mesh.Name)
}

func encodePNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := range 2 {
		for x := range 2 {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func texturedDoc(t *testing.T) *gltf.Document {
	t.Helper()
	doc := triangleDoc(t)
	data := encodePNG(t, color.RGBA{R: 255, G: 128, A: 255})
	doc.Images = []*gltf.Image{{Name: "albedo", URI: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)}}
	doc.Textures = []*gltf.Texture{{Source: gltf.Index(0)}}
	doc.Materials[0].PBRMetallicRoughness = &gltf.PBRMetallicRoughness{
		BaseColorTexture: &gltf.TextureInfo{Index: 0},
	}
	return doc
}

func TestFromGLTFLoadsBaseColorTexture(t *testing.T) {
	s, err := FromGLTF(texturedDoc(t), "")
	require.NoError(t, err)

	m := s.Materials[0]
	require.NotNil(t, m.AlbedoTexture)
	assert.Equal(t, 2, m.AlbedoTexture.Width)
	assert.Equal(t, []byte{255, 128, 0, 255}, m.AlbedoTexture.Pixels[:4])
	assert.Nil(t, m.RoughMetalTexture)
	assert.Nil(t, m.NormalTexture)
}

func TestGLTFBaseColorTextureReachesMaterialProgram(t *testing.T) {
	s, err := FromGLTF(texturedDoc(t), "")
	require.NoError(t, err)

	dev := gputest.New()
	prog, err := shader.New(dev, gpu.ProgramSource{Name: "mesh"})
	require.NoError(t, err)
	materials, err := s.BuildMaterials(dev, prog)
	require.NoError(t, err)
	require.Len(t, materials, 1)

	mat := materials[0]
	require.NotNil(t, mat.AlbedoTexture)
	assert.Nil(t, mat.NormalTexture)
	require.NoError(t, mat.Apply(DefaultCamera(core.NewSize(4, 4))))

	u := prog.GPU().(*gputest.Program).Uniforms
	assert.Equal(t, true, u["has_color_texture"])
	assert.Equal(t, false, u["has_normal_texture"])
	assert.Equal(t, gpu.Sampler{Unit: UnitAlbedo, Texture: mat.AlbedoTexture}, u["color_texture"])

	tex := dev.Texture("albedo")
	require.NotNil(t, tex)
	assert.Equal(t, gpu.FormatSRGBA8, tex.Format())
	assert.Len(t, tex.Pixels, 2*2*4)
	assert.Len(t, dev.Filter(gputest.OpUpload), 1)

	s.Release()
	assert.True(t, tex.Released)
}

func TestBuildMaterialsUploadsSharedTextureOncePerColorSpace(t *testing.T) {
	doc := texturedDoc(t)
	doc.Materials = append(doc.Materials, &gltf.Material{
		Name:          "shared",
		NormalTexture: &gltf.NormalTexture{Index: gltf.Index(0)},
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorTexture: &gltf.TextureInfo{Index: 0},
		},
	})
	s, err := FromGLTF(doc, "")
	require.NoError(t, err)

	dev := gputest.New()
	prog, err := shader.New(dev, gpu.ProgramSource{Name: "mesh"})
	require.NoError(t, err)
	materials, err := s.BuildMaterials(dev, prog)
	require.NoError(t, err)

	assert.Same(t, materials[0].AlbedoTexture, materials[1].AlbedoTexture)
	assert.Equal(t, gpu.FormatRGBA8, materials[1].NormalTexture.Format())
	assert.Len(t, dev.Filter(gputest.OpUpload), 2)
}

func TestFromGLTFLoadsExternalImage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rough metal.png"), encodePNG(t, color.RGBA{G: 200, B: 50, A: 255}), 0o600))

	doc := triangleDoc(t)
	doc.Images = []*gltf.Image{{URI: "rough%20metal.png"}}
	doc.Textures = []*gltf.Texture{{Source: gltf.Index(0)}}
	doc.Materials[0].PBRMetallicRoughness = &gltf.PBRMetallicRoughness{
		MetallicRoughnessTexture: &gltf.TextureInfo{Index: 0},
	}

	s, err := FromGLTF(doc, dir)
	require.NoError(t, err)
	require.NotNil(t, s.Materials[0].RoughMetalTexture)
	assert.Equal(t, []byte{0, 200, 50, 255}, s.Materials[0].RoughMetalTexture.Pixels[:4])
}

func TestFromGLTFSkipsBrokenImages(t *testing.T) {
	doc := texturedDoc(t)
	doc.Images = append(doc.Images, &gltf.Image{URI: "missing.png"})
	doc.Textures = append(doc.Textures,
		&gltf.Texture{Source: gltf.Index(1)},
		&gltf.Texture{Source: gltf.Index(9)},
		&gltf.Texture{},
	)
	doc.Materials[0].PBRMetallicRoughness.MetallicRoughnessTexture = &gltf.TextureInfo{Index: 1}
	doc.Materials[0].NormalTexture = &gltf.NormalTexture{Index: gltf.Index(12)}

	s, err := FromGLTF(doc, t.TempDir())
	require.NoError(t, err)
	m := s.Materials[0]
	assert.NotNil(t, m.AlbedoTexture)
	assert.Nil(t, m.RoughMetalTexture)
	assert.Nil(t, m.NormalTexture)
	assert.Len(t, s.Primitives, 1)
}

func TestComposeRotatesChildOffset(t *testing.T) {
	parent := core.NewTransform()
	parent.Rotation = mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0})

	got := compose(parent, core.Translated(mgl32.Vec3{1, 0, 0}))

	assert.InDeltaSlice(t, []float32{0, 0, -1}, got.Position[:], 1e-5)
}
