// Command demo renders a small PBR scene through the deferred pipeline.
//
// Controls: drag with the right mouse button to orbit, scroll to zoom,
// B toggles bloom, E toggles auto-exposure, G cycles the G-buffer debug
// views and Delete destroys a sphere the scene still submits.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"deferred-renderer/config"
	"deferred-renderer/core"
	"deferred-renderer/deferred"
	"deferred-renderer/internal/opengl"
	"deferred-renderer/light"
	"deferred-renderer/renderer"
	"deferred-renderer/resource"
	"deferred-renderer/scene"
	"deferred-renderer/shader"
)

var (
	configPath = flag.String("config", "", "TOML settings file")
	gltfPath   = flag.String("gltf", "", "optional .gltf/.glb model to add to the scene")
	debug      = flag.Bool("debug", false, "log every frame")
)

var skyColor = core.Color{R: 0.02, G: 0.02, B: 0.03, A: 1}

type object struct {
	material renderer.MaterialRef
	mesh     resource.Weak[scene.Mesh]
	at       core.Transform
}

// world owns every mesh and material; the renderer only holds weak handles.
type world struct {
	materials *resource.Pool[scene.Material]
	meshes    *resource.Pool[scene.Mesh]
	objects   []object
	spheres   []resource.Weak[scene.Mesh]
	models    []*scene.GLTFScene
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "demo:", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if *debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func run() error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	renderer.SetLogger(log)

	settings := config.Default()
	if *configPath != "" {
		if settings, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	window, err := NewWindow(settings.Window)
	if err != nil {
		return err
	}
	defer window.Destroy()

	dev, err := opengl.NewDevice()
	if err != nil {
		return err
	}
	defer dev.Release()

	r, err := renderer.New(dev, window.FramebufferSize(), settings)
	if err != nil {
		return err
	}
	defer r.Close()
	window.OnResize(func(size core.Size) {
		if size.Empty() {
			return
		}
		if err := r.Resize(size); err != nil {
			log.Error("resize failed", zap.Error(err))
		}
	})

	sky, err := deferred.NewSimpleSky(dev)
	if err != nil {
		return err
	}
	defer sky.Close()
	r.SetEnvironment(sky)
	r.SetLights(sceneLights())

	program, err := deferred.NewMaterialProgram(dev, "material.standard")
	if err != nil {
		return err
	}
	defer program.Close()

	w, err := buildWorld(dev, program)
	if err != nil {
		return err
	}
	defer w.release()
	if *gltfPath != "" {
		if err := w.addGLTF(dev, program, *gltfPath); err != nil {
			return err
		}
	}

	return loop(window, r, w, log)
}

func loop(window *Window, r *renderer.Renderer, w *world, log *zap.Logger) error {
	camera := scene.NewOrbitCamera(mgl32.Vec3{0, 0.5, 0}, 9, r.Size())
	window.SetScrollCallback(func(_, yoff float64) { camera.Zoom(float32(-yoff) * 0.5) })

	keys := newKeyEdges(window)
	debugView := -1
	lastX, lastY := window.CursorPos()
	last := time.Now()
	var titleAt time.Time

	for !window.ShouldClose() {
		window.PollEvents()
		now := time.Now()
		dt := now.Sub(last)
		last = now

		x, y := window.CursorPos()
		if window.IsMouseButtonPressed(glfw.MouseButtonRight) {
			camera.Orbit(float32(lastX-x)*0.005, float32(y-lastY)*0.005)
		}
		lastX, lastY = x, y

		if keys.pressed(glfw.KeyB) {
			toggle(r, log, func(s *config.Settings) { s.Bloom.Bypass = !s.Bloom.Bypass })
		}
		if keys.pressed(glfw.KeyE) {
			toggle(r, log, func(s *config.Settings) { s.Exposure.Auto = !s.Exposure.Auto })
		}
		if keys.pressed(glfw.KeyG) {
			debugView++
			if debugView > int(deferred.TargetRoughMetal) {
				debugView = -1
			}
		}
		if keys.pressed(glfw.KeyDelete) {
			w.destroySphere()
		}

		if r.Size().Empty() || window.FramebufferSize().Empty() {
			continue
		}
		camera.UpdateAspectRatio(r.Size())
		if err := r.BeginRender(camera.Camera); err != nil {
			return err
		}
		w.submit(r)
		if err := r.Flush(dt, skyColor); err != nil {
			log.Error("frame failed", zap.Error(err))
		}
		if debugView >= 0 {
			if err := r.DebugTarget(deferred.Target(debugView), r.Output()); err != nil {
				log.Error("debug view failed", zap.Error(err))
			}
		}
		window.SwapBuffers()

		if now.Sub(titleAt) > time.Second {
			titleAt = now
			window.SetTitle(fmt.Sprintf("deferred-renderer | %v", r.Stats()))
		}
	}
	return nil
}

func toggle(r *renderer.Renderer, log *zap.Logger, fn func(*config.Settings)) {
	s := r.Settings()
	fn(&s)
	if err := r.SetSettings(s); err != nil {
		log.Warn("settings rejected", zap.Error(err))
	}
}

// keyEdges reports key presses once per press rather than once per frame.
type keyEdges struct {
	window *Window
	down   map[glfw.Key]bool
}

func newKeyEdges(w *Window) *keyEdges {
	return &keyEdges{window: w, down: map[glfw.Key]bool{}}
}

func (k *keyEdges) pressed(key glfw.Key) bool {
	now := k.window.IsKeyPressed(key)
	was := k.down[key]
	k.down[key] = now
	return now && !was
}

// ── Scene ─────────────────────────────────────────────────────────────────────

func sceneLights() []light.Entry {
	sunDir := mgl32.Vec3{-0.4, -1, -0.3}.Normalize()
	sun := core.NewTransform()
	sun.Rotation = mgl32.QuatBetweenVectors(mgl32.Vec3{0, 0, -1}, sunDir)

	return []light.Entry{
		{Transform: sun, Light: light.Directional(mgl32.Vec3{1, 0.95, 0.85}, 3)},
		{Transform: core.NewTransform(), Light: light.Ambient(mgl32.Vec3{0.4, 0.45, 0.6}, 0.05)},
		{Transform: core.Translated(mgl32.Vec3{2, 1.5, 2}), Light: light.Point(mgl32.Vec3{1, 0.3, 0.1}, 20)},
		{Transform: core.Translated(mgl32.Vec3{-2.5, 1, -1}), Light: light.Point(mgl32.Vec3{0.2, 0.5, 1}, 15)},
	}
}

func buildWorld(dev *opengl.Device, program *shader.Program) (*world, error) {
	w := &world{
		materials: resource.NewPool[scene.Material](),
		meshes:    resource.NewPool[scene.Mesh](),
	}

	ground, err := w.addMesh(dev, scene.CreatePlane(20, 20, 1))
	if err != nil {
		return nil, err
	}
	floor := w.materials.Insert(scene.NewMaterial("floor", program, core.Color{R: 0.5, G: 0.5, B: 0.5, A: 1}, 0.8, 0))
	w.objects = append(w.objects, object{material: floor, mesh: ground, at: core.NewTransform()})

	// A row of spheres sweeping roughness, in a dielectric and a metal row.
	for row, metallic := range []float32{0, 1} {
		name := fmt.Sprintf("sphere-row-%d", row)
		albedo := core.Color{R: 0.9, G: 0.6, B: 0.3, A: 1}
		if metallic == 0 {
			albedo = core.Color{R: 0.7, G: 0.1, B: 0.1, A: 1}
		}
		for i := range 5 {
			roughness := 0.1 + float32(i)*0.2
			material := w.materials.Insert(scene.NewMaterial(
				fmt.Sprintf("%s-%d", name, i), program, albedo, roughness, metallic))
			sphere, err := w.addMesh(dev, scene.CreateSphere(0.4, 32, 16))
			if err != nil {
				return nil, err
			}
			at := core.Translated(mgl32.Vec3{float32(i)*1.1 - 2.2, 0.5 + float32(row)*1.1, 0})
			w.objects = append(w.objects, object{material: material, mesh: sphere, at: at})
			w.spheres = append(w.spheres, sphere)
		}
	}

	cube, err := w.addMesh(dev, scene.CreateCube(1))
	if err != nil {
		return nil, err
	}
	glow := w.materials.Insert(scene.NewMaterial("cube", program, core.Color{R: 8, G: 8, B: 6, A: 1}, 0.5, 0))
	w.objects = append(w.objects, object{material: glow, mesh: cube, at: core.Translated(mgl32.Vec3{0, 0.5, -3})})
	return w, nil
}

func (w *world) addMesh(dev *opengl.Device, m *scene.Mesh) (resource.Weak[scene.Mesh], error) {
	if err := m.Upload(dev); err != nil {
		return resource.Weak[scene.Mesh]{}, err
	}
	return w.meshes.Insert(m), nil
}

func (w *world) addGLTF(dev *opengl.Device, program *shader.Program, path string) error {
	model, err := scene.LoadGLTF(path)
	if err != nil {
		return err
	}
	built, err := model.BuildMaterials(dev, program)
	w.models = append(w.models, model)
	if err != nil {
		return err
	}
	materials := make([]renderer.MaterialRef, len(built))
	for i, m := range built {
		materials[i] = w.materials.Insert(m)
	}
	fallback := w.materials.Insert(scene.NewMaterial("gltf-default", program, core.ColorWhite, 0.5, 0))

	for _, p := range model.Primitives {
		mesh, err := w.addMesh(dev, p.Mesh)
		if err != nil {
			return err
		}
		material := fallback
		if p.Material >= 0 {
			material = materials[p.Material]
		}
		w.objects = append(w.objects, object{material: material, mesh: mesh, at: p.Transform})
	}
	return nil
}

func (w *world) submit(r *renderer.Renderer) {
	for _, o := range w.objects {
		r.SubmitMesh(o.material, scene.WithTransform(o.mesh, o.at))
	}
}

// destroySphere frees one sphere. Its object entry stays, so the renderer
// keeps receiving the dead handle and must skip it.
func (w *world) destroySphere() {
	for len(w.spheres) > 0 {
		h := w.spheres[0]
		w.spheres = w.spheres[1:]
		if m, ok := w.meshes.Remove(h); ok {
			m.Release()
			return
		}
	}
}

func (w *world) release() {
	w.meshes.Each(func(_ resource.Weak[scene.Mesh], m *scene.Mesh) bool {
		m.Release()
		return true
	})
	for _, m := range w.models {
		m.Release()
	}
}
