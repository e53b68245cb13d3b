// Package renderer drives one frame of the deferred pipeline:
// G-buffer → lighting → auto-exposure → bloom → composite.
//
// A frame is BeginRender, any number of SubmitMesh calls, then Flush.
// Submissions are weak: the renderer resolves them at flush time and skips
// whatever its owner destroyed in between.
package renderer

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deferred-renderer/config"
	"deferred-renderer/core"
	"deferred-renderer/deferred"
	"deferred-renderer/gpu"
	"deferred-renderer/internal/logger"
	"deferred-renderer/light"
	"deferred-renderer/postprocess"
	"deferred-renderer/resource"
	"deferred-renderer/scene"
)

var (
	ErrFrameNotStarted = errors.New("renderer: no frame in progress")
	ErrFrameInProgress = errors.New("renderer: frame already in progress")
)

type (
	// MaterialRef is a weak handle to a material owned by the caller.
	MaterialRef = resource.Weak[scene.Material]
	// MeshRef is a weak mesh handle with the world transform to draw it at.
	MeshRef = scene.Transformed[resource.Weak[scene.Mesh]]
)

type frameState int

const (
	stateIdle frameState = iota
	stateRecording
)

// batch collects the meshes submitted under one material, in order.
type batch struct {
	material MaterialRef
	meshes   []MeshRef
}

// Renderer owns every intermediate texture of the pipeline across frames.
// It must be used from the thread that created it.
type Renderer struct {
	dev   gpu.Device
	guard gpu.ThreadGuard
	size  core.Size

	settings config.Settings
	output   gpu.Framebuffer

	state  frameState
	camera scene.Camera
	queue  []batch

	gbuf     *deferred.GBuffer
	lighting *deferred.Lighting
	post     *postprocess.Chain
	lights   *light.Buffer

	lightEntries []light.Entry
	env          deferred.Environment

	stats   Stats
	beganAt time.Time
}

// New builds every pass for size. The settings are validated, and the bloom
// chain length must also fit size.
func New(dev gpu.Device, size core.Size, settings config.Settings) (*Renderer, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if size.Empty() {
		return nil, fmt.Errorf("renderer %v: %w", size, gpu.ErrZeroSize)
	}
	r := &Renderer{
		dev:      dev,
		guard:    gpu.NewThreadGuard(),
		size:     size,
		settings: settings,
		output:   dev.Backbuffer(),
		camera:   scene.DefaultCamera(size),
		lights:   light.NewBuffer(dev),
	}
	if err := r.init(); err != nil {
		r.Close()
		return nil, err
	}
	logger.L().Info("renderer created",
		zap.Stringer("size", size),
		zap.Int("bloom_levels", settings.Bloom.MipChainLength),
		zap.String("dead_mesh_policy", string(settings.Renderer.DeadMeshPolicy)))
	return r, nil
}

func (r *Renderer) init() error {
	var err error
	if r.gbuf, err = deferred.NewGBuffer(r.dev, r.size); err != nil {
		return err
	}
	if r.lighting, err = deferred.NewLighting(r.dev, r.gbuf); err != nil {
		return err
	}
	r.post, err = postprocess.NewChain(r.dev, r.size,
		r.settings.Bloom.MipChainLength, r.settings.Exposure.AdaptationRate)
	return err
}

// SetLogger installs the logger every renderer package writes to. nil
// silences them again.
func SetLogger(l *zap.Logger) { logger.Set(l) }

func (r *Renderer) Size() core.Size { return r.size }

// Camera is the camera of the current or last frame.
func (r *Renderer) Camera() scene.Camera { return r.camera }

// SetOutput redirects the composite. The default is the device backbuffer.
func (r *Renderer) SetOutput(fb gpu.Framebuffer) { r.output = fb }

func (r *Renderer) Output() gpu.Framebuffer { return r.output }

// SetEnvironment installs the background and image-based light source used
// by the lighting pass. nil removes it.
func (r *Renderer) SetEnvironment(env deferred.Environment) { r.env = env }

// SetLights replaces the light set. The GPU buffer is only rebuilt at the
// next flush, and only if the set actually changed.
func (r *Renderer) SetLights(entries []light.Entry) {
	r.lightEntries = append(r.lightEntries[:0], entries...)
}

func (r *Renderer) Settings() config.Settings { return r.settings }

// SetSettings replaces the tunables; the next Flush reads them. The bloom
// chain length is fixed at construction and cannot change here.
func (r *Renderer) SetSettings(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Bloom.MipChainLength != r.settings.Bloom.MipChainLength {
		return fmt.Errorf("%w: bloom.mip_chain_length is fixed at %d",
			config.ErrInvalid, r.settings.Bloom.MipChainLength)
	}
	r.settings = s
	return nil
}

// BeginRender starts a frame seen through camera and clears the output.
func (r *Renderer) BeginRender(camera scene.Camera) error {
	if err := r.guard.Check(); err != nil {
		return err
	}
	if r.state == stateRecording {
		return ErrFrameInProgress
	}
	r.beganAt = time.Now()
	r.camera = camera
	r.stats.Submitted = 0
	r.stats.Rendered = 0

	r.dev.Viewport(r.size)
	if err := r.output.Clear(gpu.ClearColor|gpu.ClearDepth, core.ColorBlack); err != nil {
		return fmt.Errorf("clear output: %w", err)
	}
	r.state = stateRecording
	return nil
}

// SubmitMesh queues mesh under material. Batches are keyed by material
// handle and keep first-submission order. Submitting outside a frame is
// logged and ignored; submitting from another thread panics.
func (r *Renderer) SubmitMesh(material MaterialRef, mesh MeshRef) {
	r.guard.Must()
	if r.state != stateRecording {
		logger.L().Warn("mesh submitted outside a frame, ignored")
		return
	}
	r.stats.Submitted++
	for i := range r.queue {
		if r.queue[i].material == material {
			r.queue[i].meshes = append(r.queue[i].meshes, mesh)
			return
		}
	}
	r.queue = append(r.queue, batch{material: material, meshes: []MeshRef{mesh}})
}

// Flush draws the queued batches and runs the rest of the pipeline into the
// output. clear is the lighting background before any environment or light
// is added. Stale references skip their batch; GPU errors abort the frame.
// The queue is drained either way.
func (r *Renderer) Flush(dt time.Duration, clear core.Color) error {
	if err := r.guard.Check(); err != nil {
		return err
	}
	if r.state != stateRecording {
		return ErrFrameNotStarted
	}
	renderStart := time.Now()
	defer r.endFrame()

	s := r.settings
	r.post.Exposure.Rate = s.Exposure.AdaptationRate

	rebuilt, err := r.lights.Update(r.lightEntries)
	if err != nil {
		return err
	}
	if rebuilt {
		r.stats.LightRebuilds++
	}

	if err := r.gbuf.Begin(); err != nil {
		return err
	}
	r.stats.Batches, r.stats.SkippedBatches = 0, 0
	for i, b := range r.queue {
		material, meshes, ok := resolve(i, b, s.Renderer.DeadMeshPolicy)
		if !ok {
			r.stats.SkippedBatches++
			continue
		}
		if len(meshes) == 0 {
			continue
		}
		if err := r.gbuf.DrawMeshes(r.camera, material, meshes); err != nil {
			return fmt.Errorf("batch %d (%s): %w", i, material.Name, err)
		}
		r.stats.Batches++
		r.stats.Rendered += len(meshes)
	}

	hdr, err := r.lighting.Process(r.camera, r.lights, r.env, clear)
	if err != nil {
		return err
	}
	avg, err := r.post.Process(r.output, hdr, dt, postprocess.Settings{
		AutoExposure:  s.Exposure.Auto,
		ExposureBias:  s.Exposure.Bias,
		BloomRadius:   s.Bloom.Radius,
		BloomStrength: s.Bloom.Strength,
		BloomBypass:   s.Bloom.Bypass,
		LensFlare: postprocess.LensFlare{
			Strength:     s.LensFlare.Strength,
			Distortion:   s.LensFlare.Distortion,
			Threshold:    s.LensFlare.Threshold,
			GhostSpacing: s.LensFlare.GhostSpacing,
			GhostCount:   s.LensFlare.GhostCount,
		},
	})
	if err != nil {
		return err
	}

	r.stats.AverageLuminance = avg
	r.stats.LastRender = time.Since(renderStart)
	r.stats.LastScene = time.Since(r.beganAt)
	logger.L().Debug("frame flushed",
		zap.Int("submitted", r.stats.Submitted),
		zap.Int("rendered", r.stats.Rendered),
		zap.Int("batches", r.stats.Batches),
		zap.Duration("render", r.stats.LastRender))
	return nil
}

func (r *Renderer) endFrame() {
	clear(r.queue)
	r.queue = r.queue[:0]
	r.state = stateIdle
}

// resolve upgrades a batch's handles. ok is false when the batch must be
// skipped; exactly one warning is logged per skipped batch.
func resolve(index int, b batch, policy config.DeadMeshPolicy) (*scene.Material, []deferred.MeshInstance, bool) {
	material, ok := b.material.Upgrade()
	if !ok {
		logger.L().Warn("material dropped before flush, skipping batch",
			zap.Int("batch", index), zap.Int("meshes", len(b.meshes)))
		return nil, nil, false
	}

	meshes := make([]deferred.MeshInstance, 0, len(b.meshes))
	dead := 0
	for _, ref := range b.meshes {
		mesh, ok := ref.Value.Upgrade()
		if !ok {
			dead++
			continue
		}
		meshes = append(meshes, scene.WithTransform(mesh, ref.Transform))
	}
	if dead == 0 {
		return material, meshes, true
	}

	if policy == config.DropMesh {
		logger.L().Warn("mesh dropped before flush, drawing the rest of the batch",
			zap.Int("batch", index), zap.String("material", material.Name),
			zap.Int("dead", dead), zap.Int("meshes", len(b.meshes)))
		return material, meshes, true
	}
	logger.L().Warn("mesh dropped before flush, skipping batch",
		zap.Int("batch", index), zap.String("material", material.Name),
		zap.Int("dead", dead), zap.Int("meshes", len(b.meshes)))
	return nil, nil, false
}

// Resize reallocates every pass for the new viewport and updates the
// camera's aspect ratio. It cannot run in the middle of a frame. When a pass
// fails, the passes are resized back and the renderer keeps its old size.
func (r *Renderer) Resize(size core.Size) error {
	if err := r.guard.Check(); err != nil {
		return err
	}
	if r.state == stateRecording {
		return ErrFrameInProgress
	}
	if size.Empty() {
		return fmt.Errorf("renderer resize %v: %w", size, gpu.ErrZeroSize)
	}
	passes := []interface{ Resize(core.Size) error }{r.gbuf, r.lighting, r.post}
	for i, p := range passes {
		if err := p.Resize(size); err != nil {
			// Every pass sampled by the next frame must share one size.
			for _, done := range passes[:i+1] {
				if rerr := done.Resize(r.size); rerr != nil {
					logger.L().Error("renderer resize rollback failed",
						zap.Stringer("size", r.size), zap.Error(rerr))
				}
			}
			return err
		}
	}
	r.size = size
	r.camera.UpdateAspectRatio(size)
	logger.L().Info("renderer resized", zap.Stringer("size", size))
	return nil
}

// DebugTarget blits one G-buffer target into fb.
func (r *Renderer) DebugTarget(t deferred.Target, fb gpu.Framebuffer) error {
	return r.gbuf.Debug(t, fb)
}

// Lighting exposes the lighting pass, mainly for its program.
func (r *Renderer) Lighting() *deferred.Lighting { return r.lighting }

// Postprocess exposes the post-process chain.
func (r *Renderer) Postprocess() *postprocess.Chain { return r.post }

func (r *Renderer) Stats() Stats { return r.stats }

// Close releases every GPU resource the renderer owns. Submitted meshes and
// materials belong to the caller and are left alone.
func (r *Renderer) Close() {
	if r.post != nil {
		r.post.Close()
		r.post = nil
	}
	if r.lighting != nil {
		r.lighting.Close()
		r.lighting = nil
	}
	if r.gbuf != nil {
		r.gbuf.Close()
		r.gbuf = nil
	}
	if r.lights != nil {
		r.lights.Close()
		r.lights = nil
	}
}
