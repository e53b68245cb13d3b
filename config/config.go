// Package config holds the renderer's tunables and construction options and
// loads them from TOML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid marks a setting outside its allowed range.
var ErrInvalid = errors.New("config: invalid setting")

// Allowed ranges.
const (
	MinMipChainLength = 1
	MaxMipChainLength = 12
	MaxGhostCount     = 16
)

// DeadMeshPolicy decides what a flush does with a batch in which some mesh
// reference no longer resolves.
type DeadMeshPolicy string

const (
	// SkipBatch draws nothing for the whole batch.
	SkipBatch DeadMeshPolicy = "skip-batch"
	// DropMesh draws the batch without the dead meshes.
	DropMesh DeadMeshPolicy = "drop-mesh"
)

func (p DeadMeshPolicy) Valid() bool { return p == SkipBatch || p == DropMesh }

type Exposure struct {
	Auto           bool    `toml:"auto"`
	Bias           float32 `toml:"bias"`
	AdaptationRate float32 `toml:"adaptation_rate"`
}

type Bloom struct {
	Radius         float32 `toml:"radius"`
	Strength       float32 `toml:"strength"`
	Bypass         bool    `toml:"bypass"`
	MipChainLength int     `toml:"mip_chain_length"`
}

type LensFlare struct {
	Strength     float32 `toml:"strength"`
	Distortion   float32 `toml:"distortion"`
	Threshold    float32 `toml:"threshold"`
	GhostSpacing float32 `toml:"ghost_spacing"`
	GhostCount   int     `toml:"ghost_count"`
}

type Renderer struct {
	DeadMeshPolicy DeadMeshPolicy `toml:"dead_mesh_policy"`
}

// Window is only read by the demo binary.
type Window struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Title  string `toml:"title"`
	VSync  bool   `toml:"vsync"`
}

// Settings is the full configuration. Exposure, Bloom (except the chain
// length) and LensFlare may change between frames; the rest is read once.
type Settings struct {
	Exposure  Exposure  `toml:"exposure"`
	Bloom     Bloom     `toml:"bloom"`
	LensFlare LensFlare `toml:"lens_flare"`
	Renderer  Renderer  `toml:"renderer"`
	Window    Window    `toml:"window"`
}

func Default() Settings {
	return Settings{
		Exposure: Exposure{
			Auto:           true,
			Bias:           1,
			AdaptationRate: 5,
		},
		Bloom: Bloom{
			Radius:         1e-2,
			Strength:       5e-2,
			MipChainLength: 5,
		},
		LensFlare: LensFlare{
			Strength:     0.1,
			Distortion:   2,
			Threshold:    1,
			GhostSpacing: 0.35,
			GhostCount:   4,
		},
		Renderer: Renderer{DeadMeshPolicy: SkipBatch},
		Window: Window{
			Width:  1280,
			Height: 720,
			Title:  "deferred-renderer",
			VSync:  true,
		},
	}
}

// Parse decodes TOML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Settings, error) {
	return decode(bytes.NewReader(data))
}

// Load reads and parses the file at path.
func Load(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	s, err := decode(f)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func decode(r io.Reader) (Settings, error) {
	s := Default()
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Settings{}, fmt.Errorf("config: %w\n%s", err, strict.String())
		}
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Marshal encodes s as TOML.
func (s Settings) Marshal() ([]byte, error) {
	return toml.Marshal(s)
}

// Validate reports every setting outside its range. Each reported error
// wraps ErrInvalid.
func (s Settings) Validate() error {
	var errs []error
	check := func(ok bool, key string, v any, want string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s = %v, want %s", ErrInvalid, key, v, want))
		}
	}
	check(s.Exposure.Bias > 0, "exposure.bias", s.Exposure.Bias, "> 0")
	check(s.Exposure.AdaptationRate > 0, "exposure.adaptation_rate", s.Exposure.AdaptationRate, "> 0")
	check(s.Bloom.Radius >= 0, "bloom.radius", s.Bloom.Radius, ">= 0")
	check(s.Bloom.Strength >= 0, "bloom.strength", s.Bloom.Strength, ">= 0")
	check(s.Bloom.MipChainLength >= MinMipChainLength && s.Bloom.MipChainLength <= MaxMipChainLength,
		"bloom.mip_chain_length", s.Bloom.MipChainLength, fmt.Sprintf("%d..%d", MinMipChainLength, MaxMipChainLength))
	check(s.LensFlare.Strength >= 0, "lens_flare.strength", s.LensFlare.Strength, ">= 0")
	check(s.LensFlare.Threshold >= 0, "lens_flare.threshold", s.LensFlare.Threshold, ">= 0")
	check(s.LensFlare.GhostCount >= 0 && s.LensFlare.GhostCount <= MaxGhostCount,
		"lens_flare.ghost_count", s.LensFlare.GhostCount, fmt.Sprintf("0..%d", MaxGhostCount))
	check(s.Renderer.DeadMeshPolicy.Valid(), "renderer.dead_mesh_policy", s.Renderer.DeadMeshPolicy,
		fmt.Sprintf("%q or %q", SkipBatch, DropMesh))
	check(s.Window.Width > 0 && s.Window.Height > 0, "window", fmt.Sprintf("%dx%d", s.Window.Width, s.Window.Height), "non-zero size")
	return errors.Join(errs...)
}
