// Package light resolves scene lights into GPU records and keeps the light
// uniform buffer in sync with the active light set.
package light

import (
	"encoding/binary"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"deferred-renderer/core"
)

type Kind uint32

const (
	KindPoint Kind = iota
	KindDirectional
	KindAmbient
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindDirectional:
		return "directional"
	case KindAmbient:
		return "ambient"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Light is a light source as the scene describes it. Position and direction
// come from the transform it is attached to.
type Light struct {
	Kind  Kind
	Color mgl32.Vec3
	Power float32
}

func Point(color mgl32.Vec3, power float32) Light {
	return Light{Kind: KindPoint, Color: color, Power: power}
}

func Directional(color mgl32.Vec3, power float32) Light {
	return Light{Kind: KindDirectional, Color: color, Power: power}
}

func Ambient(color mgl32.Vec3, power float32) Light {
	return Light{Kind: KindAmbient, Color: color, Power: power}
}

// WithTransform places the light in the world. Point lights take the
// transform's position and scale their intensity by the scale's length;
// directional lights shine along the transform's forward axis; ambient
// lights ignore the transform.
func (l Light) WithTransform(t core.Transform) Record {
	r := Record{Kind: l.Kind, Color: l.Color.Mul(l.Power)}
	switch l.Kind {
	case KindPoint:
		r.PosDir = t.Position
		r.Color = r.Color.Mul(t.Scale.Len())
	case KindDirectional:
		r.PosDir = t.Forward().Normalize()
	}
	return r
}

// Record is one resolved light as the lighting shader sees it.
type Record struct {
	Kind   Kind
	PosDir mgl32.Vec3 // position for point lights, direction for directional
	Color  mgl32.Vec3
}

// std140 layout of the Light uniform block:
//
//	uint kind;     // offset 0
//	vec3 pos_dir;  // offset 16
//	vec3 color;    // offset 32
type std140Record struct {
	Kind   uint32
	_      [3]uint32
	PosDir [3]float32
	_      float32
	Color  [3]float32
	_      float32
}

// RecordSize is the std140 size of one encoded Record.
var RecordSize = binary.Size(std140Record{})

// Encode returns the std140 bytes of the record.
func (r Record) Encode() []byte {
	b, err := binary.Append(nil, binary.LittleEndian, std140Record{
		Kind:   uint32(r.Kind),
		PosDir: r.PosDir,
		Color:  r.Color,
	})
	if err != nil {
		// fixed-size struct; Append cannot fail
		panic(err)
	}
	return b
}

// DecodeRecord is the inverse of Encode.
func DecodeRecord(b []byte) (Record, error) {
	var raw std140Record
	if _, err := binary.Decode(b, binary.LittleEndian, &raw); err != nil {
		return Record{}, fmt.Errorf("decode light record: %w", err)
	}
	return Record{Kind: Kind(raw.Kind), PosDir: raw.PosDir, Color: raw.Color}, nil
}
