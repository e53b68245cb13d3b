package light

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"go.uber.org/zap"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
	"deferred-renderer/internal/logger"
)

// Entry is an active light with its world transform.
type Entry struct {
	Transform core.Transform
	Light     Light
}

type hashKey struct {
	Position [3]float32
	Rotation [4]float32
	Scale    [3]float32
	Kind     uint32
	Color    [3]float32
	Power    float32
}

// Hash fingerprints a light set. Order matters: the same lights listed in a
// different order hash differently and trigger a rebuild.
func Hash(entries []Entry) uint64 {
	h := fnv.New64a()
	for _, e := range entries {
		t := e.Transform
		key := hashKey{
			Position: t.Position,
			Rotation: [4]float32{t.Rotation.W, t.Rotation.V[0], t.Rotation.V[1], t.Rotation.V[2]},
			Scale:    t.Scale,
			Kind:     uint32(e.Light.Kind),
			Color:    e.Light.Color,
			Power:    e.Light.Power,
		}
		// writes to a hash never fail
		_ = binary.Write(h, binary.LittleEndian, &key)
	}
	return h.Sum64()
}

// Buffer is the GPU-resident light array. It is rebuilt only when the
// fingerprint of the light set changes.
type Buffer struct {
	dev gpu.Device

	buf      gpu.UniformBuffer
	records  []Record
	hash     uint64
	rebuilds int
}

// NewBuffer starts empty, fingerprinted as the empty light set.
func NewBuffer(dev gpu.Device) *Buffer {
	return &Buffer{dev: dev, hash: Hash(nil)}
}

// Update rebuilds the buffer when entries differ from the last uploaded set
// and reports whether it did.
func (b *Buffer) Update(entries []Entry) (bool, error) {
	h := Hash(entries)
	if h == b.hash {
		return false, nil
	}

	records := make([]Record, len(entries))
	var buf gpu.UniformBuffer
	if len(entries) > 0 {
		elements := make([][]byte, len(entries))
		for i, e := range entries {
			records[i] = e.Light.WithTransform(e.Transform)
			elements[i] = records[i].Encode()
		}
		var err error
		buf, err = b.dev.CreateUniformBuffer("lights", elements)
		if err != nil {
			return false, fmt.Errorf("rebuild light buffer: %w", err)
		}
	}

	if b.buf != nil {
		b.buf.Release()
	}
	b.buf = buf
	b.records = records
	b.hash = h
	b.rebuilds++
	logger.L().Info("rebuilt light buffer",
		zap.Int("lights", len(records)), zap.Uint64("hash", h))
	return true, nil
}

// Len is the number of lights in the buffer.
func (b *Buffer) Len() int { return len(b.records) }

// GPU returns the uniform buffer, or nil when there are no lights.
func (b *Buffer) GPU() gpu.UniformBuffer { return b.buf }

// Records returns the resolved lights last uploaded.
func (b *Buffer) Records() []Record { return b.records }

// Rebuilds counts uploads since construction.
func (b *Buffer) Rebuilds() int { return b.rebuilds }

func (b *Buffer) Close() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
	b.records = nil
}
