package renderer

import (
	"fmt"
	"time"
)

// Stats describes the most recent frame.
type Stats struct {
	Submitted      int // meshes submitted since BeginRender
	Rendered       int // meshes drawn into the G-buffer
	Batches        int
	SkippedBatches int

	// LightRebuilds counts light buffer uploads since construction.
	LightRebuilds int

	AverageLuminance float32

	// LastRender is the time spent in Flush, LastScene the time from
	// BeginRender to the end of Flush.
	LastRender time.Duration
	LastScene  time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("%d/%d meshes, %d batches (%d skipped), avg luminance %.3f, render %v, scene %v",
		s.Rendered, s.Submitted, s.Batches, s.SkippedBatches, s.AverageLuminance,
		s.LastRender.Round(time.Microsecond), s.LastScene.Round(time.Microsecond))
}
