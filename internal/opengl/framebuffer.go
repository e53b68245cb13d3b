package opengl

import (
	"fmt"

	gl "github.com/go-gl/gl/v4.1-core/gl"

	"deferred-renderer/core"
	"deferred-renderer/gpu"
)

// Framebuffer is a GL framebuffer object. id 0 is the window backbuffer,
// which has no attachments of its own.
type Framebuffer struct {
	dev   *Device
	guard gpu.ThreadGuard
	label string
	id    uint32
}

var _ gpu.Framebuffer = (*Framebuffer)(nil)

func (fb *Framebuffer) texture(tex gpu.Texture) (*Texture, error) {
	if fb.id == 0 {
		return nil, fmt.Errorf("framebuffer %q: cannot attach to the backbuffer", fb.label)
	}
	t, ok := tex.(*Texture)
	if !ok {
		return nil, fmt.Errorf("framebuffer %q: foreign texture %T", fb.label, tex)
	}
	return t, nil
}

func (fb *Framebuffer) AttachColor(index int, tex gpu.Texture) error {
	if err := fb.guard.Check(); err != nil {
		return err
	}
	t, err := fb.texture(tex)
	if err != nil {
		return err
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.id)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0+uint32(index), gl.TEXTURE_2D, t.id, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return checkError(fmt.Sprintf("attach %s to %s color %d", t.desc.Label, fb.label, index))
}

func (fb *Framebuffer) AttachDepth(tex gpu.Texture) error {
	if err := fb.guard.Check(); err != nil {
		return err
	}
	t, err := fb.texture(tex)
	if err != nil {
		return err
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.id)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.DEPTH_ATTACHMENT, gl.TEXTURE_2D, t.id, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return checkError(fmt.Sprintf("attach %s to %s depth", t.desc.Label, fb.label))
}

func (fb *Framebuffer) DrawBuffers(indices ...int) error {
	if err := fb.guard.Check(); err != nil {
		return err
	}
	if fb.id == 0 {
		return nil
	}
	bufs := make([]uint32, len(indices))
	for i, idx := range indices {
		bufs[i] = gl.COLOR_ATTACHMENT0 + uint32(idx)
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.id)
	if len(bufs) == 0 {
		gl.DrawBuffer(gl.NONE)
	} else {
		gl.DrawBuffers(int32(len(bufs)), &bufs[0])
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return checkError("draw buffers " + fb.label)
}

func (fb *Framebuffer) Complete() error {
	if err := fb.guard.Check(); err != nil {
		return err
	}
	if fb.id == 0 {
		return nil
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.id)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		return fmt.Errorf("framebuffer %q status 0x%X: %w", fb.label, status, gpu.ErrIncompleteFramebuffer)
	}
	return nil
}

// Clear clears the selected planes. Depth writes are re-enabled first since
// a LessEqual draw may have left them off.
func (fb *Framebuffer) Clear(mask gpu.ClearMask, color core.Color) error {
	if err := fb.guard.Check(); err != nil {
		return err
	}
	var bits uint32
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.id)
	if mask&gpu.ClearColor != 0 {
		gl.ClearColor(color.R, color.G, color.B, color.A)
		bits |= gl.COLOR_BUFFER_BIT
	}
	if mask&gpu.ClearDepth != 0 {
		gl.DepthMask(true)
		gl.ClearDepth(1)
		bits |= gl.DEPTH_BUFFER_BIT
	}
	if bits != 0 {
		gl.Clear(bits)
	}
	return checkError("clear " + fb.label)
}

func (fb *Framebuffer) Release() {
	fb.guard.Must()
	if fb.id != 0 {
		gl.DeleteFramebuffers(1, &fb.id)
		fb.id = 0
	}
}
