package main

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"deferred-renderer/config"
	"deferred-renderer/core"
)

func init() {
	// GLFW and the GL context must stay on the main thread.
	runtime.LockOSThread()
}

// Window is a GLFW window with a current OpenGL 4.1 core context.
type Window struct {
	Handle *glfw.Window

	resized func(core.Size)
}

func NewWindow(cfg config.Window) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize GLFW: %w", err)
	}

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	handle, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}
	handle.MakeContextCurrent()
	if cfg.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}

	w := &Window{Handle: handle}
	handle.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		if w.resized != nil {
			w.resized(core.NewSize(width, height))
		}
	})
	return w, nil
}

// OnResize registers the framebuffer resize handler. Minimised windows
// report a zero size, which is passed through.
func (w *Window) OnResize(fn func(core.Size)) { w.resized = fn }

func (w *Window) FramebufferSize() core.Size {
	return core.NewSize(w.Handle.GetFramebufferSize())
}

func (w *Window) ShouldClose() bool { return w.Handle.ShouldClose() }
func (w *Window) PollEvents()       { glfw.PollEvents() }
func (w *Window) SwapBuffers()      { w.Handle.SwapBuffers() }

func (w *Window) IsKeyPressed(key glfw.Key) bool {
	return w.Handle.GetKey(key) == glfw.Press
}

func (w *Window) IsMouseButtonPressed(button glfw.MouseButton) bool {
	return w.Handle.GetMouseButton(button) == glfw.Press
}

func (w *Window) CursorPos() (float64, float64) { return w.Handle.GetCursorPos() }

func (w *Window) SetScrollCallback(cb func(xoff, yoff float64)) {
	w.Handle.SetScrollCallback(func(_ *glfw.Window, xoff, yoff float64) {
		cb(xoff, yoff)
	})
}

func (w *Window) SetTitle(title string) { w.Handle.SetTitle(title) }

func (w *Window) Destroy() {
	w.Handle.Destroy()
	glfw.Terminate()
}
