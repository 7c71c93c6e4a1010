// Package opengl is the production device: a GLFW window with a core
// profile context, and a core.Device that runs every pass as a fragment
// program on the GPU.
package opengl

import (
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-gl/gl/v3.2-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"go.uber.org/zap"

	"fluidviz/core"
	"fluidviz/input"
)

// WindowOptions configures the window and the context ladder.
type WindowOptions struct {
	Width, Height int
	Title         string
	VSync         bool
	// ContextVersions are tried in order, e.g. "4.1", "3.3", "3.2".
	ContextVersions []string
}

// Actions are the interactive key bindings. Nil entries are ignored.
type Actions struct {
	RandomSplats func(n int)
	TogglePause  func()
	Capture      func()
	Quit         func()
}

// Window owns the GLFW window and forwards its input to the pointer adapter.
// It must be created and used on the main thread.
type Window struct {
	window   *glfw.Window
	logger   *zap.Logger
	pointers *input.PointerAdapter
	actions  Actions
	rng      *rand.Rand
	version  string
}

// NewWindow initialises GLFW and creates the first context the ladder
// allows. If none can be created the error wraps core.ErrNoContext.
func NewWindow(opts WindowOptions, pointers *input.PointerAdapter, actions Actions, rng *rand.Rand, logger *zap.Logger) (*Window, error) {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize GLFW: %w", err)
	}

	versions := opts.ContextVersions
	if len(versions) == 0 {
		versions = []string{"4.1", "3.3", "3.2"}
	}

	var (
		window  *glfw.Window
		version string
		errs    []error
	)
	for _, v := range versions {
		major, minor, err := parseVersion(v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		glfw.DefaultWindowHints()
		glfw.WindowHint(glfw.Resizable, glfw.True)
		glfw.WindowHint(glfw.ContextVersionMajor, major)
		glfw.WindowHint(glfw.ContextVersionMinor, minor)
		glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
		glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

		window, err = glfw.CreateWindow(opts.Width, opts.Height, opts.Title, nil, nil)
		if err == nil {
			version = v
			break
		}
		logger.Info("context unavailable, trying next", zap.String("version", v), zap.Error(err))
		errs = append(errs, fmt.Errorf("context %s: %w", v, err))
	}
	if window == nil {
		glfw.Terminate()
		return nil, fmt.Errorf("%w: %v", core.ErrNoContext, errors.Join(errs...))
	}

	window.MakeContextCurrent()
	if opts.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}

	if err := gl.Init(); err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("%w: failed to initialize OpenGL: %v", core.ErrNoContext, err)
	}

	w := &Window{
		window:   window,
		logger:   logger,
		pointers: pointers,
		actions:  actions,
		rng:      rng,
		version:  version,
	}
	logger.Info("window created",
		zap.String("context", version),
		zap.String("gl_version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))))

	window.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		w.onKey(key, action)
	})
	window.SetMouseButtonCallback(func(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		w.onMouseButton(button, action)
	})
	window.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		w.onMouseMove(x, y)
	})

	return w, nil
}

func parseVersion(v string) (int, int, error) {
	major, minor, ok := strings.Cut(v, ".")
	if !ok {
		return 0, 0, fmt.Errorf("bad context version %q", v)
	}
	ma, err := strconv.Atoi(major)
	if err != nil {
		return 0, 0, fmt.Errorf("bad context version %q: %w", v, err)
	}
	mi, err := strconv.Atoi(minor)
	if err != nil {
		return 0, 0, fmt.Errorf("bad context version %q: %w", v, err)
	}
	return ma, mi, nil
}

// ContextVersion is the ladder entry that succeeded.
func (w *Window) ContextVersion() string { return w.version }

// FramebufferSize is the drawing-buffer size in device pixels.
func (w *Window) FramebufferSize() (int, int) { return w.window.GetFramebufferSize() }

// ShouldClose returns true if the window should close
func (w *Window) ShouldClose() bool { return w.window.ShouldClose() }

// PollEvents processes window events
func (w *Window) PollEvents() { glfw.PollEvents() }

// Present swaps the back buffer to the screen.
func (w *Window) Present() { w.window.SwapBuffers() }

// SetTitle replaces the window title, used for the frame-rate readout.
func (w *Window) SetTitle(title string) { w.window.SetTitle(title) }

// Terminate destroys the window and releases GLFW.
func (w *Window) Terminate() {
	w.window.Destroy()
	glfw.Terminate()
}

func (w *Window) onKey(key glfw.Key, action glfw.Action) {
	if action != glfw.Press {
		return
	}
	switch key {
	case glfw.KeySpace:
		if w.actions.RandomSplats != nil {
			w.actions.RandomSplats(5 + w.rng.Intn(20))
		}
	case glfw.KeyP:
		if w.actions.TogglePause != nil {
			w.actions.TogglePause()
		}
	case glfw.KeyC:
		if w.actions.Capture != nil {
			w.actions.Capture()
		}
	case glfw.KeyEscape:
		w.window.SetShouldClose(true)
		if w.actions.Quit != nil {
			w.actions.Quit()
		}
	}
}

// Mouse coordinates arrive in window points; scale them to the drawing
// buffer so high-DPI surfaces map correctly.
func (w *Window) cursor(x, y float64) (float64, float64, int, int) {
	fw, fh := w.window.GetFramebufferSize()
	ww, wh := w.window.GetSize()
	if ww > 0 && wh > 0 {
		x *= float64(fw) / float64(ww)
		y *= float64(fh) / float64(wh)
	}
	return x, y, fw, fh
}

func (w *Window) onMouseButton(button glfw.MouseButton, action glfw.Action) {
	if button != glfw.MouseButtonLeft {
		return
	}
	switch action {
	case glfw.Press:
		x, y, fw, fh := w.cursor(w.window.GetCursorPos())
		w.pointers.Down(-1, x, y, fw, fh)
	case glfw.Release:
		w.pointers.Up(-1)
	}
}

func (w *Window) onMouseMove(x, y float64) {
	sx, sy, fw, fh := w.cursor(x, y)
	w.pointers.Move(-1, sx, sy, fw, fh)
}
