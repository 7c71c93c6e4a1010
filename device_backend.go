package main

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"fluidviz/config"
	"fluidviz/core"
	"fluidviz/gpu/soft"
	"fluidviz/input"
	"fluidviz/rendering"
	"fluidviz/rendering/opengl"
)

// DeviceBackend couples a device with the surface frames are presented on.
type DeviceBackend interface {
	Device() core.Device
	Surface() rendering.Surface
	SetTitle(title string)
	Name() string
	Terminate()
}

// GLBackend is the windowed production backend.
type GLBackend struct {
	window *opengl.Window
	device *opengl.Device
}

func (b *GLBackend) Device() core.Device        { return b.device }
func (b *GLBackend) Surface() rendering.Surface { return b.window }
func (b *GLBackend) SetTitle(title string)      { b.window.SetTitle(title) }
func (b *GLBackend) Name() string               { return "OpenGL " + b.window.ContextVersion() }

func (b *GLBackend) Terminate() {
	b.device.Close()
	b.window.Terminate()
}

// SoftBackend renders on the CPU without a window. It stops after a fixed
// number of frames, or runs until cancelled when frames is zero.
type SoftBackend struct {
	device *soft.Device
	frames int
	shown  int
}

func (b *SoftBackend) Device() core.Device        { return b.device }
func (b *SoftBackend) Surface() rendering.Surface { return b }
func (b *SoftBackend) SetTitle(string)            {}
func (b *SoftBackend) Name() string               { return "software" }
func (b *SoftBackend) Terminate()                 { b.device.Close() }

func (b *SoftBackend) PollEvents()       {}
func (b *SoftBackend) Present()          { b.shown++ }
func (b *SoftBackend) ShouldClose() bool { return b.frames > 0 && b.shown >= b.frames }

// openBackend creates the configured backend. A GL failure is returned as
// is; there is no fallback to the software device.
func openBackend(s *config.Settings, frames int, pointers *input.PointerAdapter, actions opengl.Actions, rng *rand.Rand, logger *zap.Logger) (DeviceBackend, error) {
	switch s.GPU.Device {
	case "gl":
		window, err := opengl.NewWindow(opengl.WindowOptions{
			Width:           s.Window.Width,
			Height:          s.Window.Height,
			Title:           s.Window.Title,
			VSync:           s.Window.VSync,
			ContextVersions: s.GPU.ContextVersions,
		}, pointers, actions, rng, logger.Named("window"))
		if err != nil {
			return nil, err
		}
		device := opengl.NewDevice(window, opengl.DeviceOptions{
			ForceNoLinearFiltering: s.GPU.ForceNoLinearFiltering,
		}, logger.Named("gl"))
		return &GLBackend{window: window, device: device}, nil

	case "soft":
		opts := soft.DefaultOptions()
		opts.Width, opts.Height = s.Window.Width, s.Window.Height
		opts.LinearFiltering = !s.GPU.ForceNoLinearFiltering
		opts.EmulateHalfFloat = s.GPU.EmulateHalfFloat
		return &SoftBackend{device: soft.NewDevice(opts), frames: frames}, nil

	default:
		return nil, fmt.Errorf("unknown device backend: %s", s.GPU.Device)
	}
}

// fpsTitle shows the frame rate in the window title once a second.
type fpsTitle struct {
	backend DeviceBackend
	base    string
	frames  int
	since   time.Time
}

func (f *fpsTitle) FrameRendered(time.Duration) {
	now := time.Now()
	if f.since.IsZero() {
		f.since = now
	}
	f.frames++
	if elapsed := now.Sub(f.since); elapsed >= time.Second {
		fps := float64(f.frames) / elapsed.Seconds()
		f.backend.SetTitle(fmt.Sprintf("%s | %.1f FPS | %s", f.base, fps, f.backend.Name()))
		f.frames = 0
		f.since = now
	}
}

func (f *fpsTitle) SplatsInjected(string, int)  {}
func (f *fpsTitle) SampleApplied(input.Forcing) {}
func (f *fpsTitle) Resized(int, int)            {}
func (f *fpsTitle) PointersActive(int)          {}
