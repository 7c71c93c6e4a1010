// Package rendering drives the per-frame loop: resize handling, input
// application, the solver step and the post-processing chain that ends on
// the screen.
package rendering

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"fluidviz/config"
	"fluidviz/core"
	"fluidviz/gpu"
	"fluidviz/input"
	"fluidviz/sensor"
	"fluidviz/simulation"
)

// Observer receives frame statistics. All calls happen on the render thread.
type Observer interface {
	FrameRendered(d time.Duration)
	SplatsInjected(source string, n int)
	SampleApplied(f input.Forcing)
	Resized(width, height int)
	PointersActive(n int)
}

type nopObserver struct{}

func (nopObserver) FrameRendered(time.Duration) {}
func (nopObserver) SplatsInjected(string, int)  {}
func (nopObserver) SampleApplied(input.Forcing) {}
func (nopObserver) Resized(int, int)            {}
func (nopObserver) PointersActive(int)          {}

// Surface is the window the loop presents to.
type Surface interface {
	PollEvents()
	ShouldClose() bool
	Present()
}

// Options wires the compositor to its asynchronous inputs. Every channel
// is optional.
type Options struct {
	Messages <-chan sensor.Message
	Configs  <-chan config.SimulationConfig
	Dither   <-chan image.Image
	Observer Observer

	CaptureDir        string
	CaptureResolution int
	// Session names captured frames after the latched event and ticket.
	Session func() (event, ticket string)
}

// Compositor owns the frame state machine. Apart from Stop and the channel
// sends it must only be used from the render thread.
type Compositor struct {
	ctx      *simulation.Context
	logger   *zap.Logger
	forcing  *input.ForcingAdapter
	pointers *input.PointerAdapter
	queue    *input.SplatQueue
	opts     Options
	observer Observer

	running atomic.Bool

	width, height int
	lastFrame     time.Time
	colorTimer    float64

	dither       core.Texture
	captureCount int
}

// NewCompositor takes over ctx. The current drawing-buffer size is taken as
// already allocated.
func NewCompositor(ctx *simulation.Context, forcing *input.ForcingAdapter, pointers *input.PointerAdapter, queue *input.SplatQueue, logger *zap.Logger, opts Options) (*Compositor, error) {
	dither, err := placeholderDither(ctx.Device)
	if err != nil {
		return nil, err
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	w, h := ctx.Device.DrawingBufferSize()
	c := &Compositor{
		ctx:      ctx,
		logger:   logger,
		forcing:  forcing,
		pointers: pointers,
		queue:    queue,
		opts:     opts,
		observer: opts.Observer,
		width:    w,
		height:   h,
		dither:   dither,
	}
	c.running.Store(true)
	return c, nil
}

// Running reports whether the loop will schedule another frame.
func (c *Compositor) Running() bool { return c.running.Load() }

// Stop ends the loop after the current frame. Safe from any goroutine.
func (c *Compositor) Stop() { c.running.Store(false) }

// Run renders frames until Stop, the surface closes or ctx is done.
func (c *Compositor) Run(ctx context.Context, s Surface) error {
	c.lastFrame = time.Now()
	for c.Running() && !s.ShouldClose() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.PollEvents()
		c.Frame(time.Now())
		s.Present()
	}
	return nil
}

// Frame advances and draws one frame at wall-clock time now.
func (c *Compositor) Frame(now time.Time) {
	start := time.Now()
	if c.lastFrame.IsZero() {
		c.lastFrame = now
	}
	dt := simulation.ClampDelta(now.Sub(c.lastFrame))
	c.lastFrame = now

	c.applyConfig()
	c.swapDither()
	c.resizeCheck()
	c.updateColors(dt)
	c.applyInputs()
	if !c.ctx.Config.Paused {
		c.ctx.Step(dt)
	}
	c.render(nil)

	c.observer.FrameRendered(time.Since(start))
}

// resizeCheck re-initialises the targets only when the drawing buffer has
// actually changed size.
func (c *Compositor) resizeCheck() bool {
	w, h := c.ctx.Device.DrawingBufferSize()
	if w == c.width && h == c.height {
		return false
	}
	// The previous targets stay in use until a reinit succeeds, and the
	// size is only recorded then so a failure is retried next frame.
	if err := c.ctx.Reinit(); err != nil {
		c.logger.Warn("resize failed", zap.Int("width", w), zap.Int("height", h), zap.Error(err))
		return false
	}
	c.width, c.height = w, h
	c.logger.Info("resized", zap.Int("width", w), zap.Int("height", h))
	c.observer.Resized(w, h)
	return true
}

func (c *Compositor) updateColors(dt float32) {
	cfg := c.ctx.Config
	if !cfg.Colorful {
		return
	}
	c.colorTimer += float64(dt * cfg.ColorUpdateSpeed)
	if c.colorTimer >= 1 {
		c.colorTimer = core.Wrap(c.colorTimer, 0, 1)
		c.pointers.RandomizeColors()
	}
}

func (c *Compositor) applyInputs() {
	if n, ok := c.queue.Pop(); ok {
		c.ctx.MultipleSplats(n)
		c.observer.SplatsInjected("queue", n)
	}

	c.pointers.Drain(func(p input.Pointer) {
		c.ctx.SplatPointer(p)
		c.observer.SplatsInjected("pointer", 1)
	})
	c.observer.PointersActive(c.pointers.Active())

	c.drainSensor()
}

func (c *Compositor) drainSensor() {
	if c.opts.Messages == nil {
		return
	}
	for {
		select {
		case msg, ok := <-c.opts.Messages:
			if !ok {
				c.opts.Messages = nil
				return
			}
			c.apply(msg)
		default:
			return
		}
	}
}

func (c *Compositor) apply(msg sensor.Message) {
	switch msg.Kind {
	case sensor.KindRefresh:
		c.forcing.Reset()
		c.ctx.Clear()
		c.logger.Info("refresh: fields cleared")
	case sensor.KindSample:
		f := c.forcing.Apply(msg.Sample, c.ctx)
		c.observer.SampleApplied(f)
		c.observer.SplatsInjected("sensor", f.Splats)
	}
}

// applyConfig installs the newest reloaded configuration, keeping the
// capability degradation in force.
func (c *Compositor) applyConfig() {
	if c.opts.Configs == nil {
		return
	}
	var (
		next config.SimulationConfig
		got  bool
	)
drain:
	for {
		select {
		case cfg, ok := <-c.opts.Configs:
			if !ok {
				c.opts.Configs = nil
				break drain
			}
			next, got = cfg, true
		default:
			break drain
		}
	}
	if !got {
		return
	}

	gpu.ApplyCapabilities(&next, c.ctx.Caps)
	prev := *c.ctx.Config
	// Runtime state owned by the keyboard and the forcing adapter.
	next.Paused = prev.Paused
	next.SplatRadius = prev.SplatRadius
	*c.ctx.Config = next
	if resolutionChanged(prev, next) {
		if err := c.ctx.Reinit(); err != nil {
			c.logger.Warn("reinit after reload failed", zap.Error(err))
			c.width, c.height = 0, 0
		}
	}
	c.logger.Info("configuration reloaded")
}

func resolutionChanged(a, b config.SimulationConfig) bool {
	return a.SimResolution != b.SimResolution ||
		a.DyeResolution != b.DyeResolution ||
		a.BloomResolution != b.BloomResolution ||
		a.BloomIterations != b.BloomIterations ||
		a.SunraysResolution != b.SunraysResolution
}

// render draws the post-processing chain into target, nil being the screen.
func (c *Compositor) render(target core.Target) {
	cfg := c.ctx.Config
	fb := c.ctx.Framebuffers()
	dev := c.ctx.Device

	if cfg.Bloom {
		c.applyBloom(fb.Dye.Read(), fb.Bloom)
	}
	if cfg.Sunrays {
		c.applySunrays(fb.Dye.Read(), fb.Dye.Write(), fb.Sunrays)
		c.blur(fb.Sunrays, fb.SunraysTemp, 1)
	}

	if target == nil || !cfg.Transparent {
		dev.SetBlend(core.BlendPremultiplied)
	} else {
		dev.SetBlend(core.BlendNone)
	}

	if !cfg.Transparent {
		c.draw(core.PassColor, target, core.Uniforms{"color": cfg.BackColor.Normalized().Vec4(1)})
	}
	if target == nil && cfg.Transparent {
		w, h := dev.DrawingBufferSize()
		c.draw(core.PassCheckerboard, target, core.Uniforms{"aspectRatio": core.AspectRatio(w, h)})
	}
	c.drawDisplay(target)
}

func (c *Compositor) drawDisplay(target core.Target) {
	cfg := c.ctx.Config
	fb := c.ctx.Framebuffers()

	w, h := c.ctx.Device.DrawingBufferSize()
	if target != nil {
		w, h = target.Width(), target.Height()
	}

	material := c.ctx.Registry.Display()
	program := material.SetKeywords(gpu.FlagsFor(*cfg))

	u := core.Uniforms{"uTexture": fb.Dye.Read()}
	if cfg.Shading {
		u["texelSize"] = mgl32.Vec2{1 / float32(w), 1 / float32(h)}
	}
	if cfg.Bloom {
		u["uBloom"] = fb.Bloom
		u["uDithering"] = c.dither
		u["ditherScale"] = textureScale(c.dither, w, h)
	}
	if cfg.Sunrays {
		u["uSunrays"] = fb.Sunrays
	}
	c.ctx.Registry.Draw(program, target, u)
}

func (c *Compositor) applyBloom(source core.Texture, destination core.Target) {
	fb := c.ctx.Framebuffers()
	if len(fb.BloomChain) < 2 {
		return
	}
	cfg := c.ctx.Config
	dev := c.ctx.Device

	dev.SetBlend(core.BlendNone)
	knee := cfg.BloomThreshold*cfg.BloomSoftKnee + 0.0001
	c.draw(core.PassBloomPrefilter, destination, core.Uniforms{
		"curve":     mgl32.Vec3{cfg.BloomThreshold - knee, knee * 2, 0.25 / knee},
		"threshold": cfg.BloomThreshold,
		"uTexture":  source,
	})

	last := destination
	for _, dest := range fb.BloomChain {
		c.draw(core.PassBloomBlur, dest, core.Uniforms{
			"texelSize": last.TexelSize(),
			"uTexture":  last,
		})
		last = dest
	}

	dev.SetBlend(core.BlendAdditive)
	for i := len(fb.BloomChain) - 2; i >= 0; i-- {
		base := fb.BloomChain[i]
		c.draw(core.PassBloomBlur, base, core.Uniforms{
			"texelSize": last.TexelSize(),
			"uTexture":  last,
		})
		last = base
	}

	dev.SetBlend(core.BlendNone)
	c.draw(core.PassBloomFinal, destination, core.Uniforms{
		"texelSize": last.TexelSize(),
		"uTexture":  last,
		"intensity": cfg.BloomIntensity,
	})
}

func (c *Compositor) applySunrays(source core.Texture, mask, destination core.Target) {
	c.ctx.Device.SetBlend(core.BlendNone)
	c.draw(core.PassSunraysMask, mask, core.Uniforms{"uTexture": source})
	c.draw(core.PassSunrays, destination, core.Uniforms{
		"weight":   c.ctx.Config.SunraysWeight,
		"uTexture": mask,
	})
}

// blur runs a separable horizontal then vertical pass through temp.
func (c *Compositor) blur(target, temp core.Target, iterations int) {
	texel := target.TexelSize()
	for i := 0; i < iterations; i++ {
		c.draw(core.PassBlur, temp, core.Uniforms{
			"texelSize": mgl32.Vec2{texel[0], 0},
			"uTexture":  target,
		})
		c.draw(core.PassBlur, target, core.Uniforms{
			"texelSize": mgl32.Vec2{0, texel[1]},
			"uTexture":  temp,
		})
	}
}

func (c *Compositor) draw(pass core.Pass, dst core.Target, u core.Uniforms) {
	c.ctx.Registry.Draw(c.ctx.Registry.Program(pass), dst, u)
}

// Close releases the compositor's own textures. The simulation context is
// closed by its owner.
func (c *Compositor) Close() {
	if c.dither != nil {
		c.ctx.Device.DeleteTexture(c.dither)
		c.dither = nil
	}
}

func textureScale(t core.Texture, w, h int) mgl32.Vec2 {
	return mgl32.Vec2{float32(w) / float32(t.Width()), float32(h) / float32(t.Height())}
}
