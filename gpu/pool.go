package gpu

import (
	"fmt"

	"go.uber.org/zap"

	"fluidviz/config"
	"fluidviz/core"
)

// Framebuffers is the full set of targets the solver and compositor use.
type Framebuffers struct {
	Dye      *core.DoubleBuffer
	Velocity *core.DoubleBuffer
	Pressure *core.DoubleBuffer

	Divergence core.Target
	Curl       core.Target

	Bloom      core.Target
	BloomChain []core.Target

	Sunrays     core.Target
	SunraysTemp core.Target
}

// Pool allocates render targets and owns their lifetime.
type Pool struct {
	dev      core.Device
	caps     core.Capabilities
	registry *Registry
	logger   *zap.Logger

	fb            *Framebuffers
	reallocations int
}

func NewPool(dev core.Device, caps core.Capabilities, registry *Registry, logger *zap.Logger) *Pool {
	return &Pool{dev: dev, caps: caps, registry: registry, logger: logger}
}

// Allocate creates a cleared target of exactly w x h.
func (p *Pool) Allocate(w, h int, format core.TextureFormat, filter core.Filter) (core.Target, error) {
	t, err := p.dev.NewTarget(core.TargetSpec{Width: w, Height: h, Format: format, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("allocate %dx%d %s: %w", w, h, format, err)
	}
	return t, nil
}

// AllocateDouble creates two independent targets of the same spec.
func (p *Pool) AllocateDouble(w, h int, format core.TextureFormat, filter core.Filter) (*core.DoubleBuffer, error) {
	read, err := p.Allocate(w, h, format, filter)
	if err != nil {
		return nil, err
	}
	write, err := p.Allocate(w, h, format, filter)
	if err != nil {
		p.dev.DeleteTarget(read)
		return nil, err
	}
	return core.NewDoubleBuffer(read, write), nil
}

// Resize returns t unchanged when it already has the requested size.
// Otherwise the contents are copied into a new target and t is released.
func (p *Pool) Resize(t core.Target, w, h int) (core.Target, error) {
	if t.Width() == w && t.Height() == h {
		return t, nil
	}
	next, err := p.copyResized(t, w, h)
	if err != nil {
		return nil, err
	}
	p.dev.DeleteTarget(t)
	return next, nil
}

// copyResized allocates a w x h target holding the contents of t. t is left
// untouched.
func (p *Pool) copyResized(t core.Target, w, h int) (core.Target, error) {
	spec := t.Spec()
	next, err := p.Allocate(w, h, spec.Format, spec.Filter)
	if err != nil {
		return nil, err
	}
	p.dev.SetBlend(core.BlendNone)
	p.registry.Draw(p.registry.Program(core.PassCopy), next, core.Uniforms{
		"uTexture":  t,
		"texelSize": t.TexelSize(),
	})
	return next, nil
}

// ResizeDouble preserves the read side and allocates a fresh write side.
// On error d still holds its old targets.
func (p *Pool) ResizeDouble(d *core.DoubleBuffer, w, h int) error {
	if d.Width() == w && d.Height() == h {
		return nil
	}
	read, err := p.copyResized(d.Read(), w, h)
	if err != nil {
		return err
	}
	spec := d.Write().Spec()
	write, err := p.Allocate(w, h, spec.Format, spec.Filter)
	if err != nil {
		p.dev.DeleteTarget(read)
		return err
	}
	p.release(d.Read(), d.Write())
	d.Replace(read, write)
	return nil
}

// InitFramebuffers sizes every target for the current drawing buffer. Dye
// and velocity keep their contents; the rest are recreated. The new set is
// only installed once every allocation succeeded, otherwise the previous
// set stays in place untouched.
func (p *Pool) InitFramebuffers(cfg config.SimulationConfig) (*Framebuffers, error) {
	bw, bh := p.dev.DrawingBufferSize()
	simW, simH := core.Resolution(float64(cfg.SimResolution), bw, bh)
	dyeW, dyeH := core.Resolution(float64(cfg.DyeResolution), bw, bh)

	b := &builder{pool: p, filtering: p.caps.Filtering()}
	fb, err := b.build(p.fb, cfg, bw, bh, simW, simH, dyeW, dyeH)
	if err != nil {
		p.release(b.fresh...)
		return nil, err
	}

	if p.fb != nil {
		p.releaseReplaced(p.fb, fb)
		p.reallocations++
	}
	p.fb = fb

	p.logger.Info("framebuffers initialised",
		zap.Int("buffer_width", bw), zap.Int("buffer_height", bh),
		zap.Int("sim_width", simW), zap.Int("sim_height", simH),
		zap.Int("dye_width", dyeW), zap.Int("dye_height", dyeH),
		zap.Int("bloom_levels", len(fb.BloomChain)))
	return fb, nil
}

// releaseReplaced deletes the targets of old that next no longer uses.
func (p *Pool) releaseReplaced(old, next *Framebuffers) {
	kept := make(map[core.Target]bool)
	for _, t := range next.targets() {
		kept[t] = true
	}
	for _, t := range old.targets() {
		if !kept[t] {
			p.dev.DeleteTarget(t)
		}
	}
}

// builder allocates one framebuffer set and remembers every target it
// created so a failed build can be undone.
type builder struct {
	pool      *Pool
	filtering core.Filter
	fresh     []core.Target
}

func (b *builder) allocate(w, h int, format core.TextureFormat, filter core.Filter) (core.Target, error) {
	t, err := b.pool.Allocate(w, h, format, filter)
	if err != nil {
		return nil, err
	}
	b.fresh = append(b.fresh, t)
	return t, nil
}

func (b *builder) double(w, h int, format core.TextureFormat, filter core.Filter) (*core.DoubleBuffer, error) {
	read, err := b.allocate(w, h, format, filter)
	if err != nil {
		return nil, err
	}
	write, err := b.allocate(w, h, format, filter)
	if err != nil {
		return nil, err
	}
	return core.NewDoubleBuffer(read, write), nil
}

// carry returns d itself when the size is unchanged, or a new pair whose
// read side is a resized copy of d's.
func (b *builder) carry(d *core.DoubleBuffer, w, h int, format core.TextureFormat, filter core.Filter) (*core.DoubleBuffer, error) {
	if d == nil {
		return b.double(w, h, format, filter)
	}
	if d.Width() == w && d.Height() == h {
		return d, nil
	}
	read, err := b.pool.copyResized(d.Read(), w, h)
	if err != nil {
		return nil, err
	}
	b.fresh = append(b.fresh, read)
	write, err := b.allocate(w, h, format, filter)
	if err != nil {
		return nil, err
	}
	return core.NewDoubleBuffer(read, write), nil
}

func (b *builder) build(prev *Framebuffers, cfg config.SimulationConfig, bw, bh, simW, simH, dyeW, dyeH int) (*Framebuffers, error) {
	if prev == nil {
		prev = &Framebuffers{}
	}
	caps := b.pool.caps
	fb := &Framebuffers{}

	var err error
	if fb.Dye, err = b.carry(prev.Dye, dyeW, dyeH, caps.RGBA, b.filtering); err != nil {
		return nil, fmt.Errorf("dye: %w", err)
	}
	if fb.Velocity, err = b.carry(prev.Velocity, simW, simH, caps.RG, b.filtering); err != nil {
		return nil, fmt.Errorf("velocity: %w", err)
	}
	if fb.Divergence, err = b.allocate(simW, simH, caps.R, core.FilterNearest); err != nil {
		return nil, fmt.Errorf("divergence: %w", err)
	}
	if fb.Curl, err = b.allocate(simW, simH, caps.R, core.FilterNearest); err != nil {
		return nil, fmt.Errorf("curl: %w", err)
	}
	if fb.Pressure, err = b.double(simW, simH, caps.R, core.FilterNearest); err != nil {
		return nil, fmt.Errorf("pressure: %w", err)
	}
	if err := b.bloom(fb, cfg, bw, bh); err != nil {
		return nil, fmt.Errorf("bloom: %w", err)
	}
	if err := b.sunrays(fb, cfg, bw, bh); err != nil {
		return nil, fmt.Errorf("sunrays: %w", err)
	}
	return fb, nil
}

func (b *builder) bloom(fb *Framebuffers, cfg config.SimulationConfig, bw, bh int) error {
	w, h := core.Resolution(float64(cfg.BloomResolution), bw, bh)
	rgba := b.pool.caps.RGBA

	var err error
	if fb.Bloom, err = b.allocate(w, h, rgba, b.filtering); err != nil {
		return err
	}
	for i := 0; i < cfg.BloomIterations; i++ {
		lw, lh := w>>(i+1), h>>(i+1)
		if lw < 2 || lh < 2 {
			break
		}
		t, err := b.allocate(lw, lh, rgba, b.filtering)
		if err != nil {
			return err
		}
		fb.BloomChain = append(fb.BloomChain, t)
	}
	return nil
}

func (b *builder) sunrays(fb *Framebuffers, cfg config.SimulationConfig, bw, bh int) error {
	w, h := core.Resolution(float64(cfg.SunraysResolution), bw, bh)
	r := b.pool.caps.R

	var err error
	if fb.Sunrays, err = b.allocate(w, h, r, b.filtering); err != nil {
		return err
	}
	fb.SunraysTemp, err = b.allocate(w, h, r, b.filtering)
	return err
}

// targets lists every target in the set.
func (fb *Framebuffers) targets() []core.Target {
	var out []core.Target
	for _, d := range []*core.DoubleBuffer{fb.Dye, fb.Velocity, fb.Pressure} {
		if d != nil {
			out = append(out, d.Read(), d.Write())
		}
	}
	for _, t := range []core.Target{fb.Divergence, fb.Curl, fb.Bloom, fb.Sunrays, fb.SunraysTemp} {
		if t != nil {
			out = append(out, t)
		}
	}
	return append(out, fb.BloomChain...)
}

func (p *Pool) release(targets ...core.Target) {
	for _, t := range targets {
		if t != nil {
			p.dev.DeleteTarget(t)
		}
	}
}

// Framebuffers returns the current set, nil before InitFramebuffers.
func (p *Pool) Framebuffers() *Framebuffers { return p.fb }

// Reallocations counts successful InitFramebuffers calls after the first.
func (p *Pool) Reallocations() int { return p.reallocations }

// Close releases every target.
func (p *Pool) Close() {
	if p.fb == nil {
		return
	}
	p.release(p.fb.targets()...)
	p.fb = nil
}
