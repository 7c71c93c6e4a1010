// Package soft is a software implementation of core.Device. It runs every
// pass on the CPU with float32 storage and is used for headless capture and
// for exercising the solver in tests.
package soft

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"fluidviz/core"
)

// Options configures which capabilities the device reports.
type Options struct {
	Width  int
	Height int

	LinearFiltering bool
	FloatBlending   bool

	// EmulateHalfFloat rounds stored half-float texels to binary16 precision.
	EmulateHalfFloat bool

	// Unrenderable formats fail the render-format probe.
	Unrenderable []core.InternalFormat
	// FailPrograms fail to compile.
	FailPrograms []core.Pass

	// Workers is the number of goroutines used per draw, GOMAXPROCS if zero.
	Workers int
}

// DefaultOptions is a fully capable device with a small screen.
func DefaultOptions() Options {
	return Options{
		Width:           320,
		Height:          240,
		LinearFiltering: true,
		FloatBlending:   true,
	}
}

type program struct {
	src   core.ProgramSource
	valid bool
}

func (p *program) Source() core.ProgramSource { return p.src }
func (p *program) Valid() bool                { return p.valid }

// Device is the software device.
type Device struct {
	opts Options

	mu       sync.Mutex
	nextID   int
	textures map[int]*texture
	screen   *texture
	blend    core.Blend
	closed   bool

	probes   map[core.InternalFormat]int
	compiles map[string]int

	// targetBudget is the number of NewTarget calls left before they fail,
	// unlimited when negative.
	targetBudget int
}

var _ core.Device = (*Device)(nil)

// NewDevice creates a device with the given options.
func NewDevice(opts Options) *Device {
	if opts.Width <= 0 {
		opts.Width = 1
	}
	if opts.Height <= 0 {
		opts.Height = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	d := &Device{
		opts:     opts,
		textures: make(map[int]*texture),
		probes:   make(map[core.InternalFormat]int),
		compiles: make(map[string]int),

		targetBudget: -1,
	}
	d.screen = newTexture(-1, d.screenSpec(opts.Width, opts.Height))
	return d
}

func (d *Device) screenSpec(w, h int) core.TargetSpec {
	return core.TargetSpec{Width: w, Height: h, Format: core.FormatRGBA8, Filter: core.FilterLinear}
}

func (d *Device) Features() core.Features {
	return core.Features{
		Context:         "soft",
		LinearFiltering: d.opts.LinearFiltering,
		FloatBlending:   d.opts.FloatBlending,
	}
}

// ProbeRenderFormat reports whether a 4x4 target of format f is renderable.
func (d *Device) ProbeRenderFormat(f core.TextureFormat) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes[f.Internal]++
	for _, u := range d.opts.Unrenderable {
		if u == f.Internal {
			return false
		}
	}
	return true
}

// Probes returns how many times format f was probed.
func (d *Device) Probes(f core.InternalFormat) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.probes[f]
}

func (d *Device) NewTarget(spec core.TargetSpec) (core.Target, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("soft: invalid target size %dx%d", spec.Width, spec.Height)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("soft: device closed")
	}
	if d.targetBudget == 0 {
		return nil, errors.New("soft: out of texture memory")
	}
	if d.targetBudget > 0 {
		d.targetBudget--
	}
	d.nextID++
	t := newTexture(d.nextID, spec)
	d.textures[t.id] = t
	return t, nil
}

// FailTargetsAfter lets the next n target allocations succeed and fails the
// rest. A negative n removes the limit.
func (d *Device) FailTargetsAfter(n int) {
	d.mu.Lock()
	d.targetBudget = n
	d.mu.Unlock()
}

func (d *Device) DeleteTarget(t core.Target) {
	if tex, ok := t.(*texture); ok {
		d.DeleteTexture(tex)
	}
}

// NewImageTexture uploads img as a linearly filtered, repeating RGBA8 texture.
func (d *Device) NewImageTexture(img image.Image) (core.Texture, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("soft: empty image")
	}
	spec := core.TargetSpec{Width: b.Dx(), Height: b.Dy(), Format: core.FormatRGBA8, Filter: core.FilterLinear}

	d.mu.Lock()
	d.nextID++
	t := newTexture(d.nextID, spec)
	t.repeat = true
	d.textures[t.id] = t
	d.mu.Unlock()

	for y := 0; y < spec.Height; y++ {
		for x := 0; x < spec.Width; x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			v := mgl32.Vec4{float32(r) / 0xffff, float32(g) / 0xffff, float32(bl) / 0xffff, float32(a) / 0xffff}
			t.store(x, y, v, false)
		}
	}
	return t, nil
}

func (d *Device) DeleteTexture(t core.Texture) {
	tex, ok := t.(*texture)
	if !ok || tex == nil {
		return
	}
	d.mu.Lock()
	delete(d.textures, tex.id)
	d.mu.Unlock()
}

// LiveTextures returns the number of allocated textures, screen excluded.
func (d *Device) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.textures)
}

// Alive reports whether t was allocated by d and not yet deleted.
func (d *Device) Alive(t core.Target) bool {
	tex, ok := t.(*texture)
	if !ok || tex == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textures[tex.id] == tex
}

func (d *Device) CompileProgram(src core.ProgramSource) (core.Program, error) {
	d.mu.Lock()
	d.compiles[src.String()]++
	d.mu.Unlock()

	if _, ok := binders[src.Pass]; !ok {
		return &program{src: src}, fmt.Errorf("soft: no kernel for %s", src)
	}
	for _, p := range d.opts.FailPrograms {
		if p == src.Pass {
			return &program{src: src}, fmt.Errorf("soft: compile %s: rejected by device", src)
		}
	}
	return &program{src: src, valid: true}, nil
}

// Compiles returns how many times src was compiled.
func (d *Device) Compiles(src core.ProgramSource) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.compiles[src.String()]
}

func (d *Device) DeleteProgram(core.Program) {}

func (d *Device) SetBlend(b core.Blend) { d.blend = b }

// Draw runs p over every texel of dst, or the screen when dst is nil.
func (d *Device) Draw(p core.Program, dst core.Target, u core.Uniforms) {
	prog, ok := p.(*program)
	if !ok || !prog.valid {
		return
	}
	out := d.screen
	if dst != nil {
		if out, ok = dst.(*texture); !ok {
			return
		}
	}

	shade := binders[prog.src.Pass](uniforms(u), prog.src)
	texel := uniforms(u).v2("texelSize")
	offset := mgl32.Vec2{texel[0], texel[1]}
	blurVertex := prog.src.Pass == core.PassBlur
	if blurVertex {
		offset = texel.Mul(blurOffset)
	}

	w, h := out.spec.Width, out.spec.Height
	blend := d.blend
	emulate := d.opts.EmulateHalfFloat

	forEachRow(h, d.opts.Workers, func(y int) {
		var f fragment
		for x := 0; x < w; x++ {
			f.uv = mgl32.Vec2{(float32(x) + 0.5) / float32(w), (float32(y) + 0.5) / float32(h)}
			if blurVertex {
				f.l = f.uv.Sub(offset)
				f.r = f.uv.Add(offset)
			} else {
				f.l = mgl32.Vec2{f.uv[0] - offset[0], f.uv[1]}
				f.r = mgl32.Vec2{f.uv[0] + offset[0], f.uv[1]}
				f.t = mgl32.Vec2{f.uv[0], f.uv[1] + offset[1]}
				f.b = mgl32.Vec2{f.uv[0], f.uv[1] - offset[1]}
			}

			c := shade(&f)
			switch blend {
			case core.BlendAdditive:
				c = c.Add(out.load(x, y))
			case core.BlendPremultiplied:
				c = c.Add(out.load(x, y).Mul(1 - c[3]))
			}
			out.store(x, y, c, emulate)
		}
	})
}

func (d *Device) DrawingBufferSize() (int, int) {
	return d.screen.spec.Width, d.screen.spec.Height
}

// Resize changes the screen size, as a window resize would.
func (d *Device) Resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	d.screen = newTexture(-1, d.screenSpec(w, h))
}

func (d *Device) ReadPixels(t core.Target) ([]float32, error) {
	src := d.screen
	if t != nil {
		tex, ok := t.(*texture)
		if !ok {
			return nil, fmt.Errorf("soft: foreign target %T", t)
		}
		src = tex
	}
	out := make([]float32, len(src.pix))
	copy(out, src.pix)
	return out, nil
}

// WritePixels replaces the contents of t with px, RGBA bottom row first.
func (d *Device) WritePixels(t core.Target, px []float32) error {
	tex, ok := t.(*texture)
	if !ok || tex == nil {
		return fmt.Errorf("soft: foreign target %T", t)
	}
	if len(px) != len(tex.pix) {
		return fmt.Errorf("soft: %d values for a %dx%d target", len(px), tex.spec.Width, tex.spec.Height)
	}
	copy(tex.pix, px)
	return nil
}

// ReadScreen returns the screen contents, bottom row first.
func (d *Device) ReadScreen() []float32 {
	px, _ := d.ReadPixels(nil)
	return px
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.textures = make(map[int]*texture)
	return nil
}
