package opengl

import (
	"errors"
	"fmt"
	"image"

	"github.com/go-gl/gl/v3.2-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"fluidviz/core"
	"fluidviz/rendering/opengl/shaders"
)

var errClosed = errors.New("opengl: device closed")

// DeviceOptions are the user overrides applied on top of the context's
// own capabilities.
type DeviceOptions struct {
	ForceNoLinearFiltering bool
}

type target struct {
	tex, fbo uint32
	spec     core.TargetSpec
}

func (t *target) Width() int            { return t.spec.Width }
func (t *target) Height() int           { return t.spec.Height }
func (t *target) Spec() core.TargetSpec { return t.spec }
func (t *target) TexelSize() mgl32.Vec2 {
	return mgl32.Vec2{1 / float32(t.spec.Width), 1 / float32(t.spec.Height)}
}

type imageTexture struct {
	tex  uint32
	w, h int
}

func (t *imageTexture) Width() int  { return t.w }
func (t *imageTexture) Height() int { return t.h }

type program struct {
	src      core.ProgramSource
	id       uint32
	uniforms map[string]int32
}

func (p *program) Source() core.ProgramSource { return p.src }
func (p *program) Valid() bool                { return p.id != 0 }

// Device implements core.Device on the window's current GL context. It
// must only be used on the thread that owns the context.
type Device struct {
	window *Window
	logger *zap.Logger
	opts   DeviceOptions

	quadVAO, quadVBO, quadEBO uint32

	targets  map[*target]struct{}
	textures map[*imageTexture]struct{}
	programs map[*program]struct{}
	closed   bool
}

var _ core.Device = (*Device)(nil)

// NewDevice uploads the full-surface quad every pass draws.
func NewDevice(w *Window, opts DeviceOptions, logger *zap.Logger) *Device {
	d := &Device{
		window:   w,
		logger:   logger,
		opts:     opts,
		targets:  make(map[*target]struct{}),
		textures: make(map[*imageTexture]struct{}),
		programs: make(map[*program]struct{}),
	}
	d.createQuad()
	return d
}

func (d *Device) createQuad() {
	vertices := []float32{-1, -1, -1, 1, 1, 1, 1, -1}
	indices := []uint16{0, 1, 2, 0, 2, 3}

	gl.GenVertexArrays(1, &d.quadVAO)
	gl.BindVertexArray(d.quadVAO)

	gl.GenBuffers(1, &d.quadVBO)
	gl.BindBuffer(gl.ARRAY_BUFFER, d.quadVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(vertices)*4, gl.Ptr(vertices), gl.STATIC_DRAW)

	gl.GenBuffers(1, &d.quadEBO)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, d.quadEBO)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(indices)*2, gl.Ptr(indices), gl.STATIC_DRAW)

	gl.VertexAttribPointer(shaders.PositionAttrib, 2, gl.FLOAT, false, 0, nil)
	gl.EnableVertexAttribArray(shaders.PositionAttrib)
}

// Features reports the context. Core profiles from 3.2 up filter and blend
// half-float targets, so only the user override can turn filtering off.
func (d *Device) Features() core.Features {
	return core.Features{
		Context:         "opengl " + d.window.ContextVersion() + " core",
		LinearFiltering: !d.opts.ForceNoLinearFiltering,
		FloatBlending:   true,
	}
}

// ProbeRenderFormat allocates a 4x4 texture of f, attaches it to a
// framebuffer and checks completeness. Both objects are deleted.
func (d *Device) ProbeRenderFormat(f core.TextureFormat) bool {
	tex := newTexture(4, 4, f, gl.NEAREST, gl.CLAMP_TO_EDGE)
	defer gl.DeleteTextures(1, &tex)

	var fbo uint32
	gl.GenFramebuffers(1, &fbo)
	defer gl.DeleteFramebuffers(1, &fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, tex, 0)

	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return status == gl.FRAMEBUFFER_COMPLETE
}

func newTexture(w, h int, f core.TextureFormat, filter, wrap int32) uint32 {
	var tex uint32
	gl.ActiveTexture(gl.TEXTURE0)
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, filter)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, filter)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, wrap)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, wrap)
	gl.TexImage2D(gl.TEXTURE_2D, 0, internalFormat(f.Internal), int32(w), int32(h), 0,
		pixelFormat(f.Pixel), dataType(f.Type), nil)
	return tex
}

func (d *Device) NewTarget(spec core.TargetSpec) (core.Target, error) {
	if d.closed {
		return nil, errClosed
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("opengl: invalid target size %dx%d", spec.Width, spec.Height)
	}

	t := &target{spec: spec}
	t.tex = newTexture(spec.Width, spec.Height, spec.Format, filterMode(spec.Filter), gl.CLAMP_TO_EDGE)

	gl.GenFramebuffers(1, &t.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, t.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, t.tex, 0)
	if status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		d.logger.Warn("framebuffer incomplete", zap.Stringer("format", spec.Format), zap.Uint32("status", status))
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		gl.DeleteFramebuffers(1, &t.fbo)
		gl.DeleteTextures(1, &t.tex)
		return nil, fmt.Errorf("opengl: framebuffer incomplete for %s (0x%x)", spec.Format, status)
	}

	gl.Viewport(0, 0, int32(spec.Width), int32(spec.Height))
	gl.ClearColor(0, 0, 0, 0)
	gl.Clear(gl.COLOR_BUFFER_BIT)

	d.targets[t] = struct{}{}
	return t, nil
}

func (d *Device) DeleteTarget(ct core.Target) {
	t, ok := ct.(*target)
	if !ok {
		return
	}
	if _, live := d.targets[t]; !live {
		return
	}
	delete(d.targets, t)
	gl.DeleteFramebuffers(1, &t.fbo)
	gl.DeleteTextures(1, &t.tex)
}

// NewImageTexture uploads img as a repeating RGBA8 texture.
func (d *Device) NewImageTexture(img image.Image) (core.Texture, error) {
	if d.closed {
		return nil, errClosed
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("opengl: empty image")
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	t := &imageTexture{w: b.Dx(), h: b.Dy()}
	t.tex = newTexture(t.w, t.h, core.FormatRGBA8, gl.LINEAR, gl.REPEAT)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(t.w), int32(t.h), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(rgba.Pix))

	d.textures[t] = struct{}{}
	return t, nil
}

func (d *Device) DeleteTexture(ct core.Texture) {
	switch t := ct.(type) {
	case *target:
		d.DeleteTarget(t)
	case *imageTexture:
		if _, live := d.textures[t]; !live {
			return
		}
		delete(d.textures, t)
		gl.DeleteTextures(1, &t.tex)
	}
}

// CompileProgram always returns a Program; when building fails it is
// invalid and the error carries the info log.
func (d *Device) CompileProgram(src core.ProgramSource) (core.Program, error) {
	p := &program{src: src}
	if d.closed {
		return p, errClosed
	}
	built, err := shaders.Build(src)
	if err != nil {
		return p, err
	}
	p.id = built.ID
	p.uniforms = built.Uniforms
	d.programs[p] = struct{}{}
	return p, nil
}

func (d *Device) DeleteProgram(cp core.Program) {
	p, ok := cp.(*program)
	if !ok {
		return
	}
	if _, live := d.programs[p]; !live {
		return
	}
	delete(d.programs, p)
	gl.DeleteProgram(p.id)
	p.id = 0
}

func (d *Device) SetBlend(b core.Blend) {
	switch b {
	case core.BlendAdditive:
		gl.Enable(gl.BLEND)
		gl.BlendFunc(gl.ONE, gl.ONE)
	case core.BlendPremultiplied:
		gl.Enable(gl.BLEND)
		gl.BlendFunc(gl.ONE, gl.ONE_MINUS_SRC_ALPHA)
	default:
		gl.Disable(gl.BLEND)
	}
}

// Draw binds p, uploads u and rasterises the quad into dst.
func (d *Device) Draw(cp core.Program, dst core.Target, u core.Uniforms) {
	p, ok := cp.(*program)
	if !ok || !p.Valid() || d.closed {
		return
	}
	gl.UseProgram(p.id)

	unit := int32(0)
	for name, value := range u {
		loc, ok := p.uniforms[name]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float32:
			gl.Uniform1f(loc, v)
		case int32:
			gl.Uniform1i(loc, v)
		case mgl32.Vec2:
			gl.Uniform2f(loc, v[0], v[1])
		case mgl32.Vec3:
			gl.Uniform3f(loc, v[0], v[1], v[2])
		case mgl32.Vec4:
			gl.Uniform4f(loc, v[0], v[1], v[2], v[3])
		case *target:
			bindTexture(unit, v.tex)
			gl.Uniform1i(loc, unit)
			unit++
		case *imageTexture:
			bindTexture(unit, v.tex)
			gl.Uniform1i(loc, unit)
			unit++
		default:
			d.logger.Warn("unsupported uniform type", zap.String("uniform", name), zap.Stringer("program", p.src))
		}
	}

	if t, ok := dst.(*target); ok && t != nil {
		gl.BindFramebuffer(gl.FRAMEBUFFER, t.fbo)
		gl.Viewport(0, 0, int32(t.spec.Width), int32(t.spec.Height))
	} else {
		w, h := d.DrawingBufferSize()
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		gl.Viewport(0, 0, int32(w), int32(h))
	}

	gl.BindVertexArray(d.quadVAO)
	gl.DrawElements(gl.TRIANGLES, 6, gl.UNSIGNED_SHORT, nil)

	if err := gl.GetError(); err != gl.NO_ERROR {
		d.logger.Warn("gl error after draw", zap.Stringer("program", p.src), zap.Uint32("error", err))
	}
}

func bindTexture(unit int32, tex uint32) {
	gl.ActiveTexture(gl.TEXTURE0 + uint32(unit))
	gl.BindTexture(gl.TEXTURE_2D, tex)
}

func (d *Device) DrawingBufferSize() (int, int) {
	return d.window.FramebufferSize()
}

// ReadPixels reads RGBA floats, bottom row first.
func (d *Device) ReadPixels(ct core.Target) ([]float32, error) {
	if d.closed {
		return nil, errClosed
	}
	var w, h int
	if t, ok := ct.(*target); ok && t != nil {
		gl.BindFramebuffer(gl.FRAMEBUFFER, t.fbo)
		w, h = t.spec.Width, t.spec.Height
	} else {
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		w, h = d.DrawingBufferSize()
	}
	px := make([]float32, w*h*4)
	if len(px) == 0 {
		return px, nil
	}
	gl.PixelStorei(gl.PACK_ALIGNMENT, 4)
	gl.ReadPixels(0, 0, int32(w), int32(h), gl.RGBA, gl.FLOAT, gl.Ptr(px))
	if err := gl.GetError(); err != gl.NO_ERROR {
		return nil, fmt.Errorf("opengl: read pixels: 0x%x", err)
	}
	return px, nil
}

// Close releases every object the device still owns.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	for t := range d.targets {
		d.DeleteTarget(t)
	}
	for t := range d.textures {
		d.DeleteTexture(t)
	}
	for p := range d.programs {
		d.DeleteProgram(p)
	}
	gl.DeleteBuffers(1, &d.quadVBO)
	gl.DeleteBuffers(1, &d.quadEBO)
	gl.DeleteVertexArrays(1, &d.quadVAO)
	d.closed = true
	return nil
}

func internalFormat(f core.InternalFormat) int32 {
	switch f {
	case core.InternalRG16F:
		return gl.RG16F
	case core.InternalR16F:
		return gl.R16F
	case core.InternalRGBA8:
		return gl.RGBA8
	default:
		return gl.RGBA16F
	}
}

func pixelFormat(p core.PixelFormat) uint32 {
	switch p {
	case core.PixelRG:
		return gl.RG
	case core.PixelRed:
		return gl.RED
	default:
		return gl.RGBA
	}
}

func dataType(t core.DataType) uint32 {
	if t == core.TypeUnsignedByte {
		return gl.UNSIGNED_BYTE
	}
	return gl.HALF_FLOAT
}

func filterMode(f core.Filter) int32 {
	if f == core.FilterLinear {
		return gl.LINEAR
	}
	return gl.NEAREST
}
