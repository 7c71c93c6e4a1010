package soft

import (
	"image"
	"image/color"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluidviz/core"
)

func newTarget(t *testing.T, d *Device, w, h int, f core.TextureFormat, filter core.Filter) core.Target {
	t.Helper()
	tgt, err := d.NewTarget(core.TargetSpec{Width: w, Height: h, Format: f, Filter: filter})
	require.NoError(t, err)
	return tgt
}

func compile(t *testing.T, d *Device, p core.Pass, kw ...string) core.Program {
	t.Helper()
	prog, err := d.CompileProgram(core.ProgramSource{Pass: p, Keywords: kw})
	require.NoError(t, err)
	return prog
}

func TestColorAndCopy(t *testing.T) {
	d := NewDevice(DefaultOptions())
	a := newTarget(t, d, 4, 4, core.FormatRGBA16F, core.FilterLinear)
	b := newTarget(t, d, 4, 4, core.FormatRGBA16F, core.FilterLinear)

	d.Draw(compile(t, d, core.PassColor), a, core.Uniforms{"color": mgl32.Vec4{0.25, 0.5, 0.75, 1}})
	d.Draw(compile(t, d, core.PassCopy), b, core.Uniforms{"uTexture": a})

	px, err := d.ReadPixels(b)
	require.NoError(t, err)
	for i := 0; i < len(px); i += 4 {
		assert.InDelta(t, 0.25, px[i], 1e-6)
		assert.InDelta(t, 0.5, px[i+1], 1e-6)
		assert.InDelta(t, 0.75, px[i+2], 1e-6)
	}
}

func TestStoreMasksChannels(t *testing.T) {
	d := NewDevice(DefaultOptions())
	r := newTarget(t, d, 2, 2, core.FormatR16F, core.FilterNearest)
	rg := newTarget(t, d, 2, 2, core.FormatRG16F, core.FilterNearest)
	fill := compile(t, d, core.PassColor)
	u := core.Uniforms{"color": mgl32.Vec4{1, 2, 3, 4}}

	d.Draw(fill, r, u)
	d.Draw(fill, rg, u)

	px, _ := d.ReadPixels(r)
	assert.Equal(t, []float32{1, 0, 0, 1}, px[:4])
	px, _ = d.ReadPixels(rg)
	assert.Equal(t, []float32{1, 2, 0, 1}, px[:4])
}

func TestUnsignedByteQuantizes(t *testing.T) {
	d := NewDevice(DefaultOptions())
	tgt := newTarget(t, d, 1, 1, core.FormatRGBA8, core.FilterNearest)
	d.Draw(compile(t, d, core.PassColor), tgt, core.Uniforms{"color": mgl32.Vec4{2, -1, 0.5, 1}})

	px, _ := d.ReadPixels(tgt)
	assert.Equal(t, float32(1), px[0])
	assert.Equal(t, float32(0), px[1])
	assert.InDelta(t, 128.0/255, px[2], 1e-6)
}

func TestAdditiveBlend(t *testing.T) {
	d := NewDevice(DefaultOptions())
	tgt := newTarget(t, d, 2, 2, core.FormatRGBA16F, core.FilterLinear)
	fill := compile(t, d, core.PassColor)
	u := core.Uniforms{"color": mgl32.Vec4{0.5, 0, 0, 0}}

	d.Draw(fill, tgt, u)
	d.SetBlend(core.BlendAdditive)
	d.Draw(fill, tgt, u)
	d.SetBlend(core.BlendNone)

	px, _ := d.ReadPixels(tgt)
	assert.InDelta(t, 1.0, px[0], 1e-6)
}

func TestSplatPeaksAtPoint(t *testing.T) {
	d := NewDevice(DefaultOptions())
	base := newTarget(t, d, 16, 16, core.FormatRGBA16F, core.FilterLinear)
	out := newTarget(t, d, 16, 16, core.FormatRGBA16F, core.FilterLinear)

	d.Draw(compile(t, d, core.PassSplat), out, core.Uniforms{
		"uTarget":     base,
		"aspectRatio": float32(1),
		"point":       mgl32.Vec2{0.5, 0.5},
		"color":       mgl32.Vec3{1, 0, 0},
		"radius":      float32(0.01),
	})

	px, _ := d.ReadPixels(out)
	at := func(x, y int) float32 { return px[(y*16+x)*4] }
	center := at(7, 7)
	assert.Greater(t, center, float32(0.8))
	assert.Greater(t, center, at(3, 7))
	assert.Greater(t, at(3, 7), at(0, 7))
	assert.Less(t, at(0, 0), float32(0.01))
}

func TestNearestAndLinearSampling(t *testing.T) {
	d := NewDevice(DefaultOptions())
	src := newTarget(t, d, 2, 1, core.FormatRGBA16F, core.FilterNearest).(*texture)
	src.store(0, 0, mgl32.Vec4{0, 0, 0, 1}, false)
	src.store(1, 0, mgl32.Vec4{1, 0, 0, 1}, false)

	assert.Equal(t, float32(0), src.sample(mgl32.Vec2{0.45, 0.5})[0])

	src.spec.Filter = core.FilterLinear
	assert.InDelta(t, 0.5, src.sample(mgl32.Vec2{0.5, 0.5})[0], 1e-6)
	assert.InDelta(t, 0.0, src.sample(mgl32.Vec2{0, 0.5})[0], 1e-6)
}

func TestProbeAndCompileFailures(t *testing.T) {
	opts := DefaultOptions()
	opts.Unrenderable = []core.InternalFormat{core.InternalR16F}
	opts.FailPrograms = []core.Pass{core.PassSunrays}
	d := NewDevice(opts)

	assert.False(t, d.ProbeRenderFormat(core.FormatR16F))
	assert.True(t, d.ProbeRenderFormat(core.FormatRG16F))
	assert.Equal(t, 1, d.Probes(core.InternalR16F))

	prog, err := d.CompileProgram(core.ProgramSource{Pass: core.PassSunrays})
	assert.Error(t, err)
	assert.False(t, prog.Valid())
	assert.Equal(t, 1, d.Compiles(core.ProgramSource{Pass: core.PassSunrays}))
}

func TestTextureLifecycle(t *testing.T) {
	d := NewDevice(DefaultOptions())
	a := newTarget(t, d, 2, 2, core.FormatRGBA16F, core.FilterLinear)

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	tex, err := d.NewImageTexture(img)
	require.NoError(t, err)
	assert.Equal(t, 2, d.LiveTextures())

	d.DeleteTarget(a)
	d.DeleteTexture(tex)
	assert.Zero(t, d.LiveTextures())

	_, err = d.NewTarget(core.TargetSpec{Width: 0, Height: 4})
	assert.Error(t, err)
}

func TestTargetBudget(t *testing.T) {
	d := NewDevice(DefaultOptions())
	spec := core.TargetSpec{Width: 2, Height: 2, Format: core.FormatRGBA16F}

	d.FailTargetsAfter(1)
	a, err := d.NewTarget(spec)
	require.NoError(t, err)
	_, err = d.NewTarget(spec)
	assert.Error(t, err)
	assert.True(t, d.Alive(a))

	d.FailTargetsAfter(-1)
	_, err = d.NewTarget(spec)
	assert.NoError(t, err)

	d.DeleteTarget(a)
	assert.False(t, d.Alive(a))
}

func TestWritePixels(t *testing.T) {
	d := NewDevice(DefaultOptions())
	tgt := newTarget(t, d, 2, 1, core.FormatRGBA16F, core.FilterNearest)

	require.NoError(t, d.WritePixels(tgt, []float32{1, 2, 3, 4, 5, 6, 7, 8}))
	px, err := d.ReadPixels(tgt)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, px)

	assert.Error(t, d.WritePixels(tgt, []float32{1}))
}

func TestHalfRounding(t *testing.T) {
	assert.Equal(t, float32(1), roundHalf(1))
	assert.Equal(t, float32(65504), roundHalf(65504))
	assert.Equal(t, float32(0.5), roundHalf(0.5))
	assert.InDelta(t, 0.1, roundHalf(0.1), 1e-4)
	assert.NotEqual(t, float32(0.1), roundHalf(0.1))
}

func TestForEachRowVisitsEveryRow(t *testing.T) {
	seen := make([]int, 37)
	forEachRow(len(seen), 4, func(y int) { seen[y]++ })
	for y, n := range seen {
		assert.Equal(t, 1, n, "row %d", y)
	}
}
