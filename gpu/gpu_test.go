package gpu

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fluidviz/config"
	"fluidviz/core"
	"fluidviz/gpu/soft"
)

func smallConfig() config.SimulationConfig {
	cfg := config.Defaults().Simulation
	cfg.SimResolution = 32
	cfg.DyeResolution = 64
	cfg.BloomResolution = 64
	cfg.SunraysResolution = 32
	return cfg
}

type fixture struct {
	dev  *soft.Device
	caps core.Capabilities
	reg  *Registry
	pool *Pool
}

func newFixture(t *testing.T, opts soft.Options) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dev := soft.NewDevice(opts)
	caps, err := Negotiate(dev, logger)
	require.NoError(t, err)
	reg := NewRegistry(dev, caps, logger)
	return &fixture{dev: dev, caps: caps, reg: reg, pool: NewPool(dev, caps, reg, logger)}
}

func TestNegotiateFormatLadder(t *testing.T) {
	tests := []struct {
		name         string
		unrenderable []core.InternalFormat
		rgba, rg, r  core.TextureFormat
	}{
		{
			name: "all half float formats",
			rgba: core.FormatRGBA16F, rg: core.FormatRG16F, r: core.FormatR16F,
		},
		{
			name:         "no single channel",
			unrenderable: []core.InternalFormat{core.InternalR16F},
			rgba:         core.FormatRGBA16F, rg: core.FormatRG16F, r: core.FormatRG16F,
		},
		{
			name:         "four channel half float only",
			unrenderable: []core.InternalFormat{core.InternalR16F, core.InternalRG16F},
			rgba:         core.FormatRGBA16F, rg: core.FormatRGBA16F, r: core.FormatRGBA16F,
		},
		{
			name:         "no half float at all",
			unrenderable: []core.InternalFormat{core.InternalR16F, core.InternalRG16F, core.InternalRGBA16F},
			rgba:         core.FormatRGBA8, rg: core.FormatRGBA8, r: core.FormatRGBA8,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := soft.DefaultOptions()
			opts.Unrenderable = tc.unrenderable
			caps, err := Negotiate(soft.NewDevice(opts), zaptest.NewLogger(t))
			require.NoError(t, err)
			assert.Equal(t, tc.rgba, caps.RGBA)
			assert.Equal(t, tc.rg, caps.RG)
			assert.Equal(t, tc.r, caps.R)
			assert.Equal(t, tc.rgba.Type, caps.HalfFloat)
		})
	}
}

func TestNegotiateFailsWithoutAnyFormat(t *testing.T) {
	opts := soft.DefaultOptions()
	opts.Unrenderable = []core.InternalFormat{
		core.InternalR16F, core.InternalRG16F, core.InternalRGBA16F, core.InternalRGBA8,
	}
	_, err := Negotiate(soft.NewDevice(opts), zaptest.NewLogger(t))
	assert.True(t, errors.Is(err, ErrNoRenderableFormat))
}

func TestNoLinearFilteringDegradesConfig(t *testing.T) {
	opts := soft.DefaultOptions()
	opts.LinearFiltering = false
	f := newFixture(t, opts)

	cfg := config.Defaults().Simulation
	ApplyCapabilities(&cfg, f.caps)

	assert.Equal(t, 512, cfg.DyeResolution)
	assert.False(t, cfg.Shading)
	assert.False(t, cfg.Bloom)
	assert.False(t, cfg.Sunrays)
	assert.Equal(t, core.FilterNearest, f.caps.Filtering())

	manual := core.ProgramSource{Pass: core.PassAdvection, Keywords: []string{core.KeywordManualFiltering}}
	assert.Equal(t, 1, f.dev.Compiles(manual))
	assert.Equal(t, manual.String(), f.reg.Program(core.PassAdvection).Source().String())
}

func TestApplyCapabilitiesKeepsConfigWithLinearFiltering(t *testing.T) {
	cfg := config.Defaults().Simulation
	ApplyCapabilities(&cfg, core.Capabilities{LinearFiltering: true})
	assert.Equal(t, config.Defaults().Simulation, cfg)
}

func TestResizeIsIdempotent(t *testing.T) {
	f := newFixture(t, soft.DefaultOptions())
	tgt, err := f.pool.Allocate(8, 6, f.caps.RGBA, core.FilterLinear)
	require.NoError(t, err)

	first, err := f.pool.Resize(tgt, 8, 6)
	require.NoError(t, err)
	second, err := f.pool.Resize(first, 8, 6)
	require.NoError(t, err)
	assert.Same(t, tgt, first)
	assert.Same(t, tgt, second)
}

func TestResizeCopiesContents(t *testing.T) {
	f := newFixture(t, soft.DefaultOptions())
	tgt, err := f.pool.Allocate(4, 4, f.caps.RGBA, core.FilterLinear)
	require.NoError(t, err)
	f.dev.Draw(f.reg.Program(core.PassColor), tgt, core.Uniforms{"color": mgl32.Vec4{0.5, 0.25, 0, 1}})
	before := f.dev.LiveTextures()

	bigger, err := f.pool.Resize(tgt, 8, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, bigger.Width())
	assert.Equal(t, before, f.dev.LiveTextures())

	px, err := f.dev.ReadPixels(bigger)
	require.NoError(t, err)
	for i := 0; i < len(px); i += 4 {
		assert.InDelta(t, 0.5, px[i], 1e-3)
		assert.InDelta(t, 0.25, px[i+1], 1e-3)
	}
}

func TestResizeDoubleKeepsReadOnly(t *testing.T) {
	f := newFixture(t, soft.DefaultOptions())
	d, err := f.pool.AllocateDouble(4, 4, f.caps.RGBA, core.FilterLinear)
	require.NoError(t, err)
	fill := f.reg.Program(core.PassColor)
	f.dev.Draw(fill, d.Read(), core.Uniforms{"color": mgl32.Vec4{1, 0, 0, 1}})
	f.dev.Draw(fill, d.Write(), core.Uniforms{"color": mgl32.Vec4{0, 1, 0, 1}})

	require.NoError(t, f.pool.ResizeDouble(d, 6, 6))

	read, _ := f.dev.ReadPixels(d.Read())
	write, _ := f.dev.ReadPixels(d.Write())
	assert.InDelta(t, 1.0, read[0], 1e-3)
	assert.Equal(t, float32(0), write[1])
	assert.Equal(t, 6, d.Write().Width())
}

func TestInitFramebuffers(t *testing.T) {
	f := newFixture(t, soft.DefaultOptions())
	cfg := smallConfig()

	fb, err := f.pool.InitFramebuffers(cfg)
	require.NoError(t, err)

	// 320x240 surface
	assert.Equal(t, 43, fb.Velocity.Width())
	assert.Equal(t, 32, fb.Velocity.Height())
	assert.Equal(t, 85, fb.Dye.Width())
	assert.Equal(t, core.FilterNearest, fb.Pressure.Read().Spec().Filter)
	assert.Equal(t, f.caps.R, fb.Curl.Spec().Format)
	assert.Equal(t, f.caps.RG, fb.Velocity.Read().Spec().Format)
	require.Len(t, fb.BloomChain, 5)
	assert.Equal(t, 42, fb.BloomChain[0].Width())
	assert.Equal(t, 2, fb.BloomChain[4].Height())
	assert.Zero(t, f.pool.Reallocations())

	live := f.dev.LiveTextures()
	assert.Equal(t, 16, live)

	dye := fb.Dye.Read()
	fb, err = f.pool.InitFramebuffers(cfg)
	require.NoError(t, err)
	assert.Same(t, dye, fb.Dye.Read())
	assert.Equal(t, 1, f.pool.Reallocations())
	assert.Equal(t, live, f.dev.LiveTextures())

	f.pool.Close()
	assert.Zero(t, f.dev.LiveTextures())
}

func TestResizeDoubleFailureKeepsTargets(t *testing.T) {
	f := newFixture(t, soft.DefaultOptions())
	d, err := f.pool.AllocateDouble(4, 4, f.caps.RGBA, core.FilterLinear)
	require.NoError(t, err)
	read, write := d.Read(), d.Write()

	f.dev.FailTargetsAfter(1)
	require.Error(t, f.pool.ResizeDouble(d, 8, 8))
	f.dev.FailTargetsAfter(-1)

	assert.Same(t, read, d.Read())
	assert.Same(t, write, d.Write())
	assert.True(t, f.dev.Alive(read))
	assert.True(t, f.dev.Alive(write))
	assert.Equal(t, 2, f.dev.LiveTextures())
}

func TestFailedReallocationKeepsPreviousSet(t *testing.T) {
	f := newFixture(t, soft.DefaultOptions())
	cfg := smallConfig()
	old, err := f.pool.InitFramebuffers(cfg)
	require.NoError(t, err)
	f.dev.Draw(f.reg.Program(core.PassColor), old.Dye.Read(), core.Uniforms{"color": mgl32.Vec4{0.5, 0, 0, 1}})
	targets := old.targets()
	live := f.dev.LiveTextures()

	f.dev.Resize(240, 320)
	for budget := 0; budget < live; budget++ {
		f.dev.FailTargetsAfter(budget)
		_, err := f.pool.InitFramebuffers(cfg)
		require.Error(t, err, "budget %d", budget)

		assert.Same(t, old, f.pool.Framebuffers())
		assert.Equal(t, live, f.dev.LiveTextures(), "budget %d", budget)
		for _, tgt := range targets {
			assert.True(t, f.dev.Alive(tgt), "budget %d", budget)
		}
	}
	assert.Zero(t, f.pool.Reallocations())

	f.dev.FailTargetsAfter(-1)
	fb, err := f.pool.InitFramebuffers(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, f.pool.Reallocations())
	assert.Equal(t, live, f.dev.LiveTextures())
	assert.Equal(t, 32, fb.Velocity.Width())
	assert.Equal(t, 43, fb.Velocity.Height())
	for _, tgt := range targets {
		assert.False(t, f.dev.Alive(tgt))
	}

	px, err := f.dev.ReadPixels(fb.Dye.Read())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, px[0], 1e-3)
}

func TestBloomChainRespectsIterations(t *testing.T) {
	f := newFixture(t, soft.DefaultOptions())
	cfg := smallConfig()
	cfg.BloomIterations = 2

	fb, err := f.pool.InitFramebuffers(cfg)
	require.NoError(t, err)
	assert.Len(t, fb.BloomChain, 2)
}

func TestDisplayMaterialCache(t *testing.T) {
	f := newFixture(t, soft.DefaultOptions())
	m := f.reg.Display()
	assert.Nil(t, m.Active())

	a := m.SetKeywords(FlagShading | FlagBloom)
	b := m.SetKeywords(FlagShading | FlagBloom)
	assert.Same(t, a, b)
	assert.Equal(t, 1, m.Variants())
	assert.Equal(t, 1, f.dev.Compiles(core.ProgramSource{
		Pass:     core.PassDisplay,
		Keywords: []string{core.KeywordShading, core.KeywordBloom},
	}))

	c := m.SetKeywords(FlagBloom | FlagSunrays)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, m.Variants())
	assert.Equal(t, FlagBloom|FlagSunrays, m.ActiveFlags())

	none := m.SetKeywords(0)
	assert.Empty(t, none.Source().Keywords)
	assert.Equal(t, 3, m.Variants())
}

func TestFlagsFor(t *testing.T) {
	cfg := config.Defaults().Simulation
	assert.Equal(t, FlagShading|FlagBloom|FlagSunrays, FlagsFor(cfg))
	cfg.Bloom = false
	assert.Equal(t, FlagShading|FlagSunrays, FlagsFor(cfg))
	assert.Equal(t, []string{core.KeywordShading, core.KeywordSunrays}, FlagsFor(cfg).Keywords())
}

func TestFailedProgramIsSkipped(t *testing.T) {
	opts := soft.DefaultOptions()
	opts.FailPrograms = []core.Pass{core.PassColor}
	f := newFixture(t, opts)

	p := f.reg.Program(core.PassColor)
	require.NotNil(t, p)
	assert.ErrorIs(t, Usable(p), ErrProgramUnusable)
	assert.ErrorIs(t, Usable(nil), ErrProgramUnusable)
	assert.NoError(t, Usable(f.reg.Program(core.PassCopy)))

	tgt, err := f.pool.Allocate(2, 2, f.caps.RGBA, core.FilterLinear)
	require.NoError(t, err)
	f.reg.Draw(p, tgt, core.Uniforms{"color": mgl32.Vec4{1, 1, 1, 1}})
	f.reg.Draw(p, tgt, core.Uniforms{"color": mgl32.Vec4{1, 1, 1, 1}})

	px, _ := f.dev.ReadPixels(tgt)
	assert.Equal(t, float32(0), px[0])
}
