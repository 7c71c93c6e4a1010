package rendering

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fluidviz/config"
	"fluidviz/core"
	"fluidviz/gpu"
	"fluidviz/gpu/soft"
	"fluidviz/input"
	"fluidviz/sensor"
	"fluidviz/simulation"
)

type recordingObserver struct {
	frames  int
	resizes [][2]int
	splats  map[string]int
	samples []input.Forcing
	active  int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{splats: make(map[string]int)}
}

func (o *recordingObserver) FrameRendered(time.Duration)         { o.frames++ }
func (o *recordingObserver) SplatsInjected(source string, n int) { o.splats[source] += n }
func (o *recordingObserver) SampleApplied(f input.Forcing)       { o.samples = append(o.samples, f) }
func (o *recordingObserver) Resized(w, h int)                    { o.resizes = append(o.resizes, [2]int{w, h}) }
func (o *recordingObserver) PointersActive(n int)                { o.active = n }

type fixture struct {
	dev      *soft.Device
	sim      *simulation.Context
	comp     *Compositor
	queue    *input.SplatQueue
	pointers *input.PointerAdapter
	forcing  *input.ForcingAdapter
	observer *recordingObserver
}

func testConfig() config.SimulationConfig {
	cfg := config.Defaults().Simulation
	cfg.SimResolution = 16
	cfg.DyeResolution = 32
	cfg.BloomResolution = 32
	cfg.SunraysResolution = 16
	cfg.CaptureResolution = 16
	return cfg
}

func newFixture(t *testing.T, w, h int, cfg config.SimulationConfig, opts Options) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	devOpts := soft.DefaultOptions()
	devOpts.Width, devOpts.Height = w, h
	dev := soft.NewDevice(devOpts)

	caps, err := gpu.Negotiate(dev, logger)
	require.NoError(t, err)
	gpu.ApplyCapabilities(&cfg, caps)

	rng := rand.New(rand.NewSource(21))
	sim, err := simulation.NewContext(dev, caps, &cfg, rng, logger)
	require.NoError(t, err)
	t.Cleanup(sim.Close)

	f := &fixture{
		dev:      dev,
		sim:      sim,
		queue:    &input.SplatQueue{},
		pointers: input.NewPointerAdapter(rng),
		forcing:  input.NewForcingAdapter(&cfg, rng),
		observer: newRecordingObserver(),
	}
	opts.Observer = f.observer
	f.comp, err = NewCompositor(sim, f.forcing, f.pointers, f.queue, logger, opts)
	require.NoError(t, err)
	t.Cleanup(f.comp.Close)
	return f
}

func (f *fixture) dyeEnergy(t *testing.T) float32 {
	t.Helper()
	px, err := f.dev.ReadPixels(f.sim.Framebuffers().Dye.Read())
	require.NoError(t, err)
	var sum float32
	for i := 0; i < len(px); i += 4 {
		sum += px[i] + px[i+1] + px[i+2]
	}
	return sum
}

func TestResizeReallocatesExactlyOnce(t *testing.T) {
	f := newFixture(t, 800, 600, testConfig(), Options{})
	t0 := time.Unix(0, 0)

	f.comp.Frame(t0)
	f.comp.Frame(t0.Add(16 * time.Millisecond))
	assert.Zero(t, f.sim.Pool.Reallocations())

	f.dev.Resize(1024, 768)
	f.comp.Frame(t0.Add(32 * time.Millisecond))
	f.comp.Frame(t0.Add(48 * time.Millisecond))

	assert.Equal(t, 1, f.sim.Pool.Reallocations())
	assert.Equal(t, [][2]int{{1024, 768}}, f.observer.resizes)
	assert.Equal(t, 4, f.observer.frames)
}

func TestOpaqueBackgroundFillsScreen(t *testing.T) {
	f := newFixture(t, 64, 48, testConfig(), Options{})
	f.comp.Frame(time.Unix(0, 0))

	px := f.dev.ReadScreen()
	for i := 3; i < len(px); i += 4 {
		require.InDelta(t, 1, px[i], 1e-2)
	}
}

func TestTransparentScreenShowsCheckerboard(t *testing.T) {
	cfg := testConfig()
	cfg.Transparent = true
	cfg.Bloom = false
	cfg.Sunrays = false
	cfg.Shading = false
	f := newFixture(t, 64, 48, cfg, Options{})
	f.comp.Frame(time.Unix(0, 0))

	px := f.dev.ReadScreen()
	for i := 0; i < len(px); i += 4 {
		require.GreaterOrEqual(t, px[i], float32(0.79))
	}
}

func TestSensorSamplesAndRefresh(t *testing.T) {
	messages := make(chan sensor.Message, 4)
	f := newFixture(t, 64, 64, testConfig(), Options{Messages: messages})
	t0 := time.Unix(0, 0)

	messages <- sensor.Message{Kind: sensor.KindSample, Sample: sensor.Sample{Channels: [4]float64{10, 10, 10, 10}}}
	f.comp.Frame(t0)

	require.Len(t, f.observer.samples, 1)
	assert.Equal(t, 3, f.observer.samples[0].Splats)
	assert.Equal(t, 3, f.observer.splats["sensor"])
	assert.Equal(t, 1, f.forcing.Window().Len())
	assert.Greater(t, f.dyeEnergy(t), float32(0))

	messages <- sensor.Message{Kind: sensor.KindRefresh}
	f.comp.Frame(t0.Add(16 * time.Millisecond))

	assert.Zero(t, f.forcing.Window().Len())
	assert.Zero(t, f.dyeEnergy(t))
}

func TestPausedSkipsStep(t *testing.T) {
	cfg := testConfig()
	cfg.Paused = true
	f := newFixture(t, 64, 64, cfg, Options{})

	f.sim.Splat(0.5, 0.5, 0, 0, mgl32.Vec3{1, 1, 1})
	before := f.dyeEnergy(t)
	f.comp.Frame(time.Unix(0, 0))
	f.comp.Frame(time.Unix(0, int64(16*time.Millisecond)))

	assert.Equal(t, before, f.dyeEnergy(t))
}

func TestSplatQueueDrainsOneRequestPerFrame(t *testing.T) {
	f := newFixture(t, 64, 64, testConfig(), Options{})
	f.queue.Push(2)
	f.queue.Push(3)

	f.comp.Frame(time.Unix(0, 0))
	assert.Equal(t, 3, f.sim.Splats())
	f.comp.Frame(time.Unix(0, int64(16*time.Millisecond)))
	assert.Equal(t, 5, f.sim.Splats())
	assert.Equal(t, 5, f.observer.splats["queue"])
}

func TestMovedPointerSplatsOnce(t *testing.T) {
	f := newFixture(t, 64, 64, testConfig(), Options{})
	f.pointers.Down(-1, 32, 32, 64, 64)
	f.pointers.Move(-1, 40, 32, 64, 64)

	f.comp.Frame(time.Unix(0, 0))
	f.comp.Frame(time.Unix(0, int64(16*time.Millisecond)))

	assert.Equal(t, 1, f.observer.splats["pointer"])
	assert.Equal(t, 1, f.observer.active)
}

func TestColorTimerRandomizesPointers(t *testing.T) {
	cfg := testConfig()
	cfg.ColorUpdateSpeed = 100
	f := newFixture(t, 64, 64, cfg, Options{})
	before, _ := f.pointers.Pointer(-1)

	t0 := time.Unix(0, 0)
	f.comp.Frame(t0)
	same, _ := f.pointers.Pointer(-1)
	assert.Equal(t, before.Color, same.Color)

	f.comp.Frame(t0.Add(time.Second))
	after, _ := f.pointers.Pointer(-1)
	assert.NotEqual(t, before.Color, after.Color)
	assert.InDelta(t, 0.6666, f.comp.colorTimer, 1e-3)
}

func TestConfigReloadAppliesAtFrameBoundary(t *testing.T) {
	configs := make(chan config.SimulationConfig, 1)
	f := newFixture(t, 64, 64, testConfig(), Options{Configs: configs})

	next := testConfig()
	next.SimResolution = 8
	next.Curl = 5
	configs <- next
	assert.NotEqual(t, float32(5), f.sim.Config.Curl)

	f.comp.Frame(time.Unix(0, 0))
	assert.Equal(t, float32(5), f.sim.Config.Curl)
	assert.Equal(t, 8, f.sim.Framebuffers().Velocity.Width())
	assert.Equal(t, 1, f.sim.Pool.Reallocations())
}

func TestConfigReloadKeepsRuntimeState(t *testing.T) {
	configs := make(chan config.SimulationConfig, 1)
	f := newFixture(t, 64, 64, testConfig(), Options{Configs: configs})
	f.sim.Config.Paused = true
	f.sim.Config.SplatRadius = 0.7

	next := testConfig()
	next.Paused = false
	next.SplatRadius = 0.1
	next.Curl = 5
	configs <- next

	f.comp.Frame(time.Unix(0, 0))
	assert.True(t, f.sim.Config.Paused)
	assert.Equal(t, float32(0.7), f.sim.Config.SplatRadius)
	assert.Equal(t, float32(5), f.sim.Config.Curl)
}

func TestFailedResizeIsRetried(t *testing.T) {
	f := newFixture(t, 800, 600, testConfig(), Options{})
	t0 := time.Unix(0, 0)
	f.comp.Frame(t0)
	before := f.sim.Framebuffers()

	f.dev.Resize(1024, 768)
	f.dev.FailTargetsAfter(0)
	f.comp.Frame(t0.Add(16 * time.Millisecond))
	assert.Same(t, before, f.sim.Framebuffers())
	assert.Zero(t, f.sim.Pool.Reallocations())
	assert.Empty(t, f.observer.resizes)

	f.dev.FailTargetsAfter(-1)
	f.comp.Frame(t0.Add(32 * time.Millisecond))
	assert.Equal(t, 1, f.sim.Pool.Reallocations())
	assert.Equal(t, [][2]int{{1024, 768}}, f.observer.resizes)
	assert.Equal(t, 3, f.observer.frames)
}

func TestRunStopsWhenSurfaceCloses(t *testing.T) {
	f := newFixture(t, 32, 32, testConfig(), Options{})
	s := &fakeSurface{closeAfter: 3}

	require.NoError(t, f.comp.Run(context.Background(), s))
	assert.Equal(t, 3, s.presented)
	assert.Equal(t, 3, f.observer.frames)
}

func TestStopEndsRunAfterCurrentFrame(t *testing.T) {
	f := newFixture(t, 32, 32, testConfig(), Options{})
	s := &fakeSurface{closeAfter: 100, onPoll: f.comp.Stop}

	require.NoError(t, f.comp.Run(context.Background(), s))
	assert.Equal(t, 1, s.presented)
	assert.False(t, f.comp.Running())
}

type fakeSurface struct {
	closeAfter int
	presented  int
	onPoll     func()
}

func (s *fakeSurface) PollEvents() {
	if s.onPoll != nil {
		s.onPoll()
	}
}
func (s *fakeSurface) ShouldClose() bool { return s.presented >= s.closeAfter }
func (s *fakeSurface) Present()          { s.presented++ }

func TestCaptureWritesNamedPNG(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, 320, 240, testConfig(), Options{
		CaptureDir: dir,
		Session:    func() (string, string) { return "expo", "42" },
	})
	f.sim.Splat(0.5, 0.5, 0, 0, mgl32.Vec3{1, 0, 0})

	path, err := f.comp.Capture()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "expo_42_0.png"), path)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	img, err := png.Decode(file)
	require.NoError(t, err)

	w, h := core.Resolution(16, 320, 240)
	assert.Equal(t, image.Rect(0, 0, w, h), img.Bounds())

	path, err = f.comp.Capture()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "expo_42_1.png"), path)
}

type closeFailure struct {
	bytes.Buffer
	err error
}

func (c *closeFailure) Close() error { return c.err }

func TestWritePNGReportsCloseError(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	ok := &closeFailure{}
	require.NoError(t, writePNG(ok, img))
	assert.NotZero(t, ok.Len())

	failed := &closeFailure{err: errors.New("disk full")}
	assert.EqualError(t, writePNG(failed, img), "disk full")
}

func TestCaptureImageClampsAndFlips(t *testing.T) {
	px := []float32{
		2, 0, 0, 1, // bottom row
		0, 1, -1, 1, // top row
	}
	img := captureImage(px, 1, 2)
	assert.Equal(t, color.NRGBA{0, 255, 0, 255}, img.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, img.NRGBAAt(0, 1))
}

func TestDitherSwapsAtFrameBoundary(t *testing.T) {
	dither := make(chan image.Image, 1)
	f := newFixture(t, 32, 32, testConfig(), Options{Dither: dither})
	require.Equal(t, 1, f.comp.DitherTexture().Width())

	dither <- image.NewRGBA(image.Rect(0, 0, 4, 2))
	f.comp.Frame(time.Unix(0, 0))

	assert.Equal(t, 4, f.comp.DitherTexture().Width())
	assert.Equal(t, 2, f.comp.DitherTexture().Height())
}

func TestLoadDither(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "noise.png")

	src := image.NewGray(image.Rect(2, 3, 10, 7))
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, src))
	require.NoError(t, file.Close())

	img, ok := <-LoadDither(context.Background(), path, logger)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())

	_, ok = <-LoadDither(context.Background(), filepath.Join(dir, "missing.png"), logger)
	assert.False(t, ok)
}
