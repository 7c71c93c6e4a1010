// Package input turns sensor samples and pointer events into splats.
package input

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"fluidviz/colormap"
	"fluidviz/config"
	"fluidviz/sensor"
)

// Splat radius presets.
const (
	RadiusWide    float32 = 0.9
	RadiusNarrow  float32 = 0.1
	RadiusDefault float32 = 0.25
)

const (
	maxEnergy   = 80
	impulseSpan = 1000
	colorBoost  = 10
)

// Splatter injects one splat. x and y are texture coordinates.
type Splatter interface {
	Splat(x, y, dx, dy float32, color mgl32.Vec3)
}

// Forcing is the outcome of applying one sample.
type Forcing struct {
	Splats int
	Radius float32
	Color  mgl32.Vec3
}

// ForcingAdapter converts sensor samples into bursts of random splats whose
// radius reacts to how the sample compares with recent energy.
type ForcingAdapter struct {
	cfg    *config.SimulationConfig
	rng    *rand.Rand
	window EnergyWindow
}

func NewForcingAdapter(cfg *config.SimulationConfig, rng *rand.Rand) *ForcingAdapter {
	return &ForcingAdapter{cfg: cfg, rng: rng}
}

// Apply selects the radius against the window as it was before s arrived,
// injects the splats, then records s.
func (a *ForcingAdapter) Apply(s sensor.Sample, dst Splatter) Forcing {
	sum := s.Sum()
	mean, ok := a.window.Mean()
	radius := SelectRadius(sum, mean, ok)
	a.cfg.SplatRadius = radius

	tagged := s.Tag != colormap.TagNone
	n := SplatCount(sum, tagged)

	ch := s.Channels
	color := colormap.FromChannels(ch[0], ch[1], ch[2], ch[3], s.Tag).Mul(colorBoost)

	for i := 0; i < n; i++ {
		x := float32(a.rng.Float64())
		y := float32(a.rng.Float64())
		dx := float32(impulseSpan * (a.rng.Float64() - 0.5))
		dy := float32(impulseSpan * (a.rng.Float64() - 0.5))
		dst.Splat(x, y, dx, dy, color)
	}

	a.window.Push(ch)
	return Forcing{Splats: n, Radius: radius, Color: color}
}

// Reset forgets recent energy, as after a session refresh.
func (a *ForcingAdapter) Reset() {
	a.window.Reset()
}

// Window exposes the recent-energy window.
func (a *ForcingAdapter) Window() *EnergyWindow { return &a.window }

// SelectRadius picks the wide preset for spikes reaching twice the mean,
// the narrow one for lulls down to half of it, and the default otherwise or
// when no mean is available yet.
func SelectRadius(sum, mean float64, haveMean bool) float32 {
	switch {
	case !haveMean:
		return RadiusDefault
	case sum >= mean*2:
		return RadiusWide
	case sum <= mean/2:
		return RadiusNarrow
	default:
		return RadiusDefault
	}
}

// SplatCount maps a channel sum onto 1..5 splats, or 1..3 for tagged
// samples restricted to a single hue.
func SplatCount(sum float64, tagged bool) int {
	sum = math.Min(math.Max(sum, 0), maxEnergy)
	hi := 5.0
	if tagged {
		hi = 3
	}
	return int(math.Floor(1 + sum*(hi-1)/maxEnergy + 0.5))
}
