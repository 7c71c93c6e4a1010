// Package colormap turns four-limb sensor readings into dye colours.
package colormap

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// Dim scales every generated colour so repeated splats do not saturate.
const Dim = 0.15

const (
	imbalanceLimit = 30
	sigmoidK       = 3
	valueCap       = 90
)

// Tag selects a fixed preset hue instead of the imbalance mapping.
type Tag int

const (
	TagNone Tag = iota
	TagBlue
	TagRed
	TagGreen
	TagYellow
)

var tagSuffixes = map[string]Tag{
	"_b": TagBlue,
	"_r": TagRed,
	"_g": TagGreen,
	"_y": TagYellow,
}

// TagForSuffix maps an address suffix such as "_b" to its tag.
func TagForSuffix(suffix string) (Tag, bool) {
	t, ok := tagSuffixes[suffix]
	return t, ok
}

// Suffixes returns the address suffixes that carry a tag.
func Suffixes() []string {
	return []string{"_b", "_r", "_g", "_y"}
}

func (t Tag) String() string {
	switch t {
	case TagBlue:
		return "blue"
	case TagRed:
		return "red"
	case TagGreen:
		return "green"
	case TagYellow:
		return "yellow"
	default:
		return "none"
	}
}

var presetHues = map[Tag]float64{
	TagBlue:   240.0 / 360,
	TagRed:    5.0 / 360,
	TagGreen:  110.0 / 360,
	TagYellow: 54.0 / 360,
}

// FromChannels maps left (sx) and right (dx) limb readings to a colour.
// The hue follows the left/right imbalance through a logistic curve, the
// value follows the total.
func FromChannels(sx1, sx2, dx1, dx2 float64, tag Tag) mgl32.Vec3 {
	if hue, ok := presetHues[tag]; ok {
		return HSVToRGB(hue, 1, 1).Mul(Dim)
	}

	imbalance := clamp((sx1+sx2)-(dx1+dx2), -imbalanceLimit, imbalanceLimit)
	mapped := mapRange(imbalance, -imbalanceLimit, imbalanceLimit, -1, 1)
	hue := sigmoid(mapped, sigmoidK) * 300 / 360

	sum := clamp(sx1+sx2+dx1+dx2, 0, valueCap)
	value := mapRange(sum, 0, valueCap, 0, 1)

	return HSVToRGB(hue, 1, value).Mul(Dim)
}

// Random returns a dimmed colour of random hue.
func Random(rng *rand.Rand) mgl32.Vec3 {
	return HSVToRGB(rng.Float64(), 1, 0.5).Mul(Dim)
}

// HSVToRGB converts h, s, v in [0,1] to RGB in [0,1].
func HSVToRGB(h, s, v float64) mgl32.Vec3 {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	case 5:
		r, g, b = v, p, q
	}
	return mgl32.Vec3{float32(r), float32(g), float32(b)}
}

func sigmoid(x, k float64) float64 {
	return 1 / (1 + math.Exp(-k*x))
}

func mapRange(v, inMin, inMax, outMin, outMax float64) float64 {
	return (v-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
