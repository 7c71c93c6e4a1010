package soft

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"fluidviz/core"
)

// texture is a float32 RGBA image with GL-like sampling rules.
type texture struct {
	id     int
	spec   core.TargetSpec
	repeat bool
	pix    []float32
}

func newTexture(id int, spec core.TargetSpec) *texture {
	return &texture{
		id:   id,
		spec: spec,
		pix:  make([]float32, spec.Width*spec.Height*4),
	}
}

func (t *texture) Width() int            { return t.spec.Width }
func (t *texture) Height() int           { return t.spec.Height }
func (t *texture) Spec() core.TargetSpec { return t.spec }

func (t *texture) TexelSize() mgl32.Vec2 {
	return mgl32.Vec2{1 / float32(t.spec.Width), 1 / float32(t.spec.Height)}
}

func (t *texture) fetch(x, y int) mgl32.Vec4 {
	w, h := t.spec.Width, t.spec.Height
	if t.repeat {
		x = ((x % w) + w) % w
		y = ((y % h) + h) % h
	} else {
		x = clampInt(x, 0, w-1)
		y = clampInt(y, 0, h-1)
	}
	i := (y*w + x) * 4
	return mgl32.Vec4{t.pix[i], t.pix[i+1], t.pix[i+2], t.pix[i+3]}
}

// sample reads the texture at normalized coordinates using its filter.
func (t *texture) sample(uv mgl32.Vec2) mgl32.Vec4 {
	w, h := float32(t.spec.Width), float32(t.spec.Height)
	if t.spec.Filter == core.FilterNearest {
		return t.fetch(floor(uv[0]*w), floor(uv[1]*h))
	}

	sx := uv[0]*w - 0.5
	sy := uv[1]*h - 0.5
	x0 := floor(sx)
	y0 := floor(sy)
	fx := sx - float32(x0)
	fy := sy - float32(y0)

	a := t.fetch(x0, y0)
	b := t.fetch(x0+1, y0)
	c := t.fetch(x0, y0+1)
	d := t.fetch(x0+1, y0+1)
	return mix4(mix4(a, b, fx), mix4(c, d, fx), fy)
}

// store writes a fragment, dropping channels the format does not keep.
func (t *texture) store(x, y int, v mgl32.Vec4, emulateHalf bool) {
	switch t.spec.Format.Pixel.Channels() {
	case 1:
		v = mgl32.Vec4{v[0], 0, 0, 1}
	case 2:
		v = mgl32.Vec4{v[0], v[1], 0, 1}
	}
	switch {
	case t.spec.Format.Type == core.TypeUnsignedByte:
		for i := range v {
			v[i] = float32(math.Round(float64(clamp01(v[i])*255))) / 255
		}
	case emulateHalf:
		for i := range v {
			v[i] = roundHalf(v[i])
		}
	}
	i := (y*t.spec.Width + x) * 4
	copy(t.pix[i:i+4], v[:])
}

func (t *texture) load(x, y int) mgl32.Vec4 {
	i := (y*t.spec.Width + x) * 4
	return mgl32.Vec4{t.pix[i], t.pix[i+1], t.pix[i+2], t.pix[i+3]}
}

func mix4(a, b mgl32.Vec4, f float32) mgl32.Vec4 {
	return a.Mul(1 - f).Add(b.Mul(f))
}

func floor(v float32) int {
	return int(math.Floor(float64(v)))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp(v, lo, hi float32) float32 {
	return float32(math.Min(math.Max(float64(v), float64(lo)), float64(hi)))
}

func clamp01(v float32) float32 {
	return clamp(v, 0, 1)
}
