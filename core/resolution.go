package core

import "math"

// Resolution sizes a field so its cells stay roughly square: the short side
// gets round(base) texels and the long side round(base*aspect).
func Resolution(base float64, bufferWidth, bufferHeight int) (int, int) {
	if bufferWidth <= 0 || bufferHeight <= 0 {
		n := roundHalfUp(base)
		return n, n
	}
	aspect := float64(bufferWidth) / float64(bufferHeight)
	if aspect < 1 {
		aspect = 1 / aspect
	}

	short := roundHalfUp(base)
	long := roundHalfUp(base * aspect)

	if bufferWidth > bufferHeight {
		return long, short
	}
	return short, long
}

// AspectRatio is width over height, 1 for a degenerate surface.
func AspectRatio(width, height int) float32 {
	if width <= 0 || height <= 0 {
		return 1
	}
	return float32(width) / float32(height)
}

// CorrectRadius widens a splat radius on landscape surfaces.
func CorrectRadius(radius, aspect float32) float32 {
	if aspect > 1 {
		radius *= aspect
	}
	return radius
}

// CorrectDeltaX scales a horizontal pointer delta on portrait surfaces.
func CorrectDeltaX(delta, aspect float32) float32 {
	if aspect < 1 {
		delta *= aspect
	}
	return delta
}

// CorrectDeltaY scales a vertical pointer delta on landscape surfaces.
func CorrectDeltaY(delta, aspect float32) float32 {
	if aspect > 1 {
		delta /= aspect
	}
	return delta
}

// Wrap maps value into [min, max).
func Wrap(value, min, max float64) float64 {
	r := max - min
	if r == 0 {
		return min
	}
	return math.Mod(value-min, r) + min
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
