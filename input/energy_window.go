package input

import "gonum.org/v1/gonum/floats"

// EnergyWindowCapacity is the number of recent samples kept.
const EnergyWindowCapacity = 5

// EnergyWindow is a fixed-capacity FIFO of recent four-channel samples.
// Pushing onto a full window evicts the oldest sample.
type EnergyWindow struct {
	buf   [EnergyWindowCapacity][4]float64
	start int
	n     int
}

// Push appends a sample, evicting the oldest when full.
func (w *EnergyWindow) Push(ch [4]float64) {
	if w.n < EnergyWindowCapacity {
		w.buf[(w.start+w.n)%EnergyWindowCapacity] = ch
		w.n++
		return
	}
	w.buf[w.start] = ch
	w.start = (w.start + 1) % EnergyWindowCapacity
}

func (w *EnergyWindow) Len() int { return w.n }

// Samples returns the window contents, oldest first.
func (w *EnergyWindow) Samples() [][4]float64 {
	out := make([][4]float64, w.n)
	for i := range out {
		out[i] = w.buf[(w.start+i)%EnergyWindowCapacity]
	}
	return out
}

// Mean is the total of every channel of every sample divided by the
// capacity. It is only defined on a full window.
func (w *EnergyWindow) Mean() (float64, bool) {
	if w.n != EnergyWindowCapacity {
		return 0, false
	}
	totals := make([]float64, 0, EnergyWindowCapacity)
	for _, s := range w.Samples() {
		totals = append(totals, floats.Sum(s[:]))
	}
	return floats.Sum(totals) / EnergyWindowCapacity, true
}

func (w *EnergyWindow) Reset() {
	*w = EnergyWindow{}
}
