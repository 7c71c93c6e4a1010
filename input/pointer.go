package input

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"fluidviz/colormap"
	"fluidviz/core"
)

// Pointer is one mouse or touch contact in texture space.
type Pointer struct {
	ID           int
	TexCoord     mgl32.Vec2
	PrevTexCoord mgl32.Vec2
	Delta        mgl32.Vec2
	Down         bool
	Moved        bool
	Color        mgl32.Vec3
}

// PointerAdapter tracks pointers from window callbacks. Events are buffered
// on the pointers and consumed once per frame.
type PointerAdapter struct {
	rng      *rand.Rand
	pointers []*Pointer
}

// NewPointerAdapter starts with the primary pointer, id -1, in place.
func NewPointerAdapter(rng *rand.Rand) *PointerAdapter {
	return &PointerAdapter{
		rng:      rng,
		pointers: []*Pointer{{ID: -1, Color: mgl32.Vec3{30, 0, 300}}},
	}
}

func (a *PointerAdapter) find(id int) *Pointer {
	for _, p := range a.pointers {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Down starts a contact at pixel (x, y) on a w x h surface.
func (a *PointerAdapter) Down(id int, x, y float64, w, h int) {
	p := a.find(id)
	if p == nil {
		p = &Pointer{ID: id}
		a.pointers = append(a.pointers, p)
	}
	p.Down = true
	p.Moved = false
	p.TexCoord = texCoord(x, y, w, h)
	p.PrevTexCoord = p.TexCoord
	p.Delta = mgl32.Vec2{}
	p.Color = colormap.Random(a.rng)
}

// Move updates a pressed contact. Moves of released pointers are ignored.
func (a *PointerAdapter) Move(id int, x, y float64, w, h int) {
	p := a.find(id)
	if p == nil || !p.Down {
		return
	}
	aspect := core.AspectRatio(w, h)
	p.PrevTexCoord = p.TexCoord
	p.TexCoord = texCoord(x, y, w, h)
	d := p.TexCoord.Sub(p.PrevTexCoord)
	p.Delta = mgl32.Vec2{core.CorrectDeltaX(d[0], aspect), core.CorrectDeltaY(d[1], aspect)}
	p.Moved = math.Abs(float64(p.Delta[0])) > 0 || math.Abs(float64(p.Delta[1])) > 0
}

// Up ends a contact.
func (a *PointerAdapter) Up(id int) {
	if p := a.find(id); p != nil {
		p.Down = false
	}
}

// Drain calls fn for every pointer that moved since the last drain.
func (a *PointerAdapter) Drain(fn func(p Pointer)) {
	for _, p := range a.pointers {
		if p.Moved {
			p.Moved = false
			fn(*p)
		}
	}
}

// RandomizeColors gives every pointer a fresh random colour.
func (a *PointerAdapter) RandomizeColors() {
	for _, p := range a.pointers {
		p.Color = colormap.Random(a.rng)
	}
}

// Active returns the number of pressed pointers.
func (a *PointerAdapter) Active() int {
	n := 0
	for _, p := range a.pointers {
		if p.Down {
			n++
		}
	}
	return n
}

// Pointer returns a copy of the pointer with id.
func (a *PointerAdapter) Pointer(id int) (Pointer, bool) {
	p := a.find(id)
	if p == nil {
		return Pointer{}, false
	}
	return *p, true
}

func texCoord(x, y float64, w, h int) mgl32.Vec2 {
	if w <= 0 || h <= 0 {
		return mgl32.Vec2{}
	}
	return mgl32.Vec2{float32(x / float64(w)), float32(1 - y/float64(h))}
}
