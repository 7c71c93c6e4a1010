package core

import "github.com/go-gl/mathgl/mgl32"

// DoubleBuffer is a read/write pair of targets. Passes sample Read and
// render into Write, then Swap.
type DoubleBuffer struct {
	read  Target
	write Target
}

// NewDoubleBuffer pairs two targets of identical size.
func NewDoubleBuffer(read, write Target) *DoubleBuffer {
	return &DoubleBuffer{read: read, write: write}
}

func (d *DoubleBuffer) Read() Target  { return d.read }
func (d *DoubleBuffer) Write() Target { return d.write }

// Swap exchanges read and write without touching their contents.
func (d *DoubleBuffer) Swap() {
	d.read, d.write = d.write, d.read
}

// Replace installs new targets, used by the pool when resizing.
func (d *DoubleBuffer) Replace(read, write Target) {
	d.read = read
	d.write = write
}

func (d *DoubleBuffer) Width() int  { return d.read.Width() }
func (d *DoubleBuffer) Height() int { return d.read.Height() }

func (d *DoubleBuffer) TexelSize() mgl32.Vec2 {
	return d.read.TexelSize()
}
