package simulation

import (
	"github.com/go-gl/mathgl/mgl32"

	"fluidviz/colormap"
	"fluidviz/core"
	"fluidviz/input"
)

const (
	randomImpulse = 1000
	randomBoost   = 10
)

// Splat adds a gaussian impulse (dx, dy) to velocity and color to dye,
// centred on texture coordinate (x, y).
func (c *Context) Splat(x, y, dx, dy float32, color mgl32.Vec3) {
	fb := c.Framebuffers()
	w, h := c.Device.DrawingBufferSize()
	aspect := core.AspectRatio(w, h)
	radius := core.CorrectRadius(c.Config.SplatRadius/100, aspect)
	point := mgl32.Vec2{x, y}

	c.Device.SetBlend(core.BlendNone)

	c.draw(core.PassSplat, fb.Velocity.Write(), core.Uniforms{
		"texelSize":   fb.Velocity.TexelSize(),
		"uTarget":     fb.Velocity.Read(),
		"aspectRatio": aspect,
		"point":       point,
		"color":       mgl32.Vec3{dx, dy, 0},
		"radius":      radius,
	})
	fb.Velocity.Swap()

	c.draw(core.PassSplat, fb.Dye.Write(), core.Uniforms{
		"texelSize":   fb.Dye.TexelSize(),
		"uTarget":     fb.Dye.Read(),
		"aspectRatio": aspect,
		"point":       point,
		"color":       color,
		"radius":      radius,
	})
	fb.Dye.Swap()

	c.splats++
}

// MultipleSplats injects n splats of random colour, position and impulse.
func (c *Context) MultipleSplats(n int) {
	for i := 0; i < n; i++ {
		color := colormap.Random(c.rng).Mul(randomBoost)
		x := float32(c.rng.Float64())
		y := float32(c.rng.Float64())
		dx := float32(randomImpulse * (c.rng.Float64() - 0.5))
		dy := float32(randomImpulse * (c.rng.Float64() - 0.5))
		c.Splat(x, y, dx, dy, color)
	}
}

// SplatPointer injects the motion of a dragged pointer.
func (c *Context) SplatPointer(p input.Pointer) {
	force := c.Config.SplatForce
	c.Splat(p.TexCoord[0], p.TexCoord[1], p.Delta[0]*force, p.Delta[1]*force, p.Color)
}
