package simulation

import (
	"time"

	"fluidviz/core"
)

// MaxDelta caps the timestep. It is the solver's only stability guard.
const MaxDelta = 0.016666

// ClampDelta converts wall-clock elapsed time into a solver timestep.
func ClampDelta(elapsed time.Duration) float32 {
	dt := elapsed.Seconds()
	if dt > MaxDelta {
		dt = MaxDelta
	}
	if dt < 0 {
		dt = 0
	}
	return float32(dt)
}

// Step advances the fluid by dt: vorticity confinement, pressure
// projection, then advection of velocity and dye.
func (c *Context) Step(dt float32) {
	fb := c.Framebuffers()
	cfg := c.Config
	vel := fb.Velocity
	pressure := fb.Pressure
	texel := vel.TexelSize()

	c.Device.SetBlend(core.BlendNone)

	c.draw(core.PassCurl, fb.Curl, core.Uniforms{
		"texelSize": texel,
		"uVelocity": vel.Read(),
	})

	c.draw(core.PassVorticity, vel.Write(), core.Uniforms{
		"texelSize": texel,
		"uVelocity": vel.Read(),
		"uCurl":     fb.Curl,
		"curl":      cfg.Curl,
		"dt":        dt,
	})
	vel.Swap()

	c.draw(core.PassDivergence, fb.Divergence, core.Uniforms{
		"texelSize": texel,
		"uVelocity": vel.Read(),
	})

	c.draw(core.PassClear, pressure.Write(), core.Uniforms{
		"texelSize": texel,
		"uTexture":  pressure.Read(),
		"value":     cfg.Pressure,
	})
	pressure.Swap()

	for i := 0; i < cfg.PressureIterations; i++ {
		c.draw(core.PassPressure, pressure.Write(), core.Uniforms{
			"texelSize":   texel,
			"uDivergence": fb.Divergence,
			"uPressure":   pressure.Read(),
		})
		pressure.Swap()
	}

	c.draw(core.PassGradientSubtract, vel.Write(), core.Uniforms{
		"texelSize": texel,
		"uPressure": pressure.Read(),
		"uVelocity": vel.Read(),
	})
	vel.Swap()

	c.draw(core.PassAdvection, vel.Write(), core.Uniforms{
		"texelSize":    texel,
		"dyeTexelSize": texel,
		"uVelocity":    vel.Read(),
		"uSource":      vel.Read(),
		"dt":           dt,
		"dissipation":  cfg.VelocityDissipation,
	})
	vel.Swap()

	c.draw(core.PassAdvection, fb.Dye.Write(), core.Uniforms{
		"texelSize":    texel,
		"dyeTexelSize": fb.Dye.TexelSize(),
		"uVelocity":    vel.Read(),
		"uSource":      fb.Dye.Read(),
		"dt":           dt,
		"dissipation":  cfg.DensityDissipation,
	})
	fb.Dye.Swap()
}
