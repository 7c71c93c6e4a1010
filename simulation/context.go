// Package simulation runs the fluid solver and the splat primitive over the
// render targets owned by a Context.
package simulation

import (
	"fmt"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"fluidviz/config"
	"fluidviz/core"
	"fluidviz/gpu"
)

// Context owns every GPU resource of one visualizer instance. All methods
// must be called from the render thread.
type Context struct {
	Device   core.Device
	Caps     core.Capabilities
	Config   *config.SimulationConfig
	Registry *gpu.Registry
	Pool     *gpu.Pool

	logger *zap.Logger
	rng    *rand.Rand
	splats int
}

// NewContext compiles the programs and allocates the framebuffers for the
// current drawing buffer. cfg must already reflect the capabilities.
func NewContext(dev core.Device, caps core.Capabilities, cfg *config.SimulationConfig, rng *rand.Rand, logger *zap.Logger) (*Context, error) {
	reg := gpu.NewRegistry(dev, caps, logger.Named("registry"))
	c := &Context{
		Device:   dev,
		Caps:     caps,
		Config:   cfg,
		Registry: reg,
		Pool:     gpu.NewPool(dev, caps, reg, logger.Named("pool")),
		logger:   logger,
		rng:      rng,
	}
	if _, err := c.Pool.InitFramebuffers(*cfg); err != nil {
		reg.Close()
		return nil, fmt.Errorf("init framebuffers: %w", err)
	}
	return c, nil
}

// Framebuffers returns the current target set.
func (c *Context) Framebuffers() *gpu.Framebuffers {
	return c.Pool.Framebuffers()
}

// Reinit re-sizes every target to the current drawing buffer.
func (c *Context) Reinit() error {
	if _, err := c.Pool.InitFramebuffers(*c.Config); err != nil {
		return fmt.Errorf("reinit framebuffers: %w", err)
	}
	return nil
}

// Splats returns how many splats have been injected.
func (c *Context) Splats() int { return c.splats }

// Rand returns the context's random source.
func (c *Context) Rand() *rand.Rand { return c.rng }

func (c *Context) draw(pass core.Pass, dst core.Target, u core.Uniforms) {
	c.Registry.Draw(c.Registry.Program(pass), dst, u)
}

// Clear zeroes dye, velocity and pressure.
func (c *Context) Clear() {
	fb := c.Framebuffers()
	c.Device.SetBlend(core.BlendNone)
	zero := core.Uniforms{"color": mgl32.Vec4{}}
	for _, d := range []*core.DoubleBuffer{fb.Dye, fb.Velocity, fb.Pressure} {
		c.draw(core.PassColor, d.Read(), zero)
		c.draw(core.PassColor, d.Write(), zero)
	}
}

// Close releases every target and program.
func (c *Context) Close() {
	c.Pool.Close()
	c.Registry.Close()
}
