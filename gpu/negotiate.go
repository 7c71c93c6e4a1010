// Package gpu negotiates device capabilities and owns the render targets and
// programs the solver and compositor draw with.
package gpu

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fluidviz/config"
	"fluidviz/core"
)

// ErrNoRenderableFormat is returned when not even the 8-bit fallback can be
// rendered to.
var ErrNoRenderableFormat = errors.New("no renderable texture format")

// Negotiate probes dev once and returns the capability record every other
// component consumes.
func Negotiate(dev core.Device, logger *zap.Logger) (core.Capabilities, error) {
	features := dev.Features()
	if features.Context == "" {
		return core.Capabilities{}, core.ErrNoContext
	}

	caps := core.Capabilities{
		Context:         features.Context,
		LinearFiltering: features.LinearFiltering,
		FloatBlending:   features.FloatBlending,
	}

	var ok bool
	if caps.RGBA, ok = supportedFormat(dev, core.FormatRGBA16F); !ok {
		return caps, fmt.Errorf("rgba: %w", ErrNoRenderableFormat)
	}
	if caps.RG, ok = supportedFormat(dev, core.FormatRG16F); !ok {
		return caps, fmt.Errorf("rg: %w", ErrNoRenderableFormat)
	}
	if caps.R, ok = supportedFormat(dev, core.FormatR16F); !ok {
		return caps, fmt.Errorf("r: %w", ErrNoRenderableFormat)
	}
	caps.HalfFloat = caps.RGBA.Type

	logger.Info("capabilities negotiated",
		zap.String("context", caps.Context),
		zap.Stringer("rgba", caps.RGBA),
		zap.Stringer("rg", caps.RG),
		zap.Stringer("r", caps.R),
		zap.Bool("linear_filtering", caps.LinearFiltering),
		zap.Bool("float_blending", caps.FloatBlending))
	return caps, nil
}

// formatLadder lists the formats tried for a requested one, narrowest first.
func formatLadder(want core.TextureFormat) []core.TextureFormat {
	switch want.Internal {
	case core.InternalR16F:
		return []core.TextureFormat{core.FormatR16F, core.FormatRG16F, core.FormatRGBA16F, core.FormatRGBA8}
	case core.InternalRG16F:
		return []core.TextureFormat{core.FormatRG16F, core.FormatRGBA16F, core.FormatRGBA8}
	case core.InternalRGBA8:
		return []core.TextureFormat{core.FormatRGBA8}
	default:
		return []core.TextureFormat{core.FormatRGBA16F, core.FormatRGBA8}
	}
}

func supportedFormat(dev core.Device, want core.TextureFormat) (core.TextureFormat, bool) {
	for _, f := range formatLadder(want) {
		if dev.ProbeRenderFormat(f) {
			return f, true
		}
	}
	return core.TextureFormat{}, false
}

// ApplyCapabilities degrades cfg for devices that cannot filter float
// textures linearly.
func ApplyCapabilities(cfg *config.SimulationConfig, caps core.Capabilities) {
	if caps.LinearFiltering {
		return
	}
	cfg.DyeResolution = 512
	cfg.Shading = false
	cfg.Bloom = false
	cfg.Sunrays = false
}
