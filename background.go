package main

import (
	"context"
	"fmt"

	rl "github.com/gen2brain/raylib-go/raylib"

	"fluidviz/config"
)

// backColor narrows a configured background to 8-bit channels.
func backColor(c config.Color) rl.Color {
	return rl.NewColor(channel(c.R), channel(c.G), channel(c.B), 255)
}

func channel(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func hexColor(c rl.Color) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// clampBackColor rewrites the background of cfg through rl.Color so every
// channel is in range.
func clampBackColor(cfg *config.SimulationConfig) rl.Color {
	bg := backColor(cfg.BackColor)
	cfg.BackColor = config.Color{R: int(bg.R), G: int(bg.G), B: int(bg.B)}
	return bg
}

// clampedConfigs forwards reloaded configs with their background clamped.
func clampedConfigs(ctx context.Context, in <-chan config.SimulationConfig) <-chan config.SimulationConfig {
	out := make(chan config.SimulationConfig, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-in:
				if !ok {
					return
				}
				clampBackColor(&cfg)
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
