package gpu

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"fluidviz/config"
	"fluidviz/core"
)

// ErrProgramUnusable marks a draw requested with a program that failed to
// compile or link.
var ErrProgramUnusable = errors.New("program unusable")

// Registry compiles the fixed passes once and hands out the display
// material.
type Registry struct {
	dev      core.Device
	logger   *zap.Logger
	programs map[core.Pass]core.Program
	display  *Material

	mu     sync.Mutex
	warned map[string]bool
}

// NewRegistry compiles every fixed pass. Failures are logged and leave an
// unusable program behind; they are not returned.
func NewRegistry(dev core.Device, caps core.Capabilities, logger *zap.Logger) *Registry {
	r := &Registry{
		dev:      dev,
		logger:   logger,
		programs: make(map[core.Pass]core.Program, len(core.FixedPasses)),
		warned:   make(map[string]bool),
	}

	for _, pass := range core.FixedPasses {
		src := core.ProgramSource{Pass: pass}
		if pass == core.PassAdvection && !caps.LinearFiltering {
			src.Keywords = []string{core.KeywordManualFiltering}
		}
		r.programs[pass] = r.compile(src)
	}
	r.display = &Material{
		pass:     core.PassDisplay,
		compile:  r.compile,
		programs: make(map[DisplayFlags]core.Program),
	}
	return r
}

func (r *Registry) compile(src core.ProgramSource) core.Program {
	p, err := r.dev.CompileProgram(src)
	if err != nil {
		r.logger.Error("program build failed",
			zap.String("program", src.Pass.String()),
			zap.Strings("keywords", src.Keywords),
			zap.String("log", err.Error()))
	}
	return p
}

// Program returns the compiled program for a fixed pass.
func (r *Registry) Program(pass core.Pass) core.Program {
	return r.programs[pass]
}

// Display returns the keyword-driven display material.
func (r *Registry) Display() *Material {
	return r.display
}

// Usable reports ErrProgramUnusable for a missing or failed program.
func Usable(p core.Program) error {
	if p == nil {
		return ErrProgramUnusable
	}
	if !p.Valid() {
		return fmt.Errorf("%s: %w", p.Source(), ErrProgramUnusable)
	}
	return nil
}

// Draw runs p into dst. Draws with unusable programs are skipped and logged
// once per program.
func (r *Registry) Draw(p core.Program, dst core.Target, u core.Uniforms) {
	if err := Usable(p); err != nil {
		key := "<nil>"
		if p != nil {
			key = p.Source().String()
		}
		r.mu.Lock()
		first := !r.warned[key]
		r.warned[key] = true
		r.mu.Unlock()
		if first {
			r.logger.Warn("skipping draw", zap.Error(err))
		}
		return
	}
	r.dev.Draw(p, dst, u)
}

// Close releases every compiled program.
func (r *Registry) Close() {
	for _, p := range r.programs {
		if p != nil {
			r.dev.DeleteProgram(p)
		}
	}
	for _, p := range r.display.programs {
		if p != nil {
			r.dev.DeleteProgram(p)
		}
	}
}

// DisplayFlags is the set of display features a material variant is built
// with.
type DisplayFlags uint8

const (
	FlagShading DisplayFlags = 1 << iota
	FlagBloom
	FlagSunrays
)

// FlagsFor reads the display toggles from cfg.
func FlagsFor(cfg config.SimulationConfig) DisplayFlags {
	var f DisplayFlags
	if cfg.Shading {
		f |= FlagShading
	}
	if cfg.Bloom {
		f |= FlagBloom
	}
	if cfg.Sunrays {
		f |= FlagSunrays
	}
	return f
}

// Keywords returns the preprocessor keywords for f in a fixed order.
func (f DisplayFlags) Keywords() []string {
	var kw []string
	if f&FlagShading != 0 {
		kw = append(kw, core.KeywordShading)
	}
	if f&FlagBloom != 0 {
		kw = append(kw, core.KeywordBloom)
	}
	if f&FlagSunrays != 0 {
		kw = append(kw, core.KeywordSunrays)
	}
	return kw
}

// Material caches one compiled variant per flag set, compiling lazily.
type Material struct {
	pass     core.Pass
	compile  func(core.ProgramSource) core.Program
	programs map[DisplayFlags]core.Program

	active      core.Program
	activeFlags DisplayFlags
}

// SetKeywords selects the variant for f, compiling it on first use.
func (m *Material) SetKeywords(f DisplayFlags) core.Program {
	p, ok := m.programs[f]
	if !ok {
		p = m.compile(core.ProgramSource{Pass: m.pass, Keywords: f.Keywords()})
		m.programs[f] = p
	}
	m.active = p
	m.activeFlags = f
	return p
}

// Active returns the currently selected variant, nil before SetKeywords.
func (m *Material) Active() core.Program { return m.active }

// ActiveFlags returns the flag set of the active variant.
func (m *Material) ActiveFlags() DisplayFlags { return m.activeFlags }

// Variants returns the number of cached variants.
func (m *Material) Variants() int { return len(m.programs) }
