package core

import (
	"fmt"
	"strings"
)

// Pass identifies one of the fixed full-surface programs.
type Pass int

const (
	PassCopy Pass = iota
	PassClear
	PassColor
	PassCheckerboard
	PassBloomPrefilter
	PassBloomBlur
	PassBloomFinal
	PassSunraysMask
	PassSunrays
	PassBlur
	PassSplat
	PassAdvection
	PassDivergence
	PassCurl
	PassVorticity
	PassPressure
	PassGradientSubtract

	// PassDisplay is the keyword-driven material, compiled per flag set.
	PassDisplay
)

// FixedPasses lists the programs compiled once at startup.
var FixedPasses = []Pass{
	PassCopy, PassClear, PassColor, PassCheckerboard,
	PassBloomPrefilter, PassBloomBlur, PassBloomFinal,
	PassSunraysMask, PassSunrays, PassBlur, PassSplat,
	PassAdvection, PassDivergence, PassCurl, PassVorticity,
	PassPressure, PassGradientSubtract,
}

var passNames = [...]string{
	PassCopy:             "copy",
	PassClear:            "clear",
	PassColor:            "color",
	PassCheckerboard:     "checkerboard",
	PassBloomPrefilter:   "bloomPrefilter",
	PassBloomBlur:        "bloomBlur",
	PassBloomFinal:       "bloomFinal",
	PassSunraysMask:      "sunraysMask",
	PassSunrays:          "sunrays",
	PassBlur:             "blur",
	PassSplat:            "splat",
	PassAdvection:        "advection",
	PassDivergence:       "divergence",
	PassCurl:             "curl",
	PassVorticity:        "vorticity",
	PassPressure:         "pressure",
	PassGradientSubtract: "gradientSubtract",
	PassDisplay:          "display",
}

func (p Pass) String() string {
	if p >= 0 && int(p) < len(passNames) {
		return passNames[p]
	}
	return fmt.Sprintf("Pass(%d)", int(p))
}

// Keyword names understood by the programs.
const (
	KeywordShading         = "SHADING"
	KeywordBloom           = "BLOOM"
	KeywordSunrays         = "SUNRAYS"
	KeywordManualFiltering = "MANUAL_FILTERING"
)

// ProgramSource selects a pass and the preprocessor keywords it is built with.
type ProgramSource struct {
	Pass     Pass
	Keywords []string
}

// Has reports whether kw is among the source keywords.
func (s ProgramSource) Has(kw string) bool {
	for _, k := range s.Keywords {
		if k == kw {
			return true
		}
	}
	return false
}

func (s ProgramSource) String() string {
	if len(s.Keywords) == 0 {
		return s.Pass.String()
	}
	return s.Pass.String() + "[" + strings.Join(s.Keywords, ",") + "]"
}
