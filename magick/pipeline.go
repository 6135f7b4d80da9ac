package magick

import (
	"strings"
)

// RenderMode selects which optimization tokens a streaming conversion carries.
type RenderMode int

const (
	// ModeNormal is used for visual (possibly layered) output formats.
	ModeNormal RenderMode = iota
	// ModeReduced drops layering and fuzz tokens; used for audio-oriented output.
	ModeReduced
)

// String returns the mode name used in logs and query parameters.
func (m RenderMode) String() string {
	switch m {
	case ModeReduced:
		return "reduced"
	default:
		return "normal"
	}
}

// ParseRenderMode maps a query/flag value to a RenderMode. Unknown values are normal.
func ParseRenderMode(s string) RenderMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reduced", "sonic", "audio":
		return ModeReduced
	default:
		return ModeNormal
	}
}

// Fixed engine tokens. Order inside each group is mandated by the engine's argument grammar.
const (
	flagDelay   = "-delay"
	flagLayers  = "-layers"
	layersValue = "OptimizeTransparency"
	flagFuzz    = "-fuzz"
	fuzzValue   = "2%"
	flagStrip   = "+profile"
	stripValue  = "xmp"
	flagLimit   = "-limit"
	limitMemory = "memory"
	memoryValue = "64MB"
	limitMap    = "map"
	mapValue    = "128MB"
)

// Pipeline is the ordered argument list for one streaming conversion.
// Input tokens precede the input source on the command line, Output tokens follow it.
type Pipeline struct {
	Format string
	Input  []string
	Output []string
}

// BuildPipeline derives the conversion arguments for format, an optional frame delay
// ("<duration>/<count>") and a render mode. frameDelay must be empty or two
// slash-separated numbers; it is not validated here.
func BuildPipeline(format, frameDelay string, mode RenderMode) Pipeline {
	p := Pipeline{Format: format}
	if frameDelay != "" {
		p.Input = append(p.Input, flagDelay, delayToken(frameDelay))
	}
	if mode != ModeReduced {
		p.Output = append(p.Output, flagLayers, layersValue, flagFuzz, fuzzValue)
	}
	p.Output = append(p.Output,
		flagStrip, stripValue,
		flagLimit, limitMemory, memoryValue,
		flagLimit, limitMap, mapValue,
	)
	return p
}

// delayToken turns "100/2" into "2x100".
func delayToken(frameDelay string) string {
	parts := strings.Split(frameDelay, "/")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "x")
}

// Tokens returns every pipeline token in command-line order, without the input or target.
func (p Pipeline) Tokens() []string {
	out := make([]string, 0, len(p.Input)+len(p.Output))
	out = append(out, p.Input...)
	return append(out, p.Output...)
}

// Args returns the full convert argument list reading from input and writing the
// configured format to stdout.
func (p Pipeline) Args(input string) []string {
	out := make([]string, 0, len(p.Input)+len(p.Output)+2)
	out = append(out, p.Input...)
	out = append(out, input)
	out = append(out, p.Output...)
	return append(out, p.target())
}

func (p Pipeline) target() string {
	if p.Format == "" {
		return "-"
	}
	return p.Format + ":-"
}
