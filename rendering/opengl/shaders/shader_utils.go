// Package shaders holds the GLSL sources of every pass and builds them into
// linked programs.
package shaders

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v3.2-core/gl"

	"fluidviz/core"
)

// PositionAttrib is the attribute location of the quad corner positions.
const PositionAttrib = 0

// Program is a linked program and the locations of its active uniforms.
type Program struct {
	ID       uint32
	Uniforms map[string]int32
}

// Sources returns the complete vertex and fragment sources for src, with the
// version prelude and one #define per keyword.
func Sources(src core.ProgramSource) (vertex, fragment string, err error) {
	body, ok := fragments[src.Pass]
	if !ok {
		return "", "", fmt.Errorf("no fragment source for %s", src.Pass)
	}
	vs := baseVertex
	if src.Pass == core.PassBlur {
		vs = blurVertex
	}
	return addKeywords(vertexPrelude, vs, nil), addKeywords(fragmentPrelude, body, src.Keywords), nil
}

func addKeywords(prelude, body string, keywords []string) string {
	var b strings.Builder
	b.WriteString(prelude)
	for _, kw := range keywords {
		b.WriteString("#define ")
		b.WriteString(kw)
		b.WriteByte('\n')
	}
	b.WriteString(body)
	return b.String()
}

// Build compiles and links src. The returned error carries the driver's
// info log.
func Build(src core.ProgramSource) (*Program, error) {
	vsSrc, fsSrc, err := Sources(src)
	if err != nil {
		return nil, err
	}

	vs, err := compileShader(vsSrc, gl.VERTEX_SHADER)
	if err != nil {
		return nil, fmt.Errorf("vertex shader: %w", err)
	}
	defer gl.DeleteShader(vs)

	fs, err := compileShader(fsSrc, gl.FRAGMENT_SHADER)
	if err != nil {
		return nil, fmt.Errorf("fragment shader: %w", err)
	}
	defer gl.DeleteShader(fs)

	id, err := linkProgram(vs, fs)
	if err != nil {
		return nil, err
	}
	return &Program{ID: id, Uniforms: activeUniforms(id)}, nil
}

// compileShader compiles a single shader
func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)

	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := make([]byte, logLength+1)
		gl.GetShaderInfoLog(shader, logLength, nil, &log[0])
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("%s", strings.TrimRight(string(log), "\x00"))
	}

	return shader, nil
}

// linkProgram links vertex and fragment shaders into a program
func linkProgram(vertShader, fragShader uint32) (uint32, error) {
	program := gl.CreateProgram()
	gl.AttachShader(program, vertShader)
	gl.AttachShader(program, fragShader)
	gl.BindAttribLocation(program, PositionAttrib, gl.Str("aPosition\x00"))
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		log := make([]byte, logLength+1)
		gl.GetProgramInfoLog(program, logLength, nil, &log[0])
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("link failed: %s", strings.TrimRight(string(log), "\x00"))
	}

	return program, nil
}

func activeUniforms(program uint32) map[string]int32 {
	var count int32
	gl.GetProgramiv(program, gl.ACTIVE_UNIFORMS, &count)

	uniforms := make(map[string]int32, count)
	buf := make([]uint8, 256)
	for i := int32(0); i < count; i++ {
		var length, size int32
		var xtype uint32
		gl.GetActiveUniform(program, uint32(i), int32(len(buf)), &length, &size, &xtype, &buf[0])
		name := string(buf[:length])
		uniforms[name] = gl.GetUniformLocation(program, gl.Str(name+"\x00"))
	}
	return uniforms
}
