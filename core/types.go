package core

import (
	"errors"
	"fmt"
	"image"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrNoContext is returned when no rendering context could be created at all.
var ErrNoContext = errors.New("no usable rendering context")

// InternalFormat is the storage layout of a texture on the device.
type InternalFormat int

const (
	InternalRGBA16F InternalFormat = iota
	InternalRG16F
	InternalR16F
	InternalRGBA8
)

func (f InternalFormat) String() string {
	switch f {
	case InternalRGBA16F:
		return "RGBA16F"
	case InternalRG16F:
		return "RG16F"
	case InternalR16F:
		return "R16F"
	case InternalRGBA8:
		return "RGBA8"
	default:
		return fmt.Sprintf("InternalFormat(%d)", int(f))
	}
}

// PixelFormat is the channel layout used when uploading or reading pixels.
type PixelFormat int

const (
	PixelRGBA PixelFormat = iota
	PixelRG
	PixelRed
)

// Channels returns the number of stored components.
func (p PixelFormat) Channels() int {
	switch p {
	case PixelRG:
		return 2
	case PixelRed:
		return 1
	default:
		return 4
	}
}

// DataType is the per-component storage type.
type DataType int

const (
	TypeHalfFloat DataType = iota
	TypeUnsignedByte
)

func (t DataType) String() string {
	if t == TypeUnsignedByte {
		return "UNSIGNED_BYTE"
	}
	return "HALF_FLOAT"
}

// TextureFormat bundles everything needed to allocate a render texture.
type TextureFormat struct {
	Internal InternalFormat
	Pixel    PixelFormat
	Type     DataType
}

func (f TextureFormat) String() string {
	return fmt.Sprintf("%s/%s", f.Internal, f.Type)
}

var (
	FormatRGBA16F = TextureFormat{Internal: InternalRGBA16F, Pixel: PixelRGBA, Type: TypeHalfFloat}
	FormatRG16F   = TextureFormat{Internal: InternalRG16F, Pixel: PixelRG, Type: TypeHalfFloat}
	FormatR16F    = TextureFormat{Internal: InternalR16F, Pixel: PixelRed, Type: TypeHalfFloat}
	FormatRGBA8   = TextureFormat{Internal: InternalRGBA8, Pixel: PixelRGBA, Type: TypeUnsignedByte}
)

// Filter selects texture sampling.
type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

// Features are the raw facts a device reports about its context, before
// any format probing.
type Features struct {
	Context         string
	LinearFiltering bool
	FloatBlending   bool
}

// Capabilities is the negotiated result every other component consumes.
type Capabilities struct {
	Context         string
	RGBA            TextureFormat
	RG              TextureFormat
	R               TextureFormat
	HalfFloat       DataType
	LinearFiltering bool
	FloatBlending   bool
}

// Filtering is the filter used for fields that may be sampled between texels.
func (c Capabilities) Filtering() Filter {
	if c.LinearFiltering {
		return FilterLinear
	}
	return FilterNearest
}

// TargetSpec describes a render target allocation.
type TargetSpec struct {
	Width  int
	Height int
	Format TextureFormat
	Filter Filter
}

// Texture is anything a program can sample.
type Texture interface {
	Width() int
	Height() int
}

// Target is a texture attached to an offscreen render target. Targets are
// never resized in place; the pool replaces them.
type Target interface {
	Texture
	Spec() TargetSpec
	TexelSize() mgl32.Vec2
}

// Blend is the fixed-function blend state used by subsequent draws.
type Blend int

const (
	BlendNone Blend = iota
	// BlendAdditive is ONE, ONE.
	BlendAdditive
	// BlendPremultiplied is ONE, ONE_MINUS_SRC_ALPHA.
	BlendPremultiplied
)

// Uniforms maps uniform names to values. Supported values are float32,
// int32, mgl32.Vec2, mgl32.Vec3, mgl32.Vec4 and Texture.
type Uniforms map[string]any

// Program is a compiled pipeline for one pass.
type Program interface {
	Source() ProgramSource
	// Valid is false when compilation or linking failed.
	Valid() bool
}

// Device is the GPU surface every component draws through. A nil Target
// passed to Draw means the screen.
type Device interface {
	Features() Features
	ProbeRenderFormat(f TextureFormat) bool

	NewTarget(spec TargetSpec) (Target, error)
	DeleteTarget(t Target)
	NewImageTexture(img image.Image) (Texture, error)
	DeleteTexture(t Texture)

	CompileProgram(src ProgramSource) (Program, error)
	DeleteProgram(p Program)

	SetBlend(b Blend)
	Draw(p Program, dst Target, u Uniforms)
	DrawingBufferSize() (int, int)

	// ReadPixels returns RGBA float components, bottom row first.
	ReadPixels(t Target) ([]float32, error)
	Close() error
}
