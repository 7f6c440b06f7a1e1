// Package layout implements texture layout arithmetic for guest formats:
// block sizes, row pitches (tight and backend-padded), mip dimensions and
// the packed subresource layout of guest-backed textures.
package layout

import (
	"errors"
	"fmt"
)

// ErrUnknownFormat is returned for format codes outside the supported set.
var ErrUnknownFormat = errors.New("layout: unsupported format")

// Format is a guest texture format code as it appears on the wire.
type Format uint32

// Supported guest formats.
const (
	FormatInvalid           Format = 0
	FormatB8G8R8A8Unorm     Format = 1
	FormatB8G8R8X8Unorm     Format = 2
	FormatR8G8B8A8Unorm     Format = 3
	FormatR8G8B8X8Unorm     Format = 4
	FormatB5G6R5Unorm       Format = 5
	FormatB5G5R5A1Unorm     Format = 6
	FormatB8G8R8A8UnormSrgb Format = 8
	FormatB8G8R8X8UnormSrgb Format = 9
	FormatR8G8B8A8UnormSrgb Format = 10
	FormatR8G8B8X8UnormSrgb Format = 11
	FormatD24UnormS8Uint    Format = 32
	FormatD32Float          Format = 33
	FormatBC1RgbaUnorm      Format = 64
	FormatBC1RgbaUnormSrgb  Format = 65
	FormatBC2RgbaUnorm      Format = 66
	FormatBC2RgbaUnormSrgb  Format = 67
	FormatBC3RgbaUnorm      Format = 68
	FormatBC3RgbaUnormSrgb  Format = 69
	FormatBC7RgbaUnorm      Format = 70
	FormatBC7RgbaUnormSrgb  Format = 71
)

// Class groups formats that share layout and conversion behavior.
type Class uint8

// Format classes.
const (
	ClassUnknown Class = iota
	// ClassRGBA8 covers 32-bit color formats with a real alpha channel.
	ClassRGBA8
	// ClassRGBX8 covers 32-bit color formats whose alpha byte is undefined.
	ClassRGBX8
	// ClassPacked16 covers 16-bit packed color formats.
	ClassPacked16
	// ClassDepth covers depth/stencil formats.
	ClassDepth
	// ClassBC covers 4x4 block-compressed formats.
	ClassBC
)

// Block describes the storage unit of a format.
type Block struct {
	Width  uint32
	Height uint32
	Bytes  uint32
}

// Info is the static description of a format.
type Info struct {
	Format Format
	Name   string
	Class  Class
	Block  Block
	SRGB   bool
	// BGR reports blue-first channel order for 8-bit formats.
	BGR bool
}

var formatTable = map[Format]Info{
	FormatB8G8R8A8Unorm:     {Name: "B8G8R8A8_UNORM", Class: ClassRGBA8, Block: Block{1, 1, 4}, BGR: true},
	FormatB8G8R8X8Unorm:     {Name: "B8G8R8X8_UNORM", Class: ClassRGBX8, Block: Block{1, 1, 4}, BGR: true},
	FormatR8G8B8A8Unorm:     {Name: "R8G8B8A8_UNORM", Class: ClassRGBA8, Block: Block{1, 1, 4}},
	FormatR8G8B8X8Unorm:     {Name: "R8G8B8X8_UNORM", Class: ClassRGBX8, Block: Block{1, 1, 4}},
	FormatB5G6R5Unorm:       {Name: "B5G6R5_UNORM", Class: ClassPacked16, Block: Block{1, 1, 2}},
	FormatB5G5R5A1Unorm:     {Name: "B5G5R5A1_UNORM", Class: ClassPacked16, Block: Block{1, 1, 2}},
	FormatB8G8R8A8UnormSrgb: {Name: "B8G8R8A8_UNORM_SRGB", Class: ClassRGBA8, Block: Block{1, 1, 4}, SRGB: true, BGR: true},
	FormatB8G8R8X8UnormSrgb: {Name: "B8G8R8X8_UNORM_SRGB", Class: ClassRGBX8, Block: Block{1, 1, 4}, SRGB: true, BGR: true},
	FormatR8G8B8A8UnormSrgb: {Name: "R8G8B8A8_UNORM_SRGB", Class: ClassRGBA8, Block: Block{1, 1, 4}, SRGB: true},
	FormatR8G8B8X8UnormSrgb: {Name: "R8G8B8X8_UNORM_SRGB", Class: ClassRGBX8, Block: Block{1, 1, 4}, SRGB: true},
	FormatD24UnormS8Uint:    {Name: "D24_UNORM_S8_UINT", Class: ClassDepth, Block: Block{1, 1, 4}},
	FormatD32Float:          {Name: "D32_FLOAT", Class: ClassDepth, Block: Block{1, 1, 4}},
	FormatBC1RgbaUnorm:      {Name: "BC1_RGBA_UNORM", Class: ClassBC, Block: Block{4, 4, 8}},
	FormatBC1RgbaUnormSrgb:  {Name: "BC1_RGBA_UNORM_SRGB", Class: ClassBC, Block: Block{4, 4, 8}, SRGB: true},
	FormatBC2RgbaUnorm:      {Name: "BC2_RGBA_UNORM", Class: ClassBC, Block: Block{4, 4, 16}},
	FormatBC2RgbaUnormSrgb:  {Name: "BC2_RGBA_UNORM_SRGB", Class: ClassBC, Block: Block{4, 4, 16}, SRGB: true},
	FormatBC3RgbaUnorm:      {Name: "BC3_RGBA_UNORM", Class: ClassBC, Block: Block{4, 4, 16}},
	FormatBC3RgbaUnormSrgb:  {Name: "BC3_RGBA_UNORM_SRGB", Class: ClassBC, Block: Block{4, 4, 16}, SRGB: true},
	FormatBC7RgbaUnorm:      {Name: "BC7_RGBA_UNORM", Class: ClassBC, Block: Block{4, 4, 16}},
	FormatBC7RgbaUnormSrgb:  {Name: "BC7_RGBA_UNORM_SRGB", Class: ClassBC, Block: Block{4, 4, 16}, SRGB: true},
}

// Lookup returns the description of f.
func Lookup(f Format) (Info, error) {
	info, ok := formatTable[f]
	if !ok {
		return Info{}, fmt.Errorf("%w: %d", ErrUnknownFormat, uint32(f))
	}
	info.Format = f
	return info, nil
}

// Valid reports whether f is a supported format code.
func (f Format) Valid() bool {
	_, ok := formatTable[f]
	return ok
}

// String returns the wire name of the format.
func (f Format) String() string {
	if info, ok := formatTable[f]; ok {
		return info.Name
	}
	return fmt.Sprintf("Format(%d)", uint32(f))
}

// IsBC reports whether f is block-compressed.
func (f Format) IsBC() bool {
	return formatTable[f].Class == ClassBC
}

// IsX8 reports whether the alpha byte of f is undefined and must be forced opaque.
func (f Format) IsX8() bool {
	return formatTable[f].Class == ClassRGBX8
}

// BCKind returns the BC family number (1, 2, 3 or 7) or 0 for other formats.
func (f Format) BCKind() int {
	switch f {
	case FormatBC1RgbaUnorm, FormatBC1RgbaUnormSrgb:
		return 1
	case FormatBC2RgbaUnorm, FormatBC2RgbaUnormSrgb:
		return 2
	case FormatBC3RgbaUnorm, FormatBC3RgbaUnormSrgb:
		return 3
	case FormatBC7RgbaUnorm, FormatBC7RgbaUnormSrgb:
		return 7
	default:
		return 0
	}
}

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassRGBA8:
		return "rgba8"
	case ClassRGBX8:
		return "rgbx8"
	case ClassPacked16:
		return "packed16"
	case ClassDepth:
		return "depth"
	case ClassBC:
		return "bc"
	default:
		return "unknown"
	}
}
