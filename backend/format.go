package backend

import "fmt"

// Format is a texture format a device stores.
type Format uint8

// Host formats.
const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatRGBA8UnormSrgb
	FormatBGRA8Unorm
	FormatBGRA8UnormSrgb
	FormatBC1RGBAUnorm
	FormatBC1RGBAUnormSrgb
	FormatBC2RGBAUnorm
	FormatBC2RGBAUnormSrgb
	FormatBC3RGBAUnorm
	FormatBC3RGBAUnormSrgb
	FormatBC7RGBAUnorm
	FormatBC7RGBAUnormSrgb
)

var formatNames = [...]string{
	FormatUndefined:        "undefined",
	FormatRGBA8Unorm:       "rgba8unorm",
	FormatRGBA8UnormSrgb:   "rgba8unorm-srgb",
	FormatBGRA8Unorm:       "bgra8unorm",
	FormatBGRA8UnormSrgb:   "bgra8unorm-srgb",
	FormatBC1RGBAUnorm:     "bc1-rgba-unorm",
	FormatBC1RGBAUnormSrgb: "bc1-rgba-unorm-srgb",
	FormatBC2RGBAUnorm:     "bc2-rgba-unorm",
	FormatBC2RGBAUnormSrgb: "bc2-rgba-unorm-srgb",
	FormatBC3RGBAUnorm:     "bc3-rgba-unorm",
	FormatBC3RGBAUnormSrgb: "bc3-rgba-unorm-srgb",
	FormatBC7RGBAUnorm:     "bc7-rgba-unorm",
	FormatBC7RGBAUnormSrgb: "bc7-rgba-unorm-srgb",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// Valid reports whether f is a known host format.
func (f Format) Valid() bool {
	return f != FormatUndefined && int(f) < len(formatNames)
}

// Compressed reports whether f stores 4x4 blocks.
func (f Format) Compressed() bool {
	return f >= FormatBC1RGBAUnorm && f <= FormatBC7RGBAUnormSrgb
}

// BGR reports blue-first channel order.
func (f Format) BGR() bool {
	return f == FormatBGRA8Unorm || f == FormatBGRA8UnormSrgb
}

// SRGB reports whether f stores sRGB-encoded color.
func (f Format) SRGB() bool {
	switch f {
	case FormatRGBA8UnormSrgb, FormatBGRA8UnormSrgb, FormatBC1RGBAUnormSrgb,
		FormatBC2RGBAUnormSrgb, FormatBC3RGBAUnormSrgb, FormatBC7RGBAUnormSrgb:
		return true
	}
	return false
}

// Renderable reports whether f can be a render target.
func (f Format) Renderable() bool {
	return f.Valid() && !f.Compressed()
}

// BlockBytes returns the size of one texel, or one 4x4 block for compressed formats.
func (f Format) BlockBytes() uint32 {
	switch f {
	case FormatBC1RGBAUnorm, FormatBC1RGBAUnormSrgb:
		return 8
	case FormatBC2RGBAUnorm, FormatBC2RGBAUnormSrgb,
		FormatBC3RGBAUnorm, FormatBC3RGBAUnormSrgb,
		FormatBC7RGBAUnorm, FormatBC7RGBAUnormSrgb:
		return 16
	default:
		return 4
	}
}

// BlockDim returns the block edge: 4 for compressed formats, 1 otherwise.
func (f Format) BlockDim() uint32 {
	if f.Compressed() {
		return 4
	}
	return 1
}

// RowBytes returns the tight size of one row (of blocks) for width texels.
func (f Format) RowBytes(width uint32) uint32 {
	d := f.BlockDim()
	return (width + d - 1) / d * f.BlockBytes()
}

// Rows returns the number of rows (of blocks) for height texels.
func (f Format) Rows(height uint32) uint32 {
	d := f.BlockDim()
	return (height + d - 1) / d
}
