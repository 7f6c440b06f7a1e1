// Package color converts texels between 8-bit storage and linear float
// colors, with the sRGB transfer function applied for sRGB formats.
package color

import "math"

// ColorF32 represents a color with float32 components in [0,1].
// RGB components are linear. Alpha is always linear (never gamma-encoded).
type ColorF32 struct {
	R, G, B, A float32
}

// SRGBToLinear converts an sRGB-encoded byte to a linear component (EOTF).
func SRGBToLinear(s uint8) float32 {
	return sRGBToLinearLUT[s]
}

// LinearToSRGB converts a linear component to an sRGB-encoded byte (OETF).
// Input is clamped to [0,1].
func LinearToSRGB(l float32) uint8 {
	lf := math.Min(math.Max(float64(l), 0), 1)
	var s float64
	if lf <= 0.0031308 {
		s = lf * 12.92
	} else {
		s = 1.055*math.Pow(lf, 1.0/2.4) - 0.055
	}
	return uint8(math.Min(math.Max(s*255.0+0.5, 0), 255))
}

// Unorm8 clamps v to [0,1] and converts it to a byte with rounding.
func Unorm8(v float32) uint8 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255.0 + 0.5)
}

// Decode converts an RGBA8 texel to a linear color.
func Decode(px [4]byte, srgb bool) ColorF32 {
	if srgb {
		return ColorF32{
			R: SRGBToLinear(px[0]),
			G: SRGBToLinear(px[1]),
			B: SRGBToLinear(px[2]),
			A: float32(px[3]) / 255,
		}
	}
	return ColorF32{
		R: float32(px[0]) / 255,
		G: float32(px[1]) / 255,
		B: float32(px[2]) / 255,
		A: float32(px[3]) / 255,
	}
}

// Encode converts a linear color to an RGBA8 texel.
func Encode(c ColorF32, srgb bool) [4]byte {
	if srgb {
		return [4]byte{LinearToSRGB(c.R), LinearToSRGB(c.G), LinearToSRGB(c.B), Unorm8(c.A)}
	}
	return [4]byte{Unorm8(c.R), Unorm8(c.G), Unorm8(c.B), Unorm8(c.A)}
}
