package convert

import "encoding/binary"

// forceAlpha sets byte 3 of every 4-byte texel to 0xFF.
func forceAlpha(row []byte) {
	for i := 3; i < len(row); i += 4 {
		row[i] = 0xFF
	}
}

// expand5to8 replicates the top bits of a 5-bit channel into the low bits.
func expand5to8(v uint16) byte {
	return byte(v<<3 | v>>2)
}

func expand6to8(v uint16) byte {
	return byte(v<<2 | v>>4)
}

// quantize rounds an 8-bit channel to maxv+1 levels.
func quantize(v byte, maxv uint32) uint16 {
	return uint16((uint32(v)*maxv + 127) / 255)
}

// expand565 converts B5G6R5 texels (blue in the low bits) to B8G8R8A8.
func expand565(dst, src []byte) {
	n := min(len(src)/2, len(dst)/4)
	for i := 0; i < n; i++ {
		c := binary.LittleEndian.Uint16(src[i*2:])
		d := dst[i*4 : i*4+4]
		d[0] = expand5to8(c & 0x1F)
		d[1] = expand6to8(c >> 5 & 0x3F)
		d[2] = expand5to8(c >> 11 & 0x1F)
		d[3] = 0xFF
	}
}

// expand5551 converts B5G5R5A1 texels (alpha in the top bit) to B8G8R8A8.
func expand5551(dst, src []byte) {
	n := min(len(src)/2, len(dst)/4)
	for i := 0; i < n; i++ {
		c := binary.LittleEndian.Uint16(src[i*2:])
		d := dst[i*4 : i*4+4]
		d[0] = expand5to8(c & 0x1F)
		d[1] = expand5to8(c >> 5 & 0x1F)
		d[2] = expand5to8(c >> 10 & 0x1F)
		d[3] = 0
		if c&0x8000 != 0 {
			d[3] = 0xFF
		}
	}
}

// quantize565 converts B8G8R8A8 texels back to B5G6R5.
func quantize565(dst, src []byte) {
	n := min(len(dst)/2, len(src)/4)
	for i := 0; i < n; i++ {
		s := src[i*4 : i*4+4]
		c := quantize(s[0], 31) | quantize(s[1], 63)<<5 | quantize(s[2], 31)<<11
		binary.LittleEndian.PutUint16(dst[i*2:], c)
	}
}

// quantize5551 converts B8G8R8A8 texels back to B5G5R5A1.
func quantize5551(dst, src []byte) {
	n := min(len(dst)/2, len(src)/4)
	for i := 0; i < n; i++ {
		s := src[i*4 : i*4+4]
		c := quantize(s[0], 31) | quantize(s[1], 31)<<5 | quantize(s[2], 31)<<10
		if s[3] >= 0x80 {
			c |= 0x8000
		}
		binary.LittleEndian.PutUint16(dst[i*2:], c)
	}
}
