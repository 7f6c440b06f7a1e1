package convert

import (
	"encoding/binary"
	"fmt"
)

// rgb565 expands a BC endpoint color to 8-bit channels (R, G, B).
func rgb565(c uint16) [3]byte {
	return [3]byte{
		expand5to8(c >> 11 & 0x1F),
		expand6to8(c >> 5 & 0x3F),
		expand5to8(c & 0x1F),
	}
}

func lerp(a, b byte, num, den uint32) byte {
	return byte((uint32(a)*(den-num) + uint32(b)*num) / den)
}

// colorPalette builds the four-entry endpoint palette of a color block.
// With threeColor set and c0 <= c1, index 2 is the midpoint and index 3 is
// transparent black.
func colorPalette(c0, c1 uint16, threeColor bool) [4][4]byte {
	e0, e1 := rgb565(c0), rgb565(c1)
	var p [4][4]byte
	p[0] = [4]byte{e0[0], e0[1], e0[2], 0xFF}
	p[1] = [4]byte{e1[0], e1[1], e1[2], 0xFF}
	if threeColor && c0 <= c1 {
		for ch := 0; ch < 3; ch++ {
			p[2][ch] = lerp(e0[ch], e1[ch], 1, 2)
		}
		p[2][3] = 0xFF
		return p
	}
	for ch := 0; ch < 3; ch++ {
		p[2][ch] = lerp(e0[ch], e1[ch], 1, 3)
		p[3][ch] = lerp(e0[ch], e1[ch], 2, 3)
	}
	p[2][3], p[3][3] = 0xFF, 0xFF
	return p
}

func alphaPalette(a0, a1 byte) [8]byte {
	p := [8]byte{a0, a1}
	if a0 > a1 {
		for i := uint32(1); i <= 6; i++ {
			p[i+1] = lerp(a0, a1, i, 7)
		}
		return p
	}
	for i := uint32(1); i <= 4; i++ {
		p[i+1] = lerp(a0, a1, i, 5)
	}
	p[6], p[7] = 0, 0xFF
	return p
}

// decodeColor fills tile (16 RGBA texels, raster order) from an 8-byte color block.
func decodeColor(tile *[16][4]byte, block []byte, threeColor bool) {
	c0 := binary.LittleEndian.Uint16(block[0:])
	c1 := binary.LittleEndian.Uint16(block[2:])
	idx := binary.LittleEndian.Uint32(block[4:])
	pal := colorPalette(c0, c1, threeColor)
	for i := 0; i < 16; i++ {
		tile[i] = pal[idx>>(2*i)&3]
	}
}

func decodeBC1(tile *[16][4]byte, block []byte) {
	decodeColor(tile, block, true)
}

func decodeBC2(tile *[16][4]byte, block []byte) {
	decodeColor(tile, block[8:], false)
	bitsA := binary.LittleEndian.Uint64(block)
	for i := 0; i < 16; i++ {
		tile[i][3] = byte(bitsA>>(4*i)&0xF) * 17
	}
}

func decodeBC3(tile *[16][4]byte, block []byte) {
	decodeColor(tile, block[8:], false)
	pal := alphaPalette(block[0], block[1])
	var idx uint64
	for i, b := range block[2:8] {
		idx |= uint64(b) << (8 * i)
	}
	for i := 0; i < 16; i++ {
		tile[i][3] = pal[idx>>(3*i)&7]
	}
}

// decodeBlockRow decodes one row of blocks covering width texels into rows
// RGBA8 host rows of dst. Blocks missing from src leave their texels untouched.
func decodeBlockRow(t Transform, src []byte, width, rows uint32, dst []byte, dstPitch uint32) {
	blockBytes := 16
	decode := decodeBC3
	switch t {
	case DecodeBC1:
		blockBytes, decode = 8, decodeBC1
	case DecodeBC2:
		decode = decodeBC2
	}

	var tile [16][4]byte
	blocksWide := (width + 3) / 4
	for bx := uint32(0); bx < blocksWide; bx++ {
		off := int(bx) * blockBytes
		if off+blockBytes > len(src) {
			return
		}
		decode(&tile, src[off:off+blockBytes])
		for y := uint32(0); y < rows; y++ {
			row := dst[uint64(y)*uint64(dstPitch):]
			for x := uint32(0); x < 4; x++ {
				px := bx*4 + x
				if px >= width {
					break
				}
				copy(row[px*4:px*4+4], tile[y*4+x][:])
			}
		}
	}
}

// DecodeBlock decompresses one block of BC family kind (1, 2 or 3) into 16
// RGBA texels in raster order.
func DecodeBlock(kind int, block []byte) ([16][4]byte, error) {
	var tile [16][4]byte
	switch kind {
	case 1:
		if len(block) < 8 {
			return tile, ErrShortBuffer
		}
		decodeBC1(&tile, block)
	case 2, 3:
		if len(block) < 16 {
			return tile, ErrShortBuffer
		}
		if kind == 2 {
			decodeBC2(&tile, block)
		} else {
			decodeBC3(&tile, block)
		}
	default:
		return tile, fmt.Errorf("%w: BC%d", ErrNoDecoder, kind)
	}
	return tile, nil
}
