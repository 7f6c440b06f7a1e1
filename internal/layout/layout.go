package layout

import (
	"errors"
	"fmt"
	"math/bits"

	"golang.org/x/exp/constraints"
)

const (
	// RowAlignment is the backend's required bytes-per-row alignment for
	// buffer<->texture copies.
	RowAlignment = 256

	// BufferAlignment is the backend's required alignment for buffer writes
	// and buffer-to-buffer copies.
	BufferAlignment = 4
)

// Layout errors.
var (
	// ErrOverflow is returned when a size computation exceeds its integer range.
	ErrOverflow = errors.New("layout: size overflow")

	// ErrInvalidDimensions is returned for zero or inconsistent dimensions.
	ErrInvalidDimensions = errors.New("layout: invalid dimensions")

	// ErrRowPitchTooSmall is returned when a caller-supplied pitch is below the tight row size.
	ErrRowPitchTooSmall = errors.New("layout: row pitch smaller than row size")
)

// AlignUp rounds v up to a multiple of align, which must be a power of two.
// The second result is false when the rounded value does not fit in T.
func AlignUp[T constraints.Unsigned](v, align T) (T, bool) {
	r := (v + align - 1) &^ (align - 1)
	if r < v {
		return 0, false
	}
	return r, true
}

// AlignDown rounds v down to a multiple of align, which must be a power of two.
func AlignDown[T constraints.Unsigned](v, align T) T {
	return v &^ (align - 1)
}

// IsAligned reports whether v is a multiple of align.
func IsAligned[T constraints.Unsigned](v, align T) bool {
	return v%align == 0
}

// CeilDiv returns ceil(a/b) for b > 0.
func CeilDiv[T constraints.Unsigned](a, b T) T {
	return a/b + min(a%b, 1)
}

// CopyLayout describes how a width x height region of a format is laid out
// row by row, tightly and with the backend row alignment.
type CopyLayout struct {
	BlockWidth       uint32
	BlockHeight      uint32
	BlockBytes       uint32
	RowsInLayout     uint32
	UnpaddedRowBytes uint32
	PaddedRowBytes   uint32
}

// Size returns the tight byte size of the region.
func (l CopyLayout) Size() uint64 {
	return uint64(l.UnpaddedRowBytes) * uint64(l.RowsInLayout)
}

// PaddedSize returns the byte size of the region with padded rows.
func (l CopyLayout) PaddedSize() uint64 {
	return uint64(l.PaddedRowBytes) * uint64(l.RowsInLayout)
}

// TextureCopyLayout computes the row layout of a width x height region.
func TextureCopyLayout(width, height uint32, f Format) (CopyLayout, error) {
	info, err := Lookup(f)
	if err != nil {
		return CopyLayout{}, err
	}
	b := info.Block
	blocksWide := CeilDiv(width, b.Width)
	hi, unpadded := bits.Mul32(blocksWide, b.Bytes)
	if hi != 0 {
		return CopyLayout{}, fmt.Errorf("%w: row of %d blocks x %d bytes", ErrOverflow, blocksWide, b.Bytes)
	}
	padded, ok := AlignUp(unpadded, RowAlignment)
	if !ok {
		return CopyLayout{}, fmt.Errorf("%w: padded row of %d bytes", ErrOverflow, unpadded)
	}
	return CopyLayout{
		BlockWidth:       b.Width,
		BlockHeight:      b.Height,
		BlockBytes:       b.Bytes,
		RowsInLayout:     CeilDiv(height, b.Height),
		UnpaddedRowBytes: unpadded,
		PaddedRowBytes:   padded,
	}, nil
}

// MipDim returns the size of a dimension at the given mip level.
func MipDim(base, level uint32) uint32 {
	if level >= 32 {
		return 1
	}
	return max(base>>level, 1)
}

// MaxMipLevels returns the length of a full mip chain for a width x height texture.
func MaxMipLevels(width, height uint32) uint32 {
	return uint32(bits.Len32(max(width, height, 1)))
}

// Subresource is one (mip level, array layer) slice of a texture in the
// packed guest layout.
type Subresource struct {
	MipLevel     uint32
	ArrayLayer   uint32
	Width        uint32
	Height       uint32
	Offset       uint64
	RowPitch     uint32
	RowsInLayout uint32
	Size         uint64
}

// End returns the offset one past the last byte of the subresource.
func (s Subresource) End() uint64 {
	return s.Offset + s.Size
}

// Subresources builds the packed layout of a texture: array layers outer,
// mip levels inner, each subresource immediately following the previous one.
// mip0RowPitch of 0 selects the tight pitch; a non-zero value must be at least
// the tight row size and applies to mip 0 only.
func Subresources(f Format, width, height, mipLevels, arrayLayers, mip0RowPitch uint32) ([]Subresource, error) {
	if width == 0 || height == 0 || mipLevels == 0 || arrayLayers == 0 {
		return nil, fmt.Errorf("%w: %dx%d mips=%d layers=%d", ErrInvalidDimensions, width, height, mipLevels, arrayLayers)
	}
	if mipLevels > MaxMipLevels(width, height) {
		return nil, fmt.Errorf("%w: mip_levels=%d exceeds chain length %d for %dx%d",
			ErrInvalidDimensions, mipLevels, MaxMipLevels(width, height), width, height)
	}

	count := uint64(mipLevels) * uint64(arrayLayers)
	if count > 1<<16 {
		return nil, fmt.Errorf("%w: %d subresources", ErrInvalidDimensions, count)
	}

	// Per-mip layouts are identical across layers.
	mips := make([]Subresource, mipLevels)
	for level := uint32(0); level < mipLevels; level++ {
		w, h := MipDim(width, level), MipDim(height, level)
		cl, err := TextureCopyLayout(w, h, f)
		if err != nil {
			return nil, err
		}
		pitch := cl.UnpaddedRowBytes
		if level == 0 && mip0RowPitch != 0 {
			if mip0RowPitch < cl.UnpaddedRowBytes {
				return nil, fmt.Errorf("%w: row_pitch=%d < %d", ErrRowPitchTooSmall, mip0RowPitch, cl.UnpaddedRowBytes)
			}
			pitch = mip0RowPitch
		}
		hi, size := bits.Mul64(uint64(pitch), uint64(cl.RowsInLayout))
		if hi != 0 {
			return nil, fmt.Errorf("%w: mip %d", ErrOverflow, level)
		}
		mips[level] = Subresource{
			MipLevel:     level,
			Width:        w,
			Height:       h,
			RowPitch:     pitch,
			RowsInLayout: cl.RowsInLayout,
			Size:         size,
		}
	}

	out := make([]Subresource, 0, count)
	var offset uint64
	for layer := uint32(0); layer < arrayLayers; layer++ {
		for _, m := range mips {
			m.ArrayLayer = layer
			m.Offset = offset
			next, carry := bits.Add64(offset, m.Size, 0)
			if carry != 0 {
				return nil, fmt.Errorf("%w: layer %d mip %d", ErrOverflow, layer, m.MipLevel)
			}
			offset = next
			out = append(out, m)
		}
	}
	return out, nil
}

// TotalSize returns the byte size of a packed subresource list.
func TotalSize(subs []Subresource) uint64 {
	if len(subs) == 0 {
		return 0
	}
	return subs[len(subs)-1].End()
}

// Find returns the subresource for (mip, layer).
func Find(subs []Subresource, mip, layer uint32) (Subresource, bool) {
	for _, s := range subs {
		if s.MipLevel == mip && s.ArrayLayer == layer {
			return s, true
		}
	}
	return Subresource{}, false
}
