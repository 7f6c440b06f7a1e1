// Package convert implements the row transforms between guest texture
// formats and the formats a backend stores.
//
// A Transform is chosen once per texture from the guest format and the
// backend capabilities. Uploads and dirty-range flushes run guest rows
// through it; writebacks run host rows through its inverse.
package convert

import (
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/aerogpu/internal/layout"
)

// Conversion errors.
var (
	// ErrNoDecoder is returned when a format needs a CPU decoder that does not exist.
	ErrNoDecoder = errors.New("convert: no CPU decoder for format")

	// ErrNoEncoder is returned when writing back a texture whose host copy
	// was CPU-decoded and cannot be re-encoded.
	ErrNoEncoder = errors.New("convert: cannot re-encode CPU-decoded format")

	// ErrUnsupportedFormat is returned for formats that cannot be sampled or rendered.
	ErrUnsupportedFormat = errors.New("convert: format has no color representation")

	// ErrShortBuffer is returned when a source or destination slice is too small.
	ErrShortBuffer = errors.New("convert: buffer too small")
)

// Transform is the per-texture conversion applied between guest and host rows.
type Transform uint8

// Transforms.
const (
	// Direct copies rows unchanged.
	Direct Transform = iota
	// ForceAlpha copies 32-bit rows and sets every alpha byte to 0xFF.
	ForceAlpha
	// Expand565 widens B5G6R5 texels to B8G8R8A8.
	Expand565
	// Expand5551 widens B5G5R5A1 texels to B8G8R8A8.
	Expand5551
	// DecodeBC1 decompresses BC1 blocks to R8G8B8A8.
	DecodeBC1
	// DecodeBC2 decompresses BC2 blocks to R8G8B8A8.
	DecodeBC2
	// DecodeBC3 decompresses BC3 blocks to R8G8B8A8.
	DecodeBC3
)

// String returns the transform name.
func (t Transform) String() string {
	switch t {
	case Direct:
		return "direct"
	case ForceAlpha:
		return "force-alpha"
	case Expand565:
		return "expand-565"
	case Expand5551:
		return "expand-5551"
	case DecodeBC1:
		return "decode-bc1"
	case DecodeBC2:
		return "decode-bc2"
	case DecodeBC3:
		return "decode-bc3"
	default:
		return fmt.Sprintf("Transform(%d)", uint8(t))
	}
}

// Decodes reports whether t decompresses block data on the CPU.
func (t Transform) Decodes() bool {
	return t == DecodeBC1 || t == DecodeBC2 || t == DecodeBC3
}

// Select picks the transform for guest format f. nativeBC reports whether
// the backend can store block-compressed textures as-is.
func Select(f layout.Format, nativeBC bool) (Transform, error) {
	info, err := layout.Lookup(f)
	if err != nil {
		return 0, err
	}
	switch info.Class {
	case layout.ClassRGBA8:
		return Direct, nil
	case layout.ClassRGBX8:
		return ForceAlpha, nil
	case layout.ClassPacked16:
		if f == layout.FormatB5G6R5Unorm {
			return Expand565, nil
		}
		return Expand5551, nil
	case layout.ClassBC:
		if nativeBC {
			return Direct, nil
		}
		switch f.BCKind() {
		case 1:
			return DecodeBC1, nil
		case 2:
			return DecodeBC2, nil
		case 3:
			return DecodeBC3, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrNoDecoder, f)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

// Plan fixes the row geometry of a transform for one region width.
type Plan struct {
	Transform Transform
	// GuestRowBytes is the size of one guest layout row (a block row for BC).
	GuestRowBytes uint32
	// HostRowBytes is the tight size of one host row.
	HostRowBytes uint32
	// HostRowsPerGuestRow is 4 when BC blocks are decoded, 1 otherwise.
	HostRowsPerGuestRow uint32
}

// NewPlan computes the row geometry of t applied to width texels of guest format f.
func NewPlan(t Transform, f layout.Format, width uint32) (Plan, error) {
	cl, err := layout.TextureCopyLayout(width, 1, f)
	if err != nil {
		return Plan{}, err
	}
	p := Plan{
		Transform:           t,
		GuestRowBytes:       cl.UnpaddedRowBytes,
		HostRowBytes:        cl.UnpaddedRowBytes,
		HostRowsPerGuestRow: 1,
	}
	rgba := uint64(width) * 4
	if t != Direct && t != ForceAlpha && rgba > math.MaxUint32 {
		return Plan{}, fmt.Errorf("convert: %d texels of RGBA overflow a row", width)
	}
	switch t {
	case Direct, ForceAlpha:
	case Expand565, Expand5551:
		p.HostRowBytes = uint32(rgba)
	case DecodeBC1, DecodeBC2, DecodeBC3:
		p.HostRowBytes = uint32(rgba)
		p.HostRowsPerGuestRow = 4
	default:
		return Plan{}, fmt.Errorf("convert: unknown transform %d", uint8(t))
	}
	return p, nil
}

// Upload converts guestRows guest rows from src into host rows in dst.
// hostRows caps the number of host rows written, which clips the last
// block row of a decoded texture to the texture height. Missing source
// bytes leave the corresponding host texels zero.
func (p Plan) Upload(dst []byte, dstPitch uint32, src []byte, srcPitch uint32, guestRows, hostRows uint32) error {
	if hostRows > guestRows*p.HostRowsPerGuestRow {
		hostRows = guestRows * p.HostRowsPerGuestRow
	}
	if hostRows > 0 && uint64(len(dst)) < uint64(hostRows-1)*uint64(dstPitch)+uint64(p.HostRowBytes) {
		return fmt.Errorf("%w: host rows need %d bytes, have %d", ErrShortBuffer,
			uint64(hostRows-1)*uint64(dstPitch)+uint64(p.HostRowBytes), len(dst))
	}

	if p.Transform.Decodes() {
		width := p.HostRowBytes / 4
		for by := uint32(0); by < guestRows; by++ {
			first := by * 4
			if first >= hostRows {
				break
			}
			rows := min(hostRows-first, 4)
			srcRow := sliceRow(src, by, srcPitch, p.GuestRowBytes)
			decodeBlockRow(p.Transform, srcRow, width, rows, dst[uint64(first)*uint64(dstPitch):], dstPitch)
		}
		return nil
	}

	for y := uint32(0); y < hostRows; y++ {
		d := dst[uint64(y)*uint64(dstPitch):][:p.HostRowBytes]
		s := sliceRow(src, y, srcPitch, p.GuestRowBytes)
		switch p.Transform {
		case Direct:
			copy(d, s)
		case ForceAlpha:
			copy(d, s)
			forceAlpha(d)
		case Expand565:
			expand565(d, s)
		case Expand5551:
			expand5551(d, s)
		}
	}
	return nil
}

// Writeback converts rows host rows from src back into the guest layout in dst.
func (p Plan) Writeback(dst []byte, dstPitch uint32, src []byte, srcPitch uint32, rows uint32) error {
	if p.Transform.Decodes() {
		return fmt.Errorf("%w: %s", ErrNoEncoder, p.Transform)
	}
	if rows == 0 {
		return nil
	}
	if need := uint64(rows-1)*uint64(dstPitch) + uint64(p.GuestRowBytes); uint64(len(dst)) < need {
		return fmt.Errorf("%w: guest rows need %d bytes, have %d", ErrShortBuffer, need, len(dst))
	}
	if need := uint64(rows-1)*uint64(srcPitch) + uint64(p.HostRowBytes); uint64(len(src)) < need {
		return fmt.Errorf("%w: host rows need %d bytes, have %d", ErrShortBuffer, need, len(src))
	}
	for y := uint32(0); y < rows; y++ {
		d := dst[uint64(y)*uint64(dstPitch):][:p.GuestRowBytes]
		s := src[uint64(y)*uint64(srcPitch):][:p.HostRowBytes]
		switch p.Transform {
		case Direct:
			copy(d, s)
		case ForceAlpha:
			copy(d, s)
			forceAlpha(d)
		case Expand565:
			quantize565(d, s)
		case Expand5551:
			quantize5551(d, s)
		}
	}
	return nil
}

// sliceRow returns guest row y, truncated or empty when src is short.
func sliceRow(src []byte, y, pitch, rowBytes uint32) []byte {
	start := uint64(y) * uint64(pitch)
	if start >= uint64(len(src)) {
		return nil
	}
	end := min(start+uint64(rowBytes), uint64(len(src)))
	return src[start:end]
}
