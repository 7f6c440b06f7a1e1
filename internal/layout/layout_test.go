package layout

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTextureCopyLayout(t *testing.T) {
	tests := []struct {
		name   string
		w, h   uint32
		format Format
		want   CopyLayout
	}{
		{
			name: "rgba 5x7", w: 5, h: 7, format: FormatR8G8B8A8Unorm,
			want: CopyLayout{BlockWidth: 1, BlockHeight: 1, BlockBytes: 4, RowsInLayout: 7, UnpaddedRowBytes: 20, PaddedRowBytes: 256},
		},
		{
			name: "bgrx 64x1", w: 64, h: 1, format: FormatB8G8R8X8Unorm,
			want: CopyLayout{BlockWidth: 1, BlockHeight: 1, BlockBytes: 4, RowsInLayout: 1, UnpaddedRowBytes: 256, PaddedRowBytes: 256},
		},
		{
			name: "565 3x2", w: 3, h: 2, format: FormatB5G6R5Unorm,
			want: CopyLayout{BlockWidth: 1, BlockHeight: 1, BlockBytes: 2, RowsInLayout: 2, UnpaddedRowBytes: 6, PaddedRowBytes: 256},
		},
		{
			name: "bc1 5x5", w: 5, h: 5, format: FormatBC1RgbaUnorm,
			want: CopyLayout{BlockWidth: 4, BlockHeight: 4, BlockBytes: 8, RowsInLayout: 2, UnpaddedRowBytes: 16, PaddedRowBytes: 256},
		},
		{
			name: "bc3 1x1", w: 1, h: 1, format: FormatBC3RgbaUnorm,
			want: CopyLayout{BlockWidth: 4, BlockHeight: 4, BlockBytes: 16, RowsInLayout: 1, UnpaddedRowBytes: 16, PaddedRowBytes: 256},
		},
		{
			name: "bc7 80x8", w: 80, h: 8, format: FormatBC7RgbaUnormSrgb,
			want: CopyLayout{BlockWidth: 4, BlockHeight: 4, BlockBytes: 16, RowsInLayout: 2, UnpaddedRowBytes: 320, PaddedRowBytes: 512},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TextureCopyLayout(tt.w, tt.h, tt.format)
			if err != nil {
				t.Fatalf("TextureCopyLayout() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("TextureCopyLayout() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTextureCopyLayoutUnknownFormat(t *testing.T) {
	_, err := TextureCopyLayout(4, 4, Format(7))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("TextureCopyLayout(format 7) error = %v, want ErrUnknownFormat", err)
	}
}

func TestTextureCopyLayoutMonotonic(t *testing.T) {
	formats := []Format{
		FormatB8G8R8A8Unorm, FormatR8G8B8X8UnormSrgb, FormatB5G5R5A1Unorm,
		FormatBC1RgbaUnorm, FormatBC2RgbaUnorm, FormatBC7RgbaUnorm, FormatD32Float,
	}
	for _, f := range formats {
		var prev uint64
		for dim := uint32(1); dim <= 300; dim++ {
			l, err := TextureCopyLayout(dim, dim, f)
			if err != nil {
				t.Fatalf("%v %d: %v", f, dim, err)
			}
			size := uint64(l.RowsInLayout) * uint64(l.UnpaddedRowBytes)
			if size < prev {
				t.Fatalf("%v: size decreased at %d (%d < %d)", f, dim, size, prev)
			}
			prev = size
			if l.PaddedRowBytes < l.UnpaddedRowBytes {
				t.Fatalf("%v %d: padded %d < unpadded %d", f, dim, l.PaddedRowBytes, l.UnpaddedRowBytes)
			}
			if l.PaddedRowBytes%RowAlignment != 0 {
				t.Fatalf("%v %d: padded %d not aligned", f, dim, l.PaddedRowBytes)
			}
		}
	}
}

func TestMipDim(t *testing.T) {
	tests := []struct {
		base, level, want uint32
	}{
		{256, 0, 256},
		{256, 1, 128},
		{256, 8, 1},
		{256, 9, 1},
		{5, 1, 2},
		{5, 2, 1},
		{1, 0, 1},
		{7, 40, 1},
	}
	for _, tt := range tests {
		if got := MipDim(tt.base, tt.level); got != tt.want {
			t.Errorf("MipDim(%d, %d) = %d, want %d", tt.base, tt.level, got, tt.want)
		}
	}
}

func TestSubresourcesPacking(t *testing.T) {
	subs, err := Subresources(FormatR8G8B8A8Unorm, 4, 2, 3, 2, 32)
	if err != nil {
		t.Fatalf("Subresources() error = %v", err)
	}
	want := []Subresource{
		{MipLevel: 0, ArrayLayer: 0, Width: 4, Height: 2, Offset: 0, RowPitch: 32, RowsInLayout: 2, Size: 64},
		{MipLevel: 1, ArrayLayer: 0, Width: 2, Height: 1, Offset: 64, RowPitch: 8, RowsInLayout: 1, Size: 8},
		{MipLevel: 2, ArrayLayer: 0, Width: 1, Height: 1, Offset: 72, RowPitch: 4, RowsInLayout: 1, Size: 4},
		{MipLevel: 0, ArrayLayer: 1, Width: 4, Height: 2, Offset: 76, RowPitch: 32, RowsInLayout: 2, Size: 64},
		{MipLevel: 1, ArrayLayer: 1, Width: 2, Height: 1, Offset: 140, RowPitch: 8, RowsInLayout: 1, Size: 8},
		{MipLevel: 2, ArrayLayer: 1, Width: 1, Height: 1, Offset: 148, RowPitch: 4, RowsInLayout: 1, Size: 4},
	}
	if diff := cmp.Diff(want, subs); diff != "" {
		t.Errorf("Subresources() mismatch (-want +got):\n%s", diff)
	}
	if got := TotalSize(subs); got != 152 {
		t.Errorf("TotalSize() = %d, want 152", got)
	}
	for i := 1; i < len(subs); i++ {
		if subs[i].Offset != subs[i-1].End() {
			t.Errorf("subresource %d starts at %d, previous ends at %d", i, subs[i].Offset, subs[i-1].End())
		}
	}
}

func TestSubresourcesBC(t *testing.T) {
	subs, err := Subresources(FormatBC1RgbaUnorm, 8, 8, 4, 1, 0)
	if err != nil {
		t.Fatalf("Subresources() error = %v", err)
	}
	wantSizes := []uint64{32, 8, 8, 8}
	for i, s := range subs {
		if s.Size != wantSizes[i] {
			t.Errorf("mip %d size = %d, want %d", i, s.Size, wantSizes[i])
		}
	}
}

func TestSubresourcesErrors(t *testing.T) {
	tests := []struct {
		name                      string
		w, h, mips, layers, pitch uint32
		want                      error
	}{
		{"zero width", 0, 4, 1, 1, 0, ErrInvalidDimensions},
		{"zero layers", 4, 4, 1, 0, 0, ErrInvalidDimensions},
		{"mip chain too long", 4, 4, 4, 1, 0, ErrInvalidDimensions},
		{"pitch too small", 4, 4, 1, 1, 15, ErrRowPitchTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Subresources(FormatR8G8B8A8Unorm, tt.w, tt.h, tt.mips, tt.layers, tt.pitch)
			if !errors.Is(err, tt.want) {
				t.Errorf("Subresources() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAlignUp(t *testing.T) {
	if got, ok := AlignUp(uint32(20), 256); !ok || got != 256 {
		t.Errorf("AlignUp(20, 256) = %d, %v", got, ok)
	}
	if got, ok := AlignUp(uint64(512), 256); !ok || got != 512 {
		t.Errorf("AlignUp(512, 256) = %d, %v", got, ok)
	}
	if _, ok := AlignUp(^uint32(0)-2, 4); ok {
		t.Error("AlignUp near max should overflow")
	}
	if got := AlignDown(uint64(7), 4); got != 4 {
		t.Errorf("AlignDown(7, 4) = %d", got)
	}
}

func TestFormatPredicates(t *testing.T) {
	if !FormatB8G8R8X8UnormSrgb.IsX8() || FormatB8G8R8A8Unorm.IsX8() {
		t.Error("IsX8 mismatch")
	}
	if !FormatBC2RgbaUnormSrgb.IsBC() || FormatB5G6R5Unorm.IsBC() {
		t.Error("IsBC mismatch")
	}
	if FormatBC7RgbaUnorm.BCKind() != 7 || FormatBC1RgbaUnormSrgb.BCKind() != 1 {
		t.Error("BCKind mismatch")
	}
	if Format(1000).Valid() {
		t.Error("Format(1000) should be invalid")
	}
	if got := FormatB5G5R5A1Unorm.String(); got != "B5G5R5A1_UNORM" {
		t.Errorf("String() = %q", got)
	}
}
