package color

import (
	"math"
	"testing"
)

func TestSRGBToLinearEdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		input uint8
		want  float32
	}{
		{"black", 0, 0.0},
		{"white", 255, 1.0},
		{"linear segment", 10, float32(10.0 / 255.0 / 12.92)},
		{"mid gray", 128, float32(math.Pow((128.0/255.0+0.055)/1.055, 2.4))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SRGBToLinear(tt.input)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("SRGBToLinear(%d) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLinearToSRGBClamps(t *testing.T) {
	if LinearToSRGB(-1) != 0 || LinearToSRGB(2) != 255 {
		t.Error("LinearToSRGB does not clamp")
	}
	// 0.5 linear is 188 in sRGB, not 128.
	if got := LinearToSRGB(0.5); got != 188 {
		t.Errorf("LinearToSRGB(0.5) = %d, want 188", got)
	}
}

// Every 8-bit sRGB value must survive decode and encode unchanged.
func TestSRGBRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		if got := LinearToSRGB(SRGBToLinear(uint8(i))); got != uint8(i) {
			t.Errorf("round trip of %d = %d", i, got)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	px := [4]byte{12, 128, 200, 77}
	for _, srgb := range []bool{false, true} {
		if got := Encode(Decode(px, srgb), srgb); got != px {
			t.Errorf("srgb=%v: Encode(Decode(%v)) = %v", srgb, px, got)
		}
	}
	// Alpha is never gamma-encoded.
	if c := Decode([4]byte{0, 0, 0, 51}, true); math.Abs(float64(c.A-0.2)) > 1e-6 {
		t.Errorf("Decode alpha = %v, want 0.2", c.A)
	}
}

func TestUnorm8(t *testing.T) {
	tests := []struct {
		in   float32
		want uint8
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 128},
		{1, 255},
		{3, 255},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		if got := Unorm8(tt.in); got != tt.want {
			t.Errorf("Unorm8(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
