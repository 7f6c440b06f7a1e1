package software

import (
	"fmt"
	"math"

	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/internal/color"
	"github.com/gogpu/aerogpu/internal/convert"
)

type point struct{ x, y float32 }

// edge is the signed area of (a, b, p) doubled.
func edge(a, b, p point) float32 {
	return (b.x-a.x)*(p.y-a.y) - (b.y-a.y)*(p.x-a.x)
}

// Draw rasterizes a triangle list into mip 0 of the target. Every covered
// pixel receives the texel at uv (0.5, 0.5) of the bound texture.
// Out-of-range vertex fetches drop the triangle, like robust buffer access.
func (d *Device) Draw(call backend.DrawCall) error {
	target, err := d.texture(call.Target)
	if err != nil {
		return err
	}
	if !target.desc.Format.Renderable() {
		return fmt.Errorf("%w: render target %s", backend.ErrUnsupportedFormat, target.desc.Format)
	}
	vb, err := d.buffer(call.Vertices)
	if err != nil {
		return err
	}
	tex, err := d.texture(call.Texture)
	if err != nil {
		return err
	}
	var ib *buffer
	if call.Indexed {
		if ib, err = d.buffer(call.Indices); err != nil {
			return err
		}
	}
	if call.Count < 3 || call.InstanceCount == 0 {
		return nil
	}

	fill, err := sampleCenter(tex)
	if err != nil {
		return err
	}
	px := encodeTexel(target.desc.Format, fill)

	fetch := func(i uint32) (point, bool) {
		idx := int64(call.First) + int64(i)
		if ib != nil {
			size := call.IndexFormat.Size()
			off := call.IndexOffset + uint64(idx)*size
			if off+size > ib.Size() {
				return point{}, false
			}
			if size == 2 {
				idx = int64(le.Uint16(ib.data[off:]))
			} else {
				idx = int64(le.Uint32(ib.data[off:]))
			}
			idx += int64(call.BaseVertex)
			if idx < 0 {
				return point{}, false
			}
		}
		off := call.VertexOffset + uint64(idx)*backend.VertexStride
		if off+backend.VertexStride > vb.Size() {
			return point{}, false
		}
		return point{
			x: math.Float32frombits(le.Uint32(vb.data[off:])),
			y: math.Float32frombits(le.Uint32(vb.data[off+4:])),
		}, true
	}

	w, h := target.desc.Width, target.desc.Height
	toScreen := func(p point) point {
		return point{x: (p.x + 1) / 2 * float32(w), y: (1 - p.y) / 2 * float32(h)}
	}
	for i := uint32(0); i+3 <= call.Count; i += 3 {
		var tri [3]point
		ok := true
		for k := range tri {
			p, fetched := fetch(i + uint32(k))
			ok = ok && fetched
			tri[k] = toScreen(p)
		}
		if ok {
			fillTriangle(target.subs[0], w, h, tri, px)
		}
	}
	return nil
}

func fillTriangle(dst []byte, w, h uint32, tri [3]point, px [4]byte) {
	a, b, c := tri[0], tri[1], tri[2]
	area := edge(a, b, c)
	if area == 0 || area != area {
		return
	}
	if area < 0 {
		b, c = c, b
	}
	minX := clampPixel(min(a.x, b.x, c.x), w)
	maxX := clampPixel(max(a.x, b.x, c.x)+1, w)
	minY := clampPixel(min(a.y, b.y, c.y), h)
	maxY := clampPixel(max(a.y, b.y, c.y)+1, h)
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			p := point{x: float32(x) + 0.5, y: float32(y) + 0.5}
			if edge(a, b, p) >= 0 && edge(b, c, p) >= 0 && edge(c, a, p) >= 0 {
				i := (y*w + x) * 4
				copy(dst[i:i+4], px[:])
			}
		}
	}
}

func clampPixel(v float32, limit uint32) uint32 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= float32(limit) {
		return limit
	}
	return uint32(v)
}

// sampleCenter returns the nearest texel to uv (0.5, 0.5) of mip 0, layer 0.
func sampleCenter(t *texture) (color.ColorF32, error) {
	f := t.desc.Format
	x, y := t.desc.Width/2, t.desc.Height/2
	sub := t.subs[0]
	pitch := f.RowBytes(t.desc.Width)

	var px [4]byte
	if f.Compressed() {
		kind := 0
		switch f {
		case backend.FormatBC1RGBAUnorm, backend.FormatBC1RGBAUnormSrgb:
			kind = 1
		case backend.FormatBC2RGBAUnorm, backend.FormatBC2RGBAUnormSrgb:
			kind = 2
		case backend.FormatBC3RGBAUnorm, backend.FormatBC3RGBAUnormSrgb:
			kind = 3
		}
		off := (y/4)*pitch + (x/4)*f.BlockBytes()
		tile, err := convert.DecodeBlock(kind, sub[off:off+f.BlockBytes()])
		if err != nil {
			return color.ColorF32{}, fmt.Errorf("software: sample %s: %w", f, err)
		}
		px = tile[(y%4)*4+x%4]
	} else {
		off := y*pitch + x*4
		copy(px[:], sub[off:off+4])
		if f.BGR() {
			px[0], px[2] = px[2], px[0]
		}
	}
	return color.Decode(px, f.SRGB()), nil
}
