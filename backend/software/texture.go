package software

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/internal/color"
)

type texture struct {
	dev       *Device
	desc      backend.TextureDesc
	subs      [][]byte // indexed layer*MipLevels + mip
	destroyed bool
}

func (t *texture) Desc() backend.TextureDesc { return t.desc }

func mipDim(base, level uint32) uint32 { return max(base>>level, 1) }

// maxTextureBytes caps the storage of one texture, all subresources included.
const maxTextureBytes = 1 << 30

func (d *Device) CreateTexture(desc backend.TextureDesc) (backend.Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	f := desc.Format
	switch {
	case !f.Valid():
		return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedFormat, f)
	case f.Compressed() && !d.caps.NativeBC:
		return nil, fmt.Errorf("%w: %s without native BC support", backend.ErrUnsupportedFormat, f)
	case desc.RenderTarget && !f.Renderable():
		return nil, fmt.Errorf("%w: %s is not renderable", backend.ErrUnsupportedFormat, f)
	case desc.Width == 0 || desc.Height == 0 || desc.MipLevels == 0 || desc.ArrayLayers == 0:
		return nil, fmt.Errorf("software: invalid texture %dx%d mips=%d layers=%d",
			desc.Width, desc.Height, desc.MipLevels, desc.ArrayLayers)
	case desc.MipLevels > uint32(bits.Len32(max(desc.Width, desc.Height))):
		return nil, fmt.Errorf("software: %d mip levels for %dx%d", desc.MipLevels, desc.Width, desc.Height)
	}
	lim := d.caps.Limits
	if desc.Width > lim.MaxTextureDimension || desc.Height > lim.MaxTextureDimension || desc.ArrayLayers > lim.MaxTextureArrayLayers {
		return nil, fmt.Errorf("%w: texture %dx%d with %d layers, limits are %d and %d layers",
			backend.ErrLimit, desc.Width, desc.Height, desc.ArrayLayers, lim.MaxTextureDimension, lim.MaxTextureArrayLayers)
	}
	var total uint64
	for mip := uint32(0); mip < desc.MipLevels; mip++ {
		w, h := mipDim(desc.Width, mip), mipDim(desc.Height, mip)
		total += uint64(f.RowBytes(w)) * uint64(f.Rows(h))
	}
	if total*uint64(desc.ArrayLayers) > maxTextureBytes {
		return nil, fmt.Errorf("%w: texture of %d bytes", backend.ErrLimit, total*uint64(desc.ArrayLayers))
	}

	t := &texture{dev: d, desc: desc, subs: make([][]byte, desc.MipLevels*desc.ArrayLayers)}
	for layer := uint32(0); layer < desc.ArrayLayers; layer++ {
		for mip := uint32(0); mip < desc.MipLevels; mip++ {
			w, h := mipDim(desc.Width, mip), mipDim(desc.Height, mip)
			t.subs[layer*desc.MipLevels+mip] = make([]byte, int(f.RowBytes(w))*int(f.Rows(h)))
		}
	}
	d.mu.Lock()
	d.liveTextures++
	d.mu.Unlock()
	return t, nil
}

func (d *Device) DestroyTexture(tx backend.Texture) {
	t, err := d.texture(tx)
	if err != nil {
		d.logger.Warn("software: destroy texture", "err", err)
		return
	}
	t.destroyed = true
	t.subs = nil
	d.mu.Lock()
	d.liveTextures--
	d.mu.Unlock()
}

func (d *Device) texture(tx backend.Texture) (*texture, error) {
	t, ok := tx.(*texture)
	if !ok || t == nil || t.dev != d || t.destroyed {
		return nil, fmt.Errorf("%w: texture %T", backend.ErrInvalidObject, tx)
	}
	return t, nil
}

// view is a region of one subresource addressed in blocks.
type view struct {
	data       []byte
	pitch      uint32 // bytes per block row of the subresource
	blockBytes uint32
	bx, by     uint32
	bw, bh     uint32
}

func (v view) rowBytes() uint32 { return v.bw * v.blockBytes }

func (v view) row(y uint32) []byte {
	off := uint64(v.by+y)*uint64(v.pitch) + uint64(v.bx)*uint64(v.blockBytes)
	return v.data[off : off+uint64(v.rowBytes())]
}

func (d *Device) locate(r backend.TextureRegion) (*texture, view, error) {
	t, err := d.texture(r.Texture)
	if err != nil {
		return nil, view{}, err
	}
	desc := t.desc
	if r.Mip >= desc.MipLevels || r.Layer >= desc.ArrayLayers {
		return nil, view{}, fmt.Errorf("%w: %s of %d mips, %d layers",
			backend.ErrOutOfBounds, r, desc.MipLevels, desc.ArrayLayers)
	}
	w, h := mipDim(desc.Width, r.Mip), mipDim(desc.Height, r.Mip)
	if r.X > w || r.Width > w-r.X || r.Y > h || r.Height > h-r.Y {
		return nil, view{}, fmt.Errorf("%w: %s of %dx%d", backend.ErrOutOfBounds, r, w, h)
	}
	f := desc.Format
	bd := f.BlockDim()
	if bd > 1 {
		aligned := func(off, n, limit uint32) bool {
			return off%bd == 0 && (n%bd == 0 || off+n == limit)
		}
		if !aligned(r.X, r.Width, w) || !aligned(r.Y, r.Height, h) {
			return nil, view{}, fmt.Errorf("%w: %s is not block aligned", backend.ErrOutOfBounds, r)
		}
	}
	return t, view{
		data:       t.subs[r.Layer*desc.MipLevels+r.Mip],
		pitch:      f.RowBytes(w),
		blockBytes: f.BlockBytes(),
		bx:         r.X / bd,
		by:         r.Y / bd,
		bw:         f.RowBytes(r.Width) / f.BlockBytes(),
		bh:         f.Rows(r.Height),
	}, nil
}

func (d *Device) WriteTexture(dst backend.TextureRegion, data []byte, bytesPerRow uint32) error {
	_, v, err := d.locate(dst)
	if err != nil {
		return err
	}
	if v.bh == 0 || v.bw == 0 {
		return nil
	}
	if bytesPerRow < v.rowBytes() {
		return fmt.Errorf("software: bytes per row %d < row size %d", bytesPerRow, v.rowBytes())
	}
	if need := uint64(v.bh-1)*uint64(bytesPerRow) + uint64(v.rowBytes()); uint64(len(data)) < need {
		return fmt.Errorf("%w: %d bytes for %s, need %d", backend.ErrOutOfBounds, len(data), dst, need)
	}
	for y := uint32(0); y < v.bh; y++ {
		copy(v.row(y), data[uint64(y)*uint64(bytesPerRow):])
	}
	return nil
}

func (d *Device) CopyTexture(dst, src backend.TextureRegion) error {
	dt, dv, err := d.locate(dst)
	if err != nil {
		return err
	}
	st, sv, err := d.locate(src)
	if err != nil {
		return err
	}
	df, sf := dt.desc.Format, st.desc.Format
	if df.BlockBytes() != sf.BlockBytes() || df.BlockDim() != sf.BlockDim() {
		return fmt.Errorf("%w: copy %s to %s", backend.ErrUnsupportedFormat, sf, df)
	}
	if dst.Width != src.Width || dst.Height != src.Height {
		return fmt.Errorf("software: copy size mismatch %s vs %s", dst, src)
	}
	for y := uint32(0); y < sv.bh; y++ {
		copy(dv.row(y), sv.row(y))
	}
	return nil
}

func (d *Device) ReadbackTexture(src backend.TextureRegion, bytesPerRow uint32) (backend.Readback, error) {
	_, v, err := d.locate(src)
	if err != nil {
		return nil, err
	}
	if bytesPerRow%256 != 0 || bytesPerRow < v.rowBytes() {
		return nil, fmt.Errorf("software: readback bytes per row %d (row size %d)", bytesPerRow, v.rowBytes())
	}
	data := make([]byte, uint64(v.bh)*uint64(bytesPerRow))
	for y := uint32(0); y < v.bh; y++ {
		copy(data[uint64(y)*uint64(bytesPerRow):], v.row(y))
	}
	return d.stage(data), nil
}

// encodeTexel stores c in the byte order of f.
func encodeTexel(f backend.Format, c color.ColorF32) [4]byte {
	px := color.Encode(c, f.SRGB())
	if f.BGR() {
		px[0], px[2] = px[2], px[0]
	}
	return px
}

func (d *Device) Clear(target backend.Texture, rgba [4]float32) error {
	t, err := d.texture(target)
	if err != nil {
		return err
	}
	if !t.desc.Format.Renderable() {
		return fmt.Errorf("%w: clear of %s", backend.ErrUnsupportedFormat, t.desc.Format)
	}
	px := encodeTexel(t.desc.Format, color.ColorF32{R: rgba[0], G: rgba[1], B: rgba[2], A: rgba[3]})
	sub := t.subs[0]
	for i := 0; i+4 <= len(sub); i += 4 {
		copy(sub[i:i+4], px[:])
	}
	return nil
}
