//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/aerogpu/backend"
)

var hostFormats = map[backend.Format]gputypes.TextureFormat{
	backend.FormatRGBA8Unorm:       gputypes.TextureFormatRGBA8Unorm,
	backend.FormatRGBA8UnormSrgb:   gputypes.TextureFormatRGBA8UnormSrgb,
	backend.FormatBGRA8Unorm:       gputypes.TextureFormatBGRA8Unorm,
	backend.FormatBGRA8UnormSrgb:   gputypes.TextureFormatBGRA8UnormSrgb,
	backend.FormatBC1RGBAUnorm:     gputypes.TextureFormatBC1RGBAUnorm,
	backend.FormatBC1RGBAUnormSrgb: gputypes.TextureFormatBC1RGBAUnormSrgb,
	backend.FormatBC2RGBAUnorm:     gputypes.TextureFormatBC2RGBAUnorm,
	backend.FormatBC2RGBAUnormSrgb: gputypes.TextureFormatBC2RGBAUnormSrgb,
	backend.FormatBC3RGBAUnorm:     gputypes.TextureFormatBC3RGBAUnorm,
	backend.FormatBC3RGBAUnormSrgb: gputypes.TextureFormatBC3RGBAUnormSrgb,
	backend.FormatBC7RGBAUnorm:     gputypes.TextureFormatBC7RGBAUnorm,
	backend.FormatBC7RGBAUnormSrgb: gputypes.TextureFormatBC7RGBAUnormSrgb,
}

type buffer struct {
	dev  *Device
	buf  *wgpu.Buffer
	size uint64
}

func (b *buffer) Size() uint64 { return b.size }

type texture struct {
	dev    *Device
	desc   backend.TextureDesc
	format gputypes.TextureFormat
	tex    *wgpu.Texture
	view   *wgpu.TextureView // mip 0, layer 0
}

func (t *texture) Desc() backend.TextureDesc { return t.desc }

func bufferUsage(u backend.BufferUsage) gputypes.BufferUsage {
	out := gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	if u&backend.BufferUsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&backend.BufferUsageIndex != 0 {
		out |= gputypes.BufferUsageIndex
	}
	if u&backend.BufferUsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	return out
}

func (d *Device) CreateBuffer(desc backend.BufferDesc) (backend.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if desc.Size == 0 || desc.Size%4 != 0 {
		return nil, fmt.Errorf("native: buffer size %d is not a non-zero multiple of 4", desc.Size)
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create buffer: %w", err)
	}
	return &buffer{dev: d, buf: buf, size: desc.Size}, nil
}

func (d *Device) DestroyBuffer(b backend.Buffer) {
	buf, err := d.buffer(b)
	if err != nil {
		d.logger.Warn("native: destroy buffer", "err", err)
		return
	}
	d.garbage = append(d.garbage, buf.buf)
	buf.buf = nil
}

func (d *Device) buffer(b backend.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil || buf.dev != d || buf.buf == nil {
		return nil, fmt.Errorf("%w: buffer %T", backend.ErrInvalidObject, b)
	}
	return buf, nil
}

func (d *Device) CreateTexture(desc backend.TextureDesc) (backend.Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	f, ok := hostFormats[desc.Format]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedFormat, desc.Format)
	case desc.Format.Compressed() && !d.caps.NativeBC:
		return nil, fmt.Errorf("%w: %s without BC support", backend.ErrUnsupportedFormat, desc.Format)
	case desc.RenderTarget && !desc.Format.Renderable():
		return nil, fmt.Errorf("%w: %s is not renderable", backend.ErrUnsupportedFormat, desc.Format)
	}
	usage := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding
	if desc.RenderTarget {
		usage |= gputypes.TextureUsageRenderAttachment
	}
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: desc.ArrayLayers},
		MipLevelCount: desc.MipLevels,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        f,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create texture: %w", err)
	}
	view, err := d.device.CreateTextureView(tex, &wgpu.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          f,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("native: create texture view: %w", err)
	}
	return &texture{dev: d, desc: desc, format: f, tex: tex, view: view}, nil
}

func (d *Device) DestroyTexture(tx backend.Texture) {
	t, err := d.texture(tx)
	if err != nil {
		d.logger.Warn("native: destroy texture", "err", err)
		return
	}
	d.garbage = append(d.garbage, t.view, t.tex)
	t.tex, t.view = nil, nil
}

func (d *Device) texture(tx backend.Texture) (*texture, error) {
	t, ok := tx.(*texture)
	if !ok || t == nil || t.dev != d || t.tex == nil {
		return nil, fmt.Errorf("%w: texture %T", backend.ErrInvalidObject, tx)
	}
	return t, nil
}

func span(size, offset, n uint64) error {
	if offset > size || n > size-offset {
		return fmt.Errorf("%w: [%d, +%d) of %d bytes", backend.ErrOutOfBounds, offset, n, size)
	}
	if offset%4 != 0 || n%4 != 0 {
		return fmt.Errorf("%w: [%d, +%d)", ErrAlignment, offset, n)
	}
	return nil
}

func (d *Device) WriteBuffer(b backend.Buffer, offset uint64, data []byte) error {
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	if err := span(buf.size, offset, uint64(len(data))); err != nil {
		return err
	}
	if err := d.flushCommands(); err != nil {
		return err
	}
	return d.queue.WriteBuffer(buf.buf, offset, data)
}

func (d *Device) CopyBuffer(dst backend.Buffer, dstOffset uint64, src backend.Buffer, srcOffset uint64, size uint64) error {
	db, err := d.buffer(dst)
	if err != nil {
		return err
	}
	sb, err := d.buffer(src)
	if err != nil {
		return err
	}
	if err := span(sb.size, srcOffset, size); err != nil {
		return err
	}
	if err := span(db.size, dstOffset, size); err != nil {
		return err
	}
	enc, err := d.commands()
	if err != nil {
		return err
	}
	enc.CopyBufferToBuffer(sb.buf, srcOffset, db.buf, dstOffset, size)
	return nil
}

// region validates r and returns its copy origin and the extent the GPU
// expects: block formats copy whole blocks, so edge regions are rounded up
// to the physical mip size.
func (d *Device) region(r backend.TextureRegion) (*texture, wgpu.ImageCopyTexture, wgpu.Extent3D, error) {
	t, err := d.texture(r.Texture)
	if err != nil {
		return nil, wgpu.ImageCopyTexture{}, wgpu.Extent3D{}, err
	}
	desc := t.desc
	if r.Mip >= desc.MipLevels || r.Layer >= desc.ArrayLayers {
		return nil, wgpu.ImageCopyTexture{}, wgpu.Extent3D{}, fmt.Errorf("%w: %s", backend.ErrOutOfBounds, r)
	}
	w, h := max(desc.Width>>r.Mip, 1), max(desc.Height>>r.Mip, 1)
	if r.X > w || r.Width > w-r.X || r.Y > h || r.Height > h-r.Y {
		return nil, wgpu.ImageCopyTexture{}, wgpu.Extent3D{}, fmt.Errorf("%w: %s of %dx%d", backend.ErrOutOfBounds, r, w, h)
	}
	ext := wgpu.Extent3D{Width: r.Width, Height: r.Height, DepthOrArrayLayers: 1}
	if bd := desc.Format.BlockDim(); bd > 1 {
		if r.X%bd != 0 || r.Y%bd != 0 {
			return nil, wgpu.ImageCopyTexture{}, wgpu.Extent3D{}, fmt.Errorf("%w: %s is not block aligned", backend.ErrOutOfBounds, r)
		}
		ext.Width = (r.Width + bd - 1) / bd * bd
		ext.Height = (r.Height + bd - 1) / bd * bd
	}
	return t, wgpu.ImageCopyTexture{
		Texture:  t.tex,
		MipLevel: r.Mip,
		Origin:   wgpu.Origin3D{X: r.X, Y: r.Y, Z: r.Layer},
		Aspect:   gputypes.TextureAspectAll,
	}, ext, nil
}

func (d *Device) WriteTexture(dst backend.TextureRegion, data []byte, bytesPerRow uint32) error {
	t, ict, ext, err := d.region(dst)
	if err != nil {
		return err
	}
	if dst.Width == 0 || dst.Height == 0 {
		return nil
	}
	f := t.desc.Format
	rows := f.Rows(dst.Height)
	if bytesPerRow < f.RowBytes(dst.Width) {
		return fmt.Errorf("native: bytes per row %d < row size %d", bytesPerRow, f.RowBytes(dst.Width))
	}
	if need := uint64(rows-1)*uint64(bytesPerRow) + uint64(f.RowBytes(dst.Width)); uint64(len(data)) < need {
		return fmt.Errorf("%w: %d bytes for %s, need %d", backend.ErrOutOfBounds, len(data), dst, need)
	}
	if err := d.flushCommands(); err != nil {
		return err
	}
	return d.queue.WriteTexture(&ict, data, &wgpu.ImageDataLayout{BytesPerRow: bytesPerRow, RowsPerImage: rows}, &ext)
}

func (d *Device) CopyTexture(dst, src backend.TextureRegion) error {
	dt, dct, ext, err := d.region(dst)
	if err != nil {
		return err
	}
	st, sct, _, err := d.region(src)
	if err != nil {
		return err
	}
	df, sf := dt.desc.Format, st.desc.Format
	if df.BlockBytes() != sf.BlockBytes() || df.BlockDim() != sf.BlockDim() {
		return fmt.Errorf("%w: copy %s to %s", backend.ErrUnsupportedFormat, sf, df)
	}
	if dst.Width != src.Width || dst.Height != src.Height {
		return fmt.Errorf("native: copy size mismatch %s vs %s", dst, src)
	}
	enc, err := d.commands()
	if err != nil {
		return err
	}
	enc.CopyTextureToTexture(st.tex, dt.tex, []wgpu.TextureCopy{{Source: sct, Destination: dct, Size: ext}})
	return nil
}

func (d *Device) Clear(target backend.Texture, rgba [4]float32) error {
	t, err := d.texture(target)
	if err != nil {
		return err
	}
	if !t.desc.RenderTarget {
		return fmt.Errorf("%w: clear of a texture created without RenderTarget", backend.ErrUnsupportedFormat)
	}
	enc, err := d.commands()
	if err != nil {
		return err
	}
	pass, err := enc.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "aerogpu-clear",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    t.view,
			LoadOp:  gputypes.LoadOpClear,
			StoreOp: gputypes.StoreOpStore,
			ClearValue: wgpu.Color{
				R: float64(rgba[0]), G: float64(rgba[1]), B: float64(rgba[2]), A: float64(rgba[3]),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("native: begin clear pass: %w", err)
	}
	return pass.End()
}

func (d *Device) Draw(call backend.DrawCall) error {
	target, err := d.texture(call.Target)
	if err != nil {
		return err
	}
	if !target.desc.RenderTarget {
		return fmt.Errorf("%w: draw into a texture created without RenderTarget", backend.ErrUnsupportedFormat)
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
	if call.Count == 0 || call.InstanceCount == 0 {
		return nil
	}

	pipeline, err := d.pipelines.get(target.format)
	if err != nil {
		return err
	}
	group, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "aerogpu-blit",
		Layout:  d.pipelines.bindLayout,
		Entries: []wgpu.BindGroupEntry{{Binding: 0, TextureView: tex.view}},
	})
	if err != nil {
		return fmt.Errorf("native: bind group: %w", err)
	}
	d.garbage = append(d.garbage, group)

	enc, err := d.commands()
	if err != nil {
		return err
	}
	pass, err := enc.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "aerogpu-draw",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    target.view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}},
	})
	if err != nil {
		return fmt.Errorf("native: begin draw pass: %w", err)
	}
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, group, nil)
	pass.SetVertexBuffer(0, vb.buf, call.VertexOffset)
	if ib != nil {
		format := gputypes.IndexFormatUint16
		if call.IndexFormat == backend.IndexFormatUint32 {
			format = gputypes.IndexFormatUint32
		}
		pass.SetIndexBuffer(ib.buf, format, call.IndexOffset)
		pass.DrawIndexed(call.Count, call.InstanceCount, call.First, call.BaseVertex, call.FirstInstance)
	} else {
		pass.Draw(call.Count, call.InstanceCount, call.First, call.FirstInstance)
	}
	return pass.End()
}
