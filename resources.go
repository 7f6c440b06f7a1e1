package aerogpu

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/internal/convert"
	"github.com/gogpu/aerogpu/internal/layout"
	"github.com/gogpu/aerogpu/internal/ranges"
	"github.com/gogpu/aerogpu/internal/resource"
	"github.com/gogpu/aerogpu/internal/wire"
)

// backing validates a create command's backing range against the current
// table. allocID 0 means host-owned.
func (b *batch) backing(op wire.Opcode, allocID, offset uint32, size uint64) (*resource.Backing, error) {
	if allocID == 0 {
		return nil, nil
	}
	table, err := b.requireTable(op, allocID)
	if err != nil {
		return nil, err
	}
	if _, err := table.Resolve(allocID, uint64(offset), size); err != nil {
		return nil, validationf("%s: backing range: %v", op, err)
	}
	return &resource.Backing{AllocID: allocID, Offset: uint64(offset), Size: size}, nil
}

func (b *batch) createBuffer(c wire.CreateBuffer) error {
	const op = wire.OpCreateBuffer
	if c.Handle == 0 {
		return validationf("%s: handle 0 is reserved", op)
	}
	if b.e.store.Kind(c.Handle) == resource.KindTexture {
		return validationf("%s: handle %d is already a texture", op, c.Handle)
	}
	if c.Size == 0 || c.Size%layout.BufferAlignment != 0 {
		return validationf("%s: size %d must be a non-zero multiple of %d", op, c.Size, layout.BufferAlignment)
	}
	if c.Size > b.e.limits.MaxBufferSize {
		return validationf("%s: size %d exceeds the device limit %d", op, c.Size, b.e.limits.MaxBufferSize)
	}
	backing, err := b.backing(op, c.AllocID, c.AllocOffset, c.Size)
	if err != nil {
		return err
	}

	if old, ok := b.e.store.Buffer(c.Handle); ok {
		if old.Size != c.Size || old.Usage != c.Usage {
			return validationf("%s: buffer %d re-created with size %d usage %#x (was size %d usage %#x)",
				op, c.Handle, c.Size, c.Usage, old.Size, old.Usage)
		}
		old.Backing = backing
		if backing == nil {
			old.Dirty.Clear()
		}
		return nil
	}

	host, err := b.e.dev.CreateBuffer(backend.BufferDesc{
		Label: fmt.Sprintf("buffer %d", c.Handle),
		Size:  c.Size,
		Usage: hostBufferUsage(c.Usage),
	})
	if err != nil {
		return validationf("%s: backend: %v", op, err)
	}
	buf := &resource.Buffer{Handle: c.Handle, Size: c.Size, Usage: c.Usage, Backing: backing, Host: host}
	if err := b.e.store.PutBuffer(buf); err != nil {
		b.e.dev.DestroyBuffer(host)
		return validationf("%s: %v", op, err)
	}
	return nil
}

func (b *batch) createTexture(c wire.CreateTexture2D) error {
	const op = wire.OpCreateTexture2D
	if c.Handle == 0 {
		return validationf("%s: handle 0 is reserved", op)
	}
	if b.e.store.Kind(c.Handle) == resource.KindBuffer {
		return validationf("%s: handle %d is already a buffer", op, c.Handle)
	}
	f := layout.Format(c.Format)
	info, err := layout.Lookup(f)
	if err != nil {
		return validationf("%s: %v", op, err)
	}
	if info.Class == layout.ClassDepth {
		return validationf("%s: depth format %s is not supported", op, f)
	}
	if lim := b.e.limits; c.Width > lim.MaxTextureDimension || c.Height > lim.MaxTextureDimension {
		return validationf("%s: %dx%d exceeds the device limit %d", op, c.Width, c.Height, lim.MaxTextureDimension)
	}
	if c.ArrayLayers > b.e.limits.MaxTextureArrayLayers {
		return validationf("%s: %d array layers exceed the device limit %d", op, c.ArrayLayers, b.e.limits.MaxTextureArrayLayers)
	}
	if c.AllocID != 0 && c.RowPitch == 0 {
		return validationf("%s: guest-backed texture %d needs a row_pitch", op, c.Handle)
	}
	subs, err := layout.Subresources(f, c.Width, c.Height, c.MipLevels, c.ArrayLayers, c.RowPitch)
	if err != nil {
		return validationf("%s: %v", op, err)
	}
	desc := resource.TextureDesc{
		Usage:       c.Usage,
		Format:      f,
		Width:       c.Width,
		Height:      c.Height,
		MipLevels:   c.MipLevels,
		ArrayLayers: c.ArrayLayers,
		RowPitch:    subs[0].RowPitch,
	}
	backing, err := b.backing(op, c.AllocID, c.AllocOffset, layout.TotalSize(subs))
	if err != nil {
		return err
	}

	if old, ok := b.e.store.Texture(c.Handle); ok {
		if old.TextureDesc != desc {
			return validationf("%s: texture %d re-created with different properties", op, c.Handle)
		}
		old.Backing = backing
		if backing == nil {
			old.Dirty.Clear()
		}
		return nil
	}

	tr, err := convert.Select(f, b.e.dev.Caps().NativeBC)
	if err != nil {
		return validationf("%s: %v", op, err)
	}
	hf, err := hostFormat(f, tr)
	if err != nil {
		return validationf("%s: %v", op, err)
	}
	if c.Usage&wire.UsageRenderTarget != 0 && (f.IsBC() || !hf.Renderable()) {
		return validationf("%s: %s cannot be a render target", op, f)
	}
	if tr.Decodes() {
		b.log.Warn("aerogpu: decoding block-compressed texture on the CPU", "handle", c.Handle, "format", f)
	}

	host, err := b.e.dev.CreateTexture(backend.TextureDesc{
		Label:        fmt.Sprintf("texture %d", c.Handle),
		Format:       hf,
		Width:        c.Width,
		Height:       c.Height,
		MipLevels:    c.MipLevels,
		ArrayLayers:  c.ArrayLayers,
		RenderTarget: hf.Renderable(),
	})
	if err != nil {
		return validationf("%s: backend: %v", op, err)
	}
	t := &resource.Texture{
		Handle:       c.Handle,
		TextureDesc:  desc,
		Transform:    tr,
		Subresources: subs,
		Backing:      backing,
		Host:         host,
	}
	if err := b.e.store.PutTexture(t); err != nil {
		b.e.dev.DestroyTexture(host)
		return validationf("%s: %v", op, err)
	}
	return nil
}

func (b *batch) destroy(c wire.DestroyResource) {
	kind, res := b.e.store.Remove(c.Handle)
	switch kind {
	case resource.KindBuffer:
		b.e.dev.DestroyBuffer(res.(*resource.Buffer).Host)
	case resource.KindTexture:
		b.e.dev.DestroyTexture(res.(*resource.Texture).Host)
	default:
		b.log.Debug("aerogpu: destroying unknown handle", "handle", c.Handle)
		return
	}
	b.e.state.unbind(c.Handle)
}

// span checks [offset, offset+size) against limit and returns the end.
func span(offset, size, limit uint64) (uint64, bool) {
	end, carry := bits.Add64(offset, size, 0)
	return end, carry == 0 && end <= limit
}

func (b *batch) dirtyRange(c wire.ResourceDirtyRange) error {
	const op = wire.OpResourceDirty
	var (
		backing *resource.Backing
		limit   uint64
		dirty   *ranges.Set
		isBuf   bool
	)
	switch b.e.store.Kind(c.Handle) {
	case resource.KindBuffer:
		buf, _ := b.e.store.Buffer(c.Handle)
		backing, limit, dirty, isBuf = buf.Backing, buf.Size, buf.Dirty, true
	case resource.KindTexture:
		t, _ := b.e.store.Texture(c.Handle)
		backing, limit, dirty = t.Backing, t.Size(), t.Dirty
	default:
		return validationf("%s: resource %d does not exist", op, c.Handle)
	}
	if backing == nil {
		return validationf("%s: resource %d is host-owned; not supported, use %s", op, c.Handle, wire.OpUploadResource)
	}
	table, err := b.requireTable(op, backing.AllocID)
	if err != nil {
		return err
	}
	if _, ok := table.Get(backing.AllocID); !ok {
		return validationf("%s: backing alloc_id %d of resource %d is not in the alloc table", op, backing.AllocID, c.Handle)
	}
	if c.Size == 0 {
		return nil
	}
	end, ok := span(c.Offset, c.Size, limit)
	if !ok {
		return validationf("%s: range [%#x, +%#x) exceeds resource %d of %#x bytes", op, c.Offset, c.Size, c.Handle, limit)
	}
	start := c.Offset
	if isBuf {
		start = layout.AlignDown(start, layout.BufferAlignment)
		// limit is a multiple of 4 so the rounded end still fits.
		end, _ = layout.AlignUp(end, layout.BufferAlignment)
		end = min(end, limit)
	}
	dirty.Add(ranges.Range{Start: start, End: end})
	return nil
}

func (b *batch) upload(c wire.UploadResource) error {
	const op = wire.OpUploadResource
	size := uint64(len(c.Data))
	switch b.e.store.Kind(c.Handle) {
	case resource.KindBuffer:
		buf, _ := b.e.store.Buffer(c.Handle)
		if buf.GuestBacked() {
			return validationf("%s: buffer %d is guest-backed; not supported, use %s", op, c.Handle, wire.OpResourceDirty)
		}
		if size == 0 {
			return nil
		}
		if !layout.IsAligned(c.Offset, layout.BufferAlignment) || !layout.IsAligned(size, layout.BufferAlignment) {
			return validationf("%s: buffer offset %#x and size %#x must be %d-byte aligned", op, c.Offset, size, layout.BufferAlignment)
		}
		if _, ok := span(c.Offset, size, buf.Size); !ok {
			return validationf("%s: range [%#x, +%#x) exceeds buffer %d of %#x bytes", op, c.Offset, size, c.Handle, buf.Size)
		}
		if err := b.e.dev.WriteBuffer(buf.Host, c.Offset, c.Data); err != nil {
			return validationf("%s: backend: %v", op, err)
		}
		return nil

	case resource.KindTexture:
		t, _ := b.e.store.Texture(c.Handle)
		if t.GuestBacked() {
			return validationf("%s: texture %d is guest-backed; not supported, use %s", op, c.Handle, wire.OpResourceDirty)
		}
		if size == 0 {
			return nil
		}
		return b.uploadTexture(t, c.Offset, c.Data)

	default:
		return validationf("%s: resource %d does not exist", op, c.Handle)
	}
}

// uploadTexture splits data, which starts at byte offset of the packed
// guest layout, across the subresources it covers.
func (b *batch) uploadTexture(t *resource.Texture, offset uint64, data []byte) error {
	const op = wire.OpUploadResource
	end, ok := span(offset, uint64(len(data)), t.Size())
	if !ok {
		return validationf("%s: range [%#x, +%#x) exceeds texture %d of %#x bytes", op, offset, len(data), t.Handle, t.Size())
	}
	var consumed uint64
	for _, sub := range t.Subresources {
		lo, hi := max(offset, sub.Offset), min(end, sub.End())
		if lo >= hi {
			continue
		}
		rel, n := lo-sub.Offset, hi-lo
		pitch := uint64(sub.RowPitch)
		if rel%pitch != 0 || n%pitch != 0 {
			return validationf("%s: texture %d mip %d layer %d: range [%#x, +%#x) is not row-aligned (pitch %d)",
				op, t.Handle, sub.MipLevel, sub.ArrayLayer, rel, n, pitch)
		}
		if err := b.writeRows(t, sub, uint32(rel/pitch), uint32(n/pitch), data[lo-offset:hi-offset]); err != nil {
			return err
		}
		consumed += n
	}
	if consumed != uint64(len(data)) {
		return validationf("%s: texture %d consumed %d of %d payload bytes", op, t.Handle, consumed, len(data))
	}
	return nil
}

// writeRows converts rows guest layout rows of sub, starting at layout row
// first, and writes them to the backend texture. src holds the rows at the
// subresource's pitch.
func (b *batch) writeRows(t *resource.Texture, sub layout.Subresource, first, rows uint32, src []byte) error {
	if rows == 0 {
		return nil
	}
	info, err := layout.Lookup(t.Format)
	if err != nil {
		return err
	}
	plan, err := b.e.plan(t.Transform, t.Format, sub.Width)
	if err != nil {
		return validationf("texture %d: %v", t.Handle, err)
	}
	y := first * info.Block.Height
	if y >= sub.Height {
		return validationf("texture %d mip %d: row %d is past the texture", t.Handle, sub.MipLevel, first)
	}
	height := min(rows*info.Block.Height, sub.Height-y)
	hostRows := rows
	if t.Transform.Decodes() {
		hostRows = height
	}

	dst := make([]byte, uint64(hostRows)*uint64(plan.HostRowBytes))
	if err := plan.Upload(dst, plan.HostRowBytes, src, sub.RowPitch, rows, hostRows); err != nil {
		return validationf("texture %d: %v", t.Handle, err)
	}
	region := backend.TextureRegion{
		Texture: t.Host,
		Mip:     sub.MipLevel,
		Layer:   sub.ArrayLayer,
		Y:       y,
		Width:   sub.Width,
		Height:  height,
	}
	if err := b.e.dev.WriteTexture(region, dst, plan.HostRowBytes); err != nil {
		return validationf("texture %d %s: backend: %v", t.Handle, region, err)
	}
	return nil
}
