package aerogpu

import (
	"github.com/gogpu/aerogpu/alloc"
	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/internal/layout"
	"github.com/gogpu/aerogpu/internal/resource"
	"github.com/gogpu/aerogpu/internal/wire"
)

// checkWritebackMode rejects a writeback that could never complete: a
// blocking wait on a device whose completions only arrive from Poll.
func (b *batch) checkWritebackMode(op wire.Opcode) error {
	if b.e.opts.mode == ModeBlocking && b.e.dev.Caps().Cooperative {
		return validationf("%s: writeback needs async mode on the cooperative %s backend", op, b.e.dev.Name())
	}
	return nil
}

// writebackEntry validates that the guest allocation behind backing may be
// written.
func (b *batch) writebackEntry(op wire.Opcode, h uint32, backing *resource.Backing) (alloc.Entry, error) {
	if backing == nil {
		return alloc.Entry{}, validationf("%s: writeback destination %d is not guest-backed", op, h)
	}
	table, err := b.requireTable(op, backing.AllocID)
	if err != nil {
		return alloc.Entry{}, err
	}
	e, ok := table.Get(backing.AllocID)
	if !ok {
		return alloc.Entry{}, validationf("%s: writeback alloc_id %d is not in the alloc table", op, backing.AllocID)
	}
	if e.ReadOnly() {
		return alloc.Entry{}, validationf("%s: writeback alloc_id %d is read-only", op, backing.AllocID)
	}
	return e, nil
}

func (b *batch) copyBuffer(c wire.CopyBuffer) error {
	const op = wire.OpCopyBuffer
	if c.Writeback() {
		if err := b.checkWritebackMode(op); err != nil {
			return err
		}
	}
	if c.Dst == c.Src {
		return validationf("%s: source and destination are both %d", op, c.Dst)
	}
	dst, err := b.buffer(op, c.Dst)
	if err != nil {
		return err
	}
	src, err := b.buffer(op, c.Src)
	if err != nil {
		return err
	}
	if !layout.IsAligned(c.DstOffset, layout.BufferAlignment) ||
		!layout.IsAligned(c.SrcOffset, layout.BufferAlignment) ||
		!layout.IsAligned(c.Size, layout.BufferAlignment) {
		return validationf("%s: offsets %#x, %#x and size %#x must be %d-byte aligned",
			op, c.DstOffset, c.SrcOffset, c.Size, layout.BufferAlignment)
	}
	if _, ok := span(c.SrcOffset, c.Size, src.Size); !ok {
		return validationf("%s: source range [%#x, +%#x) exceeds buffer %d of %#x bytes", op, c.SrcOffset, c.Size, c.Src, src.Size)
	}
	if _, ok := span(c.DstOffset, c.Size, dst.Size); !ok {
		return validationf("%s: destination range [%#x, +%#x) exceeds buffer %d of %#x bytes", op, c.DstOffset, c.Size, c.Dst, dst.Size)
	}
	var wb *writeback
	if c.Writeback() {
		if _, err := b.writebackEntry(op, c.Dst, dst.Backing); err != nil {
			return err
		}
		off := dst.Backing.Offset + c.DstOffset
		if _, err := b.table.Resolve(dst.Backing.AllocID, off, c.Size); err != nil {
			return validationf("%s: writeback: %v", op, err)
		}
		wb = &writeback{handle: c.Dst, allocID: dst.Backing.AllocID, offset: off, rows: 1, rowBytes: c.Size}
	}
	if c.Size == 0 {
		return nil
	}

	if err := b.flushBuffer(src); err != nil {
		return err
	}
	if err := b.flushBuffer(dst); err != nil {
		return err
	}
	if err := b.e.dev.CopyBuffer(dst.Host, c.DstOffset, src.Host, c.SrcOffset, c.Size); err != nil {
		return validationf("%s: backend: %v", op, err)
	}
	if wb == nil {
		return nil
	}
	rb, err := b.e.dev.ReadbackBuffer(dst.Host, c.DstOffset, c.Size)
	if err != nil {
		return validationf("%s: stage writeback: %v", op, err)
	}
	wb.rb = rb
	b.writebacks = append(b.writebacks, wb)
	return nil
}

// compatible reports whether a and b store texels the same way on the
// guest and on the backend.
func compatible(a, b *resource.Texture) bool {
	ia, err := layout.Lookup(a.Format)
	if err != nil {
		return false
	}
	ib, err := layout.Lookup(b.Format)
	if err != nil {
		return false
	}
	return ia.Class == ib.Class && ia.Block == ib.Block && ia.BGR == ib.BGR &&
		a.Format.BCKind() == b.Format.BCKind() && a.Transform == b.Transform
}

// inside reports whether [x, x+w) lies within [0, limit).
func inside(x, w, limit uint32) bool {
	return uint64(x)+uint64(w) <= uint64(limit)
}

func (b *batch) copyTexture(c wire.CopyTexture2D) error {
	const op = wire.OpCopyTexture2D
	if c.Writeback() {
		if err := b.checkWritebackMode(op); err != nil {
			return err
		}
	}
	if c.Dst == c.Src {
		return validationf("%s: source and destination are both %d", op, c.Dst)
	}
	dst, err := b.texture(op, c.Dst)
	if err != nil {
		return err
	}
	src, err := b.texture(op, c.Src)
	if err != nil {
		return err
	}
	dsub, ok := dst.Subresource(c.DstMip, c.DstLayer)
	if !ok {
		return validationf("%s: texture %d has no mip %d layer %d", op, c.Dst, c.DstMip, c.DstLayer)
	}
	ssub, ok := src.Subresource(c.SrcMip, c.SrcLayer)
	if !ok {
		return validationf("%s: texture %d has no mip %d layer %d", op, c.Src, c.SrcMip, c.SrcLayer)
	}
	if !compatible(dst, src) {
		return validationf("%s: cannot copy %s to %s", op, src.Format, dst.Format)
	}
	if !inside(c.SrcX, c.Width, ssub.Width) || !inside(c.SrcY, c.Height, ssub.Height) {
		return validationf("%s: source region (%d,%d) %dx%d exceeds %dx%d", op, c.SrcX, c.SrcY, c.Width, c.Height, ssub.Width, ssub.Height)
	}
	if !inside(c.DstX, c.Width, dsub.Width) || !inside(c.DstY, c.Height, dsub.Height) {
		return validationf("%s: destination region (%d,%d) %dx%d exceeds %dx%d", op, c.DstX, c.DstY, c.Width, c.Height, dsub.Width, dsub.Height)
	}
	info, err := layout.Lookup(dst.Format)
	if err != nil {
		return validationf("%s: %v", op, err)
	}
	if bw, bh := info.Block.Width, info.Block.Height; bw > 1 || bh > 1 {
		if c.SrcX%bw != 0 || c.SrcY%bh != 0 || c.DstX%bw != 0 || c.DstY%bh != 0 {
			return validationf("%s: block-compressed copy origin must be %dx%d aligned", op, bw, bh)
		}
		wEdge := c.SrcX+c.Width == ssub.Width && c.DstX+c.Width == dsub.Width
		hEdge := c.SrcY+c.Height == ssub.Height && c.DstY+c.Height == dsub.Height
		if (c.Width%bw != 0 && !wEdge) || (c.Height%bh != 0 && !hEdge) {
			return validationf("%s: block-compressed copy size %dx%d must be %dx%d aligned", op, c.Width, c.Height, bw, bh)
		}
	}

	var wb *writeback
	if c.Writeback() {
		if _, err := b.writebackEntry(op, c.Dst, dst.Backing); err != nil {
			return err
		}
		if dst.Transform.Decodes() {
			return validationf("%s: cannot write back %s texture %d decoded on the CPU", op, dst.Format, c.Dst)
		}
		wb, err = b.textureWriteback(dst, dsub, info, c)
		if err != nil {
			return err
		}
	}
	if c.Width == 0 || c.Height == 0 {
		return nil
	}

	if err := b.flushTexture(src); err != nil {
		return err
	}
	if err := b.flushTexture(dst); err != nil {
		return err
	}
	dr := backend.TextureRegion{Texture: dst.Host, Mip: c.DstMip, Layer: c.DstLayer, X: c.DstX, Y: c.DstY, Width: c.Width, Height: c.Height}
	sr := backend.TextureRegion{Texture: src.Host, Mip: c.SrcMip, Layer: c.SrcLayer, X: c.SrcX, Y: c.SrcY, Width: c.Width, Height: c.Height}
	if err := b.e.dev.CopyTexture(dr, sr); err != nil {
		return validationf("%s: backend: %v", op, err)
	}
	if wb == nil {
		return nil
	}
	rb, err := b.e.dev.ReadbackTexture(dr, wb.hostPitch)
	if err != nil {
		return validationf("%s: stage writeback: %v", op, err)
	}
	wb.rb = rb
	b.writebacks = append(b.writebacks, wb)
	return nil
}

// textureWriteback describes where the rows of a copy's destination region
// land in guest memory, and checks that all of them resolve.
func (b *batch) textureWriteback(t *resource.Texture, sub layout.Subresource, info layout.Info, c wire.CopyTexture2D) (*writeback, error) {
	const op = wire.OpCopyTexture2D
	plan, err := b.e.plan(t.Transform, t.Format, c.Width)
	if err != nil {
		return nil, validationf("%s: %v", op, err)
	}
	hostPitch, ok := layout.AlignUp(plan.HostRowBytes, layout.RowAlignment)
	if !ok {
		return nil, validationf("%s: row of %d bytes overflows", op, plan.HostRowBytes)
	}
	bh := info.Block.Height
	firstRow := c.DstY / bh
	rows := layout.CeilDiv(c.DstY+c.Height, bh) - firstRow
	xBytes := uint64(c.DstX/info.Block.Width) * uint64(info.Block.Bytes)
	pitch := uint64(sub.RowPitch)

	wb := &writeback{
		handle:    t.Handle,
		allocID:   t.Backing.AllocID,
		offset:    t.Backing.Offset + sub.Offset + uint64(firstRow)*pitch + xBytes,
		pitch:     pitch,
		rows:      rows,
		rowBytes:  uint64(plan.GuestRowBytes),
		hostPitch: hostPitch,
		plan:      &plan,
	}
	if rows > 0 {
		last := wb.offset + uint64(rows-1)*pitch
		if _, err := b.table.Resolve(wb.allocID, last, wb.rowBytes); err != nil {
			return nil, validationf("%s: writeback: %v", op, err)
		}
	}
	return wb, nil
}
