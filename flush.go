package aerogpu

import (
	"github.com/gogpu/aerogpu/internal/layout"
	"github.com/gogpu/aerogpu/internal/resource"
)

// flush pushes the dirty ranges of handle h to the backend. Host-owned and
// clean resources are left alone, as are unknown handles.
func (b *batch) flush(h uint32) error {
	if buf, ok := b.e.store.Buffer(h); ok {
		return b.flushBuffer(buf)
	}
	if t, ok := b.e.store.Texture(h); ok {
		return b.flushTexture(t)
	}
	return nil
}

func (b *batch) flushBuffer(buf *resource.Buffer) error {
	if !buf.GuestBacked() || buf.Dirty.Empty() {
		return nil
	}
	table := b.table
	if table == nil {
		return validationf("flush buffer %d: backing alloc_id %d requires alloc_table", buf.Handle, buf.Backing.AllocID)
	}
	for _, r := range buf.Dirty.Ranges() {
		start := layout.AlignDown(r.Start, layout.BufferAlignment)
		end, _ := layout.AlignUp(r.End, layout.BufferAlignment)
		end = min(end, buf.Size)
		if end <= start {
			continue
		}
		addr, err := table.Resolve(buf.Backing.AllocID, buf.Backing.Offset+start, end-start)
		if err != nil {
			return validationf("flush buffer %d: %v", buf.Handle, err)
		}
		data := make([]byte, end-start)
		if err := b.e.mem.Read(addr, data); err != nil {
			return guestMemory(err, "flush buffer %d: read %#x", buf.Handle, addr)
		}
		if err := b.e.dev.WriteBuffer(buf.Host, start, data); err != nil {
			return validationf("flush buffer %d: backend: %v", buf.Handle, err)
		}
	}
	b.log.Debug("aerogpu: flushed buffer", "handle", buf.Handle, "bytes", buf.Dirty.Bytes())
	buf.Dirty.Clear()
	return nil
}

// flushTexture re-uploads only the layout rows the dirty ranges touch, so
// rows the backend produced since the last guest write survive.
func (b *batch) flushTexture(t *resource.Texture) error {
	if !t.GuestBacked() || t.Dirty.Empty() {
		return nil
	}
	table := b.table
	if table == nil {
		return validationf("flush texture %d: backing alloc_id %d requires alloc_table", t.Handle, t.Backing.AllocID)
	}
	for _, r := range t.Dirty.Ranges() {
		for _, sub := range t.Subresources {
			lo, hi := max(r.Start, sub.Offset), min(r.End, sub.End())
			if lo >= hi {
				continue
			}
			pitch := uint64(sub.RowPitch)
			first := (lo - sub.Offset) / pitch
			last := layout.CeilDiv(hi-sub.Offset, pitch)
			n := (last - first) * pitch

			addr, err := table.Resolve(t.Backing.AllocID, t.Backing.Offset+sub.Offset+first*pitch, n)
			if err != nil {
				return validationf("flush texture %d: %v", t.Handle, err)
			}
			data := make([]byte, n)
			if err := b.e.mem.Read(addr, data); err != nil {
				return guestMemory(err, "flush texture %d: read %#x", t.Handle, addr)
			}
			if err := b.writeRows(t, sub, uint32(first), uint32(last-first), data); err != nil {
				return err
			}
		}
	}
	b.log.Debug("aerogpu: flushed texture", "handle", t.Handle, "bytes", t.Dirty.Bytes())
	t.Dirty.Clear()
	return nil
}
