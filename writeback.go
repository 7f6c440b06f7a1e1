package aerogpu

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/internal/convert"
)

// writeback is a copy destination staged for return to guest memory.
// Guest row i lands at offset + i*pitch inside allocation allocID.
type writeback struct {
	handle   uint32
	rb       backend.Readback
	allocID  uint32
	offset   uint64
	pitch    uint64
	rows     uint32
	rowBytes uint64

	// Textures only.
	hostPitch uint32
	plan      *convert.Plan
}

// drain waits for each queued writeback in order and writes it to guest
// memory. The first failure stops the drain; the remaining staging
// buffers are released.
func (b *batch) drain() error {
	defer b.release()
	for i, wb := range b.writebacks {
		if err := b.e.waiter.Wait(b.ctx, b.e.dev, wb.rb); err != nil {
			return errors.Wrapf(err, "writeback %d of resource %d", i, wb.handle)
		}
		if err := b.commit(wb); err != nil {
			return err
		}
		wb.rb.Release()
		wb.rb = nil
	}
	return nil
}

// commit converts the staged rows back to the guest layout and writes them
// through the allocation table.
func (b *batch) commit(wb *writeback) error {
	data := wb.rb.Bytes()
	if wb.plan == nil {
		if uint64(len(data)) < wb.rowBytes {
			return validationf("writeback of buffer %d: staged %d of %d bytes", wb.handle, len(data), wb.rowBytes)
		}
		return b.writeGuest(wb, wb.offset, data[:wb.rowBytes])
	}

	guest := make([]byte, uint64(wb.rows)*wb.rowBytes)
	rowBytes := uint32(wb.rowBytes)
	if err := wb.plan.Writeback(guest, rowBytes, data, wb.hostPitch, wb.rows); err != nil {
		return validationf("writeback of texture %d: %v", wb.handle, err)
	}
	for y := uint64(0); y < uint64(wb.rows); y++ {
		row := guest[y*wb.rowBytes:][:wb.rowBytes]
		if err := b.writeGuest(wb, wb.offset+y*wb.pitch, row); err != nil {
			return err
		}
	}
	b.log.Debug("aerogpu: wrote back texture", "handle", wb.handle, "rows", wb.rows, "transform", wb.plan.Transform)
	return nil
}

func (b *batch) writeGuest(wb *writeback, offset uint64, p []byte) error {
	addr, err := b.table.Resolve(wb.allocID, offset, uint64(len(p)))
	if err != nil {
		return validationf("writeback of resource %d: %v", wb.handle, err)
	}
	if err := b.e.mem.Write(addr, p); err != nil {
		return guestMemory(err, "writeback of resource %d: write %#x", wb.handle, addr)
	}
	return nil
}

// release frees the staging buffers of writebacks that were not committed.
func (b *batch) release() {
	for _, wb := range b.writebacks {
		if wb.rb != nil {
			wb.rb.Release()
			wb.rb = nil
		}
	}
	b.writebacks = nil
}
