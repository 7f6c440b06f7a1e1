//go:build !nogpu

package native

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/aerogpu/backend"
)

var errMappedTwice = errors.New("native: readback already mapped")

type readback struct {
	dev     *Device
	staging *wgpu.Buffer
	size    uint64 // staged bytes, a multiple of 4
	index   uint64 // submission that fills the staging buffer
	data    []byte

	requested bool
	fn        func(error)
	pending   *wgpu.MapPending
	once      sync.Once
}

// stage allocates a MapRead buffer of size bytes. The caller records the
// copy into it.
func (d *Device) stage(size uint64) (*readback, error) {
	size = (size + 3) &^ 3
	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "aerogpu-readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: staging buffer: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return &readback{dev: d, staging: staging, size: size, index: d.recorded}, nil
}

func (d *Device) ReadbackBuffer(b backend.Buffer, offset, size uint64) (backend.Readback, error) {
	buf, err := d.buffer(b)
	if err != nil {
		return nil, err
	}
	if err := span(buf.size, offset, size); err != nil {
		return nil, err
	}
	rb, err := d.stage(size)
	if err != nil {
		return nil, err
	}
	enc, err := d.commands()
	if err != nil {
		rb.staging.Release()
		return nil, err
	}
	enc.CopyBufferToBuffer(buf.buf, offset, rb.staging, 0, size)
	return rb, nil
}

func (d *Device) ReadbackTexture(src backend.TextureRegion, bytesPerRow uint32) (backend.Readback, error) {
	t, ict, ext, err := d.region(src)
	if err != nil {
		return nil, err
	}
	f := t.desc.Format
	if bytesPerRow%256 != 0 || bytesPerRow < f.RowBytes(src.Width) {
		return nil, fmt.Errorf("native: readback bytes per row %d (row size %d)", bytesPerRow, f.RowBytes(src.Width))
	}
	rows := f.Rows(src.Height)
	rb, err := d.stage(uint64(rows) * uint64(bytesPerRow))
	if err != nil {
		return nil, err
	}
	enc, err := d.commands()
	if err != nil {
		rb.staging.Release()
		return nil, err
	}
	enc.CopyTextureToBuffer(t.tex, rb.staging, []wgpu.BufferTextureCopy{{
		BufferLayout: wgpu.ImageDataLayout{BytesPerRow: bytesPerRow, RowsPerImage: rows},
		TextureBase:  ict,
		Size:         ext,
	}})
	return rb, nil
}

// Map requests the staging buffer. Mapping starts only once the submission
// that fills it is on the queue.
func (r *readback) Map(fn func(error)) {
	d := r.dev
	d.mu.Lock()
	if r.requested {
		d.mu.Unlock()
		fn(errMappedTwice)
		return
	}
	r.requested = true
	r.fn = fn
	if d.closed {
		d.mu.Unlock()
		r.complete(backend.ErrClosed)
		return
	}
	if r.index > d.submitted {
		d.waiting = append(d.waiting, r)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	r.start()
}

func (r *readback) start() {
	pending, err := r.staging.MapAsync(wgpu.MapModeRead, 0, r.size)
	if err != nil {
		r.complete(fmt.Errorf("native: map readback: %w", err))
		return
	}
	r.pending = pending
	d := r.dev
	if d.caps.Cooperative {
		d.mu.Lock()
		d.mapping = append(d.mapping, r)
		d.mu.Unlock()
		return
	}
	go func() {
		go d.device.Poll(wgpu.PollWait)
		r.finish(pending.Wait(context.Background()))
	}()
}

// finish copies the mapped bytes out and unmaps the staging buffer.
func (r *readback) finish(err error) {
	if r.pending != nil {
		r.pending.Release()
		r.pending = nil
	}
	if err != nil {
		r.complete(fmt.Errorf("native: map readback: %w", err))
		return
	}
	rng, err := r.staging.MappedRange(0, r.size)
	if err != nil {
		r.complete(fmt.Errorf("native: mapped range: %w", err))
		return
	}
	r.data = make([]byte, r.size)
	copy(r.data, rng.Bytes())
	rng.Release()
	if err := r.staging.Unmap(); err != nil {
		r.complete(fmt.Errorf("native: unmap readback: %w", err))
		return
	}
	r.complete(nil)
}

func (r *readback) complete(err error) {
	r.once.Do(func() { r.fn(err) })
}

func (r *readback) Bytes() []byte { return r.data }

func (r *readback) Release() {
	r.data = nil
	if r.staging != nil {
		r.staging.Release()
		r.staging = nil
	}
}
