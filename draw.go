package aerogpu

import (
	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/internal/resource"
	"github.com/gogpu/aerogpu/internal/wire"
)

func (b *batch) setRenderTargets(c wire.SetRenderTargets) error {
	const op = wire.OpSetRenderTargets
	if c.ColorCount > 1 {
		return validationf("%s: %d color targets, only 1 is supported", op, c.ColorCount)
	}
	if c.DepthStencil != 0 {
		return validationf("%s: depth-stencil targets are not supported", op)
	}
	if c.ColorCount == 0 || c.Colors[0] == 0 {
		b.e.state.renderTarget = 0
		return nil
	}
	t, err := b.texture(op, c.Colors[0])
	if err != nil {
		return err
	}
	if t.Format.IsBC() || !t.Host.Desc().Format.Renderable() {
		return validationf("%s: texture %d (%s) is not renderable", op, t.Handle, t.Format)
	}
	b.e.state.renderTarget = t.Handle
	return nil
}

func (b *batch) setVertexBuffers(c wire.SetVertexBuffers) error {
	const op = wire.OpSetVertexBuffers
	if len(c.Bindings) == 0 {
		b.e.state.vertex = vertexBinding{}
		return nil
	}
	if c.StartSlot != 0 || len(c.Bindings) > 1 {
		return validationf("%s: slots %d..%d, only slot 0 is supported", op, c.StartSlot, uint64(c.StartSlot)+uint64(len(c.Bindings))-1)
	}
	vb := c.Bindings[0]
	if vb.Buffer == 0 {
		b.e.state.vertex = vertexBinding{}
		return nil
	}
	buf, err := b.buffer(op, vb.Buffer)
	if err != nil {
		return err
	}
	if uint64(vb.Offset) > buf.Size {
		return validationf("%s: offset %#x exceeds buffer %d of %#x bytes", op, vb.Offset, vb.Buffer, buf.Size)
	}
	b.e.state.vertex = vertexBinding{buffer: vb.Buffer, stride: vb.Stride, offset: vb.Offset}
	return nil
}

func (b *batch) setIndexBuffer(c wire.SetIndexBuffer) error {
	const op = wire.OpSetIndexBuffer
	if c.Buffer == 0 {
		b.e.state.index = indexBinding{}
		return nil
	}
	var format backend.IndexFormat
	switch c.Format {
	case wire.IndexFormatUint16:
		format = backend.IndexFormatUint16
	case wire.IndexFormatUint32:
		format = backend.IndexFormatUint32
	default:
		return validationf("%s: unknown index format %d", op, c.Format)
	}
	buf, err := b.buffer(op, c.Buffer)
	if err != nil {
		return err
	}
	if uint64(c.Offset)%format.Size() != 0 {
		return validationf("%s: offset %#x is not aligned to %d-byte indices", op, c.Offset, format.Size())
	}
	if uint64(c.Offset) > buf.Size {
		return validationf("%s: offset %#x exceeds buffer %d of %#x bytes", op, c.Offset, c.Buffer, buf.Size)
	}
	b.e.state.index = indexBinding{buffer: c.Buffer, format: format, offset: c.Offset}
	return nil
}

func (b *batch) setTexture(c wire.SetTexture) error {
	const op = wire.OpSetTexture
	if c.Slot != 0 {
		return validationf("%s: slot %d, only slot 0 is supported", op, c.Slot)
	}
	if c.Texture == 0 {
		b.e.state.texture = 0
		return nil
	}
	if _, err := b.texture(op, c.Texture); err != nil {
		return err
	}
	b.e.state.texture = c.Texture
	return nil
}

func (b *batch) clear(c wire.Clear) error {
	const op = wire.OpClear
	if c.Flags&wire.ClearColor == 0 {
		return nil
	}
	if b.e.state.renderTarget == 0 {
		return validationf("%s: no render target bound", op)
	}
	rt, err := b.texture(op, b.e.state.renderTarget)
	if err != nil {
		return err
	}
	if err := b.flushTexture(rt); err != nil {
		return err
	}
	color := c.Color
	if rt.Format.IsX8() {
		color[3] = 1
	}
	if err := b.e.dev.Clear(rt.Host, color); err != nil {
		return validationf("%s: backend: %v", op, err)
	}
	return nil
}

// drawState is the bound state a draw reads.
type drawState struct {
	target  *resource.Texture
	vertex  *resource.Buffer
	texture *resource.Texture
	index   *resource.Buffer
}

func (b *batch) bindDraw(op wire.Opcode, indexed bool) (drawState, error) {
	var ds drawState
	st := &b.e.state
	switch {
	case st.renderTarget == 0:
		return ds, validationf("%s: no render target bound", op)
	case st.vertex.buffer == 0:
		return ds, validationf("%s: no vertex buffer bound", op)
	case st.texture == 0:
		return ds, validationf("%s: no texture bound to slot 0", op)
	case indexed && st.index.buffer == 0:
		return ds, validationf("%s: no index buffer bound", op)
	case st.texture == st.renderTarget:
		return ds, validationf("%s: texture %d is both render target and sampled", op, st.texture)
	}
	if st.vertex.stride != backend.VertexStride {
		return ds, validationf("%s: vertex stride %d, the built-in pipeline reads %d", op, st.vertex.stride, backend.VertexStride)
	}

	var err error
	if ds.target, err = b.texture(op, st.renderTarget); err != nil {
		return ds, err
	}
	if ds.vertex, err = b.buffer(op, st.vertex.buffer); err != nil {
		return ds, err
	}
	if ds.texture, err = b.texture(op, st.texture); err != nil {
		return ds, err
	}
	if indexed {
		if ds.index, err = b.buffer(op, st.index.buffer); err != nil {
			return ds, err
		}
	}
	return ds, nil
}

// flush uploads the dirty guest ranges of everything a draw reads. It runs
// only once the draw has passed validation.
func (ds drawState) flush(b *batch) error {
	if err := b.flushTexture(ds.target); err != nil {
		return err
	}
	if err := b.flushBuffer(ds.vertex); err != nil {
		return err
	}
	if err := b.flushTexture(ds.texture); err != nil {
		return err
	}
	if ds.index != nil && ds.index != ds.vertex {
		return b.flushBuffer(ds.index)
	}
	return nil
}

func (b *batch) draw(c wire.Draw) error {
	const op = wire.OpDraw
	ds, err := b.bindDraw(op, false)
	if err != nil {
		return err
	}
	vb := b.e.state.vertex
	end := (uint64(c.FirstVertex) + uint64(c.VertexCount)) * uint64(vb.stride)
	if _, ok := span(uint64(vb.offset), end, ds.vertex.Size); !ok {
		return validationf("%s: vertices %d..%d at offset %#x exceed buffer %d of %#x bytes",
			op, c.FirstVertex, uint64(c.FirstVertex)+uint64(c.VertexCount), vb.offset, vb.buffer, ds.vertex.Size)
	}
	if err := ds.flush(b); err != nil {
		return err
	}
	if c.VertexCount == 0 || c.InstanceCount == 0 {
		return nil
	}
	err = b.e.dev.Draw(backend.DrawCall{
		Target:        ds.target.Host,
		Vertices:      ds.vertex.Host,
		VertexOffset:  uint64(vb.offset),
		Texture:       ds.texture.Host,
		Count:         c.VertexCount,
		InstanceCount: c.InstanceCount,
		First:         c.FirstVertex,
		FirstInstance: c.FirstInstance,
	})
	if err != nil {
		return validationf("%s: backend: %v", op, err)
	}
	return nil
}

func (b *batch) drawIndexed(c wire.DrawIndexed) error {
	const op = wire.OpDrawIndexed
	ds, err := b.bindDraw(op, true)
	if err != nil {
		return err
	}
	ib, vb := b.e.state.index, b.e.state.vertex
	end := (uint64(c.FirstIndex) + uint64(c.IndexCount)) * ib.format.Size()
	if _, ok := span(uint64(ib.offset), end, ds.index.Size); !ok {
		return validationf("%s: indices %d..%d at offset %#x exceed buffer %d of %#x bytes",
			op, c.FirstIndex, uint64(c.FirstIndex)+uint64(c.IndexCount), ib.offset, ib.buffer, ds.index.Size)
	}
	if err := ds.flush(b); err != nil {
		return err
	}
	if c.IndexCount == 0 || c.InstanceCount == 0 {
		return nil
	}
	err = b.e.dev.Draw(backend.DrawCall{
		Target:        ds.target.Host,
		Vertices:      ds.vertex.Host,
		VertexOffset:  uint64(vb.offset),
		Texture:       ds.texture.Host,
		Indexed:       true,
		Indices:       ds.index.Host,
		IndexFormat:   ib.format,
		IndexOffset:   uint64(ib.offset),
		Count:         c.IndexCount,
		InstanceCount: c.InstanceCount,
		First:         c.FirstIndex,
		BaseVertex:    c.BaseVertex,
		FirstInstance: c.FirstInstance,
	})
	if err != nil {
		return validationf("%s: backend: %v", op, err)
	}
	return nil
}
