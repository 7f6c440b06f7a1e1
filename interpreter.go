package aerogpu

import (
	"context"
	"log/slog"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/gogpu/aerogpu/alloc"
	"github.com/gogpu/aerogpu/internal/resource"
	"github.com/gogpu/aerogpu/internal/wire"
)

// batch is the state of one command stream: the allocation table decoded
// for it and the writebacks its copies queued.
type batch struct {
	e          *Executor
	ctx        context.Context
	table      *alloc.Table
	log        *slog.Logger
	writebacks []*writeback
}

func (b *batch) dispatch(cmd wire.Command) error {
	switch c := cmd.(type) {
	case wire.Nop, wire.Flush:
		return nil
	case wire.DebugMarker:
		b.debugMarker(c)
		return nil
	case wire.CreateBuffer:
		return b.createBuffer(c)
	case wire.CreateTexture2D:
		return b.createTexture(c)
	case wire.DestroyResource:
		b.destroy(c)
		return nil
	case wire.ResourceDirtyRange:
		return b.dirtyRange(c)
	case wire.UploadResource:
		return b.upload(c)
	case wire.CopyBuffer:
		return b.copyBuffer(c)
	case wire.CopyTexture2D:
		return b.copyTexture(c)
	case wire.SetRenderTargets:
		return b.setRenderTargets(c)
	case wire.SetVertexBuffers:
		return b.setVertexBuffers(c)
	case wire.SetIndexBuffer:
		return b.setIndexBuffer(c)
	case wire.SetTexture:
		return b.setTexture(c)
	case wire.Clear:
		return b.clear(c)
	case wire.Draw:
		return b.draw(c)
	case wire.DrawIndexed:
		return b.drawIndexed(c)
	case wire.Unknown:
		b.log.Debug("aerogpu: skipping unknown packet", "op", c.Op, "bytes", len(c.Body))
		return nil
	default:
		return validationf("%s: no handler", cmd.Opcode())
	}
}

// maxMarkerLen caps the logged length of a debug marker.
const maxMarkerLen = 256

var markerSanitizer = transform.Chain(runes.ReplaceIllFormed(), runes.Remove(runes.In(unicode.Cc)))

func (b *batch) debugMarker(c wire.DebugMarker) {
	if !b.log.Enabled(b.ctx, slog.LevelDebug) {
		return
	}
	text := c.Text
	if len(text) > maxMarkerLen {
		text = text[:maxMarkerLen]
	}
	s, _, err := transform.String(markerSanitizer, string(text))
	if err != nil {
		s = "<unreadable>"
	}
	b.log.Debug("aerogpu: debug marker", "text", s)
}

func (b *batch) buffer(op wire.Opcode, h uint32) (*resource.Buffer, error) {
	if buf, ok := b.e.store.Buffer(h); ok {
		return buf, nil
	}
	if b.e.store.Kind(h) == resource.KindTexture {
		return nil, validationf("%s: handle %d is a texture, not a buffer", op, h)
	}
	return nil, validationf("%s: buffer %d does not exist", op, h)
}

func (b *batch) texture(op wire.Opcode, h uint32) (*resource.Texture, error) {
	if t, ok := b.e.store.Texture(h); ok {
		return t, nil
	}
	if b.e.store.Kind(h) == resource.KindBuffer {
		return nil, validationf("%s: handle %d is a buffer, not a texture", op, h)
	}
	return nil, validationf("%s: texture %d does not exist", op, h)
}

// requireTable returns the submission's table or fails for op.
func (b *batch) requireTable(op wire.Opcode, allocID uint32) (*alloc.Table, error) {
	if b.table == nil {
		return nil, validationf("%s: backing alloc_id %d requires alloc_table", op, allocID)
	}
	return b.table, nil
}

// finish submits recorded work and drains queued writebacks in order.
func (b *batch) finish() error {
	if err := b.e.dev.Submit(); err != nil {
		b.release()
		return err
	}
	return b.drain()
}
