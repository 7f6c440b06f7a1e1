package wire

import (
	"encoding/binary"
	"math"
)

// Builder assembles a command stream. It is used by tests and tooling.
type Builder struct {
	buf   []byte
	count int
}

// NewBuilder returns a builder holding only a stream header.
func NewBuilder() *Builder {
	b := &Builder{buf: make([]byte, HeaderSize, 256)}
	le.PutUint32(b.buf[0:], StreamMagic)
	le.PutUint32(b.buf[4:], ABIVersion(ABIMajor, ABIMinor))
	return b
}

var le = binary.LittleEndian

// Append encodes cmd at the end of the stream.
func (b *Builder) Append(cmd Command) *Builder {
	n := cmd.size()
	start := len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	p := b.buf[start:]
	le.PutUint32(p[0:], uint32(cmd.Opcode()))
	le.PutUint32(p[4:], n)
	cmd.put(p)
	b.count++
	return b
}

// AppendRaw appends a packet with an arbitrary header, for malformed-input tests.
// The body is appended as-is after the 8-byte header.
func (b *Builder) AppendRaw(op Opcode, sizeBytes uint32, body []byte) *Builder {
	var hdr [PacketHeaderSize]byte
	le.PutUint32(hdr[0:], uint32(op))
	le.PutUint32(hdr[4:], sizeBytes)
	b.buf = append(b.buf, hdr[:]...)
	b.buf = append(b.buf, body...)
	b.count++
	return b
}

// Len returns the number of packets appended.
func (b *Builder) Len() int { return b.count }

// Bytes returns the stream with the header's size_bytes filled in.
func (b *Builder) Bytes() []byte {
	le.PutUint32(b.buf[8:], uint32(len(b.buf)))
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

func pad4(n uint32) uint32 { return (n + 3) &^ 3 }

func (Nop) size() uint32 { return sizeNop }
func (Nop) put([]byte)   {}

func (c DebugMarker) size() uint32 { return PacketHeaderSize + pad4(uint32(len(c.Text))) }
func (c DebugMarker) put(b []byte) { copy(b[PacketHeaderSize:], c.Text) }

func (CreateBuffer) size() uint32 { return sizeCreateBuffer }
func (c CreateBuffer) put(b []byte) {
	le.PutUint32(b[8:], c.Handle)
	le.PutUint32(b[12:], c.Usage)
	le.PutUint64(b[16:], c.Size)
	le.PutUint32(b[24:], c.AllocID)
	le.PutUint32(b[28:], c.AllocOffset)
}

func (CreateTexture2D) size() uint32 { return sizeCreateTexture2D }
func (c CreateTexture2D) put(b []byte) {
	for i, v := range []uint32{
		c.Handle, c.Usage, c.Format, c.Width, c.Height,
		c.MipLevels, c.ArrayLayers, c.RowPitch, c.AllocID, c.AllocOffset,
	} {
		le.PutUint32(b[8+4*i:], v)
	}
}

func (DestroyResource) size() uint32   { return sizeDestroyResource }
func (c DestroyResource) put(b []byte) { le.PutUint32(b[8:], c.Handle) }

func (ResourceDirtyRange) size() uint32 { return sizeResourceDirty }
func (c ResourceDirtyRange) put(b []byte) {
	le.PutUint32(b[8:], c.Handle)
	le.PutUint64(b[16:], c.Offset)
	le.PutUint64(b[24:], c.Size)
}

func (c UploadResource) size() uint32 { return sizeUploadHeader + pad4(uint32(len(c.Data))) }
func (c UploadResource) put(b []byte) {
	le.PutUint32(b[8:], c.Handle)
	le.PutUint64(b[16:], c.Offset)
	le.PutUint64(b[24:], uint64(len(c.Data)))
	copy(b[sizeUploadHeader:], c.Data)
}

func (CopyBuffer) size() uint32 { return sizeCopyBuffer }
func (c CopyBuffer) put(b []byte) {
	le.PutUint32(b[8:], c.Dst)
	le.PutUint32(b[12:], c.Src)
	le.PutUint64(b[16:], c.DstOffset)
	le.PutUint64(b[24:], c.SrcOffset)
	le.PutUint64(b[32:], c.Size)
	le.PutUint32(b[40:], c.Flags)
}

func (CopyTexture2D) size() uint32 { return sizeCopyTexture2D }
func (c CopyTexture2D) put(b []byte) {
	for i, v := range []uint32{
		c.Dst, c.Src, c.DstMip, c.DstLayer, c.SrcMip, c.SrcLayer,
		c.DstX, c.DstY, c.SrcX, c.SrcY, c.Width, c.Height, c.Flags,
	} {
		le.PutUint32(b[8+4*i:], v)
	}
}

func (SetRenderTargets) size() uint32 { return sizeSetRenderTargets }
func (c SetRenderTargets) put(b []byte) {
	le.PutUint32(b[8:], c.ColorCount)
	le.PutUint32(b[12:], c.DepthStencil)
	for i, h := range c.Colors {
		le.PutUint32(b[16+4*i:], h)
	}
}

func (c SetVertexBuffers) size() uint32 {
	return sizeSetVertexHeader + uint32(len(c.Bindings))*sizeVertexBinding
}
func (c SetVertexBuffers) put(b []byte) {
	le.PutUint32(b[8:], c.StartSlot)
	le.PutUint32(b[12:], uint32(len(c.Bindings)))
	for i, vb := range c.Bindings {
		off := sizeSetVertexHeader + i*sizeVertexBinding
		le.PutUint32(b[off:], vb.Buffer)
		le.PutUint32(b[off+4:], vb.Stride)
		le.PutUint32(b[off+8:], vb.Offset)
	}
}

func (SetIndexBuffer) size() uint32 { return sizeSetIndexBuffer }
func (c SetIndexBuffer) put(b []byte) {
	le.PutUint32(b[8:], c.Buffer)
	le.PutUint32(b[12:], c.Format)
	le.PutUint32(b[16:], c.Offset)
}

func (SetTexture) size() uint32 { return sizeSetTexture }
func (c SetTexture) put(b []byte) {
	le.PutUint32(b[8:], c.Stage)
	le.PutUint32(b[12:], c.Slot)
	le.PutUint32(b[16:], c.Texture)
}

func (Clear) size() uint32 { return sizeClear }
func (c Clear) put(b []byte) {
	le.PutUint32(b[8:], c.Flags)
	for i, v := range c.Color {
		le.PutUint32(b[12+4*i:], math.Float32bits(v))
	}
	le.PutUint32(b[28:], math.Float32bits(c.Depth))
	le.PutUint32(b[32:], c.Stencil)
}

func (Draw) size() uint32 { return sizeDraw }
func (c Draw) put(b []byte) {
	le.PutUint32(b[8:], c.VertexCount)
	le.PutUint32(b[12:], c.InstanceCount)
	le.PutUint32(b[16:], c.FirstVertex)
	le.PutUint32(b[20:], c.FirstInstance)
}

func (DrawIndexed) size() uint32 { return sizeDrawIndexed }
func (c DrawIndexed) put(b []byte) {
	le.PutUint32(b[8:], c.IndexCount)
	le.PutUint32(b[12:], c.InstanceCount)
	le.PutUint32(b[16:], c.FirstIndex)
	le.PutUint32(b[20:], uint32(c.BaseVertex))
	le.PutUint32(b[24:], c.FirstInstance)
}

func (Flush) size() uint32 { return sizeFlush }
func (Flush) put([]byte)   {}

func (u Unknown) size() uint32 { return PacketHeaderSize + pad4(uint32(len(u.Body))) }
func (u Unknown) put(b []byte) { copy(b[PacketHeaderSize:], u.Body) }
