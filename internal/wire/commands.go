package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Resource usage flags of CreateBuffer and CreateTexture2D.
const (
	UsageVertexBuffer   uint32 = 1 << 0
	UsageIndexBuffer    uint32 = 1 << 1
	UsageConstantBuffer uint32 = 1 << 2
	UsageTexture        uint32 = 1 << 3
	UsageRenderTarget   uint32 = 1 << 4
	UsageDepthStencil   uint32 = 1 << 5
)

// CopyFlagWriteback asks for the copy destination to be written back to guest memory.
const CopyFlagWriteback uint32 = 1 << 0

// Clear flags.
const (
	ClearColor   uint32 = 1 << 0
	ClearDepth   uint32 = 1 << 1
	ClearStencil uint32 = 1 << 2
)

// Index formats of SetIndexBuffer.
const (
	IndexFormatUint16 uint32 = 0
	IndexFormatUint32 uint32 = 1
)

// MaxRenderTargets is the number of color slots in SetRenderTargets.
const MaxRenderTargets = 8

// Command is a decoded packet.
type Command interface {
	Opcode() Opcode
	// size is the encoded packet size, header included.
	size() uint32
	// put encodes the packet body into b, which has size() bytes; the
	// header is already written.
	put(b []byte)
}

// Nop does nothing.
type Nop struct{}

// DebugMarker carries a free-form label for tooling.
type DebugMarker struct {
	Text []byte
}

// CreateBuffer creates a buffer, optionally backed by guest memory.
type CreateBuffer struct {
	Handle      uint32
	Usage       uint32
	Size        uint64
	AllocID     uint32
	AllocOffset uint32
}

// CreateTexture2D creates a 2D texture, optionally backed by guest memory.
type CreateTexture2D struct {
	Handle      uint32
	Usage       uint32
	Format      uint32
	Width       uint32
	Height      uint32
	MipLevels   uint32
	ArrayLayers uint32
	// RowPitch is the guest row pitch of mip 0; zero selects the tight pitch.
	RowPitch    uint32
	AllocID     uint32
	AllocOffset uint32
}

// DestroyResource releases a buffer or texture.
type DestroyResource struct {
	Handle uint32
}

// ResourceDirtyRange marks bytes of a guest-backed resource as modified.
type ResourceDirtyRange struct {
	Handle uint32
	Offset uint64
	Size   uint64
}

// UploadResource writes inline bytes into a host-owned resource.
type UploadResource struct {
	Handle uint32
	Offset uint64
	Data   []byte
}

// CopyBuffer copies between two buffers.
type CopyBuffer struct {
	Dst       uint32
	Src       uint32
	DstOffset uint64
	SrcOffset uint64
	Size      uint64
	Flags     uint32
}

// CopyTexture2D copies a region between two textures.
type CopyTexture2D struct {
	Dst      uint32
	Src      uint32
	DstMip   uint32
	DstLayer uint32
	SrcMip   uint32
	SrcLayer uint32
	DstX     uint32
	DstY     uint32
	SrcX     uint32
	SrcY     uint32
	Width    uint32
	Height   uint32
	Flags    uint32
}

// SetRenderTargets binds color and depth targets.
type SetRenderTargets struct {
	ColorCount   uint32
	DepthStencil uint32
	Colors       [MaxRenderTargets]uint32
}

// VertexBufferBinding is one entry of SetVertexBuffers.
type VertexBufferBinding struct {
	Buffer uint32
	Stride uint32
	Offset uint32
}

// SetVertexBuffers binds vertex buffers starting at StartSlot.
type SetVertexBuffers struct {
	StartSlot uint32
	Bindings  []VertexBufferBinding
}

// SetIndexBuffer binds the index buffer.
type SetIndexBuffer struct {
	Buffer uint32
	Format uint32
	Offset uint32
}

// SetTexture binds a texture to a shader stage slot.
type SetTexture struct {
	Stage   uint32
	Slot    uint32
	Texture uint32
}

// Clear clears the bound targets.
type Clear struct {
	Flags   uint32
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// Draw issues a non-indexed draw.
type Draw struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

// DrawIndexed issues an indexed draw.
type DrawIndexed struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

// Flush marks a submission boundary.
type Flush struct{}

// Unknown is a packet with an opcode this package does not know.
type Unknown struct {
	Op   Opcode
	Body []byte
}

// Fixed packet sizes, header included.
const (
	sizeNop              = 8
	sizeCreateBuffer     = 40
	sizeCreateTexture2D  = 56
	sizeDestroyResource  = 16
	sizeResourceDirty    = 32
	sizeUploadHeader     = 32
	sizeCopyBuffer       = 48
	sizeCopyTexture2D    = 64
	sizeSetRenderTargets = 48
	sizeSetVertexHeader  = 16
	sizeVertexBinding    = 16
	sizeSetIndexBuffer   = 24
	sizeSetTexture       = 24
	sizeClear            = 36
	sizeDraw             = 24
	sizeDrawIndexed      = 28
	sizeFlush            = 16
)

func (Nop) Opcode() Opcode                { return OpNop }
func (DebugMarker) Opcode() Opcode        { return OpDebugMarker }
func (CreateBuffer) Opcode() Opcode       { return OpCreateBuffer }
func (CreateTexture2D) Opcode() Opcode    { return OpCreateTexture2D }
func (DestroyResource) Opcode() Opcode    { return OpDestroyResource }
func (ResourceDirtyRange) Opcode() Opcode { return OpResourceDirty }
func (UploadResource) Opcode() Opcode     { return OpUploadResource }
func (CopyBuffer) Opcode() Opcode         { return OpCopyBuffer }
func (CopyTexture2D) Opcode() Opcode      { return OpCopyTexture2D }
func (SetRenderTargets) Opcode() Opcode   { return OpSetRenderTargets }
func (SetVertexBuffers) Opcode() Opcode   { return OpSetVertexBuffers }
func (SetIndexBuffer) Opcode() Opcode     { return OpSetIndexBuffer }
func (SetTexture) Opcode() Opcode         { return OpSetTexture }
func (Clear) Opcode() Opcode              { return OpClear }
func (Draw) Opcode() Opcode               { return OpDraw }
func (DrawIndexed) Opcode() Opcode        { return OpDrawIndexed }
func (Flush) Opcode() Opcode              { return OpFlush }
func (u Unknown) Opcode() Opcode          { return u.Op }

// Writeback reports whether the copy asks for a guest writeback.
func (c CopyBuffer) Writeback() bool { return c.Flags&CopyFlagWriteback != 0 }

// Writeback reports whether the copy asks for a guest writeback.
func (c CopyTexture2D) Writeback() bool { return c.Flags&CopyFlagWriteback != 0 }

// Decode decodes a packet into its typed command. Packets shorter than
// their command layout fail with ErrTruncatedPacket. Unknown opcodes
// decode to Unknown.
func Decode(p Packet) (Command, error) {
	b := p.Bytes
	need := func(n uint64) error {
		if uint64(len(b)) < n {
			return fmt.Errorf("%w: %s needs %d bytes, packet has %d", ErrTruncatedPacket, p.Opcode, n, len(b))
		}
		return nil
	}
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
	u64 := func(off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }

	switch p.Opcode {
	case OpNop:
		return Nop{}, nil

	case OpDebugMarker:
		return DebugMarker{Text: bytes.TrimRight(b[PacketHeaderSize:], "\x00")}, nil

	case OpCreateBuffer:
		if err := need(sizeCreateBuffer); err != nil {
			return nil, err
		}
		return CreateBuffer{
			Handle:      u32(8),
			Usage:       u32(12),
			Size:        u64(16),
			AllocID:     u32(24),
			AllocOffset: u32(28),
		}, nil

	case OpCreateTexture2D:
		if err := need(sizeCreateTexture2D); err != nil {
			return nil, err
		}
		return CreateTexture2D{
			Handle:      u32(8),
			Usage:       u32(12),
			Format:      u32(16),
			Width:       u32(20),
			Height:      u32(24),
			MipLevels:   u32(28),
			ArrayLayers: u32(32),
			RowPitch:    u32(36),
			AllocID:     u32(40),
			AllocOffset: u32(44),
		}, nil

	case OpDestroyResource:
		if err := need(sizeDestroyResource); err != nil {
			return nil, err
		}
		return DestroyResource{Handle: u32(8)}, nil

	case OpResourceDirty:
		if err := need(sizeResourceDirty); err != nil {
			return nil, err
		}
		return ResourceDirtyRange{Handle: u32(8), Offset: u64(16), Size: u64(24)}, nil

	case OpUploadResource:
		if err := need(sizeUploadHeader); err != nil {
			return nil, err
		}
		size := u64(24)
		if size > math.MaxUint32 {
			return nil, fmt.Errorf("%w: UPLOAD_RESOURCE payload of %d bytes", ErrTruncatedPacket, size)
		}
		if err := need(sizeUploadHeader + size); err != nil {
			return nil, err
		}
		return UploadResource{
			Handle: u32(8),
			Offset: u64(16),
			Data:   b[sizeUploadHeader : sizeUploadHeader+size],
		}, nil

	case OpCopyBuffer:
		if err := need(sizeCopyBuffer); err != nil {
			return nil, err
		}
		return CopyBuffer{
			Dst:       u32(8),
			Src:       u32(12),
			DstOffset: u64(16),
			SrcOffset: u64(24),
			Size:      u64(32),
			Flags:     u32(40),
		}, nil

	case OpCopyTexture2D:
		if err := need(sizeCopyTexture2D); err != nil {
			return nil, err
		}
		return CopyTexture2D{
			Dst:      u32(8),
			Src:      u32(12),
			DstMip:   u32(16),
			DstLayer: u32(20),
			SrcMip:   u32(24),
			SrcLayer: u32(28),
			DstX:     u32(32),
			DstY:     u32(36),
			SrcX:     u32(40),
			SrcY:     u32(44),
			Width:    u32(48),
			Height:   u32(52),
			Flags:    u32(56),
		}, nil

	case OpSetRenderTargets:
		if err := need(sizeSetRenderTargets); err != nil {
			return nil, err
		}
		c := SetRenderTargets{ColorCount: u32(8), DepthStencil: u32(12)}
		for i := range c.Colors {
			c.Colors[i] = u32(16 + 4*i)
		}
		return c, nil

	case OpSetVertexBuffers:
		if err := need(sizeSetVertexHeader); err != nil {
			return nil, err
		}
		count := u32(12)
		if err := need(sizeSetVertexHeader + uint64(count)*sizeVertexBinding); err != nil {
			return nil, err
		}
		c := SetVertexBuffers{StartSlot: u32(8), Bindings: make([]VertexBufferBinding, count)}
		for i := range c.Bindings {
			off := sizeSetVertexHeader + i*sizeVertexBinding
			c.Bindings[i] = VertexBufferBinding{Buffer: u32(off), Stride: u32(off + 4), Offset: u32(off + 8)}
		}
		return c, nil

	case OpSetIndexBuffer:
		if err := need(sizeSetIndexBuffer); err != nil {
			return nil, err
		}
		return SetIndexBuffer{Buffer: u32(8), Format: u32(12), Offset: u32(16)}, nil

	case OpSetTexture:
		if err := need(sizeSetTexture); err != nil {
			return nil, err
		}
		return SetTexture{Stage: u32(8), Slot: u32(12), Texture: u32(16)}, nil

	case OpClear:
		if err := need(sizeClear); err != nil {
			return nil, err
		}
		return Clear{
			Flags: u32(8),
			Color: [4]float32{
				math.Float32frombits(u32(12)),
				math.Float32frombits(u32(16)),
				math.Float32frombits(u32(20)),
				math.Float32frombits(u32(24)),
			},
			Depth:   math.Float32frombits(u32(28)),
			Stencil: u32(32),
		}, nil

	case OpDraw:
		if err := need(sizeDraw); err != nil {
			return nil, err
		}
		return Draw{VertexCount: u32(8), InstanceCount: u32(12), FirstVertex: u32(16), FirstInstance: u32(20)}, nil

	case OpDrawIndexed:
		if err := need(sizeDrawIndexed); err != nil {
			return nil, err
		}
		return DrawIndexed{
			IndexCount:    u32(8),
			InstanceCount: u32(12),
			FirstIndex:    u32(16),
			BaseVertex:    int32(u32(20)),
			FirstInstance: u32(24),
		}, nil

	case OpFlush:
		return Flush{}, nil

	default:
		return Unknown{Op: p.Opcode, Body: b[PacketHeaderSize:]}, nil
	}
}
