// Package wire decodes and encodes the guest command stream.
//
// A stream is a 24-byte header followed by packets. Every packet starts with
// an 8-byte header {opcode, size_bytes}; size_bytes covers the packet header
// and must be at least 8, a multiple of 4 and fit in the remaining stream.
// All integers are little-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// StreamMagic is "ACMD" read as a little-endian u32.
	StreamMagic uint32 = 0x444D4341

	// ABIMajor is the supported major ABI version.
	ABIMajor = 1
	// ABIMinor is the minor ABI version written by Builder.
	ABIMinor = 1

	// HeaderSize is the size of the stream header.
	HeaderSize = 24
	// PacketHeaderSize is the size of a packet header.
	PacketHeaderSize = 8
	// PacketAlignment is the required alignment of packet sizes.
	PacketAlignment = 4
)

// Decode errors. Each failure mode has its own sentinel so callers can
// report it as a distinct kind.
var (
	ErrStreamTooSmall       = errors.New("wire: stream smaller than header")
	ErrBadMagic             = errors.New("wire: bad stream magic")
	ErrUnsupportedABI       = errors.New("wire: unsupported ABI major version")
	ErrBadStreamSize        = errors.New("wire: bad stream size")
	ErrTruncatedPacket      = errors.New("wire: truncated packet")
	ErrInvalidPacketSize    = errors.New("wire: invalid packet size")
	ErrMisalignedPacketSize = errors.New("wire: misaligned packet size")
)

// ABIVersion packs a major and minor version as the header stores them.
func ABIVersion(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}

// Header is the stream header.
type Header struct {
	Magic      uint32
	ABIVersion uint32
	SizeBytes  uint32
	Flags      uint32
}

// Major returns the major ABI version.
func (h Header) Major() uint16 { return uint16(h.ABIVersion >> 16) }

// Minor returns the minor ABI version.
func (h Header) Minor() uint16 { return uint16(h.ABIVersion) }

// DecodeHeader decodes and validates the stream header at the start of b.
// SizeBytes is checked against len(b): it must cover at least the header
// and must not exceed the bytes available.
func DecodeHeader(b []byte) (Header, error) {
	h, err := ReadHeader(b)
	if err != nil {
		return h, err
	}
	if uint64(h.SizeBytes) > uint64(len(b)) {
		return h, fmt.Errorf("%w: size_bytes %d, buffer %d", ErrBadStreamSize, h.SizeBytes, len(b))
	}
	return h, nil
}

// ReadHeader decodes the header from the first HeaderSize bytes of b
// without requiring the rest of the stream. It lets a caller check
// SizeBytes before copying the stream.
func ReadHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrStreamTooSmall, len(b))
	}
	h := Header{
		Magic:      binary.LittleEndian.Uint32(b[0:]),
		ABIVersion: binary.LittleEndian.Uint32(b[4:]),
		SizeBytes:  binary.LittleEndian.Uint32(b[8:]),
		Flags:      binary.LittleEndian.Uint32(b[12:]),
	}
	if h.Magic != StreamMagic {
		return h, fmt.Errorf("%w: %#08x", ErrBadMagic, h.Magic)
	}
	if h.Major() != ABIMajor {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedABI, h.Major())
	}
	if h.SizeBytes < HeaderSize {
		return h, fmt.Errorf("%w: size_bytes %d below header size", ErrBadStreamSize, h.SizeBytes)
	}
	return h, nil
}

// Opcode identifies a packet type.
type Opcode uint32

// Opcodes.
const (
	OpNop              Opcode = 0
	OpDebugMarker      Opcode = 1
	OpCreateBuffer     Opcode = 0x100
	OpCreateTexture2D  Opcode = 0x101
	OpDestroyResource  Opcode = 0x102
	OpResourceDirty    Opcode = 0x103
	OpUploadResource   Opcode = 0x104
	OpCopyBuffer       Opcode = 0x105
	OpCopyTexture2D    Opcode = 0x106
	OpSetRenderTargets Opcode = 0x400
	OpSetVertexBuffers Opcode = 0x500
	OpSetIndexBuffer   Opcode = 0x501
	OpSetTexture       Opcode = 0x510
	OpClear            Opcode = 0x600
	OpDraw             Opcode = 0x601
	OpDrawIndexed      Opcode = 0x602
	OpFlush            Opcode = 0x720
)

var opcodeNames = map[Opcode]string{
	OpNop:              "NOP",
	OpDebugMarker:      "DEBUG_MARKER",
	OpCreateBuffer:     "CREATE_BUFFER",
	OpCreateTexture2D:  "CREATE_TEXTURE2D",
	OpDestroyResource:  "DESTROY_RESOURCE",
	OpResourceDirty:    "RESOURCE_DIRTY_RANGE",
	OpUploadResource:   "UPLOAD_RESOURCE",
	OpCopyBuffer:       "COPY_BUFFER",
	OpCopyTexture2D:    "COPY_TEXTURE2D",
	OpSetRenderTargets: "SET_RENDER_TARGETS",
	OpSetVertexBuffers: "SET_VERTEX_BUFFERS",
	OpSetIndexBuffer:   "SET_INDEX_BUFFER",
	OpSetTexture:       "SET_TEXTURE",
	OpClear:            "CLEAR",
	OpDraw:             "DRAW",
	OpDrawIndexed:      "DRAW_INDEXED",
	OpFlush:            "FLUSH",
}

// String returns the opcode mnemonic.
func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("OPCODE_%#x", uint32(o))
}

// Known reports whether o is an opcode this package can decode.
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}
