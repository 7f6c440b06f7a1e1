package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Packet is one raw packet of a stream.
type Packet struct {
	Opcode Opcode
	// Offset is the byte offset of the packet within the stream.
	Offset uint32
	// Bytes holds the whole packet, header included.
	Bytes []byte
}

// Size returns the packet's size_bytes.
func (p Packet) Size() uint32 { return uint32(len(p.Bytes)) }

// Reader iterates the packets of a validated stream.
type Reader struct {
	header Header
	stream []byte
	off    uint32
}

// NewReader validates the stream header and returns a reader over the
// packets it declares. Bytes past the header's size_bytes are ignored.
func NewReader(b []byte) (*Reader, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	return &Reader{header: h, stream: b[:h.SizeBytes], off: HeaderSize}, nil
}

// Header returns the stream header.
func (r *Reader) Header() Header { return r.header }

// Offset returns the stream offset of the next packet.
func (r *Reader) Offset() uint32 { return r.off }

// Next returns the next packet, or io.EOF after the last one.
// A malformed packet header ends iteration with an error; Next keeps
// returning that error.
func (r *Reader) Next() (Packet, error) {
	remaining := uint32(len(r.stream)) - r.off
	if remaining == 0 {
		return Packet{}, io.EOF
	}
	if remaining < PacketHeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes left at offset %d", ErrTruncatedPacket, remaining, r.off)
	}
	opcode := Opcode(binary.LittleEndian.Uint32(r.stream[r.off:]))
	size := binary.LittleEndian.Uint32(r.stream[r.off+4:])
	switch {
	case size < PacketHeaderSize:
		return Packet{}, fmt.Errorf("%w: %d at offset %d", ErrInvalidPacketSize, size, r.off)
	case size%PacketAlignment != 0:
		return Packet{}, fmt.Errorf("%w: %d at offset %d", ErrMisalignedPacketSize, size, r.off)
	case size > remaining:
		return Packet{}, fmt.Errorf("%w: %s of %d bytes overruns stream (%d left) at offset %d",
			ErrTruncatedPacket, opcode, size, remaining, r.off)
	}
	p := Packet{Opcode: opcode, Offset: r.off, Bytes: r.stream[r.off : r.off+size]}
	r.off += size
	return p, nil
}
