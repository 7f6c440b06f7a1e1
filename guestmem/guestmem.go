// Package guestmem provides access to guest-physical memory.
//
// The executor treats guest memory as the authoritative store for
// guest-backed resources: it reads dirty ranges from it and writes copy
// results back into it. All accesses are by absolute guest-physical address.
package guestmem

import (
	"errors"
	"fmt"
	"math/bits"
)

// Guest memory errors.
var (
	// ErrOutOfBounds is returned when an access falls outside backed memory.
	ErrOutOfBounds = errors.New("guestmem: address out of bounds")

	// ErrClosed is returned by accesses to a released mapping.
	ErrClosed = errors.New("guestmem: memory closed")

	// ErrReadOnly is returned by writes to a read-only mapping.
	ErrReadOnly = errors.New("guestmem: memory is read-only")
)

// Reader reads guest-physical memory.
type Reader interface {
	// Read fills p with the bytes at [addr, addr+len(p)).
	Read(addr uint64, p []byte) error
}

// Writer writes guest-physical memory.
type Writer interface {
	// Write stores p at [addr, addr+len(p)).
	Write(addr uint64, p []byte) error
}

// Memory is readable and writable guest-physical memory.
type Memory interface {
	Reader
	Writer
}

// checkRange validates [addr, addr+n) against a region of the given size
// and returns the start offset.
func checkRange(addr uint64, n int, size uint64) (int, error) {
	end, carry := bits.Add64(addr, uint64(n), 0)
	if carry != 0 || end > size {
		return 0, fmt.Errorf("%w: [%#x, +%#x) exceeds %#x", ErrOutOfBounds, addr, n, size)
	}
	return int(addr), nil
}

// Flat is guest memory backed by one contiguous host slice starting at
// guest-physical address 0.
type Flat struct {
	data []byte
}

// NewFlat allocates size bytes of zeroed guest memory.
func NewFlat(size int) *Flat {
	return &Flat{data: make([]byte, size)}
}

// FlatFrom wraps an existing slice without copying it.
func FlatFrom(data []byte) *Flat {
	return &Flat{data: data}
}

// Size returns the number of addressable bytes.
func (m *Flat) Size() uint64 { return uint64(len(m.data)) }

// Bytes returns the backing slice.
func (m *Flat) Bytes() []byte { return m.data }

// Read implements Reader.
func (m *Flat) Read(addr uint64, p []byte) error {
	off, err := checkRange(addr, len(p), m.Size())
	if err != nil {
		return err
	}
	copy(p, m.data[off:])
	return nil
}

// Write implements Writer.
func (m *Flat) Write(addr uint64, p []byte) error {
	off, err := checkRange(addr, len(p), m.Size())
	if err != nil {
		return err
	}
	copy(m.data[off:], p)
	return nil
}
