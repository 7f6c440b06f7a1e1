// Package alloc decodes the guest allocation table and resolves
// (alloc_id, offset, size) triples to guest-physical addresses.
//
// The table lives in guest memory and is decoded once per submission.
// Resolve is the only path by which guest-backed resources reach guest
// memory, so every bounds rule is enforced here.
package alloc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"slices"

	"github.com/gogpu/aerogpu/guestmem"
)

const (
	// Magic is "ALOC" read as a little-endian u32.
	Magic uint32 = 0x434F4C41

	// ABIMajor is the supported major version of the table layout.
	ABIMajor = 1

	// HeaderSize is the size of the table header.
	HeaderSize = 24

	// EntrySize is the size of the known entry prefix. Larger strides are
	// accepted and their trailing bytes ignored.
	EntrySize = 32

	// MaxTableSize caps the declared table size.
	MaxTableSize = 16 << 20
)

// Entry flags.
const (
	// FlagReadOnly marks an allocation the host must never write.
	FlagReadOnly uint32 = 1 << 0
)

// Table errors.
var (
	ErrInvalidTable   = errors.New("alloc: invalid allocation table")
	ErrDuplicateID    = errors.New("alloc: duplicate alloc_id")
	ErrUnknownID      = errors.New("alloc: unknown alloc_id")
	ErrOutOfRange     = errors.New("alloc: range exceeds allocation")
	ErrTableMemory    = errors.New("alloc: cannot read allocation table")
	ErrUnsupportedABI = errors.New("alloc: unsupported ABI major version")
)

// Entry is one allocation.
type Entry struct {
	ID    uint32
	Flags uint32
	Base  uint64
	Size  uint64
}

// ReadOnly reports whether the host must not write the allocation.
func (e Entry) ReadOnly() bool { return e.Flags&FlagReadOnly != 0 }

// End returns the first guest address past the allocation.
func (e Entry) End() uint64 { return e.Base + e.Size }

// Table is an immutable snapshot of the allocation table of one submission.
type Table struct {
	entries map[uint32]Entry
}

// New builds a table from entries, validating them the same way Decode does.
func New(entries ...Entry) (*Table, error) {
	t := &Table{entries: make(map[uint32]Entry, len(entries))}
	for i, e := range entries {
		if err := t.add(i, e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) add(i int, e Entry) error {
	if e.ID == 0 {
		return fmt.Errorf("%w: entry %d has alloc_id 0", ErrInvalidTable, i)
	}
	if e.Size == 0 {
		return fmt.Errorf("%w: alloc_id %d has size 0", ErrInvalidTable, e.ID)
	}
	if _, carry := bits.Add64(e.Base, e.Size, 0); carry != 0 {
		return fmt.Errorf("%w: alloc_id %d range %#x+%#x overflows", ErrInvalidTable, e.ID, e.Base, e.Size)
	}
	if _, dup := t.entries[e.ID]; dup {
		return fmt.Errorf("%w: %d", ErrDuplicateID, e.ID)
	}
	t.entries[e.ID] = e
	return nil
}

// Decode reads and validates the table at guest address addr. size is the
// size of the guest buffer holding it; the header's own size_bytes must fit
// inside it.
func Decode(mem guestmem.Reader, addr uint64, size uint32) (*Table, error) {
	if addr == 0 || size == 0 {
		return nil, fmt.Errorf("%w: empty descriptor (addr %#x, size %d)", ErrInvalidTable, addr, size)
	}
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: buffer of %d bytes is smaller than the header", ErrInvalidTable, size)
	}

	var hdr [HeaderSize]byte
	if err := mem.Read(addr, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header at %#x: %w", ErrTableMemory, addr, err)
	}
	le := binary.LittleEndian
	magic := le.Uint32(hdr[0:])
	abi := le.Uint32(hdr[4:])
	sizeBytes := le.Uint32(hdr[8:])
	count := le.Uint32(hdr[12:])
	stride := le.Uint32(hdr[16:])

	switch {
	case magic != Magic:
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrInvalidTable, magic)
	case abi>>16 != ABIMajor:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedABI, abi>>16)
	case sizeBytes < HeaderSize || sizeBytes > size:
		return nil, fmt.Errorf("%w: size_bytes %d outside [%d, %d]", ErrInvalidTable, sizeBytes, HeaderSize, size)
	case sizeBytes > MaxTableSize:
		return nil, fmt.Errorf("%w: size_bytes %d exceeds %d", ErrInvalidTable, sizeBytes, MaxTableSize)
	case stride < EntrySize:
		return nil, fmt.Errorf("%w: entry stride %d smaller than %d", ErrInvalidTable, stride, EntrySize)
	}
	if need := HeaderSize + uint64(count)*uint64(stride); need > uint64(sizeBytes) {
		return nil, fmt.Errorf("%w: %d entries of stride %d need %d bytes, size_bytes is %d",
			ErrInvalidTable, count, stride, need, sizeBytes)
	}

	// sizeBytes is capped, so the whole table fits in one read.
	raw := make([]byte, sizeBytes)
	if err := mem.Read(addr, raw); err != nil {
		return nil, fmt.Errorf("%w: %d bytes at %#x: %w", ErrTableMemory, sizeBytes, addr, err)
	}

	t := &Table{entries: make(map[uint32]Entry, count)}
	for i := uint32(0); i < count; i++ {
		e := raw[HeaderSize+i*stride:]
		entry := Entry{
			ID:    le.Uint32(e[0:]),
			Flags: le.Uint32(e[4:]),
			Base:  le.Uint64(e[8:]),
			Size:  le.Uint64(e[16:]),
		}
		if err := t.add(int(i), entry); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Get returns the entry for id.
func (t *Table) Get(id uint32) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[id]
	return e, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// IDs returns the alloc IDs in ascending order.
func (t *Table) IDs() []uint32 {
	if t == nil {
		return nil
	}
	ids := make([]uint32, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Resolve returns the guest address of [offset, offset+size) inside
// allocation id. The range must lie within the allocation.
func (t *Table) Resolve(id uint32, offset, size uint64) (uint64, error) {
	e, ok := t.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	end, carry := bits.Add64(offset, size, 0)
	if carry != 0 || end > e.Size {
		return 0, fmt.Errorf("%w: alloc_id %d offset %#x size %#x (allocation size %#x)",
			ErrOutOfRange, id, offset, size, e.Size)
	}
	// Base+Size does not overflow and end <= Size, so Base+end cannot either.
	return e.Base + offset, nil
}
