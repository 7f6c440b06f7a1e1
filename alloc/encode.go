package alloc

import "encoding/binary"

// Encode serializes entries in the guest table layout. A stride of 0 selects
// EntrySize. Tests and tooling use it to stage tables in guest memory.
// A stride below EntrySize truncates each entry to its first stride bytes,
// which yields a table Decode rejects.
func Encode(stride uint32, entries ...Entry) []byte {
	if stride == 0 {
		stride = EntrySize
	}
	size := HeaderSize + len(entries)*int(stride)
	b := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint32(b[0:], Magic)
	le.PutUint32(b[4:], ABIMajor<<16)
	le.PutUint32(b[8:], uint32(size))
	le.PutUint32(b[12:], uint32(len(entries)))
	le.PutUint32(b[16:], stride)
	var full [EntrySize]byte
	for i, e := range entries {
		le.PutUint32(full[0:], e.ID)
		le.PutUint32(full[4:], e.Flags)
		le.PutUint64(full[8:], e.Base)
		le.PutUint64(full[16:], e.Size)
		off := HeaderSize + i*int(stride)
		copy(b[off:off+int(stride)], full[:])
	}
	return b
}
