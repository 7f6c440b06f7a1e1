//go:build unix

package guestmem

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Mapped is guest memory backed by a memory-mapped file, typically a raw
// guest RAM image. Guest-physical address 0 maps to file offset 0.
type Mapped struct {
	mu       sync.RWMutex
	data     []byte
	readOnly bool
}

// MapFile maps the file at path. A read-only mapping rejects writes with
// ErrReadOnly; a writable mapping is shared, so writebacks reach the file.
func MapFile(path string, readOnly bool) (*Mapped, error) {
	flag := os.O_RDWR
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		flag = os.O_RDONLY
		prot = unix.PROT_READ
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("guestmem: open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("guestmem: stat %s: %w", path, err)
	}
	if st.Size() == 0 {
		return nil, fmt.Errorf("guestmem: %s is empty", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("guestmem: mmap %s: %w", path, err)
	}
	return &Mapped{data: data, readOnly: readOnly}, nil
}

// Size returns the number of addressable bytes.
func (m *Mapped) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.data))
}

// Read implements Reader.
func (m *Mapped) Read(addr uint64, p []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return ErrClosed
	}
	off, err := checkRange(addr, len(p), uint64(len(m.data)))
	if err != nil {
		return err
	}
	copy(p, m.data[off:])
	return nil
}

// Write implements Writer.
func (m *Mapped) Write(addr uint64, p []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return ErrClosed
	}
	if m.readOnly {
		return ErrReadOnly
	}
	off, err := checkRange(addr, len(p), uint64(len(m.data)))
	if err != nil {
		return err
	}
	copy(m.data[off:], p)
	return nil
}

// Sync flushes written pages to the backing file.
func (m *Mapped) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil || m.readOnly {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Close unmaps the file. Further accesses return ErrClosed.
func (m *Mapped) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
