package guestmem

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestFlatReadWrite(t *testing.T) {
	m := NewFlat(64)
	if err := m.Write(8, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got := make([]byte, 6)
	if err := m.Read(7, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if want := []byte{0, 1, 2, 3, 4, 0}; !bytes.Equal(got, want) {
		t.Errorf("Read() = %v, want %v", got, want)
	}
}

func TestFlatBounds(t *testing.T) {
	m := NewFlat(16)
	tests := []struct {
		name string
		addr uint64
		n    int
	}{
		{"past end", 12, 8},
		{"start past end", 17, 1},
		{"address overflow", math.MaxUint64 - 1, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Read(tt.addr, make([]byte, tt.n)); !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("Read() error = %v, want ErrOutOfBounds", err)
			}
			if err := m.Write(tt.addr, make([]byte, tt.n)); !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("Write() error = %v, want ErrOutOfBounds", err)
			}
		})
	}
	if err := m.Read(16, nil); err != nil {
		t.Errorf("zero-length read at end: %v", err)
	}
}

func TestMappedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ram.img")
	if err := os.WriteFile(path, make([]byte, 4096), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := MapFile(path, false)
	if err != nil {
		t.Fatalf("MapFile() error = %v", err)
	}
	if m.Size() != 4096 {
		t.Errorf("Size() = %d, want 4096", m.Size())
	}
	if err := m.Write(0x100, []byte("guest")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := m.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Read(0, make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close error = %v, want ErrClosed", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw[0x100:0x105], []byte("guest")) {
		t.Errorf("file content = %q, want %q", raw[0x100:0x105], "guest")
	}

	ro, err := MapFile(path, true)
	if err != nil {
		t.Fatalf("MapFile(readOnly) error = %v", err)
	}
	defer ro.Close()
	if err := ro.Write(0, []byte{1}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write on read-only mapping error = %v, want ErrReadOnly", err)
	}
}
