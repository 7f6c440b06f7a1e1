// Package resource holds the executor's buffers and textures.
//
// Buffers and textures share one handle namespace. The store keeps them in
// two maps and checks the other map whenever a handle is inserted, so a
// handle is never a buffer and a texture at the same time.
package resource

import (
	"errors"
	"fmt"

	"github.com/dolthub/swiss"

	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/internal/convert"
	"github.com/gogpu/aerogpu/internal/layout"
	"github.com/gogpu/aerogpu/internal/ranges"
)

// Store errors.
var (
	ErrZeroHandle  = errors.New("resource: handle 0 is reserved")
	ErrHandleInUse = errors.New("resource: handle already used by another resource kind")
)

// Kind tells which map a handle lives in.
type Kind uint8

// Resource kinds.
const (
	KindNone Kind = iota
	KindBuffer
	KindTexture
)

func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindTexture:
		return "texture"
	default:
		return "none"
	}
}

// Backing places a resource inside a guest allocation.
type Backing struct {
	AllocID uint32
	Offset  uint64
	Size    uint64
}

// Buffer is a buffer resource.
type Buffer struct {
	Handle  uint32
	Size    uint64
	Usage   uint32
	Backing *Backing
	Dirty   *ranges.Set
	Host    backend.Buffer
}

// GuestBacked reports whether guest memory owns the buffer contents.
func (b *Buffer) GuestBacked() bool { return b.Backing != nil }

// TextureDesc holds the immutable properties of a texture.
type TextureDesc struct {
	Usage       uint32
	Format      layout.Format
	Width       uint32
	Height      uint32
	MipLevels   uint32
	ArrayLayers uint32
	// RowPitch is the guest pitch of mip 0 after defaulting.
	RowPitch uint32
}

// Texture is a 2D texture resource.
type Texture struct {
	Handle uint32
	TextureDesc
	Transform    convert.Transform
	Subresources []layout.Subresource
	Backing      *Backing
	Dirty        *ranges.Set
	Host         backend.Texture
}

// GuestBacked reports whether guest memory owns the texture contents.
func (t *Texture) GuestBacked() bool { return t.Backing != nil }

// Size returns the packed guest size of all subresources.
func (t *Texture) Size() uint64 { return layout.TotalSize(t.Subresources) }

// Subresource returns the layout of (mip, layer).
func (t *Texture) Subresource(mip, layer uint32) (layout.Subresource, bool) {
	if mip >= t.MipLevels || layer >= t.ArrayLayers {
		return layout.Subresource{}, false
	}
	return t.Subresources[layer*t.MipLevels+mip], true
}

const initialCapacity = 64

// Store maps handles to resources.
type Store struct {
	buffers  *swiss.Map[uint32, *Buffer]
	textures *swiss.Map[uint32, *Texture]
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		buffers:  swiss.NewMap[uint32, *Buffer](initialCapacity),
		textures: swiss.NewMap[uint32, *Texture](initialCapacity),
	}
}

// Kind returns the kind of resource registered under h.
func (s *Store) Kind(h uint32) Kind {
	switch {
	case s.buffers.Has(h):
		return KindBuffer
	case s.textures.Has(h):
		return KindTexture
	default:
		return KindNone
	}
}

// Buffer looks up a buffer.
func (s *Store) Buffer(h uint32) (*Buffer, bool) { return s.buffers.Get(h) }

// Texture looks up a texture.
func (s *Store) Texture(h uint32) (*Texture, bool) { return s.textures.Get(h) }

// PutBuffer registers b under b.Handle, replacing any buffer already there.
func (s *Store) PutBuffer(b *Buffer) error {
	if b.Handle == 0 {
		return ErrZeroHandle
	}
	if s.textures.Has(b.Handle) {
		return fmt.Errorf("%w: %d is a texture", ErrHandleInUse, b.Handle)
	}
	if b.Dirty == nil {
		b.Dirty = ranges.NewSet()
	}
	s.buffers.Put(b.Handle, b)
	return nil
}

// PutTexture registers t under t.Handle, replacing any texture already there.
func (s *Store) PutTexture(t *Texture) error {
	if t.Handle == 0 {
		return ErrZeroHandle
	}
	if s.buffers.Has(t.Handle) {
		return fmt.Errorf("%w: %d is a buffer", ErrHandleInUse, t.Handle)
	}
	if t.Dirty == nil {
		t.Dirty = ranges.NewSet()
	}
	s.textures.Put(t.Handle, t)
	return nil
}

// Remove deletes h from whichever map holds it and returns the removed
// resource (*Buffer or *Texture), or nil.
func (s *Store) Remove(h uint32) (Kind, any) {
	if b, ok := s.buffers.Get(h); ok {
		s.buffers.Delete(h)
		return KindBuffer, b
	}
	if t, ok := s.textures.Get(h); ok {
		s.textures.Delete(h)
		return KindTexture, t
	}
	return KindNone, nil
}

// Len returns the number of buffers and textures.
func (s *Store) Len() (buffers, textures int) {
	return s.buffers.Count(), s.textures.Count()
}

// Buffers calls fn for every buffer until fn returns false.
func (s *Store) Buffers(fn func(*Buffer) bool) {
	s.buffers.Iter(func(_ uint32, b *Buffer) bool { return !fn(b) })
}

// Textures calls fn for every texture until fn returns false.
func (s *Store) Textures(fn func(*Texture) bool) {
	s.textures.Iter(func(_ uint32, t *Texture) bool { return !fn(t) })
}

// Clear drops every resource. The caller releases backend objects first.
func (s *Store) Clear() {
	s.buffers.Clear()
	s.textures.Clear()
}
