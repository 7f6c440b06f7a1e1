package backend

import (
	"errors"
	"fmt"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("backend: device closed")

	// ErrInvalidObject is returned when an object from another device, or a
	// destroyed one, is passed to a device.
	ErrInvalidObject = errors.New("backend: invalid object")

	// ErrOutOfBounds is returned for regions outside a buffer or texture.
	ErrOutOfBounds = errors.New("backend: region out of bounds")

	// ErrUnsupportedFormat is returned for formats the device cannot store.
	ErrUnsupportedFormat = errors.New("backend: unsupported format")

	// ErrLimit is returned for resources larger than the device limits.
	ErrLimit = errors.New("backend: resource exceeds device limits")
)

// Caps describes what a device can do.
type Caps struct {
	// NativeBC reports that BC textures can be stored and sampled as-is.
	NativeBC bool

	// Cooperative reports that completion callbacks are only delivered from
	// Poll on the caller's goroutine. Blocking on such a device deadlocks.
	Cooperative bool

	// Limits bound resource creation. Zero fields mean DefaultLimits.
	Limits Limits
}

// Limits are the largest resources a device creates.
type Limits struct {
	MaxBufferSize         uint64
	MaxTextureDimension   uint32
	MaxTextureArrayLayers uint32
}

// DefaultLimits are the WebGPU default limits.
var DefaultLimits = Limits{
	MaxBufferSize:         256 << 20,
	MaxTextureDimension:   8192,
	MaxTextureArrayLayers: 256,
}

// OrDefault replaces zero fields of l with DefaultLimits.
func (l Limits) OrDefault() Limits {
	if l.MaxBufferSize == 0 {
		l.MaxBufferSize = DefaultLimits.MaxBufferSize
	}
	if l.MaxTextureDimension == 0 {
		l.MaxTextureDimension = DefaultLimits.MaxTextureDimension
	}
	if l.MaxTextureArrayLayers == 0 {
		l.MaxTextureArrayLayers = DefaultLimits.MaxTextureArrayLayers
	}
	return l
}

// BufferUsage is a set of buffer usage flags.
type BufferUsage uint32

// Buffer usages.
const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageCopySrc
	BufferUsageCopyDst
)

// BufferDesc describes a buffer.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureDesc describes a 2D texture.
type TextureDesc struct {
	Label        string
	Format       Format
	Width        uint32
	Height       uint32
	MipLevels    uint32
	ArrayLayers  uint32
	RenderTarget bool
}

// Buffer is a device buffer.
type Buffer interface {
	Size() uint64
}

// Texture is a device texture.
type Texture interface {
	Desc() TextureDesc
}

// TextureRegion selects a rectangle of one subresource, in texels.
type TextureRegion struct {
	Texture Texture
	Mip     uint32
	Layer   uint32
	X       uint32
	Y       uint32
	Width   uint32
	Height  uint32
}

// String formats the region for error messages.
func (r TextureRegion) String() string {
	return fmt.Sprintf("mip %d layer %d (%d,%d) %dx%d", r.Mip, r.Layer, r.X, r.Y, r.Width, r.Height)
}

// Readback is a staged copy of device data that becomes host-readable after
// the work that produced it completes.
type Readback interface {
	// Map requests host access. fn runs exactly once when the data is
	// readable or mapping failed. On a cooperative device fn only runs
	// from Poll.
	Map(fn func(error))

	// Bytes returns the staged data. Valid after Map's callback reported
	// success and until Release.
	Bytes() []byte

	// Release frees the staging storage.
	Release()
}

// IndexFormat is the element type of an index buffer.
type IndexFormat uint8

// Index formats.
const (
	IndexFormatUint16 IndexFormat = iota
	IndexFormatUint32
)

// Size returns the byte size of one index.
func (f IndexFormat) Size() uint64 {
	if f == IndexFormatUint32 {
		return 4
	}
	return 2
}

// VertexStride is the only vertex layout of the built-in pipeline: one
// float32x2 position at location 0.
const VertexStride = 8

// DrawCall is one draw with the built-in pipeline. The pipeline reads a
// vec2 position per vertex and fills every covered pixel with the texel
// sampled at uv (0.5, 0.5) of Texture.
type DrawCall struct {
	Target       Texture
	Vertices     Buffer
	VertexOffset uint64
	Texture      Texture

	// Indexed draws read Indices starting at IndexOffset.
	Indexed     bool
	Indices     Buffer
	IndexFormat IndexFormat
	IndexOffset uint64

	Count         uint32
	InstanceCount uint32
	First         uint32
	BaseVertex    int32
	FirstInstance uint32
}

// Device is the graphics backend the executor replays commands on.
//
// Operations are recorded in call order. Write and copy operations take
// effect in that order relative to each other; Submit hands recorded work
// to the device. A Device is used from one goroutine at a time.
type Device interface {
	// Name returns the backend identifier (e.g., "software", "native").
	Name() string

	Caps() Caps

	CreateBuffer(desc BufferDesc) (Buffer, error)
	DestroyBuffer(b Buffer)
	CreateTexture(desc TextureDesc) (Texture, error)
	DestroyTexture(t Texture)

	// WriteBuffer copies data into b at offset. offset and len(data) are
	// multiples of 4.
	WriteBuffer(b Buffer, offset uint64, data []byte) error

	// WriteTexture copies rows of data into dst. bytesPerRow is the pitch of
	// data; for block formats a row is a row of blocks.
	WriteTexture(dst TextureRegion, data []byte, bytesPerRow uint32) error

	CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset uint64, size uint64) error

	// CopyTexture copies src into dst. Both regions have the same size.
	CopyTexture(dst, src TextureRegion) error

	// ReadbackBuffer stages [offset, offset+size) of b for host reading.
	ReadbackBuffer(b Buffer, offset, size uint64) (Readback, error)

	// ReadbackTexture stages src for host reading with rows bytesPerRow
	// apart. bytesPerRow is a multiple of 256.
	ReadbackTexture(src TextureRegion, bytesPerRow uint32) (Readback, error)

	// Clear fills mip 0 of target with color (RGBA, 0..1).
	Clear(target Texture, color [4]float32) error

	Draw(call DrawCall) error

	// Submit hands all recorded work to the device.
	Submit() error

	// Poll delivers completed callbacks. It never blocks.
	Poll()

	Close() error
}
