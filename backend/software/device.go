// Package software implements backend.Device on the CPU.
//
// Every operation takes effect immediately and deterministically, which
// makes the device the reference for executor tests and the default for
// the CLI. A cooperative device only delivers readback completions from
// Poll, like a single-threaded event loop does.
package software

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/aerogpu/backend"
)

func init() {
	backend.Register(backend.BackendSoftware, func() (backend.Device, error) {
		return New(), nil
	})
}

// Option configures a Device.
type Option func(*Device)

// WithNativeBC makes the device store BC textures compressed.
func WithNativeBC(enabled bool) Option {
	return func(d *Device) { d.caps.NativeBC = enabled }
}

// WithCooperative makes the device deliver readback completions only from Poll.
func WithCooperative(enabled bool) Option {
	return func(d *Device) { d.caps.Cooperative = enabled }
}

// WithLimits sets the resource limits the device enforces and reports.
// Zero fields keep the defaults.
func WithLimits(l backend.Limits) Option {
	return func(d *Device) { d.caps.Limits = l.OrDefault() }
}

// Device is a CPU device.
type Device struct {
	caps   backend.Caps
	logger *slog.Logger

	mu        sync.Mutex
	closed    bool
	submitted uint64 // number of Submit calls
	recorded  uint64 // submission index the next operation belongs to
	waiting   []*readback
	ready     []*readback

	liveBuffers  int
	liveTextures int
}

var _ backend.Device = (*Device)(nil)

// New creates a CPU device.
func New(opts ...Option) *Device {
	d := &Device{
		caps:     backend.Caps{Limits: backend.DefaultLimits},
		logger:   slog.New(slog.DiscardHandler),
		recorded: 1,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetLogger sets the device logger.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	d.logger = l
}

// Name returns "software".
func (d *Device) Name() string { return backend.BackendSoftware }

// Caps returns the configured capabilities.
func (d *Device) Caps() backend.Caps { return d.caps }

// Live returns the number of buffers and textures not yet destroyed.
func (d *Device) Live() (buffers, textures int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveBuffers, d.liveTextures
}

type buffer struct {
	dev       *Device
	data      []byte
	usage     backend.BufferUsage
	destroyed bool
}

func (b *buffer) Size() uint64 { return uint64(len(b.data)) }

func (d *Device) CreateBuffer(desc backend.BufferDesc) (backend.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if desc.Size == 0 || desc.Size%4 != 0 {
		return nil, fmt.Errorf("software: buffer size %d is not a non-zero multiple of 4", desc.Size)
	}
	if desc.Size > d.caps.Limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer size %d exceeds %d", backend.ErrLimit, desc.Size, d.caps.Limits.MaxBufferSize)
	}
	d.mu.Lock()
	d.liveBuffers++
	d.mu.Unlock()
	return &buffer{dev: d, data: make([]byte, desc.Size), usage: desc.Usage}, nil
}

func (d *Device) DestroyBuffer(b backend.Buffer) {
	buf, err := d.buffer(b)
	if err != nil {
		d.logger.Warn("software: destroy buffer", "err", err)
		return
	}
	buf.destroyed = true
	buf.data = nil
	d.mu.Lock()
	d.liveBuffers--
	d.mu.Unlock()
}

func (d *Device) buffer(b backend.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil || buf.dev != d || buf.destroyed {
		return nil, fmt.Errorf("%w: buffer %T", backend.ErrInvalidObject, b)
	}
	return buf, nil
}

func (d *Device) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return backend.ErrClosed
	}
	return nil
}

func span(size, offset, n uint64) error {
	if offset > size || n > size-offset {
		return fmt.Errorf("%w: [%d, +%d) of %d bytes", backend.ErrOutOfBounds, offset, n, size)
	}
	return nil
}

func (d *Device) WriteBuffer(b backend.Buffer, offset uint64, data []byte) error {
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	if err := span(buf.Size(), offset, uint64(len(data))); err != nil {
		return err
	}
	copy(buf.data[offset:], data)
	return nil
}

func (d *Device) CopyBuffer(dst backend.Buffer, dstOffset uint64, src backend.Buffer, srcOffset uint64, size uint64) error {
	db, err := d.buffer(dst)
	if err != nil {
		return err
	}
	sb, err := d.buffer(src)
	if err != nil {
		return err
	}
	if err := span(sb.Size(), srcOffset, size); err != nil {
		return err
	}
	if err := span(db.Size(), dstOffset, size); err != nil {
		return err
	}
	copy(db.data[dstOffset:dstOffset+size], sb.data[srcOffset:srcOffset+size])
	return nil
}

func (d *Device) ReadbackBuffer(b backend.Buffer, offset, size uint64) (backend.Readback, error) {
	buf, err := d.buffer(b)
	if err != nil {
		return nil, err
	}
	if err := span(buf.Size(), offset, size); err != nil {
		return nil, err
	}
	data := make([]byte, size)
	copy(data, buf.data[offset:])
	return d.stage(data), nil
}

// Submit completes every operation recorded so far and schedules pending
// readback callbacks.
func (d *Device) Submit() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return backend.ErrClosed
	}
	d.submitted = d.recorded
	d.recorded++
	var fire []*readback
	keep := d.waiting[:0]
	for _, rb := range d.waiting {
		if !rb.requested || rb.index > d.submitted {
			keep = append(keep, rb)
			continue
		}
		fire = append(fire, rb)
	}
	d.waiting = keep
	if d.caps.Cooperative {
		d.ready = append(d.ready, fire...)
		fire = nil
	}
	d.mu.Unlock()

	for _, rb := range fire {
		go rb.complete(nil)
	}
	return nil
}

// Poll runs completed readback callbacks on a cooperative device.
func (d *Device) Poll() {
	d.mu.Lock()
	ready := d.ready
	d.ready = nil
	d.mu.Unlock()
	for _, rb := range ready {
		rb.complete(nil)
	}
}

// Close releases the device. Pending readbacks fail with backend.ErrClosed.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := append(d.waiting, d.ready...)
	d.waiting, d.ready = nil, nil
	d.mu.Unlock()
	for _, rb := range pending {
		if rb.requested {
			rb.complete(backend.ErrClosed)
		}
	}
	return nil
}

var le = binary.LittleEndian
