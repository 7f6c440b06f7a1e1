package aerogpu

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/guestmem"
	"github.com/gogpu/aerogpu/internal/cache"
	"github.com/gogpu/aerogpu/internal/convert"
	"github.com/gogpu/aerogpu/internal/layout"
	"github.com/gogpu/aerogpu/internal/resource"
	"github.com/gogpu/aerogpu/internal/wire"
)

// vertexBinding is the state of vertex buffer slot 0.
type vertexBinding struct {
	buffer uint32
	stride uint32
	offset uint32
}

// indexBinding is the bound index buffer.
type indexBinding struct {
	buffer uint32
	format backend.IndexFormat
	offset uint32
}

// pipelineState holds the bindings that draws and clears read. A zero
// handle means the slot is unbound.
type pipelineState struct {
	renderTarget uint32
	vertex       vertexBinding
	index        indexBinding
	texture      uint32
}

// unbind clears every slot that references h.
func (s *pipelineState) unbind(h uint32) {
	if s.renderTarget == h {
		s.renderTarget = 0
	}
	if s.vertex.buffer == h {
		s.vertex = vertexBinding{}
	}
	if s.index.buffer == h {
		s.index = indexBinding{}
	}
	if s.texture == h {
		s.texture = 0
	}
}

// Executor replays guest command streams on a backend device.
//
// An Executor owns its resources and pipeline state across submissions.
// Submissions are serialized: ProcessSubmission holds an internal lock for
// the whole stream, so concurrent callers run one after another.
type Executor struct {
	mu     sync.Mutex
	mem    guestmem.Memory
	dev    backend.Device
	owned  bool
	opts   options
	logger *slog.Logger
	waiter Waiter
	store  *resource.Store
	state  pipelineState
	plans  *cache.LRU[planKey, convert.Plan]
	limits backend.Limits
	closed bool
}

type planKey struct {
	transform convert.Transform
	format    layout.Format
	width     uint32
}

// planCapacity bounds the cached row plans; a guest rarely uses more than
// a handful of distinct (format, width) pairs.
const planCapacity = 64

// New creates an executor over guest memory mem.
func New(mem guestmem.Memory, opts ...Option) (*Executor, error) {
	if mem == nil {
		return nil, errors.New("aerogpu: nil guest memory")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = Logger()
	}

	dev, owned := o.device, false
	if dev == nil {
		var err error
		if o.backendName != "" {
			dev, err = backend.Get(o.backendName)
		} else {
			dev, err = backend.Default()
		}
		if err != nil {
			return nil, errors.Wrap(err, "aerogpu: open backend")
		}
		owned = true
	}
	propagateLogger(dev, logger)

	e := &Executor{
		mem:    mem,
		dev:    dev,
		owned:  owned,
		opts:   o,
		logger: logger,
		store:  resource.NewStore(),
		plans:  cache.New[planKey, convert.Plan](planCapacity),
		limits: dev.Caps().Limits.OrDefault(),
	}
	switch o.mode {
	case ModeAsync:
		e.waiter = AsyncWaiter{Interval: o.pollInterval}
	default:
		e.waiter = BlockingWaiter{}
	}

	caps := dev.Caps()
	logger.Info("aerogpu: executor ready",
		"backend", dev.Name(),
		"mode", o.mode,
		"native_bc", caps.NativeBC,
		"cooperative", caps.Cooperative)
	if o.mode == ModeBlocking && caps.Cooperative {
		logger.Warn("aerogpu: blocking mode on a cooperative backend; writeback copies will be rejected")
	}
	return e, nil
}

// Backend returns the name of the backend device.
func (e *Executor) Backend() string { return e.dev.Name() }

// Caps returns the capabilities of the backend device.
func (e *Executor) Caps() backend.Caps { return e.dev.Caps() }

// Mode returns the writeback mode.
func (e *Executor) Mode() Mode { return e.opts.mode }

// Resources returns the number of live buffers and textures.
func (e *Executor) Resources() (buffers, textures int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Len()
}

// plan returns the row plan of tr applied to width texels of f.
func (e *Executor) plan(tr convert.Transform, f layout.Format, width uint32) (convert.Plan, error) {
	return e.plans.GetOrCreate(planKey{tr, f, width}, func() (convert.Plan, error) {
		return convert.NewPlan(tr, f, width)
	})
}

// Reset destroys every resource and clears the pipeline state.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
}

func (e *Executor) reset() {
	e.store.Buffers(func(b *resource.Buffer) bool {
		e.dev.DestroyBuffer(b.Host)
		return true
	})
	e.store.Textures(func(t *resource.Texture) bool {
		e.dev.DestroyTexture(t.Host)
		return true
	})
	e.store.Clear()
	e.state = pipelineState{}
}

// Close destroys every resource. A device opened by New is closed too.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.reset()
	if !e.owned {
		return nil
	}
	if err := e.dev.Close(); err != nil {
		return errors.Wrap(err, "aerogpu: close backend")
	}
	return nil
}

// ReadBuffer returns the backend contents of buffer h.
func (e *Executor) ReadBuffer(ctx context.Context, h uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	b, ok := e.store.Buffer(h)
	if !ok {
		return nil, validationf("buffer %d does not exist", h)
	}
	rb, err := e.dev.ReadbackBuffer(b.Host, 0, b.Size)
	if err != nil {
		return nil, classify(err)
	}
	defer rb.Release()
	if err := e.await(ctx, rb); err != nil {
		return nil, err
	}
	out := make([]byte, b.Size)
	copy(out, rb.Bytes())
	return out, nil
}

// ReadTexture returns subresource (mip, layer) of texture h as tightly
// packed rows in the backend's format. Rows of block-compressed formats
// stored natively are rows of blocks.
func (e *Executor) ReadTexture(ctx context.Context, h, mip, layer uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	t, ok := e.store.Texture(h)
	if !ok {
		return nil, validationf("texture %d does not exist", h)
	}
	sub, ok := t.Subresource(mip, layer)
	if !ok {
		return nil, validationf("texture %d has no mip %d layer %d", h, mip, layer)
	}
	f := t.Host.Desc().Format
	rowBytes := f.RowBytes(sub.Width)
	pitch, ok := layout.AlignUp(rowBytes, layout.RowAlignment)
	if !ok {
		return nil, validationf("texture %d: row of %d bytes overflows", h, rowBytes)
	}
	rb, err := e.dev.ReadbackTexture(backend.TextureRegion{
		Texture: t.Host, Mip: mip, Layer: layer, Width: sub.Width, Height: sub.Height,
	}, pitch)
	if err != nil {
		return nil, classify(err)
	}
	defer rb.Release()
	if err := e.await(ctx, rb); err != nil {
		return nil, err
	}
	rows := f.Rows(sub.Height)
	src := rb.Bytes()
	out := make([]byte, uint64(rows)*uint64(rowBytes))
	for y := uint32(0); y < rows; y++ {
		copy(out[uint64(y)*uint64(rowBytes):][:rowBytes], src[uint64(y)*uint64(pitch):])
	}
	return out, nil
}

// TextureLevel describes one subresource as the backend stores it.
type TextureLevel struct {
	Format backend.Format
	Width  uint32
	Height uint32
}

// Level returns the backend format and size of subresource (mip, layer)
// of texture h, the shape of the bytes ReadTexture returns.
func (e *Executor) Level(h, mip, layer uint32) (TextureLevel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.store.Texture(h)
	if !ok {
		return TextureLevel{}, validationf("texture %d does not exist", h)
	}
	sub, ok := t.Subresource(mip, layer)
	if !ok {
		return TextureLevel{}, validationf("texture %d has no mip %d layer %d", h, mip, layer)
	}
	return TextureLevel{Format: t.Host.Desc().Format, Width: sub.Width, Height: sub.Height}, nil
}

// await submits recorded work and waits for rb with the executor's waiter.
// A blocking executor on a cooperative device falls back to polling here,
// since nothing else would deliver the completion.
func (e *Executor) await(ctx context.Context, rb backend.Readback) error {
	if err := e.dev.Submit(); err != nil {
		return classify(err)
	}
	w := e.waiter
	if e.dev.Caps().Cooperative {
		w = AsyncWaiter{Interval: e.opts.pollInterval}
	}
	if err := w.Wait(ctx, e.dev, rb); err != nil {
		return errors.Wrap(err, "aerogpu: readback")
	}
	return nil
}

// hostFormat returns the format the backend stores a guest format in
// under transform t.
func hostFormat(f layout.Format, t convert.Transform) (backend.Format, error) {
	info, err := layout.Lookup(f)
	if err != nil {
		return backend.FormatUndefined, err
	}
	pick := func(linear, srgb backend.Format) backend.Format {
		if info.SRGB {
			return srgb
		}
		return linear
	}
	switch t {
	case convert.Direct, convert.ForceAlpha:
		switch f.BCKind() {
		case 1:
			return pick(backend.FormatBC1RGBAUnorm, backend.FormatBC1RGBAUnormSrgb), nil
		case 2:
			return pick(backend.FormatBC2RGBAUnorm, backend.FormatBC2RGBAUnormSrgb), nil
		case 3:
			return pick(backend.FormatBC3RGBAUnorm, backend.FormatBC3RGBAUnormSrgb), nil
		case 7:
			return pick(backend.FormatBC7RGBAUnorm, backend.FormatBC7RGBAUnormSrgb), nil
		}
		if info.BGR {
			return pick(backend.FormatBGRA8Unorm, backend.FormatBGRA8UnormSrgb), nil
		}
		return pick(backend.FormatRGBA8Unorm, backend.FormatRGBA8UnormSrgb), nil
	case convert.Expand565, convert.Expand5551:
		return backend.FormatBGRA8Unorm, nil
	case convert.DecodeBC1, convert.DecodeBC2, convert.DecodeBC3:
		return pick(backend.FormatRGBA8Unorm, backend.FormatRGBA8UnormSrgb), nil
	}
	return backend.FormatUndefined, errors.Newf("aerogpu: no host format for %s with %s", f, t)
}

// hostBufferUsage maps wire usage flags to backend buffer usages.
func hostBufferUsage(usage uint32) backend.BufferUsage {
	u := backend.BufferUsageCopySrc | backend.BufferUsageCopyDst
	if usage&wire.UsageVertexBuffer != 0 {
		u |= backend.BufferUsageVertex
	}
	if usage&wire.UsageIndexBuffer != 0 {
		u |= backend.BufferUsageIndex
	}
	if usage&wire.UsageConstantBuffer != 0 {
		u |= backend.BufferUsageUniform
	}
	return u
}
