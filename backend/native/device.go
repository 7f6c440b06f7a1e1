//go:build !nogpu

// Package native implements backend.Device on a GPU through gogpu/wgpu.
//
// The device owns one command encoder at a time. Copies, clears and draws
// are recorded into it; queue writes first submit whatever was recorded so
// that writes and commands reach the GPU in call order. Readbacks copy into
// MapRead staging buffers which are mapped once the producing submission
// is on the queue.
package native

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/aerogpu/backend"
)

func init() {
	backend.Register(backend.BackendNative, func() (backend.Device, error) {
		return New()
	})
}

type config struct {
	label       string
	fallback    bool
	cooperative bool
}

// Option configures a Device.
type Option func(*config)

// WithLabel sets the debug label of the device and its objects.
func WithLabel(label string) Option {
	return func(c *config) { c.label = label }
}

// WithFallbackAdapter requests the software fallback adapter.
func WithFallbackAdapter(enabled bool) Option {
	return func(c *config) { c.fallback = enabled }
}

// WithCooperative makes the device deliver readback completions only from
// Poll, for hosts that drive the GPU from an event loop.
func WithCooperative(enabled bool) Option {
	return func(c *config) { c.cooperative = enabled }
}

type releaser interface{ Release() }

// maxInflight bounds the command buffers kept alive before the device
// waits for the GPU and recycles them.
const maxInflight = 32

// Device is a GPU device.
type Device struct {
	caps      backend.Caps
	logger    *slog.Logger
	label     string
	external  bool
	instance  *wgpu.Instance
	adapter   *wgpu.Adapter
	device    *wgpu.Device
	queue     *wgpu.Queue
	pipelines *pipelineCache

	mu        sync.Mutex
	closed    bool
	encoder   *wgpu.CommandEncoder
	inflight  []*wgpu.CommandBuffer
	garbage   []releaser // objects referenced by recorded commands
	submitted uint64
	recorded  uint64
	waiting   []*readback // mapped before their submission
	mapping   []*readback // cooperative maps resolved by Poll
}

var _ backend.Device = (*Device)(nil)

// New opens the preferred GPU adapter and creates a device on it.
func New(opts ...Option) (*Device, error) {
	cfg := config{label: "aerogpu"}
	for _, o := range opts {
		o(&cfg)
	}
	if err := validateShader(); err != nil {
		return nil, err
	}

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference:      gputypes.PowerPreferenceHighPerformance,
		ForceFallbackAdapter: cfg.fallback,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: %w", ErrNoGPU, err)
	}

	var features gputypes.Features
	if adapter.Features().Contains(gputypes.FeatureTextureCompressionBC) {
		features.Insert(gputypes.FeatureTextureCompressionBC)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:            cfg.label,
		RequiredFeatures: features,
		RequiredLimits:   wgpu.DefaultLimits(),
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("native: request device: %w", err)
	}

	d, err := newDevice(device, features, cfg)
	if err != nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, err
	}
	d.instance, d.adapter = instance, adapter
	d.logger.Info("native: device ready", "adapter", adapter.Info().Name, "native_bc", d.caps.NativeBC)
	return d, nil
}

// NewFromProvider creates a device sharing the GPU of a host application.
// The provider must expose HalDevice() and HalQueue() returning hal.Device
// and hal.Queue. The provider keeps ownership; Close does not destroy them.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	cfg := config{label: "aerogpu"}
	for _, o := range opts {
		o(&cfg)
	}
	if err := validateShader(); err != nil {
		return nil, err
	}

	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrProvider
	}
	halDevice, ok := hp.HalDevice().(hal.Device)
	if !ok || halDevice == nil {
		return nil, fmt.Errorf("%w: HalDevice is %T", ErrProvider, hp.HalDevice())
	}
	halQueue, ok := hp.HalQueue().(hal.Queue)
	if !ok || halQueue == nil {
		return nil, fmt.Errorf("%w: HalQueue is %T", ErrProvider, hp.HalQueue())
	}

	var features gputypes.Features
	if fa, ok := provider.Adapter().(interface{ Features() gputypes.Features }); ok {
		if fa.Features().Contains(gputypes.FeatureTextureCompressionBC) {
			features.Insert(gputypes.FeatureTextureCompressionBC)
		}
	}
	device, err := wgpu.NewDeviceFromHAL(halDevice, halQueue, features, wgpu.DefaultLimits(), cfg.label)
	if err != nil {
		return nil, fmt.Errorf("native: wrap provider device: %w", err)
	}
	d, err := newDevice(device, features, cfg)
	if err != nil {
		return nil, err
	}
	d.external = true
	info := provider.AdapterInfo()
	d.logger.Info("native: using shared device", "adapter", info.Name, "type", info.Type)
	return d, nil
}

func newDevice(device *wgpu.Device, features gputypes.Features, cfg config) (*Device, error) {
	queue := device.Queue()
	if queue == nil {
		return nil, ErrNoQueue
	}
	pipelines := newPipelineCache(device)
	if err := pipelines.init(); err != nil {
		return nil, err
	}
	lim := device.Limits()
	return &Device{
		caps: backend.Caps{
			NativeBC:    features.Contains(gputypes.FeatureTextureCompressionBC),
			Cooperative: cfg.cooperative,
			Limits: backend.Limits{
				MaxBufferSize:         lim.MaxBufferSize,
				MaxTextureDimension:   lim.MaxTextureDimension2D,
				MaxTextureArrayLayers: lim.MaxTextureArrayLayers,
			}.OrDefault(),
		},
		logger:    slog.New(slog.DiscardHandler),
		label:     cfg.label,
		device:    device,
		queue:     queue,
		pipelines: pipelines,
		recorded:  1,
	}, nil
}

// SetLogger sets the device logger.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	d.logger = l
}

// Name returns "native".
func (d *Device) Name() string { return backend.BackendNative }

// Caps returns the device capabilities.
func (d *Device) Caps() backend.Caps { return d.caps }

// PipelineStats returns built-in pipeline cache hits and misses.
func (d *Device) PipelineStats() (hits, misses uint64) { return d.pipelines.stats() }

func (d *Device) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return backend.ErrClosed
	}
	return nil
}

// commands returns the open encoder, creating one if needed.
func (d *Device) commands() (*wgpu.CommandEncoder, error) {
	if d.encoder != nil {
		return d.encoder, nil
	}
	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: d.label})
	if err != nil {
		return nil, fmt.Errorf("native: command encoder: %w", err)
	}
	d.encoder = enc
	return enc, nil
}

// flushCommands submits the open encoder so that a following queue write
// lands after the commands recorded so far.
func (d *Device) flushCommands() error {
	if d.encoder == nil {
		return nil
	}
	enc := d.encoder
	d.encoder = nil
	cb, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("native: finish commands: %w", err)
	}
	if _, err := d.queue.Submit(cb); err != nil {
		cb.Release()
		return fmt.Errorf("native: submit: %w", err)
	}
	d.inflight = append(d.inflight, cb)
	if len(d.inflight) >= maxInflight {
		d.retire()
	}
	return nil
}

// retire waits for the GPU and frees submitted command buffers and the
// objects they referenced.
func (d *Device) retire() {
	if err := d.device.WaitIdle(); err != nil {
		d.logger.Warn("native: wait idle", "err", err)
	}
	for _, cb := range d.inflight {
		cb.Release()
	}
	d.inflight = d.inflight[:0]
	for _, g := range d.garbage {
		g.Release()
	}
	d.garbage = d.garbage[:0]
}

// Submit sends recorded work and pending queue writes to the GPU and
// starts the readback maps that were waiting for it.
func (d *Device) Submit() error {
	if err := d.check(); err != nil {
		return err
	}
	if d.encoder != nil {
		if err := d.flushCommands(); err != nil {
			return err
		}
	} else if _, err := d.queue.Submit(); err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}

	d.mu.Lock()
	d.submitted = d.recorded
	d.recorded++
	var start []*readback
	keep := d.waiting[:0]
	for _, rb := range d.waiting {
		if rb.index > d.submitted {
			keep = append(keep, rb)
			continue
		}
		start = append(start, rb)
	}
	d.waiting = keep
	d.mu.Unlock()

	for _, rb := range start {
		rb.start()
	}
	return nil
}

// Poll drives buffer maps and delivers completed readbacks.
func (d *Device) Poll() {
	d.device.Poll(wgpu.PollPoll)
	if !d.caps.Cooperative {
		return
	}
	d.mu.Lock()
	pending := d.mapping
	d.mapping = nil
	d.mu.Unlock()

	var keep []*readback
	for _, rb := range pending {
		done, err := rb.pending.Status()
		if !done {
			keep = append(keep, rb)
			continue
		}
		rb.finish(err)
	}
	if len(keep) > 0 {
		d.mu.Lock()
		d.mapping = append(d.mapping, keep...)
		d.mu.Unlock()
	}
}

// Close waits for the GPU, fails pending readbacks and releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := append(d.waiting, d.mapping...)
	d.waiting, d.mapping = nil, nil
	d.mu.Unlock()

	if d.encoder != nil {
		if err := d.flushCommands(); err != nil {
			d.logger.Warn("native: flush on close", "err", err)
		}
	}
	d.retire()
	for _, rb := range pending {
		rb.complete(backend.ErrClosed)
	}
	d.pipelines.release()
	if !d.external {
		d.device.Release()
		if d.adapter != nil {
			d.adapter.Release()
		}
		if d.instance != nil {
			d.instance.Release()
		}
	}
	return nil
}
