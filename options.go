package aerogpu

import (
	"log/slog"
	"time"

	"github.com/gogpu/aerogpu/backend"
)

// Mode selects how writebacks wait for staged data.
type Mode uint8

// Writeback modes.
const (
	// ModeBlocking parks the submitting goroutine until the backend
	// completes a readback. On a cooperative backend New still succeeds,
	// but every copy that requests writeback fails with ErrValidation
	// before doing any work; other commands run normally.
	ModeBlocking Mode = iota
	// ModeAsync awaits readbacks with context cancellation and drives
	// cooperative backends through Poll.
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "blocking"
}

// MaxStreamSize caps the size of one command stream.
const MaxStreamSize = 64 << 20

// Option configures an Executor during creation.
//
// Example:
//
//	// Default backend, blocking writebacks
//	ex, err := aerogpu.New(mem)
//
//	// CPU backend with async writebacks
//	ex, err := aerogpu.New(mem,
//	    aerogpu.WithBackend(backend.BackendSoftware),
//	    aerogpu.WithMode(aerogpu.ModeAsync))
type Option func(*options)

// options holds optional configuration for Executor creation.
type options struct {
	backendName   string
	device        backend.Device
	mode          Mode
	maxStreamSize uint32
	pollInterval  time.Duration
	logger        *slog.Logger
}

// defaultOptions returns the default executor options.
func defaultOptions() options {
	return options{
		mode:          ModeBlocking,
		maxStreamSize: MaxStreamSize,
		pollInterval:  time.Millisecond,
	}
}

// WithBackend selects a registered backend by name. The executor creates
// the device and closes it in Close. Without WithBackend or WithDevice the
// best available backend is used.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backendName = name
	}
}

// WithDevice runs the executor on an existing device. The caller keeps
// ownership; Close does not close it.
func WithDevice(d backend.Device) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithMode sets the writeback mode.
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithMaxStreamSize lowers the command stream cap. Values of zero or above
// MaxStreamSize are ignored.
func WithMaxStreamSize(n uint32) Option {
	return func(o *options) {
		if n > 0 && n <= MaxStreamSize {
			o.maxStreamSize = n
		}
	}
}

// WithPollInterval sets how often async writebacks poll a cooperative
// backend.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the executor logger instead of the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
