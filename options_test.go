package aerogpu

import (
	"log/slog"
	"testing"
	"time"

	"github.com/gogpu/aerogpu/backend/software"
	"github.com/gogpu/aerogpu/guestmem"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.mode != ModeBlocking {
		t.Errorf("mode = %v, want blocking", o.mode)
	}
	if o.maxStreamSize != MaxStreamSize {
		t.Errorf("maxStreamSize = %d, want %d", o.maxStreamSize, MaxStreamSize)
	}
	if o.pollInterval != time.Millisecond {
		t.Errorf("pollInterval = %v", o.pollInterval)
	}
	if o.device != nil || o.logger != nil || o.backendName != "" {
		t.Errorf("unexpected defaults %+v", o)
	}
}

func TestOptions(t *testing.T) {
	dev := software.New()
	l := slog.Default()
	o := defaultOptions()
	for _, opt := range []Option{
		WithBackend("software"),
		WithDevice(dev),
		WithMode(ModeAsync),
		WithMaxStreamSize(4096),
		WithPollInterval(5 * time.Millisecond),
		WithLogger(l),
	} {
		opt(&o)
	}
	if o.backendName != "software" || o.device != dev || o.mode != ModeAsync ||
		o.maxStreamSize != 4096 || o.pollInterval != 5*time.Millisecond || o.logger != l {
		t.Errorf("options not applied: %+v", o)
	}
}

func TestWithMaxStreamSizeIgnoresOutOfRange(t *testing.T) {
	for _, n := range []uint32{0, MaxStreamSize + 1} {
		o := defaultOptions()
		WithMaxStreamSize(n)(&o)
		if o.maxStreamSize != MaxStreamSize {
			t.Errorf("WithMaxStreamSize(%d) set cap to %d", n, o.maxStreamSize)
		}
	}
}

func TestWithPollIntervalIgnoresNonPositive(t *testing.T) {
	o := defaultOptions()
	WithPollInterval(-time.Second)(&o)
	if o.pollInterval != time.Millisecond {
		t.Errorf("pollInterval = %v", o.pollInterval)
	}
}

func TestModeSelectsWaiter(t *testing.T) {
	tests := []struct {
		mode Mode
		want Waiter
	}{
		{ModeBlocking, BlockingWaiter{}},
		{ModeAsync, AsyncWaiter{Interval: time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			ex := newTestExecutor(t, guestmem.NewFlat(16), nil, WithMode(tt.mode))
			if ex.Mode() != tt.mode {
				t.Errorf("Mode() = %v", ex.Mode())
			}
			if ex.waiter != tt.want {
				t.Errorf("waiter = %#v, want %#v", ex.waiter, tt.want)
			}
		})
	}
}
