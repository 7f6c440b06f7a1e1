package aerogpu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/aerogpu/backend"
	"github.com/gogpu/aerogpu/backend/software"
)

// stagedReadback returns a readback of a buffer holding p.
func stagedReadback(t *testing.T, dev *software.Device, p []byte) backend.Readback {
	t.Helper()
	buf, err := dev.CreateBuffer(backend.BufferDesc{Size: uint64(len(p)), Usage: backend.BufferUsageCopySrc | backend.BufferUsageCopyDst})
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.WriteBuffer(buf, 0, p); err != nil {
		t.Fatal(err)
	}
	rb, err := dev.ReadbackBuffer(buf, 0, uint64(len(p)))
	if err != nil {
		t.Fatal(err)
	}
	return rb
}

func TestWaiters(t *testing.T) {
	tests := []struct {
		name   string
		dev    *software.Device
		waiter Waiter
	}{
		{"blocking", software.New(), BlockingWaiter{}},
		{"async", software.New(), AsyncWaiter{Interval: time.Millisecond}},
		{"async cooperative", software.New(software.WithCooperative(true)), AsyncWaiter{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := []byte{1, 2, 3, 4}
			rb := stagedReadback(t, tt.dev, want)
			if err := tt.dev.Submit(); err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tt.waiter.Wait(ctx, tt.dev, rb); err != nil {
				t.Fatalf("Wait() = %v", err)
			}
			if got := rb.Bytes(); string(got) != string(want) {
				t.Errorf("Bytes() = %v, want %v", got, want)
			}
		})
	}
}

func TestAsyncWaiterHonorsContext(t *testing.T) {
	for _, cooperative := range []bool{false, true} {
		dev := software.New(software.WithCooperative(cooperative))
		// Never submitted, so the readback never completes.
		rb := stagedReadback(t, dev, []byte{0, 0, 0, 0})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := AsyncWaiter{Interval: time.Millisecond}.Wait(ctx, dev, rb)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("cooperative=%v: Wait() = %v, want deadline exceeded", cooperative, err)
		}
	}
}

func TestWaiterReportsDeviceClose(t *testing.T) {
	dev := software.New()
	rb := stagedReadback(t, dev, []byte{0, 0, 0, 0})
	done := make(chan error, 1)
	go func() { done <- BlockingWaiter{}.Wait(context.Background(), dev, rb) }()
	time.Sleep(10 * time.Millisecond)
	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, backend.ErrClosed) {
			t.Errorf("Wait() = %v, want %v", err, backend.ErrClosed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after Close")
	}
}
