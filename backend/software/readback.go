package software

import (
	"errors"
	"sync"

	"github.com/gogpu/aerogpu/backend"
)

var errMappedTwice = errors.New("software: readback already mapped")

type readback struct {
	dev   *Device
	data  []byte
	index uint64 // submission that produced data

	requested bool
	fn        func(error)
	once      sync.Once
}

func (d *Device) stage(data []byte) *readback {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &readback{dev: d, data: data, index: d.recorded}
}

// Map schedules fn for when the producing submission has completed.
func (r *readback) Map(fn func(error)) {
	d := r.dev
	d.mu.Lock()
	if r.requested {
		d.mu.Unlock()
		fn(errMappedTwice)
		return
	}
	r.requested = true
	r.fn = fn
	switch {
	case d.closed:
		d.mu.Unlock()
		r.complete(backend.ErrClosed)
		return
	case r.index > d.submitted:
		d.waiting = append(d.waiting, r)
	case d.caps.Cooperative:
		d.ready = append(d.ready, r)
	default:
		d.mu.Unlock()
		go r.complete(nil)
		return
	}
	d.mu.Unlock()
}

func (r *readback) complete(err error) {
	r.once.Do(func() { r.fn(err) })
}

func (r *readback) Bytes() []byte { return r.data }

func (r *readback) Release() { r.data = nil }
