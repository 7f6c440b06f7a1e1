//go:build !nogpu

package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrNoQueue is returned when the device has no queue, as on mock adapters.
	ErrNoQueue = errors.New("native: device has no queue")

	// ErrProvider is returned when a device provider does not expose HAL objects.
	ErrProvider = errors.New("native: provider does not expose HAL device and queue")

	// ErrAlignment is returned for buffer ranges the GPU cannot copy.
	ErrAlignment = errors.New("native: range not 4-byte aligned")
)
