//go:build nogpu

// Package native is empty in builds without GPU support.
package native
