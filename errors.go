package aerogpu

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/aerogpu/alloc"
	"github.com/gogpu/aerogpu/guestmem"
	"github.com/gogpu/aerogpu/internal/wire"
)

// Error kinds. Every error reported by the executor matches exactly one of
// these with errors.Is; the message carries the detail.
var (
	// ErrStreamTooSmall is returned when a command stream is shorter than its header.
	ErrStreamTooSmall = errors.New("aerogpu: command stream too small")

	// ErrBadMagic is returned when the stream header magic is not "ACMD".
	ErrBadMagic = errors.New("aerogpu: bad command stream magic")

	// ErrUnsupportedABI is returned for an unknown major ABI version.
	ErrUnsupportedABI = errors.New("aerogpu: unsupported ABI major version")

	// ErrBadStreamSize is returned when the header size_bytes disagrees with
	// the submitted size or exceeds the stream cap.
	ErrBadStreamSize = errors.New("aerogpu: bad command stream size")

	// ErrTruncatedPacket is returned when a packet runs past the stream or
	// is shorter than its command.
	ErrTruncatedPacket = errors.New("aerogpu: truncated packet")

	// ErrInvalidPacketSize is returned for packet sizes below the packet header.
	ErrInvalidPacketSize = errors.New("aerogpu: invalid packet size")

	// ErrMisalignedPacketSize is returned for packet sizes that are not a multiple of 4.
	ErrMisalignedPacketSize = errors.New("aerogpu: misaligned packet size")

	// ErrGuestMemory is returned when guest memory cannot be read or written
	// at an address that passed validation.
	ErrGuestMemory = errors.New("aerogpu: guest memory access failed")

	// ErrValidation is returned for every semantic rule a command breaks.
	ErrValidation = errors.New("aerogpu: validation failed")

	// ErrClosed is returned by a closed executor.
	ErrClosed = errors.New("aerogpu: executor closed")
)

var wireKinds = []struct {
	cause, kind error
}{
	{wire.ErrStreamTooSmall, ErrStreamTooSmall},
	{wire.ErrBadMagic, ErrBadMagic},
	{wire.ErrUnsupportedABI, ErrUnsupportedABI},
	{wire.ErrBadStreamSize, ErrBadStreamSize},
	{wire.ErrTruncatedPacket, ErrTruncatedPacket},
	{wire.ErrInvalidPacketSize, ErrInvalidPacketSize},
	{wire.ErrMisalignedPacketSize, ErrMisalignedPacketSize},
}

var kinds = []error{
	ErrStreamTooSmall, ErrBadMagic, ErrUnsupportedABI, ErrBadStreamSize,
	ErrTruncatedPacket, ErrInvalidPacketSize, ErrMisalignedPacketSize,
	ErrGuestMemory, ErrValidation, ErrClosed,
}

// kindError attaches an executor kind to a cause. The kind matches with
// errors.Is from either the standard library or cockroachdb/errors, and
// the message is the cause's.
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Is(target error) bool { return target == e.kind }

func withKind(err, kind error) error {
	return &kindError{kind: kind, err: err}
}

// validationf builds a Validation error.
func validationf(format string, args ...any) error {
	return withKind(errors.Newf(format, args...), ErrValidation)
}

// guestMemory wraps a guest memory failure.
func guestMemory(err error, format string, args ...any) error {
	return withKind(errors.Wrapf(err, format, args...), ErrGuestMemory)
}

// classify attaches err's kind. Errors from the decoding packages keep
// their message and gain the matching executor sentinel; anything else is
// a Validation error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != nil {
		return err
	}
	for _, wk := range wireKinds {
		if errors.Is(err, wk.cause) {
			return withKind(err, wk.kind)
		}
	}
	switch {
	case errors.Is(err, alloc.ErrTableMemory),
		errors.Is(err, guestmem.ErrOutOfBounds),
		errors.Is(err, guestmem.ErrClosed),
		errors.Is(err, guestmem.ErrReadOnly):
		return withKind(err, ErrGuestMemory)
	}
	return withKind(err, ErrValidation)
}

// Kind returns the kind sentinel err carries, or nil.
func Kind(err error) error {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
