package aerogpu

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// EventKind classifies a report event.
type EventKind uint8

// Event kinds.
const (
	EventError EventKind = iota + 1
)

func (k EventKind) String() string {
	if k == EventError {
		return "error"
	}
	return "unknown"
}

// Event is one entry of a Report.
type Event struct {
	Kind EventKind
	// At is the number of packets that completed before the event; for an
	// error it is the index of the failing packet.
	At      uint32
	Message string
	Err     error
}

// Report is the outcome of one submission.
type Report struct {
	PacketsProcessed uint32
	// Events holds at most one error; the interpreter stops at the first.
	Events []Event
}

// OK reports whether the submission completed without error.
func (r Report) OK() bool {
	for _, ev := range r.Events {
		if ev.Kind == EventError {
			return false
		}
	}
	return true
}

// Err returns the error of the first error event, or nil.
func (r Report) Err() error {
	for _, ev := range r.Events {
		if ev.Kind == EventError {
			return ev.Err
		}
	}
	return nil
}

func (r *Report) fail(at uint32, err error) {
	r.Events = append(r.Events, Event{Kind: EventError, At: at, Message: err.Error(), Err: err})
}

// WriteJSON writes the report as a JSON object:
//
//	{"packets_processed":3,"ok":false,"events":[{"kind":"error","at":3,"message":"..."}]}
func (r Report) WriteJSON(w *jwriter.Writer) {
	obj := w.Object()
	r.WriteFields(&obj)
	obj.End()
}

// WriteFields writes the report's members into an object the caller has
// opened, for embedding a report in a larger document.
func (r Report) WriteFields(obj *jwriter.ObjectState) {
	obj.Name("packets_processed").Int(int(r.PacketsProcessed))
	obj.Name("ok").Bool(r.OK())
	events := obj.Name("events").Array()
	for _, ev := range r.Events {
		o := events.Object()
		o.Name("kind").String(ev.Kind.String())
		o.Name("at").Int(int(ev.At))
		o.Name("message").String(ev.Message)
		if k := Kind(ev.Err); k != nil {
			o.Name("error_kind").String(kindName(k))
		}
		o.End()
	}
	events.End()
}

// MarshalJSON implements json.Marshaler.
func (r Report) MarshalJSON() ([]byte, error) {
	w := jwriter.NewWriter()
	r.WriteJSON(&w)
	return w.Bytes(), w.Error()
}

func kindName(k error) string {
	switch k {
	case ErrStreamTooSmall:
		return "stream_too_small"
	case ErrBadMagic:
		return "bad_magic"
	case ErrUnsupportedABI:
		return "unsupported_abi"
	case ErrBadStreamSize:
		return "bad_stream_size"
	case ErrTruncatedPacket:
		return "truncated_packet"
	case ErrInvalidPacketSize:
		return "invalid_packet_size"
	case ErrMisalignedPacketSize:
		return "misaligned_packet_size"
	case ErrGuestMemory:
		return "guest_memory"
	case ErrClosed:
		return "closed"
	default:
		return "validation"
	}
}
