package aerogpu

import (
	"context"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/aerogpu/alloc"
	"github.com/gogpu/aerogpu/internal/wire"
)

// Submission locates one command stream and its allocation table in guest
// memory. Both alloc fields zero means the submission has no table; a
// table is required only by commands that touch guest-backed resources.
type Submission struct {
	CmdAddr   uint64
	CmdSize   uint32
	AllocAddr uint64
	AllocSize uint32
}

// ProcessSubmission decodes and runs one submission.
//
// The stream header is validated against CmdSize and the stream cap before
// the stream is copied out of guest memory. The allocation table is decoded
// fresh for every submission. Processing stops at the first failing
// packet; work recorded by earlier packets is still submitted and their
// writebacks drained.
func (e *Executor) ProcessSubmission(ctx context.Context, sub Submission) Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	var rep Report
	if e.closed {
		rep.fail(0, ErrClosed)
		return rep
	}
	stream, table, err := e.load(sub)
	if err != nil {
		err = classify(err)
		e.logger.Warn("aerogpu: submission rejected", "err", err)
		rep.fail(0, err)
		return rep
	}
	return e.run(ctx, stream, table)
}

// Submit runs sub on its own goroutine. The channel receives the report
// and is then closed.
func (e *Executor) Submit(ctx context.Context, sub Submission) <-chan Report {
	ch := make(chan Report, 1)
	go func() {
		defer close(ch)
		ch <- e.ProcessSubmission(ctx, sub)
	}()
	return ch
}

// Execute runs a command stream that is already in host memory. table may
// be nil.
func (e *Executor) Execute(ctx context.Context, stream []byte, table *alloc.Table) Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	var rep Report
	if e.closed {
		rep.fail(0, ErrClosed)
		return rep
	}
	if uint64(len(stream)) > uint64(e.opts.maxStreamSize) {
		rep.fail(0, withKind(errors.Newf("stream of %d bytes exceeds cap %d", len(stream), e.opts.maxStreamSize), ErrBadStreamSize))
		return rep
	}
	return e.run(ctx, stream, table)
}

// load copies the command stream out of guest memory and decodes the
// allocation table.
func (e *Executor) load(sub Submission) ([]byte, *alloc.Table, error) {
	if (sub.CmdAddr == 0) != (sub.CmdSize == 0) {
		return nil, nil, validationf("command stream descriptor has address %#x and size %d", sub.CmdAddr, sub.CmdSize)
	}
	if (sub.AllocAddr == 0) != (sub.AllocSize == 0) {
		return nil, nil, validationf("alloc table descriptor has address %#x and size %d", sub.AllocAddr, sub.AllocSize)
	}
	if sub.CmdSize < wire.HeaderSize {
		return nil, nil, withKind(errors.Newf("command stream of %d bytes", sub.CmdSize), ErrStreamTooSmall)
	}
	if sub.CmdSize > e.opts.maxStreamSize {
		return nil, nil, withKind(errors.Newf("command stream of %d bytes exceeds cap %d", sub.CmdSize, e.opts.maxStreamSize), ErrBadStreamSize)
	}

	var hdr [wire.HeaderSize]byte
	if err := e.mem.Read(sub.CmdAddr, hdr[:]); err != nil {
		return nil, nil, guestMemory(err, "read command stream header at %#x", sub.CmdAddr)
	}
	h, err := wire.ReadHeader(hdr[:])
	if err != nil {
		return nil, nil, err
	}
	if h.SizeBytes > sub.CmdSize {
		return nil, nil, withKind(errors.Newf("header size_bytes %d exceeds submitted size %d", h.SizeBytes, sub.CmdSize), ErrBadStreamSize)
	}

	stream := make([]byte, h.SizeBytes)
	if err := e.mem.Read(sub.CmdAddr, stream); err != nil {
		return nil, nil, guestMemory(err, "read command stream at %#x", sub.CmdAddr)
	}

	var table *alloc.Table
	if sub.AllocSize != 0 {
		table, err = alloc.Decode(e.mem, sub.AllocAddr, sub.AllocSize)
		if err != nil {
			return nil, nil, err
		}
	}
	return stream, table, nil
}

// run interprets stream. The caller holds e.mu.
func (e *Executor) run(ctx context.Context, stream []byte, table *alloc.Table) Report {
	var rep Report
	r, err := wire.NewReader(stream)
	if err != nil {
		rep.fail(0, classify(err))
		return rep
	}

	b := &batch{e: e, ctx: ctx, table: table, log: e.logger}
	debug := e.logger.Enabled(ctx, slog.LevelDebug)
	for {
		p, err := r.Next()
		if err == io.EOF {
			break
		}
		var op wire.Opcode
		if err == nil {
			op = p.Opcode
			if debug {
				e.logger.Debug("aerogpu: packet", "index", rep.PacketsProcessed, "op", op, "offset", p.Offset)
			}
			var cmd wire.Command
			if cmd, err = wire.Decode(p); err == nil {
				err = b.dispatch(cmd)
			}
		}
		if err != nil {
			err = classify(err)
			if p.Bytes != nil {
				err = errors.Wrapf(err, "packet %d (%s)", rep.PacketsProcessed, op)
			} else {
				err = errors.Wrapf(err, "packet %d", rep.PacketsProcessed)
			}
			e.logger.Warn("aerogpu: command stream failed", "packets_processed", rep.PacketsProcessed, "err", err)
			rep.fail(rep.PacketsProcessed, err)
			break
		}
		rep.PacketsProcessed++
	}

	if err := b.finish(); err != nil {
		err = classify(err)
		if rep.OK() {
			rep.fail(rep.PacketsProcessed, err)
		} else {
			e.logger.Warn("aerogpu: finishing failed submission", "err", err)
		}
	}
	return rep
}
