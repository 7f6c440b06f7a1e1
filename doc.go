// Package aerogpu replays guest GPU command streams on a host graphics
// backend.
//
// # Overview
//
// A guest driver writes a command stream and an allocation table into
// guest-physical memory and hands the host a Submission describing where
// they are. The Executor validates every packet, keeps the buffers and
// textures the stream creates, and issues the matching operations on a
// backend device (see package backend).
//
// Guest memory stays the single source of truth for guest-backed
// resources. The guest marks modified bytes with RESOURCE_DIRTY_RANGE and
// the executor re-uploads them right before the backend reads the
// resource. Copies flagged for writeback return their results to guest
// memory once the submission's work has completed.
//
// # Quick Start
//
//	mem := guestmem.NewFlat(64 << 20)
//	ex, err := aerogpu.New(mem, aerogpu.WithBackend(backend.BackendSoftware))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ex.Close()
//
//	rep := ex.ProcessSubmission(ctx, aerogpu.Submission{
//	    CmdAddr: 0x10000, CmdSize: cmdSize,
//	    AllocAddr: 0x20000, AllocSize: allocSize,
//	})
//	if !rep.OK() {
//	    log.Printf("failed after %d packets: %v", rep.PacketsProcessed, rep.Err())
//	}
//
// # Errors
//
// Every failure is fatal to its submission only. Errors match one of the
// kind sentinels (ErrValidation, ErrGuestMemory, ErrBadMagic, ...) with
// errors.Is, and the report records how many packets completed before it.
//
// # Writeback modes
//
// ModeBlocking parks the submitting goroutine until staged data is
// readable. ModeAsync waits with context cancellation and polls
// cooperative backends, which only deliver completions from Poll.
//
// # Inspection
//
// ReadBuffer, ReadTexture and Level expose host copies of resources to
// tooling. cmd/aerogpu replays trace files and dumps textures with them.
//
// # Logging
//
// aerogpu logs through log/slog and is silent by default; see SetLogger.
package aerogpu
