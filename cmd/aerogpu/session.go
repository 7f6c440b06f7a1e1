package main

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/gogpu/aerogpu"
	"github.com/gogpu/aerogpu/guestmem"
)

// session is one trace's guest memory and the executor running on it.
type session struct {
	mem    guestmem.Memory
	mapped *guestmem.Mapped
	ex     *aerogpu.Executor
}

// openMemory returns the guest RAM image of tr. A writable trace is mapped
// shared so writebacks reach the file; otherwise the image is copied so
// writebacks stay private to the run.
func openMemory(tr trace, readOnly bool) (guestmem.Memory, *guestmem.Mapped, error) {
	if tr.Writable || readOnly {
		m, err := guestmem.MapFile(tr.Memory, !tr.Writable)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "trace %q", tr.Name)
		}
		return m, m, nil
	}
	data, err := os.ReadFile(tr.Memory)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "trace %q", tr.Name)
	}
	return guestmem.FlatFrom(data), nil, nil
}

func openSession(conf *config, tr trace) (*session, error) {
	mem, mapped, err := openMemory(tr, false)
	if err != nil {
		return nil, err
	}
	ex, err := aerogpu.New(mem, conf.options()...)
	if err != nil {
		if mapped != nil {
			_ = mapped.Close()
		}
		return nil, errors.Wrapf(err, "trace %q", tr.Name)
	}
	return &session{mem: mem, mapped: mapped, ex: ex}, nil
}

// replay runs the submissions of tr in order. A failed submission does
// not stop the trace; the guest would keep submitting too.
func (s *session) replay(ctx context.Context, log *logrus.Logger, tr trace) []aerogpu.Report {
	reports := make([]aerogpu.Report, 0, len(tr.Submissions))
	for i, sub := range tr.Submissions {
		if ctx.Err() != nil {
			break
		}
		rep := s.ex.ProcessSubmission(ctx, sub.descriptor())
		entry := log.WithFields(logrus.Fields{"trace": tr.Name, "submission": i, "packets": rep.PacketsProcessed})
		if err := rep.Err(); err != nil {
			entry.WithError(err).Warn("submission failed")
		} else {
			entry.Debug("submission done")
		}
		reports = append(reports, rep)
	}
	return reports
}

func (s *session) Close() error {
	err := s.ex.Close()
	if s.mapped != nil {
		if serr := s.mapped.Sync(); serr != nil && err == nil {
			err = serr
		}
		if cerr := s.mapped.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
