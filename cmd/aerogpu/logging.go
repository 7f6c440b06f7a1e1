package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sirupsen/logrus"
)

// logrusHandler forwards slog records to a logrus logger, so library
// output and CLI output share one formatter and level.
type logrusHandler struct {
	entry  *logrus.Entry
	prefix string
}

func newLogrusHandler(l *logrus.Logger) *logrusHandler {
	return &logrusHandler{entry: logrus.NewEntry(l)}
}

func logrusLevel(l slog.Level) logrus.Level {
	switch {
	case l >= slog.LevelError:
		return logrus.ErrorLevel
	case l >= slog.LevelWarn:
		return logrus.WarnLevel
	case l >= slog.LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

func (h *logrusHandler) Enabled(_ context.Context, l slog.Level) bool {
	return h.entry.Logger.IsLevelEnabled(logrusLevel(l))
}

func (h *logrusHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(logrus.Fields, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		h.add(fields, h.prefix, a)
		return true
	})
	// The library prefixes its messages with the package name.
	msg := strings.TrimPrefix(r.Message, "aerogpu: ")
	e := h.entry.WithFields(fields)
	if !r.Time.IsZero() {
		e = e.WithTime(r.Time)
	}
	e.Log(logrusLevel(r.Level), msg)
	return nil
}

func (h *logrusHandler) add(fields logrus.Fields, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return
	}
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			h.add(fields, p, ga)
		}
		return
	}
	if err, ok := v.Any().(error); ok {
		fields[prefix+a.Key] = err.Error()
		return
	}
	fields[prefix+a.Key] = v.Any()
}

func (h *logrusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make(logrus.Fields, len(attrs))
	for _, a := range attrs {
		h.add(fields, h.prefix, a)
	}
	return &logrusHandler{entry: h.entry.WithFields(fields), prefix: h.prefix}
}

func (h *logrusHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &logrusHandler{entry: h.entry, prefix: h.prefix + name + "."}
}
