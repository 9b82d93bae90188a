// Package logging provides the colourised console handler used by the CLI.
package logging

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/fatih/color"
)

// PrettyHandlerOptions configures a PrettyHandler
type PrettyHandlerOptions struct {
	SlogOpts slog.HandlerOptions
}

// PrettyHandler prints one line per record:
// [15:04:05.000] LEVEL: message {"attr":"value"}
type PrettyHandler struct {
	slog.Handler
	l     *log.Logger
	attrs []slog.Attr
}

// NewPrettyHandler creates a handler writing to out
func NewPrettyHandler(out io.Writer, opts PrettyHandlerOptions) *PrettyHandler {
	return &PrettyHandler{
		Handler: slog.NewJSONHandler(out, &opts.SlogOpts),
		l:       log.New(out, "", 0),
	}
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	}

	fields := make(map[string]interface{}, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		addAttr(fields, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(fields, a)
		return true
	})

	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	timeStr := r.Time.Format("[15:04:05.000]")
	msg := color.CyanString(r.Message)

	h.l.Println(timeStr, level, msg, color.WhiteString(string(b)))

	return nil
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &PrettyHandler{Handler: h.Handler.WithAttrs(attrs), l: h.l, attrs: merged}
}

// addAttr flattens an attribute into fields, resolving LogValuers and
// rendering errors by message
func addAttr(fields map[string]interface{}, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Key == "" {
		if a.Value.Kind() == slog.KindGroup {
			for _, ga := range a.Value.Group() {
				addAttr(fields, ga)
			}
		}
		return
	}
	fields[a.Key] = attrValue(a.Value)
}

func attrValue(v slog.Value) interface{} {
	switch v.Kind() {
	case slog.KindGroup:
		group := make(map[string]interface{})
		for _, a := range v.Group() {
			addAttr(group, a)
		}
		return group
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return v.Any()
	}
}

// ParseLevel maps a level name to a slog level; unknown names mean info
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger printing records at or above level to out
func New(out io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewPrettyHandler(out, PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: level},
	}))
}
