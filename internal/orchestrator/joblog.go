package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Delimiter frames every job log and every batch in the batch log.
var Delimiter = strings.Repeat("#", 100)

// jobLog is the per-customer log file written next to the customer data.
type jobLog struct {
	f    *os.File
	path string
}

func jobLogName(runID string) string {
	return fmt.Sprintf("robot_%s.log", runID)
}

func openJobLog(dir, runID string) (*jobLog, error) {
	p := filepath.Join(dir, jobLogName(runID))
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open job log %s: %w", p, err)
	}
	if _, err := fmt.Fprintln(f, Delimiter); err != nil {
		f.Close()
		return nil, fmt.Errorf("write job log %s: %w", p, err)
	}
	return &jobLog{f: f, path: p}, nil
}

func (j *jobLog) handler(level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(j.f, &slog.HandlerOptions{Level: level})
}

func (j *jobLog) Close() error {
	_, werr := fmt.Fprintln(j.f, Delimiter)
	return errors.Join(werr, j.f.Close())
}

// heldLog buffers job records in memory until the job log file is opened.
// Records held when the job ends without opening the file are dropped; they
// have already reached the batch log.
type heldLog struct {
	mu      sync.Mutex
	level   slog.Leveler
	attrs   []slog.Attr
	log     *jobLog
	base    slog.Handler
	pending []heldRecord
	done    bool
}

type heldRecord struct {
	wrap []func(slog.Handler) slog.Handler
	rec  slog.Record
}

func newHeldLog(level slog.Leveler, attrs ...slog.Attr) *heldLog {
	return &heldLog{level: level, attrs: attrs}
}

func (h *heldLog) handler() slog.Handler { return heldHandler{held: h} }

// open opens the job log in dir and replays the held records into it.
func (h *heldLog) open(ctx context.Context, dir, runID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.log != nil || h.done {
		return nil
	}
	jl, err := openJobLog(dir, runID)
	if err != nil {
		h.done = true
		h.pending = nil
		return err
	}
	h.log = jl
	h.base = jl.handler(h.level).WithAttrs(h.attrs)
	var errs []error
	for _, p := range h.pending {
		if err := wrapHandler(h.base, p.wrap).Handle(ctx, p.rec); err != nil {
			errs = append(errs, err)
		}
	}
	h.pending = nil
	return errors.Join(errs...)
}

func (h *heldLog) opened() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log != nil
}

// Close closes the job log if it was opened and stops accepting records.
func (h *heldLog) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	h.pending = nil
	if h.log == nil {
		return nil
	}
	return h.log.Close()
}

func wrapHandler(base slog.Handler, wrap []func(slog.Handler) slog.Handler) slog.Handler {
	for _, w := range wrap {
		base = w(base)
	}
	return base
}

type heldHandler struct {
	held *heldLog
	wrap []func(slog.Handler) slog.Handler
}

func (h heldHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.held.level.Level()
}

func (h heldHandler) Handle(ctx context.Context, r slog.Record) error {
	h.held.mu.Lock()
	defer h.held.mu.Unlock()
	switch {
	case h.held.done:
		return nil
	case h.held.log == nil:
		h.held.pending = append(h.held.pending, heldRecord{wrap: h.wrap, rec: r.Clone()})
		return nil
	}
	return wrapHandler(h.held.base, h.wrap).Handle(ctx, r)
}

func (h heldHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h heldHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h heldHandler) with(w func(slog.Handler) slog.Handler) slog.Handler {
	wrap := make([]func(slog.Handler) slog.Handler, len(h.wrap), len(h.wrap)+1)
	copy(wrap, h.wrap)
	return heldHandler{held: h.held, wrap: append(wrap, w)}
}

// fanout sends every record to all handlers that accept its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
