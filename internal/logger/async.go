package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// item pairs a record with the handler that enqueued it, so records from
// WithAttrs and WithGroup clones keep their derived attributes.
type item struct {
	handler slog.Handler
	rec     slog.Record
}

// AsyncHandler decouples log emission from record formatting by pushing
// records through a bounded channel drained by a single background
// goroutine. When the channel is full the record is dropped rather than
// blocking the caller; DroppedCount reports how many were lost.
type AsyncHandler struct {
	inner   slog.Handler
	ch      chan item
	done    *sync.WaitGroup
	dropped *atomic.Int64
}

// NewAsyncHandler wraps inner with a buffer of the given capacity and
// starts the drain goroutine.
func NewAsyncHandler(inner slog.Handler, capacity int) *AsyncHandler {
	if capacity < 1 {
		capacity = 1
	}
	h := &AsyncHandler{
		inner:   inner,
		ch:      make(chan item, capacity),
		done:    &sync.WaitGroup{},
		dropped: &atomic.Int64{},
	}
	h.done.Add(1)
	go func() {
		defer h.done.Done()
		for it := range h.ch {
			_ = it.handler.Handle(context.Background(), it.rec)
		}
	}()
	return h
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the buffer is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.ch <- item{handler: h.inner, rec: rec}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same channel over a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), ch: h.ch, done: h.done, dropped: h.dropped}
}

// WithGroup returns a handler sharing the same channel over a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), ch: h.ch, done: h.done, dropped: h.dropped}
}

// DroppedCount returns the number of records dropped due to a full buffer.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops accepting records and waits for the drain goroutine to finish.
func (h *AsyncHandler) Close() {
	close(h.ch)
	h.done.Wait()
}
