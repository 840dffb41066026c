// Package correlation threads a short request ID through context and logging.
//
// A workflow mutation typically fans out into several log lines: the HTTP
// handler, the repository call, and the realtime event publish. Tagging all
// of them with one ID makes the fan-out traceable in aggregated logs.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Header is the wire header for propagating correlation IDs across services.
// Inbound values are trusted as-is; responses always carry the header back.
const Header = "X-Correlation-ID"

type contextKey struct{}

// NewID mints an 8-character hex ID. Four random bytes are plenty for
// correlating log lines within a retention window; this is not a global
// uniqueness guarantee.
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithID returns a context carrying the given correlation ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// ID extracts the correlation ID from ctx, returning ("", false) when the
// request was never tagged.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Handler decorates a slog.Handler so every record emitted under a tagged
// context gains a "correlation_id" attribute. Untagged contexts (startup,
// background publishers) log unchanged.
type Handler struct {
	inner slog.Handler
}

// NewHandler wraps inner with correlation awareness.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
