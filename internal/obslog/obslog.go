// Package obslog wraps log/slog with a small handler that timestamps every
// line, writes it to an optional log file, and mirrors it to stderr when
// running verbosely or at error level and above.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type handler struct {
	out     io.Writer
	wrapped slog.Handler
	mu      *sync.Mutex
	verbose bool
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{out: h.out, wrapped: h.wrapped.WithAttrs(attrs), mu: h.mu, verbose: h.verbose}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{out: h.out, wrapped: h.wrapped.WithGroup(name), mu: h.mu, verbose: h.verbose}
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("2006/01/02 15:04:05"), r.Level.String() + ":", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.String())
		return true
	})
	line := []byte(strings.Join(parts, " ") + "\n")

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write(line)
	}
	if h.verbose || r.Level >= slog.LevelError {
		_, err = os.Stderr.Write(line)
	}
	return err
}

// New returns a *slog.Logger that writes to file (may be nil to disable
// file output) and always mirrors Error-and-above to stderr; mirrors
// everything to stderr when verbose is set.
func New(file io.Writer, verbose bool) *slog.Logger {
	return slog.New(&handler{
		out:     file,
		wrapped: slog.NewTextHandler(io.Discard, nil),
		mu:      &sync.Mutex{},
		verbose: verbose,
	})
}
