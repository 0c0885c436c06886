package capture

import (
	"context"
	"log/slog"

	"github.com/EasterCompany/dex-triage-service/internal/logging"
)

// LogSource is a logger the router can attach its record interceptor to.
// *logging.Handler implements it.
type LogSource interface {
	AddHook(h slog.Handler) error
	RemoveHook(h slog.Handler) bool
}

// recordHook relays log records as LOG_<LEVEL> messages. The attached
// logger has already applied its own threshold, so every record offered
// here is relayed.
type recordHook struct {
	emit func(sender, text string)
}

func (h *recordHook) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHook) Handle(_ context.Context, r slog.Record) (err error) {
	defer func() {
		if recover() != nil {
			err = nil
		}
	}()
	h.emit(LogSenderPrefix+r.Level.String(), logging.FormatRecord(r))
	return nil
}

func (h *recordHook) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordHook) WithGroup(string) slog.Handler { return h }
