package logging

import (
	"context"
	"log/slog"

	"pyxis/internal/services"
)

// WithContext returns logger tagged with the batch, identity, phase and
// request values carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var args []any
	if id, ok := services.BatchIDFromContext(ctx); ok {
		args = append(args, slog.Int64(FieldBatchID, id))
	}
	if id, ok := services.IdentityIDFromContext(ctx); ok {
		args = append(args, slog.Int64(FieldIdentityID, id))
	}
	if phase, ok := services.PhaseFromContext(ctx); ok {
		args = append(args, slog.String(FieldPhase, phase))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		args = append(args, slog.String(FieldCorrelationID, rid))
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
