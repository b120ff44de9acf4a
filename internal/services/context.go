package services

import "context"

type contextKey string

const (
	batchIDKey    contextKey = "batch_id"
	identityIDKey contextKey = "identity_id"
	phaseKey      contextKey = "phase"
	requestIDKey  contextKey = "request_id"
)

// WithBatchID annotates context with the ingestion batch identifier.
func WithBatchID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, batchIDKey, id)
}

// BatchIDFromContext extracts the ingestion batch identifier if present.
func BatchIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(batchIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithIdentityID annotates context with the canonical field identity being merged.
func WithIdentityID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, identityIDKey, id)
}

// IdentityIDFromContext extracts the field identity identifier if present.
func IdentityIDFromContext(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(identityIDKey).(int64)
	return v, ok
}

// WithPhase annotates context with the batch phase name (match, merge).
func WithPhase(ctx context.Context, phase string) context.Context {
	if phase == "" {
		return ctx
	}
	return context.WithValue(ctx, phaseKey, phase)
}

// PhaseFromContext returns the phase name if present.
func PhaseFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(phaseKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
