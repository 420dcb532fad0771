package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across quadstore.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRequestID = "request_id"
	FieldStoreID   = "store_id"

	// Components
	FieldRole = "role"

	// Operations
	FieldOperation = "operation"
	FieldPath      = "path"
	FieldQuery     = "query"
	FieldForm      = "form"
	FieldFormat    = "format"
	FieldSource    = "source"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount      = "count"
	FieldSize       = "size"
	FieldBatchSize  = "batch_size"
	FieldTotalCount = "total_count"
	FieldInserted   = "inserted"
	FieldRemoved    = "removed"

	// Store state
	FieldGraph      = "graph"
	FieldGeneration = "generation"
	FieldVersion    = "version"
	FieldReclaimed  = "reclaimed"
)

// Context keys for propagating logging context
type contextKey string

const requestIDKey contextKey = "logger_request_id"

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns base extended with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	func NewFollower(opts FollowerOptions) *Follower {
//	    return &Follower{
//	        logger: logger.ComponentLogger("storage.follower"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// OrComponent returns l, or a component logger named name when l is nil.
func OrComponent(l *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if l != nil {
		return l
	}
	return ComponentLogger(name)
}
