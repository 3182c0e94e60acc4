package errors

import (
	"context"
	stderrors "errors"
	"log/slog"
)

// Handler observes errors that are recovered locally and never returned to a caller
type Handler interface {
	// Handle processes an error
	Handle(ctx context.Context, err error, attrs ...any)
}

// DefaultHandler logs errors at a level chosen by their type
type DefaultHandler struct {
	logger *slog.Logger
}

// NewDefaultHandler creates a new default error handler
func NewDefaultHandler(logger *slog.Logger) *DefaultHandler {
	return &DefaultHandler{
		logger: logger,
	}
}

// Handle implements the Handler interface
func (h *DefaultHandler) Handle(ctx context.Context, err error, attrs ...any) {
	if err == nil {
		return
	}

	var e *Error
	if !stderrors.As(err, &e) {
		h.logger.ErrorContext(ctx, "unhandled error", append(attrs, slog.String("error", err.Error()))...)
		return
	}

	attrs = append(attrs,
		slog.String("error_code", e.Code),
		slog.String("error_type", e.Type.String()),
	)

	if e.Details != "" {
		attrs = append(attrs, slog.String("details", e.Details))
	}

	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}

	switch e.Type {
	case ErrorTypeInternal:
		h.logger.ErrorContext(ctx, e.Message, attrs...)
	case ErrorTypeDelivery, ErrorTypeTimeout, ErrorTypeNotFound, ErrorTypeTransport:
		h.logger.WarnContext(ctx, e.Message, attrs...)
	default:
		h.logger.InfoContext(ctx, e.Message, attrs...)
	}
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, err error, attrs ...any)

// Handle implements the Handler interface
func (f HandlerFunc) Handle(ctx context.Context, err error, attrs ...any) {
	f(ctx, err, attrs...)
}
