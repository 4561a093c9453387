package query

import (
	fpmath "PerpMetrics/internal/math"
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/snapshot"
	"context"
	"errors"
)

// Error codes reported in API error bodies and metrics.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeInvalidPosition   = "invalid_position"
	CodeNotFound          = "not_found"
	CodeMalformedSnapshot = "malformed_snapshot"
	CodeTimeout           = "timeout"
	CodeInternal          = "internal"
)

// ErrorCode classifies err by the sentinel it wraps.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, position.ErrInvalidPositionState),
		errors.Is(err, position.ErrMissingInput),
		errors.Is(err, fpmath.ErrDivisionByZero):
		return CodeInvalidPosition
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, snapshot.ErrMalformedSnapshot):
		return CodeMalformedSnapshot
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}
